package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/faceme-bridge/internal/logging"
)

// CallLog is the audit record of one bridged FaceMe call.
type CallLog struct {
	ID         uint      `gorm:"primaryKey"`
	RequestID  string    `gorm:"column:request_id;uniqueIndex;size:64"`
	CallerID   string    `gorm:"column:caller_id;index;size:128"`
	Operation  string    `gorm:"column:operation;index;size:64"`
	Success    bool      `gorm:"column:success"`
	StatusCode int       `gorm:"column:status_code"`
	ErrorKind  string    `gorm:"column:error_kind;size:32"`
	Error      string    `gorm:"column:error;type:text"`
	LatencyMs  int64     `gorm:"column:latency_ms"`
	CreatedAt  time.Time `gorm:"column:created_at;index"`
}

// TableName overrides the default table name.
func (CallLog) TableName() string {
	return "faceme_call_logs"
}

// CallRepository persists call logs.
type CallRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewCallRepository creates a repository that retries transient database errors.
func NewCallRepository(db *gorm.DB, logger *zap.Logger) *CallRepository {
	return &CallRepository{
		db:             db,
		logger:         logger.Named("call_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *CallRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&CallLog{})
}

// SaveLog persists a call log entry.
func (r *CallRepository) SaveLog(ctx context.Context, log *CallLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.RequestID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByRequestIDAndCaller returns the log of requestID if it belongs to callerID.
func (r *CallRepository) FindByRequestIDAndCaller(ctx context.Context, requestID, callerID string) (*CallLog, error) {
	var log CallLog
	err := r.executeWithRetry(ctx, "repository.find_log", requestID, func() error {
		return r.db.WithContext(ctx).First(&log, "request_id = ? AND caller_id = ?", requestID, callerID).Error
	})
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// ListByOperation returns the most recent logs of one operation, newest first.
func (r *CallRepository) ListByOperation(ctx context.Context, operation string, limit int) ([]*CallLog, error) {
	if limit <= 0 {
		limit = 50
	}
	var logs []*CallLog
	err := r.executeWithRetry(ctx, "repository.list_logs", "", func() error {
		return r.db.WithContext(ctx).
			Where("operation = ?", operation).
			Order("created_at DESC").
			Limit(limit).
			Find(&logs).Error
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// OperationStats aggregates the audit log of one operation.
type OperationStats struct {
	Operation        string  `gorm:"column:operation"`
	TotalCount       int64   `gorm:"column:total_count"`
	SuccessCount     int64   `gorm:"column:success_count"`
	AverageLatencyMs float64 `gorm:"column:average_latency_ms"`
}

// AggregateByOperation summarizes every logged operation, ordered by name.
func (r *CallRepository) AggregateByOperation(ctx context.Context) ([]OperationStats, error) {
	var stats []OperationStats
	err := r.executeWithRetry(ctx, "repository.aggregate_logs", "", func() error {
		stats = stats[:0]
		return r.db.WithContext(ctx).
			Model(&CallLog{}).
			Select("operation, COUNT(*) AS total_count, " +
				"SUM(CASE WHEN success THEN 1 ELSE 0 END) AS success_count, " +
				"AVG(latency_ms) AS average_latency_ms").
			Group("operation").
			Order("operation").
			Scan(&stats).Error
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func (r *CallRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	attempts := r.retryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	opLogger := logging.WithOperation(r.logger, operation, requestID)
	backoff := r.initialBackoff
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if !isTransientError(err) {
			break
		}
		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}

	if !errors.Is(err, gorm.ErrRecordNotFound) {
		opLogger.Error("database operation failed", zap.Error(err))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var temporary interface{ Temporary() bool }
	return errors.As(err, &temporary) && temporary.Temporary()
}
