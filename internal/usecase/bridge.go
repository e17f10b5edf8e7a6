package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/faceme-bridge/internal/faceme"
	"github.com/example/faceme-bridge/internal/logging"
	"github.com/example/faceme-bridge/internal/repository"
)

const (
	StatusProcessing = "processing"
	StatusDone       = "done"

	// ErrorKindAudit marks a stored call whose audit row could not be written.
	ErrorKindAudit = "audit"
)

// ErrResultNotFound is returned when no call with the given id belongs to the caller.
var ErrResultNotFound = errors.New("result not found")

// CallRepository defines the persistence operations needed by the use case.
type CallRepository interface {
	SaveLog(ctx context.Context, log *repository.CallLog) error
	FindByRequestIDAndCaller(ctx context.Context, requestID, callerID string) (*repository.CallLog, error)
}

// BridgeCall performs one FaceMe operation with the given client.
type BridgeCall func(ctx context.Context, bridge *faceme.Client) (*faceme.Result, error)

// CallOutcome is what Execute hands back to the transport layer.
type CallOutcome struct {
	RequestID string
	Operation string
	Result    *faceme.Result
}

// StoredCall is the retrievable state of a call.
type StoredCall struct {
	RequestID string          `json:"request_id"`
	CallerID  string          `json:"caller_id"`
	Operation string          `json:"operation"`
	Status    string          `json:"status"`
	Success   bool            `json:"success"`
	ErrorKind string          `json:"error_kind,omitempty"`
	Error     string          `json:"error,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// BridgeUseCase runs FaceMe calls on behalf of gateway callers, records an
// audit log for each of them and keeps the result around for a while.
type BridgeUseCase struct {
	bridge         *faceme.Client
	repo           CallRepository
	cache          Cache
	logger         *zap.Logger
	resultTTL      time.Duration
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewBridgeUseCase constructs a new use case instance.
func NewBridgeUseCase(bridge *faceme.Client, repo CallRepository, cache Cache, logger *zap.Logger) *BridgeUseCase {
	return &BridgeUseCase{
		bridge:         bridge,
		repo:           repo,
		cache:          cache,
		logger:         logger.Named("bridge_usecase"),
		resultTTL:      5 * time.Minute,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// Execute runs call under a new request id. Uploaded files are read from fs
// when it is not nil. The error returned by call is passed through unchanged
// so callers can classify it.
func (uc *BridgeUseCase) Execute(ctx context.Context, callerID, operation string, fs afero.Fs, call BridgeCall) (*CallOutcome, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase."+operation, requestID)
	key := resultKey(requestID)
	createdAt := time.Now().UTC()

	pending, err := json.Marshal(StoredCall{
		RequestID: requestID,
		CallerID:  callerID,
		Operation: operation,
		Status:    StatusProcessing,
		CreatedAt: createdAt,
	})
	if err != nil {
		return nil, logging.NewOperationError("usecase.encode_pending", requestID, err)
	}
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.processing", func() error {
		return uc.cache.Set(ctx, key, string(pending), uc.resultTTL)
	}); err != nil {
		opLogger.Error("failed to set processing flag", zap.Error(err))
		return nil, err
	}

	bridge := uc.bridge
	if fs != nil {
		bridge = bridge.WithFs(fs)
	}

	start := time.Now()
	result, callErr := call(faceme.ContextWithRequestID(ctx, requestID), bridge)
	latency := time.Since(start)

	log := &repository.CallLog{
		RequestID: requestID,
		CallerID:  callerID,
		Operation: operation,
		Success:   callErr == nil,
		ErrorKind: faceme.ErrorKind(callErr),
		LatencyMs: latency.Milliseconds(),
		CreatedAt: createdAt,
	}
	if callErr != nil {
		log.Error = callErr.Error()
		if te, ok := faceme.AsTransportError(callErr); ok {
			log.StatusCode = te.StatusCode
		}
		opLogger.Warn("faceme call failed", zap.Error(callErr), zap.String("error_kind", log.ErrorKind))
	}
	if err := uc.repo.SaveLog(ctx, log); err != nil {
		wrapped := logging.NewOperationError("usecase.save_log", requestID, err)
		opLogger.Error("failed to persist call log", zap.Error(wrapped))
		// The processing marker must not outlive a call that will never be recorded.
		failed := StoredCall{
			RequestID: requestID,
			CallerID:  callerID,
			Operation: operation,
			Status:    StatusDone,
			ErrorKind: ErrorKindAudit,
			Error:     "call could not be recorded",
			CreatedAt: createdAt,
		}
		if err := uc.storeCall(ctx, key, failed); err != nil {
			opLogger.Error("failed to clear processing flag", zap.Error(err))
		}
		return nil, wrapped
	}

	stored := StoredCall{
		RequestID: requestID,
		CallerID:  callerID,
		Operation: operation,
		Status:    StatusDone,
		Success:   log.Success,
		ErrorKind: log.ErrorKind,
		Error:     log.Error,
		CreatedAt: createdAt,
	}
	if !result.Empty() {
		stored.Result = result.Raw
	}
	if err := uc.storeCall(ctx, key, stored); err != nil {
		opLogger.Error("failed to cache call result", zap.Error(err))
		return nil, err
	}

	outcome := &CallOutcome{RequestID: requestID, Operation: operation, Result: result}
	if callErr != nil {
		return outcome, callErr
	}
	return outcome, nil
}

// GetResult returns a stored call of callerID, from the cache while it is
// fresh and from the audit log afterwards. Results older than the cache TTL
// come back without a body.
func (uc *BridgeUseCase) GetResult(ctx context.Context, callerID, requestID string) (*StoredCall, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.get_result", requestID)

	cached, err := uc.withRedisGet(ctx, requestID, "cache.get.result", resultKey(requestID))
	switch {
	case err == nil:
		var stored StoredCall
		if err := json.Unmarshal([]byte(cached), &stored); err != nil {
			opLogger.Warn("failed to decode cached result", zap.Error(err))
			break
		}
		if stored.CallerID != callerID {
			return nil, ErrResultNotFound
		}
		return &stored, nil
	case !errors.Is(err, redis.Nil):
		opLogger.Warn("failed to read cache", zap.Error(err))
	}

	log, err := uc.repo.FindByRequestIDAndCaller(ctx, requestID, callerID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrResultNotFound
	}
	if err != nil {
		return nil, err
	}
	return &StoredCall{
		RequestID: log.RequestID,
		CallerID:  log.CallerID,
		Operation: log.Operation,
		Status:    StatusDone,
		Success:   log.Success,
		ErrorKind: log.ErrorKind,
		Error:     log.Error,
		CreatedAt: log.CreatedAt,
	}, nil
}

// storeCall writes a finished call over the processing marker at key.
func (uc *BridgeUseCase) storeCall(ctx context.Context, key string, stored StoredCall) error {
	serialized, err := json.Marshal(stored)
	if err != nil {
		return logging.NewOperationError("usecase.encode_result", stored.RequestID, err)
	}
	return uc.withRedisRetry(ctx, stored.RequestID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, key, string(serialized), uc.resultTTL)
	})
}

func (uc *BridgeUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		return logging.NewOperationError(operation, requestID, fn())
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			if !errors.Is(err, redis.Nil) {
				opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			}
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *BridgeUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
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
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
