package usecase

import (
	"context"

	"github.com/example/faceme-bridge/internal/repository"
)

// StatsRepository reads aggregates back from the audit log.
type StatsRepository interface {
	AggregateByOperation(ctx context.Context) ([]repository.OperationStats, error)
	ListByOperation(ctx context.Context, operation string, limit int) ([]*repository.CallLog, error)
}

// OperationSummary represents aggregated insights for one bridged operation.
type OperationSummary struct {
	Operation        string  `json:"operation"`
	TotalRequests    int64   `json:"total_requests"`
	SuccessfulCalls  int64   `json:"successful_calls"`
	SuccessRate      float64 `json:"success_rate"`
	AverageLatencyMs float64 `json:"average_latency_ms"`
}

// MetricsSummary aggregates every operation seen by the gateway.
type MetricsSummary struct {
	TotalRequests      int64              `json:"total_requests"`
	SuccessfulRequests int64              `json:"successful_requests"`
	SuccessRate        float64            `json:"success_rate"`
	Operations         []OperationSummary `json:"operations"`
}

// CallSummary is the public view of one audit row.
type CallSummary struct {
	RequestID  string `json:"request_id"`
	CallerID   string `json:"caller_id"`
	Success    bool   `json:"success"`
	StatusCode int    `json:"status_code,omitempty"`
	ErrorKind  string `json:"error_kind,omitempty"`
	LatencyMs  int64  `json:"latency_ms"`
	CreatedAt  string `json:"created_at"`
}

// MetricsUseCase summarizes persisted call logs.
type MetricsUseCase struct {
	repo StatsRepository
}

func NewMetricsUseCase(repo StatsRepository) *MetricsUseCase {
	return &MetricsUseCase{repo: repo}
}

// GetMetricsSummary aggregates call metrics from persisted logs.
func (uc *MetricsUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	stats, err := uc.repo.AggregateByOperation(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{Operations: make([]OperationSummary, 0, len(stats))}
	for _, s := range stats {
		summary.TotalRequests += s.TotalCount
		summary.SuccessfulRequests += s.SuccessCount
		summary.Operations = append(summary.Operations, OperationSummary{
			Operation:        s.Operation,
			TotalRequests:    s.TotalCount,
			SuccessfulCalls:  s.SuccessCount,
			SuccessRate:      rate(s.SuccessCount, s.TotalCount),
			AverageLatencyMs: s.AverageLatencyMs,
		})
	}
	summary.SuccessRate = rate(summary.SuccessfulRequests, summary.TotalRequests)
	return summary, nil
}

// RecentCalls lists the latest calls of one operation, newest first.
func (uc *MetricsUseCase) RecentCalls(ctx context.Context, operation string, limit int) ([]CallSummary, error) {
	logs, err := uc.repo.ListByOperation(ctx, operation, limit)
	if err != nil {
		return nil, err
	}
	out := make([]CallSummary, 0, len(logs))
	for _, l := range logs {
		out = append(out, CallSummary{
			RequestID:  l.RequestID,
			CallerID:   l.CallerID,
			Success:    l.Success,
			StatusCode: l.StatusCode,
			ErrorKind:  l.ErrorKind,
			LatencyMs:  l.LatencyMs,
			CreatedAt:  l.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		})
	}
	return out, nil
}

func rate(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total)
}
