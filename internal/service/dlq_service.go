package service

import (
	"context"
	"fmt"
	"time"

	"github.com/notifyhub/delivery-engine/internal/domain"
	"github.com/notifyhub/delivery-engine/internal/observability"
	"github.com/notifyhub/delivery-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultDLQRetentionDays = 30
	defaultTopErrorCodes    = 10
)

// DLQWriter is the quarantine port the delivery path depends on. Add must
// propagate persistence failures: a lost DLQ write silently drops work.
type DLQWriter interface {
	Add(ctx context.Context, id string, cause error, extra map[string]any) error
}

// BulkItemResult reports one id's outcome in a bulk DLQ operation.
type BulkItemResult struct {
	ID    string
	OK    bool
	Error string
}

// DLQService owns the dead letter queue: durable quarantine with full
// operator recoverability.
type DLQService struct {
	entries repository.DLQRepository
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

func NewDLQService(entries repository.DLQRepository, logger *zap.Logger) (*DLQService, error) {
	if entries == nil {
		return nil, fmt.Errorf("dlq repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DLQService{
		entries: entries,
		logger:  logger,
		now:     time.Now,
	}, nil
}

func (s *DLQService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Add moves a notification into the DLQ, preserving its payload and stamping
// diagnostic fields. Extra entries override the stored error fields.
func (s *DLQService) Add(ctx context.Context, id string, cause error, extra map[string]any) error {
	reason := "unknown failure"
	stack := ""
	if cause != nil {
		reason = cause.Error()
		stack = fmt.Sprintf("%+v", cause)
	}

	fields := repository.DLQFields{
		MovedAt: s.now().UTC(),
		Reason:  reason,
		Stack:   stack,
		Extra:   extra,
	}

	if err := s.entries.MoveToDLQ(ctx, id, fields); err != nil {
		return fmt.Errorf("failed to move notification %s to dlq: %w", id, err)
	}

	s.metrics.IncDLQMove(reason)
	s.logger.Warn("notification moved to dlq",
		zap.String("notificationId", id),
		zap.String("reason", reason),
	)

	return nil
}

func (s *DLQService) List(ctx context.Context, params repository.DLQListParams) ([]domain.Notification, int64, error) {
	return s.entries.List(ctx, params)
}

func (s *DLQService) Statistics(ctx context.Context) (*repository.DLQStatistics, error) {
	stats, err := s.entries.Statistics(ctx, defaultTopErrorCodes)
	if err != nil {
		return nil, fmt.Errorf("failed to compute dlq statistics: %w", err)
	}
	s.metrics.SetDLQSize(stats.Total)
	return stats, nil
}

// Retry returns a DLQ entry to PENDING with a zero retry count. The replay
// history survives in dlqRetryCount; original payload fields are untouched.
func (s *DLQService) Retry(ctx context.Context, id string) (*domain.Notification, error) {
	entry, err := s.entries.ResetForReplay(ctx, id)
	if err != nil {
		return nil, err
	}

	s.logger.Info("dlq entry queued for replay",
		zap.String("notificationId", id),
		zap.Int("dlqRetryCount", entry.DLQRetryCount),
	)

	return entry, nil
}

// Delete permanently removes a DLQ entry. Rows in any other status are left
// alone so operator tooling cannot delete live notifications.
func (s *DLQService) Delete(ctx context.Context, id string) error {
	if err := s.entries.Delete(ctx, id); err != nil {
		return err
	}

	s.logger.Info("dlq entry deleted", zap.String("notificationId", id))
	return nil
}

// BulkRetry applies Retry per id sequentially, continuing past individual
// failures and reporting each outcome.
func (s *DLQService) BulkRetry(ctx context.Context, ids []string) []BulkItemResult {
	results := make([]BulkItemResult, 0, len(ids))
	for _, id := range ids {
		if _, err := s.Retry(ctx, id); err != nil {
			results = append(results, BulkItemResult{ID: id, Error: err.Error()})
			continue
		}
		results = append(results, BulkItemResult{ID: id, OK: true})
	}
	return results
}

// BulkDelete applies Delete per id sequentially, continuing past individual
// failures and reporting each outcome.
func (s *DLQService) BulkDelete(ctx context.Context, ids []string) []BulkItemResult {
	results := make([]BulkItemResult, 0, len(ids))
	for _, id := range ids {
		if err := s.Delete(ctx, id); err != nil {
			results = append(results, BulkItemResult{ID: id, Error: err.Error()})
			continue
		}
		results = append(results, BulkItemResult{ID: id, OK: true})
	}
	return results
}

// Cleanup deletes DLQ entries older than maxAgeDays, returning the count.
func (s *DLQService) Cleanup(ctx context.Context, maxAgeDays int) (int64, error) {
	if maxAgeDays <= 0 {
		maxAgeDays = defaultDLQRetentionDays
	}

	cutoff := s.now().UTC().AddDate(0, 0, -maxAgeDays)
	deleted, err := s.entries.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up dlq: %w", err)
	}

	if deleted > 0 {
		s.logger.Info("dlq cleanup finished",
			zap.Int("maxAgeDays", maxAgeDays),
			zap.Int64("deleted", deleted),
		)
	}

	return deleted, nil
}

// Count returns the current quarantine size.
func (s *DLQService) Count(ctx context.Context) (int64, error) {
	return s.entries.Count(ctx)
}

var _ DLQWriter = (*DLQService)(nil)
