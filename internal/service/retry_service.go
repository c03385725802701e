package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/notifyhub/delivery-engine/internal/breaker"
	"github.com/notifyhub/delivery-engine/internal/classify"
	"github.com/notifyhub/delivery-engine/internal/domain"
	"github.com/notifyhub/delivery-engine/internal/observability"
	"github.com/notifyhub/delivery-engine/internal/provider"
	"github.com/notifyhub/delivery-engine/internal/ratelimit"
	"github.com/notifyhub/delivery-engine/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RetryConfig controls the orchestrator's scan loop.
type RetryConfig struct {
	Interval         time.Duration
	MaxRetries       int
	BackoffIntervals []time.Duration
	BatchSize        int
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Interval:         5 * time.Minute,
		MaxRetries:       3,
		BackoffIntervals: []time.Duration{1 * time.Minute, 5 * time.Minute, 15 * time.Minute},
		BatchSize:        100,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	defaults := DefaultRetryConfig()
	if c.Interval <= 0 {
		c.Interval = defaults.Interval
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaults.MaxRetries
	}
	if len(c.BackoffIntervals) == 0 {
		c.BackoffIntervals = defaults.BackoffIntervals
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	return c
}

// Statistics is the aggregate snapshot exposed to dashboards.
type Statistics struct {
	TotalFailed      int64
	PendingRetry     int64
	DLQCount         int64
	RetrySuccessRate float64
}

type deliveryOutcome string

const (
	outcomeSent    deliveryOutcome = "sent"
	outcomeFailed  deliveryOutcome = "failed"
	outcomeDLQ     deliveryOutcome = "dlq"
	outcomeSkipped deliveryOutcome = "skipped"
	outcomeError   deliveryOutcome = "error"
)

// RetryOrchestrator periodically scans for eligible failed notifications and
// redelivers them with escalating backoff and a bounded attempt budget. It is
// also the shared delivery routine for first attempts and manual retries.
//
// Deployments run exactly one orchestrator instance; concurrent instances are
// tolerated only through the optimistic claim on each row.
type RetryOrchestrator struct {
	notifications repository.NotificationRepository
	dlq           DLQWriter
	cleaner       TokenCleanup
	circuits      *breaker.Registry
	sender        provider.DeliveryProvider
	rateLimiter   ratelimit.RateLimiter
	logger        *zap.Logger
	metrics       *observability.Metrics
	cfg           RetryConfig
	now           func() time.Time
}

func NewRetryOrchestrator(
	notifications repository.NotificationRepository,
	dlq DLQWriter,
	cleaner TokenCleanup,
	circuits *breaker.Registry,
	sender provider.DeliveryProvider,
	rateLimiter ratelimit.RateLimiter,
	cfg RetryConfig,
	logger *zap.Logger,
) (*RetryOrchestrator, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if dlq == nil {
		return nil, fmt.Errorf("dlq writer is required")
	}
	if cleaner == nil {
		return nil, fmt.Errorf("token cleaner is required")
	}
	if circuits == nil {
		return nil, fmt.Errorf("circuit registry is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("delivery provider is required")
	}
	if rateLimiter == nil {
		rateLimiter = ratelimit.Unlimited{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetryOrchestrator{
		notifications: notifications,
		dlq:           dlq,
		cleaner:       cleaner,
		circuits:      circuits,
		sender:        sender,
		rateLimiter:   rateLimiter,
		logger:        logger,
		cfg:           cfg.withDefaults(),
		now:           time.Now,
	}, nil
}

func (o *RetryOrchestrator) SetMetrics(metrics *observability.Metrics) {
	if o == nil {
		return
	}
	o.metrics = metrics
}

// Start runs the scan loop until context cancellation.
func (o *RetryOrchestrator) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Run an initial scan so already-due retries do not wait for the first
	// ticker edge.
	if err := o.RunOnce(ctx); err != nil && ctx.Err() == nil {
		o.logger.Error("retry scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := o.RunOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				o.logger.Error("retry scan failed", zap.Error(err))
			}
		}
	}
}

// RunOnce performs one scan. While the provider circuit is open the run is
// skipped entirely, with no queries and no sends, to keep retry storms off a
// degraded provider.
func (o *RetryOrchestrator) RunOnce(ctx context.Context) error {
	if o.circuits.IsOpen(provider.CircuitName) {
		o.logger.Warn("skipping retry scan: provider circuit open")
		o.metrics.IncRetryRun("skipped_circuit_open")
		return nil
	}

	eligible, err := o.notifications.FindEligibleForRetry(ctx, o.cfg.MaxRetries, o.cfg.BackoffIntervals, o.cfg.BatchSize)
	if err != nil {
		o.metrics.IncRetryRun("error")
		return fmt.Errorf("failed to fetch eligible retries: %w", err)
	}
	if len(eligible) == 0 {
		o.metrics.IncRetryRun("processed")
		return nil
	}

	counts := o.processBatch(ctx, eligible)
	o.metrics.IncRetryRun("processed")

	o.logger.Info("retry scan finished",
		zap.Int("eligible", len(eligible)),
		zap.Int("sent", counts[outcomeSent]),
		zap.Int("failed", counts[outcomeFailed]),
		zap.Int("dlq", counts[outcomeDLQ]),
		zap.Int("skipped", counts[outcomeSkipped]),
		zap.Int("errors", counts[outcomeError]),
	)

	return nil
}

// processBatch delivers every item concurrently and collects each outcome
// independently; one item's failure never aborts its siblings.
func (o *RetryOrchestrator) processBatch(ctx context.Context, batch []domain.Notification) map[deliveryOutcome]int {
	outcomes := make([]deliveryOutcome, len(batch))

	g, groupCtx := errgroup.WithContext(ctx)
	for i := range batch {
		g.Go(func() error {
			outcomes[i] = o.retryOne(groupCtx, batch[i])
			return nil
		})
	}
	_ = g.Wait()

	counts := make(map[deliveryOutcome]int, 5)
	for _, outcome := range outcomes {
		counts[outcome]++
	}
	return counts
}

func (o *RetryOrchestrator) retryOne(ctx context.Context, n domain.Notification) deliveryOutcome {
	claimed, err := o.notifications.ClaimForRetry(ctx, n.ID)
	if err != nil {
		o.logger.Error("failed to claim notification for retry",
			zap.String("notificationId", n.ID),
			zap.Error(err),
		)
		return outcomeError
	}
	if !claimed {
		// Another worker or an operator got here first.
		return outcomeSkipped
	}

	n.Status = domain.StatusPending
	n.RetryCount++

	outcome, err := o.Deliver(ctx, &n)
	if err != nil {
		o.logger.Error("retry delivery failed with infrastructure error",
			zap.String("notificationId", n.ID),
			zap.Error(err),
		)
		return outcomeError
	}

	o.metrics.IncRetryAttempt(string(outcome))
	return outcome
}

// Deliver performs one provider send for a PENDING notification whose
// RetryCount already reflects the current attempt. Delivery failures are
// recorded, classified, and absorbed; the returned error is reserved for
// infrastructure failures (persistence, DLQ writes) the caller must see.
func (o *RetryOrchestrator) Deliver(ctx context.Context, n *domain.Notification) (deliveryOutcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	o.metrics.IncRetryInflight()
	defer o.metrics.DecRetryInflight()

	channelName := strings.ToLower(n.Channel.String())
	req := provider.SendRequest{
		WorkflowID: workflowID(n.Channel),
		Recipients: []string{n.UserID},
		Title:      n.Title,
		Body:       n.Body,
		Payload:    n.Payload,
	}

	sendStart := o.now()
	sendErr := o.circuits.Execute(ctx, provider.CircuitName, breaker.ProviderConfig(), func(opCtx context.Context) error {
		if err := o.rateLimiter.Wait(opCtx, channelName); err != nil {
			return fmt.Errorf("rate limiter wait failed: %w", err)
		}
		_, err := o.sender.Send(opCtx, req)
		return err
	})
	o.metrics.ObserveSendDuration(channelName, o.now().Sub(sendStart))
	o.metrics.IncSend(channelName, sendErr == nil)

	if sendErr == nil {
		if err := o.notifications.MarkSent(ctx, n.ID, o.now().UTC()); err != nil {
			return outcomeError, fmt.Errorf("failed to mark notification sent: %w", err)
		}
		return outcomeSent, nil
	}

	return o.handleFailure(ctx, n, sendErr)
}

func (o *RetryOrchestrator) handleFailure(ctx context.Context, n *domain.Notification, sendErr error) (deliveryOutcome, error) {
	desc := provider.DescribeFailure(sendErr)
	classification := classify.Classify(desc)
	errorCode := provider.ErrorCode(sendErr)

	o.logger.Warn("delivery attempt failed",
		zap.String("notificationId", n.ID),
		zap.String("classification", string(classification.Type)),
		zap.String("errorCode", errorCode),
		zap.Int("retryCount", n.RetryCount),
		zap.Error(sendErr),
	)

	if classification.ShouldCleanupToken {
		// Best effort: cleanup failures are reported by the cleaner itself
		// and never interrupt the delivery flow.
		result := o.cleaner.CleanupInvalidToken(ctx, n.UserID, classification.Type, desc.Message)
		if len(result.Failures) > 0 {
			o.logger.Warn("token cleanup reported failures",
				zap.String("userId", n.UserID),
				zap.Strings("failures", result.Failures),
			)
		}
	}

	if err := o.notifications.MarkFailed(ctx, n.ID, classification.UserMessage, errorCode); err != nil {
		return outcomeError, fmt.Errorf("failed to mark notification failed: %w", err)
	}

	// Terminal bound: nothing retries forever.
	if classification.ShouldMoveToDLQ || n.RetryCount >= o.cfg.MaxRetries {
		extra := map[string]any{
			"error_message": classification.UserMessage,
			"error_code":    errorCode,
		}
		if err := o.dlq.Add(ctx, n.ID, sendErr, extra); err != nil {
			// A lost DLQ write is silent data loss; this one propagates.
			return outcomeError, err
		}
		return outcomeDLQ, nil
	}

	return outcomeFailed, nil
}

// ManualRetry resets a FAILED or DLQ notification and immediately runs one
// delivery attempt, bypassing the scheduled eligibility window. This is the
// only path that resets the backoff clock outside the scan loop.
func (o *RetryOrchestrator) ManualRetry(ctx context.Context, id string) (*domain.Notification, error) {
	n, err := o.notifications.ResetForManualRetry(ctx, id)
	if err != nil {
		return nil, err
	}

	bumped, err := o.notifications.IncrementPendingRetry(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to start manual retry attempt: %w", err)
	}
	if bumped {
		n.RetryCount++
	}

	if _, err := o.Deliver(ctx, n); err != nil {
		return nil, err
	}

	return o.notifications.GetByID(ctx, id)
}

// Statistics aggregates counters for the admin surface and alert checks.
func (o *RetryOrchestrator) Statistics(ctx context.Context) (*Statistics, error) {
	stats, err := o.notifications.RetryStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load retry statistics: %w", err)
	}

	dlqCount, err := o.dlqCount(ctx)
	if err != nil {
		return nil, err
	}

	o.metrics.SetDLQSize(dlqCount)
	return &Statistics{
		TotalFailed:      stats.TotalFailed,
		PendingRetry:     stats.PendingRetry,
		DLQCount:         dlqCount,
		RetrySuccessRate: stats.SuccessRate(),
	}, nil
}

func (o *RetryOrchestrator) dlqCount(ctx context.Context) (int64, error) {
	counter, ok := o.dlq.(interface {
		Count(ctx context.Context) (int64, error)
	})
	if !ok {
		return 0, nil
	}

	count, err := counter.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count dlq entries: %w", err)
	}
	return count, nil
}

// workflowID maps a channel to the provider workflow triggered for it.
func workflowID(channel domain.Channel) string {
	return strings.ReplaceAll(strings.ToLower(channel.String()), "_", "-") + "-notification"
}
