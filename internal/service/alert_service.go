package service

import (
	"context"
	"fmt"

	"github.com/notifyhub/delivery-engine/internal/breaker"
	"github.com/notifyhub/delivery-engine/internal/domain"
	"github.com/notifyhub/delivery-engine/internal/repository"
	"go.uber.org/zap"
)

// Alert severities, ordered from least to most urgent.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Alert types.
const (
	AlertHighFailureRate     = "high_failure_rate"
	AlertLowRetrySuccessRate = "low_retry_success_rate"
	AlertDLQBacklog          = "dlq_backlog"
	AlertCircuitOpen         = "circuit_open"
)

// Alert is one threshold breach found by a check run.
type Alert struct {
	Type         string  `json:"type"`
	Severity     string  `json:"severity"`
	Message      string  `json:"message"`
	CurrentValue float64 `json:"currentValue"`
	Threshold    float64 `json:"threshold"`
}

// AlertThresholds holds the breach limits for a check run.
type AlertThresholds struct {
	// MaxFailureRate is FAILED over all notifications, 0..1.
	MaxFailureRate float64
	// MinRetrySuccessRate is successful retried sends over retried items, 0..1.
	MinRetrySuccessRate float64
	// MaxDLQSize is the quarantine backlog limit.
	MaxDLQSize int64
}

func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		MaxFailureRate:      0.05,
		MinRetrySuccessRate: 0.80,
		MaxDLQSize:          100,
	}
}

func (t AlertThresholds) withDefaults() AlertThresholds {
	defaults := DefaultAlertThresholds()
	if t.MaxFailureRate <= 0 {
		t.MaxFailureRate = defaults.MaxFailureRate
	}
	if t.MinRetrySuccessRate <= 0 {
		t.MinRetrySuccessRate = defaults.MinRetrySuccessRate
	}
	if t.MaxDLQSize <= 0 {
		t.MaxDLQSize = defaults.MaxDLQSize
	}
	return t
}

// AlertChecker evaluates delivery health against the configured thresholds.
type AlertChecker struct {
	notifications repository.NotificationRepository
	dlq           *DLQService
	circuits      *breaker.Registry
	thresholds    AlertThresholds
	logger        *zap.Logger
}

func NewAlertChecker(
	notifications repository.NotificationRepository,
	dlq *DLQService,
	circuits *breaker.Registry,
	thresholds AlertThresholds,
	logger *zap.Logger,
) (*AlertChecker, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if dlq == nil {
		return nil, fmt.Errorf("dlq service is required")
	}
	if circuits == nil {
		return nil, fmt.Errorf("circuit registry is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AlertChecker{
		notifications: notifications,
		dlq:           dlq,
		circuits:      circuits,
		thresholds:    thresholds.withDefaults(),
		logger:        logger,
	}, nil
}

// Check runs every health probe and returns the breaches found. An empty
// slice means everything is within thresholds.
func (a *AlertChecker) Check(ctx context.Context) ([]Alert, error) {
	alerts := make([]Alert, 0, 4)

	failureAlert, err := a.checkFailureRate(ctx)
	if err != nil {
		return nil, err
	}
	if failureAlert != nil {
		alerts = append(alerts, *failureAlert)
	}

	retryAlert, err := a.checkRetrySuccessRate(ctx)
	if err != nil {
		return nil, err
	}
	if retryAlert != nil {
		alerts = append(alerts, *retryAlert)
	}

	dlqAlert, err := a.checkDLQBacklog(ctx)
	if err != nil {
		return nil, err
	}
	if dlqAlert != nil {
		alerts = append(alerts, *dlqAlert)
	}

	alerts = append(alerts, a.checkCircuits()...)

	for _, alert := range alerts {
		a.logger.Warn("alert raised",
			zap.String("type", alert.Type),
			zap.String("severity", alert.Severity),
			zap.Float64("currentValue", alert.CurrentValue),
			zap.Float64("threshold", alert.Threshold),
		)
	}

	return alerts, nil
}

func (a *AlertChecker) checkFailureRate(ctx context.Context) (*Alert, error) {
	var total int64
	for _, status := range []domain.Status{
		domain.StatusPending,
		domain.StatusSent,
		domain.StatusFailed,
		domain.StatusDLQ,
	} {
		count, err := a.notifications.CountByStatus(ctx, status)
		if err != nil {
			return nil, fmt.Errorf("failed to count %s notifications: %w", status, err)
		}
		total += count
	}
	if total == 0 {
		return nil, nil
	}

	failed, err := a.notifications.CountByStatus(ctx, domain.StatusFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to count failed notifications: %w", err)
	}

	rate := float64(failed) / float64(total)
	if rate <= a.thresholds.MaxFailureRate {
		return nil, nil
	}

	return &Alert{
		Type:         AlertHighFailureRate,
		Severity:     severityForRatio(rate / a.thresholds.MaxFailureRate),
		Message:      fmt.Sprintf("failure rate %.1f%% exceeds threshold %.1f%%", rate*100, a.thresholds.MaxFailureRate*100),
		CurrentValue: rate,
		Threshold:    a.thresholds.MaxFailureRate,
	}, nil
}

func (a *AlertChecker) checkRetrySuccessRate(ctx context.Context) (*Alert, error) {
	stats, err := a.notifications.RetryStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load retry statistics: %w", err)
	}
	if stats.RetriedTotal == 0 {
		return nil, nil
	}

	rate := stats.SuccessRate()
	if rate >= a.thresholds.MinRetrySuccessRate {
		return nil, nil
	}

	// Invert for the ladder: how far below the floor we are.
	ratio := a.thresholds.MinRetrySuccessRate / max(rate, 0.01)
	return &Alert{
		Type:         AlertLowRetrySuccessRate,
		Severity:     severityForRatio(ratio),
		Message:      fmt.Sprintf("retry success rate %.1f%% is below threshold %.1f%%", rate*100, a.thresholds.MinRetrySuccessRate*100),
		CurrentValue: rate,
		Threshold:    a.thresholds.MinRetrySuccessRate,
	}, nil
}

func (a *AlertChecker) checkDLQBacklog(ctx context.Context) (*Alert, error) {
	count, err := a.dlq.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count dlq entries: %w", err)
	}
	if count <= a.thresholds.MaxDLQSize {
		return nil, nil
	}

	return &Alert{
		Type:         AlertDLQBacklog,
		Severity:     severityForRatio(float64(count) / float64(a.thresholds.MaxDLQSize)),
		Message:      fmt.Sprintf("dlq backlog %d exceeds threshold %d", count, a.thresholds.MaxDLQSize),
		CurrentValue: float64(count),
		Threshold:    float64(a.thresholds.MaxDLQSize),
	}, nil
}

func (a *AlertChecker) checkCircuits() []Alert {
	// The failure count keeps growing across failed half-open probes, so the
	// ladder escalates the longer an outage lasts.
	threshold := float64(breaker.DefaultConfig().FailureThreshold)

	var alerts []Alert
	for _, snapshot := range a.circuits.Snapshots() {
		if !snapshot.IsOpen {
			continue
		}
		failures := float64(snapshot.FailureCount)
		alerts = append(alerts, Alert{
			Type:         AlertCircuitOpen,
			Severity:     severityForRatio(failures / threshold),
			Message:      fmt.Sprintf("circuit %q is open, deliveries are failing fast", snapshot.Name),
			CurrentValue: failures,
			Threshold:    threshold,
		})
	}
	return alerts
}

// severityForRatio grades how far past its threshold a metric is.
func severityForRatio(ratio float64) string {
	switch {
	case ratio >= 3:
		return SeverityCritical
	case ratio >= 2:
		return SeverityHigh
	case ratio >= 1.5:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
