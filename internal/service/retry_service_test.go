package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/notifyhub/delivery-engine/internal/breaker"
	"github.com/notifyhub/delivery-engine/internal/classify"
	"github.com/notifyhub/delivery-engine/internal/domain"
	"github.com/notifyhub/delivery-engine/internal/provider"
	"github.com/notifyhub/delivery-engine/internal/repository"
	"go.uber.org/zap"
)

func newTestOrchestrator(t *testing.T, repo *fakeNotificationRepo, dlq *fakeDLQWriter, cleaner *fakeTokenCleanup, circuits *breaker.Registry, sender *fakeProvider) *RetryOrchestrator {
	t.Helper()

	if circuits == nil {
		circuits = breaker.NewRegistry(zap.NewNop())
	}

	o, err := NewRetryOrchestrator(repo, dlq, cleaner, circuits, sender, nil, RetryConfig{}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRetryOrchestrator() error = %v", err)
	}
	return o
}

func openProviderCircuit(t *testing.T, circuits *breaker.Registry) {
	t.Helper()

	cfg := breaker.ProviderConfig()
	for i := 0; i < cfg.FailureThreshold; i++ {
		err := circuits.Execute(context.Background(), provider.CircuitName, cfg, func(ctx context.Context) error {
			return errors.New("provider down")
		})
		if err == nil {
			t.Fatal("expected failing operation to return an error")
		}
	}
	if !circuits.IsOpen(provider.CircuitName) {
		t.Fatal("expected provider circuit to be open")
	}
}

func TestNewRetryOrchestratorValidation(t *testing.T) {
	t.Parallel()

	repo := &fakeNotificationRepo{}
	dlq := &fakeDLQWriter{}
	cleaner := &fakeTokenCleanup{}
	circuits := breaker.NewRegistry(zap.NewNop())
	sender := &fakeProvider{}

	cases := []struct {
		name string
		fn   func() (*RetryOrchestrator, error)
	}{
		{"nil repo", func() (*RetryOrchestrator, error) {
			return NewRetryOrchestrator(nil, dlq, cleaner, circuits, sender, nil, RetryConfig{}, zap.NewNop())
		}},
		{"nil dlq", func() (*RetryOrchestrator, error) {
			return NewRetryOrchestrator(repo, nil, cleaner, circuits, sender, nil, RetryConfig{}, zap.NewNop())
		}},
		{"nil cleaner", func() (*RetryOrchestrator, error) {
			return NewRetryOrchestrator(repo, dlq, nil, circuits, sender, nil, RetryConfig{}, zap.NewNop())
		}},
		{"nil registry", func() (*RetryOrchestrator, error) {
			return NewRetryOrchestrator(repo, dlq, cleaner, nil, sender, nil, RetryConfig{}, zap.NewNop())
		}},
		{"nil sender", func() (*RetryOrchestrator, error) {
			return NewRetryOrchestrator(repo, dlq, cleaner, circuits, nil, nil, RetryConfig{}, zap.NewNop())
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := tc.fn(); err == nil {
				t.Fatal("expected constructor error")
			}
		})
	}
}

func TestRetryConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := RetryConfig{}.withDefaults()
	if cfg.Interval != 5*time.Minute {
		t.Fatalf("Interval = %v, want 5m", cfg.Interval)
	}
	if cfg.MaxRetries != 3 {
		t.Fatalf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
	if len(cfg.BackoffIntervals) != 3 || cfg.BackoffIntervals[0] != time.Minute || cfg.BackoffIntervals[2] != 15*time.Minute {
		t.Fatalf("BackoffIntervals = %v, want [1m 5m 15m]", cfg.BackoffIntervals)
	}
	if cfg.BatchSize != 100 {
		t.Fatalf("BatchSize = %d, want 100", cfg.BatchSize)
	}
}

func TestRunOnceSkipsWhenProviderCircuitOpen(t *testing.T) {
	t.Parallel()

	queried := false
	repo := &fakeNotificationRepo{
		findEligibleForRetryFn: func(ctx context.Context, maxRetries int, backoffs []time.Duration, limit int) ([]domain.Notification, error) {
			queried = true
			return nil, nil
		},
	}

	circuits := breaker.NewRegistry(zap.NewNop())
	openProviderCircuit(t, circuits)

	o := newTestOrchestrator(t, repo, &fakeDLQWriter{}, &fakeTokenCleanup{}, circuits, &fakeProvider{})
	if err := o.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	if queried {
		t.Fatal("expected zero queries while circuit is open")
	}
}

func TestRunOnceDeliversEligibleBatch(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	claimed := make([]string, 0, 2)
	sent := make([]string, 0, 2)

	repo := &fakeNotificationRepo{
		findEligibleForRetryFn: func(ctx context.Context, maxRetries int, backoffs []time.Duration, limit int) ([]domain.Notification, error) {
			if maxRetries != 3 || limit != 100 {
				t.Errorf("maxRetries = %d, limit = %d, want 3 and 100", maxRetries, limit)
			}
			return []domain.Notification{
				{ID: "n1", UserID: "u1", Channel: domain.ChannelPush, Status: domain.StatusFailed},
				{ID: "n2", UserID: "u2", Channel: domain.ChannelEmail, Status: domain.StatusFailed, RetryCount: 1},
			}, nil
		},
		claimForRetryFn: func(ctx context.Context, id string) (bool, error) {
			mu.Lock()
			claimed = append(claimed, id)
			mu.Unlock()
			return true, nil
		},
		markSentFn: func(ctx context.Context, id string, sentAt time.Time) error {
			mu.Lock()
			sent = append(sent, id)
			mu.Unlock()
			return nil
		},
	}

	o := newTestOrchestrator(t, repo, &fakeDLQWriter{}, &fakeTokenCleanup{}, nil, &fakeProvider{})
	if err := o.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	if len(claimed) != 2 {
		t.Fatalf("claims = %d, want 2", len(claimed))
	}
	if len(sent) != 2 {
		t.Fatalf("marked sent = %d, want 2", len(sent))
	}
}

func TestRunOnceSkipsLostClaims(t *testing.T) {
	t.Parallel()

	sends := 0
	sender := &fakeProvider{
		sendFn: func(ctx context.Context, req provider.SendRequest) (*provider.SendResult, error) {
			sends++
			return &provider.SendResult{DeliveryID: "d1"}, nil
		},
	}

	repo := &fakeNotificationRepo{
		findEligibleForRetryFn: func(ctx context.Context, maxRetries int, backoffs []time.Duration, limit int) ([]domain.Notification, error) {
			return []domain.Notification{{ID: "n1", UserID: "u1", Channel: domain.ChannelPush, Status: domain.StatusFailed}}, nil
		},
		claimForRetryFn: func(ctx context.Context, id string) (bool, error) {
			return false, nil
		},
	}

	o := newTestOrchestrator(t, repo, &fakeDLQWriter{}, &fakeTokenCleanup{}, nil, sender)
	if err := o.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	if sends != 0 {
		t.Fatalf("sends = %d, want 0 when the claim is lost", sends)
	}
}

func TestRunOnceItemFailureDoesNotAbortSiblings(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	sent := make([]string, 0, 1)

	repo := &fakeNotificationRepo{
		findEligibleForRetryFn: func(ctx context.Context, maxRetries int, backoffs []time.Duration, limit int) ([]domain.Notification, error) {
			return []domain.Notification{
				{ID: "n-bad", UserID: "u1", Channel: domain.ChannelPush, Status: domain.StatusFailed},
				{ID: "n-good", UserID: "u2", Channel: domain.ChannelPush, Status: domain.StatusFailed},
			}, nil
		},
		claimForRetryFn: func(ctx context.Context, id string) (bool, error) {
			if id == "n-bad" {
				return false, errors.New("db unavailable")
			}
			return true, nil
		},
		markSentFn: func(ctx context.Context, id string, sentAt time.Time) error {
			mu.Lock()
			sent = append(sent, id)
			mu.Unlock()
			return nil
		},
	}

	o := newTestOrchestrator(t, repo, &fakeDLQWriter{}, &fakeTokenCleanup{}, nil, &fakeProvider{})
	if err := o.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	if len(sent) != 1 || sent[0] != "n-good" {
		t.Fatalf("sent = %v, want [n-good]", sent)
	}
}

func TestDeliverRetryableFailureStaysFailed(t *testing.T) {
	t.Parallel()

	var failedMessage, failedCode string
	repo := &fakeNotificationRepo{
		markFailedFn: func(ctx context.Context, id string, message, code string) error {
			failedMessage = message
			failedCode = code
			return nil
		},
	}

	dlq := &fakeDLQWriter{
		addFn: func(ctx context.Context, id string, cause error, extra map[string]any) error {
			t.Errorf("unexpected DLQ move for id %s", id)
			return nil
		},
	}

	sender := &fakeProvider{
		sendFn: func(ctx context.Context, req provider.SendRequest) (*provider.SendResult, error) {
			return nil, &provider.DeliveryError{StatusCode: 503, Message: "upstream unavailable"}
		},
	}

	o := newTestOrchestrator(t, repo, dlq, &fakeTokenCleanup{}, nil, sender)

	n := &domain.Notification{ID: "n1", UserID: "u1", Channel: domain.ChannelPush, Status: domain.StatusPending, RetryCount: 1}
	outcome, err := o.Deliver(context.Background(), n)
	if err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if outcome != outcomeFailed {
		t.Fatalf("outcome = %s, want failed", outcome)
	}
	if failedMessage == "" || failedCode != "HTTP_503" {
		t.Fatalf("MarkFailed message = %q code = %q, want user message and HTTP_503", failedMessage, failedCode)
	}
}

func TestDeliverExhaustedRetriesMoveToDLQ(t *testing.T) {
	t.Parallel()

	dlqMoved := ""
	dlq := &fakeDLQWriter{
		addFn: func(ctx context.Context, id string, cause error, extra map[string]any) error {
			dlqMoved = id
			if extra["error_code"] != "HTTP_503" {
				t.Errorf("extra error_code = %v, want HTTP_503", extra["error_code"])
			}
			return nil
		},
	}

	sender := &fakeProvider{
		sendFn: func(ctx context.Context, req provider.SendRequest) (*provider.SendResult, error) {
			return nil, &provider.DeliveryError{StatusCode: 503, Message: "upstream unavailable"}
		},
	}

	repo := &fakeNotificationRepo{
		findEligibleForRetryFn: func(ctx context.Context, maxRetries int, backoffs []time.Duration, limit int) ([]domain.Notification, error) {
			// Third attempt: retry count 2 becomes 3 on claim.
			return []domain.Notification{{ID: "n1", UserID: "u1", Channel: domain.ChannelPush, Status: domain.StatusFailed, RetryCount: 2}}, nil
		},
		claimForRetryFn: func(ctx context.Context, id string) (bool, error) {
			return true, nil
		},
	}

	o := newTestOrchestrator(t, repo, dlq, &fakeTokenCleanup{}, nil, sender)
	if err := o.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	if dlqMoved != "n1" {
		t.Fatalf("dlq moved = %q, want n1", dlqMoved)
	}
}

func TestDeliverNonRetryableMovesToDLQImmediately(t *testing.T) {
	t.Parallel()

	dlqMoved := ""
	dlq := &fakeDLQWriter{
		addFn: func(ctx context.Context, id string, cause error, extra map[string]any) error {
			dlqMoved = id
			return nil
		},
	}

	sender := &fakeProvider{
		sendFn: func(ctx context.Context, req provider.SendRequest) (*provider.SendResult, error) {
			return nil, &provider.DeliveryError{StatusCode: 400, Code: "BAD_REQUEST", Message: "malformed payload"}
		},
	}

	o := newTestOrchestrator(t, &fakeNotificationRepo{}, dlq, &fakeTokenCleanup{}, nil, sender)

	n := &domain.Notification{ID: "n1", UserID: "u1", Channel: domain.ChannelPush, Status: domain.StatusPending, RetryCount: 1}
	outcome, err := o.Deliver(context.Background(), n)
	if err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if outcome != outcomeDLQ {
		t.Fatalf("outcome = %s, want dlq", outcome)
	}
	if dlqMoved != "n1" {
		t.Fatalf("dlq moved = %q, want n1", dlqMoved)
	}
}

func TestDeliverTokenInvalidTriggersCleanup(t *testing.T) {
	t.Parallel()

	cleanedUser := ""
	cleaner := &fakeTokenCleanup{
		cleanupFn: func(ctx context.Context, userID string, errType classify.Type, cause string) CleanupResult {
			cleanedUser = userID
			if errType != classify.TypeTokenInvalid {
				t.Errorf("errType = %s, want TOKEN_INVALID", errType)
			}
			return CleanupResult{UserID: userID, DeactivatedCount: 1, SubscriberRemoved: true}
		},
	}

	sender := &fakeProvider{
		sendFn: func(ctx context.Context, req provider.SendRequest) (*provider.SendResult, error) {
			return nil, &provider.DeliveryError{StatusCode: 400, Code: "TOKEN_INVALID", Message: "invalid device token"}
		},
	}

	o := newTestOrchestrator(t, &fakeNotificationRepo{}, &fakeDLQWriter{}, cleaner, nil, sender)

	n := &domain.Notification{ID: "n1", UserID: "u-token", Channel: domain.ChannelPush, Status: domain.StatusPending, RetryCount: 1}
	if _, err := o.Deliver(context.Background(), n); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	if cleanedUser != "u-token" {
		t.Fatalf("cleanup user = %q, want u-token", cleanedUser)
	}
}

func TestDeliverCleanupFailureDoesNotInterruptDelivery(t *testing.T) {
	t.Parallel()

	markedFailed := false
	repo := &fakeNotificationRepo{
		markFailedFn: func(ctx context.Context, id string, message, code string) error {
			markedFailed = true
			return nil
		},
	}

	cleaner := &fakeTokenCleanup{
		cleanupFn: func(ctx context.Context, userID string, errType classify.Type, cause string) CleanupResult {
			return CleanupResult{UserID: userID, Failures: []string{"deactivate token t1: db down"}}
		},
	}

	sender := &fakeProvider{
		sendFn: func(ctx context.Context, req provider.SendRequest) (*provider.SendResult, error) {
			return nil, &provider.DeliveryError{StatusCode: 400, Message: "invalid device token"}
		},
	}

	o := newTestOrchestrator(t, repo, &fakeDLQWriter{}, cleaner, nil, sender)

	n := &domain.Notification{ID: "n1", UserID: "u1", Channel: domain.ChannelPush, Status: domain.StatusPending, RetryCount: 1}
	if _, err := o.Deliver(context.Background(), n); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if !markedFailed {
		t.Fatal("expected notification to be marked failed despite cleanup failures")
	}
}

func TestDeliverDLQWriteFailurePropagates(t *testing.T) {
	t.Parallel()

	dlq := &fakeDLQWriter{
		addFn: func(ctx context.Context, id string, cause error, extra map[string]any) error {
			return errors.New("dlq write failed")
		},
	}

	sender := &fakeProvider{
		sendFn: func(ctx context.Context, req provider.SendRequest) (*provider.SendResult, error) {
			return nil, &provider.DeliveryError{StatusCode: 400, Message: "malformed payload"}
		},
	}

	o := newTestOrchestrator(t, &fakeNotificationRepo{}, dlq, &fakeTokenCleanup{}, nil, sender)

	n := &domain.Notification{ID: "n1", UserID: "u1", Channel: domain.ChannelPush, Status: domain.StatusPending, RetryCount: 1}
	outcome, err := o.Deliver(context.Background(), n)
	if err == nil {
		t.Fatal("expected DLQ write failure to propagate")
	}
	if outcome != outcomeError {
		t.Fatalf("outcome = %s, want error", outcome)
	}
}

func TestManualRetryResetsAndDelivers(t *testing.T) {
	t.Parallel()

	resetCalled := false
	incremented := false
	delivered := false

	repo := &fakeNotificationRepo{
		resetForManualRetryFn: func(ctx context.Context, id string) (*domain.Notification, error) {
			resetCalled = true
			return &domain.Notification{ID: id, UserID: "u1", Channel: domain.ChannelPush, Status: domain.StatusPending}, nil
		},
		incrementPendingRetryFn: func(ctx context.Context, id string) (bool, error) {
			incremented = true
			return true, nil
		},
		getByIDFn: func(ctx context.Context, id string) (*domain.Notification, error) {
			return &domain.Notification{ID: id, Status: domain.StatusSent, RetryCount: 1}, nil
		},
	}

	sender := &fakeProvider{
		sendFn: func(ctx context.Context, req provider.SendRequest) (*provider.SendResult, error) {
			return &provider.SendResult{DeliveryID: "d1"}, nil
		},
	}

	repo.markSentFn = func(ctx context.Context, id string, sentAt time.Time) error {
		delivered = true
		return nil
	}

	o := newTestOrchestrator(t, repo, &fakeDLQWriter{}, &fakeTokenCleanup{}, nil, sender)

	n, err := o.ManualRetry(context.Background(), "n1")
	if err != nil {
		t.Fatalf("ManualRetry() error = %v", err)
	}

	if !resetCalled || !incremented {
		t.Fatalf("resetCalled = %v incremented = %v, want both true", resetCalled, incremented)
	}
	if !delivered {
		t.Fatal("expected delivery to run after the reset")
	}
	if n.Status != domain.StatusSent {
		t.Fatalf("status = %s, want SENT", n.Status)
	}
}

func TestManualRetryPropagatesResetConflict(t *testing.T) {
	t.Parallel()

	repo := &fakeNotificationRepo{
		resetForManualRetryFn: func(ctx context.Context, id string) (*domain.Notification, error) {
			return nil, domain.ErrConflict
		},
	}

	o := newTestOrchestrator(t, repo, &fakeDLQWriter{}, &fakeTokenCleanup{}, nil, &fakeProvider{})

	_, err := o.ManualRetry(context.Background(), "n1")
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("error = %v, want ErrConflict", err)
	}
}

func TestStatisticsCombinesRetryAndDLQCounters(t *testing.T) {
	t.Parallel()

	repo := &fakeNotificationRepo{
		retryStatsFn: func(ctx context.Context) (repository.RetryStats, error) {
			return repository.RetryStats{TotalFailed: 7, PendingRetry: 2, RetriedTotal: 10, RetriedSucceed: 8}, nil
		},
	}
	dlq := &fakeDLQWriter{
		countFn: func(ctx context.Context) (int64, error) {
			return 4, nil
		},
	}

	o := newTestOrchestrator(t, repo, dlq, &fakeTokenCleanup{}, nil, &fakeProvider{})

	stats, err := o.Statistics(context.Background())
	if err != nil {
		t.Fatalf("Statistics() error = %v", err)
	}
	if stats.TotalFailed != 7 || stats.PendingRetry != 2 || stats.DLQCount != 4 {
		t.Fatalf("stats = %+v, want TotalFailed 7, PendingRetry 2, DLQCount 4", stats)
	}
	if stats.RetrySuccessRate != 0.8 {
		t.Fatalf("RetrySuccessRate = %v, want 0.8", stats.RetrySuccessRate)
	}
}

func TestStartReturnsOnContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := newTestOrchestrator(t, &fakeNotificationRepo{}, &fakeDLQWriter{}, &fakeTokenCleanup{}, nil, &fakeProvider{})
	if err := o.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
}

// --- shared fakes ---

type fakeNotificationRepo struct {
	createFn                func(ctx context.Context, n *domain.Notification) error
	getByIDFn               func(ctx context.Context, id string) (*domain.Notification, error)
	findEligibleForRetryFn  func(ctx context.Context, maxRetries int, backoffs []time.Duration, limit int) ([]domain.Notification, error)
	claimForRetryFn         func(ctx context.Context, id string) (bool, error)
	markSentFn              func(ctx context.Context, id string, sentAt time.Time) error
	markFailedFn            func(ctx context.Context, id string, message, code string) error
	resetForManualRetryFn   func(ctx context.Context, id string) (*domain.Notification, error)
	incrementPendingRetryFn func(ctx context.Context, id string) (bool, error)
	countByStatusFn         func(ctx context.Context, status domain.Status) (int64, error)
	retryStatsFn            func(ctx context.Context) (repository.RetryStats, error)
}

func (f *fakeNotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	if f.createFn != nil {
		return f.createFn(ctx, n)
	}
	return nil
}

func (f *fakeNotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeNotificationRepo) FindEligibleForRetry(ctx context.Context, maxRetries int, backoffs []time.Duration, limit int) ([]domain.Notification, error) {
	if f.findEligibleForRetryFn != nil {
		return f.findEligibleForRetryFn(ctx, maxRetries, backoffs, limit)
	}
	return nil, nil
}

func (f *fakeNotificationRepo) ClaimForRetry(ctx context.Context, id string) (bool, error) {
	if f.claimForRetryFn != nil {
		return f.claimForRetryFn(ctx, id)
	}
	return true, nil
}

func (f *fakeNotificationRepo) MarkSent(ctx context.Context, id string, sentAt time.Time) error {
	if f.markSentFn != nil {
		return f.markSentFn(ctx, id, sentAt)
	}
	return nil
}

func (f *fakeNotificationRepo) MarkFailed(ctx context.Context, id string, message, code string) error {
	if f.markFailedFn != nil {
		return f.markFailedFn(ctx, id, message, code)
	}
	return nil
}

func (f *fakeNotificationRepo) ResetForManualRetry(ctx context.Context, id string) (*domain.Notification, error) {
	if f.resetForManualRetryFn != nil {
		return f.resetForManualRetryFn(ctx, id)
	}
	return nil, domain.ErrConflict
}

func (f *fakeNotificationRepo) IncrementPendingRetry(ctx context.Context, id string) (bool, error) {
	if f.incrementPendingRetryFn != nil {
		return f.incrementPendingRetryFn(ctx, id)
	}
	return true, nil
}

func (f *fakeNotificationRepo) CountByStatus(ctx context.Context, status domain.Status) (int64, error) {
	if f.countByStatusFn != nil {
		return f.countByStatusFn(ctx, status)
	}
	return 0, nil
}

func (f *fakeNotificationRepo) RetryStats(ctx context.Context) (repository.RetryStats, error) {
	if f.retryStatsFn != nil {
		return f.retryStatsFn(ctx)
	}
	return repository.RetryStats{}, nil
}

type fakeDLQWriter struct {
	addFn   func(ctx context.Context, id string, cause error, extra map[string]any) error
	countFn func(ctx context.Context) (int64, error)
}

func (f *fakeDLQWriter) Add(ctx context.Context, id string, cause error, extra map[string]any) error {
	if f.addFn != nil {
		return f.addFn(ctx, id, cause, extra)
	}
	return nil
}

func (f *fakeDLQWriter) Count(ctx context.Context) (int64, error) {
	if f.countFn != nil {
		return f.countFn(ctx)
	}
	return 0, nil
}

type fakeTokenCleanup struct {
	cleanupFn func(ctx context.Context, userID string, errType classify.Type, cause string) CleanupResult
}

func (f *fakeTokenCleanup) CleanupInvalidToken(ctx context.Context, userID string, errType classify.Type, cause string) CleanupResult {
	if f.cleanupFn != nil {
		return f.cleanupFn(ctx, userID, errType, cause)
	}
	return CleanupResult{UserID: userID}
}

type fakeProvider struct {
	sendFn func(ctx context.Context, req provider.SendRequest) (*provider.SendResult, error)
}

func (f *fakeProvider) Send(ctx context.Context, req provider.SendRequest) (*provider.SendResult, error) {
	if f.sendFn != nil {
		return f.sendFn(ctx, req)
	}
	return &provider.SendResult{DeliveryID: "fake-delivery"}, nil
}
