// Package breaker implements a per-target circuit breaker registry. One named
// circuit guards one downstream dependency; state is process-local and resets
// to CLOSED on restart.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the breaker state machine position.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

var (
	// ErrOpen is returned without invoking the operation while a circuit is
	// open and its cooldown has not elapsed.
	ErrOpen = errors.New("circuit open")
	// ErrTimeout is returned when the operation loses the race against the
	// configured timeout. It counts as an ordinary failure.
	ErrTimeout = errors.New("circuit operation timed out")
)

// Config controls a single Execute invocation.
type Config struct {
	FailureThreshold int
	Timeout          time.Duration
	ResetTimeout     time.Duration
}

// DefaultConfig is the general-purpose preset.
func DefaultConfig() Config {
	return Config{FailureThreshold: 5, Timeout: 30 * time.Second, ResetTimeout: 60 * time.Second}
}

// ProviderConfig is the preset for the delivery provider, with a shorter
// cooldown so a recovered provider is probed sooner.
func ProviderConfig() Config {
	return Config{FailureThreshold: 5, Timeout: 30 * time.Second, ResetTimeout: 30 * time.Second}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = defaults.FailureThreshold
	}
	if c.Timeout <= 0 {
		c.Timeout = defaults.Timeout
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = defaults.ResetTimeout
	}
	return c
}

// Operation is the guarded asynchronous call.
type Operation func(ctx context.Context) error

// Snapshot is a read-only view of one circuit for dashboards and alerts.
type Snapshot struct {
	Name            string
	State           State
	FailureCount    int
	LastFailureTime time.Time
	NextAttempt     time.Time
	IsOpen          bool
}

type circuit struct {
	mu           sync.Mutex
	state        State
	failureCount int
	lastFailure  time.Time
	nextAttempt  time.Time
}

// Registry owns all named circuits. It is created at the composition root and
// injected wherever a downstream call needs guarding.
type Registry struct {
	mu       sync.Mutex
	circuits map[string]*circuit
	logger   *zap.Logger
	now      func() time.Time
}

func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		circuits: make(map[string]*circuit),
		logger:   logger,
		now:      time.Now,
	}
}

func (r *Registry) circuitFor(name string) *circuit {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.circuits[name]
	if !ok {
		c = &circuit{state: StateClosed}
		r.circuits[name] = c
	}
	return c
}

// Execute runs op guarded by the named circuit. While the circuit is open and
// inside its cooldown the operation is never invoked and ErrOpen is returned.
// The breaker never retries; retry policy belongs to the caller.
func (r *Registry) Execute(ctx context.Context, name string, cfg Config, op Operation) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg = cfg.withDefaults()
	c := r.circuitFor(name)

	c.mu.Lock()
	if c.state == StateOpen {
		if r.now().Before(c.nextAttempt) {
			c.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrOpen, name)
		}
		c.state = StateHalfOpen
		r.logger.Info("circuit half-open, allowing trial call", zap.String("circuit", name))
	}
	c.mu.Unlock()

	err := r.invoke(ctx, cfg.Timeout, op)
	if err != nil {
		r.recordFailure(name, c, cfg)
		return err
	}

	r.recordSuccess(name, c)
	return nil
}

func (r *Registry) invoke(ctx context.Context, timeout time.Duration, op Operation) error {
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op(opCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-opCtx.Done():
		if errors.Is(opCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		return opCtx.Err()
	}
}

func (r *Registry) recordSuccess(name string, c *circuit) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateClosed {
		r.logger.Info("circuit closed", zap.String("circuit", name))
	}
	c.state = StateClosed
	c.failureCount = 0
}

func (r *Registry) recordFailure(name string, c *circuit, cfg Config) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := r.now()
	c.failureCount++
	c.lastFailure = now

	// A failed half-open trial reopens regardless of the threshold.
	if c.state == StateHalfOpen || c.failureCount >= cfg.FailureThreshold {
		c.state = StateOpen
		c.nextAttempt = now.Add(cfg.ResetTimeout)
		r.logger.Warn("circuit opened",
			zap.String("circuit", name),
			zap.Int("failureCount", c.failureCount),
			zap.Time("nextAttempt", c.nextAttempt),
		)
	}
}

// State returns the current state of the named circuit; an unknown name
// reports CLOSED.
func (r *Registry) State(name string) State {
	r.mu.Lock()
	c, ok := r.circuits[name]
	r.mu.Unlock()
	if !ok {
		return StateClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsOpen reports whether the named circuit currently rejects calls. Reading
// transitions OPEN to HALF_OPEN once the cooldown has elapsed.
func (r *Registry) IsOpen(name string) bool {
	r.mu.Lock()
	c, ok := r.circuits[name]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return r.isOpenLocked(name, c)
}

func (r *Registry) isOpenLocked(name string, c *circuit) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateOpen {
		return false
	}
	if r.now().Before(c.nextAttempt) {
		return true
	}
	c.state = StateHalfOpen
	r.logger.Info("circuit half-open, allowing trial call", zap.String("circuit", name))
	return false
}

// Snapshot returns the metrics view of one circuit.
func (r *Registry) Snapshot(name string) (Snapshot, bool) {
	r.mu.Lock()
	c, ok := r.circuits[name]
	r.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}

	isOpen := r.isOpenLocked(name, c)

	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Name:            name,
		State:           c.state,
		FailureCount:    c.failureCount,
		LastFailureTime: c.lastFailure,
		NextAttempt:     c.nextAttempt,
		IsOpen:          isOpen,
	}, true
}

// Snapshots returns views of every known circuit.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	names := make([]string, 0, len(r.circuits))
	for name := range r.circuits {
		names = append(names, name)
	}
	r.mu.Unlock()

	snapshots := make([]Snapshot, 0, len(names))
	for _, name := range names {
		if s, ok := r.Snapshot(name); ok {
			snapshots = append(snapshots, s)
		}
	}
	return snapshots
}

// Reset returns the named circuit to CLOSED with a zero failure count.
func (r *Registry) Reset(name string) {
	c := r.circuitFor(name)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateClosed
	c.failureCount = 0
	c.nextAttempt = time.Time{}
	r.logger.Info("circuit manually reset", zap.String("circuit", name))
}

// ForceHalfOpen moves the named circuit to HALF_OPEN so the next call probes
// the dependency immediately.
func (r *Registry) ForceHalfOpen(name string) {
	c := r.circuitFor(name)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateHalfOpen
	r.logger.Info("circuit forced half-open", zap.String("circuit", name))
}
