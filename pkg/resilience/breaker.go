// Package resilience wraps engine calls in a per-dependency circuit breaker
// plus a retry policy, with optional fallbacks. Breakers are created lazily
// by name, never deleted, and only reset explicitly.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/soundprediction/retrievo/pkg/types"
)

// Op is a protected unit of work. The context it receives carries the
// per-dependency call timeout.
type Op func(ctx context.Context) (interface{}, error)

// FallbackFunc produces a degraded result when the primary path is
// unavailable. It receives the error that triggered it.
type FallbackFunc func(ctx context.Context, cause error) (interface{}, error)

// StateChangeFunc observes breaker transitions, e.g. to persist snapshots
// or fire alerts.
type StateChangeFunc func(name string, from, to gobreaker.State)

// Settings parameterizes breakers and retries. Zero fields fall back to the
// documented defaults.
type Settings struct {
	// FailureThreshold trips the breaker once this many consecutive
	// failures accumulate, or once the failure ratio in the rolling window
	// exceeds tripRatio with at least this many requests seen.
	FailureThreshold uint32
	// Window is the rolling interval over which counts are accumulated.
	Window time.Duration
	// RecoveryTimeout is how long the breaker stays OPEN before allowing
	// one HALF_OPEN trial call.
	RecoveryTimeout time.Duration
	// MaxAttempts caps total call attempts, retries included.
	MaxAttempts int
	// RetryBase is the base of the exponential retry backoff.
	RetryBase time.Duration
	// CallTimeout bounds each individual attempt.
	CallTimeout time.Duration
}

const tripRatio = 0.6

func (s Settings) withDefaults() Settings {
	if s.FailureThreshold == 0 {
		s.FailureThreshold = 5
	}
	if s.Window <= 0 {
		s.Window = time.Minute
	}
	if s.RecoveryTimeout <= 0 {
		s.RecoveryTimeout = 30 * time.Second
	}
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = 3
	}
	if s.RetryBase <= 0 {
		s.RetryBase = time.Second
	}
	if s.CallTimeout <= 0 {
		s.CallTimeout = 5 * time.Second
	}
	return s
}

// Metrics are process-wide request counters, updated for every outcome
// regardless of breaker state.
type Metrics struct {
	Requests      atomic.Int64
	Failures      atomic.Int64
	Fallbacks     atomic.Int64
	ShortCircuits atomic.Int64
	Retries       atomic.Int64
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	Requests      int64 `json:"requests"`
	Failures      int64 `json:"failures"`
	Fallbacks     int64 `json:"fallbacks"`
	ShortCircuits int64 `json:"short_circuits"`
	Retries       int64 `json:"retries"`
}

// BreakerSnapshot is the externally visible state of one breaker.
type BreakerSnapshot struct {
	Name                string    `json:"name"`
	State               string    `json:"state"`
	ConsecutiveFailures uint32    `json:"consecutive_failures"`
	Requests            uint32    `json:"requests"`
	TotalFailures       uint32    `json:"total_failures"`
	OpenedAt            time.Time `json:"opened_at,omitempty"`
	RecoveryTimeoutMs   int64     `json:"recovery_timeout_ms"`
}

type breakerEntry struct {
	cb       *gobreaker.CircuitBreaker
	openedAt atomic.Pointer[time.Time]
}

// Executor is the resilience layer. It is safe for concurrent use.
type Executor struct {
	logger *slog.Logger

	settingsMu sync.RWMutex
	settings   Settings

	mu        sync.Mutex
	breakers  map[string]*breakerEntry
	fallbacks map[string]FallbackFunc

	onStateChange StateChangeFunc
	metrics       Metrics
}

// NewExecutor creates a resilience executor with the given settings.
func NewExecutor(settings Settings, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		logger:    logger,
		settings:  settings.withDefaults(),
		breakers:  make(map[string]*breakerEntry),
		fallbacks: make(map[string]FallbackFunc),
	}
}

// OnStateChange registers a hook observing breaker transitions. Must be
// called before the first protected call. gobreaker invokes the hook while
// holding the breaker's internal lock, so the hook must not call back into
// the executor for the same breaker (State, Snapshot, ExecuteProtected);
// use TransitionSnapshot to derive a persistable view instead.
func (e *Executor) OnStateChange(fn StateChangeFunc) {
	e.onStateChange = fn
}

// UpdateSettings replaces the settings used for retry policy and for
// breakers created or reset from now on. Live breakers keep their tripping
// parameters until reset.
func (e *Executor) UpdateSettings(settings Settings) {
	e.settingsMu.Lock()
	defer e.settingsMu.Unlock()
	e.settings = settings.withDefaults()
}

func (e *Executor) currentSettings() Settings {
	e.settingsMu.RLock()
	defer e.settingsMu.RUnlock()
	return e.settings
}

func (e *Executor) breaker(name string) *breakerEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	if entry, ok := e.breakers[name]; ok {
		return entry
	}
	entry := e.newEntryLocked(name)
	e.breakers[name] = entry
	return entry
}

func (e *Executor) newEntryLocked(name string) *breakerEntry {
	s := e.currentSettings()
	entry := &breakerEntry{}

	st := gobreaker.Settings{
		Name: name,
		// One trial call while HALF_OPEN.
		MaxRequests: 1,
		Interval:    s.Window,
		Timeout:     s.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= s.FailureThreshold {
				return true
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= s.FailureThreshold && ratio >= tripRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				now := time.Now()
				entry.openedAt.Store(&now)
			}
			e.logger.Warn("circuit breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
			if e.onStateChange != nil {
				e.onStateChange(name, from, to)
			}
		},
	}
	entry.cb = gobreaker.NewCircuitBreaker(st)
	return entry
}

// RegisterFallback installs the fallback used when the named dependency is
// unavailable (breaker open or retries exhausted).
func (e *Executor) RegisterFallback(name string, fn FallbackFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fallbacks[name] = fn
}

func (e *Executor) fallback(name string) FallbackFunc {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fallbacks[name]
}

// ExecuteProtected runs op under the named breaker with retries and the
// registered fallback, if any.
func (e *Executor) ExecuteProtected(ctx context.Context, name string, op Op) (interface{}, error) {
	return e.execute(ctx, name, 0, op, e.fallback(name))
}

// ExecuteWithAttempts runs op like ExecuteProtected but caps total attempts
// at the given value for this call. Callers with their own retry budget,
// such as the sync service, use this instead of the executor-wide setting.
// attempts below 1 falls back to the setting.
func (e *Executor) ExecuteWithAttempts(ctx context.Context, name string, attempts int, op Op) (interface{}, error) {
	return e.execute(ctx, name, attempts, op, e.fallback(name))
}

// WithFallback runs op under the named breaker with an inline fallback that
// overrides any registered one for this call.
func (e *Executor) WithFallback(ctx context.Context, name string, op Op, fb FallbackFunc) (interface{}, error) {
	return e.execute(ctx, name, 0, op, fb)
}

func (e *Executor) execute(ctx context.Context, name string, attempts int, op Op, fb FallbackFunc) (interface{}, error) {
	s := e.currentSettings()
	if attempts < 1 {
		attempts = s.MaxAttempts
	}
	entry := e.breaker(name)
	e.metrics.Requests.Add(1)

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			// Never retry while OPEN: the failed attempt may have tripped
			// the breaker.
			if entry.cb.State() == gobreaker.StateOpen {
				break
			}
			e.metrics.Retries.Add(1)
			if err := sleep(ctx, backoff(s.RetryBase, attempt-1)); err != nil {
				e.metrics.Failures.Add(1)
				return nil, err
			}
		}

		res, err := entry.cb.Execute(func() (interface{}, error) {
			callCtx, cancel := context.WithTimeout(ctx, s.CallTimeout)
			defer cancel()
			return op(callCtx)
		})
		if err == nil {
			return res, nil
		}
		lastErr = err

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			e.metrics.ShortCircuits.Add(1)
			return e.degrade(ctx, name, &types.CircuitOpenError{Name: name}, fb)
		}
		if ctx.Err() != nil {
			break
		}
	}

	e.metrics.Failures.Add(1)
	return e.degrade(ctx, name, lastErr, fb)
}

// degrade routes to the fallback when one exists, otherwise surfaces cause.
func (e *Executor) degrade(ctx context.Context, name string, cause error, fb FallbackFunc) (interface{}, error) {
	if fb == nil {
		return nil, cause
	}
	e.metrics.Fallbacks.Add(1)
	e.logger.Debug("serving fallback", "breaker", name, "cause", cause)
	return fb(ctx, cause)
}

// ResetBreaker forces the named breaker back to CLOSED by replacing the
// underlying state machine with a fresh one using current settings.
func (e *Executor) ResetBreaker(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.breakers[name]; !ok {
		return
	}
	e.breakers[name] = e.newEntryLocked(name)
	e.logger.Info("circuit breaker reset", "breaker", name)
}

// State returns the current state of the named breaker, creating it if
// needed.
func (e *Executor) State(name string) gobreaker.State {
	return e.breaker(name).cb.State()
}

// Snapshot returns the externally visible state of one breaker.
func (e *Executor) Snapshot(name string) BreakerSnapshot {
	entry := e.breaker(name)
	counts := entry.cb.Counts()
	snap := BreakerSnapshot{
		Name:                name,
		State:               entry.cb.State().String(),
		ConsecutiveFailures: counts.ConsecutiveFailures,
		Requests:            counts.Requests,
		TotalFailures:       counts.TotalFailures,
		RecoveryTimeoutMs:   e.currentSettings().RecoveryTimeout.Milliseconds(),
	}
	if at := entry.openedAt.Load(); at != nil {
		snap.OpenedAt = *at
	}
	return snap
}

// TransitionSnapshot derives a snapshot from an observed transition without
// querying the breaker. Counts are omitted: gobreaker resets them on every
// transition anyway, and reading them from inside a StateChangeFunc would
// re-enter the breaker lock the hook is called under.
func (e *Executor) TransitionSnapshot(name string, to gobreaker.State) BreakerSnapshot {
	snap := BreakerSnapshot{
		Name:              name,
		State:             to.String(),
		RecoveryTimeoutMs: e.currentSettings().RecoveryTimeout.Milliseconds(),
	}
	if to == gobreaker.StateOpen {
		snap.OpenedAt = time.Now()
	}
	return snap
}

// Snapshots returns the state of every breaker created so far.
func (e *Executor) Snapshots() map[string]BreakerSnapshot {
	e.mu.Lock()
	names := make([]string, 0, len(e.breakers))
	for name := range e.breakers {
		names = append(names, name)
	}
	e.mu.Unlock()

	out := make(map[string]BreakerSnapshot, len(names))
	for _, name := range names {
		out[name] = e.Snapshot(name)
	}
	return out
}

// MetricsSnapshot returns the process-wide request counters.
func (e *Executor) MetricsSnapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Requests:      e.metrics.Requests.Load(),
		Failures:      e.metrics.Failures.Load(),
		Fallbacks:     e.metrics.Fallbacks.Load(),
		ShortCircuits: e.metrics.ShortCircuits.Load(),
		Retries:       e.metrics.Retries.Load(),
	}
}
