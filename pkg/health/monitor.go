package health

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/soundprediction/retrievo/pkg/types"
)

var errPingUnhealthy = errors.New("engine reported unhealthy")

// PingFunc probes one engine, typically through the resilience layer.
type PingFunc func(ctx context.Context) (types.PingResult, error)

// Monitor pings registered engines on an interval and feeds the outcomes
// into the tracker, so health scores stay fresh even for idle engines.
type Monitor struct {
	tracker  *Tracker
	interval time.Duration
	pings    map[types.EngineRole]PingFunc
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a monitor. Interval <= 0 defaults to 30s.
func NewMonitor(tracker *Tracker, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		tracker:  tracker,
		interval: interval,
		pings:    make(map[types.EngineRole]PingFunc),
		logger:   logger,
	}
}

// Register adds an engine probe. Must be called before Start.
func (m *Monitor) Register(role types.EngineRole, ping PingFunc) {
	m.pings[role] = ping
}

// Start launches the ping loop.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.probeAll(ctx)
			}
		}
	}()
}

// Stop halts the ping loop and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

func (m *Monitor) probeAll(ctx context.Context) {
	for role, ping := range m.pings {
		start := time.Now()
		res, err := ping(ctx)
		elapsed := time.Since(start)
		if err == nil && !res.OK {
			err = errPingUnhealthy
		}
		m.tracker.Observe(role, elapsed, err)
		if err != nil {
			m.logger.Warn("engine ping failed", "engine", string(role), "error", err)
		}
	}
}
