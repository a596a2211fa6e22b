// Package health tracks per-engine serviceability. Each engine gets one
// record updated by exponential moving average after every call and by
// periodic pings; scores are normalized over a rolling window of the last
// 100 calls or 5 minutes, whichever is smaller.
package health

import (
	"sync"
	"time"

	"github.com/soundprediction/retrievo/pkg/types"
)

const (
	// emaAlpha weighs the newest observation in the moving averages.
	emaAlpha = 0.2

	windowCalls = 100
	windowSpan  = 5 * time.Minute

	// referenceLatencyMs is the latency at which the latency score halves.
	referenceLatencyMs = 100.0
	// referenceQps is the throughput at which the throughput score saturates.
	referenceQps = 50.0
)

// Record is the externally visible health state of one engine.
type Record struct {
	Engine         types.EngineRole `json:"engine"`
	AvgLatencyMs   float64          `json:"avg_latency_ms"`
	SuccessRate    float64          `json:"success_rate"`
	ThroughputQps  float64          `json:"throughput_qps"`
	AccuracyScore  float64          `json:"accuracy_score"`
	CompositeScore float64          `json:"composite_score"`
	LastAssessedAt time.Time        `json:"last_assessed_at"`
}

type sample struct {
	at        time.Time
	ok        bool
	latencyMs float64
}

// engineState is single-writer-at-a-time: every mutation holds mu.
type engineState struct {
	mu sync.Mutex

	emaLatencyMs float64
	accuracy     float64
	lastAssessed time.Time

	// ring of recent call samples
	window []sample
	head   int
	filled bool
}

// Tracker holds one health record per engine role.
type Tracker struct {
	mu      sync.RWMutex
	engines map[types.EngineRole]*engineState

	now func() time.Time // injectable clock for tests
}

// NewTracker creates a tracker with empty records for the given roles.
func NewTracker(roles ...types.EngineRole) *Tracker {
	t := &Tracker{
		engines: make(map[types.EngineRole]*engineState),
		now:     time.Now,
	}
	for _, role := range roles {
		t.engines[role] = &engineState{accuracy: 1.0, window: make([]sample, windowCalls)}
	}
	return t
}

func (t *Tracker) state(role types.EngineRole) *engineState {
	t.mu.RLock()
	st, ok := t.engines[role]
	t.mu.RUnlock()
	if ok {
		return st
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok = t.engines[role]; ok {
		return st
	}
	st = &engineState{accuracy: 1.0, window: make([]sample, windowCalls)}
	t.engines[role] = st
	return st
}

// Observe records the outcome of one call against an engine.
func (t *Tracker) Observe(role types.EngineRole, latency time.Duration, err error) {
	st := t.state(role)
	now := t.now()
	ms := float64(latency.Microseconds()) / 1000.0

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.lastAssessed.IsZero() {
		st.emaLatencyMs = ms
	} else {
		st.emaLatencyMs = emaAlpha*ms + (1-emaAlpha)*st.emaLatencyMs
	}
	st.lastAssessed = now

	st.window[st.head] = sample{at: now, ok: err == nil, latencyMs: ms}
	st.head = (st.head + 1) % len(st.window)
	if st.head == 0 {
		st.filled = true
	}
}

// SetAccuracy sets the externally assessed accuracy score for an engine.
func (t *Tracker) SetAccuracy(role types.EngineRole, score float64) {
	st := t.state(role)
	st.mu.Lock()
	defer st.mu.Unlock()
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	st.accuracy = score
}

// Score returns the composite health score of an engine in [0,1]. An engine
// with no observations scores its accuracy alone weighted in, treating the
// unknown dimensions as healthy so a cold engine is not shut out.
func (t *Tracker) Score(role types.EngineRole) float64 {
	return t.Snapshot(role).CompositeScore
}

// Snapshot returns the current health record of an engine.
func (t *Tracker) Snapshot(role types.EngineRole) Record {
	st := t.state(role)
	now := t.now()

	st.mu.Lock()
	defer st.mu.Unlock()

	rec := Record{
		Engine:         role,
		AvgLatencyMs:   st.emaLatencyMs,
		AccuracyScore:  st.accuracy,
		LastAssessedAt: st.lastAssessed,
	}

	// Walk the rolling window: last windowCalls samples no older than
	// windowSpan.
	cutoff := now.Add(-windowSpan)
	total, succeeded := 0, 0
	var latencySum float64
	var oldest time.Time
	size := st.head
	if st.filled {
		size = len(st.window)
	}
	for i := 0; i < size; i++ {
		s := st.window[i]
		if s.at.Before(cutoff) {
			continue
		}
		total++
		if s.ok {
			succeeded++
		}
		latencySum += s.latencyMs
		if oldest.IsZero() || s.at.Before(oldest) {
			oldest = s.at
		}
	}

	if total == 0 {
		rec.SuccessRate = 1.0
		rec.ThroughputQps = 0
		rec.CompositeScore = 0.3*1.0 + 0.3*1.0 + 0.2*1.0 + 0.2*st.accuracy
		return rec
	}

	rec.SuccessRate = float64(succeeded) / float64(total)

	span := now.Sub(oldest).Seconds()
	if span < 1 {
		span = 1
	}
	rec.ThroughputQps = float64(total) / span

	avgWindowLatency := latencySum / float64(total)
	latencyScore := referenceLatencyMs / (referenceLatencyMs + avgWindowLatency)
	throughputScore := rec.ThroughputQps / referenceQps
	if throughputScore > 1 {
		throughputScore = 1
	}

	rec.CompositeScore = 0.3*latencyScore + 0.3*rec.SuccessRate +
		0.2*throughputScore + 0.2*st.accuracy
	return rec
}

// Snapshots returns the records of all tracked engines.
func (t *Tracker) Snapshots() map[types.EngineRole]Record {
	t.mu.RLock()
	roles := make([]types.EngineRole, 0, len(t.engines))
	for role := range t.engines {
		roles = append(roles, role)
	}
	t.mu.RUnlock()

	out := make(map[types.EngineRole]Record, len(roles))
	for _, role := range roles {
		out[role] = t.Snapshot(role)
	}
	return out
}
