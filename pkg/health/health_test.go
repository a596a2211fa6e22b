package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/retrievo/pkg/types"
)

func TestColdEngineScoresHealthy(t *testing.T) {
	tr := NewTracker(types.EngineVector)
	score := tr.Score(types.EngineVector)
	assert.Equal(t, 1.0, score, "no observations means nothing known to be wrong")
}

func TestSuccessRateFromWindow(t *testing.T) {
	tr := NewTracker(types.EngineVector)
	boom := errors.New("boom")

	for i := 0; i < 8; i++ {
		tr.Observe(types.EngineVector, 10*time.Millisecond, nil)
	}
	for i := 0; i < 2; i++ {
		tr.Observe(types.EngineVector, 10*time.Millisecond, boom)
	}

	rec := tr.Snapshot(types.EngineVector)
	assert.InDelta(t, 0.8, rec.SuccessRate, 1e-9)
	assert.Greater(t, rec.AvgLatencyMs, 0.0)
	assert.False(t, rec.LastAssessedAt.IsZero())
}

func TestFailuresDragScoreDown(t *testing.T) {
	tr := NewTracker(types.EngineVector, types.EngineKeyword)
	boom := errors.New("boom")

	for i := 0; i < 50; i++ {
		tr.Observe(types.EngineVector, 5*time.Millisecond, nil)
		tr.Observe(types.EngineKeyword, 5*time.Millisecond, boom)
	}

	assert.Greater(t,
		tr.Score(types.EngineVector),
		tr.Score(types.EngineKeyword))
	// All calls failing zeroes the success term, which carries 0.3 weight.
	assert.LessOrEqual(t, tr.Score(types.EngineKeyword), 0.7)
}

func TestWindowDropsStaleSamples(t *testing.T) {
	tr := NewTracker(types.EngineVector)
	now := time.Now()
	tr.now = func() time.Time { return now }

	boom := errors.New("boom")
	for i := 0; i < 10; i++ {
		tr.Observe(types.EngineVector, time.Millisecond, boom)
	}
	require.Less(t, tr.Snapshot(types.EngineVector).SuccessRate, 1.0)

	// Move the clock past the window span: old failures no longer count.
	tr.now = func() time.Time { return now.Add(6 * time.Minute) }
	tr.Observe(types.EngineVector, time.Millisecond, nil)

	rec := tr.Snapshot(types.EngineVector)
	assert.Equal(t, 1.0, rec.SuccessRate)
}

func TestWindowCapsAtHundredCalls(t *testing.T) {
	tr := NewTracker(types.EngineVector)
	boom := errors.New("boom")

	// 100 failures then 100 successes: the ring keeps only the last 100.
	for i := 0; i < 100; i++ {
		tr.Observe(types.EngineVector, time.Millisecond, boom)
	}
	for i := 0; i < 100; i++ {
		tr.Observe(types.EngineVector, time.Millisecond, nil)
	}

	rec := tr.Snapshot(types.EngineVector)
	assert.Equal(t, 1.0, rec.SuccessRate)
}

func TestSetAccuracyClamped(t *testing.T) {
	tr := NewTracker(types.EngineVector)
	tr.SetAccuracy(types.EngineVector, 1.7)
	assert.Equal(t, 1.0, tr.Snapshot(types.EngineVector).AccuracyScore)
	tr.SetAccuracy(types.EngineVector, -0.2)
	assert.Equal(t, 0.0, tr.Snapshot(types.EngineVector).AccuracyScore)
}

func TestSnapshotsCoverAllEngines(t *testing.T) {
	tr := NewTracker(types.EngineVector, types.EngineKeyword, types.EngineRelational)
	all := tr.Snapshots()
	assert.Len(t, all, 3)
}

func TestMonitorProbesEngines(t *testing.T) {
	tr := NewTracker(types.EngineVector)
	m := NewMonitor(tr, 10*time.Millisecond, nil)

	calls := 0
	m.Register(types.EngineVector, func(ctx context.Context) (types.PingResult, error) {
		calls++
		return types.PingResult{OK: true, LatencyMs: 1}, nil
	})

	m.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	m.Stop()

	assert.Greater(t, calls, 0)
	assert.False(t, tr.Snapshot(types.EngineVector).LastAssessedAt.IsZero())
}
