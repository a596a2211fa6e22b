package retrievo

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/retrievo/pkg/engine"
	"github.com/soundprediction/retrievo/pkg/optimizer"
	"github.com/soundprediction/retrievo/pkg/syncer"
	"github.com/soundprediction/retrievo/pkg/types"
)

func testClient(t *testing.T) (*Client, *engine.Set) {
	t.Helper()

	set := &engine.Set{
		Relational: engine.NewMemory(types.EngineRelational),
		Keyword:    engine.NewMemory(types.EngineKeyword),
		Vector:     engine.NewMemory(types.EngineVector),
	}
	client, err := New(Options{
		Engines: set,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		ConfigOverrides: map[string]interface{}{
			"store.path":      "",
			"store.in_memory": true,
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, client.Close()) })
	return client, set
}

func seed(t *testing.T, set *engine.Set) {
	t.Helper()
	records := []types.Record{
		{ID: "c1", Text: "circuit breakers guard engine calls", Embedding: []float32{1, 0}, UpdatedAt: time.Now()},
		{ID: "c2", Text: "hybrid retrieval fuses ranked lists", Embedding: []float32{0, 1}, UpdatedAt: time.Now()},
	}
	for _, eng := range set.All() {
		_, err := eng.Upsert(context.Background(), records)
		require.NoError(t, err)
	}
}

func TestNewRequiresEngines(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestQueryEndToEnd(t *testing.T) {
	client, set := testClient(t)
	seed(t, set)

	req := types.QueryRequest{QueryText: "hybrid retrieval", TopK: 5}
	first, err := client.Query(context.Background(), req)
	require.NoError(t, err)
	assert.NotEmpty(t, first.Results)
	assert.Equal(t, types.StrategyHybrid, first.StrategyUsed)
	assert.False(t, first.CacheHit)

	second, err := client.Query(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Results, second.Results)
}

func TestQueryValidatesInput(t *testing.T) {
	client, _ := testClient(t)
	_, err := client.Query(context.Background(), types.QueryRequest{})
	assert.ErrorIs(t, err, types.ErrEmptyQuery)
}

func TestSyncThenQueryRoundTrip(t *testing.T) {
	client, set := testClient(t)

	chunks := []types.Record{
		{ID: "d1", Text: "retrieval strategies adapt to engine health", Embedding: []float32{1, 1}, UpdatedAt: time.Now()},
	}
	jobID, err := client.SyncChunks("kb-a", "doc-1", chunks)
	require.NoError(t, err)

	deadline := time.Now().Add(5 * time.Second)
	for {
		rec, err := client.JobStatus(jobID)
		require.NoError(t, err)
		if rec.Status == syncer.StatusCompleted {
			assert.Equal(t, rec.TotalItems, rec.SuccessItems)
			break
		}
		require.Equal(t, false, rec.Status == syncer.StatusFailed, "job failed: %s", rec.Error)
		require.True(t, time.Now().Before(deadline), "sync job never completed")
		time.Sleep(5 * time.Millisecond)
	}

	assert.Equal(t, 1, set.Keyword.(*engine.Memory).Len())
	assert.Equal(t, 1, set.Vector.(*engine.Memory).Len())

	resp, err := client.QueryWithOptions(context.Background(),
		types.QueryRequest{QueryText: "retrieval strategies", KnowledgeBaseIDs: []string{"kb-a"}, TopK: 3},
		// Cache disabled so the fresh sync is visible immediately.
		optimizer.Options{})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Results)
}

func TestJobStatusSurvivesViaStore(t *testing.T) {
	client, _ := testClient(t)

	jobID, err := client.SyncChunks("kb-a", "doc-1", []types.Record{
		{ID: "d1", Text: "one", UpdatedAt: time.Now()},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		rec, err := client.JobStatus(jobID)
		return err == nil && rec.Status == syncer.StatusCompleted
	}, 5*time.Second, 5*time.Millisecond)

	// The durable store has the same terminal record.
	rec, err := client.store.LoadJob(jobID)
	require.NoError(t, err)
	assert.Equal(t, syncer.StatusCompleted, rec.Status)
}

func TestHealthCheckReport(t *testing.T) {
	client, set := testClient(t)
	seed(t, set)

	_, err := client.Query(context.Background(), types.QueryRequest{QueryText: "hybrid retrieval"})
	require.NoError(t, err)

	report := client.HealthCheck()
	assert.Equal(t, "healthy", report.Status)
	assert.NotEmpty(t, report.Breakers)
	assert.Len(t, report.EngineScores, 3)
	assert.GreaterOrEqual(t, report.EngineScores[types.EngineVector], 0.0)
	assert.Zero(t, report.ActiveJobs)
}

func TestHealthCheckDegradedOnOpenBreaker(t *testing.T) {
	client, set := testClient(t)
	seed(t, set)
	set.Vector.(*engine.Memory).FailAll(errors.New("store down"))
	set.Keyword.(*engine.Memory).FailAll(errors.New("store down"))

	// Hammer until both breakers open; item-level retries make the exact
	// count uninteresting.
	for i := 0; i < 12; i++ {
		_, _ = client.QueryWithOptions(context.Background(),
			types.QueryRequest{QueryText: "anything at all"}, optimizer.Options{})
	}

	report := client.HealthCheck()
	assert.Equal(t, "degraded", report.Status)

	client.ResetBreaker("vector-engine")
	assert.Equal(t, "closed", client.exec.Snapshot("vector-engine").State)
}

func TestBreakerTripWithStorePersistsAndDoesNotStall(t *testing.T) {
	client, set := testClient(t)
	seed(t, set)
	set.Vector.(*engine.Memory).FailAll(errors.New("store down"))
	set.Keyword.(*engine.Memory).FailAll(errors.New("store down"))

	// The query whose failure trips a breaker runs the persistence hook
	// inline; it must return, not wedge on the breaker it is tripping.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 12; i++ {
			_, _ = client.QueryWithOptions(context.Background(),
				types.QueryRequest{QueryText: "anything at all"}, optimizer.Options{})
		}
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("query path stalled after a breaker transition")
	}

	snaps, err := client.store.LoadBreakers()
	require.NoError(t, err)
	open := 0
	for _, snap := range snaps {
		if snap.State == "open" {
			open++
			assert.False(t, snap.OpenedAt.IsZero())
		}
	}
	assert.GreaterOrEqual(t, open, 1, "open transition reached the durable store")
}

func TestUpdateConfigBumpsVersion(t *testing.T) {
	client, _ := testClient(t)

	before := client.Config().Current().Version
	after, err := client.UpdateConfig(map[string]interface{}{"cache.ttl_seconds": 120})
	require.NoError(t, err)
	assert.Greater(t, after, before)
	assert.Equal(t, 120, client.Config().Current().Cache.TTLSeconds)

	_, err = client.UpdateConfig(map[string]interface{}{"cache.strategy": "bogus"})
	var vErr *types.ConfigValidationError
	assert.True(t, errors.As(err, &vErr))
	assert.Equal(t, 120, client.Config().Current().Cache.TTLSeconds, "rejected update leaves config untouched")
}

func TestRecommendRanksStrategies(t *testing.T) {
	client, _ := testClient(t)

	candidates := client.Recommend("anything")
	require.NotEmpty(t, candidates)
	assert.Equal(t, types.StrategyHybrid, candidates[0].Strategy, "healthy engines rank hybrid first")
}
