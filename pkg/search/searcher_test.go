package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/retrievo/pkg/engine"
	"github.com/soundprediction/retrievo/pkg/health"
	"github.com/soundprediction/retrievo/pkg/resilience"
	"github.com/soundprediction/retrievo/pkg/strategy"
	"github.com/soundprediction/retrievo/pkg/types"
)

func testFixture(t *testing.T) (*Searcher, *engine.Set) {
	t.Helper()

	set := &engine.Set{
		Relational: engine.NewMemory(types.EngineRelational),
		Keyword:    engine.NewMemory(types.EngineKeyword),
		Vector:     engine.NewMemory(types.EngineVector),
	}
	for _, c := range set.All() {
		_, err := c.Upsert(context.Background(), []types.Record{
			{
				ID:        "doc-1",
				Text:      "retrieval orchestration with circuit breakers",
				Embedding: []float32{1, 0},
				Metadata:  map[string]interface{}{"kb_id": "kb-a"},
				UpdatedAt: time.Now(),
			},
			{
				ID:        "doc-2",
				Text:      "gardening at night",
				Embedding: []float32{0, 1},
				Metadata:  map[string]interface{}{"kb_id": "kb-a"},
				UpdatedAt: time.Now(),
			},
		})
		require.NoError(t, err)
	}

	exec := resilience.NewExecutor(resilience.Settings{
		FailureThreshold: 3,
		RecoveryTimeout:  time.Minute,
		MaxAttempts:      1,
		RetryBase:        time.Millisecond,
		CallTimeout:      time.Second,
	}, nil)
	tracker := health.NewTracker(types.EngineRelational, types.EngineKeyword, types.EngineVector)

	embed := func(ctx context.Context, text string) ([]float32, error) {
		return []float32{1, 0}, nil
	}
	return NewSearcher(set, exec, tracker, embed, nil), set
}

func hybridDecision() strategy.Decision {
	return strategy.Decision{
		Strategy: types.StrategyHybrid,
		Params: strategy.Params{
			VectorWeight:  0.7,
			KeywordWeight: 0.3,
			RankConstant:  60,
			TopK:          5,
		},
	}
}

func TestHybridFusesBothEngines(t *testing.T) {
	s, _ := testFixture(t)

	hits, err := s.Execute(context.Background(), hybridDecision(), types.SearchParams{
		Query: "circuit breakers",
	})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "doc-1", hits[0].ID, "both engines agree on doc-1")
}

func TestVectorOnlyUsesEmbedder(t *testing.T) {
	s, _ := testFixture(t)

	hits, err := s.Execute(context.Background(), strategy.Decision{
		Strategy: types.StrategyVectorOnly,
		Params:   strategy.Params{TopK: 1},
	}, types.SearchParams{Query: "anything"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "doc-1", hits[0].ID)
	assert.Equal(t, types.EngineVector, hits[0].SourceEngine)
}

func TestFallbackServesFromRelational(t *testing.T) {
	s, _ := testFixture(t)

	hits, err := s.Execute(context.Background(), strategy.Decision{
		Strategy: types.StrategyFallback,
		Params:   strategy.Params{TopK: 10},
	}, types.SearchParams{Query: "whatever", KnowledgeBaseIDs: []string{"kb-a"}})
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestHybridSurvivesOneSideFailing(t *testing.T) {
	s, set := testFixture(t)
	set.Vector.(*engine.Memory).FailAll(errors.New("vector store down"))

	hits, err := s.Execute(context.Background(), hybridDecision(), types.SearchParams{
		Query: "circuit breakers",
	})
	require.NoError(t, err, "keyword side alone must still answer")
	require.NotEmpty(t, hits)
	assert.Equal(t, types.EngineKeyword, hits[0].SourceEngine)
}

func TestHybridBothSidesDownErrors(t *testing.T) {
	s, set := testFixture(t)
	boom := errors.New("down")
	set.Vector.(*engine.Memory).FailAll(boom)
	set.Keyword.(*engine.Memory).FailAll(boom)

	_, err := s.Execute(context.Background(), hybridDecision(), types.SearchParams{Query: "q"})
	require.Error(t, err)

	var ece *types.EngineCallError
	assert.True(t, errors.As(err, &ece))
}

func TestSearchFailureRecordsOnHealth(t *testing.T) {
	s, set := testFixture(t)
	set.Vector.(*engine.Memory).FailAll(errors.New("down"))

	_, _ = s.Execute(context.Background(), strategy.Decision{
		Strategy: types.StrategyVectorOnly,
		Params:   strategy.Params{TopK: 5},
	}, types.SearchParams{Query: "q"})

	rec := s.tracker.Snapshot(types.EngineVector)
	assert.Less(t, rec.SuccessRate, 1.0)
}
