package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/retrievo"
	"github.com/soundprediction/retrievo/pkg/engine"
	"github.com/soundprediction/retrievo/pkg/server/dto"
	"github.com/soundprediction/retrievo/pkg/syncer"
	"github.com/soundprediction/retrievo/pkg/types"
)

func testServer(t *testing.T) (*Server, *engine.Set) {
	t.Helper()

	set := &engine.Set{
		Relational: engine.NewMemory(types.EngineRelational),
		Keyword:    engine.NewMemory(types.EngineKeyword),
		Vector:     engine.NewMemory(types.EngineVector),
	}
	client, err := retrievo.New(retrievo.Options{
		Engines: set,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		ConfigOverrides: map[string]interface{}{
			"store.path":      "",
			"store.in_memory": true,
			"server.mode":     "test",
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, client.Close()) })

	srv := New(client.Config().Current(), client)
	srv.Setup()
	return srv, set
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func seedEngines(t *testing.T, set *engine.Set) {
	t.Helper()
	records := []types.Record{
		{ID: "c1", Text: "circuit breakers protect engine calls", Embedding: []float32{1, 0}, Metadata: map[string]interface{}{"kb_id": "kb-a"}, UpdatedAt: time.Now()},
		{ID: "c2", Text: "hybrid retrieval fuses ranked lists", Embedding: []float32{0, 1}, Metadata: map[string]interface{}{"kb_id": "kb-a"}, UpdatedAt: time.Now()},
	}
	ctx := context.Background()
	for _, eng := range set.All() {
		_, err := eng.Upsert(ctx, records)
		require.NoError(t, err)
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := testServer(t)

	w := doJSON(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "retrievo")

	w = doJSON(t, srv, http.MethodGet, "/live", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDetailedHealthReportsComponents(t *testing.T) {
	srv, _ := testServer(t)

	w := doJSON(t, srv, http.MethodGet, "/health/detailed", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var report map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, "healthy", report["status"])
	assert.Contains(t, report, "engine_scores")
	assert.Contains(t, report, "cache_hit_rate")
	assert.Contains(t, report, "active_jobs")
}

func TestQueryEndpoint(t *testing.T) {
	srv, set := testServer(t)
	seedEngines(t, set)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/query", dto.QueryRequest{
		Query:            "hybrid retrieval",
		KnowledgeBaseIDs: []string{"kb-a"},
		TopK:             5,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp dto.QueryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Results)
	assert.Equal(t, string(types.StrategyHybrid), resp.StrategyUsed)
	assert.False(t, resp.CacheHit)

	// Identical query served from cache.
	w = doJSON(t, srv, http.MethodPost, "/api/v1/query", dto.QueryRequest{
		Query:            "hybrid retrieval",
		KnowledgeBaseIDs: []string{"kb-a"},
		TopK:             5,
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.CacheHit)
}

func TestQueryEndpointRejectsBadRequests(t *testing.T) {
	srv, _ := testServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/query", map[string]interface{}{"query": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/api/v1/query", dto.QueryRequest{Query: "ok", TopK: -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecommendEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	w := doJSON(t, srv, http.MethodGet, "/api/v1/query/recommend?q=anything", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var result dto.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.Success)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/query/recommend", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSyncChunksEndToEnd(t *testing.T) {
	srv, set := testServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/sync/chunks", dto.SyncChunksRequest{
		KnowledgeBaseID: "kb-a",
		DocumentID:      "doc-1",
		Chunks: []dto.Chunk{
			{ID: "c1", Text: "first chunk", Embedding: []float32{1, 0}},
			{ID: "c2", Text: "second chunk", Embedding: []float32{0, 1}},
		},
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var submitted dto.JobSubmitted
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &submitted))
	require.NotEmpty(t, submitted.JobID)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		w = doJSON(t, srv, http.MethodGet, "/api/v1/sync/jobs/"+submitted.JobID, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var status dto.JobStatusResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
		if status.Job.Status == syncer.StatusCompleted {
			assert.Equal(t, 4, status.Job.SuccessItems, "2 chunks x 2 targets")
			assert.Equal(t, 2, set.Vector.(*engine.Memory).Len())
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("sync job never completed")
}

func TestSyncJobNotFound(t *testing.T) {
	srv, _ := testServer(t)
	w := doJSON(t, srv, http.MethodGet, "/api/v1/sync/jobs/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSyncChunksRejectsEmpty(t *testing.T) {
	srv, _ := testServer(t)
	w := doJSON(t, srv, http.MethodPost, "/api/v1/sync/chunks", map[string]interface{}{
		"knowledge_base_id": "kb-a",
		"document_id":       "doc-1",
		"chunks":            []interface{}{},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminConfigUpdate(t *testing.T) {
	srv, _ := testServer(t)

	w := doJSON(t, srv, http.MethodPatch, "/api/v1/admin/config", map[string]interface{}{
		"cache.ttl_seconds": 60,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Invalid updates are rejected whole with the violations listed.
	w = doJSON(t, srv, http.MethodPatch, "/api/v1/admin/config", map[string]interface{}{
		"cache.strategy": "bogus",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "cache.strategy")
}

func TestAdminResetBreaker(t *testing.T) {
	srv, _ := testServer(t)
	w := doJSON(t, srv, http.MethodPost, "/api/v1/admin/breakers/vector-engine/reset", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := testServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/query", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCancelUnknownJob(t *testing.T) {
	srv, _ := testServer(t)
	w := doJSON(t, srv, http.MethodDelete, fmt.Sprintf("/api/v1/sync/jobs/%s", "missing"), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
