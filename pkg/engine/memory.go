package engine

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/soundprediction/retrievo/pkg/types"
)

// Memory is an in-process Client keyed by record id. Scoring depends on the
// configured role: the vector role ranks by cosine similarity, the keyword
// role by token overlap, and the relational role by recency after metadata
// filtering.
type Memory struct {
	role types.EngineRole

	mu      sync.RWMutex
	records map[string]types.Record

	// NextErr, when set, is returned once by the next call. FailWith, when
	// set, fails every call until cleared. Used to exercise the resilience
	// layer in tests.
	failMu   sync.Mutex
	nextErr  error
	failWith error

	// PingLatency is reported by Ping. Zero means sub-millisecond.
	PingLatency time.Duration
}

// NewMemory creates an empty in-memory engine for the given role.
func NewMemory(role types.EngineRole) *Memory {
	return &Memory{
		role:    role,
		records: make(map[string]types.Record),
	}
}

// Role implements Client.
func (m *Memory) Role() types.EngineRole {
	return m.role
}

// FailNext makes the next call return err.
func (m *Memory) FailNext(err error) {
	m.failMu.Lock()
	defer m.failMu.Unlock()
	m.nextErr = err
}

// FailAll makes every call return err until cleared with FailAll(nil).
func (m *Memory) FailAll(err error) {
	m.failMu.Lock()
	defer m.failMu.Unlock()
	m.failWith = err
}

func (m *Memory) injected() error {
	m.failMu.Lock()
	defer m.failMu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	if m.nextErr != nil {
		err := m.nextErr
		m.nextErr = nil
		return err
	}
	return nil
}

// Search implements Client.
func (m *Memory) Search(ctx context.Context, params types.SearchParams) ([]types.ScoredRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.injected(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []types.ScoredRecord
	for _, rec := range m.records {
		if !matchesScope(rec, params) {
			continue
		}
		score, ok := m.score(rec, params)
		if !ok {
			continue
		}
		hits = append(hits, types.ScoredRecord{
			ID:           rec.ID,
			Score:        score,
			SourceEngine: m.role,
			Snippet:      snippet(rec.Text),
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})

	topK := params.TopK
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (m *Memory) score(rec types.Record, params types.SearchParams) (float64, bool) {
	switch m.role {
	case types.EngineVector:
		if len(params.QueryVector) == 0 || len(rec.Embedding) == 0 {
			return 0, false
		}
		sim := CosineSimilarity(params.QueryVector, rec.Embedding)
		if params.SimilarityThreshold > 0 && sim < params.SimilarityThreshold {
			return 0, false
		}
		return sim, true
	case types.EngineKeyword:
		score := tokenOverlap(params.Query, rec.Text, params.Fuzzy)
		if score <= 0 {
			return 0, false
		}
		return score, true
	default:
		// Relational fallback: any record surviving the scope filter
		// matches, ranked by recency.
		return 1.0 / (1.0 + time.Since(rec.UpdatedAt).Hours()), true
	}
}

// Upsert implements Client. Re-upserting an identical record is a no-op,
// which keeps retries and repeated syncs idempotent.
func (m *Memory) Upsert(ctx context.Context, records []types.Record) (types.UpsertResult, error) {
	if err := ctx.Err(); err != nil {
		return types.UpsertResult{}, err
	}
	if err := m.injected(); err != nil {
		return types.UpsertResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range records {
		m.records[rec.ID] = rec
	}
	return types.UpsertResult{Upserted: len(records)}, nil
}

// Delete implements Client.
func (m *Memory) Delete(ctx context.Context, ids []string) (types.DeleteResult, error) {
	if err := ctx.Err(); err != nil {
		return types.DeleteResult{}, err
	}
	if err := m.injected(); err != nil {
		return types.DeleteResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := 0
	for _, id := range ids {
		if _, ok := m.records[id]; ok {
			delete(m.records, id)
			deleted++
		}
	}
	return types.DeleteResult{Deleted: deleted}, nil
}

// Ping implements Client.
func (m *Memory) Ping(ctx context.Context) (types.PingResult, error) {
	if err := ctx.Err(); err != nil {
		return types.PingResult{}, err
	}
	if err := m.injected(); err != nil {
		return types.PingResult{OK: false}, err
	}
	return types.PingResult{LatencyMs: m.PingLatency.Milliseconds(), OK: true}, nil
}

// Get returns the stored record for id, if present.
func (m *Memory) Get(id string) (types.Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	return rec, ok
}

// Len reports the number of stored records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// UpdatedSince returns records mutated at or after the watermark.
func (m *Memory) UpdatedSince(since time.Time) []types.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.Record
	for _, rec := range m.records {
		if !rec.UpdatedAt.Before(since) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out
}

func matchesScope(rec types.Record, params types.SearchParams) bool {
	if len(params.KnowledgeBaseIDs) > 0 {
		kb, _ := rec.Metadata["kb_id"].(string)
		found := false
		for _, want := range params.KnowledgeBaseIDs {
			if kb == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for key, want := range params.Filters {
		if rec.Metadata[key] != want {
			return false
		}
	}
	return true
}

func tokenOverlap(query, text string, fuzzy bool) float64 {
	qTokens := strings.Fields(strings.ToLower(query))
	if len(qTokens) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	matched := 0
	for _, tok := range qTokens {
		if strings.Contains(lower, tok) {
			matched++
			continue
		}
		if fuzzy && len(tok) > 4 && strings.Contains(lower, tok[:len(tok)-1]) {
			matched++
		}
	}
	return float64(matched) / float64(len(qTokens))
}

// CosineSimilarity computes the cosine similarity of two vectors.
// Mismatched lengths or zero vectors yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func snippet(text string) string {
	const max = 160
	if len(text) <= max {
		return text
	}
	return text[:max]
}
