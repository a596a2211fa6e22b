package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/retrievo/pkg/types"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager("", nil)
	require.NoError(t, err)
	return m
}

func TestDefaultsAreValid(t *testing.T) {
	m := newTestManager(t)
	snap := m.Current()

	assert.Equal(t, int64(1), snap.Version)
	assert.Equal(t, 0.7, snap.HybridSearch.VectorWeight)
	assert.Equal(t, 0.3, snap.HybridSearch.KeywordWeight)
	assert.Equal(t, 5, snap.Sync.WorkerCount)
	assert.Equal(t, "lru", snap.Cache.Strategy)
	assert.Equal(t, 30, snap.Store.RetentionDays)
}

func TestLoadFromFileWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "retrievo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"cache:\n  strategy: lfu\n  max_size: 1024\nperformance:\n  max_concurrent_requests: 4\n"), 0o644))

	t.Setenv("RETRIEVO_CACHE_TTL_SECONDS", "42")

	m, err := NewManager(path, nil)
	require.NoError(t, err)

	snap := m.Current()
	assert.Equal(t, "lfu", snap.Cache.Strategy)
	assert.Equal(t, int64(1024), snap.Cache.MaxSize)
	assert.Equal(t, 42, snap.Cache.TTLSeconds)
	assert.Equal(t, 4, snap.Performance.MaxConcurrentRequests)
}

func TestUpdatePublishesNewVersion(t *testing.T) {
	m := newTestManager(t)

	v, err := m.Update(map[string]interface{}{
		"hybrid_search.vector_weight":  0.6,
		"hybrid_search.keyword_weight": 0.4,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	snap := m.Current()
	assert.Equal(t, 0.6, snap.HybridSearch.VectorWeight)
	assert.Equal(t, 0.4, snap.HybridSearch.KeywordWeight)
}

func TestInvalidUpdateRejectedAtomically(t *testing.T) {
	m := newTestManager(t)
	before := m.Current()

	_, err := m.Update(map[string]interface{}{
		"cache.strategy": "random",
		"cache.max_size": -5,
	})
	require.Error(t, err)

	var cve *types.ConfigValidationError
	require.True(t, errors.As(err, &cve))
	assert.Len(t, cve.Violations, 2, "all violations reported, not just the first")

	after := m.Current()
	assert.Same(t, before, after, "previous snapshot stays live")
	assert.Equal(t, before.Version, after.Version)

	// A later valid update must not observe the rejected values.
	v, err := m.Update(map[string]interface{}{"cache.ttl_seconds": 10})
	require.NoError(t, err)
	assert.Equal(t, before.Version+1, v)
	assert.Equal(t, "lru", m.Current().Cache.Strategy)
}

func TestVersionsStrictlyIncrease(t *testing.T) {
	m := newTestManager(t)
	var versions []int64
	versions = append(versions, m.Current().Version)

	for i := 0; i < 5; i++ {
		v, err := m.Update(map[string]interface{}{"cache.ttl_seconds": 100 + i})
		require.NoError(t, err)
		versions = append(versions, v)
	}
	for i := 1; i < len(versions); i++ {
		assert.Greater(t, versions[i], versions[i-1])
	}
}

func TestOnUpdateCallbacksFireInOrder(t *testing.T) {
	m := newTestManager(t)

	var order []string
	m.OnUpdate(func(s *Snapshot) { order = append(order, "first") })
	m.OnUpdate(func(s *Snapshot) { panic("listener blew up") })
	m.OnUpdate(func(s *Snapshot) { order = append(order, "third") })

	_, err := m.Update(map[string]interface{}{"cache.ttl_seconds": 7})
	require.NoError(t, err)

	// The panicking listener is logged and skipped; the swap sticks and the
	// remaining listeners still run.
	assert.Equal(t, []string{"first", "third"}, order)
	assert.Equal(t, 7, m.Current().Cache.TTLSeconds)
}

func TestUnregisterStopsCallbacks(t *testing.T) {
	m := newTestManager(t)

	calls := 0
	h := m.OnUpdate(func(*Snapshot) { calls++ })

	_, err := m.Update(map[string]interface{}{"cache.ttl_seconds": 1})
	require.NoError(t, err)
	m.Unregister(h)
	_, err = m.Update(map[string]interface{}{"cache.ttl_seconds": 2})
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
}

func TestGetAndGetSection(t *testing.T) {
	m := newTestManager(t)

	got := m.Get("cache.strategy", "sync.worker_count", "nope.nothing")
	assert.Equal(t, "lru", got["cache.strategy"])
	assert.Nil(t, got["nope.nothing"])

	sec := m.GetSection("hybrid_search")
	require.NotNil(t, sec)
	assert.Contains(t, sec, "vector_weight")

	assert.Nil(t, m.GetSection("missing"))
}
