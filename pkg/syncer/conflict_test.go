package syncer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/retrievo/pkg/types"
)

func rec(id, text string, at time.Time) types.Record {
	return types.Record{ID: id, Text: text, UpdatedAt: at}
}

func TestResolveNoTargetAlwaysWrites(t *testing.T) {
	src := rec("a", "source", time.Now())
	for _, mode := range []ConflictResolution{SourceWins, TargetWins, LatestWins, Merge, Manual} {
		out, act := resolve(mode, src, nil, true)
		assert.Equal(t, actionWrite, act, "mode %s", mode)
		assert.Equal(t, "source", out.Text)
	}
}

func TestResolveSourceWins(t *testing.T) {
	src := rec("a", "new", time.Now())
	tgt := rec("a", "old", time.Now().Add(time.Hour))

	out, act := resolve(SourceWins, src, &tgt, true)
	assert.Equal(t, actionWrite, act)
	assert.Equal(t, "new", out.Text)
}

func TestResolveTargetWins(t *testing.T) {
	src := rec("a", "new", time.Now())
	tgt := rec("a", "old", time.Now())

	_, act := resolve(TargetWins, src, &tgt, true)
	assert.Equal(t, actionSkip, act)
}

func TestResolveLatestWins(t *testing.T) {
	t1 := time.Now()
	t2 := t1.Add(time.Minute)

	// Source newer: overwrite target.
	out, act := resolve(LatestWins, rec("a", "newer", t2), ptr(rec("a", "older", t1)), true)
	require.Equal(t, actionWrite, act)
	assert.Equal(t, "newer", out.Text)

	// Target newer: keep target.
	_, act = resolve(LatestWins, rec("a", "older", t1), ptr(rec("a", "newer", t2)), true)
	assert.Equal(t, actionSkip, act)
}

func TestResolveManualParksOnDivergence(t *testing.T) {
	src := rec("a", "mine", time.Now())
	tgt := rec("a", "yours", time.Now())

	_, act := resolve(Manual, src, &tgt, true)
	assert.Equal(t, actionPark, act)

	// Identical versions are not a conflict.
	same := src
	_, act = resolve(Manual, src, &same, true)
	assert.Equal(t, actionSkip, act)
}

func TestMergeScalarPrecedence(t *testing.T) {
	src := types.Record{ID: "a", Text: "source text", Metadata: map[string]interface{}{"lang": "en"}}
	tgt := types.Record{ID: "a", Text: "target text", Metadata: map[string]interface{}{"lang": "de"}}

	out, act := resolve(Merge, src, &tgt, true)
	require.Equal(t, actionWrite, act)
	assert.Equal(t, "source text", out.Text)
	assert.Equal(t, "en", out.Metadata["lang"])

	out, _ = resolve(Merge, src, &tgt, false)
	assert.Equal(t, "target text", out.Text)
	assert.Equal(t, "de", out.Metadata["lang"])
}

func TestMergeUnionsSetValues(t *testing.T) {
	src := types.Record{ID: "a", Metadata: map[string]interface{}{
		"tags": []interface{}{"x", "y"},
	}}
	tgt := types.Record{ID: "a", Metadata: map[string]interface{}{
		"tags": []interface{}{"y", "z"},
	}}

	out, _ := resolve(Merge, src, &tgt, true)
	tags := out.Metadata["tags"].([]interface{})
	assert.ElementsMatch(t, []interface{}{"x", "y", "z"}, tags)
}

func TestMergeFillsGapsFromOtherSide(t *testing.T) {
	src := types.Record{ID: "a", Text: "content"}
	tgt := types.Record{ID: "a", Embedding: []float32{1, 2}}

	out, _ := resolve(Merge, src, &tgt, true)
	assert.Equal(t, "content", out.Text)
	assert.Equal(t, []float32{1, 2}, out.Embedding)
}

func TestMergeKeepsNewerTimestamp(t *testing.T) {
	t1 := time.Now()
	t2 := t1.Add(time.Hour)
	src := types.Record{ID: "a", UpdatedAt: t1}
	tgt := types.Record{ID: "a", UpdatedAt: t2}

	out, _ := resolve(Merge, src, &tgt, true)
	assert.Equal(t, t2, out.UpdatedAt)
}

func ptr(r types.Record) *types.Record { return &r }
