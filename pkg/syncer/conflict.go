package syncer

import (
	"reflect"

	"github.com/soundprediction/retrievo/pkg/types"
)

// action is what resolution decided to do with one item.
type action int

const (
	actionWrite action = iota // write the resolved record to the target
	actionSkip                // target version stands, item counts as success
	actionPark                // park for manual resolution
)

// resolve applies the job's conflict policy to one item. target is nil when
// the target store has no version of the record, which is never a conflict.
// preferSource controls field-level precedence for MERGE.
func resolve(mode ConflictResolution, source types.Record, target *types.Record, preferSource bool) (types.Record, action) {
	if target == nil {
		return source, actionWrite
	}

	switch mode {
	case TargetWins:
		return *target, actionSkip
	case LatestWins:
		if target.UpdatedAt.After(source.UpdatedAt) {
			return *target, actionSkip
		}
		return source, actionWrite
	case Merge:
		return mergeRecords(source, *target, preferSource), actionWrite
	case Manual:
		if recordsEqual(source, *target) {
			return source, actionSkip
		}
		return source, actionPark
	default: // SourceWins
		return source, actionWrite
	}
}

// mergeRecords unions the two versions field by field. Scalars take the
// preferred side when both are set; set-valued metadata entries are
// unioned. The merged record carries the newer timestamp.
func mergeRecords(source, target types.Record, preferSource bool) types.Record {
	preferred, other := source, target
	if !preferSource {
		preferred, other = target, source
	}

	merged := types.Record{ID: source.ID}

	merged.Text = preferred.Text
	if merged.Text == "" {
		merged.Text = other.Text
	}
	merged.Embedding = preferred.Embedding
	if len(merged.Embedding) == 0 {
		merged.Embedding = other.Embedding
	}

	merged.Metadata = make(map[string]interface{}, len(preferred.Metadata)+len(other.Metadata))
	for k, v := range other.Metadata {
		merged.Metadata[k] = v
	}
	for k, v := range preferred.Metadata {
		existing, ok := merged.Metadata[k]
		if !ok {
			merged.Metadata[k] = v
			continue
		}
		if union, ok := unionSets(v, existing); ok {
			merged.Metadata[k] = union
			continue
		}
		merged.Metadata[k] = v
	}

	merged.UpdatedAt = source.UpdatedAt
	if target.UpdatedAt.After(merged.UpdatedAt) {
		merged.UpdatedAt = target.UpdatedAt
	}
	return merged
}

// unionSets merges two slice-valued metadata entries, deduplicating while
// preserving the first slice's order.
func unionSets(a, b interface{}) (interface{}, bool) {
	as, aok := a.([]interface{})
	bs, bok := b.([]interface{})
	if !aok || !bok {
		return nil, false
	}

	seen := make(map[interface{}]bool, len(as)+len(bs))
	out := make([]interface{}, 0, len(as)+len(bs))
	for _, lst := range [][]interface{}{as, bs} {
		for _, v := range lst {
			if v == nil || !reflect.TypeOf(v).Comparable() {
				out = append(out, v)
				continue
			}
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	return out, true
}

func recordsEqual(a, b types.Record) bool {
	return a.ID == b.ID &&
		a.Text == b.Text &&
		reflect.DeepEqual(a.Embedding, b.Embedding) &&
		reflect.DeepEqual(a.Metadata, b.Metadata)
}
