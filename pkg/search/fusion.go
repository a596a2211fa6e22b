package search

import (
	"sort"

	"github.com/soundprediction/retrievo/pkg/types"
)

// DefaultRankConstant is the RRF smoothing constant used when none is
// configured.
const DefaultRankConstant = 60

// WeightedRRF merges ranked lists from multiple engines with weighted
// reciprocal rank fusion: each hit contributes weight/(rank+k) per list it
// appears in. Results come back sorted by fused score, capped at topK when
// positive.
func WeightedRRF(lists map[types.EngineRole][]types.ScoredRecord, weights map[types.EngineRole]float64, rankConstant, topK int) []types.ScoredRecord {
	if rankConstant <= 0 {
		rankConstant = DefaultRankConstant
	}

	fused := make(map[string]*types.ScoredRecord)
	scores := make(map[string]float64)

	// Deterministic engine order so ties resolve stably.
	for _, role := range []types.EngineRole{types.EngineVector, types.EngineKeyword, types.EngineRelational} {
		list, ok := lists[role]
		if !ok {
			continue
		}
		weight := weights[role]
		if weight == 0 {
			weight = 1
		}
		for rank, hit := range list {
			scores[hit.ID] += weight / float64(rank+1+rankConstant)
			if _, seen := fused[hit.ID]; !seen {
				h := hit
				fused[hit.ID] = &h
			}
		}
	}

	out := make([]types.ScoredRecord, 0, len(fused))
	for id, hit := range fused {
		h := *hit
		h.Score = scores[id]
		out = append(out, h)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})

	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}
