// Package strategy picks the retrieval path for each query from live engine
// health and the current configuration. Selection is stateless per call
// beyond reading the shared health records.
package strategy

import (
	"sort"

	"github.com/soundprediction/retrievo/pkg/config"
	"github.com/soundprediction/retrievo/pkg/types"
)

// weightFloor is the minimum weight a degraded engine keeps in hybrid mode.
const weightFloor = 0.1

// healthGap is the relative health ratio below which the weaker engine's
// hybrid weight starts shrinking. Engines within this band of each other
// keep the configured weights untouched.
const healthGap = 0.8

// HealthSource exposes composite engine health scores in [0,1].
type HealthSource interface {
	Score(role types.EngineRole) float64
}

// Params are the concrete search parameters attached to a decision.
type Params struct {
	VectorWeight        float64 `json:"vector_weight,omitempty"`
	KeywordWeight       float64 `json:"keyword_weight,omitempty"`
	RankConstant        int     `json:"rank_constant,omitempty"`
	TopK                int     `json:"top_k"`
	SimilarityThreshold float64 `json:"similarity_threshold,omitempty"`
	Fuzzy               bool    `json:"fuzzy,omitempty"`
}

// Decision is the outcome of strategy selection.
type Decision struct {
	Strategy      types.Strategy `json:"strategy"`
	Params        Params         `json:"params"`
	VectorHealth  float64        `json:"vector_health"`
	KeywordHealth float64        `json:"keyword_health"`
}

// Candidate is one ranked recommendation.
type Candidate struct {
	Strategy types.Strategy `json:"strategy"`
	Score    float64        `json:"score"`
	Viable   bool           `json:"viable"`
}

// Hints optionally constrain a selection.
type Hints struct {
	// ForceStrategy bypasses health-based selection when set.
	ForceStrategy types.Strategy
	// TopK overrides the configured result count when positive.
	TopK int
}

// Selector chooses retrieval strategies.
type Selector struct {
	cfg    func() *config.Snapshot
	health HealthSource
}

// NewSelector creates a selector reading configuration through cfg.
func NewSelector(cfg func() *config.Snapshot, health HealthSource) *Selector {
	return &Selector{cfg: cfg, health: health}
}

// SelectStrategy picks the retrieval strategy and parameters for one query.
func (s *Selector) SelectStrategy(query string, kbID string, hints *Hints) Decision {
	snap := s.cfg()
	vh := s.health.Score(types.EngineVector)
	kh := s.health.Score(types.EngineKeyword)

	d := Decision{VectorHealth: vh, KeywordHealth: kh}
	d.Params = s.baseParams(snap, hints)

	if hints != nil && hints.ForceStrategy != "" {
		d.Strategy = hints.ForceStrategy
		return d
	}

	min := snap.Strategy.MinHealthScore
	vectorOK := vh >= min
	keywordOK := kh >= min

	switch {
	case vectorOK && keywordOK:
		d.Strategy = types.StrategyHybrid
		d.Params.VectorWeight, d.Params.KeywordWeight = adjustWeights(
			snap.HybridSearch.VectorWeight, snap.HybridSearch.KeywordWeight, vh, kh)
	case vectorOK:
		d.Strategy = types.StrategyVectorOnly
	case keywordOK:
		d.Strategy = types.StrategyKeywordOnly
	default:
		d.Strategy = types.StrategyFallback
	}
	return d
}

func (s *Selector) baseParams(snap *config.Snapshot, hints *Hints) Params {
	p := Params{
		VectorWeight:        snap.HybridSearch.VectorWeight,
		KeywordWeight:       snap.HybridSearch.KeywordWeight,
		RankConstant:        snap.HybridSearch.RankConstant,
		TopK:                snap.VectorSearch.TopK,
		SimilarityThreshold: snap.VectorSearch.SimilarityThreshold,
		Fuzzy:               snap.KeywordSearch.FuzzyEnabled,
	}
	if snap.KeywordSearch.TopK > p.TopK {
		p.TopK = snap.KeywordSearch.TopK
	}
	if hints != nil && hints.TopK > 0 {
		p.TopK = hints.TopK
	}
	return p
}

// adjustWeights shrinks the weaker engine's weight proportionally to its
// relative health, floored at weightFloor, giving the remainder to the
// stronger engine. Engines within healthGap of each other keep the
// configured weights.
func adjustWeights(vw, kw, vh, kh float64) (float64, float64) {
	if vh == kh || vh == 0 && kh == 0 {
		return vw, kw
	}

	if vh < kh {
		ratio := vh / kh
		if ratio >= healthGap {
			return vw, kw
		}
		adjusted := vw * ratio
		if adjusted < weightFloor {
			adjusted = weightFloor
		}
		return adjusted, 1 - adjusted
	}

	ratio := kh / vh
	if ratio >= healthGap {
		return vw, kw
	}
	adjusted := kw * ratio
	if adjusted < weightFloor {
		adjusted = weightFloor
	}
	return 1 - adjusted, adjusted
}

// Recommend returns every strategy ranked by expected quality for the
// current health state. Ties break by strategy rank: HYBRID over
// VECTOR_ONLY over KEYWORD_ONLY over FALLBACK.
func (s *Selector) Recommend(query string) []Candidate {
	snap := s.cfg()
	vh := s.health.Score(types.EngineVector)
	kh := s.health.Score(types.EngineKeyword)
	min := snap.Strategy.MinHealthScore

	candidates := []Candidate{
		{
			Strategy: types.StrategyHybrid,
			Score:    (vh + kh) / 2,
			Viable:   vh >= min && kh >= min,
		},
		{
			Strategy: types.StrategyVectorOnly,
			Score:    vh,
			Viable:   vh >= min,
		},
		{
			Strategy: types.StrategyKeywordOnly,
			Score:    kh,
			Viable:   kh >= min,
		},
		{
			// The relational store always answers, just without ranking
			// quality.
			Strategy: types.StrategyFallback,
			Score:    0,
			Viable:   true,
		},
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Viable != candidates[j].Viable {
			return candidates[i].Viable
		}
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Strategy.Rank() > candidates[j].Strategy.Rank()
	})
	return candidates
}
