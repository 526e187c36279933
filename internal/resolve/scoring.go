package resolve

import (
	"math"
	"sort"
	"strings"

	"github.com/spherical-ai/nwshop/internal/config"
	"github.com/spherical-ai/nwshop/internal/retrieval"
	"github.com/spherical-ai/nwshop/internal/textmatch"
)

// ScoringConfig holds the candidate scoring weights.
type ScoringConfig struct {
	ExactGenericName   float64
	PartialGenericName float64
	MatchBoth          float64
	MatchLexical       float64
	MatchSemantic      float64
	OutOfStockPenalty  float64
	OnSpecialBonus     float64
	DistanceBonusMax   float64
	DistanceBonusSlope float64
	HistoryBoostBase   float64
	HistoryBoostPerBuy float64
	HistoryBoostMax    float64
	HistoryMatchBase   float64
	HistoryMatchPerBuy float64
	HistoryMatchMax    float64
}

// DefaultScoring returns the stock weights.
func DefaultScoring() ScoringConfig {
	return ScoringFromWeights(config.DefaultWeights())
}

// ScoringFromWeights converts the config section.
func ScoringFromWeights(w config.WeightsConfig) ScoringConfig {
	return ScoringConfig(w)
}

// HistoryConfidence is the confidence of a direct purchase-history match.
func (s ScoringConfig) HistoryConfidence(buyCount int) float64 {
	return math.Min(s.HistoryMatchMax, s.HistoryMatchBase+float64(buyCount)*s.HistoryMatchPerBuy)
}

// Score rates one candidate for term. counts maps product id to buy count.
func (s ScoringConfig) Score(c retrieval.Candidate, term string, counts map[int64]int) float64 {
	var score float64

	query := strings.ToLower(strings.TrimSpace(term))
	generic := strings.ToLower(strings.TrimSpace(c.GenericName))
	switch {
	case generic != "" && generic == query:
		score += s.ExactGenericName
	case generic != "" && strings.Contains(generic, query) && textmatch.IsRelevant(c.Name, term):
		score += s.PartialGenericName
	}

	switch c.MatchType {
	case retrieval.MatchBoth:
		score += s.MatchBoth
	case retrieval.MatchFTS:
		score += s.MatchLexical
	case retrieval.MatchVEC:
		score += s.MatchSemantic
	}

	if !c.InStock {
		score -= s.OutOfStockPenalty
	}
	if c.OnSpecial {
		score += s.OnSpecialBonus
	}
	if c.Distance != nil {
		score += math.Max(0, s.DistanceBonusMax-*c.Distance*s.DistanceBonusSlope)
	}
	if n := counts[c.ID]; n > 0 && textmatch.IsRelevant(c.Name, term) {
		score += math.Min(s.HistoryBoostMax, s.HistoryBoostBase+float64(n)*s.HistoryBoostPerBuy)
	}

	return math.Min(1, math.Max(0, score))
}

// Rank scores and sorts candidates, best first. Equal scores keep merge
// order.
func (s ScoringConfig) Rank(candidates []retrieval.Candidate, term string, counts map[int64]int) []ScoredCandidate {
	scored := make([]ScoredCandidate, len(candidates))
	for i, c := range candidates {
		scored[i] = ScoredCandidate{Candidate: c, Score: s.Score(c, term, counts)}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	return scored
}
