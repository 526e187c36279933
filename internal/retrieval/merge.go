package retrieval

import (
	"sort"

	"github.com/spherical-ai/nwshop/internal/storage"
)

// MatchType records which index found a candidate.
type MatchType string

const (
	MatchFTS  MatchType = "FTS"
	MatchVEC  MatchType = "VEC"
	MatchBoth MatchType = "BOTH"
)

// Candidate is a merged search result.
type Candidate struct {
	storage.Product
	MatchType MatchType `json:"matchType"`
	Rank      *float64  `json:"ftsRank,omitempty"`
	Distance  *float64  `json:"vecDistance,omitempty"`
}

// Merge combines lexical and semantic hits by product id. Products found by
// both come first; then pairs with distances compare by distance, pairs
// with ranks by rank, and everything else keeps insertion order.
func Merge(lexical []LexicalHit, semantic []SemanticHit) []Candidate {
	merged := make([]Candidate, 0, len(lexical)+len(semantic))
	index := make(map[int64]int, len(lexical)+len(semantic))

	for _, h := range lexical {
		if _, ok := index[h.ID]; ok {
			continue
		}
		rank := h.Rank
		index[h.ID] = len(merged)
		merged = append(merged, Candidate{Product: h.Product, MatchType: MatchFTS, Rank: &rank})
	}

	for _, h := range semantic {
		distance := h.Distance
		if i, ok := index[h.ID]; ok {
			if merged[i].MatchType == MatchFTS {
				merged[i].MatchType = MatchBoth
				merged[i].Distance = &distance
			}
			continue
		}
		index[h.ID] = len(merged)
		merged = append(merged, Candidate{Product: h.Product, MatchType: MatchVEC, Distance: &distance})
	}

	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		aBoth, bBoth := a.MatchType == MatchBoth, b.MatchType == MatchBoth
		if aBoth != bBoth {
			return aBoth
		}
		if a.Distance != nil && b.Distance != nil {
			return *a.Distance < *b.Distance
		}
		if a.Rank != nil && b.Rank != nil {
			return *a.Rank < *b.Rank
		}
		return false
	})

	return merged
}
