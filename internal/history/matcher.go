package history

import (
	"context"
	"fmt"
	"strings"

	"github.com/spherical-ai/nwshop/internal/observability"
	"github.com/spherical-ai/nwshop/internal/retrieval"
	"github.com/spherical-ai/nwshop/internal/storage"
)

// MatchStatus is the outcome of matching one purchase item.
type MatchStatus string

const (
	StatusMatched       MatchStatus = "matched"
	StatusLowConfidence MatchStatus = "low_confidence"
	StatusNoMatch       MatchStatus = "no_match"
)

// Matching confidence levels.
const (
	ConfidenceExactName = 0.95
	ConfidenceSubstring = 0.8
	ConfidenceBoth      = 0.7
	ConfidenceFallback  = 0.5

	// MatchThreshold is the confidence below which a match needs review.
	MatchThreshold = 0.7
)

// ItemStore is the write side of purchase item matching.
type ItemStore interface {
	UnmatchedItems(ctx context.Context, purchaseID int64) ([]storage.PurchaseItem, error)
	SetItemMatch(ctx context.Context, itemID, productID int64, confidence float64) error
}

// LexicalSearcher finds products by full-text match.
type LexicalSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]retrieval.LexicalHit, error)
}

// SemanticSearcher finds products by embedding similarity.
type SemanticSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]retrieval.SemanticHit, error)
}

// CandidateRef is a short product reference shown for review.
type CandidateRef struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Brand string `json:"brand,omitempty"`
}

// ItemMatch is the result for one purchase item.
type ItemMatch struct {
	Item       string         `json:"item"`
	Status     MatchStatus    `json:"status"`
	MatchedTo  string         `json:"matchedTo,omitempty"`
	ProductID  int64          `json:"productId,omitempty"`
	Confidence float64        `json:"confidence,omitempty"`
	Candidates []CandidateRef `json:"candidates,omitempty"`
}

// MatchReport summarises one purchase.
type MatchReport struct {
	Matched int         `json:"matched"`
	Flagged int         `json:"flagged"`
	Total   int         `json:"total"`
	Results []ItemMatch `json:"results"`
}

// Matcher links raw purchase lines to catalog products.
type Matcher struct {
	items    ItemStore
	lexical  LexicalSearcher
	semantic SemanticSearcher
	logger   *observability.Logger
}

// NewMatcher creates a matcher. semantic may be nil.
func NewMatcher(items ItemStore, lexical LexicalSearcher, semantic SemanticSearcher, logger *observability.Logger) *Matcher {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Matcher{items: items, lexical: lexical, semantic: semantic, logger: logger}
}

// MatchPurchase matches every unmatched item of a purchase. progress, when
// set, is called after each item.
func (m *Matcher) MatchPurchase(ctx context.Context, purchaseID int64, progress func(done, total int)) (*MatchReport, error) {
	items, err := m.items.UnmatchedItems(ctx, purchaseID)
	if err != nil {
		return nil, err
	}

	report := &MatchReport{Total: len(items), Results: make([]ItemMatch, 0, len(items))}
	logger := m.logger.WithOperation("match_purchase")

	for i, item := range items {
		result, err := m.matchItem(ctx, item)
		if err != nil {
			return nil, err
		}
		if result.Status == StatusMatched {
			report.Matched++
		} else {
			report.Flagged++
		}
		report.Results = append(report.Results, result)

		if progress != nil {
			progress(i+1, len(items))
		}
	}

	logger.Info().
		Int64("purchase_id", purchaseID).
		Int("matched", report.Matched).
		Int("flagged", report.Flagged).
		Int("total", report.Total).
		Msg("purchase items matched")

	return report, nil
}

func (m *Matcher) matchItem(ctx context.Context, item storage.PurchaseItem) (ItemMatch, error) {
	lexical, err := m.lexical.Search(ctx, item.RawName, 5)
	if err != nil {
		return ItemMatch{}, err
	}

	var semantic []retrieval.SemanticHit
	if m.semantic != nil {
		semantic, err = m.semantic.Search(ctx, item.RawName, 5)
		if err != nil {
			m.logger.Debug().Str("item", item.RawName).Err(err).Msg("semantic search unavailable")
			semantic = nil
		}
	}

	merged := retrieval.Merge(lexical, semantic)
	if len(merged) == 0 {
		return ItemMatch{Item: item.RawName, Status: StatusNoMatch}, nil
	}

	best := merged[0]
	confidence := matchConfidence(item.RawName, best)
	if err := m.items.SetItemMatch(ctx, item.ID, best.ID, confidence); err != nil {
		return ItemMatch{}, fmt.Errorf("update purchase item %d: %w", item.ID, err)
	}

	result := ItemMatch{
		Item:       item.RawName,
		Status:     StatusMatched,
		MatchedTo:  best.Name,
		ProductID:  best.ID,
		Confidence: confidence,
	}
	if confidence < MatchThreshold {
		result.Status = StatusLowConfidence
		limit := len(merged)
		if limit > 3 {
			limit = 3
		}
		for _, c := range merged[:limit] {
			result.Candidates = append(result.Candidates, CandidateRef{ID: c.ID, Name: c.Name, Brand: c.Brand})
		}
	}
	return result, nil
}

func matchConfidence(rawName string, best retrieval.Candidate) float64 {
	raw := strings.ToLower(rawName)
	name := strings.ToLower(best.Name)

	switch {
	case name == raw:
		return ConfidenceExactName
	case strings.Contains(name, raw) || strings.Contains(raw, name):
		return ConfidenceSubstring
	case best.MatchType == retrieval.MatchBoth:
		return ConfidenceBoth
	default:
		return ConfidenceFallback
	}
}
