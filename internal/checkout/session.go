// Package checkout builds checkout sessions: every item resolved, labelled
// and given a list of alternatives the shopper can pick from.
package checkout

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/spherical-ai/nwshop/internal/resolve"
	"github.com/spherical-ai/nwshop/internal/storage"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirming Status = "confirming"
	StatusSubmitting Status = "submitting"
	StatusDone       Status = "done"
	StatusError      Status = "error"
)

// Labels shown next to the selected product.
const (
	LabelPreference       = "Preference"
	LabelLowestPrice      = "Lowest price"
	LabelOnSpecial        = "On special"
	LabelPreviouslyBought = "Previously bought"
	LabelHistoryMatch     = "History match"
	LabelBestMatch        = "Best match"
	LabelLowConfidence    = "Low confidence"
)

// Item is one requested line.
type Item struct {
	Name string `json:"name"`
	Qty  int    `json:"qty,omitempty"`
}

// CandidateProduct is a selectable product for an item.
type CandidateProduct struct {
	storage.Product
	PreviouslyBought bool `json:"previouslyBought"`
}

// SessionItem is a resolved line of a session.
type SessionItem struct {
	Name              string             `json:"name"`
	Qty               int                `json:"qty"`
	AutoConfirmed     bool               `json:"autoConfirmed"`
	SelectedProductID *int64             `json:"selectedProductId"`
	StrategyLabel     string             `json:"strategyLabel,omitempty"`
	Confidence        float64            `json:"confidence"`
	Source            resolve.Source     `json:"source"`
	Candidates        []CandidateProduct `json:"candidates"`
}

// Session is a checkout in progress.
type Session struct {
	ID             string          `json:"id"`
	Items          []SessionItem   `json:"items"`
	Status         Status          `json:"status"`
	EstimatedTotal decimal.Decimal `json:"estimatedTotal"`
	Source         string          `json:"source,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

func (it *SessionItem) candidate(productID int64) (*CandidateProduct, bool) {
	for i := range it.Candidates {
		if it.Candidates[i].ID == productID {
			return &it.Candidates[i], true
		}
	}
	return nil, false
}

// recalculate sums price times quantity over the selected products.
func (s *Session) recalculate() {
	total := decimal.Zero
	for i := range s.Items {
		it := &s.Items[i]
		if it.SelectedProductID == nil {
			continue
		}
		c, ok := it.candidate(*it.SelectedProductID)
		if !ok || !c.Price.Valid {
			continue
		}
		total = total.Add(c.Price.Decimal.Mul(decimal.NewFromInt(int64(it.Qty))))
	}
	s.EstimatedTotal = total
}

// label decides whether a resolution is confirmed without asking.
func label(res *resolve.Result, autoConfirm float64) (string, bool) {
	if !res.Resolved {
		return "", false
	}
	switch res.Source {
	case resolve.SourcePreference:
		switch res.Strategy {
		case storage.StrategyLowestPrice:
			return LabelLowestPrice, false
		case storage.StrategyOnSpecial:
			return LabelOnSpecial, false
		default:
			return LabelPreference, true
		}
	case resolve.SourcePurchaseHistory:
		if res.Confidence >= autoConfirm {
			return LabelPreviouslyBought, true
		}
		return LabelHistoryMatch, false
	case resolve.SourceSearch:
		if res.Confidence >= autoConfirm {
			return LabelBestMatch, true
		}
	}
	return LabelLowConfidence, false
}
