package preferences

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/spherical-ai/nwshop/internal/storage"
	"github.com/spherical-ai/nwshop/internal/textmatch"
)

// Suggestion thresholds.
const (
	minGroupBuys   = 3
	minShare       = 0.7
	maxNameWords   = 3
	strongRunnerUp = 3
	maxSuggestConf = 0.85
)

// StatsSource provides per-product buy counts grouped by generic name and
// the names that already have a default preference.
type StatsSource interface {
	GroupStats(ctx context.Context) ([]storage.GroupStat, error)
}

// ExistingNames lists generic names with a default-context preference.
type ExistingNames interface {
	DefaultContextNames(ctx context.Context) (map[string]bool, error)
}

// Suggestion is a preference the purchase history supports.
type Suggestion struct {
	GenericName string              `json:"genericName"`
	ProductID   int64               `json:"productId"`
	ProductName string              `json:"productName"`
	Brand       string              `json:"brand,omitempty"`
	Price       decimal.NullDecimal `json:"price"`
	BuyCount    int                 `json:"buyCount"`
	TotalBuys   int                 `json:"totalBuys"`
	Share       int                 `json:"share"` // percent
	Confidence  float64             `json:"confidence"`
}

// Suggester derives preferences from purchase history.
type Suggester struct {
	stats    StatsSource
	existing ExistingNames
	service  *Service
}

// NewSuggester creates a suggester that writes through service.
func NewSuggester(stats StatsSource, existing ExistingNames, service *Service) *Suggester {
	return &Suggester{stats: stats, existing: existing, service: service}
}

type statGroup struct {
	name     string
	products []storage.GroupStat
	total    int
}

// Suggest returns suggestions sorted by share, strongest first. Nothing is
// written.
func (s *Suggester) Suggest(ctx context.Context) ([]Suggestion, error) {
	stats, err := s.stats.GroupStats(ctx)
	if err != nil {
		return nil, err
	}
	existing, err := s.existing.DefaultContextNames(ctx)
	if err != nil {
		return nil, err
	}

	var order []string
	groups := make(map[string]*statGroup)
	for _, st := range stats {
		key := strings.ToLower(st.GenericName)
		g, ok := groups[key]
		if !ok {
			g = &statGroup{name: st.GenericName}
			groups[key] = g
			order = append(order, key)
		}
		g.products = append(g.products, st)
		g.total += st.BuyCount
	}

	suggestions := make([]Suggestion, 0)
	for _, key := range order {
		g := groups[key]
		if existing[key] {
			continue
		}
		if sg, ok := evaluate(g); ok {
			suggestions = append(suggestions, sg)
		}
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Share > suggestions[j].Share
	})
	return suggestions, nil
}

func evaluate(g *statGroup) (Suggestion, bool) {
	if strings.ContainsAny(g.name, "&,") {
		return Suggestion{}, false
	}
	if len(strings.Fields(g.name)) > maxNameWords {
		return Suggestion{}, false
	}
	if g.total < minGroupBuys {
		return Suggestion{}, false
	}

	sort.SliceStable(g.products, func(i, j int) bool {
		return g.products[i].BuyCount > g.products[j].BuyCount
	})
	top := g.products[0]

	share := float64(top.BuyCount) / float64(g.total)
	if share < minShare {
		return Suggestion{}, false
	}
	if !textmatch.OverlapsCategory(top.ProductName, g.name) {
		return Suggestion{}, false
	}
	if len(g.products) > 1 && g.products[1].BuyCount >= strongRunnerUp {
		return Suggestion{}, false
	}

	confidence := math.Min(maxSuggestConf, 0.5+share*0.3+math.Min(float64(top.BuyCount)/10, 0.2))

	return Suggestion{
		GenericName: g.name,
		ProductID:   top.ProductID,
		ProductName: top.ProductName,
		Brand:       top.Brand,
		Price:       top.Price,
		BuyCount:    top.BuyCount,
		TotalBuys:   g.total,
		Share:       int(math.Round(share * 100)),
		Confidence:  confidence,
	}, true
}

// Apply writes a suggestion as a history-sourced preference.
func (s *Suggester) Apply(ctx context.Context, sg Suggestion) (*storage.Preference, error) {
	confidence := sg.Confidence
	return s.service.Set(ctx, SetParams{
		GenericName: sg.GenericName,
		ProductID:   sg.ProductID,
		Confidence:  &confidence,
		Source:      storage.SourceHistory,
		Strategy:    storage.StrategyFixed,
	})
}
