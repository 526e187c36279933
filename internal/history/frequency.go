package history

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/spherical-ai/nwshop/internal/observability"
	"github.com/spherical-ai/nwshop/internal/storage"
)

// DatedItemSource lists matched purchase lines with order dates.
type DatedItemSource interface {
	DatedItems(ctx context.Context) ([]storage.DatedItem, error)
}

// FrequencyStore persists the frequency summary.
type FrequencyStore interface {
	Replace(ctx context.Context, entries []storage.FrequencyEntry) error
	Top(ctx context.Context, n int) ([]storage.FrequencyEntry, error)
}

// FrequencyUpdater rebuilds purchase frequency statistics.
type FrequencyUpdater struct {
	items  DatedItemSource
	store  FrequencyStore
	logger *observability.Logger
}

// NewFrequencyUpdater creates a frequency updater.
func NewFrequencyUpdater(items DatedItemSource, store FrequencyStore, logger *observability.Logger) *FrequencyUpdater {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &FrequencyUpdater{items: items, store: store, logger: logger}
}

type frequencyGroup struct {
	name       string
	dates      map[time.Time]bool
	quantities []float64
}

// Update recomputes every entry and replaces the table. It returns the
// number of generic names written.
func (u *FrequencyUpdater) Update(ctx context.Context) (int, error) {
	items, err := u.items.DatedItems(ctx)
	if err != nil {
		return 0, err
	}

	var order []string
	groups := make(map[string]*frequencyGroup)
	for _, item := range items {
		key := strings.ToLower(item.GenericName)
		g, ok := groups[key]
		if !ok {
			g = &frequencyGroup{name: item.GenericName, dates: make(map[time.Time]bool)}
			groups[key] = g
			order = append(order, key)
		}
		y, m, d := item.OrderDate.Date()
		g.dates[time.Date(y, m, d, 0, 0, 0, 0, time.UTC)] = true

		qty := 1.0
		if item.Quantity.Valid && item.Quantity.Float64 != 0 {
			qty = item.Quantity.Float64
		}
		g.quantities = append(g.quantities, qty)
	}

	entries := make([]storage.FrequencyEntry, 0, len(order))
	for _, key := range order {
		entries = append(entries, summarize(groups[key]))
	}

	if err := u.store.Replace(ctx, entries); err != nil {
		return 0, err
	}

	u.logger.Info().Int("items", len(items)).Int("updated", len(entries)).Msg("purchase frequency updated")
	return len(entries), nil
}

// Top returns the n most frequently bought items.
func (u *FrequencyUpdater) Top(ctx context.Context, n int) ([]storage.FrequencyEntry, error) {
	return u.store.Top(ctx, n)
}

func summarize(g *frequencyGroup) storage.FrequencyEntry {
	dates := make([]time.Time, 0, len(g.dates))
	for d := range g.dates {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	entry := storage.FrequencyEntry{
		GenericName:     g.name,
		LastPurchased:   dates[len(dates)-1],
		PurchaseCount:   len(dates),
		TypicalQuantity: upperMedian(g.quantities),
	}

	if len(dates) >= 2 {
		var total float64
		for i := 1; i < len(dates); i++ {
			total += dates[i].Sub(dates[i-1]).Hours() / 24
		}
		entry.AvgDaysBetween.Float64 = total / float64(len(dates)-1)
		entry.AvgDaysBetween.Valid = true
	}
	return entry
}

// upperMedian returns the element at len/2 of the sorted values.
func upperMedian(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return sorted[len(sorted)/2]
}
