package history

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/nwshop/internal/retrieval"
	"github.com/spherical-ai/nwshop/internal/storage"
)

type fakePurchases struct {
	counts     map[int64]int
	countCalls int
	countErr   error
	lastWords  []string
	matches    []storage.PurchasedProduct
}

func (f *fakePurchases) CountsByProduct(ctx context.Context) (map[int64]int, error) {
	f.countCalls++
	if f.countErr != nil {
		return nil, f.countErr
	}
	return f.counts, nil
}

func (f *fakePurchases) QueryByNameWords(ctx context.Context, words []string, limit int) ([]storage.PurchasedProduct, error) {
	f.lastWords = words
	if limit > 0 && len(f.matches) > limit {
		return f.matches[:limit], nil
	}
	return f.matches, nil
}

func TestCountCache_MemoizesUntilInvalidated(t *testing.T) {
	store := &fakePurchases{counts: map[int64]int{1: 5}}
	cache := NewCountCache(store)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		counts, err := cache.Counts(ctx)
		require.NoError(t, err)
		assert.Equal(t, 5, counts[1])
	}
	assert.Equal(t, 1, store.countCalls)

	cache.Invalidate()
	_, err := cache.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, store.countCalls)
}

func TestCountCache_ErrorsAreNotCached(t *testing.T) {
	store := &fakePurchases{countErr: errors.New("db locked")}
	cache := NewCountCache(store)

	_, err := cache.Counts(context.Background())
	assert.Error(t, err)

	store.countErr = nil
	counts, err := cache.Counts(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, counts)
	assert.Equal(t, 2, store.countCalls)
}

func TestIndex_FindBestPurchasedMatch(t *testing.T) {
	store := &fakePurchases{matches: []storage.PurchasedProduct{
		{Product: storage.Product{ID: 7, Name: "Kara Coconut Milk"}, BuyCount: 5},
		{Product: storage.Product{ID: 8, Name: "Pams Coconut Milk"}, BuyCount: 2},
	}}
	idx := NewIndex(store)
	ctx := context.Background()

	best, err := idx.FindBestPurchasedMatch(ctx, "Coconut Milk")
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, int64(7), best.ID)
	assert.Equal(t, []string{"coconut", "milk"}, store.lastWords)

	// Short words only: nothing to match on.
	store.lastWords = nil
	best, err = idx.FindBestPurchasedMatch(ctx, "of an")
	require.NoError(t, err)
	assert.Nil(t, best)
	assert.Nil(t, store.lastWords)

	store.matches = nil
	best, err = idx.FindBestPurchasedMatch(ctx, "saffron")
	require.NoError(t, err)
	assert.Nil(t, best)
}

type fakeItems struct {
	items   []storage.PurchaseItem
	updated map[int64]int64
	conf    map[int64]float64
}

func (f *fakeItems) UnmatchedItems(ctx context.Context, purchaseID int64) ([]storage.PurchaseItem, error) {
	return f.items, nil
}

func (f *fakeItems) SetItemMatch(ctx context.Context, itemID, productID int64, confidence float64) error {
	if f.updated == nil {
		f.updated = map[int64]int64{}
		f.conf = map[int64]float64{}
	}
	f.updated[itemID] = productID
	f.conf[itemID] = confidence
	return nil
}

type fakeLexical map[string][]retrieval.LexicalHit

func (f fakeLexical) Search(ctx context.Context, query string, limit int) ([]retrieval.LexicalHit, error) {
	return f[query], nil
}

type fakeSemantic struct {
	hits map[string][]retrieval.SemanticHit
	err  error
}

func (f *fakeSemantic) Search(ctx context.Context, query string, limit int) ([]retrieval.SemanticHit, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.hits[query], nil
}

func p(id int64, name string) storage.Product {
	return storage.Product{ID: id, Name: name, Brand: "Brand", InStock: true}
}

func TestMatcher_MatchPurchase(t *testing.T) {
	items := &fakeItems{items: []storage.PurchaseItem{
		{ID: 1, RawName: "Anchor Blue Milk"},
		{ID: 2, RawName: "Blue Milk"},
		{ID: 3, RawName: "Kara CM 400"},
		{ID: 4, RawName: "Mystery 5"},
		{ID: 5, RawName: "Fancy Thing"},
	}}
	lexical := fakeLexical{
		"Anchor Blue Milk": {{Product: p(10, "anchor blue milk"), Rank: -1}},
		"Blue Milk":        {{Product: p(10, "Anchor Blue Milk 2L"), Rank: -1}},
		"Kara CM 400":      {{Product: p(11, "Kara Coconut Cream"), Rank: -1}},
		"Fancy Thing":      {{Product: p(12, "Fancy Cheese"), Rank: -1}, {Product: p(13, "Fancy Crackers"), Rank: -2}},
	}
	semantic := &fakeSemantic{hits: map[string][]retrieval.SemanticHit{
		"Kara CM 400": {{Product: p(11, "Kara Coconut Cream"), Distance: 0.2}},
	}}

	m := NewMatcher(items, lexical, semantic, nil)

	var progress []int
	report, err := m.MatchPurchase(context.Background(), 42, func(done, total int) {
		assert.Equal(t, 5, total)
		progress = append(progress, done)
	})
	require.NoError(t, err)

	assert.Equal(t, 5, report.Total)
	assert.Equal(t, 3, report.Matched)
	assert.Equal(t, 2, report.Flagged)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, progress)

	byItem := map[string]ItemMatch{}
	for _, r := range report.Results {
		byItem[r.Item] = r
	}

	assert.Equal(t, StatusMatched, byItem["Anchor Blue Milk"].Status)
	assert.Equal(t, ConfidenceExactName, byItem["Anchor Blue Milk"].Confidence)
	assert.Equal(t, ConfidenceSubstring, byItem["Blue Milk"].Confidence)
	assert.Equal(t, ConfidenceBoth, byItem["Kara CM 400"].Confidence)
	assert.Equal(t, StatusMatched, byItem["Kara CM 400"].Status)

	assert.Equal(t, StatusNoMatch, byItem["Mystery 5"].Status)
	assert.Empty(t, byItem["Mystery 5"].Candidates)

	fancy := byItem["Fancy Thing"]
	assert.Equal(t, StatusLowConfidence, fancy.Status)
	assert.Equal(t, ConfidenceFallback, fancy.Confidence)
	assert.Equal(t, "Fancy Crackers", fancy.MatchedTo)
	assert.Len(t, fancy.Candidates, 2)

	// Low confidence items are still linked; unmatched ones are not.
	assert.Equal(t, int64(13), items.updated[5])
	_, touched := items.updated[4]
	assert.False(t, touched)
}

func TestMatcher_SemanticFailureDegrades(t *testing.T) {
	items := &fakeItems{items: []storage.PurchaseItem{{ID: 1, RawName: "Milk"}}}
	lexical := fakeLexical{"Milk": {{Product: p(10, "Milk"), Rank: -1}}}
	m := NewMatcher(items, lexical, &fakeSemantic{err: errors.New("no api key")}, nil)

	report, err := m.MatchPurchase(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Matched)
}

type fakeDated struct{ items []storage.DatedItem }

func (f fakeDated) DatedItems(ctx context.Context) ([]storage.DatedItem, error) { return f.items, nil }

type fakeFrequencyStore struct{ entries []storage.FrequencyEntry }

func (f *fakeFrequencyStore) Replace(ctx context.Context, entries []storage.FrequencyEntry) error {
	f.entries = entries
	return nil
}

func (f *fakeFrequencyStore) Top(ctx context.Context, n int) ([]storage.FrequencyEntry, error) {
	return f.entries, nil
}

func day(d int) time.Time {
	return time.Date(2026, 1, d, 0, 0, 0, 0, time.UTC)
}

func qty(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: true}
}

func TestFrequencyUpdater_Update(t *testing.T) {
	source := fakeDated{items: []storage.DatedItem{
		{GenericName: "milk", OrderDate: day(1), Quantity: qty(2)},
		{GenericName: "milk", OrderDate: day(1), Quantity: qty(1)},
		{GenericName: "Milk", OrderDate: day(8), Quantity: qty(3)},
		{GenericName: "milk", OrderDate: day(22)},
		{GenericName: "saffron", OrderDate: day(5)},
	}}
	store := &fakeFrequencyStore{}
	u := NewFrequencyUpdater(source, store, nil)

	n, err := u.Update(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, store.entries, 2)

	milk := store.entries[0]
	assert.Equal(t, "milk", milk.GenericName)
	assert.Equal(t, 3, milk.PurchaseCount)
	assert.True(t, milk.AvgDaysBetween.Valid)
	assert.InDelta(t, 10.5, milk.AvgDaysBetween.Float64, 1e-9)
	assert.True(t, day(22).Equal(milk.LastPurchased))
	// quantities 1,1,2,3 -> upper median 2
	assert.Equal(t, 2.0, milk.TypicalQuantity)

	saffron := store.entries[1]
	assert.Equal(t, 1, saffron.PurchaseCount)
	assert.False(t, saffron.AvgDaysBetween.Valid)
	assert.Equal(t, 1.0, saffron.TypicalQuantity)

	top, err := u.Top(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, top, 2)
}

func TestUpperMedian(t *testing.T) {
	assert.Equal(t, 3.0, upperMedian([]float64{3}))
	assert.Equal(t, 2.0, upperMedian([]float64{2, 1}))
	assert.Equal(t, 2.0, upperMedian([]float64{3, 1, 2}))
}
