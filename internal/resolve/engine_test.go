package resolve

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/nwshop/internal/history"
	"github.com/spherical-ai/nwshop/internal/preferences"
	"github.com/spherical-ai/nwshop/internal/retrieval"
	"github.com/spherical-ai/nwshop/internal/storage"
)

type fakePrefs struct {
	pref    *storage.Preference
	err     error
	dynamic *storage.Product
}

func (f *fakePrefs) Get(ctx context.Context, genericName, context string) (*storage.Preference, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.pref == nil {
		return nil, storage.ErrNotFound
	}
	return f.pref, nil
}

func (f *fakePrefs) ResolveDynamic(ctx context.Context, pref *storage.Preference) (*storage.Product, bool, error) {
	if f.dynamic == nil {
		return nil, false, nil
	}
	return f.dynamic, true, nil
}

type fakeHistory struct {
	match *storage.PurchasedProduct
}

func (f *fakeHistory) FindBestPurchasedMatch(ctx context.Context, term string) (*storage.PurchasedProduct, error) {
	return f.match, nil
}

type fakePurchases struct {
	counts map[int64]int
	calls  int
}

func (f *fakePurchases) CountsByProduct(ctx context.Context) (map[int64]int, error) {
	f.calls++
	return f.counts, nil
}

func (f *fakePurchases) QueryByNameWords(ctx context.Context, words []string, limit int) ([]storage.PurchasedProduct, error) {
	return nil, nil
}

type fakeLexical struct {
	hits  []retrieval.LexicalHit
	err   error
	mu    sync.Mutex
	calls int
}

func (f *fakeLexical) Search(ctx context.Context, query string, limit int) ([]retrieval.LexicalHit, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if len(f.hits) > limit {
		return f.hits[:limit], nil
	}
	return f.hits, nil
}

type fakeSemantic struct {
	hits  []retrieval.SemanticHit
	err   error
	block bool

	mu      sync.Mutex
	queries []string
}

func (f *fakeSemantic) Search(ctx context.Context, query string, limit int) ([]retrieval.SemanticHit, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.hits, f.err
}

type fakeRecorder struct {
	mu        sync.Mutex
	sources   []string
	semFailed int
}

func (f *fakeRecorder) ObserveResolution(source string, resolved bool, elapsed time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources = append(f.sources, source)
}

func (f *fakeRecorder) SemanticFailure() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.semFailed++
}

func price(v string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(v))
}

func coconutHits() []retrieval.LexicalHit {
	return []retrieval.LexicalHit{
		{Product: storage.Product{ID: 2, Name: "Pams Light Coconut Milk", GenericName: "coconut milk", Price: price("2.80")}, Rank: -2},
		{Product: storage.Product{ID: 1, Name: "Pams Coconut Milk", GenericName: "coconut milk", Price: price("2.50"), InStock: true}, Rank: -1},
	}
}

type fixture struct {
	prefs     *fakePrefs
	history   *fakeHistory
	purchases *fakePurchases
	lexical   *fakeLexical
	semantic  *fakeSemantic
	recorder  *fakeRecorder
}

func newFixture() *fixture {
	return &fixture{
		prefs:     &fakePrefs{},
		history:   &fakeHistory{},
		purchases: &fakePurchases{},
		lexical:   &fakeLexical{},
		semantic:  &fakeSemantic{},
		recorder:  &fakeRecorder{},
	}
}

func (f *fixture) engine(opts Options) *Engine {
	return NewEngine(Deps{
		Preferences: f.prefs,
		History:     f.history,
		Purchases:   f.purchases,
		Lexical:     f.lexical,
		Semantic:    f.semantic,
		Recorder:    f.recorder,
	}, opts)
}

func TestEngine_PreferencePrecedence(t *testing.T) {
	f := newFixture()
	f.prefs.pref = &storage.Preference{
		GenericName: "bread",
		ProductID:   10,
		ProductName: "Vogels Toast Bread",
		Brand:       "Vogels",
		Price:       price("5.49"),
		Confidence:  0.9,
		Strategy:    storage.StrategyFixed,
	}
	f.history.match = &storage.PurchasedProduct{Product: storage.Product{ID: 11, Name: "Pams White Bread"}, BuyCount: 20}
	f.lexical.hits = []retrieval.LexicalHit{{Product: storage.Product{ID: 12, Name: "Bread", GenericName: "bread", InStock: true}}}

	res, err := f.engine(DefaultOptions()).Resolve(context.Background(), Request{GenericName: "bread"})
	require.NoError(t, err)

	assert.True(t, res.Resolved)
	assert.Equal(t, SourcePreference, res.Source)
	assert.Equal(t, int64(10), res.ProductID)
	assert.Equal(t, "Vogels Toast Bread", res.ProductName)
	assert.Equal(t, 0.9, res.Confidence)
	require.NotNil(t, res.Price)
	assert.Equal(t, "5.49", res.Price.StringFixed(2))
	assert.Zero(t, f.lexical.calls)
	assert.Equal(t, []string{"preference"}, f.recorder.sources)
}

func TestEngine_RelevanceVetoFallsThrough(t *testing.T) {
	f := newFixture()
	f.prefs.pref = &storage.Preference{
		GenericName: "steaks",
		ProductID:   20,
		ProductName: "Scotch Fillet Steak",
		Confidence:  0.9,
		Strategy:    storage.StrategyFixed,
	}
	f.lexical.hits = []retrieval.LexicalHit{
		{Product: storage.Product{ID: 20, Name: "Scotch Fillet Steak", GenericName: "beef steaks & schnitzel", InStock: true}, Rank: -3},
		{Product: storage.Product{ID: 21, Name: "Beef Schnitzel", GenericName: "beef steaks & schnitzel", InStock: true}, Rank: -1},
	}
	f.semantic.hits = []retrieval.SemanticHit{
		{Product: storage.Product{ID: 21, Name: "Beef Schnitzel", GenericName: "beef steaks & schnitzel", InStock: true}, Distance: 0.3},
	}

	res, err := f.engine(DefaultOptions()).Resolve(context.Background(), Request{GenericName: "schnitzel"})
	require.NoError(t, err)

	assert.Equal(t, SourceSearch, res.Source)
	assert.True(t, res.Resolved)
	assert.Equal(t, int64(21), res.ProductID)
	require.Len(t, res.Candidates, 2)
	// 0.2 partial + 0.3 both + 0.17 distance
	assert.InDelta(t, 0.67, res.Candidates[0].Score, 1e-9)
	assert.InDelta(t, 0.15, res.Candidates[1].Score, 1e-9)
}

func TestEngine_LowConfidencePreferenceIgnored(t *testing.T) {
	f := newFixture()
	f.prefs.pref = &storage.Preference{ProductID: 10, ProductName: "Vogels Toast Bread", Confidence: 0.4, Strategy: storage.StrategyFixed}
	f.history.match = &storage.PurchasedProduct{Product: storage.Product{ID: 11, Name: "Pams Toast Bread"}, BuyCount: 1}

	res, err := f.engine(DefaultOptions()).Resolve(context.Background(), Request{GenericName: "toast bread"})
	require.NoError(t, err)
	assert.Equal(t, SourcePurchaseHistory, res.Source)
	assert.Equal(t, int64(11), res.ProductID)
}

func TestEngine_DynamicPreference(t *testing.T) {
	f := newFixture()
	f.prefs.pref = &storage.Preference{
		ProductID:   10,
		ProductName: "Vogels Toast Bread",
		Confidence:  0.9,
		Strategy:    storage.StrategyLowestPrice,
	}

	res, err := f.engine(DefaultOptions()).Resolve(context.Background(), Request{GenericName: "bread"})
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.ProductID, "anchor when dynamic resolution fails")
	assert.Equal(t, storage.StrategyLowestPrice, res.Strategy)

	f.prefs.dynamic = &storage.Product{ID: 11, Name: "Pams Toast Bread", Price: price("2.50")}
	res, err = f.engine(DefaultOptions()).Resolve(context.Background(), Request{GenericName: "bread"})
	require.NoError(t, err)
	assert.Equal(t, SourcePreference, res.Source)
	assert.Equal(t, int64(11), res.ProductID)
	assert.Equal(t, "Pams Toast Bread", res.ProductName)
	assert.Equal(t, 0.9, res.Confidence)
}

func TestEngine_PurchaseHistoryShortcut(t *testing.T) {
	f := newFixture()
	f.history.match = &storage.PurchasedProduct{
		Product:  storage.Product{ID: 30, Name: "Pams Chicken Breast", Price: price("12.99")},
		BuyCount: 5,
	}

	res, err := f.engine(DefaultOptions()).Resolve(context.Background(), Request{GenericName: "chicken breast"})
	require.NoError(t, err)
	assert.True(t, res.Resolved)
	assert.Equal(t, SourcePurchaseHistory, res.Source)
	assert.Equal(t, int64(30), res.ProductID)
	assert.InDelta(t, 0.8, res.Confidence, 1e-9)
	assert.Nil(t, res.Candidates)
}

func TestEngine_EmptyQuery(t *testing.T) {
	for _, term := range []string{"", "   "} {
		f := newFixture()
		res, err := f.engine(DefaultOptions()).Resolve(context.Background(), Request{GenericName: term, RecipeContext: "curry"})
		require.NoError(t, err)
		assert.False(t, res.Resolved)
		assert.Equal(t, SourceNone, res.Source)
		assert.NotNil(t, res.Candidates)
		assert.Empty(t, res.Candidates)
		assert.Zero(t, f.lexical.calls)
	}
}

func TestEngine_NoCandidates(t *testing.T) {
	f := newFixture()
	res, err := f.engine(DefaultOptions()).Resolve(context.Background(), Request{GenericName: "dragonfruit"})
	require.NoError(t, err)
	assert.False(t, res.Resolved)
	assert.Equal(t, SourceNone, res.Source)
	assert.Empty(t, res.Candidates)
	assert.Zero(t, f.purchases.calls)
}

func TestEngine_CoconutMilkSemanticUnavailable(t *testing.T) {
	f := newFixture()
	f.lexical.hits = coconutHits()
	f.semantic.err = errors.New("embedding provider unreachable")

	res, err := f.engine(DefaultOptions()).Resolve(context.Background(), Request{GenericName: "coconut milk"})
	require.NoError(t, err)

	assert.True(t, res.Resolved)
	assert.Equal(t, SourceSearch, res.Source)
	assert.Equal(t, int64(1), res.ProductID)
	assert.InDelta(t, 0.55, res.Confidence, 1e-9)
	require.Len(t, res.Candidates, 2)
	assert.InDelta(t, 0.35, res.Candidates[1].Score, 1e-9)
	assert.Equal(t, 1, f.recorder.semFailed)
}

func TestEngine_SemanticTimeoutDegrades(t *testing.T) {
	f := newFixture()
	f.lexical.hits = coconutHits()
	f.semantic.block = true

	opts := DefaultOptions()
	opts.SemanticTimeout = 20 * time.Millisecond

	res, err := f.engine(opts).Resolve(context.Background(), Request{GenericName: "coconut milk", RecipeContext: "Thai Curry"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.ProductID)
	assert.Equal(t, []string{"coconut milk for Thai Curry"}, f.semantic.queries)
	assert.Equal(t, 1, f.recorder.semFailed)
}

func TestEngine_UnresolvedKeepsTopCandidates(t *testing.T) {
	f := newFixture()
	for i := int64(1); i <= 7; i++ {
		f.lexical.hits = append(f.lexical.hits, retrieval.LexicalHit{
			Product: storage.Product{ID: i, Name: "Something Else", InStock: true},
			Rank:    float64(i),
		})
	}

	res, err := f.engine(DefaultOptions()).Resolve(context.Background(), Request{GenericName: "saffron"})
	require.NoError(t, err)
	assert.False(t, res.Resolved)
	assert.Equal(t, SourceSearch, res.Source)
	assert.Zero(t, res.Confidence)
	require.Len(t, res.Candidates, 5)
	assert.Equal(t, int64(1), res.Candidates[0].ID)
}

func TestEngine_StorageErrorsPropagate(t *testing.T) {
	f := newFixture()
	f.prefs.err = errors.New("database is locked")
	_, err := f.engine(DefaultOptions()).Resolve(context.Background(), Request{GenericName: "milk"})
	assert.Error(t, err)

	f = newFixture()
	f.lexical.err = errors.New("no such table: products_fts")
	_, err = f.engine(DefaultOptions()).Resolve(context.Background(), Request{GenericName: "milk"})
	assert.Error(t, err)
}

func TestEngine_Deterministic(t *testing.T) {
	f := newFixture()
	f.lexical.hits = coconutHits()
	f.semantic.hits = []retrieval.SemanticHit{
		{Product: coconutHits()[1].Product, Distance: 0.2},
		{Product: storage.Product{ID: 3, Name: "Kara Coconut Cream", GenericName: "coconut cream", InStock: true}, Distance: 0.4},
	}
	f.purchases.counts = map[int64]int{1: 3}
	e := f.engine(DefaultOptions())

	first, err := e.Resolve(context.Background(), Request{GenericName: "coconut milk"})
	require.NoError(t, err)
	second, err := e.Resolve(context.Background(), Request{GenericName: "coconut milk"})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1.0, first.Confidence)
}

func TestBatch_ResolveAllSharesCounts(t *testing.T) {
	f := newFixture()
	f.lexical.hits = coconutHits()
	f.purchases.counts = map[int64]int{}
	e := f.engine(DefaultOptions())

	reqs := []Request{{GenericName: "coconut milk"}, {GenericName: "  "}, {GenericName: "light coconut milk"}, {GenericName: "milk"}}
	results, err := e.ResolveAll(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, results, len(reqs))
	for i, r := range results {
		assert.Equal(t, reqs[i].GenericName, r.GenericName)
	}
	assert.Equal(t, SourceNone, results[1].Source)
	assert.Equal(t, 1, f.purchases.calls)

	// A new batch reloads the counts.
	_, err = e.NewBatch().Resolve(context.Background(), reqs[0])
	require.NoError(t, err)
	assert.Equal(t, 2, f.purchases.calls)
}

func TestEngine_EndToEndSQLite(t *testing.T) {
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "resolve.db") + "?_foreign_keys=on"
	db, err := storage.Open(ctx, dsn, 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, storage.Migrate(ctx, db, 8))

	repos := storage.NewRepositories(db)
	for _, p := range []storage.Product{
		{Name: "Pams Coconut Milk", GenericName: "coconut milk", Price: price("2.50"), InStock: true},
		{Name: "Pams Light Coconut Milk", GenericName: "coconut milk", Price: price("2.80"), InStock: false},
		{Name: "Vogels Toast Bread", GenericName: "bread", Price: price("5.49"), InStock: true},
	} {
		require.NoError(t, repos.Products.Save(ctx, &p))
	}

	prefs := preferences.NewService(repos.Preferences, repos.Products, nil)
	_, err = prefs.Set(ctx, preferences.SetParams{GenericName: "bread", ProductID: 3})
	require.NoError(t, err)

	e := NewEngine(Deps{
		Preferences: prefs,
		History:     history.NewIndex(repos.Purchases),
		Purchases:   repos.Purchases,
		Lexical:     retrieval.NewLexicalIndex(repos.Products, nil),
		Semantic:    &fakeSemantic{err: errors.New("no embeddings")},
	}, DefaultOptions())

	results, err := e.ResolveAll(ctx, []Request{{GenericName: "coconut milk"}, {GenericName: "Bread"}})
	require.NoError(t, err)

	assert.True(t, results[0].Resolved)
	assert.Equal(t, SourceSearch, results[0].Source)
	assert.Equal(t, int64(1), results[0].ProductID)

	assert.Equal(t, SourcePreference, results[1].Source)
	assert.Equal(t, "Vogels Toast Bread", results[1].ProductName)
}

func TestEngine_PurchaseHistoryMatchesAccentedNames(t *testing.T) {
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "accents.db") + "?_foreign_keys=on"
	db, err := storage.Open(ctx, dsn, 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, storage.Migrate(ctx, db, 8))

	repos := storage.NewRepositories(db)
	creme := storage.Product{Name: "CRÈME FRAÎCHE", GenericName: "creme fraiche", Price: price("4.50"), InStock: true}
	require.NoError(t, repos.Products.Save(ctx, &creme))
	for _, ref := range []string{"NW-20", "NW-21", "NW-22"} {
		require.NoError(t, repos.Purchases.Create(ctx, &storage.Purchase{OrderRef: ref}, []storage.PurchaseItem{
			{ProductID: sql.NullInt64{Int64: creme.ID, Valid: true}, RawName: "CRÈME FRAÎCHE"},
		}))
	}

	e := NewEngine(Deps{
		Preferences: preferences.NewService(repos.Preferences, repos.Products, nil),
		History:     history.NewIndex(repos.Purchases),
		Purchases:   repos.Purchases,
		Lexical:     retrieval.NewLexicalIndex(repos.Products, nil),
		Semantic:    &fakeSemantic{err: errors.New("no embeddings")},
	}, DefaultOptions())

	results, err := e.ResolveAll(ctx, []Request{{GenericName: "crème fraîche"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Resolved)
	assert.Equal(t, SourcePurchaseHistory, results[0].Source)
	assert.Equal(t, creme.ID, results[0].ProductID)
}
