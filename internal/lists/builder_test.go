package lists

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/nwshop/internal/resolve"
	"github.com/spherical-ai/nwshop/internal/retrieval"
	"github.com/spherical-ai/nwshop/internal/storage"
)

type fakeRecipes struct {
	byID map[int64]storage.Recipe
}

func (f *fakeRecipes) GetByID(ctx context.Context, id int64) (*storage.Recipe, error) {
	r, ok := f.byID[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &r, nil
}

func (f *fakeRecipes) FindByName(ctx context.Context, name string) (*storage.Recipe, error) {
	for _, r := range f.byID {
		if r.Name == name {
			return &r, nil
		}
	}
	return nil, storage.ErrNotFound
}

type fakeLists struct {
	list  *storage.ShoppingList
	items []storage.ShoppingListItem
}

func (f *fakeLists) Create(ctx context.Context, list *storage.ShoppingList, items []storage.ShoppingListItem) error {
	list.ID = 42
	f.list = list
	f.items = items
	return nil
}

type fakeResolver struct {
	reqs    []resolve.Request
	results map[string]*resolve.Result
}

func (f *fakeResolver) ResolveAll(ctx context.Context, reqs []resolve.Request) ([]*resolve.Result, error) {
	f.reqs = reqs
	out := make([]*resolve.Result, len(reqs))
	for i, r := range reqs {
		if res, ok := f.results[r.GenericName]; ok {
			out[i] = res
			continue
		}
		out[i] = &resolve.Result{Source: resolve.SourceNone, Candidates: []resolve.ScoredCandidate{}}
	}
	return out, nil
}

func dec(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

func scored(n int) []resolve.ScoredCandidate {
	out := make([]resolve.ScoredCandidate, n)
	for i := range out {
		out[i] = resolve.ScoredCandidate{Candidate: retrieval.Candidate{Product: storage.Product{ID: int64(i + 1), Category: "Pantry"}}}
	}
	return out
}

func newBuilder() (*Builder, *fakeLists, *fakeResolver) {
	recipes := &fakeRecipes{byID: map[int64]storage.Recipe{
		1: {ID: 1, Name: "Thai Curry", Ingredients: []storage.RecipeIngredient{
			{GenericName: "coconut milk", Quantity: "400ml"},
			{GenericName: "Chicken Thighs", Quantity: "500g"},
			{GenericName: "coriander", Optional: true},
		}},
		2: {ID: 2, Name: "Laksa", Ingredients: []storage.RecipeIngredient{
			{GenericName: "Coconut Milk", Quantity: "1 can"},
			{GenericName: "rice noodles"},
		}},
	}}
	lists := &fakeLists{}
	resolver := &fakeResolver{results: map[string]*resolve.Result{
		"coconut milk": {
			Resolved: true, ProductID: 7, ProductName: "Pams Coconut Milk", Price: dec("2.50"),
			Source: resolve.SourceSearch, Confidence: 0.55, Candidates: scored(5),
		},
		"Chicken Thighs": {
			Resolved: true, ProductID: 8, ProductName: "Tegel Chicken Thighs", Price: dec("11.00"),
			Source: resolve.SourcePurchaseHistory, Confidence: 0.8,
		},
		"milk": {Resolved: true, ProductID: 9, ProductName: "Anchor Milk", Source: resolve.SourcePreference},
	}}
	return NewBuilder(recipes, lists, resolver, nil), lists, resolver
}

func TestBuilder_Build(t *testing.T) {
	b, lists, resolver := newBuilder()

	list, err := b.Build(context.Background(), BuildRequest{
		RecipeNames: []string{"Thai Curry", "Missing Recipe", "Laksa"},
		ManualItems: []ManualItem{{Name: "milk", Quantity: "2L"}, {Name: "coriander"}},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(42), list.ID)
	assert.Equal(t, "Thai Curry + Laksa", list.Name)
	assert.Equal(t, []RecipeRef{{ID: 1, Name: "Thai Curry"}, {ID: 2, Name: "Laksa"}}, list.Recipes)

	require.Len(t, resolver.reqs, 5)
	for _, r := range resolver.reqs {
		assert.Equal(t, "Thai Curry, Laksa", r.RecipeContext)
	}

	require.Len(t, list.Items, 5)
	coconut := list.Items[0]
	assert.Equal(t, "coconut milk", coconut.GenericName)
	assert.Equal(t, "Pams Coconut Milk", coconut.DisplayName)
	assert.Equal(t, "400ml + 1 can", coconut.Quantity)
	assert.Equal(t, "Thai Curry, Laksa", coconut.Source)
	assert.Equal(t, "Pantry", coconut.Category)
	assert.Len(t, coconut.Candidates, 3)

	coriander := list.Items[2]
	assert.True(t, coriander.Optional)
	assert.False(t, coriander.Resolved)
	assert.Equal(t, "coriander", coriander.DisplayName)
	assert.Equal(t, "Thai Curry, manual", coriander.Source)

	milk := list.Items[4]
	assert.Equal(t, "manual", milk.Source)
	assert.Equal(t, "2L", milk.Quantity)
	assert.Nil(t, milk.EstimatedPrice)

	assert.Equal(t, 2, list.UnresolvedCount)
	assert.Equal(t, "13.50", list.EstimatedTotal.StringFixed(2))

	require.NotNil(t, lists.list)
	assert.Equal(t, []int64{1, 2}, lists.list.RecipeIDs)
	assert.Equal(t, "Recipes: Thai Curry, Laksa", lists.list.Notes)
	require.Len(t, lists.items, 5)
	assert.Equal(t, int64(7), lists.items[0].ResolvedProductID.Int64)
	assert.False(t, lists.items[3].ResolvedProductID.Valid)
	assert.Equal(t, 4, lists.items[4].SortOrder)
}

func TestBuilder_ListName(t *testing.T) {
	b, lists, _ := newBuilder()

	list, err := b.Build(context.Background(), BuildRequest{ManualItems: []ManualItem{{Name: "milk"}}})
	require.NoError(t, err)
	assert.Equal(t, "Shopping List", list.Name)
	assert.Empty(t, lists.list.Notes)

	list, err = b.Build(context.Background(), BuildRequest{RecipeIDs: []int64{2, 2}, Name: " Weekend "})
	require.NoError(t, err)
	assert.Equal(t, "Weekend", list.Name)
	assert.Len(t, list.Recipes, 1)
}
