// Package lists builds shopping lists from recipes and manual items.
package lists

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/spherical-ai/nwshop/internal/observability"
	"github.com/spherical-ai/nwshop/internal/resolve"
	"github.com/spherical-ai/nwshop/internal/storage"
)

const (
	defaultListName   = "Shopping List"
	manualSource      = "manual"
	maxItemCandidates = 3
)

// RecipeStore loads recipes.
type RecipeStore interface {
	GetByID(ctx context.Context, id int64) (*storage.Recipe, error)
	FindByName(ctx context.Context, name string) (*storage.Recipe, error)
}

// ListStore persists lists.
type ListStore interface {
	Create(ctx context.Context, list *storage.ShoppingList, items []storage.ShoppingListItem) error
}

// Resolver resolves a group of terms as one batch.
type Resolver interface {
	ResolveAll(ctx context.Context, reqs []resolve.Request) ([]*resolve.Result, error)
}

// ManualItem is an extra item not taken from a recipe.
type ManualItem struct {
	Name     string `json:"name"`
	Quantity string `json:"quantity,omitempty"`
}

// BuildRequest names the recipes and items of a list.
type BuildRequest struct {
	RecipeIDs   []int64      `json:"recipeIds,omitempty"`
	RecipeNames []string     `json:"recipeNames,omitempty"`
	ManualItems []ManualItem `json:"manualItems,omitempty"`
	Name        string       `json:"name,omitempty"`
}

// RecipeRef identifies a recipe used by a list.
type RecipeRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Item is one resolved line of a built list.
type Item struct {
	GenericName    string                    `json:"genericName"`
	DisplayName    string                    `json:"displayName"`
	Quantity       string                    `json:"quantity,omitempty"`
	Category       string                    `json:"category,omitempty"`
	Source         string                    `json:"source"`
	Optional       bool                      `json:"optional"`
	EstimatedPrice *decimal.Decimal          `json:"estimatedPrice,omitempty"`
	Resolved       bool                      `json:"resolved"`
	Candidates     []resolve.ScoredCandidate `json:"candidates,omitempty"`
}

// List is the outcome of Build.
type List struct {
	ID              int64           `json:"listId"`
	Name            string          `json:"name"`
	Recipes         []RecipeRef     `json:"recipes"`
	Items           []Item          `json:"items"`
	UnresolvedCount int             `json:"unresolvedCount"`
	EstimatedTotal  decimal.Decimal `json:"estimatedTotal"`
}

// Builder assembles, resolves and stores shopping lists.
type Builder struct {
	recipes  RecipeStore
	lists    ListStore
	resolver Resolver
	logger   *observability.Logger
}

// NewBuilder creates a list builder.
func NewBuilder(recipes RecipeStore, lists ListStore, resolver Resolver, logger *observability.Logger) *Builder {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Builder{recipes: recipes, lists: lists, resolver: resolver, logger: logger}
}

type ingredient struct {
	genericName string
	quantities  []string
	sources     []string
	optional    bool
}

// Build aggregates ingredients, resolves them in one batch and persists the
// list. Recipes that cannot be found are logged and skipped.
func (b *Builder) Build(ctx context.Context, req BuildRequest) (*List, error) {
	recipes, err := b.loadRecipes(ctx, req)
	if err != nil {
		return nil, err
	}

	var order []string
	byKey := make(map[string]*ingredient)
	add := func(name, quantity, source string, optional bool) {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			return
		}
		ing, ok := byKey[key]
		if !ok {
			ing = &ingredient{genericName: strings.TrimSpace(name), optional: optional}
			byKey[key] = ing
			order = append(order, key)
		}
		ing.sources = append(ing.sources, source)
		if quantity != "" {
			ing.quantities = append(ing.quantities, quantity)
		}
	}
	for _, r := range recipes {
		for _, ri := range r.Ingredients {
			add(ri.GenericName, ri.Quantity, r.Name, ri.Optional)
		}
	}
	for _, mi := range req.ManualItems {
		add(mi.Name, mi.Quantity, manualSource, false)
	}

	names := make([]string, len(recipes))
	refs := make([]RecipeRef, len(recipes))
	ids := make([]int64, len(recipes))
	for i, r := range recipes {
		names[i] = r.Name
		refs[i] = RecipeRef{ID: r.ID, Name: r.Name}
		ids[i] = r.ID
	}
	recipeContext := strings.Join(names, ", ")

	reqs := make([]resolve.Request, len(order))
	for i, key := range order {
		reqs[i] = resolve.Request{GenericName: byKey[key].genericName, RecipeContext: recipeContext}
	}
	results, err := b.resolver.ResolveAll(ctx, reqs)
	if err != nil {
		return nil, err
	}

	list := &List{
		Name:           listName(req.Name, names),
		Recipes:        refs,
		Items:          make([]Item, 0, len(order)),
		EstimatedTotal: decimal.Zero,
	}
	rows := make([]storage.ShoppingListItem, 0, len(order))

	for i, key := range order {
		ing := byKey[key]
		res := results[i]

		item := Item{
			GenericName: ing.genericName,
			DisplayName: ing.genericName,
			Quantity:    strings.Join(ing.quantities, " + "),
			Source:      strings.Join(ing.sources, ", "),
			Optional:    ing.optional,
			Resolved:    res.Resolved,
		}
		row := storage.ShoppingListItem{
			GenericName: item.GenericName,
			Quantity:    item.Quantity,
			Source:      item.Source,
			SortOrder:   i,
		}

		if res.Resolved {
			item.DisplayName = res.ProductName
			item.EstimatedPrice = res.Price
			if len(res.Candidates) > 0 {
				item.Category = res.Candidates[0].Category
			}
			row.ResolvedProductID = sql.NullInt64{Int64: res.ProductID, Valid: true}
			if res.Price != nil {
				row.EstimatedPrice = decimal.NewNullDecimal(*res.Price)
				list.EstimatedTotal = list.EstimatedTotal.Add(*res.Price)
			}
		} else {
			list.UnresolvedCount++
		}
		if n := len(res.Candidates); n > 0 {
			item.Candidates = res.Candidates[:min(n, maxItemCandidates)]
		}
		row.DisplayName = item.DisplayName
		row.Category = item.Category

		list.Items = append(list.Items, item)
		rows = append(rows, row)
	}

	stored := &storage.ShoppingList{Name: list.Name, RecipeIDs: ids}
	if len(names) > 0 {
		stored.Notes = "Recipes: " + recipeContext
	}
	if err := b.lists.Create(ctx, stored, rows); err != nil {
		return nil, fmt.Errorf("save shopping list: %w", err)
	}
	list.ID = stored.ID

	b.logger.Info().
		Int64("list_id", list.ID).
		Str("name", list.Name).
		Int("items", len(list.Items)).
		Int("unresolved", list.UnresolvedCount).
		Str("estimated_total", list.EstimatedTotal.StringFixed(2)).
		Msg("shopping list built")

	return list, nil
}

func (b *Builder) loadRecipes(ctx context.Context, req BuildRequest) ([]storage.Recipe, error) {
	var recipes []storage.Recipe
	seen := make(map[int64]bool)
	keep := func(r *storage.Recipe) {
		if !seen[r.ID] {
			seen[r.ID] = true
			recipes = append(recipes, *r)
		}
	}

	for _, id := range req.RecipeIDs {
		r, err := b.recipes.GetByID(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			b.logger.Warn().Int64("recipe_id", id).Msg("recipe not found")
			continue
		}
		if err != nil {
			return nil, err
		}
		keep(r)
	}
	for _, name := range req.RecipeNames {
		r, err := b.recipes.FindByName(ctx, name)
		if errors.Is(err, storage.ErrNotFound) {
			b.logger.Warn().Str("recipe", name).Msg("recipe not found")
			continue
		}
		if err != nil {
			return nil, err
		}
		keep(r)
	}
	return recipes, nil
}

func listName(requested string, recipeNames []string) string {
	if n := strings.TrimSpace(requested); n != "" {
		return n
	}
	if len(recipeNames) > 0 {
		return strings.Join(recipeNames, " + ")
	}
	return defaultListName
}
