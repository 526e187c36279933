package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// RecipeRepository stores recipes and their ingredients.
type RecipeRepository struct {
	db DB
}

// NewRecipeRepository creates a new recipe repository.
func NewRecipeRepository(db DB) *RecipeRepository {
	return &RecipeRepository{db: db}
}

// Create stores a recipe with its ingredients.
func (r *RecipeRepository) Create(ctx context.Context, recipe *Recipe) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		var servings interface{}
		if recipe.Servings > 0 {
			servings = recipe.Servings
		}
		err := tx.QueryRowContext(ctx, `
			INSERT INTO recipes (name, source_url, servings) VALUES (?, ?, ?)
			RETURNING id
		`, recipe.Name, nullString(recipe.SourceURL), servings).Scan(&recipe.ID)
		if err != nil {
			return fmt.Errorf("insert recipe: %w", err)
		}

		for i, ing := range recipe.Ingredients {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO recipe_ingredients (recipe_id, generic_name, quantity, optional, sort_order)
				VALUES (?, ?, ?, ?, ?)
			`, recipe.ID, ing.GenericName, nullString(ing.Quantity), ing.Optional, i); err != nil {
				return fmt.Errorf("insert ingredient %q: %w", ing.GenericName, err)
			}
		}
		return nil
	})
}

// GetByID loads a recipe and its ingredients.
func (r *RecipeRepository) GetByID(ctx context.Context, id int64) (*Recipe, error) {
	var (
		recipe    Recipe
		sourceURL sql.NullString
		servings  sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, source_url, servings FROM recipes WHERE id = ?
	`, id).Scan(&recipe.ID, &recipe.Name, &sourceURL, &servings)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get recipe %d: %w", id, err)
	}
	recipe.SourceURL = sourceURL.String
	recipe.Servings = int(servings.Int64)

	if recipe.Ingredients, err = r.ingredients(ctx, id); err != nil {
		return nil, err
	}
	return &recipe, nil
}

// FindByName returns the first recipe whose name matches case-insensitively.
func (r *RecipeRepository) FindByName(ctx context.Context, name string) (*Recipe, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `
		SELECT id FROM recipes WHERE LOWER(name) = ? ORDER BY id LIMIT 1
	`, strings.ToLower(strings.TrimSpace(name))).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find recipe %q: %w", name, err)
	}
	return r.GetByID(ctx, id)
}

func (r *RecipeRepository) ingredients(ctx context.Context, recipeID int64) ([]RecipeIngredient, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT generic_name, quantity, optional FROM recipe_ingredients
		WHERE recipe_id = ?
		ORDER BY sort_order, id
	`, recipeID)
	if err != nil {
		return nil, fmt.Errorf("list ingredients: %w", err)
	}
	defer rows.Close()

	var ings []RecipeIngredient
	for rows.Next() {
		var (
			ing RecipeIngredient
			qty sql.NullString
		)
		if err := rows.Scan(&ing.GenericName, &qty, &ing.Optional); err != nil {
			return nil, fmt.Errorf("scan ingredient: %w", err)
		}
		ing.Quantity = qty.String
		ings = append(ings, ing)
	}
	return ings, rows.Err()
}

// ListRepository stores shopping lists.
type ListRepository struct {
	db DB
}

// NewListRepository creates a new list repository.
func NewListRepository(db DB) *ListRepository {
	return &ListRepository{db: db}
}

// Create stores a list and its items in one transaction, setting list.ID.
func (r *ListRepository) Create(ctx context.Context, list *ShoppingList, items []ShoppingListItem) error {
	if list.Status == "" {
		list.Status = "draft"
	}

	var recipeIDs interface{}
	if len(list.RecipeIDs) > 0 {
		raw, err := json.Marshal(list.RecipeIDs)
		if err != nil {
			return fmt.Errorf("encode recipe ids: %w", err)
		}
		recipeIDs = string(raw)
	}

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO shopping_lists (name, status, recipe_ids, notes)
			VALUES (?, ?, ?, ?)
			RETURNING id
		`, list.Name, list.Status, recipeIDs, nullString(list.Notes)).Scan(&list.ID)
		if err != nil {
			return fmt.Errorf("insert shopping list: %w", err)
		}
		list.CreatedAt = time.Now().UTC()

		for _, item := range items {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO shopping_list_items (list_id, generic_name, resolved_product_id, display_name,
					quantity, category, source, estimated_price, sort_order)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, list.ID, item.GenericName, item.ResolvedProductID, item.DisplayName,
				nullString(item.Quantity), nullString(item.Category), nullString(item.Source),
				nullDecimalArg(item.EstimatedPrice), item.SortOrder); err != nil {
				return fmt.Errorf("insert list item %q: %w", item.GenericName, err)
			}
		}
		return nil
	})
}

// Items returns the items of a list in sort order.
func (r *ListRepository) Items(ctx context.Context, listID int64) ([]ShoppingListItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT generic_name, resolved_product_id, display_name, quantity, category, source, estimated_price, sort_order
		FROM shopping_list_items
		WHERE list_id = ?
		ORDER BY sort_order, id
	`, listID)
	if err != nil {
		return nil, fmt.Errorf("list shopping list items: %w", err)
	}
	defer rows.Close()

	var items []ShoppingListItem
	for rows.Next() {
		var (
			item                  ShoppingListItem
			qty, category, source sql.NullString
		)
		if err := rows.Scan(&item.GenericName, &item.ResolvedProductID, &item.DisplayName,
			&qty, &category, &source, &item.EstimatedPrice, &item.SortOrder); err != nil {
			return nil, fmt.Errorf("scan list item: %w", err)
		}
		item.Quantity = qty.String
		item.Category = category.String
		item.Source = source.String
		items = append(items, item)
	}
	return items, rows.Err()
}
