// Package storage provides the SQLite models and repositories for nwshop.
package storage

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// Strategy is how a preference turns into a concrete product.
type Strategy string

const (
	StrategyFixed       Strategy = "fixed"
	StrategyLowestPrice Strategy = "lowest_price"
	StrategyOnSpecial   Strategy = "on_special"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyFixed, StrategyLowestPrice, StrategyOnSpecial:
		return true
	}
	return false
}

// Dynamic reports whether the strategy is recomputed against the catalog.
func (s Strategy) Dynamic() bool {
	return s == StrategyLowestPrice || s == StrategyOnSpecial
}

// PreferenceSource records who created a preference.
type PreferenceSource string

const (
	SourceExplicit PreferenceSource = "explicit"
	SourceHistory  PreferenceSource = "history"
	SourceWizard   PreferenceSource = "wizard"
	SourceSwap     PreferenceSource = "swap"
)

// Valid reports whether s is a known source.
func (s PreferenceSource) Valid() bool {
	switch s {
	case SourceExplicit, SourceHistory, SourceWizard, SourceSwap:
		return true
	}
	return false
}

// DefaultContext is the preference scope used when none is given.
const DefaultContext = "default"

// Product is a catalog entry.
type Product struct {
	ID           int64               `json:"id"`
	ExternalID   string              `json:"externalId,omitempty"`
	Name         string              `json:"name"`
	Brand        string              `json:"brand,omitempty"`
	GenericName  string              `json:"genericName,omitempty"`
	Category     string              `json:"category,omitempty"`
	Subcategory  string              `json:"subcategory,omitempty"`
	Price        decimal.NullDecimal `json:"price"`
	UnitSize     string              `json:"unitSize,omitempty"`
	ImageURL     string              `json:"imageUrl,omitempty"`
	InStock      bool                `json:"inStock"`
	OnSpecial    bool                `json:"onSpecial"`
	SpecialPrice decimal.NullDecimal `json:"specialPrice"`
}

// RankedProduct is a full-text hit; lower Rank is better.
type RankedProduct struct {
	Product
	Rank float64
}

// PurchasedProduct is a product together with how often it was bought.
type PurchasedProduct struct {
	Product
	BuyCount int `json:"buyCount"`
}

// Preference maps a generic item name in a context to a product.
type Preference struct {
	ID           int64
	GenericName  string
	Context      string
	ProductID    int64
	ProductName  string
	Brand        string
	Price        decimal.NullDecimal
	Confidence   float64
	Source       PreferenceSource
	Strategy     Strategy
	Notes        string
	CandidateIDs []int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Purchase is one imported order.
type Purchase struct {
	ID        int64
	OrderRef  string
	OrderDate time.Time
	Total     decimal.NullDecimal
}

// PurchaseItem is one line of an imported order.
type PurchaseItem struct {
	ID              int64
	PurchaseID      int64
	ProductID       sql.NullInt64
	RawName         string
	Quantity        sql.NullFloat64
	UnitPrice       decimal.NullDecimal
	MatchConfidence sql.NullFloat64
}

// GroupStat is the buy count of one product inside a generic-name group.
type GroupStat struct {
	GenericName string
	ProductID   int64
	ProductName string
	Brand       string
	Price       decimal.NullDecimal
	BuyCount    int
}

// DatedItem is a matched purchase line with its order date.
type DatedItem struct {
	GenericName string
	OrderDate   time.Time
	Quantity    sql.NullFloat64
}

// FrequencyEntry summarises how often a generic item is bought.
type FrequencyEntry struct {
	GenericName     string
	AvgDaysBetween  sql.NullFloat64
	LastPurchased   time.Time
	PurchaseCount   int
	TypicalQuantity float64
	UpdatedAt       time.Time
}

// Recipe is a named set of ingredients.
type Recipe struct {
	ID          int64
	Name        string
	SourceURL   string
	Servings    int
	Ingredients []RecipeIngredient
}

// RecipeIngredient is one generic ingredient of a recipe.
type RecipeIngredient struct {
	GenericName string
	Quantity    string
	Optional    bool
}

// ShoppingList is a persisted, resolved list.
type ShoppingList struct {
	ID        int64
	Name      string
	Status    string
	RecipeIDs []int64
	Notes     string
	CreatedAt time.Time
}

// ShoppingListItem is one line of a shopping list.
type ShoppingListItem struct {
	GenericName       string
	ResolvedProductID sql.NullInt64
	DisplayName       string
	Quantity          string
	Category          string
	Source            string
	EstimatedPrice    decimal.NullDecimal
	SortOrder         int
}
