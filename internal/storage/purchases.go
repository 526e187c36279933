package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spherical-ai/nwshop/internal/textmatch"
)

const dateLayout = "2006-01-02"

// PurchaseRepository reads and writes purchase history.
type PurchaseRepository struct {
	db DB
}

// NewPurchaseRepository creates a new purchase repository.
func NewPurchaseRepository(db DB) *PurchaseRepository {
	return &PurchaseRepository{db: db}
}

// Create stores a purchase and its items in one transaction.
// IDs are written back into purchase and items.
func (r *PurchaseRepository) Create(ctx context.Context, purchase *Purchase, items []PurchaseItem) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		var orderDate interface{}
		if !purchase.OrderDate.IsZero() {
			orderDate = purchase.OrderDate.Format(dateLayout)
		}

		err := tx.QueryRowContext(ctx, `
			INSERT INTO purchases (order_ref, order_date, total)
			VALUES (?, ?, ?)
			RETURNING id
		`, nullString(purchase.OrderRef), orderDate, nullDecimalArg(purchase.Total)).Scan(&purchase.ID)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed") {
				return fmt.Errorf("purchase %q: %w", purchase.OrderRef, ErrConflict)
			}
			return fmt.Errorf("insert purchase: %w", err)
		}

		for i := range items {
			item := &items[i]
			item.PurchaseID = purchase.ID
			err := tx.QueryRowContext(ctx, `
				INSERT INTO purchase_items (purchase_id, product_id, raw_name, quantity, unit_price, match_confidence)
				VALUES (?, ?, ?, ?, ?, ?)
				RETURNING id
			`, item.PurchaseID, item.ProductID, item.RawName, item.Quantity,
				nullDecimalArg(item.UnitPrice), item.MatchConfidence,
			).Scan(&item.ID)
			if err != nil {
				return fmt.Errorf("insert purchase item %q: %w", item.RawName, err)
			}
		}
		return nil
	})
}

// CountsByProduct returns the number of purchase lines per matched product.
func (r *PurchaseRepository) CountsByProduct(ctx context.Context) (map[int64]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, COUNT(*) FROM purchase_items
		WHERE product_id IS NOT NULL
		GROUP BY product_id
	`)
	if err != nil {
		return nil, fmt.Errorf("count purchases by product: %w", err)
	}
	defer rows.Close()

	counts := make(map[int64]int)
	for rows.Next() {
		var (
			id    int64
			count int
		)
		if err := rows.Scan(&id, &count); err != nil {
			return nil, err
		}
		counts[id] = count
	}
	return counts, rows.Err()
}

// QueryByNameWords returns previously bought products whose lowercased name
// contains every word, most bought first, ties broken by lowest price.
// Name matching happens in Go because SQLite's LOWER only folds ASCII.
func (r *PurchaseRepository) QueryByNameWords(ctx context.Context, words []string, limit int) ([]PurchasedProduct, error) {
	if len(words) == 0 {
		return nil, nil
	}

	lowered := make([]string, len(words))
	for i, w := range words {
		lowered[i] = strings.ToLower(w)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+productColumns+`, bc.buy_count
		FROM products p
		JOIN (
			SELECT product_id, COUNT(*) AS buy_count
			FROM purchase_items
			WHERE product_id IS NOT NULL
			GROUP BY product_id
		) bc ON bc.product_id = p.id`)
	if err != nil {
		return nil, fmt.Errorf("query purchased products: %w", err)
	}
	defer rows.Close()

	var results []PurchasedProduct
	for rows.Next() {
		var count int
		p, err := scanProduct(rows, &count)
		if err != nil {
			return nil, fmt.Errorf("scan purchased product: %w", err)
		}
		if textmatch.ContainsAll(p.Name, lowered) {
			results = append(results, PurchasedProduct{Product: p, BuyCount: count})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.BuyCount != b.BuyCount {
			return a.BuyCount > b.BuyCount
		}
		if a.Price.Valid != b.Price.Valid {
			return a.Price.Valid
		}
		if a.Price.Valid && !a.Price.Decimal.Equal(b.Price.Decimal) {
			return a.Price.Decimal.LessThan(b.Price.Decimal)
		}
		return a.ID < b.ID
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// GroupStats returns buy counts per (generic name, product), ordered by
// generic name then buy count descending.
func (r *PurchaseRepository) GroupStats(ctx context.Context) ([]GroupStat, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT p.generic_name, p.id, p.name, p.brand, p.price, COUNT(*) AS buy_count
		FROM purchase_items pi
		JOIN products p ON p.id = pi.product_id
		WHERE pi.product_id IS NOT NULL AND p.generic_name IS NOT NULL
		GROUP BY p.generic_name, p.id
		ORDER BY p.generic_name, buy_count DESC, p.id
	`)
	if err != nil {
		return nil, fmt.Errorf("query group stats: %w", err)
	}
	defer rows.Close()

	var stats []GroupStat
	for rows.Next() {
		var (
			s     GroupStat
			brand sql.NullString
		)
		if err := rows.Scan(&s.GenericName, &s.ProductID, &s.ProductName, &brand, &s.Price, &s.BuyCount); err != nil {
			return nil, fmt.Errorf("scan group stat: %w", err)
		}
		s.Brand = brand.String
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// UnmatchedItems returns the items of a purchase that have no product yet.
func (r *PurchaseRepository) UnmatchedItems(ctx context.Context, purchaseID int64) ([]PurchaseItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, purchase_id, product_id, raw_name, quantity, unit_price, match_confidence
		FROM purchase_items
		WHERE purchase_id = ? AND product_id IS NULL
		ORDER BY id
	`, purchaseID)
	if err != nil {
		return nil, fmt.Errorf("list unmatched items: %w", err)
	}
	defer rows.Close()

	var items []PurchaseItem
	for rows.Next() {
		var item PurchaseItem
		if err := rows.Scan(&item.ID, &item.PurchaseID, &item.ProductID, &item.RawName,
			&item.Quantity, &item.UnitPrice, &item.MatchConfidence); err != nil {
			return nil, fmt.Errorf("scan purchase item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// SetItemMatch links a purchase item to a product.
func (r *PurchaseRepository) SetItemMatch(ctx context.Context, itemID, productID int64, confidence float64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE purchase_items SET product_id = ?, match_confidence = ? WHERE id = ?
	`, productID, confidence, itemID)
	if err != nil {
		return fmt.Errorf("set item match: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("purchase item %d: %w", itemID, ErrNotFound)
	}
	return nil
}

// DatedItems returns matched purchase lines with an order date, ordered by
// generic name then date.
func (r *PurchaseRepository) DatedItems(ctx context.Context) ([]DatedItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT p.generic_name, pu.order_date, pi.quantity
		FROM purchase_items pi
		JOIN products p ON p.id = pi.product_id
		JOIN purchases pu ON pu.id = pi.purchase_id
		WHERE pi.product_id IS NOT NULL
			AND p.generic_name IS NOT NULL
			AND pu.order_date IS NOT NULL
		ORDER BY p.generic_name, pu.order_date
	`)
	if err != nil {
		return nil, fmt.Errorf("list dated items: %w", err)
	}
	defer rows.Close()

	var items []DatedItem
	for rows.Next() {
		var item DatedItem
		if err := rows.Scan(&item.GenericName, &item.OrderDate, &item.Quantity); err != nil {
			return nil, fmt.Errorf("scan dated item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// truncateDay drops the clock part of t.
func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
