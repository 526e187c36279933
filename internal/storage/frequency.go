package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// FrequencyRepository stores the purchase frequency summary.
type FrequencyRepository struct {
	db DB
}

// NewFrequencyRepository creates a new frequency repository.
func NewFrequencyRepository(db DB) *FrequencyRepository {
	return &FrequencyRepository{db: db}
}

// Replace clears the table and writes entries in one transaction.
func (r *FrequencyRepository) Replace(ctx context.Context, entries []FrequencyEntry) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM purchase_frequency`); err != nil {
			return fmt.Errorf("clear purchase frequency: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO purchase_frequency (generic_name, avg_days_between, last_purchased, purchase_count, typical_quantity, updated_at)
			VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		`)
		if err != nil {
			return fmt.Errorf("prepare frequency insert: %w", err)
		}
		defer stmt.Close()

		for _, e := range entries {
			if _, err := stmt.ExecContext(ctx, e.GenericName, e.AvgDaysBetween,
				truncateDay(e.LastPurchased).Format(dateLayout), e.PurchaseCount, e.TypicalQuantity); err != nil {
				return fmt.Errorf("insert frequency %q: %w", e.GenericName, err)
			}
		}
		return nil
	})
}

// Top returns the n most frequently bought items.
func (r *FrequencyRepository) Top(ctx context.Context, n int) ([]FrequencyEntry, error) {
	if n <= 0 {
		n = 20
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT generic_name, avg_days_between, last_purchased, purchase_count, typical_quantity, updated_at
		FROM purchase_frequency
		ORDER BY purchase_count DESC, generic_name
		LIMIT ?
	`, n)
	if err != nil {
		return nil, fmt.Errorf("list purchase frequency: %w", err)
	}
	defer rows.Close()

	var entries []FrequencyEntry
	for rows.Next() {
		var e FrequencyEntry
		if err := rows.Scan(&e.GenericName, &e.AvgDaysBetween, &e.LastPurchased,
			&e.PurchaseCount, &e.TypicalQuantity, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan frequency: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
