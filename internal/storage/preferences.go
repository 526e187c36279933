package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const preferenceColumns = `bp.id, bp.generic_name, bp.context, bp.preferred_product_id,
	p.name, p.brand, p.price, bp.confidence, bp.source, bp.strategy, bp.notes,
	bp.created_at, bp.updated_at`

// PreferenceRepository stores brand preferences.
type PreferenceRepository struct {
	db DB
}

// NewPreferenceRepository creates a new preference repository.
func NewPreferenceRepository(db DB) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

// NormalizeName is the key form of a generic name.
func NormalizeName(genericName string) string {
	return strings.ToLower(strings.TrimSpace(genericName))
}

func scanPreference(s rowScanner) (*Preference, error) {
	var (
		pref  Preference
		brand sql.NullString
		notes sql.NullString
	)
	err := s.Scan(
		&pref.ID, &pref.GenericName, &pref.Context, &pref.ProductID,
		&pref.ProductName, &brand, &pref.Price, &pref.Confidence, &pref.Source,
		&pref.Strategy, &notes, &pref.CreatedAt, &pref.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	pref.Brand = brand.String
	pref.Notes = notes.String
	if pref.Strategy == "" {
		pref.Strategy = StrategyFixed
	}
	return &pref, nil
}

// Get looks up the preference for genericName in context, falling back to
// the default context. Returns ErrNotFound when neither exists.
func (r *PreferenceRepository) Get(ctx context.Context, genericName, context string) (*Preference, error) {
	if context == "" {
		context = DefaultContext
	}
	name := NormalizeName(genericName)

	pref, err := r.getExact(ctx, name, context)
	if errors.Is(err, ErrNotFound) && context != DefaultContext {
		pref, err = r.getExact(ctx, name, DefaultContext)
	}
	if err != nil {
		return nil, err
	}
	return pref, nil
}

func (r *PreferenceRepository) getExact(ctx context.Context, name, context string) (*Preference, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+preferenceColumns+`
		FROM brand_preferences bp
		JOIN products p ON p.id = bp.preferred_product_id
		WHERE LOWER(bp.generic_name) = ? AND bp.context = ?
	`, name, context)

	pref, err := scanPreference(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get preference: %w", err)
	}

	if pref.CandidateIDs, err = r.candidateIDs(ctx, pref.ID); err != nil {
		return nil, err
	}
	return pref, nil
}

func (r *PreferenceRepository) candidateIDs(ctx context.Context, preferenceID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id FROM preference_candidates
		WHERE preference_id = ?
		ORDER BY position
	`, preferenceID)
	if err != nil {
		return nil, fmt.Errorf("list preference candidates: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Upsert writes the preference keyed on (generic name, context) and replaces
// its candidate list, all in one transaction. pref.ID is set on return.
func (r *PreferenceRepository) Upsert(ctx context.Context, pref *Preference) error {
	pref.GenericName = NormalizeName(pref.GenericName)
	if pref.Context == "" {
		pref.Context = DefaultContext
	}

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO brand_preferences (generic_name, context, preferred_product_id, confidence, source, notes, strategy)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(generic_name, context) DO UPDATE SET
				preferred_product_id = excluded.preferred_product_id,
				confidence = excluded.confidence,
				source = excluded.source,
				notes = excluded.notes,
				strategy = excluded.strategy,
				updated_at = CURRENT_TIMESTAMP
			RETURNING id
		`, pref.GenericName, pref.Context, pref.ProductID, pref.Confidence,
			string(pref.Source), nullString(pref.Notes), string(pref.Strategy),
		).Scan(&pref.ID)
		if err != nil {
			return fmt.Errorf("upsert preference: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM preference_candidates WHERE preference_id = ?`, pref.ID); err != nil {
			return fmt.Errorf("clear preference candidates: %w", err)
		}

		for i, id := range pref.CandidateIDs {
			if _, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO preference_candidates (preference_id, product_id, position)
				VALUES (?, ?, ?)
			`, pref.ID, id, i); err != nil {
				return fmt.Errorf("insert preference candidate: %w", err)
			}
		}
		return nil
	})
}

// List returns every preference ordered by generic name and context.
func (r *PreferenceRepository) List(ctx context.Context) ([]Preference, error) {
	return r.list(ctx, `ORDER BY bp.generic_name, bp.context`)
}

// ListByName returns the preferences of one generic name across contexts.
func (r *PreferenceRepository) ListByName(ctx context.Context, genericName string) ([]Preference, error) {
	return r.list(ctx, `WHERE LOWER(bp.generic_name) = ? ORDER BY bp.context`, NormalizeName(genericName))
}

func (r *PreferenceRepository) list(ctx context.Context, clause string, args ...interface{}) ([]Preference, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+preferenceColumns+`
		FROM brand_preferences bp
		JOIN products p ON p.id = bp.preferred_product_id
		`+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}
	defer rows.Close()

	var prefs []Preference
	for rows.Next() {
		pref, err := scanPreference(rows)
		if err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		prefs = append(prefs, *pref)
	}
	return prefs, rows.Err()
}

// DefaultContextNames returns the normalized names that already have a
// preference in the default context.
func (r *PreferenceRepository) DefaultContextNames(ctx context.Context) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT LOWER(generic_name) FROM brand_preferences WHERE context = ?
	`, DefaultContext)
	if err != nil {
		return nil, fmt.Errorf("list default preference names: %w", err)
	}
	defer rows.Close()

	names := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names[name] = true
	}
	return names, rows.Err()
}
