package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

const productColumns = `p.id, p.nw_product_id, p.name, p.brand, p.generic_name, p.category,
	p.subcategory, p.price, p.unit_size, p.image_url, p.in_stock, p.on_special, p.special_price`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// productDest returns scan targets for productColumns followed by extra.
func productDest(p *Product, raw *rawProduct, extra ...interface{}) []interface{} {
	dest := []interface{}{
		&p.ID, &raw.externalID, &p.Name, &raw.brand, &raw.genericName, &raw.category,
		&raw.subcategory, &p.Price, &raw.unitSize, &raw.imageURL, &p.InStock, &p.OnSpecial, &p.SpecialPrice,
	}
	return append(dest, extra...)
}

type rawProduct struct {
	externalID  sql.NullString
	brand       sql.NullString
	genericName sql.NullString
	category    sql.NullString
	subcategory sql.NullString
	unitSize    sql.NullString
	imageURL    sql.NullString
}

func (raw *rawProduct) apply(p *Product) {
	p.ExternalID = raw.externalID.String
	p.Brand = raw.brand.String
	p.GenericName = raw.genericName.String
	p.Category = raw.category.String
	p.Subcategory = raw.subcategory.String
	p.UnitSize = raw.unitSize.String
	p.ImageURL = raw.imageURL.String
}

func scanProduct(s rowScanner, extra ...interface{}) (Product, error) {
	var (
		p   Product
		raw rawProduct
	)
	if err := s.Scan(productDest(&p, &raw, extra...)...); err != nil {
		return Product{}, err
	}
	raw.apply(&p)
	return p, nil
}

func nullDecimalArg(d decimal.NullDecimal) interface{} {
	if !d.Valid {
		return nil
	}
	return d.Decimal.InexactFloat64()
}

// ProductRepository reads and writes catalog products.
type ProductRepository struct {
	db DB
}

// NewProductRepository creates a new product repository.
func NewProductRepository(db DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// Save inserts a product or updates it by external catalog id, setting p.ID.
func (r *ProductRepository) Save(ctx context.Context, p *Product) error {
	query := `
		INSERT INTO products (nw_product_id, name, brand, generic_name, category, subcategory,
			price, unit_size, image_url, in_stock, on_special, special_price)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(nw_product_id) DO UPDATE SET
			name = excluded.name,
			brand = excluded.brand,
			generic_name = excluded.generic_name,
			category = excluded.category,
			subcategory = excluded.subcategory,
			price = excluded.price,
			unit_size = excluded.unit_size,
			image_url = excluded.image_url,
			in_stock = excluded.in_stock,
			on_special = excluded.on_special,
			special_price = excluded.special_price,
			updated_at = CURRENT_TIMESTAMP
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query,
		nullString(p.ExternalID), p.Name, nullString(p.Brand), nullString(p.GenericName),
		nullString(p.Category), nullString(p.Subcategory), nullDecimalArg(p.Price),
		nullString(p.UnitSize), nullString(p.ImageURL), p.InStock, p.OnSpecial,
		nullDecimalArg(p.SpecialPrice),
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("save product: %w", err)
	}
	return nil
}

// GetByID retrieves one product.
func (r *ProductRepository) GetByID(ctx context.Context, id int64) (*Product, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products p WHERE p.id = ?`, id)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get product %d: %w", id, err)
	}
	return &p, nil
}

// GetByIDs loads products in the order of ids; unknown ids are skipped and
// duplicates collapse to their first position.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []int64) ([]Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT ` + productColumns + ` FROM products p WHERE p.id IN (` + placeholders(len(ids)) + `)`
	rows, err := r.db.QueryContext(ctx, query, int64Args(ids)...)
	if err != nil {
		return nil, fmt.Errorf("get products: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]Product, len(ids))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		byID[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	products := make([]Product, 0, len(byID))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if p, ok := byID[id]; ok && !seen[id] {
			products = append(products, p)
			seen[id] = true
		}
	}
	return products, nil
}

// FullTextSearch runs a raw FTS5 MATCH expression ordered by rank.
// Syntax errors in match are returned to the caller.
func (r *ProductRepository) FullTextSearch(ctx context.Context, match string, limit int) ([]RankedProduct, error) {
	query := `
		SELECT ` + productColumns + `, fts.rank
		FROM products_fts fts
		JOIN products p ON p.id = fts.rowid
		WHERE products_fts MATCH ?
		ORDER BY fts.rank
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, match, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []RankedProduct
	for rows.Next() {
		var rank float64
		p, err := scanProduct(rows, &rank)
		if err != nil {
			return nil, err
		}
		results = append(results, RankedProduct{Product: p, Rank: rank})
	}
	return results, rows.Err()
}

// ListUnembedded returns products that have no vector yet.
func (r *ProductRepository) ListUnembedded(ctx context.Context, limit int) ([]Product, error) {
	query := `SELECT ` + productColumns + ` FROM products p WHERE p.has_embedding = 0 ORDER BY p.id`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list unembedded products: %w", err)
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// MarkEmbedded flags products as having a vector, inside tx.
func (r *ProductRepository) MarkEmbedded(ctx context.Context, tx *sql.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE products SET has_embedding = 1 WHERE id IN (` + placeholders(len(ids)) + `)`
	if _, err := tx.ExecContext(ctx, query, int64Args(ids)...); err != nil {
		return fmt.Errorf("mark embedded: %w", err)
	}
	return nil
}

// EmbeddingCoverage returns how many products have vectors out of the total.
func (r *ProductRepository) EmbeddingCoverage(ctx context.Context) (embedded, total int, err error) {
	err = r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(has_embedding), 0), COUNT(*) FROM products
	`).Scan(&embedded, &total)
	if err != nil {
		return 0, 0, fmt.Errorf("embedding coverage: %w", err)
	}
	return embedded, total, nil
}

// Begin starts a transaction on the underlying database.
func (r *ProductRepository) Begin(ctx context.Context) (*sql.Tx, error) {
	return r.db.BeginTx(ctx, nil)
}
