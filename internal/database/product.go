package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/maltedev/amazon-search-scraper/internal/models"
)

// TopValueLimit is how many rows TopValue returns at most.
const TopValueLimit = 3

// ProductRow is a stored product as reported: prices in major units and
// delivery rendered as "Yes" or "No".
type ProductRow struct {
	Title        string   `json:"title"`
	URL          string   `json:"url"`
	Rating       *float64 `json:"rating"`
	Reviews      *int64   `json:"reviews"`
	CurrentPrice *float64 `json:"current_price"`
	BasePrice    *float64 `json:"base_price"`
	Delivery     string   `json:"delivery"`
}

// CreateTable creates the products table if it does not exist.
func (db *DB) CreateTable(ctx context.Context) error {
	for _, stmt := range db.dialect.schema {
		if _, err := db.sql.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create products table: %w", err)
		}
	}
	return nil
}

// TruncateTable drops and recreates the products table.
func (db *DB) TruncateTable(ctx context.Context) error {
	return db.Transaction(ctx, func(tx *sql.Tx) error {
		return db.truncateTx(ctx, tx)
	})
}

// InsertProducts inserts all products in one transaction; a single failing
// row, such as a duplicate url, leaves the table unchanged.
func (db *DB) InsertProducts(ctx context.Context, products []models.Product) error {
	return db.Transaction(ctx, func(tx *sql.Tx) error {
		return db.insertTx(ctx, tx, products)
	})
}

// ReplaceProductsTx swaps the stored set for products within tx. An empty
// batch leaves the existing rows alone.
func (db *DB) ReplaceProductsTx(ctx context.Context, tx *sql.Tx, products []models.Product) error {
	if len(products) == 0 {
		return nil
	}
	if err := db.truncateTx(ctx, tx); err != nil {
		return err
	}
	return db.insertTx(ctx, tx, products)
}

func (db *DB) truncateTx(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS products`); err != nil {
		return fmt.Errorf("failed to drop products table: %w", err)
	}
	for _, stmt := range db.dialect.schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to recreate products table: %w", err)
		}
	}
	return nil
}

func (db *DB) insertTx(ctx context.Context, tx *sql.Tx, products []models.Product) error {
	stmt, err := tx.PrepareContext(ctx, db.rebind(`
		INSERT INTO products (title, url, rating, reviews, current_price, base_price, delivery)
		VALUES (?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range products {
		if problems := p.Validate(); len(problems) > 0 {
			return fmt.Errorf("%w %s: %s", ErrInvalidProduct, p.URL, strings.Join(problems, "; "))
		}

		delivery := 0
		if p.DeliveryAvailable {
			delivery = 1
		}

		_, err := stmt.ExecContext(ctx,
			p.Title, p.URL, nullFloat(p.Rating), p.Reviews,
			nullInt(p.CurrentPrice), nullInt(p.OriginalPrice), delivery,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s", ErrDuplicateURL, p.URL)
			}
			return fmt.Errorf("failed to insert product %s: %w", p.URL, err)
		}
	}

	return nil
}

func (db *DB) columns() string {
	return fmt.Sprintf(`title, url, rating, reviews,
		CAST(current_price AS %[1]s)/100 AS current_price,
		CAST(base_price AS %[1]s)/100 AS base_price,
		(CASE delivery WHEN 1 THEN 'Yes' ELSE 'No' END) AS delivery`, db.dialect.floatType)
}

// SelectAll returns every stored product in insertion order.
func (db *DB) SelectAll(ctx context.Context) ([]ProductRow, error) {
	query := `SELECT ` + db.columns() + ` FROM products ORDER BY id`
	return db.queryRows(ctx, query)
}

// AveragePrice averages the current price in major units. It returns nil
// when no row has a current price.
func (db *DB) AveragePrice(ctx context.Context) (*float64, error) {
	query := fmt.Sprintf(`SELECT AVG(CAST(current_price AS %s)/100) FROM products`, db.dialect.floatType)

	var avg sql.NullFloat64
	if err := db.sql.QueryRowContext(ctx, query).Scan(&avg); err != nil {
		return nil, fmt.Errorf("failed to compute average price: %w", err)
	}
	if !avg.Valid {
		return nil, nil
	}
	return &avg.Float64, nil
}

// MaxDiscount returns the row with the largest base minus current price
// among rows that have both, or nil when there is none.
func (db *DB) MaxDiscount(ctx context.Context) (*ProductRow, error) {
	query := `SELECT ` + db.columns() + `
		FROM products
		WHERE current_price IS NOT NULL AND base_price IS NOT NULL
		ORDER BY (base_price - current_price) DESC, id
		LIMIT 1`

	rows, err := db.queryRows(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// TopValue returns up to TopValueLimit rows ordered by rating per unit of
// current price. Rows without a rating or current price are excluded; a zero
// price sorts last instead of dividing by zero.
func (db *DB) TopValue(ctx context.Context) ([]ProductRow, error) {
	query := db.rebind(`SELECT ` + db.columns() + `
		FROM products
		WHERE current_price IS NOT NULL AND rating IS NOT NULL
		ORDER BY (rating / NULLIF(current_price, 0)) DESC NULLS LAST, id
		LIMIT ?`)
	return db.queryRows(ctx, query, TopValueLimit)
}

// Count returns the number of stored products.
func (db *DB) Count(ctx context.Context) (int, error) {
	var n int
	if err := db.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count products: %w", err)
	}
	return n, nil
}

func (db *DB) queryRows(ctx context.Context, query string, args ...any) ([]ProductRow, error) {
	rows, err := db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	out := []ProductRow{}
	for rows.Next() {
		var (
			row                   ProductRow
			rating, current, base sql.NullFloat64
			reviews               sql.NullInt64
		)
		if err := rows.Scan(&row.Title, &row.URL, &rating, &reviews, &current, &base, &row.Delivery); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		row.Rating = floatPtr(rating)
		row.CurrentPrice = floatPtr(current)
		row.BasePrice = floatPtr(base)
		if reviews.Valid {
			row.Reviews = &reviews.Int64
		}
		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return out, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
