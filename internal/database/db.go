package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrDuplicateURL is returned when an insert hits the unique url constraint.
var ErrDuplicateURL = errors.New("duplicate product url")

// ErrInvalidProduct is returned for a record that fails Product.Validate.
var ErrInvalidProduct = errors.New("invalid product")

type dialect struct {
	name       string
	driver     string
	floatType  string
	positional bool
	schema     []string
}

var (
	sqliteDialect = dialect{
		name:      "sqlite",
		driver:    "sqlite",
		floatType: "REAL",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS products (
				id              INTEGER PRIMARY KEY AUTOINCREMENT,
				title           TEXT NOT NULL,
				url             TEXT NOT NULL UNIQUE,
				rating          REAL CHECK (rating IS NULL OR rating BETWEEN 0 AND 5),
				reviews         INTEGER CHECK (reviews IS NULL OR reviews >= 0),
				current_price   INTEGER CHECK (current_price IS NULL OR current_price >= 0),
				base_price      INTEGER CHECK (base_price IS NULL OR base_price >= 0),
				delivery        INTEGER NOT NULL DEFAULT 0 CHECK (delivery = 0 OR delivery = 1)
			)`,
		},
	}

	postgresDialect = dialect{
		name:       "postgres",
		driver:     "pgx",
		floatType:  "DOUBLE PRECISION",
		positional: true,
		schema: []string{
			`CREATE TABLE IF NOT EXISTS products (
				id              BIGSERIAL PRIMARY KEY,
				title           TEXT NOT NULL,
				url             TEXT NOT NULL UNIQUE,
				rating          DOUBLE PRECISION CHECK (rating IS NULL OR rating BETWEEN 0 AND 5),
				reviews         INTEGER CHECK (reviews IS NULL OR reviews >= 0),
				current_price   BIGINT CHECK (current_price IS NULL OR current_price >= 0),
				base_price      BIGINT CHECK (base_price IS NULL OR base_price >= 0),
				delivery        SMALLINT NOT NULL DEFAULT 0 CHECK (delivery = 0 OR delivery = 1)
			)`,
		},
	}
)

const outboxSchema = `CREATE TABLE IF NOT EXISTS outbox_event (
	id              TEXT PRIMARY KEY,
	aggregate_type  TEXT NOT NULL,
	aggregate_id    TEXT NOT NULL,
	event_type      TEXT NOT NULL,
	payload         TEXT NOT NULL,
	target_stream   TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending',
	retry_count     INTEGER NOT NULL DEFAULT 0,
	error_message   TEXT,
	created_at      BIGINT NOT NULL,
	processed_at    BIGINT,
	next_retry_at   BIGINT
)`

// DB is the product store. A postgres:// or postgresql:// DSN selects
// Postgres through pgx; anything else is a SQLite file path.
type DB struct {
	sql     *sql.DB
	dialect dialect
}

func Open(ctx context.Context, dsn string) (*DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN is empty")
	}

	d := sqliteDialect
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		d = postgresDialect
	}

	conn, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", d.name, err)
	}
	if d.name == sqliteDialect.name {
		// one writer; concurrent connections only produce SQLITE_BUSY
		conn.SetMaxOpenConns(1)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{sql: conn, dialect: d}
	if err := db.migrate(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.sql.Close()
}

// Dialect names the backing engine, "sqlite" or "postgres".
func (db *DB) Dialect() string {
	return db.dialect.name
}

func (db *DB) Ping(ctx context.Context) error {
	return db.sql.PingContext(ctx)
}

func (db *DB) migrate(ctx context.Context) error {
	if err := db.CreateTable(ctx); err != nil {
		return err
	}
	if _, err := db.sql.ExecContext(ctx, outboxSchema); err != nil {
		return fmt.Errorf("failed to create outbox table: %w", err)
	}
	return nil
}

// Transaction executes a function within a database transaction
func (db *DB) Transaction(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = fmt.Errorf("tx rollback failed: %v (original error: %w)", rbErr, err)
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (db *DB) rebind(query string) string {
	if !db.dialect.positional {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			(code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(liteErr.Error(), "UNIQUE"))
	}

	return false
}
