package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect names the SQL backend behind a DB.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB wraps sql.DB with the dialect it speaks.
type DB struct {
	Client  *sql.DB
	Dialect Dialect
}

// NewDB opens a connection for the given driver ("postgres" or "sqlite")
// with sane pool defaults and pings it.
func NewDB(driver, connString string) (*DB, error) {
	if strings.TrimSpace(connString) == "" {
		return nil, fmt.Errorf("database url is required")
	}
	switch Dialect(driver) {
	case Postgres:
		db, err := sql.Open("pgx", connString)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)
		return ping(&DB{Client: db, Dialect: Postgres})
	case SQLite:
		db, err := sql.Open("sqlite", sqliteDSN(connString))
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// A single writer connection keeps SQLite out of SQLITE_BUSY under
		// concurrent requests; statements queue on the pool instead.
		db.SetMaxOpenConns(1)
		return ping(&DB{Client: db, Dialect: SQLite})
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func ping(d *DB) (*DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Client.PingContext(ctx); err != nil {
		_ = d.Client.Close()
		return nil, fmt.Errorf("ping %s: %w", d.Dialect, err)
	}
	return d, nil
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// Builder returns a squirrel statement builder using the dialect's
// placeholder format.
func (d *DB) Builder() squirrel.StatementBuilderType {
	if d.Dialect == Postgres {
		return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	}
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question)
}

// InTx runs fn inside a transaction, committing on success.
func (d *DB) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.Client.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Healthy pings the database.
func (d *DB) Healthy(ctx context.Context) bool {
	if d == nil || d.Client == nil {
		return false
	}
	return d.Client.PingContext(ctx) == nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}
