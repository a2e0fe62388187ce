package store_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"rollcall/internal/store"
	"rollcall/internal/store/storetest"
)

func TestNewDBRejectsUnknownDriver(t *testing.T) {
	if _, err := store.NewDB("mysql", "whatever"); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestNewDBRequiresURL(t *testing.T) {
	if _, err := store.NewDB("sqlite", " "); err == nil {
		t.Fatal("expected error for empty url")
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rollcall.db")
	db, err := store.NewDB("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := db.Migrate(ctx); err != nil {
			t.Fatalf("migrate pass %d: %v", i+1, err)
		}
	}

	for _, table := range []string{"students", "admins", "attendance_sessions", "attendance_records", "schema_migrations"} {
		var name string
		err := db.Client.QueryRowContext(ctx,
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}

	var applied int
	if err := db.Client.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&applied); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if applied != 1 {
		t.Fatalf("applied migrations = %d, want 1", applied)
	}
}

func TestSingleActiveSessionIndex(t *testing.T) {
	db := storetest.Open(t)
	ctx := context.Background()
	now := time.Now().UTC()

	insert := `INSERT INTO attendance_sessions (secret_code, active, start_time) VALUES (?, ?, ?)`
	if _, err := db.Client.ExecContext(ctx, insert, "111111", true, now); err != nil {
		t.Fatalf("first active insert: %v", err)
	}
	_, err := db.Client.ExecContext(ctx, insert, "222222", true, now)
	if !store.IsUniqueViolation(err) {
		t.Fatalf("second active insert err = %v, want unique violation", err)
	}
	// Inactive rows are unconstrained.
	for i := 0; i < 2; i++ {
		if _, err := db.Client.ExecContext(ctx, insert, "333333", false, now); err != nil {
			t.Fatalf("inactive insert: %v", err)
		}
	}
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "plain", err: errors.New("boom"), want: false},
		{name: "no rows", err: sql.ErrNoRows, want: false},
		{name: "postgres unique", err: &pgconn.PgError{Code: "23505"}, want: true},
		{name: "postgres fk", err: &pgconn.PgError{Code: "23503"}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := store.IsUniqueViolation(tt.err); got != tt.want {
				t.Fatalf("IsUniqueViolation(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestInTxRollsBack(t *testing.T) {
	db := storetest.Open(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO students (roll_no, name, section) VALUES (?, ?, ?)`, "A1", "Alice", "CSE-A"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx err = %v, want %v", err, boom)
	}

	var count int
	if err := db.Client.QueryRowContext(ctx, `SELECT COUNT(*) FROM students`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("students after rollback = %d, want 0", count)
	}
}
