package storetest

import (
	"context"
	"path/filepath"
	"testing"

	"rollcall/internal/store"
)

// Open opens a migrated SQLite database under t.TempDir and closes it
// when the test ends.
func Open(t testing.TB) *store.DB {
	t.Helper()
	db, err := store.NewDB(string(store.SQLite), filepath.Join(t.TempDir(), "rollcall.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("close test db: %v", err)
		}
	})
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}
