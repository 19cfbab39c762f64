package sqlite

import (
	"context"
	"testing"

	"github.com/concilia/concilia/internal/config"
)

// newTestStore creates a SQLiteStorage backed by a temp file.
//
// File-based databases are more reliable than in-memory ones for connection
// pool scenarios, and a fresh t.TempDir() per test keeps tests isolated.
// Pass a custom dbPath to exercise a specific location or ":memory:".
//
// Pragmas are fixed to the defaults rather than read from the environment so
// a developer's SQLITE_* variables cannot change test behavior.
func newTestStore(t *testing.T, dbPath string) *SQLiteStorage {
	t.Helper()

	if dbPath == "" {
		dbPath = t.TempDir() + "/test.db"
	}

	ctx := context.Background()
	store, err := NewWithPragmas(ctx, dbPath, config.DefaultPragmas())
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	t.Cleanup(func() {
		if cerr := store.Close(); cerr != nil {
			t.Fatalf("Failed to close test database: %v", cerr)
		}
	})

	return store
}
