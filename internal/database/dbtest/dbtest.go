// Package dbtest opens throwaway migrated SQLite databases for tests.
package dbtest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/digkill/genstudio/internal/database"
)

// New returns a migrated SQLite database that lives until the test ends.
func New(tb testing.TB) *database.DB {
	tb.Helper()
	path := filepath.Join(tb.TempDir(), "studio.db")
	db, err := database.Connect(context.Background(), string(database.SQLite), path)
	if err != nil {
		tb.Fatalf("connect sqlite: %v", err)
	}
	tb.Cleanup(func() { db.Close() })
	if err := database.Migrate(context.Background(), db); err != nil {
		tb.Fatalf("migrate: %v", err)
	}
	return db
}
