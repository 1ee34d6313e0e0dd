// Package testutil provides store-backed fixtures for tests.
package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"inventory-platform/internal/db"
	"inventory-platform/internal/inventory"
	"inventory-platform/pkg/utils"
)

// OpenEngine opens a SQLite database in t.TempDir(), applies the inventory
// schema and registers cleanup. The pool holds a single connection, so do not
// query engine.DB() while a transaction is open.
func OpenEngine(t *testing.T) *db.Engine {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.sqlite")
	sqlDB, err := utils.OpenSQLite(context.Background(), path, 5*time.Second)
	if err != nil {
		t.Fatalf("open test sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	engine := db.NewEngine(sqlDB, db.SQLite)
	if err := inventory.ApplySchema(context.Background(), engine); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return engine
}
