package utils

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// OpenSQLite opens a single-writer SQLite pool at path. Foreign keys are
// enforced and writers wait on the busy timeout instead of failing.
// The pool is capped at one connection: never hold a transaction while
// issuing a query on the pool itself.
func OpenSQLite(ctx context.Context, path string, pingTimeout time.Duration) (*sql.DB, error) {
	params := url.Values{}
	params.Add("_pragma", "foreign_keys(1)")
	params.Add("_pragma", "busy_timeout(5000)")
	params.Add("_pragma", "journal_mode(WAL)")
	params.Set("_txlock", "immediate")

	db, err := sql.Open("sqlite", "file:"+path+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	if err := HealthCheck(ctx, db, pingTimeout); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
