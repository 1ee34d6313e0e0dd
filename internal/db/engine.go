// Package db wraps database/sql with a dialect, a transaction-scoped Session
// and commit hooks that observe every mutation made through the Session.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"inventory-platform/internal/schema"
	"inventory-platform/pkg/utils"
)

// Op is the kind of mutation recorded on a Session.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Event is one recorded mutation. Before is nil for creates, After is nil for
// deletes. Both are Snapshot maps.
type Event struct {
	Op     Op
	Entity *schema.Entity
	PK     any
	Before map[string]any
	After  map[string]any
}

// CommitHook runs inside the transaction, after the unit of work succeeded and
// before COMMIT. A hook error rolls the whole transaction back.
type CommitHook func(ctx context.Context, s *Session, events []Event) error

// Engine owns the connection pool and the registered commit hooks.
type Engine struct {
	db      *sql.DB
	dialect Dialect

	mu    sync.RWMutex
	hooks []CommitHook
}

func NewEngine(db *sql.DB, dialect Dialect) *Engine {
	return &Engine{db: db, dialect: dialect}
}

func (e *Engine) DB() *sql.DB       { return e.db }
func (e *Engine) Dialect() Dialect { return e.dialect }

// OnCommit registers a hook. Hooks run in registration order.
func (e *Engine) OnCommit(h CommitHook) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hooks = append(e.hooks, h)
}

// Tx runs fn in a transaction. Events recorded on the Session are handed to
// the commit hooks once fn returns nil; nothing is flushed on rollback.
func (e *Engine) Tx(ctx context.Context, fn func(ctx context.Context, s *Session) error) error {
	return utils.WithTx(ctx, e.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		s := &Session{tx: tx, dialect: e.dialect}
		if err := fn(ctx, s); err != nil {
			return err
		}
		return e.flush(ctx, s)
	})
}

func (e *Engine) flush(ctx context.Context, s *Session) error {
	events := s.pending
	s.pending = nil
	if len(events) == 0 {
		return nil
	}

	e.mu.RLock()
	hooks := append([]CommitHook(nil), e.hooks...)
	e.mu.RUnlock()

	for _, h := range hooks {
		if err := h(ctx, s, events); err != nil {
			return fmt.Errorf("commit hook: %w", err)
		}
	}
	return nil
}

// QueryContext runs a read outside any transaction. "?" markers are rebound.
func (e *Engine) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return e.db.QueryContext(ctx, Rebind(e.dialect, query), args...)
}

// ExecScript runs a semicolon-separated DDL script statement by statement.
// Statements must not contain literal semicolons.
func (e *Engine) ExecScript(ctx context.Context, script string) error {
	for _, stmt := range strings.Split(script, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" || isComment(stmt) {
			continue
		}
		if _, err := e.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func isComment(stmt string) bool {
	for _, line := range strings.Split(stmt, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return false
		}
	}
	return true
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
