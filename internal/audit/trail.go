// Package audit records every create, update and delete of an audited entity
// into a companion append-only table, from inside the transaction that made
// the change.
//
// The Trail subscribes to the engine's commit hooks rather than to repository
// call sites, so any write made through a db.Session is audited.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"inventory-platform/internal/auth"
	"inventory-platform/internal/db"
	"inventory-platform/internal/reqctx"
	"inventory-platform/internal/schema"
	"inventory-platform/pkg/logger"
)

// Store is the persistence contract for audit entries.
//
// It MUST be append-only. No Update/Delete methods are provided.
type Store interface {
	Append(ctx context.Context, s *db.Session, log *schema.Entity, e *Entry) error
	// List returns the entries of one parent row, newest first.
	List(ctx context.Context, s *db.Session, log *schema.Entity, parentID string) ([]Entry, error)
}

// Table is a declared companion audit table.
type Table struct {
	Parent *schema.Entity
	Log    *schema.Entity
}

var ErrNotAudited = errors.New("audit: entity is not audited")

// Trail owns the registry of companion tables and writes entries at commit.
type Trail struct {
	store Store
	clock func() time.Time

	mu     sync.RWMutex
	tables map[string]Table // by parent table
}

func NewTrail(store Store) *Trail {
	return &Trail{store: store, clock: time.Now, tables: map[string]Table{}}
}

// Declare registers a companion table for each entity. Declaring an entity
// twice is a no-op. Call it at startup, before Attach.
func (t *Trail) Declare(parents ...*schema.Entity) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range parents {
		if _, ok := t.tables[p.Table]; ok {
			continue
		}
		log, err := schema.New[Entry](p.Name+"AuditLog", TableName(p.Table))
		if err != nil {
			return fmt.Errorf("audit: declare %s: %w", p.Table, err)
		}
		t.tables[p.Table] = Table{Parent: p, Log: log}
	}
	return nil
}

// DeclareAudited declares every entity in r marked schema.Audited.
func (t *Trail) DeclareAudited(r *schema.Registry) error {
	for _, e := range r.All() {
		if e.Audited {
			if err := t.Declare(e); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *Trail) Table(parent string) (Table, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tbl, ok := t.tables[parent]
	return tbl, ok
}

// Tables returns every declared table ordered by parent table name.
func (t *Trail) Tables() []Table {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Table, 0, len(t.tables))
	for _, tbl := range t.tables {
		out = append(out, tbl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Parent.Table < out[j].Parent.Table })
	return out
}

// Attach subscribes the trail to engine's commit hooks.
func (t *Trail) Attach(engine *db.Engine) {
	engine.OnCommit(t.onCommit)
}

// EnsureTables creates every declared companion table that does not exist.
func (t *Trail) EnsureTables(ctx context.Context, engine *db.Engine) error {
	d := engine.Dialect()
	for _, tbl := range t.Tables() {
		name := tbl.Log.Table
		ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id            VARCHAR(36) PRIMARY KEY,
    created_at    %s NOT NULL,
    request_id    TEXT,
    actor_user_id TEXT,
    action        VARCHAR(16) NOT NULL,
    parent_id     TEXT NOT NULL,
    diff          %s,
    post_change   %s
);
CREATE INDEX IF NOT EXISTS %s ON %s (parent_id, created_at)`,
			d.Quote(name), d.TimestampType(), d.JSONType(), d.JSONType(),
			d.Quote(name+"_parent_id"), d.Quote(name))
		if err := engine.ExecScript(ctx, ddl); err != nil {
			return fmt.Errorf("audit: ensure %s: %w", name, err)
		}
	}
	return nil
}

// Entries returns the history of one parent row, newest first.
func (t *Trail) Entries(ctx context.Context, s *db.Session, parent *schema.Entity, parentID any) ([]Entry, error) {
	tbl, ok := t.Table(parent.Table)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotAudited, parent.Name)
	}
	return t.store.List(ctx, s, tbl.Log, fmt.Sprint(parentID))
}

func (t *Trail) onCommit(ctx context.Context, s *db.Session, events []db.Event) error {
	for _, ev := range events {
		tbl, ok := t.Table(ev.Entity.Table)
		if !ok {
			continue
		}
		e, ok := t.entry(ctx, ev)
		if !ok {
			continue
		}
		if err := t.store.Append(ctx, s, tbl.Log, e); err != nil {
			return err
		}
		logger.From(ctx).Debug("audit entry written",
			slog.String("table", tbl.Log.Table),
			slog.String("action", string(e.Action)),
			slog.String("parent_id", e.ParentID))
	}
	return nil
}

// entry builds the record for ev. ok is false for an update that changed
// nothing.
func (t *Trail) entry(ctx context.Context, ev db.Event) (*Entry, bool) {
	e := &Entry{
		CreatedAt: t.clock().UTC(),
		ParentID:  fmt.Sprint(ev.PK),
	}
	if uid, err := auth.UserID(ctx); err == nil {
		e.ActorUserID = &uid
	}
	if rid := reqctx.RequestID(ctx); rid != "" {
		e.RequestID = &rid
	}

	switch ev.Op {
	case db.OpCreate:
		e.Action = ActionCreate
		e.PostChange = ev.After
	case db.OpUpdate:
		diff := Diff(ev.Before, ev.After)
		if len(diff) == 0 {
			return nil, false
		}
		e.Action = ActionUpdate
		e.Diff = diff
	case db.OpDelete:
		e.Action = ActionDelete
		e.PostChange = ev.Before
	default:
		return nil, false
	}
	return e, true
}
