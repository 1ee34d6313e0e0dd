// Package introspect discovers unique constraints and foreign keys from the
// store's catalog and caches them for the life of the process.
package introspect

import (
	"context"
	"log/slog"
	"sync"

	"inventory-platform/internal/apperr"
	"inventory-platform/internal/db"
	"inventory-platform/pkg/logger"
)

// ConstraintInfo is the write-time rule set of one table. Treat it as
// read-only once returned.
type ConstraintInfo struct {
	UniqueConstraints [][]string
	ForeignKeys       map[string]db.Reference
}

// Introspector caches ConstraintInfo by table name. A schema change requires
// a process restart.
type Introspector struct {
	engine *db.Engine
	cache  sync.Map // table -> *ConstraintInfo
}

func New(engine *db.Engine) *Introspector {
	return &Introspector{engine: engine}
}

// Constraints returns the cached ConstraintInfo for table, querying the
// catalog on first use. q is the querier the catalog is read through, usually
// the caller's Session. Failures are returned as *apperr.IntrospectionError and
// never cached. When two callers race, the first stored value wins.
func (i *Introspector) Constraints(ctx context.Context, q db.Querier, table string) (*ConstraintInfo, error) {
	if v, ok := i.cache.Load(table); ok {
		return v.(*ConstraintInfo), nil
	}

	d := i.engine.Dialect()
	uniques, err := d.UniqueConstraints(ctx, q, table)
	if err != nil {
		return nil, &apperr.IntrospectionError{Table: table, Err: err}
	}
	fks, err := d.ForeignKeys(ctx, q, table)
	if err != nil {
		return nil, &apperr.IntrospectionError{Table: table, Err: err}
	}

	info := &ConstraintInfo{UniqueConstraints: uniques, ForeignKeys: fks}
	actual, loaded := i.cache.LoadOrStore(table, info)
	if !loaded {
		logger.From(ctx).Debug("introspected constraints",
			slog.String("table", table),
			slog.Int("unique", len(uniques)),
			slog.Int("foreign_keys", len(fks)))
	}
	return actual.(*ConstraintInfo), nil
}
