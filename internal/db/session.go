package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/google/uuid"

	"inventory-platform/internal/apperr"
	"inventory-platform/internal/schema"
)

var uuidType = reflect.TypeFor[uuid.UUID]()

// Session is a unit of work bound to one transaction. It is not safe for
// concurrent use. Raw queries take "?" markers.
type Session struct {
	tx      *sql.Tx
	dialect Dialect
	pending []Event
}

func (s *Session) Dialect() Dialect { return s.dialect }

func (s *Session) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.tx.QueryContext(ctx, Rebind(s.dialect, query), args...)
}

func (s *Session) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return s.tx.QueryRowContext(ctx, Rebind(s.dialect, query), args...)
}

func (s *Session) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.tx.ExecContext(ctx, Rebind(s.dialect, query), args...)
}

// Select runs q and returns one freshly allocated *T per row, where T is the
// entity's struct type.
func (s *Session) Select(ctx context.Context, e *schema.Entity, q *SelectQuery) ([]any, error) {
	query, args := q.Build(s.dialect)
	rows, err := s.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", e.Table, err)
	}
	defer rows.Close() //nolint:errcheck

	var out []any
	for rows.Next() {
		obj := e.New()
		targets, err := e.ScanTargets(obj)
		if err != nil {
			return nil, err
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", e.Table, err)
		}
		out = append(out, obj)
	}
	return out, rows.Err()
}

// Count runs the count form of q.
func (s *Session) Count(ctx context.Context, q *SelectQuery) (int, error) {
	query, args := q.BuildCount(s.dialect)
	var n int
	if err := s.tx.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

// Insert writes a row built from values and scans the stored row into dest.
// A missing UUID primary key is generated.
func (s *Session) Insert(ctx context.Context, e *schema.Entity, values map[string]any, dest any) error {
	row := make(map[string]any, len(values)+1)
	for k, v := range values {
		row[k] = v
	}
	if _, ok := row[e.PK.Name]; !ok && e.PK.Type == uuidType {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		row[e.PK.Name] = id
	}

	cols := sortedKeys(row)
	args := make([]any, len(cols))
	quoted := make([]string, len(cols))
	for i, col := range cols {
		f, ok := e.Field(col)
		if !ok {
			return fmt.Errorf("insert %s: unknown column %q", e.Table, col)
		}
		v, err := f.DBValue(row[col])
		if err != nil {
			return err
		}
		args[i] = v
		quoted[i] = s.dialect.Quote(col)
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(s.dialect.Quote(e.Table))
	if len(cols) == 0 {
		b.WriteString(" DEFAULT VALUES")
	} else {
		b.WriteString(" (" + strings.Join(quoted, ", ") + ") VALUES (")
		b.WriteString(strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))
		b.WriteString(")")
	}
	b.WriteString(" RETURNING ")
	b.WriteString(s.columnList(e))

	if err := s.scanRow(ctx, e, dest, b.String(), args...); err != nil {
		return fmt.Errorf("insert %s: %w", e.Table, err)
	}

	after, err := e.Snapshot(dest)
	if err != nil {
		return err
	}
	pk, err := e.PKValue(dest)
	if err != nil {
		return err
	}
	s.pending = append(s.pending, Event{Op: OpCreate, Entity: e, PK: pk, After: after})
	return nil
}

// Update applies values to the row identified by obj's primary key and scans
// the stored row back into obj. Empty values are a no-op.
func (s *Session) Update(ctx context.Context, e *schema.Entity, obj any, values map[string]any) error {
	if len(values) == 0 {
		return nil
	}
	before, err := e.Snapshot(obj)
	if err != nil {
		return err
	}
	pk, err := e.PKValue(obj)
	if err != nil {
		return err
	}

	cols := sortedKeys(values)
	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+1)
	for i, col := range cols {
		f, ok := e.Field(col)
		if !ok {
			return fmt.Errorf("update %s: unknown column %q", e.Table, col)
		}
		v, err := f.DBValue(values[col])
		if err != nil {
			return err
		}
		sets[i] = s.dialect.Quote(col) + " = ?"
		args = append(args, v)
	}
	args = append(args, pk)

	query := "UPDATE " + s.dialect.Quote(e.Table) +
		" SET " + strings.Join(sets, ", ") +
		" WHERE " + s.dialect.Quote(e.PK.Name) + " = ?" +
		" RETURNING " + s.columnList(e)

	if err := s.scanRow(ctx, e, obj, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NotFound(e.Name, e.PK.Name, pk)
		}
		return fmt.Errorf("update %s: %w", e.Table, err)
	}

	after, err := e.Snapshot(obj)
	if err != nil {
		return err
	}
	s.pending = append(s.pending, Event{Op: OpUpdate, Entity: e, PK: pk, Before: before, After: after})
	return nil
}

// Delete removes the row identified by obj's primary key.
func (s *Session) Delete(ctx context.Context, e *schema.Entity, obj any) error {
	before, err := e.Snapshot(obj)
	if err != nil {
		return err
	}
	pk, err := e.PKValue(obj)
	if err != nil {
		return err
	}

	query := "DELETE FROM " + s.dialect.Quote(e.Table) + " WHERE " + s.dialect.Quote(e.PK.Name) + " = ?"
	res, err := s.ExecContext(ctx, query, pk)
	if err != nil {
		return fmt.Errorf("delete %s: %w", e.Table, err)
	}
	if err := deletedOne(res, e, pk); err != nil {
		return err
	}
	s.pending = append(s.pending, Event{Op: OpDelete, Entity: e, PK: pk, Before: before})
	return nil
}

func deletedOne(res sql.Result, e *schema.Entity, pk any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s: rows affected: %w", e.Table, err)
	}
	if n == 0 {
		return apperr.NotFound(e.Name, e.PK.Name, pk)
	}
	return nil
}

// Pending returns the events recorded so far and not yet flushed.
func (s *Session) Pending() []Event {
	return append([]Event(nil), s.pending...)
}

func (s *Session) scanRow(ctx context.Context, e *schema.Entity, dest any, query string, args ...any) error {
	targets, err := e.ScanTargets(dest)
	if err != nil {
		return err
	}
	return s.QueryRowContext(ctx, query, args...).Scan(targets...)
}

func (s *Session) columnList(e *schema.Entity) string {
	cols := e.Columns()
	for i, c := range cols {
		cols[i] = s.dialect.Quote(c)
	}
	return strings.Join(cols, ", ")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
