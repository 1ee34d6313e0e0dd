// Package repository implements constrained CRUD over any registered entity.
//
// Writes are pre-validated against the table's introspected foreign keys and
// unique constraints so callers get precise NotFound / AlreadyExists errors.
// The pre-checks are best-effort; the store's own constraints remain the
// final word and their violations are mapped to the same errors.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"strings"

	"inventory-platform/internal/apperr"
	"inventory-platform/internal/db"
	"inventory-platform/internal/filter"
	"inventory-platform/internal/introspect"
	"inventory-platform/internal/schema"
	"inventory-platform/pkg/logger"
)

// Values is loosely typed input keyed by column name.
type Values map[string]any

// Repository is the data-access object for entity type T. It holds no
// per-request state; every operation runs on the caller's Session.
type Repository[T any] struct {
	entity    *schema.Entity
	inspector *introspect.Introspector
	compiler  *filter.Compiler
}

// New binds entity to T. entity must have been built from T.
func New[T any](entity *schema.Entity, inspector *introspect.Introspector, compiler *filter.Compiler) (*Repository[T], error) {
	if entity.Type != reflect.TypeFor[T]() {
		return nil, fmt.Errorf("repository: entity %s describes %s, not %s", entity.Name, entity.Type, reflect.TypeFor[T]())
	}
	return &Repository[T]{entity: entity, inspector: inspector, compiler: compiler}, nil
}

func MustNew[T any](entity *schema.Entity, inspector *introspect.Introspector, compiler *filter.Compiler) *Repository[T] {
	r, err := New[T](entity, inspector, compiler)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Repository[T]) Entity() *schema.Entity { return r.entity }

type listOptions struct {
	preload []string
}

// ListOption tunes ListAndCount.
type ListOption func(*listOptions)

// Preload batch-loads the member ids of relation for every item on the page.
// Items receive them through schema.RelatedSetter.
func Preload(relation string) ListOption {
	return func(o *listOptions) { o.preload = append(o.preload, relation) }
}

// ListAndCount returns the number of rows matching spec's search and field
// filters, and the requested page of them.
func (r *Repository[T]) ListAndCount(ctx context.Context, s *db.Session, spec filter.Spec, opts ...ListOption) (int, []*T, error) {
	var o listOptions
	for _, opt := range opts {
		opt(&o)
	}

	q, err := r.compiler.Filter(ctx, r.entity, r.selectAll(), spec)
	if err != nil {
		return 0, nil, err
	}
	total, err := s.Count(ctx, q)
	if err != nil {
		return 0, nil, fmt.Errorf("count %s: %w", r.entity.Table, err)
	}

	rows, err := s.Select(ctx, r.entity, r.compiler.Window(ctx, r.entity, q.Clone(), spec))
	if err != nil {
		return 0, nil, err
	}
	for _, rel := range o.preload {
		if err := r.preload(ctx, s, rel, rows); err != nil {
			return 0, nil, err
		}
	}
	return total, typed[T](rows), nil
}

// Create validates references and uniqueness, then inserts. Keys in exclude,
// unknown columns and readonly columns are dropped from input.
func (r *Repository[T]) Create(ctx context.Context, s *db.Session, input Values, exclude ...string) (*T, error) {
	values, err := r.clean(ctx, input, exclude, true)
	if err != nil {
		return nil, err
	}
	info, err := r.inspector.Constraints(ctx, s, r.entity.Table)
	if err != nil {
		return nil, err
	}
	if err := r.checkReferences(ctx, s, info, values); err != nil {
		return nil, err
	}
	for _, cols := range info.UniqueConstraints {
		tuple, ok := tupleFrom(cols, values, nil)
		if !ok {
			continue
		}
		if err := r.checkUnique(ctx, s, cols, tuple, nil); err != nil {
			return nil, err
		}
	}

	obj := new(T)
	if err := s.Insert(ctx, r.entity, values, obj); err != nil {
		return nil, r.mapViolation(s, info, values, nil, err)
	}
	return obj, nil
}

// Update applies input to obj. Mutable structured columns given a map are
// shallow-merged into their current value; any other value replaces the
// column. The primary key and readonly columns are never written.
func (r *Repository[T]) Update(ctx context.Context, s *db.Session, obj *T, input Values, exclude ...string) (*T, error) {
	values, err := r.clean(ctx, input, exclude, false)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return obj, nil
	}
	if err := r.mergeMutable(obj, values); err != nil {
		return nil, err
	}

	info, err := r.inspector.Constraints(ctx, s, r.entity.Table)
	if err != nil {
		return nil, err
	}
	if err := r.checkReferences(ctx, s, info, values); err != nil {
		return nil, err
	}

	pk, err := r.entity.PKValue(obj)
	if err != nil {
		return nil, err
	}
	current, err := r.current(obj)
	if err != nil {
		return nil, err
	}
	for _, cols := range info.UniqueConstraints {
		if !touches(cols, values) {
			continue
		}
		tuple, ok := tupleFrom(cols, values, current)
		if !ok {
			continue
		}
		if err := r.checkUnique(ctx, s, cols, tuple, pk); err != nil {
			return nil, err
		}
	}

	if err := s.Update(ctx, r.entity, obj, values); err != nil {
		return nil, r.mapViolation(s, info, values, current, err)
	}
	return obj, nil
}

// GetOneOr404 loads the row with primary key pk.
func (r *Repository[T]) GetOneOr404(ctx context.Context, s *db.Session, pk any) (*T, error) {
	rows, err := fetchMulti(ctx, s, r.entity, []any{pk})
	if err != nil {
		return nil, err
	}
	return rows[0].(*T), nil
}

// GetMultiOr404 loads every requested row, in request order. A single
// unresolved id fails the whole call.
func (r *Repository[T]) GetMultiOr404(ctx context.Context, s *db.Session, pks []any) ([]*T, error) {
	rows, err := fetchMulti(ctx, s, r.entity, pks)
	if err != nil {
		return nil, err
	}
	return typed[T](rows), nil
}

// Delete removes obj. Dependent rows are handled by the store's foreign keys.
func (r *Repository[T]) Delete(ctx context.Context, s *db.Session, obj *T) error {
	return s.Delete(ctx, r.entity, obj)
}

func (r *Repository[T]) selectAll() *db.SelectQuery {
	return db.Select(r.entity.Table, r.entity.Columns()...)
}

// clean drops excluded, unknown and readonly keys and coerces scalar values.
// The primary key is kept only on create.
func (r *Repository[T]) clean(ctx context.Context, input Values, exclude []string, create bool) (map[string]any, error) {
	out := make(map[string]any, len(input))
	for key, v := range input {
		if slices.Contains(exclude, key) {
			continue
		}
		f, ok := r.entity.Field(key)
		if !ok {
			logger.From(ctx).Debug("dropping unknown input key",
				slog.String("entity", r.entity.Name), slog.String("key", key))
			continue
		}
		if f.ReadOnly || (f.PK && !create) {
			continue
		}
		cv, err := f.Coerce(v)
		if err != nil {
			return nil, &apperr.InvalidError{Entity: r.entity.Name, Field: key, Value: v, Err: err}
		}
		out[key] = cv
	}
	return out, nil
}

// mergeMutable rewrites map updates of mutable columns into the merged value.
func (r *Repository[T]) mergeMutable(obj *T, values map[string]any) error {
	for key, v := range values {
		f, _ := r.entity.Field(key)
		if f.Kind != schema.KindMutable {
			continue
		}
		patch, ok := v.(map[string]any)
		if !ok {
			continue
		}
		cur, err := r.entity.Get(obj, key)
		if err != nil {
			return err
		}
		// Only an existing object is merged into; anything else is replaced.
		merged, ok := asMap(cur)
		if !ok {
			continue
		}
		for k, pv := range patch {
			merged[k] = pv
		}
		values[key] = merged
	}
	return nil
}

// current returns obj's column values as plain Go values.
func (r *Repository[T]) current(obj *T) (map[string]any, error) {
	out := make(map[string]any, len(r.entity.Fields))
	for _, f := range r.entity.Fields {
		v, err := r.entity.Get(obj, f.Name)
		if err != nil {
			return nil, err
		}
		out[f.Name] = plain(v)
	}
	return out, nil
}

func (r *Repository[T]) checkReferences(ctx context.Context, s *db.Session, info *introspect.ConstraintInfo, values map[string]any) error {
	cols := make([]string, 0, len(info.ForeignKeys))
	for col := range info.ForeignKeys {
		cols = append(cols, col)
	}
	slices.Sort(cols)

	for _, col := range cols {
		v, ok := values[col]
		if !ok || plain(v) == nil {
			continue
		}
		ref := info.ForeignKeys[col]
		d := s.Dialect()
		query := "SELECT 1 FROM " + d.Quote(ref.Table) + " WHERE " + d.Quote(ref.Column) + " = ? LIMIT 1"
		arg, err := r.dbValue(col, v)
		if err != nil {
			return err
		}
		found, err := exists(ctx, s, query, arg)
		if err != nil {
			return fmt.Errorf("probe %s.%s: %w", ref.Table, ref.Column, err)
		}
		if !found {
			return apperr.NotFound(ref.Table, col, plain(v))
		}
	}
	return nil
}

// checkUnique fails when another row (other than excludePK, if set) already
// holds tuple in cols.
func (r *Repository[T]) checkUnique(ctx context.Context, s *db.Session, cols []string, tuple []any, excludePK any) error {
	d := s.Dialect()
	conds := make([]string, len(cols))
	args := make([]any, 0, len(cols)+1)
	for i, col := range cols {
		conds[i] = d.Quote(col) + " = ?"
		arg, err := r.dbValue(col, tuple[i])
		if err != nil {
			return err
		}
		args = append(args, arg)
	}
	if excludePK != nil {
		conds = append(conds, d.Quote(r.entity.PK.Name)+" <> ?")
		args = append(args, excludePK)
	}
	query := "SELECT 1 FROM " + d.Quote(r.entity.Table) + " WHERE " + strings.Join(conds, " AND ") + " LIMIT 1"

	found, err := exists(ctx, s, query, args...)
	if err != nil {
		return fmt.Errorf("probe %s unique %v: %w", r.entity.Table, cols, err)
	}
	if found {
		return apperr.AlreadyExists(r.entity.Name, strings.Join(cols, ","), formatTuple(tuple))
	}
	return nil
}

func (r *Repository[T]) dbValue(col string, v any) (any, error) {
	f, ok := r.entity.Field(col)
	if !ok {
		return plain(v), nil
	}
	return f.DBValue(v)
}

// mapViolation turns a constraint violation the pre-checks raced past into
// the matching domain error. fallback supplies the row's current values on
// update.
func (r *Repository[T]) mapViolation(s *db.Session, info *introspect.ConstraintInfo, values, fallback map[string]any, err error) error {
	d := s.Dialect()
	reported := d.ViolationColumns(err)
	switch {
	case d.IsUniqueViolation(err):
		if cols := violatedUnique(info.UniqueConstraints, reported, values); cols != nil {
			if tuple, ok := tupleFrom(cols, values, fallback); ok {
				return apperr.AlreadyExists(r.entity.Name, strings.Join(cols, ","), formatTuple(tuple))
			}
		}
		cols := make([]string, 0, len(values))
		for col := range values {
			cols = append(cols, col)
		}
		slices.Sort(cols)
		tuple := make([]any, len(cols))
		for i, col := range cols {
			tuple[i] = plain(values[col])
		}
		return apperr.AlreadyExists(r.entity.Name, strings.Join(cols, ","), formatTuple(tuple))
	case d.IsForeignKeyViolation(err):
		cols := make([]string, 0, len(info.ForeignKeys))
		for col := range info.ForeignKeys {
			if len(reported) == 1 && reported[0] != col {
				continue
			}
			cols = append(cols, col)
		}
		slices.Sort(cols)
		for _, col := range cols {
			if v, ok := values[col]; ok && plain(v) != nil {
				return apperr.NotFound(info.ForeignKeys[col].Table, col, plain(v))
			}
		}
	}
	return err
}

// violatedUnique picks the constraint a unique violation refers to: the one
// the driver reported, else the first one the written values touch.
func violatedUnique(constraints [][]string, reported []string, values map[string]any) []string {
	if len(reported) > 0 {
		for _, cols := range constraints {
			if sameColumns(cols, reported) {
				return cols
			}
		}
	}
	for _, cols := range constraints {
		if touches(cols, values) {
			return cols
		}
	}
	return nil
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x, y := slices.Clone(a), slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(x, y)
}

// fetchMulti loads the rows of e with the given primary keys, in order.
func fetchMulti(ctx context.Context, s *db.Session, e *schema.Entity, pks []any) ([]any, error) {
	if len(pks) == 0 {
		return []any{}, nil
	}
	keys := make([]any, len(pks))
	var distinct []any
	seen := map[string]bool{}
	for i, pk := range pks {
		v, err := e.PK.Coerce(pk)
		if err != nil {
			return nil, apperr.NotFound(e.Name, e.PK.Name, pk)
		}
		keys[i] = v
		if k := keyOf(v); !seen[k] {
			seen[k] = true
			distinct = append(distinct, v)
		}
	}

	q := db.Select(e.Table, e.Columns()...).
		Where(s.Dialect().Quote(e.PK.Name)+" IN ("+placeholders(len(distinct))+")", distinct...)
	rows, err := s.Select(ctx, e, q)
	if err != nil {
		return nil, err
	}

	byKey := make(map[string]any, len(rows))
	for _, row := range rows {
		pk, err := e.PKValue(row)
		if err != nil {
			return nil, err
		}
		byKey[keyOf(pk)] = row
	}
	out := make([]any, len(keys))
	for i, k := range keys {
		row, ok := byKey[keyOf(k)]
		if !ok {
			return nil, apperr.NotFound(e.Name, e.PK.Name, k)
		}
		out[i] = row
	}
	return out, nil
}

func exists(ctx context.Context, s *db.Session, query string, args ...any) (bool, error) {
	var one int
	err := s.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// tupleFrom returns the values of cols, taken from values and then fallback.
// ok is false when any of them is missing or nil.
func tupleFrom(cols []string, values, fallback map[string]any) ([]any, bool) {
	tuple := make([]any, len(cols))
	for i, col := range cols {
		v, ok := values[col]
		if !ok {
			v, ok = fallback[col]
		}
		v = plain(v)
		if !ok || v == nil {
			return nil, false
		}
		tuple[i] = v
	}
	return tuple, true
}

func touches(cols []string, values map[string]any) bool {
	for _, c := range cols {
		if _, ok := values[c]; ok {
			return true
		}
	}
	return false
}

func formatTuple(tuple []any) any {
	if len(tuple) == 1 {
		return tuple[0]
	}
	parts := make([]string, len(tuple))
	for i, v := range tuple {
		parts[i] = fmt.Sprint(v)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// plain dereferences pointers so nil pointers compare as nil.
func plain(v any) any {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil
	}
	return rv.Interface()
}

func keyOf(v any) string {
	return fmt.Sprint(plain(v))
}

func asMap(v any) (map[string]any, bool) {
	out := map[string]any{}
	if plain(v) == nil {
		return out, true
	}
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return out, err == nil
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, false
	}
	return out, true
}

func typed[T any](rows []any) []*T {
	out := make([]*T, len(rows))
	for i, row := range rows {
		out[i] = row.(*T)
	}
	return out
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
