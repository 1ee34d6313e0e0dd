// Package filter compiles declarative list filters into SelectQuery
// conditions, ordering and paging.
//
// Filter keys are column names with an optional operator suffix:
//
//	name=edge1          equality
//	name__ic=edge       case-insensitive contains
//	rack_id=null        IS NULL
//	status=a&status=b   membership
//	u_height__le=42     at most; le and lte are the same operator
//	u_height__ge=42     at least; ge and gte are the same operator
//
// JSON columns take equality, membership and contains; a string value that
// parses as JSON is compared as a document. Keys naming unknown columns are
// ignored.
package filter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"strings"

	"inventory-platform/internal/apperr"
	"inventory-platform/internal/db"
	"inventory-platform/internal/reqctx"
	"inventory-platform/internal/schema"
	"inventory-platform/pkg/logger"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000

	opDelimiter = "__"
)

// ErrInvalid is returned for values that cannot be converted to the column
// type, or malformed paging parameters.
var ErrInvalid = apperr.ErrInvalid

// Operator suffixes.
const (
	OpEq  = "eq"
	OpNe  = "ne"
	OpIc  = "ic"
	OpNic = "nic"
	OpLe  = "le"
	OpGe  = "ge"
	OpLte = "lte"
	OpGte = "gte"
)

var operators = map[string]string{
	OpEq:  "=",
	OpNe:  "<>",
	OpLe:  "<=",
	OpGe:  ">=",
	OpLte: "<=",
	OpGte: ">=",
}

// Spec is one list request.
type Spec struct {
	Fields  map[string]any
	Q       string
	OrderBy string
	Desc    bool
	Limit   int
	Offset  int
}

// Compiler turns a Spec into conditions for one dialect. Locales lists the
// sub-keys of i18n label columns, most preferred first.
type Compiler struct {
	dialect db.Dialect
	locales []string
}

func NewCompiler(dialect db.Dialect, locales []string) *Compiler {
	return &Compiler{dialect: dialect, locales: locales}
}

// Compile applies Filter then Window.
func (c *Compiler) Compile(ctx context.Context, e *schema.Entity, q *db.SelectQuery, spec Spec) (*db.SelectQuery, error) {
	q, err := c.Filter(ctx, e, q, spec)
	if err != nil {
		return nil, err
	}
	return c.Window(ctx, e, q, spec), nil
}

// Filter adds the free-text search and every field condition to q.
func (c *Compiler) Filter(ctx context.Context, e *schema.Entity, q *db.SelectQuery, spec Spec) (*db.SelectQuery, error) {
	if spec.Q != "" {
		c.search(e, q, spec.Q)
	}

	keys := make([]string, 0, len(spec.Fields))
	for k := range spec.Fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, key := range keys {
		name, op := splitKey(key)
		f, ok := e.Field(name)
		if !ok {
			logger.From(ctx).Debug("ignoring unknown filter key",
				slog.String("entity", e.Name), slog.String("key", key))
			continue
		}
		if err := c.field(q, f, op, spec.Fields[key]); err != nil {
			return nil, err
		}
	}
	return q, nil
}

// Window orders and pages q. Without a known order_by column, rows are
// ordered by primary key. The primary key is always the final tiebreaker.
func (c *Compiler) Window(ctx context.Context, e *schema.Entity, q *db.SelectQuery, spec Spec) *db.SelectQuery {
	pk := c.dialect.Quote(e.PK.Name)
	if f, ok := e.Field(spec.OrderBy); ok && !f.PK {
		if f.Kind == schema.KindI18n {
			expr, arg := c.dialect.JSONKey(c.dialect.Quote(f.Name), c.locale(ctx))
			q.OrderBy(expr, spec.Desc, arg)
		} else {
			q.OrderBy(c.dialect.Quote(f.Name), spec.Desc)
		}
		q.OrderBy(pk, false)
	} else {
		q.OrderBy(pk, ok && spec.Desc)
	}

	return q.Page(ClampLimit(spec.Limit), max(spec.Offset, 0))
}

// ClampLimit applies the default and maximum page size.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

func (c *Compiler) locale(ctx context.Context) string {
	if l := reqctx.Locale(ctx); l != "" && slices.Contains(c.locales, l) {
		return l
	}
	if len(c.locales) > 0 {
		return c.locales[0]
	}
	return "en"
}

func splitKey(key string) (name, op string) {
	i := strings.LastIndex(key, opDelimiter)
	if i <= 0 {
		return key, ""
	}
	suffix := key[i+len(opDelimiter):]
	if _, ok := operators[suffix]; ok || suffix == OpIc || suffix == OpNic {
		return key[:i], suffix
	}
	return key, ""
}

func (c *Compiler) search(e *schema.Entity, q *db.SelectQuery, term string) {
	fields := e.SearchFields()
	if len(fields) == 0 {
		return
	}
	parts := make([]string, len(fields))
	args := make([]any, len(fields))
	for i, f := range fields {
		parts[i] = c.dialect.ILike(c.textExpr(f), false)
		args[i] = "%" + term + "%"
	}
	q.Where(strings.Join(parts, " OR "), args...)
}

// textExpr renders f as text, casting columns that are not stored as text.
func (c *Compiler) textExpr(f *schema.Field) string {
	col := c.dialect.Quote(f.Name)
	if f.Kind != schema.KindScalar || f.Type.Kind() != reflect.String {
		return c.dialect.CastText(col)
	}
	return col
}

func (c *Compiler) field(q *db.SelectQuery, f *schema.Field, op string, value any) error {
	col := c.dialect.Quote(f.Name)

	if value == nil {
		switch op {
		case "", OpEq:
			q.Where(col + " IS NULL")
		case OpNe:
			q.Where(col + " IS NOT NULL")
		}
		return nil
	}

	switch op {
	case OpIc, OpNic:
		if f.Kind == schema.KindI18n {
			return c.i18n(q, f, op, value)
		}
		q.Where(c.dialect.ILike(c.textExpr(f), op == OpNic), "%"+fmt.Sprint(value)+"%")
		return nil
	}

	if f.Kind == schema.KindI18n {
		return c.i18n(q, f, op, value)
	}
	if f.Kind.Structured() {
		return c.document(q, f, col, op, value)
	}

	if list, ok := asList(value); ok {
		switch op {
		case "", OpEq, OpNe:
			return c.membership(q, f, col, op == OpNe, list)
		}
		return fmt.Errorf("%w: %s__%s does not take a list", ErrInvalid, f.Name, op)
	}

	if b, ok := value.(bool); ok && op == "" {
		if b {
			q.Where(col + " IS TRUE")
		} else {
			q.Where(col + " IS FALSE")
		}
		return nil
	}

	v, err := coerce(f, value)
	if err != nil {
		return err
	}
	sqlOp := "="
	if op != "" {
		sqlOp = operators[op]
	}
	q.Where(col+" "+sqlOp+" ?", v)
	return nil
}

func (c *Compiler) membership(q *db.SelectQuery, f *schema.Field, col string, negate bool, list []any) error {
	if len(list) == 0 {
		if !negate {
			q.Where("1 = 0")
		}
		return nil
	}
	args := make([]any, len(list))
	for i, item := range list {
		v, err := coerce(f, item)
		if err != nil {
			return err
		}
		args[i] = v
	}
	kw := " IN ("
	if negate {
		kw = " NOT IN ("
	}
	q.Where(col+kw+placeholders(len(args))+")", args...)
	return nil
}

// document compares a JSON column with one or more documents. A string that
// parses as JSON is taken as the document text; anything else is encoded.
func (c *Compiler) document(q *db.SelectQuery, f *schema.Field, col, op string, value any) error {
	if op != "" && op != OpEq && op != OpNe {
		return fmt.Errorf("%w: %s__%s is not supported on a JSON column", ErrInvalid, f.Name, op)
	}
	negate := op == OpNe

	list, ok := asList(value)
	if !ok {
		list = []any{value}
	}
	if len(list) == 0 {
		if !negate {
			q.Where("1 = 0")
		}
		return nil
	}

	parts := make([]string, len(list))
	args := make([]any, len(list))
	for i, item := range list {
		doc, err := jsonText(item)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, f.Name, err)
		}
		parts[i] = c.dialect.JSONEquals(col)
		args[i] = doc
	}
	cond := strings.Join(parts, " OR ")
	if negate {
		cond = "NOT (" + cond + ")"
	}
	q.Where(cond, args...)
	return nil
}

// jsonText renders v as compact JSON with sorted object keys.
func jsonText(v any) (string, error) {
	if s, ok := v.(string); ok && json.Valid([]byte(s)) {
		var doc any
		if err := json.Unmarshal([]byte(s), &doc); err != nil {
			return "", err
		}
		v = doc
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// i18n matches when any known locale sub-key satisfies the condition.
// Negated operators require that none does.
func (c *Compiler) i18n(q *db.SelectQuery, f *schema.Field, op string, value any) error {
	negate := op == OpNe || op == OpNic
	col := c.dialect.Quote(f.Name)

	var list []any
	if l, ok := asList(value); ok {
		if op != "" && op != OpEq && op != OpNe {
			return fmt.Errorf("%w: %s__%s does not take a list", ErrInvalid, f.Name, op)
		}
		if len(l) == 0 {
			if !negate {
				q.Where("1 = 0")
			}
			return nil
		}
		list = l
	}

	var parts []string
	var args []any
	for _, loc := range c.locales {
		expr, keyArg := c.dialect.JSONKey(col, loc)
		switch {
		case op == OpIc || op == OpNic:
			parts = append(parts, c.dialect.ILike(expr, false))
			args = append(args, keyArg, "%"+fmt.Sprint(value)+"%")
		case list != nil:
			parts = append(parts, expr+" IN ("+placeholders(len(list))+")")
			args = append(args, keyArg)
			for _, item := range list {
				args = append(args, fmt.Sprint(item))
			}
		default:
			sqlOp := "="
			if op != "" && op != OpNe {
				sqlOp = operators[op]
			}
			parts = append(parts, expr+" "+sqlOp+" ?")
			args = append(args, keyArg, fmt.Sprint(value))
		}
	}
	if len(parts) == 0 {
		return nil
	}

	cond := strings.Join(parts, " OR ")
	if negate {
		cond = "NOT (" + cond + ")"
	}
	q.Where(cond, args...)
	return nil
}

func coerce(f *schema.Field, v any) (any, error) {
	out, err := f.Coerce(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return out, nil
}

func asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	case []byte:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
