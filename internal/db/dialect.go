package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Reference is the target of a foreign key.
type Reference struct {
	Table  string
	Column string
}

// Querier is satisfied by *sql.DB, *sql.Tx and *Session.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Dialect isolates every SQL difference between the supported stores.
// Fragments returned by a Dialect use "?" markers; Rebind renders them.
type Dialect interface {
	Name() string
	Placeholder(n int) string
	Quote(ident string) string
	// JSONKey returns an expression extracting key from a JSON object column
	// as text, plus the argument bound to its marker.
	JSONKey(column, key string) (string, any)
	// JSONEquals compares a JSON column with the JSON text bound to one
	// marker, ignoring key order and whitespace.
	JSONEquals(column string) string
	CastText(expr string) string
	// ILike returns a case-insensitive LIKE (or NOT LIKE) against one marker.
	ILike(expr string, negate bool) string
	TimestampType() string
	JSONType() string

	// UniqueConstraints lists the column sets of every non-primary, non-partial
	// unique constraint or unique index on table.
	UniqueConstraints(ctx context.Context, q Querier, table string) ([][]string, error)
	// ForeignKeys maps each single-column foreign key on table to its target.
	ForeignKeys(ctx context.Context, q Querier, table string) (map[string]Reference, error)

	IsUniqueViolation(err error) bool
	IsForeignKeyViolation(err error) bool
	// ViolationColumns names the columns of the constraint err reports,
	// or nil when the driver does not say.
	ViolationColumns(err error) []string
}

var (
	Postgres Dialect = postgresDialect{}
	SQLite   Dialect = sqliteDialect{}
)

// DialectFor maps a configured driver name to its Dialect.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "postgres", "pgx":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", driver)
	}
}

// Rebind replaces "?" markers with the dialect's positional placeholders.
func Rebind(d Dialect, query string) string {
	if d.Placeholder(1) == "?" || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteString(d.Placeholder(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

type postgresDialect struct{}

func (postgresDialect) Name() string               { return "postgres" }
func (postgresDialect) Placeholder(n int) string   { return "$" + strconv.Itoa(n) }
func (postgresDialect) Quote(ident string) string  { return quoteIdent(ident) }
func (postgresDialect) CastText(expr string) string { return "CAST(" + expr + " AS TEXT)" }
func (postgresDialect) TimestampType() string      { return "TIMESTAMPTZ" }
func (postgresDialect) JSONType() string           { return "JSONB" }

func (postgresDialect) JSONKey(column, key string) (string, any) {
	return column + " ->> CAST(? AS TEXT)", key
}

func (postgresDialect) JSONEquals(column string) string {
	return column + " = CAST(? AS JSONB)"
}

func (postgresDialect) ILike(expr string, negate bool) string {
	if negate {
		return expr + " NOT ILIKE ?"
	}
	return expr + " ILIKE ?"
}

const pgUniqueConstraintsSQL = `
SELECT ic.relname, a.attname
FROM pg_index i
JOIN pg_class c ON c.oid = i.indrelid
JOIN pg_class ic ON ic.oid = i.indexrelid
JOIN pg_namespace n ON n.oid = c.relnamespace
CROSS JOIN LATERAL unnest(i.indkey) WITH ORDINALITY AS k(attnum, ord)
JOIN pg_attribute a ON a.attrelid = c.oid AND a.attnum = k.attnum
WHERE c.relname = $1
  AND n.nspname = current_schema()
  AND i.indisunique
  AND NOT i.indisprimary
  AND i.indpred IS NULL
ORDER BY ic.relname, k.ord
`

func (postgresDialect) UniqueConstraints(ctx context.Context, q Querier, table string) ([][]string, error) {
	return groupedColumns(ctx, q, pgUniqueConstraintsSQL, table)
}

const pgForeignKeysSQL = `
SELECT kcu.column_name, ccu.table_name, ccu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema
JOIN information_schema.constraint_column_usage ccu
  ON ccu.constraint_name = tc.constraint_name AND ccu.table_schema = tc.table_schema
WHERE tc.constraint_type = 'FOREIGN KEY'
  AND tc.table_name = $1
  AND tc.table_schema = current_schema()
ORDER BY kcu.column_name
`

func (postgresDialect) ForeignKeys(ctx context.Context, q Querier, table string) (map[string]Reference, error) {
	rows, err := q.QueryContext(ctx, pgForeignKeysSQL, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	out := map[string]Reference{}
	for rows.Next() {
		var col string
		var ref Reference
		if err := rows.Scan(&col, &ref.Table, &ref.Column); err != nil {
			return nil, err
		}
		out[col] = ref
	}
	return out, rows.Err()
}

func (postgresDialect) IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (postgresDialect) IsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

// ViolationColumns reads the key list from a detail such as
// `Key (name, slug)=(a, b) already exists.`
func (postgresDialect) ViolationColumns(err error) []string {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return nil
	}
	rest, ok := strings.CutPrefix(pgErr.Detail, "Key (")
	if !ok {
		return nil
	}
	list, _, ok := strings.Cut(rest, ")=")
	if !ok {
		return nil
	}
	cols := strings.Split(list, ", ")
	for i, c := range cols {
		cols[i] = strings.Trim(c, `"`)
	}
	return cols
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string               { return "sqlite" }
func (sqliteDialect) Placeholder(int) string     { return "?" }
func (sqliteDialect) Quote(ident string) string  { return quoteIdent(ident) }
func (sqliteDialect) CastText(expr string) string { return "CAST(" + expr + " AS TEXT)" }
func (sqliteDialect) TimestampType() string      { return "TIMESTAMP" }
func (sqliteDialect) JSONType() string           { return "TEXT" }

func (sqliteDialect) JSONKey(column, key string) (string, any) {
	return "json_extract(" + column + ", ?)", fmt.Sprintf("$.%q", key)
}

// JSONEquals relies on stored documents being written with sorted keys,
// which encoding/json guarantees for maps.
func (sqliteDialect) JSONEquals(column string) string {
	return "json(" + column + ") = json(?)"
}

func (sqliteDialect) ILike(expr string, negate bool) string {
	if negate {
		return "LOWER(" + expr + ") NOT LIKE LOWER(?)"
	}
	return "LOWER(" + expr + ") LIKE LOWER(?)"
}

const sqliteUniqueConstraintsSQL = `
SELECT il.name, ii.name
FROM pragma_index_list(?) AS il, pragma_index_info(il.name) AS ii
WHERE il."unique" = 1 AND il.origin <> 'pk' AND il.partial = 0
ORDER BY il.name, ii.seqno
`

func (sqliteDialect) UniqueConstraints(ctx context.Context, q Querier, table string) ([][]string, error) {
	return groupedColumns(ctx, q, sqliteUniqueConstraintsSQL, table)
}

const sqliteForeignKeysSQL = `SELECT "from", "table", "to" FROM pragma_foreign_key_list(?) ORDER BY "from"`

func (sqliteDialect) ForeignKeys(ctx context.Context, q Querier, table string) (map[string]Reference, error) {
	rows, err := q.QueryContext(ctx, sqliteForeignKeysSQL, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	out := map[string]Reference{}
	for rows.Next() {
		var col, target string
		var to sql.NullString
		if err := rows.Scan(&col, &target, &to); err != nil {
			return nil, err
		}
		ref := Reference{Table: target, Column: "id"}
		if to.Valid && to.String != "" {
			ref.Column = to.String
		}
		out[col] = ref
	}
	return out, rows.Err()
}

func (sqliteDialect) IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (sqliteDialect) IsForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// ViolationColumns reads the column list from a message such as
// `UNIQUE constraint failed: sites.name, sites.slug (2067)`. Foreign key
// failures carry no columns.
func (sqliteDialect) ViolationColumns(err error) []string {
	if err == nil {
		return nil
	}
	_, rest, ok := strings.Cut(err.Error(), "UNIQUE constraint failed: ")
	if !ok {
		return nil
	}
	rest, _, _ = strings.Cut(rest, " (")
	cols := strings.Split(strings.TrimSpace(rest), ", ")
	for i, c := range cols {
		if j := strings.LastIndexByte(c, '.'); j >= 0 {
			c = c[j+1:]
		}
		cols[i] = c
	}
	return cols
}

// groupedColumns runs a (constraint, column) query and groups columns by
// constraint, preserving row order.
func groupedColumns(ctx context.Context, q Querier, query, table string) ([][]string, error) {
	rows, err := q.QueryContext(ctx, query, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var out [][]string
	last := ""
	for rows.Next() {
		var name, col string
		if err := rows.Scan(&name, &col); err != nil {
			return nil, err
		}
		if len(out) == 0 || name != last {
			out = append(out, nil)
			last = name
		}
		out[len(out)-1] = append(out[len(out)-1], col)
	}
	return out, rows.Err()
}
