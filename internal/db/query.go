package db

import (
	"strconv"
	"strings"
)

// SelectQuery builds a single-table SELECT. Where expressions use "?" markers
// and must already quote their identifiers.
type SelectQuery struct {
	table   string
	columns []string
	where   []string
	args    []any
	order   []string
	oargs   []any
	limit   int
	offset  int
	paged   bool
}

// Select starts a query over table returning columns.
func Select(table string, columns ...string) *SelectQuery {
	return &SelectQuery{table: table, columns: columns}
}

// Where adds an AND-ed condition.
func (q *SelectQuery) Where(expr string, args ...any) *SelectQuery {
	q.where = append(q.where, expr)
	q.args = append(q.args, args...)
	return q
}

// OrderBy appends a sort key. expr must already be quoted; args bind its
// markers.
func (q *SelectQuery) OrderBy(expr string, desc bool, args ...any) *SelectQuery {
	if desc {
		expr += " DESC"
	} else {
		expr += " ASC"
	}
	q.order = append(q.order, expr)
	q.oargs = append(q.oargs, args...)
	return q
}

// Page sets LIMIT and OFFSET.
func (q *SelectQuery) Page(limit, offset int) *SelectQuery {
	q.limit, q.offset, q.paged = limit, offset, true
	return q
}

// Ordered reports whether any sort key was added.
func (q *SelectQuery) Ordered() bool { return len(q.order) > 0 }

// Clone returns an independent copy.
func (q *SelectQuery) Clone() *SelectQuery {
	c := *q
	c.columns = append([]string(nil), q.columns...)
	c.where = append([]string(nil), q.where...)
	c.args = append([]any(nil), q.args...)
	c.order = append([]string(nil), q.order...)
	c.oargs = append([]any(nil), q.oargs...)
	return &c
}

// Build renders the query for d.
func (q *SelectQuery) Build(d Dialect) (string, []any) {
	cols := make([]string, len(q.columns))
	for i, c := range q.columns {
		cols[i] = d.Quote(c)
	}
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(" FROM ")
	b.WriteString(d.Quote(q.table))
	q.writeWhere(&b)
	args := append([]any(nil), q.args...)
	if len(q.order) > 0 {
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(q.order, ", "))
		args = append(args, q.oargs...)
	}
	if q.paged {
		b.WriteString(" LIMIT " + strconv.Itoa(q.limit) + " OFFSET " + strconv.Itoa(q.offset))
	}
	return Rebind(d, b.String()), args
}

// BuildCount renders SELECT COUNT(*) with the same conditions, ignoring order
// and paging.
func (q *SelectQuery) BuildCount(d Dialect) (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT COUNT(*) FROM ")
	b.WriteString(d.Quote(q.table))
	q.writeWhere(&b)
	return Rebind(d, b.String()), append([]any(nil), q.args...)
}

func (q *SelectQuery) writeWhere(b *strings.Builder) {
	if len(q.where) == 0 {
		return
	}
	b.WriteString(" WHERE ")
	for i, w := range q.where {
		if i > 0 {
			b.WriteString(" AND ")
		}
		b.WriteString("(" + w + ")")
	}
}
