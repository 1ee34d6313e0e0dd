package db

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inventory-platform/internal/apperr"
	"inventory-platform/internal/schema"
)

func TestSelectQueryRebindsForPostgres(t *testing.T) {
	q := Select("racks", "id", "name").
		Where(`"site_id" = ?`, 3).
		Where(`"name" IN (?, ?)`, "r1", "r2").
		OrderBy(`"label" ->> CAST(? AS TEXT)`, true, "en").
		Page(10, 20)

	sql, args := q.Build(Postgres)
	assert.Equal(t,
		`SELECT "id", "name" FROM "racks" WHERE ("site_id" = $1) AND ("name" IN ($2, $3)) ORDER BY "label" ->> CAST($4 AS TEXT) DESC LIMIT 10 OFFSET 20`,
		sql)
	assert.Equal(t, []any{3, "r1", "r2", "en"}, args)

	count, cargs := q.BuildCount(Postgres)
	assert.Equal(t, `SELECT COUNT(*) FROM "racks" WHERE ("site_id" = $1) AND ("name" IN ($2, $3))`, count)
	assert.Equal(t, []any{3, "r1", "r2"}, cargs)
}

func TestSelectQueryKeepsMarkersForSQLite(t *testing.T) {
	sql, args := Select("tags", "id").Where(`"name" = ?`, "core").Build(SQLite)
	assert.Equal(t, `SELECT "id" FROM "tags" WHERE ("name" = ?)`, sql)
	assert.Equal(t, []any{"core"}, args)
}

func TestCloneIsIndependent(t *testing.T) {
	base := Select("tags", "id").Where(`"color" = ?`, "red")
	paged := base.Clone().OrderBy(`"id"`, false).Page(5, 0)

	sql, _ := base.Build(SQLite)
	assert.Equal(t, `SELECT "id" FROM "tags" WHERE ("color" = ?)`, sql)
	assert.False(t, base.Ordered())
	assert.True(t, paged.Ordered())
}

func TestQuoteEscapesEmbeddedQuotes(t *testing.T) {
	assert.Equal(t, `"we""ird"`, SQLite.Quote(`we"ird`))
}

func TestDialectFor(t *testing.T) {
	d, err := DialectFor("pgx")
	assert.NoError(t, err)
	assert.Equal(t, "postgres", d.Name())

	_, err = DialectFor("mysql")
	assert.Error(t, err)
}

func TestSQLiteJSONKeyQuotesPath(t *testing.T) {
	expr, arg := SQLite.JSONKey(`"label"`, "de-CH")
	assert.Equal(t, `json_extract("label", ?)`, expr)
	assert.Equal(t, `$."de-CH"`, arg)
}

func TestJSONEquals(t *testing.T) {
	assert.Equal(t, `json("extra") = json(?)`, SQLite.JSONEquals(`"extra"`))
	assert.Equal(t, `"extra" = CAST(? AS JSONB)`, Postgres.JSONEquals(`"extra"`))
}

func TestPostgresViolationColumns(t *testing.T) {
	err := fmt.Errorf("insert racks: %w", &pgconn.PgError{
		Code:   "23505",
		Detail: `Key (site_id, name)=(1, r1) already exists.`,
	})
	assert.True(t, Postgres.IsUniqueViolation(err))
	assert.Equal(t, []string{"site_id", "name"}, Postgres.ViolationColumns(err))

	err = &pgconn.PgError{Code: "23503", Detail: `Key (rack_id)=(9) is not present in table "racks".`}
	assert.Equal(t, []string{"rack_id"}, Postgres.ViolationColumns(err))

	assert.Nil(t, Postgres.ViolationColumns(errors.New("boom")))
}

func TestSQLiteViolationColumns(t *testing.T) {
	err := errors.New("constraint failed: UNIQUE constraint failed: racks.site_id, racks.name (2067)")
	assert.Equal(t, []string{"site_id", "name"}, SQLite.ViolationColumns(err))
	assert.Nil(t, SQLite.ViolationColumns(errors.New("FOREIGN KEY constraint failed")))
}

type note struct {
	ID   int64  `db:"id" schema:"pk"`
	Body string `db:"body"`
}

func TestDeletedOne(t *testing.T) {
	notes := schema.MustNew[note]("Note", "notes")

	assert.NoError(t, deletedOne(driver.RowsAffected(1), notes, 7))
	assert.ErrorIs(t, deletedOne(driver.RowsAffected(0), notes, 7), apperr.ErrNotFound)

	err := deletedOne(driver.ResultNoRows, notes, 7)
	require.Error(t, err)
	assert.NotErrorIs(t, err, apperr.ErrNotFound)
	assert.Contains(t, err.Error(), "delete notes: rows affected")
}
