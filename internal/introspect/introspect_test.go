package introspect

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inventory-platform/internal/apperr"
	"inventory-platform/internal/db"
	"inventory-platform/internal/testutil"
)

type countingQuerier struct {
	db.Querier
	queries atomic.Int32
	fail    error
}

func (c *countingQuerier) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	c.queries.Add(1)
	if c.fail != nil {
		return nil, c.fail
	}
	return c.Querier.QueryContext(ctx, query, args...)
}

func TestConstraintsAreCachedAfterFirstRead(t *testing.T) {
	engine := testutil.OpenEngine(t)
	q := &countingQuerier{Querier: engine.DB()}
	in := New(engine)
	ctx := context.Background()

	info, err := in.Constraints(ctx, q, "racks")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"site_id", "name"}}, info.UniqueConstraints)
	assert.Equal(t, db.Reference{Table: "sites", Column: "id"}, info.ForeignKeys["site_id"])
	assert.EqualValues(t, 2, q.queries.Load())

	again, err := in.Constraints(ctx, q, "racks")
	require.NoError(t, err)
	assert.Same(t, info, again)
	assert.EqualValues(t, 2, q.queries.Load())
}

func TestFailureIsNotCached(t *testing.T) {
	engine := testutil.OpenEngine(t)
	q := &countingQuerier{Querier: engine.DB(), fail: errors.New("catalog unavailable")}
	in := New(engine)
	ctx := context.Background()

	_, err := in.Constraints(ctx, q, "devices")
	require.ErrorIs(t, err, apperr.ErrIntrospection)
	var ie *apperr.IntrospectionError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "devices", ie.Table)

	q.fail = nil
	info, err := in.Constraints(ctx, q, "devices")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"serial"}}, info.UniqueConstraints)
}

func TestConcurrentReadersShareOneValue(t *testing.T) {
	engine := testutil.OpenEngine(t)
	in := New(engine)
	ctx := context.Background()

	const readers = 8
	results := make([]*ConstraintInfo, readers)
	var wg sync.WaitGroup
	for i := range readers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			info, err := in.Constraints(ctx, engine.DB(), "users")
			assert.NoError(t, err)
			results[i] = info
		}()
	}
	wg.Wait()

	for _, r := range results[1:] {
		assert.Same(t, results[0], r)
	}
}
