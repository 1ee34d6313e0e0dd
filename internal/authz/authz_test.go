package authz

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inventory-platform/internal/apperr"
	"inventory-platform/internal/cache"
	"inventory-platform/internal/db"
	"inventory-platform/internal/testutil"
)

type countingLoader struct {
	mu    sync.Mutex
	calls int
	perms map[string][]string
	err   error
}

func (l *countingLoader) Permissions(_ context.Context, roleID string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return l.perms[roleID], l.err
}

func (l *countingLoader) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

// lostRace misses on Get and loses every SetNX, as if another process filled
// the key in between.
type lostRace struct{ cache.Store }

func (lostRace) Get(context.Context, string) (string, error) { return "", cache.ErrMiss }

func (lostRace) SetNX(context.Context, string, string) (bool, error) { return false, nil }

func TestSecondLookupIsServedFromCache(t *testing.T) {
	ctx := context.Background()
	loader := &countingLoader{perms: map[string][]string{"ops": {"sites.view", "sites.add"}}}
	c := NewCache(cache.NewMemoryStore(), loader)

	first, err := c.PermissionsFor(ctx, "ops")
	require.NoError(t, err)
	second, err := c.PermissionsFor(ctx, "ops")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, []string{"sites.add", "sites.view"}, second.Sorted())
	assert.Equal(t, 1, loader.Calls())
}

func TestEmptySetIsNotCached(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	loader := &countingLoader{perms: map[string][]string{}}
	c := NewCache(store, loader)

	set, err := c.PermissionsFor(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, set)
	_, err = store.Get(ctx, Key("nobody"))
	assert.ErrorIs(t, err, cache.ErrMiss)

	_, err = c.PermissionsFor(ctx, "nobody")
	require.NoError(t, err)
	assert.Equal(t, 2, loader.Calls())
}

func TestUndecodableEntryIsOverwritten(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	require.NoError(t, store.Set(ctx, Key("ops"), "not json"))
	loader := &countingLoader{perms: map[string][]string{"ops": {"racks.view"}}}
	c := NewCache(store, loader)

	set, err := c.PermissionsFor(ctx, "ops")
	require.NoError(t, err)
	assert.True(t, set.Has("racks.view"))

	raw, err := store.Get(ctx, Key("ops"))
	require.NoError(t, err)
	assert.JSONEq(t, `["racks.view"]`, raw)
}

func TestLostFillRaceReturnsLoadedSet(t *testing.T) {
	loader := &countingLoader{perms: map[string][]string{"ops": {"tags.view"}}}
	c := NewCache(lostRace{cache.NewMemoryStore()}, loader)

	set, err := c.PermissionsFor(context.Background(), "ops")
	require.NoError(t, err)
	assert.Equal(t, NewSet("tags.view"), set)
}

func TestLoaderErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	c := NewCache(cache.NewMemoryStore(), &countingLoader{err: boom})
	_, err := c.PermissionsFor(context.Background(), "ops")
	assert.ErrorIs(t, err, boom)
}

func TestAuthorize(t *testing.T) {
	ctx := context.Background()
	loader := &countingLoader{perms: map[string][]string{"ops": {"sites.view"}}}
	c := NewCache(cache.NewMemoryStore(), loader)

	require.NoError(t, c.Authorize(ctx, "ops", "sites.view"))

	err := c.Authorize(ctx, "ops", "sites.delete")
	var denied *apperr.PermissionDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "sites.delete", denied.Permission)

	err = c.Authorize(ctx, "nobody")
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)
}

func grant(t *testing.T, engine *db.Engine, role, perm string) {
	t.Helper()
	require.NoError(t, engine.Tx(context.Background(), func(ctx context.Context, s *db.Session) error {
		if _, err := s.ExecContext(ctx,
			`INSERT INTO permissions (id, description) VALUES (?, ?) ON CONFLICT DO NOTHING`, perm, perm); err != nil {
			return err
		}
		_, err := s.ExecContext(ctx, `INSERT INTO role_permissions (role_id, permission_id) VALUES (?, ?)`, role, perm)
		return err
	}))
}

func TestGrantsAfterFillStayInvisibleUntilCleared(t *testing.T) {
	ctx := context.Background()
	engine := testutil.OpenEngine(t)
	require.NoError(t, engine.Tx(ctx, func(ctx context.Context, s *db.Session) error {
		_, err := s.ExecContext(ctx, `INSERT INTO roles (id, name) VALUES (?, ?)`, "ops", "Ops")
		return err
	}))
	store := cache.NewMemoryStore()
	c := NewCache(store, NewSQLLoader(engine))

	set, err := c.PermissionsFor(ctx, "ops")
	require.NoError(t, err)
	assert.Empty(t, set)

	// Nothing was cached for the empty role, so the first grant shows up.
	grant(t, engine, "ops", "sites.view")
	set, err = c.PermissionsFor(ctx, "ops")
	require.NoError(t, err)
	assert.Equal(t, []string{"sites.view"}, set.Sorted())

	// The populated entry now masks later grants.
	grant(t, engine, "ops", "sites.add")
	set, err = c.PermissionsFor(ctx, "ops")
	require.NoError(t, err)
	assert.Equal(t, []string{"sites.view"}, set.Sorted())

	require.NoError(t, store.Delete(ctx, Key("ops")))
	set, err = c.PermissionsFor(ctx, "ops")
	require.NoError(t, err)
	assert.Equal(t, []string{"sites.add", "sites.view"}, set.Sorted())
}
