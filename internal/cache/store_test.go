package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  NewRedisStore(rdb, "test:"),
	}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "k")
			require.ErrorIs(t, err, ErrMiss)

			won, err := s.SetNX(ctx, "k", "first")
			require.NoError(t, err)
			assert.True(t, won)

			won, err = s.SetNX(ctx, "k", "second")
			require.NoError(t, err)
			assert.False(t, won)

			v, err := s.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, "first", v)

			require.NoError(t, s.Set(ctx, "k", "third"))
			v, err = s.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, "third", v)

			require.NoError(t, s.Delete(ctx, "k"))
			_, err = s.Get(ctx, "k")
			assert.ErrorIs(t, err, ErrMiss)
		})
	}
}

func TestRedisStorePrefixesKeys(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close() //nolint:errcheck

	s := NewRedisStore(rdb, "inv:")
	require.NoError(t, s.Set(context.Background(), "authz:role:ops", `["sites.view"]`))

	got, err := mr.Get("inv:authz:role:ops")
	require.NoError(t, err)
	assert.Equal(t, `["sites.view"]`, got)
	assert.Zero(t, mr.TTL("inv:authz:role:ops"))
}

func TestRedisStoreSurfacesConnectionErrors(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close() //nolint:errcheck
	mr.Close()

	_, err := NewRedisStore(rdb, "").Get(context.Background(), "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMiss)
}
