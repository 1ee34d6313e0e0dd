package utils

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestOpenRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	rdb, err := OpenRedis(context.Background(), RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rdb.Close() //nolint:errcheck

	if got := rdb.Options().PoolSize; got != 20 {
		t.Fatalf("expected default pool size 20, got %d", got)
	}
}

func TestOpenRedis_RequiresAddr(t *testing.T) {
	if _, err := OpenRedis(context.Background(), RedisConfig{}); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}

func TestOpenRedis_PingFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	if _, err := OpenRedis(context.Background(), RedisConfig{Addr: addr}); err == nil {
		t.Fatalf("expected ping failure")
	}
}

func TestOpenRedis_PasswordAndDB(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireAuth("s3cret")

	if _, err := OpenRedis(context.Background(), RedisConfig{Addr: mr.Addr()}); err == nil {
		t.Fatalf("expected auth failure without password")
	}

	rdb, err := OpenRedis(context.Background(), RedisConfig{Addr: mr.Addr(), Password: "s3cret", DB: 2})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rdb.Close() //nolint:errcheck

	if err := rdb.Set(context.Background(), "k", "v", 0).Err(); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got, err := mr.DB(2).Get("k"); err != nil || got != "v" {
		t.Fatalf("expected k in db 2, got %q (%v)", got, err)
	}
}
