package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"inventory-platform/internal/audit"
	"inventory-platform/internal/cache"
	"inventory-platform/internal/config"
	"inventory-platform/internal/db"
	"inventory-platform/internal/inventory"
	"inventory-platform/pkg/logger"
	"inventory-platform/pkg/utils"
)

// app holds the process-wide services shared by every command.
type app struct {
	cfg    config.Config
	log    *slog.Logger
	engine *db.Engine
	trail  *audit.Trail
	close  []func() error
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config load failed: %w", err)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	sqlDB, err := openDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	dialect, err := db.DialectFor(cfg.DB.Driver)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	a := &app{cfg: cfg, log: log, engine: db.NewEngine(sqlDB, dialect)}
	a.close = append(a.close, sqlDB.Close)

	a.trail = audit.NewTrail(audit.SQLStore{})
	if err := a.trail.DeclareAudited(inventory.Registry()); err != nil {
		a.Close()
		return nil, err
	}
	a.trail.Attach(a.engine)
	return a, nil
}

func openDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	switch cfg.DB.Driver {
	case "sqlite":
		sqlDB, err := utils.OpenSQLite(ctx, cfg.DB.SQLitePath, 5*time.Second)
		if err != nil {
			return nil, fmt.Errorf("sqlite init failed: %w", err)
		}
		return sqlDB, nil
	default:
		sqlDB, err := utils.OpenPostgres(ctx, cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			return nil, fmt.Errorf("postgres init failed: %w", err)
		}
		return sqlDB, nil
	}
}

// openCache returns the shared cache. Without Redis configured the cache
// lives in process memory, which is only correct for a single instance.
func (a *app) openCache(ctx context.Context) (cache.Store, error) {
	addr := a.cfg.RedisAddr()
	if addr == "" {
		a.log.Warn("redis not configured, using in-memory authorization cache")
		return cache.NewMemoryStore(), nil
	}
	rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{
		Addr:     addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("redis init failed: %w", err)
	}
	a.close = append(a.close, rdb.Close)
	return cache.NewRedisStore(rdb, a.cfg.Redis.Prefix), nil
}

func (a *app) Close() {
	for i := len(a.close) - 1; i >= 0; i-- {
		_ = a.close[i]()
	}
}
