package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strings"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"

	"github.com/arka-hq/go-guard/core"
	"github.com/arka-hq/go-guard/githubevents"
	guardmigrations "github.com/arka-hq/go-guard/migrations"
	"github.com/arka-hq/go-guard/ratelimit"
	redisstore "github.com/arka-hq/go-guard/store/redis"
	sqlstore "github.com/arka-hq/go-guard/store/sql"
)

// backends is the storage selected by store.driver.
type backends struct {
	Ledger   core.ReplayLedger
	Windows  core.WindowStore
	Recorder githubevents.Recorder
	Close    func() error
}

type persistenceConfig struct {
	driver string
	server string
}

func (c persistenceConfig) GetDebug() bool                { return false }
func (c persistenceConfig) GetDriver() string             { return c.driver }
func (c persistenceConfig) GetServer() string             { return c.server }
func (c persistenceConfig) GetPingTimeout() time.Duration { return 5 * time.Second }
func (c persistenceConfig) GetOtelIdentifier() string     { return "go-guard" }

func openBackends(ctx context.Context, cfg core.Config) (*backends, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Store.Driver)) {
	case core.StoreDriverSQL:
		return openSQLBackends(ctx, cfg)
	case core.StoreDriverRedis:
		return openRedisBackends(ctx, cfg)
	default:
		return &backends{
			Ledger:   core.NewMemoryReplayLedgerWithLimits(cfg.Webhook.ReplayTTL, cfg.Store.MaxEntries),
			Windows:  ratelimit.NewMemoryWindowStoreWithLimit(cfg.Store.MaxEntries),
			Recorder: githubevents.NewMemoryRecorder(),
			Close:    func() error { return nil },
		}, nil
	}
}

func openSQLBackends(ctx context.Context, cfg core.Config) (*backends, error) {
	driver, dialect, migrationDialect, err := sqlDialect(cfg.Store.DatabaseDriver)
	if err != nil {
		return nil, err
	}
	sqlDB, err := sql.Open(driver, cfg.Store.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("guardd: open %s database: %w", driver, err)
	}
	if driver == "sqlite3" {
		sqlDB.SetMaxOpenConns(1)
	}
	client, err := persistence.New(persistenceConfig{driver: driver, server: cfg.Store.DatabaseDSN}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("guardd: persistence client: %w", err)
	}
	closeClient := func() error { return client.Close() }

	if _, err := guardmigrations.Apply(migrationDialect, func(fsys fs.FS) {
		client.RegisterSQLMigrations(fsys)
	}); err != nil {
		_ = closeClient()
		return nil, fmt.Errorf("guardd: register migrations: %w", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = closeClient()
		return nil, fmt.Errorf("guardd: migrate: %w", err)
	}

	factory := sqlstore.NewRepositoryFactory().WithReplayTTL(cfg.Webhook.ReplayTTL)
	if err := factory.BuildStores(client); err != nil {
		_ = closeClient()
		return nil, err
	}

	var ledger core.ReplayLedger = factory.ReplayLedgerStore()
	if cfg.Store.CacheTTL > 0 {
		cacheConfig := repositorycache.DefaultConfig()
		cacheConfig.TTL = cfg.Store.CacheTTL
		cacheService, err := repositorycache.NewCacheService(cacheConfig)
		if err != nil {
			_ = closeClient()
			return nil, fmt.Errorf("guardd: replay cache: %w", err)
		}
		cached, err := sqlstore.NewCachedReplayLedger(factory.ReplayLedgerStore(), cacheService)
		if err != nil {
			_ = closeClient()
			return nil, err
		}
		ledger = cached
	}

	return &backends{
		Ledger:   ledger,
		Windows:  ratelimit.NewMemoryWindowStoreWithLimit(cfg.Store.MaxEntries),
		Recorder: factory.AgentEventStore(),
		Close:    closeClient,
	}, nil
}

func sqlDialect(driver string) (string, schema.Dialect, string, error) {
	dialect, ok := guardmigrations.NormalizeDialect(driver)
	switch {
	case !ok:
		return "", nil, "", fmt.Errorf("guardd: unsupported database driver %q", driver)
	case dialect == guardmigrations.DialectPostgres:
		return "postgres", pgdialect.New(), dialect, nil
	default:
		return "sqlite3", sqlitedialect.New(), dialect, nil
	}
}

func openRedisBackends(ctx context.Context, cfg core.Config) (*backends, error) {
	client := redisstore.NewClient(redisstore.Options{
		Addr:     cfg.Store.RedisAddr,
		Password: cfg.Store.RedisPassword,
		DB:       cfg.Store.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("guardd: redis ping: %w", err)
	}
	ledger, err := redisstore.NewReplayLedger(client, cfg.Store.KeyPrefix, cfg.Webhook.ReplayTTL)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	windows, err := redisstore.NewWindowStore(client, cfg.Store.KeyPrefix)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return &backends{
		Ledger:   ledger,
		Windows:  windows,
		Recorder: githubevents.NewMemoryRecorder(),
		Close:    client.Close,
	}, nil
}
