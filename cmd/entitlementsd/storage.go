package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/truthlens/entitlements/pkg/config"
	"github.com/truthlens/entitlements/pkg/httpserver"
	"github.com/truthlens/entitlements/pkg/kvstore"
	"github.com/truthlens/entitlements/pkg/lock"
	"github.com/truthlens/entitlements/pkg/logger"
	"github.com/truthlens/entitlements/pkg/mongo"
	"github.com/truthlens/entitlements/pkg/pg"
	"github.com/truthlens/entitlements/pkg/redis"
)

type infrastructure struct {
	kv     kvstore.Store
	redis  *goredis.Client
	checks []httpserver.Check
	closer []func(context.Context) error
}

func (i *infrastructure) close(log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for n := len(i.closer) - 1; n >= 0; n-- {
		if err := i.closer[n](ctx); err != nil {
			log.Error("failed to close storage", logger.Error(err))
		}
	}
}

func (i *infrastructure) connectRedis(ctx context.Context) (*goredis.Client, redis.Config, error) {
	var cfg redis.Config
	if err := config.Load(&cfg); err != nil {
		return nil, cfg, err
	}
	if i.redis != nil {
		return i.redis, cfg, nil
	}
	client, err := redis.Connect(ctx, cfg)
	if err != nil {
		return nil, cfg, fmt.Errorf("connect redis: %w", err)
	}
	i.redis = client
	i.checks = append(i.checks, httpserver.Check{Name: "redis", Fn: redis.Healthcheck(client)})
	i.closer = append(i.closer, func(context.Context) error { return client.Close() })
	return client, cfg, nil
}

func openStorage(ctx context.Context, driver string, log *slog.Logger) (*infrastructure, error) {
	infra := &infrastructure{}

	switch driver {
	case "memory":
		log.Warn("memory storage: state is lost on restart")
		infra.kv = kvstore.NewMemory()

	case "redis":
		client, cfg, err := infra.connectRedis(ctx)
		if err != nil {
			return nil, err
		}
		infra.kv = kvstore.NewRedis(client, kvstore.WithRedisPrefix(cfg.KeyPrefix))

	case "postgres":
		var cfg pg.Config
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		pool, err := pg.Connect(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		infra.closer = append(infra.closer, func(context.Context) error { pool.Close(); return nil })
		if cfg.AutoMigrate {
			if err := pg.Migrate(ctx, pool, cfg, kvstore.Migrations, kvstore.MigrationsDir, log); err != nil {
				pool.Close()
				return nil, err
			}
		}
		infra.kv = kvstore.NewPostgres(pool)
		infra.checks = append(infra.checks, httpserver.Check{Name: "postgres", Fn: pg.Healthcheck(pool)})

	case "mongo":
		var cfg mongo.Config
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		client, err := mongo.New(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		infra.closer = append(infra.closer, client.Disconnect)
		infra.kv = kvstore.NewMongo(mongo.KVCollection(client, cfg))
		infra.checks = append(infra.checks, httpserver.Check{Name: "mongo", Fn: mongo.Healthcheck(client)})

	case "s3":
		var cfg kvstore.S3Config
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		client, err := kvstore.NewS3Client(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("s3 client: %w", err)
		}
		infra.kv = kvstore.NewS3(client, cfg.Bucket, cfg.Prefix)

	default:
		return nil, fmt.Errorf("unknown STORAGE_DRIVER %q", driver)
	}
	return infra, nil
}

// openLocker returns the per-user validation lock. The local mutex is only
// correct with a single replica.
func openLocker(ctx context.Context, kind string, infra *infrastructure) (lock.Locker, error) {
	switch kind {
	case "local":
		return lock.NewKeyedMutex(), nil
	case "redis":
		client, _, err := infra.connectRedis(ctx)
		if err != nil {
			return nil, err
		}
		var cfg lock.RedsyncConfig
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		return lock.NewRedsync(client, cfg), nil
	default:
		return nil, fmt.Errorf("unknown LOCKER %q", kind)
	}
}
