// Package bootstrap opens the shared backing services both binaries run on.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"nodevideo/internal/cache"
	"nodevideo/internal/config"
	"nodevideo/internal/database"
	"nodevideo/internal/processing"
	"nodevideo/internal/repository"
	"nodevideo/internal/storage"
)

type Resources struct {
	Videos  repository.VideoStore
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Storage *storage.Router
	log     zerolog.Logger
}

// Open connects Postgres (or falls back to the in-memory store when no DSN
// is set), Redis when configured, and the media stores.
func Open(ctx context.Context, cfg *config.AppConfig, log zerolog.Logger, requireRedis bool) (*Resources, error) {
	res := &Resources{log: log}

	if cfg.Postgres.DSN != "" {
		pool, err := database.NewPostgresPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		res.Pool = pool
		if cfg.Postgres.Migrate {
			if err := database.Migrate(ctx, pool); err != nil {
				res.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		res.Videos = repository.NewPostgresVideoStore(pool)
	} else {
		log.Warn().Msg("postgres dsn empty, using in-memory video store")
		res.Videos = repository.NewMemoryVideoStore()
	}

	if cfg.Redis.Addr != "" {
		client, err := cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			res.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		res.Redis = client
	} else if requireRedis {
		res.Close()
		return nil, errors.New("redis.addr is required")
	}

	router, err := openStorage(ctx, cfg.Storage, log)
	if err != nil {
		res.Close()
		return nil, err
	}
	res.Storage = router
	return res, nil
}

func openStorage(ctx context.Context, cfg config.StorageConfig, log zerolog.Logger) (*storage.Router, error) {
	local, err := storage.NewLocalStore(cfg.MediaRoot)
	if err != nil {
		return nil, err
	}
	if cfg.Driver != config.StorageDriverS3 {
		return storage.NewRouter(local, nil, local), nil
	}

	objects, err := storage.NewObjectStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("init object store: %w", err)
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		log.Warn().Err(err).Str("bucket", cfg.Bucket).Msg("ensure bucket failed")
	}
	return storage.NewRouter(local, objects, objects), nil
}

// NewAnalyzer builds the review engine from the processing settings.
func NewAnalyzer(cfg config.ProcessingConfig, blobs storage.Blobs) *processing.MockAnalyzer {
	return processing.NewMockAnalyzer(processing.MockConfig{
		Steps:            cfg.Steps,
		BaseDuration:     cfg.BaseDuration,
		SizeStep:         cfg.SizeStep,
		SizeUnit:         cfg.SizeUnit,
		MaxSizeFactor:    cfg.MaxSizeFactor,
		FlaggedThreshold: cfg.FlaggedThreshold,
	}, blobs)
}

func (r *Resources) Close() {
	if r.Redis != nil {
		if err := r.Redis.Close(); err != nil {
			r.log.Error().Err(err).Msg("redis close error")
		}
	}
	if r.Pool != nil {
		r.Pool.Close()
	}
}
