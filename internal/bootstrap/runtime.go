// Package bootstrap initializes the runtime shared by the server and the
// maintenance commands.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"marketplace/internal/cache"
	"marketplace/internal/config"
	"marketplace/internal/database"
	"marketplace/internal/seed"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Options control runtime initialization behavior.
type Options struct {
	// SkipSchema leaves the schema untouched, for commands that manage it.
	SkipSchema bool
	// SeedDemo fills an empty development database with demo data.
	SeedDemo bool
}

// InitRuntime connects to the database, applies the schema according to
// DB_SCHEMA_MODE and connects Redis. The Redis client is nil when Redis is
// unreachable; callers must treat it as optional.
func InitRuntime(cfg *config.Config, opts Options) (*gorm.DB, *redis.Client, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if !opts.SkipSchema {
		if err := database.ApplySchema(ctx, db, cfg); err != nil {
			return nil, nil, fmt.Errorf("apply schema: %w", err)
		}
	}

	// May leave the client nil if Redis is unreachable.
	cache.InitRedis(cfg.RedisURL)
	rdb := cache.GetClient()

	if opts.SeedDemo {
		if err := seedIfEmpty(ctx, cfg, db); err != nil {
			return nil, nil, err
		}
	}

	return db, rdb, nil
}

func seedIfEmpty(ctx context.Context, cfg *config.Config, db *gorm.DB) error {
	if !cfg.IsDevelopment() {
		return fmt.Errorf("demo seeding is only allowed in development, APP_ENV=%q", cfg.Env)
	}
	empty, err := database.IsEmpty(ctx, db)
	if err != nil {
		return fmt.Errorf("inspect database: %w", err)
	}
	if !empty {
		return nil
	}
	if _, err := seed.Marketplace(ctx, db, seed.DefaultOptions()); err != nil {
		return fmt.Errorf("seed demo data: %w", err)
	}
	return nil
}
