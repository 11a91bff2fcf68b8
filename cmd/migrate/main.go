// Command migrate manages the chat database schema.
//
//	migrate up             apply pending SQL migrations
//	migrate auto           run gorm AutoMigrate over the chat models
//	migrate status         print the schema policy and pending migrations
//	migrate down <version> roll back one migration
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"marketplace/internal/bootstrap"
	"marketplace/internal/config"
	"marketplace/internal/database"
	"marketplace/internal/middleware"

	"gorm.io/gorm"
)

const usage = "usage: migrate <up|auto|status|down> [version]"

func main() {
	if err := run(); err != nil {
		middleware.Logger.Error("migrate failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	timeout := flag.Duration("timeout", 5*time.Minute, "Abort when the operation takes longer")
	flag.Parse()
	if flag.NArg() < 1 {
		return fmt.Errorf(usage)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, _, err := bootstrap.InitRuntime(cfg, bootstrap.Options{SkipSchema: true})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch cmd := strings.ToLower(strings.TrimSpace(flag.Arg(0))); cmd {
	case "up":
		if err := database.RunMigrations(ctx, db); err != nil {
			return fmt.Errorf("sql migrations: %w", err)
		}
		middleware.Logger.Info("sql migrations applied")
	case "auto":
		cfg.DBSchemaMode = database.SchemaModeAuto
		if err := database.ApplySchema(ctx, db, cfg); err != nil {
			return fmt.Errorf("auto schema: %w", err)
		}
		middleware.Logger.Info("chat models migrated", slog.Int("models", len(database.PersistentModels())))
	case "status":
		return printStatus(ctx, db, cfg)
	case "down":
		if flag.NArg() < 2 {
			return fmt.Errorf("usage: migrate down <version>")
		}
		version, err := strconv.Atoi(flag.Arg(1))
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", flag.Arg(1), err)
		}
		if err := database.RollbackMigration(ctx, db, version); err != nil {
			return fmt.Errorf("rollback %d: %w", version, err)
		}
		middleware.Logger.Info("migration rolled back", slog.Int("version", version))
	default:
		return fmt.Errorf("unknown command %q; %s", cmd, usage)
	}
	return nil
}

func printStatus(ctx context.Context, db *gorm.DB, cfg *config.Config) error {
	status, err := database.GetSchemaStatus(ctx, db, cfg)
	if err != nil {
		return fmt.Errorf("schema status: %w", err)
	}
	fmt.Printf("mode:     %s (env %s)\n", status.Mode, status.Environment)
	fmt.Printf("sql:      %t\n", status.WillRunSQL)
	fmt.Printf("auto:     %t\n", status.WillRunAutoMigrate)
	fmt.Printf("applied:  %d\n", len(status.AppliedVersions))
	fmt.Printf("pending:  %d\n", len(status.PendingMigrations))
	for _, m := range status.PendingMigrations {
		fmt.Printf("  %s\n", m)
	}
	if len(status.Missing) > 0 {
		fmt.Printf("missing:  %s\n", strings.Join(status.Missing, ", "))
	}
	return nil
}
