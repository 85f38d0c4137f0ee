package migrate

import (
	"context"
	"fmt"

	"github.com/pressly/goose/v3"

	"github.com/angelmondragon/bazari-settlement/pkg/config"
	"github.com/angelmondragon/bazari-settlement/pkg/db"
	"github.com/angelmondragon/bazari-settlement/pkg/logger"
)

// autoRunEnabled reports whether a service should migrate on boot. Only dev
// Postgres deployments with the AutoMigrate flag qualify; the SQL files use
// Postgres DDL.
func autoRunEnabled(cfg *config.Config) bool {
	if cfg == nil {
		return false
	}
	return cfg.App.IsDev() && cfg.FeatureFlags.AutoMigrate && !cfg.FeatureFlags.UseSQLite
}

// MaybeRunDev validates DefaultDir and brings the schema up to date when
// auto-migration is enabled. The schema version is logged before and after.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !autoRunEnabled(cfg) {
		return nil
	}
	if err := ValidateDir(DefaultDir); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}
	if err := goose.SetDialect(Dialect); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	before, err := goose.GetDBVersion(sqlDB)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	ctx = logg.WithFields(ctx, map[string]any{"dir": DefaultDir, "schema_version": before})
	if err := Run(ctx, sqlDB, DefaultDir, "up"); err != nil {
		return fmt.Errorf("auto-migrate up: %w", err)
	}

	after, err := goose.GetDBVersion(sqlDB)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if after == before {
		logg.Info(ctx, "schema already current")
		return nil
	}
	logg.Info(logg.WithField(ctx, "applied_to", after), "dev auto-migration applied")
	return nil
}
