package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/contributor-crawler/internal/config"
	"github.com/JakeFAU/contributor-crawler/internal/storage/memory"
	"github.com/JakeFAU/contributor-crawler/internal/storage/migrations"
	"github.com/JakeFAU/contributor-crawler/internal/storage/postgres"
	"github.com/JakeFAU/contributor-crawler/internal/storage/sqlite"
	"github.com/JakeFAU/contributor-crawler/internal/store"
)

// OpenStore opens the configured checkpoint and dedup store. SQLite is always
// migrated on open; Postgres only when store.postgres.migrate is set.
func OpenStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (store.Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Driver {
	case config.DriverSQLite:
		st, err := sqlite.Open(ctx, cfg.SQLite.Path, sqlite.Options{BusyTimeout: cfg.SQLite.BusyTimeout()})
		if err != nil {
			return nil, fmt.Errorf("sqlite store init failed: %w", err)
		}
		logger.Info("sqlite store ready", zap.String("path", cfg.SQLite.Path))
		return st, nil
	case config.DriverPostgres:
		st, err := postgres.Open(ctx, postgresConfig(cfg.Postgres))
		if err != nil {
			return nil, fmt.Errorf("postgres store init failed: %w", err)
		}
		logger.Info("postgres store ready", zap.Bool("migrated", cfg.Postgres.Migrate))
		return st, nil
	case config.DriverMemory:
		logger.Warn("using in-memory store; progress is lost on exit")
		return memory.NewStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// Migrate applies pending schema migrations for the configured driver and
// returns the resulting version.
func Migrate(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (uint, error) {
	return withSchema(ctx, cfg, logger, migrations.Up)
}

// Rollback reverts every applied migration, dropping the crawler's tables, and
// returns the resulting version.
func Rollback(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (uint, error) {
	return withSchema(ctx, cfg, logger, migrations.Down)
}

func withSchema(
	ctx context.Context,
	cfg config.StoreConfig,
	logger *zap.Logger,
	apply func(*sql.DB, migrations.Dialect) error,
) (uint, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Driver {
	case config.DriverSQLite:
		st, err := sqlite.Open(ctx, cfg.SQLite.Path, sqlite.Options{BusyTimeout: cfg.SQLite.BusyTimeout()})
		if err != nil {
			return 0, fmt.Errorf("sqlite store init failed: %w", err)
		}
		defer func() {
			if err := st.Close(); err != nil {
				logger.Warn("close sqlite store", zap.Error(err))
			}
		}()
		if err := apply(st.DB(), migrations.SQLite); err != nil {
			return 0, err
		}
		return schemaVersion(st.DB(), migrations.SQLite, logger)
	case config.DriverPostgres:
		pool, err := postgres.Connect(ctx, postgresConfig(cfg.Postgres))
		if err != nil {
			return 0, err
		}
		defer pool.Close()
		db := postgres.SQLDB(pool)
		if err := apply(db, migrations.Postgres); err != nil {
			return 0, err
		}
		return schemaVersion(db, migrations.Postgres, logger)
	case config.DriverMemory:
		return 0, errors.New("the memory store has no schema to migrate")
	default:
		return 0, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func schemaVersion(db *sql.DB, dialect migrations.Dialect, logger *zap.Logger) (uint, error) {
	version, dirty, err := migrations.Version(db, dialect)
	if err != nil {
		return 0, err
	}
	if dirty {
		return version, fmt.Errorf("schema version %d is dirty", version)
	}
	logger.Info("schema version", zap.String("dialect", string(dialect)), zap.Uint("version", version))
	return version, nil
}

func postgresConfig(cfg config.PostgresConfig) postgres.Config {
	return postgres.Config{
		DSN:             cfg.DSN,
		MaxConns:        int32(cfg.MaxConns),
		MinConns:        int32(cfg.MinConns),
		MaxConnLifetime: cfg.MaxConnLifetime(),
		Migrate:         cfg.Migrate,
	}
}
