package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"gitlab.com/timkado/api/daisi-webhook-worker/internal/adapters/config"
	"gitlab.com/timkado/api/daisi-webhook-worker/internal/domain"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// NewDB opens the connection pool, verifies it with a ping and applies pending migrations
// when postgres.run_migrations is set.
func NewDB(ctx context.Context, cfgProvider config.Provider, logger domain.Logger) (*sqlx.DB, func(), error) {
	pgCfg := cfgProvider.Get().Postgres
	if pgCfg.DSN == "" {
		return nil, nil, fmt.Errorf("postgres.dsn is not configured")
	}

	db, err := sqlx.ConnectContext(ctx, "postgres", pgCfg.DSN)
	if err != nil {
		logger.Error(ctx, "Failed to connect to Postgres", "error", err.Error())
		return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	db.SetMaxOpenConns(pgCfg.MaxOpenConns)
	db.SetMaxIdleConns(pgCfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(pgCfg.ConnMaxLifetimeSeconds) * time.Second)
	logger.Info(ctx, "Successfully connected to Postgres", "maxOpenConns", pgCfg.MaxOpenConns)

	if pgCfg.RunMigrations {
		if err := Migrate(db, logger); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
	}

	cleanup := func() {
		logger.Info(context.Background(), "Closing Postgres connection pool...")
		if err := db.Close(); err != nil {
			logger.Error(context.Background(), "Error closing Postgres connection pool", "error", err.Error())
		}
	}
	return db, cleanup, nil
}

// Migrate applies the embedded schema migrations.
func Migrate(db *sqlx.DB, logger domain.Logger) error {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := migratepg.WithInstance(db.DB, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("failed to get database instance for migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}
	version, dirty, _ := m.Version()
	logger.Info(context.Background(), "Database migrations applied", "version", version, "dirty", dirty)
	return nil
}
