// Package migration applies the embedded Postgres schema with goose.
package migration

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

const migrationsDir = "migrations"

type Migrator struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewMigrator(db *sql.DB, logger *zap.Logger) (*Migrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, fmt.Errorf("failed to set dialect: %w", err)
	}
	return &Migrator{db: db, logger: logger.Named("migration")}, nil
}

// Up applies pending migrations and logs the version change.
func (m *Migrator) Up(ctx context.Context) error {
	current, err := m.CurrentVersion()
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}
	latest, err := LatestVersion()
	if err != nil {
		return fmt.Errorf("failed to get latest migration version: %w", err)
	}

	m.logger.Info("database migration status",
		zap.Int64("current_version", current),
		zap.Int64("latest_version", latest))

	if current >= latest {
		return nil
	}
	if err := goose.UpContext(ctx, m.db, migrationsDir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	m.logger.Info("database schema upgraded",
		zap.Int64("from_version", current),
		zap.Int64("to_version", latest))
	return nil
}

func (m *Migrator) CurrentVersion() (int64, error) {
	return goose.GetDBVersion(m.db)
}

// LatestVersion returns the highest embedded migration version.
func LatestVersion() (int64, error) {
	goose.SetBaseFS(embedMigrations)
	migrations, err := goose.CollectMigrations(migrationsDir, 0, goose.MaxVersion)
	if err != nil {
		return 0, err
	}
	if len(migrations) == 0 {
		return 0, nil
	}
	return migrations[len(migrations)-1].Version, nil
}
