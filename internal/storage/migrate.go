package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	pgmigrate "github.com/golang-migrate/migrate/v4/database/postgres"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Migration scripts, one directory per dialect, applied in numeric-prefix
// order and tracked in schema_migrations.
//
//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// runMigrations applies all pending migrations on a dedicated connection so
// closing the migrate instance cannot tear down the store's pool.
func runMigrations(ctx context.Context, driverName, dsn, dialect string) error {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return &MigrationError{Err: fmt.Errorf("open %s: %w", dialect, err)}
	}

	m, err := newMigrator(db, dialect)
	if err != nil {
		db.Close()
		return &MigrationError{Err: err}
	}

	if err := ctx.Err(); err != nil {
		m.Close()
		return &MigrationError{Err: err}
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		m.Close()
		return &MigrationError{Err: err}
	}

	// Close shuts both the iofs source and the dedicated connection.
	if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
		return &MigrationError{Err: errors.Join(srcErr, dbErr)}
	}
	return nil
}

func newMigrator(db *sql.DB, dialect string) (*migrate.Migrate, error) {
	var (
		drv database.Driver
		err error
	)
	switch dialect {
	case "sqlite":
		drv, err = sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	case "postgres":
		drv, err = pgmigrate.WithInstance(db, &pgmigrate.Config{})
	default:
		return nil, fmt.Errorf("unsupported migration dialect %q", dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s migration driver: %w", dialect, err)
	}

	src, err := iofs.New(migrationsFS, "migrations/"+dialect)
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, dialect, drv)
	if err != nil {
		return nil, fmt.Errorf("init migrator: %w", err)
	}
	return m, nil
}
