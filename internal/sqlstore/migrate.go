package sqlstore

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFS embed.FS

// MigrateUp applies every pending migration.
func (s *Store) MigrateUp(ctx context.Context) error {
	return s.withMigrator(ctx, func(m *migrate.Migrate) error {
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("apply migrations: %w", err)
		}
		return nil
	})
}

// MigrateDown rolls back every applied migration.
func (s *Store) MigrateDown(ctx context.Context) error {
	return s.withMigrator(ctx, func(m *migrate.Migrate) error {
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("rollback migrations: %w", err)
		}
		return nil
	})
}

// MigrationVersion returns the applied schema version and dirty flag.
// A fresh database reports version 0.
func (s *Store) MigrationVersion(ctx context.Context) (uint, bool, error) {
	var (
		version uint
		dirty   bool
	)
	err := s.withMigrator(ctx, func(m *migrate.Migrate) error {
		v, d, err := m.Version()
		if err != nil {
			if errors.Is(err, migrate.ErrNilVersion) {
				return nil
			}
			return fmt.Errorf("read migration version: %w", err)
		}
		version, dirty = v, d
		return nil
	})
	return version, dirty, err
}

func (s *Store) withMigrator(ctx context.Context, fn func(*migrate.Migrate) error) error {
	src, err := iofs.New(migrationFS, "migrations/"+s.driver)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	var driver database.Driver
	switch s.driver {
	case DriverPostgres:
		conn, err := s.db.Conn(ctx)
		if err != nil {
			return backendErr(err)
		}
		driver, err = postgres.WithConnection(ctx, conn, &postgres.Config{})
		if err != nil {
			_ = conn.Close()
			return fmt.Errorf("create migration driver: %w", err)
		}
	case DriverSQLite:
		driver, err = sqlite.WithInstance(s.db.DB, &sqlite.Config{})
		if err != nil {
			return fmt.Errorf("create migration driver: %w", err)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedDriver, s.driver)
	}

	m, err := migrate.NewWithInstance("iofs", src, s.driver, driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	runErr := fn(m)

	// The sqlite driver closes the shared *sql.DB on Close; only the
	// dedicated postgres connection is released here.
	if s.driver == DriverPostgres {
		srcErr, dbErr := m.Close()
		if runErr == nil && dbErr != nil {
			runErr = backendErr(dbErr)
		}
		if runErr == nil && srcErr != nil {
			runErr = srcErr
		}
	}
	return runErr
}
