package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	// DriverPostgres selects lib/pq.
	DriverPostgres = "postgres"
	// DriverSQLite selects modernc.org/sqlite.
	DriverSQLite = "sqlite"
)

var (
	// ErrBackend wraps driver failures.
	ErrBackend = errors.New("credential store unavailable")
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrPrecondition is returned when a conditional update matched no row.
	ErrPrecondition = errors.New("precondition failed")
	// ErrAlreadyEnabled is returned when enabling an already enabled credential.
	ErrAlreadyEnabled = errors.New("second factor already enabled")
	// ErrNotEnabled is returned when the credential is missing or disabled.
	ErrNotEnabled = errors.New("second factor not enabled")
	// ErrUnsupportedDriver is returned by Open for unknown drivers.
	ErrUnsupportedDriver = errors.New("unsupported sql driver")
)

// Store wraps a sqlx handle.
type Store struct {
	db     *sqlx.DB
	driver string
}

// Open connects to dsn with the named driver. SQLite handles are limited to a
// single connection so writers serialize instead of failing with SQLITE_BUSY.
func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
		if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%w: %v", ErrBackend, err)
		}
	}
	return &Store{db: db, driver: driver}, nil
}

// Close closes the handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports availability and round-trip latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.db.PingContext(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return time.Since(start), nil
}

func (s *Store) q(query string) string {
	return s.db.Rebind(query)
}

func backendErr(err error) error {
	return fmt.Errorf("%w: %v", ErrBackend, err)
}

func unix(t time.Time) int64 {
	return t.Unix()
}

func fromUnix(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

func optionalTime(valid bool, sec int64) *time.Time {
	if !valid {
		return nil
	}
	t := fromUnix(sec)
	return &t
}

func optionalStep(v sql.NullInt64) *uint64 {
	if !v.Valid || v.Int64 < 0 {
		return nil
	}
	step := uint64(v.Int64)
	return &step
}
