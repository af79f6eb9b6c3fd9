// Package database opens the engine's storage backends and keeps the
// sqlite schema migrated.
package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrLocked indicates another chantio process holds the data directory.
var ErrLocked = errors.New("data directory locked by another process")

// SQLite is an open, migrated sqlite database plus the process lock on its
// data directory.
type SQLite struct {
	DB   *sql.DB
	lock *flock.Flock
}

// OpenSQLite creates dataDir if needed, takes an exclusive file lock on it
// (sqlite tolerates multiple processes badly; one engine per data dir),
// opens knowledge.db and runs pending migrations.
func OpenSQLite(dataDir string) (*SQLite, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	lock := flock.New(filepath.Join(dataDir, "chantio.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring data dir lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, dataDir)
	}

	db, err := sql.Open("sqlite", filepath.Join(dataDir, "knowledge.db"))
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if err := Migrate(db); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, err
	}

	return &SQLite{DB: db, lock: lock}, nil
}

// Close closes the database and releases the directory lock.
func (s *SQLite) Close() error {
	dbErr := s.DB.Close()
	lockErr := s.lock.Unlock()
	if dbErr != nil {
		return fmt.Errorf("closing database: %w", dbErr)
	}
	if lockErr != nil {
		return fmt.Errorf("releasing lock: %w", lockErr)
	}
	return nil
}

// Migrate applies pending migrations from the embedded filesystem.
func Migrate(db *sql.DB) error {
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("creating migrate driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}
