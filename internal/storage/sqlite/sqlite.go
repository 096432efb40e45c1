// Package sqlite stores cached results and run history in a local SQLite
// file. It uses modernc.org/sqlite (pure Go, no CGO) through the
// glebarez/sqlite GORM driver and the repositories of the postgres package.
package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/graphery/executor/internal/storage"
	pgstore "github.com/graphery/executor/internal/storage/postgres"
)

const busyTimeoutMS = 5000

// Config holds SQLite-specific configuration.
type Config struct {
	Path        string // Database file path.
	JournalMode string // Default: "wal".
}

// dsn builds the driver connection string with the pragmas every
// connection of the pool must run.
func (c Config) dsn() string {
	mode := strings.ToLower(c.JournalMode)
	if mode == "" {
		mode = "wal"
	}
	return fmt.Sprintf("%s?_pragma=journal_mode(%s)&_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)",
		c.Path, mode, busyTimeoutMS)
}

// Store implements storage.Store backed by SQLite.
type Store struct {
	*pgstore.Base
	path string
}

var _ storage.Store = (*Store)(nil)

// Open creates the database file and its directory if needed.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
	}

	db, err := gorm.Open(sqlite.Open(cfg.dsn()), pgstore.GormConfig(logger, false))
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// one writer at a time; concurrent writers only wait on the busy timeout
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}

	logger.Info("sqlite store opened", slog.String("path", cfg.Path))
	return &Store{Base: pgstore.NewBase(db), path: cfg.Path}, nil
}

// Path returns the database file.
func (s *Store) Path() string { return s.path }

// Driver returns "sqlite".
func (s *Store) Driver() string {
	return storage.DriverSQLite
}

// Migrate creates the tables shared with the postgres backend.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.Base.Migrate(ctx); err != nil {
		return fmt.Errorf("migrating %s: %w", s.path, err)
	}
	return nil
}
