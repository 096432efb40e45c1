// Package storage defines the Store interface behind the result cache and
// the run history. Two backends are provided: SQLite (default, zero-config)
// and PostgreSQL (shared by several executor instances).
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a cached result or run does not exist.
var ErrNotFound = errors.New("not found")

// Store is the unified persistence interface of the executor.
// Both SQLite and PostgreSQL backends implement it.
type Store interface {
	Results() ResultStore
	Runs() RunStore

	// Ping checks the connection for readiness probes.
	Ping(ctx context.Context) error

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error

	// Driver returns the storage driver name ("sqlite" or "postgres").
	Driver() string
}

// CachedResult is a finished execution stored under its content digest.
type CachedResult struct {
	Key       string
	RunID     string
	Result    []byte // JSON encoded controller result.
	CreatedAt time.Time
	ExpiresAt time.Time
}

// ResultStore persists execution results keyed by content digest.
type ResultStore interface {
	// Get returns an unexpired result or ErrNotFound.
	Get(ctx context.Context, key string, now time.Time) (*CachedResult, error)
	// Put stores r, replacing any result under the same key.
	Put(ctx context.Context, r *CachedResult) error
	// Prune deletes results that expired before now and returns how many.
	Prune(ctx context.Context, now time.Time) (int64, error)
}

// RunRecord is the history entry of one execution.
type RunRecord struct {
	ID        string        `json:"id"`
	Key       string        `json:"key"`
	Transport string        `json:"transport"` // "http", "ws", "mcp" or "cli".
	Status    string        `json:"status"`    // "success" or "failed".
	Code      int           `json:"code,omitempty"`
	Kind      string        `json:"kind,omitempty"`
	Message   string        `json:"message,omitempty"`
	Records   int           `json:"records"`
	Cached    bool          `json:"cached"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"created_at"`
}

// RunStore persists the run history.
type RunStore interface {
	Create(ctx context.Context, r *RunRecord) error
	Get(ctx context.Context, id string) (*RunRecord, error)
	// List returns the most recent runs first.
	List(ctx context.Context, limit int) ([]RunRecord, error)
	// DeleteBefore removes runs created before t and returns how many.
	DeleteBefore(ctx context.Context, t time.Time) (int64, error)
}

// DriverSQLite is the SQLite driver name.
const DriverSQLite = "sqlite"

// DriverPostgres is the PostgreSQL driver name.
const DriverPostgres = "postgres"
