package postgres

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/graphery/executor/internal/storage"
)

// Base holds what both GORM backends share: the connection, the lazily
// built repositories and the schema.
type Base struct {
	db      *gorm.DB
	results func() storage.ResultStore
	runs    func() storage.RunStore
}

// NewBase wraps an open GORM connection.
func NewBase(db *gorm.DB) *Base {
	return &Base{
		db:      db,
		results: sync.OnceValue(func() storage.ResultStore { return NewResultRepository(db) }),
		runs:    sync.OnceValue(func() storage.RunStore { return NewRunRepository(db) }),
	}
}

// GormConfig returns the GORM settings of both backends. Prepared
// statements only pay off on a pooled server connection.
func GormConfig(logger *slog.Logger, prepare bool) *gorm.Config {
	return &gorm.Config{
		Logger:      NewGormLogger(logger),
		NowFunc:     func() time.Time { return time.Now().UTC() },
		PrepareStmt: prepare,
	}
}

// Migrate creates or updates the executor tables.
func (b *Base) Migrate(ctx context.Context) error {
	return b.db.WithContext(ctx).AutoMigrate(&ResultModel{}, &RunModel{})
}

// Ping checks the connection for readiness probes.
func (b *Base) Ping(ctx context.Context) error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func (b *Base) Close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (b *Base) Results() storage.ResultStore { return b.results() }

func (b *Base) Runs() storage.RunStore { return b.runs() }
