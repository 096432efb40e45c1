package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/graphery/executor/internal/storage"
)

// ResultRepository implements storage.ResultStore with GORM.
type ResultRepository struct {
	db *gorm.DB
}

// NewResultRepository creates a ResultRepository.
func NewResultRepository(db *gorm.DB) *ResultRepository {
	return &ResultRepository{db: db}
}

// Get returns the result stored under key unless it expired before now.
func (r *ResultRepository) Get(ctx context.Context, key string, now time.Time) (*storage.CachedResult, error) {
	var model ResultModel
	err := r.db.WithContext(ctx).
		Where("digest = ? AND expires_at > ?", key, now).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting cached result %s: %w", key, err)
	}
	return toResultDomain(&model), nil
}

// Put stores res, replacing an earlier result with the same key.
func (r *ResultRepository) Put(ctx context.Context, res *storage.CachedResult) error {
	model := toResultModel(res)
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "digest"}},
			UpdateAll: true,
		}).
		Create(&model).Error; err != nil {
		return fmt.Errorf("storing cached result %s: %w", res.Key, err)
	}
	return nil
}

// Prune deletes every result that expired at or before now.
func (r *ResultRepository) Prune(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&ResultModel{})
	if result.Error != nil {
		return 0, fmt.Errorf("pruning cached results: %w", result.Error)
	}
	return result.RowsAffected, nil
}
