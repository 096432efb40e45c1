package postgres

import (
	"time"

	"github.com/graphery/executor/internal/storage"
)

// ResultModel maps to the "cached_results" table.
type ResultModel struct {
	Key       string    `gorm:"column:digest;primaryKey;size:64"`
	RunID     string    `gorm:"size:36;not null"`
	Result    []byte    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	ExpiresAt time.Time `gorm:"not null;index"`
}

func (ResultModel) TableName() string { return "cached_results" }

// RunModel maps to the "runs" table.
type RunModel struct {
	ID         string `gorm:"primaryKey;size:36"`
	Key        string `gorm:"column:digest;size:64;index"`
	Transport  string `gorm:"size:16;not null"`
	Status     string `gorm:"size:16;not null;index"`
	Code       int
	Kind       string `gorm:"size:32"`
	Message    string
	Records    int
	Cached     bool
	DurationMS int64
	CreatedAt  time.Time `gorm:"not null;index"`
}

func (RunModel) TableName() string { return "runs" }

func toResultModel(r *storage.CachedResult) ResultModel {
	return ResultModel{
		Key:       r.Key,
		RunID:     r.RunID,
		Result:    r.Result,
		CreatedAt: r.CreatedAt,
		ExpiresAt: r.ExpiresAt,
	}
}

func toResultDomain(m *ResultModel) *storage.CachedResult {
	return &storage.CachedResult{
		Key:       m.Key,
		RunID:     m.RunID,
		Result:    m.Result,
		CreatedAt: m.CreatedAt,
		ExpiresAt: m.ExpiresAt,
	}
}

func toRunModel(r *storage.RunRecord) RunModel {
	return RunModel{
		ID:         r.ID,
		Key:        r.Key,
		Transport:  r.Transport,
		Status:     r.Status,
		Code:       r.Code,
		Kind:       r.Kind,
		Message:    r.Message,
		Records:    r.Records,
		Cached:     r.Cached,
		DurationMS: r.Duration.Milliseconds(),
		CreatedAt:  r.CreatedAt,
	}
}

func toRunDomain(m *RunModel) *storage.RunRecord {
	return &storage.RunRecord{
		ID:        m.ID,
		Key:       m.Key,
		Transport: m.Transport,
		Status:    m.Status,
		Code:      m.Code,
		Kind:      m.Kind,
		Message:   m.Message,
		Records:   m.Records,
		Cached:    m.Cached,
		Duration:  time.Duration(m.DurationMS) * time.Millisecond,
		CreatedAt: m.CreatedAt,
	}
}
