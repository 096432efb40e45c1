package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/graphery/executor/internal/ratelimit"
	"github.com/graphery/executor/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeResults struct {
	storage.ResultStore
	pruned atomic.Int64
	at     time.Time
}

func (f *fakeResults) Prune(_ context.Context, now time.Time) (int64, error) {
	f.at = now
	f.pruned.Add(1)
	return 3, nil
}

type fakeRuns struct {
	storage.RunStore
	before time.Time
}

func (f *fakeRuns) DeleteBefore(_ context.Context, t time.Time) (int64, error) {
	f.before = t
	return 0, nil
}

// --- Registration ---

func TestAdd_InvalidSpec(t *testing.T) {
	s := New(nil, testLogger())
	err := s.Add(context.Background(), Job{Name: "x", Spec: "every minute", Run: func(context.Context) (int64, error) { return 0, nil }})
	if err == nil {
		t.Fatal("expected error for invalid spec")
	}
}

func TestAdd_Duplicate(t *testing.T) {
	s := New(nil, testLogger())
	job := Job{Name: "x", Spec: "@every 1h", Run: func(context.Context) (int64, error) { return 0, nil }}
	if err := s.Add(context.Background(), job); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add(context.Background(), job); err == nil {
		t.Fatal("expected duplicate error")
	}
}

// --- Execution ---

func TestRunNow_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	s := New(m, testLogger())
	results := &fakeResults{}
	if err := s.Add(context.Background(), PruneResults(results, "@every 1h")); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if !s.RunNow(context.Background(), "prune_results") {
		t.Fatal("RunNow returned false")
	}
	if results.pruned.Load() != 1 {
		t.Errorf("prune calls = %d", results.pruned.Load())
	}

	var metric dto.Metric
	if err := m.RowsRemoved.WithLabelValues("prune_results").Write(&metric); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := metric.GetCounter().GetValue(); got != 3 {
		t.Errorf("rows removed = %v, want 3", got)
	}
	if err := m.JobsRun.WithLabelValues("prune_results", "success").Write(&metric); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := metric.GetCounter().GetValue(); got != 1 {
		t.Errorf("jobs run = %v, want 1", got)
	}
}

func TestRunNow_Failure(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	s := New(m, testLogger())
	s.Add(context.Background(), Job{Name: "bad", Spec: "@every 1h", Run: func(context.Context) (int64, error) {
		return 0, errors.New("db down")
	}})
	s.RunNow(context.Background(), "bad")

	var metric dto.Metric
	m.JobsRun.WithLabelValues("bad", "failure").Write(&metric)
	if metric.GetCounter().GetValue() != 1 {
		t.Errorf("failure not counted")
	}
}

func TestRunNow_Unknown(t *testing.T) {
	s := New(nil, testLogger())
	if s.RunNow(context.Background(), "missing") {
		t.Error("RunNow on unknown job returned true")
	}
}

func TestRunNow_NoOverlap(t *testing.T) {
	s := New(nil, testLogger())
	release := make(chan struct{})
	started := make(chan struct{})
	s.Add(context.Background(), Job{Name: "slow", Spec: "@every 1h", Run: func(context.Context) (int64, error) {
		close(started)
		<-release
		return 0, nil
	}})

	done := make(chan bool)
	go func() { done <- s.RunNow(context.Background(), "slow") }()
	<-started
	if s.RunNow(context.Background(), "slow") {
		t.Error("overlapping run was not skipped")
	}
	close(release)
	if !<-done {
		t.Error("first run reported false")
	}
}

func TestTrimHistory_Retention(t *testing.T) {
	runs := &fakeRuns{}
	job := TrimHistory(runs, "@daily", 48*time.Hour)
	if _, err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	age := time.Since(runs.before)
	if age < 47*time.Hour || age > 49*time.Hour {
		t.Errorf("cutoff age = %s, want ~48h", age)
	}
}

func TestSweepRateLimits(t *testing.T) {
	limiter := ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: 60})
	limiter.Allow("a")
	job := SweepRateLimits(limiter, "@every 10m", 0)
	n, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// one token was spent a moment ago, so the bucket is not full yet
	if n != 0 || limiter.Len() != 1 {
		t.Errorf("removed %d, tracked %d", n, limiter.Len())
	}
}

func TestStart_Stop(t *testing.T) {
	s := New(nil, testLogger())
	s.Add(context.Background(), PruneResults(&fakeResults{}, "@every 1h"))
	stop := s.Start(context.Background())
	stop()
}
