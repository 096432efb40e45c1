//go:build integration

package postgres

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/graphery/executor/internal/storage"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set, skipping integration test")
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	store, err := Open(context.Background(), Config{DSN: dsn}, logger)
	if err != nil {
		t.Fatalf("opening postgres: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return store
}

func TestResultRepository_RoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	key := uuid.New().String()

	if err := store.Results().Put(ctx, &storage.CachedResult{
		Key: key, RunID: "r", Result: []byte(`{}`), CreatedAt: now, ExpiresAt: now.Add(time.Minute),
	}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := store.Results().Get(ctx, key, now); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := store.Results().Get(ctx, key, now.Add(time.Hour)); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expired Get: %v", err)
	}
}

func TestRunRepository_RoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	id := uuid.New().String()

	if err := store.Runs().Create(ctx, &storage.RunRecord{
		ID: id, Transport: "http", Status: "failed", Code: 17, Kind: "resource_limit", CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := store.Runs().Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Code != 17 || got.Kind != "resource_limit" {
		t.Errorf("run = %+v", got)
	}
}
