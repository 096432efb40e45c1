package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"
)

func TestWatch_ReloadsValidEdits(t *testing.T) {
	path := writeFile(t, "executor.yaml", "executor:\n  exec_time_out: 3\n")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reloaded := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, logger, func(cfg *Config) { reloaded <- cfg })
	}()
	// give the watcher time to register the directory
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte("executor:\n  exec_time_out: [\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * watchDebounce)
	if err := os.WriteFile(path, []byte("executor:\n  exec_time_out: 9\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Executor.CPUTime() != 9*time.Second {
			t.Errorf("CPUTime = %s, want 9s", cfg.Executor.CPUTime())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch: %v", err)
	}
}

func TestWatch_MissingDirectory(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	err := Watch(context.Background(), "/nonexistent/dir/executor.yaml", logger, func(*Config) {})
	if err == nil {
		t.Error("expected error for a missing directory")
	}
}
