package ws

import (
	"log/slog"
	"sync"
	"time"
)

// RunState is the lifecycle position of a run submitted over a connection.
type RunState string

const (
	RunAccepted  RunState = "accepted"  // Submission validated, run queued.
	RunRunning   RunState = "running"   // Runner picked it up.
	RunCompleted RunState = "completed" // Result sent, program may still have failed.
	RunFailed    RunState = "failed"    // Runner returned an error.
)

// TrackedRun holds the lifecycle state of one run.
type TrackedRun struct {
	RunID       string
	ConnID      string
	Client      string
	State       RunState
	AcceptedAt  time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	Error       string
}

func (r *TrackedRun) active() bool {
	return r.State == RunAccepted || r.State == RunRunning
}

// RunTracker follows runs submitted over websocket connections.
type RunTracker struct {
	mu     sync.RWMutex
	runs   map[string]*TrackedRun // runID -> TrackedRun
	logger *slog.Logger
}

// NewRunTracker creates an empty tracker.
func NewRunTracker(logger *slog.Logger) *RunTracker {
	return &RunTracker{
		runs:   make(map[string]*TrackedRun),
		logger: logger,
	}
}

// Track records an accepted run.
func (t *RunTracker) Track(runID, connID, client string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.runs[runID] = &TrackedRun{
		RunID:      runID,
		ConnID:     connID,
		Client:     client,
		State:      RunAccepted,
		AcceptedAt: time.Now(),
	}
}

// MarkRunning moves an accepted run to running.
func (t *RunTracker) MarkRunning(runID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	run, ok := t.runs[runID]
	if !ok || run.State != RunAccepted {
		return
	}
	run.State = RunRunning
	run.StartedAt = time.Now()
}

// MarkCompleted records that a result was produced.
func (t *RunTracker) MarkCompleted(runID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	run, ok := t.runs[runID]
	if !ok {
		return
	}
	run.State = RunCompleted
	run.CompletedAt = time.Now()

	t.logger.Debug("ws run completed",
		slog.String("run_id", runID),
		slog.String("conn_id", run.ConnID),
		slog.String("total_duration", run.CompletedAt.Sub(run.AcceptedAt).String()),
	)
}

// MarkFailed records a runner error.
func (t *RunTracker) MarkFailed(runID, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	run, ok := t.runs[runID]
	if !ok {
		return
	}
	run.State = RunFailed
	run.CompletedAt = time.Now()
	run.Error = errMsg

	t.logger.Debug("ws run failed",
		slog.String("run_id", runID),
		slog.String("conn_id", run.ConnID),
		slog.String("error", errMsg),
	)
}

// Get returns a copy of the tracked run.
func (t *RunTracker) Get(runID string) (TrackedRun, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	run, ok := t.runs[runID]
	if !ok {
		return TrackedRun{}, false
	}
	return *run, true
}

// ActiveForConn counts the unfinished runs of one connection.
func (t *RunTracker) ActiveForConn(connID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	count := 0
	for _, run := range t.runs {
		if run.ConnID == connID && run.active() {
			count++
		}
	}
	return count
}

// ActiveCount returns the number of unfinished runs.
func (t *RunTracker) ActiveCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	count := 0
	for _, run := range t.runs {
		if run.active() {
			count++
		}
	}
	return count
}

// ForgetConn drops every run of a closed connection.
func (t *RunTracker) ForgetConn(connID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for id, run := range t.runs {
		if run.ConnID == connID {
			delete(t.runs, id)
			removed++
		}
	}
	return removed
}

// CleanCompleted removes finished runs older than maxAge.
func (t *RunTracker) CleanCompleted(maxAge time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	deadline := time.Now().Add(-maxAge)
	cleaned := 0
	for id, run := range t.runs {
		if !run.active() && run.CompletedAt.Before(deadline) {
			delete(t.runs, id)
			cleaned++
		}
	}
	return cleaned
}
