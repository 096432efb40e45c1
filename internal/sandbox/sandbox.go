// Package sandbox isolates program executions from the server process.
// A sandbox starts the executor binary in run mode, feeds it one submission
// on stdin and collects the JSON result it prints.
package sandbox

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when a child outlives its wall-clock timeout. The
// error also wraps the context error that stopped it.
var ErrTimeout = errors.New("execution timed out")

// Sandbox executes commands in an isolated environment.
type Sandbox interface {
	Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error)
}

// ExecutionRequest defines what to run and under what constraints.
type ExecutionRequest struct {
	// Name labels the execution in logs and container names, usually the
	// run ID. Empty generates one.
	Name string

	// Command is the program and arguments to execute.
	Command []string

	// Stdin is written to the process before its input is closed.
	Stdin []byte

	// Env adds extra environment variables to the sanitized base set.
	Env map[string]string

	// Timeout overrides the sandbox default. Zero = use default.
	Timeout time.Duration

	// Limits overrides resource limits. Zero values = use sandbox defaults.
	Limits ResourceLimits

	// MaxOutputBytes caps the captured stdout. Zero selects
	// DefaultMaxOutputBytes.
	MaxOutputBytes int64
}

// ResourceLimits constrains the sandboxed process.
type ResourceLimits struct {
	MaxCPUSeconds int // RLIMIT_CPU soft limit.
	MaxMemoryMB   int // RLIMIT_AS, or the container memory limit.
}

// ExecutionResult captures the outcome of a sandboxed command.
type ExecutionResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	// Signal is the signal that terminated the process, 0 if it exited.
	Signal   int
	Duration time.Duration
	// Truncated is set when stdout went past MaxOutputBytes.
	Truncated bool
}
