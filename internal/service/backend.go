package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/graphery/executor/internal/controller"
	"github.com/graphery/executor/internal/sandbox"
)

// Backend executes one program with fully resolved settings.
type Backend interface {
	Execute(ctx context.Context, req controller.Request, s controller.Settings) (*Execution, error)
}

// Execution is what a backend observed.
type Execution struct {
	Result *controller.Result
	// Phases is only known for inline executions.
	Phases []controller.Phase
}

// InlineBackend runs programs inside the calling process, one at a time.
// The CPU and memory watchdogs measure the whole process, so a second
// program running alongside would be charged for the first.
type InlineBackend struct {
	Tracer trace.Tracer
	Logger *slog.Logger

	mu sync.Mutex
}

func (b *InlineBackend) Execute(ctx context.Context, req controller.Request, s controller.Settings) (*Execution, error) {
	if err := b.lock(ctx); err != nil {
		return nil, err
	}
	defer b.mu.Unlock()

	s.Tracer = b.Tracer
	c := controller.New(req, s, b.Logger)
	res := c.Run(ctx)
	return &Execution{Result: res, Phases: c.Phases()}, nil
}

// lock waits for the running program to finish, or for ctx to end.
func (b *InlineBackend) lock(ctx context.Context) error {
	for !b.mu.TryLock() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
	return nil
}

// memoryHeadroomMB is added to the virtual memory limit of a child. The Go
// runtime reserves address space well beyond the live heap.
const memoryHeadroomMB = 1024

// SandboxBackend re-executes the executor binary in run mode for every
// program. The child reads the submission on stdin, applies the kernel CPU
// limit to itself and prints the unfolded trace as JSON; the snapshots
// are folded here.
type SandboxBackend struct {
	Sandbox sandbox.Sandbox
	// Command starts the child, e.g. ["/usr/local/bin/executor", "run"].
	Command []string
	// MaxResultBytes caps the child's output. Zero selects the sandbox
	// default.
	MaxResultBytes int64
	Logger         *slog.Logger
}

type childSubmission struct {
	Code    string          `json:"code"`
	Graph   json.RawMessage `json:"graph"`
	Version string          `json:"version"`
}

func (b *SandboxBackend) Execute(ctx context.Context, req controller.Request, s controller.Settings) (*Execution, error) {
	graph := json.RawMessage("null")
	if len(bytes.TrimSpace(req.Graph)) > 0 {
		graph = req.Graph
	}
	stdin, err := json.Marshal(childSubmission{Code: req.Code, Graph: graph, Version: req.Version})
	if err != nil {
		return nil, fmt.Errorf("encoding submission: %w", err)
	}
	env, err := childEnv(s)
	if err != nil {
		return nil, err
	}

	cpuSeconds := int(math.Ceil(s.CPUTime.Seconds()))
	command := append(append([]string{}, b.Command...), "--process-limits", "--unfolded")
	res, err := b.Sandbox.Execute(ctx, sandbox.ExecutionRequest{
		Command:        command,
		Stdin:          append(stdin, '\n'),
		Env:            env,
		Timeout:        2*s.CPUTime + 5*time.Second,
		MaxOutputBytes: b.MaxResultBytes,
		Limits: sandbox.ResourceLimits{
			MaxCPUSeconds: cpuSeconds + 1,
			MaxMemoryMB:   int(s.MemoryLimit>>20) + memoryHeadroomMB,
		},
	})
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, sandbox.ErrTimeout) {
			return &Execution{Result: &controller.Result{Error: controller.CPUExhausted(controller.CPUSignal)}}, nil
		}
		return nil, fmt.Errorf("sandboxed execution: %w", err)
	}
	return &Execution{Result: decodeChild(res, b.Logger)}, nil
}

// childEnv passes the resolved settings to the child through the same
// environment variables the configuration layer reads.
func childEnv(s controller.Settings) (map[string]string, error) {
	inputs, err := json.Marshal(s.Inputs)
	if err != nil {
		return nil, fmt.Errorf("encoding inputs: %w", err)
	}
	env := map[string]string{
		"GE_EXEC_TIME_OUT":   strconv.Itoa(max(int(math.Ceil(s.CPUTime.Seconds())), 1)),
		"GE_EXEC_MEM_OUT":    strconv.FormatInt(max(s.MemoryLimit>>20, 1), 10),
		"GE_IS_LOCAL":        strconv.FormatBool(s.Trusted),
		"GE_RAND_SEED":       strconv.FormatInt(s.Seed, 10),
		"GE_FLOAT_PRECISION": strconv.Itoa(s.FloatPrecision),
		"GE_MAX_REPR_LENGTH": strconv.Itoa(s.MaxReprLength),
		"GE_LOG_LEVEL":       "warn",
		"GE_LOG_FORMAT":      "json",
	}
	if len(s.Inputs) > 0 {
		env["GE_INPUT_LIST"] = string(inputs)
	}
	return env, nil
}

// decodeChild turns the child's trace into a result. A child killed before
// it could print one is classified by the signal that stopped it.
func decodeChild(res *sandbox.ExecutionResult, logger *slog.Logger) *controller.Result {
	if res.Truncated {
		logger.Error("sandboxed run result too large", slog.Int("bytes", len(res.Stdout)))
		return &controller.Result{Error: controller.NewError(controller.CodeControl, controller.KindInternal,
			"result larger than %d bytes", len(res.Stdout))}
	}
	var tr controller.Trace
	if err := json.Unmarshal(bytes.TrimSpace([]byte(res.Stdout)), &tr); err == nil && (tr.Error != nil || tr.Initial != nil) {
		return tr.Result()
	}

	switch {
	case res.Signal == controller.CPUSignal:
		return &controller.Result{Error: controller.CPUExhausted(res.Signal)}
	case res.Signal == int(syscall.SIGKILL):
		return &controller.Result{Error: controller.MemoryExhausted()}
	}
	if strings.Contains(res.Stderr, "out of memory") {
		return &controller.Result{Error: controller.MemoryExhausted()}
	}

	logger.Error("sandboxed run produced no result",
		slog.Int("exit_code", res.ExitCode),
		slog.Int("signal", res.Signal),
		slog.String("stderr", tail(res.Stderr, 512)),
	)
	return &controller.Result{Error: controller.NewError(controller.CodeControl, controller.KindInternal,
		"sandboxed run exited with code %d without a result", res.ExitCode)}
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
