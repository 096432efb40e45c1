package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultCPUSeconds = 60
	defaultMemoryMB   = 1024
)

// ProcessConfig configures the process-based sandbox.
type ProcessConfig struct {
	DefaultTimeout time.Duration
	DefaultLimits  ResourceLimits
}

// ProcessSandbox runs each child as its own process group in a scratch
// directory with a minimal environment. CPU and address space limits are
// set on the child right after it starts. The whole group is killed on
// timeout or cancel.
type ProcessSandbox struct {
	defaultTimeout time.Duration
	defaultLimits  ResourceLimits
	logger         *slog.Logger
}

// NewProcessSandbox creates a process-based sandbox.
func NewProcessSandbox(cfg ProcessConfig, logger *slog.Logger) *ProcessSandbox {
	s := &ProcessSandbox{
		defaultTimeout: cfg.DefaultTimeout,
		defaultLimits:  cfg.DefaultLimits,
		logger:         logger,
	}
	if s.defaultTimeout <= 0 {
		s.defaultTimeout = defaultTimeout
	}
	if s.defaultLimits.MaxCPUSeconds <= 0 {
		s.defaultLimits.MaxCPUSeconds = defaultCPUSeconds
	}
	if s.defaultLimits.MaxMemoryMB <= 0 {
		s.defaultLimits.MaxMemoryMB = defaultMemoryMB
	}
	return s
}

// Execute runs one child and waits for it.
func (s *ProcessSandbox) Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error) {
	if len(req.Command) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	name, err := executionName(req.Name)
	if err != nil {
		return nil, fmt.Errorf("naming execution: %w", err)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dir, err := os.MkdirTemp("", "executor-"+name+"-*")
	if err != nil {
		return nil, fmt.Errorf("creating scratch dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Warn("failed to remove scratch dir", slog.String("dir", dir), slog.Any("error", err))
		}
	}()

	limits := s.resolveLimits(req.Limits)
	logger := s.logger.With(slog.String("execution", name))

	cmd := exec.CommandContext(ctx, req.Command[0], req.Command[1:]...)
	cmd.Dir = dir
	cmd.Env = buildEnv(dir, req.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// negative pid signals the whole group
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = time.Second

	logger.Debug("sandbox executing",
		slog.Any("command", req.Command),
		slog.Int("memory_limit_mb", limits.MaxMemoryMB),
		slog.Int("cpu_limit_sec", limits.MaxCPUSeconds),
		slog.Duration("timeout", timeout),
	)
	res, err := run(ctx, cmd, req, timeout, func(pid int) error {
		return applyLimits(pid, limits)
	})
	if err != nil {
		logger.Warn("sandbox execution failed", slog.Any("error", err))
		return nil, err
	}
	logger.Debug("sandbox execution completed",
		slog.Int("exit_code", res.ExitCode),
		slog.Int("signal", res.Signal),
		slog.Duration("duration", res.Duration),
		slog.Int("stdout_bytes", len(res.Stdout)),
	)
	return res, nil
}

// resolveLimits merges request-level overrides with sandbox defaults.
func (s *ProcessSandbox) resolveLimits(req ResourceLimits) ResourceLimits {
	limits := s.defaultLimits
	if req.MaxCPUSeconds > 0 {
		limits.MaxCPUSeconds = req.MaxCPUSeconds
	}
	if req.MaxMemoryMB > 0 {
		limits.MaxMemoryMB = req.MaxMemoryMB
	}
	return limits
}

// buildEnv constructs the child environment. Nothing of the server
// environment reaches the child, database credentials included.
func buildEnv(dir string, extra map[string]string) []string {
	env := []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + dir,
		"TMPDIR=" + dir,
		"LANG=C.UTF-8",
	}
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}
