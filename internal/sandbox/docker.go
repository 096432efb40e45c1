package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"time"
)

const (
	defaultDockerPIDsLimit = 64
	defaultDockerCPUCores  = 1.0
	defaultDockerImage     = "graphery/executor:latest"
	defaultDockerBinary    = "docker"
)

// DockerConfig configures the Docker-based sandbox.
type DockerConfig struct {
	Binary         string        // Default: "docker". Podman works too.
	Image          string        // Image shipping the executor binary.
	DefaultTimeout time.Duration // Wall-clock timeout per execution.
	MemoryMB       int           // --memory hard limit.
	CPUCores       float64       // --cpus, e.g. 0.5 = half a core.
	PIDsLimit      int           // --pids-limit.
	NetworkAllowed bool          // false = --network=none.
}

func (c DockerConfig) withDefaults() DockerConfig {
	if c.Binary == "" {
		c.Binary = defaultDockerBinary
	}
	if c.Image == "" {
		c.Image = defaultDockerImage
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = defaultTimeout
	}
	if c.MemoryMB <= 0 {
		c.MemoryMB = defaultMemoryMB
	}
	if c.CPUCores <= 0 {
		c.CPUCores = defaultDockerCPUCores
	}
	if c.PIDsLimit <= 0 {
		c.PIDsLimit = defaultDockerPIDsLimit
	}
	return c
}

// DockerSandbox runs each child in an ephemeral container without
// capabilities, network or a writable root filesystem, as nobody.
// Containers are removed even when the run times out.
type DockerSandbox struct {
	config DockerConfig
	logger *slog.Logger
}

// NewDockerSandbox creates a Docker-based sandbox.
func NewDockerSandbox(cfg DockerConfig, logger *slog.Logger) *DockerSandbox {
	return &DockerSandbox{config: cfg.withDefaults(), logger: logger}
}

// Execute runs one child inside a fresh container.
func (s *DockerSandbox) Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error) {
	if len(req.Command) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	name, err := executionName(req.Name)
	if err != nil {
		return nil, fmt.Errorf("naming execution: %w", err)
	}
	container := "executor-" + name

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.config.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	memoryMB := s.config.MemoryMB
	if req.Limits.MaxMemoryMB > 0 {
		memoryMB = req.Limits.MaxMemoryMB
	}
	args := append(s.runArgs(container, memoryMB, req), req.Command...)

	cmd := exec.CommandContext(ctx, s.config.Binary, args...)
	cmd.WaitDelay = time.Second
	logger := s.logger.With(slog.String("container", container))
	logger.Debug("docker sandbox executing",
		slog.String("image", s.config.Image),
		slog.Any("command", req.Command),
		slog.Int("memory_mb", memoryMB),
		slog.Duration("timeout", timeout),
	)

	res, err := run(ctx, cmd, req, timeout, nil)
	// --rm does not fire after an OOM kill or a cancel race
	s.removeContainer(container)
	if err != nil {
		logger.Warn("docker sandbox failed", slog.Any("error", err))
		return nil, err
	}
	// docker reports a signalled container as 128+signal
	if res.Signal == 0 && res.ExitCode > 128 && res.ExitCode < 160 {
		res.Signal = res.ExitCode - 128
	}
	logger.Debug("docker sandbox completed",
		slog.Int("exit_code", res.ExitCode),
		slog.Int("signal", res.Signal),
		slog.Duration("duration", res.Duration),
	)
	return res, nil
}

// runArgs builds the docker run arguments up to and including the image.
func (s *DockerSandbox) runArgs(container string, memoryMB int, req ExecutionRequest) []string {
	memory := strconv.Itoa(memoryMB) + "m"
	args := []string{
		"run", "--rm", "--name", container,
		"--cap-drop=ALL",
		"--security-opt=no-new-privileges",
		"--read-only",
		"--user=65534:65534",
		"--memory=" + memory,
		"--memory-swap=" + memory,
		"--cpus=" + strconv.FormatFloat(s.config.CPUCores, 'f', 2, 64),
		"--pids-limit=" + strconv.Itoa(s.config.PIDsLimit),
		"--tmpfs", "/tmp:rw,noexec,nosuid,size=16m",
		"--workdir", "/tmp",
		"--env", "HOME=/tmp",
		"--env", "LANG=C.UTF-8",
	}
	if req.Limits.MaxCPUSeconds > 0 {
		cpu := req.Limits.MaxCPUSeconds
		args = append(args, "--ulimit", fmt.Sprintf("cpu=%d:%d", cpu, cpu+1))
	}
	if req.Stdin != nil {
		args = append(args, "--interactive")
	}
	if s.config.NetworkAllowed {
		args = append(args, "--network=bridge")
	} else {
		args = append(args, "--network=none")
	}
	for k, v := range req.Env {
		args = append(args, "--env", k+"="+v)
	}
	return append(args, s.config.Image)
}

// removeContainer force-removes a container. Errors are logged only.
func (s *DockerSandbox) removeContainer(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, s.config.Binary, "rm", "-f", name).CombinedOutput()
	if err != nil && !bytes.Contains(out, []byte("No such container")) {
		s.logger.Warn("docker rm -f failed",
			slog.String("container", name),
			slog.Any("error", err),
			slog.String("output", string(bytes.TrimSpace(out))),
		)
	}
}
