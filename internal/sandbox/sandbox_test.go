package sandbox

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"slices"
	"strings"
	"syscall"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestProcessSandbox(t *testing.T) *ProcessSandbox {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	return NewProcessSandbox(ProcessConfig{DefaultTimeout: 10 * time.Second}, testLogger())
}

// --- Process sandbox ---

func TestProcessSandbox_BasicExecution(t *testing.T) {
	sbx := newTestProcessSandbox(t)
	result, err := sbx.Execute(context.Background(), ExecutionRequest{
		Command: []string{"echo", "hello"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ExitCode != 0 || result.Signal != 0 {
		t.Errorf("exit code = %d, signal = %d", result.ExitCode, result.Signal)
	}
	if got := strings.TrimSpace(result.Stdout); got != "hello" {
		t.Errorf("stdout = %q, want %q", got, "hello")
	}
}

func TestProcessSandbox_Stdin(t *testing.T) {
	sbx := newTestProcessSandbox(t)
	result, err := sbx.Execute(context.Background(), ExecutionRequest{
		Command: []string{"cat"},
		Stdin:   []byte(`{"code":"x = 1"}`),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Stdout != `{"code":"x = 1"}` {
		t.Errorf("stdout = %q", result.Stdout)
	}
}

func TestProcessSandbox_NonZeroExit(t *testing.T) {
	sbx := newTestProcessSandbox(t)
	result, err := sbx.Execute(context.Background(), ExecutionRequest{
		Command: []string{"sh", "-c", "exit 13"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ExitCode != 13 {
		t.Errorf("exit code = %d, want 13", result.ExitCode)
	}
}

func TestProcessSandbox_Signal(t *testing.T) {
	sbx := newTestProcessSandbox(t)
	result, err := sbx.Execute(context.Background(), ExecutionRequest{
		Command: []string{"sh", "-c", "kill -TERM $$"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Signal != int(syscall.SIGTERM) {
		t.Errorf("signal = %d, want %d", result.Signal, syscall.SIGTERM)
	}
}

func TestProcessSandbox_Timeout(t *testing.T) {
	sbx := newTestProcessSandbox(t)
	_, err := sbx.Execute(context.Background(), ExecutionRequest{
		Command: []string{"sleep", "60"},
		Timeout: 200 * time.Millisecond,
	})
	if !errors.Is(err, ErrTimeout) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want timeout error", err)
	}
}

func TestProcessSandbox_MemoryLimit(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("prlimit is linux only")
	}
	sbx := newTestProcessSandbox(t)
	result, err := sbx.Execute(context.Background(), ExecutionRequest{
		Command: []string{"sh", "-c", "sleep 0.2; ulimit -v"},
		Limits:  ResourceLimits{MaxMemoryMB: 256},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.TrimSpace(result.Stdout); got != "262144" {
		t.Errorf("ulimit -v = %q, want 262144", got)
	}
}

func TestProcessSandbox_LimitsSetBeforeInput(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("prlimit is linux only")
	}
	sbx := newTestProcessSandbox(t)
	result, err := sbx.Execute(context.Background(), ExecutionRequest{
		Command: []string{"sh", "-c", "read line; ulimit -v; echo \"$line\""},
		Stdin:   []byte("go\n"),
		Limits:  ResourceLimits{MaxMemoryMB: 256},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.TrimSpace(result.Stdout); got != "262144\ngo" {
		t.Errorf("stdout = %q, want the limit in place once input arrived", got)
	}
}

func TestProcessSandbox_LargeOutput(t *testing.T) {
	sbx := newTestProcessSandbox(t)
	const size = 20 << 20
	result, err := sbx.Execute(context.Background(), ExecutionRequest{
		Command: []string{"head", "-c", "20971520", "/dev/zero"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Stdout) != size || result.Truncated {
		t.Errorf("stdout = %d bytes (truncated %v), want %d", len(result.Stdout), result.Truncated, size)
	}

	result, err = sbx.Execute(context.Background(), ExecutionRequest{
		Command:        []string{"head", "-c", "20971520", "/dev/zero"},
		MaxOutputBytes: 1000,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Stdout) != 1000 || !result.Truncated {
		t.Errorf("capped stdout = %d bytes (truncated %v)", len(result.Stdout), result.Truncated)
	}
}

func TestProcessSandbox_ScratchDirNamed(t *testing.T) {
	sbx := newTestProcessSandbox(t)
	result, err := sbx.Execute(context.Background(), ExecutionRequest{
		Name:    "run42",
		Command: []string{"sh", "-c", "pwd"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result.Stdout, "executor-run42-") {
		t.Errorf("pwd = %q", result.Stdout)
	}
}

func TestExecutionName(t *testing.T) {
	if n, _ := executionName("r1"); n != "r1" {
		t.Errorf("name = %q", n)
	}
	a, _ := executionName("")
	b, _ := executionName("")
	if len(a) != 16 || a == b {
		t.Errorf("generated names %q, %q", a, b)
	}
}

func TestProcessSandbox_EnvNotInherited(t *testing.T) {
	t.Setenv("GE_DB_DSN", "postgres://secret")
	sbx := newTestProcessSandbox(t)
	result, err := sbx.Execute(context.Background(), ExecutionRequest{
		Command: []string{"sh", "-c", "echo \"[$GE_DB_DSN][$MY_VAR]\""},
		Env:     map[string]string{"MY_VAR": "v"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.TrimSpace(result.Stdout); got != "[][v]" {
		t.Errorf("stdout = %q, want %q", got, "[][v]")
	}
}

func TestProcessSandbox_EmptyCommand(t *testing.T) {
	sbx := newTestProcessSandbox(t)
	if _, err := sbx.Execute(context.Background(), ExecutionRequest{}); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestResolveLimits(t *testing.T) {
	sbx := NewProcessSandbox(ProcessConfig{}, testLogger())
	got := sbx.resolveLimits(ResourceLimits{MaxMemoryMB: 256})
	if got.MaxMemoryMB != 256 || got.MaxCPUSeconds != defaultCPUSeconds {
		t.Errorf("limits = %+v", got)
	}
}

func TestLimitedWriter(t *testing.T) {
	var buf bytes.Buffer
	w := &limitedWriter{w: &buf, remaining: 4}
	n, err := w.Write([]byte("abcdef"))
	if err != nil || n != 6 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	if n, _ := w.Write([]byte("gh")); n != 2 {
		t.Errorf("discarding write = %d", n)
	}
	if buf.String() != "abcd" {
		t.Errorf("buffer = %q", buf.String())
	}
	if !w.dropped {
		t.Error("dropped output not reported")
	}
}

// --- Docker sandbox ---

func TestDockerArgs_Hardening(t *testing.T) {
	sbx := NewDockerSandbox(DockerConfig{}, testLogger())
	args := sbx.runArgs("executor-sbx-test", 256, ExecutionRequest{
		Stdin:  []byte("{}"),
		Limits: ResourceLimits{MaxCPUSeconds: 6},
		Env:    map[string]string{"K": "V"},
	})
	for _, want := range []string{
		"--cap-drop=ALL", "--read-only", "--user=65534:65534", "--network=none",
		"--memory=256m", "--memory-swap=256m", "--interactive", "cpu=6:7", "K=V",
	} {
		if !slices.Contains(args, want) {
			t.Errorf("missing %q in %v", want, args)
		}
	}
	if args[len(args)-1] != defaultDockerImage {
		t.Errorf("image must come last, got %q", args[len(args)-1])
	}
}

func TestDockerArgs_NoStdin(t *testing.T) {
	sbx := NewDockerSandbox(DockerConfig{NetworkAllowed: true}, testLogger())
	args := sbx.runArgs("n", 64, ExecutionRequest{})
	if args[0] != "run" || sbx.config.Binary != "docker" {
		t.Errorf("args = %v, binary = %s", args, sbx.config.Binary)
	}
	if slices.Contains(args, "--interactive") {
		t.Error("--interactive without stdin")
	}
	if !slices.Contains(args, "--network=bridge") {
		t.Error("network should be allowed")
	}
}

func TestDockerSandbox_Echo(t *testing.T) {
	if err := exec.Command("docker", "info").Run(); err != nil {
		t.Skip("docker not available, skipping integration test")
	}
	image := os.Getenv("GE_TEST_DOCKER_IMAGE")
	if image == "" {
		t.Skip("GE_TEST_DOCKER_IMAGE not set")
	}
	sbx := NewDockerSandbox(DockerConfig{Image: image, MemoryMB: 64, PIDsLimit: 32}, testLogger())
	result, err := sbx.Execute(context.Background(), ExecutionRequest{
		Command: []string{"cat"},
		Stdin:   []byte("hello"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Stdout != "hello" {
		t.Errorf("stdout = %q", result.Stdout)
	}
}
