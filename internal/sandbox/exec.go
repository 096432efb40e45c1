package sandbox

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"syscall"
	"time"
)

// DefaultMaxOutputBytes caps stdout when a request sets no limit.
const DefaultMaxOutputBytes = 256 << 20

// maxStderrBytes caps stderr, which only carries logs.
const maxStderrBytes = 1 << 20

// run starts cmd, calls started with its pid and waits for it. Stdin is
// written only after started returned, so the child cannot receive its
// input before the limits are in place. A non-zero exit is a result, not
// an error. Timeouts are reported as ErrTimeout.
func run(ctx context.Context, cmd *exec.Cmd, req ExecutionRequest, timeout time.Duration, started func(pid int) error) (*ExecutionResult, error) {
	var stdin io.WriteCloser
	if req.Stdin != nil {
		var err error
		if stdin, err = cmd.StdinPipe(); err != nil {
			return nil, fmt.Errorf("opening stdin: %w", err)
		}
	}
	limit := req.MaxOutputBytes
	if limit <= 0 {
		limit = DefaultMaxOutputBytes
	}
	var stdout, stderr bytes.Buffer
	out := &limitedWriter{w: &stdout, remaining: limit}
	cmd.Stdout = out
	cmd.Stderr = &limitedWriter{w: &stderr, remaining: maxStderrBytes}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", cmd.Path, err)
	}
	if started != nil {
		if err := started(cmd.Process.Pid); err != nil {
			if stdin != nil {
				_ = stdin.Close()
			}
			_ = cmd.Cancel()
			_ = cmd.Wait()
			return nil, err
		}
	}
	if stdin != nil {
		go func() {
			// a child that exits without reading closes the pipe
			_, _ = stdin.Write(req.Stdin)
			_ = stdin.Close()
		}()
	}
	waitErr := cmd.Wait()

	res := &ExecutionResult{
		Duration:  time.Since(start),
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: out.dropped,
	}
	if waitErr == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w after %s: %w", ErrTimeout, timeout, ctx.Err())
	}
	var exitErr *exec.ExitError
	if !errors.As(waitErr, &exitErr) {
		return nil, fmt.Errorf("waiting for %s: %w", cmd.Path, waitErr)
	}
	res.ExitCode = exitErr.ExitCode()
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		res.Signal = int(ws.Signal())
	}
	return res, nil
}

// executionName returns name, or a random one when it is empty.
func executionName(name string) (string, error) {
	if name != "" {
		return name, nil
	}
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// limitedWriter stops writing after a byte limit. Excess data is dropped
// without an error so the child never blocks on a full pipe.
type limitedWriter struct {
	w         io.Writer
	remaining int64
	dropped   bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if int64(n) > lw.remaining {
		lw.dropped = true
		p = p[:max(lw.remaining, 0)]
	}
	if len(p) == 0 {
		return n, nil
	}
	written, err := lw.w.Write(p)
	lw.remaining -= int64(written)
	if err != nil {
		return written, err
	}
	return n, nil
}
