//go:build linux

package sandbox

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// applyLimits sets the CPU and address space limits of a running child.
// The hard CPU limit is one second above the soft one so the child gets
// SIGXCPU before SIGKILL. A child that already exited is not an error.
func applyLimits(pid int, limits ResourceLimits) error {
	err := setLimits(pid, limits)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

func setLimits(pid int, limits ResourceLimits) error {
	if limits.MaxCPUSeconds > 0 {
		cpu := uint64(limits.MaxCPUSeconds)
		if err := unix.Prlimit(pid, unix.RLIMIT_CPU, &unix.Rlimit{Cur: cpu, Max: cpu + 1}, nil); err != nil {
			return fmt.Errorf("setting cpu limit: %w", err)
		}
	}
	if limits.MaxMemoryMB > 0 {
		as := uint64(limits.MaxMemoryMB) << 20
		if err := unix.Prlimit(pid, unix.RLIMIT_AS, &unix.Rlimit{Cur: as, Max: as}, nil); err != nil {
			return fmt.Errorf("setting memory limit: %w", err)
		}
	}
	return nil
}
