//go:build linux

package controller

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// CPUSignal is the signal the kernel sends once the CPU limit is reached.
const CPUSignal = int(unix.SIGXCPU)

var limitSignals = []os.Signal{unix.SIGXCPU}

// processCPUTime returns the user and system time consumed by the process.
func processCPUTime() time.Duration {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return 0
	}
	return time.Duration(ru.Utime.Nano() + ru.Stime.Nano())
}

// setCPULimit lowers the soft CPU limit so the kernel raises SIGXCPU once
// the process consumed budget more seconds. The returned func restores the
// previous limit.
func setCPULimit(budget time.Duration) (func() error, error) {
	var prev unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_CPU, &prev); err != nil {
		return nil, err
	}
	used := uint64(processCPUTime() / time.Second)
	soft := used + uint64(max(budget.Round(time.Second)/time.Second, 1))
	hard := prev.Max
	if hard != unix.RLIM_INFINITY && soft >= hard {
		soft = hard - 1
	}
	if err := unix.Setrlimit(unix.RLIMIT_CPU, &unix.Rlimit{Cur: soft, Max: hard}); err != nil {
		return nil, err
	}
	return func() error { return unix.Setrlimit(unix.RLIMIT_CPU, &prev) }, nil
}
