//go:build !linux

package controller

import (
	"errors"
	"os"
	"time"
)

// CPUSignal mirrors SIGXCPU on Linux.
const CPUSignal = 24

var limitSignals []os.Signal

var processStart = time.Now()

// processCPUTime falls back to wall time where rusage is unavailable.
func processCPUTime() time.Duration { return time.Since(processStart) }

func setCPULimit(time.Duration) (func() error, error) {
	return nil, errors.New("CPU limits are only supported on linux")
}
