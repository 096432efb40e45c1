package controller

import (
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"runtime/metrics"
	"sync"
	"time"
)

// layer is one scoped adjustment of the execution environment. Layers are
// entered in order before the program runs and exited in reverse order
// afterwards, whether or not the program succeeded.
type layer interface {
	name() string
	enter(c *Controller) error
	exit(c *Controller) error
}

// seedLayer seeds the program's random source and reseeds it from the
// clock on exit.
type seedLayer struct{}

func (seedLayer) name() string { return "random_seed" }

func (seedLayer) enter(c *Controller) error {
	c.in.Seed(c.settings.Seed)
	return nil
}

func (seedLayer) exit(c *Controller) error {
	c.in.Seed(time.Now().UnixNano())
	return nil
}

// redirectLayer routes the program's stdout and stderr into the buffers
// the controller owns. Outside the layer output is discarded.
type redirectLayer struct{}

func (redirectLayer) name() string { return "redirect" }

func (redirectLayer) enter(c *Controller) error {
	c.stdoutGate.set(&c.stdout)
	c.stderrGate.set(&c.stderr)
	return nil
}

func (redirectLayer) exit(c *Controller) error {
	c.stdoutGate.set(nil)
	c.stderrGate.set(nil)
	return nil
}

// gate forwards writes to a swappable writer.
type gate struct {
	mu sync.Mutex
	w  io.Writer
}

func (g *gate) set(w io.Writer) {
	g.mu.Lock()
	g.w = w
	g.mu.Unlock()
}

func (g *gate) Write(p []byte) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.w == nil {
		return len(p), nil
	}
	return g.w.Write(p)
}

// moduleLayer restricts imports to the allow list in untrusted mode.
type moduleLayer struct{}

func (moduleLayer) name() string { return "module_restrict" }

func (moduleLayer) enter(c *Controller) error {
	c.imports.restricted = !c.settings.Trusted
	if c.imports.restricted {
		c.logger.Debug("Restricted imports", slog.Any("allowed", AllowedModules))
	}
	return nil
}

func (moduleLayer) exit(c *Controller) error {
	c.imports.restricted = true
	return nil
}

const (
	watchInterval = 10 * time.Millisecond
	heapMetric    = "/memory/classes/heap/objects:bytes"
)

// resourceLayer bounds CPU time and memory. A watchdog samples process CPU
// time and live heap and interrupts the program once a ceiling is crossed.
// With ProcessLimits the kernel CPU limit and the runtime memory limit are
// applied as well; those are process wide and meant for a dedicated child.
type resourceLayer struct {
	done      chan struct{}
	wg        sync.WaitGroup
	signals   chan os.Signal
	restore   func() error
	prevLimit int64
}

func (*resourceLayer) name() string { return "resource_restrict" }

func (l *resourceLayer) enter(c *Controller) error {
	s := c.settings
	l.done = make(chan struct{})
	l.prevLimit = -1

	if s.ProcessLimits {
		if s.CPUTime > 0 && len(limitSignals) > 0 {
			restore, err := setCPULimit(s.CPUTime)
			if err != nil {
				c.logger.Warn("CPU limit not applied", slog.Any("error", err))
			} else {
				l.restore = restore
				l.signals = make(chan os.Signal, 1)
				signal.Notify(l.signals, limitSignals...)
			}
		}
		if s.MemoryLimit > 0 {
			l.prevLimit = debug.SetMemoryLimit(s.MemoryLimit)
		}
	}

	cpuStart := processCPUTime()
	heapStart := liveHeap()
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(watchInterval)
		defer ticker.Stop()
		for {
			select {
			case <-l.done:
				return
			case <-l.signals:
				c.in.Interrupt(CPUExhausted(CPUSignal))
				return
			case <-ticker.C:
				if s.CPUTime > 0 && processCPUTime()-cpuStart > s.CPUTime {
					c.in.Interrupt(CPUExhausted(CPUSignal))
					return
				}
				if s.MemoryLimit > 0 && liveHeap()-heapStart > s.MemoryLimit {
					c.in.Interrupt(MemoryExhausted())
					return
				}
			}
		}
	}()
	c.logger.Debug("Resource limits applied",
		slog.Duration("cpu", s.CPUTime),
		slog.Int64("memory_bytes", s.MemoryLimit),
		slog.Bool("process_limits", s.ProcessLimits),
	)
	return nil
}

func (l *resourceLayer) exit(*Controller) error {
	if l.done == nil {
		return nil
	}
	close(l.done)
	l.wg.Wait()
	if l.signals != nil {
		signal.Stop(l.signals)
	}
	if l.prevLimit >= 0 {
		debug.SetMemoryLimit(l.prevLimit)
	}
	if l.restore != nil {
		return l.restore()
	}
	return nil
}

func liveHeap() int64 {
	sample := []metrics.Sample{{Name: heapMetric}}
	metrics.Read(sample)
	if sample[0].Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return int64(sample[0].Value.Uint64())
}
