package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const healthCheckTimeout = 3 * time.Second

// HealthChecker reports whether the executor can accept runs: the store
// answers and the sandbox can start children.
type HealthChecker struct {
	mu      sync.RWMutex
	checks  []HealthCheck
	started time.Time
	logger  *slog.Logger
}

// CheckFunc returns nil when the dependency is usable.
type CheckFunc func(ctx context.Context) error

// HealthCheck is a named dependency check.
type HealthCheck struct {
	Name  string
	Check CheckFunc
}

// HealthStatus is the JSON body of /healthz and /readyz.
type HealthStatus struct {
	Status string                 `json:"status"` // "ok" or "degraded"
	Uptime string                 `json:"uptime,omitempty"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of one dependency check.
type CheckResult struct {
	Status   string `json:"status"` // "ok" or "fail"
	Duration string `json:"duration"`
	Message  string `json:"message,omitempty"`
}

// NewHealthChecker creates a HealthChecker with no checks registered.
func NewHealthChecker(logger *slog.Logger) *HealthChecker {
	return &HealthChecker{logger: logger, started: time.Now()}
}

// AddCheck registers a named check. Checks are run concurrently.
func (h *HealthChecker) AddCheck(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, HealthCheck{Name: name, Check: check})
}

// CheckHealth reports liveness. The process answering is enough.
func (h *HealthChecker) CheckHealth() HealthStatus {
	return HealthStatus{Status: "ok", Uptime: time.Since(h.started).Round(time.Second).String()}
}

// CheckReady runs every check, each bounded by its own timeout, and is "ok"
// only when all of them pass.
func (h *HealthChecker) CheckReady(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	status := HealthStatus{Status: "ok"}
	if len(checks) == 0 {
		return status
	}
	status.Checks = make(map[string]CheckResult, len(checks))

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, c := range checks {
		wg.Go(func() {
			res := runCheck(ctx, c)
			mu.Lock()
			defer mu.Unlock()
			status.Checks[c.Name] = res
			if res.Status != "ok" {
				status.Status = "degraded"
			}
		})
	}
	wg.Wait()

	for name, res := range status.Checks {
		if res.Status != "ok" && h.logger != nil {
			h.logger.Warn("readiness check failed",
				slog.String("check", name),
				slog.String("error", res.Message),
			)
		}
	}
	return status
}

func runCheck(ctx context.Context, c HealthCheck) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	start := time.Now()
	err := c.Check(ctx)
	res := CheckResult{Status: "ok", Duration: time.Since(start).Round(time.Microsecond).String()}
	if err != nil {
		res.Status = "fail"
		res.Message = err.Error()
	}
	return res
}
