package observability

import (
	"log/slog"
	"sync"
	"time"

	"github.com/graphery/executor/internal/config"
)

const (
	defaultAnomalyWindow    = 300 * time.Second
	defaultAnomalyThreshold = 0.5
	defaultAnomalyMinRuns   = 5
)

// AnomalyDetector warns when the failure rate of an operation crosses a
// threshold within a sliding window. Operations are "run" and
// "sandbox_<type>". An alert fires once when the rate goes above the
// threshold and clears when it falls back.
type AnomalyDetector struct {
	mu         sync.Mutex
	windows    map[string]*outcomeWindow
	alerting   map[string]bool
	anomalies  int
	window     time.Duration
	threshold  float64
	minSamples int
	now        func() time.Time
	logger     *slog.Logger
}

// outcomeWindow counts outcomes in one-second buckets, oldest first.
type outcomeWindow struct {
	buckets []outcomeBucket
}

type outcomeBucket struct {
	second   int64
	failures int
	total    int
}

// NewAnomalyDetector creates an anomaly detector from config.
func NewAnomalyDetector(cfg *config.AnomalyConfig, logger *slog.Logger) *AnomalyDetector {
	a := &AnomalyDetector{
		windows:    make(map[string]*outcomeWindow),
		alerting:   make(map[string]bool),
		window:     defaultAnomalyWindow,
		threshold:  defaultAnomalyThreshold,
		minSamples: defaultAnomalyMinRuns,
		now:        time.Now,
		logger:     logger,
	}
	if cfg != nil {
		if cfg.WindowSeconds > 0 {
			a.window = time.Duration(cfg.WindowSeconds) * time.Second
		}
		if cfg.ErrorRateThreshold > 0 {
			a.threshold = cfg.ErrorRateThreshold
		}
	}
	return a
}

// RecordError records a failed operation.
func (a *AnomalyDetector) RecordError(operation string) {
	a.record(operation, true)
}

// RecordSuccess records a successful operation.
func (a *AnomalyDetector) RecordSuccess(operation string) {
	a.record(operation, false)
}

// Anomalies returns how many times an error rate crossed the threshold.
func (a *AnomalyDetector) Anomalies() int {
	if a == nil {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.anomalies
}

// Rate returns the failures and total outcomes of operation in the window.
func (a *AnomalyDetector) Rate(operation string) (failures, total int) {
	if a == nil {
		return 0, 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	w, ok := a.windows[operation]
	if !ok {
		return 0, 0
	}
	return w.counts(a.cutoff())
}

func (a *AnomalyDetector) record(operation string, failed bool) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	w, ok := a.windows[operation]
	if !ok {
		w = &outcomeWindow{}
		a.windows[operation] = w
	}
	w.add(a.now().Unix(), failed)
	a.evaluate(operation, w)
}

func (a *AnomalyDetector) cutoff() int64 {
	return a.now().Add(-a.window).Unix()
}

// evaluate updates the alert state of operation. Must be called with a.mu held.
func (a *AnomalyDetector) evaluate(operation string, w *outcomeWindow) {
	failures, total := w.counts(a.cutoff())
	if total < a.minSamples {
		return
	}
	rate := float64(failures) / float64(total)
	above := rate > a.threshold

	switch {
	case above && !a.alerting[operation]:
		a.alerting[operation] = true
		a.anomalies++
		if a.logger != nil {
			a.logger.Warn("anomaly detected: high failure rate",
				slog.String("operation", operation),
				slog.Float64("failure_rate", rate),
				slog.Float64("threshold", a.threshold),
				slog.Int("failures", failures),
				slog.Int("total", total),
			)
		}
	case !above && a.alerting[operation]:
		delete(a.alerting, operation)
		if a.logger != nil {
			a.logger.Info("failure rate back to normal",
				slog.String("operation", operation),
				slog.Float64("failure_rate", rate),
			)
		}
	}
}

func (w *outcomeWindow) add(second int64, failed bool) {
	n := len(w.buckets)
	if n == 0 || w.buckets[n-1].second != second {
		w.buckets = append(w.buckets, outcomeBucket{second: second})
		n++
	}
	b := &w.buckets[n-1]
	b.total++
	if failed {
		b.failures++
	}
}

// counts drops buckets older than cutoff and sums the rest.
func (w *outcomeWindow) counts(cutoff int64) (failures, total int) {
	i := 0
	for i < len(w.buckets) && w.buckets[i].second < cutoff {
		i++
	}
	if i > 0 {
		w.buckets = w.buckets[i:]
	}
	for _, b := range w.buckets {
		failures += b.failures
		total += b.total
	}
	return failures, total
}
