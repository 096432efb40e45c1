// Package service runs submissions on behalf of every transport. It merges
// per-request options into the configured settings, answers repeated
// submissions from the result cache, bounds the number of concurrent
// executions and records the run history.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/graphery/executor/internal/config"
	"github.com/graphery/executor/internal/controller"
	"github.com/graphery/executor/internal/protocol"
	"github.com/graphery/executor/internal/storage"
)

// Cache lookup outcomes reported in Outcome.Cache.
const (
	CacheHit  = "hit"
	CacheMiss = "miss"
)

// ErrNoSubmission is returned when a request carries nothing to run.
var ErrNoSubmission = errors.New("no submission")

// Request is one submission received by a transport.
type Request struct {
	Submission *protocol.Submission
	// Transport names the origin for the run history: "http", "ws", "mcp" or "cli".
	Transport string
	// RunID is assigned by the caller when it must be known before the run
	// finishes. Empty generates one.
	RunID string
}

// Outcome is a finished run. Program failures are reported in Result.Error.
type Outcome struct {
	RunID  string
	Result *controller.Result
	Cached bool
	// Cache is CacheHit, CacheMiss or empty when the cache is disabled.
	Cache    string
	Duration time.Duration
	Phases   []controller.Phase
}

// Runner executes submissions. An error means the run could not be carried
// out at all, never that the program failed.
type Runner interface {
	Run(ctx context.Context, req Request) (*Outcome, error)
}

// Options configures an Executor.
type Options struct {
	Config  *config.ExecutorConfig
	Backend Backend
	// Store backs the result cache and the run history. Nil disables both.
	Store storage.Store
	// CacheTTL is how long results stay cached. Zero disables the cache.
	CacheTTL time.Duration
	History  bool
	// MaxConcurrent bounds simultaneous executions. Zero means 1.
	MaxConcurrent int
	Tracer        trace.Tracer
	Logger        *slog.Logger
}

// Executor is the Runner shared by all transports.
type Executor struct {
	cfg      atomic.Pointer[config.ExecutorConfig]
	backend  Backend
	store    storage.Store
	cacheTTL time.Duration
	history  bool
	sem      chan struct{}
	tracer   trace.Tracer
	logger   *slog.Logger
	now      func() time.Time
}

var _ Runner = (*Executor)(nil)

// New creates an Executor.
func New(opts Options) *Executor {
	if opts.Config == nil {
		opts.Config = &config.ExecutorConfig{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Backend == nil {
		opts.Backend = &InlineBackend{Tracer: opts.Tracer, Logger: opts.Logger}
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("")
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	e := &Executor{
		backend:  opts.Backend,
		store:    opts.Store,
		cacheTTL: opts.CacheTTL,
		history:  opts.History && opts.Store != nil,
		sem:      make(chan struct{}, opts.MaxConcurrent),
		tracer:   opts.Tracer,
		logger:   opts.Logger,
		now:      time.Now,
	}
	e.cfg.Store(opts.Config)
	return e
}

// Settings returns the settings a submission with opts would run under.
func (e *Executor) Settings(opts *protocol.Options) controller.Settings {
	return MergeSettings(e.cfg.Load(), opts)
}

// SetConfig replaces the execution defaults. Runs already started keep the
// settings they were admitted with.
func (e *Executor) SetConfig(cfg *config.ExecutorConfig) {
	if cfg == nil {
		return
	}
	e.cfg.Store(cfg)
	e.logger.Info("execution settings reloaded",
		slog.Duration("cpu_time", cfg.CPUTime()),
		slog.Bool("is_local", cfg.IsLocal),
	)
}

func (e *Executor) cacheEnabled() bool { return e.store != nil && e.cacheTTL > 0 }

// Run executes one submission.
func (e *Executor) Run(ctx context.Context, req Request) (*Outcome, error) {
	if req.Submission == nil {
		return nil, ErrNoSubmission
	}
	start := e.now()
	out := &Outcome{RunID: req.RunID}
	if out.RunID == "" {
		out.RunID = uuid.NewString()
	}

	ctx, span := e.tracer.Start(ctx, "service.run", trace.WithAttributes(
		attribute.String("run.id", out.RunID),
		attribute.String("run.transport", req.Transport),
	))
	defer span.End()

	logger := e.logger.With(slog.String("run_id", out.RunID), slog.String("transport", req.Transport))

	sub := req.Submission
	creq := controller.Request{Code: sub.Code, Graph: sub.GraphBytes(), Version: sub.Version}
	settings := MergeSettings(e.cfg.Load(), sub.Options)

	var key string
	if e.cacheEnabled() {
		key = CacheKey(creq, settings)
		res, err := e.lookup(ctx, key)
		switch {
		case err == nil:
			out.Result, out.Cached, out.Cache = res, true, CacheHit
		case errors.Is(err, storage.ErrNotFound):
			out.Cache = CacheMiss
		default:
			logger.Warn("Result cache lookup failed", slog.Any("error", err))
			out.Cache = CacheMiss
		}
		span.SetAttributes(attribute.String("cache", out.Cache))
	}

	if out.Result == nil {
		select {
		case e.sem <- struct{}{}:
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for an execution slot: %w", ctx.Err())
		}
		exec, err := e.backend.Execute(ctx, creq, settings)
		<-e.sem
		if err != nil {
			logger.Error("Execution failed", slog.Any("error", err))
			return nil, err
		}
		out.Result, out.Phases = exec.Result, exec.Phases

		if key != "" && cacheable(out.Result) {
			if err := e.save(ctx, key, out); err != nil {
				logger.Warn("Failed to cache result", slog.Any("error", err))
			}
		}
	}
	out.Duration = e.now().Sub(start)

	if e.history {
		if err := e.store.Runs().Create(ctx, runRecord(out, key, req.Transport, start)); err != nil {
			logger.Warn("Failed to record run", slog.Any("error", err))
		}
	}

	attrs := []any{
		slog.Bool("cached", out.Cached),
		slog.Int("records", len(out.Result.Changes)),
		slog.Duration("duration", out.Duration),
	}
	if out.Result.Error != nil {
		attrs = append(attrs, slog.String("kind", string(out.Result.Error.Kind)))
	}
	logger.Info("Run finished", attrs...)
	return out, nil
}

func (e *Executor) lookup(ctx context.Context, key string) (*controller.Result, error) {
	cached, err := e.store.Results().Get(ctx, key, e.now())
	if err != nil {
		return nil, err
	}
	var res controller.Result
	if err := json.Unmarshal(cached.Result, &res); err != nil {
		return nil, fmt.Errorf("decoding cached result %s: %w", key, err)
	}
	return &res, nil
}

func (e *Executor) save(ctx context.Context, key string, out *Outcome) error {
	data, err := json.Marshal(out.Result)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	now := e.now()
	return e.store.Results().Put(ctx, &storage.CachedResult{
		Key:       key,
		RunID:     out.RunID,
		Result:    data,
		CreatedAt: now,
		ExpiresAt: now.Add(e.cacheTTL),
	})
}

func runRecord(out *Outcome, key, transport string, start time.Time) *storage.RunRecord {
	r := &storage.RunRecord{
		ID:        out.RunID,
		Key:       key,
		Transport: transport,
		Status:    "success",
		Records:   len(out.Result.Changes),
		Cached:    out.Cached,
		Duration:  out.Duration,
		CreatedAt: start,
	}
	if e := out.Result.Error; e != nil {
		r.Status = "failed"
		r.Code = int(e.Code)
		r.Kind = string(e.Kind)
		r.Message = e.Message
	}
	return r
}
