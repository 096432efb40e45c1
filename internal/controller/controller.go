// Package controller runs one submitted program inside a restricted
// environment and turns what the tracer observed into a result.
//
// A Controller is single use:
//
//	Created -> Initialized -> Prepared -> Ran -> Cleaned
//	                \-----------\----------\-----> Failed
package controller

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/graphery/executor/internal/classifier"
	"github.com/graphery/executor/internal/graph"
	"github.com/graphery/executor/internal/recorder"
	"github.com/graphery/executor/internal/script"
	"github.com/graphery/executor/internal/tracer"
)

// ProtocolVersion is the submission version this controller accepts.
const ProtocolVersion = "3.2.4"

// Filename is the name submitted programs are compiled under.
const Filename = "<graphery_main>"

// State is the lifecycle position of a Controller.
type State int

const (
	StateCreated State = iota
	StateInitialized
	StatePrepared
	StateRan
	StateCleaned
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitialized:
		return "initialized"
	case StatePrepared:
		return "prepared"
	case StateRan:
		return "ran"
	case StateCleaned:
		return "cleaned"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Request is one program submission.
type Request struct {
	Code string
	// Graph is Cytoscape JSON. Empty selects an empty undirected graph.
	Graph   []byte
	Version string
}

// Settings bound and shape one execution.
type Settings struct {
	// CPUTime is the CPU budget. Zero disables the limit.
	CPUTime time.Duration
	// MemoryLimit is the heap budget in bytes. Zero disables the limit.
	MemoryLimit int64
	// FloatPrecision is the number of decimals floats are rounded to.
	// Negative disables rounding.
	FloatPrecision int
	MaxReprLength  int
	Seed           int64
	// Trusted lifts the builtin and import restrictions.
	Trusted bool
	// Inputs feed input(), one line per call.
	Inputs []string
	// ProcessLimits also applies the kernel CPU limit and the runtime
	// memory limit. Only set it when the process runs a single program.
	ProcessLimits bool
	// Tracer receives a span per phase. Nil disables tracing.
	Tracer trace.Tracer
}

// Result is the outcome of a run. Changes holds the folded snapshots. When
// the program failed at runtime it holds the snapshots up to the failure.
type Result struct {
	Changes []recorder.Record `json:"changes,omitempty"`
	Error   *Error            `json:"error,omitempty"`
}

// Trace is a result before folding: the initial variables and the raw
// change records, whose Variables hold only what changed at each step.
// Initial is nil when nothing was recorded.
type Trace struct {
	Initial map[string]classifier.State `json:"initial"`
	Changes []recorder.Record           `json:"changes,omitempty"`
	Error   *Error                      `json:"error,omitempty"`
}

// Result folds the trace into full snapshots.
func (t *Trace) Result() *Result {
	res := &Result{Error: t.Error}
	if t.Initial != nil {
		res.Changes = recorder.Fold(t.Initial, t.Changes)
	}
	return res
}

// Phase is the duration of one controller phase.
type Phase struct {
	Name     string
	Duration time.Duration
}

// Controller owns the interpreter, recorder and tracer of one execution.
type Controller struct {
	req      Request
	settings Settings
	logger   *slog.Logger
	state    State

	in       *script.Interp
	builtins *script.Namespace
	globals  *script.Namespace
	imports  importer
	graph    *graph.Graph
	rec      *recorder.Recorder
	session  *tracer.Session

	stdout, stderr         bytes.Buffer
	stdoutGate, stderrGate gate

	layers []layer
	phases []Phase
}

// New returns a controller for req.
func New(req Request, settings Settings, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if settings.Tracer == nil {
		settings.Tracer = noop.NewTracerProvider().Tracer("")
	}
	return &Controller{
		req:      req,
		settings: settings,
		logger:   logger,
		builtins: script.NewNamespace(),
		globals:  script.NewNamespace(),
		imports:  importer{restricted: true},
		layers:   []layer{seedLayer{}, redirectLayer{}, moduleLayer{}, &resourceLayer{}},
	}
}

// Execute builds a controller for req and runs it.
func Execute(ctx context.Context, req Request, settings Settings, logger *slog.Logger) *Result {
	return New(req, settings, logger).Run(ctx)
}

// ExecuteTrace builds a controller for req and runs it without folding.
func ExecuteTrace(ctx context.Context, req Request, settings Settings, logger *slog.Logger) *Trace {
	return New(req, settings, logger).RunTrace(ctx)
}

// State returns the lifecycle state.
func (c *Controller) State() State { return c.state }

// Phases returns the duration of every phase run so far.
func (c *Controller) Phases() []Phase { return c.phases }

// Stdout returns everything the program printed.
func (c *Controller) Stdout() string { return c.stdout.String() }

// Stderr returns everything the program wrote to stderr.
func (c *Controller) Stderr() string { return c.stderr.String() }

type initStep struct {
	name string
	run  func(c *Controller) error
}

var initSteps = []initStep{
	{"check_version", (*Controller).checkVersion},
	{"build_graph", (*Controller).buildGraph},
	{"build_recorder", (*Controller).buildRecorder},
	{"build_tracer", (*Controller).buildTracer},
	{"collect_builtins", (*Controller).collectBuiltins},
	{"collect_globals", (*Controller).collectGlobals},
}

// Init runs the setup steps. The first failing step moves the controller to
// StateFailed and is returned as an *Error.
func (c *Controller) Init(ctx context.Context) error {
	if c.state != StateCreated {
		return NewError(CodeControl, KindInternal, "init called in state %s", c.state)
	}
	_, span := c.settings.Tracer.Start(ctx, "controller.init")
	defer span.End()
	start := time.Now()
	defer func() { c.phases = append(c.phases, Phase{Name: "init", Duration: time.Since(start)}) }()

	for _, step := range initSteps {
		if err := step.run(c); err != nil {
			var e *Error
			if !errors.As(err, &e) {
				e = NewError(CodeInit, KindInternal, "%s: %v", step.name, err)
			}
			c.state = StateFailed
			failSpan(span, e)
			c.logger.Error("Controller init failed", slog.String("step", step.name), slog.Any("error", err))
			return e
		}
		c.logger.Debug("Controller init step done", slog.String("step", step.name))
	}
	c.state = StateInitialized
	return nil
}

func (c *Controller) checkVersion() error {
	if c.req.Version != ProtocolVersion {
		return versionMismatch(c.req.Version)
	}
	return nil
}

func (c *Controller) buildGraph() error {
	if len(bytes.TrimSpace(c.req.Graph)) == 0 {
		c.graph = graph.New(false, false)
		return nil
	}
	g, err := graph.FromCytoscape(c.req.Graph)
	if err != nil {
		return fmt.Errorf("failed to build graph: %w", err)
	}
	c.graph = g
	return nil
}

func (c *Controller) buildRecorder() error {
	c.in = script.New(script.Options{
		Stdout:   &c.stdoutGate,
		Stderr:   &c.stderrGate,
		Builtins: c.builtins,
		Importer: c.imports.Import,
		Seed:     c.settings.Seed,
		Logger:   c.logger,
	})
	cls := classifier.New(c.in, classifier.Options{
		FloatPrecision: c.settings.FloatPrecision,
		MaxReprLength:  c.settings.MaxReprLength,
	})
	c.rec = recorder.New(cls, c.logger)
	return nil
}

func (c *Controller) buildTracer() error {
	c.session = tracer.NewSession(c.in, c.rec, tracer.SessionOptions{
		Logger:            c.logger,
		Output:            &c.stdout,
		MaxVariableLength: c.settings.MaxReprLength,
	})
	return nil
}

func (c *Controller) collectBuiltins() error {
	for _, b := range buildBuiltins(c.settings.Trusted, c.settings.Inputs).Bindings() {
		c.builtins.Set(b.Name, b.Value)
	}
	return nil
}

func (c *Controller) collectGlobals() error {
	nx := graph.Module(c.in)
	for _, name := range domainModules {
		c.globals.Set(name, nx)
	}
	c.globals.Set("tracer", c.session.Value())
	c.globals.Set("graph", c.graph)
	c.globals.Set("__name__", script.Str("__main__"))
	return nil
}

// Run initializes the controller if needed, enters the layers, executes
// the program and exits the layers again.
func (c *Controller) Run(ctx context.Context) *Result {
	return c.RunTrace(ctx).Result()
}

// RunTrace is Run without the final fold.
func (c *Controller) RunTrace(ctx context.Context) *Trace {
	ctx, span := c.settings.Tracer.Start(ctx, "controller.run",
		trace.WithAttributes(attribute.Bool("trusted", c.settings.Trusted)))
	defer span.End()

	if c.state == StateCreated {
		if err := c.Init(ctx); err != nil {
			var e *Error
			errors.As(err, &e)
			failSpan(span, e)
			return &Trace{Error: e}
		}
	}
	if c.state != StateInitialized {
		return &Trace{Error: NewError(CodeControl, KindInternal, "run called in state %s", c.state)}
	}
	defer c.in.Close()

	runErr := c.timed("prep", func() *Error {
		for i, l := range c.layers {
			if err := l.enter(c); err != nil {
				c.exitLayers(i)
				return NewError(CodePrep, KindInternal, "%s: %v", l.name(), err)
			}
		}
		c.state = StatePrepared
		return nil
	})
	if runErr != nil {
		c.state = StateFailed
		failSpan(span, runErr)
		return &Trace{Error: runErr}
	}

	runErr = c.timed("run", func() *Error { return c.execute(ctx) })
	c.state = StateRan

	if postErr := c.timed("post", func() *Error { return c.exitLayers(len(c.layers)) }); postErr != nil && runErr == nil {
		runErr = postErr
	}

	res := &Trace{Error: runErr}
	if runErr == nil || runErr.Kind == KindRuntime || runErr.Kind == KindResourceLimit {
		res.Initial = c.rec.Initial()
		res.Changes = c.rec.Changes()
	}
	span.SetAttributes(attribute.Int("records", c.rec.Len()))
	if runErr != nil {
		c.state = StateFailed
		failSpan(span, runErr)
		c.logger.Info("Program failed",
			slog.Int("code", int(runErr.Code)),
			slog.String("kind", string(runErr.Kind)),
			slog.String("message", runErr.Message),
		)
		return res
	}
	c.state = StateCleaned
	c.logger.Info("Program finished", slog.Int("records", c.rec.Len()))
	return res
}

// exitLayers exits the first n layers in reverse order. Every layer is
// exited even when an earlier one fails; the first failure is returned.
func (c *Controller) exitLayers(n int) *Error {
	var first *Error
	for i := n - 1; i >= 0; i-- {
		l := c.layers[i]
		if err := l.exit(c); err != nil {
			c.logger.Error("Failed to exit layer", slog.String("layer", l.name()), slog.Any("error", err))
			if first == nil {
				first = NewError(CodePost, KindInternal, "%s: %v", l.name(), err)
			}
		}
	}
	return first
}

func (c *Controller) execute(ctx context.Context) *Error {
	ctx, span := c.settings.Tracer.Start(ctx, "controller.execute")
	defer span.End()

	prog, err := script.Compile(ctx, Filename, []byte(c.req.Code))
	if err != nil {
		e := runnerError(err)
		failSpan(span, e)
		return e
	}

	if c.settings.CPUTime > 0 {
		// sleeping programs consume no CPU; bound them by wall time
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, 2*c.settings.CPUTime+time.Second, CPUExhausted(CPUSignal))
		defer cancel()
	}
	err = c.in.Exec(ctx, prog, c.globals)
	c.session.Flush()
	if err != nil {
		e := runnerError(err)
		var limit *Error
		if errors.Is(err, script.ErrInterrupted) && errors.As(context.Cause(ctx), &limit) {
			e = limit
		}
		failSpan(span, e)
		return e
	}
	return nil
}

func (c *Controller) timed(name string, fn func() *Error) *Error {
	start := time.Now()
	err := fn()
	c.phases = append(c.phases, Phase{Name: name, Duration: time.Since(start)})
	return err
}

func failSpan(span trace.Span, e *Error) {
	if e == nil {
		return
	}
	span.SetAttributes(attribute.Int("error.code", int(e.Code)), attribute.String("error.kind", string(e.Kind)))
	span.SetStatus(codes.Error, e.Message)
}
