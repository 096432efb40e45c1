package script

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// Event is the kind of execution event delivered to a Hook.
type Event int

const (
	EventCall Event = iota
	EventLine
	EventReturn
	EventException
)

func (e Event) String() string {
	switch e {
	case EventCall:
		return "call"
	case EventLine:
		return "line"
	case EventReturn:
		return "return"
	case EventException:
		return "exception"
	}
	return "unknown"
}

// Hook observes execution. The global hook receives call events and its
// return value becomes the local hook of the new frame, which receives
// line, return and exception events. Returning nil stops local tracing of
// that frame.
type Hook interface {
	Trace(f *Frame, ev Event, arg Value) Hook
}

// HookFunc adapts a function to the Hook interface.
type HookFunc func(f *Frame, ev Event, arg Value) Hook

func (h HookFunc) Trace(f *Frame, ev Event, arg Value) Hook { return h(f, ev, arg) }

// ExitKind tells how control last left a frame.
type ExitKind int

const (
	ExitNone ExitKind = iota
	ExitReturn
	ExitYield
	ExitException
)

// ImportFunc resolves a module by dotted name.
type ImportFunc func(in *Interp, name string) (*Module, error)

// ErrInterrupted is returned when the context driving an execution ends.
var ErrInterrupted = errors.New("execution interrupted")

// Options configure an interpreter.
type Options struct {
	Stdout   io.Writer
	Stderr   io.Writer
	Builtins *Namespace
	Importer ImportFunc
	Seed     int64
	// MaxDepth bounds the call depth; zero selects 1000.
	MaxDepth int
	// MaxItems bounds the size of a single sequence built by repetition
	// or range materialization; zero selects 10 million.
	MaxItems int
	Logger   *slog.Logger
}

// Interp runs programs. An Interp is single threaded and owns all the state
// of the programs it runs; separate interpreters share nothing.
type Interp struct {
	ctx      context.Context
	stdout   io.Writer
	stderr   io.Writer
	builtins *Namespace
	importer ImportFunc
	modules  map[string]*Module
	programs map[string]*Program
	exprs    map[string]Expr
	src      rand.Source
	rand     *rand.Rand
	logger   *slog.Logger
	maxDepth int
	maxItems int

	hook     Hook
	inHook   bool
	closing  bool
	frame    *Frame
	depth    int
	steps    uint64
	gens     []*Generator
	handling []*Exception
	reprs    map[uint64]bool

	idMu   sync.Mutex
	ids    map[uint64]uint64
	lastID uint64

	intr   atomic.Pointer[error]
	locals sync.Map
}

// New returns an interpreter configured by opts.
func New(opts Options) *Interp {
	in := &Interp{
		ctx:      context.Background(),
		stdout:   opts.Stdout,
		stderr:   opts.Stderr,
		builtins: opts.Builtins,
		importer: opts.Importer,
		modules:  make(map[string]*Module),
		programs: make(map[string]*Program),
		exprs:    make(map[string]Expr),
		logger:   opts.Logger,
		maxDepth: opts.MaxDepth,
		maxItems: opts.MaxItems,
	}
	in.src = rand.NewSource(opts.Seed)
	in.rand = rand.New(in.src)
	if in.stdout == nil {
		in.stdout = io.Discard
	}
	if in.stderr == nil {
		in.stderr = io.Discard
	}
	if in.builtins == nil {
		in.builtins = NewBuiltins()
	}
	if in.importer == nil {
		in.importer = ImportStdlib
	}
	if in.logger == nil {
		in.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if in.maxDepth <= 0 {
		in.maxDepth = 1000
	}
	if in.maxItems <= 0 {
		in.maxItems = 10_000_000
	}
	return in
}

// Stdout returns the writer print() writes to.
func (in *Interp) Stdout() io.Writer { return in.stdout }

// Builtins returns the builtin namespace of this interpreter.
func (in *Interp) Builtins() *Namespace { return in.builtins }

// Rand returns the interpreter's random source.
func (in *Interp) Rand() *rand.Rand { return in.rand }

// Seed reseeds the interpreter's random source.
func (in *Interp) Seed(seed int64) { in.src.Seed(seed) }

// Logger returns the interpreter logger.
func (in *Interp) Logger() *slog.Logger { return in.logger }

// SetHook installs the global hook. A nil hook disables tracing of new
// frames; frames that already carry a local hook keep it.
func (in *Interp) SetHook(h Hook) { in.hook = h }

// Hook returns the current global hook.
func (in *Interp) Hook() Hook { return in.hook }

// CurrentFrame returns the innermost executing frame.
func (in *Interp) CurrentFrame() *Frame { return in.frame }

// Local returns per-interpreter state stored under key, creating it with
// init on first use.
func (in *Interp) Local(key any, init func() any) any {
	if v, ok := in.locals.Load(key); ok {
		return v
	}
	v, _ := in.locals.LoadOrStore(key, init())
	return v
}

// Interrupt asks the running program to stop with err at the next
// statement boundary. It is safe to call from any goroutine.
func (in *Interp) Interrupt(err error) {
	in.intr.CompareAndSwap(nil, &err)
}

// Interrupted returns the pending interrupt, if any.
func (in *Interp) Interrupted() error {
	if p := in.intr.Load(); p != nil {
		return *p
	}
	return nil
}

// Halted returns the pending interrupt, or an ErrInterrupted wrapping the
// cause once the context of the running execution ended. Unlike the
// statement boundary check it can be called from hooks at any time.
func (in *Interp) Halted() error {
	if err := in.Interrupted(); err != nil {
		return err
	}
	if in.ctx != nil && in.ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ErrInterrupted, context.Cause(in.ctx))
	}
	return nil
}

func (in *Interp) checkInterrupt() error {
	if p := in.intr.Load(); p != nil {
		return *p
	}
	in.steps++
	if in.steps&63 == 0 {
		select {
		case <-in.ctx.Done():
			return fmt.Errorf("%w: %w", ErrInterrupted, context.Cause(in.ctx))
		default:
		}
	}
	return nil
}

// Program returns the program registered under filename.
func (in *Interp) Program(filename string) *Program { return in.programs[filename] }

// Exec runs prog with globals as its module namespace.
func (in *Interp) Exec(ctx context.Context, prog *Program, globals *Namespace) (err error) {
	if ctx != nil {
		in.ctx = ctx
	}
	in.programs[prog.Filename] = prog
	if _, ok := globals.Get("__name__"); !ok {
		globals.Set("__name__", Str("__main__"))
	}
	defer func() {
		if r := recover(); r != nil {
			in.logger.Error("interpreter panic", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("internal error: %v", r)
		}
	}()
	f := &Frame{Code: prog.Code, locals: globals, globals: globals}
	_, err = in.runFrame(f)
	return err
}

// Close stops all generators that were left suspended.
func (in *Interp) Close() {
	in.Interrupt(ErrInterrupted)
	in.closing = true
	in.hook = nil
	gens := in.gens
	in.gens = nil
	for _, g := range gens {
		g.stopNow()
	}
}

// EvalExpr evaluates src in the context of frame f.
func (in *Interp) EvalExpr(f *Frame, src string) (Value, error) {
	x, ok := in.exprs[src]
	if !ok {
		var err error
		x, err = ParseExpr(in.ctx, src)
		if err != nil {
			return nil, err
		}
		in.exprs[src] = x
	}
	saved := in.inHook
	in.inHook = true
	defer func() { in.inHook = saved }()
	return in.eval(f, x)
}

// Call invokes a callable value.
func (in *Interp) Call(fn Value, args []Value, kw []Kwarg) (Value, error) {
	return in.call(fn, args, kw)
}

// CallHookless invokes fn with hooks suppressed.
func (in *Interp) CallHookless(fn Value, args []Value, kw []Kwarg) (Value, error) {
	saved := in.inHook
	in.inHook = true
	defer func() { in.inHook = saved }()
	return in.call(fn, args, kw)
}

// WithoutHooks runs fn with hook dispatch suppressed.
func (in *Interp) WithoutHooks(fn func()) {
	saved := in.inHook
	in.inHook = true
	defer func() { in.inHook = saved }()
	fn()
}

// Frame is one activation of a code unit.
type Frame struct {
	Code *Code
	Back *Frame
	Line int

	locals  *Namespace
	globals *Namespace
	env     *Env
	hook    Hook
	exit    ExitKind
	gen     *Generator
	class   *Class

	comp []*Namespace
	base *Frame
}

// Locals returns the frame's own bindings.
func (f *Frame) Locals() *Namespace { return f.root().locals }

// Globals returns the module namespace the frame runs in.
func (f *Frame) Globals() *Namespace { return f.globals }

// Bindings returns the visible local bindings in definition order.
func (f *Frame) Bindings() []Named { return f.root().locals.Bindings() }

// Lookup resolves name the way the running code would.
func (f *Frame) Lookup(in *Interp, name string) (Value, bool) {
	v, err := in.lookupName(f, name)
	return v, err == nil
}

// SetHook sets the local hook of the frame.
func (f *Frame) SetHook(h Hook) { f.root().hook = h }

// LocalHook returns the local hook of the frame.
func (f *Frame) LocalHook() Hook { return f.root().hook }

// Exit returns how control last left the frame.
func (f *Frame) Exit() ExitKind { return f.root().exit }

// ExitedByException reports whether the frame was left by an exception.
func (f *Frame) ExitedByException() bool { return f.root().exit == ExitException }

// IsModule reports whether the frame runs module level code.
func (f *Frame) IsModule() bool { return f.Code.IsModule }

func (f *Frame) root() *Frame {
	if f.base != nil {
		return f.base
	}
	return f
}

func (in *Interp) dispatchCall(f *Frame) {
	if in.hook == nil || in.inHook || in.closing {
		return
	}
	in.inHook = true
	defer func() { in.inHook = false }()
	f.hook = in.hook.Trace(f, EventCall, None)
}

func (in *Interp) dispatch(f *Frame, ev Event, arg Value) {
	f = f.root()
	if f.hook == nil || in.inHook || in.closing {
		return
	}
	in.inHook = true
	defer func() { in.inHook = false }()
	f.hook = f.hook.Trace(f, ev, arg)
}

func (in *Interp) line(f *Frame, line int) error {
	r := f.root()
	r.Line = line
	if f != r {
		f.Line = line
	}
	if err := in.checkInterrupt(); err != nil {
		return err
	}
	in.dispatch(r, EventLine, nil)
	return in.checkInterrupt()
}

// runFrame executes a code unit's body in f, dispatching call and return
// events around it.
func (in *Interp) runFrame(f *Frame) (Value, error) {
	if in.depth >= in.maxDepth {
		return nil, newError(RecursionError, "maximum recursion depth exceeded")
	}
	in.depth++
	f.Back = in.frame
	in.frame = f
	defer func() {
		in.frame = f.Back
		in.depth--
	}()

	f.exit = ExitNone
	in.dispatchCall(f)

	var result Value = None
	var err error
	if f.Code.Expr != nil {
		if err = in.line(f, f.Code.FirstLine); err == nil {
			result, err = in.eval(f, f.Code.Expr)
			if err != nil {
				err = in.noteException(f, err)
			}
		}
	} else {
		var c ctrl
		c, err = in.execBlock(f, f.Code.Body)
		if err == nil && c.kind == ctrlReturn {
			result = c.value
		}
	}
	if err != nil {
		f.exit = ExitException
		in.dispatch(f, EventReturn, None)
		return nil, err
	}
	f.exit = ExitReturn
	in.dispatch(f, EventReturn, result)
	return result, nil
}

// noteException records traceback information the first time an
// exception passes through f and reports the exception event.
func (in *Interp) noteException(f *Frame, err error) error {
	var exc *Exception
	if !errors.As(err, &exc) {
		return err
	}
	r := f.root()
	if exc.lastFrame == r {
		return err
	}
	exc.lastFrame = r
	text := ""
	if p := in.programs[r.Code.Filename]; p != nil {
		text = trimLine(p.Line(r.Line))
	}
	exc.Traceback = append(exc.Traceback, TraceEntry{
		Filename: r.Code.Filename,
		Line:     r.Line,
		Name:     r.Code.Name,
		Text:     text,
	})
	in.dispatch(r, EventException, exc.Value)
	return err
}
