// Package tracer observes statement-level execution of a program and feeds
// the bindings it sees into a recorder.
package tracer

import (
	"log/slog"
	"strings"
	"time"

	"github.com/graphery/executor/internal/classifier"
	"github.com/graphery/executor/internal/recorder"
	"github.com/graphery/executor/internal/script"
)

// Output is the captured standard output of the traced program.
type Output interface {
	Bytes() []byte
}

// SessionOptions configure a Session.
type SessionOptions struct {
	Logger *slog.Logger
	// Output is diffed at every record so printed text is attributed to
	// the statement that produced it. Nil disables capture.
	Output Output
	// MaxVariableLength bounds exception summaries. Zero disables it.
	MaxVariableLength int
}

// Session is the tracing context of one execution: every tracer created
// by the program shares its recorder, output offset and call depth.
type Session struct {
	in     *script.Interp
	rec    *recorder.Recorder
	logger *slog.Logger
	out    Output
	offset int
	depth  int
	maxLen int
}

// NewSession binds tracing of programs run by in to rec.
func NewSession(in *script.Interp, rec *recorder.Recorder, opts SessionOptions) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		in:     in,
		rec:    rec,
		logger: logger,
		out:    opts.Output,
		depth:  -1,
		maxLen: opts.MaxVariableLength,
	}
}

// Recorder returns the recorder the session writes to.
func (s *Session) Recorder() *recorder.Recorder { return s.rec }

// captureStdout hands the output written since the last capture to the
// recorder.
func (s *Session) captureStdout() {
	if s.out == nil {
		return
	}
	b := s.out.Bytes()
	if len(b) <= s.offset {
		return
	}
	s.rec.NoteStdoutDelta(string(b[s.offset:]))
	s.offset = len(b)
}

// Flush attributes output not yet captured to the last record. It is
// called once the program finished.
func (s *Session) Flush() {
	if s.out == nil {
		return
	}
	b := s.out.Bytes()
	if len(b) <= s.offset {
		return
	}
	s.rec.NoteTrailingStdout(string(b[s.offset:]))
	s.offset = len(b)
}

// Options configure one tracer.
type Options struct {
	// Watch lists expressions evaluated in every traced frame.
	Watch []string
	// Explode lists expressions whose items or attributes are watched one
	// level deep.
	Explode []string
	// Depth traces frames up to Depth-1 calls below a target.
	Depth int
	// Prefix is the identifier namespace. Decorating a function or class
	// replaces it with that name.
	Prefix string
	// OnlyWatch limits observation to the watch lists. When false every
	// local binding is observed as well.
	OnlyWatch bool
}

// Tracer is a hook scoped to a set of code units and frames.
type Tracer struct {
	s         *Session
	watch     []variable
	depth     int
	prefix    string
	onlyWatch bool

	codes     map[*script.Code]struct{}
	frames    map[*script.Frame]struct{}
	snapshots map[*script.Frame]map[string]string
	saved     map[*script.Frame]script.Hook
	started   map[*script.Frame]time.Time
	stack     []script.Hook
}

// New returns a tracer writing to the session's recorder.
func (s *Session) New(opts Options) *Tracer {
	t := &Tracer{
		s:         s,
		depth:     max(opts.Depth, 1),
		prefix:    opts.Prefix,
		onlyWatch: opts.OnlyWatch,
		codes:     make(map[*script.Code]struct{}),
		frames:    make(map[*script.Frame]struct{}),
		snapshots: make(map[*script.Frame]map[string]string),
		saved:     make(map[*script.Frame]script.Hook),
		started:   make(map[*script.Frame]time.Time),
	}
	for _, w := range opts.Watch {
		t.watch = append(t.watch, common{source: w})
	}
	for _, w := range opts.Explode {
		t.watch = append(t.watch, exploding{source: w})
	}
	return t
}

// Target adds a code unit whose activations are traced.
func (t *Tracer) Target(c *script.Code) { t.codes[c] = struct{}{} }

func (t *Tracer) targeted(f *script.Frame) bool {
	if _, ok := t.codes[f.Code]; ok {
		return true
	}
	_, ok := t.frames[f]
	return ok
}

func (t *Tracer) inScope(f *script.Frame) bool {
	if t.targeted(f) {
		return true
	}
	c := f
	for i := 1; i < t.depth; i++ {
		c = c.Back
		if c == nil {
			return false
		}
		if t.targeted(c) {
			return true
		}
	}
	return false
}

// Trace implements script.Hook.
func (t *Tracer) Trace(f *script.Frame, ev script.Event, arg script.Value) script.Hook {
	if !t.inScope(f) {
		return nil
	}
	s := t.s
	rec := s.rec
	if ev == script.EventCall {
		s.depth++
	}

	line := f.Line
	if ev == script.EventCall && line == 0 {
		line = f.Code.FirstLine
	}
	prog := s.in.Program(f.Code.Filename)
	src := sourceLine(prog, line)
	if ev == script.EventCall && strings.HasPrefix(strings.TrimSpace(src), "@") {
		line, src = definitionLine(prog, line)
	}

	if last, ok := rec.LastLine(); !(ev == script.EventReturn && ok && last == line) {
		rec.BeginRecord(line)
		s.captureStdout()
	}

	old := t.snapshots[f]
	current := t.localValues(f)
	reprs := make(map[string]string, len(current))
	for _, b := range current {
		reprs[b.name] = b.repr
		id := recorder.Identifier{Namespace: t.prefix, Name: b.name}
		rec.Register(id)
		prev, seen := old[b.name]
		switch {
		case !seen:
			target := recorder.Previous
			if ev == script.EventCall || ev == script.EventReturn {
				target = recorder.Current
			}
			rec.NoteVariable(id, b.value, target)
			s.logger.Debug("New variable", slog.String("name", b.name), slog.String("value", b.repr), slog.Int("depth", s.depth))
		case prev != b.repr:
			target := recorder.Previous
			if ev == script.EventReturn {
				target = recorder.Current
			}
			rec.NoteVariable(id, b.value, target)
			s.logger.Debug("Modified variable", slog.String("name", b.name), slog.String("value", b.repr), slog.Int("depth", s.depth))
		}
	}
	t.snapshots[f] = reprs

	endedByException := ev == script.EventReturn && f.ExitedByException()
	if endedByException {
		rec.NoteEndedByException()
		s.logger.Debug("Call ended by exception", slog.Int("line", line), slog.Int("depth", s.depth))
	} else {
		s.logger.Debug("Trace event",
			slog.String("event", ev.String()),
			slog.Int("line", line),
			slog.Int("depth", s.depth),
			slog.String("source", strings.TrimSpace(src)),
		)
	}

	switch ev {
	case script.EventReturn:
		delete(t.snapshots, f)
		s.depth--
		if !endedByException && !f.IsModule() {
			rec.NoteReturn(arg)
			s.logger.Debug("Return value", slog.String("value", t.repr(arg)))
		}
	case script.EventException:
		summary := t.repr(arg)
		if exc, ok := script.ExceptionOf(arg); ok {
			summary = exc.Summary()
		}
		summary = classifier.Truncate(summary, s.maxLen)
		rec.NoteException(summary)
		s.logger.Debug("Exception", slog.String("exception", summary))
	}
	return t
}

func sourceLine(prog *script.Program, line int) string {
	if prog == nil {
		return ""
	}
	return prog.Line(line)
}

// definitionLine skips decorator lines to the def or class statement they
// apply to.
func definitionLine(prog *script.Program, line int) (int, string) {
	if prog == nil {
		return line, ""
	}
	lines := prog.Lines()
	for n := line; n <= len(lines); n++ {
		src := strings.TrimSpace(lines[n-1])
		if strings.HasPrefix(src, "def") || strings.HasPrefix(src, "class") {
			return n, lines[n-1]
		}
	}
	return line, prog.Line(line)
}

type binding struct {
	name  string
	value script.Value
	repr  string
}

// localValues lists the observed bindings of f, local bindings first and
// watched expressions after, later entries replacing earlier ones.
func (t *Tracer) localValues(f *script.Frame) []binding {
	var out []binding
	index := make(map[string]int)
	add := func(name string, v script.Value) {
		b := binding{name: name, value: v, repr: t.repr(v)}
		if i, ok := index[name]; ok {
			out[i] = b
			return
		}
		index[name] = len(out)
		out = append(out, b)
	}
	if !t.onlyWatch {
		for _, b := range f.Bindings() {
			if strings.HasPrefix(b.Name, "__") && strings.HasSuffix(b.Name, "__") {
				continue
			}
			add(b.Name, b.Value)
		}
	}
	for _, w := range t.watch {
		for _, kv := range w.values(t.s.in, f) {
			add(kv.name, kv.value)
		}
	}
	return out
}

func (t *Tracer) repr(v script.Value) (s string) {
	defer func() {
		if r := recover(); r != nil {
			s = classifier.BadRepr
		}
	}()
	r, err := t.s.in.Repr(v)
	if err != nil {
		return classifier.BadRepr
	}
	return r
}

// push installs t as the global hook, remembering the previous one.
func (t *Tracer) push() {
	in := t.s.in
	t.stack = append(t.stack, in.Hook())
	in.SetHook(t)
}

func (t *Tracer) pop() {
	n := len(t.stack)
	if n == 0 {
		return
	}
	t.s.in.SetHook(t.stack[n-1])
	t.stack = t.stack[:n-1]
}

// Enter starts tracing the frame running a with statement.
func (t *Tracer) Enter(_ *script.Interp, f *script.Frame) (script.Value, error) {
	if f != nil {
		t.frames[f] = struct{}{}
		t.saved[f] = f.LocalHook()
		t.started[f] = time.Now()
		f.SetHook(t)
	}
	t.push()
	return t, nil
}

// Exit stops tracing the frame entered by Enter. Exceptions propagate.
func (t *Tracer) Exit(_ *script.Interp, f *script.Frame, _ *script.Exception) (bool, error) {
	t.pop()
	if f == nil {
		return false, nil
	}
	delete(t.frames, f)
	delete(t.snapshots, f)
	f.SetHook(t.saved[f])
	delete(t.saved, f)
	if start, ok := t.started[f]; ok {
		t.s.logger.Debug("Traced block finished", slog.Duration("elapsed", time.Since(start)))
		delete(t.started, f)
	}
	return false, nil
}
