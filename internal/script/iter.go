package script

import (
	"errors"
	"slices"
)

var errStopComp = errors.New("comprehension stopped")

// Iterator produces values one at a time.
type Iterator interface {
	Value
	Next(in *Interp) (Value, bool, error)
}

type listIter struct {
	l *List
	i int
}

func (*listIter) TypeName() string { return "list_iterator" }

func (it *listIter) Next(*Interp) (Value, bool, error) {
	if it.i >= len(it.l.Items) {
		return nil, false, nil
	}
	v := it.l.Items[it.i]
	it.i++
	return v, true, nil
}

// NewSliceIter returns an iterator over a snapshot of items.
func NewSliceIter(name string, items []Value) Iterator {
	return &seqIter{name: name, items: items}
}

type seqIter struct {
	name  string
	items []Value
	i     int
}

func (it *seqIter) TypeName() string { return it.name }

func (it *seqIter) Next(*Interp) (Value, bool, error) {
	if it.i >= len(it.items) {
		return nil, false, nil
	}
	v := it.items[it.i]
	it.i++
	return v, true, nil
}

type rangeIter struct {
	r *Range
	i int
}

func (*rangeIter) TypeName() string { return "range_iterator" }

func (it *rangeIter) Next(*Interp) (Value, bool, error) {
	if it.i >= it.r.Len() {
		return nil, false, nil
	}
	v := Int(it.r.at(it.i))
	it.i++
	return v, true, nil
}

// FuncIter is an iterator driven by a Go function.
type FuncIter struct {
	Name string
	Fn   func(in *Interp) (Value, bool, error)
	done bool
}

func (it *FuncIter) TypeName() string { return it.Name }

func (it *FuncIter) Next(in *Interp) (Value, bool, error) {
	if it.done {
		return nil, false, nil
	}
	v, ok, err := it.Fn(in)
	if err != nil || !ok {
		it.done = true
	}
	return v, ok, err
}

type instIter struct {
	obj  *Instance
	next Value
}

func (it *instIter) TypeName() string { return it.obj.TypeName() }

func (it *instIter) Next(in *Interp) (Value, bool, error) {
	v, err := in.callMethod(it.obj, it.next, nil, nil)
	if err != nil {
		var exc *Exception
		if errors.As(err, &exc) && exc.Is(StopIteration) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return v, true, nil
}

func strChars(s Str) []Value {
	out := make([]Value, 0, len(s))
	for _, r := range string(s) {
		out = append(out, Str(string(r)))
	}
	return out
}

func (in *Interp) iter(v Value) (Iterator, error) {
	switch x := v.(type) {
	case Iterator:
		return x, nil
	case *List:
		return &listIter{l: x}, nil
	case *Tuple:
		return &seqIter{name: "tuple_iterator", items: x.Items}, nil
	case Str:
		return &seqIter{name: "str_iterator", items: strChars(x)}, nil
	case *Dict:
		return &seqIter{name: "dict_keyiterator", items: x.Keys()}, nil
	case *Set:
		return &seqIter{name: "set_iterator", items: x.Items()}, nil
	case *Deque:
		return &seqIter{name: "deque_iterator", items: slices.Clone(x.Items)}, nil
	case *Range:
		return &rangeIter{r: x}, nil
	case Iterable:
		return x.Iter(in)
	case *Instance:
		m, ok := x.Class.Lookup("__iter__")
		if !ok {
			break
		}
		r, err := in.callMethod(x, m, nil, nil)
		if err != nil {
			return nil, err
		}
		if it, ok := r.(Iterator); ok {
			return it, nil
		}
		if ri, ok := r.(*Instance); ok {
			if next, ok := ri.Class.Lookup("__next__"); ok {
				return &instIter{obj: ri, next: next}, nil
			}
		}
		return nil, newError(TypeError, "iter() returned non-iterator of type '%s'", r.TypeName())
	}
	return nil, newError(TypeError, "'%s' object is not iterable", v.TypeName())
}

// Iter returns an iterator over v.
func (in *Interp) Iter(v Value) (Iterator, error) { return in.iter(v) }

// iterate materializes all the values produced by v.
func (in *Interp) iterate(v Value) ([]Value, error) {
	switch x := v.(type) {
	case *List:
		return slices.Clone(x.Items), nil
	case *Tuple:
		return slices.Clone(x.Items), nil
	}
	it, err := in.iter(v)
	if err != nil {
		return nil, err
	}
	var out []Value
	for {
		item, ok, err := it.Next(in)
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, item)
		if len(out) > in.maxItems {
			return nil, NewException(MemoryError, "")
		}
		if len(out)&1023 == 0 {
			if err := in.checkInterrupt(); err != nil {
				return nil, err
			}
		}
	}
}

// Iterate materializes all the values produced by v.
func (in *Interp) Iterate(v Value) ([]Value, error) { return in.iterate(v) }

// Generator is a suspended computation resumed by iteration. Generator
// functions run in their own frame; generator expressions run in the
// frame that created them.
type Generator struct {
	in      *Interp
	name    string
	frame   *Frame
	next    func() (Value, bool)
	stop    func()
	failure *error
	yield   func(Value) bool
	sent    Value
	thrown  error
	result  Value

	started bool
	running bool
	done    bool
	closing bool
}

func (*Generator) TypeName() string { return "generator" }

// Frame returns the generator's frame, nil for generator expressions.
func (g *Generator) Frame() *Frame { return g.frame }

// Name returns the generator function name.
func (g *Generator) Name() string { return g.name }

func newGenerator(in *Interp, f *Frame) *Generator {
	g := &Generator{in: in, name: f.Code.Name, frame: f, result: None}
	f.gen = g
	g.next, g.stop, g.failure = pullSeq(func(yield func(Value) bool) error {
		g.yield = yield
		v, err := in.runFrame(f)
		if err != nil {
			return err
		}
		g.result = v
		return nil
	})
	in.gens = append(in.gens, g)
	return g
}

func newNativeGenerator(in *Interp, name string, seq func(yield func(Value) bool) error) *Generator {
	g := &Generator{in: in, name: name, result: None}
	g.next, g.stop, g.failure = pullSeq(seq)
	in.gens = append(in.gens, g)
	return g
}

// suspend hands v to the consumer and blocks until the generator is
// resumed, returning the sent value.
func (g *Generator) suspend(f *Frame, v Value) (Value, error) {
	if g.closing {
		return nil, NewException(RuntimeError, "generator ignored GeneratorExit")
	}
	in := g.in
	f.exit = ExitYield
	in.dispatch(f, EventReturn, v)
	in.frame = f.Back
	in.depth--
	ok := g.yield(v)
	in.depth++
	f.Back = in.frame
	in.frame = f
	if !ok {
		g.closing = true
		return nil, NewException(GeneratorExit, "")
	}
	f.exit = ExitNone
	in.dispatchCall(f)
	if g.thrown != nil {
		err := g.thrown
		g.thrown = nil
		return nil, err
	}
	s := g.sent
	g.sent = None
	return s, nil
}

func (g *Generator) Next(*Interp) (Value, bool, error) { return g.resume(None, nil) }

func (g *Generator) resume(send Value, throw error) (Value, bool, error) {
	if g.done {
		return nil, false, throw
	}
	if g.running {
		return nil, false, NewException(ValueError, "generator already executing")
	}
	if !g.started {
		if throw != nil {
			g.finish()
			return nil, false, throw
		}
		if send != None {
			return nil, false, NewException(TypeError, "can't send non-None value to a just-started generator")
		}
		g.started = true
	}
	g.sent, g.thrown = send, throw
	g.running = true
	v, ok := g.next()
	g.running = false
	if !ok {
		g.finish()
		if err := *g.failure; err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	return v, true, nil
}

func (g *Generator) finish() {
	if g.done {
		return
	}
	g.done = true
	g.stop()
	in := g.in
	for i, x := range in.gens {
		if x == g {
			in.gens = append(in.gens[:i], in.gens[i+1:]...)
			break
		}
	}
}

func (g *Generator) close() error {
	if g.done {
		return nil
	}
	if !g.started {
		g.finish()
		return nil
	}
	g.running = true
	g.stop()
	g.running = false
	g.finish()
	if err := *g.failure; err != nil {
		var exc *Exception
		if errors.As(err, &exc) && exc.Is(GeneratorExit) {
			return nil
		}
		return err
	}
	return nil
}

func (g *Generator) stopNow() {
	g.done = true
	g.stop()
}

func (g *Generator) GetAttr(in *Interp, name string) (Value, error) {
	switch name {
	case "send":
		return NewBuiltin("send", func(in *Interp, args []Value, _ []Kwarg) (Value, error) {
			if len(args) != 1 {
				return nil, newError(TypeError, "send() takes exactly one argument")
			}
			return g.step(args[0], nil)
		}), nil
	case "throw":
		return NewBuiltin("throw", func(in *Interp, args []Value, _ []Kwarg) (Value, error) {
			if len(args) < 1 {
				return nil, newError(TypeError, "throw expected at least 1 argument")
			}
			exc, err := in.toException(args[0])
			if err != nil {
				return nil, err
			}
			return g.step(None, exc)
		}), nil
	case "close":
		return NewBuiltin("close", func(in *Interp, _ []Value, _ []Kwarg) (Value, error) {
			return None, g.close()
		}), nil
	case "__next__":
		return NewBuiltin("__next__", func(in *Interp, _ []Value, _ []Kwarg) (Value, error) {
			return g.step(None, nil)
		}), nil
	case "__name__":
		return Str(g.name), nil
	}
	return nil, newError(AttributeError, "'generator' object has no attribute '%s'", name)
}

func (g *Generator) step(send Value, throw error) (Value, error) {
	v, ok, err := g.resume(send, throw)
	if err != nil {
		return nil, err
	}
	if !ok {
		exc := NewException(StopIteration, "")
		if g.result != None {
			exc.Value.Attrs.Set("args", NewTuple(g.result))
			exc.Value.Attrs.Set("value", g.result)
		}
		return nil, exc
	}
	return v, nil
}
