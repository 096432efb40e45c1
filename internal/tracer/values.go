package tracer

import (
	"fmt"

	"github.com/graphery/executor/internal/script"
)

// Value returns the tracer object programs use as a decorator factory,
// a with block and through tracer.peek.
func (s *Session) Value() script.Value { return &factory{s: s} }

type factory struct{ s *Session }

func (*factory) TypeName() string { return "tracer" }

func (*factory) Repr(*script.Interp) (string, error) { return "<tracer>", nil }

func (f *factory) GetAttr(_ *script.Interp, name string) (script.Value, error) {
	switch name {
	case "peek", "look_at":
		return script.NewBuiltin(name, func(in *script.Interp, args []script.Value, kw []script.Kwarg) (script.Value, error) {
			a, err := script.UnpackArgs(name, args, kw, "func")
			if err != nil {
				return nil, err
			}
			return &peeked{s: f.s, fn: a[0]}, nil
		}), nil
	}
	return nil, script.Errorf(script.AttributeError, "'tracer' object has no attribute '%s'", name)
}

// Call builds a tracer from watch names and keyword options. Called with a
// single function or class it decorates it directly.
func (f *factory) Call(in *script.Interp, args []script.Value, kw []script.Kwarg) (script.Value, error) {
	if len(args) == 1 && len(kw) == 0 {
		switch args[0].(type) {
		case *script.Function, *script.Class:
			return f.s.New(Options{}).Call(in, args, nil)
		}
	}
	var opts Options
	opts.OnlyWatch = true
	for _, a := range args {
		s, ok := a.(script.Str)
		if !ok {
			return nil, script.Errorf(script.TypeError, "tracer() watch names must be str, not %s", a.TypeName())
		}
		opts.Watch = append(opts.Watch, string(s))
	}
	for _, k := range kw {
		var err error
		switch k.Name {
		case "watch":
			var names []string
			names, err = stringList(in, k.Value)
			opts.Watch = append(opts.Watch, names...)
		case "watch_explode":
			opts.Explode, err = stringList(in, k.Value)
		case "depth":
			n, ok := script.AsInt(k.Value)
			if !ok || n < 1 {
				return nil, script.Errorf(script.ValueError, "tracer() depth must be a positive integer")
			}
			opts.Depth = int(n)
		case "prefix":
			opts.Prefix, err = in.Str(k.Value)
		case "only_watch":
			opts.OnlyWatch, err = in.Truthy(k.Value)
		default:
			return nil, script.Errorf(script.TypeError, "tracer() got an unexpected keyword argument '%s'", k.Name)
		}
		if err != nil {
			return nil, err
		}
	}
	return f.s.New(opts), nil
}

// stringList accepts one string or an iterable of strings.
func stringList(in *script.Interp, v script.Value) ([]string, error) {
	if s, ok := v.(script.Str); ok {
		return []string{string(s)}, nil
	}
	items, err := in.Iterate(v)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(script.Str)
		if !ok {
			return nil, script.Errorf(script.TypeError, "watch entries must be str, not %s", item.TypeName())
		}
		out = append(out, string(s))
	}
	return out, nil
}

func (*Tracer) TypeName() string { return "Tracer" }

func (t *Tracer) Repr(*script.Interp) (string, error) {
	return fmt.Sprintf("<Tracer prefix=%q depth=%d>", t.prefix, t.depth), nil
}

// Call decorates a function, generator function or class.
func (t *Tracer) Call(in *script.Interp, args []script.Value, kw []script.Kwarg) (script.Value, error) {
	a, err := script.UnpackArgs("tracer", args, kw, "function_or_class")
	if err != nil {
		return nil, err
	}
	switch x := a[0].(type) {
	case *script.Function:
		t.prefix = x.Code.Name
		return t.wrap(x), nil
	case *script.Class:
		t.prefix = x.Name
		for _, b := range x.Dict.Bindings() {
			if fn, ok := b.Value.(*script.Function); ok {
				x.Dict.Set(b.Name, t.wrap(fn))
			}
		}
		return x, nil
	}
	return nil, script.Errorf(script.TypeError, "tracer can only decorate functions and classes, not %s", a[0].TypeName())
}

func (t *Tracer) GetAttr(_ *script.Interp, name string) (script.Value, error) {
	switch name {
	case "peek", "look_at":
		return (&factory{s: t.s}).GetAttr(nil, name)
	case "depth":
		return script.Int(t.depth), nil
	case "prefix":
		return script.Str(t.prefix), nil
	}
	return nil, script.Errorf(script.AttributeError, "'Tracer' object has no attribute '%s'", name)
}

func (t *Tracer) wrap(fn *script.Function) script.Value {
	t.Target(fn.Code)
	return &traced{t: t, fn: fn}
}

// traced is a function decorated by a tracer. Calls run with the tracer
// installed as the global hook.
type traced struct {
	t  *Tracer
	fn *script.Function
}

func (*traced) TypeName() string { return "function" }

func (*traced) Method() {}

func (w *traced) Repr(in *script.Interp) (string, error) { return in.Repr(w.fn) }

func (w *traced) GetAttr(in *script.Interp, name string) (script.Value, error) {
	if name == "__wrapped__" {
		return w.fn, nil
	}
	return in.GetAttr(w.fn, name)
}

func (w *traced) Call(in *script.Interp, args []script.Value, kw []script.Kwarg) (script.Value, error) {
	if w.fn.Code.IsGenerator {
		v, err := in.Call(w.fn, args, kw)
		if err != nil {
			return nil, err
		}
		if g, ok := v.(*script.Generator); ok {
			return &tracedGenerator{t: w.t, g: g}, nil
		}
		return v, nil
	}
	w.t.push()
	defer w.t.pop()
	return in.Call(w.fn, args, kw)
}

// tracedGenerator installs the tracer around every resumption of a
// generator so each one is observed as a call of the same frame.
type tracedGenerator struct {
	t *Tracer
	g *script.Generator
}

func (*tracedGenerator) TypeName() string { return "generator" }

func (tg *tracedGenerator) Repr(in *script.Interp) (string, error) { return in.Repr(tg.g) }

func (tg *tracedGenerator) Next(in *script.Interp) (script.Value, bool, error) {
	tg.t.push()
	defer tg.t.pop()
	return tg.g.Next(in)
}

func (tg *tracedGenerator) GetAttr(in *script.Interp, name string) (script.Value, error) {
	v, err := tg.g.GetAttr(in, name)
	if err != nil {
		return nil, err
	}
	switch name {
	case "send", "throw", "__next__":
		return script.NewBuiltin(name, func(in *script.Interp, args []script.Value, kw []script.Kwarg) (script.Value, error) {
			tg.t.push()
			defer tg.t.pop()
			return in.Call(v, args, kw)
		}), nil
	}
	return v, nil
}

// peeked records the result of every call as an access on the current
// record without tracing the callee.
type peeked struct {
	s  *Session
	fn script.Value
}

func (*peeked) TypeName() string { return "function" }

func (p *peeked) Repr(in *script.Interp) (string, error) { return in.Repr(p.fn) }

func (p *peeked) Call(in *script.Interp, args []script.Value, kw []script.Kwarg) (script.Value, error) {
	v, err := in.Call(p.fn, args, kw)
	if err != nil {
		return nil, err
	}
	in.WithoutHooks(func() { p.s.rec.NoteAccess(v) })
	return v, nil
}
