package script

import (
	"iter"
	"strings"
)

func (in *Interp) eval(f *Frame, e Expr) (Value, error) {
	switch x := e.(type) {
	case *nameExpr:
		return in.lookupName(f, x.ID)
	case *constExpr:
		return x.Value, nil
	case *fstringExpr:
		s, err := in.evalFString(f, x.Parts)
		if err != nil {
			return nil, err
		}
		return Str(s), nil
	case *binaryExpr:
		l, err := in.eval(f, x.L)
		if err != nil {
			return nil, err
		}
		r, err := in.eval(f, x.R)
		if err != nil {
			return nil, err
		}
		return in.binaryOp(x.Op, l, r)
	case *unaryExpr:
		v, err := in.eval(f, x.X)
		if err != nil {
			return nil, err
		}
		return in.unaryOp(x.Op, v)
	case *boolExpr:
		l, err := in.eval(f, x.L)
		if err != nil {
			return nil, err
		}
		t, err := in.Truthy(l)
		if err != nil {
			return nil, err
		}
		if (x.Op == "and") != t {
			return l, nil
		}
		return in.eval(f, x.R)
	case *notExpr:
		v, err := in.eval(f, x.X)
		if err != nil {
			return nil, err
		}
		t, err := in.Truthy(v)
		if err != nil {
			return nil, err
		}
		return boolValue(!t), nil
	case *compareExpr:
		return in.evalCompare(f, x)
	case *ifExpr:
		c, err := in.eval(f, x.Cond)
		if err != nil {
			return nil, err
		}
		t, err := in.Truthy(c)
		if err != nil {
			return nil, err
		}
		if t {
			return in.eval(f, x.Then)
		}
		return in.eval(f, x.Else)
	case *callExpr:
		return in.evalCall(f, x)
	case *attrExpr:
		obj, err := in.eval(f, x.X)
		if err != nil {
			return nil, err
		}
		return in.getAttr(obj, x.Name)
	case *subscriptExpr:
		obj, err := in.eval(f, x.X)
		if err != nil {
			return nil, err
		}
		key, err := in.eval(f, x.Index)
		if err != nil {
			return nil, err
		}
		return in.getItem(obj, key)
	case *sliceExpr:
		s := &Slice{Start: None, Stop: None, Step: None}
		var err error
		if x.Lo != nil {
			if s.Start, err = in.eval(f, x.Lo); err != nil {
				return nil, err
			}
		}
		if x.Hi != nil {
			if s.Stop, err = in.eval(f, x.Hi); err != nil {
				return nil, err
			}
		}
		if x.Step != nil {
			if s.Step, err = in.eval(f, x.Step); err != nil {
				return nil, err
			}
		}
		return s, nil
	case *listExpr:
		items, err := in.evalElts(f, x.Elts)
		if err != nil {
			return nil, err
		}
		return NewList(items), nil
	case *tupleExpr:
		items, err := in.evalElts(f, x.Elts)
		if err != nil {
			return nil, err
		}
		return NewTuple(items...), nil
	case *setExpr:
		items, err := in.evalElts(f, x.Elts)
		if err != nil {
			return nil, err
		}
		s := NewSet()
		for _, v := range items {
			if err := s.Add(v); err != nil {
				return nil, err
			}
		}
		return s, nil
	case *dictExpr:
		d := NewDict()
		for _, it := range x.Items {
			v, err := in.eval(f, it.Value)
			if err != nil {
				return nil, err
			}
			if it.DStar {
				if err := in.mergeInto(d, v); err != nil {
					return nil, err
				}
				continue
			}
			k, err := in.eval(f, it.Key)
			if err != nil {
				return nil, err
			}
			if err := d.Set(k, v); err != nil {
				return nil, err
			}
		}
		return d, nil
	case *compExpr:
		return in.evalComp(f, x)
	case *lambdaExpr:
		return in.makeFunction(f, x.Code)
	case *yieldExpr:
		return in.evalYield(f, x)
	case *namedExpr:
		v, err := in.eval(f, x.Value)
		if err != nil {
			return nil, err
		}
		return v, in.storeName(f, x.Name, v)
	case *starredExpr:
		return nil, newError(SyntaxErrorClass, "can't use starred expression here")
	}
	return nil, newError(RuntimeError, "unsupported expression %T", e)
}

func (in *Interp) evalElts(f *Frame, elts []Expr) ([]Value, error) {
	out := make([]Value, 0, len(elts))
	for _, e := range elts {
		if s, ok := e.(*starredExpr); ok {
			v, err := in.eval(f, s.X)
			if err != nil {
				return nil, err
			}
			items, err := in.iterate(v)
			if err != nil {
				return nil, err
			}
			out = append(out, items...)
			continue
		}
		v, err := in.eval(f, e)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (in *Interp) mergeInto(d *Dict, v Value) error {
	src, ok := v.(*Dict)
	if !ok {
		return newError(TypeError, "'%s' object is not a mapping", v.TypeName())
	}
	for _, kv := range src.Items() {
		if err := d.Set(kv[0], kv[1]); err != nil {
			return err
		}
	}
	return nil
}

func (in *Interp) evalFString(f *Frame, parts []fpart) (string, error) {
	var b strings.Builder
	for _, p := range parts {
		if p.X == nil {
			b.WriteString(p.Lit)
			continue
		}
		v, err := in.eval(f, p.X)
		if err != nil {
			return "", err
		}
		if p.Debug != "" {
			b.WriteString(p.Debug)
		}
		spec := ""
		if len(p.Spec) > 0 {
			if spec, err = in.evalFString(f, p.Spec); err != nil {
				return "", err
			}
		}
		switch p.Conv {
		case 'r':
			s, err := in.Repr(v)
			if err != nil {
				return "", err
			}
			v = Str(s)
		case 's':
			s, err := in.Str(v)
			if err != nil {
				return "", err
			}
			v = Str(s)
		case 'a':
			s, err := in.Repr(v)
			if err != nil {
				return "", err
			}
			v = Str(asciiEscape(s))
		}
		s, err := in.format(v, spec)
		if err != nil {
			return "", err
		}
		b.WriteString(s)
	}
	return b.String(), nil
}

func (in *Interp) evalCompare(f *Frame, x *compareExpr) (Value, error) {
	left, err := in.eval(f, x.Left)
	if err != nil {
		return nil, err
	}
	var result Value = True
	for i, op := range x.Ops {
		right, err := in.eval(f, x.Rights[i])
		if err != nil {
			return nil, err
		}
		r, err := in.compareOp(op, left, right)
		if err != nil {
			return nil, err
		}
		ok, err := in.Truthy(r)
		if err != nil {
			return nil, err
		}
		if !ok {
			return r, nil
		}
		result = r
		left = right
	}
	return result, nil
}

func (in *Interp) evalCall(f *Frame, x *callExpr) (Value, error) {
	fn, err := in.eval(f, x.Func)
	if err != nil {
		return nil, err
	}
	if fn == superBuiltin && len(x.Args) == 0 {
		return in.implicitSuper(f)
	}
	var args []Value
	var kw []Kwarg
	for _, a := range x.Args {
		v, err := in.eval(f, a.Value)
		if err != nil {
			return nil, err
		}
		switch {
		case a.Star:
			items, err := in.iterate(v)
			if err != nil {
				return nil, err
			}
			args = append(args, items...)
		case a.DStar:
			d, ok := v.(*Dict)
			if !ok {
				return nil, newError(TypeError, "argument after ** must be a mapping, not %s", v.TypeName())
			}
			for _, kv := range d.Items() {
				k, ok := kv[0].(Str)
				if !ok {
					return nil, newError(TypeError, "keywords must be strings")
				}
				kw = append(kw, Kwarg{Name: string(k), Value: kv[1]})
			}
		case a.Name != "":
			kw = append(kw, Kwarg{Name: a.Name, Value: v})
		default:
			args = append(args, v)
		}
	}
	return in.call(fn, args, kw)
}

func (in *Interp) implicitSuper(f *Frame) (Value, error) {
	r := f.root()
	if r.class == nil || len(r.Code.Params) == 0 {
		return nil, newError(RuntimeError, "super(): no arguments")
	}
	self, ok := r.locals.Get(r.Code.Params[0].Name)
	if !ok {
		return nil, newError(RuntimeError, "super(): arg[0] deleted")
	}
	return &superObj{cls: r.class, self: self}, nil
}

// evalComp runs a comprehension in a scope of its own layered over f.
func (in *Interp) evalComp(f *Frame, x *compExpr) (Value, error) {
	first, err := in.eval(f, x.Clauses[0].Iter)
	if err != nil {
		return nil, err
	}
	cf := *f
	cf.base = f.root()
	cf.comp = append(f.comp[:len(f.comp):len(f.comp)], NewNamespace())
	scope := cf.comp[len(cf.comp)-1]
	store := func(name string, v Value) error {
		scope.Set(name, v)
		return nil
	}

	if x.Kind == compGen {
		seq := func(yield func(Value) bool) error {
			return in.compLoop(&cf, x, 0, first, store, func(v Value) (bool, error) {
				return yield(v), nil
			})
		}
		return newNativeGenerator(in, "<genexpr>", seq), nil
	}

	switch x.Kind {
	case compList:
		var out []Value
		err := in.compLoop(&cf, x, 0, first, store, func(v Value) (bool, error) {
			out = append(out, v)
			return true, nil
		})
		if err != nil {
			return nil, err
		}
		return NewList(out), nil
	case compSet:
		s := NewSet()
		err := in.compLoop(&cf, x, 0, first, store, func(v Value) (bool, error) {
			return true, s.Add(v)
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		d := NewDict()
		err := in.compLoop(&cf, x, 0, first, store, func(v Value) (bool, error) {
			kv := v.(*Tuple)
			return true, d.Set(kv.Items[0], kv.Items[1])
		})
		if err != nil {
			return nil, err
		}
		return d, nil
	}
}

func (in *Interp) compLoop(f *Frame, x *compExpr, i int, src Value, store func(string, Value) error, emit func(Value) (bool, error)) error {
	if i == len(x.Clauses) {
		if err := in.checkInterrupt(); err != nil {
			return err
		}
		v, err := in.eval(f, x.Elt)
		if err != nil {
			return err
		}
		if x.Kind == compDict {
			k, err := in.eval(f, x.Key)
			if err != nil {
				return err
			}
			v = NewTuple(k, v)
		}
		more, err := emit(v)
		if err != nil {
			return err
		}
		if !more {
			return errStopComp
		}
		return nil
	}
	c := x.Clauses[i]
	if c.Cond != nil {
		v, err := in.eval(f, c.Cond)
		if err != nil {
			return err
		}
		ok, err := in.Truthy(v)
		if err != nil || !ok {
			return err
		}
		return in.compLoop(f, x, i+1, nil, store, emit)
	}
	if src == nil {
		var err error
		if src, err = in.eval(f, c.Iter); err != nil {
			return err
		}
	}
	it, err := in.iter(src)
	if err != nil {
		return err
	}
	for {
		v, ok, err := it.Next(in)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := in.assignWith(f, c.Target, v, store); err != nil {
			return err
		}
		if err := in.compLoop(f, x, i+1, nil, store, emit); err != nil {
			return err
		}
	}
}

func (in *Interp) evalYield(f *Frame, x *yieldExpr) (Value, error) {
	r := f.root()
	g := r.gen
	if g == nil {
		return nil, newError(SyntaxErrorClass, "'yield' outside function")
	}
	var v Value = None
	if x.Value != nil {
		var err error
		if v, err = in.eval(f, x.Value); err != nil {
			return nil, err
		}
	}
	if !x.From {
		return g.suspend(r, v)
	}
	it, err := in.iter(v)
	if err != nil {
		return nil, err
	}
	for {
		item, ok, err := it.Next(in)
		if err != nil {
			return nil, err
		}
		if !ok {
			if ri, ok := it.(*Generator); ok {
				return ri.result, nil
			}
			return None, nil
		}
		if _, err := g.suspend(r, item); err != nil {
			return nil, err
		}
	}
}

// pullSeq adapts a push iterator that may fail into a pull iterator.
func pullSeq(seq func(yield func(Value) bool) error) (func() (Value, bool), func(), *error) {
	var failure error
	next, stop := iter.Pull(func(yield func(Value) bool) {
		if err := seq(yield); err != nil && err != errStopComp {
			failure = err
		}
	})
	return next, stop, &failure
}
