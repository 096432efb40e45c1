package script

import (
	"fmt"
	"strings"
)

// functools

type partial struct {
	fn   Value
	args []Value
	kw   []Kwarg
}

func (*partial) TypeName() string { return "functools.partial" }

func (p *partial) Call(in *Interp, args []Value, kw []Kwarg) (Value, error) {
	full := append(append([]Value(nil), p.args...), args...)
	merged := append([]Kwarg(nil), p.kw...)
	for _, k := range kw {
		replaced := false
		for i := range merged {
			if merged[i].Name == k.Name {
				merged[i].Value = k.Value
				replaced = true
			}
		}
		if !replaced {
			merged = append(merged, k)
		}
	}
	return in.call(p.fn, full, merged)
}

func (p *partial) GetAttr(in *Interp, name string) (Value, error) {
	switch name {
	case "func":
		return p.fn, nil
	case "args":
		return NewTuple(p.args...), nil
	case "keywords":
		d := NewDict()
		for _, k := range p.kw {
			d.SetStr(k.Name, k.Value)
		}
		return d, nil
	}
	return nil, newError(AttributeError, "'functools.partial' object has no attribute '%s'", name)
}

func (p *partial) Repr(in *Interp) (string, error) {
	parts := make([]string, 0, 1+len(p.args)+len(p.kw))
	r, err := in.Repr(p.fn)
	if err != nil {
		return "", err
	}
	parts = append(parts, r)
	for _, a := range p.args {
		r, err := in.Repr(a)
		if err != nil {
			return "", err
		}
		parts = append(parts, r)
	}
	for _, k := range p.kw {
		r, err := in.Repr(k.Value)
		if err != nil {
			return "", err
		}
		parts = append(parts, k.Name+"="+r)
	}
	return "functools.partial(" + strings.Join(parts, ", ") + ")", nil
}

// cachedFunc memoizes calls by their hashed arguments.
type cachedFunc struct {
	fn      Value
	maxSize int
	entries map[any]Value
	order   []any
	hits    int
	misses  int
}

func (*cachedFunc) TypeName() string { return "functools._lru_cache_wrapper" }

func (c *cachedFunc) Call(in *Interp, args []Value, kw []Kwarg) (Value, error) {
	parts := append([]Value(nil), args...)
	for _, k := range kw {
		parts = append(parts, Str(k.Name), k.Value)
	}
	key, err := hashKey(NewTuple(parts...))
	if err != nil {
		return nil, err
	}
	if v, ok := c.entries[key]; ok {
		c.hits++
		return v, nil
	}
	c.misses++
	v, err := in.call(c.fn, args, kw)
	if err != nil {
		return nil, err
	}
	if c.maxSize == 0 {
		return v, nil
	}
	if _, ok := c.entries[key]; !ok {
		c.order = append(c.order, key)
	}
	c.entries[key] = v
	if c.maxSize > 0 && len(c.order) > c.maxSize {
		delete(c.entries, c.order[0])
		c.order = c.order[1:]
	}
	return v, nil
}

func (c *cachedFunc) GetAttr(in *Interp, name string) (Value, error) {
	switch name {
	case "__wrapped__":
		return c.fn, nil
	case "cache_clear":
		return NewBuiltin(name, func(*Interp, []Value, []Kwarg) (Value, error) {
			clear(c.entries)
			c.order = nil
			c.hits, c.misses = 0, 0
			return None, nil
		}), nil
	case "cache_info":
		return NewBuiltin(name, func(*Interp, []Value, []Kwarg) (Value, error) {
			size := Value(None)
			if c.maxSize >= 0 {
				size = Int(c.maxSize)
			}
			return NewTuple(Int(c.hits), Int(c.misses), size, Int(len(c.entries))), nil
		}), nil
	}
	return in.getAttr(c.fn, name)
}

func newCache(fn Value, maxSize int) *cachedFunc {
	return &cachedFunc{fn: fn, maxSize: maxSize, entries: make(map[any]Value)}
}

func cmpToKey(in *Interp, cmp Value) (Value, error) {
	ns := NewNamespace()
	compare := func(name string, test func(int64) bool) {
		ns.Set(name, NewBuiltin(name, func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
			if len(args) != 2 {
				return nil, newError(TypeError, "%s() takes exactly one argument", name)
			}
			self, ok1 := args[0].(*Instance)
			other, ok2 := args[1].(*Instance)
			if !ok1 || !ok2 || self.Class != other.Class {
				return NotImplemented, nil
			}
			a, _ := self.Attrs.Get("obj")
			b, _ := other.Attrs.Get("obj")
			r, err := in.call(cmp, []Value{a, b}, nil)
			if err != nil {
				return nil, err
			}
			n, ok := toInt64(r)
			if !ok {
				f, ok := toFloat(r)
				if !ok {
					return nil, newError(TypeError, "comparison function must return a number, not %s", r.TypeName())
				}
				switch {
				case f < 0:
					n = -1
				case f > 0:
					n = 1
				}
			}
			return boolValue(test(n)), nil
		}))
	}
	compare("__lt__", func(n int64) bool { return n < 0 })
	compare("__le__", func(n int64) bool { return n <= 0 })
	compare("__gt__", func(n int64) bool { return n > 0 })
	compare("__ge__", func(n int64) bool { return n >= 0 })
	compare("__eq__", func(n int64) bool { return n == 0 })
	cls, err := NewClass("K", []*Class{ObjectClass}, ns)
	if err != nil {
		return nil, err
	}
	return NewBuiltin("K", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("K", args, kw, "obj")
		if err != nil {
			return nil, err
		}
		inst := NewInstance(cls)
		inst.Attrs.Set("obj", a[0])
		return inst, nil
	}), nil
}

func totalOrdering(in *Interp, cls *Class) (Value, error) {
	lt, ok := cls.Lookup("__lt__")
	if !ok {
		return nil, newError(ValueError, "must define at least one ordering operation: < > <= >=")
	}
	derive := func(name string, fn func(in *Interp, self, other Value) (Value, error)) {
		if _, ok := cls.Dict.Get(name); ok {
			return
		}
		cls.Dict.Set(name, NewBuiltin(name, func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
			if len(args) != 2 {
				return nil, newError(TypeError, "%s() takes exactly one argument", name)
			}
			return fn(in, args[0], args[1])
		}))
	}
	less := func(in *Interp, a, b Value) (bool, Value, error) {
		r, err := in.callMethod(a, lt, []Value{b}, nil)
		if err != nil || r == NotImplemented {
			return false, r, err
		}
		t, err := in.Truthy(r)
		return t, nil, err
	}
	derive("__gt__", func(in *Interp, a, b Value) (Value, error) {
		l, ni, err := less(in, a, b)
		if err != nil || ni != nil {
			return ni, err
		}
		eq, err := in.Equal(a, b)
		return boolValue(!l && !eq), err
	})
	derive("__le__", func(in *Interp, a, b Value) (Value, error) {
		l, ni, err := less(in, a, b)
		if err != nil || ni != nil {
			return ni, err
		}
		if l {
			return True, nil
		}
		eq, err := in.Equal(a, b)
		return boolValue(eq), err
	})
	derive("__ge__", func(in *Interp, a, b Value) (Value, error) {
		l, ni, err := less(in, a, b)
		if err != nil || ni != nil {
			return ni, err
		}
		return boolValue(!l), nil
	})
	return cls, nil
}

func functoolsModule(in *Interp) *Module {
	m := NewModule("functools")
	m.Func("reduce", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		if err := noKwargs("reduce", kw); err != nil {
			return nil, err
		}
		if len(args) < 2 || len(args) > 3 {
			return nil, newError(TypeError, "reduce expected 2 or 3 arguments, got %d", len(args))
		}
		it, err := in.iter(args[1])
		if err != nil {
			return nil, err
		}
		var acc Value
		if len(args) == 3 {
			acc = args[2]
		} else {
			v, ok, err := it.Next(in)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, newError(TypeError, "reduce() of empty iterable with no initial value")
			}
			acc = v
		}
		for {
			v, ok, err := it.Next(in)
			if err != nil {
				return nil, err
			}
			if !ok {
				return acc, nil
			}
			if acc, err = in.call(args[0], []Value{acc, v}, nil); err != nil {
				return nil, err
			}
		}
	})
	m.Func("partial", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		if len(args) == 0 {
			return nil, newError(TypeError, "partial() missing required argument 'func'")
		}
		if !isCallable(args[0]) {
			return nil, newError(TypeError, "the first argument must be callable")
		}
		return &partial{fn: args[0], args: args[1:], kw: kw}, nil
	})
	m.Func("lru_cache", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("lru_cache", args, kw, "maxsize?", "typed?")
		if err != nil {
			return nil, err
		}
		if a[0] != nil && isCallable(a[0]) {
			return newCache(a[0], 128), nil
		}
		size := 128
		if a[0] == None {
			size = -1
		} else if a[0] != nil {
			n, ok := toInt64(a[0])
			if !ok {
				return nil, newError(TypeError, "Expected first argument to be an integer, a callable, or None")
			}
			size = max(int(n), 0)
		}
		return NewBuiltin("decorating_function", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
			if len(args) != 1 {
				return nil, newError(TypeError, "decorating_function() takes exactly one argument")
			}
			return newCache(args[0], size), nil
		}), nil
	})
	m.Func("cache", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("cache", args, kw, "user_function")
		if err != nil {
			return nil, err
		}
		return newCache(a[0], -1), nil
	})
	m.Func("wraps", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("wraps", args, kw, "wrapped", "assigned?", "updated?")
		if err != nil {
			return nil, err
		}
		wrapped := a[0]
		return NewBuiltin("update_wrapper", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
			if len(args) != 1 {
				return nil, newError(TypeError, "update_wrapper() takes exactly one argument")
			}
			if fn, ok := args[0].(*Function); ok && fn.Attrs != nil {
				fn.Attrs.Set("__wrapped__", wrapped)
			}
			return args[0], nil
		}), nil
	})
	m.Func("cmp_to_key", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("cmp_to_key", args, kw, "mycmp")
		if err != nil {
			return nil, err
		}
		return cmpToKey(in, a[0])
	})
	m.Func("total_ordering", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("total_ordering", args, kw, "cls")
		if err != nil {
			return nil, err
		}
		cls, ok := a[0].(*Class)
		if !ok {
			return nil, newError(TypeError, "total_ordering() argument must be a class")
		}
		return totalOrdering(in, cls)
	})
	return m
}

// itertools

func iterFn(name string, fn func(in *Interp) (Value, bool, error)) *FuncIter {
	return &FuncIter{Name: "itertools." + name, Fn: fn}
}

type chainType struct{}

func (chainType) TypeName() string { return "type" }

func (chainType) Call(in *Interp, args []Value, kw []Kwarg) (Value, error) {
	if err := noKwargs("chain", kw); err != nil {
		return nil, err
	}
	return chainOf(in, &seqIter{name: "tuple_iterator", items: args}), nil
}

func (chainType) GetAttr(in *Interp, name string) (Value, error) {
	if name == "from_iterable" {
		return NewBuiltin(name, func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
			a, err := unpackArgs("from_iterable", args, kw, "iterable")
			if err != nil {
				return nil, err
			}
			outer, err := in.iter(a[0])
			if err != nil {
				return nil, err
			}
			return chainOf(in, outer), nil
		}), nil
	}
	return nil, newError(AttributeError, "type object 'itertools.chain' has no attribute '%s'", name)
}

func (chainType) Repr(*Interp) (string, error) { return "<class 'itertools.chain'>", nil }

func chainOf(in *Interp, outer Iterator) *FuncIter {
	var cur Iterator
	return iterFn("chain", func(in *Interp) (Value, bool, error) {
		for {
			if cur == nil {
				next, ok, err := outer.Next(in)
				if err != nil || !ok {
					return nil, false, err
				}
				if cur, err = in.iter(next); err != nil {
					return nil, false, err
				}
			}
			v, ok, err := cur.Next(in)
			if err != nil {
				return nil, false, err
			}
			if ok {
				return v, true, nil
			}
			cur = nil
		}
	})
}

// indexIter walks index tuples produced by step over pool.
func indexIter(name string, pool []Value, idx []int, step func(idx []int) bool) *FuncIter {
	first := true
	return iterFn(name, func(in *Interp) (Value, bool, error) {
		if idx == nil {
			return nil, false, nil
		}
		if !first && !step(idx) {
			idx = nil
			return nil, false, nil
		}
		first = false
		out := make([]Value, len(idx))
		for i, j := range idx {
			out[i] = pool[j]
		}
		return NewTuple(out...), true, nil
	})
}

func combinations(pool []Value, r int, repl bool) *FuncIter {
	n := len(pool)
	name := "combinations"
	if repl {
		name = "combinations_with_replacement"
	}
	if (!repl && r > n) || (repl && n == 0 && r > 0) {
		return indexIter(name, pool, nil, nil)
	}
	idx := make([]int, r)
	if !repl {
		for i := range idx {
			idx[i] = i
		}
	}
	return indexIter(name, pool, idx, func(idx []int) bool {
		i := r - 1
		if repl {
			for i >= 0 && idx[i] == n-1 {
				i--
			}
			if i < 0 {
				return false
			}
			v := idx[i] + 1
			for j := i; j < r; j++ {
				idx[j] = v
			}
			return true
		}
		for i >= 0 && idx[i] == i+n-r {
			i--
		}
		if i < 0 {
			return false
		}
		idx[i]++
		for j := i + 1; j < r; j++ {
			idx[j] = idx[j-1] + 1
		}
		return true
	})
}

func permutations(pool []Value, r int) *FuncIter {
	n := len(pool)
	if r > n {
		return indexIter("permutations", pool, nil, nil)
	}
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	cycles := make([]int, r)
	for i := range cycles {
		cycles[i] = n - i
	}
	idx := make([]int, r)
	copy(idx, indices)
	return indexIter("permutations", pool, idx, func(idx []int) bool {
		for i := r - 1; i >= 0; i-- {
			cycles[i]--
			if cycles[i] == 0 {
				moved := indices[i]
				copy(indices[i:], indices[i+1:])
				indices[n-1] = moved
				cycles[i] = n - i
				continue
			}
			j := cycles[i]
			indices[i], indices[n-j] = indices[n-j], indices[i]
			copy(idx, indices[:r])
			return true
		}
		return false
	})
}

func product(pools [][]Value) *FuncIter {
	var flat []Value
	offsets := make([]int, len(pools))
	for i, p := range pools {
		offsets[i] = len(flat)
		flat = append(flat, p...)
		if len(p) == 0 {
			return indexIter("product", flat, nil, nil)
		}
	}
	idx := make([]int, len(offsets))
	copy(idx, offsets)
	return indexIter("product", flat, idx, func(idx []int) bool {
		for i := len(idx) - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < offsets[i]+len(pools[i]) {
				return true
			}
			idx[i] = offsets[i]
		}
		return false
	})
}

func itertoolsModule(in *Interp) *Module {
	m := NewModule("itertools")
	m.Set("chain", chainType{})
	m.Func("count", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("count", args, kw, "start?", "step?")
		if err != nil {
			return nil, err
		}
		cur, step := Value(Int(0)), Value(Int(1))
		if a[0] != nil {
			cur = a[0]
		}
		if a[1] != nil {
			step = a[1]
		}
		return iterFn("count", func(in *Interp) (Value, bool, error) {
			v := cur
			next, err := in.binaryOp("+", cur, step)
			if err != nil {
				return nil, false, err
			}
			cur = next
			return v, true, nil
		}), nil
	})
	m.Func("cycle", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("cycle", args, kw, "iterable")
		if err != nil {
			return nil, err
		}
		src, err := in.iter(a[0])
		if err != nil {
			return nil, err
		}
		var saved []Value
		i := -1
		return iterFn("cycle", func(in *Interp) (Value, bool, error) {
			if i < 0 {
				v, ok, err := src.Next(in)
				if err != nil {
					return nil, false, err
				}
				if ok {
					saved = append(saved, v)
					return v, true, nil
				}
				i = 0
			}
			if len(saved) == 0 {
				return nil, false, nil
			}
			v := saved[i%len(saved)]
			i++
			return v, true, nil
		}), nil
	})
	m.Func("repeat", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("repeat", args, kw, "object", "times?")
		if err != nil {
			return nil, err
		}
		left := int64(-1)
		if a[1] != nil {
			n, ok := toInt64(a[1])
			if !ok {
				return nil, newError(TypeError, "'%s' object cannot be interpreted as an integer", a[1].TypeName())
			}
			left = max(n, 0)
		}
		return iterFn("repeat", func(in *Interp) (Value, bool, error) {
			if left == 0 {
				return nil, false, nil
			}
			if left > 0 {
				left--
			}
			return a[0], true, nil
		}), nil
	})
	m.Func("accumulate", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("accumulate", args, kw, "iterable", "func?", "initial?")
		if err != nil {
			return nil, err
		}
		src, err := in.iter(a[0])
		if err != nil {
			return nil, err
		}
		fn := a[1]
		acc := a[2]
		if acc == None {
			acc = nil
		}
		pending := acc != nil
		return iterFn("accumulate", func(in *Interp) (Value, bool, error) {
			if pending {
				pending = false
				return acc, true, nil
			}
			v, ok, err := src.Next(in)
			if err != nil || !ok {
				return nil, false, err
			}
			switch {
			case acc == nil:
				acc = v
			case fn == nil || fn == None:
				acc, err = in.binaryOp("+", acc, v)
			default:
				acc, err = in.call(fn, []Value{acc, v}, nil)
			}
			return acc, err == nil, err
		}), nil
	})
	poolArgs := func(in *Interp, name string, args []Value, kw []Kwarg, rRequired bool) ([]Value, int, error) {
		names := []string{"iterable", "r?"}
		if rRequired {
			names[1] = "r"
		}
		a, err := unpackArgs(name, args, kw, names...)
		if err != nil {
			return nil, 0, err
		}
		pool, err := in.iterate(a[0])
		if err != nil {
			return nil, 0, err
		}
		r := len(pool)
		if a[1] != nil && a[1] != None {
			n, ok := toInt64(a[1])
			if !ok {
				return nil, 0, newError(TypeError, "Expected int as r")
			}
			if n < 0 {
				return nil, 0, newError(ValueError, "r must be non-negative")
			}
			r = int(n)
		}
		return pool, r, nil
	}
	m.Func("combinations", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		pool, r, err := poolArgs(in, "combinations", args, kw, true)
		if err != nil {
			return nil, err
		}
		return combinations(pool, r, false), nil
	})
	m.Func("combinations_with_replacement", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		pool, r, err := poolArgs(in, "combinations_with_replacement", args, kw, true)
		if err != nil {
			return nil, err
		}
		return combinations(pool, r, true), nil
	})
	m.Func("permutations", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		pool, r, err := poolArgs(in, "permutations", args, kw, false)
		if err != nil {
			return nil, err
		}
		return permutations(pool, r), nil
	})
	m.Func("product", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		repeat := int64(1)
		for _, k := range kw {
			if k.Name != "repeat" {
				return nil, newError(TypeError, "product() got an unexpected keyword argument '%s'", k.Name)
			}
			n, ok := toInt64(k.Value)
			if !ok || n < 0 {
				return nil, newError(ValueError, "repeat argument cannot be negative")
			}
			repeat = n
		}
		var pools [][]Value
		for range repeat {
			for _, arg := range args {
				items, err := in.iterate(arg)
				if err != nil {
					return nil, err
				}
				pools = append(pools, items)
			}
		}
		return product(pools), nil
	})
	m.Func("islice", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		if err := noKwargs("islice", kw); err != nil {
			return nil, err
		}
		if len(args) < 2 || len(args) > 4 {
			return nil, newError(TypeError, "islice expected at most 4 arguments, got %d", len(args))
		}
		bound := func(v Value, def int64) (int64, error) {
			if v == None {
				return def, nil
			}
			n, ok := toInt64(v)
			if !ok || n < 0 {
				return 0, newError(ValueError, "Indices for islice() must be None or an integer: 0 <= x <= sys.maxsize.")
			}
			return n, nil
		}
		start, stop, step := int64(0), int64(-1), int64(1)
		var err error
		if len(args) == 2 {
			stop, err = bound(args[1], -1)
		} else {
			if start, err = bound(args[1], 0); err == nil {
				stop, err = bound(args[2], -1)
			}
			if err == nil && len(args) == 4 {
				step, err = bound(args[3], 1)
			}
		}
		if err != nil {
			return nil, err
		}
		if step == 0 {
			return nil, newError(ValueError, "Step for islice() must be a positive integer or None.")
		}
		src, err := in.iter(args[0])
		if err != nil {
			return nil, err
		}
		pos, next := int64(0), start
		return iterFn("islice", func(in *Interp) (Value, bool, error) {
			for stop < 0 || next < stop {
				v, ok, err := src.Next(in)
				if err != nil || !ok {
					return nil, false, err
				}
				pos++
				if pos-1 == next {
					next += step
					return v, true, nil
				}
			}
			return nil, false, nil
		}), nil
	})
	predicateIter := func(name string, keep func(in *Interp, pred, v Value, state *bool) (emit, stop bool, err error)) {
		m.Func(name, func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
			a, err := unpackArgs(name, args, kw, "predicate", "iterable")
			if err != nil {
				return nil, err
			}
			src, err := in.iter(a[1])
			if err != nil {
				return nil, err
			}
			var state bool
			return iterFn(name, func(in *Interp) (Value, bool, error) {
				for {
					v, ok, err := src.Next(in)
					if err != nil || !ok {
						return nil, false, err
					}
					emit, stop, err := keep(in, a[0], v, &state)
					if err != nil || stop {
						return nil, false, err
					}
					if emit {
						return v, true, nil
					}
				}
			}), nil
		})
	}
	test := func(in *Interp, pred, v Value) (bool, error) {
		if pred == None {
			return in.Truthy(v)
		}
		r, err := in.call(pred, []Value{v}, nil)
		if err != nil {
			return false, err
		}
		return in.Truthy(r)
	}
	predicateIter("takewhile", func(in *Interp, pred, v Value, _ *bool) (bool, bool, error) {
		ok, err := test(in, pred, v)
		return ok, !ok, err
	})
	predicateIter("dropwhile", func(in *Interp, pred, v Value, dropped *bool) (bool, bool, error) {
		if *dropped {
			return true, false, nil
		}
		ok, err := test(in, pred, v)
		if !ok {
			*dropped = true
		}
		return !ok, false, err
	})
	predicateIter("filterfalse", func(in *Interp, pred, v Value, _ *bool) (bool, bool, error) {
		ok, err := test(in, pred, v)
		return !ok, false, err
	})
	m.Func("starmap", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("starmap", args, kw, "function", "iterable")
		if err != nil {
			return nil, err
		}
		src, err := in.iter(a[1])
		if err != nil {
			return nil, err
		}
		return iterFn("starmap", func(in *Interp) (Value, bool, error) {
			v, ok, err := src.Next(in)
			if err != nil || !ok {
				return nil, false, err
			}
			callArgs, err := in.iterate(v)
			if err != nil {
				return nil, false, err
			}
			r, err := in.call(a[0], callArgs, nil)
			return r, err == nil, err
		}), nil
	})
	m.Func("compress", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("compress", args, kw, "data", "selectors")
		if err != nil {
			return nil, err
		}
		data, err := in.iter(a[0])
		if err != nil {
			return nil, err
		}
		sel, err := in.iter(a[1])
		if err != nil {
			return nil, err
		}
		return iterFn("compress", func(in *Interp) (Value, bool, error) {
			for {
				v, ok, err := data.Next(in)
				if err != nil || !ok {
					return nil, false, err
				}
				s, ok, err := sel.Next(in)
				if err != nil || !ok {
					return nil, false, err
				}
				t, err := in.Truthy(s)
				if err != nil {
					return nil, false, err
				}
				if t {
					return v, true, nil
				}
			}
		}), nil
	})
	m.Func("zip_longest", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		fill := Value(None)
		for _, k := range kw {
			if k.Name != "fillvalue" {
				return nil, newError(TypeError, "zip_longest() got an unexpected keyword argument '%s'", k.Name)
			}
			fill = k.Value
		}
		its := make([]Iterator, len(args))
		for i, a := range args {
			it, err := in.iter(a)
			if err != nil {
				return nil, err
			}
			its[i] = it
		}
		done := make([]bool, len(its))
		return iterFn("zip_longest", func(in *Interp) (Value, bool, error) {
			out := make([]Value, len(its))
			live := 0
			for i, it := range its {
				if done[i] {
					out[i] = fill
					continue
				}
				v, ok, err := it.Next(in)
				if err != nil {
					return nil, false, err
				}
				if !ok {
					done[i] = true
					out[i] = fill
					continue
				}
				live++
				out[i] = v
			}
			if live == 0 {
				return nil, false, nil
			}
			return NewTuple(out...), true, nil
		}), nil
	})
	m.Func("pairwise", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("pairwise", args, kw, "iterable")
		if err != nil {
			return nil, err
		}
		src, err := in.iter(a[0])
		if err != nil {
			return nil, err
		}
		var prev Value
		return iterFn("pairwise", func(in *Interp) (Value, bool, error) {
			if prev == nil {
				v, ok, err := src.Next(in)
				if err != nil || !ok {
					return nil, false, err
				}
				prev = v
			}
			v, ok, err := src.Next(in)
			if err != nil || !ok {
				return nil, false, err
			}
			pair := NewTuple(prev, v)
			prev = v
			return pair, true, nil
		}), nil
	})
	m.Func("tee", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("tee", args, kw, "iterable", "n?")
		if err != nil {
			return nil, err
		}
		n := int64(2)
		if a[1] != nil {
			if n, _ = toInt64(a[1]); n < 0 {
				return nil, newError(ValueError, "n must be >= 0")
			}
		}
		items, err := in.iterate(a[0])
		if err != nil {
			return nil, err
		}
		out := make([]Value, n)
		for i := range out {
			out[i] = &seqIter{name: "itertools._tee", items: items}
		}
		return NewTuple(out...), nil
	})
	m.Func("groupby", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("groupby", args, kw, "iterable", "key?")
		if err != nil {
			return nil, err
		}
		src, err := in.iter(a[0])
		if err != nil {
			return nil, err
		}
		keyOf := func(v Value) (Value, error) {
			if a[1] == nil || a[1] == None {
				return v, nil
			}
			return in.call(a[1], []Value{v}, nil)
		}
		var pending, pendingKey Value
		exhausted := false
		return iterFn("groupby", func(in *Interp) (Value, bool, error) {
			if pending == nil {
				if exhausted {
					return nil, false, nil
				}
				v, ok, err := src.Next(in)
				if err != nil || !ok {
					return nil, false, err
				}
				if pendingKey, err = keyOf(v); err != nil {
					return nil, false, err
				}
				pending = v
			}
			key := pendingKey
			group := []Value{pending}
			pending = nil
			for {
				v, ok, err := src.Next(in)
				if err != nil {
					return nil, false, err
				}
				if !ok {
					exhausted = true
					break
				}
				k, err := keyOf(v)
				if err != nil {
					return nil, false, err
				}
				eq, err := in.Equal(k, key)
				if err != nil {
					return nil, false, err
				}
				if !eq {
					pending, pendingKey = v, k
					break
				}
				group = append(group, v)
			}
			return NewTuple(key, &seqIter{name: "itertools._grouper", items: group}), true, nil
		}), nil
	})
	return m
}

// operator

type getter struct {
	name  string
	items []Value
	fetch func(in *Interp, obj, item Value) (Value, error)
}

func (g *getter) TypeName() string { return "operator." + g.name }

func (g *getter) Call(in *Interp, args []Value, kw []Kwarg) (Value, error) {
	a, err := unpackArgs(g.name, args, kw, "obj")
	if err != nil {
		return nil, err
	}
	if len(g.items) == 1 {
		return g.fetch(in, a[0], g.items[0])
	}
	out := make([]Value, len(g.items))
	for i, it := range g.items {
		if out[i], err = g.fetch(in, a[0], it); err != nil {
			return nil, err
		}
	}
	return NewTuple(out...), nil
}

func (g *getter) Repr(in *Interp) (string, error) {
	parts := make([]string, len(g.items))
	for i, it := range g.items {
		r, err := in.Repr(it)
		if err != nil {
			return "", err
		}
		parts[i] = r
	}
	return fmt.Sprintf("operator.%s(%s)", g.name, strings.Join(parts, ", ")), nil
}

func operatorModule(in *Interp) *Module {
	m := NewModule("operator")
	binary := func(op string, names ...string) {
		for _, name := range names {
			m.Func(name, func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
				a, err := unpackArgs(name, args, kw, "a", "b")
				if err != nil {
					return nil, err
				}
				return in.binaryOp(op, a[0], a[1])
			})
		}
	}
	binary("+", "add", "__add__", "concat")
	binary("-", "sub", "__sub__")
	binary("*", "mul", "__mul__")
	binary("/", "truediv", "__truediv__")
	binary("//", "floordiv", "__floordiv__")
	binary("%", "mod", "__mod__")
	binary("**", "pow", "__pow__")
	binary("&", "and_", "__and__")
	binary("|", "or_", "__or__")
	binary("^", "xor", "__xor__")
	binary("<<", "lshift", "__lshift__")
	binary(">>", "rshift", "__rshift__")
	binary("@", "matmul", "__matmul__")
	compare := func(op string, names ...string) {
		for _, name := range names {
			m.Func(name, func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
				a, err := unpackArgs(name, args, kw, "a", "b")
				if err != nil {
					return nil, err
				}
				return in.compareOp(op, a[0], a[1])
			})
		}
	}
	compare("<", "lt", "__lt__")
	compare("<=", "le", "__le__")
	compare(">", "gt", "__gt__")
	compare(">=", "ge", "__ge__")
	compare("==", "eq", "__eq__")
	compare("!=", "ne", "__ne__")
	compare("is", "is_")
	compare("is not", "is_not")
	unary := func(op string, names ...string) {
		for _, name := range names {
			m.Func(name, func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
				a, err := unpackArgs(name, args, kw, "a")
				if err != nil {
					return nil, err
				}
				return in.unaryOp(op, a[0])
			})
		}
	}
	unary("-", "neg", "__neg__")
	unary("+", "pos", "__pos__")
	unary("~", "invert", "inv", "__invert__")
	m.Func("not_", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("not_", args, kw, "a")
		if err != nil {
			return nil, err
		}
		t, err := in.Truthy(a[0])
		return boolValue(!t), err
	})
	m.Func("truth", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("truth", args, kw, "a")
		if err != nil {
			return nil, err
		}
		t, err := in.Truthy(a[0])
		return boolValue(t), err
	})
	m.Func("abs", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		abs, _ := in.builtins.Get("abs")
		return in.call(abs, args, kw)
	})
	m.Func("index", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("index", args, kw, "a")
		if err != nil {
			return nil, err
		}
		n, err := in.index(a[0], "index")
		return Int(n), err
	})
	m.Func("contains", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("contains", args, kw, "a", "b")
		if err != nil {
			return nil, err
		}
		ok, err := in.contains(a[0], a[1])
		return boolValue(ok), err
	})
	m.Func("countOf", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("countOf", args, kw, "a", "b")
		if err != nil {
			return nil, err
		}
		items, err := in.iterate(a[0])
		if err != nil {
			return nil, err
		}
		n := 0
		for _, it := range items {
			eq, err := in.Equal(it, a[1])
			if err != nil {
				return nil, err
			}
			if eq {
				n++
			}
		}
		return Int(n), nil
	})
	m.Func("getitem", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("getitem", args, kw, "a", "b")
		if err != nil {
			return nil, err
		}
		return in.getItem(a[0], a[1])
	})
	m.Func("setitem", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("setitem", args, kw, "a", "b", "c")
		if err != nil {
			return nil, err
		}
		return None, in.setItem(a[0], a[1], a[2])
	})
	m.Func("itemgetter", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		if len(args) == 0 {
			return nil, newError(TypeError, "itemgetter expected 1 argument, got 0")
		}
		return &getter{name: "itemgetter", items: args, fetch: func(in *Interp, obj, item Value) (Value, error) {
			return in.getItem(obj, item)
		}}, nil
	})
	m.Func("attrgetter", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		if len(args) == 0 {
			return nil, newError(TypeError, "attrgetter expected 1 argument, got 0")
		}
		for _, a := range args {
			if _, ok := a.(Str); !ok {
				return nil, newError(TypeError, "attribute name must be a string")
			}
		}
		return &getter{name: "attrgetter", items: args, fetch: func(in *Interp, obj, item Value) (Value, error) {
			for _, part := range strings.Split(string(item.(Str)), ".") {
				var err error
				if obj, err = in.getAttr(obj, part); err != nil {
					return nil, err
				}
			}
			return obj, nil
		}}, nil
	})
	m.Func("methodcaller", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		if len(args) == 0 {
			return nil, newError(TypeError, "methodcaller needs at least one argument, the method name")
		}
		name, err := strArg("methodcaller", args[0])
		if err != nil {
			return nil, err
		}
		rest := args[1:]
		return NewBuiltin("methodcaller", func(in *Interp, args []Value, _ []Kwarg) (Value, error) {
			if len(args) != 1 {
				return nil, newError(TypeError, "methodcaller expected 1 argument, got %d", len(args))
			}
			meth, err := in.getAttr(args[0], name)
			if err != nil {
				return nil, err
			}
			return in.call(meth, rest, kw)
		}), nil
	})
	return m
}
