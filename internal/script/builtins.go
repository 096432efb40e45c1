package script

import (
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// NewBuiltins returns a fresh builtin namespace with the full set of
// builtins, including the ones that reach outside the program. Callers that
// run untrusted code replace those entries before use.
func NewBuiltins() *Namespace {
	ns := NewNamespace()
	for _, c := range []*Class{
		ObjectClass, TypeClass, IntClass, BoolClass, FloatClass, StrClass, ListClass,
		TupleClass, DictClass, SetClass, FrozenSetClass, RangeClass, SliceClass,
		PropertyClass, StaticMethodClass, ClassMethodClass,
	} {
		ns.Set(c.Name, c)
	}
	for _, c := range exceptionClasses {
		ns.Set(c.Name, c)
	}
	ns.Set("Ellipsis", Ellipsis)
	ns.Set("NotImplemented", NotImplemented)
	ns.Set("super", superBuiltin)

	fns := map[string]BuiltinFunc{
		"print":      builtinPrint,
		"len":        builtinLen,
		"abs":        builtinAbs,
		"min":        func(in *Interp, a []Value, kw []Kwarg) (Value, error) { return in.minMax("min", a, kw, false) },
		"max":        func(in *Interp, a []Value, kw []Kwarg) (Value, error) { return in.minMax("max", a, kw, true) },
		"sum":        builtinSum,
		"sorted":     builtinSorted,
		"reversed":   builtinReversed,
		"enumerate":  builtinEnumerate,
		"zip":        builtinZip,
		"map":        builtinMap,
		"filter":     builtinFilter,
		"any":        func(in *Interp, a []Value, kw []Kwarg) (Value, error) { return in.anyAll("any", a, kw, true) },
		"all":        func(in *Interp, a []Value, kw []Kwarg) (Value, error) { return in.anyAll("all", a, kw, false) },
		"isinstance": builtinIsInstance,
		"issubclass": builtinIsSubclass,
		"id":         builtinID,
		"hash":       builtinHash,
		"repr":       builtinRepr,
		"ascii":      builtinASCII,
		"iter":       builtinIter,
		"next":       builtinNext,
		"round":      builtinRound,
		"divmod":     builtinDivmod,
		"pow":        builtinPow,
		"chr":        builtinChr,
		"ord":        builtinOrd,
		"hex":        func(in *Interp, a []Value, kw []Kwarg) (Value, error) { return radix("hex", a, kw, 16, "0x") },
		"oct":        func(in *Interp, a []Value, kw []Kwarg) (Value, error) { return radix("oct", a, kw, 8, "0o") },
		"bin":        func(in *Interp, a []Value, kw []Kwarg) (Value, error) { return radix("bin", a, kw, 2, "0b") },
		"format":     builtinFormat,
		"getattr":    builtinGetattr,
		"setattr":    builtinSetattr,
		"hasattr":    builtinHasattr,
		"delattr":    builtinDelattr,
		"callable":   builtinCallable,
		"input":      builtinInput,

		"dir":        builtinDir,
		"vars":       builtinVars,
		"globals":    builtinGlobals,
		"locals":     builtinLocals,
		"eval":       builtinEval,
		"exec":       builtinExec,
		"compile":    builtinCompile,
		"exit":       builtinExit,
		"quit":       builtinExit,
		"open":       builtinOpen,
		"help":       builtinNotice("Type help() for interactive help, or help(object) for help about object."),
		"copyright":  builtinNotice("Copyright (c) the graph executor authors."),
		"credits":    builtinNotice("Thanks to everyone who contributed to the graph executor."),
		"license":    builtinNotice("See the LICENSE file distributed with the graph executor."),
		"breakpoint": func(*Interp, []Value, []Kwarg) (Value, error) { return None, nil },
		"__import__": builtinImport,
		"reload":     builtinReload,
	}
	names := make([]string, 0, len(fns))
	for name := range fns {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ns.Set(name, NewBuiltin(name, fns[name]))
	}
	return ns
}

func builtinPrint(in *Interp, args []Value, kw []Kwarg) (Value, error) {
	sep, end := " ", "\n"
	var out io.Writer = in.stdout
	for _, k := range kw {
		switch k.Name {
		case "sep", "end":
			s := ""
			if k.Value != None {
				v, ok := k.Value.(Str)
				if !ok {
					return nil, newError(TypeError, "%s must be None or a string, not %s", k.Name, k.Value.TypeName())
				}
				s = string(v)
			} else if k.Name == "sep" {
				s = " "
			} else {
				s = "\n"
			}
			if k.Name == "sep" {
				sep = s
			} else {
				end = s
			}
		case "file":
			if w, ok := k.Value.(*stream); ok {
				out = w.w
			}
		case "flush":
		default:
			return nil, newError(TypeError, "'%s' is an invalid keyword argument for print()", k.Name)
		}
	}
	var b strings.Builder
	for i, a := range args {
		if i > 0 {
			b.WriteString(sep)
		}
		s, err := in.Str(a)
		if err != nil {
			return nil, err
		}
		b.WriteString(s)
	}
	b.WriteString(end)
	if _, err := io.WriteString(out, b.String()); err != nil {
		return nil, NewException(OSError, err.Error())
	}
	return None, nil
}

// Len returns len(v).
func (in *Interp) Len(v Value) (int, error) {
	switch x := v.(type) {
	case Str:
		return utf8.RuneCountInString(string(x)), nil
	case *Instance:
		m, ok := x.Class.Lookup("__len__")
		if !ok {
			break
		}
		r, err := in.callMethod(x, m, nil, nil)
		if err != nil {
			return 0, err
		}
		n, ok := toInt64(r)
		if !ok {
			return 0, newError(TypeError, "'%s' object cannot be interpreted as an integer", r.TypeName())
		}
		if n < 0 {
			return 0, newError(ValueError, "__len__() should return >= 0")
		}
		return int(n), nil
	case Lener:
		return x.Len(), nil
	}
	return 0, newError(TypeError, "object of type '%s' has no len()", v.TypeName())
}

func builtinLen(in *Interp, args []Value, kw []Kwarg) (Value, error) {
	if len(args) != 1 || len(kw) > 0 {
		return nil, newError(TypeError, "len() takes exactly one argument (%d given)", len(args))
	}
	n, err := in.Len(args[0])
	return Int(n), err
}

func builtinAbs(in *Interp, args []Value, kw []Kwarg) (Value, error) {
	if len(args) != 1 {
		return nil, newError(TypeError, "abs() takes exactly one argument (%d given)", len(args))
	}
	switch x := args[0].(type) {
	case Bool:
		return Int(boolInt(x)), nil
	case Int:
		if x == math.MinInt64 {
			return NewBig(new(big.Int).Neg(big.NewInt(int64(x)))), nil
		}
		if x < 0 {
			return -x, nil
		}
		return x, nil
	case BigInt:
		return NewBig(new(big.Int).Abs(x.v)), nil
	case Float:
		return Float(math.Abs(float64(x))), nil
	case *Instance:
		if m, ok := x.Class.Lookup("__abs__"); ok {
			return in.callMethod(x, m, nil, nil)
		}
	}
	return nil, newError(TypeError, "bad operand type for abs(): '%s'", args[0].TypeName())
}

func (in *Interp) minMax(name string, args []Value, kw []Kwarg, wantMax bool) (Value, error) {
	var key, def Value
	for _, k := range kw {
		switch k.Name {
		case "key":
			key = k.Value
		case "default":
			def = k.Value
		default:
			return nil, newError(TypeError, "%s() got an unexpected keyword argument '%s'", name, k.Name)
		}
	}
	var items []Value
	switch len(args) {
	case 0:
		return nil, newError(TypeError, "%s expected at least 1 argument, got 0", name)
	case 1:
		var err error
		if items, err = in.iterate(args[0]); err != nil {
			return nil, err
		}
	default:
		if def != nil {
			return nil, newError(TypeError, "Cannot specify a default for %s() with multiple positional arguments", name)
		}
		items = args
	}
	if len(items) == 0 {
		if def != nil {
			return def, nil
		}
		return nil, newError(ValueError, "%s() iterable argument is empty", name)
	}
	best := items[0]
	bestKey, err := in.applyKey(key, best)
	if err != nil {
		return nil, err
	}
	for _, it := range items[1:] {
		k, err := in.applyKey(key, it)
		if err != nil {
			return nil, err
		}
		var better bool
		if wantMax {
			better, err = in.less(bestKey, k, ">")
		} else {
			better, err = in.less(k, bestKey, "<")
		}
		if err != nil {
			return nil, err
		}
		if better {
			best, bestKey = it, k
		}
	}
	return best, nil
}

func (in *Interp) applyKey(key, v Value) (Value, error) {
	if key == nil || key == None {
		return v, nil
	}
	return in.call(key, []Value{v}, nil)
}

func builtinSum(in *Interp, args []Value, kw []Kwarg) (Value, error) {
	a, err := unpackArgs("sum", args, kw, "iterable", "start?")
	if err != nil {
		return nil, err
	}
	var total Value = Int(0)
	if a[1] != nil {
		if _, ok := a[1].(Str); ok {
			return nil, newError(TypeError, "sum() can't sum strings [use ''.join(seq) instead]")
		}
		total = a[1]
	}
	it, err := in.iter(a[0])
	if err != nil {
		return nil, err
	}
	for {
		v, ok, err := it.Next(in)
		if err != nil {
			return nil, err
		}
		if !ok {
			return total, nil
		}
		if total, err = in.binaryOp("+", total, v); err != nil {
			return nil, err
		}
	}
}

// Sort orders items in place, stable, the way list.sort does.
func (in *Interp) Sort(items []Value, key Value, reverse bool) error {
	keys := items
	if key != nil && key != None {
		keys = make([]Value, len(items))
		for i, v := range items {
			k, err := in.call(key, []Value{v}, nil)
			if err != nil {
				return err
			}
			keys[i] = k
		}
	}
	idx := make([]int, len(items))
	for i := range idx {
		idx[i] = i
	}
	var sortErr error
	sort.SliceStable(idx, func(i, j int) bool {
		if sortErr != nil {
			return false
		}
		a, b := keys[idx[i]], keys[idx[j]]
		if reverse {
			a, b = b, a
		}
		lt, err := in.less(a, b, "<")
		if err != nil {
			sortErr = err
		}
		return lt
	})
	if sortErr != nil {
		return sortErr
	}
	sorted := make([]Value, len(items))
	for i, j := range idx {
		sorted[i] = items[j]
	}
	copy(items, sorted)
	return nil
}

func builtinSorted(in *Interp, args []Value, kw []Kwarg) (Value, error) {
	if len(args) != 1 {
		return nil, newError(TypeError, "sorted expected 1 argument, got %d", len(args))
	}
	a, err := unpackArgs("sorted", nil, kw, "key?", "reverse?")
	if err != nil {
		return nil, err
	}
	items, err := in.iterate(args[0])
	if err != nil {
		return nil, err
	}
	reverse := false
	if a[1] != nil {
		if reverse, err = in.Truthy(a[1]); err != nil {
			return nil, err
		}
	}
	if err := in.Sort(items, a[0], reverse); err != nil {
		return nil, err
	}
	return NewList(items), nil
}

func builtinReversed(in *Interp, args []Value, kw []Kwarg) (Value, error) {
	if len(args) != 1 {
		return nil, newError(TypeError, "reversed expected 1 argument, got %d", len(args))
	}
	var items []Value
	switch x := args[0].(type) {
	case *List:
		items = x.Items
	case *Tuple:
		items = x.Items
	case *Deque:
		items = x.Items
	case Str:
		items = strChars(x)
	case *Dict:
		items = x.Keys()
	case *Range, *dictView:
		var err error
		if items, err = in.iterate(x); err != nil {
			return nil, err
		}
	case *Instance:
		if m, ok := x.Class.Lookup("__reversed__"); ok {
			return in.callMethod(x, m, nil, nil)
		}
		n, err := in.Len(x)
		if err != nil {
			return nil, newError(TypeError, "'%s' object is not reversible", x.TypeName())
		}
		i := n
		return &FuncIter{Name: "reversed", Fn: func(in *Interp) (Value, bool, error) {
			if i <= 0 {
				return nil, false, nil
			}
			i--
			v, err := in.getItem(x, Int(i))
			return v, err == nil, err
		}}, nil
	default:
		return nil, newError(TypeError, "'%s' object is not reversible", args[0].TypeName())
	}
	out := make([]Value, len(items))
	for i, v := range items {
		out[len(items)-1-i] = v
	}
	return &seqIter{name: "reversed", items: out}, nil
}

func builtinEnumerate(in *Interp, args []Value, kw []Kwarg) (Value, error) {
	a, err := unpackArgs("enumerate", args, kw, "iterable", "start?")
	if err != nil {
		return nil, err
	}
	it, err := in.iter(a[0])
	if err != nil {
		return nil, err
	}
	var n Value = Int(0)
	if a[1] != nil {
		if !isIntegral(a[1]) {
			return nil, newError(TypeError, "'%s' object cannot be interpreted as an integer", a[1].TypeName())
		}
		n = a[1]
	}
	return &FuncIter{Name: "enumerate", Fn: func(in *Interp) (Value, bool, error) {
		v, ok, err := it.Next(in)
		if err != nil || !ok {
			return nil, false, err
		}
		cur := n
		if n, err = in.binaryOp("+", n, Int(1)); err != nil {
			return nil, false, err
		}
		return NewTuple(cur, v), true, nil
	}}, nil
}

func builtinZip(in *Interp, args []Value, kw []Kwarg) (Value, error) {
	strict := false
	for _, k := range kw {
		if k.Name != "strict" {
			return nil, newError(TypeError, "zip() got an unexpected keyword argument '%s'", k.Name)
		}
		var err error
		if strict, err = in.Truthy(k.Value); err != nil {
			return nil, err
		}
	}
	its := make([]Iterator, len(args))
	for i, a := range args {
		it, err := in.iter(a)
		if err != nil {
			return nil, newError(TypeError, "zip argument #%d must support iteration", i+1)
		}
		its[i] = it
	}
	return &FuncIter{Name: "zip", Fn: func(in *Interp) (Value, bool, error) {
		if len(its) == 0 {
			return nil, false, nil
		}
		row := make([]Value, 0, len(its))
		for i, it := range its {
			v, ok, err := it.Next(in)
			if err != nil {
				return nil, false, err
			}
			if !ok {
				if strict && i > 0 {
					return nil, false, newError(ValueError, "zip() argument %d is shorter than argument 1", i+1)
				}
				return nil, false, nil
			}
			row = append(row, v)
		}
		return NewTuple(row...), true, nil
	}}, nil
}

func builtinMap(in *Interp, args []Value, kw []Kwarg) (Value, error) {
	if len(args) < 2 {
		return nil, newError(TypeError, "map() must have at least two arguments.")
	}
	fn := args[0]
	its := make([]Iterator, len(args)-1)
	for i, a := range args[1:] {
		it, err := in.iter(a)
		if err != nil {
			return nil, err
		}
		its[i] = it
	}
	return &FuncIter{Name: "map", Fn: func(in *Interp) (Value, bool, error) {
		call := make([]Value, 0, len(its))
		for _, it := range its {
			v, ok, err := it.Next(in)
			if err != nil || !ok {
				return nil, false, err
			}
			call = append(call, v)
		}
		v, err := in.call(fn, call, nil)
		return v, err == nil, err
	}}, nil
}

func builtinFilter(in *Interp, args []Value, kw []Kwarg) (Value, error) {
	if len(args) != 2 {
		return nil, newError(TypeError, "filter expected 2 arguments, got %d", len(args))
	}
	fn := args[0]
	it, err := in.iter(args[1])
	if err != nil {
		return nil, err
	}
	return &FuncIter{Name: "filter", Fn: func(in *Interp) (Value, bool, error) {
		for {
			v, ok, err := it.Next(in)
			if err != nil || !ok {
				return nil, false, err
			}
			test := v
			if fn != None {
				if test, err = in.call(fn, []Value{v}, nil); err != nil {
					return nil, false, err
				}
			}
			keep, err := in.Truthy(test)
			if err != nil {
				return nil, false, err
			}
			if keep {
				return v, true, nil
			}
		}
	}}, nil
}

func (in *Interp) anyAll(name string, args []Value, kw []Kwarg, want bool) (Value, error) {
	if len(args) != 1 || len(kw) > 0 {
		return nil, newError(TypeError, "%s() takes exactly one argument (%d given)", name, len(args))
	}
	it, err := in.iter(args[0])
	if err != nil {
		return nil, err
	}
	for {
		v, ok, err := it.Next(in)
		if err != nil {
			return nil, err
		}
		if !ok {
			return boolValue(!want), nil
		}
		t, err := in.Truthy(v)
		if err != nil {
			return nil, err
		}
		if t == want {
			return boolValue(want), nil
		}
	}
}

func classInfo(name string, v Value) ([]*Class, error) {
	switch x := v.(type) {
	case *Class:
		return []*Class{x}, nil
	case *Tuple:
		var out []*Class
		for _, it := range x.Items {
			cs, err := classInfo(name, it)
			if err != nil {
				return nil, err
			}
			out = append(out, cs...)
		}
		return out, nil
	}
	return nil, newError(TypeError, "%s() arg 2 must be a type, a tuple of types, or a union", name)
}

func builtinIsInstance(in *Interp, args []Value, kw []Kwarg) (Value, error) {
	if len(args) != 2 {
		return nil, newError(TypeError, "isinstance expected 2 arguments, got %d", len(args))
	}
	classes, err := classInfo("isinstance", args[1])
	if err != nil {
		return nil, err
	}
	for _, c := range classes {
		if IsInstance(args[0], c) {
			return True, nil
		}
	}
	return False, nil
}

func builtinIsSubclass(in *Interp, args []Value, kw []Kwarg) (Value, error) {
	if len(args) != 2 {
		return nil, newError(TypeError, "issubclass expected 2 arguments, got %d", len(args))
	}
	c, ok := args[0].(*Class)
	if !ok {
		return nil, newError(TypeError, "issubclass() arg 1 must be a class")
	}
	classes, err := classInfo("issubclass", args[1])
	if err != nil {
		return nil, err
	}
	for _, k := range classes {
		if c.IsSubclass(k) {
			return True, nil
		}
	}
	return False, nil
}

func builtinID(in *Interp, args []Value, kw []Kwarg) (Value, error) {
	if len(args) != 1 {
		return nil, newError(TypeError, "id() takes exactly one argument (%d given)", len(args))
	}
	if id := in.ObjectID(args[0]); id != 0 {
		return Int(int64(id)), nil
	}
	h, err := in.Hash(args[0])
	if err != nil {
		return Int(0), nil
	}
	return Int(h), nil
}

// Hash returns hash(v).
func (in *Interp) Hash(v Value) (int64, error) {
	switch x := v.(type) {
	case Bool:
		return boolInt(x), nil
	case Int:
		if x == -1 {
			return -2, nil
		}
		return int64(x), nil
	case *Instance:
		if m, ok := x.Class.Lookup("__hash__"); ok {
			if m == None {
				return 0, unhashable(v)
			}
			r, err := in.callMethod(x, m, nil, nil)
			if err != nil {
				return 0, err
			}
			n, ok := toInt64(r)
			if !ok {
				return 0, newError(TypeError, "__hash__ method should return an integer")
			}
			return n, nil
		}
		return int64(in.ObjectID(x)), nil
	}
	k, err := hashKey(v)
	if err != nil {
		return 0, err
	}
	if n, ok := k.(int64); ok {
		return n, nil
	}
	var b strings.Builder
	writeKey(&b, k)
	h := fnv.New64a()
	h.Write([]byte(b.String()))
	return int64(h.Sum64() >> 1), nil
}

func builtinHash(in *Interp, args []Value, kw []Kwarg) (Value, error) {
	if len(args) != 1 {
		return nil, newError(TypeError, "hash() takes exactly one argument (%d given)", len(args))
	}
	h, err := in.Hash(args[0])
	return Int(h), err
}

func builtinRepr(in *Interp, args []Value, kw []Kwarg) (Value, error) {
	if len(args) != 1 {
		return nil, newError(TypeError, "repr() takes exactly one argument (%d given)", len(args))
	}
	s, err := in.Repr(args[0])
	return Str(s), err
}

func builtinASCII(in *Interp, args []Value, kw []Kwarg) (Value, error) {
	if len(args) != 1 {
		return nil, newError(TypeError, "ascii() takes exactly one argument (%d given)", len(args))
	}
	s, err := in.Repr(args[0])
	return Str(asciiEscape(s)), err
}

func builtinIter(in *Interp, args []Value, kw []Kwarg) (Value, error) {
	switch len(args) {
	case 1:
		return in.iter(args[0])
	case 2:
		fn, sentinel := args[0], args[1]
		return &FuncIter{Name: "callable_iterator", Fn: func(in *Interp) (Value, bool, error) {
			v, err := in.call(fn, nil, nil)
			if err != nil {
				return nil, false, err
			}
			eq, err := in.Equal(v, sentinel)
			if err != nil || eq {
				return nil, false, err
			}
			return v, true, nil
		}}, nil
	}
	return nil, newError(TypeError, "iter expected 1 or 2 arguments, got %d", len(args))
}

func builtinNext(in *Interp, args []Value, kw []Kwarg) (Value, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, newError(TypeError, "next expected 1 or 2 arguments, got %d", len(args))
	}
	var v Value
	var ok bool
	var err error
	switch x := args[0].(type) {
	case Iterator:
		v, ok, err = x.Next(in)
	case *Instance:
		m, found := x.Class.Lookup("__next__")
		if !found {
			return nil, newError(TypeError, "'%s' object is not an iterator", x.TypeName())
		}
		v, err = in.callMethod(x, m, nil, nil)
		ok = err == nil
		var exc *Exception
		if errors.As(err, &exc) && exc.Is(StopIteration) && len(args) == 2 {
			return args[1], nil
		}
	default:
		return nil, newError(TypeError, "'%s' object is not an iterator", args[0].TypeName())
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		if len(args) == 2 {
			return args[1], nil
		}
		return nil, stopIteration(None)
	}
	return v, nil
}

func stopIteration(v Value) *Exception {
	inst := NewInstance(StopIteration)
	if v == None {
		inst.Attrs.Set("args", NewTuple())
	} else {
		inst.Attrs.Set("args", NewTuple(v))
	}
	inst.Attrs.Set("value", v)
	return &Exception{Value: inst}
}

func builtinRound(in *Interp, args []Value, kw []Kwarg) (Value, error) {
	a, err := unpackArgs("round", args, kw, "number", "ndigits?")
	if err != nil {
		return nil, err
	}
	if inst, ok := a[0].(*Instance); ok {
		if m, ok := inst.Class.Lookup("__round__"); ok {
			var rest []Value
			if a[1] != nil {
				rest = []Value{a[1]}
			}
			return in.callMethod(inst, m, rest, nil)
		}
	}
	if !IsNumber(a[0]) {
		return nil, newError(TypeError, "type %s doesn't define __round__ method", a[0].TypeName())
	}
	if a[1] == nil || a[1] == None {
		if isIntegral(a[0]) {
			return NewBig(new(big.Int).Set(bigOf(a[0]))), nil
		}
		f := float64(a[0].(Float))
		if math.IsInf(f, 0) {
			return nil, newError(OverflowError, "cannot convert float infinity to integer")
		}
		if math.IsNaN(f) {
			return nil, newError(ValueError, "cannot convert float NaN to integer")
		}
		return NewBig(floatToBig(math.RoundToEven(f))), nil
	}
	nd, ok := toInt64(a[1])
	if !ok {
		return nil, newError(TypeError, "'%s' object cannot be interpreted as an integer", a[1].TypeName())
	}
	if isIntegral(a[0]) {
		if nd >= 0 {
			return a[0], nil
		}
		p := new(big.Int).Exp(big.NewInt(10), big.NewInt(-nd), nil)
		x := bigOf(a[0])
		q, r := new(big.Int).QuoRem(x, p, new(big.Int))
		twice := new(big.Int).Mul(new(big.Int).Abs(r), big.NewInt(2))
		if c := twice.Cmp(p); c > 0 || c == 0 && q.Bit(0) == 1 {
			if x.Sign() < 0 {
				q.Sub(q, big.NewInt(1))
			} else {
				q.Add(q, big.NewInt(1))
			}
		}
		return NewBig(q.Mul(q, p)), nil
	}
	return Float(roundFloat(float64(a[0].(Float)), int(nd))), nil
}

func roundFloat(f float64, nd int) float64 {
	if math.IsInf(f, 0) || math.IsNaN(f) || f == 0 {
		return f
	}
	if nd >= 0 {
		if nd > 300 {
			return f
		}
		r, _ := strconv.ParseFloat(strconv.FormatFloat(f, 'f', nd, 64), 64)
		return r
	}
	p := math.Pow(10, float64(-nd))
	return math.RoundToEven(f/p) * p
}

func builtinDivmod(in *Interp, args []Value, kw []Kwarg) (Value, error) {
	if len(args) != 2 {
		return nil, newError(TypeError, "divmod expected 2 arguments, got %d", len(args))
	}
	q, err := in.binaryOp("//", args[0], args[1])
	if err != nil {
		return nil, err
	}
	r, err := in.binaryOp("%", args[0], args[1])
	if err != nil {
		return nil, err
	}
	return NewTuple(q, r), nil
}

func builtinPow(in *Interp, args []Value, kw []Kwarg) (Value, error) {
	a, err := unpackArgs("pow", args, kw, "base", "exp", "mod?")
	if err != nil {
		return nil, err
	}
	if a[2] == nil || a[2] == None {
		return in.binaryOp("**", a[0], a[1])
	}
	if !isIntegral(a[0]) || !isIntegral(a[1]) || !isIntegral(a[2]) {
		return nil, newError(TypeError, "pow() 3rd argument not allowed unless all arguments are integers")
	}
	m := bigOf(a[2])
	if m.Sign() == 0 {
		return nil, newError(ValueError, "pow() 3rd argument cannot be 0")
	}
	base, exp := bigOf(a[0]), bigOf(a[1])
	if exp.Sign() < 0 {
		inv := new(big.Int).ModInverse(new(big.Int).Mod(base, new(big.Int).Abs(m)), new(big.Int).Abs(m))
		if inv == nil {
			return nil, newError(ValueError, "base is not invertible for the given modulus")
		}
		base, exp = inv, new(big.Int).Neg(exp)
	}
	r := new(big.Int).Exp(base, exp, new(big.Int).Abs(m))
	if m.Sign() < 0 && r.Sign() != 0 {
		r.Add(r, m)
	}
	return NewBig(r), nil
}

func builtinChr(in *Interp, args []Value, kw []Kwarg) (Value, error) {
	if len(args) != 1 {
		return nil, newError(TypeError, "chr() takes exactly one argument (%d given)", len(args))
	}
	n, ok := toInt64(args[0])
	if !ok {
		return nil, newError(TypeError, "'%s' object cannot be interpreted as an integer", args[0].TypeName())
	}
	if n < 0 || n > 0x10ffff {
		return nil, newError(ValueError, "chr() arg not in range(0x110000)")
	}
	return Str(string(rune(n))), nil
}

func builtinOrd(in *Interp, args []Value, kw []Kwarg) (Value, error) {
	if len(args) != 1 {
		return nil, newError(TypeError, "ord() takes exactly one argument (%d given)", len(args))
	}
	s, ok := args[0].(Str)
	if !ok {
		return nil, newError(TypeError, "ord() expected string of length 1, but %s found", args[0].TypeName())
	}
	r := []rune(string(s))
	if len(r) != 1 {
		return nil, newError(TypeError, "ord() expected a character, but string of length %d found", len(r))
	}
	return Int(r[0]), nil
}

func radix(name string, args []Value, kw []Kwarg, base int, prefix string) (Value, error) {
	if len(args) != 1 {
		return nil, newError(TypeError, "%s() takes exactly one argument (%d given)", name, len(args))
	}
	b, ok := toBig(args[0])
	if !ok {
		return nil, newError(TypeError, "'%s' object cannot be interpreted as an integer", args[0].TypeName())
	}
	if b.Sign() < 0 {
		return Str("-" + prefix + new(big.Int).Neg(b).Text(base)), nil
	}
	return Str(prefix + b.Text(base)), nil
}

func builtinFormat(in *Interp, args []Value, kw []Kwarg) (Value, error) {
	a, err := unpackArgs("format", args, kw, "value", "format_spec?")
	if err != nil {
		return nil, err
	}
	spec := ""
	if a[1] != nil {
		s, ok := a[1].(Str)
		if !ok {
			return nil, newError(TypeError, "format() argument 2 must be str, not %s", a[1].TypeName())
		}
		spec = string(s)
	}
	s, err := in.format(a[0], spec)
	return Str(s), err
}

func attrName(fname string, v Value) (string, error) {
	s, ok := v.(Str)
	if !ok {
		return "", newError(TypeError, "%s(): attribute name must be string", fname)
	}
	return string(s), nil
}

func builtinGetattr(in *Interp, args []Value, kw []Kwarg) (Value, error) {
	if len(args) < 2 || len(args) > 3 {
		return nil, newError(TypeError, "getattr expected 2 or 3 arguments, got %d", len(args))
	}
	name, err := attrName("getattr", args[1])
	if err != nil {
		return nil, err
	}
	v, err := in.getAttr(args[0], name)
	if err != nil && len(args) == 3 {
		var exc *Exception
		if errors.As(err, &exc) && exc.Is(AttributeError) {
			return args[2], nil
		}
	}
	return v, err
}

func builtinSetattr(in *Interp, args []Value, kw []Kwarg) (Value, error) {
	if len(args) != 3 {
		return nil, newError(TypeError, "setattr expected 3 arguments, got %d", len(args))
	}
	name, err := attrName("setattr", args[1])
	if err != nil {
		return nil, err
	}
	return None, in.setAttr(args[0], name, args[2])
}

func builtinHasattr(in *Interp, args []Value, kw []Kwarg) (Value, error) {
	if len(args) != 2 {
		return nil, newError(TypeError, "hasattr expected 2 arguments, got %d", len(args))
	}
	name, err := attrName("hasattr", args[1])
	if err != nil {
		return nil, err
	}
	if _, err := in.getAttr(args[0], name); err != nil {
		var exc *Exception
		if errors.As(err, &exc) && exc.Is(AttributeError) {
			return False, nil
		}
		return nil, err
	}
	return True, nil
}

func builtinDelattr(in *Interp, args []Value, kw []Kwarg) (Value, error) {
	if len(args) != 2 {
		return nil, newError(TypeError, "delattr expected 2 arguments, got %d", len(args))
	}
	name, err := attrName("delattr", args[1])
	if err != nil {
		return nil, err
	}
	return None, in.delAttr(args[0], name)
}

func builtinCallable(in *Interp, args []Value, kw []Kwarg) (Value, error) {
	if len(args) != 1 {
		return nil, newError(TypeError, "callable() takes exactly one argument (%d given)", len(args))
	}
	return boolValue(isCallable(args[0])), nil
}

func builtinInput(in *Interp, args []Value, kw []Kwarg) (Value, error) {
	if len(args) > 0 {
		s, err := in.Str(args[0])
		if err != nil {
			return nil, err
		}
		io.WriteString(in.stdout, s)
	}
	return nil, NewException(EOFError, "EOF when reading a line")
}

// NewInput returns an input() builtin that serves lines from a fixed list.
// The prompt and the value read are both echoed to stdout.
func NewInput(lines []string) *Builtin {
	next := 0
	return NewBuiltin("input", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		if len(args) > 1 {
			return nil, newError(TypeError, "input expected at most 1 argument, got %d", len(args))
		}
		prompt := ""
		if len(args) == 1 {
			s, err := in.Str(args[0])
			if err != nil {
				return nil, err
			}
			prompt = s
		}
		if next >= len(lines) {
			io.WriteString(in.stdout, prompt)
			return nil, NewException(EOFError, "EOF when reading a line")
		}
		line := lines[next]
		next++
		fmt.Fprintf(in.stdout, "%s%s\n", prompt, line)
		return Str(line), nil
	})
}

func builtinNotice(text string) BuiltinFunc {
	return func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		fmt.Fprintln(in.stdout, text)
		return None, nil
	}
}

func builtinExit(in *Interp, args []Value, kw []Kwarg) (Value, error) {
	inst := NewInstance(SystemExit)
	inst.Attrs.Set("args", NewTuple(args...))
	return nil, &Exception{Value: inst}
}

func builtinImport(in *Interp, args []Value, kw []Kwarg) (Value, error) {
	if len(args) < 1 {
		return nil, newError(TypeError, "__import__() missing required argument 'name' (pos 1)")
	}
	name, ok := args[0].(Str)
	if !ok {
		return nil, newError(TypeError, "__import__() argument 1 must be str, not %s", args[0].TypeName())
	}
	return in.importModule(string(name))
}

func builtinReload(in *Interp, args []Value, kw []Kwarg) (Value, error) {
	if len(args) != 1 {
		return nil, newError(TypeError, "reload() takes exactly one argument (%d given)", len(args))
	}
	m, ok := args[0].(*Module)
	if !ok {
		return nil, newError(TypeError, "reload() argument must be a module")
	}
	return m, nil
}

func nsDict(ns *Namespace) *Dict {
	d := NewDict()
	for _, b := range ns.Bindings() {
		d.SetStr(b.Name, b.Value)
	}
	return d
}

func sortedNames(names []string) Value {
	sort.Strings(names)
	items := make([]Value, len(names))
	for i, n := range names {
		items[i] = Str(n)
	}
	return NewList(items)
}

func builtinDir(in *Interp, args []Value, kw []Kwarg) (Value, error) {
	if len(args) == 0 {
		if in.frame == nil {
			return NewList(nil), nil
		}
		return sortedNames(in.frame.Locals().Names()), nil
	}
	seen := map[string]bool{}
	add := func(names []string) {
		for _, n := range names {
			seen[n] = true
		}
	}
	switch x := args[0].(type) {
	case *Instance:
		add(x.Attrs.Names())
		for _, c := range x.Class.mro {
			add(c.Dict.Names())
		}
	case *Class:
		for _, c := range x.mro {
			add(c.Dict.Names())
		}
	case *Module:
		add(x.Attrs.Names())
	default:
		add(nativeMethodNames(args[0]))
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	return sortedNames(names), nil
}

func builtinVars(in *Interp, args []Value, kw []Kwarg) (Value, error) {
	if len(args) == 0 {
		return builtinLocals(in, nil, nil)
	}
	switch x := args[0].(type) {
	case *Instance:
		return nsDict(x.Attrs), nil
	case *Class:
		return nsDict(x.Dict), nil
	case *Module:
		return nsDict(x.Attrs), nil
	}
	return nil, newError(TypeError, "vars() argument must have __dict__ attribute")
}

func builtinGlobals(in *Interp, args []Value, kw []Kwarg) (Value, error) {
	if in.frame == nil {
		return NewDict(), nil
	}
	return nsDict(in.frame.Globals()), nil
}

func builtinLocals(in *Interp, args []Value, kw []Kwarg) (Value, error) {
	if in.frame == nil {
		return NewDict(), nil
	}
	return nsDict(in.frame.Locals()), nil
}

// codeObject is the result of compile().
type codeObject struct {
	prog *Program
	expr Expr
}

func (*codeObject) TypeName() string { return "code" }

func builtinCompile(in *Interp, args []Value, kw []Kwarg) (Value, error) {
	a, err := unpackArgs("compile", args, kw, "source", "filename", "mode", "flags?", "dont_inherit?", "optimize?")
	if err != nil {
		return nil, err
	}
	src, ok1 := a[0].(Str)
	filename, ok2 := a[1].(Str)
	mode, ok3 := a[2].(Str)
	if !ok1 || !ok2 || !ok3 {
		return nil, newError(TypeError, "compile() arguments must be strings")
	}
	switch mode {
	case "eval":
		x, err := ParseExpr(in.ctx, string(src))
		if err != nil {
			return nil, syntaxException(err)
		}
		return &codeObject{expr: x}, nil
	case "exec", "single":
		prog, err := Compile(in.ctx, string(filename), []byte(src))
		if err != nil {
			return nil, syntaxException(err)
		}
		return &codeObject{prog: prog}, nil
	}
	return nil, newError(ValueError, "compile() mode must be 'exec', 'eval' or 'single'")
}

func syntaxException(err error) error {
	var se *SyntaxError
	if errors.As(err, &se) {
		return newError(SyntaxErrorClass, "%s (%s, line %d)", se.Msg, se.Filename, se.Line)
	}
	return err
}

// scopeFrame builds the frame eval and exec run in.
func (in *Interp) scopeFrame(fname string, args []Value) (*Frame, *Dict, error) {
	cur := in.frame
	if len(args) == 0 || args[0] == None {
		if cur == nil {
			return nil, nil, newError(RuntimeError, "%s() called outside a frame", fname)
		}
		return cur, nil, nil
	}
	d, ok := args[0].(*Dict)
	if !ok {
		return nil, nil, newError(TypeError, "%s() globals must be a dict, not %s", fname, args[0].TypeName())
	}
	ns := NewNamespace()
	for _, kv := range d.Items() {
		if k, ok := kv[0].(Str); ok {
			ns.Set(string(k), kv[1])
		}
	}
	code := &Code{Name: "<module>", Filename: "<string>", IsModule: true}
	return &Frame{Code: code, locals: ns, globals: ns}, d, nil
}

func builtinEval(in *Interp, args []Value, kw []Kwarg) (Value, error) {
	if len(args) < 1 {
		return nil, newError(TypeError, "eval expected at least 1 argument, got 0")
	}
	f, _, err := in.scopeFrame("eval", args[1:])
	if err != nil {
		return nil, err
	}
	var x Expr
	switch src := args[0].(type) {
	case Str:
		if x, err = ParseExpr(in.ctx, strings.TrimSpace(string(src))); err != nil {
			return nil, syntaxException(err)
		}
	case *codeObject:
		if src.expr == nil {
			return nil, newError(TypeError, "eval() needs an expression code object")
		}
		x = src.expr
	default:
		return nil, newError(TypeError, "eval() arg 1 must be a string or code object")
	}
	return in.eval(f, x)
}

func builtinExec(in *Interp, args []Value, kw []Kwarg) (Value, error) {
	if len(args) < 1 {
		return nil, newError(TypeError, "exec expected at least 1 argument, got 0")
	}
	f, d, err := in.scopeFrame("exec", args[1:])
	if err != nil {
		return nil, err
	}
	var prog *Program
	switch src := args[0].(type) {
	case Str:
		if prog, err = Compile(in.ctx, "<string>", []byte(src)); err != nil {
			return nil, syntaxException(err)
		}
	case *codeObject:
		if src.prog == nil {
			return nil, newError(TypeError, "exec() needs a module code object")
		}
		prog = src.prog
	default:
		return nil, newError(TypeError, "exec() arg 1 must be a string or code object")
	}
	in.programs[prog.Filename] = prog
	globals := f.Globals()
	frame := &Frame{Code: prog.Code, locals: globals, globals: globals}
	if _, err := in.runFrame(frame); err != nil {
		return nil, err
	}
	if d != nil {
		for _, b := range globals.Bindings() {
			d.SetStr(b.Name, b.Value)
		}
	}
	return None, nil
}
