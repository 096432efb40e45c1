package script

import (
	"strings"
	"unicode"
)

func collectionsModule(in *Interp) *Module {
	m := NewModule("collections")
	m.Set("deque", DequeClass)
	m.Set("Counter", CounterClass)
	m.Set("defaultdict", DefaultDictClass)
	m.Set("OrderedDict", OrderedDictClass)
	m.Func("namedtuple", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("namedtuple", args, kw, "typename", "field_names", "rename?", "defaults?", "module?")
		if err != nil {
			return nil, err
		}
		name, err := strArg("namedtuple", a[0])
		if err != nil {
			return nil, err
		}
		var fields []string
		if s, ok := a[1].(Str); ok {
			fields = strings.Fields(strings.ReplaceAll(string(s), ",", " "))
		} else {
			items, err := in.iterate(a[1])
			if err != nil {
				return nil, err
			}
			for _, it := range items {
				f, err := strArg("namedtuple", it)
				if err != nil {
					return nil, err
				}
				fields = append(fields, f)
			}
		}
		seen := make(map[string]bool)
		for _, f := range fields {
			if !validIdent(f) || strings.HasPrefix(f, "_") {
				return nil, newError(ValueError, "Field names must be valid identifiers: '%s'", f)
			}
			if seen[f] {
				return nil, newError(ValueError, "Encountered duplicate field name: '%s'", f)
			}
			seen[f] = true
		}
		var defaults []Value
		if a[3] != nil && a[3] != None {
			if defaults, err = in.iterate(a[3]); err != nil {
				return nil, err
			}
			if len(defaults) > len(fields) {
				return nil, newError(TypeError, "Got more default values than field names")
			}
		}
		return namedTuple(name, fields, defaults)
	})
	return m
}

var keywords = map[string]bool{
	"False": true, "None": true, "True": true, "and": true, "as": true, "assert": true,
	"async": true, "await": true, "break": true, "class": true, "continue": true, "def": true,
	"del": true, "elif": true, "else": true, "except": true, "finally": true, "for": true,
	"from": true, "global": true, "if": true, "import": true, "in": true, "is": true,
	"lambda": true, "nonlocal": true, "not": true, "or": true, "pass": true, "raise": true,
	"return": true, "try": true, "while": true, "with": true, "yield": true,
}

func validIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r != '_' && !unicode.IsLetter(r) && (i == 0 || !unicode.IsDigit(r)) {
			return false
		}
	}
	return !keywords[s]
}

func namedTuple(name string, fields []string, defaults []Value) (*Class, error) {
	ns := NewNamespace()
	fieldVals := make([]Value, len(fields))
	for i, f := range fields {
		fieldVals[i] = Str(f)
	}
	ns.Set("_fields", NewTuple(fieldVals...))
	values := func(self Value) []Value {
		inst := self.(*Instance)
		out := make([]Value, len(fields))
		for i, f := range fields {
			out[i], _ = inst.Attrs.Get(f)
		}
		return out
	}
	method := func(mname string, fn func(in *Interp, self *Instance, args []Value, kw []Kwarg) (Value, error)) {
		ns.Set(mname, NewBuiltin(mname, func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
			if len(args) == 0 {
				return nil, newError(TypeError, "%s() missing 'self'", mname)
			}
			self, ok := args[0].(*Instance)
			if !ok {
				return nil, newError(TypeError, "descriptor '%s' requires a '%s' object", mname, name)
			}
			return fn(in, self, args[1:], kw)
		}))
	}
	method("__init__", func(in *Interp, self *Instance, args []Value, kw []Kwarg) (Value, error) {
		if len(args) > len(fields) {
			return nil, newError(TypeError, "%s() takes %d positional arguments but %d were given", name, len(fields)+1, len(args)+1)
		}
		vals := make([]Value, len(fields))
		copy(vals, args)
		for _, k := range kw {
			i := indexOf(fields, k.Name)
			if i < 0 {
				return nil, newError(TypeError, "%s() got an unexpected keyword argument '%s'", name, k.Name)
			}
			if vals[i] != nil {
				return nil, newError(TypeError, "%s() got multiple values for argument '%s'", name, k.Name)
			}
			vals[i] = k.Value
		}
		offset := len(fields) - len(defaults)
		var missing []string
		for i, v := range vals {
			if v != nil {
				continue
			}
			if i >= offset {
				vals[i] = defaults[i-offset]
				continue
			}
			missing = append(missing, "'"+fields[i]+"'")
		}
		if len(missing) > 0 {
			return nil, newError(TypeError, "%s() missing %d required positional argument%s: %s", name, len(missing), plural(len(missing)), strings.Join(missing, " and "))
		}
		for i, f := range fields {
			self.Attrs.Set(f, vals[i])
		}
		return None, nil
	})
	method("__iter__", func(in *Interp, self *Instance, _ []Value, _ []Kwarg) (Value, error) {
		return &seqIter{name: "tuple_iterator", items: values(self)}, nil
	})
	method("__len__", func(*Interp, *Instance, []Value, []Kwarg) (Value, error) {
		return Int(len(fields)), nil
	})
	method("__getitem__", func(in *Interp, self *Instance, args []Value, _ []Kwarg) (Value, error) {
		if len(args) != 1 {
			return nil, newError(TypeError, "__getitem__ expected 1 argument")
		}
		return in.getItem(NewTuple(values(self)...), args[0])
	})
	method("__contains__", func(in *Interp, self *Instance, args []Value, _ []Kwarg) (Value, error) {
		if len(args) != 1 {
			return nil, newError(TypeError, "__contains__ expected 1 argument")
		}
		ok, err := in.seqContains(values(self), args[0])
		return boolValue(ok), err
	})
	method("__eq__", func(in *Interp, self *Instance, args []Value, _ []Kwarg) (Value, error) {
		if len(args) != 1 {
			return nil, newError(TypeError, "__eq__ expected 1 argument")
		}
		var other []Value
		switch o := args[0].(type) {
		case *Tuple:
			other = o.Items
		case *Instance:
			if o.Class != self.Class {
				return NotImplemented, nil
			}
			other = values(o)
		default:
			return NotImplemented, nil
		}
		eq, err := in.Equal(NewTuple(values(self)...), NewTuple(other...))
		return boolValue(eq), err
	})
	method("__lt__", func(in *Interp, self *Instance, args []Value, _ []Kwarg) (Value, error) {
		if len(args) != 1 {
			return nil, newError(TypeError, "__lt__ expected 1 argument")
		}
		o, ok := args[0].(*Instance)
		if !ok || o.Class != self.Class {
			return NotImplemented, nil
		}
		lt, err := in.Less(NewTuple(values(self)...), NewTuple(values(o)...))
		return boolValue(lt), err
	})
	method("__hash__", func(in *Interp, self *Instance, _ []Value, _ []Kwarg) (Value, error) {
		h, err := in.Hash(NewTuple(values(self)...))
		return Int(h), err
	})
	method("__repr__", func(in *Interp, self *Instance, _ []Value, _ []Kwarg) (Value, error) {
		var b strings.Builder
		b.WriteString(self.Class.Name)
		b.WriteByte('(')
		for i, v := range values(self) {
			if i > 0 {
				b.WriteString(", ")
			}
			r, err := in.Repr(v)
			if err != nil {
				return nil, err
			}
			b.WriteString(fields[i] + "=" + r)
		}
		b.WriteByte(')')
		return Str(b.String()), nil
	})
	method("_asdict", func(in *Interp, self *Instance, _ []Value, _ []Kwarg) (Value, error) {
		d := NewDict()
		for i, v := range values(self) {
			d.SetStr(fields[i], v)
		}
		return d, nil
	})
	method("_replace", func(in *Interp, self *Instance, args []Value, kw []Kwarg) (Value, error) {
		out := NewInstance(self.Class)
		for _, b := range self.Attrs.Bindings() {
			out.Attrs.Set(b.Name, b.Value)
		}
		for _, k := range kw {
			if indexOf(fields, k.Name) < 0 {
				return nil, newError(ValueError, "Got unexpected field names: ['%s']", k.Name)
			}
			out.Attrs.Set(k.Name, k.Value)
		}
		return out, nil
	})
	cls, err := NewClass(name, []*Class{ObjectClass}, ns)
	if err != nil {
		return nil, err
	}
	cls.Dict.Set("_make", &ClassMethod{Fn: NewBuiltin("_make", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		if len(args) != 2 {
			return nil, newError(TypeError, "_make() takes exactly one argument")
		}
		items, err := in.iterate(args[1])
		if err != nil {
			return nil, err
		}
		return in.call(args[0], items, nil)
	})})
	return cls, nil
}

func indexOf(list []string, s string) int {
	for i, x := range list {
		if x == s {
			return i
		}
	}
	return -1
}

// heapq

func heapList(fname string, v Value) (*List, error) {
	l, ok := v.(*List)
	if !ok {
		return nil, newError(TypeError, "%s() argument 1 must be list, not %s", fname, v.TypeName())
	}
	return l, nil
}

func (in *Interp) heapSiftDown(h []Value, start, pos int) error {
	item := h[pos]
	for pos > start {
		parent := (pos - 1) >> 1
		lt, err := in.Less(item, h[parent])
		if err != nil {
			return err
		}
		if !lt {
			break
		}
		h[pos] = h[parent]
		pos = parent
	}
	h[pos] = item
	return nil
}

func (in *Interp) heapSiftUp(h []Value, pos int) error {
	end, start := len(h), pos
	item := h[pos]
	child := 2*pos + 1
	for child < end {
		if right := child + 1; right < end {
			lt, err := in.Less(h[child], h[right])
			if err != nil {
				return err
			}
			if !lt {
				child = right
			}
		}
		h[pos] = h[child]
		pos = child
		child = 2*pos + 1
	}
	h[pos] = item
	return in.heapSiftDown(h, start, pos)
}

func (in *Interp) heapPop(l *List) (Value, error) {
	if len(l.Items) == 0 {
		return nil, newError(IndexError, "index out of range")
	}
	last := l.Items[len(l.Items)-1]
	l.Items = l.Items[:len(l.Items)-1]
	if len(l.Items) == 0 {
		return last, nil
	}
	top := l.Items[0]
	l.Items[0] = last
	return top, in.heapSiftUp(l.Items, 0)
}

func heapqModule(in *Interp) *Module {
	m := NewModule("heapq")
	m.Func("heappush", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("heappush", args, kw, "heap", "item")
		if err != nil {
			return nil, err
		}
		l, err := heapList("heappush", a[0])
		if err != nil {
			return nil, err
		}
		l.Items = append(l.Items, a[1])
		return None, in.heapSiftDown(l.Items, 0, len(l.Items)-1)
	})
	m.Func("heappop", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("heappop", args, kw, "heap")
		if err != nil {
			return nil, err
		}
		l, err := heapList("heappop", a[0])
		if err != nil {
			return nil, err
		}
		return in.heapPop(l)
	})
	m.Func("heapify", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("heapify", args, kw, "heap")
		if err != nil {
			return nil, err
		}
		l, err := heapList("heapify", a[0])
		if err != nil {
			return nil, err
		}
		for i := len(l.Items)/2 - 1; i >= 0; i-- {
			if err := in.heapSiftUp(l.Items, i); err != nil {
				return nil, err
			}
		}
		return None, nil
	})
	m.Func("heapreplace", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("heapreplace", args, kw, "heap", "item")
		if err != nil {
			return nil, err
		}
		l, err := heapList("heapreplace", a[0])
		if err != nil {
			return nil, err
		}
		if len(l.Items) == 0 {
			return nil, newError(IndexError, "index out of range")
		}
		top := l.Items[0]
		l.Items[0] = a[1]
		return top, in.heapSiftUp(l.Items, 0)
	})
	m.Func("heappushpop", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("heappushpop", args, kw, "heap", "item")
		if err != nil {
			return nil, err
		}
		l, err := heapList("heappushpop", a[0])
		if err != nil {
			return nil, err
		}
		if len(l.Items) == 0 {
			return a[1], nil
		}
		lt, err := in.Less(l.Items[0], a[1])
		if err != nil || !lt {
			return a[1], err
		}
		top := l.Items[0]
		l.Items[0] = a[1]
		return top, in.heapSiftUp(l.Items, 0)
	})
	pick := func(name string, reverse bool) {
		m.Func(name, func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
			a, err := unpackArgs(name, args, kw, "n", "iterable", "key?")
			if err != nil {
				return nil, err
			}
			n, ok := toInt64(a[0])
			if !ok {
				return nil, newError(TypeError, "'%s' object cannot be interpreted as an integer", a[0].TypeName())
			}
			items, err := in.iterate(a[1])
			if err != nil {
				return nil, err
			}
			items = append([]Value(nil), items...)
			if err := in.Sort(items, orNone(a[2]), reverse); err != nil {
				return nil, err
			}
			n = max(0, min(n, int64(len(items))))
			return NewList(items[:n]), nil
		})
	}
	pick("nlargest", true)
	pick("nsmallest", false)
	m.Func("merge", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		var key Value = None
		reverse := false
		for _, k := range kw {
			switch k.Name {
			case "key":
				key = k.Value
			case "reverse":
				t, err := in.Truthy(k.Value)
				if err != nil {
					return nil, err
				}
				reverse = t
			default:
				return nil, newError(TypeError, "merge() got an unexpected keyword argument '%s'", k.Name)
			}
		}
		var all []Value
		for _, a := range args {
			items, err := in.iterate(a)
			if err != nil {
				return nil, err
			}
			all = append(all, items...)
		}
		if err := in.Sort(all, key, reverse); err != nil {
			return nil, err
		}
		return &seqIter{name: "generator", items: all}, nil
	})
	return m
}

// bisect

func bisectModule(in *Interp) *Module {
	m := NewModule("bisect")
	search := func(in *Interp, fname string, args []Value, kw []Kwarg, right bool) (*List, Value, int, error) {
		a, err := unpackArgs(fname, args, kw, "a", "x", "lo?", "hi?", "key?")
		if err != nil {
			return nil, nil, 0, err
		}
		l, ok := a[0].(*List)
		if !ok {
			items, err := in.iterate(a[0])
			if err != nil {
				return nil, nil, 0, err
			}
			l = NewList(items)
		}
		lo, hi := 0, len(l.Items)
		if a[2] != nil {
			n, ok := toInt64(a[2])
			if !ok || n < 0 {
				return nil, nil, 0, newError(ValueError, "lo must be non-negative")
			}
			lo = int(n)
		}
		if a[3] != nil && a[3] != None {
			n, _ := toInt64(a[3])
			hi = min(int(n), len(l.Items))
		}
		key := orNone(a[4])
		for lo < hi {
			mid := (lo + hi) / 2
			v := l.Items[mid]
			if key != None {
				if v, err = in.call(key, []Value{v}, nil); err != nil {
					return nil, nil, 0, err
				}
			}
			var goRight bool
			if right {
				lt, err := in.Less(a[1], v)
				if err != nil {
					return nil, nil, 0, err
				}
				goRight = !lt
			} else {
				goRight, err = in.Less(v, a[1])
				if err != nil {
					return nil, nil, 0, err
				}
			}
			if goRight {
				lo = mid + 1
			} else {
				hi = mid
			}
		}
		return l, a[1], lo, nil
	}
	for _, right := range []bool{false, true} {
		suffix := "_left"
		if right {
			suffix = "_right"
		}
		find := func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
			_, _, i, err := search(in, "bisect"+suffix, args, kw, right)
			return Int(i), err
		}
		insert := func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
			if len(args) > 0 {
				if _, ok := args[0].(*List); !ok {
					return nil, newError(TypeError, "insort%s() argument must be a list", suffix)
				}
			}
			var x Value
			if len(args) > 1 {
				x = args[1]
			}
			var key Value = None
			for _, k := range kw {
				if k.Name == "key" {
					key = k.Value
				}
				if k.Name == "x" {
					x = k.Value
				}
			}
			probe := x
			if key != None && x != nil {
				var err error
				if probe, err = in.call(key, []Value{x}, nil); err != nil {
					return nil, err
				}
				if len(args) > 1 {
					args = append([]Value{args[0], probe}, args[2:]...)
				} else {
					kw = replaceKwarg(kw, "x", probe)
				}
			}
			l, _, i, err := search(in, "insort"+suffix, args, kw, right)
			if err != nil {
				return nil, err
			}
			l.Items = append(l.Items, nil)
			copy(l.Items[i+1:], l.Items[i:])
			l.Items[i] = x
			return None, nil
		}
		m.Func("bisect"+suffix, find)
		m.Func("insort"+suffix, insert)
		if right {
			m.Func("bisect", find)
			m.Func("insort", insert)
		}
	}
	return m
}

func replaceKwarg(kw []Kwarg, name string, v Value) []Kwarg {
	out := append([]Kwarg(nil), kw...)
	for i := range out {
		if out[i].Name == name {
			out[i].Value = v
		}
	}
	return out
}
