package script

import (
	"math/big"
	"strings"
)

func (in *Interp) getAttr(obj Value, name string) (Value, error) {
	switch x := obj.(type) {
	case *Instance:
		if v, ok := x.Class.Lookup(name); ok {
			if p, ok := v.(*Property); ok {
				return in.bind(x, x.Class, p)
			}
		}
		if v, ok := x.Attrs.Get(name); ok {
			return v, nil
		}
		switch name {
		case "__class__":
			return x.Class, nil
		case "__dict__":
			d := NewDict()
			for _, b := range x.Attrs.Bindings() {
				d.SetStr(b.Name, b.Value)
			}
			return d, nil
		}
		if v, ok := x.Class.Lookup(name); ok {
			return in.bind(x, x.Class, v)
		}
		if x.Class.IsSubclass(BaseExceptionClass) && name == "args" {
			return NewTuple(), nil
		}
		if m, ok := x.Class.Lookup("__getattr__"); ok {
			return in.callMethod(x, m, []Value{Str(name)}, nil)
		}
		return nil, newError(AttributeError, "'%s' object has no attribute '%s'", x.Class.Name, name)
	case *Class:
		switch name {
		case "__name__", "__qualname__":
			return Str(x.Name), nil
		case "__mro__":
			items := make([]Value, len(x.mro))
			for i, c := range x.mro {
				items[i] = c
			}
			return NewTuple(items...), nil
		case "__bases__":
			items := make([]Value, len(x.Bases))
			for i, c := range x.Bases {
				items[i] = c
			}
			return NewTuple(items...), nil
		case "__dict__":
			d := NewDict()
			for _, b := range x.Dict.Bindings() {
				d.SetStr(b.Name, b.Value)
			}
			return d, nil
		}
		if v, ok := x.Lookup(name); ok {
			switch m := v.(type) {
			case *ClassMethod:
				return &BoundMethod{Self: x, Fn: m.Fn}, nil
			case *StaticMethod:
				return m.Fn, nil
			}
			return v, nil
		}
		if v, ok := in.classAttr(x, name); ok {
			return v, nil
		}
		return nil, newError(AttributeError, "type object '%s' has no attribute '%s'", x.Name, name)
	case *Module:
		if v, ok := x.Attrs.Get(name); ok {
			return v, nil
		}
		if name == "__name__" {
			return Str(x.Name), nil
		}
		return nil, newError(AttributeError, "module '%s' has no attribute '%s'", x.Name, name)
	case *Function:
		switch name {
		case "__name__", "__qualname__":
			return Str(x.Code.Name), nil
		case "__module__":
			return Str("__main__"), nil
		case "__doc__":
			return None, nil
		}
		if v, ok := x.Attrs.Get(name); ok {
			return v, nil
		}
		return nil, newError(AttributeError, "'function' object has no attribute '%s'", name)
	case *BoundMethod:
		switch name {
		case "__self__":
			return x.Self, nil
		case "__func__":
			return x.Fn, nil
		}
		return in.getAttr(x.Fn, name)
	case *Builtin:
		if name == "__name__" || name == "__qualname__" {
			return Str(x.Name), nil
		}
	case *Property:
		switch name {
		case "setter":
			return NewBuiltin("setter", func(_ *Interp, args []Value, _ []Kwarg) (Value, error) {
				if len(args) != 1 {
					return nil, newError(TypeError, "setter() takes exactly one argument")
				}
				return &Property{Get: x.Get, Set: args[0]}, nil
			}), nil
		case "getter":
			return NewBuiltin("getter", func(_ *Interp, args []Value, _ []Kwarg) (Value, error) {
				if len(args) != 1 {
					return nil, newError(TypeError, "getter() takes exactly one argument")
				}
				return &Property{Get: args[0], Set: x.Set}, nil
			}), nil
		case "fget":
			return orNone(x.Get), nil
		case "fset":
			return orNone(x.Set), nil
		}
	case Attributer:
		return x.GetAttr(in, name)
	}
	if v, ok, err := in.nativeAttr(obj, name); ok || err != nil {
		return v, err
	}
	return nil, newError(AttributeError, "'%s' object has no attribute '%s'", obj.TypeName(), name)
}

func orNone(v Value) Value {
	if v == nil {
		return None
	}
	return v
}

// GetAttr resolves obj.name.
func (in *Interp) GetAttr(obj Value, name string) (Value, error) { return in.getAttr(obj, name) }

func (in *Interp) setAttr(obj Value, name string, v Value) error {
	switch x := obj.(type) {
	case *Instance:
		if p, ok := x.Class.Lookup(name); ok {
			if prop, ok := p.(*Property); ok {
				if prop.Set == nil || prop.Set == None {
					return newError(AttributeError, "property '%s' of '%s' object has no setter", name, x.Class.Name)
				}
				_, err := in.call(prop.Set, []Value{x, v}, nil)
				return err
			}
		}
		if m, ok := x.Class.Lookup("__setattr__"); ok {
			_, err := in.callMethod(x, m, []Value{Str(name), v}, nil)
			return err
		}
		x.Attrs.Set(name, v)
		return nil
	case *Class:
		if x.builtin {
			return newError(TypeError, "cannot set '%s' attribute of immutable type '%s'", name, x.Name)
		}
		x.Dict.Set(name, v)
		return nil
	case *Module:
		x.Attrs.Set(name, v)
		return nil
	case *Function:
		x.Attrs.Set(name, v)
		return nil
	case AttrSetter:
		return x.SetAttr(in, name, v)
	}
	return newError(AttributeError, "'%s' object has no attribute '%s'", obj.TypeName(), name)
}

// SetAttr assigns obj.name = v.
func (in *Interp) SetAttr(obj Value, name string, v Value) error { return in.setAttr(obj, name, v) }

func (in *Interp) delAttr(obj Value, name string) error {
	switch x := obj.(type) {
	case *Instance:
		if x.Attrs.Delete(name) {
			return nil
		}
	case *Class:
		if !x.builtin && x.Dict.Delete(name) {
			return nil
		}
	case *Module:
		if x.Attrs.Delete(name) {
			return nil
		}
	case *Function:
		if x.Attrs.Delete(name) {
			return nil
		}
	}
	return newError(AttributeError, "'%s' object has no attribute '%s'", obj.TypeName(), name)
}

func (in *Interp) getItem(obj, key Value) (Value, error) {
	switch x := obj.(type) {
	case *List:
		return in.seqItem("list", x.Items, key, func(items []Value) Value { return NewList(items) })
	case *Tuple:
		return in.seqItem("tuple", x.Items, key, func(items []Value) Value { return NewTuple(items...) })
	case *Deque:
		if _, ok := key.(*Slice); ok {
			return nil, newError(TypeError, "sequence index must be integer, not 'slice'")
		}
		return in.seqItem("deque", x.Items, key, nil)
	case Str:
		if s, ok := key.(*Slice); ok {
			chars := []rune(string(x))
			idx, err := in.sliceIndices(s, len(chars))
			if err != nil {
				return nil, err
			}
			out := make([]rune, 0, len(idx))
			for _, i := range idx {
				out = append(out, chars[i])
			}
			return Str(string(out)), nil
		}
		i, err := in.index(key, "string")
		if err != nil {
			return nil, err
		}
		chars := []rune(string(x))
		if i < 0 {
			i += len(chars)
		}
		if i < 0 || i >= len(chars) {
			return nil, newError(IndexError, "string index out of range")
		}
		return Str(string(chars[i])), nil
	case *Range:
		if s, ok := key.(*Slice); ok {
			idx, err := in.sliceIndices(s, x.Len())
			if err != nil {
				return nil, err
			}
			items := make([]Value, len(idx))
			for j, i := range idx {
				items[j] = Int(x.at(i))
			}
			return NewList(items), nil
		}
		i, err := in.index(key, "range object")
		if err != nil {
			return nil, err
		}
		if i < 0 {
			i += x.Len()
		}
		if i < 0 || i >= x.Len() {
			return nil, newError(IndexError, "range object index out of range")
		}
		return Int(x.at(i)), nil
	case *Dict:
		v, ok, err := x.Get(key)
		if err != nil {
			return nil, err
		}
		if ok {
			return v, nil
		}
		switch x.Kind {
		case DictCounter:
			return Int(0), nil
		case DictDefault:
			if x.Factory != nil && x.Factory != None {
				d, err := in.call(x.Factory, nil, nil)
				if err != nil {
					return nil, err
				}
				return d, x.Set(key, d)
			}
		}
		if _, err := hashKey(key); err != nil {
			return nil, err
		}
		return nil, keyError(key)
	case *Instance:
		if m, ok := x.Class.Lookup("__getitem__"); ok {
			return in.callMethod(x, m, []Value{key}, nil)
		}
	case *Class:
		// Subscripted types such as list[int] appear in annotations.
		return x, nil
	case Indexer:
		return x.GetItem(in, key)
	}
	return nil, newError(TypeError, "'%s' object is not subscriptable", obj.TypeName())
}

// GetItem resolves obj[key].
func (in *Interp) GetItem(obj, key Value) (Value, error) { return in.getItem(obj, key) }

func keyError(key Value) *Exception {
	inst := NewInstance(KeyError)
	inst.Attrs.Set("args", NewTuple(key))
	return exceptionFromInstance(inst)
}

func (in *Interp) seqItem(kind string, items []Value, key Value, mk func([]Value) Value) (Value, error) {
	if s, ok := key.(*Slice); ok && mk != nil {
		idx, err := in.sliceIndices(s, len(items))
		if err != nil {
			return nil, err
		}
		out := make([]Value, len(idx))
		for j, i := range idx {
			out[j] = items[i]
		}
		return mk(out), nil
	}
	i, err := in.index(key, kind)
	if err != nil {
		return nil, err
	}
	if i < 0 {
		i += len(items)
	}
	if i < 0 || i >= len(items) {
		return nil, newError(IndexError, "%s index out of range", kind)
	}
	return items[i], nil
}

func (in *Interp) index(key Value, kind string) (int, error) {
	switch k := key.(type) {
	case Int:
		return int(k), nil
	case Bool:
		if k {
			return 1, nil
		}
		return 0, nil
	case BigInt:
		return 0, newError(IndexError, "cannot fit 'int' into an index-sized integer")
	case *Instance:
		if m, ok := k.Class.Lookup("__index__"); ok {
			r, err := in.callMethod(k, m, nil, nil)
			if err != nil {
				return 0, err
			}
			return in.index(r, kind)
		}
	}
	return 0, newError(TypeError, "%s indices must be integers or slices, not %s", kind, key.TypeName())
}

// sliceIndices returns the positions selected by s in a sequence of
// length n.
func (in *Interp) sliceIndices(s *Slice, n int) ([]int, error) {
	start, stop, step, err := in.sliceBounds(s, n)
	if err != nil {
		return nil, err
	}
	var out []int
	if step > 0 {
		for i := start; i < stop; i += step {
			out = append(out, i)
		}
	} else {
		for i := start; i > stop; i += step {
			out = append(out, i)
		}
	}
	return out, nil
}

func (in *Interp) sliceBounds(s *Slice, n int) (int, int, int, error) {
	step := 1
	if s.Step != None && s.Step != nil {
		v, err := in.sliceInt(s.Step)
		if err != nil {
			return 0, 0, 0, err
		}
		if v == 0 {
			return 0, 0, 0, newError(ValueError, "slice step cannot be zero")
		}
		step = v
	}
	var lower, upper int
	if step > 0 {
		lower, upper = 0, n
	} else {
		lower, upper = -1, n-1
	}
	clamp := func(v Value, def int) (int, error) {
		if v == None || v == nil {
			return def, nil
		}
		i, err := in.sliceInt(v)
		if err != nil {
			return 0, err
		}
		if i < 0 {
			i += n
			if i < lower {
				i = lower
			}
		} else if i > upper {
			i = upper
		}
		return i, nil
	}
	startDef, stopDef := lower, upper
	if step < 0 {
		startDef, stopDef = upper, lower
	}
	start, err := clamp(s.Start, startDef)
	if err != nil {
		return 0, 0, 0, err
	}
	stop, err := clamp(s.Stop, stopDef)
	if err != nil {
		return 0, 0, 0, err
	}
	return start, stop, step, nil
}

func (in *Interp) sliceInt(v Value) (int, error) {
	switch x := v.(type) {
	case Int:
		return int(x), nil
	case Bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case BigInt:
		if x.v.Sign() < 0 {
			return -1 << 62, nil
		}
		return 1 << 62, nil
	}
	return 0, newError(TypeError, "slice indices must be integers or None or have an __index__ method")
}

func (in *Interp) setItem(obj, key, v Value) error {
	switch x := obj.(type) {
	case *List:
		if s, ok := key.(*Slice); ok {
			return in.setListSlice(x, s, v)
		}
		i, err := in.index(key, "list")
		if err != nil {
			return err
		}
		if i < 0 {
			i += len(x.Items)
		}
		if i < 0 || i >= len(x.Items) {
			return newError(IndexError, "list assignment index out of range")
		}
		x.Items[i] = v
		return nil
	case *Deque:
		i, err := in.index(key, "deque")
		if err != nil {
			return err
		}
		if i < 0 {
			i += len(x.Items)
		}
		if i < 0 || i >= len(x.Items) {
			return newError(IndexError, "deque index out of range")
		}
		x.Items[i] = v
		return nil
	case *Dict:
		return x.Set(key, v)
	case *Instance:
		if m, ok := x.Class.Lookup("__setitem__"); ok {
			_, err := in.callMethod(x, m, []Value{key, v}, nil)
			return err
		}
	case ItemSetter:
		return x.SetItem(in, key, v)
	}
	return newError(TypeError, "'%s' object does not support item assignment", obj.TypeName())
}

// SetItem assigns obj[key] = v.
func (in *Interp) SetItem(obj, key, v Value) error { return in.setItem(obj, key, v) }

func (in *Interp) setListSlice(l *List, s *Slice, v Value) error {
	items, err := in.iterate(v)
	if err != nil {
		return err
	}
	start, stop, step, err := in.sliceBounds(s, len(l.Items))
	if err != nil {
		return err
	}
	if step == 1 {
		if stop < start {
			stop = start
		}
		out := make([]Value, 0, len(l.Items)-(stop-start)+len(items))
		out = append(out, l.Items[:start]...)
		out = append(out, items...)
		out = append(out, l.Items[stop:]...)
		l.Items = out
		return nil
	}
	idx, err := in.sliceIndices(s, len(l.Items))
	if err != nil {
		return err
	}
	if len(idx) != len(items) {
		return newError(ValueError, "attempt to assign sequence of size %d to extended slice of size %d", len(items), len(idx))
	}
	for j, i := range idx {
		l.Items[i] = items[j]
	}
	return nil
}

func (in *Interp) delItem(obj, key Value) error {
	switch x := obj.(type) {
	case *List:
		if s, ok := key.(*Slice); ok {
			idx, err := in.sliceIndices(s, len(x.Items))
			if err != nil {
				return err
			}
			drop := make(map[int]bool, len(idx))
			for _, i := range idx {
				drop[i] = true
			}
			out := x.Items[:0:0]
			for i, v := range x.Items {
				if !drop[i] {
					out = append(out, v)
				}
			}
			x.Items = out
			return nil
		}
		i, err := in.index(key, "list")
		if err != nil {
			return err
		}
		if i < 0 {
			i += len(x.Items)
		}
		if i < 0 || i >= len(x.Items) {
			return newError(IndexError, "list assignment index out of range")
		}
		x.Items = append(x.Items[:i], x.Items[i+1:]...)
		return nil
	case *Deque:
		i, err := in.index(key, "deque")
		if err != nil {
			return err
		}
		if i < 0 {
			i += len(x.Items)
		}
		if i < 0 || i >= len(x.Items) {
			return newError(IndexError, "deque index out of range")
		}
		x.Items = append(x.Items[:i], x.Items[i+1:]...)
		return nil
	case *Dict:
		ok, err := x.Delete(key)
		if err != nil {
			return err
		}
		if !ok {
			return keyError(key)
		}
		return nil
	case *Instance:
		if m, ok := x.Class.Lookup("__delitem__"); ok {
			_, err := in.callMethod(x, m, []Value{key}, nil)
			return err
		}
	}
	return newError(TypeError, "'%s' object does not support item deletion", obj.TypeName())
}

// classAttr exposes unbound native methods such as str.upper or
// dict.fromkeys through the builtin type objects.
func (in *Interp) classAttr(cls *Class, name string) (Value, bool) {
	if !cls.builtin {
		return nil, false
	}
	if cls == DictClass && name == "fromkeys" {
		return NewBuiltin("fromkeys", func(in *Interp, args []Value, _ []Kwarg) (Value, error) {
			if len(args) < 1 {
				return nil, newError(TypeError, "fromkeys expected at least 1 argument")
			}
			var fill Value = None
			if len(args) > 1 {
				fill = args[1]
			}
			keys, err := in.iterate(args[0])
			if err != nil {
				return nil, err
			}
			d := NewDict()
			for _, k := range keys {
				if err := d.Set(k, fill); err != nil {
					return nil, err
				}
			}
			return d, nil
		}), true
	}
	if strings.HasPrefix(name, "__") {
		return nil, false
	}
	return NewBuiltin(cls.Name+"."+name, func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		if len(args) < 1 {
			return nil, newError(TypeError, "unbound method %s.%s() needs an argument", cls.Name, name)
		}
		m, err := in.getAttr(args[0], name)
		if err != nil {
			return nil, err
		}
		return in.call(m, args[1:], kw)
	}), true
}

func bigOf(v Value) *big.Int {
	b, _ := toBig(v)
	return b
}
