package script

import (
	"math"
	"math/big"
	"strconv"
	"strings"
	"sync"
)

type notImplementedType struct{}

func (notImplementedType) TypeName() string             { return "NotImplementedType" }
func (notImplementedType) Repr(*Interp) (string, error) { return "NotImplemented", nil }

// NotImplemented is returned by binary dunder methods that do not handle
// the other operand.
var NotImplemented Value = notImplementedType{}

// Typed is implemented by Go backed values that belong to a class other
// than the one derived from their type name.
type Typed interface {
	Type() *Class
}

func builtinClass(name string, base *Class) *Class {
	c, _ := NewClass(name, []*Class{base}, nil)
	c.builtin = true
	return c
}

// Builtin types.
var (
	TypeClass            = builtinClass("type", ObjectClass)
	NoneClass            = builtinClass("NoneType", ObjectClass)
	IntClass             = builtinClass("int", ObjectClass)
	BoolClass            = builtinClass("bool", IntClass)
	FloatClass           = builtinClass("float", ObjectClass)
	StrClass             = builtinClass("str", ObjectClass)
	ListClass            = builtinClass("list", ObjectClass)
	TupleClass           = builtinClass("tuple", ObjectClass)
	DictClass            = builtinClass("dict", ObjectClass)
	SetClass             = builtinClass("set", ObjectClass)
	FrozenSetClass       = builtinClass("frozenset", ObjectClass)
	RangeClass           = builtinClass("range", ObjectClass)
	SliceClass           = builtinClass("slice", ObjectClass)
	EllipsisClass        = builtinClass("ellipsis", ObjectClass)
	FunctionClass        = builtinClass("function", ObjectClass)
	BuiltinFunctionClass = builtinClass("builtin_function_or_method", ObjectClass)
	MethodClass          = builtinClass("method", ObjectClass)
	ModuleClass          = builtinClass("module", ObjectClass)
	GeneratorClass       = builtinClass("generator", ObjectClass)
	PropertyClass        = builtinClass("property", ObjectClass)
	StaticMethodClass    = builtinClass("staticmethod", ObjectClass)
	ClassMethodClass     = builtinClass("classmethod", ObjectClass)
	SuperClass           = builtinClass("super", ObjectClass)
	DequeClass           = builtinClass("deque", ObjectClass)
	CounterClass         = builtinClass("Counter", DictClass)
	DefaultDictClass     = builtinClass("defaultdict", DictClass)
	OrderedDictClass     = builtinClass("OrderedDict", DictClass)
)

var superBuiltin *Builtin

var goTypes sync.Map

func init() {
	superBuiltin = NewBuiltin("super", builtinSuper)

	TypeClass.newFn = newType
	NoneClass.newFn = func(*Interp, *Class, []Value, []Kwarg) (Value, error) { return None, nil }
	IntClass.newFn = newInt
	BoolClass.newFn = newBool
	FloatClass.newFn = newFloat
	StrClass.newFn = newStr
	ListClass.newFn = newList
	TupleClass.newFn = newTupleValue
	DictClass.newFn = newDict
	SetClass.newFn = newSet
	FrozenSetClass.newFn = newSet
	RangeClass.newFn = newRange
	SliceClass.newFn = newSlice
	PropertyClass.newFn = newProperty
	StaticMethodClass.newFn = func(in *Interp, _ *Class, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("staticmethod", args, kw, "function")
		if err != nil {
			return nil, err
		}
		return &StaticMethod{Fn: a[0]}, nil
	}
	ClassMethodClass.newFn = func(in *Interp, _ *Class, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("classmethod", args, kw, "function")
		if err != nil {
			return nil, err
		}
		return &ClassMethod{Fn: a[0]}, nil
	}
	SuperClass.newFn = func(in *Interp, _ *Class, args []Value, kw []Kwarg) (Value, error) {
		return builtinSuper(in, args, kw)
	}
	DequeClass.newFn = newDeque
	CounterClass.newFn = newCounter
	DefaultDictClass.newFn = newDefaultDict
	OrderedDictClass.newFn = newOrderedDict

	BaseExceptionClass.Dict.Set("__init__", NewBuiltin("__init__", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		if len(args) == 0 {
			return nil, newError(TypeError, "descriptor '__init__' of 'BaseException' object needs an argument")
		}
		self, ok := args[0].(*Instance)
		if !ok {
			return nil, newError(TypeError, "descriptor '__init__' requires a 'BaseException' object")
		}
		self.Attrs.Set("args", NewTuple(args[1:]...))
		if self.Class.IsSubclass(StopIteration) {
			var v Value = None
			if len(args) > 1 {
				v = args[1]
			}
			self.Attrs.Set("value", v)
		}
		return None, nil
	}))
}

// typeOf returns the class of any value.
func (in *Interp) typeOf(v Value) *Class { return TypeOf(v) }

// TypeOf returns the class of any value.
func TypeOf(v Value) *Class {
	switch x := v.(type) {
	case nil, NoneType:
		return NoneClass
	case Bool:
		return BoolClass
	case Int, BigInt:
		return IntClass
	case Float:
		return FloatClass
	case Str:
		return StrClass
	case *List:
		return ListClass
	case *Tuple:
		return TupleClass
	case *Dict:
		switch x.Kind {
		case DictCounter:
			return CounterClass
		case DictDefault:
			return DefaultDictClass
		case DictOrdered:
			return OrderedDictClass
		}
		return DictClass
	case *Set:
		if x.Frozen {
			return FrozenSetClass
		}
		return SetClass
	case *Deque:
		return DequeClass
	case *Range:
		return RangeClass
	case *Slice:
		return SliceClass
	case EllipsisType:
		return EllipsisClass
	case *Function:
		return FunctionClass
	case *Builtin:
		return BuiltinFunctionClass
	case *BoundMethod:
		return MethodClass
	case *Class:
		return TypeClass
	case *Module:
		return ModuleClass
	case *Generator:
		return GeneratorClass
	case *Property:
		return PropertyClass
	case *StaticMethod:
		return StaticMethodClass
	case *ClassMethod:
		return ClassMethodClass
	case *superObj:
		return SuperClass
	case *Instance:
		return x.Class
	case Typed:
		return x.Type()
	}
	name := v.TypeName()
	if c, ok := goTypes.Load(name); ok {
		return c.(*Class)
	}
	c, _ := goTypes.LoadOrStore(name, builtinClass(name, ObjectClass))
	return c.(*Class)
}

// IsInstance reports whether v is an instance of cls.
func IsInstance(v Value, cls *Class) bool {
	if cls.check != nil && cls.check(v) {
		return true
	}
	return TypeOf(v).IsSubclass(cls)
}

// NewBuiltinClass returns a class for Go backed values. check decides
// membership for isinstance.
func NewBuiltinClass(name string, check func(Value) bool) *Class {
	c := builtinClass(name, ObjectClass)
	c.check = check
	return c
}

// SetConstructor makes calling cls build values with fn.
func (c *Class) SetConstructor(fn func(in *Interp, args []Value, kw []Kwarg) (Value, error)) {
	c.newFn = func(in *Interp, _ *Class, args []Value, kw []Kwarg) (Value, error) {
		return fn(in, args, kw)
	}
}

// unpackArgs binds positional and keyword arguments to names. A name with a
// trailing '?' is optional and left nil when absent.
func unpackArgs(fname string, args []Value, kw []Kwarg, names ...string) ([]Value, error) {
	out := make([]Value, len(names))
	if len(args) > len(names) {
		return nil, newError(TypeError, "%s() takes at most %d argument%s (%d given)", fname, len(names), plural(len(names)), len(args))
	}
	copy(out, args)
	for _, k := range kw {
		found := false
		for i, n := range names {
			if strings.TrimSuffix(n, "?") == k.Name {
				if out[i] != nil {
					return nil, newError(TypeError, "%s() got multiple values for argument '%s'", fname, k.Name)
				}
				out[i] = k.Value
				found = true
				break
			}
		}
		if !found {
			return nil, newError(TypeError, "%s() got an unexpected keyword argument '%s'", fname, k.Name)
		}
	}
	for i, n := range names {
		if out[i] == nil && !strings.HasSuffix(n, "?") {
			return nil, newError(TypeError, "%s() missing required argument '%s' (pos %d)", fname, n, i+1)
		}
	}
	return out, nil
}

// UnpackArgs binds call arguments to names for Go backed callables. A name
// with a trailing '?' is optional and left nil when absent.
func UnpackArgs(fname string, args []Value, kw []Kwarg, names ...string) ([]Value, error) {
	return unpackArgs(fname, args, kw, names...)
}

func noKwargs(fname string, kw []Kwarg) error {
	if len(kw) > 0 {
		return newError(TypeError, "%s() takes no keyword arguments", fname)
	}
	return nil
}

func newType(in *Interp, _ *Class, args []Value, kw []Kwarg) (Value, error) {
	switch len(args) {
	case 1:
		return TypeOf(args[0]), nil
	case 3:
		name, ok := args[0].(Str)
		if !ok {
			return nil, newError(TypeError, "type.__new__() argument 1 must be str, not %s", args[0].TypeName())
		}
		bt, ok := args[1].(*Tuple)
		if !ok {
			return nil, newError(TypeError, "type.__new__() argument 2 must be tuple, not %s", args[1].TypeName())
		}
		d, ok := args[2].(*Dict)
		if !ok {
			return nil, newError(TypeError, "type.__new__() argument 3 must be dict, not %s", args[2].TypeName())
		}
		var bases []*Class
		for _, b := range bt.Items {
			c, ok := b.(*Class)
			if !ok {
				return nil, newError(TypeError, "bases must be types")
			}
			bases = append(bases, c)
		}
		ns := NewNamespace()
		for _, kv := range d.Items() {
			k, ok := kv[0].(Str)
			if !ok {
				return nil, newError(TypeError, "class namespace keys must be strings")
			}
			ns.Set(string(k), kv[1])
		}
		c, err := NewClass(string(name), bases, ns)
		if err != nil {
			return nil, NewException(TypeError, err.Error())
		}
		for _, b := range ns.Bindings() {
			bindOwner(b.Value, c)
		}
		return c, nil
	}
	return nil, newError(TypeError, "type() takes 1 or 3 arguments")
}

func newInt(in *Interp, _ *Class, args []Value, kw []Kwarg) (Value, error) {
	a, err := unpackArgs("int", args, kw, "x?", "base?")
	if err != nil {
		return nil, err
	}
	if a[0] == nil {
		return Int(0), nil
	}
	if a[1] != nil {
		s, ok := a[0].(Str)
		if !ok {
			return nil, newError(TypeError, "int() can't convert non-string with explicit base")
		}
		base, _ := toInt64(a[1])
		return parseIntBase(string(s), int(base))
	}
	switch x := a[0].(type) {
	case Bool:
		return Int(boolInt(x)), nil
	case Int, BigInt:
		return x, nil
	case Float:
		f := float64(x)
		if math.IsInf(f, 0) {
			return nil, newError(OverflowError, "cannot convert float infinity to integer")
		}
		if math.IsNaN(f) {
			return nil, newError(ValueError, "cannot convert float NaN to integer")
		}
		return NewBig(floatToBig(math.Trunc(f))), nil
	case Str:
		return parseIntBase(string(x), 10)
	case *Instance:
		for _, name := range []string{"__int__", "__index__"} {
			if m, ok := x.Class.Lookup(name); ok {
				return in.callMethod(x, m, nil, nil)
			}
		}
	}
	return nil, newError(TypeError, "int() argument must be a string, a bytes-like object or a real number, not '%s'", a[0].TypeName())
}

func parseIntBase(s string, base int) (Value, error) {
	text := strings.TrimSpace(s)
	clean := strings.ReplaceAll(text, "_", "")
	neg := false
	if strings.HasPrefix(clean, "-") || strings.HasPrefix(clean, "+") {
		neg = clean[0] == '-'
		clean = clean[1:]
	}
	lower := strings.ToLower(clean)
	prefixes := map[string]int{"0x": 16, "0o": 8, "0b": 2}
	if len(lower) > 2 {
		if b, ok := prefixes[lower[:2]]; ok && (base == 0 || base == b) {
			base, clean = b, clean[2:]
		}
	}
	if base == 0 {
		base = 10
	}
	b, ok := new(big.Int).SetString(clean, base)
	if !ok || clean == "" || strings.HasPrefix(clean, "+") || strings.HasPrefix(clean, "-") {
		return nil, newError(ValueError, "invalid literal for int() with base %d: %s", base, quoteStr(s))
	}
	if neg {
		b.Neg(b)
	}
	return NewBig(b), nil
}

func newBool(in *Interp, _ *Class, args []Value, kw []Kwarg) (Value, error) {
	a, err := unpackArgs("bool", args, kw, "x?")
	if err != nil {
		return nil, err
	}
	if a[0] == nil {
		return False, nil
	}
	t, err := in.Truthy(a[0])
	return boolValue(t), err
}

func newFloat(in *Interp, _ *Class, args []Value, kw []Kwarg) (Value, error) {
	a, err := unpackArgs("float", args, kw, "x?")
	if err != nil {
		return nil, err
	}
	if a[0] == nil {
		return Float(0), nil
	}
	switch x := a[0].(type) {
	case Str:
		return parseFloat(string(x))
	case *Instance:
		if m, ok := x.Class.Lookup("__float__"); ok {
			return in.callMethod(x, m, nil, nil)
		}
	}
	if f, ok := toFloat(a[0]); ok {
		if _, isBig := a[0].(BigInt); isBig && math.IsInf(f, 0) {
			return nil, newError(OverflowError, "int too large to convert to float")
		}
		return Float(f), nil
	}
	return nil, newError(TypeError, "float() argument must be a string or a real number, not '%s'", a[0].TypeName())
}

func parseFloat(s string) (Value, error) {
	t := strings.ToLower(strings.TrimSpace(strings.ReplaceAll(s, "_", "")))
	sign := 1.0
	body := t
	if strings.HasPrefix(body, "-") || strings.HasPrefix(body, "+") {
		if body[0] == '-' {
			sign = -1
		}
		body = body[1:]
	}
	switch body {
	case "inf", "infinity":
		return Float(math.Inf(int(sign))), nil
	case "nan":
		return Float(math.NaN()), nil
	}
	f, err := strconv.ParseFloat(t, 64)
	if err != nil && !strings.Contains(err.Error(), "range") {
		return nil, newError(ValueError, "could not convert string to float: %s", quoteStr(s))
	}
	return Float(f), nil
}

func newStr(in *Interp, _ *Class, args []Value, kw []Kwarg) (Value, error) {
	a, err := unpackArgs("str", args, kw, "object?")
	if err != nil {
		return nil, err
	}
	if a[0] == nil {
		return Str(""), nil
	}
	s, err := in.Str(a[0])
	return Str(s), err
}

func newList(in *Interp, _ *Class, args []Value, kw []Kwarg) (Value, error) {
	a, err := unpackArgs("list", args, kw, "iterable?")
	if err != nil {
		return nil, err
	}
	if a[0] == nil {
		return NewList(nil), nil
	}
	items, err := in.iterate(a[0])
	return NewList(items), err
}

func newTupleValue(in *Interp, _ *Class, args []Value, kw []Kwarg) (Value, error) {
	a, err := unpackArgs("tuple", args, kw, "iterable?")
	if err != nil {
		return nil, err
	}
	if a[0] == nil {
		return NewTuple(), nil
	}
	if t, ok := a[0].(*Tuple); ok {
		return t, nil
	}
	items, err := in.iterate(a[0])
	return NewTuple(items...), err
}

func newDict(in *Interp, _ *Class, args []Value, kw []Kwarg) (Value, error) {
	d := NewDict()
	return d, in.dictUpdate(d, args, kw)
}

// dictUpdate implements dict.update and the dict constructor.
func (in *Interp) dictUpdate(d *Dict, args []Value, kw []Kwarg) error {
	if len(args) > 1 {
		return newError(TypeError, "update expected at most 1 argument, got %d", len(args))
	}
	if len(args) == 1 {
		switch src := args[0].(type) {
		case *Dict:
			for _, kv := range src.Items() {
				if err := d.Set(kv[0], kv[1]); err != nil {
					return err
				}
			}
		default:
			items, err := in.iterate(src)
			if err != nil {
				return err
			}
			for i, it := range items {
				pair, err := in.iterate(it)
				if err != nil {
					return newError(TypeError, "cannot convert dictionary update sequence element #%d to a sequence", i)
				}
				if len(pair) != 2 {
					return newError(ValueError, "dictionary update sequence element #%d has length %d; 2 is required", i, len(pair))
				}
				if err := d.Set(pair[0], pair[1]); err != nil {
					return err
				}
			}
		}
	}
	for _, k := range kw {
		d.SetStr(k.Name, k.Value)
	}
	return nil
}

func newSet(in *Interp, cls *Class, args []Value, kw []Kwarg) (Value, error) {
	a, err := unpackArgs(cls.Name, args, kw, "iterable?")
	if err != nil {
		return nil, err
	}
	s := NewSet()
	s.Frozen = cls == FrozenSetClass
	if a[0] == nil {
		return s, nil
	}
	items, err := in.iterate(a[0])
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		if err := s.Add(it); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func newRange(in *Interp, _ *Class, args []Value, kw []Kwarg) (Value, error) {
	if err := noKwargs("range", kw); err != nil {
		return nil, err
	}
	var nums []int64
	for _, a := range args {
		n, err := in.index(a, "range")
		if err != nil {
			return nil, newError(TypeError, "'%s' object cannot be interpreted as an integer", a.TypeName())
		}
		nums = append(nums, int64(n))
	}
	switch len(nums) {
	case 1:
		return &Range{Start: 0, Stop: nums[0], Step: 1}, nil
	case 2:
		return &Range{Start: nums[0], Stop: nums[1], Step: 1}, nil
	case 3:
		if nums[2] == 0 {
			return nil, newError(ValueError, "range() arg 3 must not be zero")
		}
		return &Range{Start: nums[0], Stop: nums[1], Step: nums[2]}, nil
	case 0:
		return nil, newError(TypeError, "range expected at least 1 argument, got 0")
	}
	return nil, newError(TypeError, "range expected at most 3 arguments, got %d", len(nums))
}

func newSlice(in *Interp, _ *Class, args []Value, kw []Kwarg) (Value, error) {
	if err := noKwargs("slice", kw); err != nil {
		return nil, err
	}
	switch len(args) {
	case 1:
		return &Slice{Start: None, Stop: args[0], Step: None}, nil
	case 2:
		return &Slice{Start: args[0], Stop: args[1], Step: None}, nil
	case 3:
		return &Slice{Start: args[0], Stop: args[1], Step: args[2]}, nil
	}
	return nil, newError(TypeError, "slice expected 1 to 3 arguments, got %d", len(args))
}

func newProperty(in *Interp, _ *Class, args []Value, kw []Kwarg) (Value, error) {
	a, err := unpackArgs("property", args, kw, "fget?", "fset?", "fdel?", "doc?")
	if err != nil {
		return nil, err
	}
	return &Property{Get: a[0], Set: a[1]}, nil
}

func builtinSuper(in *Interp, args []Value, kw []Kwarg) (Value, error) {
	if len(args) == 0 {
		f := in.frame
		if f == nil {
			return nil, newError(RuntimeError, "super(): no arguments")
		}
		return in.implicitSuper(f)
	}
	if len(args) != 2 {
		return nil, newError(TypeError, "super() takes 0 or 2 arguments")
	}
	cls, ok := args[0].(*Class)
	if !ok {
		return nil, newError(TypeError, "super() argument 1 must be a type, not %s", args[0].TypeName())
	}
	return &superObj{cls: cls, self: args[1]}, nil
}

func newDeque(in *Interp, _ *Class, args []Value, kw []Kwarg) (Value, error) {
	a, err := unpackArgs("deque", args, kw, "iterable?", "maxlen?")
	if err != nil {
		return nil, err
	}
	d := &Deque{MaxLen: -1}
	if a[1] != nil && a[1] != None {
		n, ok := toInt64(a[1])
		if !ok {
			return nil, newError(TypeError, "an integer is required")
		}
		if n < 0 {
			return nil, newError(ValueError, "maxlen must be non-negative")
		}
		d.MaxLen = int(n)
	}
	if a[0] != nil {
		items, err := in.iterate(a[0])
		if err != nil {
			return nil, err
		}
		d.Items = items
		d.trim(false)
	}
	return d, nil
}

func newCounter(in *Interp, _ *Class, args []Value, kw []Kwarg) (Value, error) {
	d := NewDict()
	d.Kind = DictCounter
	return d, in.counterUpdate(d, args, kw, 1)
}

// counterUpdate adds (sign 1) or subtracts (sign -1) counts.
func (in *Interp) counterUpdate(d *Dict, args []Value, kw []Kwarg, sign int64) error {
	if len(args) > 1 {
		return newError(TypeError, "expected at most 1 argument, got %d", len(args))
	}
	add := func(k, n Value) error {
		cur, ok, err := d.Get(k)
		if err != nil {
			return err
		}
		if !ok {
			cur = Int(0)
		}
		if sign < 0 {
			n, err = in.unaryOp("-", n)
			if err != nil {
				return err
			}
		}
		sum, err := in.binaryOp("+", cur, n)
		if err != nil {
			return err
		}
		return d.Set(k, sum)
	}
	if len(args) == 1 {
		if src, ok := args[0].(*Dict); ok {
			for _, kv := range src.Items() {
				if err := add(kv[0], kv[1]); err != nil {
					return err
				}
			}
		} else {
			items, err := in.iterate(args[0])
			if err != nil {
				return err
			}
			for _, it := range items {
				if err := add(it, Int(1)); err != nil {
					return err
				}
			}
		}
	}
	for _, k := range kw {
		if err := add(Str(k.Name), k.Value); err != nil {
			return err
		}
	}
	return nil
}

func newDefaultDict(in *Interp, _ *Class, args []Value, kw []Kwarg) (Value, error) {
	d := NewDict()
	d.Kind = DictDefault
	d.Factory = None
	if len(args) > 0 {
		if args[0] != None && !isCallable(args[0]) {
			return nil, newError(TypeError, "first argument must be callable or None")
		}
		d.Factory = args[0]
		args = args[1:]
	}
	return d, in.dictUpdate(d, args, kw)
}

func newOrderedDict(in *Interp, _ *Class, args []Value, kw []Kwarg) (Value, error) {
	d := NewDict()
	d.Kind = DictOrdered
	return d, in.dictUpdate(d, args, kw)
}

func isCallable(v Value) bool {
	switch x := v.(type) {
	case *Function, *Builtin, *BoundMethod, *Class, *StaticMethod, Caller:
		return true
	case *Instance:
		_, ok := x.Class.Lookup("__call__")
		return ok
	}
	return false
}
