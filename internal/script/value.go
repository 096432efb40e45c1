package script

import (
	"math/big"
	"reflect"
)

// Value is any object visible to a running program.
type Value interface {
	TypeName() string
}

type (
	// NoneType is the type of None.
	NoneType struct{}
	// Bool is a boolean.
	Bool bool
	// Int is an integer that fits in 64 bits.
	Int int64
	// BigInt is an integer that does not fit in 64 bits. The wrapped value
	// is never mutated after construction.
	BigInt struct{ v *big.Int }
	// Float is a double precision float.
	Float float64
	// Str is an immutable text string.
	Str string
	// Ellipsis is the ... literal.
	EllipsisType struct{}
)

var (
	None     Value = NoneType{}
	True     Value = Bool(true)
	False    Value = Bool(false)
	Ellipsis Value = EllipsisType{}
)

func (NoneType) TypeName() string     { return "NoneType" }
func (Bool) TypeName() string         { return "bool" }
func (Int) TypeName() string          { return "int" }
func (BigInt) TypeName() string       { return "int" }
func (Float) TypeName() string        { return "float" }
func (Str) TypeName() string          { return "str" }
func (EllipsisType) TypeName() string { return "ellipsis" }

// Big returns the integer as a big.Int copy.
func (b BigInt) Big() *big.Int { return new(big.Int).Set(b.v) }

func boolValue(b bool) Value {
	if b {
		return True
	}
	return False
}

// NewBig normalizes a big integer, returning Int when it fits.
func NewBig(b *big.Int) Value {
	if b.IsInt64() {
		return Int(b.Int64())
	}
	return BigInt{v: b}
}

// IsNumber reports whether v is a bool, int or float.
func IsNumber(v Value) bool {
	switch v.(type) {
	case Bool, Int, BigInt, Float:
		return true
	}
	return false
}

func isIntegral(v Value) bool {
	switch v.(type) {
	case Bool, Int, BigInt:
		return true
	}
	return false
}

func toBig(v Value) (*big.Int, bool) {
	switch x := v.(type) {
	case Bool:
		if x {
			return big.NewInt(1), true
		}
		return big.NewInt(0), true
	case Int:
		return big.NewInt(int64(x)), true
	case BigInt:
		return x.v, true
	}
	return nil, false
}

// AsInt returns v as an int64 when it is a bool or a small int.
func AsInt(v Value) (int64, bool) { return toInt64(v) }

func toInt64(v Value) (int64, bool) {
	switch x := v.(type) {
	case Bool:
		if x {
			return 1, true
		}
		return 0, true
	case Int:
		return int64(x), true
	}
	return 0, false
}

func toFloat(v Value) (float64, bool) {
	switch x := v.(type) {
	case Bool:
		if x {
			return 1, true
		}
		return 0, true
	case Int:
		return float64(x), true
	case BigInt:
		f, _ := new(big.Float).SetInt(x.v).Float64()
		return f, true
	case Float:
		return float64(x), true
	}
	return 0, false
}

// Identity returns a token that is stable for the lifetime of a heap object
// and zero for plain scalars, which cannot take part in reference cycles.
func Identity(v Value) uint64 {
	switch v.(type) {
	case nil, NoneType, Bool, Int, BigInt, Float, Str, EllipsisType:
		return 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func:
		return uint64(rv.Pointer())
	}
	return 0
}

// ObjectID returns the id() of v: a small number handed out in order of
// first use, stable for as long as v is alive. Scalars have no id and
// return 0. Heap addresses never leave the interpreter.
func (in *Interp) ObjectID(v Value) uint64 {
	addr := Identity(v)
	if addr == 0 {
		return 0
	}
	in.idMu.Lock()
	defer in.idMu.Unlock()
	if id, ok := in.ids[addr]; ok {
		return id
	}
	if in.ids == nil {
		in.ids = make(map[uint64]uint64)
	}
	in.lastID++
	in.ids[addr] = in.lastID
	return in.lastID
}

// Truthy reports the truth value of v.
func (in *Interp) Truthy(v Value) (bool, error) {
	switch x := v.(type) {
	case NoneType:
		return false, nil
	case Bool:
		return bool(x), nil
	case Int:
		return x != 0, nil
	case BigInt:
		return x.v.Sign() != 0, nil
	case Float:
		return x != 0, nil
	case Str:
		return x != "", nil
	case *Instance:
		if m, ok := x.Class.Lookup("__bool__"); ok {
			r, err := in.callMethod(x, m, nil, nil)
			if err != nil {
				return false, err
			}
			return in.Truthy(r)
		}
		if m, ok := x.Class.Lookup("__len__"); ok {
			r, err := in.callMethod(x, m, nil, nil)
			if err != nil {
				return false, err
			}
			n, _ := toInt64(r)
			return n != 0, nil
		}
		return true, nil
	case Lener:
		return x.Len() != 0, nil
	}
	return true, nil
}

// Lener is implemented by sized values.
type Lener interface {
	Len() int
}

// Named binds a name to a value, in definition order.
type Named struct {
	Name  string
	Value Value
}

// Namespace is an insertion ordered mapping of names to values.
type Namespace struct {
	m     map[string]Value
	order []string
}

// NewNamespace returns an empty namespace.
func NewNamespace() *Namespace {
	return &Namespace{m: make(map[string]Value)}
}

// Get returns the value bound to name.
func (n *Namespace) Get(name string) (Value, bool) {
	v, ok := n.m[name]
	return v, ok
}

// Set binds name to v.
func (n *Namespace) Set(name string, v Value) {
	if _, ok := n.m[name]; !ok {
		n.order = append(n.order, name)
	}
	n.m[name] = v
}

// Delete unbinds name and reports whether it was bound.
func (n *Namespace) Delete(name string) bool {
	if _, ok := n.m[name]; !ok {
		return false
	}
	delete(n.m, name)
	for i, k := range n.order {
		if k == name {
			n.order = append(n.order[:i], n.order[i+1:]...)
			break
		}
	}
	return true
}

// Len returns the number of bindings.
func (n *Namespace) Len() int { return len(n.order) }

// Names returns the bound names in definition order.
func (n *Namespace) Names() []string {
	out := make([]string, len(n.order))
	copy(out, n.order)
	return out
}

// Bindings returns the name/value pairs in definition order.
func (n *Namespace) Bindings() []Named {
	out := make([]Named, 0, len(n.order))
	for _, k := range n.order {
		out = append(out, Named{Name: k, Value: n.m[k]})
	}
	return out
}

// Clone returns a shallow copy.
func (n *Namespace) Clone() *Namespace {
	c := NewNamespace()
	for _, k := range n.order {
		c.Set(k, n.m[k])
	}
	return c
}

// ToGo converts plain data values to Go values suitable for encoding:
// nil, bool, int64, *big.Int, float64, string, []any and map[string]any.
// Other values, and containers nested deeper than 32 levels, are rendered
// with their plain repr.
func ToGo(v Value) any { return toGo(v, 0) }

func toGo(v Value, depth int) any {
	if depth > 32 {
		return plainRepr(v)
	}
	switch x := v.(type) {
	case nil, NoneType:
		return nil
	case Bool:
		return bool(x)
	case Int:
		return int64(x)
	case BigInt:
		return x.Big()
	case Float:
		return float64(x)
	case Str:
		return string(x)
	case *List:
		return seqToGo(x.Items, depth)
	case *Tuple:
		return seqToGo(x.Items, depth)
	case *Dict:
		out := make(map[string]any, x.Len())
		for _, kv := range x.Items() {
			k, ok := kv[0].(Str)
			if !ok {
				k = Str(plainRepr(kv[0]))
			}
			out[string(k)] = toGo(kv[1], depth+1)
		}
		return out
	}
	return plainRepr(v)
}

func seqToGo(items []Value, depth int) []any {
	out := make([]any, len(items))
	for i, e := range items {
		out[i] = toGo(e, depth+1)
	}
	return out
}
