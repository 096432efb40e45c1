package script

import (
	"math"
	"math/big"
	"strings"
)

var binaryDunders = map[string][2]string{
	"+":  {"__add__", "__radd__"},
	"-":  {"__sub__", "__rsub__"},
	"*":  {"__mul__", "__rmul__"},
	"/":  {"__truediv__", "__rtruediv__"},
	"//": {"__floordiv__", "__rfloordiv__"},
	"%":  {"__mod__", "__rmod__"},
	"**": {"__pow__", "__rpow__"},
	"<<": {"__lshift__", "__rlshift__"},
	">>": {"__rshift__", "__rrshift__"},
	"&":  {"__and__", "__rand__"},
	"|":  {"__or__", "__ror__"},
	"^":  {"__xor__", "__rxor__"},
	"@":  {"__matmul__", "__rmatmul__"},
}

func (in *Interp) binaryOp(op string, a, b Value) (Value, error) {
	if ai, ok := a.(*Instance); ok {
		if m, ok := ai.Class.Lookup(binaryDunders[op][0]); ok {
			r, err := in.callMethod(ai, m, []Value{b}, nil)
			if err != nil || r != NotImplemented {
				return r, err
			}
		}
	}
	if bi, ok := b.(*Instance); ok {
		if m, ok := bi.Class.Lookup(binaryDunders[op][1]); ok {
			r, err := in.callMethod(bi, m, []Value{a}, nil)
			if err != nil || r != NotImplemented {
				return r, err
			}
		}
	}
	if IsNumber(a) && IsNumber(b) {
		return in.arith(op, a, b)
	}
	switch op {
	case "+":
		switch x := a.(type) {
		case Str:
			if y, ok := b.(Str); ok {
				return x + y, nil
			}
		case *List:
			if y, ok := b.(*List); ok {
				out := make([]Value, 0, len(x.Items)+len(y.Items))
				return NewList(append(append(out, x.Items...), y.Items...)), nil
			}
		case *Tuple:
			if y, ok := b.(*Tuple); ok {
				out := make([]Value, 0, len(x.Items)+len(y.Items))
				return NewTuple(append(append(out, x.Items...), y.Items...)...), nil
			}
		case *Deque:
			if y, ok := b.(*Deque); ok {
				d := &Deque{Items: append(append([]Value(nil), x.Items...), y.Items...), MaxLen: x.MaxLen}
				d.trim(false)
				return d, nil
			}
		case *Dict:
			if y, ok := b.(*Dict); ok && x.Kind == DictCounter && y.Kind == DictCounter {
				return in.counterCombine(x, y, 1)
			}
		}
	case "-":
		switch x := a.(type) {
		case *Set:
			if y, ok := b.(*Set); ok {
				return setDifference(x, y), nil
			}
		case *Dict:
			if y, ok := b.(*Dict); ok && x.Kind == DictCounter && y.Kind == DictCounter {
				return in.counterCombine(x, y, -1)
			}
		}
	case "*":
		if n, ok := toInt64(b); ok {
			return in.repeat(a, n)
		}
		if n, ok := toInt64(a); ok {
			return in.repeat(b, n)
		}
	case "%":
		if s, ok := a.(Str); ok {
			r, err := in.percentFormat(string(s), b)
			if err != nil {
				return nil, err
			}
			return Str(r), nil
		}
	case "&", "|", "^":
		x, ok1 := a.(*Set)
		y, ok2 := b.(*Set)
		if ok1 && ok2 {
			return setOp(op, x, y)
		}
		if op == "|" {
			dx, ok1 := a.(*Dict)
			dy, ok2 := b.(*Dict)
			if ok1 && ok2 {
				out := dx.copyDict()
				for _, kv := range dy.Items() {
					if err := out.Set(kv[0], kv[1]); err != nil {
						return nil, err
					}
				}
				return out, nil
			}
		}
	}
	return nil, newError(TypeError, "unsupported operand type(s) for %s: '%s' and '%s'", op, a.TypeName(), b.TypeName())
}

// BinaryOp applies a binary operator.
func (in *Interp) BinaryOp(op string, a, b Value) (Value, error) { return in.binaryOp(op, a, b) }

func (in *Interp) inplaceOp(op string, a, b Value) (Value, error) {
	switch x := a.(type) {
	case *List:
		if op == "+" {
			items, err := in.iterate(b)
			if err != nil {
				return nil, err
			}
			x.Items = append(x.Items, items...)
			return x, nil
		}
		if op == "*" {
			n, ok := toInt64(b)
			if !ok {
				break
			}
			r, err := in.repeat(x, n)
			if err != nil {
				return nil, err
			}
			x.Items = r.(*List).Items
			return x, nil
		}
	case *Set:
		if y, ok := b.(*Set); ok && !x.Frozen {
			var r Value
			var err error
			if op == "-" {
				r = setDifference(x, y)
			} else if r, err = setOp(op, x, y); err != nil {
				return nil, err
			}
			rs := r.(*Set)
			x.items, x.index = rs.items, rs.index
			return x, nil
		}
	case *Dict:
		if y, ok := b.(*Dict); ok && op == "|" {
			for _, kv := range y.Items() {
				if err := x.Set(kv[0], kv[1]); err != nil {
					return nil, err
				}
			}
			return x, nil
		}
	case *Deque:
		if op == "+" {
			items, err := in.iterate(b)
			if err != nil {
				return nil, err
			}
			x.Items = append(x.Items, items...)
			x.trim(false)
			return x, nil
		}
	case *Instance:
		name := "__i" + strings.TrimPrefix(binaryDunders[op][0], "__")
		if m, ok := x.Class.Lookup(name); ok {
			r, err := in.callMethod(x, m, []Value{b}, nil)
			if err != nil || r != NotImplemented {
				return r, err
			}
		}
	}
	return in.binaryOp(op, a, b)
}

func (in *Interp) repeat(v Value, n int64) (Value, error) {
	if n < 0 {
		n = 0
	}
	size := func(l int) error {
		if l > 0 && n > int64(in.maxItems/l) {
			return NewException(MemoryError, "")
		}
		return nil
	}
	switch x := v.(type) {
	case Str:
		if err := size(len(x)); err != nil {
			return nil, err
		}
		return Str(strings.Repeat(string(x), int(n))), nil
	case *List:
		if err := size(len(x.Items)); err != nil {
			return nil, err
		}
		out := make([]Value, 0, len(x.Items)*int(n))
		for i := int64(0); i < n; i++ {
			out = append(out, x.Items...)
		}
		return NewList(out), nil
	case *Tuple:
		if err := size(len(x.Items)); err != nil {
			return nil, err
		}
		out := make([]Value, 0, len(x.Items)*int(n))
		for i := int64(0); i < n; i++ {
			out = append(out, x.Items...)
		}
		return NewTuple(out...), nil
	}
	return nil, newError(TypeError, "can't multiply sequence by non-int of type '%s'", v.TypeName())
}

func (in *Interp) arith(op string, a, b Value) (Value, error) {
	_, af := a.(Float)
	_, bf := b.(Float)
	if op == "/" || af || bf {
		return floatArith(op, a, b)
	}
	x, xok := toInt64(a)
	y, yok := toInt64(b)
	if xok && yok {
		if r, ok := smallArith(op, x, y); ok {
			return r, nil
		}
	}
	return in.bigArith(op, bigOf(a), bigOf(b))
}

func smallArith(op string, x, y int64) (Value, bool) {
	switch op {
	case "+":
		r := x + y
		if (r > x) == (y > 0) {
			return Int(r), true
		}
	case "-":
		r := x - y
		if (r < x) == (y > 0) {
			return Int(r), true
		}
	case "*":
		if x == 0 || y == 0 {
			return Int(0), true
		}
		r := x * y
		if r/y == x && !(x == -1 && y == math.MinInt64) && !(y == -1 && x == math.MinInt64) {
			return Int(r), true
		}
	case "&":
		return Int(x & y), true
	case "|":
		return Int(x | y), true
	case "^":
		return Int(x ^ y), true
	}
	return nil, false
}

func (in *Interp) bigArith(op string, x, y *big.Int) (Value, error) {
	r := new(big.Int)
	switch op {
	case "+":
		r.Add(x, y)
	case "-":
		r.Sub(x, y)
	case "*":
		if x.BitLen()+y.BitLen() > maxIntBits {
			return nil, NewException(MemoryError, "")
		}
		r.Mul(x, y)
	case "//", "%":
		if y.Sign() == 0 {
			return nil, NewException(ZeroDivisionError, "integer division or modulo by zero")
		}
		q, m := new(big.Int), new(big.Int)
		q.DivMod(x, y, m)
		// big.Int.DivMod is Euclidean; floor semantics need the sign of
		// the divisor on the remainder.
		if m.Sign() != 0 && y.Sign() < 0 {
			q.Add(q, big.NewInt(1))
			m.Add(m, y)
		}
		if op == "//" {
			return NewBig(q), nil
		}
		return NewBig(m), nil
	case "**":
		if y.Sign() < 0 {
			fx, _ := new(big.Float).SetInt(x).Float64()
			fy, _ := new(big.Float).SetInt(y).Float64()
			if fx == 0 {
				return nil, NewException(ZeroDivisionError, "0.0 cannot be raised to a negative power")
			}
			return Float(math.Pow(fx, fy)), nil
		}
		if x.BitLen() > 1 && y.IsInt64() && int64(x.BitLen())*y.Int64() > maxIntBits {
			return nil, NewException(MemoryError, "")
		}
		if !y.IsInt64() && x.BitLen() > 1 {
			return nil, NewException(MemoryError, "")
		}
		r.Exp(x, y, nil)
	case "<<":
		if y.Sign() < 0 {
			return nil, NewException(ValueError, "negative shift count")
		}
		if !y.IsInt64() || y.Int64()+int64(x.BitLen()) > maxIntBits {
			return nil, NewException(MemoryError, "")
		}
		r.Lsh(x, uint(y.Int64()))
	case ">>":
		if y.Sign() < 0 {
			return nil, NewException(ValueError, "negative shift count")
		}
		if !y.IsInt64() {
			y = big.NewInt(maxIntBits)
		}
		r.Rsh(x, uint(y.Int64()))
	case "&":
		r.And(x, y)
	case "|":
		r.Or(x, y)
	case "^":
		r.Xor(x, y)
	default:
		return nil, newError(TypeError, "unsupported operand type(s) for %s: 'int' and 'int'", op)
	}
	return NewBig(r), nil
}

const maxIntBits = 1 << 22

func floatArith(op string, a, b Value) (Value, error) {
	x, _ := toFloat(a)
	y, _ := toFloat(b)
	switch op {
	case "+":
		return Float(x + y), nil
	case "-":
		return Float(x - y), nil
	case "*":
		return Float(x * y), nil
	case "/":
		if y == 0 {
			return nil, NewException(ZeroDivisionError, "division by zero")
		}
		return Float(x / y), nil
	case "//":
		if y == 0 {
			return nil, NewException(ZeroDivisionError, "float floor division by zero")
		}
		return Float(math.Floor(x / y)), nil
	case "%":
		if y == 0 {
			return nil, NewException(ZeroDivisionError, "float modulo")
		}
		m := math.Mod(x, y)
		if m != 0 && (m < 0) != (y < 0) {
			m += y
		}
		return Float(m), nil
	case "**":
		if x == 0 && y < 0 {
			return nil, NewException(ZeroDivisionError, "0.0 cannot be raised to a negative power")
		}
		if x < 0 && y != math.Trunc(y) {
			return nil, NewException(ValueError, "negative number cannot be raised to a fractional power")
		}
		r := math.Pow(x, y)
		if math.IsInf(r, 0) && !math.IsInf(x, 0) {
			return nil, NewException(OverflowError, "(34, 'Numerical result out of range')")
		}
		return Float(r), nil
	}
	return nil, newError(TypeError, "unsupported operand type(s) for %s: '%s' and '%s'", op, a.TypeName(), b.TypeName())
}

func (in *Interp) unaryOp(op string, v Value) (Value, error) {
	if inst, ok := v.(*Instance); ok {
		name := map[string]string{"-": "__neg__", "+": "__pos__", "~": "__invert__"}[op]
		if m, ok := inst.Class.Lookup(name); ok {
			return in.callMethod(inst, m, nil, nil)
		}
	}
	switch x := v.(type) {
	case Bool:
		return in.unaryOp(op, Int(boolInt(x)))
	case Int:
		switch op {
		case "-":
			if x == math.MinInt64 {
				return NewBig(new(big.Int).Neg(big.NewInt(int64(x)))), nil
			}
			return -x, nil
		case "+":
			return x, nil
		case "~":
			return ^x, nil
		}
	case BigInt:
		switch op {
		case "-":
			return NewBig(new(big.Int).Neg(x.v)), nil
		case "+":
			return x, nil
		case "~":
			return NewBig(new(big.Int).Not(x.v)), nil
		}
	case Float:
		switch op {
		case "-":
			return -x, nil
		case "+":
			return x, nil
		}
	}
	return nil, newError(TypeError, "bad operand type for unary %s: '%s'", op, v.TypeName())
}

func boolInt(b Bool) int64 {
	if b {
		return 1
	}
	return 0
}

var compareDunders = map[string][2]string{
	"==": {"__eq__", "__eq__"},
	"!=": {"__ne__", "__ne__"},
	"<":  {"__lt__", "__gt__"},
	"<=": {"__le__", "__ge__"},
	">":  {"__gt__", "__lt__"},
	">=": {"__ge__", "__le__"},
}

func (in *Interp) compareOp(op string, a, b Value) (Value, error) {
	switch op {
	case "in", "not in":
		ok, err := in.contains(b, a)
		if err != nil {
			return nil, err
		}
		return boolValue(ok == (op == "in")), nil
	case "is":
		return boolValue(Is(a, b)), nil
	case "is not":
		return boolValue(!Is(a, b)), nil
	}
	if d, ok := compareDunders[op]; ok {
		if ai, ok := a.(*Instance); ok {
			if m, ok := ai.Class.Lookup(d[0]); ok {
				r, err := in.callMethod(ai, m, []Value{b}, nil)
				if err != nil || r != NotImplemented {
					return r, err
				}
			}
		}
		if bi, ok := b.(*Instance); ok {
			if m, ok := bi.Class.Lookup(d[1]); ok {
				r, err := in.callMethod(bi, m, []Value{a}, nil)
				if err != nil || r != NotImplemented {
					return r, err
				}
			}
		}
	}
	switch op {
	case "==":
		ok, err := in.Equal(a, b)
		return boolValue(ok), err
	case "!=":
		ok, err := in.Equal(a, b)
		return boolValue(!ok), err
	case "<":
		ok, err := in.less(a, b, "<")
		return boolValue(ok), err
	case ">":
		ok, err := in.less(b, a, ">")
		return boolValue(ok), err
	case "<=":
		ok, err := in.lessEq(a, b, "<=")
		return boolValue(ok), err
	case ">=":
		ok, err := in.lessEq(b, a, ">=")
		return boolValue(ok), err
	}
	return nil, newError(TypeError, "unsupported comparison %s", op)
}

// Is reports object identity.
func Is(a, b Value) bool {
	ia, ib := Identity(a), Identity(b)
	if ia != 0 || ib != 0 {
		return ia == ib
	}
	if a.TypeName() != b.TypeName() {
		return false
	}
	return a == b
}

// Equal compares two values for equality.
func (in *Interp) Equal(a, b Value) (bool, error) {
	if IsNumber(a) && IsNumber(b) {
		return numCompare(a, b) == 0, nil
	}
	switch x := a.(type) {
	case NoneType, EllipsisType:
		return a == b, nil
	case Str:
		y, ok := b.(Str)
		return ok && x == y, nil
	case *List:
		y, ok := b.(*List)
		if !ok {
			return false, nil
		}
		return in.seqEqual(x.Items, y.Items)
	case *Tuple:
		y, ok := b.(*Tuple)
		if !ok {
			return false, nil
		}
		return in.seqEqual(x.Items, y.Items)
	case *Deque:
		y, ok := b.(*Deque)
		if !ok {
			return false, nil
		}
		return in.seqEqual(x.Items, y.Items)
	case *Range:
		y, ok := b.(*Range)
		if !ok {
			return false, nil
		}
		return x.Len() == y.Len() && (x.Len() == 0 || (x.Start == y.Start && (x.Len() == 1 || x.Step == y.Step))), nil
	case *Dict:
		y, ok := b.(*Dict)
		if !ok || x.Len() != y.Len() {
			return false, nil
		}
		for _, kv := range x.Items() {
			v, found, err := y.Get(kv[0])
			if err != nil || !found {
				return false, err
			}
			eq, err := in.Equal(kv[1], v)
			if err != nil || !eq {
				return false, err
			}
		}
		return true, nil
	case *Set:
		y, ok := b.(*Set)
		if !ok || x.Len() != y.Len() {
			return false, nil
		}
		for _, v := range x.items {
			found, err := y.Contains(v)
			if err != nil || !found {
				return false, err
			}
		}
		return true, nil
	case *Instance:
		if m, ok := x.Class.Lookup("__eq__"); ok {
			r, err := in.callMethod(x, m, []Value{b}, nil)
			if err != nil {
				return false, err
			}
			if r != NotImplemented {
				return in.Truthy(r)
			}
		}
	case *BoundMethod:
		y, ok := b.(*BoundMethod)
		return ok && Is(x.Self, y.Self) && Is(x.Fn, y.Fn), nil
	}
	if eq, ok := a.(interface{ Equal(Value) bool }); ok {
		return eq.Equal(b), nil
	}
	return Is(a, b), nil
}

func (in *Interp) seqEqual(a, b []Value) (bool, error) {
	if len(a) != len(b) {
		return false, nil
	}
	for i := range a {
		if Is(a[i], b[i]) {
			continue
		}
		eq, err := in.Equal(a[i], b[i])
		if err != nil || !eq {
			return false, err
		}
	}
	return true, nil
}

func numCompare(a, b Value) int {
	x, xi := toInt64(a)
	y, yi := toInt64(b)
	if xi && yi {
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	}
	_, af := a.(Float)
	_, bf := b.(Float)
	if !af && !bf {
		return bigOf(a).Cmp(bigOf(b))
	}
	fx, _ := toFloat(a)
	fy, _ := toFloat(b)
	switch {
	case fx < fy:
		return -1
	case fx > fy:
		return 1
	case fx == fy:
		return 0
	}
	return 2
}

func (in *Interp) less(a, b Value, op string) (bool, error) {
	if IsNumber(a) && IsNumber(b) {
		return numCompare(a, b) == -1, nil
	}
	switch x := a.(type) {
	case Str:
		if y, ok := b.(Str); ok {
			return x < y, nil
		}
	case *List:
		if y, ok := b.(*List); ok {
			return in.seqLess(x.Items, y.Items, false)
		}
	case *Tuple:
		if y, ok := b.(*Tuple); ok {
			return in.seqLess(x.Items, y.Items, false)
		}
	case *Set:
		if y, ok := b.(*Set); ok {
			sub, err := isSubset(x, y)
			return sub && x.Len() < y.Len(), err
		}
	case *Instance:
		if m, ok := x.Class.Lookup("__lt__"); ok {
			r, err := in.callMethod(x, m, []Value{b}, nil)
			if err != nil {
				return false, err
			}
			if r != NotImplemented {
				return in.Truthy(r)
			}
		}
	}
	if y, ok := b.(*Instance); ok {
		if m, ok := y.Class.Lookup("__gt__"); ok {
			r, err := in.callMethod(y, m, []Value{a}, nil)
			if err != nil {
				return false, err
			}
			if r != NotImplemented {
				return in.Truthy(r)
			}
		}
	}
	l, r := a, b
	if op == ">" || op == ">=" {
		l, r = b, a
	}
	return false, newError(TypeError, "'%s' not supported between instances of '%s' and '%s'", op, l.TypeName(), r.TypeName())
}

func (in *Interp) lessEq(a, b Value, op string) (bool, error) {
	if IsNumber(a) && IsNumber(b) {
		c := numCompare(a, b)
		return c == -1 || c == 0, nil
	}
	switch x := a.(type) {
	case *List:
		if y, ok := b.(*List); ok {
			return in.seqLess(x.Items, y.Items, true)
		}
	case *Tuple:
		if y, ok := b.(*Tuple); ok {
			return in.seqLess(x.Items, y.Items, true)
		}
	case *Set:
		if y, ok := b.(*Set); ok {
			return isSubset(x, y)
		}
	case *Instance:
		if m, ok := x.Class.Lookup("__le__"); ok {
			r, err := in.callMethod(x, m, []Value{b}, nil)
			if err != nil {
				return false, err
			}
			if r != NotImplemented {
				return in.Truthy(r)
			}
		}
	}
	if _, ok := a.(*Instance); !ok {
		if _, ok := b.(*Instance); !ok {
			lt, err := in.less(a, b, op)
			if err != nil || lt {
				return lt, err
			}
			return in.Equal(a, b)
		}
	}
	lt, err := in.less(a, b, op)
	if err != nil || lt {
		return lt, err
	}
	return in.Equal(a, b)
}

func (in *Interp) seqLess(a, b []Value, orEqual bool) (bool, error) {
	for i := 0; i < len(a) && i < len(b); i++ {
		eq, err := in.Equal(a[i], b[i])
		if err != nil {
			return false, err
		}
		if !eq {
			return in.less(a[i], b[i], "<")
		}
	}
	if orEqual {
		return len(a) <= len(b), nil
	}
	return len(a) < len(b), nil
}

// Less orders two values the way sorted() does.
func (in *Interp) Less(a, b Value) (bool, error) {
	r, err := in.compareOp("<", a, b)
	if err != nil {
		return false, err
	}
	return in.Truthy(r)
}

func (in *Interp) contains(container, item Value) (bool, error) {
	switch x := container.(type) {
	case Str:
		s, ok := item.(Str)
		if !ok {
			return false, newError(TypeError, "'in <string>' requires string as left operand, not %s", item.TypeName())
		}
		return strings.Contains(string(x), string(s)), nil
	case *List:
		return in.seqContains(x.Items, item)
	case *Tuple:
		return in.seqContains(x.Items, item)
	case *Deque:
		return in.seqContains(x.Items, item)
	case *Dict:
		_, ok, err := x.Get(item)
		return ok, err
	case *Set:
		return x.Contains(item)
	case *Range:
		n, ok := toInt64(item)
		if !ok {
			if f, ok := item.(Float); ok && float64(f) == math.Trunc(float64(f)) {
				n = int64(f)
			} else {
				return false, nil
			}
		}
		if x.Step > 0 {
			return n >= x.Start && n < x.Stop && (n-x.Start)%x.Step == 0, nil
		}
		return n <= x.Start && n > x.Stop && (x.Start-n)%(-x.Step) == 0, nil
	case Container:
		return x.Contains(in, item)
	case *Instance:
		if m, ok := x.Class.Lookup("__contains__"); ok {
			r, err := in.callMethod(x, m, []Value{item}, nil)
			if err != nil {
				return false, err
			}
			return in.Truthy(r)
		}
	}
	it, err := in.iter(container)
	if err != nil {
		return false, newError(TypeError, "argument of type '%s' is not iterable", container.TypeName())
	}
	for {
		v, ok, err := it.Next(in)
		if err != nil || !ok {
			return false, err
		}
		eq, err := in.Equal(v, item)
		if err != nil || eq {
			return eq, err
		}
	}
}

// Contains implements the in operator.
func (in *Interp) Contains(container, item Value) (bool, error) { return in.contains(container, item) }

func (in *Interp) seqContains(items []Value, item Value) (bool, error) {
	for _, v := range items {
		if Is(v, item) {
			return true, nil
		}
		eq, err := in.Equal(v, item)
		if err != nil || eq {
			return eq, err
		}
	}
	return false, nil
}

func setOp(op string, x, y *Set) (Value, error) {
	out := NewSet()
	out.Frozen = x.Frozen
	switch op {
	case "&":
		for _, v := range x.items {
			if ok, _ := y.Contains(v); ok {
				_ = out.Add(v)
			}
		}
	case "|":
		for _, v := range x.items {
			_ = out.Add(v)
		}
		for _, v := range y.items {
			_ = out.Add(v)
		}
	case "^":
		for _, v := range x.items {
			if ok, _ := y.Contains(v); !ok {
				_ = out.Add(v)
			}
		}
		for _, v := range y.items {
			if ok, _ := x.Contains(v); !ok {
				_ = out.Add(v)
			}
		}
	}
	return out, nil
}

func setDifference(x, y *Set) *Set {
	out := NewSet()
	out.Frozen = x.Frozen
	for _, v := range x.items {
		if ok, _ := y.Contains(v); !ok {
			_ = out.Add(v)
		}
	}
	return out
}

func isSubset(x, y *Set) (bool, error) {
	for _, v := range x.items {
		ok, err := y.Contains(v)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (in *Interp) counterCombine(x, y *Dict, sign int64) (Value, error) {
	out := &Dict{index: make(map[any]int), Kind: DictCounter}
	keys := x.Keys()
	for _, k := range y.Keys() {
		if _, ok, _ := x.Get(k); !ok {
			keys = append(keys, k)
		}
	}
	for _, k := range keys {
		a, _, _ := x.Get(k)
		b, _, _ := y.Get(k)
		if a == nil {
			a = Int(0)
		}
		if b == nil {
			b = Int(0)
		}
		if sign < 0 {
			b, _ = in.unaryOp("-", b)
		}
		s, err := in.binaryOp("+", a, b)
		if err != nil {
			return nil, err
		}
		if numCompare(s, Int(0)) > 0 {
			if err := out.Set(k, s); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}
