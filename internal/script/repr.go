package script

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// Repr renders v the way repr() would.
func (in *Interp) Repr(v Value) (string, error) {
	var b strings.Builder
	if err := in.writeRepr(&b, v); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Str renders v the way str() would.
func (in *Interp) Str(v Value) (string, error) {
	switch x := v.(type) {
	case Str:
		return string(x), nil
	case *Instance:
		if x.Class.IsSubclass(BaseExceptionClass) {
			if m, ok := x.Class.Lookup("__str__"); ok {
				return in.callStr(x, m)
			}
			return exceptionFromInstance(x).Message(), nil
		}
		if m, ok := x.Class.Lookup("__str__"); ok {
			return in.callStr(x, m)
		}
	case interface{ Str(*Interp) (string, error) }:
		return x.Str(in)
	}
	return in.Repr(v)
}

func (in *Interp) callStr(x *Instance, m Value) (string, error) {
	r, err := in.callMethod(x, m, nil, nil)
	if err != nil {
		return "", err
	}
	s, ok := r.(Str)
	if !ok {
		return "", newError(TypeError, "__str__ returned non-string (type %s)", r.TypeName())
	}
	return string(s), nil
}

// plainRepr renders values without running user code. The zero
// interpreter refuses to enter any frame, so user defined __repr__
// methods fall back to the generic form.
func plainRepr(v Value) string {
	in := &Interp{}
	s, err := in.Repr(v)
	if err != nil {
		return fmt.Sprintf("<%s object>", v.TypeName())
	}
	return s
}

func (in *Interp) enterRepr(v Value) bool {
	id := Identity(v)
	if id == 0 {
		return true
	}
	if in.reprs == nil {
		in.reprs = make(map[uint64]bool)
	}
	if in.reprs[id] {
		return false
	}
	in.reprs[id] = true
	return true
}

func (in *Interp) leaveRepr(v Value) {
	if id := Identity(v); id != 0 {
		delete(in.reprs, id)
	}
}

func (in *Interp) writeRepr(b *strings.Builder, v Value) error {
	switch x := v.(type) {
	case nil:
		b.WriteString("None")
	case NoneType:
		b.WriteString("None")
	case Bool:
		if x {
			b.WriteString("True")
		} else {
			b.WriteString("False")
		}
	case Int:
		b.WriteString(strconv.FormatInt(int64(x), 10))
	case BigInt:
		b.WriteString(x.v.String())
	case Float:
		b.WriteString(FormatFloat(float64(x)))
	case Str:
		b.WriteString(quoteStr(string(x)))
	case EllipsisType:
		b.WriteString("Ellipsis")
	case *List:
		return in.writeSeq(b, x, "[", "]", x.Items, false)
	case *Tuple:
		return in.writeSeq(b, x, "(", ")", x.Items, len(x.Items) == 1)
	case *Deque:
		if !in.enterRepr(x) {
			b.WriteString("[...]")
			return nil
		}
		defer in.leaveRepr(x)
		b.WriteString("deque(")
		if err := in.writeSeq(b, nil, "[", "]", x.Items, false); err != nil {
			return err
		}
		if x.MaxLen >= 0 {
			fmt.Fprintf(b, ", maxlen=%d", x.MaxLen)
		}
		b.WriteString(")")
	case *Set:
		if x.Len() == 0 {
			b.WriteString(x.TypeName() + "()")
			return nil
		}
		if x.Frozen {
			b.WriteString("frozenset(")
		}
		if err := in.writeSeq(b, x, "{", "}", x.items, false); err != nil {
			return err
		}
		if x.Frozen {
			b.WriteString(")")
		}
	case *Dict:
		return in.writeDict(b, x)
	case *Range:
		if x.Step == 1 {
			fmt.Fprintf(b, "range(%d, %d)", x.Start, x.Stop)
		} else {
			fmt.Fprintf(b, "range(%d, %d, %d)", x.Start, x.Stop, x.Step)
		}
	case *Slice:
		b.WriteString("slice(")
		for i, p := range []Value{x.Start, x.Stop, x.Step} {
			if i > 0 {
				b.WriteString(", ")
			}
			if err := in.writeRepr(b, p); err != nil {
				return err
			}
		}
		b.WriteString(")")
	case *Function:
		fmt.Fprintf(b, "<function %s at 0x%x>", x.Code.Name, in.ObjectID(x))
	case *Builtin:
		fmt.Fprintf(b, "<built-in function %s>", x.Name)
	case *BoundMethod:
		name := "?"
		switch fn := x.Fn.(type) {
		case *Function:
			name = fn.Code.Name
		case *Builtin:
			name = fn.Name
		}
		owner := x.Self.TypeName()
		if c, ok := x.Self.(*Class); ok {
			owner = c.Name
		}
		fmt.Fprintf(b, "<bound method %s.%s of ", owner, name)
		if err := in.writeRepr(b, x.Self); err != nil {
			return err
		}
		b.WriteString(">")
	case *Class:
		if x.builtin {
			fmt.Fprintf(b, "<class '%s'>", x.Name)
		} else {
			fmt.Fprintf(b, "<class '__main__.%s'>", x.Name)
		}
	case *Module:
		fmt.Fprintf(b, "<module '%s'>", x.Name)
	case *Generator:
		fmt.Fprintf(b, "<generator object %s at 0x%x>", x.name, in.ObjectID(x))
	case *Property:
		fmt.Fprintf(b, "<property object at 0x%x>", in.ObjectID(x))
	case *StaticMethod:
		fmt.Fprintf(b, "<staticmethod object at 0x%x>", in.ObjectID(x))
	case *ClassMethod:
		fmt.Fprintf(b, "<classmethod object at 0x%x>", in.ObjectID(x))
	case *Instance:
		return in.writeInstance(b, x)
	case Reprer:
		s, err := x.Repr(in)
		if err != nil {
			return err
		}
		b.WriteString(s)
	default:
		fmt.Fprintf(b, "<%s object at 0x%x>", v.TypeName(), in.ObjectID(v))
	}
	return nil
}

func (in *Interp) writeInstance(b *strings.Builder, x *Instance) error {
	if m, ok := x.Class.Lookup("__repr__"); ok {
		if !in.enterRepr(x) {
			b.WriteString("...")
			return nil
		}
		defer in.leaveRepr(x)
		r, err := in.callMethod(x, m, nil, nil)
		if err != nil {
			return err
		}
		s, ok := r.(Str)
		if !ok {
			return newError(TypeError, "__repr__ returned non-string (type %s)", r.TypeName())
		}
		b.WriteString(string(s))
		return nil
	}
	if x.Class.IsSubclass(BaseExceptionClass) {
		b.WriteString(x.Class.Name)
		args := exceptionFromInstance(x).Args()
		if len(args) == 1 {
			b.WriteString("(")
			if err := in.writeRepr(b, args[0]); err != nil {
				return err
			}
			b.WriteString(")")
			return nil
		}
		return in.writeSeq(b, nil, "(", ")", args, false)
	}
	fmt.Fprintf(b, "<__main__.%s object at 0x%x>", x.Class.Name, in.ObjectID(x))
	return nil
}

func (in *Interp) writeSeq(b *strings.Builder, self Value, open, close string, items []Value, trailingComma bool) error {
	if self != nil {
		if !in.enterRepr(self) {
			b.WriteString(open + "..." + close)
			return nil
		}
		defer in.leaveRepr(self)
	}
	b.WriteString(open)
	for i, it := range items {
		if i > 0 {
			b.WriteString(", ")
		}
		if err := in.writeRepr(b, it); err != nil {
			return err
		}
	}
	if trailingComma {
		b.WriteString(",")
	}
	b.WriteString(close)
	return nil
}

func (in *Interp) writeDict(b *strings.Builder, x *Dict) error {
	if !in.enterRepr(x) {
		b.WriteString("{...}")
		return nil
	}
	defer in.leaveRepr(x)
	switch x.Kind {
	case DictCounter:
		b.WriteString("Counter(")
		if x.Len() == 0 {
			b.WriteString(")")
			return nil
		}
	case DictDefault:
		b.WriteString("defaultdict(")
		if err := in.writeRepr(b, orNone(x.Factory)); err != nil {
			return err
		}
		b.WriteString(", ")
	case DictOrdered:
		b.WriteString("OrderedDict(")
		if x.Len() == 0 {
			b.WriteString(")")
			return nil
		}
	}
	b.WriteString("{")
	items := x.Items()
	if x.Kind == DictCounter {
		items = in.sortedCounterItems(x)
	}
	for i, kv := range items {
		if i > 0 {
			b.WriteString(", ")
		}
		if err := in.writeRepr(b, kv[0]); err != nil {
			return err
		}
		b.WriteString(": ")
		if err := in.writeRepr(b, kv[1]); err != nil {
			return err
		}
	}
	b.WriteString("}")
	if x.Kind != DictPlain {
		b.WriteString(")")
	}
	return nil
}

// FormatFloat renders f with the shortest representation that round
// trips, switching to exponent notation outside [1e-4, 1e16).
func FormatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}
	if f == 0 {
		if math.Signbit(f) {
			return "-0.0"
		}
		return "0.0"
	}
	e := strconv.FormatFloat(f, 'e', -1, 64)
	mant, expStr, _ := strings.Cut(e, "e")
	exp, _ := strconv.Atoi(expStr)
	if exp >= -4 && exp < 16 {
		s := strconv.FormatFloat(f, 'f', -1, 64)
		if !strings.ContainsAny(s, ".") {
			s += ".0"
		}
		return s
	}
	sign := "+"
	if exp < 0 {
		sign = "-"
		exp = -exp
	}
	return fmt.Sprintf("%se%s%02d", mant, sign, exp)
}

func quoteStr(s string) string {
	quote := byte('\'')
	if strings.ContainsRune(s, '\'') && !strings.ContainsRune(s, '"') {
		quote = '"'
	}
	var b strings.Builder
	b.WriteByte(quote)
	for _, r := range s {
		switch {
		case r == rune(quote) || r == '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case r < 0x20 || r == 0x7f:
			fmt.Fprintf(&b, `\x%02x`, r)
		case !unicode.IsPrint(r) && r > 0x7f:
			if r <= 0xff {
				fmt.Fprintf(&b, `\x%02x`, r)
			} else if r <= 0xffff {
				fmt.Fprintf(&b, `\u%04x`, r)
			} else {
				fmt.Fprintf(&b, `\U%08x`, r)
			}
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte(quote)
	return b.String()
}

func asciiEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r < 0x80:
			b.WriteRune(r)
		case r <= 0xff:
			fmt.Fprintf(&b, `\x%02x`, r)
		case r <= 0xffff:
			fmt.Fprintf(&b, `\u%04x`, r)
		default:
			fmt.Fprintf(&b, `\U%08x`, r)
		}
	}
	return b.String()
}

func trimLine(s string) string { return strings.TrimSpace(s) }
