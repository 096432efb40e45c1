package script

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// re

const (
	reIgnoreCase = 2
	reMultiline  = 8
	reDotAll     = 16
)

var reError = excClass("error", ExceptionClass)

// pattern is a compiled regular expression. Patterns use RE2 syntax, so
// backreferences and lookaround are rejected at compile time.
type pattern struct {
	src   string
	flags int64
	re    *regexp.Regexp
	full  *regexp.Regexp
}

func (*pattern) TypeName() string { return "re.Pattern" }

func (p *pattern) Repr(in *Interp) (string, error) {
	return fmt.Sprintf("re.compile(%s)", quoteStr(p.src)), nil
}

type reMatch struct {
	p   *pattern
	s   string
	loc []int
}

func (*reMatch) TypeName() string { return "re.Match" }

func compilePattern(src string, flags int64) (*pattern, error) {
	prefix := ""
	if flags&reIgnoreCase != 0 {
		prefix += "i"
	}
	if flags&reMultiline != 0 {
		prefix += "m"
	}
	if flags&reDotAll != 0 {
		prefix += "s"
	}
	expr := src
	if prefix != "" {
		expr = "(?" + prefix + ")" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, NewException(reError, err.Error())
	}
	full, err := regexp.Compile(`\A(?:` + expr + `)\z`)
	if err != nil {
		return nil, NewException(reError, err.Error())
	}
	return &pattern{src: src, flags: flags, re: re, full: full}, nil
}

func (in *Interp) patternOf(v Value, flags Value) (*pattern, error) {
	if p, ok := v.(*pattern); ok {
		return p, nil
	}
	src, err := strArg("compile", v)
	if err != nil {
		return nil, err
	}
	var f int64
	if flags != nil {
		f, _ = toInt64(flags)
	}
	type cacheKey struct {
		src   string
		flags int64
	}
	cache := in.Local(cacheKey{}, func() any { return map[cacheKey]*pattern{} }).(map[cacheKey]*pattern)
	if p, ok := cache[cacheKey{src, f}]; ok {
		return p, nil
	}
	p, err := compilePattern(src, f)
	if err != nil {
		return nil, err
	}
	cache[cacheKey{src, f}] = p
	return p, nil
}

// runeOffset converts a byte offset in s to a code point offset.
func runeOffset(s string, b int) int {
	if b < 0 {
		return -1
	}
	return utf8.RuneCountInString(s[:b])
}

func (p *pattern) search(s string, pos int) *reMatch {
	loc := p.re.FindStringSubmatchIndex(s[pos:])
	if loc == nil {
		return nil
	}
	for i := range loc {
		if loc[i] >= 0 {
			loc[i] += pos
		}
	}
	return &reMatch{p: p, s: s, loc: loc}
}

func (p *pattern) all(s string) []*reMatch {
	var out []*reMatch
	for _, loc := range p.re.FindAllStringSubmatchIndex(s, -1) {
		out = append(out, &reMatch{p: p, s: s, loc: loc})
	}
	return out
}

func (m *reMatch) groupIndex(in *Interp, key Value) (int, error) {
	if name, ok := key.(Str); ok {
		i := m.p.re.SubexpIndex(string(name))
		if i < 0 {
			return 0, newError(IndexError, "no such group")
		}
		return i, nil
	}
	n, ok := toInt64(key)
	if !ok || n < 0 || int(n) > m.p.re.NumSubexp() {
		return 0, newError(IndexError, "no such group")
	}
	return int(n), nil
}

func (m *reMatch) group(i int) Value {
	if m.loc[2*i] < 0 {
		return None
	}
	return Str(m.s[m.loc[2*i]:m.loc[2*i+1]])
}

func (m *reMatch) GetItem(in *Interp, key Value) (Value, error) {
	i, err := m.groupIndex(in, key)
	if err != nil {
		return nil, err
	}
	return m.group(i), nil
}

func (m *reMatch) Repr(in *Interp) (string, error) {
	r, err := in.Repr(m.group(0))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("<re.Match object; span=(%d, %d), match=%s>", runeOffset(m.s, m.loc[0]), runeOffset(m.s, m.loc[1]), r), nil
}

func (m *reMatch) GetAttr(in *Interp, name string) (Value, error) {
	switch name {
	case "string":
		return Str(m.s), nil
	case "re":
		return m.p, nil
	case "pos":
		return Int(0), nil
	case "lastindex":
		for i := m.p.re.NumSubexp(); i > 0; i-- {
			if m.loc[2*i] >= 0 {
				return Int(i), nil
			}
		}
		return None, nil
	case "group":
		return NewBuiltin(name, func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
			if len(args) == 0 {
				return m.group(0), nil
			}
			out := make([]Value, len(args))
			for j, a := range args {
				i, err := m.groupIndex(in, a)
				if err != nil {
					return nil, err
				}
				out[j] = m.group(i)
			}
			if len(out) == 1 {
				return out[0], nil
			}
			return NewTuple(out...), nil
		}), nil
	case "groups":
		return NewBuiltin(name, func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
			a, err := unpackArgs("groups", args, kw, "default?")
			if err != nil {
				return nil, err
			}
			out := make([]Value, m.p.re.NumSubexp())
			for i := range out {
				out[i] = m.group(i + 1)
				if out[i] == None && a[0] != nil {
					out[i] = a[0]
				}
			}
			return NewTuple(out...), nil
		}), nil
	case "groupdict":
		return NewBuiltin(name, func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
			a, err := unpackArgs("groupdict", args, kw, "default?")
			if err != nil {
				return nil, err
			}
			d := NewDict()
			for i, n := range m.p.re.SubexpNames() {
				if n == "" {
					continue
				}
				v := m.group(i)
				if v == None && a[0] != nil {
					v = a[0]
				}
				d.SetStr(n, v)
			}
			return d, nil
		}), nil
	case "start", "end", "span":
		return NewBuiltin(name, func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
			a, err := unpackArgs(name, args, kw, "group?")
			if err != nil {
				return nil, err
			}
			i := 0
			if a[0] != nil {
				if i, err = m.groupIndex(in, a[0]); err != nil {
					return nil, err
				}
			}
			start, end := runeOffset(m.s, m.loc[2*i]), runeOffset(m.s, m.loc[2*i+1])
			switch name {
			case "start":
				return Int(start), nil
			case "end":
				return Int(end), nil
			}
			return NewTuple(Int(start), Int(end)), nil
		}), nil
	case "expand":
		return NewBuiltin(name, func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
			a, err := unpackArgs("expand", args, kw, "template")
			if err != nil {
				return nil, err
			}
			tmpl, err := strArg("expand", a[0])
			if err != nil {
				return nil, err
			}
			s, err := m.expand(tmpl)
			return Str(s), err
		}), nil
	}
	return nil, newError(AttributeError, "'re.Match' object has no attribute '%s'", name)
}

// expand substitutes \1, \g<1> and \g<name> group references in tmpl.
func (m *reMatch) expand(tmpl string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		if c != '\\' || i+1 == len(tmpl) {
			b.WriteByte(c)
			continue
		}
		i++
		c = tmpl[i]
		switch {
		case c >= '0' && c <= '9':
			j := i
			for j < len(tmpl) && j-i < 2 && tmpl[j] >= '0' && tmpl[j] <= '9' {
				j++
			}
			n, _ := strconv.Atoi(tmpl[i:j])
			if n > m.p.re.NumSubexp() {
				return "", newError(reError, "invalid group reference %d", n)
			}
			if g, ok := m.group(n).(Str); ok {
				b.WriteString(string(g))
			}
			i = j - 1
		case c == 'g':
			end := strings.IndexByte(tmpl[i:], '>')
			if i+1 >= len(tmpl) || tmpl[i+1] != '<' || end < 0 {
				return "", newError(reError, "missing <")
			}
			ref := tmpl[i+2 : i+end]
			var idx int
			if n, err := strconv.Atoi(ref); err == nil {
				idx = n
			} else {
				idx = m.p.re.SubexpIndex(ref)
			}
			if idx < 0 || idx > m.p.re.NumSubexp() {
				return "", newError(IndexError, "unknown group name '%s'", ref)
			}
			if g, ok := m.group(idx).(Str); ok {
				b.WriteString(string(g))
			}
			i += end
		case c == 'n':
			b.WriteByte('\n')
		case c == 't':
			b.WriteByte('\t')
		case c == 'r':
			b.WriteByte('\r')
		case c == '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte('\\')
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}

func (in *Interp) reSub(p *pattern, repl Value, s string, count int64) (string, int, error) {
	var b strings.Builder
	last, n := 0, 0
	for _, m := range p.all(s) {
		if count > 0 && int64(n) >= count {
			break
		}
		b.WriteString(s[last:m.loc[0]])
		var rep string
		if t, ok := repl.(Str); ok {
			r, err := m.expand(string(t))
			if err != nil {
				return "", 0, err
			}
			rep = r
		} else {
			r, err := in.call(repl, []Value{m}, nil)
			if err != nil {
				return "", 0, err
			}
			if rep, err = strArg("sub", r); err != nil {
				return "", 0, err
			}
		}
		b.WriteString(rep)
		last = m.loc[1]
		n++
	}
	b.WriteString(s[last:])
	return b.String(), n, nil
}

func (in *Interp) reSplit(p *pattern, s string, maxsplit int64) Value {
	var out []Value
	last := 0
	for i, m := range p.all(s) {
		if maxsplit > 0 && int64(i) >= maxsplit {
			break
		}
		out = append(out, Str(s[last:m.loc[0]]))
		for g := 1; g <= p.re.NumSubexp(); g++ {
			out = append(out, m.group(g))
		}
		last = m.loc[1]
	}
	return NewList(append(out, Str(s[last:])))
}

func (in *Interp) reFindall(p *pattern, s string) Value {
	var out []Value
	for _, m := range p.all(s) {
		switch p.re.NumSubexp() {
		case 0:
			out = append(out, m.group(0))
		case 1:
			out = append(out, orEmpty(m.group(1)))
		default:
			groups := make([]Value, p.re.NumSubexp())
			for i := range groups {
				groups[i] = orEmpty(m.group(i + 1))
			}
			out = append(out, NewTuple(groups...))
		}
	}
	return NewList(out)
}

func orEmpty(v Value) Value {
	if v == None {
		return Str("")
	}
	return v
}

func matchOrNone(m *reMatch) Value {
	if m == nil {
		return None
	}
	return m
}

// reOp is a regex operation shared by the module functions and the
// methods of a compiled pattern.
type reOp struct {
	params []string
	run    func(in *Interp, p *pattern, s string, rest []Value) (Value, error)
}

var reOps map[string]reOp

func init() {
	firstMatch := func(p *pattern, s string, anchored bool) *reMatch {
		m := p.search(s, 0)
		if m == nil || (anchored && m.loc[0] != 0) {
			return nil
		}
		return m
	}
	reOps = map[string]reOp{
		"search": {nil, func(in *Interp, p *pattern, s string, _ []Value) (Value, error) {
			return matchOrNone(firstMatch(p, s, false)), nil
		}},
		"match": {nil, func(in *Interp, p *pattern, s string, _ []Value) (Value, error) {
			return matchOrNone(firstMatch(p, s, true)), nil
		}},
		"fullmatch": {nil, func(in *Interp, p *pattern, s string, _ []Value) (Value, error) {
			loc := p.full.FindStringSubmatchIndex(s)
			if loc == nil {
				return None, nil
			}
			return &reMatch{p: p, s: s, loc: loc}, nil
		}},
		"findall": {nil, func(in *Interp, p *pattern, s string, _ []Value) (Value, error) {
			return in.reFindall(p, s), nil
		}},
		"finditer": {nil, func(in *Interp, p *pattern, s string, _ []Value) (Value, error) {
			ms := p.all(s)
			items := make([]Value, len(ms))
			for i, m := range ms {
				items[i] = m
			}
			return &seqIter{name: "callable_iterator", items: items}, nil
		}},
		"split": {[]string{"maxsplit?"}, func(in *Interp, p *pattern, s string, rest []Value) (Value, error) {
			var n int64
			if rest[0] != nil {
				n, _ = toInt64(rest[0])
			}
			return in.reSplit(p, s, n), nil
		}},
		"sub": {[]string{"count?"}, func(in *Interp, p *pattern, s string, rest []Value) (Value, error) {
			var n int64
			if rest[1] != nil {
				n, _ = toInt64(rest[1])
			}
			out, _, err := in.reSub(p, rest[0], s, n)
			return Str(out), err
		}},
		"subn": {[]string{"count?"}, func(in *Interp, p *pattern, s string, rest []Value) (Value, error) {
			var n int64
			if rest[1] != nil {
				n, _ = toInt64(rest[1])
			}
			out, count, err := in.reSub(p, rest[0], s, n)
			if err != nil {
				return nil, err
			}
			return NewTuple(Str(out), Int(count)), nil
		}},
	}
}

// reCall unpacks arguments for op. For sub and subn the replacement
// precedes the string, so it is carried as rest[0].
func (in *Interp) reCall(name string, p *pattern, withPattern bool, args []Value, kw []Kwarg) (Value, error) {
	op := reOps[name]
	names := []string{}
	if withPattern {
		names = append(names, "pattern")
	}
	isSub := name == "sub" || name == "subn"
	if isSub {
		names = append(names, "repl")
	}
	names = append(names, "string")
	names = append(names, op.params...)
	if withPattern {
		names = append(names, "flags?")
	}
	a, err := unpackArgs(name, args, kw, names...)
	if err != nil {
		return nil, err
	}
	if withPattern {
		if p, err = in.patternOf(a[0], a[len(a)-1]); err != nil {
			return nil, err
		}
		a = a[1 : len(a)-1]
	}
	var rest []Value
	if isSub {
		rest = append(rest, a[0])
		a = a[1:]
	}
	s, err := strArg(name, a[0])
	if err != nil {
		return nil, err
	}
	rest = append(rest, a[1:]...)
	return op.run(in, p, s, rest)
}

func (p *pattern) GetAttr(in *Interp, name string) (Value, error) {
	switch name {
	case "pattern":
		return Str(p.src), nil
	case "flags":
		return Int(p.flags), nil
	case "groups":
		return Int(p.re.NumSubexp()), nil
	case "groupindex":
		d := NewDict()
		for i, n := range p.re.SubexpNames() {
			if n != "" {
				d.SetStr(n, Int(i))
			}
		}
		return d, nil
	}
	if _, ok := reOps[name]; ok {
		return NewBuiltin(name, func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
			return in.reCall(name, p, false, args, kw)
		}), nil
	}
	return nil, newError(AttributeError, "'re.Pattern' object has no attribute '%s'", name)
}

func reModule(in *Interp) *Module {
	m := NewModule("re")
	for _, f := range []struct {
		names []string
		v     int64
	}{
		{[]string{"I", "IGNORECASE"}, reIgnoreCase},
		{[]string{"M", "MULTILINE"}, reMultiline},
		{[]string{"S", "DOTALL"}, reDotAll},
	} {
		for _, n := range f.names {
			m.Set(n, Int(f.v))
		}
	}
	m.Set("error", reError)
	for name := range reOps {
		m.Func(name, func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
			return in.reCall(name, nil, true, args, kw)
		})
	}
	m.Func("compile", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("compile", args, kw, "pattern", "flags?")
		if err != nil {
			return nil, err
		}
		return in.patternOf(a[0], a[1])
	})
	m.Func("escape", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("escape", args, kw, "pattern")
		if err != nil {
			return nil, err
		}
		s, err := strArg("escape", a[0])
		if err != nil {
			return nil, err
		}
		var b strings.Builder
		for _, r := range s {
			if r < utf8.RuneSelf && !isWordByte(byte(r)) {
				b.WriteByte('\\')
			}
			b.WriteRune(r)
		}
		return Str(b.String()), nil
	})
	m.Func("purge", func(in *Interp, _ []Value, _ []Kwarg) (Value, error) { return None, nil })
	return m
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// json

type jsonOptions struct {
	indent    string
	hasIndent bool
	itemSep   string
	keySep    string
	sortKeys  bool
	ascii     bool
	fallback  Value
}

func (in *Interp) jsonOptions(fname string, kw []Kwarg) (jsonOptions, error) {
	o := jsonOptions{itemSep: ", ", keySep: ": ", ascii: true}
	for _, k := range kw {
		switch k.Name {
		case "indent":
			switch v := k.Value.(type) {
			case NoneType:
			case Str:
				o.indent, o.hasIndent = string(v), true
			default:
				n, ok := toInt64(v)
				if !ok {
					return o, newError(TypeError, "indent must be an int or str")
				}
				o.indent, o.hasIndent = strings.Repeat(" ", int(max(n, 0))), true
			}
			if o.hasIndent {
				o.itemSep = ","
			}
		case "separators":
			if k.Value == None {
				continue
			}
			parts, err := in.iterate(k.Value)
			if err != nil || len(parts) != 2 {
				return o, newError(ValueError, "separators must be a (item_separator, key_separator) tuple")
			}
			item, ok1 := parts[0].(Str)
			key, ok2 := parts[1].(Str)
			if !ok1 || !ok2 {
				return o, newError(TypeError, "separators must be strings")
			}
			o.itemSep, o.keySep = string(item), string(key)
		case "sort_keys":
			t, err := in.Truthy(k.Value)
			if err != nil {
				return o, err
			}
			o.sortKeys = t
		case "ensure_ascii":
			t, err := in.Truthy(k.Value)
			if err != nil {
				return o, err
			}
			o.ascii = t
		case "default":
			o.fallback = k.Value
		case "skipkeys", "allow_nan", "check_circular", "cls":
		default:
			return o, newError(TypeError, "%s() got an unexpected keyword argument '%s'", fname, k.Name)
		}
	}
	return o, nil
}

func jsonQuote(s string, ascii bool) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		default:
			switch {
			case r < 0x20:
				fmt.Fprintf(&b, `\u%04x`, r)
			case ascii && r > 0x7e && r <= 0xffff:
				fmt.Fprintf(&b, `\u%04x`, r)
			case ascii && r > 0xffff:
				r -= 0x10000
				fmt.Fprintf(&b, `\u%04x\u%04x`, 0xd800+(r>>10), 0xdc00+(r&0x3ff))
			default:
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}

func (in *Interp) jsonKey(k Value) (string, bool, error) {
	switch x := k.(type) {
	case Str:
		return string(x), true, nil
	case Bool:
		if x {
			return "true", true, nil
		}
		return "false", true, nil
	case NoneType:
		return "null", true, nil
	case Int, BigInt, Float:
		s, err := in.Repr(x)
		return s, true, err
	}
	return "", false, newError(TypeError, "keys must be str, int, float, bool or None, not %s", k.TypeName())
}

func (in *Interp) jsonEncode(b *strings.Builder, v Value, o *jsonOptions, depth int, seen map[uint64]bool) error {
	newline := func(d int) {
		if o.hasIndent {
			b.WriteByte('\n')
			b.WriteString(strings.Repeat(o.indent, d))
		}
	}
	container := func(id uint64, open, close byte, n int, each func(i int) error) error {
		if seen[id] {
			return newError(ValueError, "Circular reference detected")
		}
		seen[id] = true
		defer delete(seen, id)
		b.WriteByte(open)
		if n == 0 {
			b.WriteByte(close)
			return nil
		}
		for i := range n {
			if i > 0 {
				b.WriteString(o.itemSep)
			}
			newline(depth + 1)
			if err := each(i); err != nil {
				return err
			}
		}
		newline(depth)
		b.WriteByte(close)
		return nil
	}
	switch x := v.(type) {
	case NoneType:
		b.WriteString("null")
	case Bool:
		if x {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case Int, BigInt:
		s, err := in.Repr(x)
		if err != nil {
			return err
		}
		b.WriteString(s)
	case Float:
		f := float64(x)
		switch {
		case math.IsNaN(f):
			b.WriteString("NaN")
		case math.IsInf(f, 1):
			b.WriteString("Infinity")
		case math.IsInf(f, -1):
			b.WriteString("-Infinity")
		default:
			s, err := in.Repr(x)
			if err != nil {
				return err
			}
			b.WriteString(s)
		}
	case Str:
		b.WriteString(jsonQuote(string(x), o.ascii))
	case *List:
		return container(Identity(x), '[', ']', len(x.Items), func(i int) error {
			return in.jsonEncode(b, x.Items[i], o, depth+1, seen)
		})
	case *Tuple:
		return container(Identity(x), '[', ']', len(x.Items), func(i int) error {
			return in.jsonEncode(b, x.Items[i], o, depth+1, seen)
		})
	case *Dict:
		items := x.Items()
		keys := make([]string, len(items))
		kept := items[:0:0]
		for _, kv := range items {
			k, ok, err := in.jsonKey(kv[0])
			if err != nil {
				return err
			}
			if ok {
				keys[len(kept)] = k
				kept = append(kept, kv)
			}
		}
		keys = keys[:len(kept)]
		order := make([]int, len(kept))
		for i := range order {
			order[i] = i
		}
		if o.sortKeys {
			sort.SliceStable(order, func(i, j int) bool { return keys[order[i]] < keys[order[j]] })
		}
		return container(Identity(x), '{', '}', len(kept), func(i int) error {
			j := order[i]
			b.WriteString(jsonQuote(keys[j], o.ascii))
			b.WriteString(o.keySep)
			return in.jsonEncode(b, kept[j][1], o, depth+1, seen)
		})
	default:
		if o.fallback != nil && o.fallback != None {
			r, err := in.call(o.fallback, []Value{v}, nil)
			if err != nil {
				return err
			}
			return in.jsonEncode(b, r, o, depth, seen)
		}
		return newError(TypeError, "Object of type %s is not JSON serializable", v.TypeName())
	}
	return nil
}

func jsonDecode(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '[':
			var items []Value
			for dec.More() {
				v, err := jsonDecode(dec)
				if err != nil {
					return nil, err
				}
				items = append(items, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return NewList(items), nil
		case '{':
			d := NewDict()
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, err
				}
				v, err := jsonDecode(dec)
				if err != nil {
					return nil, err
				}
				d.SetStr(kt.(string), v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return d, nil
		}
	case bool:
		return boolValue(t), nil
	case nil:
		return None, nil
	case string:
		return Str(t), nil
	case json.Number:
		if n, ok := new(big.Int).SetString(string(t), 10); ok {
			return NewBig(n), nil
		}
		f, err := strconv.ParseFloat(string(t), 64)
		if err != nil {
			return nil, err
		}
		return Float(f), nil
	}
	return nil, fmt.Errorf("unexpected token %v", tok)
}

func jsonModule(in *Interp) *Module {
	m := NewModule("json")
	decodeError := excClass("JSONDecodeError", ValueError)
	m.Set("JSONDecodeError", decodeError)
	m.Func("dumps", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		if len(args) != 1 {
			return nil, newError(TypeError, "dumps() takes 1 positional argument but %d were given", len(args))
		}
		o, err := in.jsonOptions("dumps", kw)
		if err != nil {
			return nil, err
		}
		var b strings.Builder
		if err := in.jsonEncode(&b, args[0], &o, 0, map[uint64]bool{}); err != nil {
			return nil, err
		}
		return Str(b.String()), nil
	})
	m.Func("loads", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("loads", args, kw, "s")
		if err != nil {
			return nil, err
		}
		s, err := strArg("loads", a[0])
		if err != nil {
			return nil, err
		}
		dec := json.NewDecoder(bytes.NewReader([]byte(s)))
		dec.UseNumber()
		v, err := jsonDecode(dec)
		if err == nil {
			if _, err = dec.Token(); errors.Is(err, io.EOF) {
				return v, nil
			}
			if err == nil {
				err = errors.New("Extra data")
			}
		}
		if errors.Is(err, io.EOF) {
			err = errors.New("Expecting value")
		}
		return nil, NewException(decodeError, err.Error())
	})
	return m
}

// DecodeJSON converts a JSON document into program values, keeping object
// key order.
func DecodeJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := jsonDecode(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("extra data after JSON value")
	}
	return v, nil
}
