package script

import (
	"math"
	"math/big"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

type methodFunc func(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error)

var (
	strMethods     map[string]methodFunc
	listMethods    map[string]methodFunc
	tupleMethods   map[string]methodFunc
	dictMethods    map[string]methodFunc
	counterMethods map[string]methodFunc
	orderedMethods map[string]methodFunc
	setMethods     map[string]methodFunc
	dequeMethods   map[string]methodFunc
	intMethods     map[string]methodFunc
	floatMethods   map[string]methodFunc
	rangeMethods   map[string]methodFunc
)

func init() {
	strMethods = map[string]methodFunc{
		"upper":        strMap(strings.ToUpper),
		"lower":        strMap(strings.ToLower),
		"casefold":     strMap(strings.ToLower),
		"swapcase":     strMap(swapCase),
		"capitalize":   strMap(capitalize),
		"title":        strMap(title),
		"strip":        strStrip(strings.Trim, strings.TrimSpace),
		"lstrip":       strStrip(strings.TrimLeft, func(s string) string { return strings.TrimLeftFunc(s, unicode.IsSpace) }),
		"rstrip":       strStrip(strings.TrimRight, func(s string) string { return strings.TrimRightFunc(s, unicode.IsSpace) }),
		"split":        strSplit(false),
		"rsplit":       strSplit(true),
		"splitlines":   strSplitlines,
		"join":         strJoin,
		"replace":      strReplace,
		"find":         strFind(false, false),
		"rfind":        strFind(true, false),
		"index":        strFind(false, true),
		"rindex":       strFind(true, true),
		"count":        strCount,
		"startswith":   strAffix(strings.HasPrefix, "startswith"),
		"endswith":     strAffix(strings.HasSuffix, "endswith"),
		"isdigit":      strTest(func(r rune) bool { return unicode.IsDigit(r) }),
		"isdecimal":    strTest(func(r rune) bool { return unicode.IsDigit(r) }),
		"isnumeric":    strTest(func(r rune) bool { return unicode.IsNumber(r) }),
		"isalpha":      strTest(unicode.IsLetter),
		"isalnum":      strTest(func(r rune) bool { return unicode.IsLetter(r) || unicode.IsNumber(r) }),
		"isspace":      strTest(unicode.IsSpace),
		"isupper":      strCased(unicode.IsUpper, unicode.IsLower),
		"islower":      strCased(unicode.IsLower, unicode.IsUpper),
		"isidentifier": strIsIdentifier,
		"istitle":      strIsTitle,
		"center":       strPad('^'),
		"ljust":        strPad('<'),
		"rjust":        strPad('>'),
		"zfill":        strZfill,
		"format":       strFormatMethod,
		"format_map":   strFormatMap,
		"partition":    strPartition(false),
		"rpartition":   strPartition(true),
		"removeprefix": strRemove(strings.TrimPrefix),
		"removesuffix": strRemove(strings.TrimSuffix),
		"expandtabs":   strExpandTabs,
		"translate":    strTranslate,
		"encode":       strEncode,
	}
	listMethods = map[string]methodFunc{
		"append":  listAppend,
		"extend":  listExtend,
		"insert":  listInsert,
		"remove":  listRemove,
		"pop":     listPop,
		"clear":   listClear,
		"index":   seqIndex,
		"count":   seqCount,
		"sort":    listSort,
		"reverse": listReverse,
		"copy": func(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
			return NewList(append([]Value(nil), self.(*List).Items...)), nil
		},
	}
	tupleMethods = map[string]methodFunc{
		"index": seqIndex,
		"count": seqCount,
	}
	dictMethods = map[string]methodFunc{
		"keys":       dictViewMethod(viewKeys),
		"values":     dictViewMethod(viewValues),
		"items":      dictViewMethod(viewItems),
		"get":        dictGet,
		"pop":        dictPop,
		"popitem":    dictPopitem,
		"setdefault": dictSetdefault,
		"update": func(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
			d := self.(*Dict)
			if d.Kind == DictCounter {
				return None, in.counterUpdate(d, args, kw, 1)
			}
			return None, in.dictUpdate(d, args, kw)
		},
		"clear": dictClear,
		"copy":  func(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) { return self.(*Dict).copyDict(), nil },
	}
	counterMethods = map[string]methodFunc{
		"most_common": counterMostCommon,
		"elements":    counterElements,
		"subtract": func(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
			return None, in.counterUpdate(self.(*Dict), args, kw, -1)
		},
		"total": func(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
			var total Value = Int(0)
			var err error
			for _, v := range self.(*Dict).Values() {
				if total, err = in.binaryOp("+", total, v); err != nil {
					return nil, err
				}
			}
			return total, nil
		},
	}
	orderedMethods = map[string]methodFunc{
		"move_to_end": orderedMoveToEnd,
		"popitem":     dictPopitem,
	}
	setMethods = map[string]methodFunc{
		"add":                         setMutate("add", func(s *Set, v Value) error { return s.Add(v) }),
		"discard":                     setMutate("discard", setDiscard),
		"remove":                      setRemove,
		"pop":                         setPop,
		"clear":                       func(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) { return None, setClear(self) },
		"copy":                        func(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) { return self.(*Set).copySet(), nil },
		"union":                       setCombine("|", false),
		"intersection":                setCombine("&", false),
		"difference":                  setCombine("-", false),
		"symmetric_difference":        setCombine("^", false),
		"update":                      setCombine("|", true),
		"intersection_update":         setCombine("&", true),
		"difference_update":           setCombine("-", true),
		"symmetric_difference_update": setCombine("^", true),
		"issubset":                    setCompare(func(a, b *Set) (bool, error) { return isSubset(a, b) }),
		"issuperset":                  setCompare(func(a, b *Set) (bool, error) { return isSubset(b, a) }),
		"isdisjoint": setCompare(func(a, b *Set) (bool, error) {
			r, err := setOp("&", a, b)
			return r.(*Set).Len() == 0, err
		}),
	}
	dequeMethods = map[string]methodFunc{
		"append":     dequeAdd(false),
		"appendleft": dequeAdd(true),
		"extend":     dequeExtend(false),
		"extendleft": dequeExtend(true),
		"pop":        dequePop(false),
		"popleft":    dequePop(true),
		"rotate":     dequeRotate,
		"clear":      dequeClear,
		"count":      seqCount,
		"index":      seqIndex,
		"remove":     dequeRemove,
		"insert":     dequeInsert,
		"reverse": func(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
			d := self.(*Deque)
			for i, j := 0, len(d.Items)-1; i < j; i, j = i+1, j-1 {
				d.Items[i], d.Items[j] = d.Items[j], d.Items[i]
			}
			return None, nil
		},
		"copy": func(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
			d := self.(*Deque)
			return &Deque{Items: append([]Value(nil), d.Items...), MaxLen: d.MaxLen}, nil
		},
	}
	intMethods = map[string]methodFunc{
		"bit_length": func(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
			return Int(new(big.Int).Abs(bigOf(self)).BitLen()), nil
		},
		"bit_count": func(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
			n := 0
			for _, w := range new(big.Int).Abs(bigOf(self)).Bits() {
				for ; w != 0; w &= w - 1 {
					n++
				}
			}
			return Int(n), nil
		},
		"conjugate":  func(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) { return NewBig(bigOf(self)), nil },
		"is_integer": func(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) { return True, nil },
	}
	floatMethods = map[string]methodFunc{
		"is_integer": func(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
			f := float64(self.(Float))
			return boolValue(f == math.Trunc(f) && !math.IsInf(f, 0)), nil
		},
		"as_integer_ratio": floatRatio,
		"conjugate":        func(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) { return self, nil },
	}
	rangeMethods = map[string]methodFunc{
		"index": seqIndex,
		"count": seqCount,
	}
}

func bindMethod(self Value, name string, fn methodFunc) *Builtin {
	return NewBuiltin(name, func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		return fn(in, self, args, kw)
	})
}

// nativeAttr resolves methods and data attributes of the builtin types.
func (in *Interp) nativeAttr(obj Value, name string) (Value, bool, error) {
	var tables []map[string]methodFunc
	switch x := obj.(type) {
	case Str:
		tables = append(tables, strMethods)
	case *List:
		tables = append(tables, listMethods)
	case *Tuple:
		tables = append(tables, tupleMethods)
	case *Dict:
		switch x.Kind {
		case DictCounter:
			tables = append(tables, counterMethods)
		case DictOrdered:
			tables = append(tables, orderedMethods)
		case DictDefault:
			if name == "default_factory" {
				return orNone(x.Factory), true, nil
			}
		}
		tables = append(tables, dictMethods)
	case *Set:
		if x.Frozen {
			switch name {
			case "add", "discard", "remove", "pop", "clear", "update", "intersection_update",
				"difference_update", "symmetric_difference_update":
				return nil, false, nil
			}
		}
		tables = append(tables, setMethods)
	case *Deque:
		if name == "maxlen" {
			if x.MaxLen < 0 {
				return None, true, nil
			}
			return Int(x.MaxLen), true, nil
		}
		tables = append(tables, dequeMethods)
	case Bool, Int, BigInt:
		switch name {
		case "real", "numerator":
			return NewBig(bigOf(x)), true, nil
		case "imag":
			return Int(0), true, nil
		case "denominator":
			return Int(1), true, nil
		}
		tables = append(tables, intMethods)
	case Float:
		switch name {
		case "real":
			return x, true, nil
		case "imag":
			return Float(0), true, nil
		}
		tables = append(tables, floatMethods)
	case *Range:
		switch name {
		case "start":
			return Int(x.Start), true, nil
		case "stop":
			return Int(x.Stop), true, nil
		case "step":
			return Int(x.Step), true, nil
		}
		tables = append(tables, rangeMethods)
	case *Slice:
		switch name {
		case "start":
			return x.Start, true, nil
		case "stop":
			return x.Stop, true, nil
		case "step":
			return x.Step, true, nil
		}
	case *dictView:
		if name == "mapping" {
			return x.d, true, nil
		}
	}
	if name == "__class__" {
		return in.typeOf(obj), true, nil
	}
	for _, t := range tables {
		if fn, ok := t[name]; ok {
			return bindMethod(obj, name, fn), true, nil
		}
	}
	return nil, false, nil
}

// nativeMethodNames lists the attributes nativeAttr resolves for v.
func nativeMethodNames(v Value) []string {
	var tables []map[string]methodFunc
	switch x := v.(type) {
	case Str:
		tables = append(tables, strMethods)
	case *List:
		tables = append(tables, listMethods)
	case *Tuple:
		tables = append(tables, tupleMethods)
	case *Dict:
		if x.Kind == DictCounter {
			tables = append(tables, counterMethods)
		}
		if x.Kind == DictOrdered {
			tables = append(tables, orderedMethods)
		}
		tables = append(tables, dictMethods)
	case *Set:
		tables = append(tables, setMethods)
	case *Deque:
		tables = append(tables, dequeMethods)
	case Bool, Int, BigInt:
		tables = append(tables, intMethods)
	case Float:
		tables = append(tables, floatMethods)
	case *Range:
		tables = append(tables, rangeMethods)
	}
	var names []string
	for _, t := range tables {
		for n := range t {
			names = append(names, n)
		}
	}
	return names
}

// str

func strMap(fn func(string) string) methodFunc {
	return func(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
		return Str(fn(string(self.(Str)))), nil
	}
}

func swapCase(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsUpper(r) {
			return unicode.ToLower(r)
		}
		return unicode.ToUpper(r)
	}, s)
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}

func title(s string) string {
	var b strings.Builder
	prevCased := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			if prevCased {
				b.WriteRune(unicode.ToLower(r))
			} else {
				b.WriteRune(unicode.ToUpper(r))
			}
			prevCased = true
			continue
		}
		prevCased = false
		b.WriteRune(r)
	}
	return b.String()
}

func optStr(fname string, v Value) (string, bool, error) {
	if v == nil || v == None {
		return "", false, nil
	}
	s, ok := v.(Str)
	if !ok {
		return "", false, newError(TypeError, "%s arg must be None or str", fname)
	}
	return string(s), true, nil
}

func strStrip(trim func(string, string) string, space func(string) string) methodFunc {
	return func(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("strip", args, kw, "chars?")
		if err != nil {
			return nil, err
		}
		chars, ok, err := optStr("strip", a[0])
		if err != nil {
			return nil, err
		}
		if !ok {
			return Str(space(string(self.(Str)))), nil
		}
		return Str(trim(string(self.(Str)), chars)), nil
	}
}

func strSplit(fromRight bool) methodFunc {
	return func(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("split", args, kw, "sep?", "maxsplit?")
		if err != nil {
			return nil, err
		}
		s := string(self.(Str))
		maxsplit := int64(-1)
		if a[1] != nil {
			n, ok := toInt64(a[1])
			if !ok {
				return nil, newError(TypeError, "'%s' object cannot be interpreted as an integer", a[1].TypeName())
			}
			maxsplit = n
		}
		sep, hasSep, err := optStr("split", a[0])
		if err != nil {
			return nil, err
		}
		var parts []string
		if hasSep {
			if sep == "" {
				return nil, newError(ValueError, "empty separator")
			}
			switch {
			case maxsplit < 0:
				parts = strings.Split(s, sep)
			case fromRight:
				parts = rsplitN(s, sep, int(maxsplit))
			default:
				parts = strings.SplitN(s, sep, int(maxsplit)+1)
			}
		} else {
			parts = splitWhitespace(s, int(maxsplit), fromRight)
		}
		items := make([]Value, len(parts))
		for i, p := range parts {
			items[i] = Str(p)
		}
		return NewList(items), nil
	}
}

func rsplitN(s, sep string, n int) []string {
	var out []string
	for n > 0 {
		i := strings.LastIndex(s, sep)
		if i < 0 {
			break
		}
		out = append(out, s[i+len(sep):])
		s = s[:i]
		n--
	}
	out = append(out, s)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func splitWhitespace(s string, maxsplit int, fromRight bool) []string {
	if maxsplit < 0 {
		return strings.Fields(s)
	}
	if fromRight {
		fields := strings.Fields(s)
		if len(fields) <= maxsplit+1 {
			return fields
		}
		trimmed := strings.TrimRightFunc(s, unicode.IsSpace)
		var tail []string
		for i := 0; i < maxsplit; i++ {
			j := strings.LastIndexFunc(trimmed, unicode.IsSpace)
			tail = append([]string{trimmed[j+1:]}, tail...)
			trimmed = strings.TrimRightFunc(trimmed[:j], unicode.IsSpace)
		}
		return append([]string{trimmed}, tail...)
	}
	var out []string
	rest := strings.TrimLeftFunc(s, unicode.IsSpace)
	for len(out) < maxsplit && rest != "" {
		i := strings.IndexFunc(rest, unicode.IsSpace)
		if i < 0 {
			break
		}
		out = append(out, rest[:i])
		rest = strings.TrimLeftFunc(rest[i:], unicode.IsSpace)
	}
	if rest != "" {
		out = append(out, rest)
	}
	return out
}

func strSplitlines(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
	a, err := unpackArgs("splitlines", args, kw, "keepends?")
	if err != nil {
		return nil, err
	}
	keep := false
	if a[0] != nil {
		if keep, err = in.Truthy(a[0]); err != nil {
			return nil, err
		}
	}
	s := string(self.(Str))
	var items []Value
	for s != "" {
		i := strings.IndexAny(s, "\n\r")
		if i < 0 {
			items = append(items, Str(s))
			break
		}
		end := i + 1
		if s[i] == '\r' && end < len(s) && s[end] == '\n' {
			end++
		}
		if keep {
			items = append(items, Str(s[:end]))
		} else {
			items = append(items, Str(s[:i]))
		}
		s = s[end:]
	}
	return NewList(items), nil
}

func strJoin(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
	if len(args) != 1 {
		return nil, newError(TypeError, "str.join() takes exactly one argument (%d given)", len(args))
	}
	items, err := in.iterate(args[0])
	if err != nil {
		return nil, err
	}
	parts := make([]string, len(items))
	for i, it := range items {
		s, ok := it.(Str)
		if !ok {
			return nil, newError(TypeError, "sequence item %d: expected str instance, %s found", i, it.TypeName())
		}
		parts[i] = string(s)
	}
	return Str(strings.Join(parts, string(self.(Str)))), nil
}

func strReplace(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
	a, err := unpackArgs("replace", args, kw, "old", "new", "count?")
	if err != nil {
		return nil, err
	}
	old, ok1 := a[0].(Str)
	repl, ok2 := a[1].(Str)
	if !ok1 || !ok2 {
		return nil, newError(TypeError, "replace() arguments must be str")
	}
	n := int64(-1)
	if a[2] != nil {
		n, _ = toInt64(a[2])
	}
	return Str(strings.Replace(string(self.(Str)), string(old), string(repl), int(n))), nil
}

// runeWindow resolves optional start/end arguments against s, returning the
// window in rune offsets.
func (in *Interp) runeWindow(r []rune, start, end Value) (int, int, error) {
	lo, hi := 0, len(r)
	var err error
	if start != nil && start != None {
		if lo, err = in.index(start, "slice"); err != nil {
			return 0, 0, err
		}
	}
	if end != nil && end != None {
		if hi, err = in.index(end, "slice"); err != nil {
			return 0, 0, err
		}
	}
	clamp := func(i int) int {
		if i < 0 {
			i += len(r)
		}
		return max(0, min(i, len(r)))
	}
	return clamp(lo), clamp(hi), nil
}

func runeIndex(s string, byteIdx int) int { return utf8.RuneCountInString(s[:byteIdx]) }

func strFind(fromRight, raise bool) methodFunc {
	return func(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
		if len(args) < 1 || len(args) > 3 {
			return nil, newError(TypeError, "find expected 1 to 3 arguments, got %d", len(args))
		}
		sub, ok := args[0].(Str)
		if !ok {
			return nil, newError(TypeError, "must be str, not %s", args[0].TypeName())
		}
		r := []rune(string(self.(Str)))
		var start, end Value
		if len(args) > 1 {
			start = args[1]
		}
		if len(args) > 2 {
			end = args[2]
		}
		lo, hi, err := in.runeWindow(r, start, end)
		if err != nil {
			return nil, err
		}
		idx := -1
		if lo <= hi {
			window := string(r[lo:hi])
			var bi int
			if fromRight {
				bi = strings.LastIndex(window, string(sub))
			} else {
				bi = strings.Index(window, string(sub))
			}
			if bi >= 0 {
				idx = lo + runeIndex(window, bi)
			}
		}
		if idx < 0 && raise {
			return nil, newError(ValueError, "substring not found")
		}
		return Int(idx), nil
	}
}

func strCount(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
	if len(args) < 1 || len(args) > 3 {
		return nil, newError(TypeError, "count expected 1 to 3 arguments, got %d", len(args))
	}
	sub, ok := args[0].(Str)
	if !ok {
		return nil, newError(TypeError, "must be str, not %s", args[0].TypeName())
	}
	r := []rune(string(self.(Str)))
	var start, end Value
	if len(args) > 1 {
		start = args[1]
	}
	if len(args) > 2 {
		end = args[2]
	}
	lo, hi, err := in.runeWindow(r, start, end)
	if err != nil {
		return nil, err
	}
	if lo > hi {
		return Int(0), nil
	}
	return Int(strings.Count(string(r[lo:hi]), string(sub))), nil
}

func strAffix(test func(string, string) bool, name string) methodFunc {
	return func(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
		if len(args) < 1 || len(args) > 3 {
			return nil, newError(TypeError, "%s expected 1 to 3 arguments, got %d", name, len(args))
		}
		r := []rune(string(self.(Str)))
		var start, end Value
		if len(args) > 1 {
			start = args[1]
		}
		if len(args) > 2 {
			end = args[2]
		}
		lo, hi, err := in.runeWindow(r, start, end)
		if err != nil {
			return nil, err
		}
		window := ""
		if lo <= hi {
			window = string(r[lo:hi])
		}
		var cands []Value
		switch x := args[0].(type) {
		case Str:
			cands = []Value{x}
		case *Tuple:
			cands = x.Items
		default:
			return nil, newError(TypeError, "%s first arg must be str or a tuple of str, not %s", name, args[0].TypeName())
		}
		for _, c := range cands {
			s, ok := c.(Str)
			if !ok {
				return nil, newError(TypeError, "tuple for %s must only contain str, not %s", name, c.TypeName())
			}
			if test(window, string(s)) {
				return True, nil
			}
		}
		return False, nil
	}
}

func strTest(pred func(rune) bool) methodFunc {
	return func(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
		s := string(self.(Str))
		if s == "" {
			return False, nil
		}
		for _, r := range s {
			if !pred(r) {
				return False, nil
			}
		}
		return True, nil
	}
}

func strCased(want, reject func(rune) bool) methodFunc {
	return func(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
		found := false
		for _, r := range string(self.(Str)) {
			if reject(r) {
				return False, nil
			}
			if want(r) {
				found = true
			}
		}
		return boolValue(found), nil
	}
}

func strIsIdentifier(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
	s := string(self.(Str))
	if s == "" {
		return False, nil
	}
	for i, r := range s {
		if r == '_' || unicode.IsLetter(r) || i > 0 && unicode.IsDigit(r) {
			continue
		}
		return False, nil
	}
	return True, nil
}

func strIsTitle(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
	s := string(self.(Str))
	return boolValue(s != "" && title(s) == s && strings.ToLower(s) != s), nil
}

func strPad(align byte) methodFunc {
	return func(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("pad", args, kw, "width", "fillchar?")
		if err != nil {
			return nil, err
		}
		w, ok := toInt64(a[0])
		if !ok {
			return nil, newError(TypeError, "'%s' object cannot be interpreted as an integer", a[0].TypeName())
		}
		fill := ' '
		if a[1] != nil {
			f, ok := a[1].(Str)
			if !ok || utf8.RuneCountInString(string(f)) != 1 {
				return nil, newError(TypeError, "The fill character must be exactly one character long")
			}
			fill, _ = utf8.DecodeRuneInString(string(f))
		}
		s := string(self.(Str))
		if align == '^' {
			n := utf8.RuneCountInString(s)
			if int(w) <= n {
				return self, nil
			}
			total := int(w) - n
			left := total / 2
			if total%2 == 1 && n%2 == 1 {
				left++
			}
			return Str(strings.Repeat(string(fill), left) + s + strings.Repeat(string(fill), total-left)), nil
		}
		return Str(pad("", s, fill, align, int(w))), nil
	}
}

func strZfill(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
	if len(args) != 1 {
		return nil, newError(TypeError, "zfill() takes exactly one argument (%d given)", len(args))
	}
	w, _ := toInt64(args[0])
	s := string(self.(Str))
	sign := ""
	if strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		sign, s = s[:1], s[1:]
	}
	return Str(pad(sign, s, '0', '=', int(w))), nil
}

func strFormatMethod(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
	s, err := in.strFormat(string(self.(Str)), args, kw)
	return Str(s), err
}

func strFormatMap(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
	if len(args) != 1 {
		return nil, newError(TypeError, "format_map() takes exactly one argument (%d given)", len(args))
	}
	d, ok := args[0].(*Dict)
	if !ok {
		return nil, newError(TypeError, "format_map() argument must be a mapping")
	}
	var named []Kwarg
	for _, kv := range d.Items() {
		if k, ok := kv[0].(Str); ok {
			named = append(named, Kwarg{Name: string(k), Value: kv[1]})
		}
	}
	s, err := in.strFormat(string(self.(Str)), nil, named)
	return Str(s), err
}

func strPartition(fromRight bool) methodFunc {
	return func(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
		if len(args) != 1 {
			return nil, newError(TypeError, "partition() takes exactly one argument (%d given)", len(args))
		}
		sep, ok := args[0].(Str)
		if !ok {
			return nil, newError(TypeError, "must be str, not %s", args[0].TypeName())
		}
		if sep == "" {
			return nil, newError(ValueError, "empty separator")
		}
		s := string(self.(Str))
		var i int
		if fromRight {
			i = strings.LastIndex(s, string(sep))
		} else {
			i = strings.Index(s, string(sep))
		}
		if i < 0 {
			if fromRight {
				return NewTuple(Str(""), Str(""), Str(s)), nil
			}
			return NewTuple(Str(s), Str(""), Str("")), nil
		}
		return NewTuple(Str(s[:i]), sep, Str(s[i+len(sep):])), nil
	}
}

func strRemove(fn func(string, string) string) methodFunc {
	return func(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
		if len(args) != 1 {
			return nil, newError(TypeError, "expected exactly one argument (%d given)", len(args))
		}
		affix, ok := args[0].(Str)
		if !ok {
			return nil, newError(TypeError, "must be str, not %s", args[0].TypeName())
		}
		return Str(fn(string(self.(Str)), string(affix))), nil
	}
}

func strExpandTabs(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
	a, err := unpackArgs("expandtabs", args, kw, "tabsize?")
	if err != nil {
		return nil, err
	}
	size := int64(8)
	if a[0] != nil {
		size, _ = toInt64(a[0])
	}
	var b strings.Builder
	col := 0
	for _, r := range string(self.(Str)) {
		switch r {
		case '\t':
			if size > 0 {
				n := int(size) - col%int(size)
				b.WriteString(strings.Repeat(" ", n))
				col += n
			}
		case '\n', '\r':
			b.WriteRune(r)
			col = 0
		default:
			b.WriteRune(r)
			col++
		}
	}
	return Str(b.String()), nil
}

func strTranslate(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
	if len(args) != 1 {
		return nil, newError(TypeError, "translate() takes exactly one argument (%d given)", len(args))
	}
	var b strings.Builder
	for _, r := range string(self.(Str)) {
		v, err := in.getItem(args[0], Int(r))
		if err != nil {
			b.WriteRune(r)
			continue
		}
		switch x := v.(type) {
		case NoneType:
		case Str:
			b.WriteString(string(x))
		case Int:
			b.WriteRune(rune(x))
		default:
			return nil, newError(TypeError, "character mapping must return integer, None or str")
		}
	}
	return Str(b.String()), nil
}

// strEncode returns the text unchanged; byte strings are not modelled.
func strEncode(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
	return self, nil
}

// list, tuple, deque

func seqItems(v Value) []Value {
	switch x := v.(type) {
	case *List:
		return x.Items
	case *Tuple:
		return x.Items
	case *Deque:
		return x.Items
	case *Range:
		items := make([]Value, x.Len())
		for i := range items {
			items[i] = Int(x.at(i))
		}
		return items
	}
	return nil
}

func seqIndex(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
	if len(args) < 1 || len(args) > 3 {
		return nil, newError(TypeError, "index expected 1 to 3 arguments, got %d", len(args))
	}
	items := seqItems(self)
	lo, hi := 0, len(items)
	clamp := func(v Value) (int, error) {
		i, err := in.index(v, "slice")
		if err != nil {
			return 0, err
		}
		if i < 0 {
			i += len(items)
		}
		return max(0, min(i, len(items))), nil
	}
	var err error
	if len(args) > 1 {
		if lo, err = clamp(args[1]); err != nil {
			return nil, err
		}
	}
	if len(args) > 2 {
		if hi, err = clamp(args[2]); err != nil {
			return nil, err
		}
	}
	for i := lo; i < hi; i++ {
		eq, err := in.Equal(items[i], args[0])
		if err != nil {
			return nil, err
		}
		if eq {
			return Int(i), nil
		}
	}
	if _, ok := self.(*List); ok {
		r, _ := in.Repr(args[0])
		return nil, newError(ValueError, "%s is not in list", r)
	}
	return nil, newError(ValueError, "%s.index(x): x not in %s", self.TypeName(), self.TypeName())
}

func seqCount(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
	if len(args) != 1 {
		return nil, newError(TypeError, "count() takes exactly one argument (%d given)", len(args))
	}
	n := 0
	for _, it := range seqItems(self) {
		eq, err := in.Equal(it, args[0])
		if err != nil {
			return nil, err
		}
		if eq {
			n++
		}
	}
	return Int(n), nil
}

func listAppend(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
	if len(args) != 1 {
		return nil, newError(TypeError, "list.append() takes exactly one argument (%d given)", len(args))
	}
	l := self.(*List)
	if len(l.Items) >= in.maxItems {
		return nil, NewException(MemoryError, "")
	}
	l.Items = append(l.Items, args[0])
	return None, nil
}

func listExtend(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
	if len(args) != 1 {
		return nil, newError(TypeError, "list.extend() takes exactly one argument (%d given)", len(args))
	}
	items, err := in.iterate(args[0])
	if err != nil {
		return nil, err
	}
	l := self.(*List)
	if len(l.Items)+len(items) > in.maxItems {
		return nil, NewException(MemoryError, "")
	}
	l.Items = append(l.Items, items...)
	return None, nil
}

func listInsert(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
	if len(args) != 2 {
		return nil, newError(TypeError, "insert expected 2 arguments, got %d", len(args))
	}
	l := self.(*List)
	i, err := in.index(args[0], "list")
	if err != nil {
		return nil, err
	}
	if i < 0 {
		i += len(l.Items)
	}
	i = max(0, min(i, len(l.Items)))
	l.Items = append(l.Items, nil)
	copy(l.Items[i+1:], l.Items[i:])
	l.Items[i] = args[1]
	return None, nil
}

func listRemove(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
	if len(args) != 1 {
		return nil, newError(TypeError, "list.remove() takes exactly one argument (%d given)", len(args))
	}
	l := self.(*List)
	for i, it := range l.Items {
		eq, err := in.Equal(it, args[0])
		if err != nil {
			return nil, err
		}
		if eq {
			l.Items = append(l.Items[:i], l.Items[i+1:]...)
			return None, nil
		}
	}
	return nil, newError(ValueError, "list.remove(x): x not in list")
}

func listPop(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
	l := self.(*List)
	if len(l.Items) == 0 {
		return nil, newError(IndexError, "pop from empty list")
	}
	i := len(l.Items) - 1
	if len(args) > 0 {
		n, err := in.index(args[0], "list")
		if err != nil {
			return nil, err
		}
		if n < 0 {
			n += len(l.Items)
		}
		if n < 0 || n >= len(l.Items) {
			return nil, newError(IndexError, "pop index out of range")
		}
		i = n
	}
	v := l.Items[i]
	l.Items = append(l.Items[:i], l.Items[i+1:]...)
	return v, nil
}

func listClear(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
	self.(*List).Items = nil
	return None, nil
}

func listSort(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
	if len(args) > 0 {
		return nil, newError(TypeError, "sort() takes no positional arguments")
	}
	a, err := unpackArgs("sort", nil, kw, "key?", "reverse?")
	if err != nil {
		return nil, err
	}
	reverse := false
	if a[1] != nil {
		if reverse, err = in.Truthy(a[1]); err != nil {
			return nil, err
		}
	}
	l := self.(*List)
	items := append([]Value(nil), l.Items...)
	if err := in.Sort(items, a[0], reverse); err != nil {
		return nil, err
	}
	l.Items = items
	return None, nil
}

func listReverse(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
	l := self.(*List)
	for i, j := 0, len(l.Items)-1; i < j; i, j = i+1, j-1 {
		l.Items[i], l.Items[j] = l.Items[j], l.Items[i]
	}
	return None, nil
}

func dequeAdd(left bool) methodFunc {
	return func(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
		if len(args) != 1 {
			return nil, newError(TypeError, "append() takes exactly one argument (%d given)", len(args))
		}
		d := self.(*Deque)
		if left {
			d.Items = append([]Value{args[0]}, d.Items...)
		} else {
			d.Items = append(d.Items, args[0])
		}
		d.trim(left)
		return None, nil
	}
}

func dequeExtend(left bool) methodFunc {
	return func(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
		if len(args) != 1 {
			return nil, newError(TypeError, "extend() takes exactly one argument (%d given)", len(args))
		}
		items, err := in.iterate(args[0])
		if err != nil {
			return nil, err
		}
		d := self.(*Deque)
		for _, it := range items {
			if left {
				d.Items = append([]Value{it}, d.Items...)
			} else {
				d.Items = append(d.Items, it)
			}
			d.trim(left)
		}
		return None, nil
	}
}

func dequePop(left bool) methodFunc {
	return func(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
		d := self.(*Deque)
		if len(d.Items) == 0 {
			return nil, newError(IndexError, "pop from an empty deque")
		}
		if left {
			v := d.Items[0]
			d.Items = d.Items[1:]
			return v, nil
		}
		v := d.Items[len(d.Items)-1]
		d.Items = d.Items[:len(d.Items)-1]
		return v, nil
	}
}

func dequeClear(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
	self.(*Deque).Items = nil
	return None, nil
}

func dequeRotate(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
	d := self.(*Deque)
	n := int64(1)
	if len(args) > 0 {
		var ok bool
		if n, ok = toInt64(args[0]); !ok {
			return nil, newError(TypeError, "'%s' object cannot be interpreted as an integer", args[0].TypeName())
		}
	}
	if len(d.Items) == 0 {
		return None, nil
	}
	k := int(((n % int64(len(d.Items))) + int64(len(d.Items))) % int64(len(d.Items)))
	d.Items = append(d.Items[len(d.Items)-k:], d.Items[:len(d.Items)-k]...)
	return None, nil
}

func dequeRemove(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
	if len(args) != 1 {
		return nil, newError(TypeError, "remove() takes exactly one argument (%d given)", len(args))
	}
	d := self.(*Deque)
	for i, it := range d.Items {
		eq, err := in.Equal(it, args[0])
		if err != nil {
			return nil, err
		}
		if eq {
			d.Items = append(d.Items[:i], d.Items[i+1:]...)
			return None, nil
		}
	}
	return nil, newError(ValueError, "deque.remove(x): x not in deque")
}

func dequeInsert(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
	if len(args) != 2 {
		return nil, newError(TypeError, "insert expected 2 arguments, got %d", len(args))
	}
	d := self.(*Deque)
	if d.MaxLen >= 0 && len(d.Items) >= d.MaxLen {
		return nil, newError(IndexError, "deque already at its maximum size")
	}
	i, err := in.index(args[0], "deque")
	if err != nil {
		return nil, err
	}
	if i < 0 {
		i += len(d.Items)
	}
	i = max(0, min(i, len(d.Items)))
	d.Items = append(d.Items, nil)
	copy(d.Items[i+1:], d.Items[i:])
	d.Items[i] = args[1]
	return None, nil
}

// dict

type viewKind int

const (
	viewKeys viewKind = iota
	viewValues
	viewItems
)

// dictView is a live view over the keys, values or items of a dict.
type dictView struct {
	d    *Dict
	kind viewKind
}

func (v *dictView) TypeName() string {
	switch v.kind {
	case viewValues:
		return "dict_values"
	case viewItems:
		return "dict_items"
	}
	return "dict_keys"
}

func (v *dictView) Len() int { return v.d.Len() }

// SetView returns the members of a keys or items view of a dict. Values
// views are not set-like and report false.
func SetView(v Value) ([]Value, bool) {
	dv, ok := v.(*dictView)
	if !ok || dv.kind == viewValues {
		return nil, false
	}
	return dv.items(), true
}

func (v *dictView) items() []Value {
	switch v.kind {
	case viewValues:
		return v.d.Values()
	case viewItems:
		pairs := v.d.Items()
		out := make([]Value, len(pairs))
		for i, kv := range pairs {
			out[i] = NewTuple(kv[0], kv[1])
		}
		return out
	}
	return v.d.Keys()
}

func (v *dictView) Iter(*Interp) (Iterator, error) {
	name := map[viewKind]string{viewKeys: "dict_keyiterator", viewValues: "dict_valueiterator", viewItems: "dict_itemiterator"}[v.kind]
	return &seqIter{name: name, items: v.items()}, nil
}

func (v *dictView) Contains(in *Interp, item Value) (bool, error) {
	switch v.kind {
	case viewKeys:
		_, ok, err := v.d.Get(item)
		return ok, err
	case viewItems:
		t, ok := item.(*Tuple)
		if !ok || len(t.Items) != 2 {
			return false, nil
		}
		got, ok, err := v.d.Get(t.Items[0])
		if err != nil || !ok {
			return false, err
		}
		return in.Equal(got, t.Items[1])
	}
	return in.seqContains(v.d.Values(), item)
}

func (v *dictView) Repr(in *Interp) (string, error) {
	var b strings.Builder
	b.WriteString(v.TypeName() + "(")
	if err := in.writeSeq(&b, nil, "[", "]", v.items(), false); err != nil {
		return "", err
	}
	b.WriteString(")")
	return b.String(), nil
}

func dictViewMethod(kind viewKind) methodFunc {
	return func(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
		return &dictView{d: self.(*Dict), kind: kind}, nil
	}
}

func dictGet(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, newError(TypeError, "get expected 1 or 2 arguments, got %d", len(args))
	}
	v, ok, err := self.(*Dict).Get(args[0])
	if err != nil {
		return nil, err
	}
	if ok {
		return v, nil
	}
	if len(args) == 2 {
		return args[1], nil
	}
	return None, nil
}

func dictPop(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, newError(TypeError, "pop expected 1 or 2 arguments, got %d", len(args))
	}
	d := self.(*Dict)
	v, ok, err := d.Get(args[0])
	if err != nil {
		return nil, err
	}
	if !ok {
		if len(args) == 2 {
			return args[1], nil
		}
		return nil, keyError(args[0])
	}
	_, err = d.Delete(args[0])
	return v, err
}

func dictPopitem(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
	d := self.(*Dict)
	last := true
	if d.Kind == DictOrdered {
		a, err := unpackArgs("popitem", args, kw, "last?")
		if err != nil {
			return nil, err
		}
		if a[0] != nil {
			if last, err = in.Truthy(a[0]); err != nil {
				return nil, err
			}
		}
	}
	if d.Len() == 0 {
		return nil, newError(KeyError, "popitem(): dictionary is empty")
	}
	i := d.Len() - 1
	if !last {
		i = 0
	}
	k, v := d.keys[i], d.vals[i]
	if _, err := d.Delete(k); err != nil {
		return nil, err
	}
	return NewTuple(k, v), nil
}

func dictClear(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
	self.(*Dict).clear()
	return None, nil
}

func dictSetdefault(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, newError(TypeError, "setdefault expected 1 or 2 arguments, got %d", len(args))
	}
	d := self.(*Dict)
	v, ok, err := d.Get(args[0])
	if err != nil {
		return nil, err
	}
	if ok {
		return v, nil
	}
	var def Value = None
	if len(args) == 2 {
		def = args[1]
	}
	return def, d.Set(args[0], def)
}

func orderedMoveToEnd(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
	a, err := unpackArgs("move_to_end", args, kw, "key", "last?")
	if err != nil {
		return nil, err
	}
	last := true
	if a[1] != nil {
		if last, err = in.Truthy(a[1]); err != nil {
			return nil, err
		}
	}
	d := self.(*Dict)
	v, ok, err := d.Get(a[0])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, keyError(a[0])
	}
	pairs := d.Items()
	d.clear()
	if !last {
		_ = d.Set(a[0], v)
	}
	for _, kv := range pairs {
		if eq, _ := in.Equal(kv[0], a[0]); !eq {
			_ = d.Set(kv[0], kv[1])
		}
	}
	if last {
		_ = d.Set(a[0], v)
	}
	return None, nil
}

// sortedCounterItems orders counter entries by decreasing count, keeping
// insertion order among equal counts.
func (in *Interp) sortedCounterItems(d *Dict) [][2]Value {
	items := d.Items()
	sort.SliceStable(items, func(i, j int) bool {
		lt, err := in.less(items[j][1], items[i][1], "<")
		return err == nil && lt
	})
	return items
}

func counterMostCommon(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
	a, err := unpackArgs("most_common", args, kw, "n?")
	if err != nil {
		return nil, err
	}
	items := in.sortedCounterItems(self.(*Dict))
	if a[0] != nil && a[0] != None {
		n, ok := toInt64(a[0])
		if !ok {
			return nil, newError(TypeError, "'%s' object cannot be interpreted as an integer", a[0].TypeName())
		}
		if n < 0 {
			n = 0
		}
		if int(n) < len(items) {
			items = items[:n]
		}
	}
	out := make([]Value, len(items))
	for i, kv := range items {
		out[i] = NewTuple(kv[0], kv[1])
	}
	return NewList(out), nil
}

func counterElements(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
	var out []Value
	for _, kv := range self.(*Dict).Items() {
		n, ok := toInt64(kv[1])
		if !ok {
			continue
		}
		for i := int64(0); i < n; i++ {
			out = append(out, kv[0])
			if len(out) > in.maxItems {
				return nil, NewException(MemoryError, "")
			}
		}
	}
	return &seqIter{name: "itertools.chain", items: out}, nil
}

// set

func (in *Interp) toSet(v Value) (*Set, error) {
	if s, ok := v.(*Set); ok {
		return s, nil
	}
	items, err := in.iterate(v)
	if err != nil {
		return nil, err
	}
	s := NewSet()
	for _, it := range items {
		if err := s.Add(it); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func setMutate(name string, fn func(*Set, Value) error) methodFunc {
	return func(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
		if len(args) != 1 {
			return nil, newError(TypeError, "set.%s() takes exactly one argument (%d given)", name, len(args))
		}
		return None, fn(self.(*Set), args[0])
	}
}

func setDiscard(s *Set, v Value) error {
	_, err := s.Remove(v)
	return err
}

func setRemove(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
	if len(args) != 1 {
		return nil, newError(TypeError, "set.remove() takes exactly one argument (%d given)", len(args))
	}
	ok, err := self.(*Set).Remove(args[0])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, keyError(args[0])
	}
	return None, nil
}

func setPop(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
	s := self.(*Set)
	if s.Len() == 0 {
		return nil, newError(KeyError, "pop from an empty set")
	}
	v := s.items[0]
	_, err := s.Remove(v)
	return v, err
}

func setClear(self Value) error {
	s := self.(*Set)
	s.items = nil
	s.index = make(map[any]int)
	return nil
}

func setCombine(op string, inPlace bool) methodFunc {
	return func(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
		s := self.(*Set)
		acc := s.copySet()
		for _, a := range args {
			other, err := in.toSet(a)
			if err != nil {
				return nil, err
			}
			var r Value
			if op == "-" {
				r = setDifference(acc, other)
			} else if r, err = setOp(op, acc, other); err != nil {
				return nil, err
			}
			acc = r.(*Set)
		}
		if inPlace {
			s.items, s.index = acc.items, acc.index
			return None, nil
		}
		acc.Frozen = s.Frozen
		return acc, nil
	}
}

func setCompare(fn func(a, b *Set) (bool, error)) methodFunc {
	return func(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
		if len(args) != 1 {
			return nil, newError(TypeError, "expected exactly one argument (%d given)", len(args))
		}
		other, err := in.toSet(args[0])
		if err != nil {
			return nil, err
		}
		ok, err := fn(self.(*Set), other)
		return boolValue(ok), err
	}
}

// numbers

func floatRatio(in *Interp, self Value, args []Value, kw []Kwarg) (Value, error) {
	f := float64(self.(Float))
	if math.IsInf(f, 0) {
		return nil, newError(OverflowError, "cannot convert Infinity to integer ratio")
	}
	if math.IsNaN(f) {
		return nil, newError(ValueError, "cannot convert NaN to integer ratio")
	}
	r := new(big.Rat).SetFloat64(f)
	return NewTuple(NewBig(new(big.Int).Set(r.Num())), NewBig(new(big.Int).Set(r.Denom()))), nil
}
