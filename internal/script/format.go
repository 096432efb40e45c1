package script

import (
	"math"
	"math/big"
	"strconv"
	"strings"
	"unicode/utf8"
)

type formatSpec struct {
	fill      rune
	align     byte
	sign      byte
	alt       bool
	zero      bool
	width     int
	grouping  byte
	precision int
	typ       byte
}

func parseFormatSpec(spec string) (formatSpec, error) {
	fs := formatSpec{fill: ' ', precision: -1}
	s := spec
	if r, size := utf8.DecodeRuneInString(s); size > 0 && len(s) > size && strings.ContainsRune("<>=^", rune(s[size])) {
		fs.fill, fs.align = r, s[size]
		s = s[size+1:]
	} else if len(s) > 0 && strings.ContainsRune("<>=^", rune(s[0])) {
		fs.align = s[0]
		s = s[1:]
	}
	if len(s) > 0 && strings.ContainsRune("+- ", rune(s[0])) {
		fs.sign = s[0]
		s = s[1:]
	}
	if len(s) > 0 && s[0] == '#' {
		fs.alt = true
		s = s[1:]
	}
	if len(s) > 0 && s[0] == '0' {
		fs.zero = true
		s = s[1:]
	}
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i > 0 {
		fs.width, _ = strconv.Atoi(s[:i])
		s = s[i:]
	}
	if len(s) > 0 && (s[0] == ',' || s[0] == '_') {
		fs.grouping = s[0]
		s = s[1:]
	}
	if len(s) > 0 && s[0] == '.' {
		j := 1
		for j < len(s) && s[j] >= '0' && s[j] <= '9' {
			j++
		}
		if j == 1 {
			return fs, newError(ValueError, "Format specifier missing precision")
		}
		fs.precision, _ = strconv.Atoi(s[1:j])
		s = s[j:]
	}
	if len(s) > 1 {
		return fs, newError(ValueError, "Invalid format specifier '%s'", spec)
	}
	if len(s) == 1 {
		fs.typ = s[0]
	}
	if fs.zero && fs.align == 0 {
		fs.fill, fs.align = '0', '='
	}
	return fs, nil
}

// format implements format(v, spec).
func (in *Interp) format(v Value, spec string) (string, error) {
	if inst, ok := v.(*Instance); ok {
		if m, ok := inst.Class.Lookup("__format__"); ok {
			r, err := in.callMethod(inst, m, []Value{Str(spec)}, nil)
			if err != nil {
				return "", err
			}
			s, _ := r.(Str)
			return string(s), nil
		}
	}
	if spec == "" {
		return in.Str(v)
	}
	fs, err := parseFormatSpec(spec)
	if err != nil {
		return "", err
	}
	var body, sign string
	numeric := true
	switch x := v.(type) {
	case Bool, Int, BigInt:
		if fs.typ == 0 {
			if b, ok := x.(Bool); ok && fs.typ == 0 && fs.width == 0 {
				s, _ := in.Str(b)
				return s, nil
			}
		}
		switch fs.typ {
		case 'e', 'E', 'f', 'F', 'g', 'G', '%':
			f, _ := toFloat(x)
			body, sign = formatFloatSpec(f, fs)
		default:
			body, sign, err = formatIntSpec(bigOf(x), fs)
			if err != nil {
				return "", err
			}
		}
	case Float:
		if fs.typ != 0 && !strings.ContainsRune("eEfFgG%n", rune(fs.typ)) {
			return "", newError(ValueError, "Unknown format code '%c' for object of type 'float'", fs.typ)
		}
		body, sign = formatFloatSpec(float64(x), fs)
	default:
		numeric = false
		if fs.typ != 0 && fs.typ != 's' {
			return "", newError(ValueError, "Unknown format code '%c' for object of type '%s'", fs.typ, v.TypeName())
		}
		s, err := in.Str(v)
		if err != nil {
			return "", err
		}
		if fs.precision >= 0 {
			r := []rune(s)
			if len(r) > fs.precision {
				s = string(r[:fs.precision])
			}
		}
		body = s
	}
	if numeric {
		switch fs.sign {
		case '+':
			if sign == "" {
				sign = "+"
			}
		case ' ':
			if sign == "" {
				sign = " "
			}
		}
	}
	align := fs.align
	if align == 0 {
		if numeric {
			align = '>'
		} else {
			align = '<'
		}
	}
	return pad(sign, body, fs.fill, align, fs.width), nil
}

func pad(sign, body string, fill rune, align byte, width int) string {
	n := utf8.RuneCountInString(sign) + utf8.RuneCountInString(body)
	if n >= width {
		return sign + body
	}
	padding := strings.Repeat(string(fill), width-n)
	switch align {
	case '<':
		return sign + body + padding
	case '^':
		left := (width - n) / 2
		return strings.Repeat(string(fill), left) + sign + body + strings.Repeat(string(fill), width-n-left)
	case '=':
		return sign + padding + body
	}
	return padding + sign + body
}

func formatIntSpec(b *big.Int, fs formatSpec) (string, string, error) {
	sign := ""
	abs := new(big.Int).Abs(b)
	if b.Sign() < 0 {
		sign = "-"
	}
	var body, prefix string
	switch fs.typ {
	case 0, 'd', 'n':
		body = abs.String()
	case 'x':
		body, prefix = abs.Text(16), "0x"
	case 'X':
		body, prefix = strings.ToUpper(abs.Text(16)), "0X"
	case 'o':
		body, prefix = abs.Text(8), "0o"
	case 'b':
		body, prefix = abs.Text(2), "0b"
	case 'c':
		return string(rune(b.Int64())), "", nil
	case 's':
		return "", "", newError(ValueError, "Unknown format code 's' for object of type 'int'")
	default:
		return "", "", newError(ValueError, "Unknown format code '%c' for object of type 'int'", fs.typ)
	}
	if fs.grouping != 0 {
		every := 3
		if fs.typ == 'x' || fs.typ == 'X' || fs.typ == 'o' || fs.typ == 'b' {
			every = 4
		}
		body = group(body, string(fs.grouping), every)
	}
	if fs.alt {
		body = prefix + body
	}
	return body, sign, nil
}

func formatFloatSpec(f float64, fs formatSpec) (string, string) {
	sign := ""
	if math.Signbit(f) && !math.IsNaN(f) {
		sign = "-"
		f = -f
	}
	prec := fs.precision
	var body string
	switch fs.typ {
	case 'f', 'F':
		if prec < 0 {
			prec = 6
		}
		body = strconv.FormatFloat(f, 'f', prec, 64)
	case 'e', 'E':
		if prec < 0 {
			prec = 6
		}
		body = pyExponent(strconv.FormatFloat(f, 'e', prec, 64))
	case 'g', 'G':
		if prec < 0 {
			prec = 6
		}
		if prec == 0 {
			prec = 1
		}
		body = pyGeneral(f, prec, fs.alt)
	case '%':
		if prec < 0 {
			prec = 6
		}
		body = strconv.FormatFloat(f*100, 'f', prec, 64) + "%"
	default:
		if prec < 0 {
			body = FormatFloat(f)
		} else {
			body = pyGeneral(f, prec, false)
			if !strings.ContainsAny(body, ".einfa") {
				body += ".0"
			}
		}
	}
	if math.IsInf(f, 0) {
		body = "inf"
	} else if math.IsNaN(f) {
		body = "nan"
	}
	if fs.typ == 'F' || fs.typ == 'E' || fs.typ == 'G' {
		body = strings.ToUpper(body)
	}
	if fs.grouping != 0 {
		intPart, frac, found := strings.Cut(body, ".")
		body = group(intPart, string(fs.grouping), 3)
		if found {
			body += "." + frac
		}
	}
	return body, sign
}

func pyExponent(s string) string {
	mant, exp, ok := strings.Cut(s, "e")
	if !ok {
		return s
	}
	sign := exp[0]
	digits := strings.TrimLeft(exp[1:], "0")
	if len(digits) < 2 {
		digits = strings.Repeat("0", 2-len(digits)) + digits
	}
	return mant + "e" + string(sign) + digits
}

func pyGeneral(f float64, prec int, alt bool) string {
	if f == 0 {
		return "0"
	}
	exp := int(math.Floor(math.Log10(math.Abs(f))))
	// Rounding may carry into the next power of ten.
	e := strconv.FormatFloat(f, 'e', prec-1, 64)
	if _, es, ok := strings.Cut(e, "e"); ok {
		exp, _ = strconv.Atoi(es)
	}
	var s string
	if exp < -4 || exp >= prec {
		s = pyExponent(e)
		if !alt {
			mant, rest, _ := strings.Cut(s, "e")
			if strings.Contains(mant, ".") {
				mant = strings.TrimRight(strings.TrimRight(mant, "0"), ".")
			}
			s = mant + "e" + rest
		}
		return s
	}
	s = strconv.FormatFloat(f, 'f', max(prec-1-exp, 0), 64)
	if !alt && strings.Contains(s, ".") {
		s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	}
	return s
}

func group(digits, sep string, every int) string {
	if len(digits) <= every {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % every
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += every {
		if b.Len() > 0 {
			b.WriteString(sep)
		}
		b.WriteString(digits[i : i+every])
	}
	return b.String()
}

// percentFormat implements the printf style str % args operator.
func (in *Interp) percentFormat(format string, args Value) (string, error) {
	var items []Value
	var mapping *Dict
	switch x := args.(type) {
	case *Tuple:
		items = x.Items
	case *Dict:
		mapping = x
		items = []Value{x}
	default:
		items = []Value{args}
	}
	next := 0
	var b strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(format) {
			return "", newError(ValueError, "incomplete format")
		}
		var key string
		if format[i] == '(' {
			end := strings.IndexByte(format[i:], ')')
			if end < 0 {
				return "", newError(ValueError, "incomplete format key")
			}
			key = format[i+1 : i+end]
			i += end + 1
		}
		var flags string
		for i < len(format) && strings.IndexByte("-+ #0", format[i]) >= 0 {
			flags += string(format[i])
			i++
		}
		width := ""
		for i < len(format) && (format[i] >= '0' && format[i] <= '9' || format[i] == '*') {
			width += string(format[i])
			i++
		}
		precision := ""
		if i < len(format) && format[i] == '.' {
			precision = "."
			i++
			for i < len(format) && format[i] >= '0' && format[i] <= '9' {
				precision += string(format[i])
				i++
			}
		}
		if i >= len(format) {
			return "", newError(ValueError, "incomplete format")
		}
		conv := format[i]
		if conv == '%' {
			b.WriteByte('%')
			continue
		}
		var v Value
		if key != "" {
			if mapping == nil {
				return "", newError(TypeError, "format requires a mapping")
			}
			var err error
			if v, err = in.getItem(mapping, Str(key)); err != nil {
				return "", err
			}
		} else {
			if next >= len(items) {
				return "", newError(TypeError, "not enough arguments for format string")
			}
			v = items[next]
			next++
		}
		var spec strings.Builder
		align := byte('>')
		if strings.Contains(flags, "-") {
			align = '<'
		}
		if strings.Contains(flags, "0") && align == '>' && conv != 's' && conv != 'r' {
			spec.WriteString("0")
		} else {
			spec.WriteByte(align)
		}
		if strings.Contains(flags, "+") {
			spec.WriteString("+")
		} else if strings.Contains(flags, " ") {
			spec.WriteString(" ")
		}
		if strings.Contains(flags, "#") {
			spec.WriteString("#")
		}
		spec.WriteString(width)
		switch conv {
		case 's', 'r', 'a':
			var s string
			var err error
			if conv == 's' {
				s, err = in.Str(v)
			} else {
				s, err = in.Repr(v)
			}
			if err != nil {
				return "", err
			}
			spec.WriteString(precision)
			out, err := in.format(Str(s), spec.String())
			if err != nil {
				return "", err
			}
			b.WriteString(out)
		case 'd', 'i', 'u':
			if !IsNumber(v) {
				return "", newError(TypeError, "%%%c format: a real number is required, not %s", conv, v.TypeName())
			}
			if f, ok := v.(Float); ok {
				v = NewBig(floatToBig(math.Trunc(float64(f))))
			}
			out, err := in.format(v, spec.String()+"d")
			if err != nil {
				return "", err
			}
			b.WriteString(out)
		case 'x', 'X', 'o', 'c':
			out, err := in.format(v, spec.String()+string(conv))
			if err != nil {
				return "", err
			}
			b.WriteString(out)
		case 'f', 'F', 'e', 'E', 'g', 'G':
			if !IsNumber(v) {
				return "", newError(TypeError, "must be real number, not %s", v.TypeName())
			}
			f, _ := toFloat(v)
			out, err := in.format(Float(f), spec.String()+precision+string(conv))
			if err != nil {
				return "", err
			}
			b.WriteString(out)
		default:
			return "", newError(ValueError, "unsupported format character '%c' (0x%x)", conv, conv)
		}
	}
	if mapping == nil && next < len(items) {
		return "", newError(TypeError, "not all arguments converted during string formatting")
	}
	return b.String(), nil
}

func floatToBig(f float64) *big.Int {
	b, _ := new(big.Float).SetFloat64(f).Int(nil)
	return b
}

// strFormat implements str.format.
func (in *Interp) strFormat(format string, args []Value, kw []Kwarg) (string, error) {
	var b strings.Builder
	auto := 0
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c == '}' {
			if i+1 < len(format) && format[i+1] == '}' {
				i++
			}
			b.WriteByte('}')
			continue
		}
		if c != '{' {
			b.WriteByte(c)
			continue
		}
		if i+1 < len(format) && format[i+1] == '{' {
			b.WriteByte('{')
			i++
			continue
		}
		depth, j := 1, i+1
		for j < len(format) && depth > 0 {
			switch format[j] {
			case '{':
				depth++
			case '}':
				depth--
			}
			j++
		}
		if depth != 0 {
			return "", newError(ValueError, "Single '{' encountered in format string")
		}
		field := format[i+1 : j-1]
		i = j - 1

		spec := ""
		if k := strings.IndexByte(field, ':'); k >= 0 {
			field, spec = field[:k], field[k+1:]
			if strings.Contains(spec, "{") {
				s, err := in.strFormat(spec, args, kw)
				if err != nil {
					return "", err
				}
				spec = s
			}
		}
		conv := byte(0)
		if k := strings.IndexByte(field, '!'); k >= 0 && k+1 < len(field) {
			conv = field[k+1]
			field = field[:k]
		}
		name, rest := field, ""
		if k := strings.IndexAny(field, ".["); k >= 0 {
			name, rest = field[:k], field[k:]
		}
		var v Value
		switch {
		case name == "":
			if auto >= len(args) {
				return "", newError(IndexError, "Replacement index %d out of range for positional args tuple", auto)
			}
			v = args[auto]
			auto++
		case name[0] >= '0' && name[0] <= '9':
			n, _ := strconv.Atoi(name)
			if n >= len(args) {
				return "", newError(IndexError, "Replacement index %d out of range for positional args tuple", n)
			}
			v = args[n]
		default:
			found := false
			for _, k := range kw {
				if k.Name == name {
					v, found = k.Value, true
				}
			}
			if !found {
				return "", keyError(Str(name))
			}
		}
		for rest != "" {
			if rest[0] == '.' {
				end := strings.IndexAny(rest[1:], ".[")
				attr := rest[1:]
				if end >= 0 {
					attr = rest[1 : end+1]
				}
				var err error
				if v, err = in.getAttr(v, attr); err != nil {
					return "", err
				}
				rest = rest[1+len(attr):]
				continue
			}
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				return "", newError(ValueError, "Missing ']' in format string")
			}
			keyText := rest[1:end]
			var key Value = Str(keyText)
			if n, err := strconv.Atoi(keyText); err == nil {
				key = Int(n)
			}
			var err error
			if v, err = in.getItem(v, key); err != nil {
				return "", err
			}
			rest = rest[end+1:]
		}
		switch conv {
		case 'r':
			s, err := in.Repr(v)
			if err != nil {
				return "", err
			}
			v = Str(s)
		case 's':
			s, err := in.Str(v)
			if err != nil {
				return "", err
			}
			v = Str(s)
		}
		out, err := in.format(v, spec)
		if err != nil {
			return "", err
		}
		b.WriteString(out)
	}
	return b.String(), nil
}
