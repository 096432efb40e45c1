package script

import (
	"bufio"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"
)

type moduleBuilder func(in *Interp) *Module

var stdlib map[string]moduleBuilder

func init() {
	stdlib = map[string]moduleBuilder{
		"math":        mathModule,
		"random":      randomModule,
		"time":        timeModule,
		"functools":   functoolsModule,
		"itertools":   itertoolsModule,
		"operator":    operatorModule,
		"string":      stringModule,
		"collections": collectionsModule,
		"re":          reModule,
		"json":        jsonModule,
		"heapq":       heapqModule,
		"bisect":      bisectModule,
		"copy":        copyModule,
		"hashlib":     hashlibModule,
		"os":          osModule,
		"os.path":     osPathModule,
		"sys":         sysModule,
	}
}

// StdlibModules lists the standard modules ImportStdlib can provide.
func StdlibModules() []string {
	names := make([]string, 0, len(stdlib))
	for n := range stdlib {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ImportStdlib resolves the standard modules implemented in Go.
func ImportStdlib(in *Interp, name string) (*Module, error) {
	build, ok := stdlib[name]
	if !ok {
		return nil, newError(ModuleNotFoundError, "No module named '%s'", name)
	}
	return build(in), nil
}

// Func binds a Go function as a module attribute.
func (m *Module) Func(name string, fn BuiltinFunc) {
	m.Attrs.Set(name, NewBuiltin(name, fn))
}

// Set binds a module attribute.
func (m *Module) Set(name string, v Value) { m.Attrs.Set(name, v) }

func strList(items []string) *List {
	out := make([]Value, len(items))
	for i, s := range items {
		out[i] = Str(s)
	}
	return NewList(out)
}

func strArg(fname string, v Value) (string, error) {
	s, ok := v.(Str)
	if !ok {
		return "", newError(TypeError, "%s() argument must be str, not %s", fname, v.TypeName())
	}
	return string(s), nil
}

// time

func timeModule(in *Interp) *Module {
	m := NewModule("time")
	start := time.Now()
	m.Func("time", func(*Interp, []Value, []Kwarg) (Value, error) {
		return Float(float64(time.Now().UnixNano()) / 1e9), nil
	})
	m.Func("time_ns", func(*Interp, []Value, []Kwarg) (Value, error) {
		return Int(time.Now().UnixNano()), nil
	})
	elapsed := func(*Interp, []Value, []Kwarg) (Value, error) {
		return Float(time.Since(start).Seconds()), nil
	}
	m.Func("perf_counter", elapsed)
	m.Func("monotonic", elapsed)
	m.Func("process_time", elapsed)
	m.Func("sleep", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("sleep", args, kw, "secs")
		if err != nil {
			return nil, err
		}
		secs, ok := toFloat(a[0])
		if !ok || secs < 0 {
			return nil, newError(ValueError, "sleep length must be non-negative")
		}
		deadline := time.Now().Add(time.Duration(secs * float64(time.Second)))
		for time.Now().Before(deadline) {
			if err := in.Interrupted(); err != nil {
				return nil, err
			}
			select {
			case <-in.ctx.Done():
				return nil, fmt.Errorf("%w: %w", ErrInterrupted, in.ctx.Err())
			case <-time.After(min(10*time.Millisecond, time.Until(deadline))):
			}
		}
		return None, nil
	})
	return m
}

// string

func stringModule(in *Interp) *Module {
	m := NewModule("string")
	lower := "abcdefghijklmnopqrstuvwxyz"
	upper := strings.ToUpper(lower)
	digits := "0123456789"
	punct := "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"
	ws := " \t\n\r\x0b\x0c"
	m.Set("ascii_lowercase", Str(lower))
	m.Set("ascii_uppercase", Str(upper))
	m.Set("ascii_letters", Str(lower+upper))
	m.Set("digits", Str(digits))
	m.Set("hexdigits", Str(digits+"abcdefABCDEF"))
	m.Set("octdigits", Str("01234567"))
	m.Set("punctuation", Str(punct))
	m.Set("whitespace", Str(ws))
	m.Set("printable", Str(digits+lower+upper+punct+ws))
	m.Func("capwords", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("capwords", args, kw, "s", "sep?")
		if err != nil {
			return nil, err
		}
		s, err := strArg("capwords", a[0])
		if err != nil {
			return nil, err
		}
		var words []string
		sep := " "
		if a[1] != nil && a[1] != None {
			sep, _ = strArg("capwords", a[1])
			words = strings.Split(s, sep)
		} else {
			words = strings.Fields(s)
		}
		for i, w := range words {
			words[i] = capitalize(w)
		}
		return Str(strings.Join(words, sep)), nil
	})
	return m
}

// copy

func copyModule(in *Interp) *Module {
	m := NewModule("copy")
	m.Func("copy", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("copy", args, kw, "x")
		if err != nil {
			return nil, err
		}
		return in.shallowCopy(a[0])
	})
	m.Func("deepcopy", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("deepcopy", args, kw, "x", "memo?")
		if err != nil {
			return nil, err
		}
		return in.deepCopy(a[0], map[uint64]Value{})
	})
	return m
}

func (in *Interp) shallowCopy(v Value) (Value, error) {
	switch x := v.(type) {
	case *List:
		return NewList(append([]Value(nil), x.Items...)), nil
	case *Dict:
		return x.copyDict(), nil
	case *Set:
		return x.copySet(), nil
	case *Deque:
		return &Deque{Items: append([]Value(nil), x.Items...), MaxLen: x.MaxLen}, nil
	case *Instance:
		if m, ok := x.Class.Lookup("__copy__"); ok {
			return in.callMethod(x, m, nil, nil)
		}
		return &Instance{Class: x.Class, Attrs: x.Attrs.Clone()}, nil
	}
	return v, nil
}

func (in *Interp) deepCopy(v Value, memo map[uint64]Value) (Value, error) {
	id := Identity(v)
	if id != 0 {
		if c, ok := memo[id]; ok {
			return c, nil
		}
	}
	copyAll := func(items []Value) ([]Value, error) {
		out := make([]Value, len(items))
		for i, it := range items {
			c, err := in.deepCopy(it, memo)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	}
	switch x := v.(type) {
	case *List:
		l := NewList(nil)
		memo[id] = l
		items, err := copyAll(x.Items)
		l.Items = items
		return l, err
	case *Tuple:
		items, err := copyAll(x.Items)
		if err != nil {
			return nil, err
		}
		t := NewTuple(items...)
		memo[id] = t
		return t, nil
	case *Deque:
		d := &Deque{MaxLen: x.MaxLen}
		memo[id] = d
		items, err := copyAll(x.Items)
		d.Items = items
		return d, err
	case *Dict:
		d := &Dict{index: make(map[any]int), Kind: x.Kind, Factory: x.Factory}
		memo[id] = d
		for _, kv := range x.Items() {
			k, err := in.deepCopy(kv[0], memo)
			if err != nil {
				return nil, err
			}
			val, err := in.deepCopy(kv[1], memo)
			if err != nil {
				return nil, err
			}
			if err := d.Set(k, val); err != nil {
				return nil, err
			}
		}
		return d, nil
	case *Set:
		s := &Set{index: make(map[any]int), Frozen: x.Frozen}
		memo[id] = s
		for _, it := range x.items {
			c, err := in.deepCopy(it, memo)
			if err != nil {
				return nil, err
			}
			if err := s.Add(c); err != nil {
				return nil, err
			}
		}
		return s, nil
	case *Instance:
		if m, ok := x.Class.Lookup("__deepcopy__"); ok {
			return in.callMethod(x, m, []Value{NewDict()}, nil)
		}
		inst := &Instance{Class: x.Class, Attrs: NewNamespace()}
		memo[id] = inst
		for _, b := range x.Attrs.Bindings() {
			c, err := in.deepCopy(b.Value, memo)
			if err != nil {
				return nil, err
			}
			inst.Attrs.Set(b.Name, c)
		}
		return inst, nil
	}
	return v, nil
}

// hashlib

type hashObject struct {
	name string
	h    hash.Hash
}

func (h *hashObject) TypeName() string { return "_hashlib.HASH" }

func (h *hashObject) GetAttr(in *Interp, name string) (Value, error) {
	switch name {
	case "name":
		return Str(h.name), nil
	case "digest_size":
		return Int(h.h.Size()), nil
	case "block_size":
		return Int(h.h.BlockSize()), nil
	case "hexdigest":
		return NewBuiltin(name, func(*Interp, []Value, []Kwarg) (Value, error) {
			return Str(hex.EncodeToString(h.h.Sum(nil))), nil
		}), nil
	case "update":
		return NewBuiltin(name, func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
			a, err := unpackArgs("update", args, kw, "data")
			if err != nil {
				return nil, err
			}
			s, err := strArg("update", a[0])
			if err != nil {
				return nil, err
			}
			h.h.Write([]byte(s))
			return None, nil
		}), nil
	}
	return nil, newError(AttributeError, "'%s' object has no attribute '%s'", h.TypeName(), name)
}

func (h *hashObject) Repr(*Interp) (string, error) {
	return fmt.Sprintf("<%s _hashlib.HASH object>", h.name), nil
}

func hashlibModule(in *Interp) *Module {
	m := NewModule("hashlib")
	algos := map[string]func() hash.Hash{
		"md5":    md5.New,
		"sha1":   sha1.New,
		"sha256": sha256.New,
		"sha224": sha256.New224,
		"sha512": sha512.New,
		"sha384": sha512.New384,
	}
	mk := func(name string) BuiltinFunc {
		return func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
			a, err := unpackArgs(name, args, kw, "string?", "usedforsecurity?")
			if err != nil {
				return nil, err
			}
			h := &hashObject{name: name, h: algos[name]()}
			if a[0] != nil {
				s, err := strArg(name, a[0])
				if err != nil {
					return nil, err
				}
				h.h.Write([]byte(s))
			}
			return h, nil
		}
	}
	names := make([]string, 0, len(algos))
	for name := range algos {
		m.Func(name, mk(name))
		names = append(names, name)
	}
	sort.Strings(names)
	set := NewSet()
	set.Frozen = true
	for _, n := range names {
		_ = set.Add(Str(n))
	}
	m.Set("algorithms_available", set)
	m.Func("new", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		if len(args) < 1 {
			return nil, newError(TypeError, "new() missing required argument 'name' (pos 1)")
		}
		name, err := strArg("new", args[0])
		if err != nil {
			return nil, err
		}
		if _, ok := algos[strings.ToLower(name)]; !ok {
			return nil, newError(ValueError, "unsupported hash type %s", name)
		}
		return mk(strings.ToLower(name))(in, args[1:], kw)
	})
	return m
}

// sys

// stream is a writable text stream such as sys.stdout.
type stream struct {
	name string
	w    io.Writer
}

func (s *stream) TypeName() string { return "_io.TextIOWrapper" }

func (s *stream) GetAttr(in *Interp, name string) (Value, error) {
	switch name {
	case "write":
		return NewBuiltin(name, func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
			if len(args) != 1 {
				return nil, newError(TypeError, "write() takes exactly one argument (%d given)", len(args))
			}
			text, err := strArg("write", args[0])
			if err != nil {
				return nil, err
			}
			io.WriteString(s.w, text)
			return Int(len([]rune(text))), nil
		}), nil
	case "writelines":
		return NewBuiltin(name, func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
			if len(args) != 1 {
				return nil, newError(TypeError, "writelines() takes exactly one argument (%d given)", len(args))
			}
			items, err := in.iterate(args[0])
			if err != nil {
				return nil, err
			}
			for _, it := range items {
				text, err := strArg("writelines", it)
				if err != nil {
					return nil, err
				}
				io.WriteString(s.w, text)
			}
			return None, nil
		}), nil
	case "flush":
		return NewBuiltin(name, func(*Interp, []Value, []Kwarg) (Value, error) { return None, nil }), nil
	case "name":
		return Str(s.name), nil
	}
	return nil, newError(AttributeError, "'%s' object has no attribute '%s'", s.TypeName(), name)
}

func (s *stream) Repr(*Interp) (string, error) {
	return fmt.Sprintf("<_io.TextIOWrapper name='%s' mode='w' encoding='utf-8'>", s.name), nil
}

func sysModule(in *Interp) *Module {
	m := NewModule("sys")
	m.Set("argv", strList([]string{""}))
	m.Set("version", Str("3.11.0 (graph executor)"))
	m.Set("version_info", NewTuple(Int(3), Int(11), Int(0), Str("final"), Int(0)))
	m.Set("maxsize", Int(1<<63-1))
	m.Set("platform", Str(runtime.GOOS))
	m.Set("byteorder", Str("little"))
	m.Set("path", NewList(nil))
	m.Set("stdout", &stream{name: "<stdout>", w: in.stdout})
	m.Set("stderr", &stream{name: "<stderr>", w: in.stderr})
	m.Func("getrecursionlimit", func(in *Interp, _ []Value, _ []Kwarg) (Value, error) {
		return Int(in.maxDepth), nil
	})
	m.Func("setrecursionlimit", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("setrecursionlimit", args, kw, "limit")
		if err != nil {
			return nil, err
		}
		n, ok := toInt64(a[0])
		if !ok || n < 1 {
			return nil, newError(ValueError, "recursion limit must be greater or equal than 1")
		}
		in.maxDepth = int(n)
		return None, nil
	})
	m.Func("exit", builtinExit)
	m.Func("getsizeof", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		if len(args) < 1 {
			return nil, newError(TypeError, "getsizeof() missing required argument 'object' (pos 1)")
		}
		n := 0
		if l, ok := args[0].(Lener); ok {
			n = l.Len()
		}
		return Int(56 + 8*n), nil
	})
	return m
}

// os

func osModule(in *Interp) *Module {
	m := NewModule("os")
	m.Set("sep", Str(string(filepath.Separator)))
	m.Set("linesep", Str("\n"))
	m.Set("name", Str("posix"))
	m.Set("path", osPathModule(in))
	env := NewDict()
	for _, kv := range os.Environ() {
		k, v, _ := strings.Cut(kv, "=")
		env.SetStr(k, Str(v))
	}
	m.Set("environ", env)
	m.Func("getenv", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("getenv", args, kw, "key", "default?")
		if err != nil {
			return nil, err
		}
		key, err := strArg("getenv", a[0])
		if err != nil {
			return nil, err
		}
		if v, ok := os.LookupEnv(key); ok {
			return Str(v), nil
		}
		return orNone(a[1]), nil
	})
	m.Func("getcwd", func(*Interp, []Value, []Kwarg) (Value, error) {
		wd, err := os.Getwd()
		if err != nil {
			return nil, osError(err)
		}
		return Str(wd), nil
	})
	m.Func("listdir", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		a, err := unpackArgs("listdir", args, kw, "path?")
		if err != nil {
			return nil, err
		}
		dir := "."
		if a[0] != nil {
			if dir, err = strArg("listdir", a[0]); err != nil {
				return nil, err
			}
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, osError(err)
		}
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		return strList(names), nil
	})
	m.Func("getpid", func(*Interp, []Value, []Kwarg) (Value, error) { return Int(os.Getpid()), nil })
	return m
}

func osPathModule(in *Interp) *Module {
	m := NewModule("os.path")
	m.Set("sep", Str(string(filepath.Separator)))
	str1 := func(name string, fn func(string) Value) {
		m.Func(name, func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
			a, err := unpackArgs(name, args, kw, "path")
			if err != nil {
				return nil, err
			}
			p, err := strArg(name, a[0])
			if err != nil {
				return nil, err
			}
			return fn(p), nil
		})
	}
	str1("basename", func(p string) Value { return Str(p[strings.LastIndex(p, "/")+1:]) })
	str1("dirname", func(p string) Value {
		i := strings.LastIndex(p, "/")
		if i < 0 {
			return Str("")
		}
		if i == 0 {
			return Str("/")
		}
		return Str(p[:i])
	})
	stat := func(p string, ok func(fs.FileInfo) bool) Value {
		st, err := os.Stat(p)
		return boolValue(err == nil && ok(st))
	}
	str1("exists", func(p string) Value { return stat(p, func(fs.FileInfo) bool { return true }) })
	str1("isfile", func(p string) Value { return stat(p, func(st fs.FileInfo) bool { return st.Mode().IsRegular() }) })
	str1("isdir", func(p string) Value { return stat(p, fs.FileInfo.IsDir) })
	str1("isabs", func(p string) Value { return boolValue(filepath.IsAbs(p)) })
	str1("abspath", func(p string) Value {
		abs, err := filepath.Abs(p)
		if err != nil {
			return Str(p)
		}
		return Str(abs)
	})
	str1("normpath", func(p string) Value { return Str(filepath.Clean(p)) })
	str1("splitext", func(p string) Value {
		ext := filepath.Ext(p)
		if ext == p || strings.HasSuffix(strings.TrimSuffix(p, ext), "/") {
			return NewTuple(Str(p), Str(""))
		}
		return NewTuple(Str(strings.TrimSuffix(p, ext)), Str(ext))
	})
	str1("split", func(p string) Value {
		i := strings.LastIndex(p, "/")
		head := p[:i+1]
		if len(head) > 1 {
			head = strings.TrimRight(head, "/")
		}
		return NewTuple(Str(head), Str(p[i+1:]))
	})
	m.Func("join", func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
		if len(args) == 0 {
			return nil, newError(TypeError, "join() missing required argument 'a' (pos 1)")
		}
		out := ""
		for _, a := range args {
			p, err := strArg("join", a)
			if err != nil {
				return nil, err
			}
			switch {
			case strings.HasPrefix(p, "/"):
				out = p
			case out == "" || strings.HasSuffix(out, "/"):
				out += p
			default:
				out += "/" + p
			}
		}
		return Str(out), nil
	})
	return m
}

func osError(err error) *Exception {
	if errors.Is(err, fs.ErrNotExist) {
		return NewException(FileNotFoundError, err.Error())
	}
	return NewException(OSError, err.Error())
}

// open

// fileObject is a text file opened by open().
type fileObject struct {
	name   string
	mode   string
	f      *os.File
	r      *bufio.Reader
	closed bool
}

func (*fileObject) TypeName() string { return "_io.TextIOWrapper" }

func builtinOpen(in *Interp, args []Value, kw []Kwarg) (Value, error) {
	a, err := unpackArgs("open", args, kw, "file", "mode?", "buffering?", "encoding?", "errors?", "newline?")
	if err != nil {
		return nil, err
	}
	name, err := strArg("open", a[0])
	if err != nil {
		return nil, err
	}
	mode := "r"
	if a[1] != nil {
		if mode, err = strArg("open", a[1]); err != nil {
			return nil, err
		}
	}
	flag := os.O_RDONLY
	switch strings.Trim(mode, "tb+") {
	case "r":
		if strings.Contains(mode, "+") {
			flag = os.O_RDWR
		}
	case "w":
		flag = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	case "a":
		flag = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	case "x":
		flag = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	default:
		return nil, newError(ValueError, "invalid mode: '%s'", mode)
	}
	f, err := os.OpenFile(name, flag, 0o644)
	if err != nil {
		return nil, osError(err)
	}
	return &fileObject{name: name, mode: mode, f: f, r: bufio.NewReader(f)}, nil
}

func (fo *fileObject) readLine() (string, bool, error) {
	line, err := fo.r.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", false, osError(err)
	}
	return line, line != "", nil
}

func (fo *fileObject) check() error {
	if fo.closed {
		return newError(ValueError, "I/O operation on closed file.")
	}
	return nil
}

func (fo *fileObject) GetAttr(in *Interp, name string) (Value, error) {
	fn := func(f BuiltinFunc) (Value, error) {
		return NewBuiltin(name, func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
			if err := fo.check(); err != nil && name != "close" {
				return nil, err
			}
			return f(in, args, kw)
		}), nil
	}
	switch name {
	case "name":
		return Str(fo.name), nil
	case "mode":
		return Str(fo.mode), nil
	case "closed":
		return boolValue(fo.closed), nil
	case "read":
		return fn(func(*Interp, []Value, []Kwarg) (Value, error) {
			b, err := io.ReadAll(fo.r)
			if err != nil {
				return nil, osError(err)
			}
			return Str(b), nil
		})
	case "readline":
		return fn(func(*Interp, []Value, []Kwarg) (Value, error) {
			line, _, err := fo.readLine()
			return Str(line), err
		})
	case "readlines":
		return fn(func(*Interp, []Value, []Kwarg) (Value, error) {
			var lines []Value
			for {
				line, ok, err := fo.readLine()
				if err != nil {
					return nil, err
				}
				if !ok {
					return NewList(lines), nil
				}
				lines = append(lines, Str(line))
			}
		})
	case "write":
		return fn(func(in *Interp, args []Value, kw []Kwarg) (Value, error) {
			if len(args) != 1 {
				return nil, newError(TypeError, "write() takes exactly one argument (%d given)", len(args))
			}
			s, err := strArg("write", args[0])
			if err != nil {
				return nil, err
			}
			if _, err := fo.f.WriteString(s); err != nil {
				return nil, osError(err)
			}
			return Int(len([]rune(s))), nil
		})
	case "close":
		return fn(func(*Interp, []Value, []Kwarg) (Value, error) {
			if !fo.closed {
				fo.closed = true
				fo.f.Close()
			}
			return None, nil
		})
	}
	return nil, newError(AttributeError, "'%s' object has no attribute '%s'", fo.TypeName(), name)
}

func (fo *fileObject) Iter(in *Interp) (Iterator, error) {
	if err := fo.check(); err != nil {
		return nil, err
	}
	return &FuncIter{Name: "file_iterator", Fn: func(*Interp) (Value, bool, error) {
		line, ok, err := fo.readLine()
		return Str(line), ok, err
	}}, nil
}

func (fo *fileObject) Enter(*Interp, *Frame) (Value, error) { return fo, nil }

func (fo *fileObject) Exit(*Interp, *Frame, *Exception) (bool, error) {
	if !fo.closed {
		fo.closed = true
		fo.f.Close()
	}
	return false, nil
}

func (fo *fileObject) Repr(*Interp) (string, error) {
	return fmt.Sprintf("<_io.TextIOWrapper name='%s' mode='%s' encoding='UTF-8'>", fo.name, fo.mode), nil
}
