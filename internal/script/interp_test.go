package script

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func runProgram(t *testing.T, src string) (string, error) {
	t.Helper()
	prog, err := Compile(context.Background(), "main.py", []byte(src))
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	var out bytes.Buffer
	in := New(Options{Stdout: &out})
	defer in.Close()
	err = in.Exec(context.Background(), prog, NewNamespace())
	return out.String(), err
}

func expectOutput(t *testing.T, src, want string) {
	t.Helper()
	got, err := runProgram(t, src)
	if err != nil {
		t.Fatalf("Exec() error: %v\noutput so far: %q", err, got)
	}
	if got != want {
		t.Errorf("output mismatch\n got: %q\nwant: %q", got, want)
	}
}

// --- Statements ---

func TestExec_Statements(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"print", "print(1, 'a', None, True)\n", "1 a None True\n"},
		{"arithmetic", "print(7 // 2, 7 % 3, -7 // 2, 2 ** 10, 7 / 2)\n", "3 1 -4 1024 3.5\n"},
		{"bigint", "print(2 ** 100)\n", "1267650600228229401496703205376\n"},
		{"if elif else", "x = 5\nif x < 3:\n    print('a')\nelif x < 10:\n    print('b')\nelse:\n    print('c')\n", "b\n"},
		{"while break", "i = 0\nwhile True:\n    i += 1\n    if i == 3:\n        break\nprint(i)\n", "3\n"},
		{"for else", "for i in range(3):\n    pass\nelse:\n    print('done', i)\n", "done 2\n"},
		{"unpack", "a, (b, *c) = 1, (2, 3, 4)\nprint(a, b, c)\n", "1 2 [3, 4]\n"},
		{"augmented", "xs = [1]\nxs += [2]\nxs *= 2\nprint(xs)\n", "[1, 2, 1, 2]\n"},
		{"chained compare", "print(1 < 2 < 3, 1 < 3 < 2)\n", "True False\n"},
		{"ternary", "print('y' if 0 else 'n')\n", "n\n"},
		{"del", "d = {'a': 1, 'b': 2}\ndel d['a']\nprint(d)\n", "{'b': 2}\n"},
		{"global", "n = 0\ndef inc():\n    global n\n    n += 1\ninc()\ninc()\nprint(n)\n", "2\n"},
		{"nonlocal", "def outer():\n    c = 0\n    def inner():\n        nonlocal c\n        c += 1\n        return c\n    inner()\n    return inner()\nprint(outer())\n", "2\n"},
		{"walrus", "if (n := 4) > 3:\n    print(n)\n", "4\n"},
		{"assert ok", "assert 1 == 1, 'no'\nprint('ok')\n", "ok\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			expectOutput(t, tc.src, tc.want)
		})
	}
}

func TestExec_Functions(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"defaults", "def f(a, b=2, *args, c=3, **kw):\n    return a, b, args, c, kw\nprint(f(1))\nprint(f(1, 5, 6, c=7, d=8))\n",
			"(1, 2, (), 3, {})\n(1, 5, (6,), 7, {'d': 8})\n"},
		{"closure", "def adder(n):\n    return lambda x: x + n\nprint(adder(3)(4))\n", "7\n"},
		{"recursion", "def fib(n):\n    return n if n < 2 else fib(n-1) + fib(n-2)\nprint(fib(15))\n", "610\n"},
		{"star call", "def f(a, b, c):\n    return a * 100 + b * 10 + c\nprint(f(*[1, 2], **{'c': 3}))\n", "123\n"},
		{"decorator", "def twice(fn):\n    def wrap(*a):\n        return fn(fn(*a))\n    return wrap\n@twice\ndef inc(x):\n    return x + 1\nprint(inc(1))\n", "3\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			expectOutput(t, tc.src, tc.want)
		})
	}
}

func TestExec_Classes(t *testing.T) {
	src := `class Node:
    count = 0
    def __init__(self, name):
        self.name = name
        Node.count += 1
    def __repr__(self):
        return 'Node(' + self.name + ')'
    def __eq__(self, other):
        return isinstance(other, Node) and self.name == other.name

class Leaf(Node):
    def __init__(self, name, weight):
        super().__init__(name)
        self.weight = weight

a = Node('a')
b = Leaf('b', 3)
print(a, b, b.weight, Node.count)
print(a == Node('a'), isinstance(b, Node), issubclass(Leaf, Node))
`
	expectOutput(t, src, "Node(a) Node(b) 3 2\nTrue True True\n")
}

func TestExec_Properties(t *testing.T) {
	src := `class Temp:
    def __init__(self):
        self._c = 0
    @property
    def c(self):
        return self._c
    @c.setter
    def c(self, v):
        self._c = v
    @staticmethod
    def unit():
        return 'C'
    @classmethod
    def make(cls):
        return cls()
t = Temp.make()
t.c = 21
print(t.c, Temp.unit())
`
	expectOutput(t, src, "21 C\n")
}

// --- Exceptions ---

func TestExec_Exceptions(t *testing.T) {
	src := `def risky(n):
    if n == 0:
        raise ValueError('zero')
    return 10 // n

for n in (2, 0):
    try:
        print(risky(n))
    except ValueError as e:
        print('caught', e)
    else:
        print('else')
    finally:
        print('finally')

try:
    {}['missing']
except LookupError as e:
    print(type(e).__name__, e)

class MyError(Exception):
    pass

try:
    try:
        raise MyError('inner')
    except MyError:
        raise RuntimeError('outer')
except RuntimeError as e:
    print(e)
`
	want := "5\nelse\nfinally\ncaught zero\nfinally\nKeyError 'missing'\nouter\n"
	expectOutput(t, src, want)
}

func TestExec_UncaughtException(t *testing.T) {
	_, err := runProgram(t, "def f():\n    return 1 / 0\nf()\n")
	var exc *Exception
	if !errors.As(err, &exc) {
		t.Fatalf("expected *Exception, got %T: %v", err, err)
	}
	if !exc.Is(ZeroDivisionError) {
		t.Errorf("class = %s, want ZeroDivisionError", exc.Class().Name)
	}
	if got := exc.Summary(); got != "ZeroDivisionError: division by zero" {
		t.Errorf("Summary() = %q", got)
	}
	tb := exc.FormatTraceback()
	if !strings.Contains(tb, "line 2, in f") || !strings.Contains(tb, "line 3, in <module>") {
		t.Errorf("traceback missing frames:\n%s", tb)
	}
}

func TestExec_WithStatement(t *testing.T) {
	src := `class Ctx:
    def __enter__(self):
        print('enter')
        return self
    def __exit__(self, et, ev, tb):
        print('exit', et.__name__ if et else None)
        return True
with Ctx() as c:
    raise KeyError('x')
print('after')
`
	expectOutput(t, src, "enter\nexit KeyError\nafter\n")
}

// --- Generators ---

func TestExec_Generators(t *testing.T) {
	src := `def count(n):
    i = 0
    while i < n:
        got = yield i
        if got:
            i = got
        i += 1
    return 'done'

print(list(count(4)))
g = count(10)
print(next(g), g.send(7), next(g))
def delegate():
    r = yield from count(2)
    yield r
print(list(delegate()))
print(sum(x * x for x in range(5)))
`
	expectOutput(t, src, "[0, 1, 2, 3]\n0 8 9\n[0, 1, 'done']\n30\n")
}

func TestExec_Comprehensions(t *testing.T) {
	src := `print([x for x in range(6) if x % 2])
print({k: v for k, v in zip('ab', (1, 2))})
print({x % 3 for x in range(9)})
print([(i, j) for i in range(2) for j in range(2) if i != j])
`
	expectOutput(t, src, "[1, 3, 5]\n{'a': 1, 'b': 2}\n{0, 1, 2}\n[(0, 1), (1, 0)]\n")
}

// --- Formatting ---

func TestExec_Formatting(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"fstring", "x = 3.14159\nprint(f'{x:.2f}|{x!r}|{42:>5}|{42:<5}|')\n", "3.14|3.14159|   42|42   |\n"},
		{"format method", "print('{0} {name} {0}'.format('a', name='b'))\n", "a b a\n"},
		{"percent", "print('%d-%s-%.1f-%05d' % (3, 'x', 2.25, 42))\n", "3-x-2.2-00042\n"},
		{"grouping", "print(f'{1234567:,}')\n", "1,234,567\n"},
		{"float repr", "print(0.1 + 0.2, 1e16, 1.0, 1/3)\n", "0.30000000000000004 1e+16 1.0 0.3333333333333333\n"},
		{"nested repr", "print([{'a': (1,)}, 'q\"', \"it's\"])\n", "[{'a': (1,)}, 'q\"', \"it's\"]\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			expectOutput(t, tc.src, tc.want)
		})
	}
}

// --- Hooks ---

type event struct {
	fn   string
	ev   Event
	line int
}

func TestHook_Events(t *testing.T) {
	src := "def f(x):\n    y = x + 1\n    return y\nf(1)\n"
	prog, err := Compile(context.Background(), "main.py", []byte(src))
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	in := New(Options{})
	defer in.Close()

	var events []event
	var local Hook
	local = HookFunc(func(f *Frame, ev Event, arg Value) Hook {
		events = append(events, event{f.Code.Name, ev, f.Line})
		return local
	})
	in.SetHook(HookFunc(func(f *Frame, ev Event, arg Value) Hook {
		if f.Code.Name != "f" {
			return nil
		}
		events = append(events, event{f.Code.Name, ev, f.Line})
		return local
	}))
	if err := in.Exec(context.Background(), prog, NewNamespace()); err != nil {
		t.Fatalf("Exec() error: %v", err)
	}

	want := []Event{EventCall, EventLine, EventLine, EventReturn}
	if len(events) != len(want) {
		t.Fatalf("got %d events %v, want %d", len(events), events, len(want))
	}
	for i, ev := range want {
		if events[i].ev != ev {
			t.Errorf("event %d = %s, want %s", i, events[i].ev, ev)
		}
	}
	if events[1].line != 2 || events[2].line != 3 {
		t.Errorf("line events at %d and %d, want 2 and 3", events[1].line, events[2].line)
	}
}

func TestHook_ExceptionEventOncePerFrame(t *testing.T) {
	src := "def f():\n    raise ValueError('x')\ntry:\n    f()\nexcept ValueError:\n    pass\n"
	prog, err := Compile(context.Background(), "main.py", []byte(src))
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	in := New(Options{})
	defer in.Close()

	counts := map[string]int{}
	var returnArg Value
	var local Hook
	local = HookFunc(func(f *Frame, ev Event, arg Value) Hook {
		switch ev {
		case EventException:
			counts[f.Code.Name]++
		case EventReturn:
			if f.Code.Name == "f" {
				returnArg = arg
				if !f.ExitedByException() {
					t.Error("expected f to exit by exception")
				}
			}
		}
		return local
	})
	in.SetHook(HookFunc(func(f *Frame, ev Event, arg Value) Hook { return local }))
	if err := in.Exec(context.Background(), prog, NewNamespace()); err != nil {
		t.Fatalf("Exec() error: %v", err)
	}
	if counts["f"] != 1 {
		t.Errorf("exception events in f = %d, want 1", counts["f"])
	}
	if returnArg != None {
		t.Errorf("return arg = %v, want None", returnArg)
	}
}

func TestHook_NotReentrant(t *testing.T) {
	src := "def g():\n    return 1\ng()\n"
	prog, err := Compile(context.Background(), "main.py", []byte(src))
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	in := New(Options{})
	defer in.Close()

	calls := 0
	in.SetHook(HookFunc(func(f *Frame, ev Event, arg Value) Hook {
		calls++
		if f.Code.Name == "g" {
			// Evaluating inside a hook must not re-enter it.
			if _, err := in.EvalExpr(f, "len('abc')"); err != nil {
				t.Errorf("EvalExpr() error: %v", err)
			}
		}
		return nil
	}))
	if err := in.Exec(context.Background(), prog, NewNamespace()); err != nil {
		t.Fatalf("Exec() error: %v", err)
	}
	if calls != 2 {
		t.Errorf("hook calls = %d, want 2 (module and g)", calls)
	}
}

// --- Interrupts ---

func TestExec_ContextCancel(t *testing.T) {
	prog, err := Compile(context.Background(), "main.py", []byte("while True:\n    pass\n"))
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	in := New(Options{})
	defer in.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = in.Exec(ctx, prog, NewNamespace())
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("expected ErrInterrupted, got %v", err)
	}
}

func TestExec_Interrupt(t *testing.T) {
	prog, err := Compile(context.Background(), "main.py", []byte("i = 0\nwhile True:\n    i += 1\n"))
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	in := New(Options{})
	defer in.Close()
	stop := errors.New("stopped")
	go func() {
		time.Sleep(20 * time.Millisecond)
		in.Interrupt(stop)
	}()
	if err := in.Exec(context.Background(), prog, NewNamespace()); !errors.Is(err, stop) {
		t.Fatalf("expected interrupt error, got %v", err)
	}
}

func TestExec_RecursionLimit(t *testing.T) {
	_, err := runProgram(t, "def f(n):\n    return f(n + 1)\nf(0)\n")
	var exc *Exception
	if !errors.As(err, &exc) || !exc.Is(RecursionError) {
		t.Fatalf("expected RecursionError, got %v", err)
	}
}

func TestCompile_SyntaxError(t *testing.T) {
	_, err := Compile(context.Background(), "main.py", []byte("def f(:\n    pass\n"))
	var se *SyntaxError
	if !errors.As(err, &se) {
		t.Fatalf("expected *SyntaxError, got %T: %v", err, err)
	}
}

// --- Identity and seeding ---

func TestObjectID_NoAddresses(t *testing.T) {
	expectOutput(t, "def f():\n    pass\nxs = []\nprint(id(f), id(xs), id(f))\nprint(f)\n",
		"1 2 1\n<function f at 0x1>\n")
}

func TestInterp_SeedRestartsSequence(t *testing.T) {
	in := New(Options{Seed: 7})
	defer in.Close()
	first := in.Rand().Int63()
	in.Rand().Int63()
	in.Seed(7)
	if again := in.Rand().Int63(); again != first {
		t.Errorf("after reseeding got %d, want %d", again, first)
	}
}

func TestHalted_ContextEnded(t *testing.T) {
	in := New(Options{})
	defer in.Close()
	if err := in.Halted(); err != nil {
		t.Fatalf("fresh interpreter halted: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	prog, err := Compile(context.Background(), "main.py", []byte("x = 1\n"))
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	_ = in.Exec(ctx, prog, NewNamespace())
	if err := in.Halted(); !errors.Is(err, ErrInterrupted) {
		t.Errorf("Halted() = %v, want ErrInterrupted", err)
	}
}
