package tracer

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/graphery/executor/internal/classifier"
	"github.com/graphery/executor/internal/recorder"
	"github.com/graphery/executor/internal/script"
)

func key(ns, name string) string {
	return recorder.Identifier{Namespace: ns, Name: name}.Key()
}

// run executes src with a tracer bound as the global `tracer` and returns
// the recorder after flushing trailing output.
func run(t *testing.T, src string) *recorder.Recorder {
	t.Helper()
	var out bytes.Buffer
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	in := script.New(script.Options{Stdout: &out, Logger: logger})
	t.Cleanup(in.Close)

	cls := classifier.New(in, classifier.Options{FloatPrecision: 4, MaxReprLength: 100})
	rec := recorder.New(cls, logger)
	s := NewSession(in, rec, SessionOptions{Logger: logger, Output: &out, MaxVariableLength: 100})

	prog, err := script.Compile(context.Background(), "<main>", []byte(src))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	globals := script.NewNamespace()
	globals.Set("tracer", s.Value())
	if err := in.Exec(context.Background(), prog, globals); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	s.Flush()
	return rec
}

func lines(recs []*recorder.Record) []int {
	out := make([]int, len(recs))
	for i, r := range recs {
		out[i] = r.Line
	}
	return out
}

func findVariable(recs []*recorder.Record, k string) (*recorder.Record, classifier.State, bool) {
	for _, r := range recs {
		if st, ok := r.Variables[k]; ok {
			return r, st, true
		}
	}
	return nil, classifier.State{}, false
}

// --- Blocks ---

func TestTrace_WithBlockAssignment(t *testing.T) {
	rec := run(t, "with tracer('i'):\n    i = 10\n")
	recs := rec.Records()

	var found int
	for _, r := range recs {
		if st, ok := r.Variables[key("", "i")]; ok {
			found++
			if st.Type != classifier.TypeNumber || st.Repr != "10" {
				t.Errorf("i = %+v", st)
			}
			if r.Line != 2 {
				t.Errorf("i recorded on line %d, want 2", r.Line)
			}
		}
	}
	if found != 1 {
		t.Fatalf("i recorded %d times in %v", found, lines(recs))
	}
	if n := len(rec.Finalize()); n != len(recs)+1 {
		t.Errorf("final records = %d, want %d", n, len(recs)+1)
	}
}

func TestTrace_StdoutPerStatement(t *testing.T) {
	src := `@tracer
def main():
    print('a')
    print('b')
    print('c')
main()
`
	recs := run(t, src).Records()
	want := []int{2, 3, 4, 5}
	got := lines(recs)
	if len(got) != len(want) {
		t.Fatalf("lines = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("lines = %v, want %v", got, want)
		}
	}
	if recs[0].Stdout != nil {
		t.Errorf("def line stdout = %q", *recs[0].Stdout)
	}
	for i, w := range []string{"a\n", "b\n", "c\n"} {
		r := recs[i+1]
		if r.Stdout == nil || *r.Stdout != w {
			t.Errorf("line %d stdout = %v, want %q", r.Line, r.Stdout, w)
		}
		if r.Variables != nil {
			t.Errorf("line %d variables = %v", r.Line, r.Variables)
		}
	}
}

// --- Functions ---

func TestTrace_FunctionLag(t *testing.T) {
	src := `@tracer('x', 'y')
def f(n):
    x = n
    y = x * 2
    x = y + 1
    return x
r = f(3)
`
	recs := run(t, src).Records()
	got := lines(recs)
	want := []int{2, 3, 4, 5, 6}
	if len(got) != len(want) {
		t.Fatalf("lines = %v, want %v", got, want)
	}

	check := func(i int, name, repr string) {
		t.Helper()
		st, ok := recs[i].Variables[key("f", name)]
		if !ok || st.Repr != repr {
			t.Errorf("line %d %s = %+v (present %v), want %s", recs[i].Line, name, st, ok, repr)
		}
	}
	check(1, "x", "3")
	check(2, "y", "6")
	check(3, "x", "7")

	last := recs[4]
	if last.Return == nil || last.Return.Repr != "7" {
		t.Errorf("return = %+v", last.Return)
	}
}

func TestTrace_EndedByException(t *testing.T) {
	src := `@tracer
def boom():
    raise ValueError('bad')
try:
    boom()
except ValueError:
    pass
`
	recs := run(t, src).Records()
	last := recs[len(recs)-1]
	if last.Line != 3 {
		t.Fatalf("lines = %v", lines(recs))
	}
	if !last.EndedByException {
		t.Error("raising call must be marked as ended by exception")
	}
	if last.Exception != "ValueError: bad" {
		t.Errorf("exception = %q", last.Exception)
	}
	if last.Return != nil {
		t.Error("a call ended by exception has no return value")
	}
}

func TestTrace_Generator(t *testing.T) {
	src := `@tracer('v')
def gen():
    for v in range(2):
        yield v
out = list(gen())
print(out)
`
	rec := run(t, src)
	var seen []string
	for _, r := range rec.Records() {
		if st, ok := r.Variables[key("gen", "v")]; ok {
			seen = append(seen, st.Repr.(string))
		}
	}
	if len(seen) == 0 || seen[len(seen)-1] != "1" {
		t.Errorf("v observed as %v", seen)
	}
}

func TestTrace_Depth(t *testing.T) {
	src := `def helper(a):
    b = a + 1
    return b

@tracer(depth=%d, only_watch=False)
def outer():
    return helper(1)

outer()
`
	for _, tc := range []struct {
		depth string
		want  bool
	}{
		{"1", false},
		{"2", true},
	} {
		rec := run(t, replaceDepth(src, tc.depth))
		_, _, ok := findVariable(rec.Records(), key("outer", "b"))
		if ok != tc.want {
			t.Errorf("depth %s: helper variable observed = %v, want %v", tc.depth, ok, tc.want)
		}
	}
}

func replaceDepth(src, depth string) string {
	return string(bytes.Replace([]byte(src), []byte("%d"), []byte(depth), 1))
}

func TestTrace_ClassDecorator(t *testing.T) {
	src := `@tracer('self.n')
class C:
    def __init__(self):
        self.n = 1
    def inc(self):
        self.n += 1
c = C()
c.inc()
`
	recs := run(t, src).Records()
	var values []string
	for _, r := range recs {
		if st, ok := r.Variables[key("C", "self.n")]; ok {
			values = append(values, st.Repr.(string))
		}
	}
	if len(values) < 2 || values[len(values)-1] != "2" {
		t.Errorf("self.n observed as %v", values)
	}
}

// --- Watches ---

func TestTrace_ExplodingWatch(t *testing.T) {
	src := `with tracer(watch_explode='d'):
    d = {'k': 1}
    d['k'] = 2
`
	recs := run(t, src).Records()
	r, st, ok := findVariable(recs, key("", "d['k']"))
	if !ok {
		t.Fatalf("exploded key missing in %v", lines(recs))
	}
	if st.Repr != "1" {
		t.Errorf("first d['k'] = %v on line %d", st.Repr, r.Line)
	}
}

func TestTrace_Peek(t *testing.T) {
	src := `def sq(x):
    return x * x
with tracer():
    y = tracer.peek(sq)(4)
`
	recs := run(t, src).Records()
	for _, r := range recs {
		if r.Line == 4 {
			if len(r.Accesses) != 1 || r.Accesses[0].Repr != "16" {
				t.Errorf("accesses = %+v", r.Accesses)
			}
			return
		}
	}
	t.Fatalf("no record for line 4 in %v", lines(recs))
}

func TestTrace_OutOfScopeFramesIgnored(t *testing.T) {
	src := `def untraced():
    z = 5
    return z
untraced()
with tracer(only_watch=False):
    w = 1
`
	recs := run(t, src).Records()
	if _, _, ok := findVariable(recs, key("", "z")); ok {
		t.Error("untraced function leaked into the records")
	}
	if _, _, ok := findVariable(recs, key("", "w")); !ok {
		t.Error("w missing")
	}
}
