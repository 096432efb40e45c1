package classifier

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/graphery/executor/internal/graph"
	"github.com/graphery/executor/internal/script"
)

const (
	outer = "#1F78B4"
	inner = "#828282"
)

// eval runs src and returns the interpreter together with its globals.
func eval(t *testing.T, src string) (*script.Interp, *script.Namespace) {
	t.Helper()
	in := script.New(script.Options{
		Importer: func(in *script.Interp, name string) (*script.Module, error) {
			return script.ImportStdlib(in, name)
		},
	})
	t.Cleanup(in.Close)
	prog, err := script.Compile(context.Background(), "<test>", []byte(src))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	globals := script.NewNamespace()
	if err := in.Exec(context.Background(), prog, globals); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	return in, globals
}

func classify(t *testing.T, opts Options, src, name string) State {
	t.Helper()
	in, globals := eval(t, src)
	v, ok := globals.Get(name)
	if !ok {
		t.Fatalf("%s is not defined", name)
	}
	return New(in, opts).Classify(v, outer, inner, nil)
}

var defaults = Options{FloatPrecision: 4, MaxReprLength: 1000}

// --- Singular values ---

func TestClassify_Singular(t *testing.T) {
	src := `i = 10
b = True
f = 3.14159265
h = 1.5
s = 'hi'
n = None
big = 2 ** 80
`
	tests := []struct {
		name, typ, repr string
	}{
		{"i", TypeNumber, "10"},
		{"b", TypeNumber, "True"},
		{"f", TypeNumber, "3.1416"},
		{"h", TypeNumber, "1.5"},
		{"s", TypeString, "'hi'"},
		{"n", TypeNone, "None"},
		{"big", TypeNumber, "1208925819614629174706176"},
	}
	in, globals := eval(t, src)
	c := New(in, defaults)
	for _, tc := range tests {
		v, _ := globals.Get(tc.name)
		st := c.Classify(v, outer, inner, nil)
		if st.Type != tc.typ || st.Repr != tc.repr {
			t.Errorf("%s: got (%s, %v), want (%s, %s)", tc.name, st.Type, st.Repr, tc.typ, tc.repr)
		}
		if st.Color != outer {
			t.Errorf("%s: color = %s", tc.name, st.Color)
		}
		if st.ObjectID != 0 {
			t.Errorf("%s: scalars carry no identity, got %d", tc.name, st.ObjectID)
		}
	}
}

func TestClassify_FloatPrecisionDisabled(t *testing.T) {
	st := classify(t, Options{FloatPrecision: -1}, "f = 0.125\n", "f")
	if st.Repr != "0.125" {
		t.Errorf("Repr = %v", st.Repr)
	}
	st = classify(t, Options{FloatPrecision: 1}, "f = 2.0\n", "f")
	if st.Repr != "2.0" {
		t.Errorf("whole floats keep their decimal point, got %v", st.Repr)
	}
}

// --- Containers ---

func TestClassify_LinearContainers(t *testing.T) {
	src := `from collections import deque
l = [1, 'a']
t = (1,)
q = deque([2, 3])
s = {4}
fs = frozenset([5])
r = range(3)
keys = {'k': 1}.keys()
`
	tests := []struct {
		name, typ string
		n         int
	}{
		{"l", TypeList, 2},
		{"t", TypeTuple, 1},
		{"q", TypeDeque, 2},
		{"s", TypeSet, 1},
		{"fs", TypeSet, 1},
		{"r", TypeSequence, 3},
		{"keys", TypeSet, 1},
	}
	in, globals := eval(t, src)
	c := New(in, defaults)
	for _, tc := range tests {
		v, _ := globals.Get(tc.name)
		st := c.Classify(v, outer, inner, nil)
		if st.Type != tc.typ {
			t.Errorf("%s: type = %s, want %s", tc.name, st.Type, tc.typ)
			continue
		}
		children, ok := st.Repr.([]State)
		if !ok || len(children) != tc.n {
			t.Errorf("%s: children = %#v", tc.name, st.Repr)
			continue
		}
		for _, ch := range children {
			if ch.Color != inner {
				t.Errorf("%s: child color = %s, want inner", tc.name, ch.Color)
			}
		}
	}
}

func TestClassify_PairContainers(t *testing.T) {
	src := `from collections import Counter
d = {'a': [1]}
c = Counter('aab')
`
	st := classify(t, defaults, src, "d")
	pairs, ok := st.Repr.([]Pair)
	if st.Type != TypeMapping || !ok || len(pairs) != 1 {
		t.Fatalf("d = %s %#v", st.Type, st.Repr)
	}
	if pairs[0].Key.Repr != "'a'" || pairs[0].Value.Type != TypeList {
		t.Errorf("pair = %+v", pairs[0])
	}
	if pairs[0].Key.Color != inner || pairs[0].Value.Color != inner {
		t.Error("pair sides must use the inner color")
	}

	st = classify(t, defaults, src, "c")
	if st.Type != TypeCounter {
		t.Errorf("Counter type = %s", st.Type)
	}
}

func TestClassify_ValuesViewIsObject(t *testing.T) {
	st := classify(t, defaults, "v = {'a': 1}.values()\n", "v")
	if st.Type != TypeObject {
		t.Errorf("type = %s, want Object", st.Type)
	}
}

// --- References ---

func TestClassify_CycleBecomesReference(t *testing.T) {
	st := classify(t, defaults, "a = [1]\na.append(a)\n", "a")
	children := st.Repr.([]State)
	if len(children) != 2 {
		t.Fatalf("children = %d", len(children))
	}
	ref := children[1]
	if ref.Type != TypeReference || ref.Repr != nil {
		t.Errorf("self reference = %+v", ref)
	}
	if ref.ObjectID != st.ObjectID {
		t.Errorf("reference id %d does not match container id %d", ref.ObjectID, st.ObjectID)
	}
}

func TestClassify_SharedChildIsNotReference(t *testing.T) {
	st := classify(t, defaults, "x = [1]\nb = [x, x]\n", "b")
	for i, ch := range st.Repr.([]State) {
		if ch.Type != TypeList {
			t.Errorf("child %d type = %s, want List", i, ch.Type)
		}
	}
}

func TestClassify_ObjectReferenceKeepsText(t *testing.T) {
	in, globals := eval(t, "class P:\n    def __repr__(self):\n        return 'P!'\np = P()\n")
	v, _ := globals.Get("p")
	seen := Visited{script.Identity(v): {}}
	st := New(in, defaults).Classify(v, outer, inner, seen)
	if st.Type != TypeReference || st.Repr != "P!" {
		t.Errorf("got %+v", st)
	}
}

// --- Text ---

func TestClassify_BadRepr(t *testing.T) {
	src := "class Broken:\n    def __repr__(self):\n        raise ValueError('no')\nb = Broken()\n"
	st := classify(t, defaults, src, "b")
	if st.Type != TypeObject || st.Repr != BadRepr {
		t.Errorf("got %+v", st)
	}
}

func TestClassify_TruncatesAndStripsNewlines(t *testing.T) {
	src := "class Long:\n    def __repr__(self):\n        return 'ab\\ncdefghijklmnop'\nl = Long()\n"
	st := classify(t, Options{MaxReprLength: 9}, src, "l")
	if st.Repr != "abc...nop" {
		t.Errorf("Repr = %q", st.Repr)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"abcdefghij", 0, "abcdefghij"},
		{"abcdefghij", 8, "ab...hij"},
		{"abcdefghij", 2, "ab"},
		{"ééééééé", 5, "é...é"},
	}
	for _, tc := range tests {
		if got := Truncate(tc.in, tc.max); got != tc.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
	}
	if got := StripNewlines("a\r\nb\n"); got != "ab" {
		t.Errorf("StripNewlines = %q", got)
	}
}

// --- Graph objects ---

func TestClassify_GraphObjects(t *testing.T) {
	g := graph.New(false, true)
	e := g.AddEdge("a", "b")
	e.Properties.SetStr("w", script.Int(2))
	n, _ := g.Node("a")
	n.Properties.SetStr("label", script.Str("start"))

	in := script.New(script.Options{})
	defer in.Close()
	c := New(in, defaults)

	st := c.Classify(n, outer, inner, nil)
	if st.Type != graph.TagNode || st.ID != "a" || st.Properties == nil {
		t.Fatalf("node = %+v", st)
	}
	if (*st.Properties)["label"] != "start" {
		t.Errorf("properties = %v", *st.Properties)
	}

	st = c.Classify(e, outer, inner, nil)
	if st.Type != graph.TagMultiEdge || st.ID != "(a, b, 0)" {
		t.Errorf("edge = %+v", st)
	}
	if !strings.HasPrefix(st.Repr.(string), "Edge(") {
		t.Errorf("edge repr = %v", st.Repr)
	}

	bare := graph.New(false, false).AddNode("z")
	st = c.Classify(bare, outer, inner, nil)
	if st.Properties == nil || len(*st.Properties) != 0 {
		t.Error("graph objects always carry a properties map")
	}
}

// --- Depth and interrupts ---

func nestingDepth(t *testing.T, st State) (int, State) {
	t.Helper()
	depth := 0
	for st.Type == TypeList {
		children := st.Repr.([]State)
		if len(children) != 1 {
			t.Fatalf("level %d has %d children", depth, len(children))
		}
		st = children[0]
		depth++
	}
	return depth, st
}

func TestClassify_DeepNestingIsCut(t *testing.T) {
	in, globals := eval(t, "a = []\nfor i in range(20000):\n    a = [a]\n")
	v, _ := globals.Get("a")

	depth, leaf := nestingDepth(t, New(in, Options{MaxReprLength: 100, MaxDepth: 50}).Classify(v, outer, inner, nil))
	if depth != 51 {
		t.Errorf("descended %d levels, want 51", depth)
	}
	if leaf.Type != TypeReference || leaf.Repr != nil || leaf.ObjectID == 0 {
		t.Errorf("cut value = %+v", leaf)
	}

	depth, _ = nestingDepth(t, New(in, defaults).Classify(v, outer, inner, nil))
	if depth != DefaultMaxDepth+1 {
		t.Errorf("default bound descended %d levels, want %d", depth, DefaultMaxDepth+1)
	}
}

func TestClassify_StopsWhenInterrupted(t *testing.T) {
	in, globals := eval(t, "a = []\nfor i in range(5000):\n    a.append([i])\n")
	v, _ := globals.Get("a")
	in.Interrupt(errors.New("cpu limit"))

	st := New(in, defaults).Classify(v, outer, inner, nil)
	if st.Type != TypeList {
		t.Fatalf("root type = %s", st.Type)
	}
	if n := len(st.Repr.([]State)); n == 0 || n >= 5000 {
		t.Errorf("classified %d of 5000 items after the interrupt", n)
	}
}

// --- Object ids ---

func TestClassify_ObjectIDsAreRunLocal(t *testing.T) {
	in, globals := eval(t, "x = [1]\nb = [x, x, [2]]\n")
	v, _ := globals.Get("b")
	st := New(in, defaults).Classify(v, outer, inner, nil)
	if st.ObjectID == 0 || st.ObjectID > 100 {
		t.Errorf("container id = %d, want a small counter", st.ObjectID)
	}
	if st.ObjectID == script.Identity(v) {
		t.Error("object id exposes the heap address")
	}
	children := st.Repr.([]State)
	if children[0].ObjectID != children[1].ObjectID {
		t.Errorf("same list got ids %d and %d", children[0].ObjectID, children[1].ObjectID)
	}
	if children[2].ObjectID == children[0].ObjectID {
		t.Error("distinct lists share an id")
	}
	if again := New(in, defaults).Classify(v, outer, inner, nil); again.ObjectID != st.ObjectID {
		t.Errorf("id changed between classifications: %d then %d", st.ObjectID, again.ObjectID)
	}
}
