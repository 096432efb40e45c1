package controller

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/graphery/executor/internal/classifier"
	"github.com/graphery/executor/internal/recorder"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func defaultSettings() Settings {
	return Settings{
		CPUTime:        5 * time.Second,
		FloatPrecision: 4,
		MaxReprLength:  100,
	}
}

func run(t *testing.T, code string, s Settings) (*Controller, *Result) {
	t.Helper()
	c := New(Request{Code: code, Version: ProtocolVersion}, s, testLogger())
	return c, c.Run(context.Background())
}

func variable(changes []recorder.Record, name string) (classifier.State, bool) {
	k := recorder.Identifier{Name: name}.Key()
	for i := len(changes) - 1; i >= 0; i-- {
		if st, ok := changes[i].Variables[k]; ok && st.Type != classifier.TypeInit {
			return st, true
		}
	}
	return classifier.State{}, false
}

// --- Success ---

func TestRun_TracedAssignment(t *testing.T) {
	c, res := run(t, "with tracer('i'):\n    i = 10\n", defaultSettings())
	if res.Error != nil {
		t.Fatalf("unexpected error: %v", res.Error)
	}
	if c.State() != StateCleaned {
		t.Errorf("state = %s, want cleaned", c.State())
	}
	if len(res.Changes) < 2 || res.Changes[0].Line != 0 {
		t.Fatalf("changes = %+v", res.Changes)
	}
	st, ok := variable(res.Changes, "i")
	if !ok {
		t.Fatal("i missing from changes")
	}
	if st.Type != classifier.TypeNumber || st.Repr != "10" {
		t.Errorf("i = %+v", st)
	}
	if init := res.Changes[0].Variables[recorder.Identifier{Name: "i"}.Key()]; init.Type != classifier.TypeInit {
		t.Errorf("initial snapshot = %+v", init)
	}
}

func TestRun_GraphGlobal(t *testing.T) {
	graph := `{"elements":{"nodes":[{"data":{"id":"a"}},{"data":{"id":"b"}}],"edges":[{"data":{"source":"a","target":"b"}}]}}`
	c := New(Request{
		Code:    "with tracer('n'):\n    n = len(graph)\n",
		Graph:   []byte(graph),
		Version: ProtocolVersion,
	}, defaultSettings(), testLogger())
	res := c.Run(context.Background())
	if res.Error != nil {
		t.Fatalf("unexpected error: %v", res.Error)
	}
	if st, _ := variable(res.Changes, "n"); st.Repr != "2" {
		t.Errorf("n = %+v", st)
	}
}

func TestRun_Inputs(t *testing.T) {
	s := defaultSettings()
	s.Inputs = []string{"3"}
	c, res := run(t, "with tracer('n'):\n    n = int(input('n? '))\n", s)
	if res.Error != nil {
		t.Fatalf("unexpected error: %v", res.Error)
	}
	if st, _ := variable(res.Changes, "n"); st.Repr != "3" {
		t.Errorf("n = %+v", st)
	}
	if !strings.Contains(c.Stdout(), "n? ") {
		t.Errorf("prompt not echoed: %q", c.Stdout())
	}
}

func TestRun_InputsExhausted(t *testing.T) {
	_, res := run(t, "x = input()\n", defaultSettings())
	if res.Error == nil || res.Error.Kind != KindRuntime {
		t.Fatalf("error = %+v", res.Error)
	}
	if !strings.HasPrefix(res.Error.Message, "EOFError") {
		t.Errorf("message = %q", res.Error.Message)
	}
}

func TestRun_SeedIsDeterministic(t *testing.T) {
	code := "import random\nwith tracer('r'):\n    r = random.randint(0, 1000000)\n"
	s := defaultSettings()
	s.Seed = 7
	var reprs []any
	for range 2 {
		_, res := run(t, code, s)
		if res.Error != nil {
			t.Fatalf("unexpected error: %v", res.Error)
		}
		st, ok := variable(res.Changes, "r")
		if !ok {
			t.Fatal("r missing")
		}
		reprs = append(reprs, st.Repr)
	}
	if reprs[0] != reprs[1] {
		t.Errorf("seeded runs differ: %v", reprs)
	}
}

func TestRun_StdoutCaptured(t *testing.T) {
	c, res := run(t, "print('hello')\n", defaultSettings())
	if res.Error != nil {
		t.Fatalf("unexpected error: %v", res.Error)
	}
	if c.Stdout() != "hello\n" {
		t.Errorf("stdout = %q", c.Stdout())
	}
}

// --- Failures ---

func TestRun_VersionMismatch(t *testing.T) {
	c := New(Request{Code: "x = 1\n", Version: "1.0.0"}, defaultSettings(), testLogger())
	res := c.Run(context.Background())
	if res.Error == nil {
		t.Fatal("expected an error")
	}
	if res.Error.Code != CodeInit || res.Error.Kind != KindProtocolMismatch {
		t.Errorf("error = %+v", res.Error)
	}
	if !strings.Contains(res.Error.Message, `"1.0.0"`) || !strings.Contains(res.Error.Message, ProtocolVersion) {
		t.Errorf("message = %q", res.Error.Message)
	}
	if res.Changes != nil {
		t.Error("no changes expected before the program runs")
	}
	if c.State() != StateFailed {
		t.Errorf("state = %s", c.State())
	}
}

func TestRun_InvalidGraph(t *testing.T) {
	c := New(Request{Code: "x = 1\n", Graph: []byte("{"), Version: ProtocolVersion}, defaultSettings(), testLogger())
	res := c.Run(context.Background())
	if res.Error == nil || res.Error.Code != CodeInit {
		t.Fatalf("error = %+v", res.Error)
	}
}

func TestRun_CompileError(t *testing.T) {
	_, res := run(t, "def broken(:\n    pass\n", defaultSettings())
	if res.Error == nil {
		t.Fatal("expected an error")
	}
	if res.Error.Kind != KindCompile || res.Error.Code != CodeRunner {
		t.Errorf("error = %+v", res.Error)
	}
	if res.Changes != nil {
		t.Error("compile errors carry no changes")
	}
}

func TestRun_RuntimeFailureKeepsChanges(t *testing.T) {
	code := "with tracer('a'):\n    a = 1\n    b = 2\n    raise ValueError('boom')\n"
	c, res := run(t, code, defaultSettings())
	if res.Error == nil || res.Error.Kind != KindRuntime {
		t.Fatalf("error = %+v", res.Error)
	}
	if res.Error.Message != "ValueError: boom" {
		t.Errorf("message = %q", res.Error.Message)
	}
	if !strings.Contains(res.Error.Trace, "Traceback (most recent call last)") {
		t.Errorf("trace = %q", res.Error.Trace)
	}
	if _, ok := variable(res.Changes, "a"); !ok {
		t.Error("changes before the failure must be kept")
	}
	if c.State() != StateFailed {
		t.Errorf("state = %s", c.State())
	}
}

func TestRun_SingleUse(t *testing.T) {
	c, res := run(t, "x = 1\n", defaultSettings())
	if res.Error != nil {
		t.Fatalf("unexpected error: %v", res.Error)
	}
	again := c.Run(context.Background())
	if again.Error == nil || again.Error.Code != CodeControl {
		t.Errorf("second run error = %+v", again.Error)
	}
}

// --- Resource limits ---

func TestRun_CPULimit(t *testing.T) {
	s := defaultSettings()
	s.CPUTime = 200 * time.Millisecond
	start := time.Now()
	_, res := run(t, "while True:\n    pass\n", s)
	if res.Error == nil {
		t.Fatal("expected the CPU limit to stop the program")
	}
	if res.Error.Code != CodeCPU || res.Error.Kind != KindResourceLimit {
		t.Errorf("error = %+v", res.Error)
	}
	if !strings.HasPrefix(res.Error.Message, "Allocated CPU time exhausted") {
		t.Errorf("message = %q", res.Error.Message)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("limit enforced after %s", elapsed)
	}
}

func TestRun_SleepBoundedByWallTime(t *testing.T) {
	s := defaultSettings()
	s.CPUTime = 100 * time.Millisecond
	_, res := run(t, "import time\nwhile True:\n    time.sleep(0.05)\n", s)
	if res.Error == nil || res.Error.Code != CodeCPU {
		t.Fatalf("error = %+v", res.Error)
	}
}

func TestRun_DeeplyNestedValueStaysCheap(t *testing.T) {
	code := "a = []\nfor i in range(20000):\n    a = [a]\nwith tracer('a'):\n    b = 1\n"
	s := defaultSettings()
	start := time.Now()
	_, res := run(t, code, s)
	if res.Error != nil {
		t.Fatalf("unexpected error: %v", res.Error)
	}
	if elapsed := time.Since(start); elapsed > s.CPUTime {
		t.Errorf("run took %s, longer than the CPU budget", elapsed)
	}
	if st, ok := variable(res.Changes, "a"); ok && st.Type != classifier.TypeList {
		t.Errorf("a = %+v", st)
	}
}

func TestRun_MemoryLimit(t *testing.T) {
	s := defaultSettings()
	s.CPUTime = 20 * time.Second
	s.MemoryLimit = 32 << 20
	_, res := run(t, "x = []\nwhile True:\n    x.append('a' * 4096)\n", s)
	if res.Error == nil {
		t.Fatal("expected the memory limit to stop the program")
	}
	if res.Error.Code != CodeMemory || res.Error.Message != "Allocated MEM size exhausted" {
		t.Errorf("error = %+v", res.Error)
	}
}

// --- Wire shape ---

func TestResult_JSON(t *testing.T) {
	res := &Result{Error: &Error{Code: CodeRunner, Kind: KindRuntime, Message: "ValueError: x"}}
	b, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"error":{"code":13,"kind":"runtime_failure","message":"ValueError: x"}}`
	if string(b) != want {
		t.Errorf("json = %s, want %s", b, want)
	}
}

func TestError_Format(t *testing.T) {
	e := &Error{Code: CodeCPU, Message: "Allocated CPU time exhausted. Signal num: 24", Trace: "t"}
	want := "An error occurs with exit code 17. Error: Allocated CPU time exhausted. Signal num: 24\ntrace: \nt"
	if e.Error() != want {
		t.Errorf("Error() = %q", e.Error())
	}
}
