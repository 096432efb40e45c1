package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/graphery/executor/internal/config"
	"github.com/graphery/executor/internal/controller"
	"github.com/graphery/executor/internal/protocol"
	"github.com/graphery/executor/internal/recorder"
	"github.com/graphery/executor/internal/sandbox"
	"github.com/graphery/executor/internal/storage"
	"github.com/graphery/executor/internal/storage/sqlite"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testStore(t *testing.T) storage.Store {
	t.Helper()
	s, err := sqlite.Open(sqlite.Config{Path: filepath.Join(t.TempDir(), "executor.db")}, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func submission(code string) *protocol.Submission {
	return &protocol.Submission{Code: code, Graph: json.RawMessage("{}"), Version: controller.ProtocolVersion}
}

func intp(n int) *int { return &n }

// fakeBackend returns a fixed result and counts executions.
type fakeBackend struct {
	calls  atomic.Int32
	result *controller.Result
	err    error
	block  chan struct{}
}

func (f *fakeBackend) Execute(ctx context.Context, _ controller.Request, _ controller.Settings) (*Execution, error) {
	f.calls.Add(1)
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return nil, f.err
	}
	return &Execution{Result: f.result}, nil
}

func okResult() *controller.Result {
	return &controller.Result{Changes: []recorder.Record{{Line: 0}, {Line: 2}}}
}

// --- Settings ---

func TestMergeSettings_Defaults(t *testing.T) {
	s := MergeSettings(&config.ExecutorConfig{}, nil)
	if s.CPUTime != 5*time.Second || s.MemoryLimit != 100<<20 || s.FloatPrecision != 4 || s.MaxReprLength != 100 {
		t.Errorf("settings = %+v", s)
	}
}

func TestMergeSettings_Options(t *testing.T) {
	cfg := &config.ExecutorConfig{TimeOut: 10, MemOut: 200, IsLocal: true}
	seed := int64(9)
	s := MergeSettings(cfg, &protocol.Options{
		FloatPrecision: intp(2),
		MaxReprLength:  intp(20),
		RandSeed:       &seed,
		InputList:      []string{"a"},
		TimeOut:        intp(3),
		MemOut:         intp(50),
	})
	if s.FloatPrecision != 2 || s.MaxReprLength != 20 || s.Seed != 9 || s.Inputs[0] != "a" {
		t.Errorf("formatting options not applied: %+v", s)
	}
	if s.CPUTime != 3*time.Second || s.MemoryLimit != 50<<20 {
		t.Errorf("limits = %s / %d", s.CPUTime, s.MemoryLimit)
	}
	if !s.Trusted {
		t.Error("is_local should be carried over")
	}
}

func TestMergeSettings_CannotRaiseLimits(t *testing.T) {
	s := MergeSettings(&config.ExecutorConfig{TimeOut: 2, MemOut: 10}, &protocol.Options{TimeOut: intp(60), MemOut: intp(4096)})
	if s.CPUTime != 2*time.Second || s.MemoryLimit != 10<<20 {
		t.Errorf("limits raised: %s / %d", s.CPUTime, s.MemoryLimit)
	}
}

// --- Cache keys ---

func TestCacheKey_Stable(t *testing.T) {
	req := controller.Request{Code: "x = 1", Graph: []byte("{}"), Version: "3.2.4"}
	s := MergeSettings(&config.ExecutorConfig{}, nil)
	a, b := CacheKey(req, s), CacheKey(req, s)
	if a != b || len(a) != 64 {
		t.Errorf("keys = %q, %q", a, b)
	}
}

func TestCacheKey_Differs(t *testing.T) {
	req := controller.Request{Code: "x = 1", Graph: []byte("{}"), Version: "3.2.4"}
	s := MergeSettings(&config.ExecutorConfig{}, nil)
	base := CacheKey(req, s)

	other := req
	other.Code = "x = 2"
	if CacheKey(other, s) == base {
		t.Error("code change should change the key")
	}
	s2 := s
	s2.FloatPrecision = 2
	if CacheKey(req, s2) == base {
		t.Error("precision change should change the key")
	}
	s3 := s
	s3.Inputs = []string{"ab"}
	s4 := s
	s4.Inputs = []string{"a", "b"}
	if CacheKey(req, s3) == CacheKey(req, s4) {
		t.Error("input boundaries should be part of the key")
	}
}

func TestCacheable(t *testing.T) {
	tests := []struct {
		kind controller.Kind
		want bool
	}{
		{controller.KindRuntime, true},
		{controller.KindCompile, true},
		{controller.KindCapabilityDenied, true},
		{controller.KindProtocolMismatch, true},
		{controller.KindResourceLimit, false},
		{controller.KindInternal, false},
	}
	for _, tt := range tests {
		res := &controller.Result{Error: &controller.Error{Kind: tt.kind}}
		if got := cacheable(res); got != tt.want {
			t.Errorf("cacheable(%s) = %v, want %v", tt.kind, got, tt.want)
		}
	}
	if !cacheable(okResult()) {
		t.Error("successful results should be cacheable")
	}
}

// --- Executor ---

func TestExecutor_InlineRun(t *testing.T) {
	e := New(Options{Logger: testLogger()})
	out, err := e.Run(context.Background(), Request{Submission: submission("with tracer('i'):\n    i = 10\n"), Transport: "http"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Result.Error != nil {
		t.Fatalf("program failed: %v", out.Result.Error)
	}
	if out.RunID == "" || len(out.Result.Changes) < 2 || len(out.Phases) == 0 {
		t.Errorf("outcome = %+v", out)
	}
	if out.Cache != "" {
		t.Errorf("cache = %q, want disabled", out.Cache)
	}
}

func TestExecutor_CallerRunID(t *testing.T) {
	e := New(Options{Backend: &fakeBackend{result: okResult()}, Logger: testLogger()})
	out, err := e.Run(context.Background(), Request{Submission: submission("x = 1"), RunID: "run-1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.RunID != "run-1" {
		t.Errorf("RunID = %q, want run-1", out.RunID)
	}
}

func TestExecutor_SetConfig(t *testing.T) {
	e := New(Options{Config: &config.ExecutorConfig{TimeOut: 2}, Backend: &fakeBackend{result: okResult()}, Logger: testLogger()})
	if got := e.Settings(nil).CPUTime; got != 2*time.Second {
		t.Fatalf("CPUTime = %s", got)
	}
	e.SetConfig(&config.ExecutorConfig{TimeOut: 7})
	if got := e.Settings(nil).CPUTime; got != 7*time.Second {
		t.Errorf("CPUTime after reload = %s, want 7s", got)
	}
	e.SetConfig(nil)
	if got := e.Settings(nil).CPUTime; got != 7*time.Second {
		t.Errorf("nil config replaced settings: %s", got)
	}
}

func TestExecutor_NoSubmission(t *testing.T) {
	e := New(Options{Backend: &fakeBackend{result: okResult()}, Logger: testLogger()})
	if _, err := e.Run(context.Background(), Request{}); !errors.Is(err, ErrNoSubmission) {
		t.Errorf("err = %v", err)
	}
}

func TestExecutor_CacheHit(t *testing.T) {
	backend := &fakeBackend{result: okResult()}
	e := New(Options{Backend: backend, Store: testStore(t), CacheTTL: time.Hour, Logger: testLogger()})

	first, err := e.Run(context.Background(), Request{Submission: submission("x = 1")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if first.Cached || first.Cache != CacheMiss {
		t.Errorf("first run = %+v", first)
	}
	second, err := e.Run(context.Background(), Request{Submission: submission("x = 1")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !second.Cached || second.Cache != CacheHit {
		t.Errorf("second run = %+v", second)
	}
	if second.RunID == first.RunID {
		t.Error("cached runs get their own id")
	}
	if len(second.Result.Changes) != 2 {
		t.Errorf("cached changes = %+v", second.Result.Changes)
	}
	if n := backend.calls.Load(); n != 1 {
		t.Errorf("backend calls = %d, want 1", n)
	}
}

func TestExecutor_ResourceLimitNotCached(t *testing.T) {
	backend := &fakeBackend{result: &controller.Result{Error: controller.MemoryExhausted()}}
	e := New(Options{Backend: backend, Store: testStore(t), CacheTTL: time.Hour, Logger: testLogger()})
	for range 2 {
		if _, err := e.Run(context.Background(), Request{Submission: submission("x = [0] * 10**9")}); err != nil {
			t.Fatalf("Run: %v", err)
		}
	}
	if n := backend.calls.Load(); n != 2 {
		t.Errorf("backend calls = %d, want 2", n)
	}
}

func TestExecutor_History(t *testing.T) {
	store := testStore(t)
	backend := &fakeBackend{result: &controller.Result{Error: &controller.Error{
		Code: controller.CodeRunner, Kind: controller.KindRuntime, Message: "ZeroDivisionError: division by zero",
	}}}
	e := New(Options{Backend: backend, Store: store, History: true, Logger: testLogger()})

	out, err := e.Run(context.Background(), Request{Submission: submission("1/0"), Transport: "ws"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	rec, err := store.Runs().Get(context.Background(), out.RunID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != "failed" || rec.Code != int(controller.CodeRunner) || rec.Transport != "ws" || rec.Kind != string(controller.KindRuntime) {
		t.Errorf("record = %+v", rec)
	}
}

func TestExecutor_BackendError(t *testing.T) {
	e := New(Options{Backend: &fakeBackend{err: errors.New("boom")}, Logger: testLogger()})
	if _, err := e.Run(context.Background(), Request{Submission: submission("x = 1")}); err == nil {
		t.Fatal("expected error")
	}
}

func TestExecutor_ConcurrencyBound(t *testing.T) {
	backend := &fakeBackend{result: okResult(), block: make(chan struct{})}
	e := New(Options{Backend: backend, MaxConcurrent: 1, Logger: testLogger()})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.Run(context.Background(), Request{Submission: submission("x = 1")})
	}()
	for backend.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := e.Run(ctx, Request{Submission: submission("x = 2")}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	close(backend.block)
	wg.Wait()
	if n := backend.calls.Load(); n != 1 {
		t.Errorf("backend calls = %d, want 1", n)
	}
}

// --- Inline backend ---

func TestInlineBackend_OneProgramAtATime(t *testing.T) {
	b := &InlineBackend{Logger: testLogger()}
	req := controller.Request{Code: "x = 0\nfor i in range(1000):\n    x += i\n", Version: controller.ProtocolVersion}
	s := MergeSettings(&config.ExecutorConfig{TimeOut: 10, MemOut: 512}, nil)

	b.mu.Lock()
	done := make(chan *Execution, 1)
	go func() {
		exec, _ := b.Execute(context.Background(), req, s)
		done <- exec
	}()
	select {
	case <-done:
		t.Fatal("program ran while another one held the backend")
	case <-time.After(50 * time.Millisecond):
	}
	b.mu.Unlock()
	select {
	case exec := <-done:
		if exec == nil || exec.Result.Error != nil {
			t.Errorf("queued run = %+v", exec)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("queued run never started")
	}

	b.mu.Lock()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := b.Execute(ctx, req, s); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	b.mu.Unlock()
}

func TestInlineBackend_ConcurrentRuns(t *testing.T) {
	e := New(Options{Config: &config.ExecutorConfig{TimeOut: 10, MemOut: 512}, MaxConcurrent: 2, Logger: testLogger()})
	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, code := range []string{
		"x = 0\nfor i in range(20000):\n    x += i\n",
		"with tracer('y'):\n    y = 1\n",
	} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := e.Run(context.Background(), Request{Submission: submission(code)})
			if err != nil {
				errs <- err
				return
			}
			if out.Result.Error != nil {
				errs <- out.Result.Error
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent run: %v", err)
	}
}

// --- Sandbox backend ---

type fakeSandbox struct {
	req sandbox.ExecutionRequest
	res *sandbox.ExecutionResult
	err error
}

func (f *fakeSandbox) Execute(_ context.Context, req sandbox.ExecutionRequest) (*sandbox.ExecutionResult, error) {
	f.req = req
	return f.res, f.err
}

func sandboxSettings() controller.Settings {
	return MergeSettings(&config.ExecutorConfig{TimeOut: 3, MemOut: 64, InputList: []string{"a"}}, nil)
}

func TestSandboxBackend_Request(t *testing.T) {
	sb := &fakeSandbox{res: &sandbox.ExecutionResult{Stdout: `{"initial":{},"changes":null}`}}
	b := &SandboxBackend{Sandbox: sb, Command: []string{"executor", "run"}, MaxResultBytes: 1 << 30, Logger: testLogger()}
	exec, err := b.Execute(context.Background(), controller.Request{Code: "x = 1", Version: "3.2.4"}, sandboxSettings())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(exec.Result.Changes) != 1 {
		t.Errorf("result = %+v", exec.Result)
	}
	if strings.Join(sb.req.Command, " ") != "executor run --process-limits --unfolded" {
		t.Errorf("command = %v", sb.req.Command)
	}
	if sb.req.MaxOutputBytes != 1<<30 {
		t.Errorf("output cap = %d", sb.req.MaxOutputBytes)
	}
	if sb.req.Env["GE_EXEC_TIME_OUT"] != "3" || sb.req.Env["GE_EXEC_MEM_OUT"] != "64" || sb.req.Env["GE_INPUT_LIST"] != `["a"]` {
		t.Errorf("env = %v", sb.req.Env)
	}
	if sb.req.Limits.MaxCPUSeconds != 4 || sb.req.Limits.MaxMemoryMB != 64+memoryHeadroomMB {
		t.Errorf("limits = %+v", sb.req.Limits)
	}
	var sub map[string]any
	if err := json.Unmarshal(sb.req.Stdin, &sub); err != nil {
		t.Fatalf("stdin: %v", err)
	}
	if sub["code"] != "x = 1" || sub["graph"] != nil {
		t.Errorf("stdin = %v", sub)
	}
	if _, ok := sub["options"]; ok {
		t.Error("options travel through the environment")
	}
}

func TestSandboxBackend_Signals(t *testing.T) {
	tests := []struct {
		name string
		res  sandbox.ExecutionResult
		want controller.Code
	}{
		{"cpu", sandbox.ExecutionResult{ExitCode: -1, Signal: controller.CPUSignal}, controller.CodeCPU},
		{"killed", sandbox.ExecutionResult{ExitCode: -1, Signal: 9}, controller.CodeMemory},
		{"oom", sandbox.ExecutionResult{ExitCode: 2, Stderr: "fatal error: runtime: out of memory"}, controller.CodeMemory},
		{"garbage", sandbox.ExecutionResult{ExitCode: 1, Stdout: "panic"}, controller.CodeControl},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &SandboxBackend{Sandbox: &fakeSandbox{res: &tt.res}, Command: []string{"executor", "run"}, Logger: testLogger()}
			exec, err := b.Execute(context.Background(), controller.Request{Code: "x = 1"}, sandboxSettings())
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if exec.Result.Error == nil || exec.Result.Error.Code != tt.want {
				t.Errorf("error = %+v, want code %d", exec.Result.Error, tt.want)
			}
		})
	}
}

func TestSandboxBackend_LargeResult(t *testing.T) {
	ctx := context.Background()
	code := "visited = {}\nwith tracer('visited'):\n    for i in range(1500):\n        visited[i % 200] = i\n"
	req := controller.Request{Code: code, Version: controller.ProtocolVersion}
	s := MergeSettings(&config.ExecutorConfig{TimeOut: 60, MemOut: 4096}, nil)

	want := controller.Execute(ctx, req, s, testLogger())
	if want.Error != nil {
		t.Fatalf("inline run failed: %v", want.Error)
	}
	folded, _ := json.Marshal(want)
	if len(folded) <= 16<<20 {
		t.Fatalf("folded result is only %d bytes", len(folded))
	}

	stdout, err := json.Marshal(controller.ExecuteTrace(ctx, req, s, testLogger()))
	if err != nil {
		t.Fatalf("encoding trace: %v", err)
	}
	b := &SandboxBackend{
		Sandbox: &fakeSandbox{res: &sandbox.ExecutionResult{Stdout: string(stdout)}},
		Command: []string{"executor", "run"},
		Logger:  testLogger(),
	}
	exec, err := b.Execute(ctx, req, s)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if exec.Result.Error != nil {
		t.Fatalf("error = %v", exec.Result.Error)
	}
	if len(exec.Result.Changes) != len(want.Changes) {
		t.Fatalf("changes = %d, want %d", len(exec.Result.Changes), len(want.Changes))
	}
	if got, _ := json.Marshal(exec.Result); string(got) != string(folded) {
		t.Error("folded sandbox result differs from the inline result")
	}
}

func TestSandboxBackend_TruncatedResult(t *testing.T) {
	sb := &fakeSandbox{res: &sandbox.ExecutionResult{Stdout: `{"initial":{},"chan`, Truncated: true}}
	b := &SandboxBackend{Sandbox: sb, Command: []string{"executor", "run"}, Logger: testLogger()}
	exec, err := b.Execute(context.Background(), controller.Request{Code: "x = 1"}, sandboxSettings())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if e := exec.Result.Error; e == nil || e.Code != controller.CodeControl || !strings.Contains(e.Message, "larger than") {
		t.Errorf("error = %+v", e)
	}
}

func TestSandboxBackend_Timeout(t *testing.T) {
	sb := &fakeSandbox{err: fmt.Errorf("%w after 11s: %w", sandbox.ErrTimeout, context.DeadlineExceeded)}
	b := &SandboxBackend{Sandbox: sb, Command: []string{"executor", "run"}, Logger: testLogger()}
	exec, err := b.Execute(context.Background(), controller.Request{Code: "while True: pass"}, sandboxSettings())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if exec.Result.Error == nil || exec.Result.Error.Code != controller.CodeCPU {
		t.Errorf("error = %+v", exec.Result.Error)
	}
}
