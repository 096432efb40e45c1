package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/graphery/executor/internal/controller"
	"github.com/graphery/executor/internal/protocol"
	"github.com/graphery/executor/internal/ratelimit"
	"github.com/graphery/executor/internal/recorder"
	"github.com/graphery/executor/internal/service"
	"github.com/graphery/executor/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeRunner struct {
	result *controller.Result
	err    error
	got    *protocol.Submission
}

func (f *fakeRunner) Run(_ context.Context, req service.Request) (*service.Outcome, error) {
	f.got = req.Submission
	if f.err != nil {
		return nil, f.err
	}
	return &service.Outcome{RunID: "run-1", Result: f.result}, nil
}

func (f *fakeRunner) Settings(*protocol.Options) controller.Settings {
	return controller.Settings{CPUTime: 5 * time.Second, MemoryLimit: 100 << 20, FloatPrecision: 4, MaxReprLength: 100}
}

type fakeRuns struct {
	storage.RunStore
	runs []storage.RunRecord
}

func (f *fakeRuns) List(_ context.Context, limit int) ([]storage.RunRecord, error) {
	return f.runs[:min(limit, len(f.runs))], nil
}

func (f *fakeRuns) Get(_ context.Context, id string) (*storage.RunRecord, error) {
	for _, r := range f.runs {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, storage.ErrNotFound
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

// startGateway runs g on a free port and returns its base URL.
func startGateway(t *testing.T, cfg Config, runner *fakeRunner, rl *ratelimit.Limiter, runs storage.RunStore) string {
	t.Helper()
	cfg.ListenAddr = freeAddr(t)
	g := NewGateway(cfg, runner, runner, rl, testLogger())
	if runs != nil {
		g.WithRunHistory(runs)
	}
	go g.Start(context.Background())
	t.Cleanup(func() { g.Stop(context.Background()) })

	base := "http://" + cfg.ListenAddr
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(base + "/healthz")
		if err == nil {
			resp.Body.Close()
			return base
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("gateway did not start")
	return ""
}

const validSubmission = `{"code":"with tracer('i'):\n    i = 1\n","graph":{},"version":"3.2.4"}`

func post(t *testing.T, url, body string, header http.Header) (*http.Response, protocol.Response) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	var out protocol.Response
	json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, body
}

func okRunner() *fakeRunner {
	return &fakeRunner{result: &controller.Result{Changes: []recorder.Record{{Line: 0}, {Line: 2}}}}
}

// --- POST /run ---

func TestRun_Success(t *testing.T) {
	runner := okRunner()
	base := startGateway(t, Config{}, runner, nil, nil)

	resp, out := post(t, base+"/run", validSubmission, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(out.Errors) != 0 {
		t.Fatalf("errors = %+v", out.Errors)
	}
	data, _ := json.Marshal(out.Data)
	var rd protocol.RunData
	json.Unmarshal(data, &rd)
	if rd.RunID != "run-1" || len(rd.Info) != 2 || rd.Info[1].Line != 2 {
		t.Errorf("data = %s", data)
	}
	if runner.got == nil || runner.got.Version != "3.2.4" {
		t.Errorf("submission = %+v", runner.got)
	}
}

func TestRun_ProgramFailure(t *testing.T) {
	runner := &fakeRunner{result: &controller.Result{
		Changes: []recorder.Record{{Line: 0}},
		Error:   &controller.Error{Code: controller.CodeRunner, Kind: controller.KindRuntime, Message: "ZeroDivisionError: division by zero"},
	}}
	base := startGateway(t, Config{}, runner, nil, nil)

	resp, out := post(t, base+"/run", validSubmission, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(out.Errors) != 1 || out.Errors[0].Code != controller.CodeRunner || out.Errors[0].Kind != controller.KindRuntime {
		t.Errorf("errors = %+v", out.Errors)
	}
	if out.Data == nil {
		t.Error("partial changes should be returned")
	}
}

func TestRun_MissingCode(t *testing.T) {
	base := startGateway(t, Config{}, okRunner(), nil, nil)
	resp, out := post(t, base+"/run", `{"graph":{}}`, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if len(out.Errors) != 1 || out.Errors[0].Message != protocol.ErrNoCode.Error() {
		t.Errorf("errors = %+v", out.Errors)
	}
}

func TestRun_TooLarge(t *testing.T) {
	base := startGateway(t, Config{MaxRequestSize: 32}, okRunner(), nil, nil)
	resp, _ := post(t, base+"/run", validSubmission, nil)
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", resp.StatusCode)
	}
}

func TestRun_RunnerError(t *testing.T) {
	base := startGateway(t, Config{}, &fakeRunner{err: errors.New("sandbox down")}, nil, nil)
	resp, out := post(t, base+"/run", validSubmission, nil)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if len(out.Errors) != 1 || strings.Contains(out.Errors[0].Message, "sandbox down") {
		t.Errorf("internal details leaked: %+v", out.Errors)
	}
}

// --- Authentication and rate limiting ---

func TestAuth_APIKeys(t *testing.T) {
	base := startGateway(t, Config{APIKeys: map[string]string{"secret": "web"}}, okRunner(), nil, nil)

	if resp, _ := post(t, base+"/run", validSubmission, nil); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no key: status = %d", resp.StatusCode)
	}
	bad := http.Header{"Authorization": {"Bearer nope"}}
	if resp, _ := post(t, base+"/run", validSubmission, bad); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad key: status = %d", resp.StatusCode)
	}
	good := http.Header{"Authorization": {"Bearer secret"}}
	if resp, _ := post(t, base+"/run", validSubmission, good); resp.StatusCode != http.StatusOK {
		t.Errorf("good key: status = %d", resp.StatusCode)
	}
	if resp, _ := get(t, base+"/healthz"); resp.StatusCode != http.StatusOK {
		t.Errorf("healthz should not need a key: %d", resp.StatusCode)
	}
}

func TestRateLimit(t *testing.T) {
	rl := ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: 1, BurstSize: 1})
	base := startGateway(t, Config{}, okRunner(), rl, nil)

	if resp, _ := post(t, base+"/run", validSubmission, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("first: status = %d", resp.StatusCode)
	}
	resp, _ := post(t, base+"/run", validSubmission, nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second: status = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
}

// --- GET /env and history ---

func TestEnv(t *testing.T) {
	base := startGateway(t, Config{Version: "1.2.3"}, okRunner(), nil, nil)
	resp, body := get(t, base+"/env")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out struct {
		Data EnvResponse `json:"data"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v (%s)", err, body)
	}
	if out.Data.Version != "1.2.3" || out.Data.ProtocolVersion != controller.ProtocolVersion || out.Data.ExecMemOut != 100 || out.Data.ExecTimeOut != 5 {
		t.Errorf("env = %+v", out.Data)
	}
}

func TestRuns_Disabled(t *testing.T) {
	base := startGateway(t, Config{}, okRunner(), nil, nil)
	if resp, _ := get(t, base+"/runs"); resp.StatusCode == http.StatusOK {
		t.Error("/runs should not exist without history")
	}
}

func TestRuns_ListAndGet(t *testing.T) {
	runs := &fakeRuns{runs: []storage.RunRecord{
		{ID: "b", Status: "failed", Code: 13},
		{ID: "a", Status: "success", Records: 3},
	}}
	base := startGateway(t, Config{}, okRunner(), nil, runs)

	resp, body := get(t, base+"/runs?limit=1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	var list struct {
		Data []storage.RunRecord `json:"data"`
	}
	json.Unmarshal(body, &list)
	if len(list.Data) != 1 || list.Data[0].ID != "b" {
		t.Errorf("list = %s", body)
	}

	if resp, _ := get(t, base+"/runs?limit=x"); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit: status = %d", resp.StatusCode)
	}

	resp, body = get(t, base+"/runs/a")
	if resp.StatusCode != http.StatusOK || !bytes.Contains(body, []byte(`"records":3`)) {
		t.Errorf("get = %d %s", resp.StatusCode, body)
	}
	if resp, _ := get(t, base+"/runs/missing"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing: status = %d", resp.StatusCode)
	}
}

// --- POST /run/stream ---

func TestRunStream(t *testing.T) {
	base := startGateway(t, Config{}, okRunner(), nil, nil)
	resp, err := http.Post(base+"/run/stream", "application/json", strings.NewReader(validSubmission))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	text := string(body)
	first, second := strings.Index(text, `"line":0`), strings.Index(text, `"line":2`)
	if first < 0 || second < first {
		t.Errorf("expected both records in order:\n%s", text)
	}
	if accepted := strings.Index(text, EventAccepted); accepted < 0 || accepted > first {
		t.Errorf("accepted event missing or late:\n%s", text)
	}
	if done := strings.LastIndex(text, EventDone); done < second {
		t.Errorf("done event missing or early:\n%s", text)
	}
}

// --- Origins ---

func TestOrigin_Refused(t *testing.T) {
	h := originMiddleware(false, []string{"127.0.0.1"}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler reached")
	}))
	req := httptest.NewRequest(http.MethodPost, "/run", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden || !strings.Contains(rec.Body.String(), "is not accepted") {
		t.Errorf("response = %d %s", rec.Code, rec.Body.String())
	}
}

func TestOrigin_AcceptedEchoed(t *testing.T) {
	h := originMiddleware(false, []string{"127.0.0.1"}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodPost, "/run", nil)
	req.Header.Set("Origin", "http://127.0.0.1:8080")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Header().Get("Access-Control-Allow-Origin") != "http://127.0.0.1:8080" {
		t.Errorf("response = %d %v", rec.Code, rec.Header())
	}
}

func TestOrigin_Preflight(t *testing.T) {
	h := originMiddleware(true, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("preflight reached the handler")
	}))
	req := httptest.NewRequest(http.MethodOptions, "/run", nil)
	req.Header.Set("Origin", "https://graphery.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Errorf("response = %d %v", rec.Code, rec.Header())
	}
}

func TestOriginAccepted(t *testing.T) {
	accepted := []string{"127.0.0.1", "*.graphery.org"}
	for origin, want := range map[string]bool{
		"http://127.0.0.1:8080":         true,
		"https://api.graphery.org":      true,
		"https://graphery.org.evil":     false,
		"https://evil.com/graphery.org": false,
		"https://example.com":           false,
	} {
		if got := originAccepted(origin, accepted); got != want {
			t.Errorf("originAccepted(%q) = %v, want %v", origin, got, want)
		}
	}
}

func TestOrigin_NoHeaderPasses(t *testing.T) {
	reached := false
	h := originMiddleware(false, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { reached = true }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/env", nil))
	if !reached {
		t.Error("non-browser request was refused")
	}
}
