package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/graphery/executor/internal/controller"
	"github.com/graphery/executor/internal/protocol"
	"github.com/graphery/executor/internal/ratelimit"
	"github.com/graphery/executor/internal/recorder"
	"github.com/graphery/executor/internal/service"
)

const validSubmission = `{"code":"x = 1","graph":{},"version":"3.2.4"}`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeRunner struct {
	mu    sync.Mutex
	reqs  []service.Request
	err   error
	block chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, req service.Request) (*service.Outcome, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &service.Outcome{
		RunID:    req.RunID,
		Result:   &controller.Result{Changes: []recorder.Record{{Line: 0}, {Line: 1}}},
		Duration: 3 * time.Millisecond,
	}, nil
}

func (f *fakeRunner) requests() []service.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]service.Request(nil), f.reqs...)
}

func startServer(t *testing.T, cfg Config, runner service.Runner, rl *ratelimit.Limiter) (*Server, string) {
	t.Helper()
	s := NewServer(cfg, runner, rl, nil, testLogger())
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return s, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msgType protocol.MessageType, payload string) {
	t.Helper()
	env := protocol.Envelope{Type: msgType, ID: "c1", Timestamp: time.Now()}
	if payload != "" {
		env.Payload = json.RawMessage(payload)
	}
	data, _ := json.Marshal(env)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("Write: %v", err)
	}
}

func receive(t *testing.T, conn *websocket.Conn) protocol.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decoding %s: %v", data, err)
	}
	return env
}

func expectError(t *testing.T, conn *websocket.Conn, code string) protocol.Envelope {
	t.Helper()
	env := receive(t, conn)
	if env.Type != protocol.MsgError {
		t.Fatalf("type = %s, want error", env.Type)
	}
	var p protocol.ErrorPayload
	if err := env.Decode(&p); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.Code != code {
		t.Fatalf("error code = %q (%s), want %q", p.Code, p.Message, code)
	}
	return env
}

// --- Messages ---

func TestPing(t *testing.T) {
	_, url := startServer(t, Config{}, &fakeRunner{}, nil)
	conn := dial(t, url)

	send(t, conn, protocol.MsgPing, "")
	if env := receive(t, conn); env.Type != protocol.MsgPong {
		t.Errorf("type = %s, want pong", env.Type)
	}
}

func TestSubmit_AcceptedThenResult(t *testing.T) {
	runner := &fakeRunner{}
	_, url := startServer(t, Config{}, runner, nil)
	conn := dial(t, url)

	send(t, conn, protocol.MsgRunSubmit, validSubmission)

	accepted := receive(t, conn)
	if accepted.Type != protocol.MsgRunAccepted {
		t.Fatalf("first message = %s, want run.accepted", accepted.Type)
	}
	var ack protocol.RunAcceptedPayload
	if err := accepted.Decode(&ack); err != nil || ack.RunID == "" || ack.RunID != accepted.RunID {
		t.Fatalf("accepted = %+v, %v", ack, err)
	}

	result := receive(t, conn)
	if result.Type != protocol.MsgRunResult {
		t.Fatalf("second message = %s, want run.result", result.Type)
	}
	var p protocol.RunResultPayload
	if err := result.Decode(&p); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.RunID != ack.RunID || len(p.Changes) != 2 || p.Error != nil || p.Duration != "3ms" {
		t.Errorf("result = %+v", p)
	}

	reqs := runner.requests()
	if len(reqs) != 1 || reqs[0].Transport != "ws" || reqs[0].RunID != ack.RunID || reqs[0].Submission.Code != "x = 1" {
		t.Errorf("runner requests = %+v", reqs)
	}
}

func TestSubmit_InvalidSubmission(t *testing.T) {
	runner := &fakeRunner{}
	_, url := startServer(t, Config{}, runner, nil)
	conn := dial(t, url)

	send(t, conn, protocol.MsgRunSubmit, `{"graph":{}}`)
	expectError(t, conn, CodeInvalidSubmission)
	if len(runner.requests()) != 0 {
		t.Error("invalid submission reached the runner")
	}
}

func TestInvalidEnvelope(t *testing.T) {
	_, url := startServer(t, Config{}, &fakeRunner{}, nil)
	conn := dial(t, url)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	expectError(t, conn, CodeInvalidMessage)

	// the connection survives a bad message
	send(t, conn, protocol.MsgPing, "")
	if env := receive(t, conn); env.Type != protocol.MsgPong {
		t.Errorf("type = %s, want pong", env.Type)
	}
}

func TestUnknownType(t *testing.T) {
	_, url := startServer(t, Config{}, &fakeRunner{}, nil)
	conn := dial(t, url)

	send(t, conn, protocol.MessageType("agent.register"), `{}`)
	expectError(t, conn, CodeUnknownType)
}

func TestSubmit_RunnerError(t *testing.T) {
	_, url := startServer(t, Config{}, &fakeRunner{err: errors.New("disk full")}, nil)
	conn := dial(t, url)

	send(t, conn, protocol.MsgRunSubmit, validSubmission)
	accepted := receive(t, conn)
	env := expectError(t, conn, CodeExecutionFailed)
	if env.RunID != accepted.RunID {
		t.Errorf("error run_id = %q, want %q", env.RunID, accepted.RunID)
	}
	var p protocol.ErrorPayload
	env.Decode(&p)
	if strings.Contains(p.Message, "disk") {
		t.Errorf("internal error leaked: %q", p.Message)
	}
}

// --- Limits ---

func TestSubmit_RateLimited(t *testing.T) {
	rl := ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: 1, BurstSize: 1})
	_, url := startServer(t, Config{}, &fakeRunner{}, rl)
	conn := dial(t, url)

	send(t, conn, protocol.MsgRunSubmit, validSubmission)
	receive(t, conn)
	receive(t, conn)

	send(t, conn, protocol.MsgRunSubmit, validSubmission)
	expectError(t, conn, CodeRateLimited)
}

func TestSubmit_Busy(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	s, url := startServer(t, Config{MaxInflight: 1}, runner, nil)
	conn := dial(t, url)

	send(t, conn, protocol.MsgRunSubmit, validSubmission)
	accepted := receive(t, conn)
	if accepted.Type != protocol.MsgRunAccepted {
		t.Fatalf("type = %s", accepted.Type)
	}
	if n := s.Tracker().ActiveCount(); n != 1 {
		t.Errorf("ActiveCount = %d, want 1", n)
	}

	send(t, conn, protocol.MsgRunSubmit, validSubmission)
	expectError(t, conn, CodeBusy)

	close(runner.block)
	if env := receive(t, conn); env.Type != protocol.MsgRunResult || env.RunID != accepted.RunID {
		t.Errorf("result = %s %s", env.Type, env.RunID)
	}
}

// --- Auth ---

func TestAuth_APIKeys(t *testing.T) {
	_, url := startServer(t, Config{APIKeys: map[string]string{"secret": "alice"}}, &fakeRunner{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, url, nil)
	if err == nil {
		t.Fatal("dial without token succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("response = %+v", resp)
	}

	conn := dial(t, url+"?token=secret")
	send(t, conn, protocol.MsgPing, "")
	receive(t, conn)

	header := http.Header{"Authorization": []string{"Bearer secret"}}
	conn2, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		t.Fatalf("dial with bearer: %v", err)
	}
	conn2.Close(websocket.StatusNormalClosure, "")
}

func TestAuthenticate_WrongToken(t *testing.T) {
	s := NewServer(Config{APIKeys: map[string]string{"secret": "alice"}}, &fakeRunner{}, nil, nil, testLogger())
	r := httptest.NewRequest(http.MethodGet, "/ws?token=nope", nil)
	if _, ok := s.authenticate(r); ok {
		t.Error("wrong token accepted")
	}
	r = httptest.NewRequest(http.MethodGet, "/ws?token=secret", nil)
	if client, ok := s.authenticate(r); !ok || client != "alice" {
		t.Errorf("client = %q, %v", client, ok)
	}
}

func TestAuthenticate_RemoteHost(t *testing.T) {
	s := NewServer(Config{}, &fakeRunner{}, nil, nil, testLogger())
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.RemoteAddr = "10.0.0.7:5123"
	if client, ok := s.authenticate(r); !ok || client != "10.0.0.7" {
		t.Errorf("client = %q, %v", client, ok)
	}
}
