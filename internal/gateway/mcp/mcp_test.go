package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/graphery/executor/internal/controller"
	"github.com/graphery/executor/internal/protocol"
	"github.com/graphery/executor/internal/recorder"
	"github.com/graphery/executor/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeRunner struct {
	result *controller.Result
	err    error
	got    service.Request
}

func (f *fakeRunner) Run(_ context.Context, req service.Request) (*service.Outcome, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return &service.Outcome{RunID: "run-1", Result: f.result}, nil
}

func connect(t *testing.T, runner service.Runner) *mcpclient.Client {
	t.Helper()
	s := NewServer(runner, "test", testLogger())
	c, err := mcpclient.NewInProcessClient(s.MCPServer())
	if err != nil {
		t.Fatalf("NewInProcessClient: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "test", Version: "0.0.1"}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	if _, err := c.Initialize(ctx, initReq); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return c
}

func call(t *testing.T, c *mcpclient.Client, args map[string]any) (*mcp.CallToolResult, string) {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Name = ToolName
	req.Params.Arguments = args
	res, err := c.CallTool(context.Background(), req)
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	var sb strings.Builder
	for _, content := range res.Content {
		if tc, ok := mcp.AsTextContent(content); ok {
			sb.WriteString(tc.Text)
		}
	}
	return res, sb.String()
}

func TestListTools(t *testing.T) {
	c := connect(t, &fakeRunner{})
	resp, err := c.ListTools(context.Background(), mcp.ListToolsRequest{})
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(resp.Tools) != 1 || resp.Tools[0].Name != ToolName {
		t.Fatalf("tools = %+v", resp.Tools)
	}
	if req := resp.Tools[0].InputSchema.Required; len(req) != 1 || req[0] != "code" {
		t.Errorf("required = %v", req)
	}
}

func TestRunProgram_Success(t *testing.T) {
	runner := &fakeRunner{result: &controller.Result{Changes: []recorder.Record{{Line: 0}, {Line: 3}}}}
	c := connect(t, runner)

	res, text := call(t, c, map[string]any{
		"code":            "x = 1",
		"graph":           `{"elements":{"nodes":[{"data":{"id":"a"}}]}}`,
		"float_precision": 2,
		"input_list":      []any{"first"},
	})
	if res.IsError {
		t.Fatalf("tool error: %s", text)
	}

	var body struct {
		Data protocol.RunData `json:"data"`
	}
	if err := json.Unmarshal([]byte(text), &body); err != nil {
		t.Fatalf("decoding %s: %v", text, err)
	}
	if body.Data.RunID != "run-1" || len(body.Data.Info) != 2 {
		t.Errorf("data = %+v", body.Data)
	}

	sub := runner.got.Submission
	if runner.got.Transport != "mcp" || sub.Code != "x = 1" || sub.Version != controller.ProtocolVersion {
		t.Errorf("request = %+v", runner.got)
	}
	if sub.Options == nil || *sub.Options.FloatPrecision != 2 || sub.Options.InputList[0] != "first" {
		t.Errorf("options = %+v", sub.Options)
	}
	if !strings.Contains(string(sub.GraphBytes()), `"id":"a"`) {
		t.Errorf("graph = %s", sub.GraphBytes())
	}
}

func TestRunProgram_ProgramFailure(t *testing.T) {
	runner := &fakeRunner{result: &controller.Result{
		Changes: []recorder.Record{{Line: 0}},
		Error:   controller.NewError(controller.CodeRunner, controller.KindRuntime, "ZeroDivisionError: division by zero"),
	}}
	c := connect(t, runner)

	res, text := call(t, c, map[string]any{"code": "1/0"})
	if !res.IsError {
		t.Error("program failure not flagged")
	}
	if !strings.Contains(text, "ZeroDivisionError") || !strings.Contains(text, `"run_id":"run-1"`) {
		t.Errorf("text = %s", text)
	}
}

func TestRunProgram_MissingCode(t *testing.T) {
	runner := &fakeRunner{}
	c := connect(t, runner)

	res, text := call(t, c, map[string]any{"graph": "{}"})
	if !res.IsError || !strings.Contains(text, protocol.ErrNoCode.Error()) {
		t.Errorf("result = %v %s", res.IsError, text)
	}
	if runner.got.Submission != nil {
		t.Error("invalid call reached the runner")
	}
}

func TestRunProgram_RunnerError(t *testing.T) {
	c := connect(t, &fakeRunner{err: errors.New("disk full")})
	res, text := call(t, c, map[string]any{"code": "x = 1"})
	if !res.IsError || strings.Contains(text, "disk") {
		t.Errorf("result = %v %s", res.IsError, text)
	}
}
