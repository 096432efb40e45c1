// Package mcp exposes program execution as a Model Context Protocol tool.
// Assistants call run_program with a program and a graph and read back the
// change records, the same response body the HTTP API returns.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/graphery/executor/internal/controller"
	"github.com/graphery/executor/internal/protocol"
	"github.com/graphery/executor/internal/service"
)

// ToolName is the name of the execution tool.
const ToolName = "run_program"

// Server is an MCP server with a single execution tool.
type Server struct {
	runner service.Runner
	logger *slog.Logger
	mcp    *server.MCPServer
}

// NewServer creates the MCP server. version is reported in the handshake.
func NewServer(runner service.Runner, version string, logger *slog.Logger) *Server {
	s := &Server{
		runner: runner,
		logger: logger,
		mcp: server.NewMCPServer("graphery-executor", version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
	}
	s.mcp.AddTool(runTool(), s.handleRun)
	return s
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// ServeStdio serves requests on stdin/stdout until the input closes.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func runTool() mcp.Tool {
	return mcp.NewTool(ToolName,
		mcp.WithDescription("Run a Python program against a graph and return the change records of the traced variables. "+
			"Wrap the code of interest in `with tracer('a', 'b'):` or decorate a function with `@tracer('x')`."),
		mcp.WithString("code", mcp.Required(), mcp.Description("Program source.")),
		mcp.WithString("graph", mcp.Description("Cytoscape JSON document. Empty runs against an empty graph.")),
		mcp.WithString("version", mcp.Description("Protocol version. Default: "+controller.ProtocolVersion+".")),
		mcp.WithNumber("float_precision", mcp.Description("Decimals floats are rounded to, -1 disables rounding.")),
		mcp.WithNumber("rand_seed", mcp.Description("Seed of the random module.")),
		mcp.WithArray("input_list", mcp.Description("Lines returned by input(), one per call."),
			mcp.Items(map[string]any{"type": "string"})),
	)
}

func (s *Server) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sub, err := submissionFromArgs(req.GetArguments())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	out, err := s.runner.Run(ctx, service.Request{Submission: sub, Transport: "mcp"})
	if err != nil {
		s.logger.Error("mcp run failed", slog.String("error", err.Error()))
		return mcp.NewToolResultError("execution failed"), nil
	}

	var resp protocol.Response
	if e := out.Result.Error; e != nil {
		resp = protocol.NewRunErrorResponse(out.RunID, e, out.Result.Changes)
	} else {
		resp = protocol.NewDataResponse(protocol.RunData{RunID: out.RunID, Info: out.Result.Changes, Cached: out.Cached})
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	res := mcp.NewToolResultText(string(data))
	res.IsError = out.Result.Error != nil
	return res, nil
}

// submissionFromArgs builds a submission from tool arguments and validates it
// like an HTTP body.
func submissionFromArgs(args map[string]any) (*protocol.Submission, error) {
	doc := map[string]any{"graph": ""}
	for _, key := range []string{"code", "graph", "version"} {
		if v, ok := args[key]; ok {
			doc[key] = v
		}
	}
	if _, ok := doc["version"]; !ok {
		doc["version"] = controller.ProtocolVersion
	}
	opts := map[string]any{}
	for _, key := range []string{"float_precision", "rand_seed", "input_list"} {
		if v, ok := args[key]; ok {
			opts[key] = v
		}
	}
	if len(opts) > 0 {
		doc["options"] = opts
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding arguments: %w", err)
	}
	return protocol.ParseSubmission(data)
}
