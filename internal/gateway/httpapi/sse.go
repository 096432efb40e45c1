package httpapi

import (
	"log/slog"

	"github.com/jkaninda/okapi"

	"github.com/graphery/executor/internal/controller"
	"github.com/graphery/executor/internal/recorder"
	"github.com/graphery/executor/internal/service"
)

// SSE event names of POST /run/stream.
const (
	EventAccepted = "accepted"
	EventRecord   = "record"
	EventDone     = "done"
	EventError    = "error"
)

// SSEEvent represents a server-sent event for streaming results.
type SSEEvent struct {
	RunID  string            `json:"run_id,omitempty"`
	Index  int               `json:"index,omitempty"`
	Record *recorder.Record  `json:"record,omitempty"`
	Count  int               `json:"count,omitempty"`
	Cached bool              `json:"cached,omitempty"`
	Error  *controller.Error `json:"error,omitempty"`
	// Message is set on errors that are not program failures.
	Message string `json:"message,omitempty"`
}

// handleRunStream handles POST /run/stream. The program runs to completion
// first; its records are then sent one event each, followed by "done" or by
// "error" when the program failed.
func (g *Gateway) handleRunStream(c *okapi.Context) error {
	sub, status, err := g.admit(c)
	if err != nil {
		return c.JSON(status, SSEEvent{Message: err.Error()})
	}

	out, err := g.runner.Run(c.Context(), service.Request{Submission: sub, Transport: "http"})
	if err != nil {
		g.logger.Error("streamed run failed", slog.String("error", err.Error()))
		c.SSEvent(EventError, SSEEvent{Message: "execution failed"})
		return nil
	}

	c.SSEvent(EventAccepted, SSEEvent{RunID: out.RunID, Cached: out.Cached})
	for i := range out.Result.Changes {
		if c.Context().Err() != nil {
			g.logger.Debug("stream client went away", slog.String("run_id", out.RunID), slog.Int("sent", i))
			return nil
		}
		c.SSEvent(EventRecord, SSEEvent{RunID: out.RunID, Index: i, Record: &out.Result.Changes[i]})
	}

	if out.Result.Error != nil {
		c.SSEvent(EventError, SSEEvent{RunID: out.RunID, Error: out.Result.Error, Count: len(out.Result.Changes)})
		return nil
	}
	c.SSEvent(EventDone, SSEEvent{RunID: out.RunID, Count: len(out.Result.Changes), Cached: out.Cached})
	return nil
}

