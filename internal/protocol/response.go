package protocol

import (
	"github.com/graphery/executor/internal/controller"
	"github.com/graphery/executor/internal/recorder"
)

// Response is the body of every HTTP reply: either data or errors.
type Response struct {
	Data   any         `json:"data,omitempty"`
	Errors []ErrorItem `json:"errors,omitempty"`
}

// ErrorItem is one reported error.
type ErrorItem struct {
	Message string          `json:"message"`
	Code    controller.Code `json:"code,omitempty"`
	Kind    controller.Kind `json:"kind,omitempty"`
	Trace   string          `json:"trace,omitempty"`
}

// RunData is the data of a successful run.
type RunData struct {
	RunID  string            `json:"run_id"`
	Info   []recorder.Record `json:"info"`
	Cached bool              `json:"cached"`
}

// NewDataResponse wraps data.
func NewDataResponse(data any) Response { return Response{Data: data} }

// NewErrorResponse wraps a single message.
func NewErrorResponse(message string) Response {
	return Response{Errors: []ErrorItem{{Message: message}}}
}

// NewRunErrorResponse reports a failed execution. Changes recorded before
// the failure are returned as data.
func NewRunErrorResponse(runID string, e *controller.Error, changes []recorder.Record) Response {
	r := Response{Errors: []ErrorItem{{
		Message: e.Error(),
		Code:    e.Code,
		Kind:    e.Kind,
		Trace:   e.Trace,
	}}}
	if len(changes) > 0 {
		r.Data = RunData{RunID: runID, Info: changes}
	}
	return r
}
