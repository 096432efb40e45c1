package controller

import (
	"errors"
	"fmt"

	"github.com/graphery/executor/internal/script"
)

// Code identifies the phase an execution failed in.
type Code int

const (
	CodeControl Code = 3
	CodeInit    Code = 5
	CodePrep    Code = 7
	CodePost    Code = 11
	CodeRunner  Code = 13
	CodeCPU     Code = 17
	CodeMemory  Code = 19
)

func (c Code) String() string {
	switch c {
	case CodeControl:
		return "control"
	case CodeInit:
		return "init"
	case CodePrep:
		return "prep"
	case CodePost:
		return "post"
	case CodeRunner:
		return "runner"
	case CodeCPU:
		return "cpu"
	case CodeMemory:
		return "memory"
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Kind classifies a failure independently of the phase it happened in.
type Kind string

const (
	KindCompile          Kind = "compile_error"
	KindCapabilityDenied Kind = "capability_denied"
	KindRuntime          Kind = "runtime_failure"
	KindResourceLimit    Kind = "resource_limit"
	KindProtocolMismatch Kind = "protocol_mismatch"
	KindInternal         Kind = "internal"
)

// Error is the structured failure of an execution.
type Error struct {
	Code    Code   `json:"code"`
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Trace   string `json:"trace,omitempty"`
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("An error occurs with exit code %d. Error: %s", e.Code, e.Message)
	if e.Trace != "" {
		msg += "\ntrace: \n" + e.Trace
	}
	return msg
}

// NewError returns an Error with a formatted message.
func NewError(code Code, kind Kind, format string, args ...any) *Error {
	return &Error{Code: code, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// CPUExhausted reports a program stopped by the CPU budget.
func CPUExhausted(signal int) *Error {
	return NewError(CodeCPU, KindResourceLimit, "Allocated CPU time exhausted. Signal num: %d", signal)
}

// MemoryExhausted reports a program stopped by the memory budget.
func MemoryExhausted() *Error {
	return NewError(CodeMemory, KindResourceLimit, "Allocated MEM size exhausted")
}

// versionMismatch reports a submission built for another protocol version.
func versionMismatch(got string) *Error {
	if got == "" {
		got = "Not Exist"
	}
	return NewError(CodeInit, KindProtocolMismatch,
		"The current version of your local server (%s) does not match version of the web app (%q). "+
			"Please download the newest version at https://github.com/FlickerSoul/Graphery/releases.",
		ProtocolVersion, got)
}

// runnerError converts a failure returned by the interpreter.
func runnerError(err error) *Error {
	var (
		ctrlErr *Error
		capErr  *script.CapabilityError
		synErr  *script.SyntaxError
		exc     *script.Exception
	)
	switch {
	case errors.As(err, &ctrlErr):
		return ctrlErr
	case errors.As(err, &capErr):
		return &Error{Code: CodeRunner, Kind: KindCapabilityDenied, Message: capErr.Error()}
	case errors.As(err, &synErr):
		return &Error{Code: CodeRunner, Kind: KindCompile, Message: synErr.Error(), Trace: synErr.Text}
	case errors.As(err, &exc):
		return &Error{Code: CodeRunner, Kind: KindRuntime, Message: exc.Summary(), Trace: exc.FormatTraceback()}
	case errors.Is(err, script.ErrInterrupted):
		return &Error{Code: CodeControl, Kind: KindInternal, Message: err.Error()}
	}
	return &Error{Code: CodeRunner, Kind: KindInternal, Message: err.Error()}
}
