package sandbox

import (
	"syscall"

	"codelab/internal/diagnostic"
)

const (
	messageSuccess         = "success running script"
	messageFileSystemError = "Error saving script file."
)

// ExecutionResult is the outcome of one Execute call. Only the first five
// fields are meant for users; the rest stay server side.
type ExecutionResult struct {
	Error   bool            `json:"error"`
	Output  string          `json:"result"`
	Message string          `json:"message"`
	Kind    diagnostic.Kind `json:"error_kind,omitempty"`
	Line    int             `json:"line"`

	RawDiagnostic  string         `json:"-"`
	ExitCode       int            `json:"-"`
	Signal         syscall.Signal `json:"-"`
	TimedOut       bool           `json:"-"`
	OutputExceeded bool           `json:"-"`
	WallTimeMs     int64          `json:"-"`
}

func successResult(output string) ExecutionResult {
	return ExecutionResult{Output: output, Message: messageSuccess}
}

func failureResult(kind diagnostic.Kind, line int, output, message string) ExecutionResult {
	if line == 0 {
		line = diagnostic.UnknownLine
	}
	return ExecutionResult{
		Error:   true,
		Output:  output,
		Message: message,
		Kind:    kind,
		Line:    line,
	}
}
