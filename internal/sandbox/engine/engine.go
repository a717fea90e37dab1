// Package engine runs one untrusted command under wall-clock, output and
// optional OS-level limits.
package engine

import (
	"context"
	"strings"
	"syscall"
)

// Limits describes hard limits enforced for one command.
type Limits struct {
	WallTimeMs int64
	CPUTimeMs  int64
	MemoryMB   int64
	StackMB    int64
	FileSizeMB int64
	PIDs       int64
}

// RunSpec is the execution specification for one command.
type RunSpec struct {
	WorkDir string
	Cmd     []string
	Env     []string
	Limits  Limits
	// OutputLimitBytes caps stdout and stderr separately. Zero uses the
	// engine default.
	OutputLimitBytes int64
}

// RunResult captures what happened to the command.
type RunResult struct {
	ExitCode       int
	Signal         syscall.Signal
	TimedOut       bool
	OutputExceeded bool
	Canceled       bool
	WallTimeMs     int64
	CPUTimeMs      int64
	MemoryKB       int64
	Stdout         string
	Stderr         string
}

// Failed reports whether the command did not finish cleanly.
func (r RunResult) Failed() bool {
	return r.ExitCode != 0 || r.Signal != 0 || r.TimedOut || r.OutputExceeded || r.Canceled
}

// Engine executes a RunSpec. An error means the command could not be run at
// all; anything the command itself did is reported in RunResult.
type Engine interface {
	Run(ctx context.Context, runSpec RunSpec) (RunResult, error)
}

// DefaultPath is the search path given to commands whose environment does
// not set one.
const DefaultPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

// WithDefaultEnv returns env with PATH and LANG filled in when missing.
// Entries already present are kept as given.
func WithDefaultEnv(env []string) []string {
	out := make([]string, 0, len(env)+2)
	hasPath, hasLang := false, false
	for _, kv := range env {
		switch {
		case strings.HasPrefix(kv, "PATH="):
			hasPath = true
		case strings.HasPrefix(kv, "LANG="):
			hasLang = true
		}
		out = append(out, kv)
	}
	if !hasPath {
		out = append(out, "PATH="+DefaultPath)
	}
	if !hasLang {
		out = append(out, "LANG=C.UTF-8")
	}
	return out
}
