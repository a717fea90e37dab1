//go:build linux

package engine_test

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"codelab/internal/sandbox/engine"
)

func newEngine(t *testing.T, cfg engine.Config) engine.Engine {
	t.Helper()
	eng, err := engine.NewEngine(cfg)
	if err != nil {
		t.Fatalf("create engine: %v", err)
	}
	return eng
}

func shell(workDir, script string, limits engine.Limits) engine.RunSpec {
	return engine.RunSpec{
		WorkDir: workDir,
		Cmd:     []string{"/bin/sh", "-c", script},
		Limits:  limits,
	}
}

func TestLinuxEngineRun(t *testing.T) {
	cases := []struct {
		name   string
		script string
		limits engine.Limits
		output int64
		verify func(t *testing.T, res engine.RunResult)
	}{
		{
			name:   "stdout_and_exit_code",
			script: "echo hello; echo oops >&2; exit 3",
			verify: func(t *testing.T, res engine.RunResult) {
				if res.ExitCode != 3 {
					t.Fatalf("expected exit code 3, got %d", res.ExitCode)
				}
				if res.Stdout != "hello\n" || res.Stderr != "oops\n" {
					t.Fatalf("unexpected output: %q %q", res.Stdout, res.Stderr)
				}
				if !res.Failed() {
					t.Fatalf("nonzero exit must count as failed")
				}
			},
		},
		{
			name:   "clean_exit",
			script: "printf ok",
			verify: func(t *testing.T, res engine.RunResult) {
				if res.Failed() || res.Stdout != "ok" {
					t.Fatalf("unexpected result: %+v", res)
				}
			},
		},
		{
			name:   "signal_reported",
			script: "kill -SEGV $$",
			verify: func(t *testing.T, res engine.RunResult) {
				if res.Signal != syscall.SIGSEGV {
					t.Fatalf("expected SIGSEGV, got %v", res.Signal)
				}
			},
		},
		{
			name:   "output_cap_kills",
			script: "while true; do echo yyyyyyyyyyyyyyyy; done",
			limits: engine.Limits{WallTimeMs: 5000},
			output: 1024,
			verify: func(t *testing.T, res engine.RunResult) {
				if !res.OutputExceeded {
					t.Fatalf("expected output exceeded")
				}
				if res.TimedOut {
					t.Fatalf("output cap should fire before the wall timer")
				}
				if len(res.Stdout) > 1024 {
					t.Fatalf("stdout exceeds cap: %d", len(res.Stdout))
				}
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			eng := newEngine(t, engine.Config{})
			runSpec := shell(t.TempDir(), tc.script, tc.limits)
			runSpec.OutputLimitBytes = tc.output
			res, err := eng.Run(context.Background(), runSpec)
			if err != nil {
				t.Fatalf("run failed: %v", err)
			}
			tc.verify(t, res)
		})
	}
}

func TestLinuxEngineTimeoutKillsGroup(t *testing.T) {
	workDir := t.TempDir()
	pidFile := filepath.Join(workDir, "child.pid")
	eng := newEngine(t, engine.Config{})

	script := "sleep 30 & echo $! > " + pidFile + "; while true; do :; done"
	start := time.Now()
	res, err := eng.Run(context.Background(), shell(workDir, script, engine.Limits{WallTimeMs: 300}))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("timeout not enforced, took %v", elapsed)
	}
	if !res.TimedOut || !res.Failed() {
		t.Fatalf("expected timed out result, got %+v", res)
	}

	data, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("read child pid: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		t.Fatalf("parse child pid: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for processAlive(pid) {
		if time.Now().After(deadline) {
			t.Fatalf("background child %d survived the timeout", pid)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestLinuxEngineContextCancel(t *testing.T) {
	eng := newEngine(t, engine.Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	res, err := eng.Run(ctx, shell(t.TempDir(), "sleep 30", engine.Limits{}))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !res.Canceled || res.TimedOut {
		t.Fatalf("expected canceled result, got %+v", res)
	}
}

func TestLinuxEngineStartFailure(t *testing.T) {
	eng := newEngine(t, engine.Config{})
	_, err := eng.Run(context.Background(), engine.RunSpec{
		WorkDir: t.TempDir(),
		Cmd:     []string{"/definitely/not/a/binary"},
	})
	if err == nil {
		t.Fatalf("expected start error")
	}
}

func TestLinuxEngineValidation(t *testing.T) {
	eng := newEngine(t, engine.Config{})
	if _, err := eng.Run(context.Background(), engine.RunSpec{Cmd: []string{"true"}}); err == nil {
		t.Fatalf("expected work dir validation error")
	}
	if _, err := eng.Run(context.Background(), engine.RunSpec{WorkDir: t.TempDir()}); err == nil {
		t.Fatalf("expected command validation error")
	}
	if _, err := engine.NewEngine(engine.Config{EnableCgroup: true}); err == nil {
		t.Fatalf("expected cgroup root validation error")
	}
}

// processAlive treats zombies as dead: they no longer run code.
func processAlive(pid int) bool {
	data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err != nil {
		return false
	}
	fields := strings.Fields(string(data))
	if len(fields) < 3 {
		return false
	}
	return fields[2] != "Z" && fields[2] != "X"
}

func TestLinuxEngineEnvGetsDefaultPath(t *testing.T) {
	eng := newEngine(t, engine.Config{})
	runSpec := shell(t.TempDir(), `printf '%s|%s' "$PATH" "$PYTHONUNBUFFERED"`, engine.Limits{WallTimeMs: 2000})
	runSpec.Env = []string{"PYTHONUNBUFFERED=1"}
	res, err := eng.Run(context.Background(), runSpec)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.Stdout != engine.DefaultPath+"|1" {
		t.Fatalf("unexpected environment: %q", res.Stdout)
	}
}
