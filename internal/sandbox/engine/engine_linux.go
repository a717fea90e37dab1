//go:build linux

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"codelab/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultOutputLimitBytes int64 = 64 * 1024
	pipeDrainDelay                = 500 * time.Millisecond
)

type linuxEngine struct {
	cfg Config
}

// NewEngine creates a Linux sandbox engine.
func NewEngine(cfg Config) (Engine, error) {
	if cfg.OutputLimitBytes <= 0 {
		cfg.OutputLimitBytes = defaultOutputLimitBytes
	}
	if cfg.UseHelper && cfg.HelperPath == "" {
		cfg.HelperPath = "sandbox-init"
	}
	if cfg.EnableCgroup && cfg.CgroupRoot == "" {
		return nil, fmt.Errorf("cgroup root is required when cgroups are enabled")
	}
	return &linuxEngine{cfg: cfg}, nil
}

func (e *linuxEngine) Run(ctx context.Context, runSpec RunSpec) (RunResult, error) {
	if err := validateRunSpec(runSpec); err != nil {
		return RunResult{}, err
	}

	cgroupPath := ""
	cgroupCleanup := func() {}
	if e.cfg.EnableCgroup {
		var err error
		cgroupPath, cgroupCleanup, err = createRunCgroup(e.cfg.CgroupRoot)
		if err != nil {
			return RunResult{}, fmt.Errorf("create cgroup: %w", err)
		}
		if err := applyCgroupLimits(cgroupPath, runSpec.Limits); err != nil {
			cgroupCleanup()
			return RunResult{}, fmt.Errorf("apply cgroup limits: %w", err)
		}
	}
	defer cgroupCleanup()

	cmd, err := e.buildCommand(runSpec)
	if err != nil {
		return RunResult{}, err
	}

	var pid atomic.Int64
	var killOnce sync.Once
	killGroup := func() {
		killOnce.Do(func() {
			killProcessGroup(int(pid.Load()))
			if cgroupPath != "" {
				_ = killCgroup(cgroupPath)
			}
		})
	}

	limit := runSpec.OutputLimitBytes
	if limit <= 0 {
		limit = e.cfg.OutputLimitBytes
	}
	stdout := newCappedBuffer(limit, killGroup)
	stderr := newCappedBuffer(limit, killGroup)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = pipeDrainDelay

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return RunResult{}, fmt.Errorf("start %s: %w", cmd.Path, err)
	}
	pid.Store(int64(cmd.Process.Pid))

	if cgroupPath != "" {
		if err := addProcessToCgroup(cgroupPath, cmd.Process.Pid); err != nil {
			logger.Warn(ctx, "add process to cgroup failed", zap.String("cgroup", cgroupPath), zap.Error(err))
		}
	}

	var timedOut, canceled atomic.Bool
	done := make(chan struct{})
	go func() {
		var wallTimer <-chan time.Time
		if wallLimit := durationFromMs(runSpec.Limits.WallTimeMs); wallLimit > 0 {
			timer := time.NewTimer(wallLimit)
			defer timer.Stop()
			wallTimer = timer.C
		}
		select {
		case <-ctx.Done():
			canceled.Store(true)
			killGroup()
		case <-wallTimer:
			timedOut.Store(true)
			killGroup()
		case <-done:
		}
	}()

	waitErr := cmd.Wait()
	close(done)
	// Reap anything the command left behind in its group.
	killProcessGroup(cmd.Process.Pid)

	runResult := RunResult{
		ExitCode:       exitCodeFromErr(waitErr, cmd.ProcessState),
		Signal:         signalFromState(cmd.ProcessState),
		TimedOut:       timedOut.Load(),
		OutputExceeded: stdout.Exceeded() || stderr.Exceeded(),
		Canceled:       canceled.Load(),
		WallTimeMs:     time.Since(start).Milliseconds(),
		CPUTimeMs:      cpuTimeMs(cmd.ProcessState),
		MemoryKB:       memoryPeakKB(cgroupPath, cmd.ProcessState),
		Stdout:         stdout.String(),
		Stderr:         stderr.String(),
	}
	if (runResult.TimedOut || runResult.Canceled) && runResult.ExitCode == 0 && runResult.Signal == 0 {
		runResult.ExitCode = -1
	}

	if e.cfg.UseHelper && runResult.ExitCode == HelperSetupExitCode && !runResult.TimedOut {
		return runResult, fmt.Errorf("sandbox helper setup failed: %s", strings.TrimSpace(runResult.Stderr))
	}
	if waitErr != nil && !isExitError(waitErr) && !errors.Is(waitErr, exec.ErrWaitDelay) {
		logger.Warn(ctx, "wait for sandboxed command failed", zap.Error(waitErr))
	}
	return runResult, nil
}

func (e *linuxEngine) buildCommand(runSpec RunSpec) (*exec.Cmd, error) {
	env := WithDefaultEnv(runSpec.Env)
	var cmd *exec.Cmd
	if e.cfg.UseHelper {
		payload, err := json.Marshal(initRequest{
			WorkDir:        runSpec.WorkDir,
			Cmd:            runSpec.Cmd,
			Env:            env,
			Limits:         runSpec.Limits,
			SeccompProfile: e.cfg.SeccompProfile,
			EnableSeccomp:  e.cfg.EnableSeccomp,
		})
		if err != nil {
			return nil, fmt.Errorf("encode init request: %w", err)
		}
		cmd = exec.Command(e.cfg.HelperPath)
		cmd.Stdin = strings.NewReader(string(payload) + "\n")
	} else {
		// Stdin stays nil, which reads from the null device.
		cmd = exec.Command(runSpec.Cmd[0], runSpec.Cmd[1:]...)
	}
	cmd.Dir = runSpec.WorkDir
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
	return cmd, nil
}

func validateRunSpec(runSpec RunSpec) error {
	if runSpec.WorkDir == "" {
		return fmt.Errorf("work dir is required")
	}
	if len(runSpec.Cmd) == 0 || runSpec.Cmd[0] == "" {
		return fmt.Errorf("command is required")
	}
	return nil
}

func killProcessGroup(pid int) {
	if pid <= 0 {
		return
	}
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}

func exitCodeFromErr(err error, state *os.ProcessState) int {
	if state != nil {
		return state.ExitCode()
	}
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func isExitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}

func signalFromState(state *os.ProcessState) syscall.Signal {
	if state == nil {
		return 0
	}
	status, ok := state.Sys().(syscall.WaitStatus)
	if !ok || !status.Signaled() {
		return 0
	}
	return status.Signal()
}

func durationFromMs(ms int64) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

func cpuTimeMs(state *os.ProcessState) int64 {
	if state == nil {
		return 0
	}
	return (state.UserTime() + state.SystemTime()).Milliseconds()
}
