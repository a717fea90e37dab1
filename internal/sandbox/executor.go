// Package sandbox compiles and runs student code in a scratch workspace and
// turns every outcome into an ExecutionResult.
package sandbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"codelab/internal/diagnostic"
	"codelab/internal/sandbox/engine"
	"codelab/internal/sandbox/observer"
	appErr "codelab/pkg/errors"
	"codelab/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultDiagnosticMaxBytes = 8 * 1024
	defaultExecutionTimeout   = 30 * time.Second
)

// Config controls the executor.
type Config struct {
	ScratchRoot        string
	MaxConcurrent      int64
	QueueWait          time.Duration
	ExecutionTimeout   time.Duration
	DiagnosticMaxBytes int
	OutputLimitBytes   int64
	Languages          map[Language]LanguageSpec
}

// Executor runs source code for one of the supported languages.
type Executor struct {
	cfg        Config
	engine     engine.Engine
	classifier *diagnostic.Classifier
	policy     Policy
	pool       *Pool
	languages  map[Language]LanguageSpec
	metrics    observer.MetricsRecorder
}

// NewExecutor wires an executor. A nil classifier uses the default rules and
// a nil recorder discards metrics.
func NewExecutor(cfg Config, eng engine.Engine, classifier *diagnostic.Classifier, metrics observer.MetricsRecorder) (*Executor, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if cfg.ScratchRoot == "" {
		return nil, fmt.Errorf("scratch root is required")
	}
	if cfg.DiagnosticMaxBytes <= 0 {
		cfg.DiagnosticMaxBytes = defaultDiagnosticMaxBytes
	}
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = defaultExecutionTimeout
	}
	if classifier == nil {
		classifier = diagnostic.NewClassifier()
	}
	if metrics == nil {
		metrics = observer.NoopMetricsRecorder{}
	}
	languages := DefaultLanguageSpecs()
	for lang, override := range cfg.Languages {
		base, ok := languages[lang]
		if !ok {
			return nil, appErr.Newf(appErr.LanguageNotSupported, "language %q is not supported", lang)
		}
		languages[lang] = base.Merge(override)
	}
	for lang, spec := range languages {
		if _, err := buildCommand(spec.RunCmd, spec); err != nil {
			return nil, fmt.Errorf("language %s: %w", lang, err)
		}
		if spec.Compiled() {
			if _, err := buildCommand(spec.CompileCmd, spec); err != nil {
				return nil, fmt.Errorf("language %s: %w", lang, err)
			}
		}
	}
	return &Executor{
		cfg:        cfg,
		engine:     eng,
		classifier: classifier,
		policy:     DefaultPolicy(),
		pool:       NewPool(cfg.MaxConcurrent, cfg.QueueWait, metrics),
		languages:  languages,
		metrics:    metrics,
	}, nil
}

// WithPolicy replaces the blocked-construct policy.
func (e *Executor) WithPolicy(p Policy) *Executor {
	e.policy = p
	return e
}

// Execute runs source as lang. The returned error is non-nil only when the
// language is unknown, the source is rejected by policy, or no executor slot
// frees up in time. Every other outcome, including toolchain and sandbox
// faults, is reported through the result.
func (e *Executor) Execute(ctx context.Context, source string, lang Language) (ExecutionResult, error) {
	spec, ok := e.languages[lang]
	if !ok {
		return ExecutionResult{}, appErr.Newf(appErr.LanguageNotSupported, "language %q is not supported", lang)
	}
	if err := e.policy.Check(source, lang); err != nil {
		if ae := appErr.GetError(err); ae != nil {
			if construct, ok := ae.Details["construct"].(string); ok {
				e.metrics.ObserveRejected(ctx, lang.String(), construct)
			}
		}
		return ExecutionResult{}, err
	}

	release, err := e.pool.Acquire(ctx)
	if err != nil {
		return ExecutionResult{}, err
	}
	defer release()

	// Client disconnects do not abort a run; only the execution timeout does.
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.ExecutionTimeout)
	defer cancel()

	ws, err := NewWorkspace(e.cfg.ScratchRoot)
	if err != nil {
		logger.Error(ctx, "create workspace failed", zap.String("language", lang.String()), zap.Error(err))
		return failureResult(diagnostic.KindFileSystem, diagnostic.UnknownLine, "", messageFileSystemError), nil
	}
	defer func() {
		if err := ws.Release(); err != nil {
			logger.Error(ctx, "release workspace failed", zap.String("dir", ws.Dir), zap.Error(err))
		}
	}()

	if _, err := ws.WriteFile(spec.SourceFile, source); err != nil {
		logger.Error(ctx, "stage source failed", zap.String("dir", ws.Dir), zap.Error(err))
		return failureResult(diagnostic.KindFileSystem, diagnostic.UnknownLine, "", messageFileSystemError), nil
	}

	if spec.Compiled() {
		res, ok := e.compile(runCtx, ws, spec)
		if !ok {
			return res, nil
		}
	}
	return e.run(runCtx, ws, spec), nil
}

func (e *Executor) compile(ctx context.Context, ws *Workspace, spec LanguageSpec) (ExecutionResult, bool) {
	cmd, err := buildCommand(spec.CompileCmd, spec)
	if err != nil {
		logger.Error(ctx, "build compile command failed", zap.Error(err))
		return failureResult(diagnostic.KindSystemCall, diagnostic.UnknownLine, "", "Error compiling script: toolchain unavailable"), false
	}
	runRes, err := e.engine.Run(ctx, engine.RunSpec{
		WorkDir:          ws.Dir,
		Cmd:              cmd,
		Env:              spec.Env,
		Limits:           spec.CompileLimits,
		OutputLimitBytes: e.cfg.OutputLimitBytes,
	})
	if err != nil {
		logger.Error(ctx, "compile toolchain failed to start", zap.String("language", spec.Language.String()), zap.Error(err))
		e.metrics.ObserveCompile(ctx, spec.Language.String(), false, runRes.WallTimeMs)
		return failureResult(diagnostic.KindSystemCall, diagnostic.UnknownLine, "", "Error compiling script: toolchain unavailable"), false
	}
	e.metrics.ObserveCompile(ctx, spec.Language.String(), !runRes.Failed(), runRes.WallTimeMs)
	if !runRes.Failed() {
		return ExecutionResult{}, true
	}

	raw := runRes.Stderr
	if strings.TrimSpace(raw) == "" {
		raw = runRes.Stdout
	}
	text := e.clean(raw, ws)
	var res ExecutionResult
	switch {
	case runRes.TimedOut || runRes.Canceled:
		res = failureResult(diagnostic.KindInfiniteLoop, diagnostic.UnknownLine, "compilation timed out", "Error compiling script: compilation timed out")
	case runRes.OutputExceeded:
		res = failureResult(diagnostic.KindInfiniteLoop, diagnostic.UnknownLine, "compiler output exceeded limit", "Error compiling script: compiler output exceeded limit")
	default:
		kind := e.classifier.ClassifyCompileError(text)
		output, message := text, "Error compiling script: "+firstLine(text)
		line := diagnostic.UnknownLine
		if d, ok := diagnostic.FirstDiagnostic(text); ok {
			line = d.Line
			output = fmt.Sprintf("Error compiling script at line %d: %s", d.Line, d.Message)
			message = "Error compiling script: " + d.Message
		}
		res = failureResult(kind, line, output, message)
	}
	logger.Debug(ctx, "compile failed", zap.String("kind", string(res.Kind)), zap.Int("line", res.Line))
	fillTermination(&res, raw, runRes)
	return res, false
}

func (e *Executor) run(ctx context.Context, ws *Workspace, spec LanguageSpec) ExecutionResult {
	cmd, err := buildCommand(spec.RunCmd, spec)
	if err != nil {
		logger.Error(ctx, "build run command failed", zap.Error(err))
		return failureResult(diagnostic.KindSystemCall, diagnostic.UnknownLine, "", "Error executing script: interpreter unavailable")
	}
	runRes, err := e.engine.Run(ctx, engine.RunSpec{
		WorkDir:          ws.Dir,
		Cmd:              cmd,
		Env:              spec.Env,
		Limits:           spec.RunLimits,
		OutputLimitBytes: e.cfg.OutputLimitBytes,
	})
	if err != nil {
		logger.Error(ctx, "run failed to start", zap.String("language", spec.Language.String()), zap.Error(err))
		e.metrics.ObserveRun(ctx, spec.Language.String(), string(diagnostic.KindSystemCall), runRes.WallTimeMs)
		return failureResult(diagnostic.KindSystemCall, diagnostic.UnknownLine, "", "Error executing script: interpreter unavailable")
	}

	if !runRes.Failed() {
		e.metrics.ObserveRun(ctx, spec.Language.String(), "", runRes.WallTimeMs)
		res := successResult(diagnostic.Truncate(runRes.Stdout, e.cfg.DiagnosticMaxBytes))
		res.WallTimeMs = runRes.WallTimeMs
		return res
	}

	text := e.clean(runRes.Stderr, ws)
	term := diagnostic.Termination{
		Signal:         runRes.Signal,
		TimedOut:       runRes.TimedOut || runRes.Canceled,
		OutputExceeded: runRes.OutputExceeded,
	}
	kind := e.classifier.ClassifyExecutionError(text, term)
	summary := terminationSummary(runRes, spec)
	if s := lastLine(text); s != "" && !runRes.TimedOut && !runRes.OutputExceeded {
		summary = s
	}
	output := text
	if output == "" {
		output = summary
	}
	res := failureResult(kind, diagnostic.ExtractRuntimeLine(text, spec.SourceFile), output, "Error executing script: "+summary)
	fillTermination(&res, runRes.Stderr, runRes)
	e.metrics.ObserveRun(ctx, spec.Language.String(), string(kind), runRes.WallTimeMs)
	logger.Debug(ctx, "run failed", zap.String("kind", string(kind)), zap.Int("line", res.Line))
	return res
}

func (e *Executor) clean(text string, ws *Workspace) string {
	text = diagnostic.SanitizePaths(text, ws.Dir, e.cfg.ScratchRoot)
	return diagnostic.Truncate(strings.TrimSpace(text), e.cfg.DiagnosticMaxBytes)
}

func fillTermination(res *ExecutionResult, raw string, runRes engine.RunResult) {
	res.RawDiagnostic = raw
	res.ExitCode = runRes.ExitCode
	res.Signal = runRes.Signal
	res.TimedOut = runRes.TimedOut || runRes.Canceled
	res.OutputExceeded = runRes.OutputExceeded
	res.WallTimeMs = runRes.WallTimeMs
}

func terminationSummary(runRes engine.RunResult, spec LanguageSpec) string {
	switch {
	case runRes.TimedOut || runRes.Canceled:
		return fmt.Sprintf("time limit of %dms exceeded", spec.RunLimits.WallTimeMs)
	case runRes.OutputExceeded:
		return "output limit exceeded"
	case runRes.Signal != 0:
		return "terminated by signal: " + runRes.Signal.String()
	default:
		return fmt.Sprintf("exited with status %d", runRes.ExitCode)
	}
}

func firstLine(text string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	return strings.TrimSpace(line)
}

func lastLine(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.LastIndexByte(text, '\n'); i >= 0 {
		return strings.TrimSpace(text[i+1:])
	}
	return text
}
