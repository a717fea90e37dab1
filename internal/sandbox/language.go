package sandbox

import (
	"strings"

	"codelab/internal/sandbox/engine"
	appErr "codelab/pkg/errors"

	"github.com/google/shlex"
)

// Language is the closed set of languages an activity can declare.
type Language string

const (
	LanguageC      Language = "c"
	LanguagePython Language = "python"
)

// Languages lists every supported language.
func Languages() []Language {
	return []Language{LanguageC, LanguagePython}
}

// ParseLanguage maps a stored or requested language name onto the enum.
// Unknown names are rejected, never defaulted.
func ParseLanguage(name string) (Language, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "c":
		return LanguageC, nil
	case "python", "py", "python3":
		return LanguagePython, nil
	default:
		return "", appErr.Newf(appErr.LanguageNotSupported, "language %q is not supported", name).
			WithDetail("language", name)
	}
}

func (l Language) String() string {
	return string(l)
}

// LanguageSpec describes how one language is compiled and run. Command
// templates may reference {src} and {bin}; an empty CompileCmd means the
// language is interpreted.
type LanguageSpec struct {
	Language      Language
	SourceFile    string
	BinaryFile    string
	CompileCmd    string
	RunCmd        string
	Env           []string
	CompileLimits engine.Limits
	RunLimits     engine.Limits
}

// Compiled reports whether the language has a separate compile phase.
func (s LanguageSpec) Compiled() bool {
	return strings.TrimSpace(s.CompileCmd) != ""
}

// DefaultLanguageSpecs returns the built-in toolchain table.
func DefaultLanguageSpecs() map[Language]LanguageSpec {
	return map[Language]LanguageSpec{
		LanguageC: {
			Language:      LanguageC,
			SourceFile:    "main.c",
			BinaryFile:    "main",
			CompileCmd:    "gcc -O0 -fno-diagnostics-show-caret -fdiagnostics-color=never -Wno-error=implicit-function-declaration {src} -o {bin} -lm",
			RunCmd:        "./{bin}",
			CompileLimits: engine.Limits{WallTimeMs: 10000, CPUTimeMs: 10000, MemoryMB: 512, FileSizeMB: 64, PIDs: 64},
			RunLimits:     engine.Limits{WallTimeMs: 3000, CPUTimeMs: 2000, MemoryMB: 256, StackMB: 64, FileSizeMB: 16, PIDs: 16},
		},
		LanguagePython: {
			Language:   LanguagePython,
			SourceFile: "main.py",
			RunCmd:     "python3 -B {src}",
			Env:        []string{"PYTHONDONTWRITEBYTECODE=1", "PYTHONUNBUFFERED=1", "PYTHONIOENCODING=utf-8"},
			RunLimits:  engine.Limits{WallTimeMs: 3000, CPUTimeMs: 2000, MemoryMB: 256, StackMB: 64, FileSizeMB: 16, PIDs: 16},
		},
	}
}

// Merge overlays the non-zero fields of override onto s.
func (s LanguageSpec) Merge(override LanguageSpec) LanguageSpec {
	if override.SourceFile != "" {
		s.SourceFile = override.SourceFile
	}
	if override.BinaryFile != "" {
		s.BinaryFile = override.BinaryFile
	}
	if override.CompileCmd != "" {
		s.CompileCmd = override.CompileCmd
	}
	if override.RunCmd != "" {
		s.RunCmd = override.RunCmd
	}
	if len(override.Env) > 0 {
		s.Env = override.Env
	}
	s.CompileLimits = mergeLimits(s.CompileLimits, override.CompileLimits)
	s.RunLimits = mergeLimits(s.RunLimits, override.RunLimits)
	return s
}

func mergeLimits(base, override engine.Limits) engine.Limits {
	if override.WallTimeMs > 0 {
		base.WallTimeMs = override.WallTimeMs
	}
	if override.CPUTimeMs > 0 {
		base.CPUTimeMs = override.CPUTimeMs
	}
	if override.MemoryMB > 0 {
		base.MemoryMB = override.MemoryMB
	}
	if override.StackMB > 0 {
		base.StackMB = override.StackMB
	}
	if override.FileSizeMB > 0 {
		base.FileSizeMB = override.FileSizeMB
	}
	if override.PIDs > 0 {
		base.PIDs = override.PIDs
	}
	return base
}

func buildCommand(tpl string, spec LanguageSpec) ([]string, error) {
	if strings.TrimSpace(tpl) == "" {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command template is required")
	}
	expanded := strings.ReplaceAll(tpl, "{src}", spec.SourceFile)
	expanded = strings.ReplaceAll(expanded, "{bin}", spec.BinaryFile)
	fields, err := shlex.Split(expanded)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidParams, "parse command template failed")
	}
	if len(fields) == 0 {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command is empty after expansion")
	}
	return fields, nil
}
