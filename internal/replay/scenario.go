// Package replay scores recorded attempt sequences offline. A scenario file
// lists sessions of attempts, each either executed in the local sandbox or
// given a fixed outcome, plus the score the session is expected to reach.
package replay

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"codelab/internal/diagnostic"
	"codelab/internal/sandbox"

	"github.com/pelletier/go-toml/v2"
)

const defaultTolerance = 1e-6

// Outcome fixes the result of an attempt so it is scored without running.
type Outcome struct {
	Error      bool   `toml:"error"`
	Diagnostic string `toml:"diagnostic"`
	Line       int    `toml:"line"`
	Kind       string `toml:"kind"`
}

// AttemptSpec is one submission of a session.
type AttemptSpec struct {
	Code    string   `toml:"code"`
	File    string   `toml:"file"`
	Outcome *Outcome `toml:"outcome"`
}

// Expect is what a session must score.
type Expect struct {
	Score     *float64  `toml:"score"`
	Tolerance float64   `toml:"tolerance"`
	Pairs     []float64 `toml:"pairs"`
	Kinds     []string  `toml:"kinds"`
}

// SessionSpec is one replayed session.
type SessionSpec struct {
	Description string        `toml:"description"`
	Language    string        `toml:"language"`
	Attempts    []AttemptSpec `toml:"attempts"`
	Expect      Expect        `toml:"expect"`
}

type scenarioFile struct {
	Language string        `toml:"language"`
	Sessions []SessionSpec `toml:"sessions"`
}

// Session is a validated session ready to replay.
type Session struct {
	Description string
	Language    sandbox.Language
	Attempts    []AttemptSpec
	Expect      Expect
}

// Parse reads a scenario file. Attempt files are resolved relative to it.
func Parse(path string) ([]Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file failed: %w", err)
	}
	var root scenarioFile
	if err := toml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse scenario file failed: %w", err)
	}
	if len(root.Sessions) == 0 {
		return nil, fmt.Errorf("scenario file %s has no sessions", path)
	}

	dir := filepath.Dir(path)
	sessions := make([]Session, 0, len(root.Sessions))
	for i, spec := range root.Sessions {
		name := spec.Description
		if name == "" {
			name = fmt.Sprintf("session %d", i+1)
		}
		langName := spec.Language
		if langName == "" {
			langName = root.Language
		}
		if langName == "" {
			langName = string(sandbox.LanguageC)
		}
		lang, err := sandbox.ParseLanguage(langName)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if len(spec.Attempts) == 0 {
			return nil, fmt.Errorf("%s: no attempts", name)
		}
		attempts := make([]AttemptSpec, 0, len(spec.Attempts))
		for j, attempt := range spec.Attempts {
			if attempt.File != "" {
				if attempt.Code != "" {
					return nil, fmt.Errorf("%s attempt %d: code and file are exclusive", name, j+1)
				}
				filePath := attempt.File
				if !filepath.IsAbs(filePath) {
					filePath = filepath.Join(dir, filePath)
				}
				content, err := os.ReadFile(filePath)
				if err != nil {
					return nil, fmt.Errorf("%s attempt %d: read source failed: %w", name, j+1, err)
				}
				attempt.Code = string(content)
			}
			if attempt.Outcome == nil && strings.TrimSpace(attempt.Code) == "" {
				return nil, fmt.Errorf("%s attempt %d: code, file or outcome is required", name, j+1)
			}
			if attempt.Outcome != nil && attempt.Outcome.Kind != "" {
				if _, ok := diagnostic.ParseKind(attempt.Outcome.Kind); !ok {
					return nil, fmt.Errorf("%s attempt %d: unknown kind %q", name, j+1, attempt.Outcome.Kind)
				}
			}
			attempts = append(attempts, attempt)
		}
		for _, kind := range spec.Expect.Kinds {
			if kind == "" {
				continue
			}
			if _, ok := diagnostic.ParseKind(kind); !ok {
				return nil, fmt.Errorf("%s: unknown expected kind %q", name, kind)
			}
		}
		if spec.Expect.Tolerance <= 0 {
			spec.Expect.Tolerance = defaultTolerance
		}
		sessions = append(sessions, Session{
			Description: name,
			Language:    lang,
			Attempts:    attempts,
			Expect:      spec.Expect,
		})
	}
	return sessions, nil
}
