package replay

import (
	"context"
	"fmt"
	"math"

	"codelab/internal/diagnostic"
	"codelab/internal/sandbox"
	"codelab/internal/scoring"
)

// Executor runs one attempt.
type Executor interface {
	Execute(ctx context.Context, source string, lang sandbox.Language) (sandbox.ExecutionResult, error)
}

// AttemptReport is the recorded outcome of one attempt.
type AttemptReport struct {
	Ordinal  int
	Error    bool
	Kind     diagnostic.Kind
	Line     int
	Message  string
	Executed bool
}

// Report is the outcome of one replayed session.
type Report struct {
	Description string
	Attempts    []AttemptReport
	Score       scoring.Result
	Failures    []string
}

// Passed reports whether every expectation held.
func (r Report) Passed() bool {
	return len(r.Failures) == 0
}

// Replay runs every attempt of session in order and scores the sequence.
// exec may be nil when every attempt carries a fixed outcome.
func Replay(ctx context.Context, exec Executor, session Session) (Report, error) {
	report := Report{Description: session.Description}
	history := make([]scoring.Attempt, 0, len(session.Attempts))
	for i, spec := range session.Attempts {
		ordinal := i + 1
		attempt := AttemptReport{Ordinal: ordinal}
		diag := ""
		if spec.Outcome != nil {
			attempt.Error = spec.Outcome.Error
			attempt.Line = spec.Outcome.Line
			attempt.Kind = diagnostic.Kind(spec.Outcome.Kind)
			diag = spec.Outcome.Diagnostic
		} else {
			if exec == nil {
				return report, fmt.Errorf("attempt %d needs an executor", ordinal)
			}
			result, err := exec.Execute(ctx, spec.Code, session.Language)
			if err != nil {
				return report, fmt.Errorf("attempt %d: %w", ordinal, err)
			}
			attempt.Executed = true
			attempt.Error = result.Error
			attempt.Kind = result.Kind
			attempt.Line = result.Line
			attempt.Message = result.Message
			diag = result.Output
		}
		if attempt.Error {
			if attempt.Kind == "" {
				attempt.Kind = diagnostic.KindExecution
			}
			if attempt.Line == 0 {
				attempt.Line = diagnostic.UnknownLine
			}
		} else {
			attempt.Kind = ""
			attempt.Line = 0
		}
		report.Attempts = append(report.Attempts, attempt)
		history = append(history, scoring.Attempt{
			Ordinal:    ordinal,
			Source:     spec.Code,
			Error:      attempt.Error,
			Diagnostic: diag,
			Line:       attempt.Line,
		})
	}

	score, err := scoring.ScoreSession(history)
	if err != nil {
		return report, err
	}
	report.Score = score
	report.Failures = check(session.Expect, report)
	return report, nil
}

func check(expect Expect, report Report) []string {
	var failures []string
	if expect.Score != nil {
		switch {
		case report.Score.Aggregate == nil:
			failures = append(failures, fmt.Sprintf("score: got none, want %.4f", *expect.Score))
		case math.Abs(*report.Score.Aggregate-*expect.Score) > expect.Tolerance:
			failures = append(failures, fmt.Sprintf("score: got %.4f, want %.4f", *report.Score.Aggregate, *expect.Score))
		}
	}
	if expect.Pairs != nil {
		if len(expect.Pairs) != len(report.Score.PairScores) {
			failures = append(failures, fmt.Sprintf("pairs: got %d, want %d", len(report.Score.PairScores), len(expect.Pairs)))
		} else {
			for i, want := range expect.Pairs {
				if got := report.Score.PairScores[i]; math.Abs(got-want) > expect.Tolerance {
					failures = append(failures, fmt.Sprintf("pair %d->%d: got %.4f, want %.4f", i+1, i+2, got, want))
				}
			}
		}
	}
	if expect.Kinds != nil {
		if len(expect.Kinds) != len(report.Attempts) {
			failures = append(failures, fmt.Sprintf("kinds: got %d attempts, want %d", len(report.Attempts), len(expect.Kinds)))
		} else {
			for i, want := range expect.Kinds {
				if got := string(report.Attempts[i].Kind); got != want {
					failures = append(failures, fmt.Sprintf("attempt %d kind: got %q, want %q", i+1, got, want))
				}
			}
		}
	}
	return failures
}
