// Package scoring measures how persistently a student repeats the same defect
// across consecutive attempts of one session.
package scoring

import (
	"sort"

	appErr "codelab/pkg/errors"
)

// Rubric points. A pair can earn at most rubricMax.
const (
	pointsBothErrored    = 2
	pointsSameDiagnostic = 2
	pointsSameLine       = 3
	pointsLineTouched    = 2

	rubricMax = pointsBothErrored + pointsSameDiagnostic + pointsSameLine + pointsLineTouched
)

// Attempt is the part of a stored attempt the scorer looks at.
type Attempt struct {
	Ordinal    int
	Source     string
	Error      bool
	Diagnostic string
	Line       int
}

// Result holds the per-pair scores in submission order and their mean.
// Aggregate is nil when the session has fewer than two attempts.
type Result struct {
	PairScores []float64
	Aggregate  *float64
}

// PairScore rates how much next repeats the failure of prev, in [0, 1].
// Pairs where either attempt succeeded score 0.
func PairScore(prev, next Attempt) float64 {
	if !prev.Error || !next.Error {
		return 0
	}
	points := pointsBothErrored
	if prev.Diagnostic == next.Diagnostic {
		points += pointsSameDiagnostic
	}
	if prev.Line == next.Line {
		points += pointsSameLine
	}
	if lineTouched(prev, next) {
		points += pointsLineTouched
	}
	return float64(points) / rubricMax
}

// lineTouched reports whether the edit between prev and next covers the line
// prev failed on. A verbatim resubmission leaves the failing line in place
// and counts as touching it.
func lineTouched(prev, next Attempt) bool {
	changed := ChangedLines(prev.Source, next.Source)
	if changed.Cardinality() == 0 {
		return true
	}
	return changed.Contains(prev.Line)
}

// ScoreSession scores every consecutive pair of attempts ordered by ordinal
// and averages them. The mean is recomputed over the whole history on every
// call.
func ScoreSession(attempts []Attempt) (Result, error) {
	ordered := make([]Attempt, len(attempts))
	copy(ordered, attempts)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Ordinal < ordered[j].Ordinal })
	for i := 1; i < len(ordered); i++ {
		if ordered[i].Ordinal == ordered[i-1].Ordinal {
			return Result{}, appErr.Newf(appErr.InvalidParams, "duplicate attempt ordinal %d", ordered[i].Ordinal)
		}
	}
	if len(ordered) < 2 {
		return Result{}, nil
	}

	scores := make([]float64, 0, len(ordered)-1)
	total := 0.0
	for i := 1; i < len(ordered); i++ {
		s := PairScore(ordered[i-1], ordered[i])
		scores = append(scores, s)
		total += s
	}
	mean := total / float64(len(scores))
	return Result{PairScores: scores, Aggregate: &mean}, nil
}
