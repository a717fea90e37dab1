// Package model holds the records of the compilation domain.
package model

import (
	"time"

	"codelab/internal/diagnostic"
	"codelab/internal/sandbox"
)

// Activity is a teacher-authored exercise.
type Activity struct {
	ID          string           `db:"id" json:"id"`
	Title       string           `db:"title" json:"title"`
	Language    sandbox.Language `db:"language" json:"language"`
	StarterCode string           `db:"starter_code" json:"starter_code"`
	TeacherID   string           `db:"teacher_id" json:"teacher_id"`
}

// Student links a platform identity to the student record.
type Student struct {
	ID     string `db:"id" json:"id"`
	UserID string `db:"user_id" json:"user_id"`
}

// Session is one student's working state on one activity. Score stays nil
// until the session has two attempts.
type Session struct {
	ID               string    `db:"id" json:"id"`
	StudentID        string    `db:"student_id" json:"student_id"`
	ActivityID       string    `db:"activity_id" json:"activity_id"`
	SourceCode       string    `db:"source_code" json:"source_code"`
	CompilationCount int       `db:"compilation_count" json:"compilation_count"`
	IsSolved         bool      `db:"is_solved" json:"is_solved"`
	Score            *float64  `db:"score" json:"score"`
	LastResult       string    `db:"last_result" json:"last_result"`
	LastUpdated      time.Time `db:"last_updated" json:"last_updated"`
}

// Attempt is one immutable submission within a session.
type Attempt struct {
	ID         string           `db:"id" json:"id"`
	SessionID  string           `db:"session_id" json:"session_id"`
	StudentID  string           `db:"student_id" json:"student_id"`
	ActivityID string           `db:"activity_id" json:"activity_id"`
	SourceCode string           `db:"source_code" json:"source_code"`
	Error      bool             `db:"error" json:"error"`
	ErrorKind  *diagnostic.Kind `db:"error_kind" json:"error_kind"`
	ErrorLine  int              `db:"error_line" json:"error_line"`
	Diagnostic string           `db:"diagnostic" json:"diagnostic"`
	Ordinal    int              `db:"ordinal" json:"ordinal"`
	CreatedAt  time.Time        `db:"created_at" json:"created_at"`
}

// KindCount is one row of an error-kind ranking.
type KindCount struct {
	Kind  diagnostic.Kind `db:"kind" json:"kind"`
	Count int64           `db:"total" json:"count"`
}
