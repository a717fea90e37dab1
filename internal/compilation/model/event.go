package model

import "time"

const EventAttemptRecorded = "AttemptRecorded"

// AttemptRecordedEvent is published after an attempt commits.
type AttemptRecordedEvent struct {
	Type       string    `json:"type"`
	AttemptID  string    `json:"attempt_id"`
	SessionID  string    `json:"session_id"`
	StudentID  string    `json:"student_id"`
	ActivityID string    `json:"activity_id"`
	Ordinal    int       `json:"ordinal"`
	Error      bool      `json:"error"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	ErrorLine  int       `json:"error_line"`
	Score      *float64  `json:"score,omitempty"`
	ArchiveKey string    `json:"archive_key,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewAttemptRecordedEvent builds the event for a stored attempt.
func NewAttemptRecordedEvent(a *Attempt, score *float64) AttemptRecordedEvent {
	ev := AttemptRecordedEvent{
		Type:       EventAttemptRecorded,
		AttemptID:  a.ID,
		SessionID:  a.SessionID,
		StudentID:  a.StudentID,
		ActivityID: a.ActivityID,
		Ordinal:    a.Ordinal,
		Error:      a.Error,
		ErrorLine:  a.ErrorLine,
		Score:      score,
		CreatedAt:  a.CreatedAt,
	}
	if a.ErrorKind != nil {
		ev.ErrorKind = a.ErrorKind.String()
	}
	return ev
}
