package service

import (
	"context"
	"errors"
	"strings"

	"codelab/internal/compilation/model"
	"codelab/internal/compilation/repository"
	appErr "codelab/pkg/errors"

	"github.com/google/uuid"
)

// SessionView is a session with the activity it belongs to.
type SessionView struct {
	Session  *model.Session  `json:"session"`
	Activity *model.Activity `json:"activity"`
}

// GetOrCreateSession returns the caller's session for an activity, creating
// it from the starter code on first access.
func (s *CompilationService) GetOrCreateSession(ctx context.Context, userID, activityID string) (*SessionView, error) {
	if strings.TrimSpace(activityID) == "" {
		return nil, appErr.ValidationError("activityId", "required")
	}
	student, err := s.resolveStudent(ctx, userID)
	if err != nil {
		return nil, err
	}
	activity, err := s.loadActivity(ctx, activityID)
	if err != nil {
		return nil, err
	}

	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()

	session, err := s.sessions.FindByStudentActivity(ctxDB.ctx, nil, student.ID, activity.ID)
	if err == nil {
		return &SessionView{Session: session, Activity: activity}, nil
	}
	if !errors.Is(err, repository.ErrSessionNotFound) {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "find session failed")
	}

	session = &model.Session{
		ID:          uuid.NewString(),
		StudentID:   student.ID,
		ActivityID:  activity.ID,
		SourceCode:  activity.StarterCode,
		LastUpdated: s.now(),
	}
	if err := s.sessions.Create(ctxDB.ctx, nil, session); err != nil {
		if !errors.Is(err, repository.ErrSessionExists) {
			return nil, appErr.Wrapf(err, appErr.SessionCreateFailed, "create session failed")
		}
		// A concurrent request created it first.
		session, err = s.sessions.FindByStudentActivity(ctxDB.ctx, nil, student.ID, activity.ID)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "find session failed")
		}
	}
	return &SessionView{Session: session, Activity: activity}, nil
}

// GetSession returns one session. When studentUserID is set the session must
// belong to that student.
func (s *CompilationService) GetSession(ctx context.Context, sessionID, studentUserID string) (*SessionView, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, appErr.ValidationError("sessionId", "required")
	}
	var (
		session *model.Session
		err     error
	)
	if studentUserID != "" {
		student, err := s.resolveStudent(ctx, studentUserID)
		if err != nil {
			return nil, err
		}
		session, err = s.loadOwnedSession(ctx, sessionID, student.ID)
		if err != nil {
			return nil, err
		}
	} else {
		ctxDB := withTimeout(ctx, s.timeouts.DB)
		session, err = s.sessions.GetByID(ctxDB.ctx, nil, sessionID)
		ctxDB.cancel()
		if err != nil {
			if errors.Is(err, repository.ErrSessionNotFound) {
				return nil, appErr.New(appErr.SessionNotFound).WithMessage("activity session not found")
			}
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "get session failed")
		}
	}
	activity, err := s.loadActivity(ctx, session.ActivityID)
	if err != nil {
		return nil, err
	}
	return &SessionView{Session: session, Activity: activity}, nil
}

// ListAttempts lists attempts of an activity, optionally for one student.
func (s *CompilationService) ListAttempts(ctx context.Context, filter repository.AttemptFilter) ([]model.Attempt, error) {
	if strings.TrimSpace(filter.ActivityID) == "" {
		return nil, appErr.ValidationError("activityId", "required")
	}
	return s.listAttempts(ctx, filter)
}

// ListMine lists the caller's own attempts, optionally for one activity.
func (s *CompilationService) ListMine(ctx context.Context, userID, activityID string, limit, offset int) ([]model.Attempt, error) {
	student, err := s.resolveStudent(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.listAttempts(ctx, repository.AttemptFilter{
		ActivityID: activityID,
		StudentID:  student.ID,
		Limit:      limit,
		Offset:     offset,
	})
}

func (s *CompilationService) listAttempts(ctx context.Context, filter repository.AttemptFilter) ([]model.Attempt, error) {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	attempts, err := s.attempts.List(ctxDB.ctx, filter)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.AttemptHistoryFailed, "list attempts failed")
	}
	if attempts == nil {
		attempts = []model.Attempt{}
	}
	return attempts, nil
}
