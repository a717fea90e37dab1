// Package service orchestrates graded submissions: it resolves the caller's
// session, executes the code, records the attempt and keeps the session
// score current.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"codelab/internal/common/cache"
	"codelab/internal/common/db"
	"codelab/internal/common/mq"
	"codelab/internal/compilation/model"
	"codelab/internal/compilation/repository"
	"codelab/internal/diagnostic"
	"codelab/internal/sandbox"
	"codelab/internal/scoring"
	appErr "codelab/pkg/errors"
	"codelab/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	rateStudentKeyPrefix = "compile:rate:student:"
	defaultMaxCodeBytes  = 64 * 1024
	defaultEventTopic    = "codelab.attempts"
)

// Executor runs source code and reports the outcome.
type Executor interface {
	Execute(ctx context.Context, source string, lang sandbox.Language) (sandbox.ExecutionResult, error)
}

// RateLimitConfig bounds graded submissions per student. Max 0 disables it.
type RateLimitConfig struct {
	Max    int
	Window time.Duration
}

// TimeoutConfig holds timeout settings for external calls.
type TimeoutConfig struct {
	DB      time.Duration
	Cache   time.Duration
	MQ      time.Duration
	Storage time.Duration
}

// Config holds compilation service dependencies and settings.
type Config struct {
	Students   repository.StudentRepository
	Activities repository.ActivityRepository
	Sessions   repository.SessionRepository
	Attempts   repository.AttemptRepository
	Database   db.Database
	Executor   Executor

	// Optional collaborators.
	Cache     cache.Cache
	Publisher mq.Publisher
	Archiver  *Archiver

	EventTopic   string
	MaxCodeBytes int
	RateLimit    RateLimitConfig
	LockTTL      time.Duration
	LockWait     time.Duration
	Timeouts     TimeoutConfig
}

// CompilationService handles graded and free-form executions.
type CompilationService struct {
	students   repository.StudentRepository
	activities repository.ActivityRepository
	sessions   repository.SessionRepository
	attempts   repository.AttemptRepository
	db         db.Database
	executor   Executor
	cache      cache.Cache
	publisher  mq.Publisher
	archiver   *Archiver
	locker     *SessionLocker

	eventTopic   string
	maxCodeBytes int
	rateLimit    RateLimitConfig
	timeouts     TimeoutConfig
	now          func() time.Time
}

// SubmitInput describes a graded submission.
type SubmitInput struct {
	SessionID  string
	UserID     string
	SourceCode string
}

// SubmitOutput is what the student sees after a graded submission.
type SubmitOutput struct {
	Result  string `json:"result"`
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

// NewCompilationService creates a new compilation service.
func NewCompilationService(cfg Config) (*CompilationService, error) {
	if cfg.Students == nil {
		return nil, fmt.Errorf("student repository is required")
	}
	if cfg.Activities == nil {
		return nil, fmt.Errorf("activity repository is required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session repository is required")
	}
	if cfg.Attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if cfg.Database == nil {
		return nil, fmt.Errorf("database is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cfg.MaxCodeBytes <= 0 {
		cfg.MaxCodeBytes = defaultMaxCodeBytes
	}
	if cfg.EventTopic == "" {
		cfg.EventTopic = defaultEventTopic
	}
	return &CompilationService{
		students:     cfg.Students,
		activities:   cfg.Activities,
		sessions:     cfg.Sessions,
		attempts:     cfg.Attempts,
		db:           cfg.Database,
		executor:     cfg.Executor,
		cache:        cfg.Cache,
		publisher:    cfg.Publisher,
		archiver:     cfg.Archiver,
		locker:       NewSessionLocker(cfg.Cache, cfg.LockTTL, cfg.LockWait),
		eventTopic:   cfg.EventTopic,
		maxCodeBytes: cfg.MaxCodeBytes,
		rateLimit:    cfg.RateLimit,
		timeouts:     cfg.Timeouts,
		now:          time.Now,
	}, nil
}

// Submit executes a graded attempt for the caller's session and records it.
// Identity and lookup failures abort before any execution. Code failures are
// part of the output, not errors.
func (s *CompilationService) Submit(ctx context.Context, input SubmitInput) (*SubmitOutput, error) {
	if strings.TrimSpace(input.SessionID) == "" {
		return nil, appErr.ValidationError("activitySessionId", "required")
	}
	if err := s.validateSource(input.SourceCode); err != nil {
		return nil, err
	}

	student, err := s.resolveStudent(ctx, input.UserID)
	if err != nil {
		return nil, err
	}
	session, err := s.loadOwnedSession(ctx, input.SessionID, student.ID)
	if err != nil {
		return nil, err
	}
	activity, err := s.loadActivity(ctx, session.ActivityID)
	if err != nil {
		return nil, err
	}
	if err := s.checkRateLimit(ctx, student.ID); err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	result, err := s.executor.Execute(ctx, input.SourceCode, activity.Language)
	if err != nil {
		return nil, err
	}

	attempt, score, err := s.record(ctx, session.ID, student.ID, activity.ID, input.SourceCode, result)
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, attempt, score, result.RawDiagnostic)

	return &SubmitOutput{Result: result.Output, Error: result.Error, Message: result.Message}, nil
}

// RunFreeform executes code without a session. Nothing is recorded. An empty
// language means C.
func (s *CompilationService) RunFreeform(ctx context.Context, source, language string) (sandbox.ExecutionResult, error) {
	if err := s.validateSource(source); err != nil {
		return sandbox.ExecutionResult{}, err
	}
	lang := sandbox.LanguageC
	if strings.TrimSpace(language) != "" {
		parsed, err := sandbox.ParseLanguage(language)
		if err != nil {
			return sandbox.ExecutionResult{}, err
		}
		lang = parsed
	}
	return s.executor.Execute(ctx, source, lang)
}

func (s *CompilationService) validateSource(source string) error {
	if strings.TrimSpace(source) == "" {
		return appErr.ValidationError("codeValue", "required")
	}
	if len(source) > s.maxCodeBytes {
		return appErr.New(appErr.CodeTooLarge).WithMessage("source code too large")
	}
	return nil
}

func (s *CompilationService) resolveStudent(ctx context.Context, userID string) (*model.Student, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, appErr.UnauthorizedError("missing user")
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	student, err := s.students.GetByUserID(ctxDB.ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrStudentNotFound) {
			return nil, appErr.New(appErr.StudentNotFound).WithMessage("student not found")
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get student failed")
	}
	return student, nil
}

// loadOwnedSession reports sessions of other students as missing.
func (s *CompilationService) loadOwnedSession(ctx context.Context, sessionID, studentID string) (*model.Session, error) {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	session, err := s.sessions.GetByID(ctxDB.ctx, nil, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, appErr.New(appErr.SessionNotFound).WithMessage("activity session not found")
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get session failed")
	}
	if session.StudentID != studentID {
		return nil, appErr.New(appErr.SessionNotFound).WithMessage("activity session not found")
	}
	return session, nil
}

func (s *CompilationService) loadActivity(ctx context.Context, activityID string) (*model.Activity, error) {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	activity, err := s.activities.GetByID(ctxDB.ctx, activityID)
	if err != nil {
		if errors.Is(err, repository.ErrActivityNotFound) {
			return nil, appErr.New(appErr.ActivityNotFound).WithMessage("activity not found")
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get activity failed")
	}
	return activity, nil
}

func (s *CompilationService) checkRateLimit(ctx context.Context, studentID string) error {
	if s.cache == nil || s.rateLimit.Max <= 0 || s.rateLimit.Window <= 0 {
		return nil
	}
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()

	key := rateStudentKeyPrefix + studentID
	count, err := s.cache.Incr(ctxCache.ctx, key)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "rate limit check failed")
	}
	if count == 1 {
		if err := s.cache.Expire(ctxCache.ctx, key, s.rateLimit.Window); err != nil {
			// A counter without a TTL would block the student for good.
			if delErr := s.cache.Del(ctxCache.ctx, key); delErr != nil {
				logger.Error(ctx, "drop rate limit counter failed", zap.String("key", key), zap.Error(delErr))
			}
			return appErr.Wrapf(err, appErr.CacheError, "rate limit window setup failed")
		}
	}
	if int(count) > s.rateLimit.Max {
		return appErr.New(appErr.SubmitTooFrequently).WithMessage("submit too frequently")
	}
	return nil
}

// record stores the attempt and rescores the session in one transaction.
func (s *CompilationService) record(ctx context.Context, sessionID, studentID, activityID, source string, result sandbox.ExecutionResult) (*model.Attempt, *float64, error) {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()

	var (
		attempt *model.Attempt
		score   *float64
	)
	err := s.db.Transaction(ctxDB.ctx, func(tx db.Transaction) error {
		session, err := s.sessions.GetByID(ctxDB.ctx, tx, sessionID)
		if err != nil {
			if errors.Is(err, repository.ErrSessionNotFound) {
				return appErr.New(appErr.SessionNotFound).WithMessage("activity session not found")
			}
			return appErr.Wrapf(err, appErr.DatabaseError, "reload session failed")
		}

		now := s.now()
		attempt = newAttempt(session, studentID, activityID, source, result, now)
		if err := s.attempts.Create(ctxDB.ctx, tx, attempt); err != nil {
			return appErr.Wrapf(err, appErr.AttemptCreateFailed, "create attempt failed")
		}

		history, err := s.attempts.ListBySession(ctxDB.ctx, tx, sessionID)
		if err != nil {
			return appErr.Wrapf(err, appErr.AttemptHistoryFailed, "load attempt history failed")
		}
		scored, err := scoring.ScoreSession(toScoringAttempts(history))
		if err != nil {
			return err
		}
		score = scored.Aggregate

		session.CompilationCount++
		session.SourceCode = source
		session.Score = score
		session.LastResult = result.Message
		session.LastUpdated = now
		if err := s.sessions.Update(ctxDB.ctx, tx, session); err != nil {
			return appErr.Wrapf(err, appErr.SessionUpdateFailed, "update session failed")
		}
		return nil
	})
	if err != nil {
		if appErr.GetCode(err) == appErr.InternalServerError {
			return nil, nil, appErr.Wrapf(err, appErr.TransactionFailed, "record attempt failed")
		}
		return nil, nil, err
	}
	return attempt, score, nil
}

func newAttempt(session *model.Session, studentID, activityID, source string, result sandbox.ExecutionResult, now time.Time) *model.Attempt {
	attempt := &model.Attempt{
		ID:         uuid.NewString(),
		SessionID:  session.ID,
		StudentID:  studentID,
		ActivityID: activityID,
		SourceCode: source,
		Error:      result.Error,
		Diagnostic: result.Output,
		Ordinal:    session.CompilationCount + 1,
		CreatedAt:  now,
	}
	if result.Error {
		kind := result.Kind
		if kind == "" {
			kind = diagnostic.KindExecution
		}
		attempt.ErrorKind = &kind
		attempt.ErrorLine = result.Line
		if attempt.ErrorLine == 0 {
			attempt.ErrorLine = diagnostic.UnknownLine
		}
	}
	return attempt
}

func toScoringAttempts(history []model.Attempt) []scoring.Attempt {
	out := make([]scoring.Attempt, 0, len(history))
	for _, a := range history {
		out = append(out, scoring.Attempt{
			Ordinal:    a.Ordinal,
			Source:     a.SourceCode,
			Error:      a.Error,
			Diagnostic: a.Diagnostic,
			Line:       a.ErrorLine,
		})
	}
	return out
}

// afterCommit runs the best-effort side effects of a recorded attempt.
func (s *CompilationService) afterCommit(ctx context.Context, attempt *model.Attempt, score *float64, raw string) {
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	if err := s.sessions.Invalidate(ctxCache.ctx, attempt.SessionID); err != nil {
		logger.Warn(ctx, "invalidate session cache failed", zap.String("session_id", attempt.SessionID), zap.Error(err))
	}
	if err := s.attempts.Invalidate(ctxCache.ctx, attempt.SessionID); err != nil {
		logger.Warn(ctx, "invalidate history cache failed", zap.String("session_id", attempt.SessionID), zap.Error(err))
	}
	ctxCache.cancel()

	archiveKey := s.archive(ctx, attempt, raw)
	if err := s.publishRecorded(ctx, attempt, score, archiveKey); err != nil {
		logger.Warn(ctx, "publish attempt event failed",
			zap.String("attempt_id", attempt.ID),
			zap.String("topic", s.eventTopic),
			zap.Int("code", int(appErr.GetCode(err))),
			zap.Error(err),
		)
	}
}

func (s *CompilationService) archive(ctx context.Context, attempt *model.Attempt, raw string) string {
	if s.archiver == nil || !attempt.Error || raw == "" {
		return ""
	}
	ctxStorage := withTimeout(ctx, s.timeouts.Storage)
	defer ctxStorage.cancel()
	key, err := s.archiver.Store(ctxStorage.ctx, attempt, raw)
	if err != nil {
		logger.Warn(ctx, "archive diagnostic failed",
			zap.String("attempt_id", attempt.ID),
			zap.Int("code", int(appErr.GetCode(err))),
			zap.Error(err),
		)
		return ""
	}
	return key
}

// publishRecorded emits the AttemptRecorded event. A nil publisher is a
// no-op.
func (s *CompilationService) publishRecorded(ctx context.Context, attempt *model.Attempt, score *float64, archiveKey string) error {
	if s.publisher == nil {
		return nil
	}
	event := model.NewAttemptRecordedEvent(attempt, score)
	event.ArchiveKey = archiveKey
	body, err := json.Marshal(event)
	if err != nil {
		return appErr.Wrapf(err, appErr.EventPublishFailed, "encode attempt event failed")
	}
	message := mq.NewMessage(attempt.ID, body)
	message.SetHeader("type", model.EventAttemptRecorded)

	ctxMQ := withTimeout(ctx, s.timeouts.MQ)
	defer ctxMQ.cancel()
	if err := s.publisher.Publish(ctxMQ.ctx, s.eventTopic, message); err != nil {
		return appErr.Wrapf(err, appErr.EventPublishFailed, "publish to %s failed", s.eventTopic)
	}
	return nil
}

type timeoutCtx struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func withTimeout(ctx context.Context, timeout time.Duration) timeoutCtx {
	if timeout <= 0 {
		return timeoutCtx{ctx: ctx, cancel: func() {}}
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	return timeoutCtx{ctx: ctxTimeout, cancel: cancel}
}
