package repository

import (
	"context"
	"errors"
	"strings"

	"codelab/internal/common/cache"
	"codelab/internal/common/db"
	"codelab/internal/compilation/model"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

// AttemptFilter narrows an attempt listing. Empty fields are ignored.
type AttemptFilter struct {
	ActivityID string
	StudentID  string
	SessionID  string
	Limit      int
	Offset     int
}

// KindScope selects the attempts an error-kind ranking covers. Exactly one
// field is expected to be set.
type KindScope struct {
	SessionID string
	StudentID string
}

// AttemptRepository persists attempts.
type AttemptRepository interface {
	Create(ctx context.Context, tx db.Transaction, attempt *model.Attempt) error

	// ListBySession returns the attempts of a session ordered by ordinal.
	ListBySession(ctx context.Context, tx db.Transaction, sessionID string) ([]model.Attempt, error)

	List(ctx context.Context, filter AttemptFilter) ([]model.Attempt, error)

	// TopErrorKinds counts error kinds in scope, most frequent first. A
	// non-positive limit returns every kind.
	TopErrorKinds(ctx context.Context, scope KindScope, limit int) ([]model.KindCount, error)

	// Invalidate drops the cached history of a session.
	Invalidate(ctx context.Context, sessionID string) error
}

// SQLAttemptRepository implements AttemptRepository.
type SQLAttemptRepository struct {
	db    db.Database
	cache cache.Cache
	ttl   CacheTTL
}

// NewAttemptRepository creates an attempt repository. cacheClient may be nil.
func NewAttemptRepository(database db.Database, cacheClient cache.Cache, ttl CacheTTL) *SQLAttemptRepository {
	return &SQLAttemptRepository{db: database, cache: cacheClient, ttl: ttl.withDefaults()}
}

const attemptColumns = "id, session_id, student_id, activity_id, source_code, error, error_kind, error_line, diagnostic, ordinal, created_at"

func (r *SQLAttemptRepository) Create(ctx context.Context, tx db.Transaction, attempt *model.Attempt) error {
	if attempt == nil || attempt.ID == "" {
		return errors.New("attempt id is required")
	}
	if attempt.Error != (attempt.ErrorKind != nil) {
		return errors.New("error kind must be set exactly for failed attempts")
	}
	q := db.GetQuerier(r.db, tx)
	query := q.Rebind("INSERT INTO compilations (" + attemptColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
	_, err := q.ExecContext(ctx, query,
		attempt.ID,
		attempt.SessionID,
		attempt.StudentID,
		attempt.ActivityID,
		attempt.SourceCode,
		attempt.Error,
		attempt.ErrorKind,
		attempt.ErrorLine,
		attempt.Diagnostic,
		attempt.Ordinal,
		attempt.CreatedAt,
	)
	if err != nil {
		if _, ok := db.UniqueViolation(err); ok {
			return ErrDuplicateAttempt
		}
		return err
	}
	return nil
}

func (r *SQLAttemptRepository) ListBySession(ctx context.Context, tx db.Transaction, sessionID string) ([]model.Attempt, error) {
	if r.cache == nil || tx != nil {
		return r.listBySessionFromDB(ctx, tx, sessionID)
	}
	return cache.GetWithCached[[]model.Attempt](
		ctx,
		r.cache,
		HistoryCacheKey(sessionID),
		cache.JitterTTL(r.ttl.TTL),
		cache.JitterTTL(r.ttl.EmptyTTL),
		func(a []model.Attempt) bool { return len(a) == 0 },
		marshalJSON[[]model.Attempt],
		unmarshalJSON[[]model.Attempt],
		func(ctx context.Context) ([]model.Attempt, error) {
			return r.listBySessionFromDB(ctx, nil, sessionID)
		},
	)
}

func (r *SQLAttemptRepository) listBySessionFromDB(ctx context.Context, tx db.Transaction, sessionID string) ([]model.Attempt, error) {
	q := db.GetQuerier(r.db, tx)
	var attempts []model.Attempt
	query := q.Rebind("SELECT " + attemptColumns + " FROM compilations WHERE session_id = ? ORDER BY ordinal ASC")
	if err := q.SelectContext(ctx, &attempts, query, sessionID); err != nil {
		return nil, err
	}
	return attempts, nil
}

func (r *SQLAttemptRepository) List(ctx context.Context, filter AttemptFilter) ([]model.Attempt, error) {
	query, args := buildAttemptListQuery(filter)
	var attempts []model.Attempt
	if err := r.db.SelectContext(ctx, &attempts, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return attempts, nil
}

func buildAttemptListQuery(filter AttemptFilter) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.ActivityID != "" {
		conds = append(conds, "activity_id = ?")
		args = append(args, filter.ActivityID)
	}
	if filter.StudentID != "" {
		conds = append(conds, "student_id = ?")
		args = append(args, filter.StudentID)
	}
	if filter.SessionID != "" {
		conds = append(conds, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	var b strings.Builder
	b.WriteString("SELECT " + attemptColumns + " FROM compilations")
	if len(conds) > 0 {
		b.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC, ordinal DESC LIMIT ? OFFSET ?")
	args = append(args, limit, offset)
	return b.String(), args
}

func (r *SQLAttemptRepository) TopErrorKinds(ctx context.Context, scope KindScope, limit int) ([]model.KindCount, error) {
	query, args, err := buildTopKindsQuery(scope, limit)
	if err != nil {
		return nil, err
	}
	var rows []model.KindCount
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func buildTopKindsQuery(scope KindScope, limit int) (string, []interface{}, error) {
	var (
		column string
		value  string
	)
	switch {
	case scope.SessionID != "":
		column, value = "session_id", scope.SessionID
	case scope.StudentID != "":
		column, value = "student_id", scope.StudentID
	default:
		return "", nil, errors.New("kind scope is empty")
	}
	query := "SELECT error_kind AS kind, COUNT(*) AS total FROM compilations WHERE " + column +
		" = ? AND error_kind IS NOT NULL GROUP BY error_kind ORDER BY total DESC, error_kind ASC"
	if limit <= 0 {
		return query, []interface{}{value}, nil
	}
	return query + " LIMIT ?", []interface{}{value, limit}, nil
}

func (r *SQLAttemptRepository) Invalidate(ctx context.Context, sessionID string) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Del(ctx, HistoryCacheKey(sessionID))
}
