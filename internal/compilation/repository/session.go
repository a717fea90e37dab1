package repository

import (
	"context"
	"errors"

	"codelab/internal/common/cache"
	"codelab/internal/common/db"
	"codelab/internal/compilation/model"
)

// SessionRepository persists activity sessions.
type SessionRepository interface {
	GetByID(ctx context.Context, tx db.Transaction, id string) (*model.Session, error)
	FindByStudentActivity(ctx context.Context, tx db.Transaction, studentID, activityID string) (*model.Session, error)
	ListByActivity(ctx context.Context, activityID string) ([]model.Session, error)
	Create(ctx context.Context, tx db.Transaction, session *model.Session) error

	// Update writes the fields an attempt changes. IsSolved belongs to the
	// grader and is never written here.
	Update(ctx context.Context, tx db.Transaction, session *model.Session) error

	// Invalidate drops the cached copy of a session. Call it after the
	// transaction that changed the session has committed.
	Invalidate(ctx context.Context, id string) error
}

// SQLSessionRepository implements SessionRepository. Reads outside a
// transaction go through the cache.
type SQLSessionRepository struct {
	db    db.Database
	cache cache.Cache
	ttl   CacheTTL
}

// NewSessionRepository creates a session repository. cacheClient may be nil.
func NewSessionRepository(database db.Database, cacheClient cache.Cache, ttl CacheTTL) *SQLSessionRepository {
	return &SQLSessionRepository{db: database, cache: cacheClient, ttl: ttl.withDefaults()}
}

const sessionColumns = "id, student_id, activity_id, source_code, compilation_count, is_solved, score, last_result, last_updated"

func (r *SQLSessionRepository) GetByID(ctx context.Context, tx db.Transaction, id string) (*model.Session, error) {
	if id == "" {
		return nil, ErrSessionNotFound
	}
	if r.cache == nil || tx != nil {
		return r.getFromDB(ctx, tx, id)
	}
	session, err := cache.GetWithCached[*model.Session](
		ctx,
		r.cache,
		SessionCacheKey(id),
		cache.JitterTTL(r.ttl.TTL),
		cache.JitterTTL(r.ttl.EmptyTTL),
		func(s *model.Session) bool { return s == nil },
		marshalJSON[*model.Session],
		unmarshalJSON[*model.Session],
		func(ctx context.Context) (*model.Session, error) {
			s, err := r.getFromDB(ctx, nil, id)
			if errors.Is(err, ErrSessionNotFound) {
				return nil, nil
			}
			return s, err
		},
	)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

func (r *SQLSessionRepository) getFromDB(ctx context.Context, tx db.Transaction, id string) (*model.Session, error) {
	q := db.GetQuerier(r.db, tx)
	var session model.Session
	query := q.Rebind("SELECT " + sessionColumns + " FROM activity_sessions WHERE id = ? LIMIT 1")
	if err := q.GetContext(ctx, &session, query, id); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

func (r *SQLSessionRepository) FindByStudentActivity(ctx context.Context, tx db.Transaction, studentID, activityID string) (*model.Session, error) {
	q := db.GetQuerier(r.db, tx)
	var session model.Session
	query := q.Rebind("SELECT " + sessionColumns + " FROM activity_sessions WHERE student_id = ? AND activity_id = ? LIMIT 1")
	if err := q.GetContext(ctx, &session, query, studentID, activityID); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

func (r *SQLSessionRepository) ListByActivity(ctx context.Context, activityID string) ([]model.Session, error) {
	var sessions []model.Session
	query := r.db.Rebind("SELECT " + sessionColumns + " FROM activity_sessions WHERE activity_id = ? ORDER BY student_id")
	if err := r.db.SelectContext(ctx, &sessions, query, activityID); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *SQLSessionRepository) Create(ctx context.Context, tx db.Transaction, session *model.Session) error {
	if session == nil || session.ID == "" {
		return errors.New("session id is required")
	}
	q := db.GetQuerier(r.db, tx)
	query := q.Rebind("INSERT INTO activity_sessions (" + sessionColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)")
	_, err := q.ExecContext(ctx, query,
		session.ID,
		session.StudentID,
		session.ActivityID,
		session.SourceCode,
		session.CompilationCount,
		session.IsSolved,
		session.Score,
		session.LastResult,
		session.LastUpdated,
	)
	if err != nil {
		if _, ok := db.UniqueViolation(err); ok {
			return ErrSessionExists
		}
		return err
	}
	return nil
}

func (r *SQLSessionRepository) Update(ctx context.Context, tx db.Transaction, session *model.Session) error {
	if session == nil || session.ID == "" {
		return errors.New("session id is required")
	}
	q := db.GetQuerier(r.db, tx)
	query := q.Rebind("UPDATE activity_sessions SET source_code = ?, compilation_count = ?, score = ?, last_result = ?, last_updated = ? WHERE id = ?")
	result, err := q.ExecContext(ctx, query,
		session.SourceCode,
		session.CompilationCount,
		session.Score,
		session.LastResult,
		session.LastUpdated,
		session.ID,
	)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *SQLSessionRepository) Invalidate(ctx context.Context, id string) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Del(ctx, SessionCacheKey(id))
}
