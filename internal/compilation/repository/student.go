package repository

import (
	"context"
	"errors"

	"codelab/internal/common/cache"
	"codelab/internal/common/db"
	"codelab/internal/compilation/model"
)

// StudentRepository resolves the student behind a platform identity.
type StudentRepository interface {
	GetByUserID(ctx context.Context, userID string) (*model.Student, error)
}

// SQLStudentRepository implements StudentRepository with a read-through cache.
type SQLStudentRepository struct {
	db    db.Database
	cache cache.Cache
	ttl   CacheTTL
}

// NewStudentRepository creates a student repository. cacheClient may be nil.
func NewStudentRepository(database db.Database, cacheClient cache.Cache, ttl CacheTTL) *SQLStudentRepository {
	return &SQLStudentRepository{db: database, cache: cacheClient, ttl: ttl.withDefaults()}
}

func (r *SQLStudentRepository) GetByUserID(ctx context.Context, userID string) (*model.Student, error) {
	if userID == "" {
		return nil, ErrStudentNotFound
	}
	if r.cache == nil {
		return r.getFromDB(ctx, userID)
	}
	student, err := cache.GetWithCached[*model.Student](
		ctx,
		r.cache,
		studentCacheKeyPrefix+userID,
		cache.JitterTTL(r.ttl.TTL),
		cache.JitterTTL(r.ttl.EmptyTTL),
		func(s *model.Student) bool { return s == nil },
		marshalJSON[*model.Student],
		unmarshalJSON[*model.Student],
		func(ctx context.Context) (*model.Student, error) {
			s, err := r.getFromDB(ctx, userID)
			if errors.Is(err, ErrStudentNotFound) {
				return nil, nil
			}
			return s, err
		},
	)
	if err != nil {
		return nil, err
	}
	if student == nil {
		return nil, ErrStudentNotFound
	}
	return student, nil
}

func (r *SQLStudentRepository) getFromDB(ctx context.Context, userID string) (*model.Student, error) {
	var student model.Student
	query := r.db.Rebind("SELECT id, user_id FROM students WHERE user_id = ? LIMIT 1")
	if err := r.db.GetContext(ctx, &student, query, userID); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrStudentNotFound
		}
		return nil, err
	}
	return &student, nil
}
