package repository

import (
	"context"
	"errors"

	"codelab/internal/common/cache"
	"codelab/internal/common/db"
	"codelab/internal/compilation/model"
)

// ActivityRepository reads activities owned by the authoring service.
type ActivityRepository interface {
	GetByID(ctx context.Context, id string) (*model.Activity, error)
}

// SQLActivityRepository implements ActivityRepository with a read-through cache.
type SQLActivityRepository struct {
	db    db.Database
	cache cache.Cache
	ttl   CacheTTL
}

// NewActivityRepository creates an activity repository. cacheClient may be nil.
func NewActivityRepository(database db.Database, cacheClient cache.Cache, ttl CacheTTL) *SQLActivityRepository {
	return &SQLActivityRepository{db: database, cache: cacheClient, ttl: ttl.withDefaults()}
}

const activityColumns = "id, title, language, starter_code, teacher_id"

func (r *SQLActivityRepository) GetByID(ctx context.Context, id string) (*model.Activity, error) {
	if id == "" {
		return nil, ErrActivityNotFound
	}
	if r.cache == nil {
		return r.getFromDB(ctx, id)
	}
	activity, err := cache.GetWithCached[*model.Activity](
		ctx,
		r.cache,
		activityCacheKeyPrefix+id,
		cache.JitterTTL(r.ttl.TTL),
		cache.JitterTTL(r.ttl.EmptyTTL),
		func(a *model.Activity) bool { return a == nil },
		marshalJSON[*model.Activity],
		unmarshalJSON[*model.Activity],
		func(ctx context.Context) (*model.Activity, error) {
			a, err := r.getFromDB(ctx, id)
			if errors.Is(err, ErrActivityNotFound) {
				return nil, nil
			}
			return a, err
		},
	)
	if err != nil {
		return nil, err
	}
	if activity == nil {
		return nil, ErrActivityNotFound
	}
	return activity, nil
}

func (r *SQLActivityRepository) getFromDB(ctx context.Context, id string) (*model.Activity, error) {
	var activity model.Activity
	query := r.db.Rebind("SELECT " + activityColumns + " FROM activities WHERE id = ? LIMIT 1")
	if err := r.db.GetContext(ctx, &activity, query, id); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrActivityNotFound
		}
		return nil, err
	}
	return &activity, nil
}
