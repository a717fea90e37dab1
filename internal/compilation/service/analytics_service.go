package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"codelab/internal/common/cache"
	"codelab/internal/compilation/model"
	"codelab/internal/compilation/repository"
	"codelab/internal/diagnostic"
	appErr "codelab/pkg/errors"
	"codelab/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	kindsSessionKeyPrefix = "analytics:kinds:session:"
	kindsStudentKeyPrefix = "analytics:kinds:student:"
	topKindsLimit         = 3
	kindsCacheTTL         = 10 * time.Minute
	// kindsPlaceholder keeps a rebuilt counter set present when it has no
	// kinds yet.
	kindsPlaceholder = ""
)

// SessionKinds is the error-kind ranking of one session.
type SessionKinds struct {
	SessionID        string            `json:"session_id"`
	StudentID        string            `json:"student_id"`
	CompilationCount int               `json:"compilation_count"`
	Score            *float64          `json:"score"`
	Kinds            []model.KindCount `json:"kinds"`
}

// SessionKindsKey is the sorted set counting error kinds of a session.
func SessionKindsKey(sessionID string) string {
	return kindsSessionKeyPrefix + sessionID
}

// StudentKindsKey is the sorted set counting error kinds of a student.
func StudentKindsKey(studentID string) string {
	return kindsStudentKeyPrefix + studentID
}

// TopKindsByActivity ranks the most frequent error kinds of every session of
// an activity.
func (s *CompilationService) TopKindsByActivity(ctx context.Context, activityID string) ([]SessionKinds, error) {
	if strings.TrimSpace(activityID) == "" {
		return nil, appErr.ValidationError("activityId", "required")
	}
	if _, err := s.loadActivity(ctx, activityID); err != nil {
		return nil, err
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	sessions, err := s.sessions.ListByActivity(ctxDB.ctx, activityID)
	ctxDB.cancel()
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list sessions failed")
	}

	out := make([]SessionKinds, 0, len(sessions))
	for _, session := range sessions {
		kinds, err := s.topKinds(ctx, SessionKindsKey(session.ID), repository.KindScope{SessionID: session.ID})
		if err != nil {
			return nil, err
		}
		out = append(out, SessionKinds{
			SessionID:        session.ID,
			StudentID:        session.StudentID,
			CompilationCount: session.CompilationCount,
			Score:            session.Score,
			Kinds:            kinds,
		})
	}
	return out, nil
}

// TopKindsByStudent ranks the most frequent error kinds of one student across
// all activities.
func (s *CompilationService) TopKindsByStudent(ctx context.Context, studentID string) ([]model.KindCount, error) {
	if strings.TrimSpace(studentID) == "" {
		return nil, appErr.ValidationError("studentId", "required")
	}
	return s.topKinds(ctx, StudentKindsKey(studentID), repository.KindScope{StudentID: studentID})
}

// topKinds reads the cached counters. On a miss the counters are rebuilt from
// SQL so that the cache never diverges from the stored attempts for longer
// than kindsCacheTTL.
func (s *CompilationService) topKinds(ctx context.Context, key string, scope repository.KindScope) ([]model.KindCount, error) {
	if s.cache != nil {
		ctxCache := withTimeout(ctx, s.timeouts.Cache)
		members, err := s.cache.ZRevRangeWithScores(ctxCache.ctx, key, 0, -1)
		ctxCache.cancel()
		if err != nil {
			logger.Warn(ctx, "read error kind counters failed", zap.String("key", key), zap.Error(err))
		} else if len(members) > 0 {
			counts := make([]model.KindCount, 0, len(members))
			for _, m := range members {
				if m.Member == kindsPlaceholder {
					continue
				}
				counts = append(counts, model.KindCount{Kind: diagnostic.Kind(m.Member), Count: int64(m.Score)})
			}
			return rankKinds(counts), nil
		}
	}

	ctxDB := withTimeout(ctx, s.timeouts.DB)
	counts, err := s.attempts.TopErrorKinds(ctxDB.ctx, scope, 0)
	ctxDB.cancel()
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "rank error kinds failed")
	}
	if s.cache != nil {
		members := make([]cache.ZMember, 0, len(counts)+1)
		members = append(members, cache.ZMember{Member: kindsPlaceholder})
		for _, c := range counts {
			members = append(members, cache.ZMember{Member: c.Kind.String(), Score: float64(c.Count)})
		}
		ctxCache := withTimeout(ctx, s.timeouts.Cache)
		if err := s.cache.ZReplace(ctxCache.ctx, key, members, cache.JitterTTL(kindsCacheTTL)); err != nil {
			logger.Warn(ctx, "rebuild error kind counters failed", zap.String("key", key), zap.Error(err))
		}
		ctxCache.cancel()
	}
	return rankKinds(counts), nil
}

// rankKinds orders by count, then kind name, and keeps the top entries.
func rankKinds(counts []model.KindCount) []model.KindCount {
	sort.SliceStable(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Kind < counts[j].Kind
	})
	if len(counts) > topKindsLimit {
		counts = counts[:topKindsLimit]
	}
	if counts == nil {
		counts = []model.KindCount{}
	}
	return counts
}
