// Package repository persists activities, students, sessions and attempts.
// Queries use "?" placeholders and are rebound for the active driver, so the
// same code serves MySQL and PostgreSQL.
package repository

import (
	"encoding/json"
	"errors"
	"time"

	"codelab/internal/common/cache"
)

const (
	defaultCacheTTL      = 30 * time.Minute
	defaultCacheEmptyTTL = 2 * time.Minute

	activityCacheKeyPrefix = "compile:activity:"
	studentCacheKeyPrefix  = "compile:student:user:"
	sessionCacheKeyPrefix  = "compile:session:"
	historyCacheKeyPrefix  = "compile:history:"
)

var (
	ErrActivityNotFound = errors.New("activity not found")
	ErrStudentNotFound  = errors.New("student not found")
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionExists    = errors.New("session already exists")
	ErrDuplicateAttempt = errors.New("attempt ordinal already recorded")
)

// CacheTTL configures cache-aside lifetimes. Zero values use defaults.
type CacheTTL struct {
	TTL      time.Duration
	EmptyTTL time.Duration
}

func (c CacheTTL) withDefaults() CacheTTL {
	if c.TTL <= 0 {
		c.TTL = defaultCacheTTL
	}
	if c.EmptyTTL <= 0 {
		c.EmptyTTL = defaultCacheEmptyTTL
	}
	return c
}

// SessionCacheKey is the cache key of a session record.
func SessionCacheKey(sessionID string) string {
	return sessionCacheKeyPrefix + sessionID
}

// HistoryCacheKey is the cache key of a session's ordered attempt list.
func HistoryCacheKey(sessionID string) string {
	return historyCacheKeyPrefix + sessionID
}

func marshalJSON[T any](v T) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

func unmarshalJSON[T any](data string) (T, error) {
	var v T
	if data == "" || data == cache.NullCacheValue {
		return v, nil
	}
	err := json.Unmarshal([]byte(data), &v)
	return v, err
}
