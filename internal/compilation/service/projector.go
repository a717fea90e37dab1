package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"codelab/internal/common/cache"
	"codelab/internal/common/mq"
	"codelab/internal/compilation/model"
	"codelab/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	projectedKeyPrefix  = "analytics:projected:"
	defaultProjectedTTL = 7 * 24 * time.Hour
)

// KindProjector keeps the cached per-session and per-student error-kind
// counters current from AttemptRecorded events. Each attempt is counted once,
// and counters that are not cached are left for the next read to rebuild.
type KindProjector struct {
	cache        cache.Cache
	projectedTTL time.Duration
}

// NewKindProjector creates a projector writing to cacheClient.
func NewKindProjector(cacheClient cache.Cache) (*KindProjector, error) {
	if cacheClient == nil {
		return nil, fmt.Errorf("cache is required")
	}
	return &KindProjector{cache: cacheClient, projectedTTL: defaultProjectedTTL}, nil
}

// Handle is an mq.HandlerFunc.
func (p *KindProjector) Handle(ctx context.Context, message *mq.Message) error {
	var event model.AttemptRecordedEvent
	if err := json.Unmarshal(message.Body, &event); err != nil {
		// Redelivery cannot fix a malformed body.
		logger.Warn(ctx, "drop malformed attempt event", zap.String("message_id", message.ID), zap.Error(err))
		return nil
	}
	if event.Type != model.EventAttemptRecorded || !event.Error || event.ErrorKind == "" {
		return nil
	}

	keys := []string{SessionKindsKey(event.SessionID), StudentKindsKey(event.StudentID)}
	_, err := p.cache.ZIncrByOnce(ctx, projectedKeyPrefix+event.AttemptID, p.projectedTTL, keys, 1, event.ErrorKind)
	return err
}
