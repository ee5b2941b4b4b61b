package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"custodytrail/internal/model"
)

// ProgressCache holds one progress record per capture session, addressed by
// session id. Records expire on their own once a session goes quiet.
type ProgressCache struct {
	client *redisv9.Client
	ttl    time.Duration
}

func NewProgressCache(client *redisv9.Client, ttl time.Duration) *ProgressCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ProgressCache{client: client, ttl: ttl}
}

func (c *ProgressCache) SetProgress(ctx context.Context, progress model.CaptureProgress) error {
	payload, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("marshal capture progress failed: %w", err)
	}
	if err := c.client.Set(ctx, c.key(progress.SessionID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set capture progress failed: %w", err)
	}
	return nil
}

func (c *ProgressCache) GetProgress(ctx context.Context, sessionID uint) (*model.CaptureProgress, bool, error) {
	raw, err := c.client.Get(ctx, c.key(sessionID)).Result()
	if err == redisv9.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get capture progress failed: %w", err)
	}

	var progress model.CaptureProgress
	if err := json.Unmarshal([]byte(raw), &progress); err != nil {
		return nil, false, fmt.Errorf("unmarshal capture progress failed: %w", err)
	}
	return &progress, true, nil
}

func (c *ProgressCache) key(sessionID uint) string {
	return fmt.Sprintf("capture:progress:%d", sessionID)
}
