package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"custodytrail/internal/model"
)

// TimelineCache keeps each user's timeline listings in one hash, one field per
// filter, so a commit drops them all with a single delete.
type TimelineCache struct {
	client         *redisv9.Client
	listingTTL     time.Duration
	dirtyMarkerTTL time.Duration
}

func NewTimelineCache(client *redisv9.Client, listingTTL, dirtyMarkerTTL time.Duration) *TimelineCache {
	if listingTTL <= 0 {
		listingTTL = 5 * time.Minute
	}
	if dirtyMarkerTTL <= 0 {
		dirtyMarkerTTL = 5 * time.Second
	}
	return &TimelineCache{
		client:         client,
		listingTTL:     listingTTL,
		dirtyMarkerTTL: dirtyMarkerTTL,
	}
}

func (c *TimelineCache) GetTimeline(ctx context.Context, userID uint, filterKey string) ([]model.TimelineEvent, bool, error) {
	raw, err := c.client.HGet(ctx, c.listingKey(userID), filterKey).Result()
	if err == redisv9.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get timeline failed: %w", err)
	}

	var events []model.TimelineEvent
	if err := json.Unmarshal([]byte(raw), &events); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached timeline failed: %w", err)
	}
	return events, true, nil
}

func (c *TimelineCache) SetTimeline(ctx context.Context, userID uint, filterKey string, events []model.TimelineEvent) error {
	if events == nil {
		events = []model.TimelineEvent{}
	}
	payload, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("marshal timeline cache failed: %w", err)
	}
	key := c.listingKey(userID)
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key, filterKey, payload)
	pipe.Expire(ctx, key, c.listingTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set timeline failed: %w", err)
	}
	return nil
}

// Invalidate drops every cached listing and marks the user dirty so readers
// skip the cache until the marker expires.
func (c *TimelineCache) Invalidate(ctx context.Context, userID uint) error {
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, c.listingKey(userID))
	pipe.Set(ctx, c.dirtyKey(userID), "1", c.dirtyMarkerTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis invalidate timeline failed: %w", err)
	}
	return nil
}

func (c *TimelineCache) IsDirty(ctx context.Context, userID uint) (bool, error) {
	exists, err := c.client.Exists(ctx, c.dirtyKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis check dirty marker failed: %w", err)
	}
	return exists > 0, nil
}

func (c *TimelineCache) listingKey(userID uint) string {
	return fmt.Sprintf("timeline:listing:%d", userID)
}

func (c *TimelineCache) dirtyKey(userID uint) string {
	return fmt.Sprintf("timeline:listing:dirty:%d", userID)
}
