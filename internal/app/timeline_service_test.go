package app

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodytrail/internal/model"
	"custodytrail/internal/repository"
)

type memoryTimelineCache struct {
	mu      sync.Mutex
	entries map[uint]map[string][]model.TimelineEvent
	dirty   map[uint]bool
	gets    int
}

func newMemoryTimelineCache() *memoryTimelineCache {
	return &memoryTimelineCache{entries: map[uint]map[string][]model.TimelineEvent{}, dirty: map[uint]bool{}}
}

func (c *memoryTimelineCache) GetTimeline(_ context.Context, userID uint, key string) ([]model.TimelineEvent, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	events, ok := c.entries[userID][key]
	return events, ok, nil
}

func (c *memoryTimelineCache) SetTimeline(_ context.Context, userID uint, key string, events []model.TimelineEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries[userID] == nil {
		c.entries[userID] = map[string][]model.TimelineEvent{}
	}
	c.entries[userID][key] = events
	return nil
}

func (c *memoryTimelineCache) Invalidate(_ context.Context, userID uint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
	c.dirty[userID] = true
	return nil
}

func (c *memoryTimelineCache) IsDirty(_ context.Context, userID uint) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty[userID], nil
}

func TestTimelineListingUsesCacheUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, LinkSession)
	cache := newMemoryTimelineCache()
	svc := NewTimelineService(repository.NewTimelineRepository(h.db), cache)

	events, err := svc.ListEvents(ctx, 1, repository.TimelineFilter{})
	require.NoError(t, err)
	assert.Empty(t, events)

	session := h.reviewed(t, 1)
	_, err = h.svc.Confirm(ctx, 1, session.ID)
	require.NoError(t, err)

	stale, err := svc.ListEvents(ctx, 1, repository.TimelineFilter{})
	require.NoError(t, err)
	assert.Empty(t, stale, "served from cache before invalidation")

	require.NoError(t, cache.Invalidate(ctx, 1))
	fresh, err := svc.ListEvents(ctx, 1, repository.TimelineFilter{})
	require.NoError(t, err)
	assert.Len(t, fresh, 2)
	assert.Empty(t, cache.entries[1], "dirty users are not re-cached")
}

func TestTimelineFilters(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, LinkSession)
	session := h.reviewed(t, 1)
	_, err := h.svc.Confirm(ctx, 1, session.ID)
	require.NoError(t, err)

	school, err := h.timeline.ListEvents(ctx, 1, repository.TimelineFilter{Type: model.EventTypeSchool})
	require.NoError(t, err)
	require.Len(t, school, 1)
	assert.Equal(t, "Teacher noted fatigue", school[0].Title)

	_, err = h.timeline.ListEvents(ctx, 1, repository.TimelineFilter{Type: "sports"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = h.timeline.ListActionItems(ctx, 1, "archived")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestQuotaStatusResolvesTier(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, LinkSession)
	quota := NewQuotaService(h.profiles, h.usage, "free", map[string]int{"free": 10, "premium": -1})

	status, err := quota.Status(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "free", status.Tier)
	assert.Equal(t, 10, status.Limit)

	require.NoError(t, h.profiles.Save(ctx, &model.CaseProfile{UserID: 1, Tier: "premium"}))
	status, err = quota.Status(ctx, 1)
	require.NoError(t, err)
	assert.True(t, status.Unlimited)

	require.NoError(t, h.profiles.Save(ctx, &model.CaseProfile{UserID: 1, Tier: "gold"}))
	status, err = quota.Status(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "free", status.Tier)
}

func TestProfileServiceKeepsTier(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, LinkSession)
	require.NoError(t, h.profiles.Save(ctx, &model.CaseProfile{UserID: 1, Tier: "premium"}))
	svc := NewProfileService(h.profiles)

	saved, err := svc.Save(ctx, SaveProfileInput{UserID: 1, Jurisdiction: " Ontario ", Timezone: "America/Toronto"})
	require.NoError(t, err)
	assert.Equal(t, "Ontario", saved.Jurisdiction)

	loaded, err := svc.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "premium", loaded.Tier)
	assert.Equal(t, "America/Toronto", loaded.Timezone)

	_, err = svc.Save(ctx, SaveProfileInput{UserID: 1, Timezone: "Mars/Olympus"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}
