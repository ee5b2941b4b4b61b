package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redisv9 "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodytrail/internal/model"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redisv9.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redisv9.NewClient(&redisv9.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestProgressCacheRoundTripAndExpiry(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	cache := NewProgressCache(client, time.Minute)

	_, found, err := cache.GetProgress(ctx, 4)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, cache.SetProgress(ctx, model.CaptureProgress{
		SessionID:     4,
		UserID:        9,
		Stage:         model.StageEvidence,
		EvidenceTotal: 3,
		EvidenceDone:  1,
	}))
	require.NoError(t, cache.SetProgress(ctx, model.CaptureProgress{SessionID: 5, UserID: 9, Stage: model.StageReview}))

	got, found, err := cache.GetProgress(ctx, 4)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, model.StageEvidence, got.Stage)
	assert.Equal(t, 1, got.EvidenceDone)

	other, found, err := cache.GetProgress(ctx, 5)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, model.StageReview, other.Stage)

	mr.FastForward(2 * time.Minute)
	_, found, err = cache.GetProgress(ctx, 4)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestTimelineCacheInvalidateDropsAllFilters(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	cache := NewTimelineCache(client, time.Minute, 5*time.Second)

	events := []model.TimelineEvent{{ID: 1, UserID: 3, Title: "Late pickup", Type: model.EventTypeIncident}}
	require.NoError(t, cache.SetTimeline(ctx, 3, "||100", events))
	require.NoError(t, cache.SetTimeline(ctx, 3, "school||100", nil))
	require.NoError(t, cache.SetTimeline(ctx, 4, "||100", events))

	got, ok, err := cache.GetTimeline(ctx, 3, "||100")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, "Late pickup", got[0].Title)

	empty, ok, err := cache.GetTimeline(ctx, 3, "school||100")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, empty)

	require.NoError(t, cache.Invalidate(ctx, 3))
	dirty, err := cache.IsDirty(ctx, 3)
	require.NoError(t, err)
	assert.True(t, dirty)
	for _, key := range []string{"||100", "school||100"} {
		_, ok, err = cache.GetTimeline(ctx, 3, key)
		require.NoError(t, err)
		assert.False(t, ok, key)
	}

	_, ok, err = cache.GetTimeline(ctx, 4, "||100")
	require.NoError(t, err)
	assert.True(t, ok, "other users keep their cache")

	mr.FastForward(6 * time.Second)
	dirty, err = cache.IsDirty(ctx, 3)
	require.NoError(t, err)
	assert.False(t, dirty)
}
