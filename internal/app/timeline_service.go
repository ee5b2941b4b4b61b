package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"custodytrail/internal/model"
	"custodytrail/internal/repository"
)

// TimelineService reads committed events. Listings are cached per user and
// bypass the cache while a recent commit has marked it dirty.
type TimelineService struct {
	timeline *repository.TimelineRepository
	cache    TimelineCache
}

func NewTimelineService(timeline *repository.TimelineRepository, cache TimelineCache) *TimelineService {
	return &TimelineService{timeline: timeline, cache: cache}
}

func (s *TimelineService) ListEvents(ctx context.Context, userID uint, filter repository.TimelineFilter) ([]model.TimelineEvent, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	if filter.Type != "" && !validEventType(filter.Type) {
		return nil, fmt.Errorf("%w: unknown event type %q", ErrInvalidInput, filter.Type)
	}
	if s.cache == nil {
		return s.timeline.ListEvents(ctx, userID, filter)
	}

	key := filterKey(filter)
	dirty, err := s.cache.IsDirty(ctx, userID)
	if err != nil {
		log.Printf("timeline user=%d check dirty marker failed: %v", userID, err)
		dirty = true
	}
	if !dirty {
		events, ok, err := s.cache.GetTimeline(ctx, userID, key)
		if err != nil {
			log.Printf("timeline user=%d read cache failed: %v", userID, err)
		} else if ok {
			return events, nil
		}
	}

	events, err := s.timeline.ListEvents(ctx, userID, filter)
	if err != nil {
		return nil, err
	}
	if !dirty {
		if err := s.cache.SetTimeline(ctx, userID, key, events); err != nil {
			log.Printf("timeline user=%d write cache failed: %v", userID, err)
		}
	}
	return events, nil
}

func (s *TimelineService) ListActionItems(ctx context.Context, userID uint, status model.ActionItemStatus) ([]model.ActionItem, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	if status != "" && status != model.ActionItemOpen && status != model.ActionItemDone {
		return nil, fmt.Errorf("%w: unknown action item status %q", ErrInvalidInput, status)
	}
	return s.timeline.ListActionItems(ctx, userID, status)
}

func validEventType(t model.EventType) bool {
	switch t {
	case model.EventTypeIncident, model.EventTypePositive, model.EventTypeMedical,
		model.EventTypeSchool, model.EventTypeCommunication, model.EventTypeLegal:
		return true
	}
	return false
}

func filterKey(f repository.TimelineFilter) string {
	parts := []string{string(f.Type), "", "", fmt.Sprint(f.Limit)}
	if f.From != nil {
		parts[1] = fmt.Sprint(f.From.Unix())
	}
	if f.To != nil {
		parts[2] = fmt.Sprint(f.To.Unix())
	}
	return strings.Join(parts, "|")
}
