package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"custodytrail/internal/model"
)

// TimelineRepository writes and reads the rows a capture commit produces.
type TimelineRepository struct {
	db *gorm.DB
}

func NewTimelineRepository(db *gorm.DB) *TimelineRepository {
	return &TimelineRepository{db: db}
}

func (r *TimelineRepository) WithTx(tx *gorm.DB) *TimelineRepository {
	return &TimelineRepository{db: tx}
}

func (r *TimelineRepository) CreateEvent(ctx context.Context, event *model.TimelineEvent) error {
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(event).Error; err != nil {
		return fmt.Errorf("create timeline event failed: %w", err)
	}
	return nil
}

func (r *TimelineRepository) CreateEvidenceLinks(ctx context.Context, links []model.EvidenceLink) error {
	if len(links) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(&links).Error; err != nil {
		return fmt.Errorf("create evidence links failed: %w", err)
	}
	return nil
}

// UpsertPattern returns the user's pattern for key, creating it when absent.
func (r *TimelineRepository) UpsertPattern(ctx context.Context, userID uint, key, label string) (*model.Pattern, error) {
	pattern := model.Pattern{}
	if err := r.db.WithContext(ctx).
		Where(model.Pattern{UserID: userID, Key: key}).
		Attrs(model.Pattern{Label: label}).
		FirstOrCreate(&pattern).Error; err != nil {
		return nil, fmt.Errorf("upsert pattern %q failed: %w", key, err)
	}
	return &pattern, nil
}

func (r *TimelineRepository) LinkPatterns(ctx context.Context, rows []model.EventPattern) error {
	if len(rows) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
		return fmt.Errorf("link event patterns failed: %w", err)
	}
	return nil
}

func (r *TimelineRepository) CreateActionItems(ctx context.Context, items []model.ActionItem) error {
	if len(items) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(&items).Error; err != nil {
		return fmt.Errorf("create action items failed: %w", err)
	}
	return nil
}

type TimelineFilter struct {
	Type  model.EventType
	From  *time.Time
	To    *time.Time
	Limit int
}

// ListEvents returns the user's events newest first with their evidence links and patterns.
func (r *TimelineRepository) ListEvents(ctx context.Context, userID uint, filter TimelineFilter) ([]model.TimelineEvent, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if filter.Type != "" {
		q = q.Where("type = ?", filter.Type)
	}
	if filter.From != nil {
		q = q.Where("occurred_at >= ?", *filter.From)
	}
	if filter.To != nil {
		q = q.Where("occurred_at < ?", *filter.To)
	}
	var events []model.TimelineEvent
	if err := q.Preload("EvidenceLinks").Preload("Patterns").
		Order("occurred_at DESC").Order("id DESC").
		Limit(limit).Find(&events).Error; err != nil {
		return nil, fmt.Errorf("list timeline events failed: %w", err)
	}
	return events, nil
}

func (r *TimelineRepository) ListActionItems(ctx context.Context, userID uint, status model.ActionItemStatus) ([]model.ActionItem, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var items []model.ActionItem
	if err := q.Order("created_at DESC").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("list action items failed: %w", err)
	}
	return items, nil
}
