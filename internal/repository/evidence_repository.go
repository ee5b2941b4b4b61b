package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"custodytrail/internal/model"
)

type EvidenceRepository struct {
	db *gorm.DB
}

func NewEvidenceRepository(db *gorm.DB) *EvidenceRepository {
	return &EvidenceRepository{db: db}
}

func (r *EvidenceRepository) WithTx(tx *gorm.DB) *EvidenceRepository {
	return &EvidenceRepository{db: tx}
}

// Create appends the item at the end of its session's ordering.
func (r *EvidenceRepository) Create(ctx context.Context, item *model.EvidenceItem) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxOrder int
		if err := tx.Model(&model.EvidenceItem{}).
			Where("capture_session_id = ? AND user_id = ?", item.CaptureSessionID, item.UserID).
			Select("COALESCE(MAX(sort_order), 0)").Scan(&maxOrder).Error; err != nil {
			return fmt.Errorf("read evidence sort order failed: %w", err)
		}
		item.SortOrder = maxOrder + 1
		if err := tx.Create(item).Error; err != nil {
			return fmt.Errorf("create evidence item failed: %w", err)
		}
		return nil
	})
}

func (r *EvidenceRepository) GetByIDAndUserID(ctx context.Context, itemID, userID uint) (*model.EvidenceItem, error) {
	var item model.EvidenceItem
	if err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", itemID, userID).First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get evidence item failed: %w", err)
	}
	return &item, nil
}

// ListBySessionID returns the session's items in citation order.
func (r *EvidenceRepository) ListBySessionID(ctx context.Context, sessionID, userID uint) ([]model.EvidenceItem, error) {
	var items []model.EvidenceItem
	if err := r.db.WithContext(ctx).
		Where("capture_session_id = ? AND user_id = ?", sessionID, userID).
		Order("sort_order ASC").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("list evidence items failed: %w", err)
	}
	return items, nil
}

func (r *EvidenceRepository) MarkStored(ctx context.Context, itemID, userID uint, storageRef string) error {
	if err := r.db.WithContext(ctx).Model(&model.EvidenceItem{}).
		Where("id = ? AND user_id = ?", itemID, userID).
		Update("storage_ref", storageRef).Error; err != nil {
		return fmt.Errorf("mark evidence stored failed: %w", err)
	}
	return nil
}

// MarkProcessed stores the summary, clears any previous error and drops the staged bytes.
func (r *EvidenceRepository) MarkProcessed(ctx context.Context, itemID, userID uint, summary string, details datatypes.JSON) error {
	now := time.Now()
	if err := r.db.WithContext(ctx).Model(&model.EvidenceItem{}).
		Where("id = ? AND user_id = ?", itemID, userID).
		Updates(map[string]interface{}{
			"summary":          summary,
			"summary_details":  details,
			"is_processed":     true,
			"processing_error": nil,
			"staged_content":   nil,
			"processed_at":     &now,
		}).Error; err != nil {
		return fmt.Errorf("mark evidence processed failed: %w", err)
	}
	return nil
}

// MarkFailed records the error on an item that has no usable summary.
func (r *EvidenceRepository) MarkFailed(ctx context.Context, itemID, userID uint, message string) error {
	if err := r.db.WithContext(ctx).Model(&model.EvidenceItem{}).
		Where("id = ? AND user_id = ?", itemID, userID).
		Updates(map[string]interface{}{
			"is_processed":     false,
			"processing_error": message,
		}).Error; err != nil {
		return fmt.Errorf("record evidence failure failed: %w", err)
	}
	return nil
}

// RecordError stores a failed re-run on an item whose previous summary stays valid.
func (r *EvidenceRepository) RecordError(ctx context.Context, itemID, userID uint, message string) error {
	if err := r.db.WithContext(ctx).Model(&model.EvidenceItem{}).
		Where("id = ? AND user_id = ?", itemID, userID).
		Update("processing_error", message).Error; err != nil {
		return fmt.Errorf("record evidence failure failed: %w", err)
	}
	return nil
}
