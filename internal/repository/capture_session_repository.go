package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"custodytrail/internal/model"
)

type CaptureSessionRepository struct {
	db *gorm.DB
}

func NewCaptureSessionRepository(db *gorm.DB) *CaptureSessionRepository {
	return &CaptureSessionRepository{db: db}
}

// WithTx returns a copy bound to tx.
func (r *CaptureSessionRepository) WithTx(tx *gorm.DB) *CaptureSessionRepository {
	return &CaptureSessionRepository{db: tx}
}

func (r *CaptureSessionRepository) Create(ctx context.Context, session *model.CaptureSession) error {
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("create capture session failed: %w", err)
	}
	return nil
}

func (r *CaptureSessionRepository) GetByIDAndUserID(ctx context.Context, sessionID, userID uint) (*model.CaptureSession, error) {
	var session model.CaptureSession
	if err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", sessionID, userID).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get capture session failed: %w", err)
	}
	return &session, nil
}

// ListByUserID lists the user's sessions, newest first; an empty status lists all.
func (r *CaptureSessionRepository) ListByUserID(ctx context.Context, userID uint, status model.CaptureStatus, limit int) ([]model.CaptureSession, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var sessions []model.CaptureSession
	if err := q.Order("updated_at DESC").Order("id DESC").Limit(limit).Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("list capture sessions failed: %w", err)
	}
	return sessions, nil
}

// Transition moves the session from one status to another only if it is
// still in the expected status. It reports whether the row was changed, which
// makes it the compare-and-swap every state change goes through.
func (r *CaptureSessionRepository) Transition(
	ctx context.Context,
	sessionID, userID uint,
	from, to model.CaptureStatus,
	updates map[string]interface{},
) (bool, error) {
	fields := map[string]interface{}{"status": to}
	for k, v := range updates {
		fields[k] = v
	}
	result := r.db.WithContext(ctx).Model(&model.CaptureSession{}).
		Where("id = ? AND user_id = ? AND status = ?", sessionID, userID, from).
		Updates(fields)
	if result.Error != nil {
		return false, fmt.Errorf("transition capture session %s->%s failed: %w", from, to, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// UpdateFields writes fields on a session that is in the given status.
func (r *CaptureSessionRepository) UpdateFields(
	ctx context.Context,
	sessionID, userID uint,
	status model.CaptureStatus,
	fields map[string]interface{},
) (bool, error) {
	result := r.db.WithContext(ctx).Model(&model.CaptureSession{}).
		Where("id = ? AND user_id = ? AND status = ?", sessionID, userID, status).
		Updates(fields)
	if result.Error != nil {
		return false, fmt.Errorf("update capture session failed: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}
