package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"custodytrail/internal/model"
)

type UsageRepository struct {
	db *gorm.DB
}

func NewUsageRepository(db *gorm.DB) *UsageRepository {
	return &UsageRepository{db: db}
}

func (r *UsageRepository) WithTx(tx *gorm.DB) *UsageRepository {
	return &UsageRepository{db: tx}
}

// UsagePeriod is the accounting bucket for t.
func UsagePeriod(t time.Time) string {
	return t.UTC().Format("2006-01")
}

func (r *UsageRepository) Used(ctx context.Context, userID uint, period string) (int, error) {
	var counter model.UsageCounter
	if err := r.db.WithContext(ctx).Where("user_id = ? AND period = ?", userID, period).First(&counter).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("get usage counter failed: %w", err)
	}
	return counter.Used, nil
}

func (r *UsageRepository) Increment(ctx context.Context, userID uint, period string) error {
	counter := model.UsageCounter{UserID: userID, Period: period, Used: 1, UpdatedAt: time.Now()}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "period"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"used":       gorm.Expr("used + 1"),
			"updated_at": counter.UpdatedAt,
		}),
	}).Create(&counter).Error; err != nil {
		return fmt.Errorf("increment usage counter failed: %w", err)
	}
	return nil
}
