package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"custodytrail/internal/model"
)

type CaseProfileRepository struct {
	db *gorm.DB
}

func NewCaseProfileRepository(db *gorm.DB) *CaseProfileRepository {
	return &CaseProfileRepository{db: db}
}

func (r *CaseProfileRepository) GetByUserID(ctx context.Context, userID uint) (*model.CaseProfile, error) {
	var profile model.CaseProfile
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get case profile failed: %w", err)
	}
	return &profile, nil
}

func (r *CaseProfileRepository) Save(ctx context.Context, profile *model.CaseProfile) error {
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"jurisdiction", "role", "goals", "child_names", "timezone", "tier", "updated_at"}),
	}).Create(profile).Error; err != nil {
		return fmt.Errorf("save case profile failed: %w", err)
	}
	return nil
}
