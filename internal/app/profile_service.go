package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"custodytrail/internal/model"
	"custodytrail/internal/repository"
)

type SaveProfileInput struct {
	UserID       uint
	Jurisdiction string
	Role         string
	Goals        string
	ChildNames   string
	Timezone     string
}

// ProfileService manages the case context fed into extraction. The tier is
// owned by billing and never set from here.
type ProfileService struct {
	profiles *repository.CaseProfileRepository
}

func NewProfileService(profiles *repository.CaseProfileRepository) *ProfileService {
	return &ProfileService{profiles: profiles}
}

func (s *ProfileService) Get(ctx context.Context, userID uint) (*model.CaseProfile, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	profile, err := s.profiles.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return &model.CaseProfile{UserID: userID}, nil
	}
	return profile, nil
}

func (s *ProfileService) Save(ctx context.Context, in SaveProfileInput) (*model.CaseProfile, error) {
	if in.UserID == 0 {
		return nil, ErrInvalidInput
	}
	tz := strings.TrimSpace(in.Timezone)
	if tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return nil, fmt.Errorf("%w: unknown timezone %q", ErrInvalidInput, tz)
		}
	}
	current, err := s.Get(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	current.Jurisdiction = strings.TrimSpace(in.Jurisdiction)
	current.Role = strings.TrimSpace(in.Role)
	current.Goals = strings.TrimSpace(in.Goals)
	current.ChildNames = strings.TrimSpace(in.ChildNames)
	current.Timezone = tz
	if err := s.profiles.Save(ctx, current); err != nil {
		return nil, err
	}
	return current, nil
}
