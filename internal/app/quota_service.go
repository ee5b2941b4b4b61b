package app

import (
	"context"
	"log"
	"time"

	"gorm.io/gorm"

	"custodytrail/internal/repository"
)

type QuotaStatus struct {
	Tier      string `json:"tier"`
	Period    string `json:"period"`
	Used      int    `json:"used"`
	Limit     int    `json:"limit"`
	Unlimited bool   `json:"unlimited"`
}

// QuotaService enforces monthly committed-capture limits per tier.
type QuotaService struct {
	profiles    *repository.CaseProfileRepository
	usage       *repository.UsageRepository
	defaultTier string
	limits      map[string]int
	now         func() time.Time
}

func NewQuotaService(
	profiles *repository.CaseProfileRepository,
	usage *repository.UsageRepository,
	defaultTier string,
	limits map[string]int,
) *QuotaService {
	return &QuotaService{
		profiles:    profiles,
		usage:       usage,
		defaultTier: defaultTier,
		limits:      limits,
		now:         time.Now,
	}
}

func (s *QuotaService) Status(ctx context.Context, userID uint) (*QuotaStatus, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	tier := s.defaultTier
	profile, err := s.profiles.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if profile != nil && profile.Tier != "" {
		if _, ok := s.limits[profile.Tier]; ok {
			tier = profile.Tier
		} else {
			log.Printf("quota user=%d unknown tier %q, using %q", userID, profile.Tier, s.defaultTier)
		}
	}

	period := repository.UsagePeriod(s.now())
	used, err := s.usage.Used(ctx, userID, period)
	if err != nil {
		return nil, err
	}
	limit := s.limits[tier]
	return &QuotaStatus{
		Tier:      tier,
		Period:    period,
		Used:      used,
		Limit:     limit,
		Unlimited: limit < 0,
	}, nil
}

func (s *QuotaService) CanSubmit(ctx context.Context, userID uint) (bool, error) {
	status, err := s.Status(ctx, userID)
	if err != nil {
		return false, err
	}
	return status.Unlimited || status.Used < status.Limit, nil
}

// IncrementUsage counts one committed capture. It runs on the commit's
// transaction so usage only moves when the commit does.
func (s *QuotaService) IncrementUsage(ctx context.Context, tx *gorm.DB, userID uint) error {
	return s.usage.WithTx(tx).Increment(ctx, userID, repository.UsagePeriod(s.now()))
}
