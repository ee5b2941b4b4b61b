package model

import "time"

// CaseProfile is the per-user case context fed into every extraction.
type CaseProfile struct {
	UserID       uint      `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	Jurisdiction string    `gorm:"size:128" json:"jurisdiction"`
	Role         string    `gorm:"size:64" json:"role"`
	Goals        string    `gorm:"type:text" json:"goals"`
	ChildNames   string    `gorm:"size:255" json:"child_names"`
	Timezone     string    `gorm:"size:64" json:"timezone"`
	Tier         string    `gorm:"size:32" json:"tier"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UsageCounter counts committed captures per user per calendar month ("2006-01").
type UsageCounter struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index:idx_usage_user_period,unique,priority:1" json:"user_id"`
	Period    string    `gorm:"size:7;not null;index:idx_usage_user_period,unique,priority:2" json:"period"`
	Used      int       `gorm:"not null;default:0" json:"used"`
	UpdatedAt time.Time `json:"updated_at"`
}

// All lists every model the service migrates.
func All() []interface{} {
	return []interface{}{
		&CaptureSession{},
		&EvidenceItem{},
		&TimelineEvent{},
		&EvidenceLink{},
		&Pattern{},
		&EventPattern{},
		&ActionItem{},
		&CaseProfile{},
		&UsageCounter{},
	}
}
