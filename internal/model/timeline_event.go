package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

type EventType string

const (
	EventTypeIncident      EventType = "incident"
	EventTypePositive      EventType = "positive"
	EventTypeMedical       EventType = "medical"
	EventTypeSchool        EventType = "school"
	EventTypeCommunication EventType = "communication"
	EventTypeLegal         EventType = "legal"
)

type TimestampPrecision string

const (
	PrecisionExact       TimestampPrecision = "exact"
	PrecisionDay         TimestampPrecision = "day"
	PrecisionApproximate TimestampPrecision = "approximate"
	PrecisionUnknown     TimestampPrecision = "unknown"
)

type WelfareImpact string

const (
	WelfareImpactPositive WelfareImpact = "positive"
	WelfareImpactNegative WelfareImpact = "negative"
	WelfareImpactNone     WelfareImpact = "none"
	WelfareImpactUnknown  WelfareImpact = "unknown"
)

// TimelineEvent is written only by a capture commit. The (session, ordinal)
// pair is unique so a replayed commit cannot insert the same event twice.
type TimelineEvent struct {
	ID                  uint               `gorm:"primaryKey" json:"id"`
	UserID              uint               `gorm:"not null;index" json:"user_id"`
	CaptureSessionID    uint               `gorm:"not null;index:idx_event_session_ordinal,unique,priority:1" json:"capture_session_id"`
	Ordinal             int                `gorm:"not null;index:idx_event_session_ordinal,unique,priority:2" json:"ordinal"`
	Type                EventType          `gorm:"size:32;not null;index" json:"type"`
	Title               string             `gorm:"size:255;not null" json:"title"`
	Description         string             `gorm:"type:text;not null" json:"description"`
	OccurredAt          *time.Time         `gorm:"index" json:"occurred_at,omitempty"`
	TimestampPrecision  TimestampPrecision `gorm:"size:16;not null" json:"timestamp_precision"`
	Duration            string             `gorm:"size:64" json:"duration,omitempty"`
	Location            string             `gorm:"size:255" json:"location,omitempty"`
	PrimaryParticipants datatypes.JSON     `json:"primary_participants"`
	Witnesses           datatypes.JSON     `json:"witnesses"`
	Professionals       datatypes.JSON     `json:"professionals"`
	ChildInvolved       bool               `gorm:"not null" json:"child_involved"`
	AgreementViolation  *bool              `json:"agreement_violation"`
	SafetyConcern       *bool              `json:"safety_concern"`
	WelfareImpact       WelfareImpact      `gorm:"size:16;not null" json:"welfare_impact"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`

	EvidenceLinks []EvidenceLink `gorm:"foreignKey:EventID" json:"evidence_links,omitempty"`
	Patterns      []Pattern      `gorm:"many2many:event_patterns;joinForeignKey:EventID;joinReferences:PatternID" json:"patterns,omitempty"`
}

// EvidenceLink ties an evidence item to a timeline event.
type EvidenceLink struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     uint      `gorm:"not null;index" json:"user_id"`
	EventID    uint      `gorm:"not null;index:idx_evidence_link_pair,unique,priority:1" json:"event_id"`
	EvidenceID uint      `gorm:"not null;index:idx_evidence_link_pair,unique,priority:2" json:"evidence_id"`
	IsPrimary  bool      `gorm:"not null;default:false" json:"is_primary"`
	CreatedAt  time.Time `json:"created_at"`
}

// Pattern is a recurring behaviour label, unique per user by Key.
type Pattern struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index:idx_pattern_user_key,unique,priority:1" json:"user_id"`
	Key       string    `gorm:"size:128;not null;index:idx_pattern_user_key,unique,priority:2" json:"key"`
	Label     string    `gorm:"size:255;not null" json:"label"`
	CreatedAt time.Time `json:"created_at"`
}

type EventPattern struct {
	EventID   uint      `gorm:"primaryKey" json:"event_id"`
	PatternID uint      `gorm:"primaryKey" json:"pattern_id"`
	CreatedAt time.Time `json:"created_at"`
}

type ActionItemStatus string

const (
	ActionItemOpen ActionItemStatus = "open"
	ActionItemDone ActionItemStatus = "done"
)

type ActionItem struct {
	ID               uint             `gorm:"primaryKey" json:"id"`
	UserID           uint             `gorm:"not null;index" json:"user_id"`
	CaptureSessionID uint             `gorm:"not null;index" json:"capture_session_id"`
	EventID          *uint            `gorm:"index" json:"event_id,omitempty"`
	Priority         string           `gorm:"size:16;not null" json:"priority"`
	Type             string           `gorm:"size:32;not null" json:"type"`
	Description      string           `gorm:"type:text;not null" json:"description"`
	Deadline         *time.Time       `json:"deadline,omitempty"`
	Status           ActionItemStatus `gorm:"size:16;not null" json:"status"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// StringList encodes names for the participant columns; nil becomes [].
func StringList(values []string) datatypes.JSON {
	if values == nil {
		values = []string{}
	}
	raw, _ := json.Marshal(values)
	return datatypes.JSON(raw)
}
