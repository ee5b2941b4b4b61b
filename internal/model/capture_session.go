package model

import (
	"time"

	"gorm.io/datatypes"
)

type CaptureStatus string

const (
	CaptureStatusDraft      CaptureStatus = "draft"
	CaptureStatusProcessing CaptureStatus = "processing"
	CaptureStatusReview     CaptureStatus = "review"
	CaptureStatusCompleted  CaptureStatus = "completed"
	CaptureStatusCancelled  CaptureStatus = "cancelled"
)

// captureTransitions lists every legal edge of the capture state machine.
var captureTransitions = map[CaptureStatus][]CaptureStatus{
	CaptureStatusDraft:      {CaptureStatusProcessing, CaptureStatusCancelled},
	CaptureStatusProcessing: {CaptureStatusReview, CaptureStatusDraft, CaptureStatusCancelled},
	CaptureStatusReview:     {CaptureStatusCompleted, CaptureStatusDraft, CaptureStatusCancelled},
}

func (s CaptureStatus) Valid() bool {
	switch s {
	case CaptureStatusDraft, CaptureStatusProcessing, CaptureStatusReview, CaptureStatusCompleted, CaptureStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is reachable from s in a single step.
func (s CaptureStatus) CanTransitionTo(next CaptureStatus) bool {
	for _, candidate := range captureTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

func (s CaptureStatus) IsTerminal() bool {
	return s == CaptureStatusCompleted || s == CaptureStatusCancelled
}

// CaptureSession is one narrative on its way to committed timeline events.
// ExtractionResult holds the last schema-valid extraction; once the session is
// completed it is never rewritten. CommitResult is the persisted committed marker.
type CaptureSession struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	UserID           uint           `gorm:"not null;index" json:"user_id"`
	NarrativeText    string         `gorm:"type:text;not null" json:"narrative_text"`
	ReferenceDate    *time.Time     `json:"reference_date,omitempty"`
	TimeOfDay        string         `gorm:"size:64" json:"time_of_day,omitempty"`
	Status           CaptureStatus  `gorm:"size:16;not null;index" json:"status"`
	ExtractionResult datatypes.JSON `json:"extraction_result,omitempty"`
	CommitResult     datatypes.JSON `json:"commit_result,omitempty"`
	ProcessingError  *string        `gorm:"type:text" json:"processing_error,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	ProcessedAt      *time.Time     `json:"processed_at,omitempty"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
}
