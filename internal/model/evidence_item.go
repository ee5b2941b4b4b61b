package model

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
)

type EvidenceSourceType string

const (
	EvidenceSourceText      EvidenceSourceType = "text"
	EvidenceSourceEmail     EvidenceSourceType = "email"
	EvidenceSourcePhoto     EvidenceSourceType = "photo"
	EvidenceSourceDocument  EvidenceSourceType = "document"
	EvidenceSourceRecording EvidenceSourceType = "recording"
	EvidenceSourceOther     EvidenceSourceType = "other"
)

func (t EvidenceSourceType) Valid() bool {
	switch t {
	case EvidenceSourceText, EvidenceSourceEmail, EvidenceSourcePhoto,
		EvidenceSourceDocument, EvidenceSourceRecording, EvidenceSourceOther:
		return true
	}
	return false
}

// EvidenceItem is one artifact attached to a capture session.
// StagedContent carries the uploaded bytes until the pre-processor has put
// them into blob storage and summarized them.
type EvidenceItem struct {
	ID               uint               `gorm:"primaryKey" json:"id"`
	UserID           uint               `gorm:"not null;index" json:"user_id"`
	CaptureSessionID uint               `gorm:"not null;index" json:"capture_session_id"`
	SourceType       EvidenceSourceType `gorm:"size:16;not null" json:"source_type"`
	FileName         string             `gorm:"size:255" json:"file_name,omitempty"`
	ContentType      string             `gorm:"size:128" json:"content_type,omitempty"`
	StorageRef       string             `gorm:"size:512" json:"storage_ref,omitempty"`
	StagedContent    []byte             `json:"-"`
	Annotation       string             `gorm:"type:text" json:"annotation"`
	Summary          *string            `gorm:"type:text" json:"summary,omitempty"`
	SummaryDetails   datatypes.JSON     `json:"summary_details,omitempty"`
	IsProcessed      bool               `gorm:"not null;default:false" json:"is_processed"`
	ProcessingError  *string            `gorm:"type:text" json:"processing_error,omitempty"`
	SortOrder        int                `gorm:"not null" json:"sort_order"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
	ProcessedAt      *time.Time         `json:"processed_at,omitempty"`
}

// Label is the citation handle used in prompts and evidence mentions.
func (e *EvidenceItem) Label() string {
	return fmt.Sprintf("E%d", e.SortOrder)
}
