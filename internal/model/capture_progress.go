package model

import "time"

type CaptureStage string

const (
	StageEvidence   CaptureStage = "evidence"
	StageExtracting CaptureStage = "extracting"
	StageReview     CaptureStage = "review"
	StageFailed     CaptureStage = "failed"
	StageCancelled  CaptureStage = "cancelled"
	StageCompleted  CaptureStage = "completed"
)

// CaptureProgress is the per-session processing record clients poll while a
// submission runs. It is addressed by session id, never shared across sessions.
type CaptureProgress struct {
	SessionID      uint         `json:"session_id"`
	UserID         uint         `json:"user_id"`
	Stage          CaptureStage `json:"stage"`
	EvidenceTotal  int          `json:"evidence_total"`
	EvidenceDone   int          `json:"evidence_done"`
	EvidenceFailed int          `json:"evidence_failed"`
	Message        string       `json:"message,omitempty"`
	UpdatedAt      time.Time    `json:"updated_at"`
}
