package model

import "time"

// CaptureCommittedEvent is published once a capture session's commit transaction succeeds.
type CaptureCommittedEvent struct {
	SessionID     uint      `json:"session_id"`
	UserID        uint      `json:"user_id"`
	EventIDs      []uint    `json:"event_ids"`
	ActionItemIDs []uint    `json:"action_item_ids"`
	CommittedAt   time.Time `json:"committed_at"`
}
