package app

import (
	"context"
	"time"

	"custodytrail/internal/model"
)

// BlobStore holds raw evidence artifacts. Object paths are per-user prefixed.
type BlobStore interface {
	Put(ctx context.Context, objectPath string, data []byte) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
	SignedURL(ctx context.Context, ref string, ttl time.Duration) (string, error)
}

// PhotoLabeler gives coarse content hints for photo evidence.
type PhotoLabeler interface {
	Labels(imageData []byte) ([]string, error)
}

// ProgressStore keeps one progress record per capture session.
type ProgressStore interface {
	SetProgress(ctx context.Context, progress model.CaptureProgress) error
	GetProgress(ctx context.Context, sessionID uint) (*model.CaptureProgress, bool, error)
}

type CommitPublisher interface {
	PublishCommitted(ctx context.Context, event model.CaptureCommittedEvent) error
}

type TimelineCache interface {
	GetTimeline(ctx context.Context, userID uint, filterKey string) ([]model.TimelineEvent, bool, error)
	SetTimeline(ctx context.Context, userID uint, filterKey string, events []model.TimelineEvent) error
	Invalidate(ctx context.Context, userID uint) error
	IsDirty(ctx context.Context, userID uint) (bool, error)
}

// QuotaGate is consulted before any paid provider call.
type QuotaGate interface {
	CanSubmit(ctx context.Context, userID uint) (bool, error)
}
