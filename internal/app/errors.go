package app

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrNarrativeEmpty     = errors.New("narrative text is empty")
	ErrSessionNotFound    = errors.New("capture session not found")
	ErrEvidenceNotFound   = errors.New("evidence item not found")
	ErrInvalidTransition  = errors.New("invalid capture state transition")
	ErrQuotaExceeded      = errors.New("capture quota exceeded")
	ErrEvidenceProcessing = errors.New("evidence processing failed")
	ErrExtractionSchema   = errors.New("extraction result failed schema validation")
	ErrExtractionProvider = errors.New("extraction provider failed")
	ErrCommitFailed       = errors.New("capture commit failed")
	ErrNothingToCommit    = errors.New("extraction produced no events to commit")
	ErrStaleResult        = errors.New("capture session changed while processing; result discarded")
)

// User-facing categories. Internal detail never crosses this boundary.
const (
	MessageUploadFailed   = "upload failed"
	MessageAnalysisFailed = "analysis failed, please retry"
	MessageSaveFailed     = "save failed, please retry"
	MessageLimitReached   = "limit reached"
)

func transitionError(from, to interface{}) error {
	return fmt.Errorf("%w: %v -> %v", ErrInvalidTransition, from, to)
}

// UserMessage collapses any service error into the small set of messages shown to users.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrQuotaExceeded):
		return MessageLimitReached
	case errors.Is(err, ErrEvidenceProcessing):
		return MessageUploadFailed
	case errors.Is(err, ErrExtractionSchema), errors.Is(err, ErrExtractionProvider):
		return MessageAnalysisFailed
	case errors.Is(err, ErrCommitFailed):
		return MessageSaveFailed
	case errors.Is(err, ErrNarrativeEmpty):
		return ErrNarrativeEmpty.Error()
	case errors.Is(err, ErrNothingToCommit):
		return ErrNothingToCommit.Error()
	case errors.Is(err, ErrInvalidTransition):
		return "this capture can no longer be changed that way"
	case errors.Is(err, ErrStaleResult):
		return "this capture was cancelled"
	case errors.Is(err, ErrSessionNotFound):
		return ErrSessionNotFound.Error()
	case errors.Is(err, ErrEvidenceNotFound):
		return ErrEvidenceNotFound.Error()
	case errors.Is(err, ErrInvalidInput):
		return ErrInvalidInput.Error()
	}
	return "something went wrong, please retry"
}
