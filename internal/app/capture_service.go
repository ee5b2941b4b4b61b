package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/datatypes"

	"custodytrail/internal/model"
	"custodytrail/internal/repository"
)

const rollbackTimeout = 5 * time.Second

type Extractor interface {
	Extract(ctx context.Context, pc PromptContext) (*ExtractionResult, error)
}

type CaptureDeps struct {
	Sessions     *repository.CaptureSessionRepository
	Evidence     *repository.EvidenceRepository
	Profiles     *repository.CaseProfileRepository
	Processor    *EvidenceProcessor
	Extractor    Extractor
	Commits      *CommitService
	Quota        QuotaGate
	Progress     ProgressStore
	Blobs        BlobStore
	SignedURLTTL time.Duration
	DefaultTZ    *time.Location
}

// CaptureService is the capture session state machine. Every status change
// goes through a conditional update on the expected current status.
type CaptureService struct {
	sessions     *repository.CaptureSessionRepository
	evidence     *repository.EvidenceRepository
	profiles     *repository.CaseProfileRepository
	processor    *EvidenceProcessor
	extractor    Extractor
	commits      *CommitService
	quota        QuotaGate
	progress     ProgressStore
	blobs        BlobStore
	signedURLTTL time.Duration
	defaultTZ    *time.Location
	now          func() time.Time
}

func NewCaptureService(deps CaptureDeps) *CaptureService {
	if deps.DefaultTZ == nil {
		deps.DefaultTZ = time.UTC
	}
	if deps.SignedURLTTL <= 0 {
		deps.SignedURLTTL = 15 * time.Minute
	}
	return &CaptureService{
		sessions:     deps.Sessions,
		evidence:     deps.Evidence,
		profiles:     deps.Profiles,
		processor:    deps.Processor,
		extractor:    deps.Extractor,
		commits:      deps.Commits,
		quota:        deps.Quota,
		progress:     deps.Progress,
		blobs:        deps.Blobs,
		signedURLTTL: deps.SignedURLTTL,
		defaultTZ:    deps.DefaultTZ,
		now:          time.Now,
	}
}

type CreateCaptureInput struct {
	UserID        uint
	NarrativeText string
	ReferenceDate *time.Time
	TimeOfDay     string
}

type UpdateNarrativeInput struct {
	UserID        uint
	SessionID     uint
	NarrativeText string
	ReferenceDate *time.Time
	TimeOfDay     string
}

type AttachEvidenceInput struct {
	UserID      uint
	SessionID   uint
	SourceType  model.EvidenceSourceType
	FileName    string
	ContentType string
	Annotation  string
	Content     []byte
}

type EvidenceView struct {
	model.EvidenceItem
	Label       string `json:"label"`
	DownloadURL string `json:"download_url,omitempty"`
}

type CaptureDetail struct {
	Session    *model.CaptureSession `json:"session"`
	Extraction *ExtractionResult     `json:"extraction,omitempty"`
	Evidence   []EvidenceView        `json:"evidence"`
}

type SubmitResult struct {
	Session    *model.CaptureSession `json:"session"`
	Extraction *ExtractionResult     `json:"extraction"`
	Evidence   *EvidenceReport       `json:"evidence"`
}

func (s *CaptureService) CreateCapture(ctx context.Context, in CreateCaptureInput) (*model.CaptureSession, error) {
	if in.UserID == 0 {
		return nil, ErrInvalidInput
	}
	session := &model.CaptureSession{
		UserID:        in.UserID,
		NarrativeText: in.NarrativeText,
		ReferenceDate: in.ReferenceDate,
		TimeOfDay:     strings.TrimSpace(in.TimeOfDay),
		Status:        model.CaptureStatusDraft,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *CaptureService) GetCapture(ctx context.Context, userID, sessionID uint) (*CaptureDetail, error) {
	session, err := s.loadSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	items, err := s.evidence.ListBySessionID(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}

	detail := &CaptureDetail{Session: session, Evidence: make([]EvidenceView, 0, len(items))}
	if len(session.ExtractionResult) > 0 {
		var extraction ExtractionResult
		if err := json.Unmarshal(session.ExtractionResult, &extraction); err == nil {
			detail.Extraction = &extraction
		}
	}
	for i := range items {
		view := EvidenceView{EvidenceItem: items[i], Label: items[i].Label()}
		if items[i].StorageRef != "" && s.blobs != nil {
			url, err := s.blobs.SignedURL(ctx, items[i].StorageRef, s.signedURLTTL)
			if err != nil {
				log.Printf("capture session=%d sign evidence=%d url failed: %v", sessionID, items[i].ID, err)
			} else {
				view.DownloadURL = url
			}
		}
		detail.Evidence = append(detail.Evidence, view)
	}
	return detail, nil
}

func (s *CaptureService) ListCaptures(ctx context.Context, userID uint, status model.CaptureStatus, limit int) ([]model.CaptureSession, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	return s.sessions.ListByUserID(ctx, userID, status, limit)
}

// UpdateNarrative edits a draft. Sessions past draft keep their narrative;
// a completed session's extraction is an immutable snapshot.
func (s *CaptureService) UpdateNarrative(ctx context.Context, in UpdateNarrativeInput) (*model.CaptureSession, error) {
	fields := map[string]interface{}{
		"narrative_text": in.NarrativeText,
		"reference_date": in.ReferenceDate,
		"time_of_day":    strings.TrimSpace(in.TimeOfDay),
	}
	ok, err := s.sessions.UpdateFields(ctx, in.SessionID, in.UserID, model.CaptureStatusDraft, fields)
	if err != nil {
		return nil, err
	}
	session, err := s.loadSession(ctx, in.UserID, in.SessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: narrative is read-only while %s", ErrInvalidTransition, session.Status)
	}
	return session, nil
}

func (s *CaptureService) AttachEvidence(ctx context.Context, in AttachEvidenceInput) (*model.EvidenceItem, error) {
	if !in.SourceType.Valid() {
		return nil, fmt.Errorf("%w: unknown evidence source type %q", ErrInvalidInput, in.SourceType)
	}
	if len(in.Content) == 0 && strings.TrimSpace(in.Annotation) == "" {
		return nil, fmt.Errorf("%w: evidence needs content or an annotation", ErrInvalidInput)
	}
	session, err := s.loadSession(ctx, in.UserID, in.SessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != model.CaptureStatusDraft {
		return nil, fmt.Errorf("%w: evidence can only be attached to a draft", ErrInvalidTransition)
	}

	item := &model.EvidenceItem{
		UserID:           in.UserID,
		CaptureSessionID: session.ID,
		SourceType:       in.SourceType,
		FileName:         in.FileName,
		ContentType:      in.ContentType,
		StagedContent:    in.Content,
		Annotation:       strings.TrimSpace(in.Annotation),
	}
	if err := s.evidence.Create(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// ReprocessEvidence re-runs one item of a draft. Already processed items are
// left alone unless force is set.
func (s *CaptureService) ReprocessEvidence(ctx context.Context, userID, itemID uint, force bool) (*model.EvidenceItem, error) {
	item, err := s.evidence.GetByIDAndUserID(ctx, itemID, userID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, ErrEvidenceNotFound
	}
	session, err := s.loadSession(ctx, userID, item.CaptureSessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != model.CaptureStatusDraft {
		return nil, fmt.Errorf("%w: evidence can only be re-processed on a draft", ErrInvalidTransition)
	}
	updated, outcome, err := s.processor.ProcessItem(ctx, userID, itemID, force)
	if err != nil {
		return nil, err
	}
	if outcome.Error != "" {
		return updated, fmt.Errorf("%w: %s", ErrEvidenceProcessing, outcome.Error)
	}
	return updated, nil
}

// Submit moves a draft through evidence processing and extraction. It returns
// the extraction for review, or reverts the session to draft with the error
// category recorded. The quota check runs before anything changes.
func (s *CaptureService) Submit(ctx context.Context, userID, sessionID uint) (*SubmitResult, error) {
	session, err := s.loadSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != model.CaptureStatusDraft {
		return nil, transitionError(session.Status, model.CaptureStatusProcessing)
	}
	if strings.TrimSpace(session.NarrativeText) == "" {
		return nil, ErrNarrativeEmpty
	}
	allowed, err := s.quota.CanSubmit(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, ErrQuotaExceeded
	}

	ok, err := s.sessions.Transition(ctx, sessionID, userID,
		model.CaptureStatusDraft, model.CaptureStatusProcessing,
		map[string]interface{}{"processing_error": nil})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.transitionConflict(ctx, userID, sessionID, model.CaptureStatusProcessing)
	}
	s.setProgress(ctx, model.CaptureProgress{SessionID: sessionID, UserID: userID, Stage: model.StageEvidence})

	report, err := s.processor.ProcessSession(ctx, userID, sessionID, false, func(done, failed, total int) {
		s.setProgress(ctx, model.CaptureProgress{
			SessionID:      sessionID,
			UserID:         userID,
			Stage:          model.StageEvidence,
			EvidenceTotal:  total,
			EvidenceDone:   done,
			EvidenceFailed: failed,
		})
	})
	if err != nil {
		return nil, s.revertToDraft(ctx, userID, sessionID, fmt.Errorf("%w: %v", ErrEvidenceProcessing, err))
	}

	// A cancel during evidence processing ends the flow before the paid call.
	if stale, err := s.isStale(ctx, userID, sessionID); err != nil {
		return nil, s.revertToDraft(ctx, userID, sessionID, err)
	} else if stale {
		log.Printf("capture session=%d cancelled during evidence processing", sessionID)
		return nil, ErrStaleResult
	}
	s.setProgress(ctx, model.CaptureProgress{
		SessionID:      sessionID,
		UserID:         userID,
		Stage:          model.StageExtracting,
		EvidenceTotal:  report.Total,
		EvidenceDone:   report.Total,
		EvidenceFailed: report.Failed,
	})

	pc, err := s.promptContext(ctx, session)
	if err != nil {
		return nil, s.revertToDraft(ctx, userID, sessionID, err)
	}
	extraction, err := s.extractor.Extract(ctx, pc)
	if err != nil {
		return nil, s.revertToDraft(ctx, userID, sessionID, err)
	}

	raw, err := json.Marshal(extraction)
	if err != nil {
		return nil, s.revertToDraft(ctx, userID, sessionID, fmt.Errorf("%w: %v", ErrExtractionSchema, err))
	}
	processedAt := s.now().UTC()
	ok, err = s.sessions.Transition(ctx, sessionID, userID,
		model.CaptureStatusProcessing, model.CaptureStatusReview,
		map[string]interface{}{
			"extraction_result": datatypes.JSON(raw),
			"processing_error":  nil,
			"processed_at":      &processedAt,
		})
	if err != nil {
		return nil, s.revertToDraft(ctx, userID, sessionID, err)
	}
	if !ok {
		log.Printf("capture session=%d extraction arrived after the session left processing; discarded", sessionID)
		return nil, ErrStaleResult
	}
	s.setProgress(ctx, model.CaptureProgress{
		SessionID:      sessionID,
		UserID:         userID,
		Stage:          model.StageReview,
		EvidenceTotal:  report.Total,
		EvidenceDone:   report.Total,
		EvidenceFailed: report.Failed,
	})

	updated, err := s.loadSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	return &SubmitResult{Session: updated, Extraction: extraction, Evidence: report}, nil
}

// Confirm commits the reviewed extraction. Repeated confirms return the first
// commit's identifiers.
func (s *CaptureService) Confirm(ctx context.Context, userID, sessionID uint) (*CommitResult, error) {
	result, err := s.commits.Commit(ctx, userID, sessionID)
	if err != nil {
		if errors.Is(err, ErrCommitFailed) {
			if _, uerr := s.sessions.UpdateFields(ctx, sessionID, userID, model.CaptureStatusReview,
				map[string]interface{}{"processing_error": UserMessage(err)}); uerr != nil {
				log.Printf("capture session=%d record commit failure failed: %v", sessionID, uerr)
			}
		}
		return nil, err
	}
	if !result.AlreadyCommitted {
		s.setProgress(ctx, model.CaptureProgress{SessionID: sessionID, UserID: userID, Stage: model.StageCompleted})
	}
	return result, nil
}

// Cancel moves any non-terminal session to cancelled. An in-flight submit
// finds the session gone from processing and discards its result.
func (s *CaptureService) Cancel(ctx context.Context, userID, sessionID uint) (*model.CaptureSession, error) {
	for attempt := 0; attempt < 3; attempt++ {
		session, err := s.loadSession(ctx, userID, sessionID)
		if err != nil {
			return nil, err
		}
		if session.Status.IsTerminal() {
			return nil, fmt.Errorf("%w: capture is already %s", ErrInvalidTransition, session.Status)
		}
		if !session.Status.CanTransitionTo(model.CaptureStatusCancelled) {
			return nil, transitionError(session.Status, model.CaptureStatusCancelled)
		}
		ok, err := s.sessions.Transition(ctx, sessionID, userID, session.Status, model.CaptureStatusCancelled, nil)
		if err != nil {
			return nil, err
		}
		if ok {
			s.setProgress(ctx, model.CaptureProgress{SessionID: sessionID, UserID: userID, Stage: model.StageCancelled})
			return s.loadSession(ctx, userID, sessionID)
		}
	}
	return nil, s.transitionConflict(ctx, userID, sessionID, model.CaptureStatusCancelled)
}

// DiscardExtraction drops a reviewed result and reopens the draft for edits.
func (s *CaptureService) DiscardExtraction(ctx context.Context, userID, sessionID uint) (*model.CaptureSession, error) {
	ok, err := s.sessions.Transition(ctx, sessionID, userID,
		model.CaptureStatusReview, model.CaptureStatusDraft,
		map[string]interface{}{"extraction_result": nil, "processing_error": nil})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.transitionConflict(ctx, userID, sessionID, model.CaptureStatusDraft)
	}
	return s.loadSession(ctx, userID, sessionID)
}

// GetProgress returns the live progress record, or one derived from the
// session status when none is held.
func (s *CaptureService) GetProgress(ctx context.Context, userID, sessionID uint) (*model.CaptureProgress, error) {
	session, err := s.loadSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if s.progress != nil {
		progress, found, err := s.progress.GetProgress(ctx, sessionID)
		if err != nil {
			log.Printf("capture session=%d read progress failed: %v", sessionID, err)
		} else if found && progress.UserID == userID {
			return progress, nil
		}
	}
	return progressFromSession(session), nil
}

func progressFromSession(session *model.CaptureSession) *model.CaptureProgress {
	p := &model.CaptureProgress{SessionID: session.ID, UserID: session.UserID, UpdatedAt: session.UpdatedAt}
	switch session.Status {
	case model.CaptureStatusProcessing:
		p.Stage = model.StageExtracting
	case model.CaptureStatusReview:
		p.Stage = model.StageReview
	case model.CaptureStatusCompleted:
		p.Stage = model.StageCompleted
	case model.CaptureStatusCancelled:
		p.Stage = model.StageCancelled
	default:
		p.Stage = model.StageEvidence
		if session.ProcessingError != nil {
			p.Stage = model.StageFailed
			p.Message = *session.ProcessingError
		}
	}
	return p
}

func (s *CaptureService) promptContext(ctx context.Context, session *model.CaptureSession) (PromptContext, error) {
	profile, err := s.profiles.GetByUserID(ctx, session.UserID)
	if err != nil {
		return PromptContext{}, err
	}
	items, err := s.evidence.ListBySessionID(ctx, session.ID, session.UserID)
	if err != nil {
		return PromptContext{}, err
	}
	in := NarrativeInput{
		Narrative:     session.NarrativeText,
		ReferenceDate: session.ReferenceDate,
		TimeOfDay:     session.TimeOfDay,
		Location:      profileLocation(profile, s.defaultTZ),
		Now:           s.now(),
		Evidence:      items,
	}
	if profile != nil {
		in.Case = &CaseContext{
			Jurisdiction: profile.Jurisdiction,
			Role:         profile.Role,
			Goals:        profile.Goals,
			ChildNames:   profile.ChildNames,
		}
	}
	return NormalizeNarrative(in)
}

// revertToDraft records the user-facing category and returns cause. If the
// session already left processing the result is stale and nothing is written.
// The rollback runs detached from ctx so a disconnected caller cannot leave
// the session stuck in processing.
func (s *CaptureService) revertToDraft(ctx context.Context, userID, sessionID uint, cause error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()
	log.Printf("capture session=%d user=%d processing failed: %v", sessionID, userID, cause)
	message := UserMessage(cause)
	processedAt := s.now().UTC()
	ok, err := s.sessions.Transition(ctx, sessionID, userID,
		model.CaptureStatusProcessing, model.CaptureStatusDraft,
		map[string]interface{}{"processing_error": message, "processed_at": &processedAt})
	if err != nil {
		log.Printf("capture session=%d revert to draft failed: %v", sessionID, err)
		return cause
	}
	if !ok {
		return ErrStaleResult
	}
	s.setProgress(ctx, model.CaptureProgress{SessionID: sessionID, UserID: userID, Stage: model.StageFailed, Message: message})
	return cause
}

func (s *CaptureService) isStale(ctx context.Context, userID, sessionID uint) (bool, error) {
	session, err := s.loadSession(ctx, userID, sessionID)
	if err != nil {
		return false, err
	}
	return session.Status != model.CaptureStatusProcessing, nil
}

func (s *CaptureService) transitionConflict(ctx context.Context, userID, sessionID uint, to model.CaptureStatus) error {
	session, err := s.loadSession(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	return transitionError(session.Status, to)
}

func (s *CaptureService) loadSession(ctx context.Context, userID, sessionID uint) (*model.CaptureSession, error) {
	if userID == 0 || sessionID == 0 {
		return nil, ErrInvalidInput
	}
	session, err := s.sessions.GetByIDAndUserID(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

func (s *CaptureService) setProgress(ctx context.Context, progress model.CaptureProgress) {
	if s.progress == nil {
		return
	}
	progress.UpdatedAt = s.now().UTC()
	if err := s.progress.SetProgress(ctx, progress); err != nil {
		log.Printf("capture session=%d write progress failed: %v", progress.SessionID, err)
	}
}

func profileLocation(profile *model.CaseProfile, fallback *time.Location) *time.Location {
	if profile == nil || profile.Timezone == "" {
		return fallback
	}
	loc, err := time.LoadLocation(profile.Timezone)
	if err != nil {
		log.Printf("case profile user=%d has unknown timezone %q", profile.UserID, profile.Timezone)
		return fallback
	}
	return loc
}
