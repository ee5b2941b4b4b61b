package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"custodytrail/internal/model"
	"custodytrail/internal/repository"
)

type LinkPolicy string

const (
	// LinkSession links every evidence item of the session to every event.
	LinkSession LinkPolicy = "session"
	// LinkMentioned links an event only to the items it cites.
	LinkMentioned LinkPolicy = "mentioned"
)

// CommitResult is persisted on the session as its committed marker and
// returned unchanged to every later confirm.
type CommitResult struct {
	SessionID           uint      `json:"session_id"`
	CommitID            string    `json:"commit_id"`
	EventIDs            []uint    `json:"event_ids"`
	LinkedEvidenceCount int       `json:"linked_evidence_count"`
	PatternIDs          []uint    `json:"pattern_ids"`
	ActionItemIDs       []uint    `json:"action_item_ids"`
	CommittedAt         time.Time `json:"committed_at"`
	AlreadyCommitted    bool      `json:"already_committed"`
}

var errCommitRaceLost = errors.New("session left review before commit")

type CommitService struct {
	db        *gorm.DB
	sessions  *repository.CaptureSessionRepository
	evidence  *repository.EvidenceRepository
	timeline  *repository.TimelineRepository
	profiles  *repository.CaseProfileRepository
	quota     *QuotaService
	publisher CommitPublisher
	cache     TimelineCache
	policy    LinkPolicy
	validate  *validator.Validate
	defaultTZ *time.Location
	now       func() time.Time
}

func NewCommitService(
	db *gorm.DB,
	quota *QuotaService,
	publisher CommitPublisher,
	cache TimelineCache,
	policy LinkPolicy,
	defaultTZ *time.Location,
) *CommitService {
	if policy == "" {
		policy = LinkSession
	}
	if defaultTZ == nil {
		defaultTZ = time.UTC
	}
	return &CommitService{
		db:        db,
		sessions:  repository.NewCaptureSessionRepository(db),
		evidence:  repository.NewEvidenceRepository(db),
		timeline:  repository.NewTimelineRepository(db),
		profiles:  repository.NewCaseProfileRepository(db),
		quota:     quota,
		publisher: publisher,
		cache:     cache,
		policy:    policy,
		validate:  newValidator(),
		defaultTZ: defaultTZ,
		now:       time.Now,
	}
}

// Commit turns the session's validated extraction into timeline rows exactly
// once. The first write of the transaction is the review -> completed swap, so
// a concurrent or repeated commit either finds the stored result or rolls back
// without leaving rows behind.
func (s *CommitService) Commit(ctx context.Context, userID, sessionID uint) (*CommitResult, error) {
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
	if session.Status == model.CaptureStatusCompleted {
		return storedCommitResult(session)
	}
	if session.Status != model.CaptureStatusReview {
		return nil, transitionError(session.Status, model.CaptureStatusCompleted)
	}

	extraction, err := decodeStrict[ExtractionResult](string(session.ExtractionResult), s.validate)
	if err != nil {
		log.Printf("commit session=%d stored extraction invalid: %v", sessionID, err)
		return nil, fmt.Errorf("%w: stored extraction is invalid", ErrCommitFailed)
	}
	if len(extraction.Events) == 0 {
		return nil, ErrNothingToCommit
	}

	loc := s.userLocation(ctx, userID)
	committedAt := s.now().UTC()
	result := &CommitResult{
		SessionID:   sessionID,
		CommitID:    uuid.NewString(),
		CommittedAt: committedAt,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.sessions.WithTx(tx).Transition(ctx, sessionID, userID,
			model.CaptureStatusReview, model.CaptureStatusCompleted,
			map[string]interface{}{"completed_at": &committedAt, "processing_error": nil})
		if err != nil {
			return err
		}
		if !ok {
			return errCommitRaceLost
		}
		if err := s.writeRows(ctx, tx, userID, sessionID, extraction, loc, result); err != nil {
			return err
		}
		if err := s.quota.IncrementUsage(ctx, tx, userID); err != nil {
			return err
		}

		marker, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal commit result failed: %w", err)
		}
		if _, err := s.sessions.WithTx(tx).UpdateFields(ctx, sessionID, userID,
			model.CaptureStatusCompleted, map[string]interface{}{"commit_result": marker}); err != nil {
			return err
		}
		return nil
	})
	if errors.Is(err, errCommitRaceLost) {
		return s.resolveLostRace(ctx, userID, sessionID)
	}
	if err != nil {
		log.Printf("commit session=%d user=%d rolled back: %v", sessionID, userID, err)
		return nil, fmt.Errorf("%w: %v", ErrCommitFailed, err)
	}

	log.Printf("commit session=%d user=%d events=%d links=%d action_items=%d",
		sessionID, userID, len(result.EventIDs), result.LinkedEvidenceCount, len(result.ActionItemIDs))
	s.announce(ctx, userID, result)
	return result, nil
}

func (s *CommitService) writeRows(
	ctx context.Context,
	tx *gorm.DB,
	userID, sessionID uint,
	extraction *ExtractionResult,
	loc *time.Location,
	result *CommitResult,
) error {
	timeline := s.timeline.WithTx(tx)
	items, err := s.evidence.WithTx(tx).ListBySessionID(ctx, sessionID, userID)
	if err != nil {
		return err
	}

	eventIDs := make([]uint, 0, len(extraction.Events))
	for i := range extraction.Events {
		event := timelineEventFrom(userID, sessionID, i, &extraction.Events[i], loc)
		if err := timeline.CreateEvent(ctx, event); err != nil {
			return err
		}
		eventIDs = append(eventIDs, event.ID)
	}
	result.EventIDs = eventIDs

	links := buildEvidenceLinks(s.policy, userID, eventIDs, extraction.Events, items)
	if err := timeline.CreateEvidenceLinks(ctx, links); err != nil {
		return err
	}
	linked := make(map[uint]struct{}, len(items))
	for _, l := range links {
		linked[l.EvidenceID] = struct{}{}
	}
	result.LinkedEvidenceCount = len(linked)

	patternIDs := map[string]uint{}
	var eventPatterns []model.EventPattern
	for i, ev := range extraction.Events {
		for _, p := range ev.Patterns {
			if p.Key == "" {
				continue
			}
			id, ok := patternIDs[p.Key]
			if !ok {
				pattern, err := timeline.UpsertPattern(ctx, userID, p.Key, p.Label)
				if err != nil {
					return err
				}
				id = pattern.ID
				patternIDs[p.Key] = id
				result.PatternIDs = append(result.PatternIDs, id)
			}
			eventPatterns = append(eventPatterns, model.EventPattern{EventID: eventIDs[i], PatternID: id})
		}
	}
	if err := timeline.LinkPatterns(ctx, eventPatterns); err != nil {
		return err
	}

	actionItems := make([]model.ActionItem, 0, len(extraction.ActionItems))
	for _, a := range extraction.ActionItems {
		item := model.ActionItem{
			UserID:           userID,
			CaptureSessionID: sessionID,
			Priority:         a.Priority,
			Type:             a.Type,
			Description:      a.Description,
			Status:           model.ActionItemOpen,
		}
		if a.RelatedEventIndex != nil {
			eventID := eventIDs[*a.RelatedEventIndex]
			item.EventID = &eventID
		}
		if a.Deadline != nil {
			if d, err := time.ParseInLocation("2006-01-02", *a.Deadline, loc); err == nil {
				item.Deadline = &d
			}
		}
		actionItems = append(actionItems, item)
	}
	if err := timeline.CreateActionItems(ctx, actionItems); err != nil {
		return err
	}
	result.ActionItemIDs = make([]uint, 0, len(actionItems))
	for _, item := range actionItems {
		result.ActionItemIDs = append(result.ActionItemIDs, item.ID)
	}
	return nil
}

func timelineEventFrom(userID, sessionID uint, ordinal int, ev *ExtractedEvent, loc *time.Location) *model.TimelineEvent {
	event := &model.TimelineEvent{
		UserID:              userID,
		CaptureSessionID:    sessionID,
		Ordinal:             ordinal,
		Type:                model.EventType(ev.Type),
		Title:               ev.Title,
		Description:         ev.Description,
		TimestampPrecision:  model.TimestampPrecision(ev.TimestampPrecision),
		PrimaryParticipants: model.StringList(ev.Participants.Primary),
		Witnesses:           model.StringList(ev.Participants.Witnesses),
		Professionals:       model.StringList(ev.Participants.Professionals),
		ChildInvolved:       ev.ChildInvolved,
		AgreementViolation:  ev.CustodyRelevance.AgreementViolation,
		SafetyConcern:       ev.CustodyRelevance.SafetyConcern,
		WelfareImpact:       model.WelfareImpact(ev.CustodyRelevance.WelfareImpact),
	}
	if ev.Timestamp != nil {
		if t, _, ok := parseTimestamp(*ev.Timestamp, loc); ok {
			utc := t.UTC()
			event.OccurredAt = &utc
		}
	}
	if ev.Duration != nil {
		event.Duration = *ev.Duration
	}
	if ev.Location != nil {
		event.Location = *ev.Location
	}
	return event
}

// buildEvidenceLinks applies the link policy. An item an event cites is its
// primary evidence under either policy.
func buildEvidenceLinks(
	policy LinkPolicy,
	userID uint,
	eventIDs []uint,
	events []ExtractedEvent,
	items []model.EvidenceItem,
) []model.EvidenceLink {
	byLabel := make(map[string]uint, len(items))
	for i := range items {
		byLabel[items[i].Label()] = items[i].ID
	}

	var links []model.EvidenceLink
	for i, ev := range events {
		cited := map[uint]bool{}
		for _, label := range ev.EvidenceMentions {
			if id, ok := byLabel[label]; ok {
				cited[id] = true
			}
		}
		for j := range items {
			id := items[j].ID
			if policy == LinkMentioned && !cited[id] {
				continue
			}
			links = append(links, model.EvidenceLink{
				UserID:     userID,
				EventID:    eventIDs[i],
				EvidenceID: id,
				IsPrimary:  cited[id],
			})
		}
	}
	return links
}

func (s *CommitService) resolveLostRace(ctx context.Context, userID, sessionID uint) (*CommitResult, error) {
	session, err := s.sessions.GetByIDAndUserID(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	if session.Status == model.CaptureStatusCompleted {
		return storedCommitResult(session)
	}
	return nil, transitionError(session.Status, model.CaptureStatusCompleted)
}

func storedCommitResult(session *model.CaptureSession) (*CommitResult, error) {
	if len(session.CommitResult) == 0 {
		return nil, fmt.Errorf("%w: completed session %d has no commit result", ErrCommitFailed, session.ID)
	}
	var result CommitResult
	if err := json.Unmarshal(session.CommitResult, &result); err != nil {
		return nil, fmt.Errorf("%w: decode commit result: %v", ErrCommitFailed, err)
	}
	result.AlreadyCommitted = true
	return &result, nil
}

// announce runs after the transaction; the committed rows stand whether or
// not the event goes out.
func (s *CommitService) announce(ctx context.Context, userID uint, result *CommitResult) {
	if s.publisher != nil {
		err := s.publisher.PublishCommitted(ctx, model.CaptureCommittedEvent{
			SessionID:     result.SessionID,
			UserID:        userID,
			EventIDs:      result.EventIDs,
			ActionItemIDs: result.ActionItemIDs,
			CommittedAt:   result.CommittedAt,
		})
		if err == nil {
			return
		}
		log.Printf("commit session=%d publish event failed: %v", result.SessionID, err)
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, userID); err != nil {
			log.Printf("commit session=%d invalidate timeline cache failed: %v", result.SessionID, err)
		}
	}
}

func (s *CommitService) userLocation(ctx context.Context, userID uint) *time.Location {
	profile, err := s.profiles.GetByUserID(ctx, userID)
	if err != nil {
		log.Printf("commit user=%d load profile failed: %v", userID, err)
		return s.defaultTZ
	}
	return profileLocation(profile, s.defaultTZ)
}
