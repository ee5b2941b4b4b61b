package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"custodytrail/internal/ai"
	"custodytrail/internal/model"
	"custodytrail/internal/platform/database"
	"custodytrail/internal/repository"
)

const (
	summarySchemaName    = "evidence_summary"
	extractionSchemaName = "timeline_extraction"

	okSummary = `{"summary":"Text thread about pickup time.","keyFacts":["pickup moved to 5pm"],"datesMentioned":["Nov 19"],"peopleMentioned":["co-parent"]}`

	zeroEventExtraction = `{"events":[],"actionItems":[],"metadata":{"confidence":0.3,"ambiguities":["no concrete event described"]}}`
)

// extractionFixture returns a two-event extraction; mentions is spliced into
// the first event's evidenceMentions array.
func extractionFixture(mentions string) string {
	return fmt.Sprintf(`{
  "events": [
    {
      "type": "incident",
      "title": "Late pickup",
      "description": "Co-parent arrived 45 minutes late for the school pickup.",
      "timestamp": "2024-11-19T17:45",
      "timestampPrecision": "exact",
      "duration": null,
      "location": "Lincoln Elementary",
      "participants": {"primary": ["co-parent"], "witnesses": [], "professionals": []},
      "childInvolved": true,
      "custodyRelevance": {"agreementViolation": true, "safetyConcern": null, "welfareImpact": "negative"},
      "evidenceMentions": [%s],
      "patterns": [{"key": "Late Pickup", "label": "Late pickups"}]
    },
    {
      "type": "school",
      "title": "Teacher noted fatigue",
      "description": "Teacher said the child seemed very tired in class.",
      "timestamp": null,
      "timestampPrecision": "unknown",
      "duration": null,
      "location": null,
      "participants": {"primary": [], "witnesses": [], "professionals": ["Ms. Lee"]},
      "childInvolved": true,
      "custodyRelevance": {"agreementViolation": null, "safetyConcern": false, "welfareImpact": "unknown"},
      "evidenceMentions": [],
      "patterns": [{"key": "late_pickup", "label": "Late pickups"}]
    }
  ],
  "actionItems": [
    {"priority": "high", "type": "document", "description": "Obtain insurance card", "deadline": "2024-11-30", "relatedEventIndex": 0}
  ],
  "metadata": {"confidence": 0.8, "ambiguities": []}
}`, mentions)
}

type fakeCompleter struct {
	mu        sync.Mutex
	calls     map[string]int
	responses map[string]string
	errs      map[string]error
	onCall    func(schemaName string)
}

func newFakeCompleter() *fakeCompleter {
	return &fakeCompleter{
		calls: map[string]int{},
		responses: map[string]string{
			summarySchemaName:    okSummary,
			extractionSchemaName: extractionFixture(""),
		},
		errs: map[string]error{},
	}
}

func (f *fakeCompleter) CompleteJSON(_ context.Context, _ ai.ChatConfig, _ []ai.ChatMessage, schema ai.ResponseSchema) (string, error) {
	f.mu.Lock()
	f.calls[schema.Name]++
	hook := f.onCall
	resp, err := f.responses[schema.Name], f.errs[schema.Name]
	f.mu.Unlock()

	if hook != nil {
		hook(schema.Name)
	}
	if err != nil {
		return "", err
	}
	return resp, nil
}

func (f *fakeCompleter) set(schemaName, response string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[schemaName] = response
}

func (f *fakeCompleter) fail(schemaName string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[schemaName] = err
}

func (f *fakeCompleter) count(schemaName string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[schemaName]
}

type fakeBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	failOn  map[int]bool
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: map[string][]byte{}, failOn: map[int]bool{}}
}

func (f *fakeBlobStore) Put(_ context.Context, objectPath string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	if f.failOn[f.puts] {
		return "", errors.New("disk full")
	}
	ref := "mem://" + objectPath
	f.objects[ref] = append([]byte(nil), data...)
	return ref, nil
}

func (f *fakeBlobStore) Get(_ context.Context, ref string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[ref]
	if !ok {
		return nil, errors.New("no such object")
	}
	return data, nil
}

func (f *fakeBlobStore) SignedURL(_ context.Context, ref string, _ time.Duration) (string, error) {
	return "https://blobs.test/" + ref, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []model.CaptureCommittedEvent
}

func (f *fakePublisher) PublishCommitted(_ context.Context, event model.CaptureCommittedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

type memoryProgress struct {
	mu      sync.Mutex
	records map[uint]model.CaptureProgress
	history []model.CaptureStage
}

func newMemoryProgress() *memoryProgress {
	return &memoryProgress{records: map[uint]model.CaptureProgress{}}
}

func (m *memoryProgress) SetProgress(_ context.Context, p model.CaptureProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[p.SessionID] = p
	m.history = append(m.history, p.Stage)
	return nil
}

func (m *memoryProgress) GetProgress(_ context.Context, sessionID uint) (*model.CaptureProgress, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.records[sessionID]
	if !ok {
		return nil, false, nil
	}
	return &p, true, nil
}

type harness struct {
	db        *gorm.DB
	svc       *CaptureService
	llm       *fakeCompleter
	blobs     *fakeBlobStore
	publisher *fakePublisher
	progress  *memoryProgress
	profiles  *repository.CaseProfileRepository
	usage     *repository.UsageRepository
	evidence  *repository.EvidenceRepository
	sessions  *repository.CaptureSessionRepository
	timeline  *TimelineService
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(context.Background(), database.DriverSQLite, filepath.Join(t.TempDir(), "capture.db"))
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func newHarness(t *testing.T, policy LinkPolicy) *harness {
	t.Helper()
	db := newTestDB(t)

	h := &harness{
		db:        db,
		llm:       newFakeCompleter(),
		blobs:     newFakeBlobStore(),
		publisher: &fakePublisher{},
		progress:  newMemoryProgress(),
		profiles:  repository.NewCaseProfileRepository(db),
		usage:     repository.NewUsageRepository(db),
		evidence:  repository.NewEvidenceRepository(db),
		sessions:  repository.NewCaptureSessionRepository(db),
	}
	quota := NewQuotaService(h.profiles, h.usage, "free", map[string]int{"free": 10, "exhausted": 0, "premium": -1})
	commits := NewCommitService(db, quota, h.publisher, nil, policy, time.UTC)
	processor := NewEvidenceProcessor(h.evidence, h.blobs, h.llm, ai.ChatConfig{Model: "vision"}, nil, 1)
	h.svc = NewCaptureService(CaptureDeps{
		Sessions:  h.sessions,
		Evidence:  h.evidence,
		Profiles:  h.profiles,
		Processor: processor,
		Extractor: NewExtractionEngine(h.llm, ai.ChatConfig{Model: "extract"}),
		Commits:   commits,
		Quota:     quota,
		Progress:  h.progress,
		Blobs:     h.blobs,
	})
	h.timeline = NewTimelineService(repository.NewTimelineRepository(db), nil)
	return h
}

func (h *harness) newDraft(t *testing.T, userID uint, narrative string) *model.CaptureSession {
	t.Helper()
	ref := time.Date(2024, 11, 20, 0, 0, 0, 0, time.UTC)
	session, err := h.svc.CreateCapture(context.Background(), CreateCaptureInput{
		UserID:        userID,
		NarrativeText: narrative,
		ReferenceDate: &ref,
	})
	require.NoError(t, err)
	return session
}

func (h *harness) attachText(t *testing.T, userID, sessionID uint, body string) *model.EvidenceItem {
	t.Helper()
	item, err := h.svc.AttachEvidence(context.Background(), AttachEvidenceInput{
		UserID:      userID,
		SessionID:   sessionID,
		SourceType:  model.EvidenceSourceText,
		FileName:    "thread.txt",
		ContentType: "text/plain",
		Annotation:  "texts from the co-parent",
		Content:     []byte(body),
	})
	require.NoError(t, err)
	return item
}

// reviewed returns a session that has been submitted and sits in review.
func (h *harness) reviewed(t *testing.T, userID uint) *model.CaptureSession {
	t.Helper()
	session := h.newDraft(t, userID, "Pickup was late again and the teacher said she was tired.")
	_, err := h.svc.Submit(context.Background(), userID, session.ID)
	require.NoError(t, err)
	return h.status(t, userID, session.ID, model.CaptureStatusReview)
}

func (h *harness) status(t *testing.T, userID, sessionID uint, want model.CaptureStatus) *model.CaptureSession {
	t.Helper()
	session, err := h.sessions.GetByIDAndUserID(context.Background(), sessionID, userID)
	require.NoError(t, err)
	require.NotNil(t, session)
	require.Equal(t, want, session.Status)
	return session
}

func (h *harness) countRows(t *testing.T, table interface{}, userID uint) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.db.Model(table).Where("user_id = ?", userID).Count(&n).Error)
	return n
}
