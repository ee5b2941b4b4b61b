package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodytrail/internal/ai"
	"custodytrail/internal/app"
	"custodytrail/internal/platform/database"
	"custodytrail/internal/pkg/jwtutil"
	"custodytrail/internal/repository"
	"custodytrail/internal/storage"
	"custodytrail/internal/transport/http/handler"
)

const testSecret = "router-test-secret"

const summaryResponse = `{"summary":"Text thread confirming the 5pm pickup.","keyFacts":["pickup at 5pm"],"datesMentioned":[],"peopleMentioned":["co-parent"]}`

const extractionResponse = `{
  "events": [{
    "type": "incident",
    "title": "Late pickup",
    "description": "Co-parent arrived 45 minutes late.",
    "timestamp": "2024-11-19T17:45",
    "timestampPrecision": "exact",
    "duration": null,
    "location": null,
    "participants": {"primary": ["co-parent"], "witnesses": [], "professionals": []},
    "childInvolved": true,
    "custodyRelevance": {"agreementViolation": true, "safetyConcern": null, "welfareImpact": "negative"},
    "evidenceMentions": ["E1"],
    "patterns": [{"key": "late_pickup", "label": "Late pickups"}]
  }],
  "actionItems": [],
  "metadata": {"confidence": 0.9, "ambiguities": []}
}`

type stubCompleter struct {
	mu        sync.Mutex
	responses map[string]string
}

func (s *stubCompleter) CompleteJSON(_ context.Context, _ ai.ChatConfig, _ []ai.ChatMessage, schema ai.ResponseSchema) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.responses[schema.Name]
	if !ok {
		return "", fmt.Errorf("no stub for %s", schema.Name)
	}
	return raw, nil
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	router *gin.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	db, err := database.Open(ctx, database.DriverSQLite, filepath.Join(t.TempDir(), "router.db"))
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	blobs, err := storage.NewLocalStore(t.TempDir(), "http://localhost/blobs", "blob-secret")
	require.NoError(t, err)

	llm := &stubCompleter{responses: map[string]string{
		"evidence_summary":    summaryResponse,
		"timeline_extraction": extractionResponse,
	}}

	sessions := repository.NewCaptureSessionRepository(db)
	evidence := repository.NewEvidenceRepository(db)
	profiles := repository.NewCaseProfileRepository(db)
	quota := app.NewQuotaService(profiles, repository.NewUsageRepository(db), "free", map[string]int{"free": 5})
	captures := app.NewCaptureService(app.CaptureDeps{
		Sessions:  sessions,
		Evidence:  evidence,
		Profiles:  profiles,
		Processor: app.NewEvidenceProcessor(evidence, blobs, llm, ai.ChatConfig{Model: "m"}, nil, 1),
		Extractor: app.NewExtractionEngine(llm, ai.ChatConfig{Model: "m"}),
		Commits:   app.NewCommitService(db, quota, nil, nil, app.LinkSession, time.UTC),
		Quota:     quota,
		Blobs:     blobs,
	})

	router := gin.New()
	registerRoutes(router, testSecret, routeHandlers{
		captures: handler.NewCaptureHandler(captures),
		evidence: handler.NewEvidenceHandler(captures, 1<<20),
		timeline: handler.NewTimelineHandler(app.NewTimelineService(repository.NewTimelineRepository(db), nil)),
		profile:  handler.NewProfileHandler(app.NewProfileService(profiles), quota),
		blobs:    handler.NewBlobHandler(blobs),
	})
	return &testServer{router: router}
}

func (s *testServer) do(t *testing.T, userID uint, method, path string, body io.Reader, contentType string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if userID != 0 {
		token, err := jwtutil.GenerateToken(testSecret, time.Hour, userID, fmt.Sprintf("user%d", userID))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func (s *testServer) doJSON(t *testing.T, userID uint, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	return s.do(t, userID, method, path, r, "application/json")
}

func (s *testServer) createCapture(t *testing.T, userID uint) uint {
	t.Helper()
	rec, env := s.doJSON(t, userID, http.MethodPost, "/api/v1/captures",
		`{"narrative_text":"Pickup was 45 minutes late yesterday.","reference_date":"2024-11-20"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var session struct {
		ID     uint   `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &session))
	assert.Equal(t, "draft", session.Status)
	return session.ID
}

func (s *testServer) attachFile(t *testing.T, userID, sessionID uint, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("source_type", "text"))
	require.NoError(t, mw.WriteField("annotation", "texts from the co-parent"))
	fw, err := mw.CreateFormFile("file", "thread.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	rec, _ := s.do(t, userID, http.MethodPost, fmt.Sprintf("/api/v1/captures/%d/evidence", sessionID), &buf, mw.FormDataContentType())
	return rec
}

func TestCaptureLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	id := s.createCapture(t, 1)

	rec := s.attachFile(t, 1, id, "see you at 5pm")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, env := s.doJSON(t, 1, http.MethodPost, fmt.Sprintf("/api/v1/captures/%d/submit", id), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var submitted struct {
		Session struct {
			Status string `json:"status"`
		} `json:"session"`
		Extraction struct {
			Events []struct {
				Title string `json:"title"`
			} `json:"events"`
		} `json:"extraction"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &submitted))
	assert.Equal(t, "review", submitted.Session.Status)
	require.Len(t, submitted.Extraction.Events, 1)

	rec, env = s.doJSON(t, 1, http.MethodPost, fmt.Sprintf("/api/v1/captures/%d/confirm", id), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var committed struct {
		EventIDs            []uint `json:"event_ids"`
		LinkedEvidenceCount int    `json:"linked_evidence_count"`
		AlreadyCommitted    bool   `json:"already_committed"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &committed))
	assert.Len(t, committed.EventIDs, 1)
	assert.Equal(t, 1, committed.LinkedEvidenceCount)
	assert.False(t, committed.AlreadyCommitted)

	rec, env = s.doJSON(t, 1, http.MethodPost, fmt.Sprintf("/api/v1/captures/%d/confirm", id), "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &committed))
	assert.True(t, committed.AlreadyCommitted)

	rec, env = s.doJSON(t, 1, http.MethodGet, "/api/v1/timeline?type=incident", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Events []struct {
			Title string `json:"title"`
		} `json:"events"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &listing))
	require.Len(t, listing.Events, 1)
	assert.Equal(t, "Late pickup", listing.Events[0].Title)

	rec, env = s.doJSON(t, 1, http.MethodGet, "/api/v1/quota", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), `"used":1`)
}

func TestRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)
	rec, env := s.doJSON(t, 0, http.MethodGet, "/api/v1/captures", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 40100, env.Code)
}

func TestServiceErrorsMapToStatusCodes(t *testing.T) {
	s := newTestServer(t)
	id := s.createCapture(t, 1)

	rec, env := s.doJSON(t, 2, http.MethodGet, fmt.Sprintf("/api/v1/captures/%d", id), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, app.ErrSessionNotFound.Error(), env.Message)

	rec, _ = s.doJSON(t, 1, http.MethodPost, fmt.Sprintf("/api/v1/captures/%d/confirm", id), "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = s.doJSON(t, 1, http.MethodGet, "/api/v1/captures/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = s.doJSON(t, 1, http.MethodGet, "/api/v1/captures?status=archived", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = s.doJSON(t, 1, http.MethodPost, fmt.Sprintf("/api/v1/captures/%d/cancel", id), "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = s.doJSON(t, 1, http.MethodPost, fmt.Sprintf("/api/v1/captures/%d/submit", id), "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	empty := s.createCapture(t, 1)
	rec, _ = s.doJSON(t, 1, http.MethodPut, fmt.Sprintf("/api/v1/captures/%d/narrative", empty), `{"narrative_text":"  "}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, env = s.doJSON(t, 1, http.MethodPost, fmt.Sprintf("/api/v1/captures/%d/submit", empty), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, app.ErrNarrativeEmpty.Error(), env.Message)
}

func TestSignedEvidenceDownload(t *testing.T) {
	s := newTestServer(t)
	id := s.createCapture(t, 1)
	require.Equal(t, http.StatusOK, s.attachFile(t, 1, id, "see you at 5pm").Code)

	rec, _ := s.doJSON(t, 1, http.MethodPost, fmt.Sprintf("/api/v1/captures/%d/submit", id), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, env := s.doJSON(t, 1, http.MethodGet, fmt.Sprintf("/api/v1/captures/%d", id), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var detail struct {
		Evidence []struct {
			Label       string `json:"label"`
			DownloadURL string `json:"download_url"`
		} `json:"evidence"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &detail))
	require.Len(t, detail.Evidence, 1)
	assert.Equal(t, "E1", detail.Evidence[0].Label)
	require.True(t, strings.HasPrefix(detail.Evidence[0].DownloadURL, "http://localhost/blobs/"))

	path := strings.TrimPrefix(detail.Evidence[0].DownloadURL, "http://localhost")
	rec, _ = s.do(t, 0, http.MethodGet, path, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "see you at 5pm", rec.Body.String())

	rec, _ = s.do(t, 0, http.MethodGet, "/blobs/not-a-token", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
