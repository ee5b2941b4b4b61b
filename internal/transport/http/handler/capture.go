package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"custodytrail/internal/app"
	"custodytrail/internal/model"
	"custodytrail/internal/transport/http/response"
)

type CaptureHandler struct {
	captures *app.CaptureService
}

type CaptureRequest struct {
	NarrativeText string `json:"narrative_text" binding:"max=20000"`
	ReferenceDate string `json:"reference_date"`
	TimeOfDay     string `json:"time_of_day" binding:"max=64"`
}

func NewCaptureHandler(captures *app.CaptureService) *CaptureHandler {
	return &CaptureHandler{captures: captures}
}

func (h *CaptureHandler) Create(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	var req CaptureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	ref, err := parseDate(req.ReferenceDate)
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "reference_date must be YYYY-MM-DD")
		return
	}

	session, err := h.captures.CreateCapture(c.Request.Context(), app.CreateCaptureInput{
		UserID:        userID,
		NarrativeText: req.NarrativeText,
		ReferenceDate: ref,
		TimeOfDay:     req.TimeOfDay,
	})
	if err != nil {
		writeServiceError(c, "create capture", err)
		return
	}
	response.OK(c, session)
}

func (h *CaptureHandler) List(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	sessions, err := h.captures.ListCaptures(c.Request.Context(), userID, model.CaptureStatus(c.Query("status")), limit)
	if err != nil {
		writeServiceError(c, "list captures", err)
		return
	}
	response.OK(c, gin.H{"captures": sessions})
}

func (h *CaptureHandler) Get(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	sessionID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	detail, err := h.captures.GetCapture(c.Request.Context(), userID, sessionID)
	if err != nil {
		writeServiceError(c, "get capture", err)
		return
	}
	response.OK(c, detail)
}

func (h *CaptureHandler) UpdateNarrative(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	sessionID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req CaptureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	ref, err := parseDate(req.ReferenceDate)
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "reference_date must be YYYY-MM-DD")
		return
	}

	session, err := h.captures.UpdateNarrative(c.Request.Context(), app.UpdateNarrativeInput{
		UserID:        userID,
		SessionID:     sessionID,
		NarrativeText: req.NarrativeText,
		ReferenceDate: ref,
		TimeOfDay:     req.TimeOfDay,
	})
	if err != nil {
		writeServiceError(c, "update narrative", err)
		return
	}
	response.OK(c, session)
}

// Submit runs evidence pre-processing and extraction inline and returns the
// proposed events for review.
func (h *CaptureHandler) Submit(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	sessionID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	result, err := h.captures.Submit(c.Request.Context(), userID, sessionID)
	if err != nil {
		writeServiceError(c, "submit capture", err)
		return
	}
	response.OK(c, result)
}

func (h *CaptureHandler) Confirm(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	sessionID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	result, err := h.captures.Confirm(c.Request.Context(), userID, sessionID)
	if err != nil {
		writeServiceError(c, "confirm capture", err)
		return
	}
	response.OK(c, result)
}

func (h *CaptureHandler) Cancel(c *gin.Context) {
	h.transition(c, "cancel capture", h.captures.Cancel)
}

func (h *CaptureHandler) Discard(c *gin.Context) {
	h.transition(c, "discard extraction", h.captures.DiscardExtraction)
}

func (h *CaptureHandler) Progress(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	sessionID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	progress, err := h.captures.GetProgress(c.Request.Context(), userID, sessionID)
	if err != nil {
		writeServiceError(c, "get capture progress", err)
		return
	}
	response.OK(c, progress)
}

func (h *CaptureHandler) transition(
	c *gin.Context,
	op string,
	fn func(ctx context.Context, userID, sessionID uint) (*model.CaptureSession, error),
) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	sessionID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	session, err := fn(c.Request.Context(), userID, sessionID)
	if err != nil {
		writeServiceError(c, op, err)
		return
	}
	response.OK(c, session)
}
