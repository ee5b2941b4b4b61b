package handler

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"custodytrail/internal/app"
	"custodytrail/internal/transport/http/middleware"
	"custodytrail/internal/transport/http/response"
)

func getUserIDFromContext(c *gin.Context) (uint, bool) {
	userIDAny, exists := c.Get(middleware.ContextUserIDKey)
	if !exists {
		return 0, false
	}
	userID, ok := userIDAny.(uint)
	if !ok || userID == 0 {
		return 0, false
	}
	return userID, true
}

func parseIDParam(c *gin.Context, name string) (uint, bool) {
	raw := c.Param(name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid "+name)
		return 0, false
	}
	return uint(id), true
}

// parseDate accepts YYYY-MM-DD; an empty string yields nil.
func parseDate(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// writeServiceError maps service errors onto HTTP statuses. The message is
// always one of the user-facing categories; internal detail only reaches the log.
func writeServiceError(c *gin.Context, op string, err error) {
	status, code := http.StatusInternalServerError, response.CodeInternalServer
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		status, code = http.StatusBadRequest, response.CodeBadRequest
	case errors.Is(err, app.ErrNarrativeEmpty):
		status, code = http.StatusBadRequest, response.CodeEmptyNarrative
	case errors.Is(err, app.ErrNothingToCommit):
		status, code = http.StatusUnprocessableEntity, response.CodeNothingToCommit
	case errors.Is(err, app.ErrSessionNotFound):
		status, code = http.StatusNotFound, response.CodeSessionNotFound
	case errors.Is(err, app.ErrEvidenceNotFound):
		status, code = http.StatusNotFound, response.CodeEvidenceNotFound
	case errors.Is(err, app.ErrInvalidTransition):
		status, code = http.StatusConflict, response.CodeInvalidState
	case errors.Is(err, app.ErrStaleResult):
		status, code = http.StatusConflict, response.CodeStaleResult
	case errors.Is(err, app.ErrQuotaExceeded):
		status, code = http.StatusTooManyRequests, response.CodeQuotaExceeded
	case errors.Is(err, app.ErrExtractionSchema), errors.Is(err, app.ErrExtractionProvider):
		status, code = http.StatusBadGateway, response.CodeAnalysisFailed
	case errors.Is(err, app.ErrEvidenceProcessing):
		status, code = http.StatusBadGateway, response.CodeUploadFailed
	case errors.Is(err, app.ErrCommitFailed):
		code = response.CodeSaveFailed
	}
	if status >= http.StatusInternalServerError {
		log.Printf("%s failed: %v", op, err)
	}
	response.Error(c, status, code, app.UserMessage(err))
}
