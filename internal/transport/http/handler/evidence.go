package handler

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"

	"custodytrail/internal/app"
	"custodytrail/internal/model"
	"custodytrail/internal/transport/http/response"
)

type EvidenceHandler struct {
	captures       *app.CaptureService
	maxUploadBytes int64
}

func NewEvidenceHandler(captures *app.CaptureService, maxUploadBytes int64) *EvidenceHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 20 << 20
	}
	return &EvidenceHandler{captures: captures, maxUploadBytes: maxUploadBytes}
}

// Attach stages one evidence item on a draft. The multipart form carries
// source_type, an optional annotation and an optional file.
func (h *EvidenceHandler) Attach(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	sessionID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	in := app.AttachEvidenceInput{
		UserID:     userID,
		SessionID:  sessionID,
		SourceType: model.EvidenceSourceType(c.PostForm("source_type")),
		Annotation: c.PostForm("annotation"),
	}

	fileHeader, err := c.FormFile("file")
	switch {
	case err == nil:
		f, openErr := fileHeader.Open()
		if openErr != nil {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "open uploaded file failed")
			return
		}
		data, readErr := io.ReadAll(f)
		_ = f.Close()
		if readErr != nil {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "read uploaded file failed")
			return
		}
		in.Content = data
		in.FileName = filepath.Base(fileHeader.Filename)
		in.ContentType = fileHeader.Header.Get("Content-Type")
	case errors.Is(err, http.ErrMissingFile):
	default:
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, http.StatusRequestEntityTooLarge, response.CodePayloadTooLarge, app.MessageUploadFailed)
			return
		}
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid multipart form")
		return
	}

	item, err := h.captures.AttachEvidence(c.Request.Context(), in)
	if err != nil {
		writeServiceError(c, "attach evidence", err)
		return
	}
	response.OK(c, item)
}

func (h *EvidenceHandler) Reprocess(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	itemID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	force, _ := strconv.ParseBool(c.Query("force"))

	item, err := h.captures.ReprocessEvidence(c.Request.Context(), userID, itemID, force)
	if err != nil {
		writeServiceError(c, "reprocess evidence", err)
		return
	}
	response.OK(c, item)
}
