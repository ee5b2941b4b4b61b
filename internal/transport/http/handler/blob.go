package handler

import (
	"errors"
	"io"
	"log"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"custodytrail/internal/storage"
	"custodytrail/internal/transport/http/response"
)

// BlobHandler serves evidence files behind signed URLs. The token is the only
// credential, so the route sits outside the JWT group.
type BlobHandler struct {
	store *storage.LocalStore
}

func NewBlobHandler(store *storage.LocalStore) *BlobHandler {
	return &BlobHandler{store: store}
}

func (h *BlobHandler) Download(c *gin.Context) {
	rc, name, err := h.store.OpenSigned(c.Param("token"))
	if err != nil {
		if !errors.Is(err, storage.ErrInvalidSignedURL) {
			log.Printf("open signed blob failed: %v", err)
		}
		response.Error(c, http.StatusNotFound, response.CodeBlobNotFound, "file not found or link expired")
		return
	}
	defer rc.Close()

	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		log.Printf("stream blob failed: %v", err)
	}
}
