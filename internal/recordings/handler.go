// Package recordings serves playback URLs for session recordings.
package recordings

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classmeet/backend/internal/store"
	"github.com/classmeet/backend/pkg/response"
	"github.com/classmeet/backend/pkg/storage"
)

// Handler resolves stored recording references into playable URLs.
type Handler struct {
	repo   *store.Repository
	s3     *storage.S3
	logger *zap.Logger
}

// NewHandler creates the recordings handler. s3 may be nil when no bucket is
// configured; bucket-key recordings are then unavailable.
func NewHandler(repo *store.Repository, s3 *storage.S3, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, s3: s3, logger: logger}
}

// GetRecordingURL handles GET /api/get-recording-url?sessionId=...
// Absolute URLs are returned verbatim; bucket keys are presigned.
func (h *Handler) GetRecordingURL(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Query("sessionId"))
	if err != nil {
		response.BadRequest(c, "session ID is required")
		return
	}

	session, err := h.repo.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		response.NotFound(c, "session not found")
		return
	}
	if session.RecordingURL == nil || *session.RecordingURL == "" {
		response.NotFound(c, "no recording available for this session")
		return
	}

	ref := *session.RecordingURL
	if !storage.IsBucketKey(ref) {
		response.OK(c, gin.H{"url": ref})
		return
	}
	if h.s3 == nil {
		response.ServiceUnavailable(c, "recording storage not configured")
		return
	}
	url, err := h.s3.RecordingDownloadURL(c.Request.Context(), ref)
	if err != nil {
		h.logger.Error("presign recording failed",
			zap.String("session_id", sessionID.String()), zap.Error(err))
		response.Internal(c, "could not generate recording URL")
		return
	}
	response.OK(c, gin.H{"url": url})
}
