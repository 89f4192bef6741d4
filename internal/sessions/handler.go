// Package sessions exposes the HTTP surface of the signaling layer. Handlers
// are thin: parse, call the lifecycle controller, map the error taxonomy to
// status codes.
package sessions

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classmeet/backend/internal/lifecycle"
	"github.com/classmeet/backend/internal/mediabridge"
	"github.com/classmeet/backend/internal/models"
	"github.com/classmeet/backend/internal/store"
	"github.com/classmeet/backend/pkg/response"
)

// Handler handles session HTTP routes.
type Handler struct {
	ctrl   *lifecycle.Controller
	repo   *store.Repository
	bridge *mediabridge.Client
	logger *zap.Logger
}

// NewHandler creates the sessions handler.
func NewHandler(ctrl *lifecycle.Controller, repo *store.Repository, bridge *mediabridge.Client, logger *zap.Logger) *Handler {
	return &Handler{ctrl: ctrl, repo: repo, bridge: bridge, logger: logger}
}

// writeErr maps the error taxonomy onto HTTP statuses.
func writeErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrValidation):
		response.BadRequest(c, err.Error())
	case errors.Is(err, store.ErrNotFound):
		response.NotFound(c, "not found")
	case errors.Is(err, store.ErrInvalidState):
		response.BadRequest(c, err.Error())
	case errors.Is(err, lifecycle.ErrNotTeacher):
		response.Forbidden(c, err.Error())
	case errors.Is(err, store.ErrStoreUnavailable):
		response.ServiceUnavailable(c, "unable to connect to database, please try again")
	default:
		response.Internal(c, "an error occurred while processing your request")
	}
}

// CreateSession handles POST /api/create-session.
func (h *Handler) CreateSession(c *gin.Context) {
	var req struct {
		TeacherName string `json:"teacherName"`
		SessionName string `json:"sessionName"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	teacherName := strings.TrimSpace(req.TeacherName)
	sessionName := strings.TrimSpace(req.SessionName)
	if sessionName == "" {
		sessionName = "Class Session"
	}

	session, teacher, err := h.ctrl.CreateSession(c.Request.Context(), teacherName, sessionName)
	if err != nil {
		writeErr(c, err)
		return
	}
	response.OK(c, gin.H{
		"sessionId": session.ID,
		"userId":    teacher.ID,
		"name":      session.Name,
	})
}

// JoinSession handles POST /api/join-session.
func (h *Handler) JoinSession(c *gin.Context) {
	var req struct {
		SessionID string `json:"sessionId"`
		UserName  string `json:"userName"`
		IsTeacher bool   `json:"isTeacher"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		response.BadRequest(c, "session ID is required")
		return
	}

	user, session, messages, err := h.ctrl.JoinSession(c.Request.Context(), sessionID, strings.TrimSpace(req.UserName), req.IsTeacher)
	if err != nil {
		writeErr(c, err)
		return
	}
	response.OK(c, gin.H{
		"sessionId":       session.ID,
		"userId":          user.ID,
		"participants":    session.Participants,
		"messages":        messages,
		"isLivestreaming": session.IsLivestreaming,
	})
}

// LeaveSession handles POST /api/leave-session.
func (h *Handler) LeaveSession(c *gin.Context) {
	sessionID, userID, ok := h.bindRoomRef(c)
	if !ok {
		return
	}
	if err := h.ctrl.LeaveSession(c.Request.Context(), sessionID, userID); err != nil {
		writeErr(c, err)
		return
	}
	response.OK(c, gin.H{})
}

// RaiseHand handles POST /api/raise-hand.
func (h *Handler) RaiseHand(c *gin.Context) {
	var req struct {
		SessionID string `json:"sessionId"`
		UserID    string `json:"userId"`
		IsRaised  *bool  `json:"isRaised"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	sessionID, userID, ok := parseRoomRef(c, req.SessionID, req.UserID)
	if !ok {
		return
	}
	isRaised := true
	if req.IsRaised != nil {
		isRaised = *req.IsRaised
	}
	if err := h.ctrl.RaiseHand(c.Request.Context(), sessionID, userID, isRaised); err != nil {
		writeErr(c, err)
		return
	}
	response.OK(c, gin.H{})
}

// SendMessage handles POST /api/send-message.
func (h *Handler) SendMessage(c *gin.Context) {
	var req struct {
		SessionID  string `json:"sessionId"`
		UserID     string `json:"userId"`
		Message    string `json:"message"`
		IsQuestion bool   `json:"isQuestion"`
		Timestamp  string `json:"timestamp"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	sessionID, userID, ok := parseRoomRef(c, req.SessionID, req.UserID)
	if !ok {
		return
	}
	var ts time.Time
	if req.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, req.Timestamp)
		if err == nil {
			ts = parsed
		}
	}

	msg, err := h.ctrl.SendMessage(c.Request.Context(), sessionID, userID, strings.TrimSpace(req.Message), req.IsQuestion, ts)
	if err != nil {
		writeErr(c, err)
		return
	}
	response.OK(c, gin.H{"message": msg})
}

// MarkQuestionAnswered handles POST /api/mark-question-answered.
func (h *Handler) MarkQuestionAnswered(c *gin.Context) {
	var req struct {
		SessionID string `json:"sessionId"`
		MessageID string `json:"messageId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		response.BadRequest(c, "session ID is required")
		return
	}
	messageID, err := uuid.Parse(req.MessageID)
	if err != nil {
		response.BadRequest(c, "message ID is required")
		return
	}
	if err := h.ctrl.MarkQuestionAnswered(c.Request.Context(), sessionID, messageID); err != nil {
		writeErr(c, err)
		return
	}
	response.OK(c, gin.H{})
}

// StartLivestream handles POST /api/start-livestream.
func (h *Handler) StartLivestream(c *gin.Context) {
	sessionID, userID, ok := h.bindRoomRef(c)
	if !ok {
		return
	}
	if err := h.ctrl.StartLivestream(c.Request.Context(), sessionID, userID, ""); err != nil {
		writeErr(c, err)
		return
	}
	response.OK(c, gin.H{})
}

// StopLivestream handles POST /api/stop-livestream.
func (h *Handler) StopLivestream(c *gin.Context) {
	var req struct {
		SessionID  string `json:"sessionId"`
		UserID     string `json:"userId"`
		ProducerID string `json:"producerId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	sessionID, userID, ok := parseRoomRef(c, req.SessionID, req.UserID)
	if !ok {
		return
	}
	if err := h.ctrl.StopLivestream(c.Request.Context(), sessionID, userID, req.ProducerID); err != nil {
		writeErr(c, err)
		return
	}
	response.OK(c, gin.H{})
}

// GetActiveSessions handles GET /api/get-active-sessions.
func (h *Handler) GetActiveSessions(c *gin.Context) {
	list, err := h.ctrl.ActiveLivestreams(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	if list == nil {
		list = []models.LivestreamSummary{}
	}
	response.OK(c, gin.H{"sessions": list})
}

// Health handles GET /api/health: a store connectivity probe.
func (h *Handler) Health(c *gin.Context) {
	now := time.Now().UTC().Format(time.RFC3339)
	if err := h.repo.Ping(c.Request.Context()); err != nil {
		h.logger.Error("health check failed", zap.Error(err))
		c.JSON(503, gin.H{"success": false, "status": "unhealthy", "database": "disconnected", "timestamp": now})
		return
	}
	response.OK(c, gin.H{"status": "healthy", "database": "connected", "timestamp": now})
}

// RouterCapabilities handles GET /api/router-capabilities: a verbatim proxy
// of the media server's RTP capabilities.
func (h *Handler) RouterCapabilities(c *gin.Context) {
	caps, err := h.bridge.RouterCapabilities(c.Request.Context())
	if err != nil {
		response.ServiceUnavailable(c, "media server unreachable")
		return
	}
	c.Data(200, "application/json", caps)
}

func (h *Handler) bindRoomRef(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	var req struct {
		SessionID string `json:"sessionId"`
		UserID    string `json:"userId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return uuid.Nil, uuid.Nil, false
	}
	return parseRoomRef(c, req.SessionID, req.UserID)
}

func parseRoomRef(c *gin.Context, sessionID, userID string) (uuid.UUID, uuid.UUID, bool) {
	sid, err := uuid.Parse(sessionID)
	if err != nil {
		response.BadRequest(c, "session ID and user ID are required")
		return uuid.Nil, uuid.Nil, false
	}
	uid, err := uuid.Parse(userID)
	if err != nil {
		response.BadRequest(c, "session ID and user ID are required")
		return uuid.Nil, uuid.Nil, false
	}
	return sid, uid, true
}
