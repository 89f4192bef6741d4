// Package lifecycle implements the session state machine: who may join and
// leave, how the livestream sub-state moves between idle and streaming, and
// which events fan out to the room after each transition.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classmeet/backend/internal/events"
	"github.com/classmeet/backend/internal/models"
	"github.com/classmeet/backend/internal/store"
)

// ErrNotTeacher guards the teacher-only livestream transitions.
var ErrNotTeacher = errors.New("only teachers can manage the livestream")

// SessionStore is the slice of the session store the controller drives.
type SessionStore interface {
	CreateSession(ctx context.Context, teacherName, sessionName string) (*models.Session, *models.User, error)
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	JoinSession(ctx context.Context, sessionID uuid.UUID, name string, isTeacher bool) (*models.User, *models.Session, error)
	LeaveSession(ctx context.Context, sessionID, userID uuid.UUID) (*store.LeaveResult, error)
	AddMessage(ctx context.Context, sessionID, userID uuid.UUID, content string, isQuestion bool, ts time.Time) (*models.Message, error)
	ListMessages(ctx context.Context, sessionID uuid.UUID) ([]models.Message, error)
	MarkQuestionAnswered(ctx context.Context, sessionID, messageID uuid.UUID) error
	SetHandRaised(ctx context.Context, userID uuid.UUID, raised bool) error
	SetMuted(ctx context.Context, userID uuid.UUID, muted bool) error
	SetVideoEnabled(ctx context.Context, userID uuid.UUID, enabled bool) error
	SetStreaming(ctx context.Context, userID uuid.UUID, streaming bool) error
	StartLivestream(ctx context.Context, sessionID uuid.UUID) error
	StopLivestream(ctx context.Context, sessionID uuid.UUID) (*string, error)
	SetProducer(ctx context.Context, sessionID uuid.UUID, producerID string) error
	SetSharedScreen(ctx context.Context, sessionID, userID uuid.UUID) error
	ClearSharedScreen(ctx context.Context, sessionID, userID uuid.UUID) error
	ListActiveLivestreams(ctx context.Context) ([]models.LivestreamSummary, error)
}

// MediaBridge is the slice of the media server client the controller drives.
type MediaBridge interface {
	Produce(ctx context.Context, transportID, kind string, rtpParameters json.RawMessage) (string, error)
	CloseProducer(ctx context.Context, producerID string) error
}

// Broadcaster fans events out to a session's connected room members.
// Delivery is fire-and-forget; durable state stays in the store.
type Broadcaster interface {
	Broadcast(sessionID uuid.UUID, event string, payload any)
	BroadcastExcept(sessionID uuid.UUID, exceptClientID, event string, payload any)
	SendToClient(sessionID uuid.UUID, clientID, event string, payload any)
}

// Reaper accepts producer handles whose remote close failed, for later
// reconciliation against the media server.
type Reaper interface {
	EnqueueProducerClose(ctx context.Context, sessionID uuid.UUID, producerID string)
}

// Controller orchestrates store, media bridge and broadcaster for every
// client-visible operation. It is the only writer of persisted session state.
type Controller struct {
	store  SessionStore
	bridge MediaBridge
	rooms  Broadcaster
	reaper Reaper
	logger *zap.Logger
}

// NewController wires the lifecycle controller. reaper may be nil, in which
// case failed remote cleanup is only logged.
func NewController(st SessionStore, bridge MediaBridge, rooms Broadcaster, reaper Reaper, logger *zap.Logger) *Controller {
	return &Controller{store: st, bridge: bridge, rooms: rooms, reaper: reaper, logger: logger}
}

// CreateSession creates a session and its teacher user.
func (c *Controller) CreateSession(ctx context.Context, teacherName, sessionName string) (*models.Session, *models.User, error) {
	if teacherName == "" {
		return nil, nil, fmt.Errorf("%w: teacher name cannot be empty", store.ErrValidation)
	}
	if sessionName == "" {
		return nil, nil, fmt.Errorf("%w: session name cannot be empty", store.ErrValidation)
	}
	session, teacher, err := c.store.CreateSession(ctx, teacherName, sessionName)
	if err != nil {
		return nil, nil, err
	}
	c.logger.Info("session created",
		zap.String("session_id", session.ID.String()),
		zap.String("teacher_id", teacher.ID.String()))
	return session, teacher, nil
}

// JoinSession adds a participant to an active session. A rejoining teacher
// never inherits a half-open stream: any livestream state left by a previous
// connection is reset before the join completes.
func (c *Controller) JoinSession(ctx context.Context, sessionID uuid.UUID, name string, isTeacher bool) (*models.User, *models.Session, []models.Message, error) {
	if name == "" {
		return nil, nil, nil, fmt.Errorf("%w: user name cannot be empty", store.ErrValidation)
	}
	user, session, err := c.store.JoinSession(ctx, sessionID, name, isTeacher)
	if err != nil {
		return nil, nil, nil, err
	}

	if isTeacher && session.IsLivestreaming {
		c.resetStaleStream(ctx, sessionID, session.ProducerID)
		session.IsLivestreaming = false
		session.ProducerID = nil
		c.logger.Info("reset livestream state on teacher rejoin", zap.String("session_id", sessionID.String()))
	}

	messages, err := c.store.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, nil, nil, err
	}

	c.rooms.Broadcast(sessionID, events.UserJoined, events.UserJoinedPayload{
		UserID: user.ID, Name: user.Name, IsTeacher: user.IsTeacher,
	})
	c.logger.Info("user joined session",
		zap.String("session_id", sessionID.String()),
		zap.String("user_id", user.ID.String()))
	return user, session, messages, nil
}

// LeaveSession removes a participant. If the session deactivates (last
// teacher gone or room empty), any open producer is closed best-effort and
// the livestream sub-state is forced back to idle.
func (c *Controller) LeaveSession(ctx context.Context, sessionID, userID uuid.UUID) error {
	res, err := c.store.LeaveSession(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	if res.OrphanedProducerID != nil {
		c.closeProducer(ctx, sessionID, *res.OrphanedProducerID)
	}
	if res.Deactivated {
		c.logger.Info("session deactivated", zap.String("session_id", sessionID.String()))
	}
	c.rooms.Broadcast(sessionID, events.UserLeft, events.UserLeftPayload{UserID: userID})
	return nil
}

// HandleDisconnect runs the leave path for a dropped connection. A racing
// explicit leave makes the user unknown by the time we get here; that is not
// an error.
func (c *Controller) HandleDisconnect(sessionID, userID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.LeaveSession(ctx, sessionID, userID); err != nil && !errors.Is(err, store.ErrNotFound) {
		c.logger.Warn("disconnect cleanup failed",
			zap.String("session_id", sessionID.String()),
			zap.String("user_id", userID.String()),
			zap.Error(err))
	}
}

// RaiseHand toggles the hand flag and announces it.
func (c *Controller) RaiseHand(ctx context.Context, sessionID, userID uuid.UUID, raised bool) error {
	if err := c.store.SetHandRaised(ctx, userID, raised); err != nil {
		return err
	}
	c.rooms.Broadcast(sessionID, events.HandRaised, events.HandRaisePayload{UserID: userID, IsRaised: raised})
	return nil
}

// RaiseHandNamed is the socket variant carrying the user's name.
func (c *Controller) RaiseHandNamed(ctx context.Context, sessionID, userID uuid.UUID, raised bool) error {
	user, err := c.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := c.store.SetHandRaised(ctx, userID, raised); err != nil {
		return err
	}
	c.rooms.Broadcast(sessionID, events.HandRaiseChanged, events.HandRaisePayload{
		UserID: userID, UserName: user.Name, IsRaised: raised,
	})
	return nil
}

// ToggleMute updates the mute flag and announces it.
func (c *Controller) ToggleMute(ctx context.Context, sessionID, userID uuid.UUID, muted bool) error {
	if err := c.store.SetMuted(ctx, userID, muted); err != nil {
		return err
	}
	c.rooms.Broadcast(sessionID, events.UserMuteChanged, events.MuteChangedPayload{UserID: userID, IsMuted: muted})
	return nil
}

// ToggleVideo updates the camera flag and announces it.
func (c *Controller) ToggleVideo(ctx context.Context, sessionID, userID uuid.UUID, enabled bool) error {
	if err := c.store.SetVideoEnabled(ctx, userID, enabled); err != nil {
		return err
	}
	c.rooms.Broadcast(sessionID, events.UserVideoChanged, events.VideoChangedPayload{UserID: userID, VideoEnabled: enabled})
	return nil
}

// SendMessage persists and fans out a chat message or question.
func (c *Controller) SendMessage(ctx context.Context, sessionID, userID uuid.UUID, content string, isQuestion bool, ts time.Time) (*models.Message, error) {
	if content == "" {
		return nil, fmt.Errorf("%w: message cannot be empty", store.ErrValidation)
	}
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	msg, err := c.store.AddMessage(ctx, sessionID, userID, content, isQuestion, ts)
	if err != nil {
		return nil, err
	}
	c.rooms.Broadcast(sessionID, events.NewMessage, events.NewMessagePayload{Message: *msg})
	return msg, nil
}

// MarkQuestionAnswered flags a question message as answered.
func (c *Controller) MarkQuestionAnswered(ctx context.Context, sessionID, messageID uuid.UUID) error {
	if err := c.store.MarkQuestionAnswered(ctx, sessionID, messageID); err != nil {
		return err
	}
	c.rooms.Broadcast(sessionID, events.QuestionAnswered, events.QuestionAnsweredPayload{MessageID: messageID})
	return nil
}

// StartScreenShare records the sharer and announces it. At most one user
// shares at a time; a new sharer displaces the previous one.
func (c *Controller) StartScreenShare(ctx context.Context, sessionID, userID uuid.UUID) error {
	user, err := c.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := c.store.SetSharedScreen(ctx, sessionID, userID); err != nil {
		return err
	}
	c.rooms.Broadcast(sessionID, events.ScreenShareStarted, events.ScreenSharePayload{UserID: userID, UserName: user.Name})
	return nil
}

// StopScreenShare clears the sharer if it still is this user.
func (c *Controller) StopScreenShare(ctx context.Context, sessionID, userID uuid.UUID) error {
	if err := c.store.ClearSharedScreen(ctx, sessionID, userID); err != nil {
		return err
	}
	c.rooms.Broadcast(sessionID, events.ScreenShareStopped, events.ScreenSharePayload{UserID: userID})
	return nil
}

// StartLivestream moves the livestream sub-state from idle to streaming.
// Teacher-only. When the session believes it is already streaming, the stale
// producer is closed and the state reset first; a crashed client must not
// permanently block restarts.
//
// originClientID, when set, identifies the initiating connection: it receives
// the WebRTC setup trigger while everyone else gets the start announcement.
func (c *Controller) StartLivestream(ctx context.Context, sessionID, userID uuid.UUID, originClientID string) error {
	session, user, err := c.sessionAndUser(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	if !user.IsTeacher {
		return ErrNotTeacher
	}

	if session.IsLivestreaming {
		c.resetStaleStream(ctx, sessionID, session.ProducerID)
		c.logger.Info("reset livestream state to allow new stream", zap.String("session_id", sessionID.String()))
	}

	if err := c.store.StartLivestream(ctx, sessionID); err != nil {
		return err
	}
	if err := c.store.SetStreaming(ctx, userID, true); err != nil {
		return err
	}

	if originClientID != "" {
		c.rooms.SendToClient(sessionID, originClientID, events.StartWebRTCSetup, struct{}{})
		c.rooms.BroadcastExcept(sessionID, originClientID, events.LivestreamStarted, events.LivestreamPayload{
			UserID: &userID, UserName: user.Name,
		})
	} else {
		c.rooms.Broadcast(sessionID, events.LivestreamStarted, events.LivestreamPayload{})
	}
	c.logger.Info("livestream started",
		zap.String("session_id", sessionID.String()),
		zap.String("teacher_id", userID.String()))
	return nil
}

// StopLivestream moves the livestream sub-state back to idle. Teacher-only
// and only legal while streaming. The producer close on the media server is
// best-effort; the local handle is cleared no matter what.
// producerIDOverride, when non-empty, closes that handle instead of the
// stored one.
func (c *Controller) StopLivestream(ctx context.Context, sessionID, userID uuid.UUID, producerIDOverride string) error {
	session, user, err := c.sessionAndUser(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	if !user.IsTeacher {
		return ErrNotTeacher
	}
	if !session.IsLivestreaming {
		return fmt.Errorf("%w: livestream is not active", store.ErrInvalidState)
	}

	prev, err := c.store.StopLivestream(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := c.store.SetStreaming(ctx, userID, false); err != nil {
		return err
	}

	producerID := producerIDOverride
	if producerID == "" && prev != nil {
		producerID = *prev
	}
	if producerID != "" {
		c.closeProducer(ctx, sessionID, producerID)
	}

	c.rooms.Broadcast(sessionID, events.LivestreamEnded, events.LivestreamPayload{UserID: &userID, UserName: user.Name})
	c.logger.Info("livestream stopped",
		zap.String("session_id", sessionID.String()),
		zap.String("teacher_id", userID.String()))
	return nil
}

// Produce opens a media producer on the bridge and records its handle only
// after the bridge confirms. If the session vanished in between, the orphaned
// remote producer is logged and left for the next stop/restart cycle to reap.
func (c *Controller) Produce(ctx context.Context, sessionID, userID uuid.UUID, transportID, kind string, rtpParameters json.RawMessage, originClientID string) (string, error) {
	producerID, err := c.bridge.Produce(ctx, transportID, kind, rtpParameters)
	if err != nil {
		return "", err
	}
	if err := c.store.SetProducer(ctx, sessionID, producerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.logger.Warn("session gone after produce, leaving orphaned producer",
				zap.String("session_id", sessionID.String()),
				zap.String("producer_id", producerID))
			return "", err
		}
		return "", err
	}
	c.rooms.BroadcastExcept(sessionID, originClientID, events.NewProducer, events.NewProducerPayload{
		ProducerID: producerID, Kind: kind, UserID: &userID,
	})
	return producerID, nil
}

// ActiveLivestreams lists sessions that are active and streaming.
func (c *Controller) ActiveLivestreams(ctx context.Context) ([]models.LivestreamSummary, error) {
	return c.store.ListActiveLivestreams(ctx)
}

// SessionSnapshot returns the session and its full chat history, for join
// responses and reconnects (clients re-fetch durable state rather than trust
// replayed events).
func (c *Controller) SessionSnapshot(ctx context.Context, sessionID uuid.UUID) (*models.Session, []models.Message, error) {
	session, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	messages, err := c.store.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	return session, messages, nil
}

// AnnounceJoin fans out a socket-level room entry: everyone else learns about
// the user, and the joiner is told about any stream already in progress.
func (c *Controller) AnnounceJoin(ctx context.Context, sessionID, userID uuid.UUID, clientID string) {
	user, err := c.store.GetUser(ctx, userID)
	if err != nil {
		c.logger.Warn("announce join: unknown user", zap.String("user_id", userID.String()), zap.Error(err))
		return
	}
	c.rooms.BroadcastExcept(sessionID, clientID, events.UserJoined, events.UserJoinedPayload{
		UserID: user.ID, Name: user.Name, IsTeacher: user.IsTeacher,
	})
	c.AnnounceLivestreamToClient(ctx, sessionID, clientID)
}

// AnnounceLivestreamToClient tells one late-joining connection about an
// already-running stream.
func (c *Controller) AnnounceLivestreamToClient(ctx context.Context, sessionID uuid.UUID, clientID string) {
	session, err := c.store.GetSession(ctx, sessionID)
	if err != nil || !session.IsLivestreaming {
		return
	}
	teacher, err := c.store.GetUser(ctx, session.TeacherID)
	if err != nil {
		return
	}
	c.rooms.SendToClient(sessionID, clientID, events.LivestreamActive, events.LivestreamActivePayload{
		TeacherID: teacher.ID, TeacherName: teacher.Name,
	})
}

// resetStaleStream is the self-healing branch: close whatever producer the
// session still references, then force the sub-state back to idle. Bridge
// failures are absorbed; local state always ends up consistent.
func (c *Controller) resetStaleStream(ctx context.Context, sessionID uuid.UUID, producerID *string) {
	if producerID != nil {
		c.closeProducer(ctx, sessionID, *producerID)
	}
	if _, err := c.store.StopLivestream(ctx, sessionID); err != nil {
		c.logger.Warn("failed to reset livestream state", zap.String("session_id", sessionID.String()), zap.Error(err))
	}
}

// closeProducer closes a producer on the media server, announcing the close
// on success and handing the handle to the reaper on failure. Eventually
// reconciled: the remote producer may outlive us briefly, never the other way.
func (c *Controller) closeProducer(ctx context.Context, sessionID uuid.UUID, producerID string) {
	if err := c.bridge.CloseProducer(ctx, producerID); err != nil {
		c.logger.Warn("failed to close producer on media server",
			zap.String("session_id", sessionID.String()),
			zap.String("producer_id", producerID),
			zap.Error(err))
		if c.reaper != nil {
			c.reaper.EnqueueProducerClose(ctx, sessionID, producerID)
		}
		return
	}
	c.rooms.Broadcast(sessionID, events.ProducerClosed, events.ProducerClosedPayload{ProducerID: producerID})
}

func (c *Controller) sessionAndUser(ctx context.Context, sessionID, userID uuid.UUID) (*models.Session, *models.User, error) {
	session, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	user, err := c.store.GetUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return session, user, nil
}
