// Package events defines the closed set of broadcast event variants. Payloads
// are explicit structs so field drift is caught at compile time instead of at
// the client.
package events

import (
	"github.com/google/uuid"

	"github.com/classmeet/backend/internal/models"
)

// Broadcast event names. Names are part of the wire protocol; the mixed
// casing (snake_case vs. camelCase for producer events) is what deployed
// clients already speak.
const (
	UserJoined         = "user_joined"
	UserLeft           = "user_left"
	UserMuteChanged    = "user_mute_changed"
	UserVideoChanged   = "user_video_changed"
	HandRaised         = "hand_raised"
	HandRaiseChanged   = "hand_raise_changed"
	NewMessage         = "new_message"
	QuestionAnswered   = "question_answered"
	ScreenShareStarted = "screen_share_started"
	ScreenShareStopped = "screen_share_stopped"
	LivestreamStarted  = "livestream_started"
	LivestreamEnded    = "livestream_ended"
	LivestreamActive   = "livestream_active"
	StartWebRTCSetup   = "start_webrtc_setup"
	NewProducer        = "newProducer"
	ProducerClosed     = "producerClosed"
)

// UserJoinedPayload announces a new participant to the room.
type UserJoinedPayload struct {
	UserID    uuid.UUID `json:"userId"`
	Name      string    `json:"name"`
	IsTeacher bool      `json:"isTeacher"`
}

// UserLeftPayload announces a departure.
type UserLeftPayload struct {
	UserID uuid.UUID `json:"userId"`
}

// MuteChangedPayload carries a mute toggle.
type MuteChangedPayload struct {
	UserID  uuid.UUID `json:"userId"`
	IsMuted bool      `json:"isMuted"`
}

// VideoChangedPayload carries a camera toggle.
type VideoChangedPayload struct {
	UserID       uuid.UUID `json:"userId"`
	VideoEnabled bool      `json:"videoEnabled"`
}

// HandRaisePayload carries a hand-raise toggle. UserName is empty for the
// HTTP-originated HandRaised event and set for the socket HandRaiseChanged one.
type HandRaisePayload struct {
	UserID   uuid.UUID `json:"userId"`
	UserName string    `json:"userName,omitempty"`
	IsRaised bool      `json:"isRaised"`
}

// NewMessagePayload is the full persisted message.
type NewMessagePayload struct {
	models.Message
}

// QuestionAnsweredPayload flags a question as answered.
type QuestionAnsweredPayload struct {
	MessageID uuid.UUID `json:"messageId"`
}

// ScreenSharePayload announces a screen-share start or stop.
type ScreenSharePayload struct {
	UserID   uuid.UUID `json:"userId"`
	UserName string    `json:"userName,omitempty"`
}

// LivestreamPayload announces a livestream start or end. Empty fields are
// omitted for the HTTP-originated variant, which sends no body.
type LivestreamPayload struct {
	UserID   *uuid.UUID `json:"userId,omitempty"`
	UserName string     `json:"userName,omitempty"`
}

// LivestreamActivePayload tells a late joiner that a stream is already running.
type LivestreamActivePayload struct {
	TeacherID   uuid.UUID `json:"teacherId"`
	TeacherName string    `json:"teacherName"`
}

// NewProducerPayload announces an opened media producer to consumers.
type NewProducerPayload struct {
	ProducerID string     `json:"producerId"`
	Kind       string     `json:"kind"`
	UserID     *uuid.UUID `json:"userId,omitempty"`
}

// ProducerClosedPayload announces a closed media producer.
type ProducerClosedPayload struct {
	ProducerID string `json:"producerId"`
}
