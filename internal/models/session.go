package models

import (
	"time"

	"github.com/google/uuid"
)

// Session represents one classroom instance with one teacher and many participants.
//
// ProducerID is the external media server's handle for the teacher's livestream
// producer. Invariant: ProducerID is non-nil only while IsLivestreaming is true;
// any transition out of the streaming state clears both together.
type Session struct {
	ID                 uuid.UUID  `json:"sessionId"`
	TeacherID          uuid.UUID  `json:"teacherId"`
	Name               string     `json:"name"`
	IsActive           bool       `json:"isActive"`
	CreatedAt          *time.Time `json:"createdAt,omitempty"`
	SharedScreenUserID *uuid.UUID `json:"sharedScreenUserId,omitempty"`
	IsLivestreaming    bool       `json:"isLivestreaming"`
	RecordingURL       *string    `json:"recordingUrl,omitempty"`
	ProducerID         *string    `json:"producerId,omitempty"`
	Participants       []User     `json:"participants,omitempty"`
}

// LivestreamSummary is one row of the active-livestream listing.
type LivestreamSummary struct {
	SessionID        uuid.UUID  `json:"sessionId"`
	Name             string     `json:"name"`
	TeacherID        uuid.UUID  `json:"teacherId"`
	TeacherName      string     `json:"teacherName"`
	ParticipantCount int        `json:"participantCount"`
	CreatedAt        *time.Time `json:"createdAt,omitempty"`
}
