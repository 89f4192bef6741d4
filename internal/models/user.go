package models

import "github.com/google/uuid"

// User represents one participant identity. IDs are opaque tokens handed out on
// create/join; is_teacher is fixed at creation.
type User struct {
	ID           uuid.UUID `json:"userId"`
	Name         string    `json:"name"`
	IsTeacher    bool      `json:"isTeacher"`
	HandRaised   bool      `json:"handRaised"`
	IsMuted      bool      `json:"isMuted"`      // defaults to muted on join
	VideoEnabled bool      `json:"videoEnabled"` // defaults to video on
	IsStreaming  bool      `json:"isStreaming"`  // teacher livestream flag
}
