package models

import (
	"time"

	"github.com/google/uuid"
)

// Message is one chat entry in a session. UserName is denormalized at send time
// so history survives later renames. Immutable except for the Answered flag,
// which is only meaningful when IsQuestion is set.
type Message struct {
	ID         uuid.UUID `json:"messageId"`
	SessionID  uuid.UUID `json:"-"`
	UserID     uuid.UUID `json:"userId"`
	UserName   string    `json:"userName"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	IsQuestion bool      `json:"isQuestion"`
	Answered   bool      `json:"answered"`
}
