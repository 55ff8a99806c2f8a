// Package store holds the Postgres row stores for users,
// conversations, messages, and pins.
package store

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a row does not exist or is not owned by
// the requesting user. Callers must not learn which of the two it was.
var ErrNotFound = errors.New("not found")

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type User struct {
	ID                   uuid.UUID
	Username             string
	DisplayName          string
	IsAdmin              bool
	IsBlocked            bool
	DailyLimit           *int
	PersonalAPIKeyCipher *string
	ProfileSummary       *string
	CreatedAt            time.Time
}

// HasPersonalKey reports whether the user supplied their own model
// credentials. Such users bypass the shared daily cap.
func (u User) HasPersonalKey() bool {
	return u.PersonalAPIKeyCipher != nil && *u.PersonalAPIKeyCipher != ""
}

type Conversation struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Title     *string
	Summary   *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Role           string
	Content        string
	CreatedAt      time.Time
}
