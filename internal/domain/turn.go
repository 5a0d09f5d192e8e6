// Package domain contains core domain types for the assistant server.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the speaker of a turn.
type Role string

const (
	// RoleSystem marks the synthetic instruction turn that seeds a conversation.
	RoleSystem Role = "system"
	// RoleUser marks a turn written by the signed-in user.
	RoleUser Role = "user"
	// RoleAssistant marks a model-generated turn.
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Turn is one utterance in a conversation. Turns are immutable once created;
// text is trimmed before construction, never mutated afterwards.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// NewTurn creates a turn with a fresh ID and the current time.
func NewTurn(role Role, text string) Turn {
	return Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		CreatedAt: time.Now(),
	}
}
