package domain

import (
	"time"

	"github.com/google/uuid"
)

// Conversation kinds
const (
	ConversationDirect = "direct"
	ConversationGroup  = "group"
)

// Participant roles
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// MaxGroupNameLength caps group conversation names
const MaxGroupNameLength = 100

// MaxGroupParticipants caps the total roster size of a group
const MaxGroupParticipants = 100

// Conversation represents conversation metadata and its participant roster.
// Maps to CockroachDB conversations + conversation_participants tables.
type Conversation struct {
	ConversationID uuid.UUID           `json:"conversation_id" db:"conversation_id"`
	Kind           string              `json:"kind" db:"kind"` // direct, group
	Name           *string             `json:"name,omitempty" db:"name"`
	Participants   []Participant       `json:"participants"`
	CreatedBy      uuid.UUID           `json:"created_by" db:"created_by"`
	LastMessage    *LastMessagePreview `json:"last_message,omitempty"`
	CreatedAt      time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at" db:"updated_at"`
}

// Participant represents a user in a conversation
type Participant struct {
	UserID   uuid.UUID `json:"user_id" db:"user_id"`
	Role     string    `json:"role" db:"role"` // admin, member
	JoinedAt time.Time `json:"joined_at" db:"joined_at"`
}

// LastMessagePreview is the truncated preview shown in conversation lists
type LastMessagePreview struct {
	Content   string    `json:"content"`
	SenderID  uuid.UUID `json:"sender_id"`
	Timestamp time.Time `json:"timestamp"`
}

// IsParticipant reports whether the user is on the roster
func (c *Conversation) IsParticipant(userID uuid.UUID) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the user holds the admin role in this conversation
func (c *Conversation) IsAdmin(userID uuid.UUID) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return p.Role == RoleAdmin
		}
	}
	return false
}

// AdminCount returns the number of participants with the admin role
func (c *Conversation) AdminCount() int {
	n := 0
	for _, p := range c.Participants {
		if p.Role == RoleAdmin {
			n++
		}
	}
	return n
}

// ParticipantCount returns the roster size
func (c *Conversation) ParticipantCount() int {
	return len(c.Participants)
}

// ConversationResponse is the conversation with hydrated participant info
type ConversationResponse struct {
	ConversationID uuid.UUID             `json:"conversation_id"`
	Kind           string                `json:"kind"`
	Name           *string               `json:"name,omitempty"`
	Participants   []ParticipantResponse `json:"participants"`
	CreatedBy      uuid.UUID             `json:"created_by"`
	LastMessage    *LastMessagePreview   `json:"last_message,omitempty"`
	UnreadCount    int                   `json:"unread_count"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

// ParticipantResponse carries roster entry plus user display info
type ParticipantResponse struct {
	User     UserSummary `json:"user"`
	Role     string      `json:"role"`
	JoinedAt time.Time   `json:"joined_at"`
}
