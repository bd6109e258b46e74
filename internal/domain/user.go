package domain

import (
	"time"

	"github.com/google/uuid"
)

// User represents an account owned by the Identity Provider.
// The chat core treats users as read-only: it references them by id and
// hydrates display info for responses, but never mutates them.
type User struct {
	UserID      uuid.UUID `json:"user_id" db:"user_id"`
	DisplayName string    `json:"display_name" db:"display_name"`
	AvatarURL   *string   `json:"avatar_url,omitempty" db:"avatar_url"`
	IsActive    bool      `json:"is_active" db:"is_active"`
	Roles       []string  `json:"roles" db:"roles"` // user, moderator, admin
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// HasModeratorRole reports whether the user carries a global moderator or admin role
func (u *User) HasModeratorRole() bool {
	for _, role := range u.Roles {
		if role == "moderator" || role == "admin" {
			return true
		}
	}
	return false
}

// UserSummary is the participant display info embedded in responses
type UserSummary struct {
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
	AvatarURL   *string   `json:"avatar_url,omitempty"`
	IsActive    bool      `json:"is_active"`
}

// Summary converts a User to its embeddable summary form
func (u *User) Summary() UserSummary {
	return UserSummary{
		UserID:      u.UserID,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		IsActive:    u.IsActive,
	}
}
