package domain

import (
	"time"

	"github.com/google/uuid"
)

// ReadReceipt tracks per-user-per-conversation read position and the cached
// unread counter. Unique on (conversation_id, user_id).
// Maps to CockroachDB read_receipts table.
type ReadReceipt struct {
	ConversationID    uuid.UUID  `json:"conversation_id" db:"conversation_id"`
	UserID            uuid.UUID  `json:"user_id" db:"user_id"`
	LastReadMessageID *uuid.UUID `json:"last_read_message_id,omitempty" db:"last_read_message_id"`
	LastReadAt        time.Time  `json:"last_read_at" db:"last_read_at"`
	UnreadCount       int        `json:"unread_count" db:"unread_count"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}
