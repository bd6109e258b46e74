package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message kinds
const (
	MessageText  = "text"
	MessageImage = "image"
	MessageFile  = "file"
)

// MaxMessageLength caps message content
const MaxMessageLength = 5000

// MaxPreviewLength caps the last-message preview stored on the conversation
const MaxPreviewLength = 200

// DeletedMessageTombstone replaces the content of soft-deleted messages
const DeletedMessageTombstone = "This message has been deleted"

// Message represents a chat message entity.
// Maps to the Cassandra messages table, partitioned by conversation with
// clustering (created_at DESC, message_id DESC) for stable newest-first reads.
type Message struct {
	MessageID      uuid.UUID    `json:"message_id" cql:"message_id"`
	ConversationID uuid.UUID    `json:"conversation_id" cql:"conversation_id"`
	SenderID       uuid.UUID    `json:"sender_id" cql:"sender_id"`
	Content        string       `json:"content" cql:"content"`
	Kind           string       `json:"kind" cql:"kind"` // text, image, file
	Attachments    []Attachment `json:"attachments,omitempty"`
	IsEdited       bool         `json:"is_edited" cql:"is_edited"`
	IsDeleted      bool         `json:"is_deleted" cql:"is_deleted"`
	EditHistory    []EditEntry  `json:"edit_history,omitempty"`
	CreatedAt      time.Time    `json:"created_at" cql:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at" cql:"updated_at"`
}

// Attachment describes a file or image attached to a message
type Attachment struct {
	URL    string `json:"url"`
	Mime   string `json:"mime,omitempty"`
	Size   int64  `json:"size,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Name   string `json:"name,omitempty"`
}

// EditEntry records prior content before an edit
type EditEntry struct {
	Content  string    `json:"content"`
	EditedAt time.Time `json:"edited_at"`
}

// MessageResponse represents the message returned to clients
type MessageResponse struct {
	MessageID      uuid.UUID    `json:"message_id"`
	ConversationID uuid.UUID    `json:"conversation_id"`
	Sender         *UserSummary `json:"sender,omitempty"`
	SenderID       uuid.UUID    `json:"sender_id"`
	Content        string       `json:"content"`
	Kind           string       `json:"kind"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	IsEdited       bool         `json:"is_edited"`
	IsDeleted      bool         `json:"is_deleted"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Response converts a Message to its client-facing form. Deleted
// messages keep their slot in history but expose only the tombstone.
func (m *Message) Response() *MessageResponse {
	content := m.Content
	attachments := m.Attachments
	if m.IsDeleted {
		content = DeletedMessageTombstone
		attachments = nil
	}
	return &MessageResponse{
		MessageID:      m.MessageID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        content,
		Kind:           m.Kind,
		Attachments:    attachments,
		IsEdited:       m.IsEdited,
		IsDeleted:      m.IsDeleted,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}
