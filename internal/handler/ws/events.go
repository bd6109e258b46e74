package ws

import (
	"encoding/json"

	"github.com/google/uuid"

	"relaychat-backend/internal/domain"
)

// Client-initiated event types
const (
	EventConversationJoin  = "conversation:join"
	EventConversationLeave = "conversation:leave"
	EventMessageSend       = "message:send"
	EventMessageEdit       = "message:edit"
	EventMessageDelete     = "message:delete"
	EventMessageRead       = "message:read"
	EventTypingStart       = "typing:start"
	EventTypingStop        = "typing:stop"
	EventPresenceGet       = "presence:get"
	EventUnreadGet         = "unread:get"
	EventUnreadGetAll      = "unread:getAll"
)

// Ack error codes surfaced to clients
const (
	CodeUnauthorized          = "UNAUTHORIZED"
	CodeInvalidPayload        = "INVALID_PAYLOAD"
	CodeMissingConversationID = "MISSING_CONVERSATION_ID"
	CodeUnknownEvent          = "UNKNOWN_EVENT"
)

// ClientEvent is an inbound frame from a socket. ID is an optional
// client-chosen correlation token echoed back on the ack.
type ClientEvent struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Ack is the per-event response frame
type Ack struct {
	ID      string      `json:"id,omitempty"`
	Type    string      `json:"type"`
	Event   string      `json:"event"`
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// okAck builds a success ack for an event
func okAck(event *ClientEvent, data interface{}) *Ack {
	return &Ack{
		ID:      event.ID,
		Type:    "ack",
		Event:   event.Type,
		Success: true,
		Data:    data,
	}
}

// errAck builds a failure ack for an event
func errAck(event *ClientEvent, code, message string) *Ack {
	return &Ack{
		ID:      event.ID,
		Type:    "ack",
		Event:   event.Type,
		Success: false,
		Message: message,
		Code:    code,
	}
}

// Inbound payload shapes

type conversationPayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
}

type sendMessagePayload struct {
	ConversationID uuid.UUID           `json:"conversation_id"`
	Content        string              `json:"content"`
	Kind           string              `json:"kind,omitempty"`
	Attachments    []domain.Attachment `json:"attachments,omitempty"`
}

type editMessagePayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	MessageID      uuid.UUID `json:"message_id"`
	Content        string    `json:"content"`
}

type deleteMessagePayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	MessageID      uuid.UUID `json:"message_id"`
}

type readPayload struct {
	ConversationID    uuid.UUID  `json:"conversation_id"`
	LastReadMessageID *uuid.UUID `json:"last_read_message_id,omitempty"`
}

type presencePayload struct {
	UserIDs []uuid.UUID `json:"user_ids"`
}

type unreadAllPayload struct {
	ConversationIDs []uuid.UUID `json:"conversation_ids"`
}
