package events

import (
	"fmt"

	"github.com/google/uuid"
)

// Event types fanned out over Redis Pub/Sub and relayed to sockets
const (
	MessageNew     = "message:new"
	MessageEdited  = "message:edited"
	MessageDeleted = "message:deleted"
	MessageRead    = "message:read"

	ConversationCreated = "conversation:created"
	ConversationUpdated = "conversation:updated"
	ConversationDeleted = "conversation:deleted"

	ParticipantAdded   = "participant:added"
	ParticipantRemoved = "participant:removed"

	// ChatUpdate carries a changed last-message preview to each
	// participant's personal channel for conversation-list refresh
	ChatUpdate = "chat:update"

	// UserJoined/UserLeft are room membership notifications for sockets
	// currently joined to the room, best-effort only
	UserJoined = "user:joined"
	UserLeft   = "user:left"

	TypingStart = "typing:start"
	TypingStop  = "typing:stop"

	PresenceOnline  = "presence:online"
	PresenceOffline = "presence:offline"
)

// Event is the wire envelope published to Redis and delivered to sockets
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// ConversationChannel names the Pub/Sub channel for a conversation room
func ConversationChannel(conversationID uuid.UUID) string {
	return fmt.Sprintf("conversation:%s", conversationID)
}

// UserChannel names the personal Pub/Sub channel for one user
func UserChannel(userID uuid.UUID) string {
	return fmt.Sprintf("user:%s", userID)
}
