package ws

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"relaychat-backend/internal/events"
	"relaychat-backend/internal/service/message"
	"relaychat-backend/internal/service/receipt"
	apperrors "relaychat-backend/pkg/errors"
)

// handleEvent dispatches one inbound frame. Every event gets an ack,
// success or not, carrying the client's correlation ID.
func (h *Hub) handleEvent(client *Client, data []byte) {
	var event ClientEvent
	if err := json.Unmarshal(data, &event); err != nil {
		client.sendAck(errAck(&ClientEvent{}, CodeInvalidPayload, "Malformed event frame"))
		return
	}

	if allowed, retryAfter := h.limiter.Allow(client.userID.String(), event.Type); !allowed {
		if h.metrics != nil {
			h.metrics.RecordRateLimitBlocked(event.Type)
		}
		ack := errAck(&event, string(apperrors.ErrCodeRateLimitExceeded), "Rate limit exceeded")
		ack.Data = map[string]int{"retry_after_seconds": retryAfter}
		client.sendAck(ack)
		return
	}

	// Socket events outlive the HTTP upgrade request, so they run on a
	// fresh context
	ctx := context.Background()

	var ack *Ack
	switch event.Type {
	case EventConversationJoin:
		ack = h.handleJoin(ctx, client, &event)
	case EventConversationLeave:
		ack = h.handleLeave(client, &event)
	case EventMessageSend:
		ack = h.handleSend(ctx, client, &event)
	case EventMessageEdit:
		ack = h.handleEdit(ctx, client, &event)
	case EventMessageDelete:
		ack = h.handleDelete(ctx, client, &event)
	case EventMessageRead:
		ack = h.handleRead(ctx, client, &event)
	case EventTypingStart:
		ack = h.handleTypingStart(ctx, client, &event)
	case EventTypingStop:
		ack = h.handleTypingStop(client, &event)
	case EventPresenceGet:
		ack = h.handlePresenceGet(client, &event)
	case EventUnreadGet:
		ack = h.handleUnreadGet(ctx, client, &event)
	case EventUnreadGetAll:
		ack = h.handleUnreadGetAll(ctx, client, &event)
	default:
		ack = errAck(&event, CodeUnknownEvent, "Unknown event type: "+event.Type)
	}

	if h.metrics != nil {
		status := "success"
		if !ack.Success {
			status = "error"
		}
		h.metrics.RecordWebSocketEvent(event.Type, status)
	}

	client.sendAck(ack)
}

// ackFromError maps a service error onto an ack frame
func ackFromError(event *ClientEvent, err error) *Ack {
	appErr := apperrors.GetAppError(err)
	ack := errAck(event, string(appErr.Code), appErr.Message)
	if appErr.Details != nil {
		ack.Data = appErr.Details
	}
	return ack
}

func (h *Hub) handleJoin(ctx context.Context, client *Client, event *ClientEvent) *Ack {
	var payload conversationPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil || payload.ConversationID == uuid.Nil {
		return errAck(event, CodeMissingConversationID, "conversation_id is required")
	}

	if !h.access.IsMember(ctx, payload.ConversationID, client.userID) {
		return errAck(event, CodeUnauthorized, "You are not a member of this conversation")
	}

	h.joinRoom(client, payload.ConversationID)

	return okAck(event, map[string]interface{}{
		"conversation_id": payload.ConversationID,
		"room":            events.ConversationChannel(payload.ConversationID),
	})
}

func (h *Hub) handleLeave(client *Client, event *ClientEvent) *Ack {
	var payload conversationPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil || payload.ConversationID == uuid.Nil {
		return errAck(event, CodeMissingConversationID, "conversation_id is required")
	}

	h.leaveRoom(client, payload.ConversationID)

	return okAck(event, map[string]interface{}{"conversation_id": payload.ConversationID})
}

func (h *Hub) handleSend(ctx context.Context, client *Client, event *ClientEvent) *Ack {
	var payload sendMessagePayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return errAck(event, CodeInvalidPayload, "Malformed payload")
	}
	if payload.ConversationID == uuid.Nil {
		return errAck(event, CodeMissingConversationID, "conversation_id is required")
	}

	response, err := h.messages.Send(ctx, &message.SendInput{
		ConversationID: payload.ConversationID,
		SenderID:       client.userID,
		Content:        payload.Content,
		Kind:           payload.Kind,
		Attachments:    payload.Attachments,
	})
	if err != nil {
		return ackFromError(event, err)
	}

	return okAck(event, response)
}

func (h *Hub) handleEdit(ctx context.Context, client *Client, event *ClientEvent) *Ack {
	var payload editMessagePayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return errAck(event, CodeInvalidPayload, "Malformed payload")
	}
	if payload.ConversationID == uuid.Nil {
		return errAck(event, CodeMissingConversationID, "conversation_id is required")
	}

	response, err := h.messages.Edit(ctx, &message.EditInput{
		ConversationID: payload.ConversationID,
		MessageID:      payload.MessageID,
		UserID:         client.userID,
		Content:        payload.Content,
	})
	if err != nil {
		return ackFromError(event, err)
	}

	return okAck(event, response)
}

func (h *Hub) handleDelete(ctx context.Context, client *Client, event *ClientEvent) *Ack {
	var payload deleteMessagePayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return errAck(event, CodeInvalidPayload, "Malformed payload")
	}
	if payload.ConversationID == uuid.Nil {
		return errAck(event, CodeMissingConversationID, "conversation_id is required")
	}

	if err := h.messages.Delete(ctx, payload.ConversationID, payload.MessageID, client.userID); err != nil {
		return ackFromError(event, err)
	}

	return okAck(event, map[string]interface{}{
		"conversation_id": payload.ConversationID,
		"message_id":      payload.MessageID,
	})
}

func (h *Hub) handleRead(ctx context.Context, client *Client, event *ClientEvent) *Ack {
	var payload readPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return errAck(event, CodeInvalidPayload, "Malformed payload")
	}
	if payload.ConversationID == uuid.Nil {
		return errAck(event, CodeMissingConversationID, "conversation_id is required")
	}

	readReceipt, err := h.receipts.MarkAsRead(ctx, &receipt.MarkAsReadInput{
		ConversationID:    payload.ConversationID,
		UserID:            client.userID,
		LastReadMessageID: payload.LastReadMessageID,
	})
	if err != nil {
		return ackFromError(event, err)
	}

	return okAck(event, readReceipt)
}

func (h *Hub) handleTypingStart(ctx context.Context, client *Client, event *ClientEvent) *Ack {
	var payload conversationPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil || payload.ConversationID == uuid.Nil {
		return errAck(event, CodeMissingConversationID, "conversation_id is required")
	}

	if !h.access.IsMember(ctx, payload.ConversationID, client.userID) {
		return errAck(event, CodeUnauthorized, "You are not a member of this conversation")
	}

	conversationID := payload.ConversationID
	userID := client.userID
	fresh := h.typing.Start(userID, conversationID, func() {
		h.broadcastLocal(conversationID, userID, events.TypingStop, map[string]interface{}{
			"conversation_id": conversationID,
			"user_id":         userID,
		})
	})
	if fresh {
		h.broadcastLocal(conversationID, userID, events.TypingStart, map[string]interface{}{
			"conversation_id": conversationID,
			"user_id":         userID,
		})
	}

	return okAck(event, nil)
}

func (h *Hub) handleTypingStop(client *Client, event *ClientEvent) *Ack {
	var payload conversationPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil || payload.ConversationID == uuid.Nil {
		return errAck(event, CodeMissingConversationID, "conversation_id is required")
	}

	if h.typing.Stop(client.userID, payload.ConversationID) {
		h.broadcastLocal(payload.ConversationID, client.userID, events.TypingStop, map[string]interface{}{
			"conversation_id": payload.ConversationID,
			"user_id":         client.userID,
		})
	}

	return okAck(event, nil)
}

func (h *Hub) handlePresenceGet(client *Client, event *ClientEvent) *Ack {
	var payload presencePayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil || len(payload.UserIDs) == 0 {
		return errAck(event, CodeInvalidPayload, "user_ids is required")
	}

	return okAck(event, map[string]interface{}{
		"online": h.presence.Online(payload.UserIDs),
	})
}

func (h *Hub) handleUnreadGet(ctx context.Context, client *Client, event *ClientEvent) *Ack {
	var payload conversationPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil || payload.ConversationID == uuid.Nil {
		return errAck(event, CodeMissingConversationID, "conversation_id is required")
	}

	count, err := h.receipts.GetUnreadCount(ctx, payload.ConversationID, client.userID)
	if err != nil {
		return ackFromError(event, err)
	}

	return okAck(event, map[string]interface{}{
		"conversation_id": payload.ConversationID,
		"unread_count":    count,
	})
}

func (h *Hub) handleUnreadGetAll(ctx context.Context, client *Client, event *ClientEvent) *Ack {
	var payload unreadAllPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil || len(payload.ConversationIDs) == 0 {
		return errAck(event, CodeInvalidPayload, "conversation_ids is required")
	}

	counts, err := h.receipts.GetUnreadCounts(ctx, client.userID, payload.ConversationIDs)
	if err != nil {
		return ackFromError(event, err)
	}

	return okAck(event, map[string]interface{}{"unread_counts": counts})
}
