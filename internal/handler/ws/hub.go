package ws

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"relaychat-backend/internal/domain"
	"relaychat-backend/internal/events"
	"relaychat-backend/internal/service/message"
	"relaychat-backend/internal/service/receipt"
	"relaychat-backend/pkg/logger"
	"relaychat-backend/pkg/metrics"
)

// MessageService is the message lifecycle surface the hub drives
type MessageService interface {
	Send(ctx context.Context, input *message.SendInput) (*domain.MessageResponse, error)
	Edit(ctx context.Context, input *message.EditInput) (*domain.MessageResponse, error)
	Delete(ctx context.Context, conversationID, messageID, userID uuid.UUID) error
}

// ReceiptService resolves read positions and unread counters
type ReceiptService interface {
	MarkAsRead(ctx context.Context, input *receipt.MarkAsReadInput) (*domain.ReadReceipt, error)
	GetUnreadCount(ctx context.Context, conversationID, userID uuid.UUID) (int, error)
	GetUnreadCounts(ctx context.Context, userID uuid.UUID, conversationIDs []uuid.UUID) (map[uuid.UUID]int, error)
}

// AccessService answers membership for room joins and typing relays
type AccessService interface {
	IsMember(ctx context.Context, conversationID, userID uuid.UUID) bool
}

// Subscriber feeds the hub events published by this or any other
// service instance
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func())
}

// subscription refcounts one broker channel across local clients
type subscription struct {
	cancel func()
	refs   int
}

// Hub manages every live socket on this instance. Each client holds
// one connection regardless of how many conversations it watches;
// rooms are joined and left over the socket. Events published to Redis
// are relayed to room members and personal channels, so mutations made
// over REST reach sockets the same way socket-made ones do.
type Hub struct {
	mu            sync.RWMutex
	clientsByUser map[uuid.UUID]map[*Client]bool
	rooms         map[uuid.UUID]map[*Client]bool
	subs          map[string]*subscription

	broker   Subscriber
	messages MessageService
	receipts ReceiptService
	access   AccessService

	presence *PresenceTracker
	typing   *TypingTracker
	limiter  *EventRateLimiter
	metrics  *metrics.Metrics
}

// NewHub creates a new hub
func NewHub(broker Subscriber, messages MessageService, receipts ReceiptService, access AccessService, m *metrics.Metrics) *Hub {
	limiter := NewEventRateLimiter()
	limiter.StartSweep(5 * time.Minute)

	return &Hub{
		clientsByUser: make(map[uuid.UUID]map[*Client]bool),
		rooms:         make(map[uuid.UUID]map[*Client]bool),
		subs:          make(map[string]*subscription),
		broker:        broker,
		messages:      messages,
		receipts:      receipts,
		access:        access,
		presence:      NewPresenceTracker(),
		typing:        NewTypingTracker(),
		limiter:       limiter,
		metrics:       m,
	}
}

// register attaches a new client and its personal channel
func (h *Hub) register(client *Client) {
	h.mu.Lock()
	if h.clientsByUser[client.userID] == nil {
		h.clientsByUser[client.userID] = make(map[*Client]bool)
	}
	h.clientsByUser[client.userID][client] = true
	h.subscribeLocked(events.UserChannel(client.userID))
	h.mu.Unlock()

	if h.presence.Add(client.userID, client.connID) {
		if data, err := json.Marshal(events.Event{Type: events.PresenceOnline, Payload: map[string]interface{}{
			"user_id": client.userID,
		}}); err == nil {
			h.sendToUser(client.userID, data)
		}
	}

	if h.metrics != nil {
		h.metrics.IncrementWebSocketConnections()
	}
}

// unregister detaches a client, leaving its rooms and, when this was
// the user's last connection, clearing typing state and announcing the
// user offline
func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	joined := make([]uuid.UUID, 0, len(client.rooms))
	for conversationID := range client.rooms {
		joined = append(joined, conversationID)
		h.removeFromRoomLocked(client, conversationID)
	}

	if clients, ok := h.clientsByUser[client.userID]; ok {
		if clients[client] {
			delete(clients, client)
			close(client.send)
			h.unsubscribeLocked(events.UserChannel(client.userID))
		}
		if len(clients) == 0 {
			delete(h.clientsByUser, client.userID)
		}
	}
	h.mu.Unlock()

	wentOffline := h.presence.Remove(client.userID, client.connID)
	if wentOffline {
		for _, conversationID := range h.typing.StopAll(client.userID) {
			h.broadcastLocal(conversationID, client.userID, events.TypingStop, map[string]interface{}{
				"conversation_id": conversationID,
				"user_id":         client.userID,
			})
		}
		for _, conversationID := range joined {
			h.broadcastLocal(conversationID, client.userID, events.PresenceOffline, map[string]interface{}{
				"user_id": client.userID,
			})
		}
	}

	if h.metrics != nil {
		h.metrics.DecrementWebSocketConnections()
	}
}

// joinRoom adds a client to a conversation room. Membership is checked
// by the caller.
func (h *Hub) joinRoom(client *Client, conversationID uuid.UUID) {
	h.mu.Lock()
	if client.rooms[conversationID] {
		h.mu.Unlock()
		return
	}
	client.rooms[conversationID] = true
	if h.rooms[conversationID] == nil {
		h.rooms[conversationID] = make(map[*Client]bool)
	}
	h.rooms[conversationID][client] = true
	h.subscribeLocked(events.ConversationChannel(conversationID))
	h.mu.Unlock()

	h.broadcastLocal(conversationID, client.userID, events.UserJoined, map[string]interface{}{
		"user_id":         client.userID,
		"conversation_id": conversationID,
	})
}

// leaveRoom removes a client from a conversation room
func (h *Hub) leaveRoom(client *Client, conversationID uuid.UUID) {
	h.mu.Lock()
	if !client.rooms[conversationID] {
		h.mu.Unlock()
		return
	}
	h.removeFromRoomLocked(client, conversationID)
	h.mu.Unlock()

	h.broadcastLocal(conversationID, client.userID, events.UserLeft, map[string]interface{}{
		"user_id":         client.userID,
		"conversation_id": conversationID,
	})
}

// removeFromRoomLocked drops a client from a room. Caller holds h.mu.
func (h *Hub) removeFromRoomLocked(client *Client, conversationID uuid.UUID) {
	delete(client.rooms, conversationID)
	if clients, ok := h.rooms[conversationID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.rooms, conversationID)
		}
		h.unsubscribeLocked(events.ConversationChannel(conversationID))
	}
}

// subscribeLocked refcounts a broker subscription. Caller holds h.mu.
func (h *Hub) subscribeLocked(channel string) {
	if sub, ok := h.subs[channel]; ok {
		sub.refs++
		return
	}

	ch, cancel := h.broker.Subscribe(context.Background(), channel)
	h.subs[channel] = &subscription{cancel: cancel, refs: 1}

	go func() {
		for payload := range ch {
			h.relay(channel, payload)
		}
	}()
}

// unsubscribeLocked drops one reference, closing the broker
// subscription when the last local consumer is gone. Caller holds h.mu.
func (h *Hub) unsubscribeLocked(channel string) {
	sub, ok := h.subs[channel]
	if !ok {
		return
	}
	sub.refs--
	if sub.refs <= 0 {
		sub.cancel()
		delete(h.subs, channel)
	}
}

// relay forwards one published event to the sockets it addresses
func (h *Hub) relay(channel string, payload []byte) {
	switch {
	case strings.HasPrefix(channel, "conversation:"):
		conversationID, err := uuid.Parse(strings.TrimPrefix(channel, "conversation:"))
		if err != nil {
			return
		}
		h.sendToRoom(conversationID, readActor(payload), payload)
	case strings.HasPrefix(channel, "user:"):
		userID, err := uuid.Parse(strings.TrimPrefix(channel, "user:"))
		if err != nil {
			return
		}
		h.sendToUser(userID, payload)
	}
}

// readActor names the user behind a message:read event so their own
// sockets are skipped on fan-out; every other event goes to the whole
// room
func readActor(payload []byte) uuid.UUID {
	var event struct {
		Type    string `json:"type"`
		Payload struct {
			UserID uuid.UUID `json:"user_id"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(payload, &event); err != nil || event.Type != events.MessageRead {
		return uuid.Nil
	}
	return event.Payload.UserID
}

// sendToRoom delivers a frame to every client in a room except the
// excluded user's connections
func (h *Hub) sendToRoom(conversationID uuid.UUID, exclude uuid.UUID, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.rooms[conversationID] {
		if exclude != uuid.Nil && client.userID == exclude {
			continue
		}
		client.enqueue(data, h.metrics)
	}
}

// sendToUser delivers a frame to every connection of one user
func (h *Hub) sendToUser(userID uuid.UUID, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clientsByUser[userID] {
		client.enqueue(data, h.metrics)
	}
}

// broadcastLocal fans an instance-local event (typing, presence) out
// to a room, skipping the originating user's own connections. These
// events never cross Redis; each instance announces only the clients
// it holds.
func (h *Hub) broadcastLocal(conversationID uuid.UUID, exclude uuid.UUID, eventType string, payload interface{}) {
	data, err := json.Marshal(events.Event{Type: eventType, Payload: payload})
	if err != nil {
		logger.Error("failed to marshal local event", zap.String("event", eventType), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.rooms[conversationID] {
		if client.userID == exclude {
			continue
		}
		client.enqueue(data, h.metrics)
	}
}

// OnlineUsers filters the given users down to those with a live socket here
func (h *Hub) OnlineUsers(userIDs []uuid.UUID) []uuid.UUID {
	return h.presence.Online(userIDs)
}
