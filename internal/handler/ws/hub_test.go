package ws

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"relaychat-backend/internal/domain"
	"relaychat-backend/internal/events"
	"relaychat-backend/internal/service/message"
	"relaychat-backend/internal/service/receipt"
	"relaychat-backend/pkg/logger"
)

func init() {
	logger.InitDefault()
}

// fakeBroker hands out in-memory channels instead of Redis Pub/Sub
type fakeBroker struct {
	mu       sync.Mutex
	channels map[string]chan []byte
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{channels: make(map[string]chan []byte)}
}

func (b *fakeBroker) Subscribe(ctx context.Context, channel string) (<-chan []byte, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan []byte, 16)
	b.channels[channel] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.channels[channel] == ch {
			delete(b.channels, channel)
			close(ch)
		}
	}
}

func (b *fakeBroker) publish(channel string, data []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.channels[channel]
	if !ok {
		return false
	}
	ch <- data
	return true
}

func (b *fakeBroker) subscribed(channel string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.channels[channel]
	return ok
}

type MockMessageService struct {
	mock.Mock
}

func (m *MockMessageService) Send(ctx context.Context, input *message.SendInput) (*domain.MessageResponse, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.MessageResponse), args.Error(1)
}

func (m *MockMessageService) Edit(ctx context.Context, input *message.EditInput) (*domain.MessageResponse, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.MessageResponse), args.Error(1)
}

func (m *MockMessageService) Delete(ctx context.Context, conversationID, messageID, userID uuid.UUID) error {
	args := m.Called(ctx, conversationID, messageID, userID)
	return args.Error(0)
}

type MockReceiptService struct {
	mock.Mock
}

func (m *MockReceiptService) MarkAsRead(ctx context.Context, input *receipt.MarkAsReadInput) (*domain.ReadReceipt, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ReadReceipt), args.Error(1)
}

func (m *MockReceiptService) GetUnreadCount(ctx context.Context, conversationID, userID uuid.UUID) (int, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Int(0), args.Error(1)
}

func (m *MockReceiptService) GetUnreadCounts(ctx context.Context, userID uuid.UUID, conversationIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	args := m.Called(ctx, userID, conversationIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[uuid.UUID]int), args.Error(1)
}

type MockAccessService struct {
	mock.Mock
}

func (m *MockAccessService) IsMember(ctx context.Context, conversationID, userID uuid.UUID) bool {
	args := m.Called(ctx, conversationID, userID)
	return args.Bool(0)
}

func newTestHub() (*Hub, *fakeBroker, *MockMessageService, *MockReceiptService, *MockAccessService) {
	broker := newFakeBroker()
	messages := new(MockMessageService)
	receipts := new(MockReceiptService)
	access := new(MockAccessService)
	hub := NewHub(broker, messages, receipts, access, nil)
	return hub, broker, messages, receipts, access
}

func newTestClient(hub *Hub, userID uuid.UUID) *Client {
	return &Client{
		hub:    hub,
		send:   make(chan []byte, 16),
		userID: userID,
		connID: uuid.New().String(),
		rooms:  make(map[uuid.UUID]bool),
	}
}

// registerClient attaches a client and drains its own online announcement
func registerClient(t *testing.T, hub *Hub, client *Client) {
	t.Helper()
	hub.register(client)
	readFrame(t, client)
}

// readFrame pops one queued frame with a timeout
func readFrame(t *testing.T, client *Client) []byte {
	t.Helper()
	select {
	case data := <-client.send:
		return data
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func readAck(t *testing.T, client *Client) *Ack {
	t.Helper()
	var ack Ack
	require.NoError(t, json.Unmarshal(readFrame(t, client), &ack))
	return &ack
}

func TestRateLimiterBlocksEleventhSend(t *testing.T) {
	limiter := NewEventRateLimiter()
	userID := uuid.New().String()

	for i := 0; i < 10; i++ {
		allowed, _ := limiter.Allow(userID, EventMessageSend)
		assert.True(t, allowed, "send %d should pass", i+1)
	}

	allowed, retryAfter := limiter.Allow(userID, EventMessageSend)
	assert.False(t, allowed)
	assert.Greater(t, retryAfter, 0)
}

func TestRateLimiterResetsAfterWindow(t *testing.T) {
	limiter := NewEventRateLimiter()
	now := time.Now()
	limiter.now = func() time.Time { return now }
	userID := uuid.New().String()

	for i := 0; i < 10; i++ {
		limiter.Allow(userID, EventMessageSend)
	}
	allowed, _ := limiter.Allow(userID, EventMessageSend)
	assert.False(t, allowed)

	now = now.Add(61 * time.Second)
	allowed, _ = limiter.Allow(userID, EventMessageSend)
	assert.True(t, allowed)
}

func TestRateLimiterIsPerUser(t *testing.T) {
	limiter := NewEventRateLimiter()
	first := uuid.New().String()
	second := uuid.New().String()

	for i := 0; i < 10; i++ {
		limiter.Allow(first, EventMessageSend)
	}
	allowed, _ := limiter.Allow(second, EventMessageSend)
	assert.True(t, allowed)
}

func TestTypingTrackerDebounces(t *testing.T) {
	tracker := NewTypingTracker()
	userID := uuid.New()
	conversationID := uuid.New()

	fresh := tracker.Start(userID, conversationID, func() {})
	assert.True(t, fresh)

	fresh = tracker.Start(userID, conversationID, func() {})
	assert.False(t, fresh)

	assert.True(t, tracker.Stop(userID, conversationID))
	assert.False(t, tracker.Stop(userID, conversationID))
}

func TestPresenceTrackerMultiDevice(t *testing.T) {
	tracker := NewPresenceTracker()
	userID := uuid.New()

	assert.True(t, tracker.Add(userID, "conn-1"))
	assert.False(t, tracker.Add(userID, "conn-2"))
	assert.True(t, tracker.IsOnline(userID))

	assert.False(t, tracker.Remove(userID, "conn-1"))
	assert.True(t, tracker.IsOnline(userID))
	assert.True(t, tracker.Remove(userID, "conn-2"))
	assert.False(t, tracker.IsOnline(userID))
}

func TestHubRelaysConversationEventsToRoom(t *testing.T) {
	hub, broker, _, _, _ := newTestHub()

	conversationID := uuid.New()
	member := newTestClient(hub, uuid.New())
	outsider := newTestClient(hub, uuid.New())

	registerClient(t, hub, member)
	registerClient(t, hub, outsider)
	hub.joinRoom(member, conversationID)

	payload, _ := json.Marshal(events.Event{Type: events.MessageNew, Payload: map[string]string{"content": "hi"}})
	require.True(t, broker.publish(events.ConversationChannel(conversationID), payload))

	frame := readFrame(t, member)
	var received events.Event
	require.NoError(t, json.Unmarshal(frame, &received))
	assert.Equal(t, events.MessageNew, received.Type)

	select {
	case <-outsider.send:
		t.Fatal("outsider should not receive room events")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubRelaysPersonalChannelEvents(t *testing.T) {
	hub, broker, _, _, _ := newTestHub()

	userID := uuid.New()
	client := newTestClient(hub, userID)
	registerClient(t, hub, client)

	payload, _ := json.Marshal(events.Event{Type: events.ConversationCreated})
	require.True(t, broker.publish(events.UserChannel(userID), payload))

	frame := readFrame(t, client)
	var received events.Event
	require.NoError(t, json.Unmarshal(frame, &received))
	assert.Equal(t, events.ConversationCreated, received.Type)
}

func TestHubUnsubscribesWhenRoomEmpties(t *testing.T) {
	hub, broker, _, _, _ := newTestHub()

	conversationID := uuid.New()
	client := newTestClient(hub, uuid.New())

	registerClient(t, hub, client)
	hub.joinRoom(client, conversationID)
	assert.True(t, broker.subscribed(events.ConversationChannel(conversationID)))

	hub.leaveRoom(client, conversationID)
	assert.False(t, broker.subscribed(events.ConversationChannel(conversationID)))

	hub.unregister(client)
	assert.False(t, broker.subscribed(events.UserChannel(client.userID)))
}

func TestHandleJoinRejectsNonMember(t *testing.T) {
	hub, _, _, _, access := newTestHub()

	conversationID := uuid.New()
	client := newTestClient(hub, uuid.New())
	registerClient(t, hub, client)

	access.On("IsMember", mock.Anything, conversationID, client.userID).Return(false)

	payload, _ := json.Marshal(conversationPayload{ConversationID: conversationID})
	frame, _ := json.Marshal(ClientEvent{ID: "req-1", Type: EventConversationJoin, Payload: payload})
	hub.handleEvent(client, frame)

	ack := readAck(t, client)
	assert.Equal(t, "req-1", ack.ID)
	assert.False(t, ack.Success)
	assert.Equal(t, CodeUnauthorized, ack.Code)
	assert.False(t, client.rooms[conversationID])
}

func TestHandleSendAcksWithMessage(t *testing.T) {
	hub, _, messages, _, _ := newTestHub()

	conversationID := uuid.New()
	client := newTestClient(hub, uuid.New())
	registerClient(t, hub, client)

	response := &domain.MessageResponse{
		MessageID:      uuid.New(),
		ConversationID: conversationID,
		SenderID:       client.userID,
		Content:        "hello",
	}
	messages.On("Send", mock.Anything, mock.MatchedBy(func(input *message.SendInput) bool {
		return input.ConversationID == conversationID && input.SenderID == client.userID
	})).Return(response, nil)

	payload, _ := json.Marshal(sendMessagePayload{ConversationID: conversationID, Content: "hello"})
	frame, _ := json.Marshal(ClientEvent{ID: "req-2", Type: EventMessageSend, Payload: payload})
	hub.handleEvent(client, frame)

	ack := readAck(t, client)
	assert.True(t, ack.Success)
	assert.Equal(t, "req-2", ack.ID)
	messages.AssertExpectations(t)
}

func TestHandleEventRateLimitAck(t *testing.T) {
	hub, _, messages, _, _ := newTestHub()

	conversationID := uuid.New()
	client := newTestClient(hub, uuid.New())
	registerClient(t, hub, client)

	messages.On("Send", mock.Anything, mock.Anything).Return(&domain.MessageResponse{}, nil)

	payload, _ := json.Marshal(sendMessagePayload{ConversationID: conversationID, Content: "hi"})
	frame, _ := json.Marshal(ClientEvent{Type: EventMessageSend, Payload: payload})

	for i := 0; i < 10; i++ {
		hub.handleEvent(client, frame)
		readAck(t, client)
	}

	hub.handleEvent(client, frame)
	ack := readAck(t, client)
	assert.False(t, ack.Success)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", ack.Code)

	data, ok := ack.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Greater(t, data["retry_after_seconds"].(float64), float64(0))
}

func TestHandleMissingConversationID(t *testing.T) {
	hub, _, _, _, _ := newTestHub()

	client := newTestClient(hub, uuid.New())
	registerClient(t, hub, client)

	frame, _ := json.Marshal(ClientEvent{Type: EventConversationJoin, Payload: json.RawMessage(`{}`)})
	hub.handleEvent(client, frame)

	ack := readAck(t, client)
	assert.False(t, ack.Success)
	assert.Equal(t, CodeMissingConversationID, ack.Code)
}

func TestTypingStartBroadcastsOnceToOthers(t *testing.T) {
	hub, _, _, _, access := newTestHub()

	conversationID := uuid.New()
	typist := newTestClient(hub, uuid.New())
	watcher := newTestClient(hub, uuid.New())

	registerClient(t, hub, typist)
	registerClient(t, hub, watcher)

	access.On("IsMember", mock.Anything, conversationID, mock.Anything).Return(true)

	joinPayload, _ := json.Marshal(conversationPayload{ConversationID: conversationID})
	joinFrame, _ := json.Marshal(ClientEvent{Type: EventConversationJoin, Payload: joinPayload})
	hub.handleEvent(typist, joinFrame)
	readAck(t, typist)
	hub.handleEvent(watcher, joinFrame)
	readAck(t, watcher)
	// watcher's join announces user:joined to the typist
	readFrame(t, typist)

	typingFrame, _ := json.Marshal(ClientEvent{Type: EventTypingStart, Payload: joinPayload})
	hub.handleEvent(typist, typingFrame)
	readAck(t, typist)

	var received events.Event
	require.NoError(t, json.Unmarshal(readFrame(t, watcher), &received))
	assert.Equal(t, events.TypingStart, received.Type)

	// repeated start within the debounce window stays silent
	hub.handleEvent(typist, typingFrame)
	readAck(t, typist)
	select {
	case <-watcher.send:
		t.Fatal("debounced typing start should not rebroadcast")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestJoinAndLeaveAnnounceToRoom(t *testing.T) {
	hub, _, _, _, _ := newTestHub()

	conversationID := uuid.New()
	resident := newTestClient(hub, uuid.New())
	visitor := newTestClient(hub, uuid.New())

	registerClient(t, hub, resident)
	registerClient(t, hub, visitor)
	hub.joinRoom(resident, conversationID)

	hub.joinRoom(visitor, conversationID)
	var joined events.Event
	require.NoError(t, json.Unmarshal(readFrame(t, resident), &joined))
	assert.Equal(t, events.UserJoined, joined.Type)

	hub.leaveRoom(visitor, conversationID)
	var left events.Event
	require.NoError(t, json.Unmarshal(readFrame(t, resident), &left))
	assert.Equal(t, events.UserLeft, left.Type)

	select {
	case <-visitor.send:
		t.Fatal("the joining client should not hear its own announcements")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRateLimiterSweepDropsExpiredWindows(t *testing.T) {
	limiter := NewEventRateLimiter()
	userID := uuid.New().String()

	current := time.Now()
	limiter.now = func() time.Time { return current }

	limiter.Allow(userID, EventMessageSend)
	limiter.Allow(userID, EventTypingStart)
	assert.Len(t, limiter.windows, 2)

	current = current.Add(time.Hour)
	limiter.sweep()
	assert.Len(t, limiter.windows, 0)
}

func TestReconnectKeepsRateLimitWindow(t *testing.T) {
	hub, _, _, _, _ := newTestHub()

	userID := uuid.New()
	client := newTestClient(hub, userID)
	registerClient(t, hub, client)

	for i := 0; i < 10; i++ {
		allowed, _ := hub.limiter.Allow(userID.String(), EventMessageSend)
		require.True(t, allowed)
	}
	allowed, _ := hub.limiter.Allow(userID.String(), EventMessageSend)
	require.False(t, allowed)

	hub.unregister(client)
	fresh := newTestClient(hub, userID)
	registerClient(t, hub, fresh)

	allowed, _ = hub.limiter.Allow(userID.String(), EventMessageSend)
	assert.False(t, allowed, "an exhausted window must survive reconnects")
}

func TestReadEventSkipsReaderSockets(t *testing.T) {
	hub, broker, _, _, _ := newTestHub()

	conversationID := uuid.New()
	reader := newTestClient(hub, uuid.New())
	other := newTestClient(hub, uuid.New())

	registerClient(t, hub, reader)
	registerClient(t, hub, other)
	hub.joinRoom(reader, conversationID)
	hub.joinRoom(other, conversationID)
	readFrame(t, reader) // other's join announcement

	payload, _ := json.Marshal(events.Event{Type: events.MessageRead, Payload: map[string]interface{}{
		"conversation_id": conversationID,
		"user_id":         reader.userID,
	}})
	require.True(t, broker.publish(events.ConversationChannel(conversationID), payload))

	var received events.Event
	require.NoError(t, json.Unmarshal(readFrame(t, other), &received))
	assert.Equal(t, events.MessageRead, received.Type)

	select {
	case <-reader.send:
		t.Fatal("the reader should not receive their own read event")
	case <-time.After(50 * time.Millisecond):
	}
}
