package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// typingTimeout auto-stops a typing indicator when no explicit stop
// arrives, covering clients that disconnect mid-keystroke
const typingTimeout = 3 * time.Second

// TypingTracker debounces typing indicators per (user, conversation).
// A repeated start resets the timer instead of firing a duplicate
// event. State is process local.
type TypingTracker struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewTypingTracker creates a new typing tracker
func NewTypingTracker() *TypingTracker {
	return &TypingTracker{
		timers: make(map[string]*time.Timer),
	}
}

func typingKey(userID, conversationID uuid.UUID) string {
	return userID.String() + ":" + conversationID.String()
}

// Start records a typing indicator and reports whether the user was
// not already typing (a fresh start worth broadcasting). onExpire runs
// if no stop or further start arrives within the timeout.
func (t *TypingTracker) Start(userID, conversationID uuid.UUID, onExpire func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := typingKey(userID, conversationID)
	if timer, ok := t.timers[key]; ok {
		timer.Reset(typingTimeout)
		return false
	}

	t.timers[key] = time.AfterFunc(typingTimeout, func() {
		t.mu.Lock()
		delete(t.timers, key)
		t.mu.Unlock()
		onExpire()
	})
	return true
}

// Stop clears a typing indicator and reports whether one was active
func (t *TypingTracker) Stop(userID, conversationID uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := typingKey(userID, conversationID)
	timer, ok := t.timers[key]
	if !ok {
		return false
	}
	timer.Stop()
	delete(t.timers, key)
	return true
}

// StopAll clears every indicator for a user, called on disconnect.
// Returns the conversations that had an active indicator.
func (t *TypingTracker) StopAll(userID uuid.UUID) []uuid.UUID {
	t.mu.Lock()
	defer t.mu.Unlock()

	prefix := userID.String() + ":"
	var conversations []uuid.UUID
	for key, timer := range t.timers {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			if conversationID, err := uuid.Parse(key[len(prefix):]); err == nil {
				conversations = append(conversations, conversationID)
			}
			timer.Stop()
			delete(t.timers, key)
		}
	}
	return conversations
}
