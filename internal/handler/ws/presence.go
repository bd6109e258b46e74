package ws

import (
	"sync"

	"github.com/google/uuid"
)

// PresenceTracker tracks which users have live sockets on this
// instance. A user is online while at least one of their connections
// is open, so presence survives multi-device flapping.
type PresenceTracker struct {
	mu    sync.RWMutex
	conns map[uuid.UUID]map[string]bool
}

// NewPresenceTracker creates a new presence tracker
func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{
		conns: make(map[uuid.UUID]map[string]bool),
	}
}

// Add registers a connection and reports whether the user just came online
func (t *PresenceTracker) Add(userID uuid.UUID, connID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conns[userID] == nil {
		t.conns[userID] = make(map[string]bool)
	}
	first := len(t.conns[userID]) == 0
	t.conns[userID][connID] = true
	return first
}

// Remove drops a connection and reports whether the user just went offline
func (t *PresenceTracker) Remove(userID uuid.UUID, connID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	conns, ok := t.conns[userID]
	if !ok {
		return false
	}
	delete(conns, connID)
	if len(conns) == 0 {
		delete(t.conns, userID)
		return true
	}
	return false
}

// IsOnline reports whether the user has any live connection
func (t *PresenceTracker) IsOnline(userID uuid.UUID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns[userID]) > 0
}

// Online filters the given users down to those currently online
func (t *PresenceTracker) Online(userIDs []uuid.UUID) []uuid.UUID {
	t.mu.RLock()
	defer t.mu.RUnlock()

	online := make([]uuid.UUID, 0, len(userIDs))
	for _, id := range userIDs {
		if len(t.conns[id]) > 0 {
			online = append(online, id)
		}
	}
	return online
}
