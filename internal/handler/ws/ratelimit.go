package ws

import (
	"sync"
	"time"
)

// limit is a fixed window budget for one event type
type limit struct {
	max    int
	window time.Duration
}

// eventLimits caps the per-user rate of each client event type
var eventLimits = map[string]limit{
	EventMessageSend:      {max: 10, window: 60 * time.Second},
	EventTypingStart:      {max: 5, window: 10 * time.Second},
	EventTypingStop:       {max: 5, window: 10 * time.Second},
	EventConversationJoin: {max: 20, window: 60 * time.Second},
	EventMessageRead:      {max: 30, window: 60 * time.Second},
}

type window struct {
	count   int
	resetAt time.Time
}

// EventRateLimiter enforces per-user fixed windows over socket events.
// Windows reset lazily on the first event after expiry, so idle users
// cost nothing. State is process local; each replica enforces its own
// budget for the connections it holds.
type EventRateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

// NewEventRateLimiter creates a new rate limiter
func NewEventRateLimiter() *EventRateLimiter {
	return &EventRateLimiter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Allow reports whether the user may perform the event now. When
// blocked it returns the seconds until the window resets. Events
// without a configured limit always pass.
func (l *EventRateLimiter) Allow(userID, event string) (bool, int) {
	lim, ok := eventLimits[event]
	if !ok {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := userID + ":" + event
	now := l.now()

	w, ok := l.windows[key]
	if !ok || now.After(w.resetAt) {
		l.windows[key] = &window{count: 1, resetAt: now.Add(lim.window)}
		return true, 0
	}

	if w.count >= lim.max {
		retryAfter := int(w.resetAt.Sub(now).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		return false, retryAfter
	}

	w.count++
	return true, 0
}

// sweep removes windows whose reset time has passed. Active windows
// are never dropped, so reconnecting does not grant a fresh budget.
func (l *EventRateLimiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, w := range l.windows {
		if now.After(w.resetAt) {
			delete(l.windows, key)
		}
	}
}

// StartSweep periodically clears expired windows so long-lived
// processes do not accumulate state for users who went quiet.
// Returns a stop function.
func (l *EventRateLimiter) StartSweep(interval time.Duration) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				l.sweep()
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()

	return func() { close(done) }
}
