package chat

import (
	"sort"
	"sync"
	"time"
)

// DefaultTypingWindow is how long a typing notice stays live without a
// refresh. Deliberately longer than the sender-side quiet period so a
// lost typing=false emission cannot leave a user typing forever.
const DefaultTypingWindow = 3 * time.Second

// TypingTracker holds the set of currently-typing users for one room.
// Entries expire lazily; no background sweep runs.
type TypingTracker struct {
	mu     sync.Mutex
	window time.Duration
	expiry map[string]time.Time
	now    func() time.Time
}

// NewTypingTracker builds a tracker with the given expiry window.
func NewTypingTracker(window time.Duration) *TypingTracker {
	if window <= 0 {
		window = DefaultTypingWindow
	}
	return &TypingTracker{
		window: window,
		expiry: make(map[string]time.Time),
		now:    time.Now,
	}
}

// SetTyping refreshes the user's expiry on true and removes the user
// immediately on false.
func (t *TypingTracker) SetTyping(userID string, isTyping bool) {
	if userID == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if isTyping {
		t.expiry[userID] = t.now().Add(t.window)
		return
	}
	delete(t.expiry, userID)
}

// IsTyping reports whether the user has an unexpired typing entry.
func (t *TypingTracker) IsTyping(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	deadline, ok := t.expiry[userID]
	if !ok {
		return false
	}
	if t.now().After(deadline) {
		delete(t.expiry, userID)
		return false
	}
	return true
}

// TypingUsers returns the unexpired typing user ids, sweeping expired
// entries opportunistically.
func (t *TypingTracker) TypingUsers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	users := make([]string, 0, len(t.expiry))
	for userID, deadline := range t.expiry {
		if now.After(deadline) {
			delete(t.expiry, userID)
			continue
		}
		users = append(users, userID)
	}
	sort.Strings(users)

	return users
}
