package models

import "sort"

// Sender identifies the author of a message.
type Sender struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Message is one chat room entry. Text and File are mutually exclusive.
type Message struct {
	ID        string   `json:"id"`
	RoomID    string   `json:"room_id"`
	Sender    Sender   `json:"sender"`
	Text      string   `json:"text,omitempty"`
	File      *FileRef `json:"file,omitempty"`
	CreatedAt int64    `json:"created_at"`
	EditedAt  *int64   `json:"edited_at,omitempty"`
	ReadBy    []string `json:"read_by,omitempty"`
	Deleted   bool     `json:"deleted,omitempty"`

	// Pending marks an optimistic local echo the server has not confirmed
	// yet. Never set on messages received from a remote source.
	Pending bool `json:"pending,omitempty"`
}

// EffectiveTimestamp is the edit timestamp when present, otherwise the
// creation timestamp. Decides which duplicate variant is newer.
func (m Message) EffectiveTimestamp() int64 {
	if m.EditedAt != nil {
		return *m.EditedAt
	}
	return m.CreatedAt
}

// HasReader reports whether a user id is already in the read set.
func (m Message) HasReader(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

// Before defines the canonical ordering: created_at ascending, ties
// broken by id lexicographically.
func (m Message) Before(other Message) bool {
	if m.CreatedAt != other.CreatedAt {
		return m.CreatedAt < other.CreatedAt
	}
	return m.ID < other.ID
}

// SortMessages sorts a slice into the canonical order in place.
func SortMessages(messages []Message) {
	sort.Slice(messages, func(i, j int) bool {
		return messages[i].Before(messages[j])
	})
}
