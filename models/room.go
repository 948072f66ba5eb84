package models

// Room is a named conversation. Owned by the remote history service;
// the client only caches a read-through view.
type Room struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Participants []string `json:"participants"`
	CreatedBy    string   `json:"created_by"`
}

// User is a chat participant.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// TypingStatus is one live typing notification for a room.
type TypingStatus struct {
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}
