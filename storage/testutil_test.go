package storage

import (
	"testing"

	"chatsync/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dataDir := t.TempDir()
	store, _, err := Open(dataDir)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	return store
}

func testMessage(id, roomID string, createdAt int64) models.Message {
	return models.Message{
		ID:        id,
		RoomID:    roomID,
		Sender:    models.Sender{ID: "user-1", Username: "alice"},
		Text:      "message " + id,
		CreatedAt: createdAt,
	}
}

func mustPutMessage(t *testing.T, store *Store, message models.Message) {
	t.Helper()

	if err := store.PutMessage(message); err != nil {
		t.Fatalf("put message %q: %v", message.ID, err)
	}
}
