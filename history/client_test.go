package history

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"chatsync/models"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Options{BaseURL: server.URL, Token: "test-token"})
	if err != nil {
		t.Fatalf("new history client: %v", err)
	}
	return client
}

func TestMessagesFetchesPageWithAuth(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/rooms/room-1/messages" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("missing bearer token, got %q", got)
		}
		if got := r.URL.Query().Get("limit"); got != "50" {
			t.Errorf("expected default limit 50, got %q", got)
		}

		_ = json.NewEncoder(w).Encode([]models.Message{
			{ID: "msg-1", RoomID: "room-1", CreatedAt: 1_000},
			{ID: "msg-2", RoomID: "room-1", CreatedAt: 2_000},
		})
	}))

	messages, err := client.Messages(context.Background(), "room-1", Page{})
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].ID != "msg-1" {
		t.Fatalf("unexpected first message %q", messages[0].ID)
	}
}

func TestMessagesSurfacesUnauthorized(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := client.Messages(context.Background(), "room-1", Page{})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestParticipantsDecodesUsers(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/rooms/room-1/participants" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode([]models.User{
			{ID: "user-1", Username: "alice"},
			{ID: "user-2", Username: "bob"},
		})
	}))

	users, err := client.Participants(context.Background(), "room-1")
	if err != nil {
		t.Fatalf("Participants failed: %v", err)
	}
	if len(users) != 2 || users[1].Username != "bob" {
		t.Fatalf("unexpected participants: %+v", users)
	}
}

func TestInvitableUsersDecodesUsers(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/rooms/room-1/invitable-users" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode([]models.User{
			{ID: "user-3", Username: "carol"},
		})
	}))

	users, err := client.InvitableUsers(context.Background(), "room-1")
	if err != nil {
		t.Fatalf("InvitableUsers failed: %v", err)
	}
	if len(users) != 1 || users[0].Username != "carol" {
		t.Fatalf("unexpected invitable users: %+v", users)
	}
}

func TestCreateRoomPostsAndDecodes(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/chat/rooms" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var room models.Room
		if err := json.NewDecoder(r.Body).Decode(&room); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		room.ID = "room-9"
		_ = json.NewEncoder(w).Encode(room)
	}))

	created, err := client.CreateRoom(context.Background(), models.Room{Name: "general"})
	if err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}
	if created.ID != "room-9" || created.Name != "general" {
		t.Fatalf("unexpected created room: %+v", created)
	}
}

func TestServerErrorIsWrapped(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	if _, err := client.Rooms(context.Background()); err == nil {
		t.Fatalf("expected error for 500 response")
	}
}
