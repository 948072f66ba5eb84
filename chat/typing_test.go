package chat

import (
	"testing"
	"time"
)

func TestTypingExpiresAfterWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	tracker := NewTypingTracker(3 * time.Second)
	tracker.now = func() time.Time { return now }

	tracker.SetTyping("user-2", true)
	if !tracker.IsTyping("user-2") {
		t.Fatalf("user not typing immediately after notice")
	}

	now = now.Add(2 * time.Second)
	if !tracker.IsTyping("user-2") {
		t.Fatalf("typing expired before the window elapsed")
	}

	now = now.Add(2 * time.Second)
	if tracker.IsTyping("user-2") {
		t.Fatalf("typing survived past the window")
	}
}

func TestTypingRefreshExtendsWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	tracker := NewTypingTracker(3 * time.Second)
	tracker.now = func() time.Time { return now }

	tracker.SetTyping("user-2", true)
	now = now.Add(2 * time.Second)
	tracker.SetTyping("user-2", true)
	now = now.Add(2 * time.Second)

	if !tracker.IsTyping("user-2") {
		t.Fatalf("refresh did not extend the typing window")
	}
}

func TestTypingFalseRemovesImmediately(t *testing.T) {
	tracker := NewTypingTracker(3 * time.Second)

	tracker.SetTyping("user-2", true)
	tracker.SetTyping("user-2", false)

	if tracker.IsTyping("user-2") {
		t.Fatalf("explicit stop did not remove the user")
	}
}

func TestTypingUsersSortedAndSwept(t *testing.T) {
	now := time.Unix(1000, 0)
	tracker := NewTypingTracker(3 * time.Second)
	tracker.now = func() time.Time { return now }

	tracker.SetTyping("user-3", true)
	now = now.Add(2 * time.Second)
	tracker.SetTyping("user-2", true)
	now = now.Add(2 * time.Second)

	users := tracker.TypingUsers()
	if len(users) != 1 || users[0] != "user-2" {
		t.Fatalf("expected only user-2 typing, got %v", users)
	}
}
