package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"chatsync/channel"
)

func TestComposeTextRejectsEmpty(t *testing.T) {
	fx := newTestFixture(t)

	if _, err := fx.composer.ComposeText("room-1", "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
}

func TestComposeTextOptimisticThenConfirmed(t *testing.T) {
	fx := newTestFixture(t)
	if err := fx.engine.Sync(context.Background(), "room-1"); err != nil {
		t.Fatalf("sync: %v", err)
	}

	message, err := fx.composer.ComposeText("room-1", "hello")
	if err != nil {
		t.Fatalf("compose: %v", err)
	}

	got := fx.publisher.lastMessages("room-1")
	if len(got) != 1 || !got[0].Pending {
		t.Fatalf("optimistic echo missing or not pending: %+v", got)
	}
	if fx.emitter.sentCount() != 1 {
		t.Fatalf("expected 1 emission, got %d", fx.emitter.sentCount())
	}

	queued, err := fx.store.HasOutbox(message.ID)
	if err != nil {
		t.Fatalf("has outbox: %v", err)
	}
	if queued {
		t.Fatalf("connected send touched the outbox")
	}

	// The server echo settles the pending flag.
	confirmed := message
	confirmed.Pending = false
	fx.composer.HandleMessage(confirmed)

	got = fx.publisher.lastMessages("room-1")
	if len(got) != 1 || got[0].Pending {
		t.Fatalf("echo did not settle pending flag: %+v", got)
	}
}

func TestComposeOfflineQueuesAndFlushes(t *testing.T) {
	fx := newTestFixture(t)
	if err := fx.engine.Sync(context.Background(), "room-1"); err != nil {
		t.Fatalf("sync: %v", err)
	}

	fx.emitter.setDown(true)
	message, err := fx.composer.ComposeText("room-1", "offline hello")
	if err != nil {
		t.Fatalf("offline compose should succeed locally: %v", err)
	}

	if fx.emitter.sentCount() != 0 {
		t.Fatalf("emission happened while down")
	}
	queued, err := fx.store.HasOutbox(message.ID)
	if err != nil {
		t.Fatalf("has outbox: %v", err)
	}
	if !queued {
		t.Fatalf("offline message not queued")
	}

	// Reconnect: flush re-emits, but the row survives until the echo.
	fx.emitter.setDown(false)
	fx.composer.FlushAll()
	if fx.emitter.sentCount() != 1 {
		t.Fatalf("expected 1 flushed emission, got %d", fx.emitter.sentCount())
	}
	queued, err = fx.store.HasOutbox(message.ID)
	if err != nil {
		t.Fatalf("has outbox: %v", err)
	}
	if !queued {
		t.Fatalf("outbox row removed before the echo")
	}

	confirmed := message
	confirmed.Pending = false
	fx.composer.HandleMessage(confirmed)

	queued, err = fx.store.HasOutbox(message.ID)
	if err != nil {
		t.Fatalf("has outbox: %v", err)
	}
	if queued {
		t.Fatalf("echo did not clear the outbox")
	}
}

func TestEditRollsBackOnServerRejection(t *testing.T) {
	fx := newTestFixture(t)
	if err := fx.engine.Sync(context.Background(), "room-1"); err != nil {
		t.Fatalf("sync: %v", err)
	}

	original := ownMessage("m1", "room-1", 100)
	fx.engine.Apply(original)

	if err := fx.composer.Edit("m1", "edited"); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if got := fx.publisher.lastMessages("room-1"); got[0].Text != "edited" {
		t.Fatalf("optimistic edit not applied: %q", got[0].Text)
	}

	fx.composer.HandleError(channel.ServerError{Code: "forbidden", MessageID: "m1"})

	got := fx.publisher.lastMessages("room-1")
	if got[0].Text != original.Text {
		t.Fatalf("rejection did not restore prior text: %q", got[0].Text)
	}
	if got[0].EditedAt != nil {
		t.Fatalf("rejection left an edit timestamp")
	}
}

func TestEditRollsBackWhenEmitFails(t *testing.T) {
	fx := newTestFixture(t)
	if err := fx.engine.Sync(context.Background(), "room-1"); err != nil {
		t.Fatalf("sync: %v", err)
	}

	original := ownMessage("m1", "room-1", 100)
	fx.engine.Apply(original)
	fx.emitter.setDown(true)

	if err := fx.composer.Edit("m1", "edited"); err == nil {
		t.Fatalf("expected emit failure")
	}

	got := fx.publisher.lastMessages("room-1")
	if got[0].Text != original.Text {
		t.Fatalf("failed emit did not roll back: %q", got[0].Text)
	}
}

func TestEditValidation(t *testing.T) {
	fx := newTestFixture(t)

	if err := fx.composer.Edit("m1", "  "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if err := fx.composer.Edit("never-seen", "text"); !errors.Is(err, ErrUnknownMessage) {
		t.Fatalf("expected ErrUnknownMessage, got %v", err)
	}
}

func TestDeleteRollsBackOnServerRejection(t *testing.T) {
	fx := newTestFixture(t)
	if err := fx.engine.Sync(context.Background(), "room-1"); err != nil {
		t.Fatalf("sync: %v", err)
	}

	original := ownMessage("m1", "room-1", 100)
	fx.engine.Apply(original)

	if err := fx.composer.Delete("m1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := fx.publisher.lastMessages("room-1"); !got[0].Deleted {
		t.Fatalf("optimistic tombstone not applied")
	}

	fx.composer.HandleError(channel.ServerError{Code: "forbidden", MessageID: "m1"})

	got := fx.publisher.lastMessages("room-1")
	if got[0].Deleted || got[0].Text != original.Text {
		t.Fatalf("rejection did not restore the message: %+v", got[0])
	}
}

func TestNotifyTypingDebounce(t *testing.T) {
	fx := newTestFixture(t)
	fx.composer.quiet = 30 * time.Millisecond

	fx.composer.NotifyTyping("room-1")
	fx.composer.NotifyTyping("room-1")
	fx.composer.NotifyTyping("room-1")

	log := fx.emitter.typingLog()
	if len(log) != 1 || !log[0].IsTyping {
		t.Fatalf("expected a single typing=true, got %+v", log)
	}

	time.Sleep(150 * time.Millisecond)

	log = fx.emitter.typingLog()
	if len(log) != 2 || log[1].IsTyping {
		t.Fatalf("expected typing=false after quiet period, got %+v", log)
	}

	// The next keystroke starts a fresh indicator.
	fx.composer.NotifyTyping("room-1")
	log = fx.emitter.typingLog()
	if len(log) != 3 || !log[2].IsTyping {
		t.Fatalf("expected a fresh typing=true, got %+v", log)
	}
}

func TestComposeStopsTypingIndicator(t *testing.T) {
	fx := newTestFixture(t)
	if err := fx.engine.Sync(context.Background(), "room-1"); err != nil {
		t.Fatalf("sync: %v", err)
	}
	fx.composer.quiet = time.Minute

	fx.composer.NotifyTyping("room-1")
	if _, err := fx.composer.ComposeText("room-1", "done typing"); err != nil {
		t.Fatalf("compose: %v", err)
	}

	log := fx.emitter.typingLog()
	if len(log) != 2 || log[1].IsTyping {
		t.Fatalf("sending did not stop the typing indicator: %+v", log)
	}
}

func TestLeaveRoomPermanently(t *testing.T) {
	fx := newTestFixture(t)
	if err := fx.engine.Sync(context.Background(), "room-1"); err != nil {
		t.Fatalf("sync: %v", err)
	}
	fx.engine.Apply(foreignMessage("m1", "room-1", 100))

	if err := fx.composer.LeaveRoomPermanently("room-1"); err != nil {
		t.Fatalf("leave: %v", err)
	}

	if len(fx.emitter.leaves) != 1 || fx.emitter.leaves[0] != "room-1" {
		t.Fatalf("departure not announced: %v", fx.emitter.leaves)
	}
	stored, err := fx.store.RoomMessages("room-1")
	if err != nil {
		t.Fatalf("room messages: %v", err)
	}
	if len(stored) != 0 {
		t.Fatalf("departure kept %d cached messages", len(stored))
	}
}

func TestLeaveRoomPermanentlyKeepsStateOnEmitFailure(t *testing.T) {
	fx := newTestFixture(t)
	if err := fx.engine.Sync(context.Background(), "room-1"); err != nil {
		t.Fatalf("sync: %v", err)
	}
	fx.engine.Apply(foreignMessage("m1", "room-1", 100))
	fx.emitter.setDown(true)

	if err := fx.composer.LeaveRoomPermanently("room-1"); err == nil {
		t.Fatalf("expected emit failure")
	}

	stored, err := fx.store.RoomMessages("room-1")
	if err != nil {
		t.Fatalf("room messages: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("failed departure cleared the cache")
	}
}
