package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatsync/channel"
	"chatsync/models"
	"chatsync/storage"
)

// DefaultTypingQuiet is the sender-side quiet period after the last
// keystroke before typing=false is emitted.
const DefaultTypingQuiet = time.Second

// ErrEmptyMessage rejects whitespace-only message bodies locally.
var ErrEmptyMessage = errors.New("chat: message text is empty")

// ErrUnknownMessage indicates an edit or delete referenced an id the
// engine has never seen.
var ErrUnknownMessage = errors.New("chat: unknown message id")

// Uploader is the slice of the live channel used for file transfer.
// Implemented by *channel.Client.
type Uploader interface {
	UploadFile(ctx context.Context, roomID, fileName, fileType string, data []byte) (*models.FileRef, error)
}

// Composer owns the outbound half of the pipeline: user-authored
// messages, edits, deletes, and typing notices. Everything it sends is
// applied optimistically through the engine first, so the local view
// updates immediately and the server echo settles the pending flag.
//
// Composer wraps the engine's handler: install the Composer, not the
// bare Engine, on the channel client.
type Composer struct {
	*Engine
	uploader Uploader

	quiet time.Duration

	mu           sync.Mutex
	rollbacks    map[string]models.Message
	typingTimers map[string]*time.Timer
}

// NewComposer builds a composer over an engine. uploader may be nil if
// file messages are not needed.
func NewComposer(engine *Engine, uploader Uploader) *Composer {
	return &Composer{
		Engine:       engine,
		uploader:     uploader,
		quiet:        DefaultTypingQuiet,
		rollbacks:    make(map[string]models.Message),
		typingTimers: make(map[string]*time.Timer),
	}
}

// ComposeText sends a text message. The message appears locally at once
// with the pending flag set; if the live channel is down it is queued to
// the outbox and the send succeeds from the caller's point of view.
func (c *Composer) ComposeText(roomID, text string) (models.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Message{}, ErrEmptyMessage
	}

	message := c.newPending(roomID)
	message.Text = text

	c.Apply(message)
	c.stopTyping(roomID)
	c.deliver(message)
	return message, nil
}

// ComposeFile uploads file content and sends a message carrying the
// stored reference. The upload itself needs a live connection; once the
// reference exists the message follows the same optimistic path as text.
func (c *Composer) ComposeFile(ctx context.Context, roomID, fileName, fileType string, data []byte) (models.Message, error) {
	if c.uploader == nil {
		return models.Message{}, errors.New("chat: no uploader configured")
	}

	ref, err := c.uploader.UploadFile(ctx, roomID, fileName, fileType, data)
	if err != nil {
		return models.Message{}, err
	}

	message := c.newPending(roomID)
	message.File = ref

	c.Apply(message)
	c.deliver(message)
	return message, nil
}

// deliver emits the message, falling back to the outbox when the
// channel is down. Outbox rows are removed only by the server echo.
func (c *Composer) deliver(message models.Message) {
	if err := c.live.Send(message.RoomID, message); err != nil {
		c.log.Info().Err(err).Str("message_id", message.ID).Msg("queueing message for later delivery")
		if err := c.store.EnqueueOutbox(message); err != nil {
			c.log.Warn().Err(err).Str("message_id", message.ID).Msg("outbox enqueue failed, message stays pending in memory")
		}
	}
}

// FlushOutbox re-emits every queued message for a room in enqueue
// order. Rows stay queued until the server echoes each message back.
func (c *Composer) FlushOutbox(roomID string) error {
	pending, err := c.store.PendingOutbox(roomID)
	if err != nil {
		return err
	}

	for _, message := range pending {
		if err := c.live.Send(message.RoomID, message); err != nil {
			return err
		}
	}
	return nil
}

// FlushAll flushes the outbox of every room with queued messages.
// Wired to the channel client's OnReconnected callback.
func (c *Composer) FlushAll() {
	rooms, err := c.store.OutboxRooms()
	if err != nil {
		c.log.Warn().Err(err).Msg("outbox scan failed, flush skipped")
		return
	}

	for _, roomID := range rooms {
		if err := c.FlushOutbox(roomID); err != nil {
			c.log.Warn().Err(err).Str("room_id", roomID).Msg("outbox flush interrupted")
			return
		}
	}
}

// ConfirmDelivery removes a message from the outbox after its server
// echo arrived. Unknown ids are fine; most messages never touched the
// outbox.
func (c *Composer) ConfirmDelivery(messageID string) {
	if err := c.store.DeleteOutbox(messageID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		c.log.Warn().Err(err).Str("message_id", messageID).Msg("outbox delete failed")
	}
}

// Edit applies an edit optimistically and emits it. The prior variant
// is kept for rollback until the server echoes or rejects the edit. A
// failed emission rolls back immediately.
func (c *Composer) Edit(messageID, newText string) error {
	newText = strings.TrimSpace(newText)
	if newText == "" {
		return ErrEmptyMessage
	}

	prior, ok := c.Snapshot(messageID)
	if !ok {
		return ErrUnknownMessage
	}

	c.recordRollback(prior)

	updated := prior
	updated.Text = newText
	editedAt := time.Now().UnixMilli()
	updated.EditedAt = &editedAt
	c.Apply(updated)

	if err := c.live.EditMessage(messageID, newText); err != nil {
		c.rollback(messageID)
		return err
	}
	return nil
}

// Delete applies a tombstone optimistically and emits the deletion.
// Like Edit, a failed emission restores the prior variant.
func (c *Composer) Delete(messageID string) error {
	prior, ok := c.Snapshot(messageID)
	if !ok {
		return ErrUnknownMessage
	}

	c.recordRollback(prior)

	tombstone := prior
	tombstone.Deleted = true
	tombstone.Text = ""
	tombstone.File = nil
	tombstone.Pending = false
	c.Apply(tombstone)

	if err := c.live.DeleteMessage(messageID); err != nil {
		c.rollback(messageID)
		return err
	}
	return nil
}

// NotifyTyping records one keystroke. The first keystroke in a quiet
// room emits typing=true; a single timer per room, re-armed on every
// keystroke, emits typing=false after the quiet period.
func (c *Composer) NotifyTyping(roomID string) {
	c.mu.Lock()
	if timer, ok := c.typingTimers[roomID]; ok {
		timer.Reset(c.quiet)
		c.mu.Unlock()
		return
	}
	c.typingTimers[roomID] = time.AfterFunc(c.quiet, func() {
		c.mu.Lock()
		delete(c.typingTimers, roomID)
		c.mu.Unlock()
		if err := c.live.SendTypingStatus(roomID, false); err != nil {
			c.log.Debug().Err(err).Str("room_id", roomID).Msg("typing stop not sent")
		}
	})
	c.mu.Unlock()

	if err := c.live.SendTypingStatus(roomID, true); err != nil {
		c.log.Debug().Err(err).Str("room_id", roomID).Msg("typing start not sent")
	}
}

// stopTyping cancels the quiet timer and emits typing=false at once.
// Sending a message ends the typing indicator immediately.
func (c *Composer) stopTyping(roomID string) {
	c.mu.Lock()
	timer, ok := c.typingTimers[roomID]
	if ok {
		timer.Stop()
		delete(c.typingTimers, roomID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	if err := c.live.SendTypingStatus(roomID, false); err != nil {
		c.log.Debug().Err(err).Str("room_id", roomID).Msg("typing stop not sent")
	}
}

// LeaveRoomPermanently removes the user from the room's participant set
// and drops every local trace of the room. The server emission must
// succeed; a failed leave keeps the local state intact.
func (c *Composer) LeaveRoomPermanently(roomID string) error {
	if err := c.live.LeaveRoomPermanently(roomID); err != nil {
		return err
	}

	c.mu.Lock()
	if timer, ok := c.typingTimers[roomID]; ok {
		timer.Stop()
		delete(c.typingTimers, roomID)
	}
	c.mu.Unlock()

	return c.ForgetRoom(roomID)
}

// HandleMessage intercepts the engine's handler: an echo of the local
// user's own message confirms outbox delivery and settles any pending
// rollback before the merge runs.
func (c *Composer) HandleMessage(message models.Message) {
	if message.Sender.ID == c.self.ID {
		c.ConfirmDelivery(message.ID)
		c.clearRollback(message.ID)
	}
	c.Engine.HandleMessage(message)
}

// HandleMessageEdited settles the rollback for a confirmed edit.
func (c *Composer) HandleMessageEdited(message models.Message) {
	c.clearRollback(message.ID)
	c.Engine.HandleMessageEdited(message)
}

// HandleMessageDeleted settles the rollback for a confirmed deletion.
func (c *Composer) HandleMessageDeleted(messageID string) {
	c.clearRollback(messageID)
	c.Engine.HandleMessageDeleted(messageID)
}

// HandleError rolls back the optimistic variant when the server rejects
// an edit or delete carrying a message id, then lets the engine surface
// the error.
func (c *Composer) HandleError(serverErr channel.ServerError) {
	if serverErr.MessageID != "" {
		c.rollback(serverErr.MessageID)
	}
	c.Engine.HandleError(serverErr)
}

func (c *Composer) newPending(roomID string) models.Message {
	return models.Message{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		Sender:    models.Sender{ID: c.self.ID, Username: c.self.Username},
		CreatedAt: time.Now().UnixMilli(),
		ReadBy:    []string{c.self.ID},
		Pending:   true,
	}
}

// recordRollback keeps the oldest known-good variant. Overlapping edits
// to the same message roll back to the state before the first one.
func (c *Composer) recordRollback(prior models.Message) {
	c.mu.Lock()
	if _, ok := c.rollbacks[prior.ID]; !ok {
		c.rollbacks[prior.ID] = prior
	}
	c.mu.Unlock()
}

func (c *Composer) clearRollback(messageID string) {
	c.mu.Lock()
	delete(c.rollbacks, messageID)
	c.mu.Unlock()
}

func (c *Composer) rollback(messageID string) {
	c.mu.Lock()
	prior, ok := c.rollbacks[messageID]
	if ok {
		delete(c.rollbacks, messageID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	c.forceApply(prior)
}
