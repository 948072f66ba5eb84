// Package chat reconciles three disagreeing message sources — the
// durable local cache, the authoritative remote history, and the live
// push channel — into one consistent per-room sequence, and carries
// user-authored messages back out through the live channel.
package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chatsync/channel"
	"chatsync/history"
	"chatsync/models"
	"chatsync/storage"
)

// DefaultKeepCount is the per-room retention limit.
const DefaultKeepCount = 100

// LiveEmitter is the slice of the live channel client the engine and
// composer emit through. Implemented by *channel.Client.
type LiveEmitter interface {
	Send(roomID string, message models.Message) error
	EditMessage(messageID, newText string) error
	DeleteMessage(messageID string) error
	SendTypingStatus(roomID string, isTyping bool) error
	MarkAsRead(messageID, roomID string) error
	LeaveRoomPermanently(roomID string) error
	State() channel.State
}

// HistoryFetcher is the slice of the remote history service the engine
// syncs against. Implemented by *history.Client.
type HistoryFetcher interface {
	Messages(ctx context.Context, roomID string, page history.Page) ([]models.Message, error)
	Participants(ctx context.Context, roomID string) ([]models.User, error)
}

// Publisher receives reconciled state for rendering. Calls for one room
// are serialized; implementations must not call back into the engine.
type Publisher interface {
	PublishMessages(roomID string, messages []models.Message)
	PublishTyping(roomID string, typingUserIDs []string)
	PublishParticipants(users []models.User)
	// PublishWarning surfaces a non-fatal degradation as a dismissible
	// notice, e.g. a failed history fetch.
	PublishWarning(roomID string, err error)
}

// Options configures a reconciliation engine.
type Options struct {
	Store     *storage.Store
	History   HistoryFetcher
	Live      LiveEmitter
	Publisher Publisher
	// Self is the current user; the engine never sends read receipts for
	// the user's own messages.
	Self models.User
	// KeepCount is the per-room retention limit. Zero means default.
	KeepCount int
	// TypingWindow is the receiver-side typing expiry. Zero means default.
	TypingWindow time.Duration
	Logger       zerolog.Logger
}

// Engine merges local, remote, and live message sources into the
// canonical per-room sequence. It implements channel.Handler.
type Engine struct {
	store     *storage.Store
	history   HistoryFetcher
	live      LiveEmitter
	publisher Publisher
	self      models.User

	keepCount    int
	typingWindow time.Duration
	log          zerolog.Logger

	mu    sync.Mutex
	rooms map[string]*roomState
}

// roomState is the engine's in-memory view of one room. seq is the
// canonical sequence keyed by id; merges for a room are serialized by
// mu, full syncs additionally by syncMu.
type roomState struct {
	mu     sync.Mutex
	syncMu sync.Mutex

	seq      map[string]models.Message
	synced   bool
	prefetch []models.Message
	readSent map[string]bool
	typing   *TypingTracker
}

// NewEngine builds a reconciliation engine.
func NewEngine(options Options) (*Engine, error) {
	if options.Store == nil {
		return nil, errors.New("chat: store is required")
	}
	if options.History == nil {
		return nil, errors.New("chat: history fetcher is required")
	}
	if options.Live == nil {
		return nil, errors.New("chat: live emitter is required")
	}
	if options.Publisher == nil {
		return nil, errors.New("chat: publisher is required")
	}
	if options.KeepCount <= 0 {
		options.KeepCount = DefaultKeepCount
	}
	if options.TypingWindow <= 0 {
		options.TypingWindow = DefaultTypingWindow
	}

	return &Engine{
		store:        options.Store,
		history:      options.History,
		live:         options.Live,
		publisher:    options.Publisher,
		self:         options.Self,
		keepCount:    options.KeepCount,
		typingWindow: options.TypingWindow,
		log:          options.Logger,
		rooms:        make(map[string]*roomState),
	}, nil
}

func (e *Engine) room(roomID string) *roomState {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, ok := e.rooms[roomID]
	if !ok {
		state = &roomState{
			seq:      make(map[string]models.Message),
			readSent: make(map[string]bool),
			typing:   NewTypingTracker(e.typingWindow),
		}
		e.rooms[roomID] = state
	}
	return state
}

// Sync performs a full merge-sync for a room: cached sequence, one
// remote history page, and any live events buffered while the fetch was
// in flight are merged, persisted, published, and the retention policy
// applied. A failed history fetch degrades to a local-only merge and is
// surfaced as a warning, never an error.
func (e *Engine) Sync(ctx context.Context, roomID string) error {
	if roomID == "" {
		return errors.New("chat: room id is required")
	}

	state := e.room(roomID)
	state.syncMu.Lock()
	defer state.syncMu.Unlock()

	// Events arriving from here on are buffered until the merge below.
	state.mu.Lock()
	state.synced = false
	state.mu.Unlock()

	local, err := e.store.RoomMessages(roomID)
	if err != nil {
		e.log.Warn().Err(err).Str("room_id", roomID).Msg("local cache read failed, continuing memory-only")
		local = nil
	}

	remote, err := e.history.Messages(ctx, roomID, history.Page{})
	if err != nil {
		e.log.Warn().Err(err).Str("room_id", roomID).Msg("history fetch failed, merging local-only")
		e.publisher.PublishWarning(roomID, err)
		remote = nil
	}

	state.mu.Lock()
	existing := make([]models.Message, 0, len(state.seq))
	for _, message := range state.seq {
		existing = append(existing, message)
	}
	buffered := state.prefetch
	state.prefetch = nil

	merged := mergeSets(existing, local, remote, buffered)
	if len(merged) > e.keepCount {
		merged = merged[len(merged)-e.keepCount:]
	}

	state.seq = make(map[string]models.Message, len(merged))
	for _, message := range merged {
		state.seq[message.ID] = message
	}
	state.synced = true

	// Cache writes stay under the room lock so an incremental merge that
	// lands right after the sync cannot be overwritten by the older
	// merged variants below.
	for _, message := range merged {
		if err := e.store.PutMessage(message); err != nil {
			e.log.Warn().Err(err).Str("message_id", message.ID).Msg("cache write failed, continuing memory-only")
			break
		}
	}
	if _, err := e.store.EvictOldest(roomID, e.keepCount); err != nil {
		e.log.Warn().Err(err).Str("room_id", roomID).Msg("retention eviction failed")
	}
	state.mu.Unlock()

	e.publisher.PublishMessages(roomID, merged)

	for _, message := range buffered {
		e.maybeMarkRead(state, message)
	}

	return nil
}

// Apply performs an incremental merge of one message into its room's
// canonical sequence. Duplicate deliveries that carry nothing new are
// dropped silently. Used for both live events and optimistic local echo.
func (e *Engine) Apply(message models.Message) {
	if message.ID == "" || message.RoomID == "" {
		return
	}

	state := e.room(message.RoomID)

	state.mu.Lock()
	if !state.synced {
		// Buffer only. Writing the raw event to the cache here would let a
		// stale re-delivery overwrite a stored tombstone; the merge-sync
		// persists the merged result instead.
		state.prefetch = append(state.prefetch, message)
		state.mu.Unlock()
		return
	}

	merged := message
	if existing, ok := state.seq[message.ID]; ok {
		merged = mergeVariant(existing, message)
		if sameVariant(existing, merged) {
			state.mu.Unlock()
			return
		}
	}
	state.seq[message.ID] = merged
	// Cache writes stay under the room lock so they land in merge order.
	e.persist(merged)
	snapshot := e.sequenceLocked(state)
	state.mu.Unlock()

	e.publisher.PublishMessages(message.RoomID, snapshot)
	e.maybeMarkRead(state, merged)
}

// HandleMessage implements channel.Handler.
func (e *Engine) HandleMessage(message models.Message) {
	e.Apply(message)
}

// HandleMessageEdited implements channel.Handler. The payload is the
// full edited message; the merge keeps it only if it is newer.
func (e *Engine) HandleMessageEdited(message models.Message) {
	e.Apply(message)
}

// HandleMessageDeleted implements channel.Handler. The tombstone is
// applied over whichever variant is known; an id never seen in memory
// or cache is ignored.
func (e *Engine) HandleMessageDeleted(messageID string) {
	if messageID == "" {
		return
	}

	prior, ok := e.Snapshot(messageID)
	if !ok {
		stored, err := e.store.GetMessage(messageID)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				e.log.Warn().Err(err).Str("message_id", messageID).Msg("tombstone lookup failed")
			}
			return
		}
		prior = *stored
	}

	prior.Deleted = true
	prior.Text = ""
	prior.File = nil
	prior.Pending = false
	e.Apply(prior)
}

// HandleMessageRead implements channel.Handler. Read sets only grow.
func (e *Engine) HandleMessageRead(messageID, roomID, userID string) {
	if messageID == "" || userID == "" {
		return
	}

	prior, ok := e.Snapshot(messageID)
	if !ok || prior.HasReader(userID) {
		return
	}

	prior.ReadBy = unionReadBy(prior.ReadBy, []string{userID})
	e.Apply(prior)
}

// HandleTypingStatus implements channel.Handler.
func (e *Engine) HandleTypingStatus(status models.TypingStatus) {
	if status.RoomID == "" {
		return
	}

	state := e.room(status.RoomID)
	state.typing.SetTyping(status.UserID, status.IsTyping)
	e.publisher.PublishTyping(status.RoomID, state.typing.TypingUsers())
}

// HandleParticipantsUpdate implements channel.Handler.
func (e *Engine) HandleParticipantsUpdate(users []models.User) {
	e.publisher.PublishParticipants(users)
}

// HandleError implements channel.Handler. Rollback of optimistic edits
// happens in the composer before the error reaches here.
func (e *Engine) HandleError(serverErr channel.ServerError) {
	e.log.Warn().Str("code", serverErr.Code).Str("message_id", serverErr.MessageID).Msg("server rejected an emission")
	e.publisher.PublishWarning("", serverErr)
}

// Participants fetches the room's participant list from the history
// service and publishes it.
func (e *Engine) Participants(ctx context.Context, roomID string) ([]models.User, error) {
	users, err := e.history.Participants(ctx, roomID)
	if err != nil {
		return nil, err
	}
	e.publisher.PublishParticipants(users)
	return users, nil
}

// TypingUsers returns the current unexpired typing set for a room.
func (e *Engine) TypingUsers(roomID string) []string {
	return e.room(roomID).typing.TypingUsers()
}

// Sequence returns a copy of the room's canonical sequence.
func (e *Engine) Sequence(roomID string) []models.Message {
	state := e.room(roomID)
	state.mu.Lock()
	defer state.mu.Unlock()
	return e.sequenceLocked(state)
}

// Snapshot returns the current variant of one message, if known.
func (e *Engine) Snapshot(messageID string) (models.Message, bool) {
	e.mu.Lock()
	states := make([]*roomState, 0, len(e.rooms))
	for _, state := range e.rooms {
		states = append(states, state)
	}
	e.mu.Unlock()

	for _, state := range states {
		state.mu.Lock()
		message, ok := state.seq[messageID]
		state.mu.Unlock()
		if ok {
			return message, true
		}
	}
	return models.Message{}, false
}

// ForgetRoom drops all local traces of a room: the cached messages, the
// offline queue, and the in-memory state. Called on permanent departure
// only; temporary disconnects keep the cache.
func (e *Engine) ForgetRoom(roomID string) error {
	if roomID == "" {
		return errors.New("chat: room id is required")
	}

	e.mu.Lock()
	delete(e.rooms, roomID)
	e.mu.Unlock()

	if err := e.store.ClearRoom(roomID); err != nil {
		return err
	}
	if err := e.store.ClearRoomOutbox(roomID); err != nil {
		return err
	}

	e.publisher.PublishMessages(roomID, nil)
	return nil
}

// forceApply overwrites a message variant without merge rules. Only the
// composer's optimistic rollback uses it.
func (e *Engine) forceApply(message models.Message) {
	state := e.room(message.RoomID)

	state.mu.Lock()
	state.seq[message.ID] = message
	e.persist(message)
	snapshot := e.sequenceLocked(state)
	state.mu.Unlock()

	e.publisher.PublishMessages(message.RoomID, snapshot)
}

func (e *Engine) sequenceLocked(state *roomState) []models.Message {
	sequence := make([]models.Message, 0, len(state.seq))
	for _, message := range state.seq {
		sequence = append(sequence, message)
	}
	models.SortMessages(sequence)
	return sequence
}

func (e *Engine) persist(message models.Message) {
	if err := e.store.PutMessage(message); err != nil {
		e.log.Warn().Err(err).Str("message_id", message.ID).Msg("cache write failed, continuing memory-only")
	}
}

// maybeMarkRead acknowledges receipt of a foreign message exactly once.
func (e *Engine) maybeMarkRead(state *roomState, message models.Message) {
	if message.Sender.ID == e.self.ID || message.Deleted || message.Pending {
		return
	}

	state.mu.Lock()
	if state.readSent[message.ID] {
		state.mu.Unlock()
		return
	}
	state.readSent[message.ID] = true
	state.mu.Unlock()

	if err := e.live.MarkAsRead(message.ID, message.RoomID); err != nil {
		e.log.Debug().Err(err).Str("message_id", message.ID).Msg("read receipt not sent")
	}
}
