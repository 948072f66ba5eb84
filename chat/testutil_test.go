package chat

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"chatsync/channel"
	"chatsync/history"
	"chatsync/models"
	"chatsync/storage"
)

var errEmitterDown = errors.New("emitter down")

// fakeEmitter records every outbound emission and can simulate a dead
// connection.
type fakeEmitter struct {
	mu      sync.Mutex
	down    bool
	sent    []models.Message
	edits   []string
	deletes []string
	typing  []models.TypingStatus
	reads   []string
	leaves  []string
}

func (f *fakeEmitter) setDown(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

func (f *fakeEmitter) fail() error {
	if f.down {
		return errEmitterDown
	}
	return nil
}

func (f *fakeEmitter) Send(roomID string, message models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return err
	}
	f.sent = append(f.sent, message)
	return nil
}

func (f *fakeEmitter) EditMessage(messageID, newText string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return err
	}
	f.edits = append(f.edits, messageID+"|"+newText)
	return nil
}

func (f *fakeEmitter) DeleteMessage(messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return err
	}
	f.deletes = append(f.deletes, messageID)
	return nil
}

func (f *fakeEmitter) SendTypingStatus(roomID string, isTyping bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return err
	}
	f.typing = append(f.typing, models.TypingStatus{RoomID: roomID, IsTyping: isTyping})
	return nil
}

func (f *fakeEmitter) MarkAsRead(messageID, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return err
	}
	f.reads = append(f.reads, messageID)
	return nil
}

func (f *fakeEmitter) LeaveRoomPermanently(roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return err
	}
	f.leaves = append(f.leaves, roomID)
	return nil
}

func (f *fakeEmitter) State() channel.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return channel.StateDisconnected
	}
	return channel.StateConnected
}

func (f *fakeEmitter) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeEmitter) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reads)
}

func (f *fakeEmitter) typingLog() []models.TypingStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.TypingStatus, len(f.typing))
	copy(out, f.typing)
	return out
}

// fakeHistory serves canned pages or a fixed error.
type fakeHistory struct {
	mu           sync.Mutex
	messages     map[string][]models.Message
	participants []models.User
	err          error
}

func (f *fakeHistory) Messages(_ context.Context, roomID string, _ history.Page) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.messages[roomID], nil
}

func (f *fakeHistory) Participants(_ context.Context, _ string) ([]models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.participants, nil
}

// fakePublisher records every publication per room.
type fakePublisher struct {
	mu           sync.Mutex
	published    map[string][][]models.Message
	typing       map[string][]string
	participants []models.User
	warnings     []error
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{
		published: make(map[string][][]models.Message),
		typing:    make(map[string][]string),
	}
}

func (f *fakePublisher) PublishMessages(roomID string, messages []models.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snapshot := make([]models.Message, len(messages))
	copy(snapshot, messages)
	f.published[roomID] = append(f.published[roomID], snapshot)
}

func (f *fakePublisher) PublishTyping(roomID string, typingUserIDs []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing[roomID] = typingUserIDs
}

func (f *fakePublisher) PublishParticipants(users []models.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.participants = users
}

func (f *fakePublisher) PublishWarning(_ string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.warnings = append(f.warnings, err)
}

func (f *fakePublisher) lastMessages(roomID string) []models.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	publications := f.published[roomID]
	if len(publications) == 0 {
		return nil
	}
	return publications[len(publications)-1]
}

func (f *fakePublisher) publishCount(roomID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published[roomID])
}

func (f *fakePublisher) warningCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.warnings)
}

type testFixture struct {
	engine    *Engine
	composer  *Composer
	store     *storage.Store
	emitter   *fakeEmitter
	history   *fakeHistory
	publisher *fakePublisher
}

var testSelf = models.User{ID: "user-1", Username: "alice"}

func newTestFixture(t *testing.T) *testFixture {
	t.Helper()

	store, _, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	emitter := &fakeEmitter{}
	hist := &fakeHistory{messages: make(map[string][]models.Message)}
	publisher := newFakePublisher()

	engine, err := NewEngine(Options{
		Store:     store,
		History:   hist,
		Live:      emitter,
		Publisher: publisher,
		Self:      testSelf,
		Logger:    zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	return &testFixture{
		engine:    engine,
		composer:  NewComposer(engine, nil),
		store:     store,
		emitter:   emitter,
		history:   hist,
		publisher: publisher,
	}
}

func foreignMessage(id, roomID string, createdAt int64) models.Message {
	return models.Message{
		ID:        id,
		RoomID:    roomID,
		Sender:    models.Sender{ID: "user-2", Username: "bob"},
		Text:      "message " + id,
		CreatedAt: createdAt,
	}
}

func ownMessage(id, roomID string, createdAt int64) models.Message {
	return models.Message{
		ID:        id,
		RoomID:    roomID,
		Sender:    models.Sender{ID: testSelf.ID, Username: testSelf.Username},
		Text:      "message " + id,
		CreatedAt: createdAt,
	}
}
