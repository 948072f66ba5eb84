// Package channel owns the single live websocket connection to the chat
// server. One connection multiplexes every joined room; inbound events
// are delivered to a Handler in server order for the lifetime of the
// connection.
package channel

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chatsync/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // 1 MB inbound frames; uploads are outbound only

	// DefaultReconnectAttempts bounds automatic reconnection retries.
	DefaultReconnectAttempts = 5
	// DefaultReconnectDelay is the fixed backoff between retries.
	DefaultReconnectDelay = time.Second
	// DefaultMaxUploadBytes rejects oversized uploads before any round trip.
	DefaultMaxUploadBytes = 5 * 1024 * 1024
	// DefaultAckTimeout caps how long an upload waits for its acknowledgement.
	DefaultAckTimeout = 30 * time.Second
)

var (
	// ErrNotConnected indicates an emission was attempted with no live
	// connection. Callers queue and retry; the client never does.
	ErrNotConnected = errors.New("channel: not connected")
	// ErrFileTooLarge indicates an upload exceeded the local size limit.
	ErrFileTooLarge = errors.New("channel: file exceeds upload size limit")
	// ErrAckTimeout indicates no acknowledgement arrived in time.
	ErrAckTimeout = errors.New("channel: timed out waiting for acknowledgement")
)

// State is the connection lifecycle state.
type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StateConnecting   State = "CONNECTING"
	StateConnected    State = "CONNECTED"
)

// Options controls runtime behavior of the live channel client.
type Options struct {
	// URL is the websocket endpoint, e.g. "ws://localhost:5000/ws".
	URL string
	// ReconnectAttempts bounds automatic reconnection. Zero means default.
	ReconnectAttempts int
	// ReconnectDelay is the fixed backoff between attempts.
	ReconnectDelay time.Duration
	// MaxUploadBytes caps UploadFile payloads.
	MaxUploadBytes int64
	// AckTimeout caps the wait for an upload acknowledgement.
	AckTimeout time.Duration
	// Logger receives lifecycle and degradation events.
	Logger zerolog.Logger

	// OnStateChange, when set, observes every state transition. It is
	// invoked synchronously and must not call back into the client.
	OnStateChange func(State)
	// OnReconnected fires after an automatic reconnect has re-joined all
	// rooms. The outbound composer flushes its offline queue here.
	OnReconnected func()
}

func (o Options) withDefaults() Options {
	if o.ReconnectAttempts <= 0 {
		o.ReconnectAttempts = DefaultReconnectAttempts
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}
	if o.MaxUploadBytes <= 0 {
		o.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if o.AckTimeout <= 0 {
		o.AckTimeout = DefaultAckTimeout
	}
	return o
}

// Client manages the live channel connection and event exchange.
type Client struct {
	options Options

	mu       sync.Mutex
	conn     *websocket.Conn
	connDone chan struct{}
	state    State
	token    string
	manual   bool
	joined   map[string]bool

	handlerMu sync.RWMutex
	handler   Handler

	writeMu sync.Mutex

	uploadsMu sync.Mutex
	uploads   map[string]chan uploadResultPayload

	wg sync.WaitGroup
}

// NewClient builds a live channel client. No connection is made until
// Connect is called.
func NewClient(options Options) (*Client, error) {
	if options.URL == "" {
		return nil, errors.New("channel: URL is required")
	}

	return &Client{
		options: options.withDefaults(),
		state:   StateDisconnected,
		joined:  make(map[string]bool),
		uploads: make(map[string]chan uploadResultPayload),
	}, nil
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetHandler installs the inbound event handler, replacing any previous
// one. At most one handler is active at a time.
func (c *Client) SetHandler(handler Handler) {
	c.handlerMu.Lock()
	c.handler = handler
	c.handlerMu.Unlock()
}

// RemoveHandler uninstalls the current handler. Idempotent.
func (c *Client) RemoveHandler() {
	c.handlerMu.Lock()
	c.handler = nil
	c.handlerMu.Unlock()
}

// Connect establishes a fresh connection with the given credential. If a
// connection already exists it is torn down first, so Connect is safe to
// call at any time.
func (c *Client) Connect(token string) error {
	c.mu.Lock()
	c.manual = false
	c.token = token
	c.closeConnLocked()
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	conn, err := c.dial(token)
	if err != nil {
		c.mu.Lock()
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		return err
	}

	c.attach(conn)
	c.options.Logger.Info().Str("url", c.options.URL).Msg("live channel connected")
	return nil
}

// Disconnect tears the connection down and suppresses auto-reconnect.
// The client stays disconnected until Connect is called again.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.manual = true
	c.closeConnLocked()
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	c.wg.Wait()
	c.options.Logger.Info().Msg("live channel disconnected")
}

// JoinRoom adds the room to this connection's membership and announces
// it to the server. Membership survives reconnects.
func (c *Client) JoinRoom(roomID string) error {
	if roomID == "" {
		return errors.New("channel: room id is required")
	}

	c.mu.Lock()
	c.joined[roomID] = true
	c.mu.Unlock()

	return c.emit(EventJoinRoom, roomPayload{RoomID: roomID})
}

// LeaveRoomTemporary drops connection-level membership without touching
// the persisted participant set. Re-joining later has no side effects.
func (c *Client) LeaveRoomTemporary(roomID string) error {
	if roomID == "" {
		return errors.New("channel: room id is required")
	}

	c.mu.Lock()
	delete(c.joined, roomID)
	c.mu.Unlock()

	return c.emit(EventLeaveRoom, roomPayload{RoomID: roomID})
}

// LeaveRoomPermanently signals removal from the room's participant set.
// Local cache clearing is the caller's responsibility.
func (c *Client) LeaveRoomPermanently(roomID string) error {
	if roomID == "" {
		return errors.New("channel: room id is required")
	}

	c.mu.Lock()
	delete(c.joined, roomID)
	c.mu.Unlock()

	return c.emit(EventLeaveRoomPermanently, roomPayload{RoomID: roomID})
}

// Send emits a message to a room. Fire-and-forget: there is no retry
// here, the outbound composer owns queuing.
func (c *Client) Send(roomID string, message models.Message) error {
	if roomID == "" {
		return errors.New("channel: room id is required")
	}

	return c.emit(EventSendMessage, sendMessagePayload{RoomID: roomID, Message: message})
}

// EditMessage emits an edit for a previously sent message.
func (c *Client) EditMessage(messageID, newText string) error {
	if messageID == "" {
		return errors.New("channel: message id is required")
	}

	return c.emit(EventEditMessage, editMessagePayload{MessageID: messageID, NewText: newText})
}

// DeleteMessage emits a deletion for a previously sent message.
func (c *Client) DeleteMessage(messageID string) error {
	if messageID == "" {
		return errors.New("channel: message id is required")
	}

	return c.emit(EventDeleteMessage, deleteMessagePayload{MessageID: messageID})
}

// SendTypingStatus emits the local user's typing state for a room.
func (c *Client) SendTypingStatus(roomID string, isTyping bool) error {
	if roomID == "" {
		return errors.New("channel: room id is required")
	}

	return c.emit(EventTypingStatus, typingStatusOut{RoomID: roomID, IsTyping: isTyping})
}

// MarkAsRead acknowledges receipt of a message to the server.
func (c *Client) MarkAsRead(messageID, roomID string) error {
	if messageID == "" {
		return errors.New("channel: message id is required")
	}

	return c.emit(EventMarkAsRead, markAsReadPayload{MessageID: messageID, RoomID: roomID})
}

func (c *Client) dial(token string) (*websocket.Conn, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := websocket.DefaultDialer.Dial(c.options.URL, header)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		return nil, fmt.Errorf("dial %q: %w", c.options.URL, err)
	}

	return conn, nil
}

func (c *Client) attach(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})

	c.mu.Lock()
	// A connection may already exist if a manual Connect raced an
	// automatic reconnect; the newest dial wins and the old read pump
	// exits as a stale reader.
	c.closeConnLocked()
	c.conn = conn
	c.connDone = done
	c.setStateLocked(StateConnected)
	c.mu.Unlock()

	c.wg.Add(2)
	go c.readPump(conn)
	go c.pingLoop(conn, done)
}

// closeConnLocked tears down the current connection, if any, and wakes
// its ping loop. Callers must hold c.mu.
func (c *Client) closeConnLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	if c.connDone != nil {
		close(c.connDone)
		c.connDone = nil
	}
}

func (c *Client) readPump(conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			c.handleConnectionLoss(conn, err)
			return
		}
		c.dispatch(f)
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// handleConnectionLoss runs when a read pump dies. Readers belonging to
// an already-replaced or manually-closed connection return silently.
func (c *Client) handleConnectionLoss(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	token := c.token
	c.closeConnLocked()
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()
	c.options.Logger.Warn().Err(cause).Msg("live channel connection lost")

	c.wg.Add(1)
	go c.reconnectLoop(token)
}

func (c *Client) reconnectLoop(token string) {
	defer c.wg.Done()

	for attempt := 1; attempt <= c.options.ReconnectAttempts; attempt++ {
		time.Sleep(c.options.ReconnectDelay)

		c.mu.Lock()
		if c.manual || c.conn != nil {
			// Disconnected on purpose, or a manual Connect already
			// restored the connection while this worker slept.
			c.mu.Unlock()
			return
		}
		c.setStateLocked(StateConnecting)
		c.mu.Unlock()

		conn, err := c.dial(token)
		if err != nil {
			c.options.Logger.Warn().Err(err).Int("attempt", attempt).Msg("reconnect attempt failed")
			c.mu.Lock()
			c.setStateLocked(StateDisconnected)
			c.mu.Unlock()
			continue
		}

		c.attach(conn)
		c.rejoinRooms()
		c.options.Logger.Info().Int("attempt", attempt).Msg("live channel reconnected")
		if c.options.OnReconnected != nil {
			c.options.OnReconnected()
		}
		return
	}

	c.options.Logger.Warn().Int("attempts", c.options.ReconnectAttempts).Msg("giving up on reconnection")
}

func (c *Client) rejoinRooms() {
	c.mu.Lock()
	rooms := make([]string, 0, len(c.joined))
	for roomID := range c.joined {
		rooms = append(rooms, roomID)
	}
	c.mu.Unlock()

	for _, roomID := range rooms {
		if err := c.emit(EventJoinRoom, roomPayload{RoomID: roomID}); err != nil {
			c.options.Logger.Warn().Err(err).Str("room_id", roomID).Msg("re-join after reconnect failed")
		}
	}
}

func (c *Client) emit(event string, payload any) error {
	f, err := newFrame(event, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(f); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}

	return nil
}

func (c *Client) setStateLocked(state State) {
	if c.state == state {
		return
	}
	c.state = state
	if c.options.OnStateChange != nil {
		c.options.OnStateChange(state)
	}
}

func (c *Client) currentHandler() Handler {
	c.handlerMu.RLock()
	defer c.handlerMu.RUnlock()
	return c.handler
}

func (c *Client) dispatch(f frame) {
	if f.Event == EventUploadResult {
		var result uploadResultPayload
		if err := json.Unmarshal(f.Payload, &result); err != nil {
			c.options.Logger.Warn().Err(err).Msg("malformed upload acknowledgement")
			return
		}
		c.routeUploadResult(result)
		return
	}

	handler := c.currentHandler()
	if handler == nil {
		return
	}

	switch f.Event {
	case EventReceiveMessage:
		var message models.Message
		if err := json.Unmarshal(f.Payload, &message); err != nil {
			c.options.Logger.Warn().Err(err).Msg("malformed receive_message payload")
			return
		}
		handler.HandleMessage(message)

	case EventTypingStatus:
		var status models.TypingStatus
		if err := json.Unmarshal(f.Payload, &status); err != nil {
			c.options.Logger.Warn().Err(err).Msg("malformed typing_status payload")
			return
		}
		handler.HandleTypingStatus(status)

	case EventRoomUsersUpdated:
		var users []models.User
		if err := json.Unmarshal(f.Payload, &users); err != nil {
			c.options.Logger.Warn().Err(err).Msg("malformed room_users_updated payload")
			return
		}
		handler.HandleParticipantsUpdate(users)

	case EventMessageEdited:
		var message models.Message
		if err := json.Unmarshal(f.Payload, &message); err != nil {
			c.options.Logger.Warn().Err(err).Msg("malformed message_edited payload")
			return
		}
		handler.HandleMessageEdited(message)

	case EventMessageDeleted:
		var payload deleteMessagePayload
		if err := json.Unmarshal(f.Payload, &payload); err != nil {
			c.options.Logger.Warn().Err(err).Msg("malformed message_deleted payload")
			return
		}
		handler.HandleMessageDeleted(payload.MessageID)

	case EventMessageRead:
		var payload messageReadPayload
		if err := json.Unmarshal(f.Payload, &payload); err != nil {
			c.options.Logger.Warn().Err(err).Msg("malformed message_read payload")
			return
		}
		handler.HandleMessageRead(payload.MessageID, payload.RoomID, payload.UserID)

	case EventError:
		var serverErr ServerError
		if err := json.Unmarshal(f.Payload, &serverErr); err != nil {
			c.options.Logger.Warn().Err(err).Msg("malformed error payload")
			return
		}
		handler.HandleError(serverErr)

	default:
		c.options.Logger.Debug().Str("event", f.Event).Msg("ignoring unknown event")
	}
}
