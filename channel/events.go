package channel

import (
	"encoding/json"
	"fmt"

	"chatsync/models"
)

// Wire event names. One websocket connection multiplexes every joined
// room; the event name selects the payload shape.
const (
	EventJoinRoom             = "join_room"
	EventLeaveRoom            = "leave_room"
	EventLeaveRoomPermanently = "leave_room_permanently"
	EventSendMessage          = "send_message"
	EventReceiveMessage       = "receive_message"
	EventTypingStatus         = "typing_status"
	EventMarkAsRead           = "mark_as_read"
	EventMessageRead          = "message_read"
	EventEditMessage          = "edit_message"
	EventMessageEdited        = "message_edited"
	EventDeleteMessage        = "delete_message"
	EventMessageDeleted       = "message_deleted"
	EventUploadFile           = "upload_file"
	EventUploadResult         = "upload_result"
	EventRoomUsersUpdated     = "room_users_updated"
	EventError                = "error"
)

// frame is the wire envelope for every event in both directions.
type frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func newFrame(event string, payload any) (frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return frame{}, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return frame{Event: event, Payload: raw}, nil
}

type roomPayload struct {
	RoomID string `json:"room_id"`
}

type sendMessagePayload struct {
	RoomID  string         `json:"room_id"`
	Message models.Message `json:"message"`
}

type markAsReadPayload struct {
	MessageID string `json:"message_id"`
	RoomID    string `json:"room_id"`
}

type messageReadPayload struct {
	MessageID string `json:"message_id"`
	RoomID    string `json:"room_id"`
	UserID    string `json:"user_id"`
}

type editMessagePayload struct {
	MessageID string `json:"message_id"`
	NewText   string `json:"new_text"`
}

type deleteMessagePayload struct {
	MessageID string `json:"message_id"`
}

type typingStatusOut struct {
	RoomID   string `json:"room_id"`
	IsTyping bool   `json:"is_typing"`
}

type uploadFilePayload struct {
	UploadID string `json:"upload_id"`
	RoomID   string `json:"room_id"`
	File     string `json:"file"`
	FileName string `json:"file_name"`
	FileType string `json:"file_type"`
}

type uploadResultPayload struct {
	UploadID string          `json:"upload_id"`
	File     *models.FileRef `json:"file,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// ServerError is a server-side rejection of a previous emission, e.g.
// an edit by someone other than the author.
type ServerError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	MessageID string `json:"message_id,omitempty"`
}

func (e ServerError) Error() string {
	return fmt.Sprintf("channel: server error [%s]: %s", e.Code, e.Message)
}

// Handler receives inbound live events. The event set is closed: each
// kind has exactly one typed method, replacing the original string-keyed
// listener registration. Methods are invoked sequentially in the order
// the server sent the events on the current connection; no ordering is
// guaranteed across a reconnect.
type Handler interface {
	HandleMessage(message models.Message)
	HandleTypingStatus(status models.TypingStatus)
	HandleParticipantsUpdate(users []models.User)
	HandleMessageEdited(message models.Message)
	HandleMessageDeleted(messageID string)
	HandleMessageRead(messageID, roomID, userID string)
	HandleError(serverErr ServerError)
}
