package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"chatsync/models"
)

// EnqueueOutbox persists a composed message that could not be emitted
// because the live channel was down. Re-enqueueing the same id refreshes
// the payload but keeps the original queue position.
func (s *Store) EnqueueOutbox(message models.Message) error {
	if message.ID == "" {
		return errors.New("message id is required")
	}
	if message.RoomID == "" {
		return errors.New("room id is required")
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode outbox payload for %q: %w", message.ID, err)
	}

	_, err = s.db.Exec(
		`INSERT INTO outbox (message_id, room_id, enqueued_at, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET payload = excluded.payload`,
		message.ID,
		message.RoomID,
		nowUnixMilli(),
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("enqueue outbox message %q: %w", message.ID, err)
	}

	return nil
}

// PendingOutbox returns queued messages for a room in enqueue order.
func (s *Store) PendingOutbox(roomID string) ([]models.Message, error) {
	if roomID == "" {
		return nil, errors.New("room id is required")
	}

	rows, err := s.db.Query(
		`SELECT payload FROM outbox
		WHERE room_id = ?
		ORDER BY enqueued_at ASC, message_id ASC`,
		roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("get outbox for room %q: %w", roomID, err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}

		var message models.Message
		if err := json.Unmarshal([]byte(payload), &message); err != nil {
			return nil, fmt.Errorf("decode outbox payload: %w", err)
		}
		messages = append(messages, message)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox rows: %w", err)
	}

	return messages, nil
}

// OutboxRooms returns the ids of rooms that still have queued messages,
// in the order their oldest entries were enqueued.
func (s *Store) OutboxRooms() ([]string, error) {
	rows, err := s.db.Query(
		`SELECT room_id FROM outbox
		GROUP BY room_id
		ORDER BY MIN(enqueued_at) ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list outbox rooms: %w", err)
	}
	defer rows.Close()

	rooms := make([]string, 0)
	for rows.Next() {
		var roomID string
		if err := rows.Scan(&roomID); err != nil {
			return nil, fmt.Errorf("scan outbox room: %w", err)
		}
		rooms = append(rooms, roomID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox rooms: %w", err)
	}

	return rooms, nil
}

// DeleteOutbox removes one queued message after its delivery was
// confirmed by the server echo.
func (s *Store) DeleteOutbox(messageID string) error {
	if messageID == "" {
		return errors.New("message id is required")
	}

	res, err := s.db.Exec(`DELETE FROM outbox WHERE message_id = ?`, messageID)
	if err != nil {
		return fmt.Errorf("delete outbox message %q: %w", messageID, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for outbox delete %q: %w", messageID, err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// HasOutbox reports whether a message id is still queued.
func (s *Store) HasOutbox(messageID string) (bool, error) {
	if messageID == "" {
		return false, errors.New("message id is required")
	}

	var one int
	err := s.db.QueryRow(`SELECT 1 FROM outbox WHERE message_id = ?`, messageID).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check outbox message %q: %w", messageID, err)
	}

	return true, nil
}

// ClearRoomOutbox drops all queued messages for a room. Used only on
// permanent room departure.
func (s *Store) ClearRoomOutbox(roomID string) error {
	if roomID == "" {
		return errors.New("room id is required")
	}

	if _, err := s.db.Exec(`DELETE FROM outbox WHERE room_id = ?`, roomID); err != nil {
		return fmt.Errorf("clear outbox for room %q: %w", roomID, err)
	}

	return nil
}
