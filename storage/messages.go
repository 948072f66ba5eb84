package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"chatsync/models"
)

// PutMessage upserts one message by id. The write is idempotent and
// last-write-wins: the stored row, tombstones included, always reflects
// the latest call for that id.
func (s *Store) PutMessage(message models.Message) error {
	if message.ID == "" {
		return errors.New("message id is required")
	}
	if message.RoomID == "" {
		return errors.New("room id is required")
	}
	if message.CreatedAt == 0 {
		message.CreatedAt = nowUnixMilli()
	}

	readBy, err := encodeReadBy(message.ReadBy)
	if err != nil {
		return err
	}

	var fileURL, fileName, fileType string
	if message.File != nil {
		fileURL = message.File.URL
		fileName = message.File.Name
		fileType = message.File.MimeType
	}

	_, err = s.db.Exec(
		`INSERT INTO messages (
			message_id,
			room_id,
			sender_id,
			sender_name,
			body,
			file_url,
			file_name,
			file_type,
			created_at,
			edited_at,
			read_by,
			deleted,
			pending
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			room_id     = excluded.room_id,
			sender_id   = excluded.sender_id,
			sender_name = excluded.sender_name,
			body        = excluded.body,
			file_url    = excluded.file_url,
			file_name   = excluded.file_name,
			file_type   = excluded.file_type,
			created_at  = excluded.created_at,
			edited_at   = excluded.edited_at,
			read_by     = excluded.read_by,
			deleted     = excluded.deleted,
			pending     = excluded.pending`,
		message.ID,
		message.RoomID,
		message.Sender.ID,
		message.Sender.Username,
		message.Text,
		nullString(fileURL),
		nullString(fileName),
		nullString(fileType),
		message.CreatedAt,
		nullInt64(message.EditedAt),
		readBy,
		boolToInt(message.Deleted),
		boolToInt(message.Pending),
	)
	if err != nil {
		return fmt.Errorf("upsert message %q: %w", message.ID, err)
	}

	return nil
}

// RoomMessages returns all cached messages for a room in canonical
// order: created_at ascending, ties broken by message id.
func (s *Store) RoomMessages(roomID string) ([]models.Message, error) {
	if roomID == "" {
		return nil, errors.New("room id is required")
	}

	rows, err := s.db.Query(
		`SELECT
			message_id,
			room_id,
			sender_id,
			sender_name,
			body,
			file_url,
			file_name,
			file_type,
			created_at,
			edited_at,
			read_by,
			deleted,
			pending
		FROM messages
		WHERE room_id = ?
		ORDER BY created_at ASC, message_id ASC`,
		roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("get messages for room %q: %w", roomID, err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		messages = append(messages, *message)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}

	return messages, nil
}

// GetMessage fetches one message by id.
func (s *Store) GetMessage(messageID string) (*models.Message, error) {
	if messageID == "" {
		return nil, errors.New("message id is required")
	}

	row := s.db.QueryRow(
		`SELECT
			message_id,
			room_id,
			sender_id,
			sender_name,
			body,
			file_url,
			file_name,
			file_type,
			created_at,
			edited_at,
			read_by,
			deleted,
			pending
		FROM messages
		WHERE message_id = ?`,
		messageID,
	)

	message, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get message %q: %w", messageID, err)
	}
	return message, nil
}

// EvictOldest deletes all but the most recent keepCount messages for a
// room. Recency is created_at descending with id as tie-breaker, so the
// survivors are exactly the newest keepCount entries.
func (s *Store) EvictOldest(roomID string, keepCount int) (int64, error) {
	if roomID == "" {
		return 0, errors.New("room id is required")
	}
	if keepCount < 0 {
		return 0, errors.New("keep count must be >= 0")
	}

	res, err := s.db.Exec(
		`DELETE FROM messages
		WHERE room_id = ?
		AND message_id NOT IN (
			SELECT message_id FROM messages
			WHERE room_id = ?
			ORDER BY created_at DESC, message_id DESC
			LIMIT ?
		)`,
		roomID,
		roomID,
		keepCount,
	)
	if err != nil {
		return 0, fmt.Errorf("evict oldest messages for room %q: %w", roomID, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read rows affected for eviction: %w", err)
	}

	return rowsAffected, nil
}

// ClearRoom removes every cached message for a room. Used only on
// explicit permanent departure, never on temporary disconnect.
func (s *Store) ClearRoom(roomID string) error {
	if roomID == "" {
		return errors.New("room id is required")
	}

	if _, err := s.db.Exec(`DELETE FROM messages WHERE room_id = ?`, roomID); err != nil {
		return fmt.Errorf("clear messages for room %q: %w", roomID, err)
	}

	return nil
}

// CleanupAllRooms applies retention eviction to every cached room.
func (s *Store) CleanupAllRooms(keepCount int) (int64, error) {
	rows, err := s.db.Query(`SELECT DISTINCT room_id FROM messages`)
	if err != nil {
		return 0, fmt.Errorf("list cached rooms: %w", err)
	}
	defer rows.Close()

	roomIDs := make([]string, 0)
	for rows.Next() {
		var roomID string
		if err := rows.Scan(&roomID); err != nil {
			return 0, fmt.Errorf("scan room id: %w", err)
		}
		roomIDs = append(roomIDs, roomID)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate room ids: %w", err)
	}

	var total int64
	for _, roomID := range roomIDs {
		evicted, err := s.EvictOldest(roomID, keepCount)
		if err != nil {
			return total, err
		}
		total += evicted
	}

	return total, nil
}
