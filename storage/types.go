package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chatsync/models"
)

var (
	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = errors.New("storage: record not found")
)

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*models.Message, error) {
	var (
		message  models.Message
		fileURL  sql.NullString
		fileName sql.NullString
		fileType sql.NullString
		editedAt sql.NullInt64
		readBy   string
		deleted  int
		pending  int
	)

	if err := row.Scan(
		&message.ID,
		&message.RoomID,
		&message.Sender.ID,
		&message.Sender.Username,
		&message.Text,
		&fileURL,
		&fileName,
		&fileType,
		&message.CreatedAt,
		&editedAt,
		&readBy,
		&deleted,
		&pending,
	); err != nil {
		return nil, err
	}

	if fileURL.Valid {
		message.File = &models.FileRef{
			URL:      fileURL.String,
			Name:     fileName.String,
			MimeType: fileType.String,
		}
	}
	message.EditedAt = int64Ptr(editedAt)
	message.Deleted = deleted == 1
	message.Pending = pending == 1

	if readBy != "" {
		if err := json.Unmarshal([]byte(readBy), &message.ReadBy); err != nil {
			return nil, fmt.Errorf("decode read_by for message %q: %w", message.ID, err)
		}
	}

	return &message, nil
}

func encodeReadBy(readBy []string) (string, error) {
	if len(readBy) == 0 {
		return "[]", nil
	}
	raw, err := json.Marshal(readBy)
	if err != nil {
		return "", fmt.Errorf("encode read_by: %w", err)
	}
	return string(raw), nil
}

func nullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func nullInt64(ptr *int64) sql.NullInt64 {
	if ptr == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *ptr, Valid: true}
}

func int64Ptr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}
