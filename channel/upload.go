package channel

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"chatsync/models"
)

// UploadFile sends file content to the server and waits for the single
// acknowledgement carrying the stored file reference. Files over the
// configured limit are rejected locally without a round trip. The wait
// ends at the ack, the ack timeout, or context cancellation, whichever
// comes first; the underlying emission is not aborted.
func (c *Client) UploadFile(ctx context.Context, roomID, fileName, fileType string, data []byte) (*models.FileRef, error) {
	if roomID == "" {
		return nil, errors.New("channel: room id is required")
	}
	if fileName == "" {
		return nil, errors.New("channel: file name is required")
	}
	if len(data) == 0 {
		return nil, errors.New("channel: file content is empty")
	}
	if int64(len(data)) > c.options.MaxUploadBytes {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrFileTooLarge, len(data), c.options.MaxUploadBytes)
	}

	uploadID := uuid.NewString()
	ack := c.registerUpload(uploadID)
	defer c.unregisterUpload(uploadID)

	payload := uploadFilePayload{
		UploadID: uploadID,
		RoomID:   roomID,
		File:     base64.StdEncoding.EncodeToString(data),
		FileName: fileName,
		FileType: fileType,
	}
	if err := c.emit(EventUploadFile, payload); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.options.AckTimeout)
	defer timer.Stop()

	select {
	case result := <-ack:
		if result.Error != "" {
			return nil, fmt.Errorf("channel: upload rejected: %s", result.Error)
		}
		if result.File == nil {
			return nil, errors.New("channel: upload acknowledgement carried no file reference")
		}
		return result.File, nil
	case <-timer.C:
		return nil, ErrAckTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) registerUpload(uploadID string) chan uploadResultPayload {
	ack := make(chan uploadResultPayload, 1)
	c.uploadsMu.Lock()
	c.uploads[uploadID] = ack
	c.uploadsMu.Unlock()
	return ack
}

func (c *Client) unregisterUpload(uploadID string) {
	c.uploadsMu.Lock()
	delete(c.uploads, uploadID)
	c.uploadsMu.Unlock()
}

func (c *Client) routeUploadResult(result uploadResultPayload) {
	c.uploadsMu.Lock()
	ack, ok := c.uploads[result.UploadID]
	c.uploadsMu.Unlock()
	if !ok {
		c.options.Logger.Debug().Str("upload_id", result.UploadID).Msg("acknowledgement for unknown upload")
		return
	}

	select {
	case ack <- result:
	default:
	}
}
