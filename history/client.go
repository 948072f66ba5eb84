// Package history talks to the remote history service, the
// authoritative store for rooms and their message history.
package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"chatsync/models"
)

const (
	// DefaultTimeout is the soft deadline for one history request.
	DefaultTimeout = 10 * time.Second
	// DefaultPageLimit is how many messages one history page returns.
	DefaultPageLimit = 50
)

// ErrUnauthorized indicates the server rejected the auth token.
var ErrUnauthorized = errors.New("history: unauthorized")

// Page selects a slice of a room's history.
type Page struct {
	Limit  int
	Offset int
}

func (p Page) withDefaults() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// Options configures a history client.
type Options struct {
	// BaseURL is the history service root, e.g. "http://localhost:5000".
	BaseURL string
	// Token is the bearer credential attached to every request.
	Token string
	// Timeout overrides DefaultTimeout when positive.
	Timeout time.Duration
	// Logger receives request failures. Defaults to a disabled logger.
	Logger zerolog.Logger
}

// Client is a remote history service client.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     zerolog.Logger
}

// NewClient builds a history client from options.
func NewClient(options Options) (*Client, error) {
	if options.BaseURL == "" {
		return nil, errors.New("history: base URL is required")
	}
	if _, err := url.Parse(options.BaseURL); err != nil {
		return nil, fmt.Errorf("history: invalid base URL %q: %w", options.BaseURL, err)
	}

	timeout := options.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		baseURL: strings.TrimRight(options.BaseURL, "/"),
		token:   options.Token,
		http:    &http.Client{Timeout: timeout},
		log:     options.Logger,
	}, nil
}

// Messages fetches one page of a room's message history, oldest first.
func (c *Client) Messages(ctx context.Context, roomID string, page Page) ([]models.Message, error) {
	if roomID == "" {
		return nil, errors.New("history: room id is required")
	}

	page = page.withDefaults()
	endpoint := fmt.Sprintf("%s/chat/rooms/%s/messages?limit=%s&offset=%s",
		c.baseURL,
		url.PathEscape(roomID),
		strconv.Itoa(page.Limit),
		strconv.Itoa(page.Offset),
	)

	var messages []models.Message
	if err := c.getJSON(ctx, endpoint, &messages); err != nil {
		return nil, fmt.Errorf("fetch history for room %q: %w", roomID, err)
	}

	return messages, nil
}

// Participants fetches the room's current participant list.
func (c *Client) Participants(ctx context.Context, roomID string) ([]models.User, error) {
	if roomID == "" {
		return nil, errors.New("history: room id is required")
	}

	endpoint := fmt.Sprintf("%s/chat/rooms/%s/participants", c.baseURL, url.PathEscape(roomID))

	var users []models.User
	if err := c.getJSON(ctx, endpoint, &users); err != nil {
		return nil, fmt.Errorf("fetch participants for room %q: %w", roomID, err)
	}

	return users, nil
}

// InvitableUsers lists users who are not yet participants and can still
// be invited to the room.
func (c *Client) InvitableUsers(ctx context.Context, roomID string) ([]models.User, error) {
	if roomID == "" {
		return nil, errors.New("history: room id is required")
	}

	endpoint := fmt.Sprintf("%s/chat/rooms/%s/invitable-users", c.baseURL, url.PathEscape(roomID))

	var users []models.User
	if err := c.getJSON(ctx, endpoint, &users); err != nil {
		return nil, fmt.Errorf("fetch invitable users for room %q: %w", roomID, err)
	}

	return users, nil
}

// Rooms lists the rooms the current user belongs to.
func (c *Client) Rooms(ctx context.Context) ([]models.Room, error) {
	var rooms []models.Room
	if err := c.getJSON(ctx, c.baseURL+"/chat/rooms", &rooms); err != nil {
		return nil, fmt.Errorf("fetch rooms: %w", err)
	}

	return rooms, nil
}

// CreateRoom asks the server to create a room and returns the stored view.
func (c *Client) CreateRoom(ctx context.Context, room models.Room) (*models.Room, error) {
	if room.Name == "" {
		return nil, errors.New("history: room name is required")
	}

	var created models.Room
	if err := c.postJSON(ctx, c.baseURL+"/chat/rooms", room, &created); err != nil {
		return nil, fmt.Errorf("create room %q: %w", room.Name, err)
	}

	return &created, nil
}

// Invite adds users to a room's participant set.
func (c *Client) Invite(ctx context.Context, roomID string, userIDs []string) error {
	if roomID == "" {
		return errors.New("history: room id is required")
	}
	if len(userIDs) == 0 {
		return errors.New("history: at least one user id is required")
	}

	endpoint := fmt.Sprintf("%s/chat/rooms/%s/invite", c.baseURL, url.PathEscape(roomID))
	body := map[string][]string{"user_ids": userIDs}
	if err := c.postJSON(ctx, endpoint, body, nil); err != nil {
		return fmt.Errorf("invite to room %q: %w", roomID, err)
	}

	return nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, endpoint string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("url", req.URL.String()).Msg("history request failed")
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.log.Warn().Int("status", resp.StatusCode).Str("url", req.URL.String()).Msg("history request rejected")
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}
