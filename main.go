package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"chatsync/channel"
	"chatsync/chat"
	"chatsync/config"
	"chatsync/history"
	"chatsync/models"
	"chatsync/session"
	"chatsync/storage"
)

func main() {
	cfg, cfgPath, err := config.LoadOrCreate()
	if err != nil {
		log.Fatalf("startup failed while loading config: %v", err)
	}

	token := os.Getenv("CHATSYNC_TOKEN")
	if token == "" {
		log.Fatalf("startup failed: CHATSYNC_TOKEN is not set")
	}

	sess, err := session.FromToken(token)
	if err != nil {
		log.Fatalf("startup failed while decoding auth token: %v", err)
	}

	fmt.Printf("Device ID:       %s\n", cfg.DeviceID)
	fmt.Printf("User:            %s (%s)\n", sess.User.Username, sess.User.ID)
	fmt.Printf("Server:          %s\n", cfg.ServerURL)
	fmt.Printf("Config File:     %s\n", cfgPath)
	dataDir := filepath.Dir(cfgPath)
	fmt.Printf("Data Directory:  %s\n", dataDir)

	store, dbPath, err := storage.Open(dataDir)
	if err != nil {
		log.Fatalf("startup failed while opening database: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("database close error: %v", err)
		}
	}()
	fmt.Printf("Database File:   %s\n", dbPath)

	if evicted, err := store.CleanupAllRooms(cfg.RetentionKeepCount); err != nil {
		log.Printf("startup retention cleanup failed: %v", err)
	} else if evicted > 0 {
		log.Printf("retention: evicted %d cached messages", evicted)
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	historyClient, err := history.NewClient(history.Options{
		BaseURL: cfg.ServerURL,
		Token:   token,
		Logger:  logger,
	})
	if err != nil {
		log.Fatalf("startup failed while building history client: %v", err)
	}

	var composer *chat.Composer
	live, err := channel.NewClient(channel.Options{
		URL:               liveURL(cfg.ServerURL),
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectDelay:    cfg.ReconnectDelay(),
		MaxUploadBytes:    cfg.MaxUploadBytes,
		Logger:            logger,
		OnStateChange: func(state channel.State) {
			logger.Info().Str("state", string(state)).Msg("live channel state")
		},
		OnReconnected: func() {
			if composer != nil {
				composer.FlushAll()
			}
		},
	})
	if err != nil {
		log.Fatalf("startup failed while building live channel client: %v", err)
	}

	engine, err := chat.NewEngine(chat.Options{
		Store:        store,
		History:      historyClient,
		Live:         live,
		Publisher:    &consolePublisher{log: logger},
		Self:         sess.User,
		KeepCount:    cfg.RetentionKeepCount,
		TypingWindow: cfg.TypingWindow(),
		Logger:       logger,
	})
	if err != nil {
		log.Fatalf("startup failed while building reconciliation engine: %v", err)
	}
	composer = chat.NewComposer(engine, live)
	live.SetHandler(composer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := live.Connect(token); err != nil {
		logger.Warn().Err(err).Msg("live channel unavailable, starting from cache")
	}

	rooms, err := historyClient.Rooms(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("room list unavailable, starting from cache")
	}
	for _, room := range rooms {
		if err := live.JoinRoom(room.ID); err != nil {
			logger.Warn().Err(err).Str("room_id", room.ID).Msg("room join deferred")
		}
		if err := engine.Sync(ctx, room.ID); err != nil {
			logger.Warn().Err(err).Str("room_id", room.ID).Msg("room sync failed")
		}
	}

	fmt.Println("Status:          running (press Ctrl+C to stop)")
	<-ctx.Done()
	fmt.Println("Status:          shutting down")
	live.Disconnect()
}

// liveURL derives the websocket endpoint from the HTTP base URL.
func liveURL(baseURL string) string {
	ws := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(ws, "https://"):
		ws = "wss://" + strings.TrimPrefix(ws, "https://")
	case strings.HasPrefix(ws, "http://"):
		ws = "ws://" + strings.TrimPrefix(ws, "http://")
	}
	return ws + "/ws"
}

// consolePublisher renders reconciled state as log lines. A richer
// frontend would swap in its own Publisher here.
type consolePublisher struct {
	log zerolog.Logger
}

func (p *consolePublisher) PublishMessages(roomID string, messages []models.Message) {
	p.log.Info().Str("room_id", roomID).Int("count", len(messages)).Msg("room updated")
	if len(messages) == 0 {
		return
	}
	last := messages[len(messages)-1]
	event := p.log.Info().
		Str("room_id", roomID).
		Str("from", last.Sender.Username).
		Bool("pending", last.Pending)
	if last.Deleted {
		event.Msg("(message deleted)")
		return
	}
	if last.File != nil {
		event.Str("file", last.File.Name).Msg("latest message")
		return
	}
	event.Str("text", last.Text).Msg("latest message")
}

func (p *consolePublisher) PublishTyping(roomID string, typingUserIDs []string) {
	p.log.Info().Str("room_id", roomID).Strs("typing", typingUserIDs).Msg("typing changed")
}

func (p *consolePublisher) PublishParticipants(users []models.User) {
	p.log.Info().Int("count", len(users)).Msg("participants updated")
}

func (p *consolePublisher) PublishWarning(roomID string, err error) {
	p.log.Warn().Err(err).Str("room_id", roomID).Msg("degraded operation")
}
