package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "chatsync"
	// DefaultServerURL is the chat server base URL when no override exists.
	DefaultServerURL = "http://localhost:5000"
	// DefaultRetentionKeepCount is how many messages are kept per room.
	DefaultRetentionKeepCount = 100
	// DefaultReconnectAttempts bounds automatic reconnection retries.
	DefaultReconnectAttempts = 5
	// DefaultReconnectDelayMillis is the fixed backoff between retries.
	DefaultReconnectDelayMillis = 1000
	// DefaultMaxUploadBytes caps file uploads before any round trip.
	DefaultMaxUploadBytes = 5 * 1024 * 1024
	// DefaultTypingWindowMillis is how long a typing notice stays live.
	DefaultTypingWindowMillis = 3000
	// configFileName is the persisted configuration file.
	configFileName = "config.json"
)

// ClientConfig contains persistent chat client settings.
type ClientConfig struct {
	DeviceID             string `json:"device_id"`
	ServerURL            string `json:"server_url"`
	RetentionKeepCount   int    `json:"retention_keep_count"`
	ReconnectAttempts    int    `json:"reconnect_attempts"`
	ReconnectDelayMillis int    `json:"reconnect_delay_millis"`
	MaxUploadBytes       int64  `json:"max_upload_bytes"`
	TypingWindowMillis   int    `json:"typing_window_millis"`
}

// ReconnectDelay returns the fixed reconnect backoff as a duration.
func (c *ClientConfig) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelayMillis) * time.Millisecond
}

// TypingWindow returns the typing expiry window as a duration.
func (c *ClientConfig) TypingWindow() time.Duration {
	return time.Duration(c.TypingWindowMillis) * time.Millisecond
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If CHATSYNC_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv("CHATSYNC_DATA_DIR"); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.json for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// Load reads and unmarshals config.json from disk.
func Load(path string) (*ClientConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg ClientConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes config.json to disk.
func Save(path string, cfg *ClientConfig) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// LoadOrCreate ensures the data directory and config exist, then returns both.
func LoadOrCreate() (*ClientConfig, string, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", err
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, "", fmt.Errorf("create data directory %q: %w", dataDir, err)
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}

		cfg = defaultConfig()
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}

		return cfg, cfgPath, nil
	}

	if normalizeDefaults(cfg) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	}

	return cfg, cfgPath, nil
}

func defaultConfig() *ClientConfig {
	return &ClientConfig{
		DeviceID:             uuid.NewString(),
		ServerURL:            DefaultServerURL,
		RetentionKeepCount:   DefaultRetentionKeepCount,
		ReconnectAttempts:    DefaultReconnectAttempts,
		ReconnectDelayMillis: DefaultReconnectDelayMillis,
		MaxUploadBytes:       DefaultMaxUploadBytes,
		TypingWindowMillis:   DefaultTypingWindowMillis,
	}
}

func normalizeDefaults(cfg *ClientConfig) bool {
	updated := false

	if cfg.DeviceID == "" {
		cfg.DeviceID = uuid.NewString()
		updated = true
	}
	if cfg.ServerURL == "" {
		cfg.ServerURL = DefaultServerURL
		updated = true
	}
	if cfg.RetentionKeepCount <= 0 {
		cfg.RetentionKeepCount = DefaultRetentionKeepCount
		updated = true
	}
	if cfg.ReconnectAttempts <= 0 {
		cfg.ReconnectAttempts = DefaultReconnectAttempts
		updated = true
	}
	if cfg.ReconnectDelayMillis <= 0 {
		cfg.ReconnectDelayMillis = DefaultReconnectDelayMillis
		updated = true
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
		updated = true
	}
	if cfg.TypingWindowMillis <= 0 {
		cfg.TypingWindowMillis = DefaultTypingWindowMillis
		updated = true
	}

	return updated
}
