package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOrCreateCreatesAndReloadsConfig(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("CHATSYNC_DATA_DIR", tempDir)

	firstCfg, firstPath, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("first LoadOrCreate failed: %v", err)
	}
	if firstCfg.DeviceID == "" {
		t.Fatalf("expected non-empty device ID")
	}
	if firstCfg.ServerURL != DefaultServerURL {
		t.Fatalf("expected default server URL %q, got %q", DefaultServerURL, firstCfg.ServerURL)
	}
	if firstCfg.RetentionKeepCount != DefaultRetentionKeepCount {
		t.Fatalf("expected default retention %d, got %d", DefaultRetentionKeepCount, firstCfg.RetentionKeepCount)
	}

	expectedConfigPath := filepath.Join(tempDir, "config.json")
	if firstPath != expectedConfigPath {
		t.Fatalf("expected config path %q, got %q", expectedConfigPath, firstPath)
	}

	secondCfg, secondPath, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("second LoadOrCreate failed: %v", err)
	}
	if secondPath != firstPath {
		t.Fatalf("expected config path to be stable, got %q then %q", firstPath, secondPath)
	}
	if secondCfg.DeviceID != firstCfg.DeviceID {
		t.Fatalf("expected stable device ID, got %q then %q", firstCfg.DeviceID, secondCfg.DeviceID)
	}
}

func TestLoadOrCreateNormalizesPartialConfig(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("CHATSYNC_DATA_DIR", tempDir)

	cfgPath := filepath.Join(tempDir, "config.json")
	if err := os.MkdirAll(tempDir, 0o700); err != nil {
		t.Fatalf("create temp data dir: %v", err)
	}

	partial := &ClientConfig{
		DeviceID:  "existing-device",
		ServerURL: "http://chat.example.test:5000",
	}
	if err := Save(cfgPath, partial); err != nil {
		t.Fatalf("Save partial config failed: %v", err)
	}

	cfg, _, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if cfg.DeviceID != "existing-device" {
		t.Fatalf("expected existing device ID to be retained, got %q", cfg.DeviceID)
	}
	if cfg.ServerURL != "http://chat.example.test:5000" {
		t.Fatalf("expected existing server URL to be retained, got %q", cfg.ServerURL)
	}
	if cfg.ReconnectAttempts != DefaultReconnectAttempts {
		t.Fatalf("expected reconnect attempts to normalize to %d, got %d", DefaultReconnectAttempts, cfg.ReconnectAttempts)
	}
	if cfg.MaxUploadBytes != DefaultMaxUploadBytes {
		t.Fatalf("expected max upload bytes to normalize to %d, got %d", DefaultMaxUploadBytes, cfg.MaxUploadBytes)
	}

	reloaded, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load after normalize failed: %v", err)
	}
	if reloaded.TypingWindowMillis != DefaultTypingWindowMillis {
		t.Fatalf("expected normalized config to be persisted, got typing window %d", reloaded.TypingWindowMillis)
	}
}
