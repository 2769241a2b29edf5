package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Chat.MaxLength != DefaultMaxChatLength {
		t.Errorf("max length = %d, want %d", cfg.Chat.MaxLength, DefaultMaxChatLength)
	}
	if cfg.Reconnect.InitialBackoff.Duration != DefaultInitialBackoff {
		t.Errorf("initial backoff = %s, want %s", cfg.Reconnect.InitialBackoff, DefaultInitialBackoff)
	}
	if cfg.Reconnect.MaxAttempts != 0 {
		t.Errorf("max attempts = %d, want 0 (retry forever)", cfg.Reconnect.MaxAttempts)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := GetDefaultConfig()
	cfg.ServerURL = "wss://live.udu.example/ws"
	cfg.Identity = "streamer42"
	cfg.Reconnect.MaxAttempts = 5
	cfg.Chat.EchoTimeout = Duration{3 * time.Second}
	cfg.History = &HistoryConfig{Enabled: true, Path: "/tmp/h.db"}

	if err := cfg.SaveConfig(path); err != nil {
		t.Fatalf("save config: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if loaded.ServerURL != cfg.ServerURL {
		t.Errorf("server_url = %q, want %q", loaded.ServerURL, cfg.ServerURL)
	}
	if loaded.Identity != "streamer42" {
		t.Errorf("identity = %q, want streamer42", loaded.Identity)
	}
	if loaded.Reconnect.MaxAttempts != 5 {
		t.Errorf("max_attempts = %d, want 5", loaded.Reconnect.MaxAttempts)
	}
	if loaded.Chat.EchoTimeout.Duration != 3*time.Second {
		t.Errorf("echo_timeout = %s, want 3s", loaded.Chat.EchoTimeout)
	}
	if loaded.History == nil || !loaded.History.Enabled {
		t.Error("history config not preserved")
	}
}

func TestPartialConfigGetsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	partial := []byte("identity = \"viewer\"\n")
	if err := os.WriteFile(path, partial, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Identity != "viewer" {
		t.Errorf("identity = %q, want viewer", cfg.Identity)
	}
	if cfg.Chat.Retention != DefaultChatRetention {
		t.Errorf("retention = %d, want default %d", cfg.Chat.Retention, DefaultChatRetention)
	}
	if cfg.ServerURL == "" {
		t.Error("server_url default not applied")
	}
}

func TestSaveTemplateConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := GetDefaultConfig().SaveTemplateConfig(path); err != nil {
		t.Fatalf("save template: %v", err)
	}

	// The template must itself be loadable.
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	if cfg.Chat.MaxLength != DefaultMaxChatLength {
		t.Errorf("template max_length = %d, want %d", cfg.Chat.MaxLength, DefaultMaxChatLength)
	}
}
