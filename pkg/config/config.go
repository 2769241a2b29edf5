package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed config.toml.sample
var configTemplate string

// Defaults mirror the platform-wide limits: chat messages are capped at 500
// characters and the chat log retains the last 500 entries.
const (
	DefaultMaxChatLength  = 500
	DefaultChatRetention  = 500
	DefaultEchoTimeout    = 8 * time.Second
	DefaultInitialBackoff = 1 * time.Second
	DefaultMaxBackoff     = 10 * time.Second
)

type Config struct {
	// ServerURL is the realtime WebSocket endpoint, e.g. ws://localhost:3000/ws.
	ServerURL string `toml:"server_url"`
	// APIURL is the REST endpoint used to seed session state, e.g. http://localhost:3000.
	APIURL string `toml:"api_url"`
	// AuthToken authenticates both the REST client and the WebSocket handshake.
	AuthToken string `toml:"auth_token,omitempty"`
	// Identity is the display name attached to outbound chat messages.
	Identity string `toml:"identity"`

	Reconnect ReconnectConfig `toml:"reconnect"`
	Chat      ChatConfig      `toml:"chat"`
	History   *HistoryConfig  `toml:"history,omitempty"`
}

type ReconnectConfig struct {
	InitialBackoff Duration `toml:"initial_backoff"`
	MaxBackoff     Duration `toml:"max_backoff"`
	// MaxAttempts bounds consecutive failed reconnect attempts before the
	// connection is considered failed. 0 means retry forever.
	MaxAttempts int `toml:"max_attempts"`
}

type ChatConfig struct {
	MaxLength   int      `toml:"max_length"`
	Retention   int      `toml:"retention"`
	EchoTimeout Duration `toml:"echo_timeout"`
}

type HistoryConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path,omitempty"`
}

type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func GetDefaultConfig() *Config {
	return &Config{
		ServerURL: "ws://localhost:3000/ws",
		APIURL:    "http://localhost:3000",
		Identity:  "anonymous",
		Reconnect: ReconnectConfig{
			InitialBackoff: Duration{DefaultInitialBackoff},
			MaxBackoff:     Duration{DefaultMaxBackoff},
			MaxAttempts:    0,
		},
		Chat: ChatConfig{
			MaxLength:   DefaultMaxChatLength,
			Retention:   DefaultChatRetention,
			EchoTimeout: Duration{DefaultEchoTimeout},
		},
	}
}

func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return GetDefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	applyDefaults(&config)
	return &config, nil
}

func applyDefaults(c *Config) {
	if c.ServerURL == "" {
		c.ServerURL = "ws://localhost:3000/ws"
	}
	if c.APIURL == "" {
		c.APIURL = "http://localhost:3000"
	}
	if c.Identity == "" {
		c.Identity = "anonymous"
	}
	if c.Reconnect.InitialBackoff.Duration == 0 {
		c.Reconnect.InitialBackoff = Duration{DefaultInitialBackoff}
	}
	if c.Reconnect.MaxBackoff.Duration == 0 {
		c.Reconnect.MaxBackoff = Duration{DefaultMaxBackoff}
	}
	if c.Chat.MaxLength == 0 {
		c.Chat.MaxLength = DefaultMaxChatLength
	}
	if c.Chat.Retention == 0 {
		c.Chat.Retention = DefaultChatRetention
	}
	if c.Chat.EchoTimeout.Duration == 0 {
		c.Chat.EchoTimeout = Duration{DefaultEchoTimeout}
	}
}

func (c *Config) SaveConfig(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	return os.WriteFile(configPath, data, 0644)
}

// SaveTemplateConfig writes the commented sample configuration. Unlike
// SaveConfig it preserves the explanatory comments for hand editing.
func (c *Config) SaveTemplateConfig(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return os.WriteFile(configPath, []byte(configTemplate), 0644)
}

// GetDefaultHistoryPath returns where the chat archive database lives when
// no explicit path is configured.
func (c *Config) GetDefaultHistoryPath() (string, error) {
	if c.History != nil && c.History.Path != "" {
		return c.History.Path, nil
	}
	dataDir, err := GetDefaultDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "history.db"), nil
}

// GetDefaultDataDir returns the default data directory for livesync
func GetDefaultDataDir() (string, error) {
	// Use XDG_DATA_HOME if set, otherwise use ~/.local/share
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting user home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	dir := filepath.Join(dataDir, "livesync")

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating data directory %s: %w", dir, err)
	}

	return dir, nil
}

// GetConfigDir returns the configuration directory for livesync
func GetConfigDir() (string, error) {
	// Use XDG_CONFIG_HOME if set, otherwise use ~/.config
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting user home directory: %w", err)
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	dir := filepath.Join(configDir, "livesync")

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	return dir, nil
}

// GetDefaultConfigPath returns the default configuration file path
func GetDefaultConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.toml"), nil
}
