package cmd

import (
	"fmt"

	"github.com/udu/livesync/pkg/api"
	"github.com/udu/livesync/pkg/config"
	"github.com/udu/livesync/pkg/history"
	"github.com/udu/livesync/pkg/livesync"
	"github.com/udu/livesync/pkg/transport/ws"
)

// buildClient assembles the realtime client from a loaded config: the
// websocket transport, the REST seeder when an API URL is configured, and
// the chat archive when history is enabled. The returned cleanup closes
// the client and any open resources.
func buildClient(cfg *config.Config) (*livesync.Client, func(), error) {
	if cfg.ServerURL == "" {
		return nil, nil, fmt.Errorf("no server_url configured")
	}

	transport, err := ws.New(ws.Config{URL: cfg.ServerURL, Token: cfg.AuthToken})
	if err != nil {
		return nil, nil, fmt.Errorf("building transport: %w", err)
	}

	opts := []livesync.Option{
		livesync.WithIdentity(cfg.Identity),
		livesync.WithBackoff(livesync.Backoff{
			Initial:     cfg.Reconnect.InitialBackoff.Duration,
			Max:         cfg.Reconnect.MaxBackoff.Duration,
			MaxAttempts: cfg.Reconnect.MaxAttempts,
		}),
		livesync.WithMaxChatLength(cfg.Chat.MaxLength),
		livesync.WithChatRetention(cfg.Chat.Retention),
		livesync.WithEchoTimeout(cfg.Chat.EchoTimeout.Duration),
	}

	if cfg.APIURL != "" {
		seeder, err := api.NewClient(cfg.APIURL, cfg.AuthToken)
		if err != nil {
			return nil, nil, fmt.Errorf("building API client: %w", err)
		}
		opts = append(opts, livesync.WithSeeder(seeder))
	}

	var store *history.Store
	if cfg.History != nil && cfg.History.Enabled {
		path := cfg.History.Path
		if path == "" {
			path, err = cfg.GetDefaultHistoryPath()
			if err != nil {
				return nil, nil, fmt.Errorf("resolving history path: %w", err)
			}
		}
		store, err = history.Open(path)
		if err != nil {
			return nil, nil, fmt.Errorf("opening chat history: %w", err)
		}
		opts = append(opts, livesync.WithRecorder(store))
	}

	client := livesync.New(transport, opts...)
	cleanup := func() {
		client.Close()
		if store != nil {
			_ = store.Close()
		}
	}
	return client, cleanup, nil
}

// loadConfig reads the config file at path, falling back to defaults when
// the file does not exist.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}
