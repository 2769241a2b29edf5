package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/udu/livesync/pkg/config"
	"github.com/udu/livesync/pkg/history"
	"github.com/udu/livesync/pkg/livesync"
	"github.com/udu/livesync/pkg/log"
	"github.com/urfave/cli/v3"
)

// TailCommand creates a CLI command that subscribes to one or more stream
// rooms and writes every live frame to stdout as NDJSON.
//
// Typical usage:
//
//	livesync tail --stream 42
//	livesync tail --stream 42 --stream 7 | jq -r 'select(.event=="chat:message")'
//
// By default only room events (chat, viewer counts) are printed. Pass --all
// to include connection status transitions, and --pretty for multi-line
// JSON during manual inspection.
func TailCommand() *cli.Command {
	return &cli.Command{
		Name:  "tail",
		Usage: "Stream live room events (NDJSON) to stdout",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "stream",
				Usage: "Stream id to follow (repeatable)",
			},
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Include connection status events",
				Value: false,
			},
			&cli.BoolFlag{
				Name:  "pretty",
				Usage: "Pretty-print JSON instead of raw single-line",
				Value: false,
			},
			&cli.BoolFlag{
				Name:  "archive",
				Usage: "Dump archived chat for the streams and exit instead of following live events",
				Value: false,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			log.SetGlobalDebug(c.Bool("debug"))

			streams := c.StringSlice("stream")
			if len(streams) == 0 {
				return errors.New("at least one --stream is required")
			}

			cfg, err := loadConfig(c.String("config"))
			if err != nil {
				return err
			}

			if c.Bool("archive") {
				return dumpArchive(cfg, streams, c.Bool("pretty"))
			}

			client, cleanup, err := buildClient(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			return tailStreams(ctx, client, streams, c.Bool("all"), c.Bool("pretty"))
		},
	}
}

// dumpArchive writes the archived chat for each stream as NDJSON and
// returns. The archive only exists when history is enabled in the config.
func dumpArchive(cfg *config.Config, streams []string, pretty bool) error {
	if cfg.History == nil || !cfg.History.Enabled {
		return errors.New("chat history is not enabled in the config")
	}
	path := cfg.History.Path
	if path == "" {
		var err error
		path, err = cfg.GetDefaultHistoryPath()
		if err != nil {
			return fmt.Errorf("resolving history path: %w", err)
		}
	}
	store, err := history.Open(path)
	if err != nil {
		return fmt.Errorf("opening chat history: %w", err)
	}
	defer func() { _ = store.Close() }()

	out := bufio.NewWriter(os.Stdout)
	defer func() { _ = out.Flush() }()
	enc := json.NewEncoder(out)
	if pretty {
		enc.SetIndent("", "  ")
	}

	for _, id := range streams {
		roomID := livesync.RoomForStream(id)
		msgs, err := store.Recent(roomID, 1000)
		if err != nil {
			return fmt.Errorf("reading archive for %s: %w", roomID, err)
		}
		for _, msg := range msgs {
			data, err := json.Marshal(chatArchiveLine{Room: roomID, Message: msg})
			if err != nil {
				return fmt.Errorf("encoding archived message: %w", err)
			}
			ev := tailEvent{
				Time:  msg.SentAt,
				Event: livesync.EventChatMessage,
				Room:  roomID,
				Data:  data,
			}
			if err := enc.Encode(ev); err != nil {
				return fmt.Errorf("writing archived message: %w", err)
			}
		}
	}
	return nil
}

type chatArchiveLine struct {
	Room    string               `json:"room"`
	Message livesync.ChatMessage `json:"message"`
}

// tailEvent is one NDJSON output line.
type tailEvent struct {
	Time  time.Time       `json:"time"`
	Event string          `json:"event"`
	Room  string          `json:"room,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func tailStreams(ctx context.Context, client *livesync.Client, streams []string, includeAll, pretty bool) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := bufio.NewWriter(os.Stdout)
	defer func() { _ = out.Flush() }()

	var mu sync.Mutex
	emit := func(f livesync.Frame) {
		ev := tailEvent{
			Time:  time.Now().UTC(),
			Event: livesync.Canonical(f.Event),
			Room:  f.Room,
			Data:  f.Data,
		}

		var line []byte
		var err error
		if pretty {
			line, err = json.MarshalIndent(ev, "", "  ")
		} else {
			line, err = json.Marshal(ev)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "encoding event: %v\n", err)
			return
		}

		mu.Lock()
		_, _ = out.Write(line)
		_ = out.WriteByte('\n')
		_ = out.Flush()
		mu.Unlock()
	}

	events := []string{livesync.EventChatMessage, livesync.EventViewerCount,
		livesync.EventViewerJoin, livesync.EventViewerLeave}

	for _, id := range streams {
		roomID := livesync.RoomForStream(id)
		handle, err := client.Subscribe(roomID)
		if err != nil {
			return fmt.Errorf("subscribing to %s: %w", roomID, err)
		}
		defer handle.Unsubscribe()

		for _, event := range events {
			off := client.OnEvent(event, roomID, emit)
			defer off()
		}
	}

	if includeAll {
		off := client.OnEvent(livesync.EventConnStatus, "", emit)
		defer off()
	}

	<-ctx.Done()
	return nil
}
