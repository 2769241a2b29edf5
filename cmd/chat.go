package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v3"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/udu/livesync/pkg/livesync"
	"github.com/udu/livesync/pkg/log"
)

// Define styles using lipgloss
var (
	streamTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("86")).
				Background(lipgloss.Color("235")).
				Padding(0, 1).
				Margin(0, 0, 1, 0)

	authorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("214"))

	chatMetaStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)

	viewerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("32"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("203"))
)

// ChatCommand creates the chat command
func ChatCommand() *cli.Command {
	return &cli.Command{
		Name:  "chat",
		Usage: "Join a stream's chat from the terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "stream",
				Usage: "Stream id to join",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			log.SetGlobalDebug(c.Bool("debug"))

			streamID := c.String("stream")
			if streamID == "" {
				return errors.New("--stream is required")
			}

			cfg, err := loadConfig(c.String("config"))
			if err != nil {
				return err
			}
			client, cleanup, err := buildClient(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			return runChat(ctx, client, streamID)
		},
	}
}

func runChat(ctx context.Context, client *livesync.Client, streamID string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	roomID := livesync.RoomForStream(streamID)
	handle, err := client.Subscribe(roomID)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", roomID, err)
	}
	defer handle.Unsubscribe()

	printHeader(handle.Snapshot(), streamID)

	offChat := client.OnEvent(livesync.EventChatMessage, roomID, func(f livesync.Frame) {
		msg, _, err := livesync.DecodeChat(f)
		if err != nil {
			return
		}
		printMessage(msg)
	})
	defer offChat()

	offStatus := client.OnEvent(livesync.EventConnStatus, "", func(livesync.Frame) {
		state := client.ConnState()
		switch state.Status {
		case livesync.StatusReconnecting:
			fmt.Println(statusStyle.Render(fmt.Sprintf("reconnecting (attempt %d)...", state.Attempt)))
		case livesync.StatusConnected:
			fmt.Println(statusStyle.Render("connected"))
		case livesync.StatusFailed:
			fmt.Println(warnStyle.Render("connection failed, giving up"))
		}
	})
	defer offStatus()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if line == "" {
				continue
			}
			if _, err := handle.SendChat(line); err != nil {
				var verr *livesync.ValidationError
				var nc *livesync.NotConnectedError
				switch {
				case errors.As(err, &verr):
					fmt.Println(warnStyle.Render(fmt.Sprintf("rejected: %v", verr)))
				case errors.As(err, &nc):
					fmt.Println(warnStyle.Render("not connected, message not sent"))
				default:
					fmt.Println(warnStyle.Render(fmt.Sprintf("send failed: %v", err)))
				}
			}
		}
	}
}

func printHeader(state livesync.State, streamID string) {
	title := state.Meta.Title
	if title == "" {
		title = "Stream " + streamID
	}
	title = cases.Title(language.English).String(title)

	header := streamTitleStyle.Render("🔴 " + title)
	if state.Meta.Streamer != "" {
		header += chatMetaStyle.Render(" by " + state.Meta.Streamer)
	}
	fmt.Println(header)
	if state.ViewerCount > 0 {
		fmt.Println(viewerStyle.Render(fmt.Sprintf("%d watching", state.ViewerCount)))
	}
}

func printMessage(msg livesync.ChatMessage) {
	ts := msg.SentAt
	if ts.IsZero() {
		ts = time.Now()
	}
	fmt.Printf("%s %s %s\n",
		chatMetaStyle.Render(ts.Local().Format("15:04")),
		authorStyle.Render(msg.Author+":"),
		msg.Text,
	)
}
