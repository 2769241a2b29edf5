// Package api is the HTTP client for the U*DU stream API. It fetches the
// initial stream snapshot used to seed a room's session state before live
// frames start flowing.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/udu/livesync/pkg/livesync"
	"github.com/udu/livesync/pkg/log"
)

// Stream is the API representation of a live session.
type Stream struct {
	ID          string                 `json:"id"`
	Title       string                 `json:"title"`
	Category    string                 `json:"category"`
	Thumbnail   string                 `json:"thumbnail"`
	Streamer    string                 `json:"streamer"`
	Live        bool                   `json:"live"`
	ViewerCount int                    `json:"viewer_count"`
	Chat        []livesync.ChatMessage `json:"chat,omitempty"`
}

// Client talks to the stream REST API. It implements livesync.Seeder.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *log.Logger
}

// NewClient builds a client for the API at baseURL. When token is set,
// requests are authenticated with a bearer token.
func NewClient(baseURL, token string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("api: invalid base URL %q", baseURL)
	}

	httpClient := &http.Client{Timeout: 15 * time.Second}
	if token != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		httpClient = oauth2.NewClient(context.Background(), ts)
		httpClient.Timeout = 15 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		logger:  log.ForComponent("api"),
	}, nil
}

// Stream fetches one stream by id.
func (c *Client) Stream(ctx context.Context, id string) (Stream, error) {
	var st Stream
	if err := c.getJSON(ctx, "/api/streams/"+url.PathEscape(id), &st); err != nil {
		return Stream{}, err
	}
	return st, nil
}

// ActiveStreams lists the streams currently live.
func (c *Client) ActiveStreams(ctx context.Context) ([]Stream, error) {
	var body struct {
		Streams []Stream `json:"streams"`
	}
	if err := c.getJSON(ctx, "/api/streams/active", &body); err != nil {
		return nil, err
	}
	return body.Streams, nil
}

// Seed fetches the initial state for a room. Rooms are named after the
// stream they carry ("stream:<id>"); the prefix is stripped for the REST
// path.
func (c *Client) Seed(ctx context.Context, roomID string) (livesync.Seed, error) {
	st, err := c.Stream(ctx, livesync.StreamIDFromRoom(roomID))
	if err != nil {
		return livesync.Seed{}, err
	}
	return livesync.Seed{
		Meta: livesync.StreamMeta{
			Title:     st.Title,
			Category:  st.Category,
			Thumbnail: st.Thumbnail,
			Streamer:  st.Streamer,
		},
		ViewerCount: st.ViewerCount,
		Chat:        st.Chat,
	}, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("api: building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Debugf("GET %s", path)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("api: GET %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("api: GET %s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decoding %s response: %w", path, err)
	}
	return nil
}
