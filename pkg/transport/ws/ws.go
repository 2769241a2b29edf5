// Package ws provides the websocket transport used by the live sync client.
// It speaks the relay's JSON frame protocol over a gorilla/websocket
// connection and keeps the link alive with periodic pings.
package ws

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/udu/livesync/pkg/livesync"
	"github.com/udu/livesync/pkg/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Config holds the transport settings.
type Config struct {
	// URL is the relay websocket endpoint (ws[s]://host/ws).
	URL string
	// Token, when set, is sent as a bearer token during the handshake.
	Token string
	// HandshakeTimeout bounds the websocket upgrade. Defaults to 15s.
	HandshakeTimeout time.Duration
}

// Transport dials websocket sessions. It implements livesync.Transport.
type Transport struct {
	cfg    Config
	logger *log.Logger
}

// New validates the endpoint URL and returns a transport for it.
func New(cfg Config) (*Transport, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return nil, fmt.Errorf("ws: invalid websocket URL %q", cfg.URL)
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 15 * time.Second
	}
	return &Transport{cfg: cfg, logger: log.ForComponent("ws")}, nil
}

// Dial opens a new websocket session. The returned session owns the
// connection; callers drive it through Send/Receive and must Close it.
func (t *Transport) Dial(ctx context.Context) (livesync.Session, error) {
	dialer := websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: t.cfg.HandshakeTimeout,
	}

	var header http.Header
	if t.cfg.Token != "" {
		header = http.Header{"Authorization": {"Bearer " + t.cfg.Token}}
	}

	conn, _, err := dialer.DialContext(ctx, t.cfg.URL, header)
	if err != nil {
		return nil, fmt.Errorf("ws: dial %s: %w", t.cfg.URL, err)
	}
	t.logger.Debugf("connected to %s", t.cfg.URL)

	s := &session{conn: conn, logger: t.logger, done: make(chan struct{})}
	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ws: set read deadline: %w", err)
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go s.pingLoop()
	return s, nil
}

type session struct {
	conn   *websocket.Conn
	logger *log.Logger

	writeMu sync.Mutex
	once    sync.Once
	done    chan struct{}
}

func (s *session) Send(f livesync.Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("ws: set write deadline: %w", err)
	}
	if err := s.conn.WriteJSON(f); err != nil {
		return fmt.Errorf("ws: write frame: %w", err)
	}
	return nil
}

func (s *session) Receive() (livesync.Frame, error) {
	var f livesync.Frame
	if err := s.conn.ReadJSON(&f); err != nil {
		return livesync.Frame{}, fmt.Errorf("ws: read frame: %w", err)
	}
	return f, nil
}

func (s *session) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

// pingLoop keeps the connection alive. The relay answers each ping with a
// pong, which extends the read deadline via the pong handler.
func (s *session) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			s.writeMu.Unlock()
			if err != nil {
				s.logger.Debugf("ping failed: %v", err)
				return
			}
		}
	}
}
