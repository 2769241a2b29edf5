package relay

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/google/uuid"

	"github.com/udu/livesync/pkg/livesync"
	"github.com/udu/livesync/pkg/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// client is one websocket connection attached to the hub. joined is
// guarded by the hub mutex.
type client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	out    chan livesync.Frame
	joined map[string]struct{}
	logger *log.Logger
}

func newClient(hub *Hub, conn *websocket.Conn) *client {
	return &client{
		id:     uuid.NewString(),
		hub:    hub,
		conn:   conn,
		out:    make(chan livesync.Frame, 64),
		joined: make(map[string]struct{}),
		logger: log.ForComponent("relay"),
	}
}

func (c *client) run() {
	go c.writePump()
	c.readPump()
}

// send queues f for delivery. A client that cannot keep up has its frame
// dropped rather than blocking the broadcast path.
func (c *client) send(f livesync.Frame) {
	select {
	case c.out <- f:
	default:
		c.logger.Warnf("client %s send buffer full, dropping %s", c.id, f.Event)
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.drop(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	c.conn.SetPingHandler(func(appData string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return c.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	for {
		var f livesync.Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debugf("client %s read: %v", c.id, err)
			}
			return
		}
		c.handle(f)
	}
}

func (c *client) handle(f livesync.Frame) {
	switch livesync.Canonical(f.Event) {
	case livesync.EventRoomJoin:
		if f.Room != "" {
			c.hub.join(c, f.Room)
		}
	case livesync.EventRoomLeave:
		if f.Room != "" {
			c.hub.leave(c, f.Room)
		}
	case livesync.EventChatMessage:
		c.handleChat(f)
	default:
		c.logger.Debugf("client %s sent unhandled event %s", c.id, f.Event)
	}
}

func (c *client) handleChat(f livesync.Frame) {
	msg, roomID, err := livesync.DecodeChat(f)
	if err != nil {
		c.logger.Warnf("client %s sent malformed chat frame: %v", c.id, err)
		return
	}
	if roomID == "" || msg.Text == "" {
		return
	}
	c.hub.chat(roomID, msg)
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case f, ok := <-c.out:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(f); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
