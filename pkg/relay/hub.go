package relay

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/udu/livesync/pkg/livesync"
	"github.com/udu/livesync/pkg/log"
)

const chatBacklogSize = 50

// Hub tracks connected clients and their room membership. Room membership
// is per connection and is dropped when the connection goes away, which is
// why clients re-issue join frames after every reconnect.
type Hub struct {
	logger *log.Logger

	mu      sync.Mutex
	rooms   map[string]map[*client]struct{}
	backlog map[string][]livesync.ChatMessage
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{
		logger:  log.ForComponent("relay"),
		rooms:   make(map[string]map[*client]struct{}),
		backlog: make(map[string][]livesync.ChatMessage),
	}
}

// ViewerCount reports how many connections are currently in roomID.
func (h *Hub) ViewerCount(roomID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[roomID])
}

// RecentChat returns the retained chat backlog for roomID, oldest first.
func (h *Hub) RecentChat(roomID string) []livesync.ChatMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	msgs := h.backlog[roomID]
	out := make([]livesync.ChatMessage, len(msgs))
	copy(out, msgs)
	return out
}

func (h *Hub) join(c *client, roomID string) {
	h.mu.Lock()
	members, ok := h.rooms[roomID]
	if !ok {
		members = make(map[*client]struct{})
		h.rooms[roomID] = members
	}
	if _, already := members[c]; already {
		h.mu.Unlock()
		return
	}
	members[c] = struct{}{}
	c.joined[roomID] = struct{}{}
	count := len(members)
	h.mu.Unlock()

	h.logger.Debugf("client %s joined %s (%d viewers)", c.id, roomID, count)
	h.broadcastViewerCount(roomID, count)
}

func (h *Hub) leave(c *client, roomID string) {
	h.mu.Lock()
	members, ok := h.rooms[roomID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, member := members[c]; !member {
		h.mu.Unlock()
		return
	}
	delete(members, c)
	delete(c.joined, roomID)
	if len(members) == 0 {
		delete(h.rooms, roomID)
	}
	count := len(members)
	h.mu.Unlock()

	h.logger.Debugf("client %s left %s (%d viewers)", c.id, roomID, count)
	h.broadcastViewerCount(roomID, count)
}

// drop removes a disconnected client from every room it had joined.
func (h *Hub) drop(c *client) {
	h.mu.Lock()
	rooms := make([]string, 0, len(c.joined))
	for roomID := range c.joined {
		rooms = append(rooms, roomID)
	}
	h.mu.Unlock()

	for _, roomID := range rooms {
		h.leave(c, roomID)
	}
}

// chat retains msg in the room backlog and fans it out to every member,
// sender included. The sender needs its own message back, with the client
// generated id intact, to confirm the optimistic local copy.
func (h *Hub) chat(roomID string, msg livesync.ChatMessage) {
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}

	h.mu.Lock()
	msgs := append(h.backlog[roomID], msg)
	if len(msgs) > chatBacklogSize {
		msgs = msgs[len(msgs)-chatBacklogSize:]
	}
	h.backlog[roomID] = msgs
	h.mu.Unlock()

	h.broadcast(roomID, livesync.Frame{
		Event: livesync.EventChatMessage,
		Room:  roomID,
		Data:  mustMarshal(chatPayload{Room: roomID, Message: msg}),
	})
}

func (h *Hub) broadcastViewerCount(roomID string, count int) {
	h.broadcast(roomID, livesync.Frame{
		Event: livesync.EventViewerCount,
		Room:  roomID,
		Data:  mustMarshal(viewerCountPayload{Room: roomID, Count: count}),
	})
}

func (h *Hub) broadcast(roomID string, f livesync.Frame) {
	h.mu.Lock()
	members := make([]*client, 0, len(h.rooms[roomID]))
	for c := range h.rooms[roomID] {
		members = append(members, c)
	}
	h.mu.Unlock()

	for _, c := range members {
		c.send(f)
	}
}

type chatPayload struct {
	Room    string               `json:"room"`
	Message livesync.ChatMessage `json:"message"`
}

type viewerCountPayload struct {
	Room  string `json:"room"`
	Count int    `json:"count"`
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
