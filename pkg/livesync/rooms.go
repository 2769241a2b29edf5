package livesync

import (
	"sync"

	"github.com/udu/livesync/pkg/log"
)

type roomIntent struct {
	refs int
	// joinedCycle records the connect cycle in which the join signal was
	// last sent, so each cycle issues exactly one join per room.
	joinedCycle uint64
}

// Membership tracks which rooms the client intends to be joined to and
// (re)issues join/leave signals across reconnects. The transport layer does
// not persist room membership across a connection cycle, so every
// successful (re)connect re-sends the join signal for each room with
// outstanding intent.
//
// Multiple UI subscribers may reference the same room; the tracker
// refcounts them and only sends the leave signal when the count reaches
// zero.
type Membership struct {
	conn   *Manager
	logger *log.Logger

	mu     sync.Mutex
	rooms  map[string]*roomIntent
	cycle  uint64
	online bool
}

// NewMembership wires a tracker to the connection manager. The tracker
// hooks the manager's connected notification, which fires before the
// status flips to connected (see Manager.OnConnected).
func NewMembership(conn *Manager) *Membership {
	t := &Membership{
		conn:   conn,
		logger: log.ForComponent("rooms"),
		rooms:  make(map[string]*roomIntent),
	}
	conn.OnConnected(t.handleConnected)
	conn.OnState(func(s ConnState) {
		if s.Status != StatusConnected {
			t.handleOffline()
		}
	})
	return t
}

// Join registers intent to join roomID. If the connection is established
// the join signal is sent immediately (once per connect cycle); otherwise
// the intent is queued and sent on the next connect.
func (t *Membership) Join(roomID string) {
	t.mu.Lock()
	intent, ok := t.rooms[roomID]
	if !ok {
		intent = &roomIntent{}
		t.rooms[roomID] = intent
	}
	intent.refs++
	send := t.online && intent.joinedCycle != t.cycle
	if send {
		intent.joinedCycle = t.cycle
	}
	t.mu.Unlock()

	if send {
		t.sendSignal(EventRoomJoin, roomID)
	}
}

// Leave drops one reference to roomID. When the last reference is gone the
// leave signal is sent best-effort; if the connection is already down this
// is a no-op, since the server drops room membership server-side on
// disconnect.
func (t *Membership) Leave(roomID string) {
	t.mu.Lock()
	intent, ok := t.rooms[roomID]
	if !ok {
		t.mu.Unlock()
		return
	}
	intent.refs--
	if intent.refs > 0 {
		t.mu.Unlock()
		return
	}
	delete(t.rooms, roomID)
	send := t.online && intent.joinedCycle == t.cycle
	t.mu.Unlock()

	if send {
		t.sendSignal(EventRoomLeave, roomID)
	}
}

// Subscribers returns the local subscriber count for roomID. This is UI
// reference counting, not the room's viewer count.
func (t *Membership) Subscribers(roomID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if intent, ok := t.rooms[roomID]; ok {
		return intent.refs
	}
	return 0
}

// handleConnected re-establishes membership after every successful
// (re)connect. The new cycle number invalidates joins from the previous
// connection, so each room with outstanding intent gets exactly one fresh
// join signal.
func (t *Membership) handleConnected() {
	t.mu.Lock()
	t.cycle++
	t.online = true
	pending := make([]string, 0, len(t.rooms))
	for roomID, intent := range t.rooms {
		intent.joinedCycle = t.cycle
		pending = append(pending, roomID)
	}
	t.mu.Unlock()

	for _, roomID := range pending {
		t.sendSignal(EventRoomJoin, roomID)
	}
	if len(pending) > 0 {
		t.logger.Infof("rejoined %d room(s)", len(pending))
	}
}

func (t *Membership) handleOffline() {
	t.mu.Lock()
	t.online = false
	t.mu.Unlock()
}

func (t *Membership) sendSignal(event, roomID string) {
	if err := t.conn.Send(Frame{Event: event, Room: roomID}); err != nil {
		// Best-effort: the signal is re-issued on the next connect cycle
		// (join) or made moot by the disconnect itself (leave).
		t.logger.Debugf("%s %s not delivered: %v", event, roomID, err)
	}
}
