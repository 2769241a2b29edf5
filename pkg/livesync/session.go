package livesync

import (
	"sync"
	"time"

	"github.com/udu/livesync/pkg/log"
)

// SessionStatus is the per-room view of the connection lifecycle:
// idle → connecting → live → {error, disconnected}, where disconnected and
// error transition back to connecting on automatic reconnect, and live
// returns to idle only on explicit teardown.
type SessionStatus string

const (
	SessionIdle         SessionStatus = "idle"
	SessionConnecting   SessionStatus = "connecting"
	SessionLive         SessionStatus = "live"
	SessionError        SessionStatus = "error"
	SessionDisconnected SessionStatus = "disconnected"
)

// sessionStatusFor maps the transport status into the room lifecycle.
func sessionStatusFor(s Status) SessionStatus {
	switch s {
	case StatusConnecting, StatusReconnecting:
		return SessionConnecting
	case StatusConnected:
		return SessionLive
	case StatusFailed:
		return SessionError
	default:
		return SessionDisconnected
	}
}

// State is the reconciled view model for one live session. It is a value:
// Reduce returns a new State and never mutates its input, so snapshots
// handed to the UI stay stable.
type State struct {
	Room        string
	Status      SessionStatus
	ViewerCount int
	Meta        StreamMeta
	Chat        []ChatMessage
}

// NewState returns the initial state for a room.
func NewState(roomID string) State {
	return State{Room: roomID, Status: SessionIdle}
}

// Reduce applies one inbound frame to the state. Unknown events leave the
// state unchanged (forward compatibility); malformed payloads are reported
// via the error and drop the event without touching the state.
//
// retention bounds the chat log; when exceeded the oldest entry is evicted.
func Reduce(s State, f Frame, retention int) (State, error) {
	switch Canonical(f.Event) {
	case EventViewerCount:
		if f.Room != "" && f.Room != s.Room {
			return s, nil
		}
		count, err := decodeViewerCount(f.Data)
		if err != nil {
			return s, err
		}
		// Last write wins by arrival order, not by value: counts may
		// legitimately go down.
		s.ViewerCount = count
		return s, nil

	case EventChatMessage:
		if f.Room != "" && f.Room != s.Room {
			return s, nil
		}
		msg, err := decodeChatMessage(f.Data)
		if err != nil {
			return s, err
		}
		return appendChat(s, msg, retention), nil

	case EventConnStatus:
		st, err := decodeConnStatus(f.Data)
		if err != nil {
			return s, err
		}
		s.Status = sessionStatusFor(st)
		return s, nil

	default:
		return s, nil
	}
}

// appendChat inserts a message idempotently. A duplicate id replaces the
// existing entry only when it confirms a local echo; otherwise the
// duplicate is discarded. Insertion order is arrival order, never
// timestamp order, so the UI log stays stable even when messages arrive
// out of order relative to SentAt.
func appendChat(s State, msg ChatMessage, retention int) State {
	for i, existing := range s.Chat {
		if existing.ID != msg.ID {
			continue
		}
		if existing.Origin == OriginLocalEcho && msg.Origin == OriginRemote {
			chat := append([]ChatMessage{}, s.Chat...)
			chat[i] = msg
			s.Chat = chat
		}
		return s
	}

	chat := append(append([]ChatMessage{}, s.Chat...), msg)
	if retention > 0 && len(chat) > retention {
		chat = chat[len(chat)-retention:]
	}
	s.Chat = chat
	return s
}

// sessionState is the mutable container around State for one room. It is
// exclusively owned by its room: all mutation goes through Apply,
// AddLocalEcho, and Seed. Snapshots are safe to hand out because State is
// copy-on-write.
type sessionState struct {
	mu          sync.Mutex
	state       State
	retention   int
	echoTimeout time.Duration
	timers      map[string]*time.Timer
	logger      *log.Logger
}

func newSessionState(roomID string, retention int, echoTimeout time.Duration) *sessionState {
	return &sessionState{
		state:       NewState(roomID),
		retention:   retention,
		echoTimeout: echoTimeout,
		timers:      make(map[string]*time.Timer),
		logger:      log.ForComponent("session"),
	}
}

// Apply reduces one inbound frame into the state. Malformed payloads are
// dropped with a warning, never surfaced as fatal.
func (r *sessionState) Apply(f Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next, err := Reduce(r.state, f, r.retention)
	if err != nil {
		r.logger.Warnf("dropping event for %s: %v", r.state.Room, err)
		return
	}
	if Canonical(f.Event) == EventChatMessage {
		if msg, derr := decodeChatMessage(f.Data); derr == nil {
			r.confirmEchoLocked(msg.ID)
		}
	}
	r.state = next
}

// AddLocalEcho inserts an optimistic local copy of an outbound message and
// arms the confirmation timeout. If no server echo with the same id
// arrives in time, the message is flagged unconfirmed but retained.
func (r *sessionState) AddLocalEcho(msg ChatMessage) {
	msg.Origin = OriginLocalEcho

	r.mu.Lock()
	r.state = appendChat(r.state, msg, r.retention)
	if r.echoTimeout > 0 {
		id := msg.ID
		r.timers[id] = time.AfterFunc(r.echoTimeout, func() {
			r.expireEcho(id)
		})
	}
	r.mu.Unlock()
}

func (r *sessionState) confirmEchoLocked(id string) {
	if timer, ok := r.timers[id]; ok {
		timer.Stop()
		delete(r.timers, id)
	}
}

func (r *sessionState) expireEcho(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.timers, id)

	for i, msg := range r.state.Chat {
		if msg.ID == id && msg.Origin == OriginLocalEcho {
			chat := append([]ChatMessage{}, r.state.Chat...)
			chat[i].Unconfirmed = true
			r.state.Chat = chat
			r.logger.Warnf("message %s unconfirmed after %s", id, r.echoTimeout)
			return
		}
	}
}

// Seed initializes the state from the REST snapshot fetched at session
// load: stream metadata, the viewer count at snapshot time, and recent
// chat. Live events received before the seed arrives win: the seed never
// overwrites a non-zero viewer count or duplicates chat already present.
func (r *sessionState) Seed(meta StreamMeta, viewerCount int, chat []ChatMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state.Meta = meta
	if r.state.ViewerCount == 0 && viewerCount > 0 {
		r.state.ViewerCount = viewerCount
	}

	if len(chat) == 0 {
		return
	}
	seeded := State{Room: r.state.Room}
	for _, msg := range chat {
		msg.Origin = OriginRemote
		seeded = appendChat(seeded, msg, r.retention)
	}
	// Seeded history goes in front of anything already received live.
	merged := seeded
	for _, msg := range r.state.Chat {
		merged = appendChat(merged, msg, r.retention)
	}
	r.state.Chat = merged.Chat
}

// Snapshot returns the current view model.
func (r *sessionState) Snapshot() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// teardown stops pending echo timers and resets the lifecycle to idle.
func (r *sessionState) teardown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, timer := range r.timers {
		timer.Stop()
		delete(r.timers, id)
	}
	r.state.Status = SessionIdle
}
