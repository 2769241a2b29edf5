package livesync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/udu/livesync/pkg/log"
)

// Seeder fetches the initial session snapshot over REST when a room is
// first subscribed: stream metadata, viewer count, recent chat.
type Seeder interface {
	Seed(ctx context.Context, roomID string) (Seed, error)
}

// Seed is the one-shot snapshot the reducer initializes from.
type Seed struct {
	Meta        StreamMeta
	ViewerCount int
	Chat        []ChatMessage
}

// Recorder archives remote chat messages as they arrive. Errors are logged,
// never propagated into the delivery path.
type Recorder interface {
	Record(roomID string, msg ChatMessage) error
}

// Options configure a Client.
type Options struct {
	Backoff       Backoff
	Identity      string
	MaxChatLength int
	ChatRetention int
	EchoTimeout   time.Duration
	Seeder        Seeder
	Recorder      Recorder
}

// Option adjusts client construction.
type Option func(*Options)

func WithBackoff(b Backoff) Option { return func(o *Options) { o.Backoff = b } }

func WithIdentity(name string) Option { return func(o *Options) { o.Identity = name } }

func WithMaxChatLength(n int) Option { return func(o *Options) { o.MaxChatLength = n } }

func WithChatRetention(n int) Option { return func(o *Options) { o.ChatRetention = n } }

func WithEchoTimeout(d time.Duration) Option { return func(o *Options) { o.EchoTimeout = d } }

func WithSeeder(s Seeder) Option { return func(o *Options) { o.Seeder = s } }

func WithRecorder(r Recorder) Option { return func(o *Options) { o.Recorder = r } }

// Client is the explicitly constructed entry point to the realtime core:
// one shared connection, refcounted room subscriptions, and per-room view
// models. There is no package-level instance; construct one at app root and
// pass it down.
type Client struct {
	conn     *Manager
	dispatch *Dispatcher
	rooms    *Membership
	gateway  *Gateway
	seeder   Seeder
	recorder Recorder
	logger   *log.Logger

	retention   int
	echoTimeout time.Duration
	seedTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*roomSub
	closed   bool
}

type roomSub struct {
	state *sessionState
	refs  int
	offs  []func()
}

// New creates a client over the given transport. The connection is not
// dialed until the first room subscription.
func New(transport Transport, opts ...Option) *Client {
	o := Options{
		Identity:      "anonymous",
		MaxChatLength: 500,
		ChatRetention: 500,
		EchoTimeout:   8 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Client{
		seeder:      o.Seeder,
		recorder:    o.Recorder,
		logger:      log.ForComponent("client"),
		retention:   o.ChatRetention,
		echoTimeout: o.EchoTimeout,
		seedTimeout: 10 * time.Second,
		sessions:    make(map[string]*roomSub),
	}

	c.dispatch = NewDispatcher()
	c.conn = NewManager(transport, o.Backoff, c.dispatch.Dispatch)
	c.rooms = NewMembership(c.conn)
	c.gateway = newGateway(c.conn, c.rooms, c.lookupState, o.Identity, o.MaxChatLength)

	// Mirror connection status into every room's session state.
	c.conn.OnState(func(s ConnState) {
		frame := statusFrame(s.Status)
		c.mu.Lock()
		states := make([]*sessionState, 0, len(c.sessions))
		for _, sub := range c.sessions {
			states = append(states, sub.state)
		}
		c.mu.Unlock()
		for _, st := range states {
			st.Apply(frame)
		}
	})

	return c
}

// Subscribe registers interest in a room and returns a live-updating view
// handle. The first subscriber process-wide starts the connection; the
// first subscriber per room issues the join signal; further subscribers
// share both. Every handle must be released with Unsubscribe.
func (c *Client) Subscribe(roomID string) (*RoomHandle, error) {
	if roomID == "" {
		return nil, &ValidationError{Field: "room", Reason: "empty room id"}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errors.New("client closed")
	}

	sub, ok := c.sessions[roomID]
	created := !ok
	if !ok {
		state := newSessionState(roomID, c.retention, c.echoTimeout)
		sub = &roomSub{state: state}
		sub.offs = []func(){
			c.dispatch.On(EventChatMessage, func(f Frame) {
				state.Apply(f)
				c.record(roomID, f)
			}, WithRoom(roomID)),
			c.dispatch.On(EventViewerCount, state.Apply, WithRoom(roomID)),
		}
		c.sessions[roomID] = sub
	}
	sub.refs++
	c.mu.Unlock()

	if created {
		sub.state.Apply(statusFrame(c.conn.Status()))
		if c.seeder != nil {
			go c.seed(roomID, sub.state)
		}
	}
	c.rooms.Join(roomID)
	c.conn.Connect()

	return &RoomHandle{client: c, room: roomID}, nil
}

// SendChat validates and sends a chat message to a subscribed room. See
// Gateway.SendChat for failure semantics.
func (c *Client) SendChat(roomID, text string) (ChatMessage, error) {
	return c.gateway.SendChat(roomID, text)
}

// OnEvent registers a raw frame handler, optionally scoped to a room.
// Returns an unregister function. Used by diagnostic consumers (event
// tailing); UI code should prefer Subscribe.
func (c *Client) OnEvent(event, room string, fn Handler) func() {
	if room != "" {
		return c.dispatch.On(event, fn, WithRoom(room))
	}
	return c.dispatch.On(event, fn)
}

// ConnState returns the shared connection's state snapshot.
func (c *Client) ConnState() ConnState {
	return c.conn.State()
}

// Close tears down every subscription and the shared connection.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	sessions := c.sessions
	c.sessions = make(map[string]*roomSub)
	c.mu.Unlock()

	for _, sub := range sessions {
		for _, off := range sub.offs {
			off()
		}
		sub.state.teardown()
	}
	c.conn.Disconnect()
}

func (c *Client) lookupState(roomID string) *sessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sub, ok := c.sessions[roomID]; ok {
		return sub.state
	}
	return nil
}

func (c *Client) record(roomID string, f Frame) {
	if c.recorder == nil {
		return
	}
	msg, err := decodeChatMessage(f.Data)
	if err != nil {
		return
	}
	if err := c.recorder.Record(roomID, msg); err != nil {
		c.logger.Warnf("archiving message %s failed: %v", msg.ID, err)
	}
}

func (c *Client) seed(roomID string, state *sessionState) {
	ctx, cancel := context.WithTimeout(context.Background(), c.seedTimeout)
	defer cancel()

	seed, err := c.seeder.Seed(ctx, roomID)
	if err != nil {
		c.logger.Warnf("seeding %s failed: %v", roomID, err)
		return
	}
	state.Seed(seed.Meta, seed.ViewerCount, seed.Chat)
}

func (c *Client) unsubscribe(roomID string) {
	c.mu.Lock()
	sub, ok := c.sessions[roomID]
	if !ok {
		c.mu.Unlock()
		return
	}
	sub.refs--
	if sub.refs > 0 {
		c.mu.Unlock()
		c.rooms.Leave(roomID)
		return
	}
	delete(c.sessions, roomID)
	empty := len(c.sessions) == 0
	c.mu.Unlock()

	for _, off := range sub.offs {
		off()
	}
	c.rooms.Leave(roomID)
	sub.state.teardown()

	if empty {
		c.conn.Disconnect()
	}
}

// RoomHandle is one subscriber's view of a live session.
type RoomHandle struct {
	client *Client
	room   string
	once   sync.Once
}

// Room returns the subscribed room id.
func (h *RoomHandle) Room() string { return h.room }

// Snapshot returns the current view model: connection status, viewer
// count, stream metadata, and the chat log.
func (h *RoomHandle) Snapshot() State {
	if state := h.client.lookupState(h.room); state != nil {
		return state.Snapshot()
	}
	return NewState(h.room)
}

// SendChat sends a chat message to this room.
func (h *RoomHandle) SendChat(text string) (ChatMessage, error) {
	return h.client.SendChat(h.room, text)
}

// Unsubscribe releases this handle. Idempotent. When the last handle for a
// room is released the leave signal is sent; when the last room goes the
// shared connection is torn down.
func (h *RoomHandle) Unsubscribe() {
	h.once.Do(func() {
		h.client.unsubscribe(h.room)
	})
}
