package livesync

import (
	"sync"

	"github.com/udu/livesync/pkg/log"
)

// Handler receives inbound frames. Handlers run synchronously to completion
// before the next frame is processed; long-running work must be deferred by
// the handler itself.
type Handler func(Frame)

// SubscribeOption adjusts a single registration.
type SubscribeOption func(*registration)

// WithRoom scopes a handler to frames whose room field matches.
func WithRoom(room string) SubscribeOption {
	return func(r *registration) {
		r.room = room
	}
}

type registration struct {
	id   uint64
	room string
	fn   Handler
}

// Dispatcher routes inbound named events to registered handlers. Frames for
// the same room are delivered in arrival order; delivery is serialized so
// no two handlers ever run concurrently. Unknown event names with no
// registered handler are ignored, which keeps the client forward-compatible
// with backend additions.
type Dispatcher struct {
	mu       sync.Mutex
	nextID   uint64
	handlers map[string][]registration
	logger   *log.Logger

	// deliverMu serializes Dispatch so handler execution is single-threaded
	// even if two transport generations briefly overlap.
	deliverMu sync.Mutex
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string][]registration),
		logger:   log.ForComponent("dispatch"),
	}
}

// On registers a handler for the canonical form of event and returns an
// unregister function. Unregistering is idempotent and safe to call from
// within a handler, including during delivery of the current frame: the
// handler list is snapshotted at dispatch start, so the current frame still
// reaches every handler that was registered when it arrived.
func (d *Dispatcher) On(event string, fn Handler, opts ...SubscribeOption) func() {
	reg := registration{fn: fn}
	for _, opt := range opts {
		opt(&reg)
	}

	event = Canonical(event)

	d.mu.Lock()
	d.nextID++
	reg.id = d.nextID
	id := reg.id
	d.handlers[event] = append(d.handlers[event], reg)
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.off(event, id)
		})
	}
}

func (d *Dispatcher) off(event string, id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	regs := d.handlers[event]
	for i, r := range regs {
		if r.id == id {
			d.handlers[event] = append(regs[:i:i], regs[i+1:]...)
			break
		}
	}
	if len(d.handlers[event]) == 0 {
		delete(d.handlers, event)
	}
}

// Dispatch delivers one frame to every matching handler. The event name is
// canonicalized first, so legacy comment:new frames reach chat:message
// handlers.
func (d *Dispatcher) Dispatch(f Frame) {
	f.Event = Canonical(f.Event)

	d.mu.Lock()
	regs := append([]registration{}, d.handlers[f.Event]...)
	d.mu.Unlock()

	if len(regs) == 0 {
		d.logger.Debugf("no handler for %s (room %q)", f.Event, f.Room)
		return
	}

	d.deliverMu.Lock()
	defer d.deliverMu.Unlock()
	for _, r := range regs {
		if r.room != "" && r.room != f.Room {
			continue
		}
		r.fn(f)
	}
}
