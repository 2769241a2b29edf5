package livesync

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/udu/livesync/pkg/log"
)

// Status is the transport-level connection state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusFailed       Status = "failed"
)

// Backoff configures the reconnect policy.
type Backoff struct {
	// Initial is the first retry delay. Defaults to 1s.
	Initial time.Duration
	// Max caps the exponential growth. Defaults to 10s.
	Max time.Duration
	// MaxAttempts bounds consecutive failed dials before the manager gives
	// up and reports StatusFailed. 0 retries forever. After StatusFailed a
	// manual Connect call is required to resume.
	MaxAttempts int
}

func (b Backoff) withDefaults() Backoff {
	if b.Initial <= 0 {
		b.Initial = time.Second
	}
	if b.Max < b.Initial {
		b.Max = 10 * time.Second
	}
	return b
}

// ConnState is the snapshot exposed to status listeners. Transport errors
// never propagate to callers as panics or returned errors from inbound
// paths; they surface here.
type ConnState struct {
	Status    Status
	Attempt   int
	LastError error
}

// Manager owns the lifecycle of the single shared connection: dialing,
// reconnecting with exponential backoff and jitter, and teardown. Inbound
// frames are handed to the sink one at a time from a single goroutine,
// preserving arrival order.
type Manager struct {
	transport Transport
	backoff   Backoff
	sink      func(Frame)
	logger    *log.Logger

	mu      sync.Mutex
	status  Status
	attempt int
	lastErr error
	session Session
	cancel  context.CancelFunc
	running bool
	gen     uint64

	onConnected []func()
	onState     []func(ConnState)
}

// NewManager creates a manager dialing through the given transport. Inbound
// frames are delivered to sink in arrival order.
func NewManager(transport Transport, backoff Backoff, sink func(Frame)) *Manager {
	if sink == nil {
		sink = func(Frame) {}
	}
	return &Manager{
		transport: transport,
		backoff:   backoff.withDefaults(),
		sink:      sink,
		status:    StatusDisconnected,
		logger:    log.ForComponent("conn"),
	}
}

// OnConnected registers a callback invoked on every successful (re)connect,
// before the status flips to connected. Room membership uses this window to
// re-issue join signals, so by the time any caller observes
// StatusConnected the rejoin frames are already queued.
func (m *Manager) OnConnected(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnected = append(m.onConnected, fn)
}

// OnState registers a listener for connection state changes.
func (m *Manager) OnState(fn func(ConnState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onState = append(m.onState, fn)
}

// Status returns the current connection status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// State returns the current connection state snapshot.
func (m *Manager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ConnState{Status: m.status, Attempt: m.attempt, LastError: m.lastErr}
}

// Connect starts the connection loop. Idempotent: a no-op while already
// connecting, connected, or reconnecting.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.gen++
	gen := m.gen
	m.status = StatusConnecting
	m.attempt = 0
	m.lastErr = nil
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.mu.Unlock()

	m.notifyState()
	go m.run(ctx, gen)
}

// Disconnect tears down the connection and cancels any pending reconnect.
// Idempotent. No retry is scheduled after a user-initiated disconnect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	cancel := m.cancel
	sess := m.session
	m.cancel = nil
	m.session = nil
	m.running = false
	m.gen++ // orphan the running loop; its state writes are ignored
	changed := m.status != StatusDisconnected
	m.status = StatusDisconnected
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sess != nil {
		_ = sess.Close()
	}
	if changed {
		m.notifyState()
	}
}

// Send transmits a frame on the current session. Returns NotConnectedError
// when no session is established.
func (m *Manager) Send(f Frame) error {
	m.mu.Lock()
	sess := m.session
	st := m.status
	m.mu.Unlock()

	if sess == nil {
		return &NotConnectedError{Status: st}
	}
	if err := sess.Send(f); err != nil {
		terr := &TransportError{Op: "send", Err: err}
		m.recordError(terr)
		return terr
	}
	return nil
}

func (m *Manager) run(ctx context.Context, gen uint64) {
	backoff := m.backoff.Initial

	for {
		if ctx.Err() != nil {
			return
		}

		sess, err := m.transport.Dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			terr := &TransportError{Op: "dial", Err: err}
			giveUp := false
			var cancel context.CancelFunc
			m.mu.Lock()
			if m.gen == gen {
				m.attempt++
				m.lastErr = terr
				if m.backoff.MaxAttempts > 0 && m.attempt >= m.backoff.MaxAttempts {
					m.status = StatusFailed
					m.running = false
					cancel = m.cancel
					m.cancel = nil
					giveUp = true
				} else {
					m.status = StatusReconnecting
				}
			}
			m.mu.Unlock()
			if m.stale(gen) {
				return
			}
			if giveUp {
				m.logger.Errorf("giving up after %d attempts: %v", m.backoff.MaxAttempts, err)
				m.notifyState()
				if cancel != nil {
					cancel()
				}
				return
			}
			delay := jitter(backoff)
			m.logger.Warnf("dial failed (%v), retrying in %s", err, delay)
			m.notifyState()
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			backoff *= 2
			if backoff > m.backoff.Max {
				backoff = m.backoff.Max
			}
			continue
		}

		m.mu.Lock()
		if m.gen != gen {
			m.mu.Unlock()
			_ = sess.Close()
			return
		}
		m.session = sess
		m.attempt = 0
		m.lastErr = nil
		connected := append([]func(){}, m.onConnected...)
		m.mu.Unlock()

		backoff = m.backoff.Initial
		m.logger.Infof("connected")

		// Rejoin window: membership re-issues join intents here, before
		// anyone can observe StatusConnected.
		for _, fn := range connected {
			fn()
		}
		m.setStatus(gen, StatusConnected)

		err = m.readLoop(ctx, sess)
		_ = sess.Close()

		m.mu.Lock()
		if m.gen == gen {
			m.session = nil
		}
		m.mu.Unlock()

		if ctx.Err() != nil || m.stale(gen) {
			return
		}

		m.recordError(&TransportError{Op: "receive", Err: err})
		m.logger.Warnf("connection lost (%v), reconnecting", err)
		m.setStatus(gen, StatusReconnecting)

		// Brief pause before the immediate re-dial; failures from here on
		// back off exponentially.
		select {
		case <-ctx.Done():
			return
		case <-time.After(250 * time.Millisecond):
		}
	}
}

func (m *Manager) readLoop(ctx context.Context, sess Session) error {
	for {
		f, err := sess.Receive()
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.sink(f)
	}
}

func (m *Manager) stale(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen != gen
}

func (m *Manager) setStatus(gen uint64, s Status) {
	m.mu.Lock()
	if m.gen != gen || m.status == s {
		m.mu.Unlock()
		return
	}
	m.status = s
	m.mu.Unlock()
	m.notifyState()
}

func (m *Manager) recordError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) notifyState() {
	m.mu.Lock()
	state := ConnState{Status: m.status, Attempt: m.attempt, LastError: m.lastErr}
	listeners := append([]func(ConnState){}, m.onState...)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(state)
	}
}

// jitter spreads a delay over [d/2, d) so reconnecting clients do not
// stampede the backend in lockstep.
func jitter(d time.Duration) time.Duration {
	if d <= 1 {
		return d
	}
	half := d / 2
	return half + rand.N(half)
}
