package livesync

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeSession is a scripted transport session. Tests push inbound frames
// with deliver and inspect outbound frames with sentFrames.
type fakeSession struct {
	in     chan Frame
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	sent    []Frame
	sendErr error
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		in:     make(chan Frame, 64),
		closed: make(chan struct{}),
	}
}

func (s *fakeSession) Send(f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, f)
	return nil
}

func (s *fakeSession) Receive() (Frame, error) {
	select {
	case f := <-s.in:
		return f, nil
	case <-s.closed:
		return Frame{}, errors.New("session closed")
	}
}

func (s *fakeSession) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSession) deliver(f Frame) {
	s.in <- f
}

func (s *fakeSession) sentFrames() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Frame{}, s.sent...)
}

func (s *fakeSession) sentCount(event, room string) int {
	n := 0
	for _, f := range s.sentFrames() {
		if f.Event == event && (room == "" || f.Room == room) {
			n++
		}
	}
	return n
}

// fakeTransport hands out fakeSessions and lets tests fail dials.
type fakeTransport struct {
	mu       sync.Mutex
	failNext int
	dials    int
	sessions []*fakeSession
	dialed   chan *fakeSession
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{dialed: make(chan *fakeSession, 16)}
}

func (t *fakeTransport) Dial(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.dials++
	if t.failNext > 0 {
		t.failNext--
		t.mu.Unlock()
		return nil, errors.New("dial refused")
	}
	s := newFakeSession()
	t.sessions = append(t.sessions, s)
	t.mu.Unlock()

	t.dialed <- s
	return s, nil
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

// awaitSession waits until the transport hands out the next session.
func awaitSession(t *testing.T, tr *fakeTransport) *fakeSession {
	t.Helper()
	select {
	case s := <-tr.dialed:
		return s
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a session to be dialed")
		return nil
	}
}

// waitUntil polls cond until it holds or the deadline passes.
func waitUntil(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}

func viewerCountFrame(room string, count float64) Frame {
	data, _ := json.Marshal(map[string]any{"room": room, "count": count})
	return Frame{Event: EventViewerCount, Room: room, Data: data}
}

func chatMessageFrame(room, id, author, text string) Frame {
	data, _ := json.Marshal(map[string]any{
		"room": room,
		"message": map[string]any{
			"id":      id,
			"author":  author,
			"text":    text,
			"sent_at": time.Now().UTC().Format(time.RFC3339),
		},
	})
	return Frame{Event: EventChatMessage, Room: room, Data: data}
}

// fastBackoff keeps reconnect tests quick.
func fastBackoff() Backoff {
	return Backoff{Initial: 5 * time.Millisecond, Max: 20 * time.Millisecond}
}
