package livesync

import (
	"errors"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, opts ...Option) (*Client, *fakeTransport) {
	t.Helper()
	tr := newFakeTransport()
	opts = append([]Option{WithBackoff(fastBackoff()), WithIdentity("ada")}, opts...)
	c := New(tr, opts...)
	t.Cleanup(c.Close)
	return c, tr
}

func TestSendChatValidationRejection(t *testing.T) {
	c, tr := newTestClient(t)

	h, err := c.Subscribe("stream:42")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	sess := awaitSession(t, tr)
	waitUntil(t, func() bool { return c.ConnState().Status == StatusConnected }, "connected")
	joins := sess.sentCount(EventRoomJoin, "stream:42")

	var verr *ValidationError
	if _, err := h.SendChat(""); !errors.As(err, &verr) {
		t.Fatalf("empty text: err = %v, want ValidationError", err)
	}
	if _, err := h.SendChat("   \n\t "); !errors.As(err, &verr) {
		t.Fatalf("whitespace text: err = %v, want ValidationError", err)
	}
	if _, err := h.SendChat(strings.Repeat("x", 501)); !errors.As(err, &verr) {
		t.Fatalf("oversized text: err = %v, want ValidationError", err)
	}

	// No local echo, no transmission.
	if n := len(h.Snapshot().Chat); n != 0 {
		t.Errorf("chat log has %d entries after rejected sends, want 0", n)
	}
	if n := sess.sentCount(EventChatMessage, "stream:42"); n != 0 {
		t.Errorf("%d chat frames transmitted after rejected sends, want 0", n)
	}
	if got := sess.sentCount(EventRoomJoin, "stream:42"); got != joins {
		t.Errorf("rejected sends issued join signals")
	}
}

func TestSendChatMaxLengthBoundary(t *testing.T) {
	c, tr := newTestClient(t)

	h, err := c.Subscribe("stream:42")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	awaitSession(t, tr)
	waitUntil(t, func() bool { return c.ConnState().Status == StatusConnected }, "connected")

	// Exactly the limit is fine.
	if _, err := h.SendChat(strings.Repeat("x", 500)); err != nil {
		t.Fatalf("500-char message rejected: %v", err)
	}
}

func TestSendChatWhileDisconnected(t *testing.T) {
	tr := newFakeTransport()
	tr.failNext = 1000
	c := New(tr, WithBackoff(fastBackoff()), WithIdentity("ada"))
	t.Cleanup(c.Close)

	h, err := c.Subscribe("stream:42")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	var nc *NotConnectedError
	if _, err := h.SendChat("hello"); !errors.As(err, &nc) {
		t.Fatalf("err = %v, want NotConnectedError", err)
	}
	// No local echo while disconnected: the UI must see the message was
	// not sent.
	if n := len(h.Snapshot().Chat); n != 0 {
		t.Errorf("chat log has %d entries, want 0", n)
	}
}

func TestSendChatOptimisticEchoAndTransmit(t *testing.T) {
	c, tr := newTestClient(t)

	h, err := c.Subscribe("stream:42")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	sess := awaitSession(t, tr)
	waitUntil(t, func() bool { return c.ConnState().Status == StatusConnected }, "connected")

	msg, err := h.SendChat("  hello world  ")
	if err != nil {
		t.Fatalf("send chat: %v", err)
	}
	if msg.ID == "" {
		t.Fatal("no client-generated message id")
	}
	if msg.Text != "hello world" {
		t.Errorf("text = %q, want trimmed %q", msg.Text, "hello world")
	}

	snap := h.Snapshot()
	if len(snap.Chat) != 1 || snap.Chat[0].Origin != OriginLocalEcho {
		t.Fatalf("expected one local-echo entry, got %+v", snap.Chat)
	}
	if n := sess.sentCount(EventChatMessage, "stream:42"); n != 1 {
		t.Fatalf("%d chat frames transmitted, want 1", n)
	}

	// Server echoes with the same id: exactly one entry, confirmed.
	sess.deliver(chatMessageFrame("stream:42", msg.ID, "ada", "hello world"))
	waitUntil(t, func() bool {
		s := h.Snapshot()
		return len(s.Chat) == 1 && s.Chat[0].Origin == OriginRemote
	}, "local echo confirmed by server echo")
}

func TestJoinRoomValidation(t *testing.T) {
	c, _ := newTestClient(t)

	if _, err := c.Subscribe(""); err == nil {
		t.Fatal("empty room id accepted")
	}

	var verr *ValidationError
	if err := c.gateway.JoinRoom(""); !errors.As(err, &verr) {
		t.Errorf("JoinRoom(\"\") = %v, want ValidationError", err)
	}
	if err := c.gateway.LeaveRoom(""); !errors.As(err, &verr) {
		t.Errorf("LeaveRoom(\"\") = %v, want ValidationError", err)
	}
}
