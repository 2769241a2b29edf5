package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/udu/livesync/pkg/livesync"
	"github.com/udu/livesync/pkg/relay"
)

func newTestTransport(t *testing.T, token string) *Transport {
	t.Helper()
	srv := relay.NewServer()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	tr, err := New(Config{
		URL:   strings.Replace(ts.URL, "http", "ws", 1) + "/ws",
		Token: token,
	})
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	return tr
}

func TestDialSendReceive(t *testing.T) {
	tr := newTestTransport(t, "")

	sess, err := tr.Dial(context.Background())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = sess.Close() }()

	if err := sess.Send(livesync.Frame{Event: livesync.EventRoomJoin, Room: "stream:42"}); err != nil {
		t.Fatalf("send join: %v", err)
	}

	// The relay answers a join with the room's viewer count.
	f, err := sess.Receive()
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if f.Event != livesync.EventViewerCount || f.Room != "stream:42" {
		t.Fatalf("got %s/%s, want viewer:count for stream:42", f.Event, f.Room)
	}
}

func TestReceiveFailsAfterClose(t *testing.T) {
	tr := newTestTransport(t, "")

	sess, err := tr.Dial(context.Background())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := sess.Receive(); err == nil {
		t.Fatal("receive after close succeeded")
	}
	// Close is idempotent.
	if err := sess.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestDialRespectsContext(t *testing.T) {
	tr, err := New(Config{URL: "ws://127.0.0.1:1/ws"})
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := tr.Dial(ctx); err == nil {
		t.Fatal("dial to dead endpoint succeeded")
	}
}

func TestBearerTokenOnHandshake(t *testing.T) {
	var got string
	inner := relay.NewServer()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		inner.HandleWebSocket(w, r)
	}))
	t.Cleanup(ts.Close)

	tr, err := New(Config{
		URL:   strings.Replace(ts.URL, "http", "ws", 1),
		Token: "sekrit",
	})
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	sess, err := tr.Dial(context.Background())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = sess.Close() }()

	if got != "Bearer sekrit" {
		t.Fatalf("authorization header = %q", got)
	}
}

func TestInvalidURL(t *testing.T) {
	if _, err := New(Config{URL: "http://example.com/ws"}); err == nil {
		t.Fatal("http scheme accepted")
	}
	if _, err := New(Config{URL: "not a url"}); err == nil {
		t.Fatal("garbage URL accepted")
	}
}
