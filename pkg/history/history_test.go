package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/udu/livesync/pkg/livesync"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func msg(id, author, text string, at time.Time) livesync.ChatMessage {
	return livesync.ChatMessage{ID: id, Author: author, Text: text, SentAt: at}
}

func TestRecordAndRecent(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, m := range []livesync.ChatMessage{
		msg("m1", "ada", "first", base),
		msg("m2", "bob", "second", base.Add(time.Minute)),
		msg("m3", "ada", "third", base.Add(2*time.Minute)),
	} {
		if err := s.Record("stream:42", m); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	got, err := s.Recent("stream:42", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d messages, want 3", len(got))
	}
	for i, want := range []string{"m1", "m2", "m3"} {
		if got[i].ID != want {
			t.Errorf("message %d id = %s, want %s", i, got[i].ID, want)
		}
	}
	if got[0].Origin != livesync.OriginRemote {
		t.Errorf("origin = %s, want remote", got[0].Origin)
	}
}

func TestRecordIdempotent(t *testing.T) {
	s := newTestStore(t)
	m := msg("m1", "ada", "hello", time.Now().UTC())

	// Reconnect replays deliver the same message more than once.
	for i := 0; i < 3; i++ {
		if err := s.Record("stream:42", m); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	got, err := s.Recent("stream:42", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d messages, want 1", len(got))
	}
}

func TestRecentLimit(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		m := msg(string(rune('a'+i)), "ada", "msg", base.Add(time.Duration(i)*time.Second))
		if err := s.Record("stream:42", m); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	got, err := s.Recent("stream:42", 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d messages, want 3", len(got))
	}
	// The newest three, chronological.
	for i, want := range []string{"h", "i", "j"} {
		if got[i].ID != want {
			t.Errorf("message %d id = %s, want %s", i, got[i].ID, want)
		}
	}
}

func TestRoomsOrderedByActivity(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := s.Record("stream:1", msg("a", "ada", "old", base)); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.Record("stream:2", msg("b", "bob", "new", base.Add(time.Hour))); err != nil {
		t.Fatalf("record: %v", err)
	}

	rooms, err := s.Rooms()
	if err != nil {
		t.Fatalf("rooms: %v", err)
	}
	if len(rooms) != 2 || rooms[0] != "stream:2" || rooms[1] != "stream:1" {
		t.Fatalf("rooms = %v", rooms)
	}
}

func TestRoomsIsolated(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	if err := s.Record("stream:1", msg("a", "ada", "one", now)); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.Record("stream:2", msg("b", "bob", "two", now)); err != nil {
		t.Fatalf("record: %v", err)
	}

	got, err := s.Recent("stream:1", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("got %+v, want only message a", got)
	}
}
