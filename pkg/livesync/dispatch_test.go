package livesync

import (
	"testing"
)

func TestDispatchRoomScope(t *testing.T) {
	d := NewDispatcher()

	var got []string
	d.On(EventViewerCount, func(f Frame) {
		got = append(got, f.Room)
	}, WithRoom("stream:42"))

	d.Dispatch(viewerCountFrame("stream:42", 1))
	d.Dispatch(viewerCountFrame("stream:99", 2))
	d.Dispatch(viewerCountFrame("stream:42", 3))

	if len(got) != 2 {
		t.Fatalf("handler fired %d times, want 2", len(got))
	}
	for _, room := range got {
		if room != "stream:42" {
			t.Errorf("handler fired for room %s", room)
		}
	}
}

func TestDispatchOrderPreserved(t *testing.T) {
	d := NewDispatcher()

	var counts []int
	d.On(EventViewerCount, func(f Frame) {
		n, err := decodeViewerCount(f.Data)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		counts = append(counts, n)
	})

	for _, c := range []float64{5, 3, 9} {
		d.Dispatch(viewerCountFrame("stream:42", c))
	}

	want := []int{5, 3, 9}
	if len(counts) != len(want) {
		t.Fatalf("got %d deliveries, want %d", len(counts), len(want))
	}
	for i := range want {
		if counts[i] != want[i] {
			t.Errorf("delivery %d = %d, want %d (arrival order)", i, counts[i], want[i])
		}
	}
}

func TestDispatchUnregisterDuringDispatch(t *testing.T) {
	d := NewDispatcher()

	var first, second int
	var offSecond func()

	d.On(EventViewerCount, func(Frame) {
		first++
		// Removing another handler mid-dispatch must not affect delivery
		// of the current frame.
		offSecond()
	})
	offSecond = d.On(EventViewerCount, func(Frame) {
		second++
	})

	d.Dispatch(viewerCountFrame("stream:42", 1))
	if first != 1 || second != 1 {
		t.Fatalf("current frame delivery affected: first=%d second=%d", first, second)
	}

	d.Dispatch(viewerCountFrame("stream:42", 2))
	if first != 2 {
		t.Errorf("remaining handler stopped firing")
	}
	if second != 1 {
		t.Errorf("unregistered handler fired again")
	}
}

func TestDispatchUnregisterSelf(t *testing.T) {
	d := NewDispatcher()

	var fired int
	var off func()
	off = d.On(EventChatMessage, func(Frame) {
		fired++
		off()
	})

	d.Dispatch(chatMessageFrame("stream:42", "m1", "ada", "once"))
	d.Dispatch(chatMessageFrame("stream:42", "m2", "ada", "twice"))

	if fired != 1 {
		t.Fatalf("self-unregistering handler fired %d times, want 1", fired)
	}
}

func TestDispatchCommentNewReachesChatHandlers(t *testing.T) {
	d := NewDispatcher()

	var fired int
	d.On(EventChatMessage, func(Frame) { fired++ })

	f := chatMessageFrame("stream:42", "m1", "ada", "legacy")
	f.Event = EventCommentNew
	d.Dispatch(f)

	if fired != 1 {
		t.Fatalf("comment:new not routed to chat:message handlers")
	}
}

func TestDispatchUnknownEventIgnored(t *testing.T) {
	d := NewDispatcher()
	// No handler registered: must not panic.
	d.Dispatch(Frame{Event: "gift:sent", Room: "stream:42"})
}

func TestDispatchUnregisterIdempotent(t *testing.T) {
	d := NewDispatcher()

	var fired int
	off := d.On(EventChatMessage, func(Frame) { fired++ })
	other := d.On(EventChatMessage, func(Frame) { fired++ })

	off()
	off() // second call is a no-op, must not drop the other handler

	d.Dispatch(chatMessageFrame("stream:42", "m1", "ada", "hi"))
	if fired != 1 {
		t.Fatalf("fired %d times, want 1", fired)
	}
	other()
}
