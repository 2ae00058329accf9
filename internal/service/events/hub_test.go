package events

import (
	"log/slog"
	"testing"
	"time"
)

func newHub() *Hub {
	return NewHub(slog.New(slog.DiscardHandler))
}

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	hub := newHub()

	ch1, cancel1 := hub.Subscribe("prop-1")
	defer cancel1()
	ch2, cancel2 := hub.Subscribe("prop-1")
	defer cancel2()

	hub.Status("prop-1", "Starting validation...")

	for _, ch := range []<-chan Event{ch1, ch2} {
		ev := recv(t, ch)
		if ev.Type != TypeStatus || ev.Message != "Starting validation..." {
			t.Errorf("got %+v", ev)
		}
		if ev.Timestamp.IsZero() {
			t.Error("timestamp not stamped")
		}
	}
}

func TestPublishScopedToProposal(t *testing.T) {
	hub := newHub()

	ch1, cancel1 := hub.Subscribe("prop-1")
	defer cancel1()
	ch2, cancel2 := hub.Subscribe("prop-2")
	defer cancel2()

	hub.Chunk("prop-1", "token")

	if ev := recv(t, ch1); ev.Content != "token" {
		t.Errorf("got %+v", ev)
	}
	select {
	case ev := <-ch2:
		t.Errorf("prop-2 subscriber received foreign event %+v", ev)
	default:
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	hub := newHub()

	ch, cancel := hub.Subscribe("prop-1")
	cancel()

	// Channel is closed after cancel
	if _, open := <-ch; open {
		t.Error("channel should be closed after cancel")
	}

	// Publishing after cancel must not panic
	hub.Error("prop-1", "too late")

	if n := hub.SubscriberCount("prop-1"); n != 0 {
		t.Errorf("subscriber count = %d after cancel, want 0", n)
	}

	// Double cancel is safe
	cancel()
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	hub := newHub()

	_, cancel := hub.Subscribe("prop-1")
	defer cancel()

	done := make(chan struct{})
	go func() {
		// Overflow the buffer; publisher must never block
		for i := 0; i < subscriberBuffer*2; i++ {
			hub.Output("prop-1", "line")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on slow subscriber")
	}
}

func TestCompleteCarriesData(t *testing.T) {
	hub := newHub()

	ch, cancel := hub.Subscribe("prop-1")
	defer cancel()

	hub.Complete("prop-1", map[string]any{"version": 3, "file_path": "proposal.md"})

	ev := recv(t, ch)
	if ev.Type != TypeComplete {
		t.Errorf("type = %s, want complete", ev.Type)
	}
	if ev.Data["version"] != 3 || ev.Data["file_path"] != "proposal.md" {
		t.Errorf("data = %v", ev.Data)
	}
}
