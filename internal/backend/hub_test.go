package backend

import (
	"testing"
	"time"
)

func TestHubReplayAndLimit(t *testing.T) {
	h := NewHub(2)
	h.Publish(None{})
	h.Publish(Error{Message: "one"})
	h.Publish(Error{Message: "two"})

	replay, _, cancel := h.Subscribe(0)
	defer cancel()
	if len(replay) != 2 {
		t.Fatalf("history limit not applied: %d entries", len(replay))
	}
	if replay[0].Seq != 2 || replay[1].Seq != 3 {
		t.Fatalf("unexpected replay sequence: %d %d", replay[0].Seq, replay[1].Seq)
	}
	if replay[1].Method != "error" {
		t.Fatalf("unexpected method: %s", replay[1].Method)
	}
}

func TestHubLiveDelivery(t *testing.T) {
	h := NewHub(16)
	_, ch, cancel := h.Subscribe(0)
	defer cancel()

	h.Publish(EndOfStoredEvents{RelayURL: "wss://r1", SubscriptionID: "sub"})
	select {
	case note := <-ch:
		if note.Method != "end_of_stored_events" {
			t.Fatalf("unexpected note: %+v", note)
		}
	case <-time.After(time.Second):
		t.Fatal("note not delivered")
	}
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	h := NewHub(512)
	_, ch, cancel := h.Subscribe(0)
	defer cancel()

	// Overflow the subscriber buffer without draining; the hub must close
	// the channel instead of blocking the publisher.
	for i := 0; i < 200; i++ {
		h.Publish(None{})
	}
	drained := 0
	for range ch {
		drained++
	}
	if drained == 0 {
		t.Fatal("expected buffered notes before the drop")
	}
}

func TestHubCloseEndsSubscriptions(t *testing.T) {
	h := NewHub(4)
	_, ch, _ := h.Subscribe(0)
	h.Close()
	if _, ok := <-ch; ok {
		t.Fatal("subscription channel still open after close")
	}
	// Publishing after close must not panic or grow history.
	h.Publish(None{})
	if h.BacklogSize() != 0 {
		t.Fatal("closed hub retained history")
	}
}
