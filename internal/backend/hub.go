package backend

import (
	"sync"
	"time"
)

// Notification wraps an Event with a hub sequence number so reconnecting
// subscribers can replay what they missed.
type Notification struct {
	Seq       int64
	Method    string
	Payload   Event
	Timestamp time.Time
}

// Hub fans reconciler events out to subscribers. It keeps a bounded history
// for replay; a subscriber that stops draining its channel is dropped
// rather than allowed to stall the reconciler.
type Hub struct {
	mu      sync.Mutex
	nextSeq int64
	limit   int
	history []Notification
	subs    map[int]chan Notification
	nextSub int
	closed  bool
}

func NewHub(limit int) *Hub {
	if limit < 1 {
		limit = 1
	}
	return &Hub{
		limit: limit,
		subs:  make(map[int]chan Notification),
	}
}

func (h *Hub) Publish(ev Event) Notification {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextSeq++
	note := Notification{
		Seq:       h.nextSeq,
		Method:    ev.Method(),
		Payload:   ev,
		Timestamp: time.Now().UTC(),
	}
	if h.closed {
		return note
	}
	h.history = append(h.history, note)
	if len(h.history) > h.limit {
		h.history = append([]Notification(nil), h.history[len(h.history)-h.limit:]...)
	}

	for id, ch := range h.subs {
		select {
		case ch <- note:
		default:
			close(ch)
			delete(h.subs, id)
		}
	}
	return note
}

// Subscribe returns the history newer than fromSeq, a live channel, and a
// cancel function. Pass 0 to replay everything still retained.
func (h *Hub) Subscribe(fromSeq int64) ([]Notification, <-chan Notification, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	replay := make([]Notification, 0)
	for _, note := range h.history {
		if note.Seq > fromSeq {
			replay = append(replay, note)
		}
	}

	if h.closed {
		ch := make(chan Notification)
		close(ch)
		return replay, ch, func() {}
	}

	id := h.nextSub
	h.nextSub++
	ch := make(chan Notification, 128)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			close(sub)
			delete(h.subs, id)
		}
	}
	return replay, ch, cancel
}

// Close ends every subscription; later publishes are dropped.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
}

func (h *Hub) BacklogSize() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.history)
}
