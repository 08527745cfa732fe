// Package relay maintains one long-lived websocket session per configured
// relay and funnels everything the relays say into a single notification
// channel consumed by the backend reconciler.
package relay

import "github.com/nbd-wtf/go-nostr"

// Notification is the closed set of things a relay session reports upward.
type Notification interface {
	notification()
}

// EventReceived carries one inbound protocol event from a subscription.
type EventReceived struct {
	URL   string
	Event *nostr.Event
}

// OKReceived is a relay's accept/reject verdict for a published event,
// identified by the event's content hash.
type OKReceived struct {
	URL      string
	EventID  string
	Accepted bool
	Reason   string
}

// EndOfStoredEvents marks the point where a subscription switches from
// stored history to live events.
type EndOfStoredEvents struct {
	URL            string
	SubscriptionID string
}

// NoticeReceived is a free-form human-readable message from a relay.
type NoticeReceived struct {
	URL  string
	Text string
}

// StatusChanged reports a session moving between connection states.
type StatusChanged struct {
	URL    string
	Status string
}

func (EventReceived) notification()     {}
func (OKReceived) notification()        {}
func (EndOfStoredEvents) notification() {}
func (NoticeReceived) notification()    {}
func (StatusChanged) notification()     {}
