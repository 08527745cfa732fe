package relay

import (
	"context"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
)

// NostrDialer opens real websocket connections with go-nostr.
func NostrDialer() Dialer {
	return func(ctx context.Context, url string, notices func(string)) (Conn, error) {
		r, err := nostr.RelayConnect(ctx, url, nostr.WithNoticeHandler(func(notice string) {
			notices(notice)
		}))
		if err != nil {
			return nil, fmt.Errorf("relay: connect %s: %w", url, err)
		}
		return &nostrConn{relay: r}, nil
	}
}

type nostrConn struct {
	relay *nostr.Relay
}

func (c *nostrConn) Subscribe(ctx context.Context, filters nostr.Filters) (Subscription, error) {
	sub, err := c.relay.Subscribe(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("relay: subscribe: %w", err)
	}
	return &nostrSubscription{sub: sub}, nil
}

func (c *nostrConn) Publish(ctx context.Context, ev nostr.Event) error {
	return c.relay.Publish(ctx, ev)
}

func (c *nostrConn) Close() error {
	return c.relay.Close()
}

type nostrSubscription struct {
	sub *nostr.Subscription
}

func (s *nostrSubscription) Events() <-chan *nostr.Event {
	return s.sub.Events
}

func (s *nostrSubscription) EndOfStoredEvents() <-chan struct{} {
	return s.sub.EndOfStoredEvents
}

func (s *nostrSubscription) Unsub() {
	s.sub.Unsub()
}
