package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nbd-wtf/go-nostr"

	"nostrtalk/go-backend/pkg/models"
)

// Conn is one live relay connection. *nostr.Relay satisfies it through the
// adapter in dialer.go; tests substitute fakes.
type Conn interface {
	Subscribe(ctx context.Context, filters nostr.Filters) (Subscription, error)
	Publish(ctx context.Context, ev nostr.Event) error
	Close() error
}

// Subscription is a live filter subscription on one relay.
type Subscription interface {
	Events() <-chan *nostr.Event
	EndOfStoredEvents() <-chan struct{}
	Unsub()
}

// Dialer opens a connection to a relay URL. Relay NOTICE messages are
// reported through the notices callback for the lifetime of the connection.
type Dialer func(ctx context.Context, url string, notices func(text string)) (Conn, error)

var errSubscriptionClosed = errors.New("relay: subscription closed")

// Session owns the connection lifecycle of a single relay: dial, subscribe,
// pump inbound events upward, reconnect after a fixed delay when the
// connection drops. It runs on its own goroutine and only ever produces
// notifications; it never touches storage.
type Session struct {
	url       string
	dial      Dialer
	notify    func(Notification)
	allow     func(url string) bool
	metrics   *Metrics
	log       *slog.Logger
	reconnect time.Duration

	// resub wakes the serve loop after a read-flag or filter change.
	resub chan struct{}

	mu      sync.Mutex
	conn    Conn
	status  string
	read    bool
	write   bool
	filters nostr.Filters
}

func newSession(url string, read, write bool, dial Dialer, notify func(Notification),
	allow func(string) bool, metrics *Metrics, log *slog.Logger, reconnect time.Duration) *Session {
	return &Session{
		url:       url,
		dial:      dial,
		notify:    notify,
		allow:     allow,
		metrics:   metrics,
		log:       log.With("relay", url),
		reconnect: reconnect,
		resub:     make(chan struct{}, 1),
		status:    models.RelayDisconnected,
		read:      read,
		write:     write,
	}
}

// Run drives the session until the context ends. Dial failures and dropped
// connections retry after the fixed reconnect delay; the loop never
// escalates an individual failure.
func (s *Session) Run(ctx context.Context) {
	for {
		if err := s.runOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("relay session ended", "error", err)
		}
		s.setStatus(models.RelayDisconnected)
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.reconnect):
		}
	}
}

func (s *Session) runOnce(ctx context.Context) error {
	s.setStatus(models.RelayConnecting)
	conn, err := s.dial(ctx, s.url, func(text string) {
		s.notify(NoticeReceived{URL: s.url, Text: text})
	})
	if err != nil {
		s.metrics.Disconnects.WithLabelValues(s.url).Inc()
		return err
	}
	s.metrics.Connects.WithLabelValues(s.url).Inc()

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.setStatus(models.RelayConnected)

	err = s.serve(ctx, conn)

	s.mu.Lock()
	s.conn = nil
	s.mu.Unlock()
	s.metrics.Disconnects.WithLabelValues(s.url).Inc()
	return err
}

func (s *Session) serve(ctx context.Context, conn Conn) error {
	defer conn.Close()

	var (
		sub    Subscription
		subID  string
		events <-chan *nostr.Event
		eose   <-chan struct{}
	)
	defer func() {
		if sub != nil {
			sub.Unsub()
		}
	}()

	for {
		if sub == nil {
			if filters := s.wantedFilters(); len(filters) > 0 {
				next, err := conn.Subscribe(ctx, filters)
				if err != nil {
					return err
				}
				sub = next
				subID = uuid.NewString()
				events = sub.Events()
				eose = sub.EndOfStoredEvents()
				s.log.Debug("subscribed", "subscription", subID, "filters", len(filters))
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-s.resub:
			if sub != nil {
				sub.Unsub()
				sub, events, eose = nil, nil, nil
			}

		case ev, ok := <-events:
			if !ok {
				return errSubscriptionClosed
			}
			if ev == nil {
				continue
			}
			if !s.allow(s.url) {
				s.metrics.EventsDropped.WithLabelValues(s.url).Inc()
				continue
			}
			s.metrics.EventsReceived.WithLabelValues(s.url).Inc()
			s.notify(EventReceived{URL: s.url, Event: ev})

		case <-eose:
			eose = nil
			s.notify(EndOfStoredEvents{URL: s.url, SubscriptionID: subID})
		}
	}
}

// Publish sends one event through the current connection and returns the
// relay's verdict. The second result reports whether a verdict exists; a
// disconnected session declines without one. The verdict is handed back to
// the caller instead of the notification channel: Publish runs while the
// reconciler is mid-transition and not draining notifications.
func (s *Session) Publish(ctx context.Context, ev nostr.Event) (OKReceived, bool) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		s.log.Debug("publish skipped, not connected")
		return OKReceived{}, false
	}

	s.metrics.Publishes.WithLabelValues(s.url).Inc()
	err := conn.Publish(ctx, ev)
	accepted := err == nil
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	s.metrics.AcksReceived.WithLabelValues(s.url, boolLabel(accepted)).Inc()
	return OKReceived{URL: s.url, EventID: ev.ID, Accepted: accepted, Reason: reason}, true
}

func (s *Session) wantedFilters() nostr.Filters {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.read {
		return nil
	}
	return s.filters
}

// SetRead gates the subscription. Disabling tears the current subscription
// down on the next loop iteration; enabling resubscribes.
func (s *Session) SetRead(on bool) {
	s.mu.Lock()
	s.read = on
	s.mu.Unlock()
	s.wake()
}

// SetWrite gates publishing. The pool skips write-disabled sessions.
func (s *Session) SetWrite(on bool) {
	s.mu.Lock()
	s.write = on
	s.mu.Unlock()
}

func (s *Session) WriteEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write
}

// UpdateFilters replaces the desired subscription filters.
func (s *Session) UpdateFilters(filters nostr.Filters) {
	s.mu.Lock()
	s.filters = filters
	s.mu.Unlock()
	s.wake()
}

func (s *Session) wake() {
	select {
	case s.resub <- struct{}{}:
	default:
	}
}

func (s *Session) setStatus(status string) {
	s.mu.Lock()
	changed := s.status != status
	s.status = status
	s.mu.Unlock()
	if changed {
		s.notify(StatusChanged{URL: s.url, Status: status})
	}
}

func boolLabel(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
