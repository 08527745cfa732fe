package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"nostrtalk/go-backend/internal/platform/ratelimiter"
)

// ErrNoRelayToWrite reports a publish that no write-enabled relay accepted.
var ErrNoRelayToWrite = errors.New("relay: no relay accepted the write")

// Options configures a Pool.
type Options struct {
	Dialer            Dialer
	ReconnectInterval time.Duration
	PublishTimeout    time.Duration
	Limiter           *ratelimiter.MapLimiter
	Metrics           *Metrics
	Logger            *slog.Logger
}

// Pool is the relay session manager: one Session per configured relay, all
// notifications funneled into a single channel for the reconciler. Sessions
// are registered with AddRelay and start running once ConnectAll supplies
// the lifecycle context.
type Pool struct {
	dial      Dialer
	reconnect time.Duration
	pubWait   time.Duration
	limits    *ratelimiter.MapLimiter
	metrics   *Metrics
	log       *slog.Logger

	notes chan Notification
	done  chan struct{}

	mu       sync.Mutex
	root     context.Context
	sessions map[string]*sessionHandle
	filters  nostr.Filters
	closed   bool
}

type sessionHandle struct {
	session *Session
	cancel  context.CancelFunc
}

func NewPool(opts Options) *Pool {
	if opts.Dialer == nil {
		opts.Dialer = NostrDialer()
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = 5 * time.Second
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 10 * time.Second
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Pool{
		dial:      opts.Dialer,
		reconnect: opts.ReconnectInterval,
		pubWait:   opts.PublishTimeout,
		limits:    opts.Limiter,
		metrics:   opts.Metrics,
		log:       opts.Logger,
		notes:     make(chan Notification, 256),
		done:      make(chan struct{}),
		sessions:  make(map[string]*sessionHandle),
	}
}

// Notifications is the merged stream of everything every session reports.
func (p *Pool) Notifications() <-chan Notification {
	return p.notes
}

// AddRelay registers a session for the URL. If the pool is already
// connecting, the session starts immediately; otherwise it waits for
// ConnectAll. Re-adding an existing URL is a no-op.
func (p *Pool) AddRelay(url string, read, write bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if _, ok := p.sessions[url]; ok {
		return
	}
	s := newSession(url, read, write, p.dial, p.send, p.allow, p.metrics, p.log, p.reconnect)
	s.UpdateFilters(p.filters)
	h := &sessionHandle{session: s}
	p.sessions[url] = h
	if p.root != nil {
		p.start(h)
	}
}

// RemoveRelay stops and forgets the session for the URL.
func (p *Pool) RemoveRelay(url string) {
	p.mu.Lock()
	h, ok := p.sessions[url]
	delete(p.sessions, url)
	p.mu.Unlock()
	if ok && h.cancel != nil {
		h.cancel()
	}
}

// ConnectAll starts every registered session under ctx. Sessions added
// later start under the same context.
func (p *Pool) ConnectAll(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.root = ctx
	for _, h := range p.sessions {
		if h.cancel == nil {
			p.start(h)
		}
	}
}

// start launches a session goroutine. Caller holds p.mu.
func (p *Pool) start(h *sessionHandle) {
	ctx, cancel := context.WithCancel(p.root)
	h.cancel = cancel
	go h.session.Run(ctx)
}

// Subscribe replaces the filters every read-enabled session maintains.
func (p *Pool) Subscribe(filters nostr.Filters) {
	p.mu.Lock()
	p.filters = filters
	handles := p.handles()
	p.mu.Unlock()
	for _, h := range handles {
		h.session.UpdateFilters(filters)
	}
}

// SetRead toggles the subscription gate of one relay.
func (p *Pool) SetRead(url string, on bool) {
	if h := p.handle(url); h != nil {
		h.session.SetRead(on)
	}
}

// SetWrite toggles the publish gate of one relay.
func (p *Pool) SetWrite(url string, on bool) {
	if h := p.handle(url); h != nil {
		h.session.SetWrite(on)
	}
}

// Publish fans the event out to every write-enabled session concurrently
// and waits for their verdicts. It succeeds if at least one relay accepts;
// write-disabled and disconnected relays are skipped, not errors.
func (p *Pool) Publish(ctx context.Context, ev nostr.Event) error {
	p.mu.Lock()
	handles := p.handles()
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, p.pubWait)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		verdicts []OKReceived
	)
	for _, h := range handles {
		s := h.session
		if !s.WriteEnabled() {
			p.log.Debug("publish skipped, write disabled", "relay", s.url)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v, ok := s.Publish(ctx, ev); ok {
				mu.Lock()
				verdicts = append(verdicts, v)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	accepted := 0
	for _, v := range verdicts {
		if v.Accepted {
			accepted++
		}
	}
	// The caller is the reconciler, mid-transition; it only resumes
	// draining notifications after Publish returns. Enqueue the verdicts
	// off this goroutine so a full buffer cannot wedge the transition.
	go func() {
		for _, v := range verdicts {
			p.send(v)
		}
	}()

	if accepted == 0 {
		return ErrNoRelayToWrite
	}
	return nil
}

// Close stops every session. The notification channel is left open; by the
// time Close runs the reconciler has already stopped consuming.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	handles := p.handles()
	p.sessions = make(map[string]*sessionHandle)
	p.mu.Unlock()

	close(p.done)
	for _, h := range handles {
		if h.cancel != nil {
			h.cancel()
		}
	}
}

// send delivers a notification unless the pool is shutting down. Sessions
// block here when the reconciler falls behind, which is the intended
// backpressure.
func (p *Pool) send(n Notification) {
	select {
	case p.notes <- n:
	case <-p.done:
	}
}

func (p *Pool) allow(url string) bool {
	return p.limits.Allow(url, time.Now())
}

// handles snapshots the session set. Caller holds p.mu.
func (p *Pool) handles() []*sessionHandle {
	out := make([]*sessionHandle, 0, len(p.sessions))
	for _, h := range p.sessions {
		out = append(out, h)
	}
	return out
}

func (p *Pool) handle(url string) *sessionHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessions[url]
}
