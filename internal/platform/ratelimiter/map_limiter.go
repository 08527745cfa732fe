// Package ratelimiter provides a token bucket per string key, used to cap
// the inbound event rate of each relay connection.
package ratelimiter

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type bucket struct {
	tokens   *rate.Limiter
	lastSeen time.Time
}

// MapLimiter holds one token bucket per relay URL. Buckets for relays that
// went quiet are swept out lazily on the next Allow call, so no background
// goroutine is needed.
type MapLimiter struct {
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	sweepGap time.Duration

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

// New creates a key-based limiter; returns nil (an always-allow limiter)
// if the arguments are invalid.
func New(rps float64, burst int, idleTTL time.Duration) *MapLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &MapLimiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		idleTTL:  idleTTL,
		sweepGap: idleTTL / 4,
		buckets:  make(map[string]*bucket),
	}
}

// Allow reports whether one token can be consumed for the key at now.
// A nil limiter always allows.
func (l *MapLimiter) Allow(key string, now time.Time) bool {
	if l == nil || key == "" {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	if now.Sub(l.lastSweep) >= l.sweepGap {
		l.lastSweep = now
		cutoff := now.Add(-l.idleTTL)
		for k, v := range l.buckets {
			if v.lastSeen.Before(cutoff) {
				delete(l.buckets, k)
			}
		}
	}
	return b.tokens.AllowN(now, 1)
}
