// Package ratelimit throttles message writes per sender.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// SenderLimiter gives every sender its own token bucket. Sends and repairs
// draw from the same bucket. Senders idle for longer than idleTTL are
// forgotten, at most once per idleTTL.
type SenderLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu        sync.Mutex
	senders   map[string]*sender
	lastSweep time.Time
}

type sender struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

// New returns nil when rps or burst is not positive; a nil limiter allows
// everything.
func New(rps float64, burst int, idleTTL time.Duration) *SenderLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &SenderLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: idleTTL,
		senders: make(map[string]*sender),
	}
}

// Allow reports whether senderID may write one message at now. When it may
// not, retryAfter is how long until the next token, for the Retry-After
// header. A denied call consumes nothing.
func (l *SenderLimiter) Allow(senderID string, now time.Time) (ok bool, retryAfter time.Duration) {
	if l == nil {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweep(now)

	s, found := l.senders[senderID]
	if !found {
		s = &sender{bucket: rate.NewLimiter(l.limit, l.burst)}
		l.senders[senderID] = s
	}
	s.lastSeen = now

	r := s.bucket.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// sweep drops idle senders. Called with l.mu held.
func (l *SenderLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.idleTTL {
		return
	}
	l.lastSweep = now
	cutoff := now.Add(-l.idleTTL)
	for id, s := range l.senders {
		if s.lastSeen.Before(cutoff) {
			delete(l.senders, id)
		}
	}
}

// Len returns the number of tracked senders.
func (l *SenderLimiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.senders)
}
