// Package ratelimit provides a keyed fixed-window limiter for the
// management API.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"grimm.is/warden/internal/clock"
)

// Limiter allows up to limit events per interval for each key.
type Limiter struct {
	limit    int
	interval time.Duration
	clock    clock.Clock

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	tokens   int
	lastFill time.Time
}

// New creates a limiter. A limit below one disables limiting.
func New(limit int, interval time.Duration, c clock.Clock) *Limiter {
	return &Limiter{
		limit:    limit,
		interval: interval,
		clock:    clock.Or(c),
		buckets:  make(map[string]*bucket),
	}
}

// Allow takes one token for key. When none is left it returns false and the
// time until the window resets.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	return l.AllowN(key, 1)
}

// AllowN takes n tokens for key.
func (l *Limiter) AllowN(key string, n int) (bool, time.Duration) {
	if l.limit < 1 {
		return true, 0
	}
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.limit, lastFill: now}
		l.buckets[key] = b
	}
	if now.Sub(b.lastFill) >= l.interval {
		b.tokens = l.limit
		b.lastFill = now
	}
	if b.tokens < n {
		return false, b.lastFill.Add(l.interval).Sub(now)
	}
	b.tokens -= n
	return true, 0
}

// Reset forgets key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// CleanupExpired drops keys whose window started more than maxAge ago and
// returns how many were dropped.
func (l *Limiter) CleanupExpired(maxAge time.Duration) int {
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for key, b := range l.buckets {
		if now.Sub(b.lastFill) > maxAge {
			delete(l.buckets, key)
			n++
		}
	}
	return n
}

// RunCleanup calls CleanupExpired every interval until ctx is done.
func (l *Limiter) RunCleanup(ctx context.Context, every, maxAge time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.CleanupExpired(maxAge)
		}
	}
}
