package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter is an in-process sliding window limiter for deployments that
// run without Redis (cache mode "memory" or "none"). Windows are per
// principal; a background sweep drops principals that have gone idle so the
// map does not grow unbounded.
type MemoryLimiter struct {
	mu       sync.Mutex
	windows  map[string][]time.Time
	rpmLimit int
	done     chan struct{}
	once     sync.Once
}

// NewMemoryLimiter creates a MemoryLimiter with the given per-principal RPM
// limit and starts its cleanup goroutine.
func NewMemoryLimiter(rpmLimit int) *MemoryLimiter {
	l := &MemoryLimiter{
		windows:  make(map[string][]time.Time),
		rpmLimit: rpmLimit,
		done:     make(chan struct{}),
	}
	go l.cleanupLoop(5 * time.Minute)
	return l
}

// Allow returns true if the principal's current request is within the limit,
// recording it if so.
func (l *MemoryLimiter) Allow(_ context.Context, principal string) (bool, error) {
	now := time.Now()
	cutoff := now.Add(-time.Minute)

	l.mu.Lock()
	defer l.mu.Unlock()

	window := l.windows[principal]

	// Drop timestamps outside the window. Entries are appended in order, so
	// the first in-window index bounds the live suffix.
	live := 0
	for live < len(window) && !window[live].After(cutoff) {
		live++
	}
	window = window[live:]

	if len(window) >= l.rpmLimit {
		l.windows[principal] = window
		return false, nil
	}

	l.windows[principal] = append(window, now)
	return true, nil
}

func (l *MemoryLimiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-l.done:
			return
		}
	}
}

// sweep removes principals whose entire window has expired.
func (l *MemoryLimiter) sweep() {
	cutoff := time.Now().Add(-time.Minute)

	l.mu.Lock()
	defer l.mu.Unlock()

	for principal, window := range l.windows {
		if len(window) == 0 || !window[len(window)-1].After(cutoff) {
			delete(l.windows, principal)
		}
	}
}

// Close stops the cleanup goroutine. Safe to call more than once.
func (l *MemoryLimiter) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}
