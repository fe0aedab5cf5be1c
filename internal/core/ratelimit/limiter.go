// Package ratelimit bounds outbound moderation calls with a sliding window:
// call timestamps are kept for one trailing window and pruned on every
// operation. A single limiter instance is shared process-wide per external
// endpoint and mutated by every in-flight task.
package ratelimit

import (
	"context"
	"sync"
	"time"

	platformerrors "photosort-server-go/internal/platform/errors"
)

// SlidingWindow is a thread-safe sliding window rate limiter.
type SlidingWindow struct {
	mu         sync.Mutex
	limit      int
	window     time.Duration
	timestamps []time.Time
	now        func() time.Time
}

// NewSlidingWindow creates a limiter allowing limit calls per rolling window.
func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &SlidingWindow{
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// prune drops timestamps older than the window. Caller must hold the lock.
func (l *SlidingWindow) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	idx := 0
	for idx < len(l.timestamps) && l.timestamps[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		l.timestamps = append(l.timestamps[:0], l.timestamps[idx:]...)
	}
}

// CanMakeRequest reports whether a call is currently allowed.
func (l *SlidingWindow) CanMakeRequest() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return len(l.timestamps) < l.limit
}

// RecordRequest registers a call at the current instant.
func (l *SlidingWindow) RecordRequest() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.prune(now)
	l.timestamps = append(l.timestamps, now)
}

// WaitForAvailability blocks until a slot frees up or the context ends.
// It polls in window/10 increments rather than spinning.
func (l *SlidingWindow) WaitForAvailability(ctx context.Context) error {
	interval := l.window / 10
	if interval < time.Millisecond {
		interval = time.Millisecond
	}

	for {
		if l.CanMakeRequest() {
			return nil
		}
		select {
		case <-ctx.Done():
			return platformerrors.Wrap(platformerrors.KindRateLimit, "wait",
				"gave up waiting for a rate limit slot", ctx.Err())
		case <-time.After(interval):
		}
	}
}

// RemainingRequests returns the number of calls left in the current window.
func (l *SlidingWindow) RemainingRequests() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	remaining := l.limit - len(l.timestamps)
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// ResetTime returns when the oldest recorded call ages out of the window.
// With no recorded calls it returns the current instant.
func (l *SlidingWindow) ResetTime() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.prune(now)
	if len(l.timestamps) == 0 {
		return now
	}
	return l.timestamps[0].Add(l.window)
}

// setClock replaces the time source, for tests.
func (l *SlidingWindow) setClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}
