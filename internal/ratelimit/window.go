// Package ratelimit limits participation requests per client address.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Result describes the limiter's decision for one request.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// SlidingWindow counts requests per key over a trailing window.
type SlidingWindow struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	buckets map[string][]time.Time
}

func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		limit:   limit,
		window:  window,
		now:     time.Now,
		buckets: make(map[string][]time.Time),
	}
}

// Allow records a request for key if it fits in the window.
func (s *SlidingWindow) Allow(_ context.Context, key string) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	ts := trim(s.buckets[key], now.Add(-s.window))

	if len(ts) >= s.limit {
		s.buckets[key] = ts
		resetAt := ts[0].Add(s.window)
		return &Result{
			Allowed:    false,
			Limit:      s.limit,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: resetAt.Sub(now),
		}, nil
	}

	ts = append(ts, now)
	s.buckets[key] = ts
	return &Result{
		Allowed:   true,
		Limit:     s.limit,
		Remaining: s.limit - len(ts),
		ResetAt:   ts[0].Add(s.window),
	}, nil
}

// Sweep drops keys with no requests inside the window.
func (s *SlidingWindow) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.window)
	removed := 0
	for key, ts := range s.buckets {
		if len(trim(ts, cutoff)) == 0 {
			delete(s.buckets, key)
			removed++
		}
	}
	return removed
}

// trim drops timestamps at or before cutoff. ts is in ascending order.
func trim(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for ; i < len(ts); i++ {
		if ts[i].After(cutoff) {
			break
		}
	}
	return ts[i:]
}
