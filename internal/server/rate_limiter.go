package server

import (
	"sync"
	"time"
)

// frameLimiter is a token bucket applied to the frames one session may
// broadcast. Position updates are periodic, so the bucket is sized for a
// steady stream with short bursts on top.
type frameLimiter struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	perSec   float64
	last     time.Time
	now      func() time.Time
}

// newFrameLimiter returns nil when cfg.Burst is not positive, meaning frames
// are never limited.
func newFrameLimiter(cfg RateLimitConfig) *frameLimiter {
	burst := cfg.Burst
	if burst <= 0 {
		return nil
	}
	interval := cfg.RefillInterval
	if interval <= 0 {
		interval = time.Second
	}

	l := &frameLimiter{
		tokens:   float64(burst),
		capacity: float64(burst),
		perSec:   float64(burst) / interval.Seconds(),
		now:      time.Now,
	}
	l.last = l.now()
	return l
}

// allow consumes one token, reporting false when the bucket is empty.
func (l *frameLimiter) allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if elapsed := now.Sub(l.last).Seconds(); elapsed > 0 {
		l.tokens = min(l.capacity, l.tokens+elapsed*l.perSec)
	}
	l.last = now

	if l.tokens < 1 {
		return false
	}
	l.tokens--
	return true
}
