// Package ratelimit limits program submissions per client. Clients are API
// key names, or remote addresses when authentication is off. Each client
// gets its own golang.org/x/time/rate bucket; idle buckets are dropped by
// Sweep.
package ratelimit

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimited matches every rejection returned by Allow.
var ErrRateLimited = errors.New("rate limit exceeded")

// LimitError is a rejection with the time until the next token.
type LimitError struct {
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry in %s", e.RetryAfter.Round(time.Second))
}

func (e *LimitError) Is(target error) bool { return target == ErrRateLimited }

// Config configures the limiter.
type Config struct {
	RequestsPerMinute int // 0 = unlimited.
	BurstSize         int // 0 = RequestsPerMinute.
}

// Limiter holds one token bucket per client.
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*client
	limit   rate.Limit
	burst   int
	now     func() time.Time
}

type client struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

// NewLimiter creates a limiter. With RequestsPerMinute 0 Allow always
// succeeds.
func NewLimiter(cfg Config) *Limiter {
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = max(cfg.RequestsPerMinute, 1)
	}
	return &Limiter{
		clients: make(map[string]*client),
		limit:   rate.Limit(float64(cfg.RequestsPerMinute) / 60),
		burst:   burst,
		now:     time.Now,
	}
}

func (l *Limiter) unlimited() bool {
	return l == nil || l.limit <= 0
}

// Allow takes one token from the client's bucket or returns a *LimitError.
func (l *Limiter) Allow(name string) error {
	if l.unlimited() {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	c, ok := l.clients[name]
	if !ok {
		c = &client{bucket: rate.NewLimiter(l.limit, l.burst)}
		l.clients[name] = c
	}
	c.lastSeen = now
	if c.bucket.AllowN(now, 1) {
		return nil
	}
	missing := 1 - c.bucket.TokensAt(now)
	wait := time.Duration(math.Ceil(missing / float64(l.limit) * float64(time.Second)))
	return &LimitError{RetryAfter: wait}
}

// Sweep drops the buckets of clients idle for at least idle and returns how
// many were removed. Only full buckets go, so forgetting one changes
// nothing for its client.
func (l *Limiter) Sweep(idle time.Duration) int64 {
	if l.unlimited() {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	var removed int64
	for name, c := range l.clients {
		if now.Sub(c.lastSeen) < idle || c.bucket.TokensAt(now) < float64(l.burst) {
			continue
		}
		delete(l.clients, name)
		removed++
	}
	return removed
}

// Len returns the number of tracked clients.
func (l *Limiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}
