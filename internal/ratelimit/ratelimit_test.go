package ratelimit

import (
	"errors"
	"testing"
	"time"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func testLimiter(cfg Config) (*Limiter, *clock) {
	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewLimiter(cfg)
	l.now = c.now
	return l, c
}

func TestLimiter_Unlimited(t *testing.T) {
	l := NewLimiter(Config{})
	for range 1000 {
		if err := l.Allow("a"); err != nil {
			t.Fatalf("unlimited limiter rejected: %v", err)
		}
	}
}

func TestLimiter_NilAllows(t *testing.T) {
	var l *Limiter
	if err := l.Allow("a"); err != nil {
		t.Errorf("nil limiter: %v", err)
	}
}

func TestLimiter_Burst(t *testing.T) {
	l, _ := testLimiter(Config{RequestsPerMinute: 60, BurstSize: 3})
	for i := range 3 {
		if err := l.Allow("a"); err != nil {
			t.Fatalf("request %d rejected: %v", i, err)
		}
	}
	err := l.Allow("a")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	var le *LimitError
	if !errors.As(err, &le) || le.RetryAfter != time.Second {
		t.Errorf("retry after = %+v, want 1s", le)
	}
}

func TestLimiter_Refill(t *testing.T) {
	l, c := testLimiter(Config{RequestsPerMinute: 60, BurstSize: 1})
	if err := l.Allow("a"); err != nil {
		t.Fatal(err)
	}
	if err := l.Allow("a"); err == nil {
		t.Fatal("expected rejection")
	}
	c.advance(time.Second)
	if err := l.Allow("a"); err != nil {
		t.Errorf("after refill: %v", err)
	}
}

func TestLimiter_ClientsIndependent(t *testing.T) {
	l, _ := testLimiter(Config{RequestsPerMinute: 1})
	if err := l.Allow("a"); err != nil {
		t.Fatal(err)
	}
	if err := l.Allow("b"); err != nil {
		t.Errorf("client b limited by client a: %v", err)
	}
}

func TestLimiter_Sweep(t *testing.T) {
	l, c := testLimiter(Config{RequestsPerMinute: 60, BurstSize: 5})
	l.Allow("idle")
	c.advance(10 * time.Minute)
	l.Allow("busy")

	if n := l.Sweep(5 * time.Minute); n != 1 {
		t.Errorf("swept %d, want 1", n)
	}
	if l.Len() != 1 {
		t.Errorf("len = %d, want 1", l.Len())
	}
}

func TestLimiter_SweepKeepsDrainedBuckets(t *testing.T) {
	l, c := testLimiter(Config{RequestsPerMinute: 1, BurstSize: 2})
	l.Allow("a")
	l.Allow("a")
	c.advance(30 * time.Second)

	// idle long enough, but the bucket is still refilling
	if n := l.Sweep(10 * time.Second); n != 0 {
		t.Errorf("swept %d, want 0", n)
	}
}
