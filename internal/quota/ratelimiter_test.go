package quota

import (
	"testing"
	"time"
)

type stepClock struct{ t time.Time }

func (c *stepClock) now() time.Time { return c.t }

func newTestLimiter(rpm int) (*RateLimiter, *stepClock) {
	clock := &stepClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(rpm)
	rl.now = clock.now
	return rl, clock
}

func TestAllow_Unlimited(t *testing.T) {
	rl := NewRateLimiter(0)
	if rl.Enabled() {
		t.Error("rpm=0 should be disabled")
	}
	for i := 0; i < 1000; i++ {
		if !rl.Allow("u") {
			t.Fatal("unlimited limiter rejected a request")
		}
	}
	if rl.RetryAfter("u") != 0 {
		t.Error("unlimited limiter should never ask to retry")
	}
}

func TestAllow_BurstThenRefill(t *testing.T) {
	rl, clock := newTestLimiter(3)

	for i := 0; i < 3; i++ {
		if !rl.Allow("alice") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.Allow("alice") {
		t.Fatal("fourth request should be limited")
	}
	if got := rl.RetryAfter("alice"); got < 20 || got > 21 {
		t.Errorf("RetryAfter = %d, want about 20", got)
	}

	// Other users have their own bucket.
	if !rl.Allow("bob") {
		t.Error("bob should not share alice's bucket")
	}

	clock.t = clock.t.Add(21 * time.Second)
	if !rl.Allow("alice") {
		t.Error("a token should refill after 21s at 3 rpm")
	}
	if rl.Allow("alice") {
		t.Error("only one token should have refilled")
	}
}

func TestCleanup(t *testing.T) {
	rl, clock := newTestLimiter(10)
	rl.Allow("old")
	clock.t = clock.t.Add(time.Hour)
	rl.Allow("new")

	rl.Cleanup(30 * time.Minute)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.buckets["old"]; ok {
		t.Error("stale bucket should be removed")
	}
	if _, ok := rl.buckets["new"]; !ok {
		t.Error("recent bucket should be kept")
	}
}
