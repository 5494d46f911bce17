package ratelimit

import (
	"testing"
	"time"
)

// fakeClock drives limiter time deterministically.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1700000000, 0)}
}

func (c *fakeClock) now() time.Time {
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *fakeClock) {
	t.Helper()
	l, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	clock := newFakeClock()
	l.now = clock.now
	return l, clock
}

func TestConfigValidation(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"unknown strategy", Config{Strategy: "leaky-bucket"}},
		{"bucket without tokens", Config{Strategy: StrategyTokenBucket, RefillRate: 1}},
		{"bucket without refill", Config{Strategy: StrategyTokenBucket, MaxTokens: 5}},
		{"window without requests", Config{Strategy: StrategySlidingWindow, Window: time.Second}},
		{"window without duration", Config{Strategy: StrategyFixedWindow, MaxRequests: 3}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.cfg); err == nil {
				t.Errorf("New(%+v) expected error, got nil", tc.cfg)
			}
		})
	}
}

func TestTokenBucketSaturation(t *testing.T) {
	l, clock := newTestLimiter(t, Config{
		Strategy:   StrategyTokenBucket,
		MaxTokens:  3,
		RefillRate: 1, // 1 token/sec
	})

	for i := 0; i < 3; i++ {
		if !l.TryAcquire("client") {
			t.Fatalf("acquisition %d should succeed", i)
		}
	}
	if l.TryAcquire("client") {
		t.Error("acquisition beyond capacity should fail")
	}

	// Less than 1/refillRate elapsed: still saturated.
	clock.advance(500 * time.Millisecond)
	if l.TryAcquire("client") {
		t.Error("acquisition before refill should fail")
	}

	clock.advance(600 * time.Millisecond)
	if !l.TryAcquire("client") {
		t.Error("acquisition after refill should succeed")
	}
}

func TestTokenBucketRefillCap(t *testing.T) {
	l, clock := newTestLimiter(t, Config{
		Strategy:   StrategyTokenBucket,
		MaxTokens:  2,
		RefillRate: 10,
	})

	if !l.TryAcquire("client") {
		t.Fatal("first acquisition should succeed")
	}

	// Refill far beyond capacity; tokens must cap at MaxTokens.
	clock.advance(time.Hour)
	status := l.Status("client")
	if status.Remaining != 2 {
		t.Errorf("Remaining = %d, want 2 (capped at MaxTokens)", status.Remaining)
	}
}

func TestTokenBucketCost(t *testing.T) {
	l, _ := newTestLimiter(t, Config{
		Strategy:   StrategyTokenBucket,
		MaxTokens:  5,
		RefillRate: 1,
	})

	if !l.TryAcquireN("client", 4) {
		t.Fatal("cost 4 should succeed with 5 tokens")
	}
	if l.TryAcquireN("client", 2) {
		t.Error("cost 2 should fail with 1 token")
	}
	if !l.TryAcquire("client") {
		t.Error("cost 1 should succeed with 1 token")
	}
}

func TestSlidingWindowBoundary(t *testing.T) {
	l, clock := newTestLimiter(t, Config{
		Strategy:    StrategySlidingWindow,
		MaxRequests: 3,
		Window:      time.Second,
	})

	// 3 requests inside 900ms all succeed.
	for i := 0; i < 3; i++ {
		if !l.TryAcquire("client") {
			t.Fatalf("acquisition %d should succeed", i)
		}
		clock.advance(300 * time.Millisecond)
	}
	// Now at t=900ms: a 4th request in the same window fails.
	if l.TryAcquire("client") {
		t.Error("4th request within window should fail")
	}

	// After the full window elapses past the newest timestamp, all slots
	// are available again.
	clock.advance(2 * time.Second)
	status := l.Status("client")
	if status.Remaining != 3 {
		t.Errorf("Remaining = %d, want 3 after window elapsed", status.Remaining)
	}
	for i := 0; i < 3; i++ {
		if !l.TryAcquire("client") {
			t.Errorf("acquisition %d after window should succeed", i)
		}
	}
}

func TestSlidingWindowPurgesOldTimestamps(t *testing.T) {
	l, clock := newTestLimiter(t, Config{
		Strategy:    StrategySlidingWindow,
		MaxRequests: 2,
		Window:      time.Second,
	})

	l.TryAcquire("client")
	clock.advance(700 * time.Millisecond)
	l.TryAcquire("client")

	// First timestamp ages out at t=1000ms; one slot frees up.
	clock.advance(400 * time.Millisecond)
	if !l.TryAcquire("client") {
		t.Error("slot freed by aged-out timestamp should be usable")
	}
	if l.TryAcquire("client") {
		t.Error("second timestamp still in window, acquisition should fail")
	}
}

func TestFixedWindowReset(t *testing.T) {
	l, clock := newTestLimiter(t, Config{
		Strategy:    StrategyFixedWindow,
		MaxRequests: 2,
		Window:      time.Second,
	})

	if !l.TryAcquire("client") || !l.TryAcquire("client") {
		t.Fatal("first two acquisitions should succeed")
	}
	if l.TryAcquire("client") {
		t.Error("third acquisition in window should fail")
	}

	// Exactly at the boundary a new window starts.
	clock.advance(time.Second)
	if !l.TryAcquire("client") {
		t.Error("acquisition at window boundary should start a fresh window")
	}

	// The reset happened once: only one slot is consumed in the new window.
	status := l.Status("client")
	if status.Remaining != 1 {
		t.Errorf("Remaining = %d, want 1 in fresh window", status.Remaining)
	}
}

func TestStatusDoesNotConsume(t *testing.T) {
	for _, strategy := range []Strategy{StrategyTokenBucket, StrategySlidingWindow, StrategyFixedWindow} {
		t.Run(string(strategy), func(t *testing.T) {
			l, _ := newTestLimiter(t, Config{
				Strategy:    strategy,
				MaxTokens:   2,
				RefillRate:  1,
				MaxRequests: 2,
				Window:      time.Second,
			})

			for i := 0; i < 10; i++ {
				l.Status("client")
			}
			if !l.TryAcquire("client") || !l.TryAcquire("client") {
				t.Error("Status calls must not consume capacity")
			}
		})
	}
}

func TestStatusRetryAfter(t *testing.T) {
	l, _ := newTestLimiter(t, Config{
		Strategy:   StrategyTokenBucket,
		MaxTokens:  1,
		RefillRate: 2, // 1 token per 500ms
	})

	l.TryAcquire("client")
	status := l.Status("client")
	if !status.Limited {
		t.Fatal("identifier should be limited after draining the bucket")
	}
	if status.RetryAfter <= 0 || status.RetryAfter > 500*time.Millisecond {
		t.Errorf("RetryAfter = %v, want in (0, 500ms]", status.RetryAfter)
	}
}

func TestFixedWindowRetryAfter(t *testing.T) {
	l, clock := newTestLimiter(t, Config{
		Strategy:    StrategyFixedWindow,
		MaxRequests: 1,
		Window:      time.Second,
	})

	l.TryAcquire("client")
	clock.advance(400 * time.Millisecond)
	status := l.Status("client")
	if !status.Limited {
		t.Fatal("identifier should be limited")
	}
	if status.RetryAfter != 600*time.Millisecond {
		t.Errorf("RetryAfter = %v, want 600ms (time to window boundary)", status.RetryAfter)
	}
}

func TestCleanup(t *testing.T) {
	l, clock := newTestLimiter(t, Config{
		Strategy:    StrategySlidingWindow,
		MaxRequests: 5,
		Window:      time.Second,
	})

	l.TryAcquire("stale-1")
	l.TryAcquire("stale-2")
	clock.advance(2 * time.Second)
	l.TryAcquire("active")

	removed := l.Cleanup()
	if removed != 2 {
		t.Errorf("Cleanup() = %d, want 2", removed)
	}
	if l.Size() != 1 {
		t.Errorf("Size() = %d, want 1 after cleanup", l.Size())
	}
}

func TestResetAndResetAll(t *testing.T) {
	l, _ := newTestLimiter(t, Config{
		Strategy:    StrategyFixedWindow,
		MaxRequests: 1,
		Window:      time.Minute,
	})

	l.TryAcquire("a")
	l.TryAcquire("b")
	if l.TryAcquire("a") {
		t.Fatal("a should be limited")
	}

	l.Reset("a")
	if !l.TryAcquire("a") {
		t.Error("a should be usable after Reset")
	}
	if l.TryAcquire("b") {
		t.Error("b must be unaffected by Reset(a)")
	}

	l.ResetAll()
	if !l.TryAcquire("a") || !l.TryAcquire("b") {
		t.Error("all identifiers should be usable after ResetAll")
	}
	if l.Size() != 2 {
		t.Errorf("Size() = %d, want 2", l.Size())
	}
}

func TestIndependentIdentifiers(t *testing.T) {
	l, _ := newTestLimiter(t, Config{
		Strategy:    StrategyFixedWindow,
		MaxRequests: 1,
		Window:      time.Minute,
	})

	if !l.TryAcquire("a") {
		t.Fatal("a should succeed")
	}
	if !l.TryAcquire("b") {
		t.Error("b owns an independent limiter and should succeed")
	}
}
