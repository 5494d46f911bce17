// Package ratelimit provides per-identifier admission control with three
// interchangeable strategies: token bucket, sliding window and fixed window.
//
// A Limiter is a synchronous, non-blocking gate consulted before work is
// submitted to the scheduler or batch executor. Each identifier (client id,
// API key) lazily gets an independent sub-limiter using the strategy fixed at
// construction; Cleanup bounds memory under high identifier churn.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Strategy selects the rate limiting algorithm for a Limiter.
type Strategy string

const (
	StrategyTokenBucket   Strategy = "token-bucket"
	StrategySlidingWindow Strategy = "sliding-window"
	StrategyFixedWindow   Strategy = "fixed-window"
)

// Config holds limiter construction parameters. MaxTokens and RefillRate
// apply to the token bucket strategy; MaxRequests and Window apply to the
// window strategies.
type Config struct {
	Strategy Strategy

	// MaxTokens is the bucket capacity in tokens.
	MaxTokens float64
	// RefillRate is the refill speed in tokens per second.
	RefillRate float64

	// MaxRequests is the number of requests admitted per window.
	MaxRequests int
	// Window is the window length.
	Window time.Duration
}

func (c Config) validate() error {
	switch c.Strategy {
	case StrategyTokenBucket:
		if c.MaxTokens <= 0 {
			return fmt.Errorf("MaxTokens must be positive")
		}
		if c.RefillRate <= 0 {
			return fmt.Errorf("RefillRate must be positive")
		}
	case StrategySlidingWindow, StrategyFixedWindow:
		if c.MaxRequests <= 0 {
			return fmt.Errorf("MaxRequests must be positive")
		}
		if c.Window <= 0 {
			return fmt.Errorf("Window must be positive")
		}
	default:
		return fmt.Errorf("unsupported strategy %q", c.Strategy)
	}
	return nil
}

// Status reports an identifier's current standing without consuming capacity.
type Status struct {
	// Limited is true when the next single-cost acquisition would fail.
	Limited bool
	// Remaining is the capacity still available in the current window or
	// bucket.
	Remaining int
	// ResetTime is when capacity is fully restored.
	ResetTime time.Time
	// RetryAfter is the wait until the next unit of capacity becomes
	// available. Only meaningful when Limited is true.
	RetryAfter time.Duration
}

// LimitedError is returned by callers that surface admission denial as an
// error value rather than a boolean.
type LimitedError struct {
	Identifier string
	RetryAfter time.Duration
}

func (e *LimitedError) Error() string {
	return fmt.Sprintf("rate limited: identifier %q, retry after %s", e.Identifier, e.RetryAfter)
}

// keyLimiter is the per-identifier state machine behind a Limiter. All
// methods are called with the owning Limiter's lock held.
type keyLimiter interface {
	// allow performs the strategy's time-based accounting, then admits and
	// records the request iff cost units of capacity are available.
	allow(now time.Time, cost int) bool
	// status performs the same time-based accounting but never consumes
	// capacity.
	status(now time.Time) Status
	// idle reports whether the limiter currently records no activity and
	// can be dropped by Cleanup.
	idle(now time.Time) bool
}

// Limiter gates work per identifier. Safe for concurrent use.
type Limiter struct {
	cfg Config

	mu       sync.Mutex
	limiters map[string]keyLimiter

	now func() time.Time
}

// New creates a Limiter with the given strategy and thresholds.
func New(cfg Config) (*Limiter, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid limiter config: %w", err)
	}
	return &Limiter{
		cfg:      cfg,
		limiters: make(map[string]keyLimiter),
		now:      time.Now,
	}, nil
}

// TryAcquire reports whether the identifier may proceed, consuming one unit
// of capacity on success.
func (l *Limiter) TryAcquire(identifier string) bool {
	return l.TryAcquireN(identifier, 1)
}

// TryAcquireN is TryAcquire with a caller-specified cost.
func (l *Limiter) TryAcquireN(identifier string, cost int) bool {
	if cost <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limiterFor(identifier).allow(l.now(), cost)
}

// Status reports the identifier's standing. It performs the strategy's
// time-based refill or window reset so the numbers are current, but never
// consumes capacity, and never fails.
func (l *Limiter) Status(identifier string) Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limiterFor(identifier).status(l.now())
}

// Reset discards the identifier's recorded activity.
func (l *Limiter) Reset(identifier string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, identifier)
}

// ResetAll discards all recorded activity.
func (l *Limiter) ResetAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiters = make(map[string]keyLimiter)
}

// Cleanup removes sub-limiters that show no recorded activity, bounding the
// identifier map under high key churn. Returns the number removed.
func (l *Limiter) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for id, kl := range l.limiters {
		if kl.idle(now) {
			delete(l.limiters, id)
			removed++
		}
	}
	return removed
}

// Size returns the number of tracked identifiers.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *Limiter) limiterFor(identifier string) keyLimiter {
	kl, ok := l.limiters[identifier]
	if !ok {
		kl = l.newKeyLimiter()
		l.limiters[identifier] = kl
	}
	return kl
}

func (l *Limiter) newKeyLimiter() keyLimiter {
	switch l.cfg.Strategy {
	case StrategyTokenBucket:
		return &tokenBucket{
			tokens:     l.cfg.MaxTokens,
			maxTokens:  l.cfg.MaxTokens,
			refillRate: l.cfg.RefillRate,
			lastRefill: l.now(),
		}
	case StrategySlidingWindow:
		return &slidingWindow{
			maxRequests: l.cfg.MaxRequests,
			window:      l.cfg.Window,
		}
	default:
		return &fixedWindow{
			maxRequests: l.cfg.MaxRequests,
			window:      l.cfg.Window,
			windowStart: l.now(),
		}
	}
}
