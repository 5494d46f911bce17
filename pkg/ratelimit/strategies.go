package ratelimit

import (
	"math"
	"time"
)

// tokenBucket refills continuously at refillRate tokens per second, capped at
// maxTokens. A request costing N succeeds iff at least N tokens are present.
type tokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64
	lastRefill time.Time
}

func (b *tokenBucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens = math.Min(b.maxTokens, b.tokens+elapsed*b.refillRate)
	b.lastRefill = now
}

func (b *tokenBucket) allow(now time.Time, cost int) bool {
	b.refill(now)
	if b.tokens < float64(cost) {
		return false
	}
	b.tokens -= float64(cost)
	return true
}

func (b *tokenBucket) status(now time.Time) Status {
	b.refill(now)

	st := Status{
		Limited:   b.tokens < 1,
		Remaining: int(b.tokens),
		ResetTime: now,
	}
	if b.tokens < b.maxTokens {
		st.ResetTime = now.Add(durationFor((b.maxTokens - b.tokens) / b.refillRate))
	}
	if st.Limited {
		st.RetryAfter = durationFor((1 - b.tokens) / b.refillRate)
	}
	return st
}

func (b *tokenBucket) idle(now time.Time) bool {
	b.refill(now)
	return b.tokens >= b.maxTokens
}

// slidingWindow keeps the timestamps of admitted requests within the trailing
// window. Timestamps older than the window are purged on every touch, so the
// log never retains stale entries.
type slidingWindow struct {
	maxRequests int
	window      time.Duration
	requests    []time.Time
}

func (w *slidingWindow) purge(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.requests) && !w.requests[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.requests = append(w.requests[:0], w.requests[i:]...)
	}
}

func (w *slidingWindow) allow(now time.Time, cost int) bool {
	w.purge(now)
	if len(w.requests)+cost > w.maxRequests {
		return false
	}
	for i := 0; i < cost; i++ {
		w.requests = append(w.requests, now)
	}
	return true
}

func (w *slidingWindow) status(now time.Time) Status {
	w.purge(now)

	st := Status{
		Limited:   len(w.requests) >= w.maxRequests,
		Remaining: w.maxRequests - len(w.requests),
		ResetTime: now,
	}
	if len(w.requests) > 0 {
		// All slots are free once the newest recorded request ages out.
		st.ResetTime = w.requests[len(w.requests)-1].Add(w.window)
	}
	if st.Limited {
		st.RetryAfter = w.requests[0].Add(w.window).Sub(now)
		if st.RetryAfter < 0 {
			st.RetryAfter = 0
		}
	}
	return st
}

func (w *slidingWindow) idle(now time.Time) bool {
	w.purge(now)
	return len(w.requests) == 0
}

// fixedWindow counts requests inside a window anchored at windowStart and
// resets the count exactly once per boundary crossing, not per request.
type fixedWindow struct {
	maxRequests int
	window      time.Duration
	count       int
	windowStart time.Time
}

func (w *fixedWindow) roll(now time.Time) {
	if now.Sub(w.windowStart) >= w.window {
		w.count = 0
		w.windowStart = now
	}
}

func (w *fixedWindow) allow(now time.Time, cost int) bool {
	w.roll(now)
	if w.count+cost > w.maxRequests {
		return false
	}
	w.count += cost
	return true
}

func (w *fixedWindow) status(now time.Time) Status {
	w.roll(now)

	st := Status{
		Limited:   w.count >= w.maxRequests,
		Remaining: w.maxRequests - w.count,
		ResetTime: w.windowStart.Add(w.window),
	}
	if st.Limited {
		st.RetryAfter = w.windowStart.Add(w.window).Sub(now)
		if st.RetryAfter < 0 {
			st.RetryAfter = 0
		}
	}
	return st
}

func (w *fixedWindow) idle(now time.Time) bool {
	w.roll(now)
	return w.count == 0
}

func durationFor(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
