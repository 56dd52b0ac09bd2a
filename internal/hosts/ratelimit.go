package hosts

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// defaultGitHubRate keeps us under the authenticated 5000 req/hour budget.
	defaultGitHubRate = 1.2
	// minRemaining is the reserve below which we wait for the window to reset.
	minRemaining = 50
)

// RateLimiter throttles proactively with a token bucket and reactively from
// X-RateLimit-* response headers.
type RateLimiter struct {
	bucket *rate.Limiter

	mu        sync.Mutex
	remaining int
	resetAt   time.Time
}

// NewRateLimiter allows perSecond requests per second with a burst of one.
// Non-positive rates disable proactive throttling.
func NewRateLimiter(perSecond float64) *RateLimiter {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &RateLimiter{bucket: rate.NewLimiter(limit, 1), remaining: -1}
}

// Wait blocks until a request may be sent.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if err := r.bucket.Wait(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	remaining, resetAt := r.remaining, r.resetAt
	r.mu.Unlock()

	if remaining >= 0 && remaining < minRemaining && time.Now().Before(resetAt) {
		timer := time.NewTimer(time.Until(resetAt))
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

// Observe records the quota headers of a response.
func (r *RateLimiter) Observe(resp *http.Response) {
	if resp == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if v := resp.Header.Get("X-RateLimit-Remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			r.remaining = n
		}
	}
	if v := resp.Header.Get("X-RateLimit-Reset"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			r.resetAt = time.Unix(n, 0)
		}
	}
}

// Remaining returns the last observed remaining quota, or -1 if none was observed.
func (r *RateLimiter) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remaining
}
