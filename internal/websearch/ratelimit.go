package websearch

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter is a token bucket shared by every request to one provider. It
// is safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a limiter allowing ratePerSecond sustained requests
// and bursts of up to burst requests.
//
// Example configurations:
//   - Tavily: NewRateLimiter(5, 5)
//   - OpenAI web search: NewRateLimiter(2, 2)
func NewRateLimiter(ratePerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
	}
}

// Wait blocks until a request is allowed or the context is canceled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Allow returns true if a request is allowed without waiting.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// SetRate updates the sustained rate, e.g. after a provider reports a lower
// quota through its rate limit headers.
func (r *RateLimiter) SetRate(ratePerSecond float64) {
	r.limiter.SetLimit(rate.Limit(ratePerSecond))
}

// Limit returns the current sustained rate.
func (r *RateLimiter) Limit() float64 {
	return float64(r.limiter.Limit())
}

// Tokens returns the current number of available tokens.
func (r *RateLimiter) Tokens() float64 {
	return r.limiter.Tokens()
}
