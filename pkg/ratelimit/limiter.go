package ratelimit

import (
	"golang.org/x/time/rate"
)

// NewRequestLimiter returns a client side limiter allowing rps requests per
// second with no burst. Returns nil when rps <= 0, meaning unpaced.
//
// This only spaces requests out; the 429 retry_after stays authoritative.
func NewRequestLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}
