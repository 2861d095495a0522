// Package ratelimit handles Discord's dynamic rate limits: converting the
// in-band retry_after signal into waits, reading bucket headers, and sharing
// an active 429 backoff between processes that drive the same token.
package ratelimit

import (
	"time"
)

// Redis key suffix for the shared backoff state. The full key is
// "<prefix>:rate_limit:blocked".
const redisKeyBlocked = "rate_limit:blocked"

// DefaultKeyPrefix namespaces shared state when no prefix is configured.
const DefaultKeyPrefix = "bulkreact"

// BackoffState is the 429 backoff shared through Redis.
type BackoffState struct {
	// BlockedUntil is when the most recent 429 wait ends.
	BlockedUntil time.Time `json:"blocked_until"`

	// RetryAfter is the wait the server announced, kept for diagnostics.
	RetryAfter time.Duration `json:"retry_after"`

	// Global reports whether the 429 was the token-wide limit.
	Global bool `json:"global"`

	// Owner identifies the process that recorded the backoff.
	Owner string `json:"owner"`

	// LastUpdate is when this state was written.
	LastUpdate time.Time `json:"last_update"`
}

// IsBlocked reports whether the backoff is still in effect at now.
func (s *BackoffState) IsBlocked(now time.Time) bool {
	return s.BlockedUntil.After(now)
}

// TimeUntilUnblocked returns the remaining wait. Returns 0 once the backoff
// has passed.
func (s *BackoffState) TimeUntilUnblocked(now time.Time) time.Duration {
	d := s.BlockedUntil.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// BucketState is the informational rate limit state Discord reports on every
// response through X-RateLimit-* headers.
type BucketState struct {
	Bucket     string
	Limit      int
	Remaining  int
	ResetAfter time.Duration
	Global     bool
	Scope      string
}

// Exhausted reports whether the next request in this bucket is likely to 429.
func (b BucketState) Exhausted() bool {
	return b.Remaining == 0
}
