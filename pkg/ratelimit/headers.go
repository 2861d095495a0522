package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Discord rate limit response headers.
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderResetAfter = "X-RateLimit-Reset-After"
	HeaderBucket     = "X-RateLimit-Bucket"
	HeaderGlobal     = "X-RateLimit-Global"
	HeaderScope      = "X-RateLimit-Scope"
)

var bucketRemaining = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "discord_rate_limit_bucket_remaining",
	Help: "Requests remaining in the current Discord rate limit bucket",
}, []string{"bucket"})

// ParseHeaders reads the X-RateLimit-* headers of a response. ok is false
// when the response carries no bucket information.
func ParseHeaders(h http.Header) (state BucketState, ok bool, err error) {
	remainStr := h.Get(HeaderRemaining)
	if remainStr == "" {
		return BucketState{}, false, nil
	}

	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return BucketState{}, false, fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
	}
	state.Remaining = remain

	if s := h.Get(HeaderLimit); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil {
			return BucketState{}, false, fmt.Errorf("parse %s header: %w", HeaderLimit, err)
		}
		state.Limit = limit
	}

	if s := h.Get(HeaderResetAfter); s != "" {
		secs, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return BucketState{}, false, fmt.Errorf("parse %s header: %w", HeaderResetAfter, err)
		}
		state.ResetAfter = RetryAfterDuration(secs)
	}

	state.Bucket = h.Get(HeaderBucket)
	state.Scope = h.Get(HeaderScope)
	state.Global = h.Get(HeaderGlobal) == "true"

	return state, true, nil
}

// ObserveBucket exports a bucket state as a gauge.
func ObserveBucket(state BucketState) {
	bucket := state.Bucket
	if bucket == "" {
		bucket = "unknown"
	}
	bucketRemaining.WithLabelValues(bucket).Set(float64(state.Remaining))
}
