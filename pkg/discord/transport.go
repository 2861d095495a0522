package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Sternrassler/discord-bulk-react/pkg/ratelimit"
	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for Discord requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "discord_requests_total",
		Help: "Total Discord requests by route and status",
	}, []string{"route", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "discord_request_duration_seconds",
		Help:    "Discord request duration in seconds by route",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"route"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "discord_errors_total",
		Help: "Total Discord request failures by class",
	}, []string{"class"})

	rateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "discord_rate_limited_total",
		Help: "Total 429 responses by scope",
	}, []string{"scope"})

	rateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "discord_rate_limit_wait_seconds",
		Help:    "Wait durations announced by 429 responses",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	})
)

// RequestBuilder produces a fresh request each time it is called. The
// transport calls it once per attempt, so a retried request is rebuilt rather
// than resent.
type RequestBuilder func() *resty.Request

// rateLimitBody is the JSON body of a 429 response.
type rateLimitBody struct {
	RetryAfter *float64 `json:"retry_after"`
	Global     bool     `json:"global"`
	Message    string   `json:"message"`
}

// Transport sends requests one at a time and absorbs 429 responses by
// sleeping for the announced retry_after and retrying without limit.
type Transport struct {
	http    *resty.Client
	sleeper ratelimit.Sleeper
	tracker *ratelimit.Tracker
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewRequest returns an unsent request for method and a route template such
// as "/channels/{channel}/messages".
func (t *Transport) NewRequest(method, route string) *resty.Request {
	req := t.http.R()
	req.Method = method
	req.URL = route
	return req
}

// Do sends the request produced by build and returns the first response that
// is not a 429. Non-429 4xx/5xx responses fail with *APIError without retry.
func (t *Transport) Do(ctx context.Context, build RequestBuilder) (*resty.Response, error) {
	for attempt := 1; ; attempt++ {
		if err := t.beforeSend(ctx); err != nil {
			return nil, err
		}

		req := build().SetContext(ctx)
		// resty substitutes path params into URL on send; capture the template first.
		route := req.Method + " " + req.URL

		t.logger.Debug().
			Str("route", route).
			Int("attempt", attempt).
			Msg("Sending Discord request")

		start := time.Now()
		resp, err := req.Send()
		requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())

		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
			}
			errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			requestsTotal.WithLabelValues(route, "network_error").Inc()
			t.logger.Error().Err(err).Str("route", route).Msg("HTTP request failed")
			return nil, &TransportError{Route: route, Err: err}
		}

		status := resp.StatusCode()
		requestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
		t.observeBucket(resp.Header())

		errClass := classifyStatus(status)
		if shouldRetry(errClass) {
			wait, global, err := t.parseRateLimit(resp)
			if err != nil {
				errorsTotal.WithLabelValues(string(ErrorClassProtocol)).Inc()
				return nil, err
			}
			if err := t.backoff(ctx, route, attempt, wait, global); err != nil {
				return nil, err
			}
			continue
		}

		if errClass != "" {
			errorsTotal.WithLabelValues(string(errClass)).Inc()
			apiErr := newAPIError(route, status, resp.Status(), resp.Body())
			t.logger.Warn().
				Str("route", route).
				Int("status_code", status).
				Str("error_class", string(errClass)).
				Msg("Discord request error")
			return nil, apiErr
		}

		return resp, nil
	}
}

// beforeSend applies the optional pacing and shared backoff gates.
func (t *Transport) beforeSend(ctx context.Context) error {
	if t.tracker != nil {
		if err := t.tracker.Wait(ctx, t.sleeper); err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
			}
			// Shared state is advisory.
			t.logger.Warn().Err(err).Msg("Shared backoff check failed")
		}
	}

	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}
	}
	return nil
}

// parseRateLimit decodes a 429 body into a wait duration.
func (t *Transport) parseRateLimit(resp *resty.Response) (time.Duration, bool, error) {
	var body rateLimitBody
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return 0, false, &ProtocolError{Op: "decode rate limit response", Err: err}
	}
	if body.RetryAfter == nil {
		return 0, false, &ProtocolError{
			Op:  "decode rate limit response",
			Err: errors.New("retry_after missing"),
		}
	}
	return ratelimit.RetryAfterDuration(*body.RetryAfter), body.Global, nil
}

// backoff records and sleeps through one 429 wait.
func (t *Transport) backoff(ctx context.Context, route string, attempt int, wait time.Duration, global bool) error {
	scope := "route"
	if global {
		scope = "global"
	}
	rateLimitedTotal.WithLabelValues(scope).Inc()
	rateLimitWaitSeconds.Observe(wait.Seconds())

	t.logger.Warn().
		Str("route", route).
		Int("attempt", attempt).
		Bool("global", global).
		Dur("wait", wait).
		Msgf("Rate limited, waiting %d ms", wait.Milliseconds())

	if t.tracker != nil {
		if err := t.tracker.RecordBackoff(ctx, wait, global); err != nil {
			t.logger.Warn().Err(err).Msg("Failed to publish rate limit backoff")
		}
	}

	if err := t.sleeper.Sleep(ctx, wait); err != nil {
		t.logger.Warn().
			Str("route", route).
			Msg("Context cancelled during rate limit wait")
		return fmt.Errorf("%w: %v", ErrContextCancelled, err)
	}
	return nil
}

// observeBucket logs and exports the bucket headers. They are informational:
// only the 429 body decides how long to wait.
func (t *Transport) observeBucket(h http.Header) {
	state, ok, err := ratelimit.ParseHeaders(h)
	if err != nil {
		t.logger.Debug().Err(err).Msg("Ignoring malformed rate limit headers")
		return
	}
	if !ok {
		return
	}

	ratelimit.ObserveBucket(state)
	t.logger.Debug().
		Str("bucket", state.Bucket).
		Int("remaining", state.Remaining).
		Dur("reset_after", state.ResetAfter).
		Msg("Rate limit bucket state")
}
