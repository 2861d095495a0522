package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for shared backoff tracking.
var (
	sharedBackoffRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "discord_shared_backoff_recorded_total",
		Help: "Total number of 429 backoffs published to shared state",
	})

	sharedBackoffWaits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "discord_shared_backoff_waits_total",
		Help: "Total number of requests delayed by a backoff another process recorded",
	})
)

// Tracker shares 429 backoffs between processes using the same token.
// Progress is never shared, only the time until which requests should pause.
type Tracker struct {
	redis  *redis.Client
	key    string
	owner  string
	logger zerolog.Logger
	now    func() time.Time
}

// NewTracker creates a new shared backoff tracker.
func NewTracker(redisClient *redis.Client, keyPrefix string, logger zerolog.Logger) *Tracker {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &Tracker{
		redis:  redisClient,
		key:    keyPrefix + ":" + redisKeyBlocked,
		owner:  uuid.NewString(),
		logger: logger,
		now:    time.Now,
	}
}

// Connect opens a Redis client from a redis:// URL or a bare host:port and
// verifies it with PING.
func Connect(ctx context.Context, rawURL string) (*redis.Client, error) {
	var opts *redis.Options
	if strings.Contains(rawURL, "://") {
		parsed, err := redis.ParseURL(rawURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: rawURL}
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}
	return client, nil
}

// Owner returns the id this tracker stamps on the backoffs it records.
func (t *Tracker) Owner() string {
	return t.owner
}

// GetState retrieves the shared backoff state.
// Returns a zero (unblocked) state if nothing is recorded.
func (t *Tracker) GetState(ctx context.Context) (*BackoffState, error) {
	data, err := t.redis.Get(ctx, t.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return &BackoffState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get backoff state: %w", err)
	}

	var state BackoffState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse backoff state: %w", err)
	}
	return &state, nil
}

// RecordBackoff publishes a 429 wait. The key expires with the backoff, and a
// longer backoff already recorded by someone else is left in place.
func (t *Tracker) RecordBackoff(ctx context.Context, wait time.Duration, global bool) error {
	if wait <= 0 {
		return nil
	}

	now := t.now()
	state := BackoffState{
		BlockedUntil: now.Add(wait),
		RetryAfter:   wait,
		Global:       global,
		Owner:        t.owner,
		LastUpdate:   now,
	}

	current, err := t.GetState(ctx)
	if err != nil {
		return err
	}
	if current.BlockedUntil.After(state.BlockedUntil) {
		return nil
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal backoff state: %w", err)
	}
	if err := t.redis.Set(ctx, t.key, data, wait).Err(); err != nil {
		return fmt.Errorf("store backoff state in redis: %w", err)
	}

	sharedBackoffRecorded.Inc()
	t.logger.Debug().
		Dur("wait", wait).
		Bool("global", global).
		Time("blocked_until", state.BlockedUntil).
		Msg("Published rate limit backoff")

	return nil
}

// Wait blocks while another process's backoff is in effect. Backoffs recorded
// by this tracker are skipped: the transport already slept through them.
func (t *Tracker) Wait(ctx context.Context, sleeper Sleeper) error {
	state, err := t.GetState(ctx)
	if err != nil {
		return err
	}

	now := t.now()
	if state.Owner == t.owner || !state.IsBlocked(now) {
		return nil
	}

	wait := state.TimeUntilUnblocked(now)
	sharedBackoffWaits.Inc()
	t.logger.Warn().
		Dur("wait", wait).
		Bool("global", state.Global).
		Msg("Waiting on rate limit backoff recorded by another process")

	return sleeper.Sleep(ctx, wait)
}
