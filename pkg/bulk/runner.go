package bulk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/discord-bulk-react/pkg/discord"
	"github.com/Sternrassler/discord-bulk-react/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for bulk runs.
var (
	actionsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bulk_actions_applied_total",
		Help: "Total reactions applied",
	})

	pagesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bulk_pages_fetched_total",
		Help: "Total message pages fetched by outcome",
	}, []string{"outcome"})

	remainingGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bulk_remaining",
		Help: "Reactions still to apply in the current run",
	})
)

// DefaultDelay is the pause after every applied reaction.
const DefaultDelay = 200 * time.Millisecond

// progressEvery controls how often progress is logged at info level.
const progressEvery = 50

// PageFetcher lists message ids newest first. discord.Client implements it.
type PageFetcher interface {
	FetchMessageIDs(ctx context.Context, channel discord.Snowflake, limit int, before *discord.Snowflake) ([]discord.Snowflake, error)
}

// Applier applies the action to one message. discord.Client implements it.
type Applier interface {
	AddReaction(ctx context.Context, channel, message discord.Snowflake, emoji string) error
}

// Config holds one run's parameters.
type Config struct {
	// ChannelID is the channel whose history is walked.
	ChannelID discord.Snowflake

	// Emoji is the normalized action descriptor.
	Emoji string

	// Limit is the most reactions to apply.
	Limit int

	// StartingMessage, when set, is reacted to first and becomes the
	// pagination boundary; it counts against Limit.
	StartingMessage *discord.Snowflake

	// Delay after every applied reaction.
	Delay time.Duration

	// PageSize caps each fetch (default and maximum discord.MaxPageSize).
	PageSize int
}

// Result summarizes a run. It is returned on failure too.
type Result struct {
	Applied int
	Pages   int
	// Cursor is the last message reacted to, nil if none was.
	Cursor *discord.Snowflake
	// Exhausted is true when the channel ran out of messages before Limit.
	Exhausted bool
	Duration  time.Duration
}

// RunError reports the failure that aborted a run and where it stopped.
type RunError struct {
	Phase   string
	Message *discord.Snowflake
	Cursor  *discord.Snowflake
	Err     error
}

// Error implements the error interface.
func (e *RunError) Error() string {
	if e.Message != nil {
		return fmt.Sprintf("%s message %s: %v", e.Phase, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Phase, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *RunError) Unwrap() error {
	return e.Err
}

// Runner applies one reaction across a channel's history, one request at a
// time.
type Runner struct {
	fetcher PageFetcher
	applier Applier
	sleeper ratelimit.Sleeper
	config  Config
	logger  zerolog.Logger
}

// state is the loop's mutable iteration state, owned by a single Run.
type state struct {
	remaining int
	// cursor is the "before" boundary for the next fetch.
	cursor *discord.Snowflake
}

// NewRunner creates a runner. A nil sleeper uses ratelimit.DefaultSleeper.
func NewRunner(fetcher PageFetcher, applier Applier, sleeper ratelimit.Sleeper, cfg Config) (*Runner, error) {
	if fetcher == nil || applier == nil {
		return nil, errors.New("fetcher and applier are required")
	}
	if cfg.ChannelID == 0 {
		return nil, discord.ErrZeroSnowflake
	}
	if cfg.Emoji == "" {
		return nil, discord.ErrEmptyEmoji
	}
	if cfg.Limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0 (got %d)", cfg.Limit)
	}
	if cfg.StartingMessage != nil && *cfg.StartingMessage == 0 {
		return nil, discord.ErrZeroSnowflake
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	if cfg.PageSize <= 0 || cfg.PageSize > discord.MaxPageSize {
		cfg.PageSize = discord.MaxPageSize
	}
	if sleeper == nil {
		sleeper = ratelimit.DefaultSleeper
	}

	return &Runner{
		fetcher: fetcher,
		applier: applier,
		sleeper: sleeper,
		config:  cfg,
		logger:  log.With().Str("component", "bulk-runner").Logger(),
	}, nil
}

// Run walks the history until Limit reactions are applied or the channel is
// exhausted. The first failure aborts the run.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	st := &state{remaining: r.config.Limit}
	res := Result{}
	remainingGauge.Set(float64(st.remaining))

	r.logger.Info().
		Str("channel_id", r.config.ChannelID.String()).
		Str("emoji", r.config.Emoji).
		Int("limit", r.config.Limit).
		Msg("Starting bulk reaction run")

	finish := func(err error) (Result, error) {
		res.Duration = time.Since(start)
		return res, err
	}

	if r.config.StartingMessage != nil {
		if err := r.applyAndAdvance(ctx, st, &res, *r.config.StartingMessage, "seed"); err != nil {
			return finish(err)
		}
	}

	for st.remaining > 0 {
		pageSize := min(st.remaining, r.config.PageSize)
		before := st.cursor
		st.cursor = nil

		ids, err := r.fetcher.FetchMessageIDs(ctx, r.config.ChannelID, pageSize, before)
		if err != nil {
			pagesFetched.WithLabelValues("error").Inc()
			return finish(&RunError{Phase: "fetch page", Message: before, Cursor: res.Cursor, Err: err})
		}
		res.Pages++

		logEvent := r.logger.Info().
			Int("page_size", pageSize).
			Int("received", len(ids)).
			Int("remaining", st.remaining)
		if before != nil {
			logEvent = logEvent.Str("before", before.String())
		}
		logEvent.Msg("Fetched message page")

		if len(ids) == 0 {
			pagesFetched.WithLabelValues("empty").Inc()
			res.Exhausted = true
			r.logger.Info().
				Int("remaining", st.remaining).
				Msg("No more messages in channel, stopping early")
			break
		}
		pagesFetched.WithLabelValues("ok").Inc()

		for _, id := range ids {
			if st.remaining == 0 {
				break
			}
			if err := r.applyAndAdvance(ctx, st, &res, id, "apply reaction to"); err != nil {
				return finish(err)
			}
		}
	}

	r.logger.Info().
		Int("applied", res.Applied).
		Int("pages", res.Pages).
		Bool("exhausted", res.Exhausted).
		Dur("duration", time.Since(start)).
		Msg("Bulk reaction run complete")

	return finish(nil)
}

// applyAndAdvance reacts to one message, then moves the cursor, decrements
// the remaining count and waits the fixed delay.
func (r *Runner) applyAndAdvance(ctx context.Context, st *state, res *Result, id discord.Snowflake, phase string) error {
	if err := r.applier.AddReaction(ctx, r.config.ChannelID, id, r.config.Emoji); err != nil {
		return &RunError{Phase: phase, Message: &id, Cursor: res.Cursor, Err: err}
	}

	st.cursor = &id
	st.remaining--
	res.Applied++
	res.Cursor = &id
	actionsApplied.Inc()
	remainingGauge.Set(float64(st.remaining))

	r.logger.Debug().
		Str("message_id", id.String()).
		Int("remaining", st.remaining).
		Msg("Reaction applied")
	if res.Applied%progressEvery == 0 {
		r.logger.Info().
			Int("applied", res.Applied).
			Int("limit", r.config.Limit).
			Msg("Progress")
	}

	if err := r.sleeper.Sleep(ctx, r.config.Delay); err != nil {
		return &RunError{Phase: "pace after", Message: &id, Cursor: res.Cursor, Err: err}
	}
	return nil
}
