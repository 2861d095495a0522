package bulk

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Sternrassler/discord-bulk-react/pkg/discord"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fetchCall records one FetchMessageIDs call.
type fetchCall struct {
	limit  int
	before *discord.Snowflake
}

// fakeChannel serves a newest-first history and records every call.
type fakeChannel struct {
	history []discord.Snowflake

	fetches []fetchCall
	applied []discord.Snowflake
	events  []string

	fetchErr    error
	failApplyOn discord.Snowflake
	applyErr    error
	overDeliver int
}

func newFakeChannel(n int) *fakeChannel {
	// ids n..1, newest first
	history := make([]discord.Snowflake, 0, n)
	for i := n; i >= 1; i-- {
		history = append(history, discord.Snowflake(1000+i))
	}
	return &fakeChannel{history: history}
}

func (f *fakeChannel) FetchMessageIDs(_ context.Context, _ discord.Snowflake, limit int, before *discord.Snowflake) ([]discord.Snowflake, error) {
	var b *discord.Snowflake
	if before != nil {
		v := *before
		b = &v
	}
	f.fetches = append(f.fetches, fetchCall{limit: limit, before: b})
	f.events = append(f.events, "fetch")

	if f.fetchErr != nil {
		return nil, f.fetchErr
	}

	var page []discord.Snowflake
	for _, id := range f.history {
		if before != nil && id >= *before {
			continue
		}
		page = append(page, id)
		if len(page) == limit+f.overDeliver {
			break
		}
	}
	return page, nil
}

func (f *fakeChannel) AddReaction(_ context.Context, _, message discord.Snowflake, _ string) error {
	f.events = append(f.events, "apply")
	if f.applyErr != nil && message == f.failApplyOn {
		return f.applyErr
	}
	f.applied = append(f.applied, message)
	return nil
}

// fakeSleeper records pacing delays.
type fakeSleeper struct {
	channel *fakeChannel
	waits   []time.Duration
	err     error
}

func (s *fakeSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	if s.channel != nil {
		s.channel.events = append(s.channel.events, "sleep")
	}
	return s.err
}

func snowflakePtr(v uint64) *discord.Snowflake {
	s := discord.Snowflake(v)
	return &s
}

func newTestRunner(t *testing.T, ch *fakeChannel, sleeper *fakeSleeper, cfg Config) *Runner {
	t.Helper()
	if cfg.ChannelID == 0 {
		cfg.ChannelID = 42
	}
	if cfg.Emoji == "" {
		cfg.Emoji = "👍"
	}
	if cfg.Delay == 0 {
		cfg.Delay = DefaultDelay
	}
	r, err := NewRunner(ch, ch, sleeper, cfg)
	require.NoError(t, err)
	return r
}

func TestNewRunner_Validation(t *testing.T) {
	ch := newFakeChannel(1)

	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero channel", Config{Emoji: "x", Limit: 1}},
		{"empty emoji", Config{ChannelID: 1, Limit: 1}},
		{"zero limit", Config{ChannelID: 1, Emoji: "x"}},
		{"negative limit", Config{ChannelID: 1, Emoji: "x", Limit: -3}},
		{"zero starting message", Config{ChannelID: 1, Emoji: "x", Limit: 1, StartingMessage: snowflakePtr(0)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRunner(ch, ch, nil, tt.cfg)
			assert.Error(t, err)
		})
	}

	_, err := NewRunner(nil, ch, nil, Config{ChannelID: 1, Emoji: "x", Limit: 1})
	assert.Error(t, err)
}

func TestRun_SinglePage(t *testing.T) {
	ch := newFakeChannel(20)
	sleeper := &fakeSleeper{}
	r := newTestRunner(t, ch, sleeper, Config{Limit: 7})

	res, err := r.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, ch.fetches, 1)
	assert.Equal(t, 7, ch.fetches[0].limit)
	assert.Nil(t, ch.fetches[0].before)

	assert.Equal(t, ch.history[:7], ch.applied)
	assert.Len(t, sleeper.waits, 7)
	for _, w := range sleeper.waits {
		assert.Equal(t, DefaultDelay, w)
	}

	assert.Equal(t, 7, res.Applied)
	assert.Equal(t, 1, res.Pages)
	assert.False(t, res.Exhausted)
	require.NotNil(t, res.Cursor)
	assert.Equal(t, ch.history[6], *res.Cursor)
}

func TestRun_MultiPage(t *testing.T) {
	ch := newFakeChannel(300)
	r := newTestRunner(t, ch, &fakeSleeper{}, Config{Limit: 150})

	res, err := r.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, ch.fetches, 2)
	assert.Equal(t, 100, ch.fetches[0].limit)
	assert.Nil(t, ch.fetches[0].before)
	assert.Equal(t, 50, ch.fetches[1].limit)
	require.NotNil(t, ch.fetches[1].before)
	assert.Equal(t, ch.applied[99], *ch.fetches[1].before)

	assert.Equal(t, ch.history[:150], ch.applied)
	assert.Equal(t, 150, res.Applied)
	assert.Equal(t, 2, res.Pages)
}

func TestRun_StartingMessageOnly(t *testing.T) {
	ch := newFakeChannel(10)
	sleeper := &fakeSleeper{}
	r := newTestRunner(t, ch, sleeper, Config{Limit: 1, StartingMessage: snowflakePtr(5000)})

	res, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, ch.fetches)
	assert.Equal(t, []discord.Snowflake{5000}, ch.applied)
	assert.Len(t, sleeper.waits, 1)
	assert.Equal(t, 1, res.Applied)
	assert.Equal(t, 0, res.Pages)
}

func TestRun_StartingMessageSeedsCursor(t *testing.T) {
	ch := newFakeChannel(10) // ids 1010..1001
	r := newTestRunner(t, ch, &fakeSleeper{}, Config{Limit: 4, StartingMessage: snowflakePtr(1008)})

	_, err := r.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, ch.fetches, 1)
	assert.Equal(t, 3, ch.fetches[0].limit)
	require.NotNil(t, ch.fetches[0].before)
	assert.Equal(t, discord.Snowflake(1008), *ch.fetches[0].before)
	assert.Equal(t, []discord.Snowflake{1008, 1007, 1006, 1005}, ch.applied)
}

func TestRun_CursorFollowsLastApplied(t *testing.T) {
	ch := newFakeChannel(1000)
	r := newTestRunner(t, ch, &fakeSleeper{}, Config{Limit: 275, PageSize: 100})

	_, err := r.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, ch.fetches, 3)
	assert.Equal(t, []int{100, 100, 75}, []int{ch.fetches[0].limit, ch.fetches[1].limit, ch.fetches[2].limit})

	applied := 0
	for i, f := range ch.fetches {
		if i == 0 {
			assert.Nil(t, f.before)
		} else {
			require.NotNil(t, f.before)
			assert.Equal(t, ch.applied[applied-1], *f.before, "fetch %d", i)
		}
		applied += f.limit
	}
}

func TestRun_CustomPageSize(t *testing.T) {
	ch := newFakeChannel(30)
	r := newTestRunner(t, ch, &fakeSleeper{}, Config{Limit: 25, PageSize: 10})

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, []int{10, 10, 5}, []int{ch.fetches[0].limit, ch.fetches[1].limit, ch.fetches[2].limit})
}

func TestRun_EmptyPageStopsEarly(t *testing.T) {
	ch := newFakeChannel(3)
	sleeper := &fakeSleeper{}
	r := newTestRunner(t, ch, sleeper, Config{Limit: 10})

	res, err := r.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, ch.fetches, 2)
	assert.Equal(t, 10, ch.fetches[0].limit)
	assert.Equal(t, 7, ch.fetches[1].limit)
	assert.Equal(t, 3, res.Applied)
	assert.True(t, res.Exhausted)
	assert.Len(t, sleeper.waits, 3)
}

func TestRun_EmptyChannel(t *testing.T) {
	ch := newFakeChannel(0)
	r := newTestRunner(t, ch, &fakeSleeper{}, Config{Limit: 5})

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, ch.fetches, 1)
	assert.Zero(t, res.Applied)
	assert.Nil(t, res.Cursor)
	assert.True(t, res.Exhausted)
}

func TestRun_IgnoresOverDelivery(t *testing.T) {
	ch := newFakeChannel(20)
	ch.overDeliver = 5
	r := newTestRunner(t, ch, &fakeSleeper{}, Config{Limit: 4})

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, res.Applied)
	assert.Len(t, ch.applied, 4)
	assert.Len(t, ch.fetches, 1)
}

func TestRun_DelayFollowsEveryAction(t *testing.T) {
	ch := newFakeChannel(5)
	sleeper := &fakeSleeper{channel: ch}
	r := newTestRunner(t, ch, sleeper, Config{Limit: 2, StartingMessage: snowflakePtr(2000)})

	_, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"apply", "sleep", "fetch", "apply", "sleep"}, ch.events)
}

func TestRun_ApplyFailureAborts(t *testing.T) {
	ch := newFakeChannel(10)
	ch.failApplyOn = 1007
	ch.applyErr = &discord.APIError{StatusCode: 403, ErrorClass: discord.ErrorClassClient, Message: "Missing Permissions"}

	r := newTestRunner(t, ch, &fakeSleeper{}, Config{Limit: 10})

	res, err := r.Run(context.Background())
	require.Error(t, err)

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, "apply reaction to", runErr.Phase)
	require.NotNil(t, runErr.Message)
	assert.Equal(t, discord.Snowflake(1007), *runErr.Message)
	require.NotNil(t, runErr.Cursor)
	assert.Equal(t, discord.Snowflake(1008), *runErr.Cursor)

	var apiErr *discord.APIError
	assert.ErrorAs(t, err, &apiErr)

	// Items after the failing one are never attempted.
	assert.Equal(t, []discord.Snowflake{1010, 1009, 1008}, ch.applied)
	assert.Equal(t, 3, res.Applied)
	assert.Contains(t, err.Error(), "apply reaction to message 1007: ")
}

func TestRun_SeedFailureAborts(t *testing.T) {
	ch := newFakeChannel(10)
	ch.failApplyOn = 9999
	ch.applyErr = errors.New("unknown message")

	r := newTestRunner(t, ch, &fakeSleeper{}, Config{Limit: 3, StartingMessage: snowflakePtr(9999)})

	_, err := r.Run(context.Background())

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, "seed", runErr.Phase)
	assert.Nil(t, runErr.Cursor)
	assert.Empty(t, ch.fetches)
}

func TestRun_FetchFailureAborts(t *testing.T) {
	ch := newFakeChannel(10)
	ch.fetchErr = &discord.ProtocolError{Op: "decode message list", Err: fmt.Errorf("bad json")}

	r := newTestRunner(t, ch, &fakeSleeper{}, Config{Limit: 3})

	res, err := r.Run(context.Background())

	var protoErr *discord.ProtocolError
	require.ErrorAs(t, err, &protoErr)
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, "fetch page", runErr.Phase)
	assert.Empty(t, ch.applied)
	assert.Zero(t, res.Pages)
}

func TestRun_CancelledDuringDelay(t *testing.T) {
	ch := newFakeChannel(10)
	sleeper := &fakeSleeper{err: context.Canceled}

	r := newTestRunner(t, ch, sleeper, Config{Limit: 5})

	res, err := r.Run(context.Background())
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.Applied)
	assert.Len(t, ch.applied, 1)
}
