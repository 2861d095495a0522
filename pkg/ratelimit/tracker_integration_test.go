//go:build integration

package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a client
func setupRedis(t *testing.T) (*redis.Client, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client, err := Connect(ctx, endpoint)
	if err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

type recordingSleeper struct {
	waits []time.Duration
}

func (s *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return nil
}

func TestTracker_Integration_EmptyState(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	tracker := NewTracker(redisClient, "test-empty", logger)
	ctx := context.Background()

	state, err := tracker.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.IsBlocked(time.Now()) {
		t.Error("Empty state should not be blocked")
	}

	sleeper := &recordingSleeper{}
	if err := tracker.Wait(ctx, sleeper); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if len(sleeper.waits) != 0 {
		t.Errorf("Expected no waits, got %v", sleeper.waits)
	}
}

func TestTracker_Integration_SharedBackoff(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	ctx := context.Background()

	first := NewTracker(redisClient, "test-shared", logger)
	second := NewTracker(redisClient, "test-shared", logger)

	if err := first.RecordBackoff(ctx, 5*time.Second, true); err != nil {
		t.Fatalf("RecordBackoff() error = %v", err)
	}

	state, err := second.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.Owner != first.Owner() {
		t.Errorf("Owner = %q, want %q", state.Owner, first.Owner())
	}
	if !state.Global {
		t.Error("Expected global backoff")
	}

	// The recording process already slept through its own 429.
	ownSleeper := &recordingSleeper{}
	if err := first.Wait(ctx, ownSleeper); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if len(ownSleeper.waits) != 0 {
		t.Errorf("Owner should not wait on its own backoff, got %v", ownSleeper.waits)
	}

	otherSleeper := &recordingSleeper{}
	if err := second.Wait(ctx, otherSleeper); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if len(otherSleeper.waits) != 1 {
		t.Fatalf("Expected 1 wait, got %d", len(otherSleeper.waits))
	}
	if w := otherSleeper.waits[0]; w <= 0 || w > 5*time.Second {
		t.Errorf("Wait = %v, want within (0, 5s]", w)
	}
}

func TestTracker_Integration_KeepsLongerBackoff(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	ctx := context.Background()

	first := NewTracker(redisClient, "test-longer", logger)
	second := NewTracker(redisClient, "test-longer", logger)

	if err := first.RecordBackoff(ctx, 10*time.Second, false); err != nil {
		t.Fatalf("RecordBackoff() error = %v", err)
	}
	if err := second.RecordBackoff(ctx, time.Second, false); err != nil {
		t.Fatalf("RecordBackoff() error = %v", err)
	}

	state, err := first.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.Owner != first.Owner() {
		t.Error("Shorter backoff should not replace a longer one")
	}
}

func TestTracker_Integration_KeyExpires(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	tracker := NewTracker(redisClient, "test-expire", logger)
	ctx := context.Background()

	if err := tracker.RecordBackoff(ctx, 100*time.Millisecond, false); err != nil {
		t.Fatalf("RecordBackoff() error = %v", err)
	}

	time.Sleep(300 * time.Millisecond)

	exists, err := redisClient.Exists(ctx, "test-expire:"+redisKeyBlocked).Result()
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if exists != 0 {
		t.Error("Backoff key should expire with the backoff")
	}
}
