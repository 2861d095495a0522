// Package discord provides the minimal Discord REST client the bulk reactor
// needs: listing message ids and adding reactions, with every request routed
// through a transport that waits out 429 responses.
package discord

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Sternrassler/discord-bulk-react/pkg/ratelimit"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// DefaultBaseURL is the Discord REST API root.
const DefaultBaseURL = "https://discord.com/api/v9"

// DefaultUserAgent follows Discord's "DiscordBot (url, version)" convention.
const DefaultUserAgent = "DiscordBot (https://github.com/Sternrassler/discord-bulk-react, 0.1.0)"

// MaxPageSize is the most messages Discord returns for one list request.
const MaxPageSize = 100

// Client is a Discord REST client.
type Client struct {
	transport *Transport
	config    Config
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the API root, overridable for tests.
	BaseURL string

	// Token is sent verbatim as the Authorization header
	// (e.g. "Bot <token>" or a user token).
	Token string

	// UserAgent header sent with every request.
	UserAgent string

	// Timeout per HTTP request (0 keeps resty's default of none).
	Timeout time.Duration

	// MaxRequestsPerSecond spaces requests out client side. 0 disables.
	MaxRequestsPerSecond float64

	// Sleeper performs 429 waits. Defaults to ratelimit.DefaultSleeper.
	Sleeper ratelimit.Sleeper

	// Tracker shares 429 backoffs with other processes. Optional.
	Tracker *ratelimit.Tracker

	// HTTPClient overrides the underlying net/http client. Optional.
	HTTPClient *http.Client
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(token string) Config {
	return Config{
		BaseURL:   DefaultBaseURL,
		Token:     token,
		UserAgent: DefaultUserAgent,
		Timeout:   30 * time.Second,
		Sleeper:   ratelimit.DefaultSleeper,
	}
}

// New creates a new Discord client.
func New(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("token is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if cfg.MaxRequestsPerSecond < 0 {
		return nil, fmt.Errorf("max requests per second must be >= 0 (got %g)", cfg.MaxRequestsPerSecond)
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Sleeper == nil {
		cfg.Sleeper = ratelimit.DefaultSleeper
	}

	var rc *resty.Client
	if cfg.HTTPClient != nil {
		rc = resty.NewWithClient(cfg.HTTPClient)
	} else {
		rc = resty.New()
	}
	rc.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Authorization", cfg.Token).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "application/json")
	if cfg.Timeout > 0 {
		rc.SetTimeout(cfg.Timeout)
	}

	logger := log.With().Str("component", "discord-transport").Logger()

	return &Client{
		transport: &Transport{
			http:    rc,
			sleeper: cfg.Sleeper,
			tracker: cfg.Tracker,
			limiter: ratelimit.NewRequestLimiter(cfg.MaxRequestsPerSecond),
			logger:  logger,
		},
		config: cfg,
	}, nil
}

// Transport returns the throttled transport, for callers issuing requests
// this client has no method for.
func (c *Client) Transport() *Transport {
	return c.transport
}
