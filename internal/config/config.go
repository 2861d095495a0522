// Package config assembles the CLI configuration from flags, environment
// variables and an optional .env file, and validates it before any network
// activity.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/Sternrassler/discord-bulk-react/pkg/bulk"
	"github.com/Sternrassler/discord-bulk-react/pkg/discord"
	"github.com/Sternrassler/discord-bulk-react/pkg/logging"
	"github.com/Sternrassler/discord-bulk-react/pkg/ratelimit"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Limits on --limit. The engine pages, so the ceiling is policy rather than
// an API constraint.
const (
	DefaultLimit = 5
	MaxLimit     = 10000
)

// EnvPrefix prefixes every environment variable, e.g. BULKREACT_LIMIT.
const EnvPrefix = "BULKREACT"

// TokenEnv is the conventional variable holding the credential.
const TokenEnv = "DISCORD_TOKEN"

// Keys shared by flags, viper and environment variables.
const (
	KeyLimit           = "limit"
	KeyStartingMessage = "starting-message"
	KeyToken           = "token"
	KeyBaseURL         = "base-url"
	KeyDelay           = "delay"
	KeyTimeout         = "timeout"
	KeyMaxRPS          = "max-rps"
	KeyRedisURL        = "redis-url"
	KeyRedisKeyPrefix  = "redis-key-prefix"
	KeyMetricsAddr     = "metrics-addr"
	KeyLogLevel        = "log-level"
	KeyLogPretty       = "log-pretty"
	KeyEnvFile         = "env-file"
)

// ValidationError reports bad user input. It is always raised before any
// request is sent.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Config is the validated CLI configuration.
type Config struct {
	ChannelID       discord.Snowflake
	Emoji           string
	Limit           int
	StartingMessage *discord.Snowflake

	Token                string
	BaseURL              string
	Delay                time.Duration
	Timeout              time.Duration
	MaxRequestsPerSecond float64

	RedisURL       string
	RedisKeyPrefix string
	MetricsAddr    string

	LogLevel  logging.LogLevel
	LogPretty bool
}

// String renders the configuration with the token redacted.
func (c Config) String() string {
	token := "<unset>"
	if c.Token != "" {
		token = "<redacted>"
	}
	start := "<none>"
	if c.StartingMessage != nil {
		start = c.StartingMessage.String()
	}
	return fmt.Sprintf("channel=%s emoji=%s limit=%d starting_message=%s token=%s base_url=%s delay=%s",
		c.ChannelID, c.Emoji, c.Limit, start, token, c.BaseURL, c.Delay)
}

// RegisterFlags defines every flag on fs with its default.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.IntP(KeyLimit, "l", DefaultLimit, fmt.Sprintf("maximum number of messages to react to (1..%d)", MaxLimit))
	fs.StringP(KeyStartingMessage, "s", "", "message id to react to first; older messages follow")
	fs.StringP(KeyToken, "t", "", "Discord token sent as the Authorization header (env "+TokenEnv+")")
	fs.String(KeyBaseURL, discord.DefaultBaseURL, "Discord API base URL")
	fs.Duration(KeyDelay, bulk.DefaultDelay, "pause after every reaction")
	fs.Duration(KeyTimeout, 30*time.Second, "per-request HTTP timeout")
	fs.Float64(KeyMaxRPS, 0, "client side request pacing in requests per second (0 disables)")
	fs.String(KeyRedisURL, "", "Redis URL to share rate limit backoffs with other runs (optional)")
	fs.String(KeyRedisKeyPrefix, ratelimit.DefaultKeyPrefix, "Redis key prefix for shared backoff state")
	fs.String(KeyMetricsAddr, "", "address to serve Prometheus metrics on, e.g. :9090 (optional)")
	fs.String(KeyLogLevel, string(logging.LevelInfo), "log level: debug, info, warn, error")
	fs.Bool(KeyLogPretty, true, "human readable logs instead of JSON")
	fs.String(KeyEnvFile, ".env", "dotenv file to load before reading the environment")
}

// NewViper binds fs and the environment. Flags set explicitly win over
// environment variables, which win over flag defaults.
func NewViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}
	if err := v.BindEnv(KeyToken, TokenEnv, EnvPrefix+"_TOKEN"); err != nil {
		return nil, fmt.Errorf("bind token env: %w", err)
	}
	return v, nil
}

// LoadDotEnv loads path into the process environment without overriding
// variables already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return &ValidationError{Field: KeyEnvFile, Reason: err.Error()}
	}
	return nil
}

// Load validates the positional args and the values bound in v.
func Load(v *viper.Viper, args []string) (*Config, error) {
	if len(args) != 2 {
		return nil, &ValidationError{
			Field:  "arguments",
			Reason: fmt.Sprintf("expected <channel-id> <emoji>, got %d argument(s)", len(args)),
		}
	}

	cfg := &Config{}

	channelID, err := discord.ParseSnowflake(args[0])
	if err != nil {
		return nil, &ValidationError{Field: "channel-id", Reason: err.Error()}
	}
	cfg.ChannelID = channelID

	emoji, err := discord.NormalizeEmoji(args[1])
	if err != nil {
		return nil, &ValidationError{Field: "emoji", Reason: err.Error()}
	}
	cfg.Emoji = emoji

	cfg.Limit = v.GetInt(KeyLimit)
	if cfg.Limit < 1 || cfg.Limit > MaxLimit {
		return nil, &ValidationError{
			Field:  KeyLimit,
			Reason: fmt.Sprintf("must be between 1 and %d (got %d)", MaxLimit, cfg.Limit),
		}
	}

	if s := strings.TrimSpace(v.GetString(KeyStartingMessage)); s != "" {
		start, err := discord.ParseSnowflake(s)
		if err != nil {
			return nil, &ValidationError{Field: KeyStartingMessage, Reason: err.Error()}
		}
		cfg.StartingMessage = &start
	}

	cfg.Token = strings.TrimSpace(v.GetString(KeyToken))
	if cfg.Token == "" {
		return nil, &ValidationError{
			Field:  KeyToken,
			Reason: "required (use --token or set " + TokenEnv + ")",
		}
	}

	cfg.BaseURL = v.GetString(KeyBaseURL)
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &ValidationError{Field: KeyBaseURL, Reason: fmt.Sprintf("%q is not an http(s) URL", cfg.BaseURL)}
	}

	cfg.Delay = v.GetDuration(KeyDelay)
	if cfg.Delay < 0 {
		return nil, &ValidationError{Field: KeyDelay, Reason: "must not be negative"}
	}

	cfg.Timeout = v.GetDuration(KeyTimeout)
	if cfg.Timeout < 0 {
		return nil, &ValidationError{Field: KeyTimeout, Reason: "must not be negative"}
	}

	cfg.MaxRequestsPerSecond = v.GetFloat64(KeyMaxRPS)
	if cfg.MaxRequestsPerSecond < 0 {
		return nil, &ValidationError{Field: KeyMaxRPS, Reason: "must not be negative"}
	}

	cfg.RedisURL = strings.TrimSpace(v.GetString(KeyRedisURL))
	cfg.RedisKeyPrefix = v.GetString(KeyRedisKeyPrefix)
	cfg.MetricsAddr = strings.TrimSpace(v.GetString(KeyMetricsAddr))

	level, err := logging.ParseLogLevel(v.GetString(KeyLogLevel))
	if err != nil {
		return nil, &ValidationError{Field: KeyLogLevel, Reason: err.Error()}
	}
	cfg.LogLevel = level
	cfg.LogPretty = v.GetBool(KeyLogPretty)

	return cfg, nil
}
