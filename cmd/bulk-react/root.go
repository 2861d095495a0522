package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Sternrassler/discord-bulk-react/internal/config"
	"github.com/Sternrassler/discord-bulk-react/pkg/bulk"
	"github.com/Sternrassler/discord-bulk-react/pkg/discord"
	"github.com/Sternrassler/discord-bulk-react/pkg/logging"
	"github.com/Sternrassler/discord-bulk-react/pkg/metrics"
	"github.com/Sternrassler/discord-bulk-react/pkg/ratelimit"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// newRootCmd builds the bulk-react command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bulk-react <channel-id> <emoji>",
		Short: "React with one emoji to many messages of a Discord channel",
		Long: `bulk-react adds the same reaction to the most recent messages of a Discord
channel, newest first, one request at a time. Rate limits are waited out.

The emoji is either a unicode emoji or a custom emoji as name:id,
<:name:id> or <a:name:id>. The token is read from --token, DISCORD_TOKEN,
BULKREACT_TOKEN or a .env file, and is sent verbatim as Authorization.`,
		Example: `  bulk-react 123456789012345678 👍 --limit 50
  bulk-react 123456789012345678 party:112233445566778899 -s 998877665544332211`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			envFile, err := cmd.Flags().GetString(config.KeyEnvFile)
			if err != nil {
				return err
			}
			if err := config.LoadDotEnv(envFile); err != nil {
				return err
			}

			v, err := config.NewViper(cmd.Flags())
			if err != nil {
				return err
			}
			cfg, err := config.Load(v, args)
			if err != nil {
				return err
			}

			return run(cmd.Context(), cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.CompletionOptions.DisableDefaultCmd = true
	config.RegisterFlags(cmd.Flags())
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &config.ValidationError{Field: "flags", Reason: err.Error()}
	})

	return cmd
}

// execute runs the command with args and returns the process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	code := exitCode(err)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if code == exitUsage {
			fmt.Fprint(stderr, cmd.UsageString())
		}
	}
	return code
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var verr *config.ValidationError
	if errors.As(err, &verr) {
		return exitUsage
	}
	return exitFailure
}

// run performs one bulk reaction run with a validated configuration.
func run(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) error {
	logging.Setup(logging.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
		Output: stderr,
	})
	logger := logging.NewLogger("cli")
	logger.Debug().Stringer("config", cfg).Msg("Configuration loaded")

	if cfg.MetricsAddr != "" {
		srv, err := metrics.Serve(cfg.MetricsAddr, logging.NewLogger("metrics"))
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Close(shutdownCtx)
		}()
	}

	clientCfg := discord.DefaultConfig(cfg.Token)
	clientCfg.BaseURL = cfg.BaseURL
	clientCfg.Timeout = cfg.Timeout
	clientCfg.MaxRequestsPerSecond = cfg.MaxRequestsPerSecond

	if cfg.RedisURL != "" {
		redisClient, err := ratelimit.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		clientCfg.Tracker = ratelimit.NewTracker(redisClient, cfg.RedisKeyPrefix, logging.NewLogger("ratelimit"))
		logger.Info().Msg("Sharing rate limit backoffs through Redis")
	}

	client, err := discord.New(clientCfg)
	if err != nil {
		return err
	}

	runner, err := bulk.NewRunner(client, client, nil, bulk.Config{
		ChannelID:       cfg.ChannelID,
		Emoji:           cfg.Emoji,
		Limit:           cfg.Limit,
		StartingMessage: cfg.StartingMessage,
		Delay:           cfg.Delay,
	})
	if err != nil {
		return err
	}

	result, err := runner.Run(ctx)
	if err != nil {
		logResumeHint(cfg, result, err)
		return err
	}

	if result.Exhausted {
		fmt.Fprintf(stdout, "Reacted to %d of %d message(s); the channel has no older messages.\n", result.Applied, cfg.Limit)
	} else {
		fmt.Fprintf(stdout, "Reacted to %d message(s).\n", result.Applied)
	}
	return nil
}

// logResumeHint tells the user how to continue after a failed run. The last
// reacted message is repeated; reacting twice has no effect.
func logResumeHint(cfg *config.Config, result bulk.Result, err error) {
	logger := logging.NewLogger("cli")

	if errors.Is(err, discord.ErrContextCancelled) {
		logger.Warn().Int("applied", result.Applied).Msg("Run interrupted")
	}
	if result.Cursor == nil {
		logger.Error().Err(err).Msg("Run failed before any reaction was applied")
		return
	}

	logger.Error().
		Err(err).
		Int("applied", result.Applied).
		Str("last_message_id", result.Cursor.String()).
		Msgf("Run stopped; resume with --starting-message %s --limit %d",
			result.Cursor, cfg.Limit-result.Applied+1)
}
