package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/watergrant/internal/config"
	"github.com/roach88/watergrant/internal/engine"
	"github.com/roach88/watergrant/internal/feed"
	"github.com/roach88/watergrant/internal/state"
)

// SubscribeOptions holds flags for the subscribe command.
type SubscribeOptions struct {
	*RootOptions

	// Dial allows overriding how the validator feed is opened (for testing).
	// If nil, defaults to a ZeroMQ connection to the configured validator.
	Dial func(cfg config.Config) (feed.Feed, error)
}

// NewSubscribeCommand creates the subscribe command.
func NewSubscribeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SubscribeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Run the subscriber",
		Long: `Connect to the validator, subscribe to block commits and state deltas of
the configured family, and project every block into the database.

The subscription resumes from the most recent stored blocks. On a fork the
losing branch is rolled back before the new block is applied.

Examples:
  watergrant subscribe --config watergrant.yaml
  WATERGRANT_VALIDATOR_URL=tcp://localhost:4004 watergrant subscribe --db ./grants.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubscribe(opts, cmd)
		},
	}

	return cmd
}

func runSubscribe(opts *SubscribeOptions, cmd *cobra.Command) error {
	cfg, st, err := opts.openStore()
	if err != nil {
		return err
	}
	configureLogging(cfg, opts.Verbose, cmd.ErrOrStderr())
	slog.Info("database ready", "path", cfg.Database)
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	dial := opts.Dial
	if dial == nil {
		dial = dialValidator
	}
	slog.Info("connecting to validator", "url", cfg.ValidatorURL)
	f, err := dial(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to connect to validator", err)
	}
	defer f.Close()

	eng := engine.New(st, f, state.NewDecoder(cfg.Namespace()),
		engine.WithRetryPolicy(cfg.Retry),
		engine.WithKnownBlocks(cfg.KnownBlocks),
	)

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "Listening to %s for namespace %s. Press Ctrl-C to stop.\n",
		cfg.ValidatorURL, cfg.Namespace().Prefix())

	err = eng.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "subscriber stopped", err)
	}

	slog.Info("subscriber stopped gracefully", "batches", eng.Received())
	return nil
}

func dialValidator(cfg config.Config) (feed.Feed, error) {
	return feed.Dial(cfg.ValidatorURL,
		feed.WithRequestTimeout(cfg.RequestTimeout),
		feed.WithPollInterval(cfg.ReceiveTimeout),
	)
}
