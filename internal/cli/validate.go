package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/watergrant/internal/config"
)

// ConfigView is the resolved configuration as the validate command prints
// it.
type ConfigView struct {
	ValidatorURL   string  `json:"validator_url"`
	Database       string  `json:"database"`
	Family         string  `json:"family"`
	Namespace      string  `json:"namespace"`
	KnownBlocks    int     `json:"known_blocks"`
	ReceiveTimeout string  `json:"receive_timeout"`
	RequestTimeout string  `json:"request_timeout"`
	LogLevel       string  `json:"log_level"`
	RetryAttempts  uint    `json:"retry_max_attempts"`
	RetryDelay     string  `json:"retry_initial_delay"`
	RetryFactor    float64 `json:"retry_multiplier"`
	RetryMaxDelay  string  `json:"retry_max_delay"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and print the resolved settings",
		Long: `Resolve the configuration from defaults, the --config file and WATERGRANT_*
environment variables, check it against the schema, and print the result.

Examples:
  watergrant validate --config watergrant.yaml
  WATERGRANT_RETRY_MAX_ATTEMPTS=0 watergrant validate`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
		return err
	}
	formatter.VerboseLog("config file: %q", opts.ConfigPath)

	view := newConfigView(cfg)
	if formatter.JSON() {
		return formatter.Success(view)
	}

	w := formatter.Writer
	fmt.Fprintln(w, "✓ Configuration valid")
	fmt.Fprintf(w, "  validator_url:   %s\n", view.ValidatorURL)
	fmt.Fprintf(w, "  database:        %s\n", view.Database)
	fmt.Fprintf(w, "  family:          %s (%s)\n", view.Family, view.Namespace)
	fmt.Fprintf(w, "  known_blocks:    %d\n", view.KnownBlocks)
	fmt.Fprintf(w, "  receive_timeout: %s\n", view.ReceiveTimeout)
	fmt.Fprintf(w, "  request_timeout: %s\n", view.RequestTimeout)
	fmt.Fprintf(w, "  log_level:       %s\n", view.LogLevel)
	fmt.Fprintf(w, "  retry:           %d attempts, %s initial delay, x%v, max %s\n",
		view.RetryAttempts, view.RetryDelay, view.RetryFactor, view.RetryMaxDelay)
	return nil
}

func newConfigView(cfg config.Config) ConfigView {
	return ConfigView{
		ValidatorURL:   cfg.ValidatorURL,
		Database:       cfg.Database,
		Family:         cfg.Family,
		Namespace:      cfg.Namespace().Prefix(),
		KnownBlocks:    cfg.KnownBlocks,
		ReceiveTimeout: cfg.ReceiveTimeout.String(),
		RequestTimeout: cfg.RequestTimeout.String(),
		LogLevel:       cfg.LogLevel,
		RetryAttempts:  cfg.Retry.MaxAttempts,
		RetryDelay:     cfg.Retry.InitialDelay.String(),
		RetryFactor:    cfg.Retry.Multiplier,
		RetryMaxDelay:  cfg.Retry.MaxDelay.String(),
	}
}
