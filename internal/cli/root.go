package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/watergrant/internal/config"
	"github.com/roach88/watergrant/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	Database   string // overrides the configured database

	// Environ replaces the process environment when non-nil (for testing).
	Environ map[string]string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the watergrant CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "watergrant",
		Short: "Water-grant ledger projection",
		Long: `Projects the water-grant transaction family of a Sawtooth ledger into
a versioned SQLite database, resolving forks as blocks arrive.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Validate format flag
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")

	// Add subcommands
	cmd.AddCommand(NewSubscribeCommand(opts))
	cmd.AddCommand(NewAddressCommand(opts))
	cmd.AddCommand(NewClassifyCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewBlocksCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// loadConfig resolves the configuration and applies the --db override.
func (o *RootOptions) loadConfig() (config.Config, error) {
	var cfg config.Config
	var err error
	if o.Environ != nil {
		cfg, err = config.LoadWithEnv(o.ConfigPath, o.Environ)
	} else {
		cfg, err = config.Load(o.ConfigPath)
	}
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if o.Database != "" {
		cfg.Database = o.Database
	}
	return cfg, nil
}

// openStore loads the configuration and opens its database.
func (o *RootOptions) openStore() (config.Config, *store.Store, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return cfg, nil, err
	}
	st, err := store.Open(cfg.Database)
	if err != nil {
		return cfg, nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return cfg, st, nil
}

// openExistingStore is openStore for commands that only read: a missing
// database file is an error instead of a new empty projection.
func (o *RootOptions) openExistingStore(f *OutputFormatter) (config.Config, *store.Store, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return cfg, nil, err
	}
	if cfg.Database != ":memory:" {
		if _, err := os.Stat(cfg.Database); errors.Is(err, fs.ErrNotExist) {
			msg := fmt.Sprintf("database not found: %s", cfg.Database)
			_ = f.Error(ErrCodeNotFound, msg, nil)
			return cfg, nil, NewExitError(ExitCommandError, msg)
		}
	}
	st, err := store.Open(cfg.Database)
	if err != nil {
		return cfg, nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return cfg, st, nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   o.Verbose,
	}
}

// configureLogging installs the default slog handler. --verbose forces
// debug level.
func configureLogging(cfg config.Config, verbose bool, w io.Writer) {
	level := cfg.SlogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))
}
