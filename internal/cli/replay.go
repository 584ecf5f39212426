package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/watergrant/internal/engine"
	"github.com/roach88/watergrant/internal/harness"
)

// ReplayResult holds the outcome of replaying a scenario into a database.
type ReplayResult struct {
	Scenario string               `json:"scenario"`
	Database string               `json:"database"`
	Pass     bool                 `json:"pass"`
	Trace    []harness.TraceEvent `json:"trace"`
	Errors   []string             `json:"errors,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <scenario.yaml>",
		Short: "Apply a scenario's blocks to a database",
		Long: `Apply the blocks of a YAML scenario to the configured database through the
same path validator events take, then check the scenario's expectations.

Use it to drill fork handling offline or to seed a database for queries.
The scenario's family defaults to the configured family.

Exit codes:
  0 - All blocks applied and expectations held
  1 - An expectation or assertion failed
  2 - Command error (scenario invalid, database not found, etc.)

Examples:
  watergrant replay --db ./drill.db fork_at_9.yaml
  watergrant replay --db ./drill.db fork_at_9.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runReplay(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		_ = formatter.Error(ErrCodeArgument, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	cfg, st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	configureLogging(cfg, opts.Verbose, formatter.GetErrWriter())

	if scenario.Family == "" {
		scenario.Family = cfg.Family
	}

	formatter.VerboseLog("replaying %s into %s", scenario.Name, cfg.Database)
	result, err := harness.Apply(context.Background(), st, scenario,
		engine.WithKnownBlocks(cfg.KnownBlocks),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "replay failed", err)
	}

	out := ReplayResult{
		Scenario: scenario.Name,
		Database: cfg.Database,
		Pass:     result.Pass,
		Trace:    result.Trace,
		Errors:   result.Errors,
	}

	if formatter.JSON() {
		if err := formatter.Success(out); err != nil {
			return err
		}
	} else {
		outputReplayText(formatter, out)
	}

	if !out.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", out.Scenario))
	}
	return nil
}

func outputReplayText(f *OutputFormatter, result ReplayResult) {
	for _, ev := range result.Trace {
		fmt.Fprintf(f.Writer, "%10d  %-12s %-9s records=%d skipped=%d\n",
			ev.BlockNum, ev.BlockID, ev.Disposition, ev.Records, ev.Skipped)
	}
	if result.Pass {
		f.Printf("✓ %s: %d block(s) applied to %s\n", result.Scenario, len(result.Trace), result.Database)
		return
	}
	f.Printf("✗ %s\n", result.Scenario)
	for _, e := range result.Errors {
		fmt.Fprintf(f.Writer, "  %s\n", e)
	}
}
