package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/watergrant/internal/model"
)

// BlocksOptions holds flags for the blocks command.
type BlocksOptions struct {
	*RootOptions
	Limit int
}

// BlocksResult lists stored blocks, highest first.
type BlocksResult struct {
	Blocks []model.Block `json:"blocks"`
}

// NewBlocksCommand creates the blocks command.
func NewBlocksCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BlocksOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "blocks",
		Short: "List the most recent stored blocks",
		Long: `List the most recent blocks of the projection, highest first. These are
the blocks the subscriber offers the validator when it resumes.

Examples:
  watergrant blocks
  watergrant blocks --limit 50 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBlocks(opts, cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 15, "number of blocks to list")

	return cmd
}

func runBlocks(opts *BlocksOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	if opts.Limit < 1 {
		msg := fmt.Sprintf("limit must be positive, got %d", opts.Limit)
		_ = formatter.Error(ErrCodeArgument, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}

	_, st, err := opts.openExistingStore(formatter)
	if err != nil {
		return err
	}
	defer st.Close()

	blocks, err := st.RecentBlocks(context.Background(), opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read blocks", err)
	}

	if formatter.JSON() {
		return formatter.Success(BlocksResult{Blocks: blocks})
	}

	if len(blocks) == 0 {
		fmt.Fprintln(formatter.Writer, "No blocks stored.")
		return nil
	}
	for _, b := range blocks {
		fmt.Fprintf(formatter.Writer, "%10d  %s\n", b.Num, b.ID)
	}
	return nil
}
