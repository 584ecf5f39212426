package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/watergrant/internal/address"
	"github.com/roach88/watergrant/internal/model"
	"github.com/roach88/watergrant/internal/store"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	At int64 // as-of block; -1 means the latest block
}

// QueryResult holds the rows valid at one height.
type QueryResult struct {
	Kind   string `json:"kind"`
	Height int64  `json:"height"`
	Rows   any    `json:"rows"`
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <admin|user|sensor> [key]",
		Short: "Read the projection as of a block",
		Long: `Read admins, users or sensors as they were at a block height.

Without a key every entity of the kind valid at the height is listed.
Without --at the latest stored block is used. Sensors include the owners,
locations and measurements valid at the height.

Examples:
  watergrant query user
  watergrant query user 02a1b2c3 --at 120
  watergrant query sensor S-001 --format json`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			key := ""
			if len(args) == 2 {
				key = args[1]
			}
			return runQuery(opts, args[0], key, cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.At, "at", -1, "block height to read at (default latest)")

	return cmd
}

func runQuery(opts *QueryOptions, kindArg, key string, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := opts.formatter(cmd)

	kind, err := address.ParseKind(kindArg)
	if err != nil {
		_ = formatter.Error(ErrCodeArgument, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid kind", err)
	}

	_, st, err := opts.openExistingStore(formatter)
	if err != nil {
		return err
	}
	defer st.Close()

	height := opts.At
	if height < 0 {
		height, err = st.MaxBlockNum(ctx)
		if errors.Is(err, store.ErrEmpty) {
			_ = formatter.Error(ErrCodeNotFound, "no blocks stored", nil)
			return NewExitError(ExitFailure, "no blocks stored")
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read tip", err)
		}
	}

	var rows any
	if key != "" {
		rows, err = readOne(ctx, st, kind, key, height)
	} else {
		rows, err = readAll(ctx, st, kind, height)
	}
	if errors.Is(err, sql.ErrNoRows) {
		msg := fmt.Sprintf("%s %s not found at block %d", kind, key, height)
		_ = formatter.Error(ErrCodeNotFound, msg, nil)
		return NewExitError(ExitFailure, msg)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "query failed", err)
	}

	result := QueryResult{Kind: kind.String(), Height: height, Rows: rows}
	if formatter.JSON() {
		return formatter.Success(result)
	}
	return outputQueryText(formatter, result)
}

func readOne(ctx context.Context, st *store.Store, kind address.Kind, key string, height int64) (any, error) {
	switch kind {
	case address.KindAdmin:
		a, err := st.Admin(ctx, key, height)
		return []model.AdminVersion{a}, err
	case address.KindUser:
		u, err := st.User(ctx, key, height)
		return []model.UserVersion{u}, err
	default:
		s, err := st.Sensor(ctx, key, height)
		return []model.SensorVersion{s}, err
	}
}

func readAll(ctx context.Context, st *store.Store, kind address.Kind, height int64) (any, error) {
	switch kind {
	case address.KindAdmin:
		return st.Admins(ctx, height)
	case address.KindUser:
		return st.Users(ctx, height)
	default:
		return st.Sensors(ctx, height)
	}
}

func outputQueryText(f *OutputFormatter, result QueryResult) error {
	w := f.Writer
	n := 0
	switch rows := result.Rows.(type) {
	case []model.AdminVersion:
		n = len(rows)
		for _, a := range rows {
			fmt.Fprintf(w, "%s  %q  %s\n", a.PublicKey, a.Name, interval(a.Interval))
		}
	case []model.UserVersion:
		n = len(rows)
		for _, u := range rows {
			fmt.Fprintf(w, "%s  %q  quota=%v  %s\n", u.PublicKey, u.Name, u.Quota, interval(u.Interval))
		}
	case []model.SensorVersion:
		n = len(rows)
		for _, s := range rows {
			outputSensorText(f, w, s)
		}
	}
	fmt.Fprintf(w, "%s %s(s) at block %d\n", f.Count(n), result.Kind, result.Height)
	return nil
}

func outputSensorText(f *OutputFormatter, w io.Writer, s model.SensorVersion) {
	fmt.Fprintf(w, "%s  %s\n", s.SensorID, interval(s.Interval))
	for _, o := range s.Owners {
		fmt.Fprintf(w, "  owner %s since %d\n", o.UserPublicKey, o.Timestamp)
	}
	for _, l := range s.Locations {
		fmt.Fprintf(w, "  location %d,%d at %d\n", l.Latitude, l.Longitude, l.Timestamp)
	}
	fmt.Fprintf(w, "  %s measurement(s)\n", f.Count(len(s.Measurements)))
	if f.Verbose {
		for _, m := range s.Measurements {
			fmt.Fprintf(w, "    %v at %d\n", m.Value, m.Timestamp)
		}
	}
}

// interval renders [start, end) with "open" for the current version.
func interval(iv model.Interval) string {
	end := "open"
	if !iv.IsOpen() {
		end = strconv.FormatInt(iv.End, 10)
	}
	return fmt.Sprintf("[%d, %s)", iv.Start, end)
}
