package cli

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/watergrant/internal/address"
)

// AddressResult is the output of the address and classify commands.
type AddressResult struct {
	Family    string `json:"family"`
	Namespace string `json:"namespace"`
	Kind      string `json:"kind"`
	Key       string `json:"key,omitempty"`
	Address   string `json:"address"`
}

// NewAddressCommand creates the address command.
func NewAddressCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "address <admin|user|sensor> <key>",
		Short: "Print the state address of an entity",
		Long: `Print the 70 hex character state address of an admin or user public key,
or of a sensor id, in the configured family's namespace.

Examples:
  watergrant address user 02a1b2c3
  watergrant address sensor S-001 --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAddress(rootOpts, args[0], args[1], cmd)
		},
	}

	return cmd
}

func runAddress(opts *RootOptions, kindArg, key string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	kind, err := address.ParseKind(kindArg)
	if err != nil {
		_ = formatter.Error(ErrCodeArgument, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid kind", err)
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	ns := cfg.Namespace()

	result := AddressResult{
		Family:    ns.Family(),
		Namespace: ns.Prefix(),
		Kind:      kind.String(),
		Key:       key,
		Address:   ns.Build(kind, key),
	}
	if formatter.JSON() {
		return formatter.Success(result)
	}
	fmt.Fprintln(formatter.Writer, result.Address)
	return nil
}

// NewClassifyCommand creates the classify command.
func NewClassifyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify <address>",
		Short: "Print the entity kind an address holds",
		Long: `Print admin, user or sensor for an address in the configured family's
namespace, and foreign for any other address.

Examples:
  watergrant classify fdb1b801...`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClassify(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runClassify(opts *RootOptions, addr string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	if err := checkAddress(addr); err != nil {
		_ = formatter.Error(ErrCodeArgument, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid address", err)
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	ns := cfg.Namespace()

	result := AddressResult{
		Family:    ns.Family(),
		Namespace: ns.Prefix(),
		Kind:      ns.Classify(addr).String(),
		Address:   addr,
	}
	if formatter.JSON() {
		return formatter.Success(result)
	}
	fmt.Fprintln(formatter.Writer, result.Kind)
	return nil
}

func checkAddress(addr string) error {
	if len(addr) != address.Length {
		return fmt.Errorf("address must be %d hex characters, got %d", address.Length, len(addr))
	}
	if _, err := hex.DecodeString(addr); err != nil {
		return fmt.Errorf("address is not hex: %w", err)
	}
	return nil
}
