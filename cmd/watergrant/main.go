// Command watergrant projects the water-grant transaction family of a
// Sawtooth ledger into a versioned SQLite database.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/watergrant/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
