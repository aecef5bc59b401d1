package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fedid",
		Short: "Federated hashed 3PID lookup service",
		Long: `Serves the Matrix identity service v2 hashed lookup API for local users
and for identifiers pushed by trusted federation peers.

Server settings come from defaults, an optional JSON/TOML file (-c) and the
short flags -a -g -d -n -l -r -i -x -t -f -m -R.`,
		Args:               cobra.ArbitraryArgs,
		FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
		SilenceUsage:       true,
		RunE:               runServer,
	}

	rootCmd.AddCommand(
		runCmd(),
		migrateCmd(),
		rotatePepperCmd(),
		bindCmd(),
		unbindCmd(),
		hashCmd(),
		tokenCmd(),
	)
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
