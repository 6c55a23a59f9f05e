package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/statesync/am"
	"github.com/teranos/statesync/cmd/statesync/commands"
	"github.com/teranos/statesync/errors"
	"github.com/teranos/statesync/logger"
)

var rootCmd = &cobra.Command{
	Use:   "statesync",
	Short: "statesync - converge a JSON state tree between peers",
	Long: `statesync - converge a JSON state tree between peers.

Each peer owns a writable state tree and mirrors the trees of the peers it is
connected to. Local edits travel as partial syncs; fingerprints prove the
mirrors match, and anything that drifts is repaired with a full sync.

Available commands:
  serve    - Host the local state tree for peers (HTTP + WebSocket)
  connect  - Mirror a remote peer's state tree
  demo     - Run two peers in-process and watch them converge
  am       - Manage statesync configuration ("I am")
  version  - Show build information

Examples:
  statesync serve -v                        # Serve with info logging
  statesync connect http://phone.local:8797 # Mirror a peer
  statesync demo                            # See the protocol recover from a lost message
  statesync am show --format yaml           # Show effective configuration`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")

		// A broken config must not prevent 'am validate' from reporting it
		jsonOutput := false
		if cfg, err := am.Load(); err == nil {
			jsonOutput = cfg.Log.JSON
		}

		if err := logger.InitializeWithVerbosity(jsonOutput, verbosity); err != nil {
			return errors.Wrap(err, "failed to initialize logger")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.ConnectCmd)
	rootCmd.AddCommand(commands.DemoCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
