package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/statesync/am"
	"github.com/teranos/statesync/errors"
	"github.com/teranos/statesync/logger"
	"github.com/teranos/statesync/server"
	"github.com/teranos/statesync/state"
	"github.com/teranos/statesync/statefile"
	syncPkg "github.com/teranos/statesync/sync"
)

// ConnectCmd mirrors a remote peer
var ConnectCmd = &cobra.Command{
	Use:   "connect <peer-url>",
	Short: "Mirror a remote peer's state tree",
	Long: `Open a sync session with a running 'statesync serve' and print the
remote tree every time it changes.

The local side offers its own writable tree too, seeded from --state-file, so
the remote peer mirrors it in return.

Examples:
  statesync connect http://127.0.0.1:8797
  statesync connect ws://phone.local:8797 --state-file mine.json --name laptop`,
	Args: cobra.ExactArgs(1),
	RunE: runConnect,
}

var (
	connectStateFile string
	connectName      string
	connectQuiet     bool
)

func init() {
	ConnectCmd.Flags().StringVar(&connectStateFile, "state-file", "", "JSON file seeding the local writable tree")
	ConnectCmd.Flags().StringVar(&connectName, "name", "", "Name announced to the peer (overrides sync.name)")
	ConnectCmd.Flags().BoolVarP(&connectQuiet, "quiet", "q", false, "Do not print the mirrored tree on every change")
}

func runConnect(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	initial := state.Map{}
	if connectStateFile != "" {
		initial, err = statefile.Load(connectStateFile)
		if err != nil {
			return err
		}
	}
	writable, err := state.NewStore(initial)
	if err != nil {
		return err
	}

	log := logger.ComponentLogger("connect")
	channel, err := syncPkg.NewChannel(
		syncPkg.WithWritable(writable),
		syncPkg.WithConfig(channelConfig(&cfg.Sync)),
		syncPkg.WithLogger(log),
	)
	if err != nil {
		return err
	}
	defer channel.Destroy()

	if !connectQuiet {
		mirror := channel.ReadOnly()
		mirror.OnChange(func(state.Change) {
			renderTree(cmd, "remote", mirror.State(), mirror.Hash())
		})
	}
	channel.OnDiagnostic(func(d syncPkg.Diagnostic) {
		switch d.Kind {
		case syncPkg.DiagDivergenceTimeout, syncPkg.DiagFullSync:
			pterm.Warning.Printfln("%s: %s", d.Kind, d.Detail)
		}
	})

	name := connectName
	if name == "" {
		name = cfg.Sync.Name
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pterm.Info.Printfln("Connecting to %s", args[0])
	err = server.Connect(ctx, args[0], channel, log,
		syncPkg.WithName(name),
		syncPkg.WithRateLimit(cfg.Sync.MaxInboundPerSecond, cfg.Sync.InboundBurst),
	)
	if ctx.Err() != nil {
		pterm.Info.Println("Disconnected")
		return nil
	}
	return err
}

// channelConfig converts the [sync] section into channel timings
func channelConfig(c *am.SyncConfig) syncPkg.Config {
	return syncPkg.Config{
		WriteResyncThreshold:     c.WriteResyncThreshold(),
		FullStateDebounceTimeout: c.FullStateDebounce(),
		HeartbeatInterval:        c.HeartbeatInterval(),
	}
}
