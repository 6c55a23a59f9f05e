package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teranos/statesync/am"
	"github.com/teranos/statesync/errors"
	"github.com/teranos/statesync/logger"
	"github.com/teranos/statesync/server"
)

// ServeCmd hosts the local state tree
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Host the local state tree for peers",
	Long: `Serve the writable state tree over HTTP and WebSocket.

Routes:
  /ws/sync          Peer sessions (sync protocol)
  /api/state        GET the tree, POST a JSON object to merge (?replace=true to replace)
  /api/sync/status  Sessions, fingerprints and configured peers
  /metrics          Prometheus metrics

Peers listed under [sync.peers] in am.toml are dialed and redialed automatically.

Examples:
  statesync serve
  statesync serve --address 0.0.0.0:8797 --state-file state.json --watch
  statesync serve --name laptop --peer phone=http://phone.local:8797`,
	RunE: runServe,
}

var (
	serveAddress   string
	serveStateFile string
	serveWatch     bool
	serveName      string
	servePeers     map[string]string
)

func init() {
	ServeCmd.Flags().StringVar(&serveAddress, "address", "", "Listen address (overrides server.address)")
	ServeCmd.Flags().StringVar(&serveStateFile, "state-file", "", "JSON file seeding the state tree (overrides server.state_file)")
	ServeCmd.Flags().BoolVar(&serveWatch, "watch", false, "Replace the state tree when the state file changes")
	ServeCmd.Flags().StringVar(&serveName, "name", "", "Name announced to peers (overrides sync.name)")
	ServeCmd.Flags().StringToStringVar(&servePeers, "peer", nil, "Peer to keep connected, name=url (repeatable)")
}

func runServe(cmd *cobra.Command, args []string) error {
	loaded, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	// Flags override without touching the cached config
	cfg := *loaded
	cfg.Sync.Peers = make(map[string]string, len(loaded.Sync.Peers))
	for name, url := range loaded.Sync.Peers {
		cfg.Sync.Peers[name] = url
	}

	if serveAddress != "" {
		cfg.Server.Address = serveAddress
	}
	if serveStateFile != "" {
		cfg.Server.StateFile = serveStateFile
	}
	if cmd.Flags().Changed("watch") {
		cfg.Server.WatchStateFile = serveWatch
	}
	if serveName != "" {
		cfg.Sync.Name = serveName
	}
	for name, url := range servePeers {
		cfg.Sync.Peers[name] = url
	}
	if cfg.Sync.Name == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.Sync.Name = host
		}
	}

	srv, err := server.New(&cfg, server.WithLogger(logger.ComponentLogger("server")))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printServeBanner(cmd, &cfg, srv.Store().Hash())
	return srv.ListenAndServe(ctx)
}
