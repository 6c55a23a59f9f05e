package commands

import (
	"sort"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/statesync/am"
	"github.com/teranos/statesync/logger"
	"github.com/teranos/statesync/state"
	"github.com/teranos/statesync/version"
)

// printServeBanner shows what the server is about to host
func printServeBanner(cmd *cobra.Command, cfg *am.Config, fingerprint string) {
	out := cmd.OutOrStdout()

	rows := [][]string{
		{"name", cfg.Sync.Name},
		{"listen", "http://" + cfg.Server.Address},
		{"fingerprint", shortHash(fingerprint)},
		{"threshold", cfg.Sync.WriteResyncThreshold().String()},
		{"version", version.Get().Short()},
		{"log level", logger.Level().String()},
	}
	if cfg.Server.StateFile != "" {
		file := cfg.Server.StateFile
		if cfg.Server.WatchStateFile {
			file += " (watched)"
		}
		rows = append(rows, []string{"state file", file})
	}

	names := make([]string, 0, len(cfg.Sync.Peers))
	for name := range cfg.Sync.Peers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rows = append(rows, []string{"peer " + name, cfg.Sync.Peers[name]})
	}

	pterm.DefaultSection.WithWriter(out).Println("statesync")
	_ = pterm.DefaultTable.WithData(rows).WithWriter(out).Render()
}

// renderTree prints every leaf of m with its dotted path
func renderTree(cmd *cobra.Command, title string, m state.Map, fingerprint string) {
	out := cmd.OutOrStdout()
	pterm.DefaultSection.WithWriter(out).Printf("%s  %s\n", title, pterm.Gray(shortHash(fingerprint)))

	paths := state.Paths(m)
	if len(paths) == 0 {
		pterm.Fprintln(out, pterm.Gray("  (empty)"))
		return
	}

	rows := [][]string{{"path", "value"}}
	for _, path := range paths {
		value, _ := lookup(m, strings.Split(path, "."))
		rows = append(rows, []string{path, pterm.Sprint(value)})
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(rows).WithWriter(out).Render()
}

func lookup(m state.Map, path []string) (any, bool) {
	var cur any = m
	for _, key := range path {
		node, ok := cur.(state.Map)
		if !ok {
			return nil, false
		}
		cur, ok = node[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
