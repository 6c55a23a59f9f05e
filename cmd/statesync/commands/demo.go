package commands

import (
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/statesync/errors"
	"github.com/teranos/statesync/logger"
	"github.com/teranos/statesync/state"
	syncPkg "github.com/teranos/statesync/sync"
)

// DemoCmd runs two in-process peers
var DemoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run two peers in-process and watch them converge",
	Long: `Link two sync channels ("alpha" and "beta") in memory and walk through
the protocol:

  1. alpha edits its tree and beta's mirror follows via partial syncs
  2. a partial sync is dropped on the floor, leaving beta's mirror stale
  3. the verification deadline expires and a full sync repairs the mirror

Use --threshold to change how long an unverified write may stay unverified.`,
	RunE: runDemo,
}

var (
	demoThreshold time.Duration
	demoDebounce  time.Duration
)

func init() {
	DemoCmd.Flags().DurationVar(&demoThreshold, "threshold", 600*time.Millisecond, "Write resync threshold for both channels")
	DemoCmd.Flags().DurationVar(&demoDebounce, "debounce", 100*time.Millisecond, "Full-state debounce for both channels")
}

// lossyLink forwards one direction of a channel pair and can drop partials
type lossyLink struct {
	dropNext atomic.Bool
	dropped  atomic.Int64
}

func (l *lossyLink) wire(from, to *syncPkg.Channel) {
	from.OnPartialSync(func(p syncPkg.PartialSync) {
		if l.dropNext.CompareAndSwap(true, false) {
			l.dropped.Add(1)
			return
		}
		_ = to.ReceiveRemoteState(p.Diff, p.Merge)
	})
	from.OnFullSync(func(f syncPkg.FullSync) { _ = to.ReceiveRemoteState(f.State, false) })
	to.OnFingerprint(func(f syncPkg.FingerprintAnnouncement) { from.VerifyReadOnlySyncUpdateHash(f.Hash) })
}

func runDemo(cmd *cobra.Command, args []string) error {
	cfg := syncPkg.Config{WriteResyncThreshold: demoThreshold, FullStateDebounceTimeout: demoDebounce}
	log := logger.ComponentLogger("demo")

	alpha, err := syncPkg.NewChannel(syncPkg.WithID("alpha"), syncPkg.WithConfig(cfg), syncPkg.WithLogger(log))
	if err != nil {
		return err
	}
	defer alpha.Destroy()
	beta, err := syncPkg.NewChannel(syncPkg.WithID("beta"), syncPkg.WithConfig(cfg), syncPkg.WithLogger(log))
	if err != nil {
		return err
	}
	defer beta.Destroy()

	toBeta := &lossyLink{}
	toBeta.wire(alpha, beta)
	(&lossyLink{}).wire(beta, alpha)

	alpha.OnDiagnostic(func(d syncPkg.Diagnostic) {
		switch d.Kind {
		case syncPkg.DiagVerified:
			pterm.Success.Printfln("alpha: %s", d.Detail)
		case syncPkg.DiagMismatch, syncPkg.DiagStaleMismatchSkipped:
			pterm.Info.Printfln("alpha: %s %s", d.Kind, d.Detail)
		default:
			pterm.Warning.Printfln("alpha: %s %s", d.Kind, d.Detail)
		}
	})

	pterm.DefaultHeader.WithFullWidth().Println("statesync demo")

	pterm.DefaultSection.Println("1. alpha edits, beta mirrors")
	if err := alpha.Writable().Merge(state.Map{
		"title":  "shopping",
		"items":  state.Map{"milk": 1, "bread": 2},
		"shared": true,
	}); err != nil {
		return err
	}
	if err := alpha.Writable().Merge(state.Map{"items": state.Map{"eggs": 12}}); err != nil {
		return err
	}
	showPair(cmd, alpha, beta)

	pterm.DefaultSection.Println("2. a partial sync is lost")
	toBeta.dropNext.Store(true)
	if err := alpha.Writable().Merge(state.Map{"items": state.Map{"bread": state.Absent, "butter": 1}}); err != nil {
		return err
	}
	pterm.Warning.Printfln("dropped %d partial sync(s); alpha is %s", toBeta.dropped.Load(), alpha.Phase())
	showPair(cmd, alpha, beta)

	pterm.DefaultSection.Printfln("3. waiting up to %s for the channel to repair itself", 4*demoThreshold)
	start := time.Now()
	if !waitConverged(alpha, beta, 4*demoThreshold) {
		showPair(cmd, alpha, beta)
		return errors.Newf("mirror did not converge within %s", 4*demoThreshold)
	}
	pterm.Success.Printfln("converged after %s", time.Since(start).Round(time.Millisecond))
	showPair(cmd, alpha, beta)
	return nil
}

func waitConverged(writer, reader *syncPkg.Channel, limit time.Duration) bool {
	deadline := time.Now().Add(limit)
	for time.Now().Before(deadline) {
		if writer.Writable().Hash() == reader.ReadOnly().Hash() && writer.Phase() == syncPkg.PhaseIdle {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return false
}

func showPair(cmd *cobra.Command, alpha, beta *syncPkg.Channel) {
	renderTree(cmd, "alpha writable", alpha.Writable().State(), alpha.Writable().Hash())
	renderTree(cmd, "beta mirror of alpha", beta.ReadOnly().State(), beta.ReadOnly().Hash())
}
