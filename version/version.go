// Package version carries build information injected with -ldflags:
//
//	go build -ldflags "-X github.com/teranos/statesync/version.CommitHash=$(git rev-parse HEAD)"
package version

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Build information. These variables are set at build time via ldflags.
var (
	CommitHash = "dev"
	BuildTime  = "unknown"
	Version    = "dev" // semantic version, if tagged
)

// ProtocolVersion identifies the sync wire format. Peers exchange it in the
// WebSocket handshake headers; it changes only when Msg does.
const ProtocolVersion = 1

// Info contains version and build information
type Info struct {
	Version    string `json:"version" yaml:"version"`
	CommitHash string `json:"commit_hash" yaml:"commit_hash"`
	BuildTime  string `json:"build_time" yaml:"build_time"`
	Protocol   int    `json:"protocol" yaml:"protocol"`
	GoVersion  string `json:"go_version" yaml:"go_version"`
	Platform   string `json:"platform" yaml:"platform"`
}

// Get returns the current version information
func Get() Info {
	return Info{
		Version:    Version,
		CommitHash: CommitHash,
		BuildTime:  BuildTime,
		Protocol:   ProtocolVersion,
		GoVersion:  runtime.Version(),
		Platform:   runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// String returns a human-readable version string
func (i Info) String() string {
	name := "statesync dev"
	if i.Version != "dev" {
		name = "statesync " + i.Version
	}
	return fmt.Sprintf("%s (commit %s, built %s, protocol v%d)", name, i.Short(), i.BuildTime, i.Protocol)
}

// Short returns the commit hash truncated to 7 characters
func (i Info) Short() string {
	if len(i.CommitHash) >= 7 {
		return i.CommitHash[:7]
	}
	return i.CommitHash
}

// UserAgent is sent when dialing peers, e.g. "statesync/dev (abc1234)"
func (i Info) UserAgent() string {
	return fmt.Sprintf("statesync/%s (%s)", i.Version, i.Short())
}

// PeerVersion extracts the build version from a User-Agent produced by
// UserAgent. ok is false for anything else.
func PeerVersion(userAgent string) (v string, ok bool) {
	rest, found := strings.CutPrefix(userAgent, "statesync/")
	if !found {
		return "", false
	}
	v, _, _ = strings.Cut(rest, " ")
	return v, v != ""
}

// Compatible reports whether a peer build shares this build's major version.
// Untagged builds on either side are always compatible.
func Compatible(peer string) bool {
	local, err := semver.NewVersion(Version)
	if err != nil {
		return true
	}
	remote, err := semver.NewVersion(peer)
	if err != nil {
		return true
	}
	constraint, err := semver.NewConstraint(fmt.Sprintf(">= %d.0.0-0, < %d.0.0-0", local.Major(), local.Major()+1))
	if err != nil {
		return true
	}
	return constraint.Check(remote)
}
