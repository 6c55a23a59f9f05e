// Package am loads the statesync configuration ("I am"): viper over TOML
// files and STATESYNC_* environment variables.
package am

import "time"

// Config represents the statesync configuration
type Config struct {
	Sync   SyncConfig   `mapstructure:"sync" toml:"sync"`
	Server ServerConfig `mapstructure:"server" toml:"server"`
	Log    LogConfig    `mapstructure:"log" toml:"log"`
}

// SyncConfig configures the convergence protocol and peer sessions
type SyncConfig struct {
	Name                   string            `mapstructure:"name" toml:"name"`                                           // advertised to peers in hello (e.g., "laptop")
	WriteResyncThresholdMS int               `mapstructure:"write_resync_threshold_ms" toml:"write_resync_threshold_ms"` // verification deadline
	FullStateDebounceMS    int               `mapstructure:"full_state_debounce_ms" toml:"full_state_debounce_ms"`       // full-sync coalescing window
	HeartbeatIntervalMS    int               `mapstructure:"heartbeat_interval_ms" toml:"heartbeat_interval_ms"`         // 0 = same as threshold
	MaxInboundPerSecond    float64           `mapstructure:"max_inbound_per_second" toml:"max_inbound_per_second"`       // 0 = unlimited
	InboundBurst           int               `mapstructure:"inbound_burst" toml:"inbound_burst"`
	Peers                  map[string]string `mapstructure:"peers" toml:"peers,omitempty"` // name = "url" (e.g., phone = "http://phone.local:8797")
}

// WriteResyncThreshold returns the verification deadline as a duration
func (s SyncConfig) WriteResyncThreshold() time.Duration {
	return time.Duration(s.WriteResyncThresholdMS) * time.Millisecond
}

// FullStateDebounce returns the full-sync debounce window as a duration
func (s SyncConfig) FullStateDebounce() time.Duration {
	return time.Duration(s.FullStateDebounceMS) * time.Millisecond
}

// HeartbeatInterval returns the fingerprint heartbeat period; zero means
// the channel falls back to the threshold.
func (s SyncConfig) HeartbeatInterval() time.Duration {
	return time.Duration(s.HeartbeatIntervalMS) * time.Millisecond
}

// ServerConfig configures the statesync HTTP and WebSocket host
type ServerConfig struct {
	Address        string   `mapstructure:"address" toml:"address"`
	StateFile      string   `mapstructure:"state_file" toml:"state_file"`             // optional JSON seed for the writable store
	WatchStateFile bool     `mapstructure:"watch_state_file" toml:"watch_state_file"` // replace the writable store when the file changes
	AllowedOrigins []string `mapstructure:"allowed_origins" toml:"allowed_origins"`
}

// LogConfig configures logging output
type LogConfig struct {
	JSON bool `mapstructure:"json" toml:"json"`
}

// Defaults
const (
	DefaultServerAddress          = "127.0.0.1:8797"
	DefaultWriteResyncThresholdMS = 8000
	DefaultFullStateDebounceMS    = 1000
	DefaultMaxInboundPerSecond    = 50.0
	DefaultInboundBurst           = 100
)

// File system constants
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)
)

// EnvPrefix prefixes every environment override, e.g. STATESYNC_SYNC_NAME
const EnvPrefix = "STATESYNC"
