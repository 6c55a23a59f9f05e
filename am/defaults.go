package am

import (
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Sync protocol defaults
	v.SetDefault("sync.name", "")
	v.SetDefault("sync.write_resync_threshold_ms", DefaultWriteResyncThresholdMS)
	v.SetDefault("sync.full_state_debounce_ms", DefaultFullStateDebounceMS)
	v.SetDefault("sync.heartbeat_interval_ms", 0) // falls back to the threshold
	v.SetDefault("sync.max_inbound_per_second", DefaultMaxInboundPerSecond)
	v.SetDefault("sync.inbound_burst", DefaultInboundBurst)

	// Server configuration defaults
	v.SetDefault("server.address", DefaultServerAddress)
	v.SetDefault("server.state_file", "")
	v.SetDefault("server.watch_state_file", false)
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"https://localhost",
		"http://127.0.0.1",
		"https://127.0.0.1",
	})

	v.SetDefault("log.json", false)
}

// DefaultConfig returns the configuration built from defaults alone
func DefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadWithViper(v)
	if err != nil {
		// Defaults always unmarshal
		panic(err)
	}
	return cfg
}
