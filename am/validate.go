package am

import (
	"net"

	"github.com/teranos/statesync/errors"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Sync timings mirror what the channel itself accepts
	if c.Sync.WriteResyncThresholdMS <= 0 {
		return errors.NewInvalidConfigurationError("sync.write_resync_threshold_ms must be > 0, got %d", c.Sync.WriteResyncThresholdMS)
	}
	if c.Sync.FullStateDebounceMS <= 0 {
		return errors.NewInvalidConfigurationError("sync.full_state_debounce_ms must be > 0, got %d", c.Sync.FullStateDebounceMS)
	}
	if c.Sync.FullStateDebounceMS >= c.Sync.WriteResyncThresholdMS {
		return errors.NewInvalidConfigurationError("sync.full_state_debounce_ms (%d) must be below sync.write_resync_threshold_ms (%d)",
			c.Sync.FullStateDebounceMS, c.Sync.WriteResyncThresholdMS)
	}

	// Heartbeat: 0 = follow the threshold, negative = invalid
	if c.Sync.HeartbeatIntervalMS < 0 {
		return errors.NewInvalidConfigurationError("sync.heartbeat_interval_ms must be >= 0, got %d", c.Sync.HeartbeatIntervalMS)
	}

	// Inbound rate: 0 = unlimited, negative = invalid
	if c.Sync.MaxInboundPerSecond < 0 {
		return errors.NewInvalidConfigurationError("sync.max_inbound_per_second must be >= 0, got %f", c.Sync.MaxInboundPerSecond)
	}
	if c.Sync.MaxInboundPerSecond > 0 && c.Sync.InboundBurst <= 0 {
		return errors.NewInvalidConfigurationError("sync.inbound_burst must be > 0 when a rate is set, got %d", c.Sync.InboundBurst)
	}

	for name, url := range c.Sync.Peers {
		if url == "" {
			return errors.NewInvalidConfigurationError("sync.peers.%s has an empty url", name)
		}
	}

	if _, _, err := net.SplitHostPort(c.Server.Address); err != nil {
		return errors.Wrap(errors.NewInvalidConfigurationError("server.address %q is not host:port", c.Server.Address), err.Error())
	}

	if c.Server.WatchStateFile && c.Server.StateFile == "" {
		return errors.NewInvalidConfigurationError("server.watch_state_file requires server.state_file")
	}

	return nil
}
