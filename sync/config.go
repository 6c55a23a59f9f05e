package sync

import (
	"time"

	"github.com/teranos/statesync/errors"
)

// Config holds the resync timing of a Channel.
type Config struct {
	// WriteResyncThreshold is how long a partial or full sync may go
	// unverified before the channel forces a full resync. It also delays the
	// second fingerprint announcement after remote state is applied.
	WriteResyncThreshold time.Duration

	// FullStateDebounceTimeout is the window in which repeated full resync
	// triggers collapse into a single emission.
	FullStateDebounceTimeout time.Duration

	// HeartbeatInterval is the period of read-only fingerprint announcements
	// when nothing else happens. Zero means WriteResyncThreshold.
	HeartbeatInterval time.Duration
}

// DefaultConfig returns the stock timings: an 8s verification deadline and a
// 1s full-sync debounce.
func DefaultConfig() Config {
	return Config{
		WriteResyncThreshold:     8 * time.Second,
		FullStateDebounceTimeout: time.Second,
	}
}

// Validate rejects timings the state machine cannot run with.
func (c Config) Validate() error {
	if c.WriteResyncThreshold <= 0 {
		return errors.NewInvalidConfigurationError("write resync threshold must be positive, got %s", c.WriteResyncThreshold)
	}
	if c.FullStateDebounceTimeout <= 0 {
		return errors.NewInvalidConfigurationError("full state debounce timeout must be positive, got %s", c.FullStateDebounceTimeout)
	}
	if c.FullStateDebounceTimeout >= c.WriteResyncThreshold {
		return errors.NewInvalidConfigurationError("full state debounce timeout (%s) must be shorter than the write resync threshold (%s)",
			c.FullStateDebounceTimeout, c.WriteResyncThreshold)
	}
	if c.HeartbeatInterval < 0 {
		return errors.NewInvalidConfigurationError("heartbeat interval must not be negative, got %s", c.HeartbeatInterval)
	}
	return nil
}

// verifyDebounce is the window for re-checking a mismatching fingerprint.
// Keeping it at half the threshold guarantees the check has run before the
// verification deadline can fire.
func (c Config) verifyDebounce() time.Duration {
	return c.WriteResyncThreshold / 2
}

func (c Config) heartbeat() time.Duration {
	if c.HeartbeatInterval > 0 {
		return c.HeartbeatInterval
	}
	return c.WriteResyncThreshold
}
