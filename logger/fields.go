package logger

import (
	"go.uber.org/zap"
)

// Standard field names for consistent structured logging across statesync.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Components
	FieldComponent = "component"

	// Sync protocol
	FieldChannelID   = "channel_id"
	FieldPeer        = "peer"
	FieldPhase       = "phase"
	FieldReason      = "reason"
	FieldFingerprint = "fingerprint"
	FieldExpected    = "expected"
	FieldMerge       = "merge"
	FieldKeys        = "keys"

	// Timing
	FieldDurationMS = "duration_ms"
	FieldThreshold  = "threshold"

	// Errors
	FieldError = "error"

	// Counts
	FieldCount    = "count"
	FieldSent     = "sent"
	FieldReceived = "received"

	// Files and network
	FieldFile    = "file"
	FieldAddress = "address"
	FieldRemote  = "remote_addr"
)

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	type Channel struct {
//	    logger *zap.SugaredLogger
//	}
//
//	func NewChannel() *Channel {
//	    return &Channel{
//	        logger: logger.ComponentLogger("sync.channel"),
//	    }
//	}
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

// ChildLogger creates a child logger with additional context.
// Use for sub-operations that need extra context fields.
//
// Example:
//
//	chLogger := logger.ChildLogger(baseLogger, logger.FieldChannelID, id)
func ChildLogger(parent *zap.SugaredLogger, keysAndValues ...interface{}) *zap.SugaredLogger {
	if parent == nil {
		parent = Logger
	}
	return parent.With(keysAndValues...)
}
