package logger

import "go.uber.org/zap/zapcore"

// Verbosity is the count of -v flags on the command line.
const (
	VerbosityUser  = 0 // warnings and errors
	VerbosityInfo  = 1 // sessions, peers, full syncs
	VerbosityDebug = 2 // every partial sync and fingerprint
)

// VerbosityToLevel maps a -v count to a zap level. Negative counts behave
// like zero; anything past -vv is debug.
func VerbosityToLevel(verbosity int) zapcore.Level {
	switch {
	case verbosity <= VerbosityUser:
		return zapcore.WarnLevel
	case verbosity == VerbosityInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}
