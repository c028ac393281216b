// Package applog provides the process-wide leveled logger used by every
// daemon and demo binary, wrapping pterm the same way the reference
// repository's util package does.
package applog

import (
	"github.com/google/uuid"
	"github.com/pterm/pterm"
)

// EnableDebug raises the logger to debug level; by default debug-level
// per-segment/per-packet tracing is suppressed.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
	pterm.EnableDebugMessages()
}

// Debugf logs a per-segment/per-packet trace line.
func Debugf(format string, args ...any) {
	pterm.Debug.Printfln(format, args...)
}

// Infof logs a state transition, link up/down, or convergence event.
func Infof(format string, args ...any) {
	pterm.Info.Printfln(format, args...)
}

// Warnf logs a dropped record or a retry exhaustion.
func Warnf(format string, args ...any) {
	pterm.Warning.Printfln(format, args...)
}

// Errorf logs an unrecoverable startup or I/O failure.
func Errorf(format string, args ...any) {
	pterm.Error.Printfln(format, args...)
}

// NewCorrelationID mints a UUID used to tag every log line for one STCP
// connection, so a multi-connection demo run's interleaved log output can be
// told apart (§11).
func NewCorrelationID() string {
	return uuid.NewString()
}
