package logger

import corelogger "github.com/coopertaxi/dispatchd/core/logger"

// Logger re-exports the core interface so infra packages need a single
// import.
type Logger = corelogger.Logger

// NopLogger implements Logger with no-op methods.
type NopLogger struct{}

func (NopLogger) Debugf(string, ...any)         {}
func (NopLogger) Debugw(string, map[string]any) {}
func (NopLogger) Infof(string, ...any)          {}
func (NopLogger) Warnf(string, ...any)          {}
func (NopLogger) Errorf(string, ...any)         {}

// New returns a Logger for the given dispatch component, configured from the
// TAXI_ENV and TAXI_LOG_LEVEL environment variables.
func New(component string) Logger {
	return NewZerologLogger(component)
}
