package logger

import (
	"github.com/rs/zerolog"

	corelogger "github.com/smarttraffic/dualsim/core/logger"
)

// Alias the core interface and no-op implementation for convenience.
type Logger = corelogger.Logger

// NopLogger mirrors the core no-op logger.
type NopLogger = corelogger.NopLogger

// New returns a Logger for the given component. The environment is detected
// via the APP_ENV variable.
func New(component string) Logger {
	return NewZerologLogger(component)
}

// SetLevel applies the configured verbosity process-wide. Unknown levels are
// ignored and leave the default in place.
func SetLevel(level string) {
	lv, err := zerolog.ParseLevel(level)
	if err != nil {
		return
	}
	zerolog.SetGlobalLevel(lv)
}
