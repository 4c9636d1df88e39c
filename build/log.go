package build

import (
	"github.com/decred/slog"
)

// SubLogCreator can be overridden to use a different backend for creating
// the subsystem loggers.
type SubLogCreator interface {
	// Logger returns a new logger for a particular subsystem.
	Logger(subsystemTag string) slog.Logger
}

// NewSubLogger constructs a new subsystem log from the current LogWriter
// implementation. When genSubLogger is nil the returned logger discards
// everything.
func NewSubLogger(subsystem string, genSubLogger func(string) slog.Logger) slog.Logger {
	if genSubLogger != nil {
		return genSubLogger(subsystem)
	}
	return slog.Disabled
}
