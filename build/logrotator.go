package build

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/decred/slog"
	"github.com/jrick/logrotate/rotator"
)

// RotatingLogWriter is a wrapper around the log writer which supports log
// file rotation and fans every line out to stdout and the file.
type RotatingLogWriter struct {
	// backend is the slog backend all subsystem loggers hang off.
	backend *slog.Backend

	logRotator *rotator.Rotator

	pipe *io.PipeWriter

	mtx        sync.Mutex
	subloggers map[string]slog.Logger
}

// NewRotatingLogWriter creates a new file rotating log writer.
func NewRotatingLogWriter() *RotatingLogWriter {
	w := &RotatingLogWriter{
		subloggers: make(map[string]slog.Logger),
	}
	w.backend = slog.NewBackend(w)
	return w
}

// Write writes a log line to stdout and, once initialized, the rotator.
func (r *RotatingLogWriter) Write(b []byte) (int, error) {
	os.Stdout.Write(b)
	if r.pipe != nil {
		r.pipe.Write(b)
	}
	return len(b), nil
}

// InitLogRotator initializes the log file rotator to write logs to logFile
// and create roll files in the same directory. Must be called before the
// first write through the returned loggers reaches disk.
func (r *RotatingLogWriter) InitLogRotator(logFile string, maxLogFileSize int,
	maxLogFiles int) error {

	logDir, _ := filepath.Split(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return fmt.Errorf("failed to create log directory: %v", err)
	}
	var err error
	r.logRotator, err = rotator.New(
		logFile, int64(maxLogFileSize*1024), false, maxLogFiles,
	)
	if err != nil {
		return fmt.Errorf("failed to create file rotator: %v", err)
	}

	pr, pw := io.Pipe()
	r.pipe = pw
	go func() {
		err := r.logRotator.Run(pr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to run file rotator: %v\n", err)
		}
	}()
	return nil
}

// GenSubLogger creates a new subsystem logger backed by the rotating
// writer.
func (r *RotatingLogWriter) GenSubLogger(tag string) slog.Logger {
	return r.backend.Logger(tag)
}

// RegisterSubLogger tracks a subsystem logger so its level can be changed
// at run time.
func (r *RotatingLogWriter) RegisterSubLogger(subsystem string, logger slog.Logger) {
	r.mtx.Lock()
	r.subloggers[subsystem] = logger
	r.mtx.Unlock()
}

// SupportedSubsystems returns a sorted list of the registered subsystems.
func (r *RotatingLogWriter) SupportedSubsystems() []string {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	subsystems := make([]string, 0, len(r.subloggers))
	for subsystem := range r.subloggers {
		subsystems = append(subsystems, subsystem)
	}
	sort.Strings(subsystems)
	return subsystems
}

// SetLogLevel sets the log level of a registered subsystem. Invalid
// subsystems are ignored.
func (r *RotatingLogWriter) SetLogLevel(subsystem string, logLevel string) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	logger, ok := r.subloggers[subsystem]
	if !ok {
		return
	}
	level, _ := slog.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// SetLogLevels sets the log level of every registered subsystem.
func (r *RotatingLogWriter) SetLogLevels(logLevel string) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	level, _ := slog.LevelFromString(logLevel)
	for _, logger := range r.subloggers {
		logger.SetLevel(level)
	}
}

// Close closes the log rotator.
func (r *RotatingLogWriter) Close() error {
	if r.pipe != nil {
		r.pipe.Close()
	}
	if r.logRotator != nil {
		return r.logRotator.Close()
	}
	return nil
}
