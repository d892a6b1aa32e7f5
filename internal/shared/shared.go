// package shared defines shared helpers
package shared

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// StampLayout is the timestamp layout used in run artifact file names (dd.MM.yyyy-HH-mm-ss).
const StampLayout = "02.01.2006-15-04-05"

// RunLogPattern names the per-run log file inside the configured log directory.
const RunLogPattern = "DataInserterLog_%s.txt"

// NewLogger creates a new [log.Logger] instance with the specified [io.Writer], with timestamps and caller reporting enabled.
//
// The writer defaults to [os.Stderr]
func NewLogger(w io.Writer) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := log.Options{ReportTimestamp: true, ReportCaller: true}
	return log.NewWithOptions(w, opts)
}

// NewFileLogger creates a [log.Logger] that writes only to the file at path.
//
// Parent directories are created as needed and the file is appended to.
func NewFileLogger(path string) (*log.Logger, error) {
	f, err := openLogFile(path)
	if err != nil {
		return nil, err
	}
	return NewLogger(f), nil
}

// NewTeeLogger creates a [log.Logger] writing to both w and the file at path.
func NewTeeLogger(w io.Writer, path string) (*log.Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	f, err := openLogFile(path)
	if err != nil {
		return nil, err
	}
	return NewLogger(io.MultiWriter(w, f)), nil
}

// RunLogPath returns the timestamped log file path for a run started at t.
func RunLogPath(dir string, t time.Time) string {
	return filepath.Join(dir, fmt.Sprintf(RunLogPattern, t.Format(StampLayout)))
}

// NewRunLogger creates a tee logger writing to w and a new run log file inside dir.
func NewRunLogger(w io.Writer, dir string) (*log.Logger, string, error) {
	path := RunLogPath(dir, time.Now())
	logger, err := NewTeeLogger(w, path)
	if err != nil {
		return nil, "", err
	}
	return logger, path, nil
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

// WithLogger creates a child [log.Logger] with the specified key-value pairs added to all log entries.
func WithLogger(l *log.Logger, kv ...any) *log.Logger {
	return l.With(kv...)
}

// SetLogLevel sets the [log.Level] for the given [log.Logger].
func SetLogLevel(l *log.Logger, ll log.Level) {
	l.SetLevel(ll)
}

// ParseLogLevel converts a config value to a [log.Level], defaulting to info.
func ParseLogLevel(s string) log.Level {
	if s == "" {
		return log.InfoLevel
	}
	lvl, err := log.ParseLevel(s)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// GenerateID generates a new v4 [uuid.UUID] as a string
func GenerateID() string {
	return uuid.New().String()
}
