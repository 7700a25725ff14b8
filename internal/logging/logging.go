package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

type Options struct {
	// Path is the log file. Ignored when Writer is set.
	Path   string
	Level  string
	Writer io.Writer
}

// New builds a text slog logger. The returned closer releases the log file, if any.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	var out io.Writer = opts.Writer
	var closer io.Closer = nopCloser{}
	if out == nil {
		if opts.Path == "" {
			out = io.Discard
		} else {
			file, err := os.OpenFile(opts.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
			if err != nil {
				return nil, nil, fmt.Errorf("open log file: %w", err)
			}
			out = file
			closer = file
		}
	}

	handler := slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	return slog.New(handler), closer, nil
}

func ParseLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("invalid log level %q", value)
}

// OrDefault returns logger, or slog.Default() when it is nil.
func OrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
