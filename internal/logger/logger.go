// Package logger builds the process-wide slog handler from the log section
// of the configuration.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/chaz8081/oximeter-bridge/internal/config"
)

// New creates the logger described by cfg. The closer releases the file or
// syslog connection and is a no-op for the standard streams.
func New(cfg config.LogConfig) (*slog.Logger, func() error, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, nil, fmt.Errorf("logger: level: %w", err)
	}

	w, closer, err := openOutput(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: open %s output: %w", cfg.Output, err)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(w, opts)
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler), closer, nil
}

// openOutput opens the writer for a validated log section.
func openOutput(cfg config.LogConfig) (io.Writer, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Output {
	case "stdout":
		return os.Stdout, noop, nil
	case "syslog":
		return openSyslog()
	case "file":
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, err
		}
		return f, f.Close, nil
	default:
		return os.Stderr, noop, nil
	}
}
