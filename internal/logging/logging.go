// Package logging builds the process-wide slog.Logger from config.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/chaz8081/ara-light/internal/config"
)

// New creates a configured *slog.Logger. The returned closer flushes and
// closes a file output and should be deferred.
func New(cfg config.LogConfig, level string) (*slog.Logger, func() error) {
	writer, closer := openOutput(cfg)
	opts := &slog.HandlerOptions{Level: config.ParseLogLevel(level)}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(writer, opts)
	default:
		handler = slog.NewTextHandler(writer, opts)
	}

	return slog.New(handler), closer
}

// openOutput returns the writer for cfg.Output. Anything other than
// stdout/stderr is a file path, rotated by size.
func openOutput(cfg config.LogConfig) (io.Writer, func() error) {
	noop := func() error { return nil }

	switch strings.ToLower(cfg.Output) {
	case "stdout":
		return os.Stdout, noop
	case "stderr", "":
		return os.Stderr, noop
	default:
		lj := &lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}
		return lj, lj.Close
	}
}
