// Package logging builds the process logger from configuration.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/flemzord/divsync/internal/config"
	"github.com/flemzord/divsync/internal/security"
)

// Logger is a configured slog.Logger plus the resources it owns.
type Logger struct {
	*slog.Logger

	file *lumberjack.Logger
}

// Close flushes and closes the rotating log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// ParseLevel maps a configured level name to a slog.Level. Empty means info.
func ParseLevel(name string) (slog.Level, error) {
	if name == "" {
		return slog.LevelInfo, nil
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("logging: invalid level %q: %w", name, err)
	}
	return lvl, nil
}

// New builds a logger writing to stderr and, when cfg.File is set, to a
// size-rotated file. Every record goes through a RedactingHandler.
func New(cfg config.LogConfig, redactor *security.Redactor) (*Logger, error) {
	return newLogger(cfg, os.Stderr, redactor)
}

func newLogger(cfg config.LogConfig, stderr io.Writer, redactor *security.Redactor) (*Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	l := &Logger{}
	out := stderr
	if cfg.File != "" {
		l.file = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		out = io.MultiWriter(stderr, l.file)
	}

	opts := &slog.HandlerOptions{Level: level}
	var inner slog.Handler
	switch cfg.Format {
	case "", "text":
		inner = slog.NewTextHandler(out, opts)
	case "json":
		inner = slog.NewJSONHandler(out, opts)
	default:
		_ = l.Close()
		return nil, fmt.Errorf("logging: unknown format %q", cfg.Format)
	}

	if redactor == nil {
		redactor = security.NewRedactor()
	}
	l.Logger = slog.New(security.NewRedactingHandler(inner, redactor))
	return l, nil
}
