// Package logging provides structured JSON logging for the snuttify agent.
// It uses the standard library log/slog package, fanning out to a log file
// when one is configured.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

// ParseLevel maps a level name to a slog level.
// Supported levels: debug, info, warn, error
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a JSON logger on stdout. When file is non-empty the
// records are also appended to it; the returned func closes that file.
func NewLogger(level, file string) (*slog.Logger, func() error, error) {
	return newLogger(os.Stdout, level, file)
}

// NewLoggerTo is NewLogger writing to w instead of stdout. CLI commands
// whose stdout carries results log to stderr.
func NewLoggerTo(w io.Writer, level, file string) (*slog.Logger, func() error, error) {
	return newLogger(w, level, file)
}

func newLogger(stdout io.Writer, level, file string) (*slog.Logger, func() error, error) {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level: lvl,
		// Add source location for debug level
		AddSource: lvl == slog.LevelDebug,
	}

	handler := slog.Handler(slog.NewJSONHandler(stdout, opts))
	cleanup := func() error { return nil }

	if file != "" {
		if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		handler = slogmulti.Fanout(handler, slog.NewJSONHandler(f, opts))
		cleanup = f.Close
	}

	return slog.New(handler), cleanup, nil
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func WithRequestID(logger *slog.Logger, requestID string) *slog.Logger {
	return logger.With("request_id", requestID)
}

func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With("component", component)
}

func WithVideoID(logger *slog.Logger, videoID string) *slog.Logger {
	return logger.With("video_id", videoID)
}

// SanitizeToken keeps only the ends of an API key. Unset keys are logged as
// such so a missing OPENAI_API_KEY is visible at startup.
func SanitizeToken(token string) string {
	switch {
	case token == "":
		return "(unset)"
	case len(token) <= 8:
		return "****"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

// SanitizePath abbreviates the home directory to ~.
func SanitizePath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	if rest, ok := strings.CutPrefix(path, home); ok && (rest == "" || rest[0] == filepath.Separator) {
		return "~" + rest
	}
	return path
}
