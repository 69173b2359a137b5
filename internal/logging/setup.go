// Package logging configures structured logging with log/slog.
package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
)

// level is the process-wide LevelVar so the level can change at runtime.
var level slog.LevelVar

// Setup installs the default slog logger from the given level and format
// ("json" or "text"; json when empty). The stdlib log package is bridged so
// third-party log.Printf output lands in structured form.
func Setup(levelStr, formatStr string) {
	SetupWriter(levelStr, formatStr, os.Stderr)
}

// SetupWriter is Setup with an explicit destination, for tests.
func SetupWriter(levelStr, formatStr string, w io.Writer) {
	level.Set(parseLevel(levelStr))

	opts := &slog.HandlerOptions{Level: &level}
	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(formatStr), "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	log.SetOutput(stdlibWriter{logger})
	log.SetFlags(0) // slog adds timestamps
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

type stdlibWriter struct {
	logger *slog.Logger
}

func (w stdlibWriter) Write(p []byte) (int, error) {
	w.logger.Info(strings.TrimRight(string(p), "\n"), "source", "stdlib")
	return len(p), nil
}
