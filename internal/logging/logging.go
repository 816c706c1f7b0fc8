// Package logging configures the process-wide structured logger.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// L is the process-wide logger, set by Init. Packages that run before Init
// (flag parsing, config load) fall back to slog.Default().
var L = slog.Default()

// Init configures L from the given level ("debug","info","warn","error") and
// format ("text" or "json"), mirroring the teacher's logger.Init(level, format).
func Init(level, format string) {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if strings.ToLower(strings.TrimSpace(format)) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	L = slog.New(handler)
	slog.SetDefault(L)
}

// With returns a child logger with the given component name attached, or the
// process logger if log is nil.
func With(log *slog.Logger, component string) *slog.Logger {
	if log == nil {
		log = L
	}
	return log.With(slog.String("component", component))
}
