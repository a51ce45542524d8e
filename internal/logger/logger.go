// Package logger configures structured logging for the tasking service.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"github.com/mapcrew/tasking/internal/config"
)

// New builds the root *slog.Logger from the Logging config. Every record
// carries a "service" attribute; output goes to stdout as JSON, or as
// plain text when format is "text" (local development).
func New(cfg config.Logging) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler).With("service", cfg.Service)
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
