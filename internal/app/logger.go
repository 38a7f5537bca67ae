package app

import (
	"log/slog"
	"os"

	"github.com/trunov/thumbhub/internal/config"
)

// NewLogger builds the process logger: JSON by default, text for local runs.
func NewLogger(cfg *config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts)).With("service", "thumbhub")
}
