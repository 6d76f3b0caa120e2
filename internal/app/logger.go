package app

import (
	"log/slog"
	"os"
)

// NewLogger returns the process logger. Production always logs JSON so the
// aggregator can parse it; elsewhere LOG_FORMAT picks the handler.
func NewLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true}
	if cfg != nil && (cfg.IsProduction() || cfg.LogFormat == "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts)).With(slog.String("service", "meridian"))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
