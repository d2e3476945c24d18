package app

import (
	"log/slog"
	"os"
)

// NewLogger returns the process logger. The json format is meant for
// log ingestion in production; anything else falls back to a
// human-readable text handler. Every record carries the service name
// so co-located processes can be told apart.
func NewLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true}
	var handler slog.Handler
	if cfg != nil && cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler).With(slog.String("service", "meridian"))
}
