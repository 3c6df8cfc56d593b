package cmd

import (
	"context"
	"log/slog"
	"os"

	"go.uber.org/fx"

	"github.com/webitel/automation-engine/config"
	"github.com/webitel/automation-engine/internal/storage"
	"github.com/webitel/automation-engine/internal/storage/memory"
)

func ProvideLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel()}

	var handler slog.Handler
	if cfg.LogSettings().Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With(
		slog.String("service", ServiceName),
		slog.String("version", version),
	)
	slog.SetDefault(logger)

	cfg.Watch(logger)
	return logger
}

// ProvideStore builds the in-memory adapter wrapped with the shared
// failure-logging decorator.
func ProvideStore(lc fx.Lifecycle, logger *slog.Logger) storage.Store {
	mem := memory.NewStore(logger)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return mem.Shutdown() },
	})
	return storage.WithLogging(mem, logger)
}
