package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"go.uber.org/fx"

	"github.com/webitel/automation-engine/config"
)

var Module = fx.Module("ops-http",
	fx.Provide(
		NewHandler,
	),
	fx.Invoke(RegisterServer),
)

// RegisterServer binds the ops server to the fx lifecycle.
func RegisterServer(lc fx.Lifecycle, cfg *config.Config, h *Handler, logger *slog.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: h.Routes(),
	}

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				logger.Info("ops http listening", slog.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("ops http failed", slog.Any("err", err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
