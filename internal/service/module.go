package service

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("service",
	fx.Provide(
		NewEngine,
	),

	fx.Invoke(func(lc fx.Lifecycle, e *Engine) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error { return e.Start(ctx) },
			OnStop:  func(ctx context.Context) error { return e.Stop(ctx) },
		})
	}),
)
