package registry

import (
	"go.uber.org/fx"

	"github.com/webitel/automation-engine/internal/recorder"
)

var Module = fx.Module("registry",
	fx.Provide(
		New,
		func(rec *recorder.Recorder) Executor { return NewExecutor(rec) },
		fx.Annotate(
			func(r *Registry) *Registry { return r },
			fx.As(new(Resolver)),
		),
	),
)
