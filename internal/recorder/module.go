package recorder

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/webitel/automation-engine/config"
	"github.com/webitel/automation-engine/internal/storage"
)

var Module = fx.Module("recorder",
	fx.Provide(
		func(store storage.Store, cfg *config.Config, logger *slog.Logger) *Recorder {
			settings := cfg.RecorderSettings()
			rec := New(
				func() (storage.Store, error) { return store, nil },
				logger,
				Options{RecentResults: settings.RecentResults},
			)
			rec.SetPersistenceEnabled(settings.PersistenceEnabled)
			return rec
		},
	),
)
