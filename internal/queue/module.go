package queue

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/webitel/automation-engine/internal/bridge"
	"github.com/webitel/automation-engine/internal/domain/registry"
	"github.com/webitel/automation-engine/internal/orchestrator"
	"github.com/webitel/automation-engine/internal/storage"
	"github.com/webitel/automation-engine/internal/usercache"
)

var Module = fx.Module("queue",
	fx.Provide(
		func(
			store storage.Store,
			b *bridge.Bridge,
			reg *registry.Registry,
			cache *usercache.Cache,
			orch *orchestrator.Orchestrator,
			logger *slog.Logger,
		) *Queue {
			return New(store, b, reg, cache, orch, logger)
		},
	),
)
