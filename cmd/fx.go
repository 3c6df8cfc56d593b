package cmd

import (
	"go.uber.org/fx"

	"github.com/webitel/automation-engine/config"
	"github.com/webitel/automation-engine/internal/bridge"
	"github.com/webitel/automation-engine/internal/domain/registry"
	opshttp "github.com/webitel/automation-engine/internal/handler/http"
	"github.com/webitel/automation-engine/internal/orchestrator"
	"github.com/webitel/automation-engine/internal/queue"
	"github.com/webitel/automation-engine/internal/recorder"
	"github.com/webitel/automation-engine/internal/service"
	"github.com/webitel/automation-engine/internal/usercache"
)

func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
			ProvideStore,
		),
		bridge.Module,
		recorder.Module,
		registry.Module,
		orchestrator.Module,
		usercache.Module,
		queue.Module,
		service.Module,
		opshttp.Module,
	)
}
