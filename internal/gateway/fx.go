package gateway

import (
	gatewaydomain "github.com/smallbiznis/meterline/internal/gateway/domain"
	"github.com/smallbiznis/meterline/internal/gateway/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("gateway",
	fx.Provide(
		fx.Annotate(
			func(log *zap.Logger) gatewaydomain.Gateway { return service.NewNoopGateway(log) },
			fx.ResultTags(`name:"gateway.inner"`),
		),
		service.NewGuardedGateway,
	),
)
