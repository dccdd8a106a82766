package subscription

import (
	"github.com/smallbiznis/tiendly/internal/subscription/repository"
	"github.com/smallbiznis/tiendly/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
