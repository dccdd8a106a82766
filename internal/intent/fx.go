package intent

import (
	"github.com/smallbiznis/tiendly/internal/intent/repository"
	"github.com/smallbiznis/tiendly/internal/intent/service"
	"go.uber.org/fx"
)

var Module = fx.Module("intent",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
