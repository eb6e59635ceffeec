package orderpoints

import (
	"github.com/smallbiznis/loyalty/internal/orderpoints/service"
	"go.uber.org/fx"
)

var Module = fx.Module("orderpoints.service",
	fx.Provide(service.New),
)
