package cancellation

import (
	"github.com/smallbiznis/loyalty/internal/cancellation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("cancellation.service",
	fx.Provide(service.New),
)
