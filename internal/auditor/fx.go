package auditor

import (
	"github.com/smallbiznis/loyalty/internal/auditor/service"
	"go.uber.org/fx"
)

var Module = fx.Module("auditor.service",
	fx.Provide(service.New),
)
