package organization

import (
	"github.com/smallbiznis/flowline/internal/organization/service"
	"go.uber.org/fx"
)

var Module = fx.Module("organization.service",
	fx.Provide(service.NewService),
)
