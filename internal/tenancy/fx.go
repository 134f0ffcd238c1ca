package tenancy

import "go.uber.org/fx"

var Module = fx.Module("tenancy.establisher",
	fx.Provide(NewEstablisher),
)
