package renewal

import "go.uber.org/fx"

var Module = fx.Module("renewal",
	fx.Provide(New),
)
