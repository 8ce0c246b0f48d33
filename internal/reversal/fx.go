package reversal

import "go.uber.org/fx"

var Module = fx.Module("reversal.engine",
	fx.Provide(New),
)
