package clock

import "go.uber.org/fx"

var Module = fx.Provide(func() Clock { return SystemClock{} })
