package activation

import (
	"go.uber.org/fx"
)

var Module = fx.Module("activation.module",
	fx.Provide(NewService),
)
