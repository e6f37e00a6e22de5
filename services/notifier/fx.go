package notifier

import (
	"go.uber.org/fx"
)

var Module = fx.Module("notifier.module",
	fx.Provide(NewService),
)
