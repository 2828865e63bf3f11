package logger

import "go.uber.org/fx"

// Module installs the fx event adapter.
var Module = fx.Options(
	fx.WithLogger(NewFxLoggerAdapter),
)
