package config

import "go.uber.org/fx"

// Module provides *Config and the environment expander used while loading it.
var Module = fx.Options(
	fx.Provide(func() EnvironmentExpander {
		return NewOsEnvironmentExpander()
	}),
	fx.Provide(NewConfigProvider),
)
