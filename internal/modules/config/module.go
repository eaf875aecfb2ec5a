package config

import "go.uber.org/fx"

// Module отдаёт *Config всем остальным модулям.
func Module() fx.Option {
	return fx.Module("config",
		fx.Provide(
			NewConfig,
		),
	)
}
