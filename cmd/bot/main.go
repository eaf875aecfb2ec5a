package main

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"hedge_bot/internal/modules/config"
	"hedge_bot/internal/modules/health"
	lighter "hedge_bot/internal/modules/lighter_client"
	"hedge_bot/internal/modules/notify"
	"hedge_bot/internal/modules/postgres"
	"hedge_bot/internal/modules/telemetry"
	"hedge_bot/internal/runner"
)

func main() {
	app := fx.New(
		fx.Provide(
			func() context.Context {
				return context.Background()
			},
		),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		config.Module(),
		telemetry.Module(),
		health.Module(),
		notify.Module(),
		postgres.Module(),
		lighter.Module(),
		// runner последним: при остановке закрывает пары раньше уведомлений и журнала
		runner.Module(),
		fx.StopTimeout(3*time.Minute),
	)
	app.Run()
}
