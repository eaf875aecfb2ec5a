package runner

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"hedge_bot/internal/hedge"
	"hedge_bot/internal/metrics"
	"hedge_bot/internal/modules/config"
)

type Deps struct {
	fx.In

	Config   *config.Config
	Factory  GatewayFactory
	Notifier hedge.Notifier
	Journal  Journal
	Metrics  *metrics.Collector
	Status   Status
	Log      *zap.Logger
}

func NewFromConfig(d Deps) *Orchestrator {
	c := d.Config
	return NewOrchestrator(
		Settings{
			Symbol:            c.TradingPair,
			Leverage:          c.Leverage,
			NotionalUSD:       c.PositionSize,
			StopLossThreshold: c.StopLossThreshold,
			Interval:          c.Monitor.Interval,
			ErrorBackoff:      c.Monitor.ErrorBackoff,
			CloseTimeout:      c.Monitor.CloseTimeout,
		},
		c.HedgePairs,
		c.APICredentials,
		d.Factory,
		d.Notifier,
		d.Log.Named("orchestrator"),
		WithJournal(d.Journal),
		WithMetrics(d.Metrics),
		WithStatus(d.Status),
	)
}

func Module() fx.Option {
	return fx.Module("runner",
		fx.Provide(
			NewFromConfig, // *Orchestrator
		),
		fx.Invoke(func(lc fx.Lifecycle, o *Orchestrator) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					o.Start(ctx)
					return nil
				},
				OnStop: func(ctx context.Context) error {
					// закрываем пары до остановки уведомлений и журнала
					return o.Stop(ctx)
				},
			})
		}),
	)
}
