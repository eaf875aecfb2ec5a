package telemetry

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"hedge_bot/internal/metrics"
	"hedge_bot/internal/modules/config"
	"hedge_bot/internal/retry"
	"hedge_bot/pkg/logger"
	"hedge_bot/pkg/tracing"
)

const ServiceName = "hedge_bot"

func NewLogger(lc fx.Lifecycle, cfg *config.Config) (*zap.Logger, error) {
	log, err := logger.New(cfg.Log, ServiceName)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			_ = log.Sync()
			return nil
		},
	})
	return log, nil
}

func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func NewMetrics(reg *prometheus.Registry) (*metrics.Collector, error) {
	return metrics.NewCollector(reg)
}

func NewTracer(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (opentracing.Tracer, error) {
	tracer, closer, err := tracing.InitTracer(cfg.Tracing, ServiceName)
	if err != nil {
		return nil, err
	}
	if cfg.Tracing.Enabled {
		log.Info("jaeger tracing enabled", zap.String("host", cfg.Tracing.Host), zap.Int("port", cfg.Tracing.Port))
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return closer.Close()
		},
	})
	return tracer, nil
}

func NewExecutor(cfg *config.Config, log *zap.Logger, tracer opentracing.Tracer, m *metrics.Collector) *retry.Executor {
	return retry.NewExecutor(cfg.Retry, log.Named("retry"),
		retry.WithTracer(tracer),
		retry.WithMetrics(m),
	)
}

// Module отдаёт логгер, метрики, трейсер и общий retry-исполнитель.
func Module() fx.Option {
	return fx.Module("telemetry",
		fx.Provide(
			NewLogger,
			NewRegistry,
			NewMetrics,
			NewTracer,
			NewExecutor,
		),
	)
}
