package postgres

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"hedge_bot/internal/modules/config"
	"hedge_bot/internal/modules/postgres/service"
	"hedge_bot/internal/runner"
	"hedge_bot/pkg/db"
)

const journalQueueSize = 256

// NewJournal поднимает журнал событий. Без db_dsn журнал выключен.
func NewJournal(ctx context.Context, lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (runner.Journal, error) {
	log = log.Named("journal")
	if cfg.DB == "" {
		log.Info("db_dsn not set, event journal disabled")
		return runner.NopJournal{}, nil
	}

	poolMaster, err := db.NewPool(ctx, db.PoolConfig{
		DSN: cfg.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create poolMaster: %w", err)
	}
	if err = poolMaster.Ping(ctx); err != nil {
		poolMaster.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	txm := db.NewPgTxManager(poolMaster)
	j := service.NewJournal(txm, journalQueueSize, log)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := j.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("journal schema: %w", err)
			}
			j.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			defer txm.Close()
			return j.Stop(ctx)
		},
	})
	return j, nil
}

func Module() fx.Option {
	return fx.Module("postgres",
		fx.Provide(
			NewJournal,
		),
	)
}
