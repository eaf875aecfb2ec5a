package lighter_client

import (
	"github.com/pkg/errors"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"hedge_bot/internal/hedge"
	"hedge_bot/internal/models"
	"hedge_bot/internal/modules/config"
	"hedge_bot/internal/modules/lighter_client/service"
	"hedge_bot/internal/retry"
	"hedge_bot/internal/runner"
)

var _ hedge.Gateway = (*service.Client)(nil)

// Factory создаёт отдельный клиент Lighter на каждую ногу пары.
type Factory struct {
	cfg  *config.Config
	exec *retry.Executor
	log  *zap.Logger
}

func NewFactory(cfg *config.Config, exec *retry.Executor, log *zap.Logger) *Factory {
	return &Factory{cfg: cfg, exec: exec, log: log.Named("lighter")}
}

func (f *Factory) NewGateway(cred models.AccountCredential) (hedge.Gateway, error) {
	if !cred.Network.Valid() {
		return nil, errors.Errorf("account %s: unsupported network %q", cred.AccountName, cred.Network)
	}
	proxy, err := f.cfg.Proxy(cred.Proxy)
	if err != nil {
		return nil, errors.Wrapf(err, "account %s", cred.AccountName)
	}
	return service.NewClient(
		cred,
		proxy,
		service.NewRemoteSigner(cred),
		f.exec,
		service.Options{MaxSlippage: f.cfg.Monitor.MaxSlippage},
		f.log,
	), nil
}

func Module() fx.Option {
	return fx.Module("lighter_client",
		fx.Provide(
			NewFactory,
			// адаптер: *Factory -> runner.GatewayFactory
			func(f *Factory) runner.GatewayFactory {
				return f
			},
		),
	)
}
