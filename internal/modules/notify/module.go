package notify

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"hedge_bot/internal/hedge"
	"hedge_bot/internal/modules/config"
	"hedge_bot/internal/modules/notify/service"
)

// NewDispatcher собирает включённые каналы. Telegram, который не смог подключиться,
// просто выключается: уведомления всё равно идут в лог.
func NewDispatcher(conf *config.Config, log *zap.Logger) *service.Dispatcher {
	log = log.Named("notify")
	n := conf.Notification

	var channels []service.Channel
	if n.Telegram.Enabled {
		tg, err := service.NewTelegram(n.Telegram.Token, n.Telegram.ChatID)
		if err != nil {
			log.Error("telegram channel disabled", zap.Error(err))
		} else {
			channels = append(channels, tg)
		}
	}
	if n.Email.Enabled {
		channels = append(channels, service.NewEmail(service.EmailConfig{
			Server:    n.Email.SMTPServer,
			Port:      n.Email.SMTPPort,
			Username:  n.Email.Username,
			Password:  n.Email.Password,
			Sender:    n.Email.Sender,
			Recipient: n.Email.Recipient,
		}))
	}
	return service.NewDispatcher(n.QueueSize, log, channels...)
}

func Module() fx.Option {
	return fx.Module("notify",
		fx.Provide(
			NewDispatcher,
			// адаптер: *service.Dispatcher -> hedge.Notifier
			func(d *service.Dispatcher) hedge.Notifier {
				return d
			},
		),
		fx.Invoke(func(lc fx.Lifecycle, d *service.Dispatcher) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					d.Start()
					return nil
				},
				OnStop: func(ctx context.Context) error {
					return d.Stop(ctx)
				},
			})
		}),
	)
}
