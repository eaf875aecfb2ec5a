package service

import (
	"context"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
)

// Sender is the part of tgbot.BotAPI the channel needs.
type Sender interface {
	Send(c tgbot.Chattable) (tgbot.Message, error)
}

type Telegram struct {
	bot    Sender
	chatID int64
}

func NewTelegram(token string, chatID int64) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, errors.Wrap(err, "telegram bot")
	}
	return &Telegram{bot: b, chatID: chatID}, nil
}

func NewTelegramWithSender(s Sender, chatID int64) *Telegram {
	return &Telegram{bot: s, chatID: chatID}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Deliver(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbot.NewMessage(t.chatID, "⚠️ "+m.Title+"\n\n"+m.Body)
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		return errors.Wrap(err, "telegram send")
	}
	return nil
}
