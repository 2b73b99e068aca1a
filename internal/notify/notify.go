// Package notify is the Telegram notification collaborator. The engine
// treats it as an interface-only dependency: risk actions and position
// closes call Notifier without caring whether a real bot token is
// configured.
package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/zeromicro/go-zero/core/logx"
)

// Notifier sends an operator-facing message for a user.
type Notifier interface {
	Notify(ctx context.Context, chatID int64, message string) error
}

// Telegram sends messages through a bot token.
type Telegram struct {
	bot *tgbotapi.BotAPI
}

// NewTelegram constructs a Telegram notifier from a bot token.
func NewTelegram(token string) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("notify: init telegram bot: %w", err)
	}
	return &Telegram{bot: bot}, nil
}

func (t *Telegram) Notify(ctx context.Context, chatID int64, message string) error {
	msg := tgbotapi.NewMessage(chatID, message)
	_, err := t.bot.Send(msg)
	if err != nil {
		logx.WithContext(ctx).Errorf("notify: telegram send failed chat=%d: %v", chatID, err)
	}
	return err
}

// Noop discards every message; used when no bot token is configured.
type Noop struct{}

func (Noop) Notify(ctx context.Context, chatID int64, message string) error { return nil }

var (
	_ Notifier = (*Telegram)(nil)
	_ Notifier = Noop{}
)
