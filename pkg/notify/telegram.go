package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// maxTelegramText is Telegram's message length limit
const maxTelegramText = 4096

// Sender is the part of *tgbotapi.BotAPI the sink uses
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSink sends notifications to one chat
type TelegramSink struct {
	bot    Sender
	chatID int64
}

// NewTelegramSink authenticates the bot token and returns a sink for chatID
func NewTelegramSink(token string, chatID int64) (*TelegramSink, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	return NewTelegramSinkWithSender(bot, chatID), nil
}

// NewTelegramSinkWithSender wraps an existing bot
func NewTelegramSinkWithSender(bot Sender, chatID int64) *TelegramSink {
	return &TelegramSink{bot: bot, chatID: chatID}
}

func (t *TelegramSink) Name() string { return "telegram" }

func (t *TelegramSink) Notify(ctx context.Context, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	text := subject + "\n\n" + body
	if r := []rune(text); len(r) > maxTelegramText {
		text = string(r[:maxTelegramText-3]) + "..."
	}
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.DisableWebPagePreview = true
	_, err := t.bot.Send(msg)
	return err
}
