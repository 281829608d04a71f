package notify

import (
	"context"
	"fmt"

	"studysync/internal/domain"
	"studysync/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramNotifier sends summaries to a single chat.
type TelegramNotifier struct {
	bot    domain.TelegramSender
	chatID int64
}

func NewTelegramNotifier(bot domain.TelegramSender, chatID int64) *TelegramNotifier {
	return &TelegramNotifier{bot: bot, chatID: chatID}
}

// NewTelegramBot connects to the Bot API with token.
func NewTelegramBot(token string) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return bot, nil
}

func (n *TelegramNotifier) Summarize(_ context.Context, s models.SyncSummary) error {
	text := "*Study sync*\n" + tgbotapi.EscapeText(models.ParseModeMarkdown, Message(s))
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = models.ParseModeMarkdown
	msg.DisableNotification = s.Failed == 0
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("send telegram summary: %w", err)
	}
	return nil
}
