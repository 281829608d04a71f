package bot

import (
	"context"
	"time"

	"studysync/internal/config"
	"studysync/internal/domain"
	"studysync/internal/logging"
	"studysync/internal/models"
	"studysync/internal/worker"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// QueueOps is what the bot can do with the queue.
type QueueOps interface {
	Status(ctx context.Context) (models.StatusCounts, error)
	Trigger(ctx context.Context) (worker.PassSummary, error)
	RetryFailed(ctx context.Context) (int, error)
	Sweep(ctx context.Context) (int, error)
}

// Bot answers queue commands in Telegram for the notification chat and managers.
type Bot struct {
	tgService domain.TelegramService
	queue     QueueOps
	chatID    int64
	managers  map[int64]struct{}
	metrics   *Metrics
	logger    *zerolog.Logger
}

func NewBot(tgService domain.TelegramService, cfg config.TelegramConfig, queue QueueOps, metrics *Metrics, logger *zerolog.Logger) *Bot {
	managers := make(map[int64]struct{}, len(cfg.Managers))
	for _, id := range cfg.Managers {
		managers[id] = struct{}{}
	}
	return &Bot{
		tgService: tgService,
		queue:     queue,
		chatID:    cfg.ChatID,
		managers:  managers,
		metrics:   metrics,
		logger:    logging.Component(logger, "telegram-bot"),
	}
}

func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.tgService.GetUpdatesChan(u)

	b.logger.Info().Str("username", b.tgService.GetSelf().UserName).Msg("Authorized on account")

	for {
		select {
		case <-ctx.Done():
			b.logger.Info().Msg("Bot stopping...")
			b.tgService.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.processUpdate(ctx, update)
		}
	}
}

func (b *Bot) processUpdate(ctx context.Context, update tgbotapi.Update) {
	start := time.Now()
	defer func() {
		if b.metrics != nil {
			b.metrics.UpdateProcessingTime.Observe(time.Since(start).Seconds())
		}
	}()

	// Синхронизация может идти долго, но не дольше минуты
	updateCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	requestID := uuid.New().String()
	l := b.logger.With().Str("request_id", requestID).Logger()
	updateCtx = l.WithContext(updateCtx)

	b.withRecovery(func() {
		msg := update.Message
		if msg == nil || msg.From == nil || !msg.IsCommand() {
			return
		}

		if !b.isAllowed(msg.Chat.ID, msg.From.ID) {
			l.Warn().Int64("user_id", msg.From.ID).Int64("chat_id", msg.Chat.ID).Msg("Command from unknown chat")
			b.sendMessage(msg.Chat.ID, "⛔ Нет доступа к очереди.")
			return
		}

		b.handleCommand(updateCtx, msg)
	})
}

func (b *Bot) isAllowed(chatID, userID int64) bool {
	if b.chatID != 0 && chatID == b.chatID {
		return true
	}
	_, ok := b.managers[userID]
	return ok
}

func (b *Bot) sendMessage(chatID int64, text string) {
	if _, err := b.tgService.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.logger.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to send message")
	}
}
