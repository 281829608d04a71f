package bot

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

const helpText = `Команды очереди:
/status - сколько действий в каждом статусе
/sync - запустить синхронизацию
/retry - вернуть упавшие действия в очередь
/sweep - удалить старые синхронизированные`

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	command := msg.Command()
	if b.metrics != nil {
		b.metrics.CommandsProcessed.WithLabelValues(command).Inc()
	}

	var (
		reply string
		err   error
	)
	switch command {
	case "start", "help":
		reply = helpText
	case "status":
		reply, err = b.handleStatus(ctx)
	case "sync":
		reply, err = b.handleSync(ctx)
	case "retry":
		reply, err = b.handleRetry(ctx)
	case "sweep":
		reply, err = b.handleSweep(ctx)
	default:
		reply = "Неизвестная команда. /help - список команд."
	}

	if err != nil {
		if b.metrics != nil {
			b.metrics.ErrorsTotal.Inc()
		}
		zerolog.Ctx(ctx).Error().Err(err).Str("command", command).Msg("Command failed")
		reply = b.getErrorMessage(err)
	}
	b.sendMessage(msg.Chat.ID, reply)
}

func (b *Bot) handleStatus(ctx context.Context) (string, error) {
	counts, err := b.queue.Status(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("📋 Очередь\nОжидают: %d\nОтправляются: %d\nСинхронизированы: %d\nС ошибкой: %d\nВсего: %d",
		counts.Pending, counts.Syncing, counts.Synced, counts.Failed, counts.Total), nil
}

func (b *Bot) handleSync(ctx context.Context) (string, error) {
	summary, err := b.queue.Trigger(ctx)
	if err != nil {
		return "", err
	}
	if !summary.Ran {
		return "⏸ Нет сети или синхронизация уже идёт.", nil
	}
	return fmt.Sprintf("✅ Синхронизировано: %d\n❌ Ошибок: %d\n🔁 Повторим позже: %d\n⏱ %s",
		summary.Synced, summary.Failed, summary.Retried, summary.Duration.Round(time.Millisecond)), nil
}

func (b *Bot) handleRetry(ctx context.Context) (string, error) {
	n, err := b.queue.RetryFailed(ctx)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "Упавших действий нет.", nil
	}
	return fmt.Sprintf("🔁 Возвращено в очередь: %d", n), nil
}

func (b *Bot) handleSweep(ctx context.Context) (string, error) {
	n, err := b.queue.Sweep(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("🧹 Удалено: %d", n), nil
}
