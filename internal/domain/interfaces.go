package domain

import (
	"context"
	"time"

	"studysync/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// QueueStore is the durable table of queued actions.
type QueueStore interface {
	Add(ctx context.Context, action *models.QueuedAction) (string, error)
	Get(ctx context.Context, id string) (*models.QueuedAction, error)
	List(ctx context.Context, filter models.ActionFilter) ([]models.QueuedAction, error)
	Update(ctx context.Context, id string, patch models.ActionPatch) error
	Remove(ctx context.Context, id string) error
	Clear(ctx context.Context) error
}

// PassLease makes sync passes exclusive across every process that shares a store.
// AcquireLease succeeds when the lease is free, expired or already held by owner,
// and extends it by ttl in that case.
type PassLease interface {
	AcquireLease(ctx context.Context, owner string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, owner string) error
}

// Transport performs a single delivery attempt. A nil error means the remote accepted it.
type Transport interface {
	Deliver(ctx context.Context, req models.DeliveryRequest) error
}

type ConnectivityProvider interface {
	IsOnline() bool
	OnOnline(callback func())
}

type Clock interface {
	Now() time.Time
}

// Notifier receives one summary per sync pass. Implementations must not block for long.
type Notifier interface {
	Summarize(ctx context.Context, summary models.SyncSummary) error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramService is the slice of the Bot API used by the command bot.
type TelegramService interface {
	TelegramSender
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	GetSelf() tgbotapi.User
	StopReceivingUpdates()
}
