package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"studysync/internal/clock"
	"studysync/internal/config"
	"studysync/internal/connectivity"
	"studysync/internal/database"
	"studysync/internal/domain"
	"studysync/internal/events"
	"studysync/internal/notify"
	"studysync/internal/repository"
	"studysync/internal/service"
	"studysync/internal/transport"
	"studysync/internal/worker"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// App holds every long-lived component built from one config.
type App struct {
	Config       *config.Config
	Logger       *zerolog.Logger
	Store        domain.QueueStore
	DB           *database.DB
	Redis        *redis.Client
	Telegram     *tgbotapi.BotAPI
	EventBus     *events.EventBus
	Monitor      *connectivity.Monitor
	Notifier     *notify.Fanout
	Sweeper      *worker.Sweeper
	Orchestrator *worker.Orchestrator
	Queue        *service.QueueService

	closers []io.Closer
}

// ConfigPath returns CONFIG_PATH or the default location.
func ConfigPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "configs/config.yaml"
}

// New wires the queue from cfg. Callers own Close.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger, EventBus: events.NewEventBus()}

	if cfg.Redis.Address != "" {
		a.Redis = repository.NewRedisClient(cfg.Redis)
		a.closers = append(a.closers, a.Redis)
		if err := repository.Ping(ctx, a.Redis); err != nil {
			logger.Warn().Err(err).Msg("Redis unavailable")
		}
	}

	if err := a.openStore(); err != nil {
		_ = a.Close()
		return nil, err
	}

	tr, err := transport.NewHTTPTransport(cfg.Remote)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	clk := clock.System{}
	a.Monitor = connectivity.NewMonitor(cfg.Connectivity, a.EventBus, logger)
	a.Notifier = a.buildNotifiers()
	a.Sweeper = worker.NewSweeper(a.Store, clk, logger)
	a.Orchestrator = worker.NewOrchestrator(a.Store, tr, a.Monitor, clk, a.Notifier, a.Sweeper, logger)
	if lease, ok := a.Store.(domain.PassLease); ok {
		a.Orchestrator.UseLease(lease, cfg.Sync.LeaseTTL)
	}
	a.Queue = service.NewQueueService(a.Store, a.Orchestrator, a.Sweeper, a.Monitor, clk, a.EventBus, logger)

	return a, nil
}

func (a *App) openStore() error {
	cfg := a.Config
	switch cfg.Storage.Driver {
	case config.StorageRedis:
		if a.Redis == nil {
			return fmt.Errorf("storage driver redis requires redis.address")
		}
		a.Store = repository.NewRedisQueueStore(a.Redis, cfg.Storage.RedisPrefix)
	case config.StorageMemory:
		a.Store = repository.NewMemoryQueueStore()
	default:
		db, err := database.NewDB(cfg.Storage.Path, a.Logger)
		if err != nil {
			return err
		}
		a.DB = db
		a.Store = db
		a.closers = append(a.closers, db)
	}
	a.Logger.Info().Str("driver", cfg.Storage.Driver).Msg("Queue store ready")
	return nil
}

func (a *App) buildNotifiers() *notify.Fanout {
	cfg := a.Config.Notify
	fan := notify.NewFanout(cfg.Timeout, a.Logger, notify.NewEventNotifier(a.EventBus))

	if cfg.Log {
		fan.Add(notify.NewLogNotifier(a.Logger))
	}
	if cfg.RedisChannel != "" && a.Redis != nil {
		fan.Add(notify.NewRedisNotifier(a.Redis, cfg.RedisChannel))
	}
	if cfg.Telegram.BotToken != "" {
		bot, err := notify.NewTelegramBot(cfg.Telegram.BotToken)
		if err != nil {
			a.Logger.Warn().Err(err).Msg("Telegram notifications disabled")
		} else {
			a.Telegram = bot
			fan.Add(notify.NewTelegramNotifier(bot, cfg.Telegram.ChatID))
		}
	}
	return fan
}

// Close waits for background work and releases storage connections.
func (a *App) Close() error {
	if a.Queue != nil {
		a.Queue.Wait()
	}
	if a.Notifier != nil {
		a.Notifier.Wait()
	}
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	return firstErr
}
