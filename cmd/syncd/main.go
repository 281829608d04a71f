package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"studysync/internal/api"
	"studysync/internal/app"
	"studysync/internal/bot"
	"studysync/internal/config"
	"studysync/internal/database"
	"studysync/internal/logging"
	"studysync/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Ошибка инициализации очереди")
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close queue storage")
		}
	}()

	// Переход в онлайн запускает синхронизацию
	a.Monitor.OnOnline(func() {
		logger.Info().Msg("Back online, starting sync pass")
		a.Queue.TriggerAsync(ctx)
	})
	go a.Monitor.Start(ctx)
	go a.Sweeper.Start(ctx, cfg.Cleanup.Interval)

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		prometheus.MustRegister(metrics.NewQueueCollector(a.Queue))
	}

	if cfg.Notify.Telegram.Commands && a.Telegram != nil {
		var reg prometheus.Registerer
		if cfg.Monitoring.PrometheusEnabled {
			reg = prometheus.DefaultRegisterer
		}
		commandBot := bot.NewBot(bot.NewBotWrapper(a.Telegram), cfg.Notify.Telegram, a.Queue, bot.NewMetrics(reg), logger)
		go commandBot.Start(ctx)
	}

	if cfg.Backup.Enabled {
		if a.DB == nil {
			logger.Warn().Str("driver", cfg.Storage.Driver).Msg("Backups need the sqlite driver, skipping")
		} else {
			backupService := database.NewBackupService(a.DB, cfg.Backup, logger)
			go backupService.Start(ctx)
		}
	}

	if cfg.API.Enabled {
		apiServer := api.NewHTTPServer(cfg.API, a.Queue, cfg.Monitoring.PrometheusEnabled, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error().Err(err).Msg("API server error")
				stop()
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = apiServer.Shutdown(shutdownCtx)
		}()
	}

	// Разбираем то, что накопилось до перезапуска
	if a.Monitor.IsOnline() {
		a.Queue.TriggerAsync(ctx)
	}

	logger.Info().Str("driver", cfg.Storage.Driver).Bool("online", a.Monitor.IsOnline()).Msg("Sync daemon started")
	<-ctx.Done()
	logger.Info().Msg("Shutting down")
	return nil
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	cfg, err := config.Load(app.ConfigPath())
	if err != nil {
		return nil, nil, nil, err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, logging.Component(baseLogger, "syncd"), closer, nil
}
