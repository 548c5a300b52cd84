package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Kenblair1226/bitfinex-lending-bot/internal/alerting"
	"github.com/Kenblair1226/bitfinex-lending-bot/internal/config"
	"github.com/Kenblair1226/bitfinex-lending-bot/internal/exchange"
	"github.com/Kenblair1226/bitfinex-lending-bot/internal/scheduler"
	"github.com/Kenblair1226/bitfinex-lending-bot/internal/service"
	"github.com/Kenblair1226/bitfinex-lending-bot/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newSource() exchange.Source {
	return exchange.NewBitfinex(exchange.BitfinexOptions{
		BaseURL:    a.Config.Bitfinex.BaseURL,
		APIKey:     a.Config.Bitfinex.APIKey,
		APISecret:  a.Config.Bitfinex.APISecret,
		Timeout:    a.Config.Bitfinex.RequestTimeout,
		UserAgent:  a.Config.Bitfinex.UserAgent,
		Currencies: a.Config.Monitor.Currencies,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	var channels []alerting.Notifier

	if cfg := a.Config.Alerting.Telegram; cfg.Enabled {
		channels = append(channels, alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger))
	}
	if cfg := a.Config.Alerting.Discord; cfg.Enabled {
		channels = append(channels, alerting.NewDiscordNotifier(cfg.WebhookURL, 10*time.Second, a.Logger))
	}
	if cfg := a.Config.Alerting.Slack; cfg.Enabled {
		channels = append(channels, alerting.NewSlackNotifier(cfg.WebhookURL, 10*time.Second, a.Logger))
	}
	if cfg := a.Config.Alerting.Email; cfg.Enabled {
		channels = append(channels, alerting.NewEmailNotifier(alerting.EmailOptions{
			Host:     cfg.Host,
			Port:     cfg.Port,
			Username: cfg.Username,
			Password: cfg.Password,
			From:     cfg.From,
			To:       cfg.To,
		}, a.Logger))
	}

	if len(channels) == 0 {
		return nil
	}
	return alerting.NewFanout(channels, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; state will not survive restart")
	}
	if closeStore != nil {
		defer closeStore()
	}

	sched := scheduler.New(scheduler.Options{
		Interval:        a.Config.Scheduler.Interval,
		AlignToInterval: a.Config.Scheduler.AlignToInterval,
		StartupDelay:    a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	source := a.newSource()
	notifier := a.newNotifier()
	if notifier == nil {
		a.Logger.Warn().Msg("no notification channels enabled; changes will only be logged")
	}

	var snapStore storage.SnapshotStore
	var recStore storage.RecordStore
	var alertStore storage.AlertStore
	if store != nil {
		snapStore = store
		recStore = store
		alertStore = store
	}

	svc := service.New(a.Config, sched, source, snapStore, recStore, alertStore, notifier, a.Logger)

	a.Logger.Info().Msg("starting funding monitor")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("funding monitor terminated with error")
		return err
	}

	a.Logger.Info().Msg("funding monitor stopped")
	return nil
}
