// Package app wires configuration, logging, the bus, the three
// exchange sources, the aggregator, the oracle, the alert engine, the
// state surface, the notifier, and the dashboard broadcaster into a
// single runnable service.
package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"btc-loan-sentinel/internal/aggregator"
	"btc-loan-sentinel/internal/alertengine"
	"btc-loan-sentinel/internal/bus"
	"btc-loan-sentinel/internal/config"
	"btc-loan-sentinel/internal/dashboard"
	"btc-loan-sentinel/internal/notify"
	"btc-loan-sentinel/internal/oracle"
	"btc-loan-sentinel/internal/source"
	"btc-loan-sentinel/internal/state"
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

func (a *App) openStore(ctx context.Context) (state.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return state.NewMemStore(), func() {}, nil
	}

	pool, err := state.NewPool(ctx, a.Config.Database.DSN)
	if err != nil {
		return nil, nil, err
	}

	store := state.NewPGStore(pool)
	return store, store.Close, nil
}

func (a *App) newNotifier() notify.Notifier {
	if a.Config.Notify.Enabled {
		cfg := a.Config.Notify
		return notify.NewHTTPNotifier(cfg.BotToken, cfg.APIBase, cfg.RequestTimeout, a.Logger)
	}
	return notify.NewLogNotifier(a.Logger)
}

// Run wires and starts every component, blocking until ctx is canceled
// or a SIGINT/SIGTERM arrives, then shuts down in dependency order.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()
	if a.Config.Database.DSN == "" {
		a.Logger.Warn().Msg("database.dsn not configured; using in-memory state surface")
	}

	eventBus := bus.New()
	notifier := a.newNotifier()

	agg := aggregator.New(aggregator.Config{
		TWAPWindow:        secondsToDuration(a.Config.Oracle.TWAPWindowSeconds),
		CircuitBreakerPct: percentToDecimal(a.Config.Oracle.CircuitBreakerPct),
		MinSources:        a.Config.Oracle.MinSources,
	})

	srcs := []*source.Source{
		source.NewKraken(eventBus),
		source.NewCoinbase(eventBus),
		source.NewBitstamp(eventBus),
	}

	orc := oracle.New(oracle.Config{
		PollInterval: msToDuration(a.Config.Oracle.PricePollIntervalMS),
		MinSources:   a.Config.Oracle.MinSources,
	}, eventBus, agg, srcs)

	_ = alertengine.New(eventBus, store, notifier)
	broadcaster := dashboard.NewBroadcaster(eventBus)
	broadcaster.Start(ctx)

	a.Logger.Info().Msg("starting price oracle and alert engine")
	orc.Start(ctx)

	<-ctx.Done()
	orc.Stop()

	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}
	a.Logger.Info().Msg("service stopped")
	return nil
}

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

func msToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func percentToDecimal(pct int) decimal.Decimal {
	return decimal.NewFromInt(int64(pct))
}
