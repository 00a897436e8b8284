package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"raven/config"
	"raven/internal/evaluate"
	"raven/internal/market"
	"raven/internal/notify"
	"raven/internal/session"
	"raven/internal/stream"
	"raven/logger"
	"raven/pkg/feed"
	"raven/pkg/storage/postgres"

	"go.uber.org/zap"
)

func main() {
	// viper config
	cfg := config.Load()

	// zap logger
	log, err := logger.New(cfg.Log)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer log.Sync()

	calendar, err := market.NewCalendar(cfg.Market.Timezone, cfg.Market.Open, cfg.Market.Close)
	if err != nil {
		log.Fatal("invalid market calendar", zap.Error(err))
	}

	window, err := market.ParseWindow(cfg.Candle.Window)
	if err != nil {
		log.Fatal("invalid candle window", zap.Error(err))
	}

	store, err := postgres.InitializeAndMigrate(cfg.Postgres, cfg.Log.Environment, true)
	if err != nil {
		log.Fatal("failed to connect to DB", zap.Error(err))
	}
	defer store.Close()

	notifier := notify.NewWhatsAppNotifier(cfg.Notify, log)
	evaluator := evaluate.NewEvaluator(store, notifier, log)

	// One session per connection cycle: fresh feed client and aggregator,
	// so a new cycle never inherits stale candle state.
	newSession := func() session.Session {
		agg := market.NewAggregator(window.Duration, calendar.Location(), cfg.Candle.HistorySize)
		wsFeed := feed.NewWSFeed(cfg.Feed.URL, cfg.Feed.APIKey, cfg.Feed.AccessToken,
			cfg.Feed.DialTimeout, cfg.Feed.MaxReconnectAttempts, log)
		manager := stream.NewManager(wsFeed, agg, evaluator, store, calendar,
			cfg.Candle.FlushInterval, log)
		manager.ConnectFailureHook = func(connErr error) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			admins, adminErr := store.AdminUsers(ctx)
			if adminErr != nil {
				log.Error("failed to load admin users", zap.Error(adminErr))
				return
			}
			notifier.FeedLoginFailed(admins)
		}
		wsFeed.SetHandlers(manager.Handlers())
		return manager
	}

	scheduler := session.NewScheduler(calendar, newSession, log)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	log.Info("starting raven",
		zap.String("window", window.Label),
		zap.String("market_open", cfg.Market.Open),
		zap.String("market_close", cfg.Market.Close))
	scheduler.Run(ctx)
}
