package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ruijietay/Dabao4Me/internal/bot"
	"github.com/ruijietay/Dabao4Me/internal/engine"
	"github.com/ruijietay/Dabao4Me/internal/store"
	"github.com/ruijietay/Dabao4Me/internal/telegram"
)

func main() {
	// Optional .env for local runs; environment wins in production.
	_ = godotenv.Load()

	config := loadConfig()

	logger, err := newLogger(config.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	logger.Info("starting Dabao4Me bot")

	db, err := store.OpenSQLite(config.DBPath)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	client, err := telegram.New(config.TelegramToken, logger.Named("telegram"))
	if err != nil {
		logger.Fatal("failed to initialize telegram client", zap.Error(err))
	}

	lifecycle := engine.NewLifecycle(db, client, logger.Named("lifecycle"))
	matcher := engine.NewMatcher(db, db, logger.Named("matcher"))
	relay := engine.NewRelay(db, client, logger.Named("relay"))
	handshake := engine.NewHandshake(db, client, logger.Named("handshake"))
	ledger := engine.NewLedger(db, db, logger.Named("ledger"))

	router := bot.New(lifecycle, matcher, relay, handshake, ledger, client, logger.Named("bot"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return client.Listen(ctx, router.Handle)
	})

	group.Go(func() error {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: config.MetricsAddr, Handler: mux}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	// Background cleanup of long-terminated requests.
	group.Go(func() error {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				purged, err := db.PurgeTerminal(ctx, config.PurgeAge)
				if err != nil {
					logger.Warn("purging old requests", zap.Error(err))
				} else if purged > 0 {
					logger.Info("purged old requests", zap.Int64("count", purged))
				}
			}
		}
	})

	logger.Info("bot is running")
	if err := group.Wait(); err != nil && err != context.Canceled {
		logger.Fatal("bot error", zap.Error(err))
	}
}

type Config struct {
	TelegramToken string
	DBPath        string
	MetricsAddr   string
	LogLevel      string
	PurgeAge      time.Duration
}

func loadConfig() Config {
	return Config{
		TelegramToken: mustGetEnv("TELEGRAM_BOT_TOKEN"),
		DBPath:        getEnvOrDefault("DB_PATH", "./data/dabao4me.db"),
		MetricsAddr:   getEnvOrDefault("METRICS_ADDR", ":9090"),
		LogLevel:      getEnvOrDefault("LOG_LEVEL", "info"),
		PurgeAge:      getDurationOrDefault("PURGE_AGE", 7*24*time.Hour),
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg.Level = lvl
	return cfg.Build()
}

func mustGetEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		panic("required environment variable " + key + " is not set")
	}
	return value
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
