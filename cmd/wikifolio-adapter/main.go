package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"

	"github.com/Checker-Finance/wikifolio-adapter/internal/api"
	"github.com/Checker-Finance/wikifolio-adapter/internal/config"
	"github.com/Checker-Finance/wikifolio-adapter/internal/jobs"
	"github.com/Checker-Finance/wikifolio-adapter/internal/journal"
	"github.com/Checker-Finance/wikifolio-adapter/internal/publisher"
	"github.com/Checker-Finance/wikifolio-adapter/internal/rabbitmq"
	"github.com/Checker-Finance/wikifolio-adapter/internal/rate"
	internalsecrets "github.com/Checker-Finance/wikifolio-adapter/internal/secrets"
	"github.com/Checker-Finance/wikifolio-adapter/internal/service"
	"github.com/Checker-Finance/wikifolio-adapter/internal/store"
	"github.com/Checker-Finance/wikifolio-adapter/internal/wikifolio"
	"github.com/Checker-Finance/wikifolio-adapter/pkg/logger"
	"github.com/Checker-Finance/wikifolio-adapter/pkg/secrets"
	"github.com/Checker-Finance/wikifolio-adapter/pkg/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Load configuration ---
	cfg := config.Load()

	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	logg := logger.S()
	logg.Info("starting [wikifolio-adapter]...")
	if cfg.DatabaseURL != "" {
		logg.Info("connection to DSN: ", utils.MaskDSN(cfg.DatabaseURL))
	}

	// --- Credentials: environment pair or AWS Secrets Manager ---
	stopCleaner := make(chan struct{})
	var creds wikifolio.CredentialSource
	if cfg.HasStaticCredentials() {
		logg.Infow("using wikifolio credentials from environment", "email", utils.MaskEmail(cfg.Email))
		creds = wikifolio.StaticCredentials{Email: cfg.Email, Password: cfg.Password}
	} else {
		awsProvider, err := secrets.NewAWSProvider(cfg.AWSRegion)
		if err != nil {
			logg.Fatalw("failed to create AWS Secrets Manager provider", "error", err)
		}
		credsCache := secrets.NewCache[secrets.Credentials](cfg.CredentialsTTL)
		go credsCache.StartCleaner(time.Minute, stopCleaner)
		creds = internalsecrets.NewCredentialsResolver(logger.Named("secrets"), cfg.Env, cfg.SecretName, awsProvider, credsCache)
	}

	// --- Store (Redis + optional Postgres) ---
	st, err := store.NewHybrid(cfg.RedisAddr, cfg.RedisDB, cfg.RedisPass, cfg.DatabaseURL, store.PGPoolConfig{
		MaxConns:          int32(cfg.PGMaxConns),
		MinConns:          int32(cfg.PGMinConns),
		MaxConnLifetime:   cfg.PGMaxConnLifetime,
		MaxConnIdleTime:   cfg.PGMaxConnIdleTime,
		HealthCheckPeriod: cfg.PGHealthCheckPeriod,
	}, logger.Named("store"))
	if err != nil {
		logg.Fatalw("failed to init store", "error", err)
	}

	// --- Order journal (only with Postgres) ---
	var orderJournal service.Journal
	if st.PG != nil {
		orderJournal = journal.New(st.PG, logger.Named("journal"), cfg.ServiceName)
	}

	// --- Connect to NATS ---
	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		logg.Fatalw("failed to connect to NATS", "error", err)
	}

	// --- Publisher ---
	pub, err := publisher.New(nc, cfg.ServiceName)
	if err != nil {
		logg.Fatalw("failed to init publisher", "error", err)
	}

	// --- Wikifolio client ---
	client, err := wikifolio.New(wikifolio.Options{
		BaseURL:      cfg.BaseURL,
		Language:     cfg.Language,
		Country:      cfg.Country,
		Credentials:  creds,
		PageSize:     cfg.PageSize,
		SessionTTL:   cfg.SessionTTL,
		QuoteTimeout: cfg.QuoteTimeout,
		RetryMax:     cfg.RetryMax,
		Rate: rate.Config{
			RequestsPerSecond: cfg.RateLimit,
			Burst:             cfg.RateBurst,
			Cooldown:          2 * time.Second,
		},
		SessionStore: st,
		Logger:       logger.Named("wikifolio"),
	})
	if err != nil {
		logg.Fatalw("failed to init wikifolio client", "error", err)
	}

	// --- Service and order watcher ---
	svc := service.New(logger.Named("service"), client, pub, orderJournal, st)
	watcher := service.NewOrderWatcher(ctx, logger.Named("watcher"), svc, pub, orderJournal,
		cfg.OrderPollInterval, cfg.OrderWatchTimeout)
	svc.SetWatcher(watcher)

	// --- Price refresher ---
	refresher := jobs.NewPriceRefresher(logger.Named("prices"), svc, st, pub,
		cfg.PriceRefreshSymbols, cfg.PriceRefreshInterval, cfg.PriceSnapshotTTL)
	go refresher.Start(ctx)

	// --- RabbitMQ command consumer (optional) ---
	var consumer *rabbitmq.Consumer
	if cfg.RabbitMQURL != "" {
		consumer, err = rabbitmq.NewConsumer(cfg.RabbitMQURL, "wikifolio", svc, logger.L())
		if err != nil {
			logg.Fatalw("failed to init rabbitmq consumer", "error", err)
		}
		if err := consumer.Start(ctx); err != nil {
			logg.Fatalw("failed to start rabbitmq consumer", "error", err)
		}
	}

	// --- Fiber HTTP Server ---
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
		BodyLimit:    cfg.HTTPBodyLimit,
	})
	api.RegisterRoutes(app, nc, st, api.NewWikifolioHandler(logger.Named("api"), svc))

	go func() {
		logg.Infof("HTTP API listening on :%d", cfg.Port)
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logg.Fatalw("fiber.listen_failed", "error", err)
		}
	}()

	logg.Infow("[wikifolio-adapter] running",
		"nats", cfg.NATSURL,
		"env", cfg.Env,
		"locale", cfg.Language+"/"+cfg.Country,
		"order_poll_interval", cfg.OrderPollInterval,
		"price_symbols", len(cfg.PriceRefreshSymbols),
		"journal", orderJournal != nil,
		"rabbitmq", consumer != nil)

	<-ctx.Done()
	logg.Info("shutting down [wikifolio-adapter]...")

	close(stopCleaner)
	refresher.Stop()
	watcher.Stop()
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			logg.Warnw("rabbitmq.close_failed", "error", err)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logg.Warnw("fiber.shutdown_failed", "error", err)
	}
	if err := nc.Drain(); err != nil {
		logg.Warnw("nats.drain_failed", "error", err)
	}
	if err := st.Close(); err != nil {
		logg.Warnw("store.close_failed", "error", err)
	}
}
