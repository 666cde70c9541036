package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"whatsapp-sync/internal/audit"
	"whatsapp-sync/internal/config"
	"whatsapp-sync/internal/crypto"
	"whatsapp-sync/internal/directory"
	"whatsapp-sync/internal/event_publisher"
	"whatsapp-sync/internal/metrics"
	"whatsapp-sync/internal/models"
	"whatsapp-sync/internal/provider"
	"whatsapp-sync/internal/provider/twilio"
	"whatsapp-sync/internal/provider/wassenger"
	"whatsapp-sync/internal/provider/whapi"
	"whatsapp-sync/internal/provider_client"
	"whatsapp-sync/internal/repository"
	"whatsapp-sync/internal/repository/memstore"
	"whatsapp-sync/internal/scheduler"
	"whatsapp-sync/internal/server"
	"whatsapp-sync/internal/service"
	"whatsapp-sync/internal/sync_engine"
	"whatsapp-sync/internal/telegram_bot"
	"whatsapp-sync/internal/webhook_processor"
)

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err) // Should not happen in development
	}
	defer func() {
		_ = logger.Sync() // Flushes buffer, if any
	}()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn("Failed to load .env", zap.Error(err))
	}

	// Load configuration
	cfgPath := "configs/config.yml"
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		cfgPath = p
	}
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	if cfg.Auth.JWTSecret == "" {
		logger.Fatal("auth.jwt_secret must be set")
	}

	// Storage: postgres when configured, in-memory otherwise
	var store *repository.Store
	if cfg.Database.URL != "" {
		db, err := repository.NewPostgresDB(cfg.Database.URL, logger)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()

		repository.MigrateDB(db, cfg.Database.MigrationsPath, logger)
		store = repository.NewPostgresStore(db, logger, log)
	} else {
		logger.Warn("database.url is empty, using in-memory storage; data is lost on restart")
		store = memstore.New()
	}

	// Initialize KeyManager for provider token encryption
	keyManager, err := crypto.NewKeyManager()
	if err != nil {
		logger.Fatal("Failed to initialize KeyManager", zap.Error(err))
	}
	logger.Info("KeyManager initialized successfully")

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)
	recorder := audit.NewRecorder(store.AuditLogs, m, logger)

	providers := provider.NewRegistry()
	providers.Register(models.ProviderWhapi, whapi.New)
	providers.Register(models.ProviderWassenger, wassenger.New)
	providers.Register(models.ProviderTwilio, twilio.New)

	factory := provider.NewFactory(providers, store.Configurations, keyManager, provider.Dependencies{
		HTTPClient: &http.Client{},
		Recorder:   recorder,
		Logger:     logger,
		Limiters:   provider_client.NewLimiterPool(cfg.Providers.RateLimitRPS, cfg.Providers.RateLimitBurst),
		MaxRetries: cfg.Providers.MaxRetries,
		RetryDelay: time.Duration(cfg.Providers.RetryDelayMs) * time.Millisecond,
	}, map[string]provider.Settings{
		models.ProviderWhapi: {
			BaseURL:       cfg.Providers.Whapi.BaseURL,
			WebhookSecret: cfg.Providers.Whapi.WebhookSecret,
		},
		models.ProviderWassenger: {BaseURL: cfg.Providers.Wassenger.BaseURL},
		models.ProviderTwilio:    {BaseURL: cfg.Providers.Twilio.BaseURL},
	}, cfg.Providers.Default, logger)

	// Events
	var publisher event_publisher.Publisher = event_publisher.NewNopPublisher(logger)
	if cfg.Events.Enabled {
		p, err := event_publisher.NewAMQPPublisher(cfg.Events.AMQPURL, cfg.Events.Exchange, logger)
		if err != nil {
			logger.Warn("Failed to connect event publisher, continuing without events", zap.Error(err))
		} else {
			publisher = p
		}
	}
	defer publisher.Close()

	// Initialize Telegram bot for sync notifications
	bot, err := telegram_bot.NewBot(cfg.Notifier.Enabled, cfg.Notifier.TelegramBotToken, cfg.Notifier.AdminChatID, store.SyncRuns, logger)
	if err != nil {
		logger.Warn("Failed to initialize Telegram bot, continuing without it", zap.Error(err))
		bot = nil
	}
	var notifier sync_engine.Notifier
	if bot != nil {
		notifier = bot
	}

	dir := directory.New(store, logger)
	engine := sync_engine.NewEngine(factory, store, dir, recorder, m, publisher, notifier, logger, sync_engine.Options{
		MessageCount:      cfg.Sync.MessageBatchCount,
		MessageWindowDays: cfg.Sync.MessageWindowDays,
	})
	processor := webhook_processor.NewProcessor(store, dir, factory, publisher, m, logger)
	auditService := audit.NewService(store.AuditLogs, logger)

	bot.SetTrigger(func(ctx context.Context) (*models.SyncRun, error) {
		return engine.SyncAll(ctx, sync_engine.TriggerManual)
	})

	// Context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Background jobs
	jobs := scheduler.New(logger)
	if cfg.Sync.Enabled {
		if err := jobs.Add("full-sync", cfg.Sync.Cron, func(ctx context.Context) error {
			_, err := engine.SyncAll(ctx, sync_engine.TriggerCron)
			return err
		}); err != nil {
			logger.Fatal("Invalid sync schedule", zap.Error(err))
		}
	}
	if err := jobs.Add("audit-cleanup", cfg.Audit.CleanupCron, func(ctx context.Context) error {
		_, err := auditService.Cleanup(cfg.Audit.RetentionDays)
		return err
	}); err != nil {
		logger.Fatal("Invalid audit cleanup schedule", zap.Error(err))
	}
	go jobs.Run(ctx)

	// Run Telegram bot in a goroutine (if enabled)
	if bot != nil {
		go func() {
			if err := bot.Start(ctx); err != nil {
				logger.Error("Telegram bot failed", zap.Error(err))
			}
		}()
	}

	// Initialize and run the server
	srv := server.NewServer(server.Dependencies{
		Store:          store,
		Auth:           service.NewAuthService(store.Users, []byte(cfg.Auth.JWTSecret), time.Duration(cfg.Auth.TokenTTLHours)*time.Hour, logger),
		Messaging:      service.NewMessagingService(factory, store, dir, publisher, logger),
		Configurations: service.NewConfigurationService(store.Configurations, factory, keyManager, logger),
		Audit:          auditService,
		Engine:         engine,
		Processor:      processor,
		Providers:      factory.ProviderNames(),
		Gatherer:       registry,
		Logger:         logger,
	}, log)
	if err := srv.Run(ctx, cfg.Server.Port); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
	}

	logger.Info("Application stopped.")
}
