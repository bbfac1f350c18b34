package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/mixelka/outreachbot/internal/ai"
	"github.com/mixelka/outreachbot/internal/config"
	"github.com/mixelka/outreachbot/internal/database"
	"github.com/mixelka/outreachbot/internal/email"
	"github.com/mixelka/outreachbot/internal/formatter"
	"github.com/mixelka/outreachbot/internal/inbox"
	"github.com/mixelka/outreachbot/internal/ledger"
	"github.com/mixelka/outreachbot/internal/outreach"
	"github.com/mixelka/outreachbot/internal/parser"
	"github.com/mixelka/outreachbot/internal/secret"
	"github.com/mixelka/outreachbot/internal/telegram"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting outreach bot")

	// Connect to database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Run migrations
	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations completed")

	cipher, err := secret.New(cfg.EncryptionKey)
	if err != nil {
		logger.Error("failed to create cipher", "error", err)
		os.Exit(1)
	}

	loc, err := cfg.Location()
	if err != nil {
		logger.Error("failed to load timezone", "error", err)
		os.Exit(1)
	}

	// Create components
	htmlParser := parser.NewHTMLParser()
	prober := email.NewProber(email.ProberConfig{
		Port:        cfg.ProbePort,
		Timeout:     cfg.ProbeTimeout,
		MailFrom:    cfg.ProbeMailFrom,
		HelloDomain: cfg.SMTPHelloDomain,
	}, logger)
	sender := email.NewSender(email.SenderConfig{
		RelayAddr:   cfg.SMTPRelayAddr,
		RequireTLS:  cfg.SMTPRequireTLS,
		Timeout:     cfg.SMTPTimeout,
		HelloDomain: cfg.SMTPHelloDomain,
	}, cipher.Decrypt, logger)
	fetcher := email.NewFetcher(email.FetcherConfig{
		Server:      cfg.IMAPServer,
		DialTimeout: cfg.IMAPDialTimeout,
		Timeout:     cfg.IMAPTimeout,
	}, cipher.Decrypt, htmlParser, logger)

	aiClient := ai.NewClient(ai.Config{
		BaseURL:   cfg.AIBaseURL,
		Model:     cfg.AIModel,
		MaxTokens: cfg.AIMaxTokens,
		Timeout:   cfg.AITimeout,
	})

	conversations := ledger.New(db)
	service := outreach.NewService(outreach.Config{
		LogDir: cfg.LogDir,
		Domain: cfg.ProbeDomain,
	}, db, prober, sender, conversations, aiClient, logger)

	// Create bot
	bot, err := telegram.NewBot(telegram.BotDeps{
		Config:    cfg,
		DB:        db,
		Outreach:  service,
		Ledger:    conversations,
		Fetcher:   fetcher,
		Cipher:    cipher,
		Formatter: formatter.NewTelegramFormatter(loc),
		Logger:    logger,
	})
	if err != nil {
		logger.Error("failed to create bot", "error", err)
		os.Exit(1)
	}

	watcher := inbox.New(inbox.Config{
		Interval:       cfg.InboxPollInterval,
		AccountTimeout: cfg.InboxAccountLimit,
	}, db, fetcher, conversations, bot, logger)

	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		watcher.Run(ctx)
	}()

	// Start bot
	logger.Info("bot is running, press Ctrl+C to stop")
	bot.Start(ctx)

	logger.Info("shutting down...")
	<-watcherDone

	// Running tasks are detached from ctx and finish their batch
	logger.Info("waiting for running tasks")
	service.Wait()

	logger.Info("bot stopped")
}

func setupLogger(level, format string) *slog.Logger {
	var handler slog.Handler
	logLevel := parseLevel(level)

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		})
	} else {
		// Pretty colored output for console
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.DateTime,
			NoColor:    false,
		})
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
