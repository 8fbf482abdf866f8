package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/tofagerl/mailmind/internal/claim"
	"github.com/tofagerl/mailmind/internal/classifier"
	"github.com/tofagerl/mailmind/internal/config"
	"github.com/tofagerl/mailmind/internal/database"
	"github.com/tofagerl/mailmind/internal/email"
	"github.com/tofagerl/mailmind/internal/logging"
	"github.com/tofagerl/mailmind/internal/metrics"
	"github.com/tofagerl/mailmind/internal/monitor"
	"github.com/tofagerl/mailmind/internal/notify"
	"github.com/tofagerl/mailmind/internal/parser"
)

func main() {
	configPath := flag.String("config", "", "accounts file (overrides ACCOUNTS_FILE)")
	once := flag.Bool("once", false, "process every account once and exit")
	encrypt := flag.Bool("encrypt", false, "read a password from stdin and print its enc: form")
	flag.Parse()

	if err := run(*configPath, *once, *encrypt); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(configPath string, once, encrypt bool) error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if configPath != "" {
		cfg.AccountsFile = configPath
	}

	secrets := config.NewSecrets(cfg.EncryptionKey)
	if encrypt {
		return encryptPassword(secrets)
	}

	// Setup logger
	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting mailmind", "once", once)

	accounts, err := config.LoadAccounts(cfg.AccountsFile)
	if err != nil {
		return err
	}

	// Connect to database
	db, err := database.New(cfg.DatabasePath, cfg.DatabaseDriver)
	if err != nil {
		return err
	}
	defer db.Close()

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Run migrations
	if err := db.Migrate(ctx); err != nil {
		return err
	}
	for _, acc := range accounts {
		if err := db.SyncCategories(ctx, acc); err != nil {
			return err
		}
	}
	logger.Info("database ready", "path", cfg.DatabasePath, "accounts", len(accounts))

	// Create components
	htmlParser := parser.NewHTMLParser()

	oracle, err := classifier.NewOracle(cfg)
	if err != nil {
		return err
	}
	gateway := classifier.NewGateway(oracle, classifier.GatewayConfig{
		MaxBatch: cfg.BatchSize,
		Timeout:  cfg.OracleTimeout,
	}, htmlParser, logger)

	manager := email.NewManager(cfg.IMAPMaxConnections, email.DialSession(cfg, secrets, htmlParser, logger), logger)

	deps := monitor.Deps{
		Store:      db,
		Classifier: gateway,
		Mover:      email.NewRelocator(logger),
		Logger:     logger,
	}

	// Redis claim lock (optional)
	if cfg.ClaimEnabled() {
		claimer, err := claim.NewRedisClaimer(cfg.RedisURL, cfg.ClaimTTL, logger)
		if err != nil {
			return err
		}
		defer claimer.Close()
		deps.Claimer = claimer
		logger.Info("redis claim lock enabled")
	}

	// Telegram notifications (optional)
	if cfg.TelegramEnabled() {
		notifier, err := notify.NewTelegram(notify.TelegramConfig{
			Token:   cfg.TelegramToken,
			ChatID:  cfg.TelegramChatID,
			TopicID: cfg.TelegramTopicID,
		}, logger)
		if err != nil {
			return err
		}
		deps.Notifier = notifier
		logger.Info("telegram notifications enabled", "chat_id", cfg.TelegramChatID)
	}

	if cfg.MetricsAddr != "" {
		go metrics.Serve(ctx, cfg.MetricsAddr, logger)
	}

	processor := monitor.NewProcessor(accounts, manager, deps, monitor.ProcessorConfig{
		Options: monitor.Options{
			MaxEmailsPerRun:    cfg.MaxEmailsPerRun,
			BatchSize:          cfg.BatchSize,
			MoveEmails:         cfg.MoveEmails,
			IdleTimeout:        cfg.IMAPIdleTimeout,
			ReconnectBaseDelay: cfg.ReconnectBaseDelay,
			ReconnectMaxDelay:  cfg.ReconnectMaxDelay,
		},
		StateRetentionDays: cfg.StateRetentionDays,
		CleanupInterval:    cfg.CleanupInterval,
		ShutdownGrace:      cfg.ShutdownGrace,
	})

	if once {
		defer manager.CloseAll()
		if err := processor.ProcessAll(ctx); err != nil {
			logger.Error("processing finished with errors", "error", err)
			return err
		}
		logger.Info("processing finished")
		return nil
	}

	logger.Info("monitoring, press Ctrl+C to stop")
	if err := processor.StartMonitoring(ctx); err != nil {
		return err
	}

	logger.Info("mailmind stopped")
	return nil
}

// encryptPassword reads one line from stdin and prints its enc: form
func encryptPassword(secrets *config.Secrets) error {
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("failed to read password: %w", err)
	}

	enc, err := secrets.Encrypt(strings.TrimRight(line, "\r\n"))
	if err != nil {
		return err
	}
	fmt.Println(enc)
	return nil
}
