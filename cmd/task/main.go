package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/classtrack/billing/broker"
	"github.com/classtrack/billing/db"
	"github.com/classtrack/billing/external"
	"github.com/classtrack/billing/profile"
	"github.com/classtrack/billing/subscription"
	"github.com/classtrack/billing/tier"

	"github.com/TheZeroSlave/zapsentry"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Build-time injected variables
var (
	Version = ""
)

const defaultSweepInterval = 15 * time.Minute

func main() {
	var logger *zap.Logger
	var dotFile string
	var err error

	// Determine running environment and initialize structural logger
	env := os.Getenv("ENV")
	if "production" == env {
		dotFile = ".env.production"
		logger, err = zap.NewProduction()
	} else {
		env = "development"
		dotFile = ".env.development"
		logger, err = zap.NewDevelopment()
	}

	if err != nil {
		log.Fatalf("Cannot initialize logger: %v\n", err)
	}
	logger = logger.With(zap.String("Version", Version))
	defer logger.Sync()

	// Load configurations from dotFile
	if err := godotenv.Load(dotFile); err != nil {
		logger.Fatal("Cannot load configurations from .env",
			zap.Error(err),
		)
	}

	// Initialize sentry for error reporting
	if err := sentry.Init(sentry.ClientOptions{
		Environment: env,
		Debug:       env == "development",
	}); err != nil {
		logger.Fatal("Cannot initialize sentry",
			zap.Error(err),
		)
	}
	defer sentry.Flush(time.Second * 2)

	// Attach sentry to zap so we can do automatic error capturing
	cfg := zapsentry.Configuration{
		Level: zapcore.ErrorLevel,
		Tags: map[string]string{
			"component": "task",
		},
	}
	core, err := zapsentry.NewCore(cfg, zapsentry.NewSentryClientFromClient(sentry.CurrentHub().Client()))
	if err != nil {
		logger.Fatal("Cannot attach sentry to zap",
			zap.Error(err),
		)
	}
	logger = zapsentry.AttachCoreToLogger(core, logger)

	stripeKey := mustEnv(logger, "STRIPE_KEY")
	postgresURI := mustEnv(logger, "POSTGRES_URI")
	priceTablePath := mustEnv(logger, "PRICE_TABLE_PATH")

	interval := defaultSweepInterval
	if raw := os.Getenv("SWEEP_INTERVAL"); len(raw) > 0 {
		interval, err = time.ParseDuration(raw)
		if err != nil {
			logger.Fatal("Invalid SWEEP_INTERVAL",
				zap.Error(err),
			)
		}
	}

	prices, err := tier.LoadPriceTableFromFile(priceTablePath)
	if err != nil {
		logger.Fatal("Cannot load price table",
			zap.Error(err),
		)
	}

	db, err := db.New(logger, postgresURI)
	if err != nil {
		logger.Fatal("Cannot connect to Postgres",
			zap.Error(err),
		)
	}

	var producer broker.Producer
	if uri := os.Getenv("AMQP_URI"); len(uri) > 0 {
		amqpBroker, err := broker.NewAMQPBroker(uri)
		if err != nil {
			logger.Fatal("Cannot connect to Message Broker",
				zap.Error(err),
			)
		}
		defer amqpBroker.Close()
		producer = amqpBroker
	}

	profileManager, err := profile.NewManager(logger, db)
	if err != nil {
		logger.Fatal("Cannot initialize ProfileManager",
			zap.Error(err),
		)
	}

	subscriptionManager, err := subscription.NewManager(subscription.ManagerOptions{
		Billing:  external.NewStripe(stripeKey),
		Store:    profileManager,
		Prices:   prices,
		Logger:   logger,
		Producer: producer,
	})
	if err != nil {
		logger.Fatal("Cannot initialize SubscriptionManager",
			zap.Error(err),
		)
	}

	task, err := subscription.NewTask(subscription.TaskOptions{
		Manager:  subscriptionManager,
		Logger:   logger,
		Interval: interval,
	})
	if err != nil {
		logger.Fatal("Cannot initialize expiry sweeper",
			zap.Error(err),
		)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-c
		cancel()
	}()

	logger.Info("Starting expiry sweeper",
		zap.Duration("Interval", interval),
	)
	task.Run(ctx)
}

func mustEnv(logger *zap.Logger, key string) string {
	val := os.Getenv(key)
	if len(val) == 0 {
		logger.Fatal("Required configuration is missing",
			zap.String("Key", key),
		)
	}
	return val
}
