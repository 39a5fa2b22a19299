package main

import (
	"log"
	"net/http"
	"os"
	"time"

	"github.com/classtrack/billing/broker"
	"github.com/classtrack/billing/db"
	"github.com/classtrack/billing/external"
	"github.com/classtrack/billing/profile"
	"github.com/classtrack/billing/subscription"
	"github.com/classtrack/billing/tier"

	"github.com/TheZeroSlave/zapsentry"
	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v7"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Build-time injected variables
var (
	Version = ""
)

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
			"component": "api",
		},
	}
	core, err := zapsentry.NewCore(cfg, zapsentry.NewSentryClientFromClient(sentry.CurrentHub().Client()))
	if err != nil {
		logger.Fatal("Cannot attach sentry to zap",
			zap.Error(err),
		)
	}
	logger = zapsentry.AttachCoreToLogger(core, logger)

	// Required secrets fail fast, never silently degrade
	stripeKey := mustEnv(logger, "STRIPE_KEY")
	webhookSecret := mustEnv(logger, "STRIPE_WEBHOOK_SECRET")
	postgresURI := mustEnv(logger, "POSTGRES_URI")
	priceTablePath := mustEnv(logger, "PRICE_TABLE_PATH")

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

	var rdb redis.UniversalClient
	if uri := os.Getenv("REDIS_URI"); len(uri) > 0 {
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{uri},
			Password: os.Getenv("REDIS_PW"),
			DB:       0,
		})
		if _, err := rdb.Ping().Result(); err != nil {
			logger.Fatal("Cannot connect to Redis",
				zap.Error(err),
			)
		}
		defer rdb.Close()
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
		Redis:    rdb,
	})
	if err != nil {
		logger.Fatal("Cannot initialize SubscriptionManager",
			zap.Error(err),
		)
	}

	subscriptionRouter, err := subscription.NewService(subscription.ServiceOptions{
		Manager: subscriptionManager,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Subscription Service Router",
			zap.Error(err),
		)
	}

	webhookRouter, err := subscription.NewWebhook(subscription.WebhookOptions{
		Manager: subscriptionManager,
		Logger:  logger,
		Secret:  webhookSecret,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Webhook Router",
			zap.Error(err),
		)
	}

	rootRouter := chi.NewRouter()

	rootRouter.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Stripe-Signature"},
	}))

	rootRouter.Mount("/subscription", subscriptionRouter.Router())
	rootRouter.Mount("/webhooks/stripe", webhookRouter.Router())

	addr := os.Getenv("API_ADDR")
	if len(addr) == 0 {
		addr = ":8080"
	}
	srv := &http.Server{
		Handler: rootRouter,
		Addr:    addr,
	}

	logger.Info("Starting billing API",
		zap.String("Addr", addr),
	)
	log.Fatalln(srv.ListenAndServe())
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
