package cmd

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/backstage/services/auctions/config"
	"example.com/backstage/services/auctions/internal/cache"
	"example.com/backstage/services/auctions/internal/commission"
	"example.com/backstage/services/auctions/internal/database"
	"example.com/backstage/services/auctions/internal/metrics"
	"example.com/backstage/services/auctions/internal/notify"
	"example.com/backstage/services/auctions/internal/payments"
	"example.com/backstage/services/auctions/internal/repositories"
	"example.com/backstage/services/auctions/internal/search"
	"example.com/backstage/services/auctions/internal/services"
	"example.com/backstage/services/auctions/internal/tracing"
)

// app holds everything the commands share
type app struct {
	cfg        config.Config
	db         *gorm.DB
	readOnlyDB *gorm.DB
	redis      *cache.RedisCache
	tracer     tracing.Tracer
	elastic    *search.ElasticClient
	notifier   notify.Notifier
	metrics    *metrics.Metrics

	auctionRepo *repositories.AuctionRepository
	jobs        *repositories.JobRepository
	outbox      *repositories.OutboxRepository
	payments    *repositories.PaymentRepository

	auctions    *services.AuctionService
	settlements *services.SettlementService
	dispatcher  *services.Dispatcher
}

func loadConfig() (config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return config.Config{}, err
	}
	configureLogging(cfg)
	return cfg, nil
}

func configureLogging(cfg config.Config) {
	var out io.Writer = os.Stderr
	if cfg.Environment == "development" || strings.EqualFold(cfg.Logging.Format, "console") {
		out = zerolog.ConsoleWriter{Out: os.Stderr}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()

	if os.Getenv("LOG_LEVEL") != "" {
		return
	}
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil && cfg.Logging.Level != "" {
		zerolog.SetGlobalLevel(level)
	}
}

// bootstrap connects every backend and wires the services. Optional
// backends (Redis, tracing, search) degrade to disabled on failure.
func bootstrap(cfg config.Config) (*app, error) {
	a := &app{cfg: cfg, metrics: metrics.NewMetrics()}

	db, readOnlyDB, err := database.Connect(cfg.DB, debug)
	if err != nil {
		a.metrics.SetHealth(metrics.HealthDatabase, false)
		return nil, err
	}
	a.db, a.readOnlyDB = db, readOnlyDB
	a.metrics.SetHealth(metrics.HealthDatabase, true)

	if cfg.DB.AutoMigrate {
		if err := database.Migrate(db); err != nil {
			return nil, err
		}
	}

	a.redis, err = cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
		a.redis = cache.Disabled()
	}
	a.metrics.SetHealth(metrics.HealthRedis, err == nil)

	a.tracer, err = tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		a.tracer = tracing.Disabled()
	}

	a.elastic, err = search.NewElasticClient(cfg.Elastic)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without search functionality")
		a.elastic, _ = search.NewElasticClient(config.ElasticConfig{})
	}
	a.metrics.SetHealth(metrics.HealthSearch, err == nil)

	a.notifier, err = notify.New(cfg)
	if err != nil {
		log.Warn().Err(err).Str("transport", cfg.Notify.Transport).Msg("Failed to initialize notifier, falling back to log output")
		a.notifier = notify.NewLogNotifier()
	}

	resolver, err := commission.NewResolver(cfg.Commission)
	if err != nil {
		return nil, err
	}

	a.jobs = repositories.NewJobRepository(db)
	a.outbox = repositories.NewOutboxRepository(db)
	a.payments = repositories.NewPaymentRepository(db)
	a.auctionRepo = repositories.NewAuctionRepository(db, readOnlyDB, a.jobs, a.outbox)
	users := repositories.NewUserRepository(readOnlyDB)
	rates := repositories.NewCommissionRateRepository(readOnlyDB, a.redis)

	paymentManager := payments.NewManager(payments.NewHTTPGateway(cfg.Payments), a.payments, users, rates, cfg.Payments.Currency)

	a.auctions = services.NewAuctionService(a.auctionRepo, a.redis, a.metrics, cfg.Scheduler.BatchSize)
	a.settlements = services.NewSettlementService(a.auctions, paymentManager, resolver, a.metrics)
	a.dispatcher = services.NewDispatcher(
		a.outbox,
		a.auctionRepo,
		users,
		a.notifier,
		paymentManager,
		a.settlements,
		a.elastic,
		a.metrics,
		a.tracer,
		services.DispatcherConfig{
			MaxAttempts:  cfg.Scheduler.OutboxMaxAttempts,
			LeaseTimeout: cfg.Scheduler.LeaseTimeout,
			BatchSize:    cfg.Scheduler.BatchSize,
			AdminRole:    cfg.Auth.AdminRole,
		},
	)
	a.auctions.SetDispatcher(a.dispatcher)

	return a, nil
}

// close drains in-flight side effects and releases connections
func (a *app) close(ctx context.Context) {
	if err := a.dispatcher.Drain(ctx); err != nil {
		log.Warn().Err(err).Msg("Outbox dispatch did not drain before shutdown")
	}
	if err := a.notifier.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close notifier")
	}
	if err := a.redis.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close Redis client")
	}
	a.tracer.Close()
	for _, db := range []*gorm.DB{a.db, a.readOnlyDB} {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
