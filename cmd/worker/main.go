package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Heurr/pps-sub000/internal/aggregation"
	"github.com/Heurr/pps-sub000/internal/broker"
	"github.com/Heurr/pps-sub000/internal/broker/rabbitmq"
	"github.com/Heurr/pps-sub000/internal/broker/sqs"
	"github.com/Heurr/pps-sub000/internal/config"
	"github.com/Heurr/pps-sub000/internal/domain"
	"github.com/Heurr/pps-sub000/internal/logger"
	"github.com/Heurr/pps-sub000/internal/observability"
	"github.com/Heurr/pps-sub000/internal/publisher"
	"github.com/Heurr/pps-sub000/internal/queue"
	"github.com/Heurr/pps-sub000/internal/queue/redis"
	"github.com/Heurr/pps-sub000/internal/repository"
	"github.com/Heurr/pps-sub000/internal/repository/clickhouse"
	"github.com/Heurr/pps-sub000/internal/repository/postgres"
	"github.com/Heurr/pps-sub000/internal/rollover"
	"github.com/Heurr/pps-sub000/internal/service"
	"github.com/Heurr/pps-sub000/internal/worker"
)

type runner func(ctx context.Context) error

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	log, err := logger.New(cfg.Service.Environment, "worker")
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer func(log *zap.Logger) {
		_ = log.Sync()
	}(log)

	log.Info("Starting worker service",
		zap.String("environment", cfg.Service.Environment),
		zap.String("broker", cfg.Broker.Driver),
		zap.Bool("force_update", cfg.Worker.ForceUpdate))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()

	// Initialize PostgreSQL entity store
	pg, err := postgres.NewClient(ctx, cfg.Postgres, log)
	if err != nil {
		log.Fatal("Failed to create PostgreSQL client", zap.Error(err))
	}
	defer pg.Close()

	if err := postgres.InitSchema(ctx, pg.DB()); err != nil {
		log.Fatal("Failed to initialize schema", zap.Error(err))
	}
	log.Info("Database schema initialized")

	store := postgres.NewRepository(pg.DB(), log)
	partitions := postgres.NewPartitionRepository(pg.DB(), cfg.Rollover.HashBuckets, log)

	// Initialize Redis intermediate queue
	redisClient, err := redis.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal("Failed to create Redis client", zap.Error(err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			log.Error("Failed to close Redis client", zap.Error(err))
		}
	}()

	// Initialize broker publisher
	pub, closeBroker, err := newPublisher(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to create broker publisher", zap.Error(err))
	}
	defer func() {
		if err := closeBroker(); err != nil {
			log.Error("Failed to close broker", zap.Error(err))
		}
	}()

	// Initialize optional price history archive
	var history repository.PriceHistoryRepository
	if cfg.ClickHouse.Enabled {
		chClient, err := clickhouse.NewClient(ctx, cfg.ClickHouse, log)
		if err != nil {
			log.Fatal("Failed to create ClickHouse client", zap.Error(err))
		}
		repo := clickhouse.NewRepository(chClient, cfg.Rollover.RetentionDays, log)
		if err := repo.InitSchema(ctx); err != nil {
			log.Fatal("Failed to initialize ClickHouse schema", zap.Error(err))
		}
		defer func() {
			if err := repo.Close(); err != nil {
				log.Error("Failed to close ClickHouse repository", zap.Error(err))
			}
		}()
		history = repo
	}

	runners, err := newRunners(cfg, store, redisClient, metrics, log)
	if err != nil {
		log.Fatal("Failed to create workers", zap.Error(err))
	}

	engine := aggregation.NewEngine(redisClient, redisClient, redisClient, store, aggregation.Config{
		BatchSize:  cfg.Aggregation.BatchSize,
		PopTimeout: cfg.Aggregation.PopTimeout(),
	}, metrics, log.Named("aggregation"))

	coordinator := rollover.NewCoordinator(partitions, redisClient, rollover.Config{
		RetentionDays:   cfg.Rollover.RetentionDays,
		PartitionsAhead: cfg.Rollover.PartitionsAhead,
		PollInterval:    cfg.Rollover.PollInterval(),
	}, log.Named("rollover"))

	pricePublisher := publisher.New(redisClient, store, pub, history, publisher.Config{
		BatchSize:    cfg.Publisher.BatchSize,
		PollInterval: cfg.Publisher.PollInterval(),
		RoutingKey:   cfg.Publisher.RoutingKey,
	}, metrics, log.Named("publisher"))

	tasks := make([]worker.Task, 0, len(domain.EntityKinds)+3)
	for _, kind := range domain.EntityKinds {
		tasks = append(tasks, worker.Task{Name: string(kind), Run: runners[kind]})
	}
	tasks = append(tasks,
		worker.Task{Name: "aggregation", Run: engine.Start},
		worker.Task{Name: "rollover", Run: coordinator.Start},
		worker.Task{Name: "publisher", Run: pricePublisher.Start},
	)
	group := worker.NewGroup(log, tasks...)

	// Start health check endpoint
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := pg.Ping(r.Context()); err != nil {
			log.Warn("Health check failed", zap.String("dependency", "postgres"), zap.Error(err))
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if err := redisClient.Ping(r.Context()); err != nil {
			log.Warn("Health check failed", zap.String("dependency", "redis"), zap.Error(err))
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		for name, err := range group.Failed() {
			log.Warn("Health check failed", zap.String("task", name), zap.Error(err))
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{
		Addr:              ":" + cfg.Service.HealthCheckPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("Health check server starting", zap.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Health check server error", zap.Error(err))
		}
	}()

	// Run every loop until a signal arrives
	log.Info("Worker tasks starting", zap.Int("count", len(tasks)))
	if err := group.Start(ctx); err != nil {
		log.Error("Worker stopped with error", zap.Error(err))
	}

	log.Info("Shutting down worker gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Failed to shut down health check server", zap.Error(err))
	}
}

// newRunners builds one upsert worker per entity kind
func newRunners(cfg *config.Config, store repository.Store, q queue.Queue, metrics *observability.Metrics, log *zap.Logger) (map[domain.EntityKind]runner, error) {
	workerConfig := worker.Config{
		BatchSize:  cfg.Worker.BatchSize,
		PopTimeout: cfg.Worker.PopTimeout(),
	}
	force := cfg.Worker.ForceUpdate

	forKind := func(kind domain.EntityKind) *zap.Logger {
		return logger.ForEntity(log, "worker", string(kind))
	}

	availability, err := service.NewOfferFlagService(domain.KindAvailability, store, force, forKind(domain.KindAvailability))
	if err != nil {
		return nil, err
	}
	buyable, err := service.NewOfferFlagService(domain.KindBuyable, store, force, forKind(domain.KindBuyable))
	if err != nil {
		return nil, err
	}

	return map[domain.EntityKind]runner{
		domain.KindOffer: worker.New[domain.OfferMessage](domain.KindOffer,
			service.NewOfferService(store, force, forKind(domain.KindOffer)), q, workerConfig, metrics, forKind(domain.KindOffer)).Start,
		domain.KindShop: worker.New[domain.ShopMessage](domain.KindShop,
			service.NewShopService(store, force, forKind(domain.KindShop)), q, workerConfig, metrics, forKind(domain.KindShop)).Start,
		domain.KindAvailability: worker.New[domain.FlagMessage](domain.KindAvailability,
			availability, q, workerConfig, metrics, forKind(domain.KindAvailability)).Start,
		domain.KindBuyable: worker.New[domain.FlagMessage](domain.KindBuyable,
			buyable, q, workerConfig, metrics, forKind(domain.KindBuyable)).Start,
	}, nil
}

// newPublisher opens the configured broker for publishing price documents
func newPublisher(ctx context.Context, cfg *config.Config, log *zap.Logger) (broker.Publisher, func() error, error) {
	switch cfg.Broker.Driver {
	case config.BrokerSQS:
		client, err := sqs.NewClient(ctx, cfg.SQS, log)
		if err != nil {
			return nil, nil, err
		}
		return client, func() error { return nil }, nil

	default:
		client, err := rabbitmq.NewClient(cfg.RabbitMQ, log)
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil
	}
}
