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

	"github.com/Heurr/pps-sub000/internal/broker"
	"github.com/Heurr/pps-sub000/internal/broker/rabbitmq"
	"github.com/Heurr/pps-sub000/internal/broker/sqs"
	"github.com/Heurr/pps-sub000/internal/config"
	"github.com/Heurr/pps-sub000/internal/consumer"
	"github.com/Heurr/pps-sub000/internal/domain"
	"github.com/Heurr/pps-sub000/internal/logger"
	"github.com/Heurr/pps-sub000/internal/observability"
	"github.com/Heurr/pps-sub000/internal/queue/redis"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	log, err := logger.New(cfg.Service.Environment, "consumer")
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer func(log *zap.Logger) {
		_ = log.Sync()
	}(log)

	log.Info("Starting consumer service",
		zap.String("environment", cfg.Service.Environment),
		zap.String("broker", cfg.Broker.Driver))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()

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
	if err := redisClient.CheckMemoryLimit(ctx); err != nil {
		log.Warn("Failed to check Redis memory limit", zap.Error(err))
	}

	// Initialize broker sources
	sources, closeBroker, err := newSources(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to create broker sources", zap.Error(err))
	}
	defer func() {
		if err := closeBroker(); err != nil {
			log.Error("Failed to close broker", zap.Error(err))
		}
	}()

	consumers := make([]*consumer.Consumer, 0, len(domain.EntityKinds))
	for _, kind := range domain.EntityKinds {
		consumers = append(consumers, consumer.NewConsumer(kind, cfg.Consumer, sources[kind], redisClient, metrics, log))
	}
	group := consumer.NewGroup(log, consumers...)

	// Start health check endpoint
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := redisClient.Ping(r.Context()); err != nil {
			log.Warn("Health check failed", zap.Error(err))
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		for kind, state := range group.States() {
			if state != consumer.StateRunning {
				log.Warn("Health check failed",
					zap.String("entity", string(kind)),
					zap.Stringer("state", state))
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
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

	// Run consumers until a signal arrives
	log.Info("Consumers starting", zap.Int("count", len(consumers)))
	if err := group.Start(ctx); err != nil {
		log.Error("Consumer group stopped with error", zap.Error(err))
	}

	log.Info("Shutting down consumer gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Failed to shut down health check server", zap.Error(err))
	}
}

// newSources opens one broker source per entity kind on the configured broker
func newSources(ctx context.Context, cfg *config.Config, log *zap.Logger) (map[domain.EntityKind]broker.Source, func() error, error) {
	sources := make(map[domain.EntityKind]broker.Source, len(domain.EntityKinds))

	switch cfg.Broker.Driver {
	case config.BrokerSQS:
		client, err := sqs.NewClient(ctx, cfg.SQS, log)
		if err != nil {
			return nil, nil, err
		}
		for _, kind := range domain.EntityKinds {
			source, err := client.Source(kind)
			if err != nil {
				return nil, nil, err
			}
			sources[kind] = source
		}
		return sources, func() error { return nil }, nil

	default:
		client, err := rabbitmq.NewClient(cfg.RabbitMQ, log)
		if err != nil {
			return nil, nil, err
		}
		for _, kind := range domain.EntityKinds {
			source, err := client.Source(kind, cfg.Consumer.ReceiveWait())
			if err != nil {
				_ = client.Close()
				return nil, nil, err
			}
			sources[kind] = source
		}
		return sources, client.Close, nil
	}
}
