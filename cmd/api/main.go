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

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Heurr/pps-sub000/internal/config"
	"github.com/Heurr/pps-sub000/internal/handler"
	"github.com/Heurr/pps-sub000/internal/logger"
	"github.com/Heurr/pps-sub000/internal/repository"
	"github.com/Heurr/pps-sub000/internal/repository/clickhouse"
	"github.com/Heurr/pps-sub000/internal/repository/postgres"
	"github.com/Heurr/pps-sub000/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	log, err := logger.New(cfg.Service.Environment, "api")
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer func(log *zap.Logger) {
		_ = log.Sync()
	}(log)

	log.Info("Starting API service",
		zap.String("environment", cfg.Service.Environment),
		zap.String("port", cfg.Service.APIPort))

	if cfg.Service.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize PostgreSQL client
	pg, err := postgres.NewClient(ctx, cfg.Postgres, log)
	if err != nil {
		log.Fatal("Failed to create PostgreSQL client", zap.Error(err))
	}
	defer pg.Close()

	checks := []handler.HealthCheck{{Name: "postgres", Ping: pg.Ping}}

	// Initialize optional ClickHouse price history
	var history repository.PriceHistoryRepository
	if cfg.ClickHouse.Enabled {
		chClient, err := clickhouse.NewClient(ctx, cfg.ClickHouse, log)
		if err != nil {
			log.Fatal("Failed to create ClickHouse client", zap.Error(err))
		}
		repo := clickhouse.NewRepository(chClient, cfg.Rollover.RetentionDays, log)
		defer func() {
			if err := repo.Close(); err != nil {
				log.Error("Failed to close ClickHouse repository", zap.Error(err))
			}
		}()
		history = repo
		checks = append(checks, handler.HealthCheck{Name: "clickhouse", Ping: repo.Ping})
	}

	// Initialize price service
	priceService := service.NewPriceService(postgres.NewRepository(pg.DB(), log), history, cfg.Rollover.RetentionDays, log)

	// Initialize handler
	h := handler.NewHandler(priceService, log, checks...)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Service.APIPort),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("API server starting", zap.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("API server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()

	log.Info("Shutting down API server gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Failed to shut down API server", zap.Error(err))
	}
}
