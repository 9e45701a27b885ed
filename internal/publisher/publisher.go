// Package publisher republishes the consolidated prices of changed products.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Heurr/pps-sub000/internal/broker"
	"github.com/Heurr/pps-sub000/internal/domain"
	"github.com/Heurr/pps-sub000/internal/observability"
	"github.com/Heurr/pps-sub000/internal/queue"
	"github.com/Heurr/pps-sub000/internal/repository"
)

const batchTimeout = 30 * time.Second

// Config configures the publisher loop
type Config struct {
	BatchSize    int
	PollInterval time.Duration
	RoutingKey   string
}

// Publisher drains the changed products signal set and publishes one JSON
// array of price documents per batch
type Publisher struct {
	signals queue.SignalSet
	prices  repository.ProductPriceRepository
	broker  broker.Publisher
	history repository.PriceHistoryRepository
	config  Config
	now     func() time.Time
	metrics *observability.Metrics
	log     *zap.Logger
}

// New creates a new publisher. history may be nil.
func New(signals queue.SignalSet, prices repository.ProductPriceRepository, pub broker.Publisher, history repository.PriceHistoryRepository, config Config, metrics *observability.Metrics, log *zap.Logger) *Publisher {
	if config.BatchSize < 1 {
		config.BatchSize = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	return &Publisher{
		signals: signals,
		prices:  prices,
		broker:  pub,
		history: history,
		config:  config,
		now:     time.Now,
		metrics: metrics,
		log:     log,
	}
}

// Start publishes batches until ctx is cancelled. It sleeps for the poll
// interval whenever the signal set is empty or a batch failed.
func (p *Publisher) Start(ctx context.Context) error {
	p.log.Info("Publisher started",
		zap.Int("batch_size", p.config.BatchSize),
		zap.String("routing_key", p.config.RoutingKey))

	for {
		if ctx.Err() != nil {
			p.log.Info("Publisher stopped")
			return nil
		}

		batchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), batchTimeout)
		published, err := p.PublishBatch(batchCtx)
		cancel()
		if err != nil {
			p.metrics.PublishFailure()
			p.log.Error("Failed to publish price documents", zap.Error(err))
		}

		if err != nil || published == 0 {
			timer := time.NewTimer(p.config.PollInterval)
			select {
			case <-ctx.Done():
			case <-timer.C:
			}
			timer.Stop()
		}
	}
}

// PublishBatch drains up to one batch of product ids and publishes their
// current documents. It returns the number of published documents.
func (p *Publisher) PublishBatch(ctx context.Context) (int, error) {
	productIDs, err := p.signals.Drain(ctx, queue.ChangedProductsKey, p.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to drain changed products: %w", err)
	}
	if len(productIDs) == 0 {
		return 0, nil
	}

	rows, err := p.prices.GetProductPricesByProducts(ctx, domain.Day(p.now()), productIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to read product prices: %w", err)
	}

	byProduct := make(map[string][]domain.ProductPrice, len(productIDs))
	for _, row := range rows {
		byProduct[row.ProductID] = append(byProduct[row.ProductID], row)
	}

	version := p.now().UnixMilli()
	docs := make([]domain.PriceDocument, 0, len(productIDs))
	for _, id := range productIDs {
		docs = append(docs, domain.NewPriceDocument(id, byProduct[id], version))
	}

	body, err := json.Marshal(docs)
	if err != nil {
		return 0, fmt.Errorf("failed to encode price documents: %w", err)
	}

	if err := p.broker.Publish(ctx, p.config.RoutingKey, body); err != nil {
		return 0, fmt.Errorf("failed to publish price documents: %w", err)
	}
	p.metrics.PublishedDocuments(len(docs))

	p.archive(ctx, docs)

	p.log.Debug("Published price documents", zap.Int("document_count", len(docs)))
	return len(docs), nil
}

// archive appends published documents to the price history. Archive
// failures do not affect publishing.
func (p *Publisher) archive(ctx context.Context, docs []domain.PriceDocument) {
	if p.history == nil {
		return
	}
	if _, err := p.history.InsertBatch(ctx, docs); err != nil {
		p.log.Warn("Failed to archive price documents",
			zap.Int("document_count", len(docs)),
			zap.Error(err))
	}
}
