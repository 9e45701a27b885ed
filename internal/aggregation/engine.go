// Package aggregation maintains the per day min/max price aggregates from the
// price events emitted by the upsert workers.
package aggregation

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Heurr/pps-sub000/internal/domain"
	"github.com/Heurr/pps-sub000/internal/observability"
	"github.com/Heurr/pps-sub000/internal/queue"
	"github.com/Heurr/pps-sub000/internal/repository"
)

// Result is the outcome of applying one price event to an aggregate
type Result string

const (
	ResultCreated   Result = "CREATED"
	ResultUpdated   Result = "UPDATED"
	ResultUnchanged Result = "UNCHANGED"
	ResultDeleted   Result = "DELETED"
	// ResultObsolete marks an event whose bound could not be re-derived
	// because the contributing offers are already gone
	ResultObsolete Result = "OBSOLETE"
)

const flushTimeout = 30 * time.Second

// Config configures the engine loop
type Config struct {
	BatchSize    int
	PopTimeout   time.Duration
	ErrorBackoff time.Duration
}

// Summary counts the results of one processed batch
type Summary map[Result]int

// Engine applies price events to the aggregates of the current day
type Engine struct {
	queue   queue.Queue
	signals queue.SignalSet
	flags   queue.Flags
	prices  repository.ProductPriceRepository
	config  Config
	now     func() time.Time
	metrics *observability.Metrics
	log     *zap.Logger
}

// NewEngine creates a new aggregation engine
func NewEngine(q queue.Queue, signals queue.SignalSet, flags queue.Flags, prices repository.ProductPriceRepository, config Config, metrics *observability.Metrics, log *zap.Logger) *Engine {
	if config.BatchSize < 1 {
		config.BatchSize = 1
	}
	if config.ErrorBackoff <= 0 {
		config.ErrorBackoff = time.Second
	}
	return &Engine{
		queue:   q,
		signals: signals,
		flags:   flags,
		prices:  prices,
		config:  config,
		now:     time.Now,
		metrics: metrics,
		log:     log,
	}
}

// Start pops and processes event batches until ctx is cancelled
func (e *Engine) Start(ctx context.Context) error {
	e.log.Info("Aggregation engine started", zap.Int("batch_size", e.config.BatchSize))

	for {
		if ctx.Err() != nil {
			e.log.Info("Aggregation engine stopped")
			return nil
		}

		raw, err := e.queue.Pop(ctx, queue.PriceEventsKey, e.config.BatchSize, e.config.PopTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			e.log.Error("Failed to pop price events", zap.Error(err))
			e.sleep(ctx)
			continue
		}
		if len(raw) == 0 {
			continue
		}

		processCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
		err = e.processRaw(processCtx, raw)
		cancel()
		if err != nil {
			e.sleep(ctx)
		}
	}
}

func (e *Engine) sleep(ctx context.Context) {
	timer := time.NewTimer(e.config.ErrorBackoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// processRaw decodes and processes one popped batch, requeueing it on failure
func (e *Engine) processRaw(ctx context.Context, raw [][]byte) error {
	events := make([]domain.PriceEvent, 0, len(raw))
	for _, payload := range raw {
		var event domain.PriceEvent
		if err := json.Unmarshal(payload, &event); err != nil || !event.PriceType.Valid() || event.ProductID == "" {
			e.metrics.InvalidEntity("price-event")
			e.log.Warn("Dropping malformed price event", zap.ByteString("payload", payload), zap.Error(err))
			continue
		}
		events = append(events, event)
	}

	summary, err := e.Process(ctx, events)
	if err != nil {
		e.log.Error("Failed to process price events, requeueing",
			zap.Int("event_count", len(raw)),
			zap.Error(err))
		if pushErr := e.queue.Push(ctx, queue.PriceEventsKey, raw...); pushErr != nil {
			e.log.Error("Failed to requeue price events", zap.Error(pushErr))
		}
		return err
	}

	e.log.Debug("Processed price events",
		zap.Int("events", len(events)),
		zap.Int("created", summary[ResultCreated]),
		zap.Int("updated", summary[ResultUpdated]),
		zap.Int("deleted", summary[ResultDeleted]),
		zap.Int("obsolete", summary[ResultObsolete]))
	return nil
}

// Process applies a batch of events in creation order to a snapshot of the
// current day's aggregates and writes the changed rows back in one upsert and
// one delete. Products whose aggregates changed are signalled to the publisher.
func (e *Engine) Process(ctx context.Context, events []domain.PriceEvent) (Summary, error) {
	summary := make(Summary)
	if len(events) == 0 {
		return summary, nil
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})

	day := domain.Day(e.now())
	snapshot, seeded, err := e.snapshot(ctx, day, events)
	if err != nil {
		return nil, err
	}

	dirty := make(map[domain.ProductPriceKey]bool)
	deleted := make(map[domain.ProductPriceKey]bool)
	touched := make(map[string]bool)
	var products []string

	for _, event := range events {
		key := event.Key()
		var existing *domain.ProductPrice
		if row, ok := snapshot[key]; ok {
			existing = &row
		}

		result, row, err := e.Apply(ctx, event, existing)
		if err != nil {
			return nil, err
		}
		summary[result]++
		e.metrics.AggregationResult(string(result))

		switch result {
		case ResultCreated, ResultUpdated:
			row.Day = day
			snapshot[key] = row
			dirty[key] = true
			delete(deleted, key)
		case ResultDeleted:
			delete(snapshot, key)
			delete(dirty, key)
			deleted[key] = true
		case ResultObsolete:
			e.log.Error("Obsolete price event",
				zap.String("product_id", event.ProductID),
				zap.String("price_type", string(event.PriceType)),
				zap.String("action", string(event.Action)),
				zap.Stringer("old_price", event.OldPrice.Decimal))
			continue
		default:
			continue
		}

		if !touched[event.ProductID] {
			touched[event.ProductID] = true
			products = append(products, event.ProductID)
		}
	}

	if err := e.write(ctx, day, snapshot, dirty, deleted); err != nil {
		return nil, err
	}

	if err := e.retractSeeds(ctx, day, seeded, deleted); err != nil {
		return nil, err
	}

	if len(products) > 0 {
		if err := e.signals.Signal(ctx, queue.ChangedProductsKey, products...); err != nil {
			return nil, fmt.Errorf("failed to signal changed products: %w", err)
		}
	}

	return summary, nil
}

// snapshot loads today's rows of every key in the batch. While safe mode is
// raised, keys without a row today are seeded from yesterday and returned in
// the seeded set.
func (e *Engine) snapshot(ctx context.Context, day time.Time, events []domain.PriceEvent) (map[domain.ProductPriceKey]domain.ProductPrice, map[domain.ProductPriceKey]bool, error) {
	seen := make(map[domain.ProductPriceKey]bool, len(events))
	keys := make([]domain.ProductPriceKey, 0, len(events))
	for _, event := range events {
		if !seen[event.Key()] {
			seen[event.Key()] = true
			keys = append(keys, event.Key())
		}
	}

	snapshot, err := e.prices.GetProductPrices(ctx, day, keys)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load product prices: %w", err)
	}
	if snapshot == nil {
		snapshot = make(map[domain.ProductPriceKey]domain.ProductPrice)
	}

	safeMode, err := e.flags.Flag(ctx, queue.SafeModeKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read safe mode: %w", err)
	}
	if !safeMode {
		return snapshot, nil, nil
	}

	var missing []domain.ProductPriceKey
	for _, key := range keys {
		if _, ok := snapshot[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) == 0 {
		return snapshot, nil, nil
	}

	previous, err := e.prices.GetProductPrices(ctx, day.AddDate(0, 0, -1), missing)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load previous day product prices: %w", err)
	}
	seeded := make(map[domain.ProductPriceKey]bool, len(previous))
	for key, row := range previous {
		row.Day = day
		snapshot[key] = row
		seeded[key] = true
	}

	e.log.Info("Seeded aggregates from previous day in safe mode",
		zap.Int("missing", len(missing)),
		zap.Int("seeded", len(previous)))
	return snapshot, seeded, nil
}

// retractSeeds removes the previous day's row of keys that were seeded from it
// and ended deleted, so the rollover copy does not bring them back
func (e *Engine) retractSeeds(ctx context.Context, day time.Time, seeded, deleted map[domain.ProductPriceKey]bool) error {
	var keys []domain.ProductPriceKey
	for key := range deleted {
		if seeded[key] {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	sortKeys(keys)

	if err := e.prices.DeleteProductPrices(ctx, day.AddDate(0, 0, -1), keys); err != nil {
		return fmt.Errorf("failed to delete seeded product prices: %w", err)
	}
	e.log.Info("Retracted seeded aggregates", zap.Int("count", len(keys)))
	return nil
}

func sortKeys(keys []domain.ProductPriceKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ProductID != keys[j].ProductID {
			return keys[i].ProductID < keys[j].ProductID
		}
		return keys[i].PriceType < keys[j].PriceType
	})
}

func (e *Engine) write(ctx context.Context, day time.Time, snapshot map[domain.ProductPriceKey]domain.ProductPrice, dirty, deleted map[domain.ProductPriceKey]bool) error {
	if len(dirty) > 0 {
		rows := make([]domain.ProductPrice, 0, len(dirty))
		for key := range dirty {
			rows = append(rows, snapshot[key])
		}
		sort.Slice(rows, func(i, j int) bool {
			if rows[i].ProductID != rows[j].ProductID {
				return rows[i].ProductID < rows[j].ProductID
			}
			return rows[i].PriceType < rows[j].PriceType
		})
		if err := e.prices.UpsertProductPrices(ctx, rows); err != nil {
			return fmt.Errorf("failed to write product prices: %w", err)
		}
	}

	if len(deleted) > 0 {
		keys := make([]domain.ProductPriceKey, 0, len(deleted))
		for key := range deleted {
			keys = append(keys, key)
		}
		sortKeys(keys)
		if err := e.prices.DeleteProductPrices(ctx, day, keys); err != nil {
			return fmt.Errorf("failed to delete product prices: %w", err)
		}
	}

	return nil
}

// Apply computes the effect of one event on an aggregate. existing is nil
// when the key has no aggregate yet. A bound is re-derived from the offers
// only when the event's old price is that bound.
func (e *Engine) Apply(ctx context.Context, event domain.PriceEvent, existing *domain.ProductPrice) (Result, domain.ProductPrice, error) {
	switch event.Action {
	case domain.PriceActionUpsert:
		return e.applyUpsert(ctx, event, existing)
	case domain.PriceActionDelete:
		return e.applyDelete(ctx, event, existing)
	default:
		return ResultObsolete, domain.ProductPrice{}, nil
	}
}

func (e *Engine) applyUpsert(ctx context.Context, event domain.PriceEvent, existing *domain.ProductPrice) (Result, domain.ProductPrice, error) {
	if !event.Price.Valid {
		return ResultObsolete, domain.ProductPrice{}, nil
	}
	price := event.Price.Decimal

	if existing == nil {
		return ResultCreated, e.row(event, nil, price, price), nil
	}

	lo, hi := existing.MinPrice, existing.MaxPrice

	if event.OldPrice.Valid && event.OldPrice.Decimal.Equal(lo) {
		bound, err := e.prices.PriceBound(ctx, event.ProductID, event.PriceType, repository.BoundMin)
		if err != nil {
			return "", domain.ProductPrice{}, fmt.Errorf("failed to derive min price: %w", err)
		}
		if !bound.Valid {
			return ResultObsolete, domain.ProductPrice{}, nil
		}
		lo = bound.Decimal
	}
	if event.OldPrice.Valid && event.OldPrice.Decimal.Equal(hi) {
		bound, err := e.prices.PriceBound(ctx, event.ProductID, event.PriceType, repository.BoundMax)
		if err != nil {
			return "", domain.ProductPrice{}, fmt.Errorf("failed to derive max price: %w", err)
		}
		if !bound.Valid {
			return ResultObsolete, domain.ProductPrice{}, nil
		}
		hi = bound.Decimal
	}

	if price.LessThan(lo) {
		lo = price
	}
	if price.GreaterThan(hi) {
		hi = price
	}

	if lo.Equal(existing.MinPrice) && hi.Equal(existing.MaxPrice) {
		return ResultUnchanged, *existing, nil
	}
	return ResultUpdated, e.row(event, existing, lo, hi), nil
}

func (e *Engine) applyDelete(ctx context.Context, event domain.PriceEvent, existing *domain.ProductPrice) (Result, domain.ProductPrice, error) {
	if existing == nil || !event.OldPrice.Valid {
		return ResultUnchanged, domain.ProductPrice{}, nil
	}

	old := event.OldPrice.Decimal
	needMin, needMax := old.Equal(existing.MinPrice), old.Equal(existing.MaxPrice)
	if !needMin && !needMax {
		return ResultUnchanged, *existing, nil
	}

	lo, hi := existing.MinPrice, existing.MaxPrice
	if needMin {
		bound, err := e.prices.PriceBound(ctx, event.ProductID, event.PriceType, repository.BoundMin)
		if err != nil {
			return "", domain.ProductPrice{}, fmt.Errorf("failed to derive min price: %w", err)
		}
		// no offer satisfies the predicate any more
		if !bound.Valid {
			return ResultDeleted, domain.ProductPrice{}, nil
		}
		lo = bound.Decimal
	}
	if needMax {
		bound, err := e.prices.PriceBound(ctx, event.ProductID, event.PriceType, repository.BoundMax)
		if err != nil {
			return "", domain.ProductPrice{}, fmt.Errorf("failed to derive max price: %w", err)
		}
		if !bound.Valid {
			return ResultDeleted, domain.ProductPrice{}, nil
		}
		hi = bound.Decimal
	}

	if lo.Equal(existing.MinPrice) && hi.Equal(existing.MaxPrice) {
		return ResultUnchanged, *existing, nil
	}
	return ResultUpdated, e.row(event, existing, lo, hi), nil
}

// row builds the new aggregate row. Versions grow with the event time and
// never go backwards for a key.
func (e *Engine) row(event domain.PriceEvent, existing *domain.ProductPrice, lo, hi decimal.Decimal) domain.ProductPrice {
	row := domain.ProductPrice{
		ProductID:    event.ProductID,
		PriceType:    event.PriceType,
		MinPrice:     lo,
		MaxPrice:     hi,
		CurrencyCode: event.CurrencyCode,
		CountryCode:  event.CountryCode,
		UpdatedAt:    e.now().UTC(),
		Version:      event.CreatedAt.UnixMicro(),
	}
	if existing != nil {
		row.Day = existing.Day
		row.AvgPrice = existing.AvgPrice
		if row.CurrencyCode == "" {
			row.CurrencyCode = existing.CurrencyCode
		}
		if row.CountryCode == "" {
			row.CountryCode = existing.CountryCode
		}
		if row.Version <= existing.Version {
			row.Version = existing.Version + 1
		}
	}
	return row
}
