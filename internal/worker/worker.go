// Package worker drains the raw messages of one entity kind from the
// intermediate queue and applies them to the entity store.
package worker

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/Heurr/pps-sub000/internal/domain"
	"github.com/Heurr/pps-sub000/internal/observability"
	"github.com/Heurr/pps-sub000/internal/queue"
)

const (
	// flushTimeout bounds a flush that outlives the worker's context
	flushTimeout = 30 * time.Second
	// pushAttempts is how often emitted events are offered to the queue
	pushAttempts = 3
)

// Record is a parsed entity message
type Record interface {
	Key() domain.EntityKey
	GetVersion() int64
	GetAction() domain.Action
}

// Result is the outcome of one batched store operation
type Result struct {
	Written int
	Events  []domain.PriceEvent
}

// Handler is the entity specific part of a worker
type Handler[T Record] interface {
	// Parse decodes a raw message body
	Parse(body []byte) (T, error)
	// Relevant filters out records that can not affect the store
	Relevant(record T) bool
	// Upsert applies creates and updates in one version checked operation
	Upsert(ctx context.Context, records []T) (Result, error)
	// Delete applies deletes in one version checked operation
	Delete(ctx context.Context, records []T) (Result, error)
}

// Config configures a worker
type Config struct {
	BatchSize    int
	PopTimeout   time.Duration
	ErrorBackoff time.Duration
}

// Worker drains the queue of one entity kind
type Worker[T Record] struct {
	kind    domain.EntityKind
	handler Handler[T]
	queue   queue.Queue
	config  Config
	metrics *observability.Metrics
	log     *zap.Logger
}

// New creates a new worker
func New[T Record](kind domain.EntityKind, handler Handler[T], q queue.Queue, config Config, metrics *observability.Metrics, log *zap.Logger) *Worker[T] {
	if config.BatchSize < 1 {
		config.BatchSize = 1
	}
	if config.ErrorBackoff <= 0 {
		config.ErrorBackoff = time.Second
	}
	return &Worker[T]{
		kind:    kind,
		handler: handler,
		queue:   q,
		config:  config,
		metrics: metrics,
		log:     log,
	}
}

// Start drains the queue until ctx is cancelled. A full buffer or an empty
// poll flushes the buffer.
func (w *Worker[T]) Start(ctx context.Context) error {
	w.log.Info("Worker started",
		zap.Int("batch_size", w.config.BatchSize),
		zap.Duration("pop_timeout", w.config.PopTimeout))

	buffer := make([][]byte, 0, w.config.BatchSize)

	for {
		if ctx.Err() != nil {
			w.flushFinal(ctx, buffer)
			w.log.Info("Worker stopped")
			return nil
		}

		items, err := w.queue.Pop(ctx, w.kind.QueueKey(), w.config.BatchSize-len(buffer), w.config.PopTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.log.Error("Failed to pop from intermediate queue", zap.Error(err))
			w.sleep(ctx)
			continue
		}

		buffer = append(buffer, items...)
		if len(buffer) == 0 {
			continue
		}

		if len(items) == 0 || len(buffer) >= w.config.BatchSize {
			// in-flight database work is not interrupted by shutdown
			if err := w.Flush(context.WithoutCancel(ctx), buffer); err != nil {
				w.sleep(ctx)
			}
			buffer = make([][]byte, 0, w.config.BatchSize)
		}
	}
}

func (w *Worker[T]) flushFinal(ctx context.Context, buffer [][]byte) {
	if len(buffer) == 0 {
		return
	}
	w.log.Info("Flushing final batch", zap.Int("message_count", len(buffer)))

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	defer cancel()
	_ = w.Flush(flushCtx, buffer)
}

func (w *Worker[T]) sleep(ctx context.Context) {
	timer := time.NewTimer(w.config.ErrorBackoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Flush parses, deduplicates and applies one buffer of raw messages. When the
// store fails the raw messages are pushed back to the queue.
func (w *Worker[T]) Flush(ctx context.Context, raw [][]byte) error {
	records := make([]T, 0, len(raw))
	for _, body := range raw {
		record, err := w.handler.Parse(body)
		if err != nil {
			w.metrics.InvalidEntity(string(w.kind))
			w.log.Warn("Dropping unparsable message", zap.Error(err))
			continue
		}
		records = append(records, record)
	}

	var upserts, deletes []T
	for _, record := range Dedupe(records) {
		if !w.handler.Relevant(record) {
			continue
		}
		if record.GetAction().IsDelete() {
			deletes = append(deletes, record)
		} else {
			upserts = append(upserts, record)
		}
	}

	events, err := w.apply(ctx, upserts, deletes)
	if err != nil {
		w.log.Error("Failed to apply batch, requeueing",
			zap.Int("message_count", len(raw)),
			zap.Error(err))
		if pushErr := w.queue.Push(ctx, w.kind.QueueKey(), raw...); pushErr != nil {
			w.log.Error("Failed to requeue batch", zap.Error(pushErr))
		}
		return err
	}

	w.pushEvents(ctx, events)
	return nil
}

func (w *Worker[T]) apply(ctx context.Context, upserts, deletes []T) ([]domain.PriceEvent, error) {
	var events []domain.PriceEvent

	if len(upserts) > 0 {
		result, err := w.handler.Upsert(ctx, upserts)
		if err != nil {
			return nil, err
		}
		w.metrics.WrittenEntities(string(w.kind), "upsert", result.Written)
		events = append(events, result.Events...)
	}

	if len(deletes) > 0 {
		result, err := w.handler.Delete(ctx, deletes)
		if err != nil {
			return nil, err
		}
		w.metrics.WrittenEntities(string(w.kind), "delete", result.Written)
		events = append(events, result.Events...)
	}

	w.log.Debug("Applied batch",
		zap.Int("upserts", len(upserts)),
		zap.Int("deletes", len(deletes)),
		zap.Int("events", len(events)))
	return events, nil
}

// pushEvents hands the events of a committed batch to the aggregation engine
func (w *Worker[T]) pushEvents(ctx context.Context, events []domain.PriceEvent) {
	if len(events) == 0 {
		return
	}

	payloads := make([][]byte, 0, len(events))
	for _, event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			w.log.Error("Failed to encode price event", zap.String("product_id", event.ProductID), zap.Error(err))
			continue
		}
		payloads = append(payloads, payload)
		w.metrics.PriceEvent(string(w.kind), string(event.Action))
	}

	var err error
	for attempt := 1; attempt <= pushAttempts; attempt++ {
		if err = w.queue.Push(ctx, queue.PriceEventsKey, payloads...); err == nil {
			return
		}
		w.log.Warn("Failed to push price events, retrying",
			zap.Int("attempt", attempt),
			zap.Error(err))
		w.sleep(ctx)
	}
	w.log.Error("Dropping price events after retries",
		zap.Int("event_count", len(payloads)),
		zap.Error(err))
}

// Dedupe keeps the highest version record per key. A later record wins a tie.
// Keys keep the order of their first appearance.
func Dedupe[T Record](records []T) []T {
	index := make(map[domain.EntityKey]int, len(records))
	out := make([]T, 0, len(records))

	for _, record := range records {
		key := record.Key()
		i, seen := index[key]
		if !seen {
			index[key] = len(out)
			out = append(out, record)
			continue
		}
		if record.GetVersion() >= out[i].GetVersion() {
			out[i] = record
		}
	}

	return out
}
