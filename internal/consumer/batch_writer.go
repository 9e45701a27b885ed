package consumer

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Heurr/pps-sub000/internal/domain"
	"github.com/Heurr/pps-sub000/internal/observability"
	"github.com/Heurr/pps-sub000/internal/queue"
)

// finalFlushTimeout bounds the flush of the last batch after shutdown
const finalFlushTimeout = 10 * time.Second

// BatchWriterConfig configures the batch writer
type BatchWriterConfig struct {
	MaxBatchSize                 int
	FlushTimeout                 time.Duration
	BackpressureThresholdPercent float64
	BackpressureBackoff          time.Duration
}

// BatchWriter batches envelopes and pushes their raw bodies to the intermediate queue
type BatchWriter struct {
	kind    domain.EntityKind
	queue   queue.Queue
	config  BatchWriterConfig
	metrics *observability.Metrics
	log     *zap.Logger
}

// NewBatchWriter creates a new batch writer
func NewBatchWriter(kind domain.EntityKind, q queue.Queue, config BatchWriterConfig, metrics *observability.Metrics, log *zap.Logger) *BatchWriter {
	return &BatchWriter{
		kind:    kind,
		queue:   q,
		config:  config,
		metrics: metrics,
		log:     log,
	}
}

// Start begins batching envelopes and pushing them to the intermediate queue
func (w *BatchWriter) Start(ctx context.Context, in <-chan *Envelope) {
	ticker := time.NewTicker(w.config.FlushTimeout)
	defer ticker.Stop()

	batch := make([]*Envelope, 0, w.config.MaxBatchSize)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Batch writer shutting down")
			w.flushFinal(ctx, batch)
			return

		case envelope, ok := <-in:
			if !ok {
				w.log.Info("Batch writer input channel closed")
				w.flushFinal(ctx, batch)
				return
			}

			batch = append(batch, envelope)

			if len(batch) >= w.config.MaxBatchSize {
				w.log.Debug("Batch size threshold reached", zap.Int("batch_size", len(batch)))
				w.processBatch(ctx, batch)
				batch = make([]*Envelope, 0, w.config.MaxBatchSize)
				ticker.Reset(w.config.FlushTimeout)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.log.Debug("Batch timeout reached", zap.Int("envelope_count", len(batch)))
				w.processBatch(ctx, batch)
				batch = make([]*Envelope, 0, w.config.MaxBatchSize)
			}
		}
	}
}

func (w *BatchWriter) flushFinal(ctx context.Context, batch []*Envelope) {
	if len(batch) == 0 {
		return
	}
	w.log.Info("Flushing final batch", zap.Int("envelope_count", len(batch)))

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalFlushTimeout)
	defer cancel()
	w.processBatch(flushCtx, batch)
}

// processBatch pushes the batch and acks it only after the push succeeded
func (w *BatchWriter) processBatch(ctx context.Context, envelopes []*Envelope) {
	if len(envelopes) == 0 {
		return
	}

	if err := queue.CheckCapacity(ctx, w.queue, w.config.BackpressureThresholdPercent); err != nil {
		if !errors.Is(err, queue.ErrBackpressure) {
			w.log.Error("Failed to check intermediate queue capacity", zap.Error(err))
			w.nackAll(ctx, envelopes)
			return
		}
		w.metrics.Backpressure(string(w.kind))
		w.log.Warn("Intermediate queue is full, leaving batch for redelivery",
			zap.Int("envelope_count", len(envelopes)),
			zap.Duration("backoff", w.config.BackpressureBackoff),
			zap.Error(err))
		w.nackAll(ctx, envelopes)
		w.backoff(ctx)
		return
	}

	bodies := make([][]byte, len(envelopes))
	for i, env := range envelopes {
		bodies[i] = env.Body()
	}

	if err := w.queue.Push(ctx, w.kind.QueueKey(), bodies...); err != nil {
		w.log.Error("Failed to push batch",
			zap.Error(err),
			zap.Int("envelope_count", len(envelopes)))
		w.nackAll(ctx, envelopes)
		return
	}

	w.metrics.PushedMessages(string(w.kind), len(envelopes))
	w.log.Debug("Pushed messages to intermediate queue", zap.Int("count", len(envelopes)))
	w.ackAll(ctx, envelopes)
}

// backoff holds the writer after a full queue so redelivered messages are not
// pulled straight back in. The pause stalls the receiver through the channels.
func (w *BatchWriter) backoff(ctx context.Context) {
	if w.config.BackpressureBackoff <= 0 {
		return
	}

	timer := time.NewTimer(w.config.BackpressureBackoff)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// ackAll acknowledges all envelopes
func (w *BatchWriter) ackAll(ctx context.Context, envelopes []*Envelope) {
	for _, env := range envelopes {
		if err := env.Ack(ctx); err != nil {
			w.log.Error("Failed to ack envelope", zap.Error(err))
		}
	}
}

// nackAll returns all envelopes to the broker for redelivery
func (w *BatchWriter) nackAll(ctx context.Context, envelopes []*Envelope) {
	for _, env := range envelopes {
		if err := env.Nack(ctx); err != nil {
			w.log.Error("Failed to nack envelope", zap.Error(err))
		}
	}
}
