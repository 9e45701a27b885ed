package consumer

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Heurr/pps-sub000/internal/broker"
)

// ReceiverConfig configures the broker receiver
type ReceiverConfig struct {
	MaxMessages  int
	ErrorBackoff time.Duration
}

// Receiver handles receiving messages from one broker queue
type Receiver struct {
	source broker.Source
	config ReceiverConfig
	log    *zap.Logger
}

// NewReceiver creates a new broker receiver
func NewReceiver(source broker.Source, config ReceiverConfig, log *zap.Logger) *Receiver {
	if config.ErrorBackoff <= 0 {
		config.ErrorBackoff = time.Second
	}
	return &Receiver{
		source: source,
		config: config,
		log:    log,
	}
}

// Start begins receiving messages and sends every drain cycle to the output channel
func (r *Receiver) Start(ctx context.Context, out chan<- []*broker.Message) {
	defer close(out)

	for {
		select {
		case <-ctx.Done():
			r.log.Info("Receiver shutting down")
			return
		default:
		}

		messages, err := r.source.Receive(ctx, r.config.MaxMessages)
		if err != nil {
			if ctx.Err() != nil {
				r.log.Info("Receiver shutting down")
				return
			}
			if errors.Is(err, broker.ErrClosed) {
				r.log.Warn("Broker source closed, reconnecting", zap.String("source", r.source.Name()))
			} else {
				r.log.Error("Error receiving messages from broker",
					zap.String("source", r.source.Name()),
					zap.Error(err))
			}
			if !sleep(ctx, r.config.ErrorBackoff) {
				return
			}
			continue
		}

		if len(messages) == 0 {
			continue
		}

		r.log.Debug("Received messages from broker", zap.Int("message_count", len(messages)))

		select {
		case <-ctx.Done():
			r.log.Info("Receiver shutting down while sending messages")
			return
		case out <- messages:
		}
	}
}

// sleep waits for d and reports false when ctx ended first
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
