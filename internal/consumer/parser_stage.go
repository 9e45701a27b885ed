package consumer

import (
	"context"

	"go.uber.org/zap"

	"github.com/Heurr/pps-sub000/internal/broker"
	"github.com/Heurr/pps-sub000/internal/domain"
	"github.com/Heurr/pps-sub000/internal/observability"
)

// ParserStage decodes message envelopes and drops excluded countries
type ParserStage struct {
	kind     domain.EntityKind
	parser   MessageParser
	excluded map[string]struct{}
	metrics  *observability.Metrics
	log      *zap.Logger
}

// NewParserStage creates a new parser stage
func NewParserStage(kind domain.EntityKind, parser MessageParser, excluded map[string]struct{}, metrics *observability.Metrics, log *zap.Logger) *ParserStage {
	return &ParserStage{
		kind:     kind,
		parser:   parser,
		excluded: excluded,
		metrics:  metrics,
		log:      log,
	}
}

// Start begins parsing drain cycles and outputs envelopes
func (p *ParserStage) Start(ctx context.Context, in <-chan []*broker.Message, out chan<- *Envelope) {
	defer close(out)

	for {
		select {
		case <-ctx.Done():
			p.log.Info("Parser stage shutting down")
			return
		case messages, ok := <-in:
			if !ok {
				p.log.Info("Parser stage input channel closed")
				return
			}

			for _, envelope := range p.parseCycle(ctx, messages) {
				select {
				case <-ctx.Done():
					return
				case out <- envelope:
				}
			}
		}
	}
}

// parseCycle turns one drain cycle into envelopes. Dropped messages are acked
// so the broker does not redeliver them.
func (p *ParserStage) parseCycle(ctx context.Context, messages []*broker.Message) []*Envelope {
	envelopes := make([]*Envelope, 0, len(messages))
	excluded := make(map[string]int)

	for _, msg := range messages {
		header, err := p.parser.Parse(msg.Body)
		if err != nil {
			p.metrics.InvalidEntity(string(p.kind))
			p.log.Warn("Failed to parse message",
				zap.String("message_id", msg.ID),
				zap.Error(err))
			p.ack(ctx, msg)
			continue
		}

		if _, ok := p.excluded[header.CountryCode]; ok {
			excluded[header.CountryCode]++
			p.ack(ctx, msg)
			continue
		}

		envelopes = append(envelopes, NewEnvelope(header, msg))
	}

	if len(excluded) > 0 {
		total := 0
		for country, n := range excluded {
			p.metrics.ExcludedMessages(string(p.kind), country, n)
			total += n
		}
		p.log.Info("Dropped messages of excluded countries",
			zap.Int("count", total),
			zap.Any("countries", excluded))
	}

	return envelopes
}

func (p *ParserStage) ack(ctx context.Context, msg *broker.Message) {
	if err := msg.Ack(ctx); err != nil {
		p.log.Error("Failed to ack dropped message",
			zap.String("message_id", msg.ID),
			zap.Error(err))
	}
}
