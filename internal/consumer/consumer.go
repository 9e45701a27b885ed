package consumer

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Heurr/pps-sub000/internal/broker"
	"github.com/Heurr/pps-sub000/internal/config"
	"github.com/Heurr/pps-sub000/internal/domain"
	"github.com/Heurr/pps-sub000/internal/observability"
	"github.com/Heurr/pps-sub000/internal/queue"
)

// State is the lifecycle state of a consumer
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Consumer orchestrates the receive, parse and push stages of one entity kind
type Consumer struct {
	kind        domain.EntityKind
	receiver    *Receiver
	parser      *ParserStage
	batchWriter *BatchWriter
	state       atomic.Int32
	log         *zap.Logger
}

// NewConsumer creates a new consumer with a pipeline architecture
func NewConsumer(kind domain.EntityKind, cfg config.Consumer, source broker.Source, q queue.Queue, metrics *observability.Metrics, log *zap.Logger) *Consumer {
	log = log.With(zap.String("entity", string(kind)))

	receiver := NewReceiver(source, ReceiverConfig{
		MaxMessages: cfg.ReceiveMaxMessages,
	}, log)

	parser := NewParserStage(kind, NewJSONEnvelopeParser(), cfg.ExcludedCountries(kind), metrics, log)

	batchWriter := NewBatchWriter(kind, q, BatchWriterConfig{
		MaxBatchSize:                 cfg.BatchSizeMax,
		FlushTimeout:                 cfg.BatchTimeout(),
		BackpressureThresholdPercent: cfg.BackpressureThresholdPercent,
		BackpressureBackoff:          cfg.BackpressureBackoff(),
	}, metrics, log)

	return &Consumer{
		kind:        kind,
		receiver:    receiver,
		parser:      parser,
		batchWriter: batchWriter,
		log:         log,
	}
}

// State returns the current lifecycle state
func (c *Consumer) State() State {
	return State(c.state.Load())
}

// Start runs the pipeline until ctx is cancelled or a stage panics. A panic
// leaves the consumer stopping and is returned as an error.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.state.Store(int32(StateRunning))
	c.log.Info("Consumer started")

	messageChan := make(chan []*broker.Message, 10)
	envelopeChan := make(chan *Envelope, 100)

	var g errgroup.Group
	g.Go(c.stage("receiver", cancel, func() { c.receiver.Start(ctx, messageChan) }))
	g.Go(c.stage("parser", cancel, func() { c.parser.Start(ctx, messageChan, envelopeChan) }))
	g.Go(c.stage("batch_writer", cancel, func() { c.batchWriter.Start(ctx, envelopeChan) }))

	go func() {
		<-ctx.Done()
		c.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
	}()

	if err := g.Wait(); err != nil {
		c.state.Store(int32(StateStopping))
		return err
	}

	c.state.Store(int32(StateStopped))
	c.log.Info("Consumer stopped")
	return nil
}

// stage wraps a pipeline stage so a panic stops the whole pipeline instead
// of the process
func (c *Consumer) stage(name string, cancel context.CancelFunc, run func()) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				c.state.Store(int32(StateStopping))
				c.log.Error("Consumer stage panicked",
					zap.String("stage", name),
					zap.Any("panic", r))
				cancel()
				err = fmt.Errorf("%s consumer %s stage panicked: %v", c.kind, name, r)
			}
		}()
		run()
		return nil
	}
}

// Group runs one consumer per entity kind
type Group struct {
	consumers []*Consumer
	log       *zap.Logger
}

// NewGroup creates a group over the given consumers
func NewGroup(log *zap.Logger, consumers ...*Consumer) *Group {
	return &Group{
		consumers: consumers,
		log:       log,
	}
}

// Start runs every consumer and waits for all of them. A failing consumer
// does not stop its siblings.
func (g *Group) Start(ctx context.Context) error {
	var eg errgroup.Group
	for _, c := range g.consumers {
		eg.Go(func() error {
			if err := c.Start(ctx); err != nil {
				g.log.Error("Consumer stopped with error",
					zap.String("entity", string(c.kind)),
					zap.Error(err))
				return err
			}
			return nil
		})
	}
	return eg.Wait()
}

// States returns the state of every consumer by entity kind
func (g *Group) States() map[domain.EntityKind]State {
	states := make(map[domain.EntityKind]State, len(g.consumers))
	for _, c := range g.consumers {
		states[c.kind] = c.State()
	}
	return states
}
