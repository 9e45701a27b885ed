package consumer

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/mock"

	"github.com/Heurr/pps-sub000/internal/broker"
	"github.com/Heurr/pps-sub000/internal/message"
)

// MockSource is a mock implementation of broker.Source
type MockSource struct {
	mock.Mock
}

func (m *MockSource) Receive(ctx context.Context, max int) ([]*broker.Message, error) {
	args := m.Called(ctx, max)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*broker.Message), args.Error(1)
}

func (m *MockSource) Name() string {
	return "test-queue"
}

// MockQueue is a mock implementation of queue.Queue
type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) Push(ctx context.Context, key string, items ...[]byte) error {
	args := m.Called(ctx, key, items)
	return args.Error(0)
}

func (m *MockQueue) Pop(ctx context.Context, key string, max int, timeout time.Duration) ([][]byte, error) {
	args := m.Called(ctx, key, max, timeout)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]byte), args.Error(1)
}

func (m *MockQueue) MemoryUsage(ctx context.Context) (float64, error) {
	args := m.Called(ctx)
	return args.Get(0).(float64), args.Error(1)
}

// MockMessageParser is a mock implementation of MessageParser
type MockMessageParser struct {
	mock.Mock
}

func (m *MockMessageParser) Parse(body []byte) (*message.Header, error) {
	args := m.Called(body)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*message.Header), args.Error(1)
}

// trackedMessage records how a broker message was settled
type trackedMessage struct {
	*broker.Message
	acks  atomic.Int32
	nacks atomic.Int32
}

func newTrackedMessage(id, body string) *trackedMessage {
	tm := &trackedMessage{}
	tm.Message = broker.NewMessage(id, []byte(body),
		func(context.Context) error { tm.acks.Add(1); return nil },
		func(context.Context) error { tm.nacks.Add(1); return nil },
	)
	return tm
}

// counterValue sums every series of a counter family in the registry
func counterValue(registry *prometheus.Registry, name string) float64 {
	families, err := registry.Gather()
	if err != nil {
		return 0
	}
	var total float64
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}
