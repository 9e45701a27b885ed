package aggregation

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/Heurr/pps-sub000/internal/domain"
	"github.com/Heurr/pps-sub000/internal/repository"
)

// MockQueue is a mock implementation of queue.Queue
type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) Push(ctx context.Context, key string, items ...[]byte) error {
	return m.Called(ctx, key, items).Error(0)
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

// MockSignalSet is a mock implementation of queue.SignalSet
type MockSignalSet struct {
	mock.Mock
}

func (m *MockSignalSet) Signal(ctx context.Context, key string, members ...string) error {
	return m.Called(ctx, key, members).Error(0)
}

func (m *MockSignalSet) Drain(ctx context.Context, key string, max int) ([]string, error) {
	args := m.Called(ctx, key, max)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// MockFlags is a mock implementation of queue.Flags
type MockFlags struct {
	mock.Mock
}

func (m *MockFlags) SetFlag(ctx context.Context, key string, value bool) error {
	return m.Called(ctx, key, value).Error(0)
}

func (m *MockFlags) Flag(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

// MockProductPriceRepository is a mock implementation of repository.ProductPriceRepository
type MockProductPriceRepository struct {
	mock.Mock
}

func (m *MockProductPriceRepository) GetProductPrices(ctx context.Context, day time.Time, keys []domain.ProductPriceKey) (map[domain.ProductPriceKey]domain.ProductPrice, error) {
	args := m.Called(ctx, day, keys)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[domain.ProductPriceKey]domain.ProductPrice), args.Error(1)
}

func (m *MockProductPriceRepository) UpsertProductPrices(ctx context.Context, prices []domain.ProductPrice) error {
	return m.Called(ctx, prices).Error(0)
}

func (m *MockProductPriceRepository) DeleteProductPrices(ctx context.Context, day time.Time, keys []domain.ProductPriceKey) error {
	return m.Called(ctx, day, keys).Error(0)
}

func (m *MockProductPriceRepository) GetProductPricesByProducts(ctx context.Context, day time.Time, productIDs []string) ([]domain.ProductPrice, error) {
	args := m.Called(ctx, day, productIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ProductPrice), args.Error(1)
}

func (m *MockProductPriceRepository) PriceBound(ctx context.Context, productID string, priceType domain.PriceType, bound repository.Bound) (decimal.NullDecimal, error) {
	args := m.Called(ctx, productID, priceType, bound)
	return args.Get(0).(decimal.NullDecimal), args.Error(1)
}
