package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Heurr/pps-sub000/internal/domain"
	"github.com/Heurr/pps-sub000/internal/dto"
	"github.com/Heurr/pps-sub000/internal/repository"
)

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

// MockPriceHistoryRepository is a mock implementation of repository.PriceHistoryRepository
type MockPriceHistoryRepository struct {
	mock.Mock
}

func (m *MockPriceHistoryRepository) InitSchema(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockPriceHistoryRepository) InsertBatch(ctx context.Context, docs []domain.PriceDocument) (int, error) {
	args := m.Called(ctx, docs)
	return args.Int(0), args.Error(1)
}

func (m *MockPriceHistoryRepository) GetPriceHistory(ctx context.Context, productID string, from, to time.Time) ([]repository.PriceHistoryEntry, error) {
	args := m.Called(ctx, productID, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]repository.PriceHistoryEntry), args.Error(1)
}

func (m *MockPriceHistoryRepository) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockPriceHistoryRepository) Close() error {
	return m.Called().Error(0)
}

func newTestPriceService(prices *MockProductPriceRepository, history repository.PriceHistoryRepository) *PriceService {
	s := NewPriceService(prices, history, 30, zap.NewNop())
	s.now = func() time.Time { return testNow }
	return s
}

func TestPriceService_GetProductPrices_Success(t *testing.T) {
	prices := new(MockProductPriceRepository)
	svc := newTestPriceService(prices, nil)
	day := domain.Day(testNow)

	prices.On("GetProductPricesByProducts", mock.Anything, day, []string{"P"}).Return([]domain.ProductPrice{
		{ProductID: "P", PriceType: domain.PriceTypeInStock, MinPrice: decimal.NewFromInt(5), MaxPrice: decimal.NewFromInt(9), CurrencyCode: "CZK", CountryCode: "CZ"},
		{ProductID: "P", PriceType: domain.PriceTypeAllOffers, MinPrice: decimal.NewFromInt(4), MaxPrice: decimal.NewFromInt(12), CurrencyCode: "CZK", CountryCode: "CZ"},
	}, nil)

	response, err := svc.GetProductPrices(context.Background(), "P")

	require.NoError(t, err)
	assert.Equal(t, &dto.ProductPricesResponse{
		ProductID:    "P",
		Day:          "2026-10-17",
		CurrencyCode: "CZK",
		CountryCode:  "CZ",
		Prices: []dto.PriceData{
			{Type: "all-offers", Min: "4", Max: "12"},
			{Type: "in-stock", Min: "5", Max: "9"},
		},
	}, response)
	prices.AssertExpectations(t)
}

func TestPriceService_GetProductPrices_RepositoryError(t *testing.T) {
	prices := new(MockProductPriceRepository)
	svc := newTestPriceService(prices, nil)

	prices.On("GetProductPricesByProducts", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("timeout"))

	_, err := svc.GetProductPrices(context.Background(), "P")

	assert.ErrorContains(t, err, "failed to get product prices from repository")
}

func TestPriceService_GetPriceHistory_Success(t *testing.T) {
	history := new(MockPriceHistoryRepository)
	svc := newTestPriceService(new(MockProductPriceRepository), history)
	from, to := testNow.Add(-48*time.Hour), testNow

	history.On("GetPriceHistory", mock.Anything, "P", from, to).Return([]repository.PriceHistoryEntry{
		{ProductID: "P", PriceType: domain.PriceTypeAllOffers, MinPrice: decimal.NewFromInt(1), MaxPrice: decimal.NewFromInt(2),
			CurrencyCode: "CZK", Action: "update", PublishedAt: testNow.Add(-time.Hour)},
	}, nil)

	response, err := svc.GetPriceHistory(context.Background(), &dto.GetPriceHistoryRequest{ProductID: "P", From: from.Unix(), To: to.Unix()})

	require.NoError(t, err)
	require.Len(t, response.History, 1)
	assert.Equal(t, "1", response.History[0].Min)
	assert.Equal(t, testNow.Add(-time.Hour).Unix(), response.History[0].PublishedAt)
	history.AssertExpectations(t)
}

func TestPriceService_GetPriceHistory_InvalidRange(t *testing.T) {
	history := new(MockPriceHistoryRepository)
	svc := newTestPriceService(new(MockProductPriceRepository), history)

	_, err := svc.GetPriceHistory(context.Background(), &dto.GetPriceHistoryRequest{ProductID: "P", From: 200, To: 100})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = svc.GetPriceHistory(context.Background(), &dto.GetPriceHistoryRequest{
		ProductID: "P",
		From:      testNow.Add(-31 * 24 * time.Hour).Unix(),
		To:        testNow.Unix(),
	})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	history.AssertNotCalled(t, "GetPriceHistory")
}

func TestPriceService_GetPriceHistory_Disabled(t *testing.T) {
	svc := newTestPriceService(new(MockProductPriceRepository), nil)

	_, err := svc.GetPriceHistory(context.Background(), &dto.GetPriceHistoryRequest{ProductID: "P", From: 1, To: 2})

	assert.ErrorIs(t, err, ErrHistoryDisabled)
}
