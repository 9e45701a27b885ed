package aggregation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Heurr/pps-sub000/internal/domain"
	"github.com/Heurr/pps-sub000/internal/observability"
	"github.com/Heurr/pps-sub000/internal/queue"
	"github.com/Heurr/pps-sub000/internal/repository"
)

var (
	testNow   = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	today     = time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)
	yesterday = time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)
	inStock   = domain.ProductPriceKey{ProductID: "P", PriceType: domain.PriceTypeInStock}
)

type testDeps struct {
	queue   *MockQueue
	signals *MockSignalSet
	flags   *MockFlags
	prices  *MockProductPriceRepository
}

func newTestEngine() (*Engine, testDeps) {
	deps := testDeps{
		queue:   new(MockQueue),
		signals: new(MockSignalSet),
		flags:   new(MockFlags),
		prices:  new(MockProductPriceRepository),
	}
	engine := NewEngine(deps.queue, deps.signals, deps.flags, deps.prices, Config{
		BatchSize:    100,
		PopTimeout:   10 * time.Millisecond,
		ErrorBackoff: time.Millisecond,
	}, observability.NewMetrics(), zap.NewNop())
	engine.now = func() time.Time { return testNow }
	return engine, deps
}

func dec(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func nullDec(v int64) decimal.NullDecimal {
	return decimal.NewNullDecimal(dec(v))
}

func upsert(p int64, old decimal.NullDecimal, at int) domain.PriceEvent {
	return domain.PriceEvent{
		ProductID:    "P",
		PriceType:    domain.PriceTypeInStock,
		Action:       domain.PriceActionUpsert,
		Price:        nullDec(p),
		OldPrice:     old,
		CountryCode:  "CZ",
		CurrencyCode: "CZK",
		CreatedAt:    testNow.Add(time.Duration(at) * time.Second),
	}
}

func remove(old int64, at int) domain.PriceEvent {
	return domain.PriceEvent{
		ProductID:    "P",
		PriceType:    domain.PriceTypeInStock,
		Action:       domain.PriceActionDelete,
		OldPrice:     nullDec(old),
		CountryCode:  "CZ",
		CurrencyCode: "CZK",
		CreatedAt:    testNow.Add(time.Duration(at) * time.Second),
	}
}

func aggregate(lo, hi int64) *domain.ProductPrice {
	return &domain.ProductPrice{
		Day:          today,
		ProductID:    "P",
		PriceType:    domain.PriceTypeInStock,
		MinPrice:     dec(lo),
		MaxPrice:     dec(hi),
		CurrencyCode: "CZK",
		CountryCode:  "CZ",
		Version:      1,
	}
}

func assertBounds(t *testing.T, row domain.ProductPrice, lo, hi int64) {
	t.Helper()
	assert.True(t, row.MinPrice.Equal(dec(lo)), "min is %s, want %d", row.MinPrice, lo)
	assert.True(t, row.MaxPrice.Equal(dec(hi)), "max is %s, want %d", row.MaxPrice, hi)
}

func TestEngine_Apply_FirstUpsertCreates(t *testing.T) {
	engine, deps := newTestEngine()

	result, row, err := engine.Apply(context.Background(), upsert(10, decimal.NullDecimal{}, 0), nil)

	require.NoError(t, err)
	assert.Equal(t, ResultCreated, result)
	assertBounds(t, row, 10, 10)
	assert.Equal(t, "CZK", row.CurrencyCode)
	deps.prices.AssertNotCalled(t, "PriceBound", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestEngine_Apply_UpsertInsideBoundsDoesNotRequery(t *testing.T) {
	engine, deps := newTestEngine()

	result, _, err := engine.Apply(context.Background(), upsert(12, nullDec(10), 0), aggregate(5, 20))

	require.NoError(t, err)
	assert.Equal(t, ResultUnchanged, result)
	deps.prices.AssertNotCalled(t, "PriceBound", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestEngine_Apply_UpsertWidensBounds(t *testing.T) {
	engine, _ := newTestEngine()

	result, row, err := engine.Apply(context.Background(), upsert(25, decimal.NullDecimal{}, 0), aggregate(5, 20))

	require.NoError(t, err)
	assert.Equal(t, ResultUpdated, result)
	assertBounds(t, row, 5, 25)
	assert.Equal(t, today, row.Day)
	assert.Greater(t, row.Version, int64(1))
}

func TestEngine_Apply_UpsertOfMinRequeriesMin(t *testing.T) {
	engine, deps := newTestEngine()
	deps.prices.On("PriceBound", mock.Anything, "P", domain.PriceTypeInStock, repository.BoundMin).Return(nullDec(8), nil).Once()

	result, row, err := engine.Apply(context.Background(), upsert(8, nullDec(5), 0), aggregate(5, 20))

	require.NoError(t, err)
	assert.Equal(t, ResultUpdated, result)
	assertBounds(t, row, 8, 20)
	deps.prices.AssertExpectations(t)
}

func TestEngine_Apply_UpsertWithVanishedBoundIsObsolete(t *testing.T) {
	engine, deps := newTestEngine()
	deps.prices.On("PriceBound", mock.Anything, "P", domain.PriceTypeInStock, repository.BoundMax).Return(decimal.NullDecimal{}, nil).Once()

	result, _, err := engine.Apply(context.Background(), upsert(15, nullDec(20), 0), aggregate(5, 20))

	require.NoError(t, err)
	assert.Equal(t, ResultObsolete, result)
}

func TestEngine_Apply_RequeryFailure(t *testing.T) {
	engine, deps := newTestEngine()
	deps.prices.On("PriceBound", mock.Anything, "P", domain.PriceTypeInStock, repository.BoundMin).Return(decimal.NullDecimal{}, errors.New("timeout"))

	_, _, err := engine.Apply(context.Background(), remove(5, 0), aggregate(5, 20))

	assert.ErrorContains(t, err, "failed to derive min price")
}

func TestEngine_Apply_DeleteWithoutAggregateIsUnchanged(t *testing.T) {
	engine, _ := newTestEngine()

	result, _, err := engine.Apply(context.Background(), remove(10, 0), nil)

	require.NoError(t, err)
	assert.Equal(t, ResultUnchanged, result)
}

func TestEngine_Apply_DeleteInsideBoundsIsUnchanged(t *testing.T) {
	engine, deps := newTestEngine()

	result, _, err := engine.Apply(context.Background(), remove(10, 0), aggregate(5, 20))

	require.NoError(t, err)
	assert.Equal(t, ResultUnchanged, result)
	deps.prices.AssertNotCalled(t, "PriceBound", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestEngine_Apply_DeleteOfLastOfferDeletes(t *testing.T) {
	engine, deps := newTestEngine()
	deps.prices.On("PriceBound", mock.Anything, "P", domain.PriceTypeInStock, repository.BoundMin).Return(decimal.NullDecimal{}, nil).Once()

	result, _, err := engine.Apply(context.Background(), remove(10, 0), aggregate(10, 10))

	require.NoError(t, err)
	assert.Equal(t, ResultDeleted, result)
}

func TestEngine_Process_DeleteOfMaxRequeries(t *testing.T) {
	engine, deps := newTestEngine()
	events := []domain.PriceEvent{
		remove(20, 4),
		upsert(5, decimal.NullDecimal{}, 2),
		upsert(10, decimal.NullDecimal{}, 1),
		upsert(20, decimal.NullDecimal{}, 3),
	}

	deps.prices.On("GetProductPrices", mock.Anything, today, []domain.ProductPriceKey{inStock}).
		Return(map[domain.ProductPriceKey]domain.ProductPrice{}, nil).Once()
	deps.flags.On("Flag", mock.Anything, queue.SafeModeKey).Return(false, nil)
	deps.prices.On("PriceBound", mock.Anything, "P", domain.PriceTypeInStock, repository.BoundMax).Return(nullDec(10), nil).Once()
	deps.prices.On("UpsertProductPrices", mock.Anything, mock.MatchedBy(func(rows []domain.ProductPrice) bool {
		return len(rows) == 1 && rows[0].MinPrice.Equal(dec(5)) && rows[0].MaxPrice.Equal(dec(10)) && rows[0].Day.Equal(today)
	})).Return(nil).Once()
	deps.signals.On("Signal", mock.Anything, queue.ChangedProductsKey, []string{"P"}).Return(nil).Once()

	summary, err := engine.Process(context.Background(), events)

	require.NoError(t, err)
	assert.Equal(t, Summary{ResultCreated: 1, ResultUpdated: 3}, summary)
	deps.prices.AssertExpectations(t)
	deps.signals.AssertExpectations(t)
	deps.prices.AssertNotCalled(t, "DeleteProductPrices", mock.Anything, mock.Anything, mock.Anything)
}

func TestEngine_Process_SafeModeSeedsFromYesterday(t *testing.T) {
	engine, deps := newTestEngine()
	seeded := aggregate(5, 20)
	seeded.Day = yesterday

	deps.prices.On("GetProductPrices", mock.Anything, today, []domain.ProductPriceKey{inStock}).
		Return(map[domain.ProductPriceKey]domain.ProductPrice{}, nil).Once()
	deps.flags.On("Flag", mock.Anything, queue.SafeModeKey).Return(true, nil)
	deps.prices.On("GetProductPrices", mock.Anything, yesterday, []domain.ProductPriceKey{inStock}).
		Return(map[domain.ProductPriceKey]domain.ProductPrice{inStock: *seeded}, nil).Once()
	deps.prices.On("UpsertProductPrices", mock.Anything, mock.MatchedBy(func(rows []domain.ProductPrice) bool {
		return len(rows) == 1 && rows[0].MinPrice.Equal(dec(5)) && rows[0].MaxPrice.Equal(dec(30)) && rows[0].Day.Equal(today)
	})).Return(nil).Once()
	deps.signals.On("Signal", mock.Anything, queue.ChangedProductsKey, []string{"P"}).Return(nil)

	summary, err := engine.Process(context.Background(), []domain.PriceEvent{upsert(30, decimal.NullDecimal{}, 0)})

	require.NoError(t, err)
	assert.Equal(t, Summary{ResultUpdated: 1}, summary)
	deps.prices.AssertExpectations(t)
}

func TestEngine_Process_SafeModeDeleteRetractsSeed(t *testing.T) {
	engine, deps := newTestEngine()
	seeded := aggregate(10, 10)
	seeded.Day = yesterday

	deps.prices.On("GetProductPrices", mock.Anything, today, []domain.ProductPriceKey{inStock}).
		Return(map[domain.ProductPriceKey]domain.ProductPrice{}, nil).Once()
	deps.flags.On("Flag", mock.Anything, queue.SafeModeKey).Return(true, nil)
	deps.prices.On("GetProductPrices", mock.Anything, yesterday, []domain.ProductPriceKey{inStock}).
		Return(map[domain.ProductPriceKey]domain.ProductPrice{inStock: *seeded}, nil).Once()
	deps.prices.On("PriceBound", mock.Anything, "P", domain.PriceTypeInStock, repository.BoundMin).Return(decimal.NullDecimal{}, nil).Once()
	deps.prices.On("DeleteProductPrices", mock.Anything, today, []domain.ProductPriceKey{inStock}).Return(nil).Once()
	deps.prices.On("DeleteProductPrices", mock.Anything, yesterday, []domain.ProductPriceKey{inStock}).Return(nil).Once()
	deps.signals.On("Signal", mock.Anything, queue.ChangedProductsKey, []string{"P"}).Return(nil).Once()

	summary, err := engine.Process(context.Background(), []domain.PriceEvent{remove(10, 0)})

	require.NoError(t, err)
	assert.Equal(t, Summary{ResultDeleted: 1}, summary)
	deps.prices.AssertExpectations(t)
}

func TestEngine_Process_SafeModeUpdateKeepsSeed(t *testing.T) {
	engine, deps := newTestEngine()
	seeded := aggregate(10, 10)
	seeded.Day = yesterday

	deps.prices.On("GetProductPrices", mock.Anything, today, []domain.ProductPriceKey{inStock}).
		Return(map[domain.ProductPriceKey]domain.ProductPrice{}, nil).Once()
	deps.flags.On("Flag", mock.Anything, queue.SafeModeKey).Return(true, nil)
	deps.prices.On("GetProductPrices", mock.Anything, yesterday, []domain.ProductPriceKey{inStock}).
		Return(map[domain.ProductPriceKey]domain.ProductPrice{inStock: *seeded}, nil).Once()
	deps.prices.On("UpsertProductPrices", mock.Anything, mock.Anything).Return(nil).Once()
	deps.signals.On("Signal", mock.Anything, queue.ChangedProductsKey, []string{"P"}).Return(nil).Once()

	_, err := engine.Process(context.Background(), []domain.PriceEvent{upsert(4, decimal.NullDecimal{}, 0)})

	require.NoError(t, err)
	deps.prices.AssertNotCalled(t, "DeleteProductPrices", mock.Anything, mock.Anything, mock.Anything)
}

func TestEngine_Process_WithoutSafeModeMissingRowIsCreated(t *testing.T) {
	engine, deps := newTestEngine()

	deps.prices.On("GetProductPrices", mock.Anything, today, []domain.ProductPriceKey{inStock}).
		Return(map[domain.ProductPriceKey]domain.ProductPrice{}, nil).Once()
	deps.flags.On("Flag", mock.Anything, queue.SafeModeKey).Return(false, nil)
	deps.prices.On("UpsertProductPrices", mock.Anything, mock.MatchedBy(func(rows []domain.ProductPrice) bool {
		return len(rows) == 1 && rows[0].MinPrice.Equal(dec(30)) && rows[0].MaxPrice.Equal(dec(30))
	})).Return(nil).Once()
	deps.signals.On("Signal", mock.Anything, queue.ChangedProductsKey, []string{"P"}).Return(nil)

	summary, err := engine.Process(context.Background(), []domain.PriceEvent{upsert(30, decimal.NullDecimal{}, 0)})

	require.NoError(t, err)
	assert.Equal(t, Summary{ResultCreated: 1}, summary)
	deps.prices.AssertNumberOfCalls(t, "GetProductPrices", 1)
}

func TestEngine_Process_FullDepletionDeletesRow(t *testing.T) {
	engine, deps := newTestEngine()

	deps.prices.On("GetProductPrices", mock.Anything, today, []domain.ProductPriceKey{inStock}).
		Return(map[domain.ProductPriceKey]domain.ProductPrice{inStock: *aggregate(10, 10)}, nil).Once()
	deps.flags.On("Flag", mock.Anything, queue.SafeModeKey).Return(false, nil)
	deps.prices.On("PriceBound", mock.Anything, "P", domain.PriceTypeInStock, repository.BoundMin).Return(decimal.NullDecimal{}, nil).Once()
	deps.prices.On("DeleteProductPrices", mock.Anything, today, []domain.ProductPriceKey{inStock}).Return(nil).Once()
	deps.signals.On("Signal", mock.Anything, queue.ChangedProductsKey, []string{"P"}).Return(nil).Once()

	summary, err := engine.Process(context.Background(), []domain.PriceEvent{remove(10, 0)})

	require.NoError(t, err)
	assert.Equal(t, Summary{ResultDeleted: 1}, summary)
	deps.prices.AssertExpectations(t)
	deps.prices.AssertNotCalled(t, "UpsertProductPrices", mock.Anything, mock.Anything)
}

func TestEngine_Process_UnchangedSignalsNothing(t *testing.T) {
	engine, deps := newTestEngine()

	deps.prices.On("GetProductPrices", mock.Anything, today, []domain.ProductPriceKey{inStock}).
		Return(map[domain.ProductPriceKey]domain.ProductPrice{inStock: *aggregate(5, 20)}, nil).Once()
	deps.flags.On("Flag", mock.Anything, queue.SafeModeKey).Return(false, nil)

	summary, err := engine.Process(context.Background(), []domain.PriceEvent{upsert(12, nullDec(11), 0)})

	require.NoError(t, err)
	assert.Equal(t, Summary{ResultUnchanged: 1}, summary)
	deps.signals.AssertNotCalled(t, "Signal", mock.Anything, mock.Anything, mock.Anything)
	deps.prices.AssertNotCalled(t, "UpsertProductPrices", mock.Anything, mock.Anything)
}

func TestEngine_ProcessRaw_RequeuesOnFailure(t *testing.T) {
	engine, deps := newTestEngine()
	payload, err := json.Marshal(upsert(10, decimal.NullDecimal{}, 0))
	require.NoError(t, err)
	raw := [][]byte{payload, []byte("{")}

	deps.prices.On("GetProductPrices", mock.Anything, today, mock.Anything).Return(nil, errors.New("connection reset"))
	deps.queue.On("Push", mock.Anything, queue.PriceEventsKey, raw).Return(nil).Once()

	err = engine.processRaw(context.Background(), raw)

	assert.ErrorContains(t, err, "failed to load product prices")
	deps.queue.AssertExpectations(t)
}

func TestEngine_Start_ProcessesPoppedEvents(t *testing.T) {
	engine, deps := newTestEngine()
	payload, err := json.Marshal(upsert(10, decimal.NullDecimal{}, 0))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps.queue.On("Pop", mock.Anything, queue.PriceEventsKey, 100, 10*time.Millisecond).Return([][]byte{payload}, nil).Once()
	deps.queue.On("Pop", mock.Anything, queue.PriceEventsKey, 100, 10*time.Millisecond).Return([][]byte{}, nil).After(5 * time.Millisecond).Maybe()
	deps.prices.On("GetProductPrices", mock.Anything, today, []domain.ProductPriceKey{inStock}).
		Return(map[domain.ProductPriceKey]domain.ProductPrice{}, nil)
	deps.flags.On("Flag", mock.Anything, queue.SafeModeKey).Return(false, nil)
	deps.prices.On("UpsertProductPrices", mock.Anything, mock.Anything).Return(nil)
	deps.signals.On("Signal", mock.Anything, queue.ChangedProductsKey, []string{"P"}).Return(nil).Run(func(mock.Arguments) { cancel() })

	done := make(chan error, 1)
	go func() { done <- engine.Start(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("engine did not stop")
	}
	deps.prices.AssertCalled(t, "UpsertProductPrices", mock.Anything, mock.Anything)
}
