package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Heurr/pps-sub000/internal/domain"
)

var testNow = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

func price(v int64) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.NewFromInt(v))
}

func newTestOfferService(store *memStore, force bool) *OfferService {
	s := NewOfferService(store, force, zap.NewNop())
	s.now = func() time.Time { return testNow }
	return s
}

func offerMsg(id, product string, p int64, version int64, action domain.Action) domain.OfferMessage {
	return domain.OfferMessage{
		ID:           id,
		CountryCode:  "CZ",
		ProductID:    product,
		ShopID:       "s1",
		CurrencyCode: "CZK",
		Price:        price(p),
		Version:      version,
		Action:       action,
	}
}

func storedOffer(id, product string, p int64, version int64) domain.Offer {
	return domain.Offer{
		ID:           id,
		CountryCode:  "CZ",
		ProductID:    product,
		ShopID:       "s1",
		CurrencyCode: "CZK",
		Price:        price(p),
		Version:      domain.NewVersion(version),
	}
}

func TestOfferService_Upsert_CreateEmitsAllOffers(t *testing.T) {
	store := newMemStore()
	svc := newTestOfferService(store, false)

	result, err := svc.Upsert(context.Background(), []domain.OfferMessage{offerMsg("o1", "P", 10, 1, domain.ActionCreate)})

	require.NoError(t, err)
	assert.Equal(t, 1, result.Written)
	require.Len(t, result.Events, 1)
	event := result.Events[0]
	assert.Equal(t, "P", event.ProductID)
	assert.Equal(t, domain.PriceTypeAllOffers, event.PriceType)
	assert.Equal(t, domain.PriceActionUpsert, event.Action)
	assert.True(t, event.Price.Decimal.Equal(decimal.NewFromInt(10)))
	assert.False(t, event.OldPrice.Valid)
	assert.Equal(t, "CZK", event.CurrencyCode)
	assert.Equal(t, testNow, event.CreatedAt)

	stored := store.offers[domain.EntityKey{ID: "o1", CountryCode: "CZ"}]
	assert.Equal(t, domain.NewVersion(1), stored.Version)
}

func TestOfferService_Upsert_PriceChangeCarriesOldPrice(t *testing.T) {
	store := newMemStore()
	existing := storedOffer("o1", "P", 10, 1)
	existing.InStock = domain.BoolPtr(true)
	existing.AvailabilityVersion = domain.NewVersion(1)
	store.offers[existing.Key()] = existing
	svc := newTestOfferService(store, false)

	result, err := svc.Upsert(context.Background(), []domain.OfferMessage{offerMsg("o1", "P", 12, 2, domain.ActionUpdate)})

	require.NoError(t, err)
	require.Len(t, result.Events, 2)
	for _, event := range result.Events {
		assert.Equal(t, domain.PriceActionUpsert, event.Action)
		assert.True(t, event.Price.Decimal.Equal(decimal.NewFromInt(12)))
		assert.True(t, event.OldPrice.Decimal.Equal(decimal.NewFromInt(10)))
	}
	assert.Equal(t, domain.PriceTypeAllOffers, result.Events[0].PriceType)
	assert.Equal(t, domain.PriceTypeInStock, result.Events[1].PriceType)

	stored := store.offers[existing.Key()]
	assert.Equal(t, domain.BoolPtr(true), stored.InStock)
}

func TestOfferService_Upsert_ProductMoveRetractsOldProduct(t *testing.T) {
	store := newMemStore()
	existing := storedOffer("o1", "P1", 10, 1)
	store.offers[existing.Key()] = existing
	svc := newTestOfferService(store, false)

	result, err := svc.Upsert(context.Background(), []domain.OfferMessage{offerMsg("o1", "P2", 10, 2, domain.ActionUpdate)})

	require.NoError(t, err)
	require.Len(t, result.Events, 2)
	assert.Equal(t, domain.PriceEvent{
		ProductID:    "P1",
		PriceType:    domain.PriceTypeAllOffers,
		Action:       domain.PriceActionDelete,
		OldPrice:     price(10),
		CountryCode:  "CZ",
		CurrencyCode: "CZK",
		CreatedAt:    testNow,
	}, result.Events[0])
	assert.Equal(t, "P2", result.Events[1].ProductID)
	assert.Equal(t, domain.PriceActionUpsert, result.Events[1].Action)
	assert.False(t, result.Events[1].OldPrice.Valid)
}

func TestOfferService_Upsert_StaleOrIdenticalIsSkipped(t *testing.T) {
	store := newMemStore()
	existing := storedOffer("o1", "P", 10, 5)
	store.offers[existing.Key()] = existing
	svc := newTestOfferService(store, false)

	stale, err := svc.Upsert(context.Background(), []domain.OfferMessage{offerMsg("o1", "P", 20, 4, domain.ActionUpdate)})
	require.NoError(t, err)
	assert.Zero(t, stale.Written)
	assert.Empty(t, stale.Events)

	identical, err := svc.Upsert(context.Background(), []domain.OfferMessage{offerMsg("o1", "P", 10, 6, domain.ActionUpdate)})
	require.NoError(t, err)
	assert.Zero(t, identical.Written)

	assert.Equal(t, domain.NewVersion(5), store.offers[existing.Key()].Version)
	assert.True(t, store.offers[existing.Key()].Price.Decimal.Equal(decimal.NewFromInt(10)))
}

func TestOfferService_Upsert_ForceUpdateWritesIdenticalPayload(t *testing.T) {
	store := newMemStore()
	existing := storedOffer("o1", "P", 10, 5)
	store.offers[existing.Key()] = existing
	svc := newTestOfferService(store, true)

	result, err := svc.Upsert(context.Background(), []domain.OfferMessage{offerMsg("o1", "P", 10, 6, domain.ActionUpdate)})

	require.NoError(t, err)
	assert.Equal(t, 1, result.Written)
	require.Len(t, result.Events, 1)
	assert.Equal(t, domain.PriceActionUpsert, result.Events[0].Action)
	assert.Equal(t, domain.NewVersion(6), store.offers[existing.Key()].Version)
}

func TestOfferService_Upsert_JoinsCertificationOfNewShop(t *testing.T) {
	store := newMemStore()
	store.shops[domain.EntityKey{ID: "s1", CountryCode: "CZ"}] = domain.Shop{ID: "s1", CountryCode: "CZ", Certified: true, Version: domain.NewVersion(1)}
	stub := domain.Offer{ID: "o1", CountryCode: "CZ", InStock: domain.BoolPtr(true), AvailabilityVersion: domain.NewVersion(1)}
	store.offers[stub.Key()] = stub
	svc := newTestOfferService(store, false)

	result, err := svc.Upsert(context.Background(), []domain.OfferMessage{offerMsg("o1", "P", 10, 1, domain.ActionCreate)})

	require.NoError(t, err)
	var types []domain.PriceType
	for _, event := range result.Events {
		types = append(types, event.PriceType)
	}
	assert.Equal(t, []domain.PriceType{
		domain.PriceTypeAllOffers,
		domain.PriceTypeInStock,
		domain.PriceTypeInStockCertified,
	}, types)
}

func TestOfferService_Upsert_OutOfOrderVersionsConverge(t *testing.T) {
	msgs := []domain.OfferMessage{
		offerMsg("o1", "P", 10, 1, domain.ActionCreate),
		offerMsg("o1", "P", 20, 2, domain.ActionUpdate),
		offerMsg("o1", "P", 30, 3, domain.ActionUpdate),
	}
	key := domain.EntityKey{ID: "o1", CountryCode: "CZ"}

	inOrder := newMemStore()
	outOfOrder := newMemStore()
	for _, i := range []int{0, 1, 2} {
		_, err := newTestOfferService(inOrder, false).Upsert(context.Background(), msgs[i:i+1])
		require.NoError(t, err)
	}
	for _, i := range []int{2, 0, 1} {
		_, err := newTestOfferService(outOfOrder, false).Upsert(context.Background(), msgs[i:i+1])
		require.NoError(t, err)
	}

	assert.Equal(t, inOrder.offers[key], outOfOrder.offers[key])
	assert.Equal(t, domain.NewVersion(3), outOfOrder.offers[key].Version)
}

func TestOfferService_Delete_RetractsActiveTypes(t *testing.T) {
	store := newMemStore()
	existing := storedOffer("o1", "P", 10, 1)
	existing.InStock = domain.BoolPtr(true)
	existing.Buyable = domain.BoolPtr(true)
	store.offers[existing.Key()] = existing
	svc := newTestOfferService(store, false)

	stale, err := svc.Delete(context.Background(), []domain.OfferMessage{{ID: "o1", CountryCode: "CZ", Version: 1, Action: domain.ActionDelete}})
	require.NoError(t, err)
	assert.Zero(t, stale.Written)

	result, err := svc.Delete(context.Background(), []domain.OfferMessage{{ID: "o1", CountryCode: "CZ", Version: 2, Action: domain.ActionDelete}})

	require.NoError(t, err)
	assert.Equal(t, 1, result.Written)
	require.Len(t, result.Events, 3)
	for _, event := range result.Events {
		assert.Equal(t, domain.PriceActionDelete, event.Action)
		assert.True(t, event.OldPrice.Decimal.Equal(decimal.NewFromInt(10)))
		assert.False(t, event.Price.Valid)
	}
	assert.NotContains(t, store.offers, existing.Key())
}

func TestOfferService_Upsert_StoreFailure(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("connection refused")
	svc := newTestOfferService(store, false)

	_, err := svc.Upsert(context.Background(), []domain.OfferMessage{offerMsg("o1", "P", 10, 1, domain.ActionCreate)})

	assert.ErrorContains(t, err, "failed to upsert offers")
	assert.ErrorContains(t, err, "connection refused")
}

func TestOfferService_Relevant(t *testing.T) {
	svc := newTestOfferService(newMemStore(), false)

	assert.True(t, svc.Relevant(offerMsg("o1", "P", 10, 1, domain.ActionCreate)))
	assert.False(t, svc.Relevant(offerMsg("o1", "", 10, 1, domain.ActionUpdate)))
	assert.True(t, svc.Relevant(domain.OfferMessage{ID: "o1", Action: domain.ActionDelete}))
}
