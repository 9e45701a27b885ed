package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestActivePriceTypes_UnpricedOfferHasNone(t *testing.T) {
	offer := Offer{ID: "o1", ProductID: "p1", InStock: BoolPtr(true)}

	assert.Empty(t, ActivePriceTypes(offer))
}

func TestActivePriceTypes_AllFlags(t *testing.T) {
	offer := Offer{
		ID:            "o1",
		ProductID:     "p1",
		Price:         decimal.NewNullDecimal(decimal.NewFromInt(10)),
		InStock:       BoolPtr(true),
		Buyable:       BoolPtr(true),
		CertifiedShop: BoolPtr(true),
	}

	assert.Equal(t, PriceTypes, ActivePriceTypes(offer))
}

func TestActivePriceTypes_CertifiedRequiresInStock(t *testing.T) {
	offer := Offer{
		ID:            "o1",
		ProductID:     "p1",
		Price:         decimal.NewNullDecimal(decimal.NewFromInt(10)),
		InStock:       BoolPtr(false),
		CertifiedShop: BoolPtr(true),
	}

	assert.Equal(t, []PriceType{PriceTypeAllOffers}, ActivePriceTypes(offer))
}

func TestVersion_UnsetAcceptsEverything(t *testing.T) {
	var v Version

	assert.False(t, v.IsSet())
	assert.True(t, v.AcceptsUpsert(-1))
	assert.True(t, v.AcceptsDelete(0))
}

func TestVersion_UpsertAllowsEqualDeleteDoesNot(t *testing.T) {
	v := NewVersion(5)

	assert.True(t, v.AcceptsUpsert(5))
	assert.True(t, v.AcceptsUpsert(6))
	assert.False(t, v.AcceptsUpsert(4))
	assert.False(t, v.AcceptsDelete(5))
	assert.True(t, v.AcceptsDelete(6))
}

func TestVersion_ScanNull(t *testing.T) {
	v := NewVersion(3)

	assert.NoError(t, v.Scan(nil))
	assert.False(t, v.IsSet())

	assert.NoError(t, v.Scan(int64(7)))
	value, ok := v.Int64()
	assert.True(t, ok)
	assert.Equal(t, int64(7), value)
}

func TestDay_TruncatesToUTC(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	ts := time.Date(2026, 10, 17, 0, 30, 0, 0, loc)

	assert.Equal(t, time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC), Day(ts))
}
