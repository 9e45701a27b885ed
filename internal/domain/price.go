package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceType names a predicate over offers that contribute to one aggregate row
type PriceType string

const (
	PriceTypeAllOffers        PriceType = "all-offers"
	PriceTypeMarketplace      PriceType = "marketplace"
	PriceTypeInStock          PriceType = "in-stock"
	PriceTypeInStockCertified PriceType = "in-stock-certified"
)

// PriceTypes lists every price type in publishing order
var PriceTypes = []PriceType{
	PriceTypeAllOffers,
	PriceTypeMarketplace,
	PriceTypeInStock,
	PriceTypeInStockCertified,
}

// Valid reports whether t is a known price type
func (t PriceType) Valid() bool {
	for _, pt := range PriceTypes {
		if pt == t {
			return true
		}
	}
	return false
}

// ActivePriceTypes returns the price types o currently contributes to
func ActivePriceTypes(o Offer) []PriceType {
	if !o.Priced() {
		return nil
	}
	types := []PriceType{PriceTypeAllOffers}
	if isTrue(o.Buyable) {
		types = append(types, PriceTypeMarketplace)
	}
	if isTrue(o.InStock) {
		types = append(types, PriceTypeInStock)
		if isTrue(o.CertifiedShop) {
			types = append(types, PriceTypeInStockCertified)
		}
	}
	return types
}

// PriceAction is the effect of a price event on an aggregate
type PriceAction string

const (
	PriceActionUpsert PriceAction = "UPSERT"
	PriceActionDelete PriceAction = "DELETE"
)

// PriceEvent tells the aggregation engine that one offer's contribution to a
// (product, price type) aggregate changed
type PriceEvent struct {
	ProductID    string              `json:"productId"`
	PriceType    PriceType           `json:"priceType"`
	Action       PriceAction         `json:"action"`
	Price        decimal.NullDecimal `json:"price"`
	OldPrice     decimal.NullDecimal `json:"oldPrice"`
	CountryCode  string              `json:"countryCode"`
	CurrencyCode string              `json:"currencyCode"`
	CreatedAt    time.Time           `json:"createdAt"`
}

// Key returns the aggregate the event applies to
func (e PriceEvent) Key() ProductPriceKey {
	return ProductPriceKey{ProductID: e.ProductID, PriceType: e.PriceType}
}

// ProductPriceKey identifies an aggregate row within one day
type ProductPriceKey struct {
	ProductID string
	PriceType PriceType
}

// ProductPrice is the per day min/max aggregate of one price type of a product
type ProductPrice struct {
	Day          time.Time
	ProductID    string
	PriceType    PriceType
	MinPrice     decimal.Decimal
	MaxPrice     decimal.Decimal
	AvgPrice     decimal.NullDecimal
	CurrencyCode string
	CountryCode  string
	UpdatedAt    time.Time
	Version      int64
}

// Key returns the aggregate identity without the day
func (p ProductPrice) Key() ProductPriceKey {
	return ProductPriceKey{ProductID: p.ProductID, PriceType: p.PriceType}
}

// Day truncates t to its UTC calendar day
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
