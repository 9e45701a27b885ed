package domain

import (
	"github.com/shopspring/decimal"
)

// Offer is the stored state of a shop's offer for a product
type Offer struct {
	ID                  string
	CountryCode         string
	ProductID           string
	ShopID              string
	CurrencyCode        string
	Price               decimal.NullDecimal
	Version             Version
	InStock             *bool
	AvailabilityVersion Version
	Buyable             *bool
	BuyableVersion      Version
	// CertifiedShop is joined from the owning shop and never written
	CertifiedShop *bool
}

// Key returns the storage identity of the offer
func (o Offer) Key() EntityKey {
	return EntityKey{ID: o.ID, CountryCode: o.CountryCode}
}

// Priced reports whether the offer can contribute to any aggregate
func (o Offer) Priced() bool {
	return o.ProductID != "" && o.Price.Valid
}

// Shop is the stored state of a shop
type Shop struct {
	ID          string
	CountryCode string
	Certified   bool
	Verified    bool
	Paying      bool
	Enabled     bool
	Version     Version
}

// Key returns the storage identity of the shop
func (s Shop) Key() EntityKey {
	return EntityKey{ID: s.ID, CountryCode: s.CountryCode}
}

// BoolPtr returns a pointer to b
func BoolPtr(b bool) *bool {
	return &b
}

func isTrue(b *bool) bool {
	return b != nil && *b
}
