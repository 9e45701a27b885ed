package domain

import (
	"github.com/shopspring/decimal"
)

// OfferMessage is a parsed offer change from the broker
type OfferMessage struct {
	ID           string
	CountryCode  string
	ProductID    string
	ShopID       string
	CurrencyCode string
	Price        decimal.NullDecimal
	Version      int64
	Action       Action
}

func (m OfferMessage) Key() EntityKey    { return EntityKey{ID: m.ID, CountryCode: m.CountryCode} }
func (m OfferMessage) GetVersion() int64 { return m.Version }
func (m OfferMessage) GetAction() Action { return m.Action }

// Differs reports whether applying m would change any offer field of o
func (m OfferMessage) Differs(o Offer) bool {
	if m.ProductID != o.ProductID || m.ShopID != o.ShopID || m.CurrencyCode != o.CurrencyCode {
		return true
	}
	if m.Price.Valid != o.Price.Valid {
		return true
	}
	return m.Price.Valid && !m.Price.Decimal.Equal(o.Price.Decimal)
}

// Apply returns o with the offer fields of m written over it
func (m OfferMessage) Apply(o Offer) Offer {
	o.ID = m.ID
	o.CountryCode = m.CountryCode
	o.ProductID = m.ProductID
	o.ShopID = m.ShopID
	o.CurrencyCode = m.CurrencyCode
	o.Price = m.Price
	o.Version = NewVersion(m.Version)
	return o
}

// ShopMessage is a parsed shop change from the broker
type ShopMessage struct {
	ID          string
	CountryCode string
	Certified   bool
	Verified    bool
	Paying      bool
	Enabled     bool
	Version     int64
	Action      Action
}

func (m ShopMessage) Key() EntityKey    { return EntityKey{ID: m.ID, CountryCode: m.CountryCode} }
func (m ShopMessage) GetVersion() int64 { return m.Version }
func (m ShopMessage) GetAction() Action { return m.Action }

// Differs reports whether applying m would change any field of s
func (m ShopMessage) Differs(s Shop) bool {
	return m.Certified != s.Certified ||
		m.Verified != s.Verified ||
		m.Paying != s.Paying ||
		m.Enabled != s.Enabled
}

// Shop returns the stored form of the message
func (m ShopMessage) Shop() Shop {
	return Shop{
		ID:          m.ID,
		CountryCode: m.CountryCode,
		Certified:   m.Certified,
		Verified:    m.Verified,
		Paying:      m.Paying,
		Enabled:     m.Enabled,
		Version:     NewVersion(m.Version),
	}
}

// FlagMessage is a parsed availability or buyable change of an offer
type FlagMessage struct {
	Kind        EntityKind
	OfferID     string
	CountryCode string
	Value       bool
	Version     int64
	Action      Action
}

func (m FlagMessage) Key() EntityKey    { return EntityKey{ID: m.OfferID, CountryCode: m.CountryCode} }
func (m FlagMessage) GetVersion() int64 { return m.Version }
func (m FlagMessage) GetAction() Action { return m.Action }

// VersionedKey identifies a delete together with the version that issued it
type VersionedKey struct {
	Key     EntityKey
	Version int64
}
