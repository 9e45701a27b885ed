// Package message decodes the JSON bodies of upstream entity messages.
package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Heurr/pps-sub000/internal/domain"
)

// ErrInvalid marks a body that can not be turned into a record
var ErrInvalid = errors.New("invalid message")

// Offer prices are stored as numeric(14, 2)
const priceScale = 2

var maxPrice = decimal.New(1, 14-priceScale)

// Header is the part of an upstream message every entity kind shares
type Header struct {
	ID          string
	Version     int64
	Action      domain.Action
	CountryCode string
}

type rawHeader struct {
	ID      json.RawMessage `json:"id"`
	OfferID json.RawMessage `json:"offerId"`
	Version *int64          `json:"version"`
	Action  string          `json:"action"`
	Legacy  struct {
		CountryCode string `json:"countryCode"`
	} `json:"legacy"`
}

// ParseHeader decodes only the envelope fields of a message body
func ParseHeader(body []byte) (Header, error) {
	var raw rawHeader
	if err := json.Unmarshal(body, &raw); err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return raw.header()
}

func (r rawHeader) header() (Header, error) {
	id := idString(r.ID)
	if id == "" {
		id = idString(r.OfferID)
	}
	if id == "" {
		return Header{}, fmt.Errorf("%w: missing id", ErrInvalid)
	}

	if r.Version == nil {
		return Header{}, fmt.Errorf("%w: missing version of %s", ErrInvalid, id)
	}

	action, ok := domain.ParseAction(r.Action)
	if !ok {
		return Header{}, fmt.Errorf("%w: unknown action %q of %s", ErrInvalid, r.Action, id)
	}

	country := strings.ToUpper(strings.TrimSpace(r.Legacy.CountryCode))
	if country == "" {
		return Header{}, fmt.Errorf("%w: missing country code of %s", ErrInvalid, id)
	}

	return Header{
		ID:          id,
		Version:     *r.Version,
		Action:      action,
		CountryCode: country,
	}, nil
}

// idString accepts both string and numeric identifiers
func idString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

type rawOffer struct {
	rawHeader
	Legacy struct {
		CountryCode  string              `json:"countryCode"`
		ProductID    json.RawMessage     `json:"productId"`
		ShopID       json.RawMessage     `json:"shopId"`
		CurrencyCode string              `json:"currencyCode"`
		Price        decimal.NullDecimal `json:"price"`
	} `json:"legacy"`
}

// ParseOffer decodes an offer message
func ParseOffer(body []byte) (domain.OfferMessage, error) {
	var raw rawOffer
	if err := json.Unmarshal(body, &raw); err != nil {
		return domain.OfferMessage{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	raw.rawHeader.Legacy.CountryCode = raw.Legacy.CountryCode

	h, err := raw.header()
	if err != nil {
		return domain.OfferMessage{}, err
	}

	msg := domain.OfferMessage{
		ID:           h.ID,
		CountryCode:  h.CountryCode,
		Version:      h.Version,
		Action:       h.Action,
		ProductID:    idString(raw.Legacy.ProductID),
		ShopID:       idString(raw.Legacy.ShopID),
		CurrencyCode: strings.ToUpper(strings.TrimSpace(raw.Legacy.CurrencyCode)),
		Price:        raw.Legacy.Price,
	}

	if msg.Action.IsDelete() {
		return msg, nil
	}

	if msg.Price.Valid && msg.Price.Decimal.IsNegative() {
		return domain.OfferMessage{}, fmt.Errorf("%w: negative price of offer %s", ErrInvalid, h.ID)
	}
	if msg.Price.Valid && !msg.Price.Decimal.Equal(msg.Price.Decimal.Truncate(priceScale)) {
		return domain.OfferMessage{}, fmt.Errorf("%w: price %s of offer %s has more than %d decimal places",
			ErrInvalid, msg.Price.Decimal, h.ID, priceScale)
	}
	if msg.Price.Valid && msg.Price.Decimal.GreaterThanOrEqual(maxPrice) {
		return domain.OfferMessage{}, fmt.Errorf("%w: price %s of offer %s out of range", ErrInvalid, msg.Price.Decimal, h.ID)
	}
	if msg.Price.Valid && msg.CurrencyCode == "" {
		return domain.OfferMessage{}, fmt.Errorf("%w: priced offer %s without currency", ErrInvalid, h.ID)
	}

	return msg, nil
}

type rawShop struct {
	rawHeader
	Legacy struct {
		CountryCode string `json:"countryCode"`
		Certified   bool   `json:"certified"`
		Verified    bool   `json:"verified"`
		Paying      bool   `json:"paying"`
		Enabled     bool   `json:"enabled"`
	} `json:"legacy"`
}

// ParseShop decodes a shop message
func ParseShop(body []byte) (domain.ShopMessage, error) {
	var raw rawShop
	if err := json.Unmarshal(body, &raw); err != nil {
		return domain.ShopMessage{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	raw.rawHeader.Legacy.CountryCode = raw.Legacy.CountryCode

	h, err := raw.header()
	if err != nil {
		return domain.ShopMessage{}, err
	}

	return domain.ShopMessage{
		ID:          h.ID,
		CountryCode: h.CountryCode,
		Certified:   raw.Legacy.Certified,
		Verified:    raw.Legacy.Verified,
		Paying:      raw.Legacy.Paying,
		Enabled:     raw.Legacy.Enabled,
		Version:     h.Version,
		Action:      h.Action,
	}, nil
}

type rawFlag struct {
	rawHeader
	Legacy struct {
		CountryCode string `json:"countryCode"`
		InStock     *bool  `json:"inStock"`
		Buyable     *bool  `json:"buyable"`
	} `json:"legacy"`
}

// ParseAvailability decodes an availability message
func ParseAvailability(body []byte) (domain.FlagMessage, error) {
	return parseFlag(body, domain.KindAvailability)
}

// ParseBuyable decodes a buyable message
func ParseBuyable(body []byte) (domain.FlagMessage, error) {
	return parseFlag(body, domain.KindBuyable)
}

func parseFlag(body []byte, kind domain.EntityKind) (domain.FlagMessage, error) {
	var raw rawFlag
	if err := json.Unmarshal(body, &raw); err != nil {
		return domain.FlagMessage{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	raw.rawHeader.Legacy.CountryCode = raw.Legacy.CountryCode

	h, err := raw.header()
	if err != nil {
		return domain.FlagMessage{}, err
	}

	msg := domain.FlagMessage{
		Kind:        kind,
		OfferID:     h.ID,
		CountryCode: h.CountryCode,
		Version:     h.Version,
		Action:      h.Action,
	}
	if msg.Action.IsDelete() {
		return msg, nil
	}

	value := raw.Legacy.InStock
	if kind == domain.KindBuyable {
		value = raw.Legacy.Buyable
	}
	if value == nil {
		return domain.FlagMessage{}, fmt.Errorf("%w: %s message %s without value", ErrInvalid, kind, h.ID)
	}
	msg.Value = *value

	return msg, nil
}
