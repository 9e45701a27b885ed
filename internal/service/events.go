package service

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Heurr/pps-sub000/internal/domain"
)

// priceEvents diffs the price types an offer contributes to before and after
// a change.
//
// Types that became active emit UPSERT and types that became inactive emit
// DELETE. With refresh set, types active on both sides also emit UPSERT so
// the aggregate sees a changed price. A moved product removes every old type
// from the old product. old_price is the price before the change for types
// that were active before it and unset otherwise.
func priceEvents(before, after domain.Offer, refresh bool, now time.Time) []domain.PriceEvent {
	oldTypes := domain.ActivePriceTypes(before)
	newTypes := domain.ActivePriceTypes(after)

	var events []domain.PriceEvent

	if len(oldTypes) > 0 && len(newTypes) > 0 && before.ProductID != after.ProductID {
		for _, pt := range oldTypes {
			events = append(events, deleteEvent(before, pt, now))
		}
		for _, pt := range newTypes {
			events = append(events, upsertEvent(after, pt, decimal.NullDecimal{}, now))
		}
		return events
	}

	wasActive := make(map[domain.PriceType]bool, len(oldTypes))
	for _, pt := range oldTypes {
		wasActive[pt] = true
	}

	for _, pt := range newTypes {
		if !wasActive[pt] {
			events = append(events, upsertEvent(after, pt, decimal.NullDecimal{}, now))
			continue
		}
		delete(wasActive, pt)
		if refresh {
			events = append(events, upsertEvent(after, pt, before.Price, now))
		}
	}

	for _, pt := range oldTypes {
		if wasActive[pt] {
			events = append(events, deleteEvent(before, pt, now))
		}
	}

	return events
}

// removalEvents emits DELETE for every type the offer contributed to
func removalEvents(before domain.Offer, now time.Time) []domain.PriceEvent {
	var events []domain.PriceEvent
	for _, pt := range domain.ActivePriceTypes(before) {
		events = append(events, deleteEvent(before, pt, now))
	}
	return events
}

func upsertEvent(o domain.Offer, pt domain.PriceType, oldPrice decimal.NullDecimal, now time.Time) domain.PriceEvent {
	return domain.PriceEvent{
		ProductID:    o.ProductID,
		PriceType:    pt,
		Action:       domain.PriceActionUpsert,
		Price:        o.Price,
		OldPrice:     oldPrice,
		CountryCode:  o.CountryCode,
		CurrencyCode: o.CurrencyCode,
		CreatedAt:    now,
	}
}

func deleteEvent(o domain.Offer, pt domain.PriceType, now time.Time) domain.PriceEvent {
	return domain.PriceEvent{
		ProductID:    o.ProductID,
		PriceType:    pt,
		Action:       domain.PriceActionDelete,
		OldPrice:     o.Price,
		CountryCode:  o.CountryCode,
		CurrencyCode: o.CurrencyCode,
		CreatedAt:    now,
	}
}
