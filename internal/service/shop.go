package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Heurr/pps-sub000/internal/domain"
	"github.com/Heurr/pps-sub000/internal/message"
	"github.com/Heurr/pps-sub000/internal/repository"
	"github.com/Heurr/pps-sub000/internal/worker"
)

// ShopService applies shop messages to the entity store. Shops only affect
// prices through their certification, which fans out to their in-stock offers.
type ShopService struct {
	store       repository.Store
	forceUpdate bool
	now         func() time.Time
	log         *zap.Logger
}

// NewShopService creates a new shop service
func NewShopService(store repository.Store, forceUpdate bool, log *zap.Logger) *ShopService {
	return &ShopService{
		store:       store,
		forceUpdate: forceUpdate,
		now:         time.Now,
		log:         log,
	}
}

func (s *ShopService) Parse(body []byte) (domain.ShopMessage, error) {
	return message.ParseShop(body)
}

func (s *ShopService) Relevant(domain.ShopMessage) bool {
	return true
}

func (s *ShopService) shouldUpdate(m domain.ShopMessage, stored domain.Shop, exists bool) bool {
	if !exists || !stored.Version.IsSet() {
		return true
	}
	if !stored.Version.AcceptsUpsert(m.Version) {
		return false
	}
	return s.forceUpdate || m.Differs(stored)
}

func (s *ShopService) Upsert(ctx context.Context, msgs []domain.ShopMessage) (worker.Result, error) {
	var result worker.Result

	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		stored, err := tx.GetShops(ctx, messageKeys(msgs))
		if err != nil {
			return err
		}

		shops := make([]domain.Shop, 0, len(msgs))
		for _, m := range msgs {
			old, exists := stored[m.Key()]
			if s.shouldUpdate(m, old, exists) {
				shops = append(shops, m.Shop())
			}
		}
		if len(shops) == 0 {
			return nil
		}

		written, err := tx.UpsertShops(ctx, shops)
		if err != nil {
			return err
		}
		result.Written = len(written)

		certified := make(map[domain.EntityKey]bool, len(shops))
		for _, shop := range shops {
			certified[shop.Key()] = shop.Certified
		}

		changed := make(map[domain.EntityKey]bool)
		var changedKeys []domain.EntityKey
		for _, key := range written {
			old, exists := stored[key]
			if (exists && old.Certified) != certified[key] {
				changed[key] = certified[key]
				changedKeys = append(changedKeys, key)
			}
		}

		events, err := s.certificationEvents(ctx, tx, changedKeys, func(key domain.EntityKey) (*bool, *bool) {
			now := changed[key]
			return domain.BoolPtr(!now), domain.BoolPtr(now)
		})
		if err != nil {
			return err
		}
		result.Events = events
		return nil
	})
	if err != nil {
		return worker.Result{}, fmt.Errorf("failed to upsert shops: %w", err)
	}

	s.log.Debug("Shops upserted",
		zap.Int("received", len(msgs)),
		zap.Int("written", result.Written),
		zap.Int("events", len(result.Events)))
	return result, nil
}

func (s *ShopService) Delete(ctx context.Context, msgs []domain.ShopMessage) (worker.Result, error) {
	var result worker.Result

	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		stored, err := tx.GetShops(ctx, messageKeys(msgs))
		if err != nil {
			return err
		}

		var certifiedKeys []domain.EntityKey
		for key, shop := range stored {
			if shop.Certified {
				certifiedKeys = append(certifiedKeys, key)
			}
		}

		// offers are read before the shop row disappears from their join
		offers, err := tx.GetPricedInStockOffersByShops(ctx, certifiedKeys)
		if err != nil {
			return err
		}

		deleted, err := tx.DeleteShops(ctx, versionedKeys(msgs))
		if err != nil {
			return err
		}
		result.Written = len(deleted)

		gone := make(map[domain.EntityKey]bool, len(deleted))
		for _, key := range deleted {
			gone[key] = true
		}

		now := s.now()
		for _, offer := range offers {
			if !gone[domain.EntityKey{ID: offer.ShopID, CountryCode: offer.CountryCode}] {
				continue
			}
			before, after := offer, offer
			before.CertifiedShop = domain.BoolPtr(true)
			after.CertifiedShop = nil
			result.Events = append(result.Events, priceEvents(before, after, false, now)...)
		}
		return nil
	})
	if err != nil {
		return worker.Result{}, fmt.Errorf("failed to delete shops: %w", err)
	}
	return result, nil
}

// certificationEvents re-derives the in-stock-certified contribution of every
// in-stock offer of the given shops
func (s *ShopService) certificationEvents(ctx context.Context, tx repository.Tx, shops []domain.EntityKey, transition func(domain.EntityKey) (*bool, *bool)) ([]domain.PriceEvent, error) {
	if len(shops) == 0 {
		return nil, nil
	}

	offers, err := tx.GetPricedInStockOffersByShops(ctx, shops)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var events []domain.PriceEvent
	for _, offer := range offers {
		before, after := offer, offer
		before.CertifiedShop, after.CertifiedShop = transition(domain.EntityKey{ID: offer.ShopID, CountryCode: offer.CountryCode})
		events = append(events, priceEvents(before, after, false, now)...)
	}

	s.log.Debug("Shop certification changed",
		zap.Int("shops", len(shops)),
		zap.Int("offers", len(offers)))
	return events, nil
}
