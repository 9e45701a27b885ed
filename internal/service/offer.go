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

// OfferService applies offer messages to the entity store
type OfferService struct {
	store       repository.Store
	forceUpdate bool
	now         func() time.Time
	log         *zap.Logger
}

// NewOfferService creates a new offer service
func NewOfferService(store repository.Store, forceUpdate bool, log *zap.Logger) *OfferService {
	return &OfferService{
		store:       store,
		forceUpdate: forceUpdate,
		now:         time.Now,
		log:         log,
	}
}

func (s *OfferService) Parse(body []byte) (domain.OfferMessage, error) {
	return message.ParseOffer(body)
}

// Relevant drops offers that can not be attached to a product
func (s *OfferService) Relevant(m domain.OfferMessage) bool {
	return m.ProductID != "" || m.Action.IsDelete()
}

func (s *OfferService) shouldUpdate(m domain.OfferMessage, stored domain.Offer, exists bool) bool {
	if !exists || !stored.Version.IsSet() {
		return true
	}
	if !stored.Version.AcceptsUpsert(m.Version) {
		return false
	}
	return s.forceUpdate || m.Differs(stored)
}

// Upsert writes offers that pass the version check and emits the price
// events of every written offer
func (s *OfferService) Upsert(ctx context.Context, msgs []domain.OfferMessage) (worker.Result, error) {
	var result worker.Result

	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		stored, err := tx.GetOffers(ctx, messageKeys(msgs))
		if err != nil {
			return err
		}

		before := make(map[domain.EntityKey]domain.Offer, len(msgs))
		updates := make([]domain.Offer, 0, len(msgs))
		var moved []domain.EntityKey

		for _, m := range msgs {
			old, exists := stored[m.Key()]
			if !s.shouldUpdate(m, old, exists) {
				continue
			}
			updated := m.Apply(old)
			if !exists || old.ShopID != updated.ShopID {
				updated.CertifiedShop = nil
				moved = append(moved, domain.EntityKey{ID: updated.ShopID, CountryCode: updated.CountryCode})
			}
			before[m.Key()] = old
			updates = append(updates, updated)
		}

		if len(updates) == 0 {
			return nil
		}

		if err := attachCertification(ctx, tx, updates, moved); err != nil {
			return err
		}

		written, err := tx.UpsertOffers(ctx, updates)
		if err != nil {
			return err
		}

		byKey := make(map[domain.EntityKey]domain.Offer, len(updates))
		for _, o := range updates {
			byKey[o.Key()] = o
		}

		now := s.now()
		for _, key := range written {
			result.Events = append(result.Events, priceEvents(before[key], byKey[key], true, now)...)
		}
		result.Written = len(written)
		return nil
	})
	if err != nil {
		return worker.Result{}, fmt.Errorf("failed to upsert offers: %w", err)
	}

	s.log.Debug("Offers upserted",
		zap.Int("received", len(msgs)),
		zap.Int("written", result.Written),
		zap.Int("events", len(result.Events)))
	return result, nil
}

// Delete removes offers that pass the version check and retracts every price
// type they contributed to
func (s *OfferService) Delete(ctx context.Context, msgs []domain.OfferMessage) (worker.Result, error) {
	var result worker.Result

	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		stored, err := tx.GetOffers(ctx, messageKeys(msgs))
		if err != nil {
			return err
		}

		deleted, err := tx.DeleteOffers(ctx, versionedKeys(msgs))
		if err != nil {
			return err
		}

		now := s.now()
		for _, key := range deleted {
			result.Events = append(result.Events, removalEvents(stored[key], now)...)
		}
		result.Written = len(deleted)
		return nil
	})
	if err != nil {
		return worker.Result{}, fmt.Errorf("failed to delete offers: %w", err)
	}
	return result, nil
}

// attachCertification joins the certification of the new shop of offers
// that moved to another shop
func attachCertification(ctx context.Context, tx repository.Tx, offers []domain.Offer, shopKeys []domain.EntityKey) error {
	if len(shopKeys) == 0 {
		return nil
	}
	shops, err := tx.GetShops(ctx, shopKeys)
	if err != nil {
		return err
	}
	for i := range offers {
		if offers[i].CertifiedShop != nil {
			continue
		}
		if shop, ok := shops[domain.EntityKey{ID: offers[i].ShopID, CountryCode: offers[i].CountryCode}]; ok {
			offers[i].CertifiedShop = domain.BoolPtr(shop.Certified)
		}
	}
	return nil
}

func messageKeys[T worker.Record](msgs []T) []domain.EntityKey {
	keys := make([]domain.EntityKey, 0, len(msgs))
	for _, m := range msgs {
		keys = append(keys, m.Key())
	}
	return keys
}

func versionedKeys[T worker.Record](msgs []T) []domain.VersionedKey {
	keys := make([]domain.VersionedKey, 0, len(msgs))
	for _, m := range msgs {
		keys = append(keys, domain.VersionedKey{Key: m.Key(), Version: m.GetVersion()})
	}
	return keys
}
