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

// OfferFlagService applies availability or buyable messages. Both are
// attributes of an offer with their own version lineage; a flag that arrives
// before its offer is kept on a stub row.
type OfferFlagService struct {
	kind        domain.EntityKind
	store       repository.Store
	forceUpdate bool
	now         func() time.Time
	log         *zap.Logger
}

// NewOfferFlagService creates a service for domain.KindAvailability or domain.KindBuyable
func NewOfferFlagService(kind domain.EntityKind, store repository.Store, forceUpdate bool, log *zap.Logger) (*OfferFlagService, error) {
	if kind != domain.KindAvailability && kind != domain.KindBuyable {
		return nil, fmt.Errorf("%s is not an offer flag", kind)
	}
	return &OfferFlagService{
		kind:        kind,
		store:       store,
		forceUpdate: forceUpdate,
		now:         time.Now,
		log:         log,
	}, nil
}

func (s *OfferFlagService) Parse(body []byte) (domain.FlagMessage, error) {
	if s.kind == domain.KindAvailability {
		return message.ParseAvailability(body)
	}
	return message.ParseBuyable(body)
}

func (s *OfferFlagService) Relevant(domain.FlagMessage) bool {
	return true
}

// flag returns the stored value and version of the service's attribute
func (s *OfferFlagService) flag(o domain.Offer) (*bool, domain.Version) {
	if s.kind == domain.KindAvailability {
		return o.InStock, o.AvailabilityVersion
	}
	return o.Buyable, o.BuyableVersion
}

func (s *OfferFlagService) withFlag(o domain.Offer, value *bool, version int64) domain.Offer {
	if s.kind == domain.KindAvailability {
		o.InStock, o.AvailabilityVersion = value, domain.NewVersion(version)
	} else {
		o.Buyable, o.BuyableVersion = value, domain.NewVersion(version)
	}
	return o
}

func (s *OfferFlagService) shouldUpdate(m domain.FlagMessage, stored domain.Offer, exists bool) bool {
	value, version := s.flag(stored)
	if !exists || !version.IsSet() {
		return true
	}
	if !version.AcceptsUpsert(m.Version) {
		return false
	}
	return s.forceUpdate || value == nil || *value != m.Value
}

func (s *OfferFlagService) Upsert(ctx context.Context, msgs []domain.FlagMessage) (worker.Result, error) {
	var result worker.Result

	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		stored, err := tx.GetOffers(ctx, messageKeys(msgs))
		if err != nil {
			return err
		}

		flags := make([]repository.OfferFlag, 0, len(msgs))
		after := make(map[domain.EntityKey]domain.Offer, len(msgs))
		for _, m := range msgs {
			old, exists := stored[m.Key()]
			if !s.shouldUpdate(m, old, exists) {
				continue
			}
			flags = append(flags, repository.OfferFlag{Key: m.Key(), Value: m.Value, Version: m.Version})
			after[m.Key()] = s.withFlag(old, domain.BoolPtr(m.Value), m.Version)
		}
		if len(flags) == 0 {
			return nil
		}

		written, err := tx.UpsertOfferFlags(ctx, s.kind, flags)
		if err != nil {
			return err
		}

		now := s.now()
		for _, key := range written {
			result.Events = append(result.Events, priceEvents(stored[key], after[key], false, now)...)
		}
		result.Written = len(written)
		return nil
	})
	if err != nil {
		return worker.Result{}, fmt.Errorf("failed to upsert %s: %w", s.kind, err)
	}

	s.log.Debug("Offer flags upserted",
		zap.String("kind", string(s.kind)),
		zap.Int("received", len(msgs)),
		zap.Int("written", result.Written),
		zap.Int("events", len(result.Events)))
	return result, nil
}

// Delete unsets the flag, which retracts the price types that depend on it
func (s *OfferFlagService) Delete(ctx context.Context, msgs []domain.FlagMessage) (worker.Result, error) {
	var result worker.Result

	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		stored, err := tx.GetOffers(ctx, messageKeys(msgs))
		if err != nil {
			return err
		}

		cleared, err := tx.ClearOfferFlags(ctx, s.kind, versionedKeys(msgs))
		if err != nil {
			return err
		}

		versions := make(map[domain.EntityKey]int64, len(msgs))
		for _, m := range msgs {
			versions[m.Key()] = m.Version
		}

		now := s.now()
		for _, key := range cleared {
			before := stored[key]
			result.Events = append(result.Events, priceEvents(before, s.withFlag(before, nil, versions[key]), false, now)...)
		}
		result.Written = len(cleared)
		return nil
	})
	if err != nil {
		return worker.Result{}, fmt.Errorf("failed to delete %s: %w", s.kind, err)
	}
	return result, nil
}
