package service

import (
	"context"

	"github.com/Heurr/pps-sub000/internal/domain"
	"github.com/Heurr/pps-sub000/internal/repository"
)

// memStore is an in-memory repository.Store applying the same version
// predicates as the PostgreSQL queries
type memStore struct {
	offers map[domain.EntityKey]domain.Offer
	shops  map[domain.EntityKey]domain.Shop
	err    error
}

func newMemStore() *memStore {
	return &memStore{
		offers: make(map[domain.EntityKey]domain.Offer),
		shops:  make(map[domain.EntityKey]domain.Shop),
	}
}

func (s *memStore) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	if s.err != nil {
		return s.err
	}
	return fn(ctx, memTx{s})
}

type memTx struct {
	s *memStore
}

func (t memTx) joined(o domain.Offer) domain.Offer {
	o.CertifiedShop = nil
	if shop, ok := t.s.shops[domain.EntityKey{ID: o.ShopID, CountryCode: o.CountryCode}]; ok {
		o.CertifiedShop = domain.BoolPtr(shop.Certified)
	}
	return o
}

func (t memTx) GetOffers(_ context.Context, keys []domain.EntityKey) (map[domain.EntityKey]domain.Offer, error) {
	out := make(map[domain.EntityKey]domain.Offer)
	for _, key := range keys {
		if o, ok := t.s.offers[key]; ok {
			out[key] = t.joined(o)
		}
	}
	return out, nil
}

func (t memTx) UpsertOffers(_ context.Context, offers []domain.Offer) ([]domain.EntityKey, error) {
	var written []domain.EntityKey
	for _, o := range offers {
		stored, ok := t.s.offers[o.Key()]
		incoming, _ := o.Version.Int64()
		if ok && !stored.Version.AcceptsUpsert(incoming) {
			continue
		}
		stored.ID, stored.CountryCode = o.ID, o.CountryCode
		stored.ProductID, stored.ShopID = o.ProductID, o.ShopID
		stored.CurrencyCode, stored.Price, stored.Version = o.CurrencyCode, o.Price, o.Version
		t.s.offers[o.Key()] = stored
		written = append(written, o.Key())
	}
	return written, nil
}

func (t memTx) DeleteOffers(_ context.Context, keys []domain.VersionedKey) ([]domain.EntityKey, error) {
	var deleted []domain.EntityKey
	for _, k := range keys {
		stored, ok := t.s.offers[k.Key]
		if !ok || !stored.Version.AcceptsDelete(k.Version) {
			continue
		}
		delete(t.s.offers, k.Key)
		deleted = append(deleted, k.Key)
	}
	return deleted, nil
}

func (t memTx) setFlag(kind domain.EntityKind, key domain.EntityKey, value *bool, version int64, accepts func(domain.Version) bool) bool {
	stored, ok := t.s.offers[key]
	if !ok {
		if value == nil {
			return false
		}
		stored = domain.Offer{ID: key.ID, CountryCode: key.CountryCode}
	}
	current := stored.AvailabilityVersion
	if kind == domain.KindBuyable {
		current = stored.BuyableVersion
	}
	if !accepts(current) {
		return false
	}
	if kind == domain.KindAvailability {
		stored.InStock, stored.AvailabilityVersion = value, domain.NewVersion(version)
	} else {
		stored.Buyable, stored.BuyableVersion = value, domain.NewVersion(version)
	}
	t.s.offers[key] = stored
	return true
}

func (t memTx) UpsertOfferFlags(_ context.Context, kind domain.EntityKind, flags []repository.OfferFlag) ([]domain.EntityKey, error) {
	var written []domain.EntityKey
	for _, f := range flags {
		if t.setFlag(kind, f.Key, domain.BoolPtr(f.Value), f.Version, func(v domain.Version) bool { return v.AcceptsUpsert(f.Version) }) {
			written = append(written, f.Key)
		}
	}
	return written, nil
}

func (t memTx) ClearOfferFlags(_ context.Context, kind domain.EntityKind, keys []domain.VersionedKey) ([]domain.EntityKey, error) {
	var cleared []domain.EntityKey
	for _, k := range keys {
		if t.setFlag(kind, k.Key, nil, k.Version, func(v domain.Version) bool { return v.AcceptsDelete(k.Version) }) {
			cleared = append(cleared, k.Key)
		}
	}
	return cleared, nil
}

func (t memTx) GetShops(_ context.Context, keys []domain.EntityKey) (map[domain.EntityKey]domain.Shop, error) {
	out := make(map[domain.EntityKey]domain.Shop)
	for _, key := range keys {
		if s, ok := t.s.shops[key]; ok {
			out[key] = s
		}
	}
	return out, nil
}

func (t memTx) UpsertShops(_ context.Context, shops []domain.Shop) ([]domain.EntityKey, error) {
	var written []domain.EntityKey
	for _, s := range shops {
		stored, ok := t.s.shops[s.Key()]
		incoming, _ := s.Version.Int64()
		if ok && !stored.Version.AcceptsUpsert(incoming) {
			continue
		}
		t.s.shops[s.Key()] = s
		written = append(written, s.Key())
	}
	return written, nil
}

func (t memTx) DeleteShops(_ context.Context, keys []domain.VersionedKey) ([]domain.EntityKey, error) {
	var deleted []domain.EntityKey
	for _, k := range keys {
		stored, ok := t.s.shops[k.Key]
		if !ok || !stored.Version.AcceptsDelete(k.Version) {
			continue
		}
		delete(t.s.shops, k.Key)
		deleted = append(deleted, k.Key)
	}
	return deleted, nil
}

func (t memTx) GetPricedInStockOffersByShops(_ context.Context, shops []domain.EntityKey) ([]domain.Offer, error) {
	wanted := make(map[domain.EntityKey]bool, len(shops))
	for _, key := range shops {
		wanted[key] = true
	}
	var out []domain.Offer
	for _, o := range t.s.offers {
		if !wanted[domain.EntityKey{ID: o.ShopID, CountryCode: o.CountryCode}] {
			continue
		}
		if o.InStock != nil && *o.InStock && o.Priced() {
			out = append(out, t.joined(o))
		}
	}
	return out, nil
}
