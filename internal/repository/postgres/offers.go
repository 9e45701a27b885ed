package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Heurr/pps-sub000/internal/domain"
	"github.com/Heurr/pps-sub000/internal/repository"
)

const offerColumns = `o.id, o.country_code, o.product_id, o.shop_id, o.currency_code, o.price,
	o.version, o.in_stock, o.availability_version, o.buyable, o.buyable_version, s.certified`

func scanOffer(row pgx.CollectableRow) (domain.Offer, error) {
	var o domain.Offer
	var productID, shopID, currency *string
	err := row.Scan(
		&o.ID,
		&o.CountryCode,
		&productID,
		&shopID,
		&currency,
		&o.Price,
		&o.Version,
		&o.InStock,
		&o.AvailabilityVersion,
		&o.Buyable,
		&o.BuyableVersion,
		&o.CertifiedShop,
	)
	o.ProductID = fromNullString(productID)
	o.ShopID = fromNullString(shopID)
	o.CurrencyCode = fromNullString(currency)
	return o, err
}

func (t *tx) GetOffers(ctx context.Context, keys []domain.EntityKey) (map[domain.EntityKey]domain.Offer, error) {
	if len(keys) == 0 {
		return map[domain.EntityKey]domain.Offer{}, nil
	}
	ids, countries := splitKeys(keys)

	rows, err := t.tx.Query(ctx, `
		SELECT `+offerColumns+`
		FROM offers o
		JOIN unnest($1::text[], $2::text[]) AS k(id, country_code)
			ON o.id = k.id AND o.country_code = k.country_code
		LEFT JOIN shops s ON s.id = o.shop_id AND s.country_code = o.country_code
		FOR UPDATE OF o
	`, ids, countries)
	if err != nil {
		return nil, fmt.Errorf("failed to query offers: %w", err)
	}

	offers, err := pgx.CollectRows(rows, scanOffer)
	if err != nil {
		return nil, fmt.Errorf("failed to scan offers: %w", err)
	}

	byKey := make(map[domain.EntityKey]domain.Offer, len(offers))
	for _, o := range offers {
		byKey[o.Key()] = o
	}
	return byKey, nil
}

func (t *tx) UpsertOffers(ctx context.Context, offers []domain.Offer) ([]domain.EntityKey, error) {
	if len(offers) == 0 {
		return nil, nil
	}

	n := len(offers)
	ids, countries := make([]string, n), make([]string, n)
	products, shops, currencies, prices := make([]*string, n), make([]*string, n), make([]*string, n), make([]*string, n)
	versions := make([]int64, n)
	for i, o := range offers {
		ids[i] = o.ID
		countries[i] = o.CountryCode
		products[i] = nullString(o.ProductID)
		shops[i] = nullString(o.ShopID)
		currencies[i] = nullString(o.CurrencyCode)
		prices[i] = decimalText(o.Price)
		versions[i], _ = o.Version.Int64()
	}

	keys, err := collectKeys(t.tx.Query(ctx, `
		INSERT INTO offers (id, country_code, product_id, shop_id, currency_code, price, version)
		SELECT id, country_code, product_id, shop_id, currency_code, price::numeric, version
		FROM unnest($1::text[], $2::text[], $3::text[], $4::text[], $5::text[], $6::text[], $7::bigint[])
			AS k(id, country_code, product_id, shop_id, currency_code, price, version)
		ON CONFLICT (id, country_code) DO UPDATE SET
			product_id = excluded.product_id,
			shop_id = excluded.shop_id,
			currency_code = excluded.currency_code,
			price = excluded.price,
			version = excluded.version
		WHERE offers.version IS NULL OR offers.version <= excluded.version
		RETURNING id, country_code
	`, ids, countries, products, shops, currencies, prices, versions))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert offers: %w", err)
	}
	return keys, nil
}

func (t *tx) DeleteOffers(ctx context.Context, keys []domain.VersionedKey) ([]domain.EntityKey, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	ids, countries, versions := splitVersionedKeys(keys)

	deleted, err := collectKeys(t.tx.Query(ctx, `
		DELETE FROM offers o
		USING unnest($1::text[], $2::text[], $3::bigint[]) AS k(id, country_code, version)
		WHERE o.id = k.id AND o.country_code = k.country_code
			AND (o.version IS NULL OR o.version < k.version)
		RETURNING o.id, o.country_code
	`, ids, countries, versions))
	if err != nil {
		return nil, fmt.Errorf("failed to delete offers: %w", err)
	}
	return deleted, nil
}

// flagColumns returns the value and version columns of a flag kind
func flagColumns(kind domain.EntityKind) (string, string, error) {
	switch kind {
	case domain.KindAvailability:
		return "in_stock", "availability_version", nil
	case domain.KindBuyable:
		return "buyable", "buyable_version", nil
	}
	return "", "", fmt.Errorf("%s is not an offer flag", kind)
}

func (t *tx) UpsertOfferFlags(ctx context.Context, kind domain.EntityKind, flags []repository.OfferFlag) ([]domain.EntityKey, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	valueCol, versionCol, err := flagColumns(kind)
	if err != nil {
		return nil, err
	}

	n := len(flags)
	ids, countries, values, versions := make([]string, n), make([]string, n), make([]bool, n), make([]int64, n)
	for i, f := range flags {
		ids[i] = f.Key.ID
		countries[i] = f.Key.CountryCode
		values[i] = f.Value
		versions[i] = f.Version
	}

	query := fmt.Sprintf(`
		INSERT INTO offers (id, country_code, %[1]s, %[2]s)
		SELECT id, country_code, value, version
		FROM unnest($1::text[], $2::text[], $3::boolean[], $4::bigint[]) AS k(id, country_code, value, version)
		ON CONFLICT (id, country_code) DO UPDATE SET
			%[1]s = excluded.%[1]s,
			%[2]s = excluded.%[2]s
		WHERE offers.%[2]s IS NULL OR offers.%[2]s <= excluded.%[2]s
		RETURNING id, country_code
	`, valueCol, versionCol)

	keys, err := collectKeys(t.tx.Query(ctx, query, ids, countries, values, versions))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert %s: %w", kind, err)
	}
	return keys, nil
}

func (t *tx) ClearOfferFlags(ctx context.Context, kind domain.EntityKind, keys []domain.VersionedKey) ([]domain.EntityKey, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	valueCol, versionCol, err := flagColumns(kind)
	if err != nil {
		return nil, err
	}
	ids, countries, versions := splitVersionedKeys(keys)

	query := fmt.Sprintf(`
		UPDATE offers o SET %[1]s = NULL, %[2]s = k.version
		FROM unnest($1::text[], $2::text[], $3::bigint[]) AS k(id, country_code, version)
		WHERE o.id = k.id AND o.country_code = k.country_code
			AND (o.%[2]s IS NULL OR o.%[2]s < k.version)
		RETURNING o.id, o.country_code
	`, valueCol, versionCol)

	cleared, err := collectKeys(t.tx.Query(ctx, query, ids, countries, versions))
	if err != nil {
		return nil, fmt.Errorf("failed to clear %s: %w", kind, err)
	}
	return cleared, nil
}

func (t *tx) GetPricedInStockOffersByShops(ctx context.Context, shops []domain.EntityKey) ([]domain.Offer, error) {
	if len(shops) == 0 {
		return nil, nil
	}
	ids, countries := splitKeys(shops)

	rows, err := t.tx.Query(ctx, `
		SELECT `+offerColumns+`
		FROM offers o
		JOIN unnest($1::text[], $2::text[]) AS k(id, country_code)
			ON o.shop_id = k.id AND o.country_code = k.country_code
		LEFT JOIN shops s ON s.id = o.shop_id AND s.country_code = o.country_code
		WHERE o.in_stock AND o.price IS NOT NULL AND o.product_id IS NOT NULL
		FOR UPDATE OF o
	`, ids, countries)
	if err != nil {
		return nil, fmt.Errorf("failed to query offers of shops: %w", err)
	}

	offers, err := pgx.CollectRows(rows, scanOffer)
	if err != nil {
		return nil, fmt.Errorf("failed to scan offers of shops: %w", err)
	}
	return offers, nil
}
