package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Heurr/pps-sub000/internal/domain"
)

func (t *tx) GetShops(ctx context.Context, keys []domain.EntityKey) (map[domain.EntityKey]domain.Shop, error) {
	if len(keys) == 0 {
		return map[domain.EntityKey]domain.Shop{}, nil
	}
	ids, countries := splitKeys(keys)

	rows, err := t.tx.Query(ctx, `
		SELECT s.id, s.country_code, s.certified, s.verified, s.paying, s.enabled, s.version
		FROM shops s
		JOIN unnest($1::text[], $2::text[]) AS k(id, country_code)
			ON s.id = k.id AND s.country_code = k.country_code
		FOR UPDATE OF s
	`, ids, countries)
	if err != nil {
		return nil, fmt.Errorf("failed to query shops: %w", err)
	}

	shops, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Shop, error) {
		var s domain.Shop
		err := row.Scan(&s.ID, &s.CountryCode, &s.Certified, &s.Verified, &s.Paying, &s.Enabled, &s.Version)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan shops: %w", err)
	}

	byKey := make(map[domain.EntityKey]domain.Shop, len(shops))
	for _, s := range shops {
		byKey[s.Key()] = s
	}
	return byKey, nil
}

func (t *tx) UpsertShops(ctx context.Context, shops []domain.Shop) ([]domain.EntityKey, error) {
	if len(shops) == 0 {
		return nil, nil
	}

	n := len(shops)
	ids, countries := make([]string, n), make([]string, n)
	certified, verified, paying, enabled := make([]bool, n), make([]bool, n), make([]bool, n), make([]bool, n)
	versions := make([]int64, n)
	for i, s := range shops {
		ids[i] = s.ID
		countries[i] = s.CountryCode
		certified[i] = s.Certified
		verified[i] = s.Verified
		paying[i] = s.Paying
		enabled[i] = s.Enabled
		versions[i], _ = s.Version.Int64()
	}

	keys, err := collectKeys(t.tx.Query(ctx, `
		INSERT INTO shops (id, country_code, certified, verified, paying, enabled, version)
		SELECT * FROM unnest($1::text[], $2::text[], $3::boolean[], $4::boolean[], $5::boolean[], $6::boolean[], $7::bigint[])
		ON CONFLICT (id, country_code) DO UPDATE SET
			certified = excluded.certified,
			verified = excluded.verified,
			paying = excluded.paying,
			enabled = excluded.enabled,
			version = excluded.version
		WHERE shops.version IS NULL OR shops.version <= excluded.version
		RETURNING id, country_code
	`, ids, countries, certified, verified, paying, enabled, versions))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert shops: %w", err)
	}
	return keys, nil
}

func (t *tx) DeleteShops(ctx context.Context, keys []domain.VersionedKey) ([]domain.EntityKey, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	ids, countries, versions := splitVersionedKeys(keys)

	deleted, err := collectKeys(t.tx.Query(ctx, `
		DELETE FROM shops s
		USING unnest($1::text[], $2::text[], $3::bigint[]) AS k(id, country_code, version)
		WHERE s.id = k.id AND s.country_code = k.country_code
			AND (s.version IS NULL OR s.version < k.version)
		RETURNING s.id, s.country_code
	`, ids, countries, versions))
	if err != nil {
		return nil, fmt.Errorf("failed to delete shops: %w", err)
	}
	return deleted, nil
}
