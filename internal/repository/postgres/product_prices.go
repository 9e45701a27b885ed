package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/Heurr/pps-sub000/internal/domain"
	"github.com/Heurr/pps-sub000/internal/repository"
)

const productPriceColumns = `p.day, p.product_id, p.price_type, p.min_price, p.max_price, p.avg_price,
	p.currency_code, p.country_code, p.updated_at, p.version`

func scanProductPrice(row pgx.CollectableRow) (domain.ProductPrice, error) {
	var p domain.ProductPrice
	var priceType string
	err := row.Scan(
		&p.Day,
		&p.ProductID,
		&priceType,
		&p.MinPrice,
		&p.MaxPrice,
		&p.AvgPrice,
		&p.CurrencyCode,
		&p.CountryCode,
		&p.UpdatedAt,
		&p.Version,
	)
	p.PriceType = domain.PriceType(priceType)
	return p, err
}

func splitPriceKeys(keys []domain.ProductPriceKey) (products, types []string) {
	products = make([]string, len(keys))
	types = make([]string, len(keys))
	for i, k := range keys {
		products[i] = k.ProductID
		types[i] = string(k.PriceType)
	}
	return products, types
}

// GetProductPrices returns the rows of one day for the given keys
func (r *Repository) GetProductPrices(ctx context.Context, day time.Time, keys []domain.ProductPriceKey) (map[domain.ProductPriceKey]domain.ProductPrice, error) {
	if len(keys) == 0 {
		return map[domain.ProductPriceKey]domain.ProductPrice{}, nil
	}
	products, types := splitPriceKeys(keys)

	rows, err := r.db.Query(ctx, `
		SELECT `+productPriceColumns+`
		FROM product_prices p
		JOIN unnest($2::text[], $3::text[]) AS k(product_id, price_type)
			ON p.product_id = k.product_id AND p.price_type = k.price_type
		WHERE p.day = $1
	`, domain.Day(day), products, types)
	if err != nil {
		return nil, fmt.Errorf("failed to query product prices: %w", err)
	}

	prices, err := pgx.CollectRows(rows, scanProductPrice)
	if err != nil {
		return nil, fmt.Errorf("failed to scan product prices: %w", err)
	}

	byKey := make(map[domain.ProductPriceKey]domain.ProductPrice, len(prices))
	for _, p := range prices {
		byKey[p.Key()] = p
	}
	return byKey, nil
}

// UpsertProductPrices writes aggregate rows, never replacing a newer version
func (r *Repository) UpsertProductPrices(ctx context.Context, prices []domain.ProductPrice) error {
	if len(prices) == 0 {
		return nil
	}

	n := len(prices)
	days, updated := make([]time.Time, n), make([]time.Time, n)
	products, types, currencies, countries := make([]string, n), make([]string, n), make([]string, n), make([]string, n)
	mins, maxs, avgs := make([]string, n), make([]string, n), make([]*string, n)
	versions := make([]int64, n)
	for i, p := range prices {
		days[i] = domain.Day(p.Day)
		products[i] = p.ProductID
		types[i] = string(p.PriceType)
		mins[i] = p.MinPrice.String()
		maxs[i] = p.MaxPrice.String()
		avgs[i] = decimalText(p.AvgPrice)
		currencies[i] = p.CurrencyCode
		countries[i] = p.CountryCode
		updated[i] = p.UpdatedAt
		versions[i] = p.Version
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO product_prices (day, product_id, price_type, min_price, max_price, avg_price,
			currency_code, country_code, updated_at, version)
		SELECT day, product_id, price_type, min_price::numeric, max_price::numeric, avg_price::numeric,
			currency_code, country_code, updated_at, version
		FROM unnest($1::date[], $2::text[], $3::text[], $4::text[], $5::text[], $6::text[],
			$7::text[], $8::text[], $9::timestamptz[], $10::bigint[])
			AS k(day, product_id, price_type, min_price, max_price, avg_price,
				currency_code, country_code, updated_at, version)
		ON CONFLICT (day, product_id, price_type) DO UPDATE SET
			min_price = excluded.min_price,
			max_price = excluded.max_price,
			avg_price = excluded.avg_price,
			currency_code = excluded.currency_code,
			country_code = excluded.country_code,
			updated_at = excluded.updated_at,
			version = excluded.version
		WHERE product_prices.version <= excluded.version
	`, days, products, types, mins, maxs, avgs, currencies, countries, updated, versions)
	if err != nil {
		return fmt.Errorf("failed to upsert product prices: %w", err)
	}
	return nil
}

// DeleteProductPrices removes the rows of one day for the given keys
func (r *Repository) DeleteProductPrices(ctx context.Context, day time.Time, keys []domain.ProductPriceKey) error {
	if len(keys) == 0 {
		return nil
	}
	products, types := splitPriceKeys(keys)

	_, err := r.db.Exec(ctx, `
		DELETE FROM product_prices p
		USING unnest($2::text[], $3::text[]) AS k(product_id, price_type)
		WHERE p.day = $1 AND p.product_id = k.product_id AND p.price_type = k.price_type
	`, domain.Day(day), products, types)
	if err != nil {
		return fmt.Errorf("failed to delete product prices: %w", err)
	}
	return nil
}

// GetProductPricesByProducts returns every price type row of the products on one day
func (r *Repository) GetProductPricesByProducts(ctx context.Context, day time.Time, productIDs []string) ([]domain.ProductPrice, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+productPriceColumns+`
		FROM product_prices p
		WHERE p.day = $1 AND p.product_id = ANY($2::text[])
		ORDER BY p.product_id, p.price_type
	`, domain.Day(day), productIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query product prices: %w", err)
	}

	prices, err := pgx.CollectRows(rows, scanProductPrice)
	if err != nil {
		return nil, fmt.Errorf("failed to scan product prices: %w", err)
	}
	return prices, nil
}

// priceTypePredicates are the offer filters of each price type. shops is
// joined as s and may be null.
var priceTypePredicates = map[domain.PriceType]string{
	domain.PriceTypeAllOffers:        "TRUE",
	domain.PriceTypeMarketplace:      "o.buyable IS TRUE",
	domain.PriceTypeInStock:          "o.in_stock IS TRUE",
	domain.PriceTypeInStockCertified: "o.in_stock IS TRUE AND s.certified IS TRUE",
}

// PriceBound reads the lowest or highest price among the offers that
// currently satisfy the price type
func (r *Repository) PriceBound(ctx context.Context, productID string, priceType domain.PriceType, bound repository.Bound) (decimal.NullDecimal, error) {
	predicate, ok := priceTypePredicates[priceType]
	if !ok {
		return decimal.NullDecimal{}, fmt.Errorf("unknown price type %q", priceType)
	}

	order := "ASC"
	if bound == repository.BoundMax {
		order = "DESC"
	}

	query := fmt.Sprintf(`
		SELECT o.price
		FROM offers o
		LEFT JOIN shops s ON s.id = o.shop_id AND s.country_code = o.country_code
		WHERE o.product_id = $1 AND o.price IS NOT NULL AND %s
		ORDER BY o.price %s
		LIMIT 1
	`, predicate, order)

	var price decimal.Decimal
	err := r.db.QueryRow(ctx, query, productID).Scan(&price)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.NullDecimal{}, nil
	}
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("failed to query %s price of %s/%s: %w", bound, productID, priceType, err)
	}
	return decimal.NewNullDecimal(price), nil
}
