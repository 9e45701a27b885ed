package postgres

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS shops (
		id            text    NOT NULL,
		country_code  text    NOT NULL,
		certified     boolean NOT NULL DEFAULT false,
		verified      boolean NOT NULL DEFAULT false,
		paying        boolean NOT NULL DEFAULT false,
		enabled       boolean NOT NULL DEFAULT false,
		version       bigint,
		PRIMARY KEY (id, country_code)
	)`,
	`CREATE TABLE IF NOT EXISTS offers (
		id                    text NOT NULL,
		country_code          text NOT NULL,
		product_id            text,
		shop_id               text,
		currency_code         text,
		price                 numeric(14, 2),
		version               bigint,
		in_stock              boolean,
		availability_version  bigint,
		buyable               boolean,
		buyable_version       bigint,
		PRIMARY KEY (id, country_code)
	)`,
	`CREATE INDEX IF NOT EXISTS offers_product_price_idx ON offers (product_id, price)`,
	`CREATE INDEX IF NOT EXISTS offers_shop_idx ON offers (shop_id, country_code)`,
	`CREATE TABLE IF NOT EXISTS product_prices (
		day            date           NOT NULL,
		product_id     text           NOT NULL,
		price_type     text           NOT NULL,
		min_price      numeric(14, 2) NOT NULL,
		max_price      numeric(14, 2) NOT NULL,
		avg_price      numeric(14, 2),
		currency_code  text           NOT NULL,
		country_code   text           NOT NULL,
		updated_at     timestamptz    NOT NULL,
		version        bigint         NOT NULL,
		PRIMARY KEY (day, product_id, price_type)
	) PARTITION BY RANGE (day)`,
}

// InitSchema creates the tables if they don't exist. Day partitions of
// product_prices are managed by the PartitionRepository.
func InitSchema(ctx context.Context, db DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}
