package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Heurr/pps-sub000/internal/domain"
	"github.com/Heurr/pps-sub000/internal/repository"
)

// Repository implements repository.PriceHistoryRepository for ClickHouse.
// Every published document becomes one row per price type, a deleted
// product one row without a price type.
type Repository struct {
	client        *Client
	retentionDays int
	now           func() time.Time
	log           *zap.Logger
}

// NewRepository creates a new ClickHouse repository keeping rows for retentionDays
func NewRepository(client *Client, retentionDays int, log *zap.Logger) *Repository {
	if retentionDays < 1 {
		retentionDays = 1
	}
	return &Repository{
		client:        client,
		retentionDays: retentionDays,
		now:           time.Now,
		log:           log,
	}
}

func schema(retentionDays int) string {
	return fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS price_history (
		product_id String,
		price_type LowCardinality(String),
		min_price Decimal(18, 4),
		max_price Decimal(18, 4),
		currency_code LowCardinality(String),
		country_code LowCardinality(String),
		action LowCardinality(String),
		version Int64,
		published_at DateTime64(3)
	) ENGINE = MergeTree
	PARTITION BY toYYYYMMDD(published_at)
	ORDER BY (product_id, published_at, price_type)
	TTL toDateTime(published_at) + INTERVAL %d DAY
	SETTINGS index_granularity = 8192
	`, retentionDays)
}

// InitSchema creates the price history table
func (r *Repository) InitSchema(ctx context.Context) error {
	if err := r.client.Conn().Exec(ctx, schema(r.retentionDays)); err != nil {
		return fmt.Errorf("failed to create price_history table: %w", err)
	}

	r.log.Info("ClickHouse schema initialized", zap.Int("retention_days", r.retentionDays))
	return nil
}

// historyRows flattens documents into archive rows
func historyRows(docs []domain.PriceDocument, publishedAt time.Time) []repository.PriceHistoryEntry {
	rows := make([]repository.PriceHistoryEntry, 0, len(docs))
	for _, doc := range docs {
		entry := repository.PriceHistoryEntry{
			ProductID:    doc.ProductID,
			CurrencyCode: doc.CurrencyCode,
			CountryCode:  doc.CountryCode,
			Action:       doc.Action,
			Version:      doc.Version,
			PublishedAt:  publishedAt,
		}
		if len(doc.Prices) == 0 {
			entry.MinPrice, entry.MaxPrice = decimal.Zero, decimal.Zero
			rows = append(rows, entry)
			continue
		}
		for _, p := range doc.Prices {
			entry.PriceType = p.Type
			entry.MinPrice = p.Min
			entry.MaxPrice = p.Max
			rows = append(rows, entry)
		}
	}
	return rows
}

// InsertBatch archives published documents and returns the number of rows written
func (r *Repository) InsertBatch(ctx context.Context, docs []domain.PriceDocument) (int, error) {
	rows := historyRows(docs, r.now().UTC())
	if len(rows) == 0 {
		return 0, nil
	}

	batch, err := r.client.Conn().PrepareBatch(ctx, "INSERT INTO price_history")
	if err != nil {
		return 0, fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, row := range rows {
		err := batch.Append(
			row.ProductID,
			string(row.PriceType),
			row.MinPrice,
			row.MaxPrice,
			row.CurrencyCode,
			row.CountryCode,
			row.Action,
			row.Version,
			row.PublishedAt,
		)
		if err != nil {
			_ = batch.Abort()
			return 0, fmt.Errorf("failed to append price history row: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return 0, fmt.Errorf("failed to send batch: %w", err)
	}

	return len(rows), nil
}

// GetPriceHistory returns the archived rows of a product in [from, to] in publishing order
func (r *Repository) GetPriceHistory(ctx context.Context, productID string, from, to time.Time) ([]repository.PriceHistoryEntry, error) {
	rows, err := r.client.Conn().Query(ctx, `
		SELECT product_id, price_type, min_price, max_price, currency_code, country_code, action, version, published_at
		FROM price_history
		WHERE product_id = ? AND published_at >= ? AND published_at <= ?
		ORDER BY published_at ASC, price_type ASC
	`, productID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query price history: %w", err)
	}
	defer func(rows driver.Rows) {
		if err := rows.Close(); err != nil {
			r.log.Error("Failed to close price history rows", zap.Error(err))
		}
	}(rows)

	var entries []repository.PriceHistoryEntry
	for rows.Next() {
		var (
			entry     repository.PriceHistoryEntry
			priceType string
		)
		if err := rows.Scan(
			&entry.ProductID,
			&priceType,
			&entry.MinPrice,
			&entry.MaxPrice,
			&entry.CurrencyCode,
			&entry.CountryCode,
			&entry.Action,
			&entry.Version,
			&entry.PublishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan price history row: %w", err)
		}
		entry.PriceType = domain.PriceType(priceType)
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating price history rows: %w", err)
	}

	return entries, nil
}

// Ping checks if the ClickHouse connection is alive
func (r *Repository) Ping(ctx context.Context) error {
	return r.client.Conn().Ping(ctx)
}

// Close closes the ClickHouse connection
func (r *Repository) Close() error {
	return r.client.Close()
}
