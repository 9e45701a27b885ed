package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Heurr/pps-sub000/internal/domain"
)

// Bound selects the extreme a source of truth query derives
type Bound string

const (
	BoundMin Bound = "min"
	BoundMax Bound = "max"
)

// OfferFlag is a versioned availability or buyable value of one offer
type OfferFlag struct {
	Key     domain.EntityKey
	Value   bool
	Version int64
}

// Store runs entity work inside one database transaction
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx defines the entity operations available inside a transaction. Every
// write is version checked in its predicate and returns the keys it changed.
type Tx interface {
	// GetOffers locks and returns the stored offers with the certification of their shop
	GetOffers(ctx context.Context, keys []domain.EntityKey) (map[domain.EntityKey]domain.Offer, error)
	UpsertOffers(ctx context.Context, offers []domain.Offer) ([]domain.EntityKey, error)
	DeleteOffers(ctx context.Context, keys []domain.VersionedKey) ([]domain.EntityKey, error)

	// UpsertOfferFlags writes availability or buyable values, creating stub offers when needed
	UpsertOfferFlags(ctx context.Context, kind domain.EntityKind, flags []OfferFlag) ([]domain.EntityKey, error)
	// ClearOfferFlags unsets availability or buyable values
	ClearOfferFlags(ctx context.Context, kind domain.EntityKind, keys []domain.VersionedKey) ([]domain.EntityKey, error)

	GetShops(ctx context.Context, keys []domain.EntityKey) (map[domain.EntityKey]domain.Shop, error)
	UpsertShops(ctx context.Context, shops []domain.Shop) ([]domain.EntityKey, error)
	DeleteShops(ctx context.Context, keys []domain.VersionedKey) ([]domain.EntityKey, error)

	// GetPricedInStockOffersByShops returns the offers of the shops that
	// currently contribute to in-stock aggregates
	GetPricedInStockOffersByShops(ctx context.Context, shops []domain.EntityKey) ([]domain.Offer, error)
}

// ProductPriceRepository defines the storage of the per day aggregates
type ProductPriceRepository interface {
	GetProductPrices(ctx context.Context, day time.Time, keys []domain.ProductPriceKey) (map[domain.ProductPriceKey]domain.ProductPrice, error)
	UpsertProductPrices(ctx context.Context, prices []domain.ProductPrice) error
	DeleteProductPrices(ctx context.Context, day time.Time, keys []domain.ProductPriceKey) error
	GetProductPricesByProducts(ctx context.Context, day time.Time, productIDs []string) ([]domain.ProductPrice, error)

	// PriceBound derives the min or max price of the offers currently
	// contributing to a price type. An invalid result means no offer does.
	PriceBound(ctx context.Context, productID string, priceType domain.PriceType, bound Bound) (decimal.NullDecimal, error)
}

// PartitionManager defines the maintenance of the day partitions of product prices
type PartitionManager interface {
	// EnsurePartitions creates the missing day partitions of [from, from+days)
	EnsurePartitions(ctx context.Context, from time.Time, days int) ([]string, error)
	// DropPartitionsBefore drops every day partition older than day
	DropPartitionsBefore(ctx context.Context, day time.Time) ([]string, error)
	// CopyProductPrices seeds the rows of one day from another, keeping existing rows
	CopyProductPrices(ctx context.Context, from, to time.Time) (int64, error)
}

// PriceHistoryEntry is one archived price of a product
type PriceHistoryEntry struct {
	ProductID    string
	PriceType    domain.PriceType
	MinPrice     decimal.Decimal
	MaxPrice     decimal.Decimal
	CurrencyCode string
	CountryCode  string
	Action       string
	Version      int64
	PublishedAt  time.Time
}

// PriceHistoryRepository defines the archive of published price documents
type PriceHistoryRepository interface {
	// InitSchema initializes the database schema (creates tables if they don't exist)
	InitSchema(ctx context.Context) error

	// InsertBatch archives published documents
	InsertBatch(ctx context.Context, docs []domain.PriceDocument) (int, error)

	// GetPriceHistory returns the archived prices of a product in [from, to]
	GetPriceHistory(ctx context.Context, productID string, from, to time.Time) ([]PriceHistoryEntry, error)

	// Ping checks if the database connection is alive
	Ping(ctx context.Context) error

	// Close closes the repository and releases resources
	Close() error
}
