package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Heurr/pps-sub000/internal/domain"
	"github.com/Heurr/pps-sub000/internal/repository"
)

// Repository implements the entity store and the product price repository on PostgreSQL
type Repository struct {
	db  DB
	log *zap.Logger
}

var (
	_ repository.Store                  = (*Repository)(nil)
	_ repository.ProductPriceRepository = (*Repository)(nil)
	_ repository.Tx                     = (*tx)(nil)
)

// NewRepository creates a new PostgreSQL repository
func NewRepository(db DB, log *zap.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log,
	}
}

// InTx runs fn in a transaction that is committed when fn returns nil
func (r *Repository) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	pgTx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	// Rollback is a no-op once committed
	defer func() { _ = pgTx.Rollback(ctx) }()

	if err := fn(ctx, &tx{tx: pgTx}); err != nil {
		return err
	}

	if err := pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// tx implements repository.Tx on a pgx transaction
type tx struct {
	tx pgx.Tx
}

func collectKeys(rows pgx.Rows, err error) ([]domain.EntityKey, error) {
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.EntityKey, error) {
		var key domain.EntityKey
		err := row.Scan(&key.ID, &key.CountryCode)
		return key, err
	})
}

func splitKeys(keys []domain.EntityKey) (ids, countries []string) {
	ids = make([]string, len(keys))
	countries = make([]string, len(keys))
	for i, k := range keys {
		ids[i] = k.ID
		countries[i] = k.CountryCode
	}
	return ids, countries
}

func splitVersionedKeys(keys []domain.VersionedKey) (ids, countries []string, versions []int64) {
	ids = make([]string, len(keys))
	countries = make([]string, len(keys))
	versions = make([]int64, len(keys))
	for i, k := range keys {
		ids[i] = k.Key.ID
		countries[i] = k.Key.CountryCode
		versions[i] = k.Version
	}
	return ids, countries, versions
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func fromNullString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// decimalText passes prices as text so they reach numeric columns unrounded
func decimalText(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}
