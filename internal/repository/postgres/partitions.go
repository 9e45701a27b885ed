package postgres

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/Heurr/pps-sub000/internal/domain"
	"github.com/Heurr/pps-sub000/internal/repository"
)

const (
	partitionPrefix = "product_prices_"
	partitionLayout = "20060102"
)

// PartitionRepository manages the day partitions of product_prices. Each
// day partition is hash partitioned by product_id into a fixed number of buckets.
type PartitionRepository struct {
	db      DB
	buckets int
	log     *zap.Logger
}

var _ repository.PartitionManager = (*PartitionRepository)(nil)

// NewPartitionRepository creates a new partition repository
func NewPartitionRepository(db DB, buckets int, log *zap.Logger) *PartitionRepository {
	if buckets < 1 {
		buckets = 1
	}
	return &PartitionRepository{
		db:      db,
		buckets: buckets,
		log:     log,
	}
}

// PartitionName returns the name of the day partition holding day
func PartitionName(day time.Time) string {
	return partitionPrefix + domain.Day(day).Format(partitionLayout)
}

// partitionDay parses a day partition name. Hash buckets and foreign tables do not parse.
func partitionDay(name string) (time.Time, bool) {
	suffix, ok := strings.CutPrefix(name, partitionPrefix)
	if !ok || len(suffix) != len(partitionLayout) {
		return time.Time{}, false
	}
	day, err := time.Parse(partitionLayout, suffix)
	if err != nil {
		return time.Time{}, false
	}
	return day, true
}

func (r *PartitionRepository) listPartitions(ctx context.Context) (map[string]time.Time, error) {
	rows, err := r.db.Query(ctx, `
		SELECT c.relname
		FROM pg_inherits i
		JOIN pg_class c ON c.oid = i.inhrelid
		JOIN pg_class p ON p.oid = i.inhparent
		WHERE p.relname = 'product_prices'
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list partitions: %w", err)
	}

	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan partitions: %w", err)
	}

	partitions := make(map[string]time.Time, len(names))
	for _, name := range names {
		if day, ok := partitionDay(name); ok {
			partitions[name] = day
		}
	}
	return partitions, nil
}

// EnsurePartitions creates the missing day partitions of [from, from+days)
// and returns the names it created
func (r *PartitionRepository) EnsurePartitions(ctx context.Context, from time.Time, days int) ([]string, error) {
	existing, err := r.listPartitions(ctx)
	if err != nil {
		return nil, err
	}

	var created []string
	start := domain.Day(from)
	for i := 0; i < days; i++ {
		day := start.AddDate(0, 0, i)
		name := PartitionName(day)
		if _, ok := existing[name]; ok {
			continue
		}
		if err := r.createPartition(ctx, name, day); err != nil {
			return created, err
		}
		created = append(created, name)
		r.log.Info("Created product price partition", zap.String("partition", name))
	}

	return created, nil
}

func (r *PartitionRepository) createPartition(ctx context.Context, name string, day time.Time) error {
	table := pgx.Identifier{name}.Sanitize()

	_, err := r.db.Exec(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s PARTITION OF product_prices
		FOR VALUES FROM ('%s') TO ('%s') PARTITION BY HASH (product_id)`,
		table, day.Format(time.DateOnly), day.AddDate(0, 0, 1).Format(time.DateOnly)))
	if err != nil {
		return fmt.Errorf("failed to create partition %s: %w", name, err)
	}

	for i := 0; i < r.buckets; i++ {
		bucket := pgx.Identifier{fmt.Sprintf("%s_p%d", name, i)}.Sanitize()
		_, err := r.db.Exec(ctx, fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s PARTITION OF %s FOR VALUES WITH (MODULUS %d, REMAINDER %d)`,
			bucket, table, r.buckets, i))
		if err != nil {
			return fmt.Errorf("failed to create hash partition %d of %s: %w", i, name, err)
		}
	}

	return nil
}

// DropPartitionsBefore drops the day partitions older than day together with
// their hash buckets
func (r *PartitionRepository) DropPartitionsBefore(ctx context.Context, day time.Time) ([]string, error) {
	existing, err := r.listPartitions(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := domain.Day(day)
	var stale []string
	for name, partitionDay := range existing {
		if partitionDay.Before(cutoff) {
			stale = append(stale, name)
		}
	}
	sort.Strings(stale)

	var dropped []string
	for _, name := range stale {
		if _, err := r.db.Exec(ctx, "DROP TABLE IF EXISTS "+pgx.Identifier{name}.Sanitize()); err != nil {
			return dropped, fmt.Errorf("failed to drop partition %s: %w", name, err)
		}
		dropped = append(dropped, name)
		r.log.Info("Dropped product price partition", zap.String("partition", name))
	}

	return dropped, nil
}

// CopyProductPrices seeds the rows of day to from day from, keeping rows
// that already exist on to. Products without any priced offer left are not
// seeded.
func (r *PartitionRepository) CopyProductPrices(ctx context.Context, from, to time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO product_prices (day, product_id, price_type, min_price, max_price, avg_price,
			currency_code, country_code, updated_at, version)
		SELECT $2::date, product_id, price_type, min_price, max_price, avg_price,
			currency_code, country_code, now(), version
		FROM product_prices p
		WHERE p.day = $1
			AND EXISTS (
				SELECT 1 FROM offers o
				WHERE o.product_id = p.product_id AND o.price IS NOT NULL
			)
		ON CONFLICT (day, product_id, price_type) DO NOTHING
	`, domain.Day(from), domain.Day(to))
	if err != nil {
		return 0, fmt.Errorf("failed to copy product prices: %w", err)
	}
	return tag.RowsAffected(), nil
}
