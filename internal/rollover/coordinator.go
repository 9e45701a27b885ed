// Package rollover prepares the aggregate partitions of each new day.
package rollover

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Heurr/pps-sub000/internal/domain"
	"github.com/Heurr/pps-sub000/internal/queue"
	"github.com/Heurr/pps-sub000/internal/repository"
)

const safeModeResetTimeout = 10 * time.Second

// Config configures the coordinator
type Config struct {
	RetentionDays   int
	PartitionsAhead int
	PollInterval    time.Duration
}

// Coordinator watches the UTC calendar and rolls the aggregates over to the
// next day once it has actually started
type Coordinator struct {
	partitions repository.PartitionManager
	flags      queue.Flags
	config     Config
	now        func() time.Time
	log        *zap.Logger
}

// NewCoordinator creates a new day rollover coordinator
func NewCoordinator(partitions repository.PartitionManager, flags queue.Flags, config Config, log *zap.Logger) *Coordinator {
	if config.PollInterval <= 0 {
		config.PollInterval = 30 * time.Second
	}
	return &Coordinator{
		partitions: partitions,
		flags:      flags,
		config:     config,
		now:        time.Now,
		log:        log,
	}
}

// Start creates the partitions of today and the days ahead, then polls for
// the day to change until ctx is cancelled. Failed partition creation and
// failed rollovers are retried on the next poll.
func (c *Coordinator) Start(ctx context.Context) error {
	current := domain.Day(c.now())
	ready := c.prepare(ctx, current)

	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("Rollover coordinator stopped")
			return nil
		case <-ticker.C:
			if !ready {
				if ready = c.prepare(ctx, current); !ready {
					continue
				}
			}
			day := domain.Day(c.now())
			if !day.After(current) {
				continue
			}
			if err := c.Rollover(ctx, current, day); err != nil {
				c.log.Error("Day rollover failed, retrying", zap.Time("day", day), zap.Error(err))
				continue
			}
			current = day
		}
	}
}

// prepare creates the partitions of day and the days ahead
func (c *Coordinator) prepare(ctx context.Context, day time.Time) bool {
	created, err := c.partitions.EnsurePartitions(ctx, day, c.config.PartitionsAhead+1)
	if err != nil {
		c.log.Error("Failed to create initial partitions, retrying", zap.Time("day", day), zap.Error(err))
		return false
	}
	c.log.Info("Rollover coordinator started",
		zap.Time("day", day),
		zap.Strings("created_partitions", created))
	return true
}

// Rollover seeds day from previous while safe mode is raised. Safe mode is
// lowered again whatever the outcome.
func (c *Coordinator) Rollover(ctx context.Context, previous, day time.Time) (err error) {
	log := c.log.With(zap.Time("previous", previous), zap.Time("day", day))
	log.Info("Day rollover started")

	if err := c.flags.SetFlag(ctx, queue.SafeModeKey, true); err != nil {
		return fmt.Errorf("failed to raise safe mode: %w", err)
	}
	defer func() {
		resetCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), safeModeResetTimeout)
		defer cancel()
		if resetErr := c.flags.SetFlag(resetCtx, queue.SafeModeKey, false); resetErr != nil {
			log.Error("Failed to lower safe mode", zap.Error(resetErr))
			if err == nil {
				err = fmt.Errorf("failed to lower safe mode: %w", resetErr)
			}
		}
	}()

	cutoff := day.AddDate(0, 0, -c.config.RetentionDays)
	dropped, err := c.partitions.DropPartitionsBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to drop expired partitions: %w", err)
	}

	created, err := c.partitions.EnsurePartitions(ctx, day, c.config.PartitionsAhead+1)
	if err != nil {
		return fmt.Errorf("failed to create partitions: %w", err)
	}

	copied, err := c.partitions.CopyProductPrices(ctx, previous, day)
	if err != nil {
		return fmt.Errorf("failed to seed product prices: %w", err)
	}

	log.Info("Day rollover finished",
		zap.Strings("dropped_partitions", dropped),
		zap.Strings("created_partitions", created),
		zap.Int64("seeded_rows", copied))
	return nil
}
