package queue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrBackpressure is returned when the intermediate queue is over its memory threshold
var ErrBackpressure = errors.New("intermediate queue over memory threshold")

const (
	// PriceEventsKey holds JSON encoded price events for the aggregation engine
	PriceEventsKey = "price-events"
	// ChangedProductsKey is the set of product ids waiting to be published
	ChangedProductsKey = "changed-product-ids"
	// SafeModeKey is raised by the day rollover while today's rows are seeded
	SafeModeKey = "safe-mode"
)

// Queue defines the list operations of the intermediate queue
type Queue interface {
	// Push appends items to the tail of key in one command
	Push(ctx context.Context, key string, items ...[]byte) error

	// Pop removes up to max items from the head of key, blocking up to
	// timeout when the list is empty. A timed out pop returns no items and
	// no error.
	Pop(ctx context.Context, key string, max int, timeout time.Duration) ([][]byte, error)

	// MemoryUsage returns the used share of the backing store's memory in percent
	MemoryUsage(ctx context.Context) (float64, error)
}

// SignalSet defines a deduplicating set of ids handed between components
type SignalSet interface {
	Signal(ctx context.Context, key string, members ...string) error
	Drain(ctx context.Context, key string, max int) ([]string, error)
}

// Flags defines process wide boolean switches
type Flags interface {
	SetFlag(ctx context.Context, key string, value bool) error
	Flag(ctx context.Context, key string) (bool, error)
}

// CheckCapacity returns ErrBackpressure when q uses more than thresholdPercent of its memory
func CheckCapacity(ctx context.Context, q Queue, thresholdPercent float64) error {
	usage, err := q.MemoryUsage(ctx)
	if err != nil {
		return fmt.Errorf("failed to read queue memory usage: %w", err)
	}
	if usage > thresholdPercent {
		return fmt.Errorf("%w: %.1f%% used, threshold %.1f%%", ErrBackpressure, usage, thresholdPercent)
	}
	return nil
}
