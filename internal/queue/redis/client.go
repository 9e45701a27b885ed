package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Heurr/pps-sub000/internal/config"
	"github.com/Heurr/pps-sub000/internal/queue"
)

// Client implements the intermediate queue, the signal set and the flags on Redis
type Client struct {
	rdb            *goredis.Client
	maxMemoryBytes int64
	log            *zap.Logger
}

var (
	_ queue.Queue     = (*Client)(nil)
	_ queue.SignalSet = (*Client)(nil)
	_ queue.Flags     = (*Client)(nil)
)

// NewClient connects to Redis and verifies the connection
func NewClient(ctx context.Context, cfg config.Redis, log *zap.Logger) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Info("Redis client created", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))

	return NewClientWithRedis(rdb, cfg.MaxMemoryBytes, log), nil
}

// NewClientWithRedis wraps an existing go-redis client. maxMemoryBytes is used
// as the capacity when the server runs without a maxmemory limit.
func NewClientWithRedis(rdb *goredis.Client, maxMemoryBytes int64, log *zap.Logger) *Client {
	return &Client{
		rdb:            rdb,
		maxMemoryBytes: maxMemoryBytes,
		log:            log,
	}
}

// Push appends items to key with a single RPUSH
func (c *Client) Push(ctx context.Context, key string, items ...[]byte) error {
	if len(items) == 0 {
		return nil
	}

	values := make([]interface{}, len(items))
	for i, item := range items {
		values[i] = item
	}

	if err := c.rdb.RPush(ctx, key, values...).Err(); err != nil {
		return fmt.Errorf("failed to push to %s: %w", key, err)
	}
	return nil
}

// Pop takes whatever is queued up to max, and only blocks when the list is empty
func (c *Client) Pop(ctx context.Context, key string, max int, timeout time.Duration) ([][]byte, error) {
	if max < 1 {
		max = 1
	}

	items, err := c.popCount(ctx, key, max)
	if err != nil || len(items) > 0 {
		return items, err
	}

	res, err := c.rdb.BLPop(ctx, timeout, key).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop from %s: %w", key, err)
	}

	// res is [key, value]
	items = [][]byte{[]byte(res[1])}
	if max > 1 {
		more, err := c.popCount(ctx, key, max-1)
		if err != nil {
			return items, err
		}
		items = append(items, more...)
	}

	return items, nil
}

func (c *Client) popCount(ctx context.Context, key string, count int) ([][]byte, error) {
	values, err := c.rdb.LPopCount(ctx, key, count).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop from %s: %w", key, err)
	}

	items := make([][]byte, len(values))
	for i, v := range values {
		items[i] = []byte(v)
	}
	return items, nil
}

// MemoryUsage reads INFO memory and returns used_memory against the capacity
func (c *Client) MemoryUsage(ctx context.Context) (float64, error) {
	memory, err := c.memoryInfo(ctx)
	if err != nil {
		return 0, err
	}

	return memoryUsagePercent(memory, c.maxMemoryBytes)
}

// CheckMemoryLimit warns when neither the server maxmemory nor the configured
// limit bounds the queue, which leaves backpressure switched off
func (c *Client) CheckMemoryLimit(ctx context.Context) error {
	memory, err := c.memoryInfo(ctx)
	if err != nil {
		return err
	}

	c.checkMemoryLimit(memory)
	return nil
}

func (c *Client) checkMemoryLimit(memory map[string]string) int64 {
	limit, err := memoryLimit(memory, c.maxMemoryBytes)
	if err != nil {
		c.log.Warn("Failed to read Redis memory limit", zap.Error(err))
		return 0
	}
	if limit <= 0 {
		c.log.Warn("Redis memory is unbounded, backpressure is disabled; set maxmemory or REDIS_MAX_MEMORY_BYTES")
		return 0
	}

	c.log.Info("Redis memory limit", zap.Int64("bytes", limit))
	return limit
}

func (c *Client) memoryInfo(ctx context.Context) (map[string]string, error) {
	info, err := c.rdb.InfoMap(ctx, "memory").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read redis memory info: %w", err)
	}

	memory, ok := info["Memory"]
	if !ok {
		return nil, errors.New("memory section missing from redis info")
	}
	return memory, nil
}

// memoryLimit returns the server maxmemory, or fallbackMax when the server
// runs without a limit
func memoryLimit(memory map[string]string, fallbackMax int64) (int64, error) {
	limit := int64(0)
	if value, ok := memory["maxmemory"]; ok {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid maxmemory %q: %w", value, err)
		}
		limit = n
	}
	if limit <= 0 {
		limit = fallbackMax
	}
	return limit, nil
}

// memoryUsagePercent measures used_memory against the memory limit and
// reports zero usage when no limit is known
func memoryUsagePercent(memory map[string]string, fallbackMax int64) (float64, error) {
	value, ok := memory["used_memory"]
	if !ok {
		return 0, errors.New("used_memory missing from memory info")
	}
	used, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid used_memory %q: %w", value, err)
	}

	limit, err := memoryLimit(memory, fallbackMax)
	if err != nil {
		return 0, err
	}
	if limit <= 0 {
		return 0, nil
	}

	return float64(used) / float64(limit) * 100, nil
}

// Signal adds members to the set at key
func (c *Client) Signal(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}

	values := make([]interface{}, len(members))
	for i, m := range members {
		values[i] = m
	}

	if err := c.rdb.SAdd(ctx, key, values...).Err(); err != nil {
		return fmt.Errorf("failed to signal %s: %w", key, err)
	}
	return nil
}

// Drain removes and returns up to max members of the set at key
func (c *Client) Drain(ctx context.Context, key string, max int) ([]string, error) {
	members, err := c.rdb.SPopN(ctx, key, int64(max)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to drain %s: %w", key, err)
	}
	return members, nil
}

// SetFlag stores a boolean switch
func (c *Client) SetFlag(ctx context.Context, key string, value bool) error {
	if err := c.rdb.Set(ctx, key, strconv.FormatBool(value), 0).Err(); err != nil {
		return fmt.Errorf("failed to set flag %s: %w", key, err)
	}
	return nil
}

// Flag reads a boolean switch. A missing key is false.
func (c *Client) Flag(ctx context.Context, key string) (bool, error) {
	value, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read flag %s: %w", key, err)
	}

	flag, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid flag %s value %q: %w", key, value, err)
	}
	return flag, nil
}

// Ping checks if the Redis connection is alive
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the underlying connection pool
func (c *Client) Close() error {
	return c.rdb.Close()
}
