package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"catalog-cache/internal/metrics"
)

// Options controls how the Client reaches Redis.
type Options struct {
	Addr     string
	Password string
	DB       int

	// Prefix namespaces every key, e.g. "app" -> "app:product:42".
	Prefix string

	DialTimeout time.Duration // connect + ping budget (default: 2s)
	OpTimeout   time.Duration // per round trip (default: 250ms)
	ScanBatch   int           // keys per SCAN page and per DEL batch (default: 100)
	PoolSize    int           // default: 16
}

func (o Options) withDefaults() Options {
	if o.Addr == "" {
		o.Addr = "127.0.0.1:6379"
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 2 * time.Second
	}
	if o.OpTimeout <= 0 {
		o.OpTimeout = 250 * time.Millisecond
	}
	if o.ScanBatch <= 0 {
		o.ScanBatch = 100
	}
	if o.PoolSize <= 0 {
		o.PoolSize = 16
	}
	if o.DB < 0 {
		o.DB = 0
	}
	return o
}

// Client is the process-wide handle to the remote store. It moves
// Disconnected -> Connecting -> Connected on Connect, and drops back to
// Disconnected on the first operational error; from then on every call is a
// no-op until Connect is called again. Nothing reconnects on its own.
type Client struct {
	opts   Options
	logger *zap.Logger

	rdb     atomic.Pointer[redis.Client]
	state   atomic.Int32
	connect singleflight.Group
}

var _ Store = (*Client)(nil)

// NewClient builds a Client in the Disconnected state. Call Connect once at
// startup.
func NewClient(opts Options, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		opts:   opts.withDefaults(),
		logger: logger.Named("kvstore"),
	}
}

// State reports the current connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Connect establishes the connection. Concurrent callers share a single
// attempt and observe the same outcome. Connecting an already connected
// client is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	if c.State() == Connected {
		return nil
	}

	_, err, shared := c.connect.Do("connect", func() (any, error) {
		if c.State() == Connected {
			return nil, nil
		}
		c.state.Store(int32(Connecting))

		rdb := redis.NewClient(&redis.Options{
			Addr:         c.opts.Addr,
			Password:     c.opts.Password,
			DB:           c.opts.DB,
			DialTimeout:  c.opts.DialTimeout,
			ReadTimeout:  c.opts.OpTimeout,
			WriteTimeout: c.opts.OpTimeout,
			PoolSize:     c.opts.PoolSize,
			MaxRetries:   -1, // no inline retries; a failure degrades the client

			ContextTimeoutEnabled: true,
		})

		pingCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
		defer cancel()

		if err := rdb.Ping(pingCtx).Err(); err != nil {
			_ = rdb.Close()
			c.state.Store(int32(Disconnected))
			metrics.StoreConnected.Set(0)
			return nil, fmt.Errorf("kvstore: connect %s: %w", c.opts.Addr, err)
		}

		c.rdb.Store(rdb)
		c.state.Store(int32(Connected))
		metrics.StoreConnected.Set(1)
		return nil, nil
	})

	if err != nil {
		c.logger.Warn("store unavailable, running without cache",
			zap.String("addr", c.opts.Addr),
			zap.Error(err),
		)
		return err
	}

	c.logger.Info("store connected",
		zap.String("addr", c.opts.Addr),
		zap.Bool("shared_attempt", shared),
	)
	return nil
}

// Ping checks the live connection without changing state.
func (c *Client) Ping(ctx context.Context) error {
	rdb := c.handle()
	if rdb == nil {
		return errors.New("kvstore: not connected")
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.OpTimeout)
	defer cancel()
	return rdb.Ping(ctx).Err()
}

// Close tears the connection down. The client is Disconnected afterwards.
func (c *Client) Close() error {
	rdb := c.rdb.Swap(nil)
	c.state.Store(int32(Disconnected))
	metrics.StoreConnected.Set(0)
	if rdb == nil {
		return nil
	}
	return rdb.Close()
}

// Get returns the raw value for key. Absent, degraded and failed lookups all
// come back as (nil, false).
func (c *Client) Get(ctx context.Context, key string) ([]byte, bool) {
	rdb := c.handle()
	if rdb == nil || ctx.Err() != nil {
		return nil, false
	}

	opCtx, cancel := context.WithTimeout(ctx, c.opts.OpTimeout)
	defer cancel()

	val, err := rdb.Get(opCtx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.fail(ctx, rdb, "get", key, err)
		return nil, false
	}
	return val, true
}

// Set stores value under key for ttl. A non-positive ttl stores nothing.
func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	rdb := c.handle()
	if rdb == nil || ctx.Err() != nil {
		return false
	}

	opCtx, cancel := context.WithTimeout(ctx, c.opts.OpTimeout)
	defer cancel()

	if err := rdb.Set(opCtx, c.key(key), value, ttl).Err(); err != nil {
		c.fail(ctx, rdb, "set", key, err)
		return false
	}
	return true
}

// Delete removes key. It reports whether the store acknowledged the delete,
// not whether the key existed.
func (c *Client) Delete(ctx context.Context, key string) bool {
	rdb := c.handle()
	if rdb == nil || ctx.Err() != nil {
		return false
	}

	opCtx, cancel := context.WithTimeout(ctx, c.opts.OpTimeout)
	defer cancel()

	if err := rdb.Del(opCtx, c.key(key)).Err(); err != nil {
		c.fail(ctx, rdb, "delete", key, err)
		return false
	}
	return true
}

// DeleteMatching walks the keyspace with SCAN until the cursor returns to 0,
// then deletes the matches in batches of ScanBatch keys. Deleting only after
// the walk keeps the cursor valid for backends that page by offset. Keys that
// expire between SCAN and DEL are not counted.
func (c *Client) DeleteMatching(ctx context.Context, pattern string) int {
	rdb := c.handle()
	if rdb == nil || ctx.Err() != nil {
		return 0
	}

	match := c.key(pattern)
	size := c.opts.ScanBatch

	// SCAN may return a key more than once.
	seen := make(map[string]struct{})
	var keys []string

	var cursor uint64
	for {
		opCtx, cancel := context.WithTimeout(ctx, c.opts.OpTimeout)
		page, next, err := rdb.Scan(opCtx, cursor, match, int64(size)).Result()
		cancel()
		if err != nil {
			c.fail(ctx, rdb, "scan", pattern, err)
			return 0
		}
		for _, k := range page {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	deleted := 0
	for start := 0; start < len(keys); start += size {
		end := min(start+size, len(keys))

		opCtx, cancel := context.WithTimeout(ctx, c.opts.OpTimeout)
		n, err := rdb.Del(opCtx, keys[start:end]...).Result()
		cancel()
		if err != nil {
			c.fail(ctx, rdb, "delete_matching", pattern, err)
			return deleted
		}
		deleted += int(n)
	}
	return deleted
}

func (c *Client) handle() *redis.Client {
	if c.State() != Connected {
		return nil
	}
	return c.rdb.Load()
}

// key builds the final Redis key with prefix.
func (c *Client) key(k string) string {
	if c.opts.Prefix == "" {
		return k
	}
	return c.opts.Prefix + ":" + k
}

// fail degrades the client after an operational error on rdb. A caller that
// went away is not a backend failure, so the state is left alone then.
func (c *Client) fail(ctx context.Context, rdb *redis.Client, op, key string, err error) {
	if ctx.Err() != nil {
		c.logger.Debug("store op abandoned by caller",
			zap.String("op", op),
			zap.String("key", key),
			zap.Error(err),
		)
		return
	}

	// Only the goroutine that unpublishes rdb flips the state, so an error
	// from a stale handle cannot take down a newer connection.
	if !c.rdb.CompareAndSwap(rdb, nil) {
		return
	}
	c.state.Store(int32(Disconnected))
	metrics.StoreConnected.Set(0)
	_ = rdb.Close()

	c.logger.Error("store failed, degrading to no-op",
		zap.String("op", op),
		zap.String("key", key),
		zap.Error(err),
	)
}
