package cache

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"catalog-cache/internal/metrics"
	"catalog-cache/pkg/logging/logging"
)

// InstrumentedStore wraps a Store with metrics and debug logs.
type InstrumentedStore struct {
	inner Store
}

var _ Store = (*InstrumentedStore)(nil)

// NewInstrumentedStore returns a Store that records metrics for inner.
func NewInstrumentedStore(inner Store) *InstrumentedStore {
	return &InstrumentedStore{inner: inner}
}

// State reports the wrapped store's state.
func (s *InstrumentedStore) State() State { return StateOf(s.inner) }

func (s *InstrumentedStore) Get(ctx context.Context, key string) ([]byte, bool) {
	start := time.Now()
	value, ok := s.inner.Get(ctx, key)

	result := "miss"
	if ok {
		result = "ok"
	}
	s.record(ctx, "get", key, result, start)
	return value, ok
}

func (s *InstrumentedStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	start := time.Now()
	ok := s.inner.Set(ctx, key, value, ttl)
	s.record(ctx, "set", key, okOrFail(ok), start, zap.Duration("ttl", ttl), zap.Int("bytes", len(value)))
	return ok
}

func (s *InstrumentedStore) Delete(ctx context.Context, key string) bool {
	start := time.Now()
	ok := s.inner.Delete(ctx, key)
	s.record(ctx, "delete", key, okOrFail(ok), start)
	return ok
}

func (s *InstrumentedStore) DeleteMatching(ctx context.Context, pattern string) int {
	start := time.Now()
	n := s.inner.DeleteMatching(ctx, pattern)
	s.record(ctx, "delete_matching", pattern, "ok", start, zap.Int("deleted", n))
	return n
}

func (s *InstrumentedStore) record(ctx context.Context, op, key, result string, start time.Time, extra ...zap.Field) {
	// A degraded client turns every call into a no-op; count those apart
	// from real misses.
	if StateOf(s.inner) != Connected {
		result = "noop"
	}
	metrics.StoreOpsTotal.WithLabelValues(op, result).Inc()

	fields := append([]zap.Field{
		zap.String("op", op),
		zap.String("key", key),
		zap.String("domain", keyDomain(key)),
		zap.String("result", result),
		zap.Float64("latency_ms", float64(time.Since(start).Microseconds())/1000.0),
	}, extra...)
	logging.L(ctx).Debug("cache_store_op", fields...)
}

func okOrFail(ok bool) string {
	if ok {
		return "ok"
	}
	return "fail"
}

// keyDomain is the first segment of an unprefixed key: "product" for
// "product:42".
func keyDomain(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i]
	}
	return key
}
