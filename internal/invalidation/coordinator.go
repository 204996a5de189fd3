// Package invalidation turns committed domain writes into cache deletions.
package invalidation

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"catalog-cache/internal/cache"
	"catalog-cache/internal/metrics"
	"catalog-cache/pkg/logging/logging"
)

// Options configures a Coordinator.
type Options struct {
	Policy      Policy
	Concurrency int // targets deleted in parallel (default: 4)
}

// Report summarizes one Invalidate call. Deleted is informational.
type Report struct {
	Targets int
	Deleted int
	Failed  int
}

// Coordinator deletes the cache targets of domain events.
type Coordinator struct {
	store  cache.Store
	opts   Options
	logger *zap.Logger
}

func New(store cache.Store, opts Options, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Coordinator{
		store:  store,
		opts:   opts,
		logger: logger.Named("invalidation"),
	}
}

// Plan exposes the coordinator's policy.
func (c *Coordinator) Plan(events ...Event) []Target {
	return c.opts.Policy.Plan(events...)
}

// Invalidate deletes every target of events concurrently. Failures are
// logged and counted, never returned.
func (c *Coordinator) Invalidate(ctx context.Context, events ...Event) Report {
	targets := c.Plan(events...)
	if len(targets) == 0 {
		return Report{}
	}

	start := time.Now()
	logger := logging.Or(ctx, c.logger)

	var deleted, failed atomic.Int64
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.SetLimit(c.opts.Concurrency)

	for _, t := range targets {
		g.Go(func() error {
			n, ok := c.apply(gctx, t)
			deleted.Add(int64(n))
			metrics.InvalidatedKeysTotal.Add(float64(n))

			if ok {
				metrics.InvalidationTargetsTotal.WithLabelValues(t.kind(), "ok").Inc()
				return nil
			}
			failed.Add(1)
			metrics.InvalidationTargetsTotal.WithLabelValues(t.kind(), "fail").Inc()
			logger.Warn("invalidation_target_failed",
				zap.String("target", t.Key),
				zap.String("kind", t.kind()),
			)
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{
		Targets: len(targets),
		Deleted: int(deleted.Load()),
		Failed:  int(failed.Load()),
	}

	names := make([]string, len(events))
	for i, ev := range events {
		names[i] = ev.Name()
	}
	logger.Info("invalidation",
		zap.Strings("events", names),
		zap.Int("targets", rep.Targets),
		zap.Int("deleted", rep.Deleted),
		zap.Int("failed", rep.Failed),
		zap.Duration("latency", time.Since(start)),
	)
	return rep
}

func (c *Coordinator) apply(ctx context.Context, t Target) (int, bool) {
	if !t.Pattern {
		if !c.store.Delete(ctx, t.Key) {
			return 0, false
		}
		return 1, true
	}
	n := c.store.DeleteMatching(ctx, t.Key)
	return n, cache.StateOf(c.store) == cache.Connected
}
