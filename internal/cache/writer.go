package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"catalog-cache/internal/metrics"
)

// WriterOptions sizes the background writer.
type WriterOptions struct {
	QueueSize int           // default: 256
	Workers   int           // default: 4
	Timeout   time.Duration // per write (default: 1s)
}

func (o WriterOptions) withDefaults() WriterOptions {
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.Timeout <= 0 {
		o.Timeout = time.Second
	}
	return o
}

type writeJob struct {
	key   string
	value []byte
	ttl   time.Duration
}

// Writer performs cache writes off the response path. Submit never blocks:
// when the queue is full or the writer is closed the write is dropped, which
// only costs a future miss. Close drains whatever is queued.
type Writer struct {
	store  Store
	opts   WriterOptions
	logger *zap.Logger

	jobs chan writeJob
	wg   sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewWriter starts the worker goroutines.
func NewWriter(store Store, opts WriterOptions, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()

	w := &Writer{
		store:  store,
		opts:   opts,
		logger: logger.Named("cache_writer"),
		jobs:   make(chan writeJob, opts.QueueSize),
	}

	w.wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go w.run()
	}
	return w
}

// Submit queues a write and reports whether it was accepted.
func (w *Writer) Submit(key string, value []byte, ttl time.Duration) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		metrics.BackgroundWritesTotal.WithLabelValues("dropped").Inc()
		return false
	}

	select {
	case w.jobs <- writeJob{key: key, value: value, ttl: ttl}:
		return true
	default:
		metrics.BackgroundWritesTotal.WithLabelValues("dropped").Inc()
		w.logger.Warn("cache write queue full, dropping write",
			zap.String("key", key),
			zap.Int("queue_size", w.opts.QueueSize),
		)
		return false
	}
}

// Pending is the number of queued writes.
func (w *Writer) Pending() int {
	return len(w.jobs)
}

// Close stops accepting writes and waits for queued ones to finish, or for
// ctx to expire.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.jobs)
	}
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		w.logger.Warn("cache writer drain timed out", zap.Int("pending", w.Pending()))
		return ctx.Err()
	}
}

func (w *Writer) run() {
	defer w.wg.Done()

	for job := range w.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), w.opts.Timeout)
		ok := w.store.Set(ctx, job.key, job.value, job.ttl)
		cancel()

		if ok {
			metrics.BackgroundWritesTotal.WithLabelValues("stored").Inc()
			continue
		}
		metrics.BackgroundWritesTotal.WithLabelValues("failed").Inc()
		w.logger.Debug("cache write not stored", zap.String("key", job.key))
	}
}
