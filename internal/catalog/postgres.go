package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

var ErrMissingDSN = errors.New("catalog: DSN is required")

// Open connects to PostgreSQL, applies pool settings and pings until the
// database answers or the retry budget is spent.
func Open(ctx context.Context, logger *zap.Logger, opts ...Option) (*sql.DB, error) {
	cfg := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.DSN == "" {
		return nil, ErrMissingDSN
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("catalog: open: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns >= 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := pingWithRetry(ctx, db, cfg, logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("catalog: ping: %w", err)
	}
	return db, nil
}

// pinger is the part of *sql.DB pingWithRetry needs.
type pinger interface {
	PingContext(ctx context.Context) error
}

func pingWithRetry(ctx context.Context, db pinger, cfg Options, logger *zap.Logger) error {
	attempts := cfg.ConnectAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = db.PingContext(ctx)
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) {
			return lastErr
		}
		if attempt == attempts-1 {
			break
		}

		backoff := computeBackoff(cfg.BaseBackoff, attempt)
		logger.Warn("postgres not ready, retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", attempts),
			zap.Duration("backoff", backoff),
			zap.Error(lastErr),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", attempts, lastErr)
}

// isTransient reports whether a connect error may clear up on its own:
// network failures and the server still starting up.
func isTransient(err error) bool {
	if err == nil {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// 57P03 cannot_connect_now: the server is starting or recovering.
		return pqErr.Code == "57P03"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"no such host",
		"the database system is starting up",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// computeBackoff returns a full-jitter exponential backoff: a random
// duration in [0, base*2^attempt), capped at 30s.
func computeBackoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	const maxExponent = 10
	if attempt > maxExponent {
		attempt = maxExponent
	}

	ceiling := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	const maxAllowed = 30 * time.Second
	if ceiling > maxAllowed {
		ceiling = maxAllowed
	}
	return time.Duration(rand.Float64() * float64(ceiling))
}
