package catalog

import "time"

// Options configures the PostgreSQL pool and startup retries.
type Options struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// ConnectAttempts bounds the startup ping retries.
	ConnectAttempts int
	BaseBackoff     time.Duration
}

type Option func(*Options)

// WithDSN sets the lib/pq connection string.
func WithDSN(dsn string) Option {
	return func(o *Options) {
		if dsn != "" {
			o.DSN = dsn
		}
	}
}

func WithMaxOpenConns(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxOpenConns = n
		}
	}
}

func WithMaxIdleConns(n int) Option {
	return func(o *Options) {
		if n >= 0 {
			o.MaxIdleConns = n
		}
	}
}

func WithConnMaxLifetime(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.ConnMaxLifetime = d
		}
	}
}

// WithConnectRetry retries the startup ping up to attempts times with
// jittered exponential backoff starting at base.
func WithConnectRetry(attempts int, base time.Duration) Option {
	return func(o *Options) {
		if attempts > 0 {
			o.ConnectAttempts = attempts
		}
		if base > 0 {
			o.BaseBackoff = base
		}
	}
}

func defaultOptions() Options {
	return Options{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnectAttempts: 5,
		BaseBackoff:     200 * time.Millisecond,
	}
}
