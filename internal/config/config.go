package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port            string        `mapstructure:"PORT"`
	RequestTimeout  time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`

	// --- Redis ---
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	// --- Cache ---
	CachePrefix       string        `mapstructure:"CACHE_PREFIX"`
	CacheOpTimeout    time.Duration `mapstructure:"CACHE_OP_TIMEOUT"`
	CacheScanBatch    int           `mapstructure:"CACHE_SCAN_BATCH"`
	CacheWriteQueue   int           `mapstructure:"CACHE_WRITE_QUEUE"`
	CacheWriteWorkers int           `mapstructure:"CACHE_WRITE_WORKERS"`

	// ReviewCascade is "significant" or "always".
	ReviewCascade           string `mapstructure:"REVIEW_CASCADE"`
	InvalidationConcurrency int    `mapstructure:"INVALIDATION_CONCURRENCY"`

	// TTLOverrides maps family names to TTLs set via CACHE_TTL_<FAMILY>.
	TTLOverrides map[string]time.Duration `mapstructure:"-"`

	// --- Postgres ---
	DatabaseURL       string `mapstructure:"DATABASE_URL"`
	DBMaxOpenConns    int    `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBConnectAttempts int    `mapstructure:"DB_CONNECT_ATTEMPTS"`
}

var defaults = map[string]any{
	"PORT":                     "8080",
	"REQUEST_TIMEOUT":          "10s",
	"SHUTDOWN_TIMEOUT":         "15s",
	"REDIS_ADDR":               "localhost:6379",
	"REDIS_PASSWORD":           "",
	"REDIS_DB":                 0,
	"CACHE_PREFIX":             "app",
	"CACHE_OP_TIMEOUT":         "250ms",
	"CACHE_SCAN_BATCH":         100,
	"CACHE_WRITE_QUEUE":        256,
	"CACHE_WRITE_WORKERS":      4,
	"REVIEW_CASCADE":           "significant",
	"INVALIDATION_CONCURRENCY": 4,
	"DATABASE_URL":             "",
	"DB_MAX_OPEN_CONNS":        10,
	"DB_CONNECT_ATTEMPTS":      5,
}

// Load reads configuration from the environment, loading .env first when
// one exists. families lists the cache family names that accept a
// CACHE_TTL_<FAMILY> override.
func Load(families ...string) (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	v := viper.New()
	v.AutomaticEnv()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	cfg.TTLOverrides = make(map[string]time.Duration)
	for _, name := range families {
		key := TTLKey(name)
		_ = v.BindEnv(key)
		if !v.IsSet(key) {
			continue
		}
		d, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		cfg.TTLOverrides[name] = d
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// TTLKey is the environment key overriding the TTL of family.
func TTLKey(family string) string {
	return "CACHE_TTL_" + strings.ToUpper(family)
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("PORT is required"))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.CacheOpTimeout <= 0 {
		errs = append(errs, errors.New("CACHE_OP_TIMEOUT must be positive"))
	}
	if c.CacheScanBatch <= 0 {
		errs = append(errs, errors.New("CACHE_SCAN_BATCH must be positive"))
	}
	switch c.ReviewCascade {
	case "significant", "always":
	default:
		errs = append(errs, fmt.Errorf("REVIEW_CASCADE must be significant or always, got %q", c.ReviewCascade))
	}
	for name, d := range c.TTLOverrides {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", TTLKey(name)))
		}
	}
	return errors.Join(errs...)
}

// String renders the config with secrets masked.
func (c *Config) String() string {
	var sb strings.Builder
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "  Port: %s\n", c.Port)
	fmt.Fprintf(&sb, "  RedisAddr: %s\n", c.RedisAddr)
	fmt.Fprintf(&sb, "  RedisDB: %d\n", c.RedisDB)
	sb.WriteString("  RedisPassword: " + mask(c.RedisPassword) + "\n")
	fmt.Fprintf(&sb, "  CachePrefix: %s\n", c.CachePrefix)
	fmt.Fprintf(&sb, "  CacheOpTimeout: %s\n", c.CacheOpTimeout)
	fmt.Fprintf(&sb, "  ReviewCascade: %s\n", c.ReviewCascade)
	for name, d := range c.TTLOverrides {
		fmt.Fprintf(&sb, "  %s: %s\n", TTLKey(name), d)
	}
	sb.WriteString("  DatabaseURL: " + mask(c.DatabaseURL) + "\n")
	return sb.String()
}

func mask(s string) string {
	if s == "" {
		return "(empty)"
	}
	return "********"
}
