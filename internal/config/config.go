// Package config defines the top-level configuration for the djinn market
// daemon and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/djinnmarket/internal/curve"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by DJINN_* environment variables.
type Config struct {
	Curve    CurveConfig    `toml:"curve"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Trading  TradingConfig  `toml:"trading"`
	Archive  ArchiveConfig  `toml:"archive"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// CurveConfig holds the calibrated bonding-curve constants. They are fixed for
// the life of the process.
type CurveConfig struct {
	VirtualOffset       float64 `toml:"virtual_offset"`
	Phase1End           float64 `toml:"phase1_end"`
	Phase2End           float64 `toml:"phase2_end"`
	PStart              float64 `toml:"p_start"`
	PMid                float64 `toml:"p_mid"`
	PBridgeEnd          float64 `toml:"p_bridge_end"`
	PMax                float64 `toml:"p_max"`
	SigmoidK            float64 `toml:"sigmoid_k"`
	TotalSupplyCap      float64 `toml:"total_supply_cap"`
	FeeBpsBuy           int     `toml:"fee_bps_buy"`
	FeeBpsSell          int     `toml:"fee_bps_sell"`
	CreatorFeeShareBps  int     `toml:"creator_fee_share_bps"`
	CurrencyDecimals    int32   `toml:"currency_decimals"`
	Integration         string  `toml:"integration"`
	SolverTolerance     float64 `toml:"solver_tolerance"`
	SolverMaxIterations int     `toml:"solver_max_iterations"`
}

// Build converts the TOML table into the curve package's Config.
func (c CurveConfig) Build() curve.Config {
	return curve.Config{
		VirtualOffset:       c.VirtualOffset,
		Phase1End:           c.Phase1End,
		Phase2End:           c.Phase2End,
		PStart:              c.PStart,
		PMid:                c.PMid,
		PBridgeEnd:          c.PBridgeEnd,
		PMax:                c.PMax,
		SigmoidK:            c.SigmoidK,
		TotalSupplyCap:      c.TotalSupplyCap,
		FeeBpsBuy:           c.FeeBpsBuy,
		FeeBpsSell:          c.FeeBpsSell,
		CreatorFeeShareBps:  c.CreatorFeeShareBps,
		CurrencyDecimals:    c.CurrencyDecimals,
		Integration:         curve.Integration(strings.ToLower(c.Integration)),
		SolverTolerance:     c.SolverTolerance,
		SolverMaxIterations: c.SolverMaxIterations,
	}
}

func curveDefaults() CurveConfig {
	d := curve.DefaultConfig()
	return CurveConfig{
		VirtualOffset:       d.VirtualOffset,
		Phase1End:           d.Phase1End,
		Phase2End:           d.Phase2End,
		PStart:              d.PStart,
		PMid:                d.PMid,
		PBridgeEnd:          d.PBridgeEnd,
		PMax:                d.PMax,
		SigmoidK:            d.SigmoidK,
		TotalSupplyCap:      d.TotalSupplyCap,
		FeeBpsBuy:           d.FeeBpsBuy,
		FeeBpsSell:          d.FeeBpsSell,
		CreatorFeeShareBps:  d.CreatorFeeShareBps,
		CurrencyDecimals:    d.CurrencyDecimals,
		Integration:         string(d.Integration),
		SolverTolerance:     d.SolverTolerance,
		SolverMaxIterations: d.SolverMaxIterations,
	}
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	Namespace  string `toml:"namespace"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey guards every mutating endpoint. Empty disables auth.
	APIKey string `toml:"api_key"`
	// AdminKey additionally guards market resolution and the audit trail.
	AdminKey     string   `toml:"admin_key"`
	ReadTimeout  duration `toml:"read_timeout"`
	WriteTimeout duration `toml:"write_timeout"`
	// RequestLimit caps requests per client IP per RequestWindow. Zero
	// disables the limit.
	RequestLimit  int      `toml:"request_limit"`
	RequestWindow duration `toml:"request_window"`
}

// TradingConfig holds trade serialisation and throttling parameters.
type TradingConfig struct {
	// LockTTL bounds how long one trade may hold an outcome lock.
	LockTTL duration `toml:"lock_ttl"`
	// LockWait is how long a trade waits for a busy outcome before failing.
	LockWait duration `toml:"lock_wait"`
	// RateLimit is the number of trades a wallet may submit per RateWindow.
	RateLimit    int      `toml:"rate_limit"`
	RateWindow   duration `toml:"rate_window"`
	StreamMaxLen int64    `toml:"stream_max_len"`
	// PriceTTL is how old a cached spot price may be before snapshots fall
	// back to the curve.
	PriceTTL duration `toml:"price_ttl"`
}

// ArchiveConfig holds trade archival parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Curve: curveDefaults(),
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "djinn",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			Namespace:  "djinn:",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "djinn-archive",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:          8000,
			CORSOrigins:   []string{"http://localhost:3000", "http://localhost:5173"},
			ReadTimeout:   duration{15 * time.Second},
			WriteTimeout:  duration{15 * time.Second},
			RequestLimit:  600,
			RequestWindow: duration{time.Minute},
		},
		Trading: TradingConfig{
			LockTTL:      duration{5 * time.Second},
			LockWait:     duration{2 * time.Second},
			RateLimit:    30,
			RateWindow:   duration{time.Minute},
			StreamMaxLen: 100_000,
			PriceTTL:     duration{time.Minute},
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"check":   true,
	"migrate": true,
	"archive": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// NeedsStorage reports whether the configured mode talks to Postgres and
// Redis. "check" only validates configuration and the curve.
func (c *Config) NeedsStorage() bool {
	return strings.ToLower(c.Mode) != "check"
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, check, migrate, archive)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Curve constants are validated by the curve package itself; shape
	// checks run again when the curve is built.
	if err := c.Curve.Build().Validate(); err != nil {
		errs = append(errs, "curve: "+strings.ReplaceAll(err.Error(), "\n  - ", "; "))
	}

	if c.NeedsStorage() {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}

		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.Archive.Enabled || strings.ToLower(c.Mode) == "archive" {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	if c.Server.RequestLimit < 0 {
		errs = append(errs, "server: request_limit must be >= 0")
	}
	if c.Server.RequestLimit > 0 && c.Server.RequestWindow.Duration <= 0 {
		errs = append(errs, "server: request_window must be > 0 when request_limit is set")
	}

	if c.Trading.LockTTL.Duration <= 0 {
		errs = append(errs, "trading: lock_ttl must be > 0")
	}
	if c.Trading.LockWait.Duration < 0 {
		errs = append(errs, "trading: lock_wait must be >= 0")
	}
	if c.Trading.RateLimit < 0 {
		errs = append(errs, "trading: rate_limit must be >= 0")
	}
	if c.Trading.RateLimit > 0 && c.Trading.RateWindow.Duration <= 0 {
		errs = append(errs, "trading: rate_window must be > 0 when rate_limit is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
