package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies DJINN_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known DJINN_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Curve ──
	setFloat64(&cfg.Curve.VirtualOffset, "DJINN_CURVE_VIRTUAL_OFFSET")
	setFloat64(&cfg.Curve.Phase1End, "DJINN_CURVE_PHASE1_END")
	setFloat64(&cfg.Curve.Phase2End, "DJINN_CURVE_PHASE2_END")
	setFloat64(&cfg.Curve.PStart, "DJINN_CURVE_P_START")
	setFloat64(&cfg.Curve.PMid, "DJINN_CURVE_P_MID")
	setFloat64(&cfg.Curve.PBridgeEnd, "DJINN_CURVE_P_BRIDGE_END")
	setFloat64(&cfg.Curve.PMax, "DJINN_CURVE_P_MAX")
	setFloat64(&cfg.Curve.SigmoidK, "DJINN_CURVE_SIGMOID_K")
	setFloat64(&cfg.Curve.TotalSupplyCap, "DJINN_CURVE_TOTAL_SUPPLY_CAP")
	setInt(&cfg.Curve.FeeBpsBuy, "DJINN_CURVE_FEE_BPS_BUY")
	setInt(&cfg.Curve.FeeBpsSell, "DJINN_CURVE_FEE_BPS_SELL")
	setInt(&cfg.Curve.CreatorFeeShareBps, "DJINN_CURVE_CREATOR_FEE_SHARE_BPS")
	setInt32(&cfg.Curve.CurrencyDecimals, "DJINN_CURVE_CURRENCY_DECIMALS")
	setStr(&cfg.Curve.Integration, "DJINN_CURVE_INTEGRATION")
	setFloat64(&cfg.Curve.SolverTolerance, "DJINN_CURVE_SOLVER_TOLERANCE")
	setInt(&cfg.Curve.SolverMaxIterations, "DJINN_CURVE_SOLVER_MAX_ITERATIONS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DJINN_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "DJINN_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "DJINN_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "DJINN_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "DJINN_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "DJINN_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "DJINN_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "DJINN_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "DJINN_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "DJINN_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "DJINN_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DJINN_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DJINN_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DJINN_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "DJINN_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "DJINN_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Namespace, "DJINN_REDIS_NAMESPACE")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "DJINN_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "DJINN_S3_REGION")
	setStr(&cfg.S3.Bucket, "DJINN_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "DJINN_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "DJINN_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "DJINN_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "DJINN_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setInt(&cfg.Server.Port, "DJINN_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "DJINN_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "DJINN_SERVER_API_KEY")
	setStr(&cfg.Server.AdminKey, "DJINN_SERVER_ADMIN_KEY")
	setDuration(&cfg.Server.ReadTimeout, "DJINN_SERVER_READ_TIMEOUT")
	setDuration(&cfg.Server.WriteTimeout, "DJINN_SERVER_WRITE_TIMEOUT")
	setInt(&cfg.Server.RequestLimit, "DJINN_SERVER_REQUEST_LIMIT")
	setDuration(&cfg.Server.RequestWindow, "DJINN_SERVER_REQUEST_WINDOW")

	// ── Trading ──
	setDuration(&cfg.Trading.LockTTL, "DJINN_TRADING_LOCK_TTL")
	setDuration(&cfg.Trading.LockWait, "DJINN_TRADING_LOCK_WAIT")
	setInt(&cfg.Trading.RateLimit, "DJINN_TRADING_RATE_LIMIT")
	setDuration(&cfg.Trading.RateWindow, "DJINN_TRADING_RATE_WINDOW")
	setInt64(&cfg.Trading.StreamMaxLen, "DJINN_TRADING_STREAM_MAX_LEN")
	setDuration(&cfg.Trading.PriceTTL, "DJINN_TRADING_PRICE_TTL")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "DJINN_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "DJINN_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "DJINN_ARCHIVE_INTERVAL")

	// ── Top-level ──
	setStr(&cfg.Mode, "DJINN_MODE")
	setStr(&cfg.LogLevel, "DJINN_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
