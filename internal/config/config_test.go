package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/djinnmarket/internal/curve"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, curve.DefaultConfig(), cfg.Curve.Build())
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "djinn.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "check"
log_level = "debug"

[curve]
fee_bps_buy = 50
integration = "Trapezoid"

[trading]
lock_ttl = "10s"
`), 0o600))

	t.Setenv("DJINN_CURVE_FEE_BPS_SELL", "75")
	t.Setenv("DJINN_CURVE_CURRENCY_DECIMALS", "6")
	t.Setenv("DJINN_SERVER_CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("DJINN_TRADING_LOCK_WAIT", "750ms")
	t.Setenv("DJINN_REDIS_POOL_SIZE", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "check", cfg.Mode)
	assert.Equal(t, 50, cfg.Curve.FeeBpsBuy)
	assert.Equal(t, 75, cfg.Curve.FeeBpsSell)
	assert.Equal(t, int32(6), cfg.Curve.CurrencyDecimals)
	assert.Equal(t, curve.IntegrationTrapezoid, cfg.Curve.Build().Integration)
	assert.Equal(t, 10*time.Second, cfg.Trading.LockTTL.Duration)
	assert.Equal(t, 750*time.Millisecond, cfg.Trading.LockWait.Duration)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	// Unparseable overrides are ignored.
	assert.Equal(t, 20, cfg.Redis.PoolSize)
	// Untouched curve constants keep their defaults.
	assert.Equal(t, curve.DefaultConfig().PMax, cfg.Curve.PMax)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.LogLevel = "loud"
	cfg.Curve.PMax = cfg.Curve.PBridgeEnd / 2
	cfg.Redis.Addr = ""
	cfg.Trading.LockTTL = duration{}

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `unknown mode "trade"`)
	assert.Contains(t, msg, `unknown log_level "loud"`)
	assert.Contains(t, msg, "curve: ")
	assert.Contains(t, msg, "p_max")
	assert.Contains(t, msg, "redis: addr")
	assert.Contains(t, msg, "trading: lock_ttl")
}

func TestValidateCheckModeSkipsStorage(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "check"
	cfg.Postgres = PostgresConfig{}
	cfg.Redis = RedisConfig{}
	assert.NoError(t, cfg.Validate())

	cfg.Mode = "server"
	assert.Error(t, cfg.Validate())
}

func TestValidateArchiveNeedsBucket(t *testing.T) {
	cfg := Defaults()
	cfg.Archive.Enabled = true
	cfg.S3.Bucket = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3: bucket")
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pw"
	cfg.S3.SecretKey = "secret"
	cfg.Server.APIKey = "key"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.S3.SecretKey)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Empty(t, out.Server.AdminKey)
	assert.Equal(t, "pw", cfg.Postgres.Password)

	out.Server.CORSOrigins[0] = "mutated"
	assert.NotEqual(t, "mutated", cfg.Server.CORSOrigins[0])
}
