package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies CROSSARB_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
//
// A missing file is not an error: defaults plus environment overrides are
// enough to run every mode against local Redis/Postgres.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known CROSSARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Redis ──
	setStr(&cfg.Redis.Addr, "CROSSARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CROSSARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CROSSARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CROSSARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CROSSARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CROSSARB_REDIS_TLS_ENABLED")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "CROSSARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "CROSSARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CROSSARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CROSSARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CROSSARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CROSSARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CROSSARB_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "CROSSARB_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CROSSARB_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "CROSSARB_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "CROSSARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CROSSARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "CROSSARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CROSSARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CROSSARB_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CROSSARB_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CROSSARB_S3_FORCE_PATH_STYLE")

	// ── Scanner ──
	setStringSlice(&cfg.Scanner.Venues, "CROSSARB_SCANNER_VENUES")
	setInt64(&cfg.Scanner.IntervalMs, "CROSSARB_SCAN_INTERVAL_MS")
	setInt(&cfg.Scanner.MaxSymbols, "CROSSARB_MAX_SYMBOLS")
	setInt64(&cfg.Scanner.DiscoverEverySec, "CROSSARB_DISCOVER_EVERY_SEC")
	setFloat64(&cfg.Scanner.MinGrossBps, "CROSSARB_MIN_GROSS_BPS")
	setFloat64(&cfg.Scanner.MinNetBps, "CROSSARB_MIN_NET_BPS")
	setFloat64(&cfg.Scanner.MinAbsSpread, "CROSSARB_MIN_ABS_SPREAD")
	setFloat64(&cfg.Scanner.MinNotional, "CROSSARB_MIN_NOTIONAL")
	setInt64(&cfg.Scanner.MaxBookAgeMs, "CROSSARB_MAX_BOOK_AGE_MS")
	setFloat64(&cfg.Scanner.EmitRatePerSec, "CROSSARB_EMIT_RATE_PER_SEC")
	setFloat64(&cfg.Scanner.EmitBurst, "CROSSARB_EMIT_BURST")
	setFloat64(&cfg.Scanner.SizePerLeg, "CROSSARB_SCANNER_SIZE_PER_LEG")
	setBool(&cfg.Scanner.Paper, "CROSSARB_SCANNER_PAPER")
	setBool(&cfg.Scanner.Options, "CROSSARB_SCANNER_OPTIONS")
	setStr(&cfg.Scanner.EmitStream, "CROSSARB_SCANNER_EMIT_STREAM")
	setStr(&cfg.Scanner.RiskStream, "CROSSARB_SCANNER_RISK_STREAM")
	// Per-venue taker fees: CROSSARB_TAKER_BPS_<VENUE>=7.5 for each venue.
	for _, venue := range cfg.Scanner.Venues {
		key := "CROSSARB_TAKER_BPS_" + strings.ToUpper(venue)
		if v := os.Getenv(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				if cfg.Scanner.TakerBps == nil {
					cfg.Scanner.TakerBps = map[string]float64{}
				}
				cfg.Scanner.TakerBps[venue] = f
			}
		}
	}

	// ── Risk ──
	setFloat64(&cfg.Risk.EdgeMinBps, "CROSSARB_RISK_EDGE_MIN_BPS")
	setFloat64(&cfg.Risk.NetMinBps, "CROSSARB_RISK_NET_MIN_BPS")
	setFloat64(&cfg.Risk.MaxTotalSize, "CROSSARB_RISK_MAX_TOTAL_SIZE")
	setBool(&cfg.Risk.RequireBothSides, "CROSSARB_RISK_REQUIRE_BOTH_SIDES")
	setBool(&cfg.Risk.AllowPaperOnly, "CROSSARB_RISK_ALLOW_PAPER_ONLY")

	// ── Executor ──
	setFloat64(&cfg.Executor.MinRealizedPnl, "CROSSARB_MIN_REALIZED_PNL")
	setInt64(&cfg.Executor.InflightTTLMs, "CROSSARB_INFLIGHT_TTL_MS")
	setInt64(&cfg.Executor.ToggleRefreshMs, "CROSSARB_TOGGLE_REFRESH_MS")
	setStr(&cfg.Executor.Consumer, "CROSSARB_EXECUTOR_CONSUMER")
	setBool(&cfg.Executor.AutoTrade, "CROSSARB_AUTO_TRADE")
	setStr(&cfg.Executor.TradeMode, "CROSSARB_MODE")

	// ── Simulator / Assembler ──
	setStr(&cfg.Simulator.Consumer, "CROSSARB_SIM_CONSUMER")
	setStr(&cfg.Assembler.Consumer, "CROSSARB_ASM_CONSUMER")

	// ── Archiver ──
	setBool(&cfg.Archiver.Enabled, "CROSSARB_ARCHIVER_ENABLED")
	setInt(&cfg.Archiver.RetentionDays, "CROSSARB_ARCHIVER_RETENTION_DAYS")
	setInt64(&cfg.Archiver.IntervalHours, "CROSSARB_ARCHIVER_INTERVAL_HOURS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "CROSSARB_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "CROSSARB_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "CROSSARB_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "CROSSARB_SERVER_API_KEY")

	// ── Top-level ──
	setStr(&cfg.Mode, "CROSSARB_RUN_MODE")
	setStr(&cfg.LogLevel, "CROSSARB_LOG_LEVEL")
}

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
