// Package config defines the top-level configuration for the cross-venue
// arbitrage core and provides validation helpers.
package config

import (
	"fmt"
	"strings"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CROSSARB_* environment variables.
type Config struct {
	Redis     RedisConfig     `toml:"redis"`
	Postgres  PostgresConfig  `toml:"postgres"`
	S3        S3Config        `toml:"s3"`
	Scanner   ScannerConfig   `toml:"scanner"`
	Risk      RiskConfig      `toml:"risk"`
	Executor  ExecutorConfig  `toml:"executor"`
	Simulator SimulatorConfig `toml:"simulator"`
	Assembler AssemblerConfig `toml:"assembler"`
	Archiver  ArchiverConfig  `toml:"archiver"`
	Server    ServerConfig    `toml:"server"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// PostgresConfig holds PostgreSQL connection parameters for the trade store.
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

// S3Config holds S3-compatible object storage parameters for the archiver.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ScannerConfig holds scanner admission thresholds, cadences, and per-venue
// taker fees.
type ScannerConfig struct {
	// Venues are the two venues whose symbol universes are intersected.
	Venues []string `toml:"venues"`

	IntervalMs       int64 `toml:"interval_ms"`
	MaxSymbols       int   `toml:"max_symbols"`
	DiscoverEverySec int64 `toml:"discover_every_sec"`

	MinGrossBps  float64 `toml:"min_gross_bps"`
	MinNetBps    float64 `toml:"min_net_bps"`
	MinAbsSpread float64 `toml:"min_abs_spread"`
	MinNotional  float64 `toml:"min_notional"`
	MaxBookAgeMs int64   `toml:"max_book_age_ms"`

	EmitRatePerSec float64 `toml:"emit_rate_per_sec"`
	EmitBurst      float64 `toml:"emit_burst"`

	// TakerBps maps venue name to taker fee in bps, applied per leg.
	TakerBps map[string]float64 `toml:"taker_bps"`

	// SlippageFrac and BorrowFrac are optional cost fractions carried on
	// emitted opportunities (0.001 = 10 bps of notional).
	SlippageFrac float64 `toml:"slippage_frac"`
	BorrowFrac   float64 `toml:"borrow_frac"`

	// SizePerLeg is the leg size attached to emitted opportunities.
	SizePerLeg float64 `toml:"size_per_leg"`

	// Paper marks emitted opportunities as paper-mode round trips.
	Paper bool `toml:"paper"`

	// Options enables option-instrument scanning: the universe intersects on
	// canonical option ids while quotes are read under each venue's native id.
	Options bool `toml:"options"`

	// EmitStream is the primary output stream. RiskStream, when non-empty,
	// receives a second copy feeding the risk engine.
	EmitStream string `toml:"emit_stream"`
	RiskStream string `toml:"risk_stream"`
}

// RiskConfig holds the risk engine policy.
type RiskConfig struct {
	EdgeMinBps       float64 `toml:"edge_min_bps"`
	NetMinBps        float64 `toml:"net_min_bps"`
	MaxTotalSize     float64 `toml:"max_total_size"`
	RequireBothSides bool    `toml:"require_both_sides"`
	// AllowPaperOnly gates paper-mode opportunities. The flag name follows
	// the historical wiring: when false, paper-mode opportunities are
	// rejected with reason paper_mode_not_allowed.
	AllowPaperOnly bool `toml:"allow_paper_only"`
}

// ExecutorConfig holds router-executor parameters.
type ExecutorConfig struct {
	MinRealizedPnl  float64 `toml:"min_realized_pnl"`
	InflightTTLMs   int64   `toml:"inflight_ttl_ms"`
	ToggleRefreshMs int64   `toml:"toggle_refresh_ms"`
	Consumer        string  `toml:"consumer"`

	// AutoTrade and TradeMode seed the toggle store at startup when the keys
	// are not already set.
	AutoTrade bool   `toml:"auto_trade"`
	TradeMode string `toml:"trade_mode"`
}

// SimulatorConfig holds order-simulator parameters.
type SimulatorConfig struct {
	Consumer string `toml:"consumer"`
}

// AssemblerConfig holds trade-assembler parameters.
type AssemblerConfig struct {
	Consumer string `toml:"consumer"`
}

// ArchiverConfig holds trade cold-storage parameters.
type ArchiverConfig struct {
	Enabled       bool  `toml:"enabled"`
	RetentionDays int   `toml:"retention_days"`
	IntervalHours int64 `toml:"interval_hours"`
}

// ServerConfig holds ops HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "crossarb",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "crossarb-archive",
			ForcePathStyle: true,
		},
		Scanner: ScannerConfig{
			Venues:           []string{"binance", "bybit"},
			IntervalMs:       500,
			MaxSymbols:       200,
			DiscoverEverySec: 60,
			MinGrossBps:      10,
			MinNetBps:        2,
			MinAbsSpread:     0,
			MinNotional:      0,
			MaxBookAgeMs:     3000,
			EmitRatePerSec:   5,
			EmitBurst:        10,
			TakerBps: map[string]float64{
				"binance": 7.5,
				"bybit":   10,
			},
			SizePerLeg: 1,
			Paper:      true,
			EmitStream: "arb.opportunities",
			RiskStream: "scanner.to.risk",
		},
		Risk: RiskConfig{
			EdgeMinBps:       20,
			NetMinBps:        5,
			MaxTotalSize:     10,
			RequireBothSides: true,
			AllowPaperOnly:   true,
		},
		Executor: ExecutorConfig{
			MinRealizedPnl:  0,
			InflightTTLMs:   30_000,
			ToggleRefreshMs: 500,
			Consumer:        "executor-1",
			AutoTrade:       false,
			TradeMode:       "paper",
		},
		Simulator: SimulatorConfig{Consumer: "sim-1"},
		Assembler: AssemblerConfig{Consumer: "asm-1"},
		Archiver: ArchiverConfig{
			Enabled:       false,
			RetentionDays: 30,
			IntervalHours: 24,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:5173"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"scan":     true,
	"risk":     true,
	"execute":  true,
	"sim":      true,
	"assemble": true,
	"full":     true,
	"paper":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var problems []string

	if !validModes[strings.ToLower(c.Mode)] {
		problems = append(problems, fmt.Sprintf("mode %q is not recognized", c.Mode))
	}
	if c.LogLevel != "" && !validLogLevels[c.LogLevel] {
		problems = append(problems, fmt.Sprintf("log_level %q is not recognized", c.LogLevel))
	}
	if len(c.Scanner.Venues) != 2 {
		problems = append(problems, fmt.Sprintf("scanner.venues must name exactly two venues, got %d", len(c.Scanner.Venues)))
	}
	if c.Scanner.IntervalMs <= 0 {
		problems = append(problems, "scanner.interval_ms must be positive")
	}
	if c.Scanner.MaxSymbols <= 0 {
		problems = append(problems, "scanner.max_symbols must be positive")
	}
	if c.Scanner.MaxBookAgeMs <= 0 {
		problems = append(problems, "scanner.max_book_age_ms must be positive")
	}
	if c.Scanner.EmitStream == "" {
		problems = append(problems, "scanner.emit_stream must not be empty")
	}
	if c.Scanner.SizePerLeg <= 0 {
		problems = append(problems, "scanner.size_per_leg must be positive")
	}
	if c.Executor.InflightTTLMs <= 0 {
		problems = append(problems, "executor.inflight_ttl_ms must be positive")
	}
	if c.Executor.ToggleRefreshMs <= 0 || c.Executor.ToggleRefreshMs > 1000 {
		problems = append(problems, "executor.toggle_refresh_ms must be in (0, 1000]")
	}
	if c.Executor.TradeMode != "paper" && c.Executor.TradeMode != "live" {
		problems = append(problems, fmt.Sprintf("executor.trade_mode %q must be paper or live", c.Executor.TradeMode))
	}
	if c.Archiver.Enabled && c.Archiver.RetentionDays <= 0 {
		problems = append(problems, "archiver.retention_days must be positive when the archiver is enabled")
	}
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		problems = append(problems, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}
