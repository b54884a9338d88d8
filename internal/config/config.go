// Package config defines the top-level configuration for the updown bot
// and provides validation helpers.
package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by UPDOWN_* environment variables.
type Config struct {
	Wallet   WalletConfig   `toml:"wallet"`
	Chain    ChainConfig    `toml:"chain"`
	Bot      BotConfig      `toml:"bot"`
	Paper    PaperConfig    `toml:"paper"`
	State    StateConfig    `toml:"state"`
	Supabase SupabaseConfig `toml:"supabase"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Influx   InfluxConfig   `toml:"influx"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Archive  ArchiveConfig  `toml:"archive"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// WalletConfig holds the trading key.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ChainConfig holds RPC and contract parameters.
type ChainConfig struct {
	Name          string   `toml:"name"`
	RPCURL        string   `toml:"rpc_url"`
	Factory       string   `toml:"factory"`
	Router        string   `toml:"router"`
	PoolFee       int      `toml:"pool_fee"`
	FallbackPrice float64  `toml:"fallback_price"`
	TxDeadline    duration `toml:"tx_deadline"`
	ReceiptPoll   duration `toml:"receipt_poll"`
	GasHeadroomPc int      `toml:"gas_headroom_pct"`
}

// BotConfig holds the initial switcher parameters plus process-level knobs.
// A config row persisted at runtime overrides the parameters on restart.
type BotConfig struct {
	Instance       string   `toml:"instance"`
	AutoStart      bool     `toml:"auto_start"`
	CallTimeout    duration `toml:"call_timeout"`
	SwapTimeout    duration `toml:"swap_timeout"`
	PollIntervalMs int64    `toml:"poll_interval_ms"`
	TradePct       float64  `toml:"trade_pct"`
	MinTradeUSD    float64  `toml:"min_trade_usd"`
	SlippageBps    int64    `toml:"slippage_bps"`
	BreakBufferBps int64    `toml:"break_buffer_bps"`
	CooldownSec    int64    `toml:"cooldown_sec"`
	SafeMode       bool     `toml:"safe_mode"`
	StabilityPct   float64  `toml:"stability_pct"`
}

// PaperConfig holds the simulated starting balances used in safe mode.
type PaperConfig struct {
	StartingStable   float64 `toml:"starting_stable"`
	StartingVolatile float64 `toml:"starting_volatile"`
}

// StateConfig selects where BotState is persisted.
type StateConfig struct {
	// Backend is one of "postgres", "redis" or "memory".
	Backend string `toml:"backend"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
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

// RedisConfig holds Redis connection parameters. Redis is optional unless
// it is the state backend.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	URL        string   `toml:"url"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	PriceTTL   duration `toml:"price_ttl"`
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

// InfluxConfig holds time-series sink parameters. An empty URL disables it.
type InfluxConfig struct {
	URL    string `toml:"url"`
	Token  string `toml:"token"`
	Org    string `toml:"org"`
	Bucket string `toml:"bucket"`
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

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimit is requests per RateWindow per client IP. It needs Redis.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	WebhookURL        string   `toml:"webhook_url"`
	WebhookSecret     string   `toml:"webhook_secret"`
	Events            []string `toml:"events"`
}

// ArchiveConfig controls moving old outcomes to S3.
type ArchiveConfig struct {
	RetentionDays int    `toml:"retention_days"`
	Prefix        string `toml:"prefix"`
	// Interval runs the archiver periodically in run mode; zero disables it.
	Interval duration `toml:"interval"`
}

// Params returns the switcher parameters held in the bot and chain sections.
func (c *Config) Params() domain.BotConfig {
	return domain.BotConfig{
		Chain:          c.Chain.Name,
		PollIntervalMs: c.Bot.PollIntervalMs,
		TradePct:       c.Bot.TradePct,
		MinTradeUSD:    c.Bot.MinTradeUSD,
		SlippageBps:    c.Bot.SlippageBps,
		BreakBufferBps: c.Bot.BreakBufferBps,
		CooldownSec:    c.Bot.CooldownSec,
		SafeMode:       c.Bot.SafeMode,
		StabilityPct:   c.Bot.StabilityPct,
	}
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	params := domain.DefaultBotConfig()
	return Config{
		Chain: ChainConfig{
			Name:          params.Chain,
			Factory:       "0x33128a8fC17869897dcE68Ed026d694621f6FDfD",
			Router:        "0x2626664c2603336E57B271c5C0b26F421741e481",
			PoolFee:       500,
			FallbackPrice: 3500,
			TxDeadline:    duration{5 * time.Minute},
			ReceiptPoll:   duration{2 * time.Second},
			GasHeadroomPc: 20,
		},
		Bot: BotConfig{
			Instance:       "default",
			CallTimeout:    duration{10 * time.Second},
			SwapTimeout:    duration{2 * time.Minute},
			PollIntervalMs: params.PollIntervalMs,
			TradePct:       params.TradePct,
			MinTradeUSD:    params.MinTradeUSD,
			SlippageBps:    params.SlippageBps,
			BreakBufferBps: params.BreakBufferBps,
			CooldownSec:    params.CooldownSec,
			SafeMode:       params.SafeMode,
			StabilityPct:   params.StabilityPct,
		},
		Paper: PaperConfig{
			StartingStable: 1000,
		},
		State: StateConfig{
			Backend: "postgres",
		},
		Supabase: SupabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
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
			PriceTTL:   duration{time.Minute},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "updownbot-data",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"trade", "trade_failed", "oracle_fallback", "lifecycle"},
		},
		Archive: ArchiveConfig{
			RetentionDays: 30,
			Prefix:        "archive",
		},
		Mode:     "run",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"run":      true,
	"simulate": true,
	"status":   true,
	"archive":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validBackends = map[string]bool{
	"postgres": true,
	"redis":    true,
	"memory":   true,
}

// RedisRequired reports whether Redis must be reachable.
func (c *Config) RedisRequired() bool {
	return c.Redis.Enabled || strings.EqualFold(c.State.Backend, "redis")
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found, including missing
// environment.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: run, simulate, status, archive)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	for _, fe := range c.Params().Validate() {
		errs = append(errs, "bot: "+fe.Message)
	}
	if c.Bot.Instance == "" {
		errs = append(errs, "bot: instance must not be empty")
	}
	if c.Bot.CallTimeout.Duration <= 0 {
		errs = append(errs, "bot: call_timeout must be > 0")
	}
	if c.Bot.SwapTimeout.Duration < c.Bot.CallTimeout.Duration {
		errs = append(errs, "bot: swap_timeout must be >= call_timeout")
	}

	if !finite(c.Chain.FallbackPrice) || c.Chain.FallbackPrice <= 0 {
		errs = append(errs, "chain: fallback_price must be a finite number > 0")
	}
	if c.Chain.PoolFee <= 0 {
		errs = append(errs, "chain: pool_fee must be > 0")
	}

	if !finite(c.Paper.StartingStable) || !finite(c.Paper.StartingVolatile) ||
		c.Paper.StartingStable < 0 || c.Paper.StartingVolatile < 0 {
		errs = append(errs, "paper: starting balances must be finite and >= 0")
	}

	backend := strings.ToLower(c.State.Backend)
	if !validBackends[backend] {
		errs = append(errs, fmt.Sprintf("state: unknown backend %q (valid: postgres, redis, memory)", c.State.Backend))
	}

	if backend == "postgres" || strings.EqualFold(c.Mode, "archive") {
		if strings.TrimSpace(c.Supabase.DSN) == "" {
			if c.Supabase.Host == "" {
				errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
			}
			if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
				errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
			}
			if c.Supabase.Database == "" {
				errs = append(errs, "supabase: database must not be empty")
			}
		}
		if c.Supabase.PoolMaxConns < 1 {
			errs = append(errs, "supabase: pool_max_conns must be >= 1")
		}
		if c.Supabase.PoolMinConns < 0 || c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
			errs = append(errs, "supabase: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	if c.RedisRequired() {
		if c.Redis.URL == "" && c.Redis.Addr == "" {
			errs = append(errs, "redis: url or addr must be set")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if strings.EqualFold(c.Mode, "archive") || c.Archive.Interval.Duration > 0 {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && !c.RedisRequired() {
			errs = append(errs, "server: rate_limit requires redis")
		}
	}

	if c.Influx.URL != "" && (c.Influx.Org == "" || c.Influx.Bucket == "") {
		errs = append(errs, "influx: org and bucket are required when url is set")
	}

	var errList []error
	if len(errs) > 0 {
		errList = append(errList, fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - ")))
	}
	if err := c.ValidateEnvironment(); err != nil {
		errList = append(errList, err)
	}
	return errors.Join(errList...)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// ValidateEnvironment reports the key and RPC settings the selected mode
// needs. The result wraps domain.ErrMissingEnvironment.
func (c *Config) ValidateEnvironment() error {
	mode := strings.ToLower(c.Mode)
	if mode != "run" && mode != "simulate" {
		return nil
	}

	var missing []string
	if strings.TrimSpace(c.Chain.RPCURL) == "" {
		missing = append(missing, "chain.rpc_url (RPC_URL)")
	}
	if mode == "run" {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			missing = append(missing, "wallet.private_key or wallet.encrypted_key_path (PRIVATE_KEY)")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.PrivateKey == "" && c.Wallet.KeyPassword == "" {
			missing = append(missing, "wallet.key_password")
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", domain.ErrMissingEnvironment, strings.Join(missing, ", "))
}
