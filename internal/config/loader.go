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
// built-in defaults, applies UPDOWN_* environment variable overrides, and
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

// applyEnvOverrides reads well-known environment variables and overwrites the
// corresponding Config fields when a variable is set (i.e. not empty). The
// bare names (PRIVATE_KEY, TRADE_PCT, ...) are accepted for compatibility
// and lose to their UPDOWN_* counterparts.
func applyEnvOverrides(cfg *Config) {
	// ── Compatibility aliases ──
	setStr(&cfg.Wallet.PrivateKey, "PRIVATE_KEY")
	setStr(&cfg.Chain.RPCURL, "RPC_URL")
	setStr(&cfg.Chain.Name, "CHAIN")
	setFloat64(&cfg.Bot.TradePct, "TRADE_PCT")
	setFloat64(&cfg.Bot.MinTradeUSD, "MIN_TRADE_USD")
	setInt64(&cfg.Bot.SlippageBps, "SLIPPAGE_BPS")
	setInt64(&cfg.Bot.BreakBufferBps, "BREAK_BUFFER_BPS")
	setInt64(&cfg.Bot.CooldownSec, "COOLDOWN_SEC")
	setInt64(&cfg.Bot.PollIntervalMs, "POLL_INTERVAL_MS")
	setBool(&cfg.Bot.SafeMode, "SAFE_MODE")
	setStr(&cfg.Supabase.DSN, "DATABASE_URL")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "UPDOWN_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "UPDOWN_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "UPDOWN_WALLET_KEY_PASSWORD")

	// ── Chain ──
	setStr(&cfg.Chain.Name, "UPDOWN_CHAIN_NAME")
	setStr(&cfg.Chain.RPCURL, "UPDOWN_CHAIN_RPC_URL")
	setStr(&cfg.Chain.Factory, "UPDOWN_CHAIN_FACTORY")
	setStr(&cfg.Chain.Router, "UPDOWN_CHAIN_ROUTER")
	setInt(&cfg.Chain.PoolFee, "UPDOWN_CHAIN_POOL_FEE")
	setFloat64(&cfg.Chain.FallbackPrice, "UPDOWN_CHAIN_FALLBACK_PRICE")
	setDuration(&cfg.Chain.TxDeadline, "UPDOWN_CHAIN_TX_DEADLINE")
	setDuration(&cfg.Chain.ReceiptPoll, "UPDOWN_CHAIN_RECEIPT_POLL")

	// ── Bot ──
	setStr(&cfg.Bot.Instance, "UPDOWN_BOT_INSTANCE")
	setBool(&cfg.Bot.AutoStart, "UPDOWN_BOT_AUTO_START")
	setDuration(&cfg.Bot.CallTimeout, "UPDOWN_BOT_CALL_TIMEOUT")
	setDuration(&cfg.Bot.SwapTimeout, "UPDOWN_BOT_SWAP_TIMEOUT")
	setInt64(&cfg.Bot.PollIntervalMs, "UPDOWN_BOT_POLL_INTERVAL_MS")
	setFloat64(&cfg.Bot.TradePct, "UPDOWN_BOT_TRADE_PCT")
	setFloat64(&cfg.Bot.MinTradeUSD, "UPDOWN_BOT_MIN_TRADE_USD")
	setInt64(&cfg.Bot.SlippageBps, "UPDOWN_BOT_SLIPPAGE_BPS")
	setInt64(&cfg.Bot.BreakBufferBps, "UPDOWN_BOT_BREAK_BUFFER_BPS")
	setInt64(&cfg.Bot.CooldownSec, "UPDOWN_BOT_COOLDOWN_SEC")
	setBool(&cfg.Bot.SafeMode, "UPDOWN_BOT_SAFE_MODE")
	setFloat64(&cfg.Bot.StabilityPct, "UPDOWN_BOT_STABILITY_PCT")

	// ── Paper ──
	setFloat64(&cfg.Paper.StartingStable, "UPDOWN_PAPER_STARTING_STABLE")
	setFloat64(&cfg.Paper.StartingVolatile, "UPDOWN_PAPER_STARTING_VOLATILE")

	// ── State ──
	setStr(&cfg.State.Backend, "UPDOWN_STATE_BACKEND")

	// ── Supabase ──
	setStr(&cfg.Supabase.DSN, "UPDOWN_SUPABASE_DSN")
	setStr(&cfg.Supabase.Host, "UPDOWN_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "UPDOWN_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "UPDOWN_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "UPDOWN_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "UPDOWN_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "UPDOWN_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "UPDOWN_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "UPDOWN_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "UPDOWN_SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "UPDOWN_REDIS_ENABLED")
	setStr(&cfg.Redis.URL, "UPDOWN_REDIS_URL")
	setStr(&cfg.Redis.Addr, "UPDOWN_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "UPDOWN_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "UPDOWN_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "UPDOWN_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "UPDOWN_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "UPDOWN_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.PriceTTL, "UPDOWN_REDIS_PRICE_TTL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "UPDOWN_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "UPDOWN_S3_REGION")
	setStr(&cfg.S3.Bucket, "UPDOWN_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "UPDOWN_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "UPDOWN_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "UPDOWN_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "UPDOWN_S3_FORCE_PATH_STYLE")

	// ── Influx ──
	setStr(&cfg.Influx.URL, "UPDOWN_INFLUX_URL")
	setStr(&cfg.Influx.Token, "UPDOWN_INFLUX_TOKEN")
	setStr(&cfg.Influx.Org, "UPDOWN_INFLUX_ORG")
	setStr(&cfg.Influx.Bucket, "UPDOWN_INFLUX_BUCKET")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "UPDOWN_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "UPDOWN_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "UPDOWN_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "UPDOWN_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "UPDOWN_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "UPDOWN_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "UPDOWN_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "UPDOWN_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "UPDOWN_NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.WebhookURL, "UPDOWN_NOTIFY_WEBHOOK_URL")
	setStr(&cfg.Notify.WebhookSecret, "UPDOWN_NOTIFY_WEBHOOK_SECRET")
	setStringSlice(&cfg.Notify.Events, "UPDOWN_NOTIFY_EVENTS")

	// ── Archive ──
	setInt(&cfg.Archive.RetentionDays, "UPDOWN_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Prefix, "UPDOWN_ARCHIVE_PREFIX")
	setDuration(&cfg.Archive.Interval, "UPDOWN_ARCHIVE_INTERVAL")

	// ── Top-level ──
	setStr(&cfg.Mode, "UPDOWN_MODE")
	setStr(&cfg.LogLevel, "UPDOWN_LOG_LEVEL")
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
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "on", "yes":
			*dst = true
		case "off", "no":
			*dst = false
		default:
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
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
