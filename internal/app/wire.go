package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/ethclient"

	s3blob "github.com/alanyoungcy/updownbot/internal/blob/s3"
	"github.com/alanyoungcy/updownbot/internal/cache/redis"
	"github.com/alanyoungcy/updownbot/internal/chain"
	"github.com/alanyoungcy/updownbot/internal/config"
	"github.com/alanyoungcy/updownbot/internal/crypto"
	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/metrics/influx"
	"github.com/alanyoungcy/updownbot/internal/notify"
	"github.com/alanyoungcy/updownbot/internal/server/handler"
	"github.com/alanyoungcy/updownbot/internal/store/memory"
	"github.com/alanyoungcy/updownbot/internal/store/postgres"
)

// Dependencies bundles every concrete dependency the application modes need.
// It is constructed by Wire and torn down by the returned cleanup function.
// Optional parts are nil when not configured.
type Dependencies struct {
	// Stores
	StateStore   domain.StateStore
	OutcomeStore domain.OutcomeStore
	AuditStore   domain.AuditStore
	ConfigStore  domain.BotConfigStore

	// Caches
	PriceCache  domain.PriceCache
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter
	SignalBus   domain.SignalBus

	// Blob storage
	Archiver domain.Archiver

	// Chain
	Backend *ethclient.Client
	Wallet  *crypto.Wallet

	Notifier *notify.Notifier
	Metrics  *influx.Recorder

	// Checks are the health probes served on /api/health.
	Checks map[string]handler.Pinger
}

// needsChain returns true for modes that read prices or trade.
func needsChain(mode string) bool {
	return mode == "run" || mode == "simulate"
}

// needsPostgres returns true when the database backs state or the mode
// reads outcomes from it.
func needsPostgres(cfg *config.Config) bool {
	return strings.EqualFold(cfg.State.Backend, "postgres") || strings.EqualFold(cfg.Mode, "archive")
}

// needsS3 returns true when outcomes are archived.
func needsS3(cfg *config.Config) bool {
	return strings.EqualFold(cfg.Mode, "archive") || cfg.Archive.Interval.Duration > 0
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	mode := strings.ToLower(cfg.Mode)
	backend := strings.ToLower(cfg.State.Backend)
	instance := cfg.Bot.Instance

	deps := &Dependencies{Checks: map[string]handler.Pinger{}}

	// --- PostgreSQL ---
	if needsPostgres(cfg) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Supabase.DSN,
			Host:     cfg.Supabase.Host,
			Port:     cfg.Supabase.Port,
			Database: cfg.Supabase.Database,
			User:     cfg.Supabase.User,
			Password: cfg.Supabase.Password,
			SSLMode:  cfg.Supabase.SSLMode,
			MaxConns: cfg.Supabase.PoolMaxConns,
			MinConns: cfg.Supabase.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Supabase.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.OutcomeStore = postgres.NewOutcomeStore(pool, instance)
		deps.AuditStore = postgres.NewAuditStore(pool, instance)
		deps.ConfigStore = postgres.NewBotConfigStore(pool)
		if backend == "postgres" {
			deps.StateStore = postgres.NewStateStore(pool, instance)
		}
		deps.Checks["postgres"] = pgClient.Ping
	}

	// --- Redis ---
	if cfg.RedisRequired() {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			URL:        cfg.Redis.URL,
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Redis.PriceTTL.Duration)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		if backend == "redis" {
			deps.StateStore = redis.NewStateStore(redisClient, instance)
		}
		deps.Checks["redis"] = redisClient.Ping
	}

	// In-process fallbacks keep the API and the websocket hub working
	// without external stores.
	if deps.StateStore == nil {
		deps.StateStore = memory.NewStateStore()
	}
	if deps.OutcomeStore == nil {
		deps.OutcomeStore = memory.NewOutcomeStore()
	}
	if deps.AuditStore == nil {
		deps.AuditStore = memory.NewAuditStore()
	}
	if deps.ConfigStore == nil {
		deps.ConfigStore = memory.NewBotConfigStore()
	}
	if deps.SignalBus == nil {
		deps.SignalBus = memory.NewSignalBus()
	}

	// --- S3 blob storage ---
	if needsS3(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewOutcomeArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewChecker(s3Client),
			deps.OutcomeStore,
			deps.AuditStore,
			s3blob.ArchiverConfig{Instance: instance, Prefix: cfg.Archive.Prefix},
			logger,
		)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Chain ---
	if needsChain(mode) {
		chainID, ok := chain.ChainID(cfg.Chain.Name)
		if !ok {
			return fail(fmt.Errorf("wire: unsupported chain %q", cfg.Chain.Name))
		}
		client, err := chain.Dial(ctx, cfg.Chain.RPCURL, chainID)
		if err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
		closers = append(closers, client.Close)
		deps.Backend = client
		deps.Checks["rpc"] = func(ctx context.Context) error {
			_, err := client.BlockNumber(ctx)
			return err
		}

		if mode == "run" {
			key, err := crypto.LoadKey(crypto.KeyConfig{
				RawPrivateKey:    cfg.Wallet.PrivateKey,
				EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
				KeyPassword:      cfg.Wallet.KeyPassword,
			})
			if err != nil {
				return fail(fmt.Errorf("wire: wallet: %w", err))
			}
			wallet, err := crypto.NewWallet(key, chainID)
			if err != nil {
				return fail(fmt.Errorf("wire: wallet: %w", err))
			}
			deps.Wallet = wallet
		}
	}

	// --- InfluxDB ---
	if cfg.Influx.URL != "" && needsChain(mode) {
		pair := domain.BasePair()
		rec, err := influx.New(ctx, influx.Config{
			URL:    cfg.Influx.URL,
			Token:  cfg.Influx.Token,
			Org:    cfg.Influx.Org,
			Bucket: cfg.Influx.Bucket,
		}, pair.VolatileSymbol+"-"+pair.StableSymbol, instance, logger)
		if err != nil {
			// Metrics are best effort; the bot trades without them.
			logger.WarnContext(ctx, "influx disabled", slog.String("error", err.Error()))
		} else {
			closers = append(closers, rec.Close)
			deps.Metrics = rec
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if cfg.Notify.WebhookURL != "" {
		senders = append(senders, notify.NewWebhookSender(cfg.Notify.WebhookURL, cfg.Notify.WebhookSecret))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
