package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/updownbot/internal/chain"
	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/notify"
	"github.com/alanyoungcy/updownbot/internal/paper"
	"github.com/alanyoungcy/updownbot/internal/server"
	"github.com/alanyoungcy/updownbot/internal/server/handler"
	"github.com/alanyoungcy/updownbot/internal/server/ws"
	"github.com/alanyoungcy/updownbot/internal/service"
	"github.com/alanyoungcy/updownbot/internal/switcher"
)

// shutdownTimeout bounds the HTTP server's graceful shutdown.
const shutdownTimeout = 5 * time.Second

// RunMode starts the switcher loop, the HTTP API with its websocket hub and,
// when configured, the periodic archiver. simulate forces safe mode so no
// transaction is ever sent.
func (a *App) RunMode(ctx context.Context, deps *Dependencies, simulate bool) error {
	if deps.Backend == nil {
		return errors.New("app: run mode requires an rpc connection")
	}

	params := a.botParams(ctx, deps)
	if simulate {
		params.SafeMode = true
	}
	a.logger.InfoContext(ctx, "starting run mode",
		slog.Bool("simulate", simulate),
		slog.Bool("safe_mode", params.SafeMode),
	)

	outcomes := a.newOutcomeService(deps)
	pair := domain.BasePair()

	oracleOpts := []chain.OracleOption{
		chain.WithSignalBus(deps.SignalBus),
		chain.WithFallbackAlert(outcomes.OracleFallback),
	}
	if deps.PriceCache != nil {
		oracleOpts = append(oracleOpts, chain.WithPriceCache(deps.PriceCache))
	}
	oracle := chain.NewOracle(deps.Backend, chain.OracleConfig{
		Factory:       common.HexToAddress(a.cfg.Chain.Factory),
		FallbackPrice: a.cfg.Chain.FallbackPrice,
		CallTimeout:   a.cfg.Bot.CallTimeout.Duration,
		Pair:          pair,
	}, a.logger, oracleOpts...)

	portfolio := paper.NewPortfolio(pair,
		decimal.NewFromFloat(a.cfg.Paper.StartingVolatile),
		decimal.NewFromFloat(a.cfg.Paper.StartingStable),
		a.logger,
	)

	engineDeps := switcher.Deps{
		Prices:    oracle,
		Paper:     switcher.Venue{Balances: portfolio, Executor: portfolio},
		PaperBook: portfolio,
		States:    deps.StateStore,
		Configs:   deps.ConfigStore,
		Locks:     deps.LockManager,
		Observer:  outcomes,
	}
	opts := switcher.Options{
		Pair:        pair,
		CallTimeout: a.cfg.Bot.CallTimeout.Duration,
		SwapTimeout: a.cfg.Bot.SwapTimeout.Duration,
		Instance:    a.cfg.Bot.Instance,
	}
	if deps.Wallet != nil {
		engineDeps.Live = switcher.Venue{
			Balances: chain.NewBalanceReader(deps.Backend, pair),
			Executor: chain.NewSwapper(deps.Backend, deps.Wallet, chain.SwapperConfig{
				Router:        common.HexToAddress(a.cfg.Chain.Router),
				PoolFee:       uint32(a.cfg.Chain.PoolFee),
				Pair:          pair,
				Deadline:      a.cfg.Chain.TxDeadline.Duration,
				ReceiptPoll:   a.cfg.Chain.ReceiptPoll.Duration,
				GasHeadroomPc: uint64(a.cfg.Chain.GasHeadroomPc),
			}, a.logger),
		}
		opts.Wallet = deps.Wallet.Address().Hex()
	}

	engine, err := switcher.New(engineDeps, params, opts, a.logger)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := engine.Load(ctx); err != nil {
		return fmt.Errorf("app: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return engine.Run(ctx)
	})

	if a.cfg.Bot.AutoStart {
		switch err := engine.Start(ctx); {
		case err == nil:
			outcomes.OnLifecycle(ctx, true, "auto_start")
		case errors.Is(err, domain.ErrAlreadyRunning):
			a.logger.InfoContext(ctx, "bot resumed from persisted state")
		default:
			cancel()
			_ = g.Wait()
			return fmt.Errorf("app: auto start: %w", err)
		}
	}

	if deps.Archiver != nil && a.cfg.Archive.Interval.Duration > 0 {
		g.Go(func() error {
			a.archiveLoop(ctx, deps.Archiver, a.cfg.Archive.Interval.Duration)
			return nil
		})
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, engine, outcomes)
	}

	err = g.Wait()
	outcomes.Wait()
	return err
}

// botParams returns the persisted runtime config when one exists and is
// valid, otherwise the file/env parameters.
func (a *App) botParams(ctx context.Context, deps *Dependencies) domain.BotConfig {
	params := a.cfg.Params()
	if deps.ConfigStore == nil {
		return params
	}
	stored, updatedAt, err := deps.ConfigStore.Get(ctx, a.cfg.Bot.Instance)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return params
	case err != nil:
		a.logger.WarnContext(ctx, "persisted config unavailable, using file config",
			slog.String("error", err.Error()),
		)
		return params
	case stored.Check() != nil:
		a.logger.WarnContext(ctx, "persisted config invalid, using file config",
			slog.String("error", stored.Check().Error()),
		)
		return params
	}
	a.logger.InfoContext(ctx, "config restored", slog.Time("updated_at", updatedAt))
	return stored
}

func (a *App) newOutcomeService(deps *Dependencies) *service.OutcomeService {
	sinks := service.OutcomeDeps{
		Outcomes: deps.OutcomeStore,
		Audit:    deps.AuditStore,
		Bus:      deps.SignalBus,
	}
	if deps.Notifier.Enabled() {
		sinks.Alerts = deps.Notifier
	}
	if deps.Metrics != nil {
		sinks.Metrics = deps.Metrics
	}
	return service.NewOutcomeService(sinks, a.logger)
}

func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	engine *switcher.Engine,
	outcomes *service.OutcomeService,
) {
	hub := ws.NewHub(deps.SignalBus, engine.Status, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(deps.Checks, a.logger),
		Bot:      handler.NewBotHandler(engine, outcomes, a.logger),
		Outcomes: handler.NewOutcomeHandler(deps.OutcomeStore, a.logger),
		Audit:    handler.NewAuditHandler(deps.AuditStore, a.logger),
	}
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// StatusMode prints the persisted state and config report and returns.
func (a *App) StatusMode(ctx context.Context, deps *Dependencies) error {
	state, err := deps.StateStore.Load(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		state = domain.DefaultBotState()
	} else if err != nil {
		return fmt.Errorf("app: status: %w", err)
	}
	_, err = fmt.Fprintln(a.out, notify.FormatStatus(state, a.botParams(ctx, deps), a.now()))
	return err
}

// ArchiveMode archives outcomes older than the retention window and returns.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return errors.New("app: archive mode requires s3")
	}
	n, err := deps.Archiver.ArchiveOutcomes(ctx, a.archiveCutoff())
	if err != nil {
		return fmt.Errorf("app: archive: %w", err)
	}
	a.logger.InfoContext(ctx, "archive complete", slog.Int64("outcomes", n))
	return nil
}

func (a *App) archiveCutoff() time.Time {
	return a.now().UTC().AddDate(0, 0, -a.cfg.Archive.RetentionDays)
}

func (a *App) archiveLoop(ctx context.Context, archiver domain.Archiver, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := archiver.ArchiveOutcomes(ctx, a.archiveCutoff())
			if err != nil {
				a.logger.ErrorContext(ctx, "scheduled archive failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				a.logger.InfoContext(ctx, "scheduled archive complete", slog.Int64("outcomes", n))
			}
		}
	}
}
