// Package switcher runs the breakout state machine that moves the portfolio
// between the stable and the volatile asset.
package switcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/sizing"
)

// Venue is a balance source and an executor that trade the same wallet.
type Venue struct {
	Balances domain.BalanceSource
	Executor domain.SwapExecutor
}

func (v Venue) ready() bool {
	return v.Balances != nil && v.Executor != nil
}

// PaperBook is the safe-mode wallet. Its balances are saved with every
// state commit and restored on Load.
type PaperBook interface {
	Snapshot() domain.PaperBalances
	Restore(domain.PaperBalances)
	Align(ctx context.Context, mode domain.Mode, price float64) bool
}

// Observer receives everything the engine produces. Calls are synchronous
// and made outside the state lock.
type Observer interface {
	OnPrice(ctx context.Context, sample domain.PriceSample)
	OnOutcome(ctx context.Context, outcome domain.TradeOutcome)
	OnState(ctx context.Context, state domain.BotState)
	OnConfig(ctx context.Context, fields []string, cfg domain.BotConfig)
}

// NopObserver ignores all events.
type NopObserver struct{}

func (NopObserver) OnPrice(context.Context, domain.PriceSample)           {}
func (NopObserver) OnOutcome(context.Context, domain.TradeOutcome)        {}
func (NopObserver) OnState(context.Context, domain.BotState)              {}
func (NopObserver) OnConfig(context.Context, []string, domain.BotConfig) {}

// Deps are the engine's collaborators. Live is used when SafeMode is off and
// Paper when it is on. Locks, Configs and PaperBook are optional.
type Deps struct {
	Prices    domain.PriceSource
	Live      Venue
	Paper     Venue
	PaperBook PaperBook
	States    domain.StateStore
	Configs   domain.BotConfigStore
	Locks     domain.LockManager
	Observer  Observer
}

// Options tune the engine.
type Options struct {
	// Wallet is the address whose balances are traded.
	Wallet string
	Pair   domain.Pair
	// CallTimeout bounds each external call made during a tick.
	CallTimeout time.Duration
	// SwapTimeout bounds one swap including approval and receipts.
	// Defaults to CallTimeout.
	SwapTimeout time.Duration
	// Instance names the distributed tick lock.
	Instance string
	// ConfigName is the key used with Deps.Configs.
	ConfigName string
}

// Engine owns the BotState and performs ticks. All exported methods are safe
// for concurrent use.
type Engine struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	// tickMu serializes ticks and lifecycle transitions.
	tickMu    sync.Mutex
	lastPrice *float64

	stateMu sync.RWMutex
	state   domain.BotState

	cfgMu sync.RWMutex
	cfg   domain.BotConfig

	kick      chan struct{}
	reset     chan time.Duration
	startedAt time.Time
}

// New creates an Engine with cfg, which must be valid. Call Load before Run
// to resume persisted state.
func New(deps Deps, cfg domain.BotConfig, opts Options, logger *slog.Logger) (*Engine, error) {
	if deps.Prices == nil {
		return nil, errors.New("switcher: price source is required")
	}
	if deps.States == nil {
		return nil, errors.New("switcher: state store is required")
	}
	if err := cfg.Check(); err != nil {
		return nil, fmt.Errorf("switcher: new: %w", err)
	}
	if deps.Observer == nil {
		deps.Observer = NopObserver{}
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 10 * time.Second
	}
	if opts.SwapTimeout <= 0 {
		opts.SwapTimeout = opts.CallTimeout
	}
	if opts.Instance == "" {
		opts.Instance = "default"
	}
	if opts.ConfigName == "" {
		opts.ConfigName = opts.Instance
	}
	if opts.Pair == (domain.Pair{}) {
		opts.Pair = domain.BasePair()
	}

	return &Engine{
		deps:   deps,
		opts:   opts,
		logger: logger.With(slog.String("component", "switcher")),
		now:    time.Now,
		state:  domain.DefaultBotState(),
		cfg:    cfg,
		kick:   make(chan struct{}, 1),
		reset:  make(chan time.Duration, 1),
	}, nil
}

// Load replaces the in-memory state with the persisted one. A missing
// record leaves the defaults in place.
func (e *Engine) Load(ctx context.Context) error {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	lctx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()

	st, err := e.deps.States.Load(lctx)
	if errors.Is(err, domain.ErrNotFound) {
		e.logger.InfoContext(ctx, "no persisted state, using defaults")
		return nil
	}
	if err != nil {
		return fmt.Errorf("switcher: load state: %w", err)
	}
	if !st.Mode.Valid() {
		st.Mode = domain.ModeHoldingStable
	}
	if (st.LastHigh == nil) != (st.LastLow == nil) {
		st.LastHigh, st.LastLow = nil, nil
	}
	if st.Paper != nil && e.deps.PaperBook != nil {
		e.deps.PaperBook.Restore(*st.Paper)
	}

	e.stateMu.Lock()
	e.state = st.Clone()
	if st.IsRunning {
		e.startedAt = e.now()
	}
	e.stateMu.Unlock()

	e.logger.InfoContext(ctx, "state restored",
		slog.String("mode", string(st.Mode)),
		slog.Bool("running", st.IsRunning),
		slog.Int64("trades", st.Stats.TradeCount),
	)
	return nil
}

// State returns a copy of the current state.
func (e *Engine) State() domain.BotState {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state.Clone()
}

// Config returns a copy of the current config.
func (e *Engine) Config() domain.BotConfig {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg
}

// Status summarises the engine for reports.
func (e *Engine) Status() domain.BotStatus {
	st := e.State()
	cfg := e.Config()

	e.stateMu.RLock()
	started := e.startedAt
	e.stateMu.RUnlock()

	var uptime int64
	if st.IsRunning && !started.IsZero() {
		uptime = int64(e.now().Sub(started).Seconds())
	}
	mode := "live"
	if cfg.SafeMode {
		mode = "simulated"
	}
	return domain.BotStatus{
		Mode:          mode,
		Running:       st.IsRunning,
		SafeMode:      cfg.SafeMode,
		HoldingMode:   st.Mode,
		UptimeSeconds: uptime,
		TradeCount:    st.Stats.TradeCount,
	}
}

// UpdateConfig merges patch into the current config, validates the result
// and swaps it in. On any validation failure the current config is kept and
// the returned error wraps domain.ErrInvalidConfig.
func (e *Engine) UpdateConfig(ctx context.Context, patch domain.BotConfigPatch) error {
	if patch.Empty() {
		return nil
	}

	e.cfgMu.Lock()
	prev := e.cfg
	next := prev.Apply(patch)
	if err := next.Check(); err != nil {
		e.cfgMu.Unlock()
		return fmt.Errorf("switcher: update config: %w", err)
	}
	e.cfg = next
	e.cfgMu.Unlock()

	if next.PollIntervalMs != prev.PollIntervalMs {
		select {
		case <-e.reset:
		default:
		}
		e.reset <- next.PollInterval()
	}

	e.logger.InfoContext(ctx, "config updated", slog.Any("fields", patch.Fields()))

	if e.deps.Configs != nil {
		sctx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
		defer cancel()
		if err := e.deps.Configs.Upsert(sctx, e.opts.ConfigName, next); err != nil {
			e.logger.WarnContext(ctx, "config persist failed", slog.String("error", err.Error()))
		}
	}
	e.deps.Observer.OnConfig(ctx, patch.Fields(), next)
	return nil
}

// Tick performs one evaluation of the state machine and returns its outcome.
// It never panics and never returns an error; failures are on the outcome.
func (e *Engine) Tick(ctx context.Context) domain.TradeOutcome {
	out, _ := e.guardedTick(ctx, false)
	return out
}

// guardedTick runs a tick under tickMu. With requireRunning set it returns
// ran=false without doing anything when the engine was stopped.
func (e *Engine) guardedTick(ctx context.Context, requireRunning bool) (out domain.TradeOutcome, ran bool) {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	if requireRunning && !e.State().IsRunning {
		return domain.TradeOutcome{}, false
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "tick panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			out, ran = e.skip(e.State(), 0, fmt.Sprintf("%v: %v", domain.ErrUnexpected, r)), true
		}
	}()

	if e.deps.Locks != nil {
		unlock, err := e.deps.Locks.Acquire(ctx, e.lockKey(), e.lockTTL())
		if err != nil {
			reason := "lock held"
			if !errors.Is(err, domain.ErrLockHeld) {
				reason = "lock: " + err.Error()
				e.logger.WarnContext(ctx, "tick lock failed", slog.String("error", err.Error()))
			}
			return e.skip(e.State(), 0, reason), true
		}
		defer unlock()
	}

	return e.tick(ctx, e.Config()), true
}

func (e *Engine) lockKey() string {
	return "updownbot:" + e.opts.Instance + ":tick"
}

// lockTTL covers the worst case of one tick: price, balances, swap, persist.
func (e *Engine) lockTTL() time.Duration {
	return 3*e.opts.CallTimeout + e.opts.SwapTimeout + time.Second
}

func (e *Engine) tick(ctx context.Context, cfg domain.BotConfig) domain.TradeOutcome {
	state := e.State()
	now := e.now()

	if state.InCooldown(now) {
		return e.skip(state, 0, "cooldown")
	}

	pctx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	sample, err := e.deps.Prices.GetPrice(pctx)
	cancel()
	if err != nil {
		e.logger.WarnContext(ctx, "price fetch failed", slog.String("error", err.Error()))
		return e.skip(state, 0, "price: "+err.Error())
	}
	if !(sample.Price > 0) {
		return e.skip(state, 0, fmt.Sprintf("invalid price %v", sample.Price))
	}
	e.deps.Observer.OnPrice(ctx, sample)

	price := sample.Price
	prev := e.lastPrice
	e.lastPrice = domain.Float64Ptr(price)

	if Unstable(prev, price, cfg.StabilityPct) {
		e.logger.WarnContext(ctx, "price instability, skipping tick",
			slog.Float64("price", price),
			slog.Float64("previous", *prev),
			slog.Float64("deviation_pct", Deviation(*prev, price)),
		)
		return e.skip(state, price, fmt.Sprintf("price moved %.2f%% since last sample", Deviation(*prev, price)))
	}

	sig := Evaluate(state, cfg, price)
	if sig.Bootstrap {
		state.LastHigh = domain.Float64Ptr(price)
		state.LastLow = domain.Float64Ptr(price)
		reason := fmt.Sprintf("channel initialized at %.2f", price)
		if err := e.commit(ctx, state); err != nil {
			reason += "; " + err.Error()
		}
		e.logger.InfoContext(ctx, "bootstrap", slog.Float64("price", price))
		return e.skip(state, price, reason)
	}
	if sig.Action == domain.ActionSkip {
		return e.skip(state, price, "")
	}

	out := e.trade(ctx, cfg, state, sig.Action, sample)
	e.deps.Observer.OnOutcome(ctx, out)
	return out
}

func (e *Engine) trade(ctx context.Context, cfg domain.BotConfig, state domain.BotState, action domain.Action, sample domain.PriceSample) domain.TradeOutcome {
	price := sample.Price
	out := e.outcome(state, action, price)
	out.PriceSource = sample.Source
	out.Simulated = cfg.SafeMode

	venue := e.deps.Live
	if cfg.SafeMode {
		venue = e.deps.Paper
	}
	if !venue.ready() {
		return e.fail(ctx, out, "no trading venue configured")
	}
	if cfg.SafeMode && e.deps.PaperBook != nil {
		e.deps.PaperBook.Align(ctx, state.Mode, price)
	}

	bctx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	bal, err := venue.Balances.GetBalances(bctx, e.opts.Wallet, price)
	cancel()
	if err != nil {
		return e.fail(ctx, out, "balances: "+err.Error())
	}

	dec := sizing.Size(bal, state.Mode, cfg.TradePct, cfg.MinTradeUSD, price)
	if err := dec.Err(); err != nil {
		e.logger.DebugContext(ctx, "sizing rejected", slog.String("error", err.Error()))
		return e.fail(ctx, out, dec.Reason)
	}

	req := e.swapRequest(action, dec.Amount, price, cfg.SlippageBps)
	xctx, cancel := context.WithTimeout(ctx, e.opts.SwapTimeout)
	res, err := venue.Executor.ExecuteSwap(xctx, req)
	cancel()
	if err != nil {
		out.TxRef = res.TxRef
		return e.fail(ctx, out, err.Error())
	}
	if !res.Success {
		out.TxRef = res.TxRef
		reason := res.Error
		if reason == "" {
			reason = "swap failed"
		}
		return e.fail(ctx, out, reason)
	}

	next := e.apply(state, cfg, action, price, dec.Amount)
	out.Success = true
	out.Quantity = dec.Amount
	out.TxRef = res.TxRef
	out.LastHigh = next.LastHigh
	out.LastLow = next.LastLow
	out.PnlStable = next.Stats.RealizedPnlStable

	if err := e.commit(ctx, next); err != nil {
		out.Reason = err.Error()
	}
	e.logger.InfoContext(ctx, "trade executed",
		slog.String("action", string(action)),
		slog.Float64("price", price),
		slog.String("quantity", dec.Amount.String()),
		slog.String("tx", res.TxRef),
		slog.Bool("simulated", cfg.SafeMode),
	)
	return out
}

// apply returns the state after a successful swap. Only the bound opposite
// the breakout moves, so the channel trails price in the position's favour.
func (e *Engine) apply(state domain.BotState, cfg domain.BotConfig, action domain.Action, price float64, qty decimal.Decimal) domain.BotState {
	next := state.Clone()
	switch action {
	case domain.ActionBuyVolatile:
		next.Mode = domain.ModeHoldingVolatile
		next.LastLow = domain.Float64Ptr(price)
		next.EntryPrice = domain.Float64Ptr(price)
	case domain.ActionSellVolatile:
		next.Mode = domain.ModeHoldingStable
		next.LastHigh = domain.Float64Ptr(price)
		if next.EntryPrice != nil {
			pnl := qty.Mul(decimal.NewFromFloat(price - *next.EntryPrice))
			next.Stats.RealizedPnlStable = next.Stats.RealizedPnlStable.Add(pnl)
		}
		next.EntryPrice = nil
	}
	if cfg.CooldownSec > 0 {
		until := e.now().Add(cfg.Cooldown())
		next.CooldownUntil = &until
	} else {
		next.CooldownUntil = nil
	}
	next.Stats.TradeCount++
	return next
}

func (e *Engine) swapRequest(action domain.Action, amount decimal.Decimal, price float64, slippageBps int64) domain.SwapRequest {
	pair := e.opts.Pair
	px := decimal.NewFromFloat(price)
	req := domain.SwapRequest{
		AmountIn:    amount,
		SlippageBps: slippageBps,
		Recipient:   e.opts.Wallet,
		Price:       price,
	}
	if action == domain.ActionBuyVolatile {
		req.TokenIn = pair.Stable
		req.TokenOut = pair.Volatile
		req.ExpectedOut = amount.DivRound(px, pair.VolatileDecimals)
	} else {
		req.TokenIn = pair.Volatile
		req.TokenOut = pair.Stable
		req.ExpectedOut = amount.Mul(px).Truncate(pair.StableDecimals)
	}
	return req
}

// commit persists next and, whether or not that succeeds, makes it the
// current state: the swap it reflects has already happened.
func (e *Engine) commit(ctx context.Context, next domain.BotState) error {
	next.UpdatedAt = e.now().UTC()
	if e.deps.PaperBook != nil {
		book := e.deps.PaperBook.Snapshot()
		next.Paper = &book
	}

	e.stateMu.Lock()
	e.state = next.Clone()
	e.stateMu.Unlock()

	sctx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()
	err := e.deps.States.Save(sctx, next)
	if err != nil {
		e.logger.ErrorContext(ctx, "state persist failed", slog.String("error", err.Error()))
		err = fmt.Errorf("persist: %w", err)
	}
	e.deps.Observer.OnState(ctx, next.Clone())
	return err
}

func (e *Engine) outcome(state domain.BotState, action domain.Action, price float64) domain.TradeOutcome {
	return domain.TradeOutcome{
		ID:        uuid.NewString(),
		Action:    action,
		Price:     price,
		Quantity:  decimal.Zero,
		LastHigh:  state.LastHigh,
		LastLow:   state.LastLow,
		PnlStable: state.Stats.RealizedPnlStable,
		Timestamp: e.now().UTC(),
	}
}

func (e *Engine) skip(state domain.BotState, price float64, reason string) domain.TradeOutcome {
	out := e.outcome(state, domain.ActionSkip, price)
	out.Reason = reason
	return out
}

func (e *Engine) fail(ctx context.Context, out domain.TradeOutcome, reason string) domain.TradeOutcome {
	out.Success = false
	out.Reason = reason
	e.logger.WarnContext(ctx, "trade attempt failed",
		slog.String("action", string(out.Action)),
		slog.Float64("price", out.Price),
		slog.String("reason", reason),
	)
	return out
}
