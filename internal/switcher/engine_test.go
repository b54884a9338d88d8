package switcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// --- fakes ------------------------------------------------------------------

type fakePrices struct {
	mu    sync.Mutex
	price float64
	calls int
	panic bool
}

func (f *fakePrices) set(p float64) {
	f.mu.Lock()
	f.price = p
	f.mu.Unlock()
}

func (f *fakePrices) GetPrice(context.Context) (domain.PriceSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.panic {
		panic("rpc client exploded")
	}
	return domain.PriceSample{Price: f.price, Timestamp: time.Now(), Source: domain.SourceUniswapV3}, nil
}

type fakeVenue struct {
	mu         sync.Mutex
	volatile   decimal.Decimal
	stable     decimal.Decimal
	balanceErr error
	swapErr    error
	swapFail   string
	swaps      int
	lastReq    domain.SwapRequest
	deadline   time.Time
}

func newFakeVenue(vol, stable string) *fakeVenue {
	return &fakeVenue{volatile: decimal.RequireFromString(vol), stable: decimal.RequireFromString(stable)}
}

func (f *fakeVenue) venue() Venue { return Venue{Balances: f, Executor: f} }

func (f *fakeVenue) GetBalances(_ context.Context, _ string, price float64) (domain.Balances, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balanceErr != nil {
		return domain.Balances{}, f.balanceErr
	}
	return domain.NewBalances(f.volatile, f.stable, price), nil
}

func (f *fakeVenue) ExecuteSwap(ctx context.Context, req domain.SwapRequest) (domain.SwapResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.swaps++
	f.lastReq = req
	f.deadline, _ = ctx.Deadline()
	if f.swapErr != nil {
		return domain.SwapResult{}, f.swapErr
	}
	if f.swapFail != "" {
		return domain.SwapResult{TxRef: "0xdead", Error: f.swapFail}, nil
	}
	return domain.SwapResult{Success: true, TxRef: "0xabc", AmountOut: req.ExpectedOut}, nil
}

func (f *fakeVenue) swapCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.swaps
}

type fakeStore struct {
	mu      sync.Mutex
	state   *domain.BotState
	saves   int
	saveErr error
}

func (s *fakeStore) Load(context.Context) (domain.BotState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return domain.BotState{}, domain.ErrNotFound
	}
	return s.state.Clone(), nil
}

func (s *fakeStore) Save(_ context.Context, st domain.BotState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	c := st.Clone()
	s.state = &c
	return nil
}

type fakeConfigs struct {
	mu      sync.Mutex
	upserts int
	last    domain.BotConfig
}

func (c *fakeConfigs) Get(context.Context, string) (domain.BotConfig, time.Time, error) {
	return domain.BotConfig{}, time.Time{}, domain.ErrNotFound
}

func (c *fakeConfigs) Upsert(_ context.Context, _ string, cfg domain.BotConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.upserts++
	c.last = cfg
	return nil
}

type fakeLocks struct {
	held bool
}

func (l *fakeLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	if l.held {
		return nil, domain.ErrLockHeld
	}
	return func() {}, nil
}

type recordingObserver struct {
	NopObserver
	mu       sync.Mutex
	outcomes []domain.TradeOutcome
}

func (o *recordingObserver) OnOutcome(_ context.Context, out domain.TradeOutcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, out)
}

// --- fixture ----------------------------------------------------------------

type fixture struct {
	engine   *Engine
	prices   *fakePrices
	live     *fakeVenue
	paper    *fakeVenue
	store    *fakeStore
	configs  *fakeConfigs
	observer *recordingObserver
	clock    time.Time
}

func (f *fixture) advance(d time.Duration) { f.clock = f.clock.Add(d) }

func newFixture(t *testing.T, cfg domain.BotConfig, initial *domain.BotState) *fixture {
	t.Helper()
	f := &fixture{
		prices:   &fakePrices{price: 3500},
		live:     newFakeVenue("1", "1000"),
		paper:    newFakeVenue("1", "1000"),
		store:    &fakeStore{state: initial},
		configs:  &fakeConfigs{},
		observer: &recordingObserver{},
		clock:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	e, err := New(Deps{
		Prices:   f.prices,
		Live:     f.live.venue(),
		Paper:    f.paper.venue(),
		States:   f.store,
		Configs:  f.configs,
		Observer: f.observer,
	}, cfg, Options{Wallet: "0x1111111111111111111111111111111111111111"},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	e.now = func() time.Time { return f.clock }
	if err := e.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	f.engine = e
	return f
}

func liveConfig() domain.BotConfig {
	cfg := domain.DefaultBotConfig()
	cfg.SafeMode = false
	return cfg
}

func channel(mode domain.Mode, high, low float64) *domain.BotState {
	st := domain.DefaultBotState()
	st.Mode = mode
	st.LastHigh = domain.Float64Ptr(high)
	st.LastLow = domain.Float64Ptr(low)
	return &st
}

// --- tests ------------------------------------------------------------------

func TestTick_BootstrapSetsBothBounds(t *testing.T) {
	f := newFixture(t, liveConfig(), nil)

	out := f.engine.Tick(context.Background())

	st := f.engine.State()
	if st.LastHigh == nil || st.LastLow == nil || *st.LastHigh != 3500 || *st.LastLow != 3500 {
		t.Fatalf("expected channel at 3500, got high=%v low=%v", st.LastHigh, st.LastLow)
	}
	if st.Mode != domain.ModeHoldingStable {
		t.Errorf("bootstrap must not change mode, got %s", st.Mode)
	}
	if out.Attempted() || st.Stats.TradeCount != 0 || f.live.swapCount() != 0 {
		t.Error("bootstrap must not trade")
	}
	if f.store.saves != 1 {
		t.Errorf("expected bootstrap to persist once, got %d", f.store.saves)
	}
}

func TestTick_HysteresisBuffer(t *testing.T) {
	f := newFixture(t, liveConfig(), channel(domain.ModeHoldingStable, 3500, 3400))

	f.prices.set(3503)
	out := f.engine.Tick(context.Background())
	if out.Attempted() || f.live.swapCount() != 0 {
		t.Fatalf("3503 is inside the 10bps buffer, expected no trade, got %+v", out)
	}

	f.prices.set(3504)
	out = f.engine.Tick(context.Background())
	if out.Action != domain.ActionBuyVolatile || !out.Success {
		t.Fatalf("3504 clears the buffer, expected buy, got %+v", out)
	}

	st := f.engine.State()
	if st.Mode != domain.ModeHoldingVolatile {
		t.Errorf("expected HOLDING_VOLATILE, got %s", st.Mode)
	}
	if *st.LastLow != 3504 {
		t.Errorf("expected lastLow to move to 3504, got %v", *st.LastLow)
	}
	if *st.LastHigh != 3500 {
		t.Errorf("buy must not move lastHigh, got %v", *st.LastHigh)
	}
	if st.Stats.TradeCount != 1 {
		t.Errorf("expected 1 trade, got %d", st.Stats.TradeCount)
	}
	if st.CooldownUntil == nil || !st.CooldownUntil.Equal(f.clock.Add(15*time.Second)) {
		t.Errorf("expected cooldown until +15s, got %v", st.CooldownUntil)
	}

	req := f.live.lastReq
	if req.TokenIn != domain.USDCBase || req.TokenOut != domain.NativeETH {
		t.Errorf("unexpected buy direction %s -> %s", req.TokenIn, req.TokenOut)
	}
	if !req.AmountIn.Equal(decimal.RequireFromString("250")) {
		t.Errorf("expected 250 USDC in, got %s", req.AmountIn)
	}
	if req.SlippageBps != 30 {
		t.Errorf("expected slippage 30, got %d", req.SlippageBps)
	}
}

func TestTick_CooldownBlocksTrades(t *testing.T) {
	cfg := liveConfig()
	cfg.CooldownSec = 30
	f := newFixture(t, cfg, channel(domain.ModeHoldingStable, 3500, 3400))

	f.prices.set(3504)
	if out := f.engine.Tick(context.Background()); !out.Success {
		t.Fatalf("expected buy, got %+v", out)
	}
	fetches := f.prices.calls

	// Well below lastLow: a sell breakout, but still cooling down.
	f.prices.set(3480)
	f.advance(10 * time.Second)
	out := f.engine.Tick(context.Background())
	if out.Attempted() || out.Reason != "cooldown" {
		t.Fatalf("expected silent cooldown skip, got %+v", out)
	}
	if f.prices.calls != fetches {
		t.Error("cooldown tick must not fetch a price")
	}

	f.advance(21 * time.Second)
	out = f.engine.Tick(context.Background())
	if out.Action != domain.ActionSellVolatile || !out.Success {
		t.Fatalf("expected sell after cooldown, got %+v", out)
	}
	if f.live.swapCount() != 2 {
		t.Errorf("expected 2 swaps, got %d", f.live.swapCount())
	}
}

func TestTick_FailedExecutionDoesNotMutate(t *testing.T) {
	cases := []struct {
		name  string
		setup func(v *fakeVenue)
		want  string
	}{
		{"swap reports failure", func(v *fakeVenue) { v.swapFail = "execution reverted" }, "execution reverted"},
		{"swap errors", func(v *fakeVenue) { v.swapErr = errors.New("rpc timeout") }, "rpc timeout"},
		{"balances error", func(v *fakeVenue) { v.balanceErr = errors.New("no route") }, "balances: no route"},
		{"sizing rejects", func(v *fakeVenue) { v.stable = decimal.RequireFromString("40") }, "Trade value $10.00 below minimum $25"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, liveConfig(), channel(domain.ModeHoldingStable, 3500, 3400))
			tc.setup(f.live)
			before := f.engine.State()

			f.prices.set(3600)
			out := f.engine.Tick(context.Background())

			if out.Success || out.Action != domain.ActionBuyVolatile {
				t.Fatalf("expected failed buy attempt, got %+v", out)
			}
			if !strings.Contains(out.Reason, tc.want) {
				t.Errorf("expected reason containing %q, got %q", tc.want, out.Reason)
			}

			after := f.engine.State()
			if after.Mode != before.Mode || *after.LastHigh != *before.LastHigh || *after.LastLow != *before.LastLow {
				t.Errorf("state mutated: before %+v after %+v", before, after)
			}
			if after.CooldownUntil != nil {
				t.Error("failed attempt must not start cooldown")
			}
			if after.Stats.TradeCount != 0 {
				t.Error("failed attempt must not count as a trade")
			}
			if f.store.saves != 0 {
				t.Errorf("failed attempt must not persist, got %d saves", f.store.saves)
			}
			if len(f.observer.outcomes) != 1 {
				t.Errorf("expected failed attempt reported, got %d outcomes", len(f.observer.outcomes))
			}
		})
	}
}

func TestTick_LastLowNeverFallsWhileHoldingVolatile(t *testing.T) {
	cfg := liveConfig()
	cfg.CooldownSec = 0
	f := newFixture(t, cfg, channel(domain.ModeHoldingStable, 3000, 2990))

	prices := []float64{3010, 3020, 3040, 3030, 3005, 3010, 3035, 3050}
	var lows []float64
	for _, p := range prices {
		f.prices.set(p)
		f.engine.Tick(context.Background())
		st := f.engine.State()
		if st.Mode == domain.ModeHoldingVolatile {
			lows = append(lows, *st.LastLow)
		}
	}

	if len(lows) == 0 {
		t.Fatal("expected the engine to enter HOLDING_VOLATILE")
	}
	for i := 1; i < len(lows); i++ {
		if lows[i] < lows[i-1] {
			t.Fatalf("lastLow decreased: %v", lows)
		}
	}
}

func TestTick_SellRealizesPnL(t *testing.T) {
	cfg := liveConfig()
	cfg.CooldownSec = 0
	f := newFixture(t, cfg, channel(domain.ModeHoldingStable, 3500, 3400))

	f.prices.set(3504)
	f.engine.Tick(context.Background())

	f.prices.set(3480)
	out := f.engine.Tick(context.Background())
	if out.Action != domain.ActionSellVolatile || !out.Success {
		t.Fatalf("expected sell, got %+v", out)
	}

	st := f.engine.State()
	// 0.25 ETH sold 24 below entry.
	if !st.Stats.RealizedPnlStable.Equal(decimal.RequireFromString("-6")) {
		t.Errorf("expected -6 realized, got %s", st.Stats.RealizedPnlStable)
	}
	if st.EntryPrice != nil {
		t.Error("expected entry price cleared after sell")
	}
	if *st.LastHigh != 3480 || st.Mode != domain.ModeHoldingStable {
		t.Errorf("unexpected state after sell: %+v", st)
	}
}

func TestTick_SafeModeUsesPaperVenue(t *testing.T) {
	cfg := domain.DefaultBotConfig()
	f := newFixture(t, cfg, channel(domain.ModeHoldingStable, 3500, 3400))

	f.prices.set(3600)
	out := f.engine.Tick(context.Background())

	if !out.Success || !out.Simulated {
		t.Fatalf("expected simulated success, got %+v", out)
	}
	if f.live.swapCount() != 0 {
		t.Error("safe mode must not reach the live executor")
	}
	if f.paper.swapCount() != 1 {
		t.Errorf("expected paper fill, got %d", f.paper.swapCount())
	}
	if f.engine.State().Stats.TradeCount != 1 {
		t.Error("simulated trades still count")
	}
}

func TestTick_UnstablePriceDiscarded(t *testing.T) {
	f := newFixture(t, liveConfig(), channel(domain.ModeHoldingStable, 3500, 3400))

	f.prices.set(3450)
	f.engine.Tick(context.Background())

	// 2% jump: discarded even though it is a breakout.
	f.prices.set(3519)
	out := f.engine.Tick(context.Background())
	if out.Attempted() || !strings.Contains(out.Reason, "price moved") {
		t.Fatalf("expected instability skip, got %+v", out)
	}

	// Same level again is now within range of the last sample.
	out = f.engine.Tick(context.Background())
	if out.Action != domain.ActionBuyVolatile {
		t.Fatalf("expected sustained move to be accepted, got %+v", out)
	}
}

func TestTick_PersistFailureKeepsInMemoryState(t *testing.T) {
	f := newFixture(t, liveConfig(), channel(domain.ModeHoldingStable, 3500, 3400))
	f.store.saveErr = errors.New("db down")

	f.prices.set(3600)
	out := f.engine.Tick(context.Background())

	if !out.Success {
		t.Fatalf("swap succeeded, outcome must say so: %+v", out)
	}
	if !strings.Contains(out.Reason, "persist") {
		t.Errorf("expected persist failure on the outcome, got %q", out.Reason)
	}
	if f.engine.State().Mode != domain.ModeHoldingVolatile {
		t.Error("in-memory state must reflect the executed swap")
	}
}

func TestTick_PanicIsRecovered(t *testing.T) {
	f := newFixture(t, liveConfig(), channel(domain.ModeHoldingStable, 3500, 3400))
	f.prices.panic = true

	out := f.engine.Tick(context.Background())
	if out.Attempted() || !strings.Contains(out.Reason, domain.ErrUnexpected.Error()) {
		t.Fatalf("expected unexpected-error skip, got %+v", out)
	}

	f.prices.panic = false
	f.prices.set(3600)
	if out := f.engine.Tick(context.Background()); !out.Success {
		t.Fatalf("engine should keep working after a panic, got %+v", out)
	}
}

func TestTick_SkipsWhenLockHeld(t *testing.T) {
	f := newFixture(t, liveConfig(), channel(domain.ModeHoldingStable, 3500, 3400))
	f.engine.deps.Locks = &fakeLocks{held: true}

	out := f.engine.Tick(context.Background())
	if out.Reason != "lock held" {
		t.Fatalf("expected lock held skip, got %q", out.Reason)
	}
	if f.prices.calls != 0 {
		t.Error("no price fetch while another instance ticks")
	}
}

func TestStartStop_Idempotent(t *testing.T) {
	f := newFixture(t, liveConfig(), nil)
	ctx := context.Background()

	if err := f.engine.Start(ctx); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := f.engine.Start(ctx); !errors.Is(err, domain.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if !f.engine.State().IsRunning || f.store.saves != 1 {
		t.Errorf("expected one running transition, saves=%d", f.store.saves)
	}

	if err := f.engine.Stop(ctx); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	if err := f.engine.Stop(ctx); !errors.Is(err, domain.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
	if f.engine.State().IsRunning || f.store.saves != 2 {
		t.Errorf("expected one stopped transition, saves=%d", f.store.saves)
	}
}

func TestTick_SwapGetsItsOwnTimeout(t *testing.T) {
	f := newFixture(t, liveConfig(), channel(domain.ModeHoldingStable, 3500, 3400))
	if f.engine.opts.SwapTimeout != f.engine.opts.CallTimeout {
		t.Fatalf("swap timeout should default to call timeout, got %s", f.engine.opts.SwapTimeout)
	}
	f.engine.opts.SwapTimeout = 10 * time.Minute

	f.prices.set(3600)
	before := time.Now()
	if out := f.engine.Tick(context.Background()); !out.Success {
		t.Fatalf("expected buy, got %+v", out)
	}

	f.live.mu.Lock()
	deadline := f.live.deadline
	f.live.mu.Unlock()
	if deadline.Sub(before) < 5*time.Minute {
		t.Errorf("swap deadline %s after start, want about 10m", deadline.Sub(before))
	}
	if got := f.engine.lockTTL(); got < 10*time.Minute {
		t.Errorf("lock ttl %s does not cover the swap", got)
	}
}

func TestRunTick_RechecksRunningUnderLock(t *testing.T) {
	f := newFixture(t, liveConfig(), channel(domain.ModeHoldingStable, 3500, 3400))
	ctx := context.Background()

	if err := f.engine.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.engine.runTick(ctx)
	if f.prices.calls != 1 {
		t.Fatalf("expected one scheduled fetch while running, got %d", f.prices.calls)
	}

	if err := f.engine.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	f.engine.runTick(ctx)
	if f.prices.calls != 1 {
		t.Errorf("scheduled tick ran after stop: %d fetches", f.prices.calls)
	}
	if _, ran := f.engine.guardedTick(ctx, true); ran {
		t.Error("guarded tick must not run on a stopped engine")
	}
	if _, ran := f.engine.guardedTick(ctx, false); !ran {
		t.Error("manual tick path ignores the running flag")
	}
}

func TestUpdateConfig_ValidateThenSwap(t *testing.T) {
	f := newFixture(t, liveConfig(), nil)
	ctx := context.Background()

	bad := 2.0
	slip := int64(50)
	err := f.engine.UpdateConfig(ctx, domain.BotConfigPatch{TradePct: &bad, SlippageBps: &slip})
	if !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if cfg := f.engine.Config(); cfg.TradePct != 0.25 || cfg.SlippageBps != 30 {
		t.Fatalf("invalid patch partially applied: %+v", cfg)
	}
	if f.configs.upserts != 0 {
		t.Error("invalid config must not be persisted")
	}

	interval := int64(5000)
	if err := f.engine.UpdateConfig(ctx, domain.BotConfigPatch{SlippageBps: &slip, PollIntervalMs: &interval}); err != nil {
		t.Fatalf("valid patch: %v", err)
	}
	if cfg := f.engine.Config(); cfg.SlippageBps != 50 || cfg.PollIntervalMs != 5000 {
		t.Errorf("patch not applied: %+v", cfg)
	}
	if f.configs.upserts != 1 || f.configs.last.SlippageBps != 50 {
		t.Errorf("expected config persisted once, got %d", f.configs.upserts)
	}
	select {
	case d := <-f.engine.reset:
		if d != 5*time.Second {
			t.Errorf("expected ticker reset to 5s, got %v", d)
		}
	default:
		t.Error("expected a ticker reset on interval change")
	}
}

func TestRun_TicksOnlyWhileRunning(t *testing.T) {
	cfg := liveConfig()
	f := newFixture(t, cfg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = f.engine.Run(ctx)
		close(done)
	}()

	if err := f.engine.Start(ctx); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for f.engine.State().LastHigh == nil {
		select {
		case <-deadline:
			t.Fatal("start did not trigger an immediate tick")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
