package switcher

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/paper"
)

// paperEngine builds a safe-mode engine over a fresh paper book seeded with
// 1000 stable and no volatile, the way the process starts after a restart.
func paperEngine(t *testing.T, store *fakeStore, prices *fakePrices, clock *time.Time) (*Engine, *paper.Portfolio) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	book := paper.NewPortfolio(domain.BasePair(), decimal.Zero, decimal.RequireFromString("1000"), logger)
	e, err := New(Deps{
		Prices:    prices,
		Paper:     Venue{Balances: book, Executor: book},
		PaperBook: book,
		States:    store,
	}, domain.DefaultBotConfig(), Options{}, logger)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	e.now = func() time.Time { return *clock }
	if err := e.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	return e, book
}

func TestRestart_PaperBookTravelsWithState(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{state: channel(domain.ModeHoldingStable, 3500, 3400)}
	prices := &fakePrices{price: 3600}

	first, book := paperEngine(t, store, prices, &clock)
	if out := first.Tick(ctx); !out.Success || out.Action != domain.ActionBuyVolatile {
		t.Fatalf("expected simulated buy, got %+v", out)
	}
	want := book.Snapshot()
	saved := store.state.Paper
	if saved == nil || !saved.Volatile.Equal(want.Volatile) || !saved.Stable.Equal(want.Stable) {
		t.Fatalf("paper book not persisted: saved=%+v book=%+v", saved, want)
	}

	clock = clock.Add(time.Minute)
	second, restored := paperEngine(t, store, prices, &clock)
	if got := restored.Snapshot(); !got.Volatile.Equal(want.Volatile) || !got.Stable.Equal(want.Stable) {
		t.Fatalf("paper book not restored: got %+v want %+v", got, want)
	}

	prices.set(3590)
	out := second.Tick(ctx)
	if !out.Success || out.Action != domain.ActionSellVolatile {
		t.Fatalf("expected simulated sell after restart, got %+v", out)
	}
	if second.State().Mode != domain.ModeHoldingStable {
		t.Errorf("mode = %s, want %s", second.State().Mode, domain.ModeHoldingStable)
	}
}

func TestRestart_UnsavedPaperBookFollowsHeldAsset(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	// A state written before paper balances were persisted.
	store := &fakeStore{state: channel(domain.ModeHoldingVolatile, 3600, 3500)}
	prices := &fakePrices{price: 3480}

	e, book := paperEngine(t, store, prices, &clock)

	out := e.Tick(ctx)
	if !out.Success || out.Action != domain.ActionSellVolatile {
		t.Fatalf("expected the held volatile position to be sellable, got %+v", out)
	}
	if e.State().Mode != domain.ModeHoldingStable {
		t.Errorf("mode = %s, want %s", e.State().Mode, domain.ModeHoldingStable)
	}
	if got := book.Snapshot(); !got.Volatile.IsPositive() || !got.Stable.IsPositive() {
		t.Errorf("expected a partly sold book, got %+v", got)
	}
}
