// Package paper provides the safe-mode wallet: an in-memory portfolio that
// answers balance queries and fills swaps at the tick price without touching
// the chain.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// Portfolio is a simulated two-asset wallet. It is safe for concurrent use.
type Portfolio struct {
	mu       sync.Mutex
	pair     domain.Pair
	volatile decimal.Decimal
	stable   decimal.Decimal
	fills    int64
	logger   *slog.Logger
}

// NewPortfolio seeds a Portfolio with starting balances.
func NewPortfolio(pair domain.Pair, volatile, stable decimal.Decimal, logger *slog.Logger) *Portfolio {
	return &Portfolio{
		pair:     pair,
		volatile: volatile,
		stable:   stable,
		logger:   logger.With(slog.String("component", "paper_portfolio")),
	}
}

// GetBalances implements domain.BalanceSource. The address is ignored.
func (p *Portfolio) GetBalances(_ context.Context, _ string, price float64) (domain.Balances, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return domain.NewBalances(p.volatile, p.stable, price), nil
}

// ExecuteSwap implements domain.SwapExecutor. The fill is the request's
// ExpectedOut; no network call is made.
func (p *Portfolio) ExecuteSwap(ctx context.Context, req domain.SwapRequest) (domain.SwapResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !req.AmountIn.IsPositive() {
		return domain.SwapResult{Error: "amount in must be positive"}, nil
	}

	switch {
	case p.isStable(req.TokenIn):
		if p.stable.LessThan(req.AmountIn) {
			return domain.SwapResult{Error: fmt.Sprintf("insufficient paper %s balance", p.pair.StableSymbol)}, nil
		}
		p.stable = p.stable.Sub(req.AmountIn)
		p.volatile = p.volatile.Add(req.ExpectedOut)
	case p.isVolatile(req.TokenIn):
		if p.volatile.LessThan(req.AmountIn) {
			return domain.SwapResult{Error: fmt.Sprintf("insufficient paper %s balance", p.pair.VolatileSymbol)}, nil
		}
		p.volatile = p.volatile.Sub(req.AmountIn)
		p.stable = p.stable.Add(req.ExpectedOut)
	default:
		return domain.SwapResult{Error: fmt.Sprintf("unknown token %s", req.TokenIn)}, nil
	}
	p.fills++

	ref := "sim-" + uuid.NewString()
	p.logger.InfoContext(ctx, "paper swap filled",
		slog.String("tx_ref", ref),
		slog.String("token_in", req.TokenIn),
		slog.String("amount_in", req.AmountIn.String()),
		slog.String("amount_out", req.ExpectedOut.String()),
		slog.Float64("price", req.Price),
	)

	return domain.SwapResult{
		Success:   true,
		TxRef:     ref,
		AmountOut: req.ExpectedOut,
	}, nil
}

// Snapshot returns the current balances.
func (p *Portfolio) Snapshot() domain.PaperBalances {
	p.mu.Lock()
	defer p.mu.Unlock()
	return domain.PaperBalances{Volatile: p.volatile, Stable: p.stable}
}

// Restore replaces the balances with a persisted snapshot.
func (p *Portfolio) Restore(b domain.PaperBalances) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volatile = b.Volatile
	p.stable = b.Stable
}

// Align moves the whole book into the asset mode says is held, converting at
// price, when that side is empty. It reports whether anything moved. A book
// that already funds the held side is left alone.
func (p *Portfolio) Align(ctx context.Context, mode domain.Mode, price float64) bool {
	if !(price > 0) {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	px := decimal.NewFromFloat(price)
	switch mode {
	case domain.ModeHoldingVolatile:
		if p.volatile.IsPositive() || !p.stable.IsPositive() {
			return false
		}
		p.volatile = p.stable.DivRound(px, p.pair.VolatileDecimals)
		p.stable = decimal.Zero
	case domain.ModeHoldingStable:
		if p.stable.IsPositive() || !p.volatile.IsPositive() {
			return false
		}
		p.stable = p.volatile.Mul(px).Truncate(p.pair.StableDecimals)
		p.volatile = decimal.Zero
	default:
		return false
	}
	p.logger.InfoContext(ctx, "paper book aligned to held asset",
		slog.String("mode", string(mode)),
		slog.Float64("price", price),
		slog.String("volatile", p.volatile.String()),
		slog.String("stable", p.stable.String()),
	)
	return true
}

// Fills returns how many swaps the portfolio has filled.
func (p *Portfolio) Fills() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fills
}

func (p *Portfolio) isStable(addr string) bool {
	return strings.EqualFold(addr, p.pair.Stable)
}

func (p *Portfolio) isVolatile(addr string) bool {
	return strings.EqualFold(addr, p.pair.Volatile) || strings.EqualFold(addr, p.pair.Wrapped)
}

var (
	_ domain.BalanceSource = (*Portfolio)(nil)
	_ domain.SwapExecutor  = (*Portfolio)(nil)
)
