package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Action is the decision taken by one tick.
type Action string

const (
	ActionBuyVolatile  Action = "BUY_VOLATILE"
	ActionSellVolatile Action = "SELL_VOLATILE"
	ActionSkip         Action = "SKIP"
)

// Balances is a wallet's holdings of both assets and their USD value.
type Balances struct {
	Volatile    decimal.Decimal `json:"volatile"`
	Stable      decimal.Decimal `json:"stable"`
	VolatileUSD decimal.Decimal `json:"volatile_usd"`
	StableUSD   decimal.Decimal `json:"stable_usd"`
}

// NewBalances values raw holdings at price, treating the stable asset as 1 USD.
func NewBalances(volatile, stable decimal.Decimal, price float64) Balances {
	return Balances{
		Volatile:    volatile,
		Stable:      stable,
		VolatileUSD: volatile.Mul(decimal.NewFromFloat(price)),
		StableUSD:   stable,
	}
}

// TradeDecision is the output of the sizer. Amount is denominated in the
// asset being sold.
type TradeDecision struct {
	Amount   decimal.Decimal `json:"amount"`
	Notional decimal.Decimal `json:"notional"`
	IsValid  bool            `json:"is_valid"`
	Reason   string          `json:"reason,omitempty"`
}

// Err is nil for a valid decision and wraps ErrSizingRejected otherwise.
func (d TradeDecision) Err() error {
	if d.IsValid {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrSizingRejected, d.Reason)
}

// TradeOutcome is the audit record of one state-machine decision.
type TradeOutcome struct {
	ID          string          `json:"id"`
	Success     bool            `json:"success"`
	Action      Action          `json:"action"`
	Price       float64         `json:"price"`
	PriceSource PriceSourceTag  `json:"price_source,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	TxRef       string          `json:"tx_ref,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	LastHigh    *float64        `json:"last_high"`
	LastLow     *float64        `json:"last_low"`
	Simulated   bool            `json:"simulated"`
	PnlStable   decimal.Decimal `json:"pnl_stable"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Attempted reports whether the tick tried to trade, successfully or not.
func (o TradeOutcome) Attempted() bool {
	return o.Action != ActionSkip
}

// SwapRequest asks an executor to sell AmountIn of TokenIn for TokenOut.
// ExpectedOut is the tick-price estimate of the output, in TokenOut units.
type SwapRequest struct {
	TokenIn     string          `json:"token_in"`
	TokenOut    string          `json:"token_out"`
	AmountIn    decimal.Decimal `json:"amount_in"`
	ExpectedOut decimal.Decimal `json:"expected_out"`
	SlippageBps int64           `json:"slippage_bps"`
	Recipient   string          `json:"recipient"`
	Price       float64         `json:"price"`
}

// SwapResult reports how a swap attempt ended.
type SwapResult struct {
	Success   bool            `json:"success"`
	TxRef     string          `json:"tx_ref,omitempty"`
	AmountOut decimal.Decimal `json:"amount_out"`
	Error     string          `json:"error,omitempty"`
}

// BalanceSource reads current holdings of both assets.
type BalanceSource interface {
	GetBalances(ctx context.Context, address string, price float64) (Balances, error)
}

// SwapExecutor performs a swap. It never retries; a failed attempt comes back
// either as an error or as a SwapResult with Success false.
type SwapExecutor interface {
	ExecuteSwap(ctx context.Context, req SwapRequest) (SwapResult, error)
}
