// Package sizing decides how much of the current holding to trade.
package sizing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// Size applies the fraction-of-balance policy to the asset held in mode.
// Holding stable, the amount is stable units and the notional equals the
// amount. Holding volatile, the amount is volatile units and the notional is
// amount times price. The minimum-notional check and the fee-reserve check
// are independent; either can reject.
func Size(bal domain.Balances, mode domain.Mode, tradePct, minTradeUSD, price float64) domain.TradeDecision {
	pct := decimal.NewFromFloat(tradePct)
	minUSD := decimal.NewFromFloat(minTradeUSD)

	var amount, notional decimal.Decimal
	if mode == domain.ModeHoldingVolatile {
		amount = bal.Volatile.Mul(pct)
		notional = amount.Mul(decimal.NewFromFloat(price))
	} else {
		amount = bal.Stable.Mul(pct)
		notional = amount
	}

	if notional.LessThan(minUSD) {
		return domain.TradeDecision{
			Amount:   decimal.Zero,
			Notional: notional,
			Reason:   fmt.Sprintf("Trade value $%s below minimum $%s", notional.StringFixed(2), minUSD.String()),
		}
	}

	if mode == domain.ModeHoldingVolatile && bal.Volatile.Sub(amount).LessThan(domain.FeeReserve) {
		return domain.TradeDecision{
			Amount:   decimal.Zero,
			Notional: notional,
			Reason:   "Insufficient ETH balance (need to keep some for gas)",
		}
	}

	return domain.TradeDecision{
		Amount:   amount,
		Notional: notional,
		IsValid:  true,
	}
}
