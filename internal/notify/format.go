package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// FormatOutcome renders a trade attempt as a notification and names the
// event it belongs to.
func FormatOutcome(o domain.TradeOutcome) (event, title, message string) {
	var b strings.Builder
	fmt.Fprintf(&b, "Price: $%.2f", o.Price)
	if !o.Quantity.IsZero() {
		fmt.Fprintf(&b, "\nQuantity: %s", o.Quantity.String())
	}
	if o.TxRef != "" {
		fmt.Fprintf(&b, "\nTx: %s", o.TxRef)
	}
	fmt.Fprintf(&b, "\nChannel: %s / %s", fmtBound(o.LastHigh), fmtBound(o.LastLow))

	prefix := ""
	if o.Simulated {
		prefix = "[SIM] "
	}
	if !o.Success {
		fmt.Fprintf(&b, "\nReason: %s", o.Reason)
		return EventTradeFailed, prefix + string(o.Action) + " failed", b.String()
	}
	if !o.PnlStable.IsZero() {
		fmt.Fprintf(&b, "\nRealized P&L: %s USDC", signed(o.PnlStable.StringFixed(4)))
	}
	if o.Reason != "" {
		fmt.Fprintf(&b, "\nNote: %s", o.Reason)
	}
	return EventTrade, prefix + string(o.Action) + " executed", b.String()
}

// FormatStatus renders the operator status report.
func FormatStatus(st domain.BotState, cfg domain.BotConfig, now time.Time) string {
	status := "STOPPED"
	if st.IsRunning {
		status = "RUNNING"
	}

	cooldown := "None"
	if st.InCooldown(now) {
		remaining := st.CooldownUntil.Sub(now)
		cooldown = fmt.Sprintf("%ds remaining", int64((remaining+time.Second-1)/time.Second))
	}

	safe := "OFF"
	if cfg.SafeMode {
		safe = "ON"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "ETH/USDC Updown Bot Status: %s\n\n", status)
	b.WriteString("Current State:\n")
	fmt.Fprintf(&b, "- Mode: %s\n", st.Mode)
	fmt.Fprintf(&b, "- Last High: %s\n", fmtBound(st.LastHigh))
	fmt.Fprintf(&b, "- Last Low: %s\n", fmtBound(st.LastLow))
	fmt.Fprintf(&b, "- Cooldown: %s\n\n", cooldown)
	b.WriteString("Statistics:\n")
	fmt.Fprintf(&b, "- Total Trades: %d\n", st.Stats.TradeCount)
	fmt.Fprintf(&b, "- P&L (USDC): %s\n\n", signed(st.Stats.RealizedPnlStable.StringFixed(4)))
	b.WriteString("Configuration:\n")
	fmt.Fprintf(&b, "- Chain: %s\n", strings.ToUpper(cfg.Chain))
	fmt.Fprintf(&b, "- Poll Interval: %dms\n", cfg.PollIntervalMs)
	fmt.Fprintf(&b, "- Trade Percentage: %.1f%%\n", cfg.TradePct*100)
	fmt.Fprintf(&b, "- Min Trade: $%g\n", cfg.MinTradeUSD)
	fmt.Fprintf(&b, "- Slippage: %.2f%%\n", float64(cfg.SlippageBps)/100)
	fmt.Fprintf(&b, "- Break Buffer: %.2f%%\n", float64(cfg.BreakBufferBps)/100)
	fmt.Fprintf(&b, "- Cooldown: %ds\n", cfg.CooldownSec)
	fmt.Fprintf(&b, "- Safe Mode: %s", safe)
	return b.String()
}

func fmtBound(v *float64) string {
	if v == nil {
		return "Not set"
	}
	return fmt.Sprintf("$%.2f", *v)
}

func signed(s string) string {
	if s != "" && s[0] != '-' && strings.Trim(s, "0.") != "" {
		return "+" + s
	}
	return s
}
