package switcher

import (
	"math"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// Signal is the pure breakout decision for one price.
type Signal struct {
	// Bootstrap is set when the channel has no bounds yet; Action is then
	// always ActionSkip.
	Bootstrap bool
	Up        bool
	Down      bool
	Action    domain.Action
}

// Evaluate applies the channel rules to price. It does not look at cooldown
// or price stability; those gate the call.
func Evaluate(state domain.BotState, cfg domain.BotConfig, price float64) Signal {
	if !state.Bootstrapped() {
		return Signal{Bootstrap: true, Action: domain.ActionSkip}
	}

	buf := float64(cfg.BreakBufferBps) / 10000
	sig := Signal{
		Up:     price > *state.LastHigh*(1+buf),
		Down:   price < *state.LastLow*(1-buf),
		Action: domain.ActionSkip,
	}

	switch {
	case sig.Up && state.Mode == domain.ModeHoldingStable:
		sig.Action = domain.ActionBuyVolatile
	case sig.Down && state.Mode == domain.ModeHoldingVolatile:
		sig.Action = domain.ActionSellVolatile
	}
	return sig
}

// Deviation returns the absolute move from prev to price in percent.
func Deviation(prev, price float64) float64 {
	if prev == 0 {
		return 0
	}
	return math.Abs((price-prev)/prev) * 100
}

// Unstable reports whether price moved more than maxPct percent since prev.
// With no previous sample nothing is unstable.
func Unstable(prev *float64, price, maxPct float64) bool {
	if prev == nil || *prev <= 0 {
		return false
	}
	return Deviation(*prev, price) > maxPct
}
