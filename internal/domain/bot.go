package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Mode names the asset currently held as the base position.
type Mode string

const (
	ModeHoldingStable   Mode = "HOLDING_STABLE"
	ModeHoldingVolatile Mode = "HOLDING_VOLATILE"
)

// Valid reports whether m is one of the two known modes.
func (m Mode) Valid() bool {
	return m == ModeHoldingStable || m == ModeHoldingVolatile
}

// PaperBalances is the safe-mode wallet, persisted with the state so a
// restart resumes the simulated position along with the channel.
type PaperBalances struct {
	Volatile decimal.Decimal `json:"volatile"`
	Stable   decimal.Decimal `json:"stable"`
}

// BotStats accumulates trade counters across restarts.
type BotStats struct {
	TradeCount        int64           `json:"trade_count"`
	RealizedPnlStable decimal.Decimal `json:"realized_pnl_stable"`
}

// BotState is the persisted breakout channel and position of the switcher.
// LastHigh and LastLow are either both nil (not yet bootstrapped) or both set.
type BotState struct {
	Mode          Mode       `json:"mode"`
	LastHigh      *float64   `json:"last_high"`
	LastLow       *float64   `json:"last_low"`
	CooldownUntil *time.Time `json:"cooldown_until"`
	IsRunning     bool       `json:"is_running"`
	Stats         BotStats   `json:"stats"`
	// EntryPrice is the fill price of the open volatile position, nil while
	// holding the stable asset.
	EntryPrice *float64 `json:"entry_price"`
	// Paper is nil until a safe-mode wallet has been attached.
	Paper     *PaperBalances `json:"paper,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// DefaultBotState returns the state used when nothing has been persisted yet.
func DefaultBotState() BotState {
	return BotState{
		Mode:  ModeHoldingStable,
		Stats: BotStats{RealizedPnlStable: decimal.Zero},
	}
}

// Bootstrapped reports whether the price channel has been initialised.
func (s BotState) Bootstrapped() bool {
	return s.LastHigh != nil && s.LastLow != nil
}

// InCooldown reports whether now falls before CooldownUntil.
func (s BotState) InCooldown(now time.Time) bool {
	return s.CooldownUntil != nil && now.Before(*s.CooldownUntil)
}

// Clone returns a deep copy so callers never share pointer fields with the
// engine-owned state.
func (s BotState) Clone() BotState {
	out := s
	out.LastHigh = cloneFloat(s.LastHigh)
	out.LastLow = cloneFloat(s.LastLow)
	out.EntryPrice = cloneFloat(s.EntryPrice)
	if s.CooldownUntil != nil {
		t := *s.CooldownUntil
		out.CooldownUntil = &t
	}
	if s.Paper != nil {
		p := *s.Paper
		out.Paper = &p
	}
	return out
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Float64Ptr is a small helper for building states in code and tests.
func Float64Ptr(v float64) *float64 {
	return &v
}
