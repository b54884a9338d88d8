package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// BotConfig holds the runtime parameters of the switcher. A value is
// immutable for the duration of a tick; updates replace it wholesale.
type BotConfig struct {
	Chain          string  `json:"chain"`
	PollIntervalMs int64   `json:"poll_interval_ms"`
	TradePct       float64 `json:"trade_pct"`
	MinTradeUSD    float64 `json:"min_trade_usd"`
	SlippageBps    int64   `json:"slippage_bps"`
	BreakBufferBps int64   `json:"break_buffer_bps"`
	CooldownSec    int64   `json:"cooldown_sec"`
	SafeMode       bool    `json:"safe_mode"`
	// StabilityPct is the largest tick-to-tick move, in percent, accepted
	// as a real price rather than an outlier.
	StabilityPct float64 `json:"stability_pct"`
}

// DefaultBotConfig returns the documented defaults.
func DefaultBotConfig() BotConfig {
	return BotConfig{
		Chain:          "base",
		PollIntervalMs: 2000,
		TradePct:       0.25,
		MinTradeUSD:    25,
		SlippageBps:    30,
		BreakBufferBps: 10,
		CooldownSec:    15,
		SafeMode:       true,
		StabilityPct:   1,
	}
}

// PollInterval returns the tick cadence as a duration.
func (c BotConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// Cooldown returns the post-trade quiet period as a duration.
func (c BotConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSec) * time.Second
}

// FieldError names one parameter that is out of bounds.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string { return e.Message }

// ValidationError carries every FieldError found by BotConfig.Validate.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Message
	}
	return fmt.Sprintf("configuration validation failed: %s", strings.Join(msgs, ", "))
}

// Is lets callers match any validation failure against ErrInvalidConfig.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// Validate returns one FieldError per violated bound. An empty result means
// the config may be applied.
func (c BotConfig) Validate() []FieldError {
	var errs []FieldError
	if !finite(c.TradePct) || !(c.TradePct > 0 && c.TradePct <= 1) {
		errs = append(errs, FieldError{"TRADE_PCT", "TRADE_PCT must be between 0 and 1"})
	}
	if !finite(c.MinTradeUSD) || !(c.MinTradeUSD > 0) {
		errs = append(errs, FieldError{"MIN_TRADE_USD", "MIN_TRADE_USD must be a finite positive number"})
	}
	if c.SlippageBps < 1 || c.SlippageBps > 10000 {
		errs = append(errs, FieldError{"SLIPPAGE_BPS", "SLIPPAGE_BPS must be between 1 and 10000"})
	}
	if c.BreakBufferBps < 0 || c.BreakBufferBps > 10000 {
		errs = append(errs, FieldError{"BREAK_BUFFER_BPS", "BREAK_BUFFER_BPS must be between 0 and 10000"})
	}
	if c.CooldownSec < 0 {
		errs = append(errs, FieldError{"COOLDOWN_SEC", "COOLDOWN_SEC must be non-negative"})
	}
	if c.PollIntervalMs < 1000 {
		errs = append(errs, FieldError{"POLL_INTERVAL_MS", "POLL_INTERVAL_MS must be at least 1000ms"})
	}
	if !finite(c.StabilityPct) || !(c.StabilityPct > 0 && c.StabilityPct <= 100) {
		errs = append(errs, FieldError{"STABILITY_PCT", "STABILITY_PCT must be between 0 and 100"})
	}
	return errs
}

// finite rejects NaN and both infinities, which decimal conversion cannot
// represent.
func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Check wraps Validate into a single error, nil when the config is valid.
func (c BotConfig) Check() error {
	if errs := c.Validate(); len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

// BotConfigPatch is a partial update. Nil fields keep their current value.
type BotConfigPatch struct {
	Chain          *string  `json:"chain,omitempty"`
	PollIntervalMs *int64   `json:"poll_interval_ms,omitempty"`
	TradePct       *float64 `json:"trade_pct,omitempty"`
	MinTradeUSD    *float64 `json:"min_trade_usd,omitempty"`
	SlippageBps    *int64   `json:"slippage_bps,omitempty"`
	BreakBufferBps *int64   `json:"break_buffer_bps,omitempty"`
	CooldownSec    *int64   `json:"cooldown_sec,omitempty"`
	SafeMode       *bool    `json:"safe_mode,omitempty"`
	StabilityPct   *float64 `json:"stability_pct,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p BotConfigPatch) Empty() bool {
	return len(p.Fields()) == 0
}

// Fields lists the parameter names the patch touches.
func (p BotConfigPatch) Fields() []string {
	var out []string
	add := func(set bool, name string) {
		if set {
			out = append(out, name)
		}
	}
	add(p.Chain != nil, "CHAIN")
	add(p.PollIntervalMs != nil, "POLL_INTERVAL_MS")
	add(p.TradePct != nil, "TRADE_PCT")
	add(p.MinTradeUSD != nil, "MIN_TRADE_USD")
	add(p.SlippageBps != nil, "SLIPPAGE_BPS")
	add(p.BreakBufferBps != nil, "BREAK_BUFFER_BPS")
	add(p.CooldownSec != nil, "COOLDOWN_SEC")
	add(p.SafeMode != nil, "SAFE_MODE")
	add(p.StabilityPct != nil, "STABILITY_PCT")
	return out
}

// Apply returns a copy of c with the patch merged in. The receiver is not
// modified and the result is not validated.
func (c BotConfig) Apply(p BotConfigPatch) BotConfig {
	out := c
	if p.Chain != nil {
		out.Chain = *p.Chain
	}
	if p.PollIntervalMs != nil {
		out.PollIntervalMs = *p.PollIntervalMs
	}
	if p.TradePct != nil {
		out.TradePct = *p.TradePct
	}
	if p.MinTradeUSD != nil {
		out.MinTradeUSD = *p.MinTradeUSD
	}
	if p.SlippageBps != nil {
		out.SlippageBps = *p.SlippageBps
	}
	if p.BreakBufferBps != nil {
		out.BreakBufferBps = *p.BreakBufferBps
	}
	if p.CooldownSec != nil {
		out.CooldownSec = *p.CooldownSec
	}
	if p.SafeMode != nil {
		out.SafeMode = *p.SafeMode
	}
	if p.StabilityPct != nil {
		out.StabilityPct = *p.StabilityPct
	}
	return out
}
