package switcher

import (
	"testing"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

func TestEvaluate(t *testing.T) {
	cfg := domain.DefaultBotConfig() // 10 bps buffer
	stable := *channel(domain.ModeHoldingStable, 3500, 3400)
	volatile := *channel(domain.ModeHoldingVolatile, 3500, 3400)

	cases := []struct {
		name  string
		state domain.BotState
		price float64
		want  domain.Action
	}{
		{"inside channel", stable, 3450, domain.ActionSkip},
		{"just under upper buffer", stable, 3503, domain.ActionSkip},
		{"clears upper buffer", stable, 3504, domain.ActionBuyVolatile},
		{"up breakout while volatile", volatile, 3600, domain.ActionSkip},
		{"just above lower buffer", volatile, 3397, domain.ActionSkip},
		{"clears lower buffer", volatile, 3396, domain.ActionSellVolatile},
		{"down breakout while stable", stable, 3300, domain.ActionSkip},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sig := Evaluate(tc.state, cfg, tc.price)
			if sig.Action != tc.want {
				t.Errorf("Evaluate(%v) = %s, want %s", tc.price, sig.Action, tc.want)
			}
			if sig.Bootstrap {
				t.Error("bootstrapped state reported as bootstrap")
			}
		})
	}
}

func TestEvaluate_UnbootstrappedState(t *testing.T) {
	sig := Evaluate(domain.DefaultBotState(), domain.DefaultBotConfig(), 3500)
	if !sig.Bootstrap || sig.Action != domain.ActionSkip {
		t.Fatalf("expected bootstrap skip, got %+v", sig)
	}
}

func TestEvaluate_ZeroBufferIsStrict(t *testing.T) {
	cfg := domain.DefaultBotConfig()
	cfg.BreakBufferBps = 0
	st := *channel(domain.ModeHoldingStable, 3500, 3400)

	if Evaluate(st, cfg, 3500).Action != domain.ActionSkip {
		t.Error("touching the high is not a breakout")
	}
	if Evaluate(st, cfg, 3500.01).Action != domain.ActionBuyVolatile {
		t.Error("any move above the high is a breakout with no buffer")
	}
}

func TestUnstable(t *testing.T) {
	prev := 3000.0
	if Unstable(nil, 5000, 1) {
		t.Error("no previous sample is never unstable")
	}
	if Unstable(&prev, 3030, 1) {
		t.Error("exactly 1% is within the threshold")
	}
	if !Unstable(&prev, 3031, 1) {
		t.Error("above 1% is unstable")
	}
	if !Unstable(&prev, 2969, 1) {
		t.Error("drops count as well")
	}
}
