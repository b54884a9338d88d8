package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// clearEnv unsets every override the tests touch so a developer's shell
// cannot leak into them.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, "UPDOWN_") {
			t.Setenv(key, "")
		}
	}
	for _, key := range []string{"PRIVATE_KEY", "RPC_URL", "CHAIN", "TRADE_PCT", "MIN_TRADE_USD",
		"SLIPPAGE_BPS", "BREAK_BUFFER_BPS", "COOLDOWN_SEC", "POLL_INTERVAL_MS", "SAFE_MODE", "DATABASE_URL"} {
		t.Setenv(key, "")
	}
}

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultsMatchBotDefaults(t *testing.T) {
	cfg := Defaults()
	if got, want := cfg.Params(), domain.DefaultBotConfig(); got != want {
		t.Fatalf("Params() = %+v, want %+v", got, want)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	clearEnv(t)
	path := writeTOML(t, `
mode = "simulate"

[chain]
rpc_url = "https://base.example"

[bot]
trade_pct = 0.5
call_timeout = "3s"

[state]
backend = "memory"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bot.TradePct != 0.5 {
		t.Errorf("trade_pct = %v", cfg.Bot.TradePct)
	}
	if cfg.Bot.CallTimeout.Duration != 3*time.Second {
		t.Errorf("call_timeout = %v", cfg.Bot.CallTimeout)
	}
	if cfg.Bot.SlippageBps != 30 {
		t.Errorf("untouched slippage lost its default: %d", cfg.Bot.SlippageBps)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoad_EnvAliasesAndOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("TRADE_PCT", "0.4")
	t.Setenv("SAFE_MODE", "off")
	t.Setenv("POLL_INTERVAL_MS", "5000")
	t.Setenv("RPC_URL", "https://alias.example")
	t.Setenv("UPDOWN_CHAIN_RPC_URL", "https://prefixed.example")
	t.Setenv("UPDOWN_NOTIFY_EVENTS", "trade, lifecycle ,")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bot.TradePct != 0.4 || cfg.Bot.SafeMode || cfg.Bot.PollIntervalMs != 5000 {
		t.Errorf("aliases not applied: %+v", cfg.Bot)
	}
	if cfg.Chain.RPCURL != "https://prefixed.example" {
		t.Errorf("UPDOWN_ value should win over alias, got %q", cfg.Chain.RPCURL)
	}
	if len(cfg.Notify.Events) != 2 || cfg.Notify.Events[1] != "lifecycle" {
		t.Errorf("events = %q", cfg.Notify.Events)
	}
}

func TestLoad_MalformedEnvIgnored(t *testing.T) {
	clearEnv(t)
	t.Setenv("SLIPPAGE_BPS", "thirty")
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Bot.SlippageBps != 30 {
		t.Errorf("slippage = %d, want default", cfg.Bot.SlippageBps)
	}
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "simulate"
	cfg.Chain.RPCURL = "https://base.example"
	cfg.Bot.TradePct = 2
	cfg.Bot.PollIntervalMs = 10
	cfg.State.Backend = "sqlite"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"TRADE_PCT", "POLL_INTERVAL_MS", "sqlite"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q: %v", want, err)
		}
	}
}

func TestValidate_RejectsInfiniteNumbers(t *testing.T) {
	clearEnv(t)
	t.Setenv("UPDOWN_PAPER_STARTING_STABLE", "+Inf")
	path := writeTOML(t, `
mode = "simulate"

[chain]
rpc_url = "https://base.example"
fallback_price = inf

[bot]
min_trade_usd = inf

[state]
backend = "memory"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	err = cfg.Validate()
	if err == nil {
		t.Fatal("expected infinite values to be rejected")
	}
	for _, want := range []string{"MIN_TRADE_USD", "fallback_price", "paper"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q: %v", want, err)
		}
	}
}

func TestValidate_SwapTimeoutCoversCallTimeout(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "status"
	cfg.State.Backend = "memory"
	cfg.Bot.SwapTimeout.Duration = time.Second
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "swap_timeout") {
		t.Fatalf("expected swap_timeout error, got %v", err)
	}
}

func TestValidateEnvironment(t *testing.T) {
	cfg := Defaults()
	cfg.State.Backend = "memory"

	cfg.Mode = "run"
	err := cfg.Validate()
	if !errors.Is(err, domain.ErrMissingEnvironment) {
		t.Fatalf("run without key or rpc: got %v", err)
	}
	if !strings.Contains(err.Error(), "PRIVATE_KEY") || !strings.Contains(err.Error(), "RPC_URL") {
		t.Errorf("error should name both settings: %v", err)
	}

	cfg.Mode = "simulate"
	cfg.Chain.RPCURL = "https://base.example"
	if err := cfg.ValidateEnvironment(); err != nil {
		t.Errorf("simulate needs no key: %v", err)
	}

	cfg.Mode = "status"
	cfg.Chain.RPCURL = ""
	if err := cfg.ValidateEnvironment(); err != nil {
		t.Errorf("status needs no chain access: %v", err)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "0xabc"
	cfg.Chain.RPCURL = "https://base.example/v2/key"
	cfg.Notify.TelegramToken = "tok"

	out := RedactedConfig(&cfg)
	if out.Wallet.PrivateKey != redacted || out.Chain.RPCURL != redacted || out.Notify.TelegramToken != redacted {
		t.Errorf("secrets not redacted: %+v", out)
	}
	if out.Wallet.KeyPassword != "" {
		t.Error("empty secrets should stay empty")
	}
	out.Notify.Events[0] = "changed"
	if cfg.Notify.Events[0] == "changed" {
		t.Error("redacted copy shares the events slice")
	}
	if cfg.Wallet.PrivateKey != "0xabc" {
		t.Error("original mutated")
	}
}
