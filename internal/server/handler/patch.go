package handler

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// configKeys maps accepted parameter names to setters. Keys are matched
// case-insensitively, so both TRADE_PCT and trade_pct work.
var configKeys = map[string]func(p *domain.BotConfigPatch, raw json.RawMessage) error{
	"CHAIN": func(p *domain.BotConfigPatch, raw json.RawMessage) error {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("must be a string")
		}
		s = strings.ToLower(strings.TrimSpace(s))
		p.Chain = &s
		return nil
	},
	"POLL_INTERVAL_MS": func(p *domain.BotConfigPatch, raw json.RawMessage) error {
		return setInt(&p.PollIntervalMs, raw)
	},
	"TRADE_PCT": func(p *domain.BotConfigPatch, raw json.RawMessage) error {
		return setFloat(&p.TradePct, raw)
	},
	"MIN_TRADE_USD": func(p *domain.BotConfigPatch, raw json.RawMessage) error {
		return setFloat(&p.MinTradeUSD, raw)
	},
	"SLIPPAGE_BPS": func(p *domain.BotConfigPatch, raw json.RawMessage) error {
		return setInt(&p.SlippageBps, raw)
	},
	"BREAK_BUFFER_BPS": func(p *domain.BotConfigPatch, raw json.RawMessage) error {
		return setInt(&p.BreakBufferBps, raw)
	},
	"COOLDOWN_SEC": func(p *domain.BotConfigPatch, raw json.RawMessage) error {
		return setInt(&p.CooldownSec, raw)
	},
	"SAFE_MODE": func(p *domain.BotConfigPatch, raw json.RawMessage) error {
		return setBool(&p.SafeMode, raw)
	},
	"STABILITY_PCT": func(p *domain.BotConfigPatch, raw json.RawMessage) error {
		return setFloat(&p.StabilityPct, raw)
	},
}

// parsePatch turns a JSON object of parameter names into a patch. Numbers
// and booleans may also arrive as strings.
func parsePatch(body map[string]json.RawMessage) (domain.BotConfigPatch, []domain.FieldError) {
	var (
		patch domain.BotConfigPatch
		errs  []domain.FieldError
	)
	keys := make([]string, 0, len(body))
	for k := range body {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		name := strings.ToUpper(strings.TrimSpace(k))
		set, ok := configKeys[name]
		if !ok {
			errs = append(errs, domain.FieldError{Field: k, Message: "unknown parameter " + k})
			continue
		}
		if err := set(&patch, body[k]); err != nil {
			errs = append(errs, domain.FieldError{Field: name, Message: name + " " + err.Error()})
		}
	}
	return patch, errs
}

func unquote(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(raw))
}

func setInt(dst **int64, raw json.RawMessage) error {
	v := unquote(raw)
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(v, 64)
		if ferr != nil || f != float64(int64(f)) {
			return fmt.Errorf("must be an integer")
		}
		n = int64(f)
	}
	*dst = &n
	return nil
}

func setFloat(dst **float64, raw json.RawMessage) error {
	f, err := strconv.ParseFloat(unquote(raw), 64)
	if err != nil {
		return fmt.Errorf("must be a number")
	}
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return fmt.Errorf("must be a finite number")
	}
	*dst = &f
	return nil
}

func setBool(dst **bool, raw json.RawMessage) error {
	var b bool
	switch strings.ToLower(unquote(raw)) {
	case "true", "on", "1", "yes":
		b = true
	case "false", "off", "0", "no":
		b = false
	default:
		return fmt.Errorf("must be a boolean")
	}
	*dst = &b
	return nil
}
