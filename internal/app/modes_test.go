package app

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/updownbot/internal/config"
	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/store/memory"
)

type recordingArchiver struct {
	before []time.Time
}

func (r *recordingArchiver) ArchiveOutcomes(_ context.Context, before time.Time) (int64, error) {
	r.before = append(r.before, before)
	return 3, nil
}

func newTestApp(t *testing.T) (*App, *bytes.Buffer) {
	t.Helper()
	cfg := config.Defaults()
	cfg.State.Backend = "memory"
	a := New(&cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	var out bytes.Buffer
	a.out = &out
	a.now = func() time.Time { return time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC) }
	return a, &out
}

func TestStatusMode_PrintsPersistedState(t *testing.T) {
	a, out := newTestApp(t)
	states := memory.NewStateStore()
	st := domain.DefaultBotState()
	st.Mode = domain.ModeHoldingVolatile
	st.Stats.TradeCount = 7
	if err := states.Save(context.Background(), st); err != nil {
		t.Fatal(err)
	}

	deps := &Dependencies{StateStore: states, ConfigStore: memory.NewBotConfigStore()}
	if err := a.StatusMode(context.Background(), deps); err != nil {
		t.Fatalf("StatusMode: %v", err)
	}
	if !strings.Contains(out.String(), "Total Trades: 7") {
		t.Errorf("report missing trade count:\n%s", out.String())
	}
}

func TestStatusMode_PrefersPersistedConfig(t *testing.T) {
	a, _ := newTestApp(t)
	configs := memory.NewBotConfigStore()
	stored := domain.DefaultBotConfig()
	stored.TradePct = 0.5
	if err := configs.Upsert(context.Background(), a.cfg.Bot.Instance, stored); err != nil {
		t.Fatal(err)
	}

	got := a.botParams(context.Background(), &Dependencies{ConfigStore: configs})
	if got.TradePct != 0.5 {
		t.Errorf("TradePct = %v, want persisted 0.5", got.TradePct)
	}

	stored.TradePct = 5
	_ = configs.Upsert(context.Background(), a.cfg.Bot.Instance, stored)
	if got := a.botParams(context.Background(), &Dependencies{ConfigStore: configs}); got.TradePct != a.cfg.Bot.TradePct {
		t.Errorf("invalid persisted config should be ignored, got %v", got.TradePct)
	}
}

func TestArchiveMode_UsesRetentionCutoff(t *testing.T) {
	a, _ := newTestApp(t)
	a.cfg.Archive.RetentionDays = 30
	arch := &recordingArchiver{}

	if err := a.ArchiveMode(context.Background(), &Dependencies{Archiver: arch}); err != nil {
		t.Fatalf("ArchiveMode: %v", err)
	}
	want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if len(arch.before) != 1 || !arch.before[0].Equal(want) {
		t.Errorf("cutoff = %v, want %v", arch.before, want)
	}
}

func TestArchiveMode_RequiresArchiver(t *testing.T) {
	a, _ := newTestApp(t)
	if err := a.ArchiveMode(context.Background(), &Dependencies{}); err == nil {
		t.Fatal("expected error without an archiver")
	}
}
