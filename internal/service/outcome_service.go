// Package service fans engine events out to persistence, the signal bus,
// metrics and operator notifications.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/notify"
	"github.com/alanyoungcy/updownbot/internal/switcher"
)

// notifyTimeout bounds one asynchronous notification fan-out.
const notifyTimeout = 30 * time.Second

// Alerter delivers operator notifications.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// MetricsRecorder stores time series.
type MetricsRecorder interface {
	RecordPrice(sample domain.PriceSample)
	RecordOutcome(o domain.TradeOutcome)
}

// OutcomeDeps are the sinks. Every field is optional.
type OutcomeDeps struct {
	Outcomes domain.OutcomeStore
	Audit    domain.AuditStore
	Bus      domain.SignalBus
	Alerts   Alerter
	Metrics  MetricsRecorder
}

// OutcomeService implements switcher.Observer. Sink failures are logged and
// never reach the engine. Notifications run in the background so a slow chat
// API cannot stretch a tick.
type OutcomeService struct {
	deps   OutcomeDeps
	logger *slog.Logger
	now    func() time.Time

	wg sync.WaitGroup
}

// NewOutcomeService creates an OutcomeService.
func NewOutcomeService(deps OutcomeDeps, logger *slog.Logger) *OutcomeService {
	return &OutcomeService{
		deps:   deps,
		logger: logger.With(slog.String("component", "outcome_service")),
		now:    time.Now,
	}
}

var _ switcher.Observer = (*OutcomeService)(nil)

func (s *OutcomeService) OnPrice(_ context.Context, sample domain.PriceSample) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordPrice(sample)
	}
}

// OnOutcome records a trade attempt everywhere it belongs.
func (s *OutcomeService) OnOutcome(ctx context.Context, o domain.TradeOutcome) {
	if s.deps.Outcomes != nil {
		if err := s.deps.Outcomes.Insert(ctx, o); err != nil {
			s.logger.ErrorContext(ctx, "outcome insert failed",
				slog.String("outcome_id", o.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.deps.Bus != nil {
		if payload, ok := s.event(ctx, "outcome", o); ok {
			s.publish(ctx, domain.ChannelOutcome, payload)
			if err := s.deps.Bus.StreamAppend(ctx, domain.StreamOutcomes, payload); err != nil {
				s.logger.WarnContext(ctx, "outcome stream append failed", slog.String("error", err.Error()))
			}
		}
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordOutcome(o)
	}

	s.audit(ctx, "trade", map[string]any{
		"outcome_id": o.ID,
		"action":     string(o.Action),
		"success":    o.Success,
		"price":      o.Price,
		"quantity":   o.Quantity.String(),
		"tx_ref":     o.TxRef,
		"reason":     o.Reason,
		"simulated":  o.Simulated,
	})

	event, title, msg := notify.FormatOutcome(o)
	s.alert(ctx, event, title, msg)
}

// OnState publishes every committed state for live dashboards.
func (s *OutcomeService) OnState(ctx context.Context, st domain.BotState) {
	if s.deps.Bus == nil {
		return
	}
	if payload, ok := s.event(ctx, "state", st); ok {
		s.publish(ctx, domain.ChannelState, payload)
	}
}

// OnConfig audits an applied config change.
func (s *OutcomeService) OnConfig(ctx context.Context, fields []string, cfg domain.BotConfig) {
	s.audit(ctx, "config_updated", map[string]any{
		"fields": fields,
		"config": cfg,
	})
	if s.deps.Bus != nil {
		if payload, ok := s.event(ctx, "config", cfg); ok {
			s.publish(ctx, domain.ChannelState, payload)
		}
	}
	s.alert(ctx, notify.EventConfig, "Configuration updated", joinFields(fields))
}

// OnLifecycle records a start or stop requested by source ("api",
// "auto_start").
func (s *OutcomeService) OnLifecycle(ctx context.Context, running bool, source string) {
	event, title := "bot_stopped", "Bot stopped"
	if running {
		event, title = "bot_started", "Bot started"
	}
	s.audit(ctx, event, map[string]any{"source": source})
	s.alert(ctx, notify.EventLifecycle, title, "Requested by "+source)
}

// OracleFallback is handed to the oracle as its degraded-price alert.
func (s *OutcomeService) OracleFallback(ctx context.Context, sample domain.PriceSample, cause error) {
	reason := "no pool returned a positive price"
	if cause != nil {
		reason = cause.Error()
	}
	s.audit(ctx, "oracle_fallback", map[string]any{
		"price":  sample.Price,
		"reason": reason,
	})
	s.alert(ctx, notify.EventOracleFallback, "Oracle degraded",
		"Serving fallback price $"+formatPrice(sample.Price)+": "+reason)
}

// Wait blocks until background notifications finish.
func (s *OutcomeService) Wait() {
	s.wg.Wait()
}

func (s *OutcomeService) event(ctx context.Context, typ string, payload any) ([]byte, bool) {
	b, err := json.Marshal(domain.Event{Type: typ, Payload: payload, At: s.now().UTC()})
	if err != nil {
		s.logger.ErrorContext(ctx, "marshal event failed",
			slog.String("type", typ),
			slog.String("error", err.Error()),
		)
		return nil, false
	}
	return b, true
}

func (s *OutcomeService) publish(ctx context.Context, channel string, payload []byte) {
	if err := s.deps.Bus.Publish(ctx, channel, payload); err != nil {
		s.logger.WarnContext(ctx, "publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

func (s *OutcomeService) audit(ctx context.Context, event string, detail map[string]any) {
	if s.deps.Audit == nil {
		return
	}
	if err := s.deps.Audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *OutcomeService) alert(ctx context.Context, event, title, message string) {
	if s.deps.Alerts == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		// Senders log their own failures.
		_ = s.deps.Alerts.Notify(nctx, event, title, message)
	}()
}

func joinFields(fields []string) string {
	if len(fields) == 0 {
		return "No fields changed"
	}
	return "Changed: " + strings.Join(fields, ", ")
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', 2, 64)
}
