// Package influx writes price samples and trade outcomes to InfluxDB as
// time series for dashboards.
package influx

import (
	"context"
	"fmt"
	"log/slog"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// Config locates the bucket.
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// pointWriter is the part of api.WriteAPI the recorder uses.
type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// Recorder writes points through the non-blocking write API. Writes are
// batched by the client; errors surface asynchronously and are logged.
type Recorder struct {
	client   influxdb2.Client
	writer   pointWriter
	pair     string
	instance string
	logger   *slog.Logger
}

// New connects, checks health and starts draining write errors.
func New(ctx context.Context, cfg Config, pair, instance string, logger *slog.Logger) (*Recorder, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influx: health: %w", err)
	}
	if health == nil || health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("influx: unhealthy: %+v", health)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	r := newRecorder(writeAPI, pair, instance, logger)
	r.client = client

	go func() {
		for err := range writeAPI.Errors() {
			r.logger.Warn("influx write failed", slog.String("error", err.Error()))
		}
	}()
	return r, nil
}

func newRecorder(w pointWriter, pair, instance string, logger *slog.Logger) *Recorder {
	return &Recorder{
		writer:   w,
		pair:     pair,
		instance: instance,
		logger:   logger.With(slog.String("component", "influx")),
	}
}

// RecordPrice writes one price_samples point.
func (r *Recorder) RecordPrice(sample domain.PriceSample) {
	r.writer.WritePoint(influxdb2.NewPoint(
		"price_samples",
		map[string]string{
			"pair":     r.pair,
			"source":   string(sample.Source),
			"instance": r.instance,
		},
		map[string]any{
			"price":    sample.Price,
			"degraded": sample.Degraded(),
		},
		sample.Timestamp,
	))
}

// RecordOutcome writes one trade_outcomes point.
func (r *Recorder) RecordOutcome(o domain.TradeOutcome) {
	qty, _ := o.Quantity.Float64()
	pnl, _ := o.PnlStable.Float64()

	fields := map[string]any{
		"price":    o.Price,
		"quantity": qty,
		"pnl":      pnl,
		"success":  o.Success,
	}
	if o.LastHigh != nil {
		fields["last_high"] = *o.LastHigh
	}
	if o.LastLow != nil {
		fields["last_low"] = *o.LastLow
	}

	r.writer.WritePoint(influxdb2.NewPoint(
		"trade_outcomes",
		map[string]string{
			"action":    string(o.Action),
			"simulated": fmt.Sprintf("%t", o.Simulated),
			"instance":  r.instance,
		},
		fields,
		o.Timestamp,
	))
}

// Close flushes pending points and closes the client.
func (r *Recorder) Close() {
	r.writer.Flush()
	if r.client != nil {
		r.client.Close()
	}
}
