package influx

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

type capture struct {
	points  []*write.Point
	flushed int
}

func (c *capture) WritePoint(p *write.Point) { c.points = append(c.points, p) }
func (c *capture) Flush()                    { c.flushed++ }

func fieldMap(p *write.Point) map[string]any {
	out := make(map[string]any)
	for _, f := range p.FieldList() {
		out[f.Key] = f.Value
	}
	return out
}

func tagMap(p *write.Point) map[string]string {
	out := make(map[string]string)
	for _, t := range p.TagList() {
		out[t.Key] = t.Value
	}
	return out
}

func TestRecordPrice(t *testing.T) {
	c := &capture{}
	r := newRecorder(c, "ETH-USDC", "default", slog.New(slog.NewTextHandler(io.Discard, nil)))

	ts := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	r.RecordPrice(domain.PriceSample{Price: 3120.5, Timestamp: ts, Source: domain.SourceFallback})

	if len(c.points) != 1 {
		t.Fatalf("expected 1 point, got %d", len(c.points))
	}
	p := c.points[0]
	if p.Name() != "price_samples" || !p.Time().Equal(ts) {
		t.Errorf("unexpected point %s at %v", p.Name(), p.Time())
	}
	if tagMap(p)["source"] != "fallback" {
		t.Errorf("tags = %v", tagMap(p))
	}
	f := fieldMap(p)
	if f["price"] != 3120.5 || f["degraded"] != true {
		t.Errorf("fields = %v", f)
	}
}

func TestRecordOutcome(t *testing.T) {
	c := &capture{}
	r := newRecorder(c, "ETH-USDC", "default", slog.New(slog.NewTextHandler(io.Discard, nil)))

	r.RecordOutcome(domain.TradeOutcome{
		Success:   true,
		Action:    domain.ActionBuyVolatile,
		Price:     3504,
		Quantity:  decimal.RequireFromString("250"),
		LastLow:   domain.Float64Ptr(3504),
		Simulated: true,
		Timestamp: time.Now(),
	})
	r.Close()

	p := c.points[0]
	if p.Name() != "trade_outcomes" {
		t.Fatalf("measurement = %s", p.Name())
	}
	f := fieldMap(p)
	if f["quantity"] != 250.0 || f["last_low"] != 3504.0 {
		t.Errorf("fields = %v", f)
	}
	if _, ok := f["last_high"]; ok {
		t.Error("nil bound should be omitted")
	}
	if tagMap(p)["simulated"] != "true" || c.flushed != 1 {
		t.Errorf("tags = %v flushed=%d", tagMap(p), c.flushed)
	}
}
