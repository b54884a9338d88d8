package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/store/memory"
)

func startHub(t *testing.T) (*memory.SignalBus, *websocket.Conn) {
	t.Helper()
	bus := memory.NewSignalBus()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(bus, func() domain.BotStatus {
		return domain.BotStatus{Mode: "paper", Running: true, HoldingMode: domain.ModeHoldingStable}
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return bus, conn
}

func readEvent(t *testing.T, conn *websocket.Conn) (int, domain.Event) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev domain.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return kind, ev
}

func TestHub_SendsStatusOnConnect(t *testing.T) {
	_, conn := startHub(t)

	kind, ev := readEvent(t, conn)
	if kind != websocket.TextMessage {
		t.Errorf("frame type = %d, want text", kind)
	}
	if ev.Type != "bot_status" {
		t.Fatalf("first event = %q", ev.Type)
	}
	payload, _ := ev.Payload.(map[string]any)
	if payload["mode"] != "paper" || payload["running"] != true {
		t.Errorf("payload = %v", payload)
	}
}

func TestHub_RelaysBusEvents(t *testing.T) {
	bus, conn := startHub(t)
	readEvent(t, conn)

	for bus.Subscribers(domain.ChannelOutcome) == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	msg, _ := json.Marshal(domain.Event{Type: "trade", Payload: map[string]any{"action": "BUY_VOLATILE"}})
	if err := bus.Publish(context.Background(), domain.ChannelOutcome, msg); err != nil {
		t.Fatalf("publish: %v", err)
	}

	_, ev := readEvent(t, conn)
	if ev.Type != "trade" {
		t.Fatalf("event = %q, want trade", ev.Type)
	}
}

func TestClient_Subscriptions(t *testing.T) {
	c := &client{subs: map[string]bool{}}
	c.handleSubscription(subscribeMsg{Action: "subscribe", Channels: []string{"ch:*"}})
	if !c.isSubscribed(domain.ChannelOracle) {
		t.Error("pattern subscription should match")
	}
	c.handleSubscription(subscribeMsg{Action: "unsubscribe", Channels: []string{"ch:*"}})
	if c.isSubscribed(domain.ChannelOracle) {
		t.Error("unsubscribe should remove the pattern")
	}
}
