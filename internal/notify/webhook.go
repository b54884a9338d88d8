package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/updownbot/internal/crypto"
)

// Webhook signature headers.
const (
	HeaderTimestamp = "X-Updown-Timestamp"
	HeaderSignature = "X-Updown-Signature"
)

// WebhookSender posts JSON {title, message, sent_at} to an arbitrary URL.
// With a secret, requests carry an HMAC-SHA256 signature over
// "<timestamp>.<body>".
type WebhookSender struct {
	url    string
	secret string
	client *http.Client
	now    func() time.Time
}

// NewWebhookSender creates a WebhookSender with a 10s HTTP timeout.
func NewWebhookSender(url, secret string) *WebhookSender {
	return &WebhookSender{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

func (w *WebhookSender) Send(ctx context.Context, title, message string) error {
	now := w.now().UTC()
	body, err := json.Marshal(map[string]any{
		"title":   title,
		"message": message,
		"sent_at": now.Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.secret != "" {
		ts := now.Unix()
		req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
		req.Header.Set(HeaderSignature, crypto.SignWebhook(w.secret, ts, body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func (w *WebhookSender) Name() string {
	return "webhook"
}
