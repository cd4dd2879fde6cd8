package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"

	"btc-grid-core/internal/events"
	"btc-grid-core/pkg/db"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// BusChannel republishes messages for websocket clients.
type BusChannel struct {
	Bus *events.Bus
}

func (BusChannel) Name() string { return "bus" }

func (c BusChannel) Deliver(_ context.Context, msg Message) error {
	c.Bus.Publish(events.EventNotification, events.Notification{Title: msg.Title, Body: msg.Body, At: msg.At})
	return nil
}

// LogChannel writes messages to the process log.
type LogChannel struct{}

func (LogChannel) Name() string { return "log" }

func (LogChannel) Deliver(_ context.Context, msg Message) error {
	log.Printf("🔔 %s: %s", msg.Title, msg.Body)
	return nil
}

// TokenSource lists the device tokens a push should reach.
type TokenSource interface {
	ListDeviceTokens(ctx context.Context) ([]db.DeviceToken, error)
}

// WebhookChannel POSTs messages with the registered device tokens to a push
// relay. Nothing is sent while no device is registered.
type WebhookChannel struct {
	url    string
	tokens TokenSource
	client *http.Client
}

type webhookPayload struct {
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	Tokens  []string `json:"tokens"`
	SentAt  int64    `json:"sent_at"`
	Sandbox []string `json:"sandbox_tokens,omitempty"`
}

func NewWebhookChannel(url string, tokens TokenSource) *WebhookChannel {
	return &WebhookChannel{
		url:    url,
		tokens: tokens,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (*WebhookChannel) Name() string { return "webhook" }

func (c *WebhookChannel) Deliver(ctx context.Context, msg Message) error {
	registered, err := c.tokens.ListDeviceTokens(ctx)
	if err != nil {
		return fmt.Errorf("list tokens: %w", err)
	}
	if len(registered) == 0 {
		return nil
	}

	payload := webhookPayload{Title: msg.Title, Body: msg.Body, SentAt: msg.At.UnixMilli()}
	for _, t := range registered {
		if t.UseProduction {
			payload.Tokens = append(payload.Tokens, t.Token)
		} else {
			payload.Sandbox = append(payload.Sandbox, t.Token)
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("webhook status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	log.Printf("✅ Notification sent to %d devices", len(registered))
	return nil
}
