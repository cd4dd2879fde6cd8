// Package notify formats fill notifications and fans them out to the
// configured delivery channels. Delivery is best effort.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"btc-grid-core/internal/monitor"
)

// Sink receives fill notifications. Calls never fail from the caller's view.
type Sink interface {
	NotifyBuyFilled(ctx context.Context, price, qty float64)
	NotifySellFilled(ctx context.Context, price, qty float64, profit *float64)
}

// Message is one user-facing notification.
type Message struct {
	Title string    `json:"title"`
	Body  string    `json:"body"`
	At    time.Time `json:"at"`
}

// Channel delivers a message somewhere.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, msg Message) error
}

// BuyFilledMessage renders a buy fill.
func BuyFilledMessage(price, qty float64) Message {
	return Message{
		Title: "🟢 BUY Order Filled",
		Body:  fmt.Sprintf("Bought %.5f BTC @ $%.0f ($%.0f)", qty, price, price*qty),
	}
}

// SellFilledMessage renders a sell fill; profit is appended when known.
func SellFilledMessage(price, qty float64, profit *float64) Message {
	body := fmt.Sprintf("Sold %.5f BTC @ $%.0f ($%.0f)", qty, price, price*qty)
	if profit != nil {
		body += fmt.Sprintf(" +$%.2f profit!", *profit)
	}
	return Message{Title: "🔴 SELL Order Filled", Body: body}
}

// TestMessage confirms the delivery path end to end.
func TestMessage() Message {
	return Message{Title: "🧪 Test Notification", Body: "Push notifications are working!"}
}

// Dispatcher implements Sink over a set of channels.
type Dispatcher struct {
	channels []Channel
	metrics  *monitor.SystemMetrics
	timeout  time.Duration
	now      func() time.Time
}

// NewDispatcher creates a dispatcher; nil channels are skipped.
func NewDispatcher(metrics *monitor.SystemMetrics, channels ...Channel) *Dispatcher {
	d := &Dispatcher{metrics: metrics, timeout: 10 * time.Second, now: time.Now}
	for _, ch := range channels {
		if ch != nil {
			d.channels = append(d.channels, ch)
		}
	}
	return d
}

func (d *Dispatcher) NotifyBuyFilled(ctx context.Context, price, qty float64) {
	if err := d.Send(ctx, BuyFilledMessage(price, qty)); err != nil {
		log.Printf("❌ Failed to send buy notification: %v", err)
	}
}

func (d *Dispatcher) NotifySellFilled(ctx context.Context, price, qty float64, profit *float64) {
	if err := d.Send(ctx, SellFilledMessage(price, qty, profit)); err != nil {
		log.Printf("❌ Failed to send sell notification: %v", err)
	}
}

// SendTest sends the test message and reports delivery failures.
func (d *Dispatcher) SendTest(ctx context.Context) error {
	return d.Send(ctx, TestMessage())
}

// Send delivers msg to every channel. One failing channel does not stop the
// others; the joined error lists every failure.
func (d *Dispatcher) Send(ctx context.Context, msg Message) error {
	if msg.At.IsZero() {
		msg.At = d.now()
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var errs []error
	for _, ch := range d.channels {
		if err := ch.Deliver(ctx, msg); err != nil {
			d.metrics.IncrementErrors("notify")
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
		}
	}
	return errors.Join(errs...)
}

var _ Sink = (*Dispatcher)(nil)
