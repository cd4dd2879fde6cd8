package monitor

import (
	"context"
	"fmt"
	"log"
	"time"

	"btc-grid-core/internal/events"
)

// Watcher turns bus events into counters and raises alerts for trailing
// orders that ended because the exchange no longer knows them.
type Watcher struct {
	Bus     *events.Bus
	Metrics *SystemMetrics
	Alerts  AlertSink
}

func (w *Watcher) Start(ctx context.Context) {
	if w.Bus == nil {
		log.Println("watcher not configured; skipping")
		return
	}
	stream, cancel := w.Bus.SubscribeMany(events.StreamTopics, 100)
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case env, ok := <-stream:
				if !ok {
					return
				}
				w.handle(env)
			}
		}
	}()
}

func (w *Watcher) handle(env events.Envelope) {
	switch p := env.Payload.(type) {
	case events.TrailingRepriced:
		w.Metrics.IncrementReprices()
	case events.TrailingRemoved:
		w.Metrics.IncrementTrailingRemoved(p.Reason)
		if p.Reason == events.ReasonUnknownOrder && w.Alerts != nil {
			w.send(formatAlert(p.At, fmt.Sprintf("trailing %s ended: %s order %d no longer on the book", p.TrailingID, p.Side, p.OrderID)))
		}
	case events.OrderFilled:
		w.Metrics.IncrementFills()
	case events.Notification:
		w.Metrics.IncrementNotifications()
	}
}

func (w *Watcher) send(msg string) {
	if err := w.Alerts.Send(msg); err != nil {
		log.Printf("alert delivery failed: %v", err)
	}
}

func formatAlert(at time.Time, msg string) string {
	return "[" + at.Format(time.RFC3339) + "] " + msg
}
