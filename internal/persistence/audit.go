package persistence

import (
	"context"
	"log"
	"time"

	"btc-grid-core/internal/events"
	"btc-grid-core/pkg/db"
)

// AuditLog writes trailing and fill events from the bus to the audit tables.
type AuditLog struct {
	bus    *events.Bus
	writer *BatchWriter
}

func NewAuditLog(bus *events.Bus, writer *BatchWriter) *AuditLog {
	return &AuditLog{bus: bus, writer: writer}
}

// Start subscribes and records until ctx is done.
func (a *AuditLog) Start(ctx context.Context) {
	if a.bus == nil || a.writer == nil {
		log.Println("audit log not configured; skipping")
		return
	}
	stream, cancel := a.bus.SubscribeMany([]events.Event{
		events.EventTrailingRepriced,
		events.EventTrailingRemoved,
		events.EventOrderFilled,
	}, 256)

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
				a.Record(env)
			}
		}
	}()
	log.Println("✓ Audit log recording trailing and fill events")
}

// Record buffers one event. Unknown payloads are ignored.
func (a *AuditLog) Record(env events.Envelope) {
	switch p := env.Payload.(type) {
	case events.TrailingRepriced:
		a.writer.Write(WriteOp{
			Table: "trailing_events",
			Query: db.InsertTrailingEventSQL,
			Args: db.TrailingEventArgs(db.TrailingEvent{
				TrailingID:     p.TrailingID,
				Kind:           "repriced",
				Side:           p.Side,
				OldOrderID:     p.OldOrderID,
				NewOrderID:     p.NewOrderID,
				OldPrice:       p.OldPrice,
				NewPrice:       p.NewPrice,
				ReferencePrice: p.ReferencePrice,
				MarketPrice:    p.MarketPrice,
				CreatedAt:      p.At,
			}),
		})
	case events.TrailingRemoved:
		a.writer.Write(WriteOp{
			Table: "trailing_events",
			Query: db.InsertTrailingEventSQL,
			Args: db.TrailingEventArgs(db.TrailingEvent{
				TrailingID: p.TrailingID,
				Kind:       "removed",
				Side:       p.Side,
				OldOrderID: p.OrderID,
				Reason:     p.Reason,
				CreatedAt:  p.At,
			}),
		})
	case events.OrderFilled:
		a.writer.Write(WriteOp{
			Table: "fill_events",
			Query: db.InsertFillEventSQL,
			Args: db.FillEventArgs(db.FillEvent{
				TradeID:    p.TradeID,
				OrderID:    p.OrderID,
				Side:       p.Side,
				Price:      p.Price,
				Qty:        p.Quantity,
				FilledAt:   p.At,
				RecordedAt: time.Now(),
			}),
		})
	}
}
