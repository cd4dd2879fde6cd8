package db

import (
	"context"
	"fmt"
	"time"
)

// DeviceToken is a push token registered by a signed-in device.
type DeviceToken struct {
	Token         string
	DeviceID      string
	DeviceName    string
	Platform      string
	UseProduction bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TrailingEvent is one audit row for a trailing order.
type TrailingEvent struct {
	ID             int64
	TrailingID     string
	Kind           string // repriced | removed
	Side           string
	OldOrderID     int64
	NewOrderID     int64
	OldPrice       float64
	NewPrice       float64
	ReferencePrice float64
	MarketPrice    float64
	Reason         string
	CreatedAt      time.Time
}

// FillEvent is a fill reported by the fill monitor.
type FillEvent struct {
	TradeID    int64
	OrderID    int64
	Side       string
	Price      float64
	Qty        float64
	FilledAt   time.Time
	RecordedAt time.Time
}

// Statements shared with the batch writer.
const (
	InsertTrailingEventSQL = `
		INSERT INTO trailing_events (
			trailing_id, kind, side, old_order_id, new_order_id,
			old_price, new_price, reference_price, market_price, reason, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	InsertFillEventSQL = `
		INSERT OR IGNORE INTO fill_events (
			trade_id, order_id, side, price, qty, filled_at, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`
)

// TrailingEventArgs returns the arguments for InsertTrailingEventSQL.
func TrailingEventArgs(e TrailingEvent) []any {
	return []any{
		e.TrailingID, e.Kind, e.Side, e.OldOrderID, e.NewOrderID,
		e.OldPrice, e.NewPrice, e.ReferencePrice, e.MarketPrice, e.Reason, millis(e.CreatedAt),
	}
}

// FillEventArgs returns the arguments for InsertFillEventSQL.
func FillEventArgs(f FillEvent) []any {
	return []any{f.TradeID, f.OrderID, f.Side, f.Price, f.Qty, millis(f.FilledAt), millis(f.RecordedAt)}
}

// CreateTrailingEvent inserts one audit row.
func (d *Database) CreateTrailingEvent(ctx context.Context, e TrailingEvent) error {
	_, err := d.DB.ExecContext(ctx, InsertTrailingEventSQL, TrailingEventArgs(e)...)
	return err
}

// CreateFillEvent inserts a fill; duplicates of the same trade are ignored.
func (d *Database) CreateFillEvent(ctx context.Context, f FillEvent) error {
	_, err := d.DB.ExecContext(ctx, InsertFillEventSQL, FillEventArgs(f)...)
	return err
}

// ListTrailingEvents returns the newest events first.
func (d *Database) ListTrailingEvents(ctx context.Context, limit int) ([]TrailingEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, trailing_id, kind, side, old_order_id, new_order_id,
		       old_price, new_price, reference_price, market_price, reason, created_at
		FROM trailing_events
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query trailing events: %w", err)
	}
	defer rows.Close()

	var out []TrailingEvent
	for rows.Next() {
		var (
			e  TrailingEvent
			ms int64
		)
		if err := rows.Scan(&e.ID, &e.TrailingID, &e.Kind, &e.Side, &e.OldOrderID, &e.NewOrderID,
			&e.OldPrice, &e.NewPrice, &e.ReferencePrice, &e.MarketPrice, &e.Reason, &ms); err != nil {
			return nil, fmt.Errorf("scan trailing event: %w", err)
		}
		e.CreatedAt = time.UnixMilli(ms)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListFillEvents returns the newest fills first.
func (d *Database) ListFillEvents(ctx context.Context, limit int) ([]FillEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT trade_id, order_id, side, price, qty, filled_at, recorded_at
		FROM fill_events
		ORDER BY filled_at DESC, trade_id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query fill events: %w", err)
	}
	defer rows.Close()

	var out []FillEvent
	for rows.Next() {
		var (
			f                FillEvent
			filled, recorded int64
		)
		if err := rows.Scan(&f.TradeID, &f.OrderID, &f.Side, &f.Price, &f.Qty, &filled, &recorded); err != nil {
			return nil, fmt.Errorf("scan fill event: %w", err)
		}
		f.FilledAt = time.UnixMilli(filled)
		f.RecordedAt = time.UnixMilli(recorded)
		out = append(out, f)
	}
	return out, rows.Err()
}

// ListDeviceTokens returns every registered token for fan-out.
func (d *Database) ListDeviceTokens(ctx context.Context) ([]DeviceToken, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT token, device_id, COALESCE(device_name, ''), platform,
		       COALESCE(use_production, 0), created_at, updated_at
		FROM device_tokens
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("query device tokens: %w", err)
	}
	defer rows.Close()
	return scanTokens(rows)
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return time.Now().UnixMilli()
	}
	return t.UnixMilli()
}
