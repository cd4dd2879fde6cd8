// Package db stores device tokens and the trailing/fill audit trail in SQLite.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	ErrDeviceIDRequired = errors.New("device_id is required")
	ErrNotFound         = errors.New("record not found")
)

// DeviceQueries scopes token access to a single device.
type DeviceQueries struct {
	db *sql.DB
}

// NewDeviceQueries creates a new DeviceQueries instance.
func NewDeviceQueries(db *sql.DB) *DeviceQueries {
	return &DeviceQueries{db: db}
}

// Queries returns the device-scoped query set.
func (d *Database) Queries() *DeviceQueries {
	return NewDeviceQueries(d.DB)
}

// UpsertToken registers t.Token for t.DeviceID. A token moving to another
// device is reassigned.
func (q *DeviceQueries) UpsertToken(ctx context.Context, t DeviceToken) error {
	if t.DeviceID == "" {
		return ErrDeviceIDRequired
	}
	if t.Token == "" {
		return errors.New("token is required")
	}
	now := time.Now().UnixMilli()
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO device_tokens (token, device_id, device_name, platform, use_production, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(token) DO UPDATE SET
			device_id = excluded.device_id,
			device_name = excluded.device_name,
			platform = excluded.platform,
			use_production = excluded.use_production,
			updated_at = excluded.updated_at
	`, t.Token, t.DeviceID, t.DeviceName, t.Platform, boolInt(t.UseProduction), now, now)
	if err != nil {
		return fmt.Errorf("upsert device token: %w", err)
	}
	return nil
}

// DeleteToken removes a token owned by deviceID.
func (q *DeviceQueries) DeleteToken(ctx context.Context, deviceID, token string) error {
	if deviceID == "" {
		return ErrDeviceIDRequired
	}
	res, err := q.db.ExecContext(ctx, `DELETE FROM device_tokens WHERE device_id = ? AND token = ?`, deviceID, token)
	if err != nil {
		return fmt.Errorf("delete device token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// TokensByDevice lists the tokens registered by deviceID.
func (q *DeviceQueries) TokensByDevice(ctx context.Context, deviceID string) ([]DeviceToken, error) {
	if deviceID == "" {
		return nil, ErrDeviceIDRequired
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT token, device_id, COALESCE(device_name, ''), platform,
		       COALESCE(use_production, 0), created_at, updated_at
		FROM device_tokens
		WHERE device_id = ?
		ORDER BY created_at
	`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("query device tokens: %w", err)
	}
	defer rows.Close()
	return scanTokens(rows)
}

func scanTokens(rows *sql.Rows) ([]DeviceToken, error) {
	var tokens []DeviceToken
	for rows.Next() {
		var (
			t                DeviceToken
			prod             int
			created, updated int64
		)
		if err := rows.Scan(&t.Token, &t.DeviceID, &t.DeviceName, &t.Platform, &prod, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan device token: %w", err)
		}
		t.UseProduction = prod != 0
		t.CreatedAt = time.UnixMilli(created)
		t.UpdatedAt = time.UnixMilli(updated)
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
