package notify

import (
	"context"
	"errors"
	"strings"

	"btc-grid-core/pkg/db"
)

var ErrUnsupportedPlatform = errors.New("only iOS is supported")

// TokenStore persists push tokens per signed-in device.
type TokenStore struct {
	database *db.Database
}

func NewTokenStore(database *db.Database) *TokenStore {
	return &TokenStore{database: database}
}

// Register stores token for deviceID. Only the ios platform is accepted.
func (s *TokenStore) Register(ctx context.Context, deviceID, deviceName, token, platform string, useProduction bool) error {
	if platform != "ios" {
		return ErrUnsupportedPlatform
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("device_token is required")
	}
	return s.database.Queries().UpsertToken(ctx, db.DeviceToken{
		Token:         token,
		DeviceID:      deviceID,
		DeviceName:    deviceName,
		Platform:      platform,
		UseProduction: useProduction,
	})
}

// Unregister removes token. Unknown tokens are not an error.
func (s *TokenStore) Unregister(ctx context.Context, deviceID, token string) error {
	err := s.database.Queries().DeleteToken(ctx, deviceID, strings.TrimSpace(token))
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	return err
}

func (s *TokenStore) ListDeviceTokens(ctx context.Context) ([]db.DeviceToken, error) {
	return s.database.ListDeviceTokens(ctx)
}

var _ TokenSource = (*TokenStore)(nil)
