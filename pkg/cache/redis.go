package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPriceStore shares the latest price between processes. Entries expire
// with the configured TTL.
type RedisPriceStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisPriceStore(addr string, ttl time.Duration) *RedisPriceStore {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DB:           0,
		DialTimeout:  time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})
	return &RedisPriceStore{client: client, ttl: ttl, prefix: "btc-grid:price:"}
}

func (r *RedisPriceStore) SetPrice(ctx context.Context, symbol string, price float64) error {
	return r.client.Set(ctx, r.prefix+symbol, strconv.FormatFloat(price, 'f', -1, 64), r.ttl).Err()
}

// GetPrice reports a miss on any error, including an unreachable server.
func (r *RedisPriceStore) GetPrice(ctx context.Context, symbol string) (float64, bool) {
	raw, err := r.client.Get(ctx, r.prefix+symbol).Result()
	if err != nil {
		return 0, false
	}
	price, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return price, true
}

func (r *RedisPriceStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisPriceStore) Close() error {
	return r.client.Close()
}
