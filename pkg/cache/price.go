// Package cache holds short-lived market prices so request handlers do not
// hit the exchange on every call.
package cache

import (
	"context"
	"log"

	"btc-grid-core/pkg/exchanges/common"
)

// PriceStore keeps the latest price per symbol.
type PriceStore interface {
	SetPrice(ctx context.Context, symbol string, price float64) error
	GetPrice(ctx context.Context, symbol string) (float64, bool)
}

// CachedPriceSource serves prices from store and falls through to source on
// a miss.
type CachedPriceSource struct {
	symbol string
	source common.PriceSource
	store  PriceStore
}

func NewCachedPriceSource(symbol string, source common.PriceSource, store PriceStore) *CachedPriceSource {
	return &CachedPriceSource{symbol: symbol, source: source, store: store}
}

func (c *CachedPriceSource) GetPrice(ctx context.Context) (float64, error) {
	if p, ok := c.store.GetPrice(ctx, c.symbol); ok {
		return p, nil
	}
	p, err := c.source.GetPrice(ctx)
	if err != nil {
		return 0, err
	}
	if err := c.store.SetPrice(ctx, c.symbol, p); err != nil {
		log.Printf("⚠️ price cache write: %v", err)
	}
	return p, nil
}

var _ common.PriceSource = (*CachedPriceSource)(nil)
