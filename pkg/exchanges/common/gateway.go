package common

import (
	"context"
	"errors"
)

// PriceSource returns the last traded price of the configured symbol.
type PriceSource interface {
	GetPrice(ctx context.Context) (float64, error)
}

// Gateway abstracts a spot venue bound to a single symbol.
// ModifyOrder is cancel-then-recreate: the returned order carries a new id and
// the old id must be treated as gone.
type Gateway interface {
	PriceSource
	GetOpenOrders(ctx context.Context) ([]Order, error)
	GetTrades(ctx context.Context, limit int) ([]Trade, error)
	CancelOrder(ctx context.Context, orderID int64) error
	CreateLimitOrder(ctx context.Context, side Side, price, qty float64) (NewOrder, error)
	CreateMarketOrder(ctx context.Context, side Side, qty float64) (NewOrder, error)
	ModifyOrder(ctx context.Context, orderID int64, side Side, newPrice, qty float64) (NewOrder, error)
	GetAccount(ctx context.Context) (AccountInfo, error)
}

// Resolver picks the gateway for the requested environment.
type Resolver interface {
	ForEnvironment(useProduction bool) (Gateway, error)
}

// Environments holds the testnet gateway and, when keys are configured, the
// production one.
type Environments struct {
	Testnet    Gateway
	Production Gateway
}

func (e Environments) ForEnvironment(useProduction bool) (Gateway, error) {
	if useProduction {
		if e.Production == nil {
			return nil, ErrProductionNotConfigured
		}
		return e.Production, nil
	}
	if e.Testnet == nil {
		return nil, errors.New("testnet gateway not configured")
	}
	return e.Testnet, nil
}

// HasProduction reports whether production credentials were supplied.
func (e Environments) HasProduction() bool {
	return e.Production != nil
}
