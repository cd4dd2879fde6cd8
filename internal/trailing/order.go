// Package trailing keeps resting limit orders a fixed percentage behind the
// best market price seen since they were placed, repricing them by
// cancel-and-recreate.
package trailing

import (
	"time"

	"github.com/shopspring/decimal"

	"btc-grid-core/pkg/exchanges/common"
)

// DefaultDeadband is the relative gap below which an order is left alone.
const DefaultDeadband = 0.001

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Order is one trailed resting order.
type Order struct {
	ID                string
	ExchangeOrderID   int64
	Side              common.Side
	TrailingPercent   float64
	CurrentOrderPrice float64
	ReferencePrice    float64
	Quantity          float64
	UseProduction     bool
	CreatedAt         time.Time
}

// UpdateReference moves the reference toward the favorable extreme: down for
// buys, up for sells. It reports whether the reference changed.
func (o *Order) UpdateReference(marketPrice float64) bool {
	switch o.Side {
	case common.SideBuy:
		if marketPrice < o.ReferencePrice {
			o.ReferencePrice = marketPrice
			return true
		}
	case common.SideSell:
		if marketPrice > o.ReferencePrice {
			o.ReferencePrice = marketPrice
			return true
		}
	}
	return false
}

// TargetPrice is the unrounded price the order should rest at.
func (o *Order) TargetPrice() float64 {
	return o.target().InexactFloat64()
}

func (o *Order) target() decimal.Decimal {
	ref := decimal.NewFromFloat(o.ReferencePrice)
	offset := decimal.NewFromFloat(o.TrailingPercent).Div(hundred)
	if o.Side == common.SideBuy {
		return ref.Mul(one.Add(offset))
	}
	return ref.Mul(one.Sub(offset))
}

// CalculateAdjustment returns the rounded target when it improves on the
// current order price by more than deadband (relative to the current price).
// Buys only move down and sells only move up, so an order is never pushed
// toward the market.
func (o *Order) CalculateAdjustment(deadband float64) (float64, bool) {
	target := o.target()
	current := decimal.NewFromFloat(o.CurrentOrderPrice)
	if !current.IsPositive() {
		return 0, false
	}
	gap := current.Sub(target)
	if o.Side == common.SideSell {
		gap = gap.Neg()
	}
	if gap.Div(current).GreaterThan(decimal.NewFromFloat(deadband)) {
		return target.Round(2).InexactFloat64(), true
	}
	return 0, false
}

// RoundPrice rounds half away from zero to cents.
func RoundPrice(p float64) float64 {
	return decimal.NewFromFloat(p).Round(2).InexactFloat64()
}

// View is the read-only shape served by the API.
type View struct {
	ID                string      `json:"id"`
	OrderID           int64       `json:"order_id"`
	Side              common.Side `json:"side"`
	TrailingPercent   float64     `json:"trailing_percent"`
	CurrentOrderPrice float64     `json:"current_order_price"`
	ReferencePrice    float64     `json:"reference_price"`
	TargetPrice       float64     `json:"target_price"`
	Quantity          float64     `json:"quantity"`
	UseProduction     bool        `json:"use_production"`
	CreatedAt         int64       `json:"created_at"`
}

func (o *Order) view() View {
	return View{
		ID:                o.ID,
		OrderID:           o.ExchangeOrderID,
		Side:              o.Side,
		TrailingPercent:   o.TrailingPercent,
		CurrentOrderPrice: o.CurrentOrderPrice,
		ReferencePrice:    o.ReferencePrice,
		TargetPrice:       o.target().Round(2).InexactFloat64(),
		Quantity:          o.Quantity,
		UseProduction:     o.UseProduction,
		CreatedAt:         o.CreatedAt.UnixMilli(),
	}
}
