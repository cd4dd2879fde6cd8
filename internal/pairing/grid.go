// Package pairing turns resting orders and account trades into buy/sell pairs
// and profit figures. Everything here is pure; callers fetch the inputs.
package pairing

import (
	"github.com/shopspring/decimal"

	"btc-grid-core/pkg/exchanges/common"
)

var (
	openQtyTolerance = decimal.RequireFromString("0.01")
	hundred          = decimal.NewFromInt(100)
)

// GridPair is a resting buy matched with a resting sell of about the same size.
type GridPair struct {
	BuyOrder      common.Order `json:"buy_order"`
	SellOrder     common.Order `json:"sell_order"`
	ProfitUSD     float64      `json:"profit_usd"`
	ProfitPercent float64      `json:"profit_percent"`
}

func newGridPair(buy, sell common.Order) GridPair {
	buyPrice := buy.PriceDecimal()
	spread := sell.PriceDecimal().Sub(buyPrice)
	return GridPair{
		BuyOrder:      buy,
		SellOrder:     sell,
		ProfitUSD:     spread.Mul(buy.QuantityDecimal()).InexactFloat64(),
		ProfitPercent: percentOf(spread, buyPrice),
	}
}

// MatchOpenPairs pairs each buy, in list order, with the first unmatched sell
// whose quantity is within 1% of the buy's. Any order that is not
// a buy is treated as a sell. Unpaired orders keep their input order.
func MatchOpenPairs(orders []common.Order) ([]GridPair, []common.Order) {
	var buys, sells []int
	for i, o := range orders {
		if o.Side == common.SideBuy {
			buys = append(buys, i)
		} else {
			sells = append(sells, i)
		}
	}

	pairs := make([]GridPair, 0)
	used := make([]bool, len(orders))

	for _, bi := range buys {
		buy := orders[bi]
		for _, si := range sells {
			if used[si] {
				continue
			}
			sell := orders[si]
			if withinTolerance(buy.QuantityDecimal(), sell.QuantityDecimal(), openQtyTolerance) {
				pairs = append(pairs, newGridPair(buy, sell))
				used[bi], used[si] = true, true
				break
			}
		}
	}

	unpaired := make([]common.Order, 0)
	for i, o := range orders {
		if !used[i] {
			unpaired = append(unpaired, o)
		}
	}
	return pairs, unpaired
}

// withinTolerance reports |ref-other|/ref <= tol. A zero reference never
// matches. The bound is inclusive: with exact decimals 0.01 against 0.0101 is a
// gap of exactly 1% and must still pair.
func withinTolerance(ref, other, tol decimal.Decimal) bool {
	if !ref.IsPositive() {
		return false
	}
	return ref.Sub(other).Abs().Div(ref).LessThanOrEqual(tol)
}

func percentOf(delta, base decimal.Decimal) float64 {
	if !base.IsPositive() {
		return 0
	}
	return delta.Div(base).Mul(hundred).InexactFloat64()
}
