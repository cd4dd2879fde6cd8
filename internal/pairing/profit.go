package pairing

import (
	"sort"

	"github.com/shopspring/decimal"

	"btc-grid-core/pkg/exchanges/common"
)

// DefaultQuoteAsset is the asset commissions are already denominated in.
const DefaultQuoteAsset = "USDT"

var completedQtyTolerance = decimal.RequireFromString("0.05")

// CompletedPair is a buy fill closed by a later sell fill.
type CompletedPair struct {
	BuyTrade       common.Trade `json:"buy_trade"`
	SellTrade      common.Trade `json:"sell_trade"`
	Quantity       float64      `json:"quantity"`
	BuyPrice       float64      `json:"buy_price"`
	SellPrice      float64      `json:"sell_price"`
	GrossProfitUSD float64      `json:"gross_profit_usd"`
	CommissionUSD  float64      `json:"commission_usd"`
	NetProfitUSD   float64      `json:"net_profit_usd"`
	ProfitPercent  float64      `json:"profit_percent"`
	CompletedAt    int64        `json:"completed_at"`
}

// ProfitSummary aggregates completed pairs.
type ProfitSummary struct {
	TotalTrades          int     `json:"total_trades"`
	TotalGrossProfit     float64 `json:"total_gross_profit"`
	TotalCommission      float64 `json:"total_commission"`
	TotalNetProfit       float64 `json:"total_net_profit"`
	AverageProfitPercent float64 `json:"average_profit_percent"`
}

// MatchCompletedPairs walks sells in time order and closes each with the
// earliest unmatched buy that happened strictly before it and is within 5% in
// quantity, inclusive. Matched pairs that lost money are consumed but left out
// of the result. Output is newest first.
func MatchCompletedPairs(trades []common.Trade) []CompletedPair {
	var buys, sells []common.Trade
	for _, t := range trades {
		if t.IsBuyer {
			buys = append(buys, t)
		} else {
			sells = append(sells, t)
		}
	}
	sort.SliceStable(buys, func(i, j int) bool { return buys[i].Time < buys[j].Time })
	sort.SliceStable(sells, func(i, j int) bool { return sells[i].Time < sells[j].Time })

	pairs := make([]CompletedPair, 0)
	usedBuy := make([]bool, len(buys))

	for _, sell := range sells {
		for i, buy := range buys {
			if usedBuy[i] || buy.Time >= sell.Time {
				continue
			}
			if !withinTolerance(buy.QuantityDecimal(), sell.QuantityDecimal(), completedQtyTolerance) {
				continue
			}
			usedBuy[i] = true
			if sell.PriceDecimal().GreaterThan(buy.PriceDecimal()) {
				pairs = append(pairs, newCompletedPair(buy, sell))
			}
			break
		}
	}

	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].CompletedAt > pairs[j].CompletedAt })
	return pairs
}

func newCompletedPair(buy, sell common.Trade) CompletedPair {
	buyPrice := buy.PriceDecimal()
	sellPrice := sell.PriceDecimal()
	qty := decimal.Min(buy.QuantityDecimal(), sell.QuantityDecimal())

	gross := sellPrice.Sub(buyPrice).Mul(qty)
	commission := commissionUSD(buy).Add(commissionUSD(sell))

	return CompletedPair{
		BuyTrade:       buy,
		SellTrade:      sell,
		Quantity:       qty.InexactFloat64(),
		BuyPrice:       buyPrice.InexactFloat64(),
		SellPrice:      sellPrice.InexactFloat64(),
		GrossProfitUSD: gross.InexactFloat64(),
		CommissionUSD:  commission.InexactFloat64(),
		NetProfitUSD:   gross.Sub(commission).InexactFloat64(),
		ProfitPercent:  percentOf(sellPrice.Sub(buyPrice), buyPrice),
		CompletedAt:    sell.Time,
	}
}

// commissionUSD values a fee at the trade's own price when it was charged in
// the base asset.
func commissionUSD(t common.Trade) decimal.Decimal {
	fee := t.CommissionDecimal()
	if t.CommissionAsset == DefaultQuoteAsset {
		return fee
	}
	return fee.Mul(t.PriceDecimal())
}

// Summarize totals pairs. The average percent is unweighted.
func Summarize(pairs []CompletedPair) ProfitSummary {
	if len(pairs) == 0 {
		return ProfitSummary{}
	}
	var gross, commission, net, pct float64
	for _, p := range pairs {
		gross += p.GrossProfitUSD
		commission += p.CommissionUSD
		net += p.NetProfitUSD
		pct += p.ProfitPercent
	}
	return ProfitSummary{
		TotalTrades:          len(pairs),
		TotalGrossProfit:     gross,
		TotalCommission:      commission,
		TotalNetProfit:       net,
		AverageProfitPercent: pct / float64(len(pairs)),
	}
}
