// Package paper simulates a spot venue in memory. Resting limit orders fill
// when the price crosses them; market orders fill at the current price.
package paper

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"btc-grid-core/pkg/exchanges/common"
)

const quoteAsset = "USDT"

// Config controls the simulation.
type Config struct {
	Symbol       string
	InitialPrice float64
	FeeRate      float64 // decimal, e.g. 0.001 = 10 bps
	QuoteBalance float64
	BaseBalance  float64
	// Feed, when set, supplies the price on every GetPrice call.
	Feed common.PriceSource
}

// Stats counts calls by kind.
type Stats struct {
	PriceCalls  int
	Creates     int
	Cancels     int
	Modifies    int
	TradeReads  int
	OrderReads  int
	FilledCount int
}

// Mutations is the number of calls that changed exchange state.
func (s Stats) Mutations() int {
	return s.Creates + s.Cancels + s.Modifies
}

type balance struct {
	free, locked float64
}

// Gateway implements common.Gateway without touching the network.
type Gateway struct {
	mu          sync.Mutex
	cfg         Config
	baseAsset   string
	price       float64
	nextOrderID int64
	nextTradeID int64
	lastTradeMs int64
	open        []common.Order
	trades      []common.Trade
	balances    map[string]*balance
	stats       Stats
	now         func() time.Time
}

var _ common.Gateway = (*Gateway)(nil)

func New(cfg Config) *Gateway {
	if cfg.Symbol == "" {
		cfg.Symbol = "BTCUSDT"
	}
	if cfg.QuoteBalance == 0 {
		cfg.QuoteBalance = 100000
	}
	if cfg.BaseBalance == 0 {
		cfg.BaseBalance = 1
	}
	base := strings.TrimSuffix(cfg.Symbol, quoteAsset)
	return &Gateway{
		cfg:         cfg,
		baseAsset:   base,
		price:       cfg.InitialPrice,
		nextOrderID: 1000,
		nextTradeID: 5000,
		balances: map[string]*balance{
			quoteAsset: {free: cfg.QuoteBalance},
			base:       {free: cfg.BaseBalance},
		},
		now: time.Now,
	}
}

// SetPrice moves the market and fills every resting order it crosses.
func (g *Gateway) SetPrice(price float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.price = price
	g.matchLocked()
}

// Stats returns a copy of the call counters.
func (g *Gateway) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

func (g *Gateway) GetPrice(ctx context.Context) (float64, error) {
	if g.cfg.Feed != nil {
		p, err := g.cfg.Feed.GetPrice(ctx)
		if err != nil {
			return 0, err
		}
		g.SetPrice(p)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stats.PriceCalls++
	if g.price <= 0 {
		return 0, &common.TransportError{Op: "paper price", Err: fmt.Errorf("no price for %s", g.cfg.Symbol)}
	}
	return g.price, nil
}

func (g *Gateway) GetOpenOrders(ctx context.Context) ([]common.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stats.OrderReads++
	out := make([]common.Order, len(g.open))
	copy(out, g.open)
	return out, nil
}

// GetTrades returns the last limit trades, oldest first.
func (g *Gateway) GetTrades(ctx context.Context, limit int) ([]common.Trade, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stats.TradeReads++
	start := 0
	if limit > 0 && len(g.trades) > limit {
		start = len(g.trades) - limit
	}
	out := make([]common.Trade, len(g.trades)-start)
	copy(out, g.trades[start:])
	return out, nil
}

func (g *Gateway) CancelOrder(ctx context.Context, orderID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stats.Cancels++
	return g.cancelLocked(orderID)
}

func (g *Gateway) CreateLimitOrder(ctx context.Context, side common.Side, price, qty float64) (common.NewOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stats.Creates++
	return g.placeLimitLocked(side, price, qty)
}

func (g *Gateway) CreateMarketOrder(ctx context.Context, side common.Side, qty float64) (common.NewOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stats.Creates++
	if err := validate(side, g.price, qty); err != nil {
		return common.NewOrder{}, err
	}
	if err := g.reserveLocked(side, g.price, qty); err != nil {
		return common.NewOrder{}, err
	}
	g.nextOrderID++
	order := common.Order{
		Symbol:  g.cfg.Symbol,
		OrderID: g.nextOrderID,
		Side:    side,
		Type:    string(common.OrderTypeMarket),
		Price:   "0",
		OrigQty: common.FormatFloat(qty),
		Status:  common.StatusNew,
		Time:    g.now().UnixMilli(),
	}
	g.fillLocked(&order, g.price)
	return ack(order), nil
}

// ModifyOrder cancels and recreates; an unknown id fails before anything is placed.
func (g *Gateway) ModifyOrder(ctx context.Context, orderID int64, side common.Side, newPrice, qty float64) (common.NewOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stats.Modifies++
	if err := g.cancelLocked(orderID); err != nil {
		return common.NewOrder{}, fmt.Errorf("cancel order %d: %w", orderID, err)
	}
	return g.placeLimitLocked(side, newPrice, qty)
}

func (g *Gateway) GetAccount(ctx context.Context) (common.AccountInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	info := common.AccountInfo{CanTrade: true, UpdateTime: g.now().UnixMilli()}
	for _, asset := range []string{g.baseAsset, quoteAsset} {
		b := g.balances[asset]
		info.Balances = append(info.Balances, common.Balance{
			Asset:  asset,
			Free:   common.FormatFloat(b.free),
			Locked: common.FormatFloat(b.locked),
		})
	}
	return info, nil
}

func (g *Gateway) placeLimitLocked(side common.Side, price, qty float64) (common.NewOrder, error) {
	if err := validate(side, price, qty); err != nil {
		return common.NewOrder{}, err
	}
	if err := g.reserveLocked(side, price, qty); err != nil {
		return common.NewOrder{}, err
	}
	g.nextOrderID++
	order := common.Order{
		Symbol:      g.cfg.Symbol,
		OrderID:     g.nextOrderID,
		Side:        side,
		Type:        string(common.OrderTypeLimit),
		Price:       common.FormatFloat(price),
		OrigQty:     common.FormatFloat(qty),
		ExecutedQty: "0",
		Status:      common.StatusNew,
		Time:        g.now().UnixMilli(),
	}
	if g.crosses(order) {
		g.fillLocked(&order, price)
		return ack(order), nil
	}
	g.open = append(g.open, order)
	return ack(order), nil
}

func (g *Gateway) cancelLocked(orderID int64) error {
	for i, o := range g.open {
		if o.OrderID != orderID {
			continue
		}
		g.releaseLocked(o)
		g.open = append(g.open[:i], g.open[i+1:]...)
		return nil
	}
	return &common.APIError{Status: 400, Code: common.CodeUnknownOrder, Msg: "Unknown order sent."}
}

func (g *Gateway) crosses(o common.Order) bool {
	if g.price <= 0 {
		return false
	}
	limit := o.PriceFloat()
	if o.Side == common.SideBuy {
		return g.price <= limit
	}
	return g.price >= limit
}

func (g *Gateway) matchLocked() {
	remaining := g.open[:0]
	for _, o := range g.open {
		if g.crosses(o) {
			g.fillLocked(&o, o.PriceFloat())
			continue
		}
		remaining = append(remaining, o)
	}
	g.open = remaining
}

// fillLocked books a trade for o at price, consuming the funds reserved for it.
// Buyers pay commission in the base asset and sellers in the quote asset.
func (g *Gateway) fillLocked(o *common.Order, price float64) {
	qty := o.QuantityFloat()
	quote := g.balances[quoteAsset]
	base := g.balances[g.baseAsset]

	trade := common.Trade{
		Symbol:   g.cfg.Symbol,
		OrderID:  o.OrderID,
		Price:    common.FormatFloat(price),
		Qty:      o.OrigQty,
		QuoteQty: common.FormatFloat(price * qty),
		Time:     g.tradeTimeLocked(),
		IsBuyer:  o.Side == common.SideBuy,
		IsMaker:  o.Type == string(common.OrderTypeLimit),
	}
	if o.Side == common.SideBuy {
		fee := qty * g.cfg.FeeRate
		quote.locked -= price * qty
		base.free += qty - fee
		trade.Commission = common.FormatFloat(fee)
		trade.CommissionAsset = g.baseAsset
	} else {
		fee := price * qty * g.cfg.FeeRate
		base.locked -= qty
		quote.free += price*qty - fee
		trade.Commission = common.FormatFloat(fee)
		trade.CommissionAsset = quoteAsset
	}
	g.nextTradeID++
	trade.ID = g.nextTradeID
	g.trades = append(g.trades, trade)
	g.stats.FilledCount++

	o.Status = common.StatusFilled
	o.ExecutedQty = o.OrigQty
	log.Printf("📄 paper fill: %s %s @ %s (order %d)", o.Side, o.OrigQty, trade.Price, o.OrderID)
}

// tradeTimeLocked keeps trade timestamps strictly increasing.
func (g *Gateway) tradeTimeLocked() int64 {
	ts := g.now().UnixMilli()
	if ts <= g.lastTradeMs {
		ts = g.lastTradeMs + 1
	}
	g.lastTradeMs = ts
	return ts
}

// reserveLocked checks funds and moves them to locked until fill or cancel.
func (g *Gateway) reserveLocked(side common.Side, price, qty float64) error {
	asset, amount := quoteAsset, price*qty
	if side == common.SideSell {
		asset, amount = g.baseAsset, qty
	}
	b := g.balances[asset]
	if b.free < amount {
		return &common.APIError{Status: 400, Code: -2010, Msg: "Account has insufficient balance for requested action."}
	}
	b.free -= amount
	b.locked += amount
	return nil
}

func (g *Gateway) releaseLocked(o common.Order) {
	asset, amount := quoteAsset, o.PriceFloat()*o.QuantityFloat()
	if o.Side == common.SideSell {
		asset, amount = g.baseAsset, o.QuantityFloat()
	}
	b := g.balances[asset]
	b.locked -= amount
	b.free += amount
}

func validate(side common.Side, price, qty float64) error {
	if !side.Valid() {
		return &common.APIError{Status: 400, Code: -1117, Msg: "Invalid side."}
	}
	if price <= 0 || qty <= 0 {
		return &common.APIError{Status: 400, Code: -1013, Msg: "Invalid quantity or price."}
	}
	return nil
}

func ack(o common.Order) common.NewOrder {
	return common.NewOrder{
		Symbol:       o.Symbol,
		OrderID:      o.OrderID,
		TransactTime: o.Time,
		Price:        o.Price,
		OrigQty:      o.OrigQty,
		ExecutedQty:  o.ExecutedQty,
		Status:       o.Status,
		Type:         o.Type,
		Side:         o.Side,
	}
}
