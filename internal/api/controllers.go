package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"btc-grid-core/internal/events"
	"btc-grid-core/internal/monitor"
	"btc-grid-core/internal/pairing"
	"btc-grid-core/internal/persistence"
	"btc-grid-core/internal/trailing"
	"btc-grid-core/pkg/exchanges/common"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// productionHeader selects the production gateway when set to "true" or "1".
const productionHeader = "X-Use-Production"

const (
	minGridAmountUSD = 1.0
	quantityDecimals = 5
)

type createLimitOrderRequest struct {
	Side            string   `json:"side" binding:"required"`
	Price           float64  `json:"price"`
	Quantity        float64  `json:"quantity"`
	TrailingPercent *float64 `json:"trailing_percent"`
}

type createMarketOrderRequest struct {
	Side     string  `json:"side" binding:"required"`
	Quantity float64 `json:"quantity"`
}

type createGridRequest struct {
	BuyPrice  float64 `json:"buy_price"`
	SellPrice float64 `json:"sell_price"`
	AmountUSD float64 `json:"amount_usd"`
}

type modifyOrderRequest struct {
	OrderID  int64   `json:"order_id" binding:"required"`
	NewPrice float64 `json:"new_price"`
}

type balanceInfo struct {
	Free   float64 `json:"free"`
	Locked float64 `json:"locked"`
	Total  float64 `json:"total"`
}

type balanceResponse struct {
	USDT        balanceInfo `json:"usdt"`
	BTC         balanceInfo `json:"btc"`
	BTCValueUSD float64     `json:"btc_value_usd"`
	TotalUSD    float64     `json:"total_usd"`
}

type ordersResponse struct {
	GridPairs      []pairing.GridPair `json:"grid_pairs"`
	UnpairedOrders []common.Order     `json:"unpaired_orders"`
	TotalOrders    int                `json:"total_orders"`
}

type limitOrderResponse struct {
	common.NewOrder
	TrailingID string `json:"trailing_id,omitempty"`
}

type gridPairResponse struct {
	BuyOrder               common.NewOrder `json:"buy_order"`
	SellOrder              common.NewOrder `json:"sell_order"`
	Quantity               float64         `json:"quantity"`
	EstimatedProfitUSD     float64         `json:"estimated_profit_usd"`
	EstimatedProfitPercent float64         `json:"estimated_profit_percent"`
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// respondExchangeError maps gateway failures onto HTTP statuses.
func respondExchangeError(c *gin.Context, op string, err error) {
	log.Printf("[API] %s failed: %v", op, err)
	var apiErr *common.APIError
	switch {
	case errors.Is(err, common.ErrProductionNotConfigured):
		respondError(c, http.StatusBadRequest, "PRODUCTION_NOT_CONFIGURED", err.Error())
	case common.IsUnknownOrder(err):
		respondError(c, http.StatusNotFound, "ORDER_NOT_FOUND", err.Error())
	case errors.As(err, &apiErr):
		respondError(c, http.StatusBadRequest, "EXCHANGE_REJECTED", apiErr.Msg)
	case errors.Is(err, context.DeadlineExceeded):
		respondError(c, http.StatusGatewayTimeout, "TIMEOUT", "request took too long to process")
	case common.IsTransport(err):
		respondError(c, http.StatusBadGateway, "EXCHANGE_UNAVAILABLE", err.Error())
	default:
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

func useProduction(c *gin.Context) bool {
	v := strings.TrimSpace(c.GetHeader(productionHeader))
	return v == "true" || v == "1"
}

// gateway resolves the environment for this request, answering 400 itself
// when it cannot.
func (s *Server) gateway(c *gin.Context) (common.Gateway, bool) {
	gw, err := s.Gateways.ForEnvironment(useProduction(c))
	if err != nil {
		respondError(c, http.StatusBadRequest, "PRODUCTION_NOT_CONFIGURED", err.Error())
		return nil, false
	}
	return gw, true
}

// stopTrailing drops any trailing entry bound to exchangeOrderID.
func (s *Server) stopTrailing(exchangeOrderID int64, reason string) bool {
	o, ok := s.Registry.RemoveByExchangeOrderID(exchangeOrderID)
	if !ok {
		return false
	}
	s.Bus.Publish(events.EventTrailingRemoved, events.TrailingRemoved{
		TrailingID: o.ID,
		OrderID:    o.ExchangeOrderID,
		Side:       string(o.Side),
		Reason:     reason,
		At:         time.Now(),
	})
	return true
}

func (s *Server) getCurrentPrice(c *gin.Context) {
	price, err := s.Prices.GetPrice(c.Request.Context())
	if err != nil {
		respondExchangeError(c, "price", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":    s.opts.Symbol,
		"price":     price,
		"timestamp": time.Now().UnixMilli(),
	})
}

// metricsResponse is the runtime snapshot plus the audit writer counters.
type metricsResponse struct {
	monitor.MetricsSnapshot
	Audit *persistence.BatchWriterMetrics `json:"audit,omitempty"`
}

func (s *Server) getMetrics(c *gin.Context) {
	if s.Metrics == nil {
		respondError(c, http.StatusServiceUnavailable, "METRICS_UNAVAILABLE", "metrics not available")
		return
	}
	resp := metricsResponse{MetricsSnapshot: s.Metrics.GetSnapshot()}
	if s.Audit != nil {
		audit := s.Audit.GetMetrics()
		resp.Audit = &audit
	}
	c.JSON(http.StatusOK, resp)
}

// getBalance reads the account and the price together. A missing price
// values the base asset at zero instead of failing the request.
func (s *Server) getBalance(c *gin.Context) {
	gw, ok := s.gateway(c)
	if !ok {
		return
	}

	var (
		account common.AccountInfo
		price   float64
	)
	g, ctx := errgroup.WithContext(c.Request.Context())
	g.Go(func() error {
		var err error
		account, err = gw.GetAccount(ctx)
		return err
	})
	g.Go(func() error {
		p, err := gw.GetPrice(ctx)
		if err != nil {
			log.Printf("[API] balance price unavailable: %v", err)
			return nil
		}
		price = p
		return nil
	})
	if err := g.Wait(); err != nil {
		respondExchangeError(c, "account", err)
		return
	}

	quote := account.Balance(pairing.DefaultQuoteAsset)
	base := account.Balance(strings.TrimSuffix(s.opts.Symbol, pairing.DefaultQuoteAsset))
	baseValue := base.Total().Mul(decimal.NewFromFloat(price))

	c.JSON(http.StatusOK, balanceResponse{
		USDT:        toBalanceInfo(quote),
		BTC:         toBalanceInfo(base),
		BTCValueUSD: baseValue.InexactFloat64(),
		TotalUSD:    quote.Total().Add(baseValue).InexactFloat64(),
	})
}

func toBalanceInfo(b common.Balance) balanceInfo {
	return balanceInfo{
		Free:   b.FreeDecimal().InexactFloat64(),
		Locked: b.LockedDecimal().InexactFloat64(),
		Total:  b.Total().InexactFloat64(),
	}
}

// getOrders returns the open orders matched into grid pairs.
func (s *Server) getOrders(c *gin.Context) {
	gw, ok := s.gateway(c)
	if !ok {
		return
	}
	orders, err := gw.GetOpenOrders(c.Request.Context())
	if err != nil {
		respondExchangeError(c, "open orders", err)
		return
	}
	pairs, unpaired := pairing.MatchOpenPairs(orders)
	if pairs == nil {
		pairs = []pairing.GridPair{}
	}
	if unpaired == nil {
		unpaired = []common.Order{}
	}
	c.JSON(http.StatusOK, ordersResponse{
		GridPairs:      pairs,
		UnpairedOrders: unpaired,
		TotalOrders:    len(orders),
	})
}

func (s *Server) getOpenOrders(c *gin.Context) {
	gw, ok := s.gateway(c)
	if !ok {
		return
	}
	orders, err := gw.GetOpenOrders(c.Request.Context())
	if err != nil {
		respondExchangeError(c, "open orders", err)
		return
	}
	if orders == nil {
		orders = []common.Order{}
	}
	c.JSON(http.StatusOK, orders)
}

func (s *Server) cancelOrder(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("order_id"), 10, 64)
	if err != nil || orderID <= 0 {
		respondError(c, http.StatusBadRequest, "INVALID_ORDER_ID", "order_id must be a positive integer")
		return
	}
	gw, ok := s.gateway(c)
	if !ok {
		return
	}
	if err := gw.CancelOrder(c.Request.Context(), orderID); err != nil {
		respondExchangeError(c, "cancel", err)
		return
	}
	stopped := s.stopTrailing(orderID, events.ReasonUser)
	log.Printf("[API] cancelled order %d", orderID)

	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"order_id":         orderID,
		"trailing_stopped": stopped,
	})
}

// createLimitOrder places a GTC limit order. With trailing_percent set the
// order is also handed to the trailing registry, referenced to the current
// market price.
func (s *Server) createLimitOrder(c *gin.Context) {
	var req createLimitOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	side, ok := common.ParseSide(req.Side)
	if !ok {
		respondError(c, http.StatusBadRequest, "INVALID_SIDE", "side must be BUY or SELL")
		return
	}
	if req.Price <= 0 {
		respondError(c, http.StatusBadRequest, "INVALID_PRICE", "price must be positive")
		return
	}
	if req.Quantity <= 0 {
		respondError(c, http.StatusBadRequest, "INVALID_QUANTITY", "quantity must be positive")
		return
	}
	if req.TrailingPercent != nil && (*req.TrailingPercent <= 0 || *req.TrailingPercent >= 100) {
		respondError(c, http.StatusBadRequest, "INVALID_TRAILING_PERCENT", "trailing_percent must be between 0 and 100")
		return
	}

	gw, ok := s.gateway(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	var marketPrice float64
	if req.TrailingPercent != nil {
		p, err := s.Prices.GetPrice(ctx)
		if err != nil {
			respondExchangeError(c, "price", err)
			return
		}
		marketPrice = p
	}

	placed, err := gw.CreateLimitOrder(ctx, side, req.Price, req.Quantity)
	if err != nil {
		respondExchangeError(c, "limit order", err)
		return
	}
	log.Printf("[API] created %s limit order %d @ %.2f qty %.5f", side, placed.OrderID, req.Price, req.Quantity)

	resp := limitOrderResponse{NewOrder: placed}
	if req.TrailingPercent != nil {
		id, err := s.Registry.Add(trailing.AddRequest{
			ExchangeOrderID: placed.OrderID,
			Side:            side,
			OrderPrice:      req.Price,
			MarketPrice:     marketPrice,
			Quantity:        req.Quantity,
			TrailingPercent: *req.TrailingPercent,
			UseProduction:   useProduction(c),
		})
		if err != nil {
			// The order is live; report it and say why trailing did not start.
			log.Printf("[API] trailing not started for order %d: %v", placed.OrderID, err)
		} else {
			resp.TrailingID = id
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) createMarketOrder(c *gin.Context) {
	var req createMarketOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	side, ok := common.ParseSide(req.Side)
	if !ok {
		respondError(c, http.StatusBadRequest, "INVALID_SIDE", "side must be BUY or SELL")
		return
	}
	if req.Quantity <= 0 {
		respondError(c, http.StatusBadRequest, "INVALID_QUANTITY", "quantity must be positive")
		return
	}
	gw, ok := s.gateway(c)
	if !ok {
		return
	}
	placed, err := gw.CreateMarketOrder(c.Request.Context(), side, req.Quantity)
	if err != nil {
		respondExchangeError(c, "market order", err)
		return
	}
	log.Printf("[API] created %s market order %d qty %.5f", side, placed.OrderID, req.Quantity)
	c.JSON(http.StatusOK, placed)
}

// gridQuantity sizes a grid leg: amount/buyPrice truncated to 5 decimals.
func gridQuantity(amountUSD, buyPrice float64) float64 {
	return decimal.NewFromFloat(amountUSD).
		Div(decimal.NewFromFloat(buyPrice)).
		Truncate(quantityDecimals).
		InexactFloat64()
}

// createGridPair places a buy and a sell of the same size. If the sell is
// rejected the buy is cancelled again.
func (s *Server) createGridPair(c *gin.Context) {
	var req createGridRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	if req.BuyPrice <= 0 || req.BuyPrice >= req.SellPrice {
		respondError(c, http.StatusBadRequest, "INVALID_PRICES", "buy price must be positive and less than sell price")
		return
	}
	if req.AmountUSD < minGridAmountUSD {
		respondError(c, http.StatusBadRequest, "AMOUNT_TOO_SMALL", "minimum amount is $1")
		return
	}
	qty := gridQuantity(req.AmountUSD, req.BuyPrice)
	if qty <= 0 {
		respondError(c, http.StatusBadRequest, "AMOUNT_TOO_SMALL", "amount buys less than 0.00001")
		return
	}

	gw, ok := s.gateway(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	buy, err := gw.CreateLimitOrder(ctx, common.SideBuy, req.BuyPrice, qty)
	if err != nil {
		respondExchangeError(c, "grid buy", err)
		return
	}
	sell, err := gw.CreateLimitOrder(ctx, common.SideSell, req.SellPrice, qty)
	if err != nil {
		if cancelErr := gw.CancelOrder(context.WithoutCancel(ctx), buy.OrderID); cancelErr != nil {
			log.Printf("[API] grid buy %d left open after sell failed: %v", buy.OrderID, cancelErr)
		}
		respondExchangeError(c, "grid sell", err)
		return
	}

	spread := decimal.NewFromFloat(req.SellPrice).Sub(decimal.NewFromFloat(req.BuyPrice))
	profit := spread.Mul(decimal.NewFromFloat(qty))
	percent := spread.Div(decimal.NewFromFloat(req.BuyPrice)).Mul(decimal.NewFromInt(100))
	log.Printf("[API] created grid pair: BUY @ %.2f / SELL @ %.2f (profit: $%s)", req.BuyPrice, req.SellPrice, profit.StringFixed(2))

	c.JSON(http.StatusOK, gridPairResponse{
		BuyOrder:               buy,
		SellOrder:              sell,
		Quantity:               qty,
		EstimatedProfitUSD:     profit.InexactFloat64(),
		EstimatedProfitPercent: percent.InexactFloat64(),
	})
}

// modifyOrder moves a resting order to a new price, keeping side and size.
// A trailed order stops trailing since the user has taken over its price.
func (s *Server) modifyOrder(c *gin.Context) {
	var req modifyOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "order_id is required")
		return
	}
	if req.NewPrice <= 0 {
		respondError(c, http.StatusBadRequest, "INVALID_PRICE", "new_price must be positive")
		return
	}
	gw, ok := s.gateway(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	orders, err := gw.GetOpenOrders(ctx)
	if err != nil {
		respondExchangeError(c, "open orders", err)
		return
	}
	var existing *common.Order
	for i := range orders {
		if orders[i].OrderID == req.OrderID {
			existing = &orders[i]
			break
		}
	}
	if existing == nil {
		respondError(c, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found")
		return
	}

	s.stopTrailing(existing.OrderID, events.ReasonOrderChanged)
	newOrder, err := gw.ModifyOrder(ctx, existing.OrderID, existing.Side, req.NewPrice, existing.QuantityFloat())
	if err != nil {
		respondExchangeError(c, "modify", err)
		return
	}
	log.Printf("[API] modified order %d -> %d @ %.2f", existing.OrderID, newOrder.OrderID, req.NewPrice)
	c.JSON(http.StatusOK, gin.H{"new_order": newOrder})
}
