package api

import (
	"net/http"
	"strconv"

	"btc-grid-core/internal/pairing"
	"btc-grid-core/pkg/db"

	"github.com/gin-gonic/gin"
)

type tradeHistoryResponse struct {
	CompletedPairs []pairing.CompletedPair `json:"completed_pairs"`
	TotalNetProfit float64                 `json:"total_net_profit"`
}

type fillView struct {
	TradeID  int64   `json:"trade_id"`
	OrderID  int64   `json:"order_id"`
	Side     string  `json:"side"`
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
	FilledAt int64   `json:"filled_at"`
}

func newFillView(f db.FillEvent) fillView {
	return fillView{
		TradeID:  f.TradeID,
		OrderID:  f.OrderID,
		Side:     f.Side,
		Price:    f.Price,
		Quantity: f.Qty,
		FilledAt: f.FilledAt.UnixMilli(),
	}
}

// completedPairs fetches the recent account trades and pairs them.
func (s *Server) completedPairs(c *gin.Context) ([]pairing.CompletedPair, bool) {
	gw, ok := s.gateway(c)
	if !ok {
		return nil, false
	}
	trades, err := gw.GetTrades(c.Request.Context(), s.opts.HistoryTradeLimit)
	if err != nil {
		respondExchangeError(c, "trades", err)
		return nil, false
	}
	pairs := pairing.MatchCompletedPairs(trades)
	if pairs == nil {
		pairs = []pairing.CompletedPair{}
	}
	return pairs, true
}

func (s *Server) getTradeHistory(c *gin.Context) {
	pairs, ok := s.completedPairs(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, tradeHistoryResponse{
		CompletedPairs: pairs,
		TotalNetProfit: pairing.Summarize(pairs).TotalNetProfit,
	})
}

func (s *Server) getProfitSummary(c *gin.Context) {
	pairs, ok := s.completedPairs(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, pairing.Summarize(pairs))
}

// listLimit reads ?limit=, clamped to [1,500] with a default of 100.
func listLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		return 100
	}
	if limit > 500 {
		return 500
	}
	return limit
}

// getFills serves the fills recorded by the fill monitor.
func (s *Server) getFills(c *gin.Context) {
	if s.DB == nil {
		respondError(c, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "storage not configured")
		return
	}
	fills, err := s.DB.ListFillEvents(c.Request.Context(), listLimit(c))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	views := make([]fillView, 0, len(fills))
	for _, f := range fills {
		views = append(views, newFillView(f))
	}
	c.JSON(http.StatusOK, gin.H{"fills": views, "count": len(views)})
}
