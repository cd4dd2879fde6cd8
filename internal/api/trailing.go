package api

import (
	"fmt"
	"net/http"
	"time"

	"btc-grid-core/internal/events"
	"btc-grid-core/pkg/db"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type trailingEventView struct {
	TrailingID     string  `json:"trailing_id"`
	Kind           string  `json:"kind"`
	Side           string  `json:"side"`
	OldOrderID     int64   `json:"old_order_id"`
	NewOrderID     int64   `json:"new_order_id,omitempty"`
	OldPrice       float64 `json:"old_price,omitempty"`
	NewPrice       float64 `json:"new_price,omitempty"`
	ReferencePrice float64 `json:"reference_price,omitempty"`
	MarketPrice    float64 `json:"market_price,omitempty"`
	Reason         string  `json:"reason,omitempty"`
	CreatedAt      int64   `json:"created_at"`
}

func newTrailingEventView(e db.TrailingEvent) trailingEventView {
	return trailingEventView{
		TrailingID:     e.TrailingID,
		Kind:           e.Kind,
		Side:           e.Side,
		OldOrderID:     e.OldOrderID,
		NewOrderID:     e.NewOrderID,
		OldPrice:       e.OldPrice,
		NewPrice:       e.NewPrice,
		ReferencePrice: e.ReferencePrice,
		MarketPrice:    e.MarketPrice,
		Reason:         e.Reason,
		CreatedAt:      e.CreatedAt.UnixMilli(),
	}
}

func (s *Server) getTrailingOrders(c *gin.Context) {
	orders := s.Registry.List()
	c.JSON(http.StatusOK, gin.H{
		"orders": orders,
		"count":  len(orders),
	})
}

// deleteTrailingOrder stops trailing. The exchange order stays on the book.
func (s *Server) deleteTrailingOrder(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_ID", "invalid UUID format")
		return
	}
	o, ok := s.Registry.Remove(id)
	if !ok {
		respondError(c, http.StatusNotFound, "TRAILING_NOT_FOUND", fmt.Sprintf("trailing order %s not found", id))
		return
	}
	s.Bus.Publish(events.EventTrailingRemoved, events.TrailingRemoved{
		TrailingID: o.ID,
		OrderID:    o.ExchangeOrderID,
		Side:       string(o.Side),
		Reason:     events.ReasonUser,
		At:         time.Now(),
	})
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": fmt.Sprintf("trailing order %s stopped", id),
	})
}

// getTrailingHistory serves the audit trail of reprices and removals.
func (s *Server) getTrailingHistory(c *gin.Context) {
	if s.DB == nil {
		respondError(c, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "storage not configured")
		return
	}
	rows, err := s.DB.ListTrailingEvents(c.Request.Context(), listLimit(c))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	views := make([]trailingEventView, 0, len(rows))
	for _, e := range rows {
		views = append(views, newTrailingEventView(e))
	}
	c.JSON(http.StatusOK, gin.H{"events": views, "count": len(views)})
}
