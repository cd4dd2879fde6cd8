package trailing

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"btc-grid-core/pkg/exchanges/common"
)

var ErrInvalidOrder = errors.New("trailing: invalid order")

// AddRequest describes an order that was just placed and should be trailed.
type AddRequest struct {
	ExchangeOrderID int64
	Side            common.Side
	OrderPrice      float64
	MarketPrice     float64
	Quantity        float64
	TrailingPercent float64
	UseProduction   bool
}

// Registry owns the trailed orders. Readers share the lock; the repricing
// cycle takes the write lock only to mark orders and to apply each result.
type Registry struct {
	mu     sync.RWMutex
	orders map[string]*Order
	now    func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		orders: make(map[string]*Order),
		now:    time.Now,
	}
}

// Add registers an order. The reference starts at the market price, not the
// order price. Nothing is sent to the exchange.
func (r *Registry) Add(req AddRequest) (string, error) {
	switch {
	case !req.Side.Valid():
		return "", fmt.Errorf("%w: side %q", ErrInvalidOrder, req.Side)
	case req.TrailingPercent <= 0:
		return "", fmt.Errorf("%w: trailing percent must be positive", ErrInvalidOrder)
	case req.Quantity <= 0:
		return "", fmt.Errorf("%w: quantity must be positive", ErrInvalidOrder)
	case req.MarketPrice <= 0 || req.OrderPrice <= 0:
		return "", fmt.Errorf("%w: prices must be positive", ErrInvalidOrder)
	}

	o := &Order{
		ID:                uuid.NewString(),
		ExchangeOrderID:   req.ExchangeOrderID,
		Side:              req.Side,
		TrailingPercent:   req.TrailingPercent,
		CurrentOrderPrice: req.OrderPrice,
		ReferencePrice:    req.MarketPrice,
		Quantity:          req.Quantity,
		UseProduction:     req.UseProduction,
		CreatedAt:         r.now(),
	}

	r.mu.Lock()
	r.orders[o.ID] = o
	r.mu.Unlock()
	return o.ID, nil
}

// Remove stops trailing id. The exchange order is left in place.
func (r *Registry) Remove(id string) (Order, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return Order{}, false
	}
	delete(r.orders, id)
	return *o, true
}

func (r *Registry) RemoveByExchangeOrderID(exchangeOrderID int64) (Order, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, o := range r.orders {
		if o.ExchangeOrderID == exchangeOrderID {
			delete(r.orders, id)
			return *o, true
		}
	}
	return Order{}, false
}

func (r *Registry) Get(id string) (View, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return View{}, false
	}
	return o.view(), true
}

// List returns a snapshot ordered by creation time.
func (r *Registry) List() []View {
	r.mu.RLock()
	views := make([]View, 0, len(r.orders))
	for _, o := range r.orders {
		views = append(views, o.view())
	}
	r.mu.RUnlock()

	sort.Slice(views, func(i, j int) bool {
		if views[i].CreatedAt == views[j].CreatedAt {
			return views[i].ID < views[j].ID
		}
		return views[i].CreatedAt < views[j].CreatedAt
	})
	return views
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.orders)
}

// repriceJob is a snapshot of an order taken while marking.
type repriceJob struct {
	ID              string
	ExchangeOrderID int64
	Side            common.Side
	Quantity        float64
	UseProduction   bool
	OldPrice        float64
	NewPrice        float64
	ReferencePrice  float64
	createdAt       time.Time
}

// markForReprice advances every reference to marketPrice and returns the
// orders whose rounded target left the deadband.
func (r *Registry) markForReprice(marketPrice, deadband float64) (jobs []repriceJob, checked int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, o := range r.orders {
		checked++
		o.UpdateReference(marketPrice)
		target, ok := o.CalculateAdjustment(deadband)
		if !ok {
			continue
		}
		jobs = append(jobs, repriceJob{
			ID:              o.ID,
			ExchangeOrderID: o.ExchangeOrderID,
			Side:            o.Side,
			Quantity:        o.Quantity,
			UseProduction:   o.UseProduction,
			OldPrice:        o.CurrentOrderPrice,
			NewPrice:        target,
			ReferencePrice:  o.ReferencePrice,
			createdAt:       o.CreatedAt,
		})
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].createdAt.Before(jobs[j].createdAt) })
	return jobs, checked
}

// applyReprice records an accepted reprice if the entry still exists and
// still points at the order that was replaced.
func (r *Registry) applyReprice(job repriceJob, newExchangeOrderID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[job.ID]
	if !ok || o.ExchangeOrderID != job.ExchangeOrderID {
		return false
	}
	o.ExchangeOrderID = newExchangeOrderID
	o.CurrentOrderPrice = job.NewPrice
	return true
}

// removeIfCurrent drops id only while it still references exchangeOrderID.
func (r *Registry) removeIfCurrent(id string, exchangeOrderID int64) (Order, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok || o.ExchangeOrderID != exchangeOrderID {
		return Order{}, false
	}
	delete(r.orders, id)
	return *o, true
}
