// Package reconciliation infers fills by diffing the exchange's open orders
// against the previous cycle and reporting trades newer than the last one seen.
package reconciliation

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"btc-grid-core/internal/events"
	"btc-grid-core/internal/monitor"
	"btc-grid-core/internal/notify"
	"btc-grid-core/pkg/exchanges/common"
)

// ExchangeClient is the subset of the gateway the loop reads.
type ExchangeClient interface {
	GetOpenOrders(ctx context.Context) ([]common.Order, error)
	GetTrades(ctx context.Context, limit int) ([]common.Trade, error)
}

// Options tunes the service. Zero values fall back to defaults.
type Options struct {
	Interval   time.Duration
	TradeLimit int
	Bus        *events.Bus
	Metrics    *monitor.SystemMetrics
}

// Service handles periodic fill detection.
type Service struct {
	exchange   ExchangeClient
	sink       notify.Sink
	interval   time.Duration
	tradeLimit int
	bus        *events.Bus
	metrics    *monitor.SystemMetrics

	mu          sync.Mutex
	known       map[int64]struct{}
	lastTradeID int64
	initialized bool
}

// Report contains the results of one cycle.
type Report struct {
	Timestamp   time.Time
	OpenOrders  int
	Missing     []int64
	Notified    []common.Trade
	LastTradeID int64
	TradesErr   error
}

// NewService creates a new fill detection service.
func NewService(exchange ExchangeClient, sink notify.Sink, opts Options) *Service {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.TradeLimit <= 0 {
		opts.TradeLimit = 20
	}
	return &Service{
		exchange:   exchange,
		sink:       sink,
		interval:   opts.Interval,
		tradeLimit: opts.TradeLimit,
		bus:        opts.Bus,
		metrics:    opts.Metrics,
		known:      make(map[int64]struct{}),
	}
}

// Initialize snapshots the orders and the newest trade that already exist so
// they are never reported as fills.
func (s *Service) Initialize(ctx context.Context) error {
	orders, err := s.exchange.GetOpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("initial open orders: %w", err)
	}
	trades, err := s.exchange.GetTrades(ctx, 1)
	if err != nil {
		return fmt.Errorf("initial trades: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.known = idSet(orders)
	s.lastTradeID = 0
	for _, t := range trades {
		if t.ID > s.lastTradeID {
			s.lastTradeID = t.ID
		}
	}
	s.initialized = true
	log.Printf("🔍 fill monitor initialized: %d open orders, last trade %d", len(s.known), s.lastTradeID)
	return nil
}

// Start initializes (retrying each interval until it succeeds) and then runs
// the loop in its own goroutine.
func (s *Service) Start(ctx context.Context) {
	go s.Run(ctx)
	log.Printf("✓ Fill monitor started (interval: %v, trade limit: %d)", s.interval, s.tradeLimit)
}

// Run blocks until ctx is done.
func (s *Service) Run(ctx context.Context) {
	for !s.isInitialized() {
		if err := s.Initialize(ctx); err != nil {
			log.Printf("❌ Fill monitor init: %v", err)
			s.metrics.IncrementErrors(monitor.LoopFills)
			if !sleep(ctx, s.interval) {
				return
			}
		}
	}

	timer := time.NewTimer(s.interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("🔍 fill monitor stopped")
			return
		case <-timer.C:
			if _, err := s.Reconcile(ctx); err != nil {
				log.Printf("❌ Fill check error: %v", err)
			}
			timer.Reset(s.interval)
		}
	}
}

func (s *Service) isInitialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// Reconcile performs one detection cycle. Every trade newer than the
// high-water mark is reported whenever any known order has disappeared; the
// trades are not attributed to the specific missing orders.
func (s *Service) Reconcile(ctx context.Context) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	defer func() { s.metrics.ObserveCycle(monitor.LoopFills, time.Since(start)) }()

	orders, err := s.exchange.GetOpenOrders(ctx)
	s.metrics.ObserveExchange("open_orders", time.Since(start))
	if err != nil {
		s.metrics.IncrementErrors(monitor.LoopFills)
		return nil, fmt.Errorf("open orders: %w", err)
	}

	current := idSet(orders)
	report := &Report{
		Timestamp:  time.Now(),
		OpenOrders: len(current),
	}
	for id := range s.known {
		if _, ok := current[id]; !ok {
			report.Missing = append(report.Missing, id)
		}
	}

	if len(report.Missing) > 0 {
		report.Notified, report.TradesErr = s.collectNewTrades(ctx)
		if report.TradesErr != nil {
			log.Printf("⚠️ %d orders left the book but trades are unavailable: %v", len(report.Missing), report.TradesErr)
			s.metrics.IncrementErrors(monitor.LoopFills)
		}
	}

	s.known = current
	report.LastTradeID = s.lastTradeID

	for _, t := range report.Notified {
		s.notify(ctx, t)
	}
	return report, nil
}

// collectNewTrades returns trades above the high-water mark, oldest first,
// and advances the mark to the largest id seen.
func (s *Service) collectNewTrades(ctx context.Context) ([]common.Trade, error) {
	callStart := time.Now()
	trades, err := s.exchange.GetTrades(ctx, s.tradeLimit)
	s.metrics.ObserveExchange("trades", time.Since(callStart))
	if err != nil {
		return nil, fmt.Errorf("recent trades: %w", err)
	}

	var fresh []common.Trade
	highest := s.lastTradeID
	for _, t := range trades {
		if t.ID > s.lastTradeID {
			fresh = append(fresh, t)
		}
		if t.ID > highest {
			highest = t.ID
		}
	}
	s.lastTradeID = highest
	return fresh, nil
}

func (s *Service) notify(ctx context.Context, t common.Trade) {
	price := t.PriceDecimal().InexactFloat64()
	qty := t.QuantityDecimal().InexactFloat64()
	side := t.Side()

	log.Printf("💰 %s fill detected: trade %d order %d %.5f @ %.2f", side, t.ID, t.OrderID, qty, price)
	if s.sink != nil {
		if side == common.SideBuy {
			s.sink.NotifyBuyFilled(ctx, price, qty)
		} else {
			s.sink.NotifySellFilled(ctx, price, qty, nil)
		}
	}
	s.bus.Publish(events.EventOrderFilled, events.OrderFilled{
		TradeID:  t.ID,
		OrderID:  t.OrderID,
		Side:     string(side),
		Price:    price,
		Quantity: qty,
		At:       time.UnixMilli(t.Time),
	})
}

// State returns the current snapshot.
func (s *Service) State() (known []int64, lastTradeID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.known {
		known = append(known, id)
	}
	return known, s.lastTradeID
}

func idSet(orders []common.Order) map[int64]struct{} {
	set := make(map[int64]struct{}, len(orders))
	for _, o := range orders {
		set[o.OrderID] = struct{}{}
	}
	return set
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
