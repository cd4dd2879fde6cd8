package trailing

import (
	"context"
	"fmt"
	"log"
	"time"

	"btc-grid-core/internal/events"
	"btc-grid-core/internal/monitor"
	"btc-grid-core/pkg/exchanges/common"
)

// Options tunes the monitor. Zero values fall back to defaults.
type Options struct {
	Interval time.Duration
	Deadband float64
	Bus      *events.Bus
	Metrics  *monitor.SystemMetrics
}

// Monitor runs the repricing cycle.
type Monitor struct {
	registry *Registry
	prices   common.PriceSource
	venues   common.Resolver
	interval time.Duration
	deadband float64
	bus      *events.Bus
	metrics  *monitor.SystemMetrics
}

// CycleReport summarizes one cycle.
type CycleReport struct {
	MarketPrice float64
	Checked     int
	Repriced    int
	Removed     int
	Discarded   int
	Failed      int
	Skipped     bool
}

// NewMonitor wires the registry to a price source and to the gateways that
// hold the orders.
func NewMonitor(registry *Registry, prices common.PriceSource, venues common.Resolver, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Second
	}
	if opts.Deadband <= 0 {
		opts.Deadband = DefaultDeadband
	}
	return &Monitor{
		registry: registry,
		prices:   prices,
		venues:   venues,
		interval: opts.Interval,
		deadband: opts.Deadband,
		bus:      opts.Bus,
		metrics:  opts.Metrics,
	}
}

// Start runs the loop in its own goroutine.
func (m *Monitor) Start(ctx context.Context) {
	go m.Run(ctx)
}

// Run blocks until ctx is done. Each cycle finishes before the next wait starts.
func (m *Monitor) Run(ctx context.Context) {
	log.Printf("🎯 trailing monitor started (interval=%s, deadband=%.4f)", m.interval, m.deadband)
	timer := time.NewTimer(m.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("🎯 trailing monitor stopped")
			return
		case <-timer.C:
			if _, err := m.RunCycle(ctx); err != nil {
				log.Printf("⚠️ trailing cycle: %v", err)
			}
			timer.Reset(m.interval)
		}
	}
}

// RunCycle fetches the price once and reprices every order that drifted out
// of the deadband. Per-order failures are logged and counted, never returned.
func (m *Monitor) RunCycle(ctx context.Context) (CycleReport, error) {
	var report CycleReport
	defer func() { m.metrics.SetTrailingActive(m.registry.Len()) }()

	if m.registry.Len() == 0 {
		report.Skipped = true
		return report, nil
	}

	start := time.Now()
	defer func() { m.metrics.ObserveCycle(monitor.LoopTrailing, time.Since(start)) }()

	price, err := m.prices.GetPrice(ctx)
	m.metrics.ObserveExchange("price", time.Since(start))
	if err != nil {
		m.metrics.IncrementErrors(monitor.LoopTrailing)
		return report, fmt.Errorf("fetch price: %w", err)
	}
	report.MarketPrice = price

	jobs, checked := m.registry.markForReprice(price, m.deadband)
	report.Checked = checked

	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		m.reprice(ctx, job, price, &report)
	}

	if report.Repriced > 0 || report.Removed > 0 || report.Failed > 0 {
		log.Printf("🎯 trailing cycle @ %.2f: checked=%d repriced=%d removed=%d failed=%d",
			price, report.Checked, report.Repriced, report.Removed, report.Failed)
	}
	return report, nil
}

func (m *Monitor) reprice(ctx context.Context, job repriceJob, marketPrice float64, report *CycleReport) {
	gw, err := m.venues.ForEnvironment(job.UseProduction)
	if err != nil {
		log.Printf("⚠️ trailing %s: %v", job.ID, err)
		m.metrics.IncrementErrors(monitor.LoopTrailing)
		report.Failed++
		return
	}

	log.Printf("🔄 trailing %s: %s order %d %.2f -> %.2f (ref %.2f)",
		job.ID, job.Side, job.ExchangeOrderID, job.OldPrice, job.NewPrice, job.ReferencePrice)

	callStart := time.Now()
	placed, err := gw.ModifyOrder(ctx, job.ExchangeOrderID, job.Side, job.NewPrice, job.Quantity)
	m.metrics.ObserveExchange("modify", time.Since(callStart))

	switch {
	case common.IsUnknownOrder(err):
		removed, ok := m.registry.removeIfCurrent(job.ID, job.ExchangeOrderID)
		if !ok {
			return
		}
		log.Printf("✅ trailing %s: order %d gone from the book (filled or cancelled), stopped trailing", job.ID, job.ExchangeOrderID)
		report.Removed++
		m.bus.Publish(events.EventTrailingRemoved, events.TrailingRemoved{
			TrailingID: removed.ID,
			OrderID:    removed.ExchangeOrderID,
			Side:       string(removed.Side),
			Reason:     events.ReasonUnknownOrder,
			At:         time.Now(),
		})
		return
	case err != nil:
		log.Printf("⚠️ trailing %s: reprice failed, will retry: %v", job.ID, err)
		m.metrics.IncrementErrors(monitor.LoopTrailing)
		report.Failed++
		return
	}

	if !m.registry.applyReprice(job, placed.OrderID) {
		log.Printf("trailing %s was removed during reprice; exchange order %d left as placed", job.ID, placed.OrderID)
		report.Discarded++
		return
	}
	report.Repriced++
	m.bus.Publish(events.EventTrailingRepriced, events.TrailingRepriced{
		TrailingID:     job.ID,
		OldOrderID:     job.ExchangeOrderID,
		NewOrderID:     placed.OrderID,
		Side:           string(job.Side),
		OldPrice:       job.OldPrice,
		NewPrice:       job.NewPrice,
		ReferencePrice: job.ReferencePrice,
		MarketPrice:    marketPrice,
		At:             time.Now(),
	})
}
