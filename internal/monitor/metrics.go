package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Loop names used as metric labels.
const (
	LoopTrailing = "trailing"
	LoopFills    = "fills"
)

// SystemMetrics tracks loop, exchange and HTTP performance. Methods are safe
// on a nil receiver so components can run without metrics.
type SystemMetrics struct {
	ExchangeLatency *LatencyHistogram
	CycleLatency    *LatencyHistogram
	HTTPLatency     *LatencyHistogram

	trailingCycles    atomic.Uint64
	fillCycles        atomic.Uint64
	reprices          atomic.Uint64
	trailingRemoved   atomic.Uint64
	fillsDetected     atomic.Uint64
	notificationsSent atomic.Uint64
	httpRequests      atomic.Uint64
	errorsCount       atomic.Uint64

	mu             sync.RWMutex
	trailingActive int
	startedAt      time.Time
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		ExchangeLatency: NewLatencyHistogram(1000),
		CycleLatency:    NewLatencyHistogram(500),
		HTTPLatency:     NewLatencyHistogram(1000),
		startedAt:       time.Now(),
	}
}

// LatencyHistogram tracks latency samples with sliding window.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool         // Whether samples have changed since last Stats()
	cachedStats LatencyStats // Cached computed stats
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		// Shift window: remove oldest
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true // Mark as dirty for lazy recomputation
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99.
// Uses lazy computation - only recomputes when samples have changed.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Return cached stats if samples haven't changed
	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	// Compute new stats
	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	min, max := sorted[0], sorted[n-1]
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   min,
		Max:   max,
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// ObserveCycle records one loop iteration.
func (m *SystemMetrics) ObserveCycle(loop string, d time.Duration) {
	if m == nil {
		return
	}
	m.CycleLatency.RecordDuration(d)
	switch loop {
	case LoopTrailing:
		m.trailingCycles.Add(1)
	case LoopFills:
		m.fillCycles.Add(1)
	}
	promCycles.WithLabelValues(loop).Inc()
	promCycleSeconds.WithLabelValues(loop).Observe(d.Seconds())
}

// ObserveExchange records the latency of one gateway call.
func (m *SystemMetrics) ObserveExchange(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.ExchangeLatency.RecordDuration(d)
	promExchangeSeconds.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveHTTP records one served request.
func (m *SystemMetrics) ObserveHTTP(status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.Add(1)
	m.HTTPLatency.RecordDuration(d)
	promHTTPRequests.WithLabelValues(statusClass(status)).Inc()
}

func (m *SystemMetrics) IncrementReprices() {
	if m == nil {
		return
	}
	m.reprices.Add(1)
	promEvents.WithLabelValues("repriced").Inc()
}

func (m *SystemMetrics) IncrementTrailingRemoved(reason string) {
	if m == nil {
		return
	}
	m.trailingRemoved.Add(1)
	promEvents.WithLabelValues("removed_" + reason).Inc()
}

func (m *SystemMetrics) IncrementFills() {
	if m == nil {
		return
	}
	m.fillsDetected.Add(1)
	promEvents.WithLabelValues("filled").Inc()
}

func (m *SystemMetrics) IncrementNotifications() {
	if m == nil {
		return
	}
	m.notificationsSent.Add(1)
	promEvents.WithLabelValues("notification").Inc()
}

// IncrementErrors counts an absorbed error for component.
func (m *SystemMetrics) IncrementErrors(component string) {
	if m == nil {
		return
	}
	m.errorsCount.Add(1)
	promErrors.WithLabelValues(component).Inc()
}

// SetTrailingActive records the registry size.
func (m *SystemMetrics) SetTrailingActive(n int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.trailingActive = n
	m.mu.Unlock()
	promTrailingActive.Set(float64(n))
}

// MetricsSnapshot is the JSON view served at /api/metrics.
type MetricsSnapshot struct {
	ExchangeLatency   LatencyStats `json:"exchange_latency"`
	CycleLatency      LatencyStats `json:"cycle_latency"`
	HTTPLatency       LatencyStats `json:"http_latency"`
	TrailingCycles    uint64       `json:"trailing_cycles"`
	FillCycles        uint64       `json:"fill_cycles"`
	Reprices          uint64       `json:"reprices"`
	TrailingRemoved   uint64       `json:"trailing_removed"`
	TrailingActive    int          `json:"trailing_active"`
	FillsDetected     uint64       `json:"fills_detected"`
	NotificationsSent uint64       `json:"notifications_sent"`
	HTTPRequests      uint64       `json:"http_requests"`
	ErrorsCount       uint64       `json:"errors_count"`
	GoroutineCount    int          `json:"goroutine_count"`
	HeapAlloc         uint64       `json:"heap_alloc_bytes"`
	Uptime            string       `json:"uptime"`
	Timestamp         time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.mu.RLock()
	active := m.trailingActive
	m.mu.RUnlock()

	return MetricsSnapshot{
		ExchangeLatency:   m.ExchangeLatency.Stats(),
		CycleLatency:      m.CycleLatency.Stats(),
		HTTPLatency:       m.HTTPLatency.Stats(),
		TrailingCycles:    m.trailingCycles.Load(),
		FillCycles:        m.fillCycles.Load(),
		Reprices:          m.reprices.Load(),
		TrailingRemoved:   m.trailingRemoved.Load(),
		TrailingActive:    active,
		FillsDetected:     m.fillsDetected.Load(),
		NotificationsSent: m.notificationsSent.Load(),
		HTTPRequests:      m.httpRequests.Load(),
		ErrorsCount:       m.errorsCount.Load(),
		GoroutineCount:    runtime.NumGoroutine(),
		HeapAlloc:         memStats.HeapAlloc,
		Uptime:            time.Since(m.startedAt).Round(time.Second).String(),
		Timestamp:         time.Now(),
	}
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
