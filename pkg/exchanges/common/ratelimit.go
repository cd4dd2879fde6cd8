package common

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter paces outbound requests and tracks the weight the exchange
// reports back.
type RateLimiter struct {
	pacer         *rate.Limiter
	usedWeight    int
	limit         int
	lastReset     time.Time
	resetInterval time.Duration
	mu            sync.RWMutex
}

// NewRateLimiter creates a limiter for limit weight per resetInterval, pacing
// at most rps requests per second.
func NewRateLimiter(limit int, resetInterval time.Duration, rps float64) *RateLimiter {
	return &RateLimiter{
		pacer:         rate.NewLimiter(rate.Limit(rps), int(rps)*2+1),
		limit:         limit,
		resetInterval: resetInterval,
		lastReset:     time.Now(),
	}
}

// Wait blocks until a request may be sent. Near the weight limit it also
// waits out the rest of the current window.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if err := rl.pacer.Wait(ctx); err != nil {
		return err
	}
	if !rl.ShouldDelay() {
		return nil
	}
	rl.mu.RLock()
	remaining := rl.resetInterval - time.Since(rl.lastReset)
	rl.mu.RUnlock()
	if remaining <= 0 {
		return nil
	}
	log.Printf("rate limit: weight near cap, pausing %s", remaining.Round(time.Second))
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// UpdateFromHeader records X-MBX-USED-WEIGHT-1M.
func (rl *RateLimiter) UpdateFromHeader(headerValue string) {
	if headerValue == "" {
		return
	}
	weight, err := strconv.Atoi(headerValue)
	if err != nil {
		return
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if time.Since(rl.lastReset) >= rl.resetInterval {
		rl.lastReset = time.Now()
	}
	rl.usedWeight = weight

	percentage := float64(rl.usedWeight) / float64(rl.limit) * 100
	if percentage >= 95 {
		log.Printf("rate limit critical: %d/%d (%.1f%%)", rl.usedWeight, rl.limit, percentage)
	} else if percentage >= 80 {
		log.Printf("rate limit warning: %d/%d (%.1f%%)", rl.usedWeight, rl.limit, percentage)
	}
}

// GetUsage returns current usage information.
func (rl *RateLimiter) GetUsage() (used int, limit int, percentage float64) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	if time.Since(rl.lastReset) >= rl.resetInterval {
		return 0, rl.limit, 0
	}
	return rl.usedWeight, rl.limit, float64(rl.usedWeight) / float64(rl.limit) * 100
}

// ShouldDelay returns true once 90% of the window's weight is used.
func (rl *RateLimiter) ShouldDelay() bool {
	_, _, pct := rl.GetUsage()
	return pct >= 90
}
