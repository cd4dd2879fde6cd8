package common

import (
	"context"
	"log"
	"sync"
	"time"
)

// TimeSync keeps the offset between local and exchange clocks. It resyncs
// lazily when the last sync is older than the interval.
type TimeSync struct {
	getServerTime func(ctx context.Context) (int64, error)
	offset        int64 // ms, server - local
	lastSync      time.Time
	syncInterval  time.Duration
	mu            sync.RWMutex
}

func NewTimeSync(getServerTime func(ctx context.Context) (int64, error)) *TimeSync {
	return &TimeSync{
		getServerTime: getServerTime,
		syncInterval:  30 * time.Minute,
	}
}

// Sync measures the offset once.
func (ts *TimeSync) Sync(ctx context.Context) error {
	localBefore := time.Now().UnixMilli()
	serverTime, err := ts.getServerTime(ctx)
	if err != nil {
		return err
	}
	localAfter := time.Now().UnixMilli()
	localTime := localBefore + (localAfter-localBefore)/2

	ts.mu.Lock()
	ts.offset = serverTime - localTime
	ts.lastSync = time.Now()
	ts.mu.Unlock()

	log.Printf("time sync: offset=%dms", serverTime-localTime)
	return nil
}

// Timestamp returns the exchange-adjusted time in ms, syncing first if stale.
// A failed sync falls back to the previous offset.
func (ts *TimeSync) Timestamp(ctx context.Context) int64 {
	ts.mu.RLock()
	stale := time.Since(ts.lastSync) >= ts.syncInterval
	ts.mu.RUnlock()
	if stale {
		if err := ts.Sync(ctx); err != nil {
			log.Printf("time sync failed: %v", err)
			ts.mu.Lock()
			// back off a full interval before retrying
			ts.lastSync = time.Now()
			ts.mu.Unlock()
		}
	}
	return ts.Now()
}

// Now returns current time adjusted for server offset.
func (ts *TimeSync) Now() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return time.Now().UnixMilli() + ts.offset
}

// Offset returns the current time offset in milliseconds.
func (ts *TimeSync) Offset() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.offset
}
