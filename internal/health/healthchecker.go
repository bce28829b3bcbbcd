// Package health monitors backing-store connectivity in the background so
// startup can gate on a healthy dependency and outages get logged once per
// transition.
package health

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/roomly/connect/internal/store"
)

// StoreHealthChecker probes the store on an interval and caches the result.
type StoreHealthChecker struct {
	store        store.Store
	healthy      atomic.Int32
	log          zerolog.Logger
	probeTimeout time.Duration
}

// NewStoreHealthChecker creates a checker that starts unhealthy until its
// first successful probe.
func NewStoreHealthChecker(st store.Store, log zerolog.Logger, probeTimeout time.Duration) *StoreHealthChecker {
	hc := &StoreHealthChecker{store: st, log: log, probeTimeout: probeTimeout}
	hc.healthy.Store(0)
	return hc
}

// IsHealthy returns the cached health status without blocking.
func (hc *StoreHealthChecker) IsHealthy() bool {
	return hc.healthy.Load() == 1
}

// Start probes immediately, then on every tick until ctx is canceled.
func (hc *StoreHealthChecker) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	prev := int32(-1)
	check := func() {
		to := hc.probeTimeout
		if to <= 0 {
			to = 2 * time.Second
		}
		checkCtx, cancel := context.WithTimeout(ctx, to)
		defer cancel()

		cur := int32(0)
		if err := hc.store.Ping(checkCtx); err != nil {
			hc.log.Error().Err(err).Msg("store health check failed")
		} else {
			cur = 1
		}
		hc.healthy.Store(cur)
		if cur != prev {
			if cur == 1 {
				hc.log.Info().Msg("store health: UP")
			} else {
				hc.log.Error().Msg("store health: DOWN")
			}
			prev = cur
		}
	}

	check()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}

// WaitUntilHealthy blocks until the checker reports healthy, the timeout
// elapses, or ctx is canceled.
func (hc *StoreHealthChecker) WaitUntilHealthy(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		if hc.IsHealthy() {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("store not healthy within %s", timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
