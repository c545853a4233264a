package executor

import (
	"context"
	"sync"
	"time"
)

// rateGate spaces venue requests at a minimum interval. Callers reserve a
// slot under the gate's own lock and sleep outside of it, so a slow venue
// never blocks the order table.
type rateGate struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time
}

func newRateGate(perSecond int) *rateGate {
	if perSecond <= 0 {
		return &rateGate{}
	}
	return &rateGate{interval: time.Second / time.Duration(perSecond)}
}

// wait blocks until the caller's reserved slot arrives or ctx is done.
func (g *rateGate) wait(ctx context.Context) error {
	if g.interval == 0 {
		return nil
	}

	g.mu.Lock()
	now := time.Now()
	if g.next.Before(now) {
		g.next = now
	}
	slot := g.next
	g.next = slot.Add(g.interval)
	g.mu.Unlock()

	delay := time.Until(slot)
	if delay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}
