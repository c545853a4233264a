package strategy

import (
	"context"
	"time"
)

// Strategy is one trading strategy variant. Update runs a single cycle; the
// runner calls it on the strategy's refresh interval. Implementations share
// the thread-safe executor and risk manager and must tolerate any cycle
// failing without crashing the process.
type Strategy interface {
	ID() string
	Type() string
	Update(ctx context.Context)
	RefreshInterval() time.Duration
	Status() Status
}

// Status is a point-in-time snapshot of one strategy for reporting.
type Status struct {
	ID           string
	Type         string
	Symbols      []string
	ActiveOrders int
	LastCycle    time.Time
	Metrics      map[string]float64
}

// scalable is implemented by strategies whose exposure the combined
// strategy can scale by a portfolio weight.
type scalable interface {
	SetScale(factor float64)
}

// pnlReporter is implemented by strategies that track realized PnL,
// which the combined strategy uses to rebalance weights.
type pnlReporter interface {
	RealizedPnL() float64
}
