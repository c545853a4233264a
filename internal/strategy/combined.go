package strategy

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/quantbot/ultramm/internal/config"
	"go.uber.org/zap"
)

// child tracks one owned strategy and its portfolio weight.
type child struct {
	strategy Strategy
	weight   float64
	lastPnL  float64
}

// Combined owns a set of child strategies and drives their cycles itself.
// Children are not registered with the runner individually. Weights start
// as configured and are rebalanced periodically toward the children that
// produced realized profit since the last rebalance.
type Combined struct {
	id  string
	log *zap.Logger

	rebalanceEvery time.Duration
	refreshEvery   time.Duration

	mu            sync.Mutex
	children      []*child
	lastRebalance time.Time
	lastCycle     time.Time
}

// NewCombined wraps the given strategies with their starting weights.
// Weights are normalized to sum to 1.
func NewCombined(id string, p config.CombinedParams, strategies []Strategy, weights []float64, log *zap.Logger) *Combined {
	c := &Combined{
		id:             id,
		log:            log.With(zap.String("component", "combined"), zap.String("strategy", id)),
		rebalanceEvery: p.RebalanceInterval,
		refreshEvery:   p.RefreshInterval,
		lastRebalance:  time.Now(),
	}
	for i, s := range strategies {
		w := 1.0
		if i < len(weights) && weights[i] > 0 {
			w = weights[i]
		}
		c.children = append(c.children, &child{strategy: s, weight: w})
	}
	c.normalizeLocked()
	c.applyWeightsLocked()
	return c
}

func (c *Combined) ID() string                     { return c.id }
func (c *Combined) Type() string                   { return config.TypeCombined }
func (c *Combined) RefreshInterval() time.Duration { return c.refreshEvery }

// Update drives one cycle of every child, then rebalances when due.
func (c *Combined) Update(ctx context.Context) {
	c.mu.Lock()
	c.lastCycle = time.Now()
	children := make([]*child, len(c.children))
	copy(children, c.children)
	rebalance := time.Since(c.lastRebalance) >= c.rebalanceEvery
	c.mu.Unlock()

	for _, ch := range children {
		ch.strategy.Update(ctx)
	}

	if rebalance {
		c.rebalance()
	}
}

// rebalance shifts weight toward children with positive realized PnL since
// the last rebalance. Children without PnL tracking keep their weight.
func (c *Combined) rebalance() {
	c.mu.Lock()
	defer c.mu.Unlock()

	var totalAbs float64
	deltas := make([]float64, len(c.children))
	for i, ch := range c.children {
		if r, ok := ch.strategy.(pnlReporter); ok {
			pnl := r.RealizedPnL()
			deltas[i] = pnl - ch.lastPnL
			ch.lastPnL = pnl
			totalAbs += math.Abs(deltas[i])
		}
	}

	if totalAbs > 0 {
		for i, ch := range c.children {
			// Scale each weight by performance relative to the period's
			// total PnL magnitude, floored so no child is starved.
			adjustment := 1 + deltas[i]/totalAbs
			ch.weight = math.Max(0.1, ch.weight*adjustment)
		}
		c.normalizeLocked()
	}

	c.applyWeightsLocked()
	c.lastRebalance = time.Now()

	for _, ch := range c.children {
		c.log.Info("weight rebalanced",
			zap.String("child", ch.strategy.ID()),
			zap.Float64("weight", ch.weight))
	}
}

func (c *Combined) normalizeLocked() {
	var sum float64
	for _, ch := range c.children {
		sum += ch.weight
	}
	if sum == 0 {
		return
	}
	for _, ch := range c.children {
		ch.weight /= sum
	}
}

// applyWeightsLocked pushes weights into the children as exposure scales.
// The scale is weight relative to an equal split, so balanced weights leave
// every child at its configured size.
func (c *Combined) applyWeightsLocked() {
	n := float64(len(c.children))
	for _, ch := range c.children {
		if s, ok := ch.strategy.(scalable); ok {
			s.SetScale(ch.weight * n)
		}
	}
}

// Weights returns the current child weights keyed by strategy id.
func (c *Combined) Weights() map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]float64, len(c.children))
	for _, ch := range c.children {
		out[ch.strategy.ID()] = ch.weight
	}
	return out
}

func (c *Combined) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	var symbols []string
	active := 0
	metrics := make(map[string]float64)
	for _, ch := range c.children {
		st := ch.strategy.Status()
		symbols = append(symbols, st.Symbols...)
		active += st.ActiveOrders
		metrics["weight_"+ch.strategy.ID()] = ch.weight
	}
	return Status{
		ID:           c.id,
		Type:         c.Type(),
		Symbols:      symbols,
		ActiveOrders: active,
		LastCycle:    c.lastCycle,
		Metrics:      metrics,
	}
}
