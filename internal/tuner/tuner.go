// Package tuner connects strategies to an external parameter controller.
// The controller proposes replacement parameter sets; the poller applies
// them atomically so a strategy cycle sees either the old set or the new
// one, never a mix.
package tuner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quantbot/ultramm/internal/strategy"
	"go.uber.org/zap"
)

// ParameterController is implemented outside the core: an optimizer, a file
// watcher, an operator endpoint. Poll returns pending replacement parameter
// sets keyed by strategy id. Ids absent from the map keep their current set.
type ParameterController interface {
	Poll(ctx context.Context) (map[string]any, error)
}

// Applier installs one strategy's replacement parameter set.
type Applier func(params any) error

// Bind adapts a typed parameter store to an Applier. A proposal of the
// wrong type is rejected without touching the store.
func Bind[T any](store *strategy.ParamStore[T]) Applier {
	return func(params any) error {
		p, ok := params.(T)
		if !ok {
			return fmt.Errorf("parameter set has type %T, want %T", params, p)
		}
		store.Swap(p)
		return nil
	}
}

// Poller periodically asks the controller for parameter updates and applies
// them to the registered strategies.
type Poller struct {
	log        *zap.Logger
	controller ParameterController
	interval   time.Duration

	mu       sync.Mutex
	appliers map[string]Applier
	applied  int64

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller creates a poller over the given controller.
func NewPoller(controller ParameterController, interval time.Duration, log *zap.Logger) *Poller {
	return &Poller{
		log:        log.With(zap.String("component", "tuner")),
		controller: controller,
		interval:   interval,
		appliers:   make(map[string]Applier),
	}
}

// Register binds a strategy id to its parameter applier.
func (p *Poller) Register(strategyID string, applier Applier) {
	p.mu.Lock()
	p.appliers[strategyID] = applier
	p.mu.Unlock()
}

// Start launches the polling loop.
func (p *Poller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.loop(ctx)
	p.log.Info("tuner started", zap.Duration("interval", p.interval))
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ApplyOnce(ctx)
		}
	}
}

// ApplyOnce performs a single poll-and-apply pass. Failures on one strategy
// never block updates to the others.
func (p *Poller) ApplyOnce(ctx context.Context) {
	proposals, err := p.controller.Poll(ctx)
	if err != nil {
		p.log.Warn("controller poll failed", zap.Error(err))
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for id, params := range proposals {
		applier, ok := p.appliers[id]
		if !ok {
			p.log.Warn("proposal for unknown strategy", zap.String("strategy", id))
			continue
		}
		if err := applier(params); err != nil {
			p.log.Warn("parameter update rejected",
				zap.String("strategy", id), zap.Error(err))
			continue
		}
		p.applied++
		p.log.Info("parameters updated", zap.String("strategy", id))
	}
}

// AppliedCount returns how many parameter sets have been installed.
func (p *Poller) AppliedCount() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.applied
}

// Stop halts the polling loop.
func (p *Poller) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.log.Info("tuner stopped")
}
