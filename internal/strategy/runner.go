package strategy

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Runner drives each registered strategy on its own goroutine, ticking at
// the strategy's refresh interval. The interval is re-read after every
// cycle, so adaptive strategies can speed up or slow down.
type Runner struct {
	log        *zap.Logger
	strategies []Strategy

	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}
}

// NewRunner creates a runner over the given strategies.
func NewRunner(strategies []Strategy, log *zap.Logger) *Runner {
	return &Runner{
		log:        log.With(zap.String("component", "runner")),
		strategies: strategies,
	}
}

// Start launches one loop per strategy.
func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	for _, s := range r.strategies {
		r.wg.Add(1)
		go r.loop(ctx, s)
	}
	go func() {
		r.wg.Wait()
		close(r.done)
	}()
	r.log.Info("strategies started", zap.Int("count", len(r.strategies)))
}

func (r *Runner) loop(ctx context.Context, s Strategy) {
	defer r.wg.Done()
	s.Update(ctx)
	timer := time.NewTimer(s.RefreshInterval())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.Update(ctx)
			timer.Reset(s.RefreshInterval())
		}
	}
}

// Stop cancels the loops and waits at most timeout for them to drain.
func (r *Runner) Stop(timeout time.Duration) {
	if r.cancel == nil {
		return
	}
	r.cancel()
	select {
	case <-r.done:
	case <-time.After(timeout):
		r.log.Warn("strategy loops did not stop before timeout")
	}
	r.log.Info("strategies stopped")
}

// Statuses returns a snapshot of every registered strategy.
func (r *Runner) Statuses() []Status {
	out := make([]Status, 0, len(r.strategies))
	for _, s := range r.strategies {
		out = append(out, s.Status())
	}
	return out
}
