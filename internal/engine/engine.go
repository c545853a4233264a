// Package engine wires the trading core together: market data, risk,
// execution, strategies and the parameter tuner, with a single Start/Stop
// lifecycle.
package engine

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/quantbot/ultramm/internal/config"
	"github.com/quantbot/ultramm/internal/exchange"
	"github.com/quantbot/ultramm/internal/executor"
	"github.com/quantbot/ultramm/internal/marketdata"
	"github.com/quantbot/ultramm/internal/models"
	"github.com/quantbot/ultramm/internal/risk"
	"github.com/quantbot/ultramm/internal/strategy"
	"github.com/quantbot/ultramm/internal/stream"
	"github.com/quantbot/ultramm/internal/tuner"
	"go.uber.org/zap"
)

// Engine owns every subsystem of the trading core.
type Engine struct {
	cfg *config.Config
	log *zap.Logger

	store *marketdata.Store
	venue exchange.Client
	rm    *risk.Manager
	exec  *executor.Executor

	strategies []strategy.Strategy
	runner     *strategy.Runner
	poller     *tuner.Poller
	feed       *stream.Client

	started bool
}

// New builds the engine from configuration. When cfg.PaperTrade is set the
// venue is the in-process paper venue; a live venue would slot in behind the
// same client interface.
func New(cfg *config.Config, log *zap.Logger) (*Engine, error) {
	store := marketdata.NewStore(cfg.CacheTTL)
	rm := risk.NewManager(cfg, store, log)

	var venue exchange.Client = exchange.NewPaperVenue()
	if !cfg.PaperTrade {
		return nil, fmt.Errorf("venue %q: only paper trading is wired in this build", cfg.Venue)
	}

	exec := executor.New(cfg, map[string]exchange.Client{venue.Name(): venue}, venue.Name(), rm, log)

	e := &Engine{
		cfg:   cfg,
		log:   log.With(zap.String("component", "engine")),
		store: store,
		venue: venue,
		rm:    rm,
		exec:  exec,
	}

	specs, err := config.LoadStrategySpecs(cfg.StrategiesFile)
	if err != nil {
		return nil, fmt.Errorf("load strategies: %w", err)
	}
	if err := e.buildStrategies(specs); err != nil {
		return nil, err
	}

	e.runner = strategy.NewRunner(e.strategies, log)

	if cfg.TunerEnabled && cfg.StrategiesFile != "" {
		e.poller = tuner.NewPoller(tuner.NewFileController(cfg.StrategiesFile), cfg.TunerPollInterval, log)
		e.registerTunables()
	}

	if cfg.StreamURL != "" {
		e.feed = stream.NewClient(cfg, store, log)
	}

	return e, nil
}

// buildStrategies instantiates each enabled spec. Strategies claimed as
// children of a combined spec are driven by the combined strategy only and
// never registered with the runner directly.
func (e *Engine) buildStrategies(specs []config.StrategySpec) error {
	built := make(map[string]strategy.Strategy, len(specs))
	for _, spec := range specs {
		if spec.Type == config.TypeCombined {
			continue
		}
		s, err := e.buildOne(spec)
		if err != nil {
			return err
		}
		built[spec.Name] = s
	}

	claimed := make(map[string]bool)
	var combined []strategy.Strategy
	for _, spec := range specs {
		if spec.Type != config.TypeCombined || !spec.Enabled {
			continue
		}
		var children []strategy.Strategy
		var weights []float64
		for _, ref := range spec.Combined.Children {
			child, ok := built[ref.Name]
			if !ok {
				return fmt.Errorf("combined strategy %q: unknown child %q", spec.Name, ref.Name)
			}
			if claimed[ref.Name] {
				return fmt.Errorf("combined strategy %q: child %q already claimed", spec.Name, ref.Name)
			}
			claimed[ref.Name] = true
			children = append(children, child)
			weights = append(weights, ref.Weight)
		}
		combined = append(combined, strategy.NewCombined(spec.Name, spec.Combined, children, weights, e.log))
	}

	for _, spec := range specs {
		if spec.Type == config.TypeCombined || !spec.Enabled || claimed[spec.Name] {
			continue
		}
		e.strategies = append(e.strategies, built[spec.Name])
	}
	e.strategies = append(e.strategies, combined...)

	if len(e.strategies) == 0 {
		return fmt.Errorf("no enabled strategies")
	}
	return nil
}

func (e *Engine) buildOne(spec config.StrategySpec) (strategy.Strategy, error) {
	switch spec.Type {
	case config.TypeMarketMaking:
		return strategy.NewMarketMaker(spec.Name, spec.MarketMaking, e.store, e.exec, e.rm, e.log), nil
	case config.TypeAdaptiveMarketMaking:
		return strategy.NewAdaptiveMarketMaker(spec.Name, spec.Adaptive, e.store, e.exec, e.rm, e.log), nil
	case config.TypeStatisticalArbitrage:
		return strategy.NewStatArb(spec.Name, spec.StatArb, e.store, e.exec, e.log), nil
	}
	return nil, fmt.Errorf("strategy %q: unknown type %q", spec.Name, spec.Type)
}

// registerTunables binds each strategy's parameter store to the tuner.
func (e *Engine) registerTunables() {
	for _, s := range e.strategies {
		switch st := s.(type) {
		case *strategy.MarketMaker:
			e.poller.Register(st.ID(), tuner.Bind(st.Params))
		case *strategy.AdaptiveMarketMaker:
			e.poller.Register(st.ID(), tuner.Bind(st.Params))
		case *strategy.StatArb:
			e.poller.Register(st.ID(), tuner.Bind(st.Params))
		}
	}
}

// Start brings up the executor loop, the market-data feed, the strategy
// loops and the tuner, then persists the run state.
func (e *Engine) Start(ctx context.Context) error {
	if e.started {
		return fmt.Errorf("engine already started")
	}
	e.started = true

	e.exec.Start(ctx)

	if e.feed != nil {
		symbols := e.tradedSymbols()
		if err := e.feed.Subscribe(symbols); err != nil {
			e.log.Warn("staging subscriptions failed", zap.Error(err))
		}
		if err := e.feed.Connect(); err != nil {
			e.log.Warn("market data feed unavailable", zap.Error(err))
		}
	}

	e.runner.Start(ctx)
	if e.poller != nil {
		e.poller.Start(ctx)
	}

	if err := e.persistState(); err != nil {
		e.log.Warn("failed to write run state", zap.Error(err))
	}

	e.log.Info("engine started",
		zap.String("venue", e.venue.Name()),
		zap.Int("strategies", len(e.strategies)))
	return nil
}

// Stop shuts down in dependency order: strategy loops first so nothing new
// is placed, then the executor (cancel-all plus bounded join), then the
// feed and the tuner.
func (e *Engine) Stop(ctx context.Context) error {
	if !e.started {
		return nil
	}
	e.started = false

	e.runner.Stop(e.cfg.ShutdownTimeout)
	if e.poller != nil {
		e.poller.Stop()
	}

	e.exec.Stop(ctx)

	var err error
	if e.feed != nil {
		err = e.feed.Close()
	}

	if rerr := RemoveRunState(); rerr != nil {
		e.log.Warn("failed to remove run state", zap.Error(rerr))
	}

	e.log.Info("engine stopped")
	return err
}

func (e *Engine) tradedSymbols() []string {
	seen := make(map[string]bool)
	var symbols []string
	for _, s := range e.strategies {
		for _, sym := range s.Status().Symbols {
			if !seen[sym] {
				seen[sym] = true
				symbols = append(symbols, sym)
			}
		}
	}
	return symbols
}

// PaperVenue exposes the paper venue for simulation drivers, or nil when
// running against a live venue.
func (e *Engine) PaperVenue() *exchange.PaperVenue {
	if pv, ok := e.venue.(*exchange.PaperVenue); ok {
		return pv
	}
	return nil
}

// MarketData exposes the recorder side for simulation drivers.
func (e *Engine) MarketData() *marketdata.Store { return e.store }

// GetExecutionStats returns the executor's cumulative counters.
func (e *Engine) GetExecutionStats() models.ExecutionStats {
	return e.exec.GetExecutionStats()
}

// GetRiskReport returns the current risk report.
func (e *Engine) GetRiskReport() risk.Report {
	return e.rm.GetRiskReport()
}

// GetActiveOrders returns tracked non-terminal orders, optionally filtered
// by symbol ("" means all).
func (e *Engine) GetActiveOrders(symbol string) []models.Order {
	return e.exec.GetActiveOrders(symbol)
}

// StrategyStatuses returns a snapshot of every running strategy.
func (e *Engine) StrategyStatuses() []strategy.Status {
	return e.runner.Statuses()
}

// PairModels returns the fitted model of every stat-arb strategy.
func (e *Engine) PairModels() []*strategy.PairModel {
	var out []*strategy.PairModel
	for _, s := range e.strategies {
		if sa, ok := s.(*strategy.StatArb); ok {
			if m := sa.GetPairModel(); m != nil {
				out = append(out, m)
			}
		}
	}
	return out
}

func (e *Engine) persistState() error {
	statuses := make([]StrategyState, 0, len(e.strategies))
	for _, s := range e.strategies {
		st := s.Status()
		statuses = append(statuses, StrategyState{
			Name:    st.ID,
			Type:    st.Type,
			Symbols: st.Symbols,
		})
	}
	return WriteRunState(&RunState{
		PID:        os.Getpid(),
		StartedAt:  time.Now(),
		Venue:      e.venue.Name(),
		PaperTrade: e.cfg.PaperTrade,
		Strategies: statuses,
	})
}
