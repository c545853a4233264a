package strategy

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/quantbot/ultramm/internal/config"
	"github.com/quantbot/ultramm/internal/executor"
	"github.com/quantbot/ultramm/internal/marketdata"
	"github.com/quantbot/ultramm/internal/risk"
	"go.uber.org/zap"
)

// conditions is the normalized market snapshot the adaptive strategy tunes
// against. Volatility and liquidity are ratios against their own rolling
// averages, so 1.0 means "normal".
type conditions struct {
	volatility    float64
	volumeRatio   float64
	trendStrength float64
	liquidity     float64
	meanReversion float64
}

// AdaptiveMarketMaker owns a base MarketMaker and recomputes an effective
// parameter set each cycle from current market conditions. The base
// parameter store stays untouched, so external parameter updates always
// apply to the unscaled baseline.
type AdaptiveMarketMaker struct {
	mm  *MarketMaker
	log *zap.Logger
	md  marketdata.View

	Params *ParamStore[config.AdaptiveParams]

	mu            sync.Mutex
	volHistory    []float64
	depthHistory  []float64
	lastConds     conditions
	effectiveWait time.Duration
}

// NewAdaptiveMarketMaker creates the adaptive variant for one symbol.
func NewAdaptiveMarketMaker(id string, p config.AdaptiveParams, md marketdata.View, exec *executor.Executor, rm *risk.Manager, log *zap.Logger) *AdaptiveMarketMaker {
	return &AdaptiveMarketMaker{
		mm:            NewMarketMaker(id, p.MarketMakingParams, md, exec, rm, log),
		log:           log.With(zap.String("component", "adaptive_market_making"), zap.String("strategy", id)),
		md:            md,
		Params:        NewParamStore(p),
		effectiveWait: p.RefreshInterval,
	}
}

func (s *AdaptiveMarketMaker) ID() string   { return s.mm.ID() }
func (s *AdaptiveMarketMaker) Type() string { return config.TypeAdaptiveMarketMaking }

func (s *AdaptiveMarketMaker) RefreshInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.effectiveWait
}

func (s *AdaptiveMarketMaker) SetScale(factor float64) { s.mm.SetScale(factor) }

// Update analyzes market conditions, derives the effective parameter set and
// runs one quoting cycle with it.
func (s *AdaptiveMarketMaker) Update(ctx context.Context) {
	p := s.Params.Load()
	conds := s.analyzeConditions(p)
	effective := s.adaptParameters(p, conds)
	s.mm.runCycle(ctx, effective)
}

// analyzeConditions builds the normalized market snapshot.
func (s *AdaptiveMarketMaker) analyzeConditions(p config.AdaptiveParams) conditions {
	symbol := p.Symbol
	conds := conditions{volatility: 1.0, volumeRatio: 1.0, liquidity: 1.0}

	vol := s.md.Volatility(symbol, p.ConditionWindow)
	s.mu.Lock()
	if vol > 0 {
		s.volHistory = appendRolling(s.volHistory, vol, 100)
		if avg := meanOf(s.volHistory); avg > 0 {
			conds.volatility = vol / avg
		}
	}
	s.mu.Unlock()

	current := s.md.AverageVolume(symbol, 1)
	average := s.md.AverageVolume(symbol, p.ConditionWindow)
	if current > 0 && average > 0 {
		conds.volumeRatio = current / average
	}

	conds.trendStrength = s.md.TrendIndicator(symbol, p.ConditionWindow)

	depth := s.md.OrderBookDepth(symbol, 10)
	s.mu.Lock()
	if depth > 0 {
		s.depthHistory = appendRolling(s.depthHistory, depth, 100)
		if avg := meanOf(s.depthHistory); avg > 0 {
			conds.liquidity = depth / avg
		}
	}
	s.mu.Unlock()

	conds.meanReversion = s.meanReversionSignal(symbol)

	s.mu.Lock()
	s.lastConds = conds
	s.mu.Unlock()
	return conds
}

// meanReversionSignal measures how far the last price sits from its short
// moving average, inverted and clipped to [-1, 1]. Positive means the price
// is below the average and likely to revert upward.
func (s *AdaptiveMarketMaker) meanReversionSignal(symbol string) float64 {
	prices := s.md.RecentPrices(symbol, 20)
	if len(prices) < 10 {
		return 0
	}
	window := 10
	if window > len(prices) {
		window = len(prices)
	}
	avg := meanOf(prices[len(prices)-window:])
	if avg == 0 {
		return 0
	}
	deviation := (prices[len(prices)-1] - avg) / avg
	return clip(-deviation, -1, 1)
}

// adaptParameters turns the base parameter set and current conditions into
// the effective set for this cycle.
func (s *AdaptiveMarketMaker) adaptParameters(p config.AdaptiveParams, conds conditions) config.MarketMakingParams {
	volMult := clip(math.Pow(conds.volatility, p.VolatilityFactor), p.MinSpreadMultiplier, p.MaxSpreadMultiplier)
	liqMult := clip(math.Pow(conds.liquidity, -p.LiquidityFactor), p.MinSpreadMultiplier, p.MaxSpreadMultiplier)
	trendMult := 1 + math.Abs(conds.trendStrength)*p.TrendFactor
	mrMult := 1 + math.Abs(conds.meanReversion)*p.MeanReversionFactor

	spreadMult := clip(volMult*liqMult*trendMult*mrMult, p.MinSpreadMultiplier, p.MaxSpreadMultiplier)
	sizeMult := clip(math.Pow(conds.volumeRatio, p.VolumeFactor), p.MinSizeMultiplier, p.MaxSizeMultiplier)

	effective := p.MarketMakingParams
	effective.SpreadBidPercent *= spreadMult
	effective.SpreadAskPercent *= spreadMult
	effective.OrderAmount *= sizeMult

	switch {
	case conds.liquidity < 0.5:
		effective.OrderCount = maxInt(1, p.OrderCount/2)
	case conds.liquidity > 2.0:
		effective.OrderCount = minInt(10, p.OrderCount*3/2)
	}

	wait := p.RefreshInterval
	switch {
	case conds.volatility > 1.5:
		wait = maxDuration(time.Second, time.Duration(float64(p.RefreshInterval)*0.7))
	case conds.volatility < 0.7:
		wait = minDuration(30*time.Second, time.Duration(float64(p.RefreshInterval)*1.3))
	}
	s.mu.Lock()
	s.effectiveWait = wait
	s.mu.Unlock()

	s.log.Debug("parameters adapted",
		zap.Float64("spread_multiplier", spreadMult),
		zap.Float64("size_multiplier", sizeMult),
		zap.Int("order_count", effective.OrderCount),
		zap.Duration("refresh", wait))
	return effective
}

func (s *AdaptiveMarketMaker) Status() Status {
	status := s.mm.Status()
	status.Type = s.Type()
	s.mu.Lock()
	status.Metrics["volatility"] = s.lastConds.volatility
	status.Metrics["volume_ratio"] = s.lastConds.volumeRatio
	status.Metrics["trend_strength"] = s.lastConds.trendStrength
	status.Metrics["liquidity"] = s.lastConds.liquidity
	status.Metrics["mean_reversion"] = s.lastConds.meanReversion
	s.mu.Unlock()
	return status
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func appendRolling(s []float64, v float64, limit int) []float64 {
	s = append(s, v)
	if len(s) > limit {
		s = s[len(s)-limit:]
	}
	return s
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
