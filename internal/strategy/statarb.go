package strategy

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/quantbot/ultramm/internal/config"
	"github.com/quantbot/ultramm/internal/executor"
	"github.com/quantbot/ultramm/internal/marketdata"
	"github.com/quantbot/ultramm/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PairModel is the fitted linear relationship between the two legs:
// quote ~ Slope*base + Intercept, with the residual spread's statistics.
type PairModel struct {
	BaseSymbol  string
	QuoteSymbol string
	Slope       float64
	Intercept   float64
	Correlation float64
	SpreadMean  float64
	SpreadStd   float64
	Samples     int
	LastFit     time.Time
}

// PairPosition is an open two-leg arbitrage position.
type PairPosition struct {
	Direction       string // "long" buys the quote leg, "short" sells it
	BaseAmount      decimal.Decimal
	QuoteAmount     decimal.Decimal
	EntryBasePrice  float64
	EntryQuotePrice float64
	EntryZScore     float64
	StopZScore      float64
	OpenedAt        time.Time
}

// StatArb trades the mean reversion of one cointegrated pair. It refits the
// model on a fixed interval and enters a value-neutral two-leg position when
// the spread's z-score leaves the entry band.
type StatArb struct {
	id  string
	log *zap.Logger

	md   marketdata.View
	exec *executor.Executor

	Params *ParamStore[config.StatArbParams]

	mu          sync.Mutex
	model       *PairModel
	position    *PairPosition
	realizedPnL float64
	lastCycle   time.Time
	scale       float64
}

// NewStatArb creates the strategy for one pair.
func NewStatArb(id string, p config.StatArbParams, md marketdata.View, exec *executor.Executor, log *zap.Logger) *StatArb {
	return &StatArb{
		id:     id,
		log:    log.With(zap.String("component", "stat_arb"), zap.String("strategy", id)),
		md:     md,
		exec:   exec,
		Params: NewParamStore(p),
		scale:  1.0,
	}
}

func (s *StatArb) ID() string   { return s.id }
func (s *StatArb) Type() string { return config.TypeStatisticalArbitrage }

func (s *StatArb) RefreshInterval() time.Duration {
	return s.Params.Load().RefreshInterval
}

func (s *StatArb) SetScale(factor float64) {
	s.mu.Lock()
	s.scale = factor
	s.mu.Unlock()
}

// RealizedPnL returns the cumulative realized profit of closed positions.
func (s *StatArb) RealizedPnL() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.realizedPnL
}

// Update runs one cycle: refit the model when due, then either look for an
// entry or manage the open position.
func (s *StatArb) Update(ctx context.Context) {
	p := s.Params.Load()

	s.mu.Lock()
	s.lastCycle = time.Now()
	model := s.model
	s.mu.Unlock()

	if model == nil || time.Since(model.LastFit) >= p.RefitInterval {
		if err := s.refit(p); err != nil {
			s.log.Warn("model refit skipped", zap.Error(err))
			if model == nil {
				return
			}
		}
	}

	s.mu.Lock()
	model = s.model
	open := s.position != nil
	s.mu.Unlock()
	if model == nil {
		return
	}

	if open {
		s.managePosition(ctx, p, model)
	} else {
		s.checkEntry(ctx, p, model)
	}
}

// refit recomputes the regression and spread statistics over the lookback.
func (s *StatArb) refit(p config.StatArbParams) error {
	base := s.md.RecentPrices(p.BaseSymbol, p.LookbackPeriod)
	quote := s.md.RecentPrices(p.QuoteSymbol, p.LookbackPeriod)
	n := minInt(len(base), len(quote))
	if n < p.MinSamples {
		return fmt.Errorf("%w: %s/%s has %d samples, need %d",
			models.ErrInsufficientData, p.BaseSymbol, p.QuoteSymbol, n, p.MinSamples)
	}
	base = base[len(base)-n:]
	quote = quote[len(quote)-n:]

	slope, intercept, correlation := Regression(base, quote)

	spreads := make([]float64, n)
	for i := 0; i < n; i++ {
		spreads[i] = quote[i] - (slope*base[i] + intercept)
	}
	meanSpread := meanOf(spreads)
	stdSpread := stddevOf(spreads)

	s.mu.Lock()
	s.model = &PairModel{
		BaseSymbol:  p.BaseSymbol,
		QuoteSymbol: p.QuoteSymbol,
		Slope:       slope,
		Intercept:   intercept,
		Correlation: correlation,
		SpreadMean:  meanSpread,
		SpreadStd:   stdSpread,
		Samples:     n,
		LastFit:     time.Now(),
	}
	s.mu.Unlock()

	s.log.Info("pair model fitted",
		zap.String("base", p.BaseSymbol),
		zap.String("quote", p.QuoteSymbol),
		zap.Float64("slope", slope),
		zap.Float64("correlation", correlation),
		zap.Int("samples", n))
	return nil
}

// Regression computes the OLS slope and intercept of y on x, plus the
// Pearson correlation of the two series.
func Regression(x, y []float64) (slope, intercept, correlation float64) {
	n := float64(len(x))
	if n == 0 || len(x) != len(y) {
		return 0, 0, 0
	}
	meanX := meanOf(x)
	meanY := meanOf(y)

	var covXY, varX, varY float64
	for i := range x {
		dx := x[i] - meanX
		dy := y[i] - meanY
		covXY += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 {
		return 0, meanY, 0
	}
	slope = covXY / varX
	intercept = meanY - slope*meanX
	if varY > 0 {
		correlation = covXY / math.Sqrt(varX*varY)
	}
	return slope, intercept, correlation
}

// Spread is the residual of the quote leg against the model's prediction.
func (m *PairModel) Spread(basePrice, quotePrice float64) float64 {
	return quotePrice - (m.Slope*basePrice + m.Intercept)
}

// ZScore standardizes a spread against the fitted distribution. A zero
// standard deviation yields zero.
func (m *PairModel) ZScore(spread float64) float64 {
	if m.SpreadStd == 0 {
		return 0
	}
	return (spread - m.SpreadMean) / m.SpreadStd
}

func (s *StatArb) currentPrices(p config.StatArbParams) (basePrice, quotePrice float64, ok bool) {
	baseTicker, okB := s.md.Ticker(p.BaseSymbol)
	quoteTicker, okQ := s.md.Ticker(p.QuoteSymbol)
	if !okB || !okQ {
		return 0, 0, false
	}
	basePrice = baseTicker.Last.InexactFloat64()
	if basePrice == 0 {
		basePrice = baseTicker.Mid().InexactFloat64()
	}
	quotePrice = quoteTicker.Last.InexactFloat64()
	if quotePrice == 0 {
		quotePrice = quoteTicker.Mid().InexactFloat64()
	}
	return basePrice, quotePrice, basePrice > 0 && quotePrice > 0
}

// checkEntry opens a position when the z-score breaks out of the band.
func (s *StatArb) checkEntry(ctx context.Context, p config.StatArbParams, model *PairModel) {
	basePrice, quotePrice, ok := s.currentPrices(p)
	if !ok {
		return
	}
	z := model.ZScore(model.Spread(basePrice, quotePrice))

	switch {
	case z > p.EntryThreshold:
		// Spread rich: sell the quote leg, buy the base leg
		s.openPosition(ctx, p, model, "short", basePrice, quotePrice, z)
	case z < -p.EntryThreshold:
		// Spread cheap: buy the quote leg, sell the base leg
		s.openPosition(ctx, p, model, "long", basePrice, quotePrice, z)
	}
}

func (s *StatArb) openPosition(ctx context.Context, p config.StatArbParams, model *PairModel, direction string, basePrice, quotePrice, z float64) {
	s.mu.Lock()
	allocation := p.CapitalAllocation * s.scale
	s.mu.Unlock()

	// Value-neutral sizing from the hedge ratio
	baseAmount := decimal.NewFromFloat(allocation / basePrice)
	quoteAmount := decimal.NewFromFloat(allocation * model.Slope / quotePrice)

	quoteSide, baseSide := models.Buy, models.Sell
	if direction == "short" {
		quoteSide, baseSide = models.Sell, models.Buy
	}

	if _, err := s.exec.PlaceOrder(ctx, executor.PlaceRequest{
		Symbol: p.QuoteSymbol, Side: quoteSide, Type: models.Market, Amount: quoteAmount,
	}); err != nil {
		s.log.Warn("entry skipped, quote leg failed", zap.Error(err))
		return
	}
	if _, err := s.exec.PlaceOrder(ctx, executor.PlaceRequest{
		Symbol: p.BaseSymbol, Side: baseSide, Type: models.Market, Amount: baseAmount,
	}); err != nil {
		// Unwind the quote leg rather than carry a naked single-leg position
		s.log.Error("base leg failed, unwinding quote leg", zap.Error(err))
		if _, uerr := s.exec.PlaceOrder(ctx, executor.PlaceRequest{
			Symbol: p.QuoteSymbol, Side: quoteSide.Opposite(), Type: models.Market, Amount: quoteAmount,
		}); uerr != nil {
			s.log.Error("unwind failed, quote leg exposure remains", zap.Error(uerr))
		}
		return
	}

	// Stop sits further from the mean than the entry on both sides
	stopZ := z * (1 + p.StopLossPercent/100)

	s.mu.Lock()
	s.position = &PairPosition{
		Direction:       direction,
		BaseAmount:      baseAmount,
		QuoteAmount:     quoteAmount,
		EntryBasePrice:  basePrice,
		EntryQuotePrice: quotePrice,
		EntryZScore:     z,
		StopZScore:      stopZ,
		OpenedAt:        time.Now(),
	}
	s.mu.Unlock()

	s.log.Info("arbitrage position opened",
		zap.String("direction", direction),
		zap.Float64("z_score", z),
		zap.Float64("stop_z", stopZ))
}

// managePosition closes the position when the z-score reverts through the
// exit target or breaches the stop.
func (s *StatArb) managePosition(ctx context.Context, p config.StatArbParams, model *PairModel) {
	basePrice, quotePrice, ok := s.currentPrices(p)
	if !ok {
		return
	}
	z := model.ZScore(model.Spread(basePrice, quotePrice))

	s.mu.Lock()
	pos := s.position
	s.mu.Unlock()
	if pos == nil {
		return
	}

	var closeNow bool
	if pos.Direction == "long" {
		closeNow = z >= p.ExitTarget || z <= pos.StopZScore
	} else {
		closeNow = z <= p.ExitTarget || z >= pos.StopZScore
	}
	if closeNow {
		s.closePosition(ctx, p, pos, basePrice, quotePrice, z)
	}
}

func (s *StatArb) closePosition(ctx context.Context, p config.StatArbParams, pos *PairPosition, basePrice, quotePrice, z float64) {
	quoteSide, baseSide := models.Sell, models.Buy
	if pos.Direction == "short" {
		quoteSide, baseSide = models.Buy, models.Sell
	}

	if _, err := s.exec.PlaceOrder(ctx, executor.PlaceRequest{
		Symbol: p.QuoteSymbol, Side: quoteSide, Type: models.Market, Amount: pos.QuoteAmount,
	}); err != nil {
		s.log.Error("close failed on quote leg, retrying next cycle", zap.Error(err))
		return
	}
	if _, err := s.exec.PlaceOrder(ctx, executor.PlaceRequest{
		Symbol: p.BaseSymbol, Side: baseSide, Type: models.Market, Amount: pos.BaseAmount,
	}); err != nil {
		s.log.Error("close failed on base leg, retrying next cycle", zap.Error(err))
		return
	}

	quoteQty := pos.QuoteAmount.InexactFloat64()
	baseQty := pos.BaseAmount.InexactFloat64()
	var pnl float64
	if pos.Direction == "long" {
		pnl = (quotePrice-pos.EntryQuotePrice)*quoteQty - (basePrice-pos.EntryBasePrice)*baseQty
	} else {
		pnl = (pos.EntryQuotePrice-quotePrice)*quoteQty - (pos.EntryBasePrice-basePrice)*baseQty
	}

	s.mu.Lock()
	s.position = nil
	s.realizedPnL += pnl
	s.mu.Unlock()

	s.log.Info("arbitrage position closed",
		zap.String("direction", pos.Direction),
		zap.Float64("exit_z", z),
		zap.Float64("pnl", pnl))
}

// GetPairModel returns the current fitted model, or nil before the first fit.
func (s *StatArb) GetPairModel() *PairModel {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model == nil {
		return nil
	}
	m := *s.model
	return &m
}

// GetActivePosition returns the open position, or nil when flat.
func (s *StatArb) GetActivePosition() *PairPosition {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.position == nil {
		return nil
	}
	pos := *s.position
	return &pos
}

func (s *StatArb) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.Params.Load()
	metrics := map[string]float64{"realized_pnl": s.realizedPnL}
	if s.model != nil {
		metrics["correlation"] = s.model.Correlation
		metrics["slope"] = s.model.Slope
		metrics["spread_std"] = s.model.SpreadStd
	}
	if s.position != nil {
		metrics["entry_z"] = s.position.EntryZScore
	}
	return Status{
		ID:           s.id,
		Type:         s.Type(),
		Symbols:      []string{p.BaseSymbol, p.QuoteSymbol},
		ActiveOrders: 0,
		LastCycle:    s.lastCycle,
		Metrics:      metrics,
	}
}

func stddevOf(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := meanOf(xs)
	sum := 0.0
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)))
}
