package risk

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/quantbot/ultramm/internal/config"
	"github.com/quantbot/ultramm/internal/marketdata"
	"github.com/quantbot/ultramm/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PositionSide marks the direction of an open position.
type PositionSide string

const (
	Long  PositionSide = "long"
	Short PositionSide = "short"
)

// CheckResult contains the result of a risk check
type CheckResult struct {
	Passed   bool
	Reason   string
	Warnings []string
}

// Metrics holds the rolling performance statistics derived from daily
// returns. Ratios are annualized by sqrt(252).
type Metrics struct {
	SharpeRatio        float64
	SortinoRatio       float64
	MaxDrawdownPercent float64
	Volatility         float64
	WinRate            float64
}

// Report is a point-in-time snapshot of capital, positions and metrics.
type Report struct {
	Capital   models.CapitalState
	Positions []models.Position
	Metrics   Metrics
	Limits    Limits
}

// Limits echoes the configured bounds in the risk report.
type Limits struct {
	MaxPositionSize    decimal.Decimal
	MaxDrawdownPercent float64
}

// Manager enforces position and drawdown limits, tracks capital, and
// produces the risk report. All methods are safe for concurrent use; a
// single mutex guards positions and capital so position updates are atomic
// per symbol.
type Manager struct {
	mu sync.Mutex

	log *zap.Logger
	md  marketdata.View

	maxPositionSize     decimal.Decimal
	maxDrawdownPercent  float64
	baseStopLossPercent float64
	feeRate             decimal.Decimal

	manipulationEnabled bool
	volatilityThreshold float64
	volumeSpikeFactor   float64
	spreadAnomalyFactor float64

	positions map[string]*models.Position
	capital   models.CapitalState

	drawdownHistory []float64
	dailyReturns    []float64
	metrics         Metrics
}

// NewManager creates a risk manager from configuration. The market data view
// may be nil; manipulation detection and volatility-adjusted stops then fall
// back to their static behavior.
func NewManager(cfg *config.Config, md marketdata.View, log *zap.Logger) *Manager {
	initial := decimal.NewFromFloat(cfg.InitialCapital)
	return &Manager{
		log:                 log.With(zap.String("component", "risk")),
		md:                  md,
		maxPositionSize:     decimal.NewFromFloat(cfg.MaxPositionSize),
		maxDrawdownPercent:  cfg.MaxDrawdownPercent,
		baseStopLossPercent: cfg.BaseStopLossPercent,
		feeRate:             decimal.NewFromFloat(cfg.FeeRatePercent / 100),
		manipulationEnabled: true,
		volatilityThreshold: cfg.VolatilityThreshold,
		volumeSpikeFactor:   cfg.VolumeSpikeFactor,
		spreadAnomalyFactor: cfg.SpreadAnomalyFactor,
		positions:           make(map[string]*models.Position),
		capital: models.CapitalState{
			InitialCapital: initial,
			CurrentCapital: initial,
			PeakCapital:    initial,
		},
	}
}

// CheckPositionLimit verifies that executing the order would keep the net
// position for symbol within the configured bound.
func (m *Manager) CheckPositionLimit(symbol string, side models.OrderSide, amount decimal.Decimal) CheckResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := decimal.Zero
	if p, ok := m.positions[symbol]; ok {
		current = p.Quantity
	}
	next := current.Add(amount)
	if side == models.Sell {
		next = current.Sub(amount)
	}
	if next.Abs().GreaterThan(m.maxPositionSize) {
		reason := fmt.Sprintf("position limit exceeded for %s: %s > %s",
			symbol, next.Abs(), m.maxPositionSize)
		m.log.Warn("position limit exceeded",
			zap.String("symbol", symbol),
			zap.String("would_be", next.String()),
			zap.String("limit", m.maxPositionSize.String()))
		return CheckResult{Passed: false, Reason: reason}
	}
	return CheckResult{Passed: true}
}

// CheckDrawdownLimit computes the current drawdown from peak, records it in
// the drawdown history, and fails when it breaches the configured limit.
func (m *Manager) CheckDrawdownLimit() CheckResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.capital.CurrentCapital.IsPositive() || !m.capital.PeakCapital.IsPositive() {
		return CheckResult{Passed: false, Reason: "capital state is not positive"}
	}

	ratio, _ := m.capital.CurrentCapital.Div(m.capital.PeakCapital).Float64()
	drawdown := (1 - ratio) * 100
	m.capital.DrawdownPercent = drawdown
	m.drawdownHistory = append(m.drawdownHistory, drawdown)
	if drawdown > m.metrics.MaxDrawdownPercent {
		m.metrics.MaxDrawdownPercent = drawdown
	}

	if drawdown > m.maxDrawdownPercent {
		reason := fmt.Sprintf("drawdown limit exceeded: %.2f%% > %.2f%%", drawdown, m.maxDrawdownPercent)
		m.log.Warn("drawdown limit exceeded",
			zap.Float64("drawdown_percent", drawdown),
			zap.Float64("limit_percent", m.maxDrawdownPercent))
		return CheckResult{Passed: false, Reason: reason}
	}

	result := CheckResult{Passed: true}
	if drawdown > m.maxDrawdownPercent*0.75 {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("approaching drawdown limit: %.2f%% of %.2f%%", drawdown, m.maxDrawdownPercent))
	}
	return result
}

// UpdatePosition applies an executed fill to the net position and capital.
// Fees are estimated at the configured rate. Peak capital never decreases.
func (m *Manager) UpdatePosition(symbol string, amount, price decimal.Decimal, side models.OrderSide) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.positions[symbol]
	if !ok {
		p = &models.Position{Symbol: symbol}
		m.positions[symbol] = p
	}

	signed := amount
	if side == models.Sell {
		signed = amount.Neg()
	}
	prev := p.Quantity
	p.Quantity = prev.Add(signed)

	// Average entry updates only when exposure grows in the same direction;
	// crossing through zero resets it to the crossing price.
	switch {
	case prev.IsZero() || prev.Sign() != p.Quantity.Sign() && !p.Quantity.IsZero():
		p.AvgEntryPrice = price
	case prev.Sign() == signed.Sign():
		total := prev.Abs().Mul(p.AvgEntryPrice).Add(amount.Mul(price))
		p.AvgEntryPrice = total.Div(prev.Abs().Add(amount))
	}

	value := amount.Mul(price)
	fees := value.Mul(m.feeRate)
	if side == models.Buy {
		m.capital.CurrentCapital = m.capital.CurrentCapital.Sub(value.Add(fees))
	} else {
		m.capital.CurrentCapital = m.capital.CurrentCapital.Add(value.Sub(fees))
	}
	if m.capital.CurrentCapital.GreaterThan(m.capital.PeakCapital) {
		m.capital.PeakCapital = m.capital.CurrentCapital
	}

	m.log.Debug("position updated",
		zap.String("symbol", symbol),
		zap.String("quantity", p.Quantity.String()),
		zap.String("capital", m.capital.CurrentCapital.String()))
}

// CalculateDynamicStopLoss returns a stop price for the position, widened in
// proportion to recent volatility.
func (m *Manager) CalculateDynamicStopLoss(symbol string, entryPrice decimal.Decimal, side PositionSide) decimal.Decimal {
	stopPercent := m.baseStopLossPercent
	if m.md != nil {
		volatility := m.md.Volatility(symbol, 24)
		stopPercent = m.baseStopLossPercent * (1 + volatility/100)
	}

	offset := decimal.NewFromFloat(stopPercent / 100)
	if side == Long {
		return entryPrice.Mul(decimal.NewFromInt(1).Sub(offset))
	}
	return entryPrice.Mul(decimal.NewFromInt(1).Add(offset))
}

// DetectMarketManipulation looks for volatility spikes, volume spikes and
// spread anomalies in recent data. Any single trigger is enough.
func (m *Manager) DetectMarketManipulation(symbol string) bool {
	if !m.manipulationEnabled || m.md == nil {
		return false
	}

	candles := m.md.RecentCandles(symbol, 20)
	if len(candles) < 10 {
		return false
	}

	closes := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close.InexactFloat64()
		volumes[i] = c.Volume.InexactFloat64()
	}

	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] != 0 {
			returns = append(returns, (closes[i]-closes[i-1])/closes[i-1]*100)
		}
	}
	if len(returns) == 0 {
		return false
	}

	volatility := stddev(returns)
	meanAbs := 0.0
	for _, r := range returns {
		meanAbs += math.Abs(r)
	}
	meanAbs /= float64(len(returns))
	if meanAbs > 0 && volatility > m.volatilityThreshold*meanAbs {
		m.log.Warn("volatility spike detected",
			zap.String("symbol", symbol),
			zap.Float64("volatility", volatility))
		return true
	}

	avgVolume := 0.0
	for _, v := range volumes[:len(volumes)-1] {
		avgVolume += v
	}
	avgVolume /= float64(len(volumes) - 1)
	if avgVolume > 0 && volumes[len(volumes)-1] > m.volumeSpikeFactor*avgVolume {
		m.log.Warn("volume spike detected",
			zap.String("symbol", symbol),
			zap.Float64("volume", volumes[len(volumes)-1]),
			zap.Float64("average", avgVolume))
		return true
	}

	if ticker, ok := m.md.Ticker(symbol); ok {
		avgSpread := m.md.AverageSpreadPercent(symbol, 100)
		if avgSpread > 0 && ticker.SpreadPercent() > m.spreadAnomalyFactor*avgSpread {
			m.log.Warn("spread anomaly detected",
				zap.String("symbol", symbol),
				zap.Float64("spread_percent", ticker.SpreadPercent()),
				zap.Float64("average_percent", avgSpread))
			return true
		}
	}

	return false
}

// minHedgeQuantity filters out dust positions.
var minHedgeQuantity = decimal.NewFromFloat(0.001)

// ShouldHedgePosition recommends hedging half the position on a correlated
// perpetual instrument when the market shows signs of manipulation.
func (m *Manager) ShouldHedgePosition(symbol string) (bool, string, decimal.Decimal) {
	m.mu.Lock()
	p, ok := m.positions[symbol]
	var qty decimal.Decimal
	if ok {
		qty = p.Quantity
	}
	m.mu.Unlock()

	if !ok || qty.Abs().LessThan(minHedgeQuantity) {
		return false, "", decimal.Zero
	}
	if !m.DetectMarketManipulation(symbol) {
		return false, "", decimal.Zero
	}

	instrument := hedgeInstrument(symbol)
	amount := qty.Abs().Mul(decimal.NewFromFloat(0.5))
	m.log.Info("hedge recommended",
		zap.String("symbol", symbol),
		zap.String("instrument", instrument),
		zap.String("amount", amount.String()))
	return true, instrument, amount
}

// hedgeInstrument maps a spot symbol to its perpetual hedge.
func hedgeInstrument(symbol string) string {
	base := symbol
	if i := strings.Index(symbol, "/"); i > 0 {
		base = symbol[:i]
	}
	return base + "-PERP"
}

// RecordDailyReturn appends one daily return (percent) and recomputes the
// performance metrics once at least 5 samples exist.
func (m *Manager) RecordDailyReturn(r float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dailyReturns = append(m.dailyReturns, r)
	if len(m.dailyReturns) < 5 {
		return
	}
	m.recomputeMetricsLocked()
}

func (m *Manager) recomputeMetricsLocked() {
	returns := m.dailyReturns
	volatility := stddev(returns)
	m.metrics.Volatility = volatility

	avg := mean(returns)
	if volatility > 0 {
		m.metrics.SharpeRatio = avg / volatility * math.Sqrt(252)
	}

	var negative []float64
	wins := 0
	for _, r := range returns {
		if r < 0 {
			negative = append(negative, r)
		} else if r > 0 {
			wins++
		}
	}
	if len(negative) > 0 {
		downside := stddev(negative)
		if downside > 0 {
			m.metrics.SortinoRatio = avg / downside * math.Sqrt(252)
		}
	}
	m.metrics.WinRate = float64(wins) / float64(len(returns))
}

// Position returns the current net position for symbol.
func (m *Manager) Position(symbol string) models.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.positions[symbol]; ok {
		return *p
	}
	return models.Position{Symbol: symbol}
}

// GetRiskReport returns a snapshot of capital, positions and metrics.
func (m *Manager) GetRiskReport() Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	positions := make([]models.Position, 0, len(m.positions))
	for _, p := range m.positions {
		positions = append(positions, *p)
	}

	capital := m.capital
	if capital.PeakCapital.IsPositive() {
		ratio, _ := capital.CurrentCapital.Div(capital.PeakCapital).Float64()
		capital.DrawdownPercent = (1 - ratio) * 100
	}

	return Report{
		Capital:   capital,
		Positions: positions,
		Metrics:   m.metrics,
		Limits: Limits{
			MaxPositionSize:    m.maxPositionSize,
			MaxDrawdownPercent: m.maxDrawdownPercent,
		},
	}
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	sum := 0.0
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)))
}
