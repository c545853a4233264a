package risk

import (
	"math"
	"testing"
	"time"

	"github.com/quantbot/ultramm/internal/config"
	"github.com/quantbot/ultramm/internal/marketdata"
	"github.com/quantbot/ultramm/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func testConfig() *config.Config {
	return &config.Config{
		InitialCapital:      10000,
		MaxPositionSize:     1.0,
		MaxDrawdownPercent:  10.0,
		BaseStopLossPercent: 2.0,
		VolatilityThreshold: 3.0,
		VolumeSpikeFactor:   5.0,
		SpreadAnomalyFactor: 3.0,
		FeeRatePercent:      0.1,
	}
}

func newTestManager(md marketdata.View) *Manager {
	return NewManager(testConfig(), md, zap.NewNop())
}

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func TestCheckPositionLimit(t *testing.T) {
	m := newTestManager(nil)

	if r := m.CheckPositionLimit("BTC/USDT", models.Buy, dec("0.9")); !r.Passed {
		t.Errorf("buy within limit rejected: %s", r.Reason)
	}
	if r := m.CheckPositionLimit("BTC/USDT", models.Buy, dec("1.1")); r.Passed {
		t.Error("buy beyond limit accepted")
	}

	// Existing long of 0.8 leaves room for 0.2 more, or 1.8 of selling
	m.UpdatePosition("BTC/USDT", dec("0.8"), dec("50000"), models.Buy)
	if r := m.CheckPositionLimit("BTC/USDT", models.Buy, dec("0.3")); r.Passed {
		t.Error("buy pushing position past limit accepted")
	}
	if r := m.CheckPositionLimit("BTC/USDT", models.Sell, dec("1.7")); !r.Passed {
		t.Errorf("sell within limit rejected: %s", r.Reason)
	}
	if r := m.CheckPositionLimit("BTC/USDT", models.Sell, dec("1.9")); r.Passed {
		t.Error("sell flipping past short limit accepted")
	}
}

func TestUpdatePositionCapitalAndFees(t *testing.T) {
	m := newTestManager(nil)

	// Buy 0.01 at 10000: value 100, fee 0.1
	m.UpdatePosition("BTC/USDT", dec("0.01"), dec("10000"), models.Buy)
	report := m.GetRiskReport()
	if !report.Capital.CurrentCapital.Equal(dec("9899.9")) {
		t.Errorf("capital after buy = %s, want 9899.9", report.Capital.CurrentCapital)
	}

	// Sell it back at 11000: value 110, fee 0.11
	m.UpdatePosition("BTC/USDT", dec("0.01"), dec("11000"), models.Sell)
	report = m.GetRiskReport()
	if !report.Capital.CurrentCapital.Equal(dec("10009.79")) {
		t.Errorf("capital after round trip = %s, want 10009.79", report.Capital.CurrentCapital)
	}

	pos := m.Position("BTC/USDT")
	if !pos.Quantity.IsZero() {
		t.Errorf("net position = %s, want 0", pos.Quantity)
	}
}

func TestPeakCapitalIsMonotone(t *testing.T) {
	m := newTestManager(nil)

	m.UpdatePosition("X", dec("1"), dec("500"), models.Sell)
	peak := m.GetRiskReport().Capital.PeakCapital
	m.UpdatePosition("X", dec("1"), dec("600"), models.Buy)
	after := m.GetRiskReport().Capital
	if after.PeakCapital.LessThan(peak) {
		t.Errorf("peak decreased: %s -> %s", peak, after.PeakCapital)
	}
	if !after.CurrentCapital.LessThan(peak) {
		t.Errorf("expected current capital %s below peak %s", after.CurrentCapital, peak)
	}
}

func TestCheckDrawdownLimit(t *testing.T) {
	m := newTestManager(nil)

	if r := m.CheckDrawdownLimit(); !r.Passed {
		t.Errorf("fresh manager failed drawdown check: %s", r.Reason)
	}

	// Burn ~12% of capital through a losing round trip
	m.UpdatePosition("X", dec("0.5"), dec("10000"), models.Buy)
	m.UpdatePosition("X", dec("0.5"), dec("7500"), models.Sell)

	r := m.CheckDrawdownLimit()
	if r.Passed {
		t.Errorf("drawdown beyond limit passed: %+v", m.GetRiskReport().Capital)
	}

	report := m.GetRiskReport()
	if report.Metrics.MaxDrawdownPercent <= 10 {
		t.Errorf("max drawdown = %v, want > 10", report.Metrics.MaxDrawdownPercent)
	}
}

func TestDynamicStopLossWithoutMarketData(t *testing.T) {
	m := newTestManager(nil)

	long := m.CalculateDynamicStopLoss("X", dec("100"), Long)
	if !long.Equal(dec("98")) {
		t.Errorf("long stop = %s, want 98", long)
	}
	short := m.CalculateDynamicStopLoss("X", dec("100"), Short)
	if !short.Equal(dec("102")) {
		t.Errorf("short stop = %s, want 102", short)
	}
}

func TestDynamicStopLossWidensWithVolatility(t *testing.T) {
	md := marketdata.NewStore(time.Minute)
	// Alternating prices create nonzero volatility
	for i := 0; i < 30; i++ {
		p := 100.0
		if i%2 == 0 {
			p = 102.0
		}
		md.SetTicker(&models.Ticker{
			Symbol: "X", Bid: decimal.NewFromFloat(p - 0.5), Ask: decimal.NewFromFloat(p + 0.5),
			Timestamp: time.Now(),
		})
	}
	m := newTestManager(md)

	stop := m.CalculateDynamicStopLoss("X", dec("100"), Long)
	static := dec("98")
	if !stop.LessThan(static) {
		t.Errorf("volatile stop %s should sit below static stop %s", stop, static)
	}
}

func TestDetectMarketManipulationVolumeSpike(t *testing.T) {
	md := marketdata.NewStore(time.Minute)
	for i := 0; i < 19; i++ {
		md.AddCandle(models.Candle{
			Symbol: "X",
			Close:  decimal.NewFromFloat(100 + 0.1*float64(i%3)),
			Volume: decimal.NewFromInt(10),
		})
	}
	// Final candle carries 10x the average volume
	md.AddCandle(models.Candle{
		Symbol: "X",
		Close:  decimal.NewFromFloat(100),
		Volume: decimal.NewFromInt(100),
	})

	m := newTestManager(md)
	if !m.DetectMarketManipulation("X") {
		t.Error("volume spike not detected")
	}
}

func TestDetectMarketManipulationQuietMarket(t *testing.T) {
	md := marketdata.NewStore(time.Minute)
	for i := 0; i < 20; i++ {
		md.AddCandle(models.Candle{
			Symbol: "X",
			Close:  decimal.NewFromFloat(100 + 0.05*float64(i%4)),
			Volume: decimal.NewFromInt(10),
		})
	}
	m := newTestManager(md)
	if m.DetectMarketManipulation("X") {
		t.Error("quiet market flagged as manipulated")
	}
}

func TestShouldHedgePosition(t *testing.T) {
	md := marketdata.NewStore(time.Minute)
	for i := 0; i < 19; i++ {
		md.AddCandle(models.Candle{Symbol: "BTC/USDT", Close: decimal.NewFromFloat(100), Volume: decimal.NewFromInt(10)})
	}
	md.AddCandle(models.Candle{Symbol: "BTC/USDT", Close: decimal.NewFromFloat(100), Volume: decimal.NewFromInt(200)})

	m := newTestManager(md)

	// No position, no hedge even with a manipulated market
	if hedge, _, _ := m.ShouldHedgePosition("BTC/USDT"); hedge {
		t.Error("hedge recommended for flat position")
	}

	m.UpdatePosition("BTC/USDT", dec("0.4"), dec("100"), models.Buy)
	hedge, instrument, amount := m.ShouldHedgePosition("BTC/USDT")
	if !hedge {
		t.Fatal("hedge not recommended for exposed position in manipulated market")
	}
	if instrument != "BTC-PERP" {
		t.Errorf("hedge instrument = %s, want BTC-PERP", instrument)
	}
	if !amount.Equal(dec("0.2")) {
		t.Errorf("hedge amount = %s, want 0.2 (half the position)", amount)
	}
}

func TestRiskMetricsFromDailyReturns(t *testing.T) {
	m := newTestManager(nil)

	returns := []float64{1.0, -0.5, 2.0, -1.0, 0.5, 1.5}
	for _, r := range returns {
		m.RecordDailyReturn(r)
	}

	report := m.GetRiskReport()
	avg := mean(returns)
	vol := stddev(returns)
	wantSharpe := avg / vol * math.Sqrt(252)
	if math.Abs(report.Metrics.SharpeRatio-wantSharpe) > 1e-9 {
		t.Errorf("Sharpe = %v, want %v", report.Metrics.SharpeRatio, wantSharpe)
	}
	if math.Abs(report.Metrics.WinRate-4.0/6.0) > 1e-9 {
		t.Errorf("win rate = %v, want %v", report.Metrics.WinRate, 4.0/6.0)
	}
	if report.Metrics.SortinoRatio <= report.Metrics.SharpeRatio {
		// Downside deviation over two negatives is smaller than full stddev here
		t.Errorf("Sortino %v should exceed Sharpe %v for this series", report.Metrics.SortinoRatio, report.Metrics.SharpeRatio)
	}
}

func TestAverageEntryPrice(t *testing.T) {
	m := newTestManager(nil)

	m.UpdatePosition("X", dec("1"), dec("100"), models.Buy)
	m.UpdatePosition("X", dec("1"), dec("110"), models.Buy)
	pos := m.Position("X")
	if !pos.AvgEntryPrice.Equal(dec("105")) {
		t.Errorf("avg entry after adds = %s, want 105", pos.AvgEntryPrice)
	}

	// Reducing does not move the average
	m.UpdatePosition("X", dec("1"), dec("120"), models.Sell)
	pos = m.Position("X")
	if !pos.AvgEntryPrice.Equal(dec("105")) {
		t.Errorf("avg entry after reduce = %s, want 105", pos.AvgEntryPrice)
	}

	// Flipping through zero resets it
	m.UpdatePosition("X", dec("2"), dec("130"), models.Sell)
	pos = m.Position("X")
	if !pos.AvgEntryPrice.Equal(dec("130")) {
		t.Errorf("avg entry after flip = %s, want 130", pos.AvgEntryPrice)
	}
}
