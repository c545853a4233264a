package strategy

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/quantbot/ultramm/internal/config"
	"go.uber.org/zap"
)

func adaptiveParams(symbol string) config.AdaptiveParams {
	return config.AdaptiveParams{
		MarketMakingParams:  mmParams(symbol),
		ConditionWindow:     24,
		VolatilityFactor:    1.0,
		VolumeFactor:        1.0,
		TrendFactor:         0.5,
		LiquidityFactor:     1.0,
		MeanReversionFactor: 0.5,
		MinSpreadMultiplier: 0.5,
		MaxSpreadMultiplier: 3.0,
		MinSizeMultiplier:   0.3,
		MaxSizeMultiplier:   2.0,
	}
}

func newAdaptive(t *testing.T) (*AdaptiveMarketMaker, *harness) {
	t.Helper()
	h := newHarness()
	s := NewAdaptiveMarketMaker("amm1", adaptiveParams("BTC/USDT"), h.md, h.exec, h.rm, zap.NewNop())
	return s, h
}

func TestAdaptParametersNeutralConditions(t *testing.T) {
	s, _ := newAdaptive(t)
	p := adaptiveParams("BTC/USDT")

	effective := s.adaptParameters(p, conditions{volatility: 1, volumeRatio: 1, liquidity: 1})
	if effective.SpreadBidPercent != p.SpreadBidPercent {
		t.Errorf("spread = %v, want unchanged %v", effective.SpreadBidPercent, p.SpreadBidPercent)
	}
	if effective.OrderAmount != p.OrderAmount {
		t.Errorf("amount = %v, want unchanged %v", effective.OrderAmount, p.OrderAmount)
	}
	if effective.OrderCount != p.OrderCount {
		t.Errorf("order count = %d, want unchanged %d", effective.OrderCount, p.OrderCount)
	}
	if s.RefreshInterval() != p.RefreshInterval {
		t.Errorf("refresh = %v, want unchanged %v", s.RefreshInterval(), p.RefreshInterval)
	}
}

func TestAdaptSpreadMultiplierClippedHigh(t *testing.T) {
	s, _ := newAdaptive(t)
	p := adaptiveParams("BTC/USDT")

	// Extreme volatility and thin book both widen spreads, but the
	// combined multiplier stays capped
	effective := s.adaptParameters(p, conditions{volatility: 50, volumeRatio: 1, liquidity: 1})
	want := p.SpreadBidPercent * p.MaxSpreadMultiplier
	if math.Abs(effective.SpreadBidPercent-want) > 1e-12 {
		t.Errorf("spread = %v, want capped %v", effective.SpreadBidPercent, want)
	}
	if effective.SpreadAskPercent != effective.SpreadBidPercent {
		t.Errorf("ask spread %v differs from bid spread %v", effective.SpreadAskPercent, effective.SpreadBidPercent)
	}
}

func TestAdaptSpreadMultiplierClippedLow(t *testing.T) {
	s, _ := newAdaptive(t)
	p := adaptiveParams("BTC/USDT")

	// Calm market with a deep book tightens spreads down to the floor
	effective := s.adaptParameters(p, conditions{volatility: 0.05, volumeRatio: 1, liquidity: 10})
	want := p.SpreadBidPercent * p.MinSpreadMultiplier
	if math.Abs(effective.SpreadBidPercent-want) > 1e-12 {
		t.Errorf("spread = %v, want floored %v", effective.SpreadBidPercent, want)
	}
}

func TestAdaptSizeMultiplierClipped(t *testing.T) {
	s, _ := newAdaptive(t)
	p := adaptiveParams("BTC/USDT")

	dead := s.adaptParameters(p, conditions{volatility: 1, volumeRatio: 0.01, liquidity: 1})
	if want := p.OrderAmount * p.MinSizeMultiplier; math.Abs(dead.OrderAmount-want) > 1e-12 {
		t.Errorf("order amount in dead market = %v, want %v", dead.OrderAmount, want)
	}

	busy := s.adaptParameters(p, conditions{volatility: 1, volumeRatio: 10, liquidity: 1})
	if want := p.OrderAmount * p.MaxSizeMultiplier; math.Abs(busy.OrderAmount-want) > 1e-12 {
		t.Errorf("order amount in busy market = %v, want %v", busy.OrderAmount, want)
	}
}

func TestAdaptOrderCountByLiquidity(t *testing.T) {
	s, _ := newAdaptive(t)
	p := adaptiveParams("BTC/USDT")
	p.OrderCount = 4

	thin := s.adaptParameters(p, conditions{volatility: 1, volumeRatio: 1, liquidity: 0.3})
	if thin.OrderCount != 2 {
		t.Errorf("order count in thin book = %d, want 2", thin.OrderCount)
	}

	deep := s.adaptParameters(p, conditions{volatility: 1, volumeRatio: 1, liquidity: 3.0})
	if deep.OrderCount != 6 {
		t.Errorf("order count in deep book = %d, want 6", deep.OrderCount)
	}

	p.OrderCount = 1
	floor := s.adaptParameters(p, conditions{volatility: 1, volumeRatio: 1, liquidity: 0.1})
	if floor.OrderCount != 1 {
		t.Errorf("order count = %d, never drops below 1", floor.OrderCount)
	}

	p.OrderCount = 8
	capped := s.adaptParameters(p, conditions{volatility: 1, volumeRatio: 1, liquidity: 5.0})
	if capped.OrderCount != 10 {
		t.Errorf("order count = %d, want capped at 10", capped.OrderCount)
	}
}

func TestAdaptRefreshTracksVolatility(t *testing.T) {
	s, _ := newAdaptive(t)
	p := adaptiveParams("BTC/USDT")
	p.RefreshInterval = 10 * time.Second

	s.adaptParameters(p, conditions{volatility: 2.0, volumeRatio: 1, liquidity: 1})
	if got := s.RefreshInterval(); got != 7*time.Second {
		t.Errorf("refresh in volatile market = %v, want 7s", got)
	}

	s.adaptParameters(p, conditions{volatility: 0.5, volumeRatio: 1, liquidity: 1})
	if got := s.RefreshInterval(); got != 13*time.Second {
		t.Errorf("refresh in quiet market = %v, want 13s", got)
	}

	// Floor at one second no matter how fast volatility asks to go
	p.RefreshInterval = time.Second
	s.adaptParameters(p, conditions{volatility: 5.0, volumeRatio: 1, liquidity: 1})
	if got := s.RefreshInterval(); got != time.Second {
		t.Errorf("refresh = %v, never drops below 1s", got)
	}
}

func TestAdaptiveUpdatePlacesQuotes(t *testing.T) {
	s, h := newAdaptive(t)
	h.setQuote("BTC/USDT", "50000", "50100")

	s.Update(context.Background())

	active := h.exec.GetActiveOrders("BTC/USDT")
	if len(active) != 4 {
		t.Fatalf("active orders = %d, want 4", len(active))
	}

	status := s.Status()
	if status.Type != config.TypeAdaptiveMarketMaking {
		t.Errorf("status type = %s", status.Type)
	}
	if _, ok := status.Metrics["volatility"]; !ok {
		t.Error("status missing condition metrics")
	}
}

func TestMeanReversionSignalDirection(t *testing.T) {
	s, h := newAdaptive(t)

	// Price spikes above its short average: signal points back down
	for i := 0; i < 19; i++ {
		h.setQuote("BTC/USDT", "49999", "50001")
	}
	h.setQuote("BTC/USDT", "50499", "50501")

	if sig := s.meanReversionSignal("BTC/USDT"); sig >= 0 {
		t.Errorf("signal after upward spike = %v, want negative", sig)
	}
}
