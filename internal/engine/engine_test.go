package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quantbot/ultramm/internal/config"
	"github.com/quantbot/ultramm/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func testConfig() *config.Config {
	return &config.Config{
		Venue:               "paper",
		PaperTrade:          true,
		InitialCapital:      100000,
		MaxPositionSize:     10,
		MaxDrawdownPercent:  50,
		BaseStopLossPercent: 2,
		VolatilityThreshold: 3,
		VolumeSpikeFactor:   5,
		SpreadAnomalyFactor: 3,
		FeeRatePercent:      0.1,
		RetryAttempts:       1,
		RetryDelay:          time.Millisecond,
		ReconcileInterval:   50 * time.Millisecond,
		MaxOrderAge:         300 * time.Second,
		IcebergThreshold:    100,
		ShutdownTimeout:     time.Second,
		CacheTTL:            time.Minute,
	}
}

func TestNewEngineWithDefaultStrategies(t *testing.T) {
	e, err := New(testConfig(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if len(e.strategies) != 2 {
		t.Errorf("strategies = %d, want the 2 defaults", len(e.strategies))
	}
	if e.PaperVenue() == nil {
		t.Error("paper venue not exposed")
	}
}

func TestNewEngineRejectsLiveVenue(t *testing.T) {
	cfg := testConfig()
	cfg.PaperTrade = false
	if _, err := New(cfg, zap.NewNop()); err == nil {
		t.Error("live venue accepted without an implementation")
	}
}

const combinedYAML = `strategies:
  - name: mm_btc
    type: market_making
    enabled: true
    market_making:
      symbol: BTC/USDT
  - name: arb
    type: statistical_arbitrage
    enabled: true
    stat_arb:
      base_symbol: BTC/USDT
      quote_symbol: ETH/USDT
  - name: blend
    type: combined
    enabled: true
    combined:
      children:
        - name: mm_btc
          weight: 2
        - name: arb
          weight: 1
`

func TestCombinedChildrenNotDoubleRegistered(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	if err := os.WriteFile(path, []byte(combinedYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig()
	cfg.StrategiesFile = path

	e, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	// mm_btc and arb are claimed by the combined strategy; only the
	// combined wrapper itself runs
	if len(e.strategies) != 1 {
		t.Fatalf("strategies = %d, want 1 (the combined wrapper)", len(e.strategies))
	}
	if e.strategies[0].Type() != config.TypeCombined {
		t.Errorf("type = %s", e.strategies[0].Type())
	}
}

func TestCombinedUnknownChildRejected(t *testing.T) {
	yaml := `strategies:
  - name: blend
    type: combined
    enabled: true
    combined:
      children:
        - name: ghost
          weight: 1
`
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig()
	cfg.StrategiesFile = path

	if _, err := New(cfg, zap.NewNop()); err == nil {
		t.Error("combined spec with unknown child accepted")
	}
}

func TestEngineStartStopLeavesNoOrders(t *testing.T) {
	e, err := New(testConfig(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	pv := e.PaperVenue()
	pv.SetQuote("BTC/USDT", decimal.NewFromInt(50000), decimal.NewFromInt(50100))
	e.MarketData().SetTicker(&models.Ticker{
		Symbol: "BTC/USDT", Venue: "paper",
		Bid: decimal.NewFromInt(50000), Ask: decimal.NewFromInt(50100),
		Last: decimal.NewFromInt(50050), Timestamp: time.Now(),
	})

	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatal(err)
	}

	// Let the adaptive market maker quote at least once
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(e.GetActiveOrders("BTC/USDT")) > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	if err := e.Stop(ctx); err != nil {
		t.Fatal(err)
	}

	if got := len(e.GetActiveOrders("")); got != 0 {
		t.Errorf("orders still tracked after Stop: %d", got)
	}

	stats := e.GetExecutionStats()
	if stats.OrdersPlaced == 0 {
		t.Error("no orders placed during the run")
	}
	report := e.GetRiskReport()
	if report.Capital.CurrentCapital.IsZero() {
		t.Error("risk report missing capital state")
	}
}
