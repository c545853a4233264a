package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.RetryAttempts != 3 {
		t.Errorf("RetryAttempts = %d, want 3", cfg.RetryAttempts)
	}
	if cfg.RetryDelay != time.Second {
		t.Errorf("RetryDelay = %v, want 1s", cfg.RetryDelay)
	}
	if cfg.ReconcileInterval != time.Second {
		t.Errorf("ReconcileInterval = %v, want 1s", cfg.ReconcileInterval)
	}
	if cfg.MaxOrderAge != 300*time.Second {
		t.Errorf("MaxOrderAge = %v, want 5m", cfg.MaxOrderAge)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 10s", cfg.ShutdownTimeout)
	}
	if cfg.FeeRatePercent != 0.1 {
		t.Errorf("FeeRatePercent = %v, want 0.1", cfg.FeeRatePercent)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("EXEC_RETRY_ATTEMPTS", "5")
	t.Setenv("RISK_MAX_DRAWDOWN_PERCENT", "15.5")
	t.Setenv("PAPER_TRADE", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.RetryAttempts != 5 {
		t.Errorf("RetryAttempts = %d, want 5", cfg.RetryAttempts)
	}
	if cfg.MaxDrawdownPercent != 15.5 {
		t.Errorf("MaxDrawdownPercent = %v, want 15.5", cfg.MaxDrawdownPercent)
	}
	if cfg.PaperTrade {
		t.Error("PaperTrade = true, want false")
	}
}

func TestLoadRejectsBadDrawdown(t *testing.T) {
	t.Setenv("RISK_MAX_DRAWDOWN_PERCENT", "150")

	if _, err := Load(); err == nil {
		t.Error("Load() accepted drawdown limit of 150%")
	}
}

func TestDefaultStrategySpecsNormalize(t *testing.T) {
	specs, err := LoadStrategySpecs("")
	if err != nil {
		t.Fatalf("LoadStrategySpecs returned error: %v", err)
	}
	if len(specs) == 0 {
		t.Fatal("expected built-in strategy specs")
	}

	for _, s := range specs {
		switch s.Type {
		case TypeAdaptiveMarketMaking:
			p := s.Adaptive
			if p.SpreadBidPercent != 0.1 || p.SpreadAskPercent != 0.1 {
				t.Errorf("%s: spreads = %v/%v, want 0.1/0.1", s.Name, p.SpreadBidPercent, p.SpreadAskPercent)
			}
			if p.MaxSpreadMultiplier != 3.0 || p.MinSpreadMultiplier != 0.5 {
				t.Errorf("%s: spread multiplier bounds = %v/%v, want 0.5/3.0", s.Name, p.MinSpreadMultiplier, p.MaxSpreadMultiplier)
			}
		case TypeStatisticalArbitrage:
			p := s.StatArb
			if p.MinSamples != 30 {
				t.Errorf("%s: MinSamples = %d, want 30", s.Name, p.MinSamples)
			}
			if p.RefitInterval != 24*time.Hour {
				t.Errorf("%s: RefitInterval = %v, want 24h", s.Name, p.RefitInterval)
			}
		}
	}
}

func TestNormalizeSpecRejectsUnknownType(t *testing.T) {
	spec := StrategySpec{Name: "mystery", Type: "momentum"}
	if err := normalizeSpec(&spec); err == nil {
		t.Error("normalizeSpec accepted unknown strategy type")
	}
}

func TestNormalizeCombinedNeedsChildren(t *testing.T) {
	spec := StrategySpec{Name: "combo", Type: TypeCombined}
	if err := normalizeSpec(&spec); err == nil {
		t.Error("normalizeSpec accepted combined strategy without children")
	}
}
