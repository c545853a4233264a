package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Strategy type identifiers accepted in the strategies file.
const (
	TypeMarketMaking         = "market_making"
	TypeAdaptiveMarketMaking = "adaptive_market_making"
	TypeStatisticalArbitrage = "statistical_arbitrage"
	TypeCombined             = "combined"
)

// MarketMakingParams is the fixed parameter set for the market-making
// strategies. Fields not present in the strategies file keep their defaults.
type MarketMakingParams struct {
	Symbol           string        `mapstructure:"symbol"`
	SpreadBidPercent float64       `mapstructure:"spread_bid_percent"`
	SpreadAskPercent float64       `mapstructure:"spread_ask_percent"`
	OrderAmount      float64       `mapstructure:"order_amount"`
	OrderCount       int           `mapstructure:"order_count"`
	RefreshInterval  time.Duration `mapstructure:"refresh_interval"`
	MaxPosition      float64       `mapstructure:"max_position"`
}

// AdaptiveParams extends MarketMakingParams with the bounds used when
// adjusting spreads and sizes to market conditions.
type AdaptiveParams struct {
	MarketMakingParams `mapstructure:",squash"`

	ConditionWindow     int     `mapstructure:"condition_window"`
	VolatilityFactor    float64 `mapstructure:"volatility_factor"`
	VolumeFactor        float64 `mapstructure:"volume_factor"`
	TrendFactor         float64 `mapstructure:"trend_factor"`
	LiquidityFactor     float64 `mapstructure:"liquidity_factor"`
	MeanReversionFactor float64 `mapstructure:"mean_reversion_factor"`
	MinSpreadMultiplier float64 `mapstructure:"min_spread_multiplier"`
	MaxSpreadMultiplier float64 `mapstructure:"max_spread_multiplier"`
	MinSizeMultiplier   float64 `mapstructure:"min_size_multiplier"`
	MaxSizeMultiplier   float64 `mapstructure:"max_size_multiplier"`
}

// StatArbParams is the fixed parameter set for the statistical-arbitrage
// strategy. One spec per traded pair.
type StatArbParams struct {
	BaseSymbol        string        `mapstructure:"base_symbol"`
	QuoteSymbol       string        `mapstructure:"quote_symbol"`
	LookbackPeriod    int           `mapstructure:"lookback_period"`
	MinSamples        int           `mapstructure:"min_samples"`
	EntryThreshold    float64       `mapstructure:"entry_threshold"`
	ExitTarget        float64       `mapstructure:"exit_target"`
	StopLossPercent   float64       `mapstructure:"stop_loss_percent"`
	CapitalAllocation float64       `mapstructure:"capital_allocation"`
	RefitInterval     time.Duration `mapstructure:"refit_interval"`
	RefreshInterval   time.Duration `mapstructure:"refresh_interval"`
}

// CombinedChild names a child strategy and its starting weight.
type CombinedChild struct {
	Name   string  `mapstructure:"name"`
	Weight float64 `mapstructure:"weight"`
}

// CombinedParams configures a combined strategy that owns other specs.
type CombinedParams struct {
	Children          []CombinedChild `mapstructure:"children"`
	RebalanceInterval time.Duration   `mapstructure:"rebalance_interval"`
	RefreshInterval   time.Duration   `mapstructure:"refresh_interval"`
}

// StrategySpec is one entry in the strategies file. Exactly one of the
// parameter blocks is consulted, selected by Type.
type StrategySpec struct {
	Name    string `mapstructure:"name"`
	Type    string `mapstructure:"type"`
	Enabled bool   `mapstructure:"enabled"`

	MarketMaking MarketMakingParams `mapstructure:"market_making"`
	Adaptive     AdaptiveParams     `mapstructure:"adaptive"`
	StatArb      StatArbParams      `mapstructure:"stat_arb"`
	Combined     CombinedParams     `mapstructure:"combined"`
}

// DefaultStrategySpecs returns the built-in strategy set used when no
// strategies file is configured.
func DefaultStrategySpecs() []StrategySpec {
	return []StrategySpec{
		{
			Name:    "mm_btc",
			Type:    TypeAdaptiveMarketMaking,
			Enabled: true,
			Adaptive: AdaptiveParams{
				MarketMakingParams: MarketMakingParams{Symbol: "BTC/USDT"},
			},
		},
		{
			Name:    "statarb_eth_btc",
			Type:    TypeStatisticalArbitrage,
			Enabled: true,
			StatArb: StatArbParams{BaseSymbol: "BTC/USDT", QuoteSymbol: "ETH/USDT"},
		},
	}
}

// LoadStrategySpecs reads the strategies file at path, or returns the
// built-in defaults if path is empty. Missing fields are filled with
// defaults; unknown fields in the file are ignored.
func LoadStrategySpecs(path string) ([]StrategySpec, error) {
	specs := DefaultStrategySpecs()
	if path != "" {
		v := viper.New()
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read strategies file: %w", err)
		}
		var file struct {
			Strategies []StrategySpec `mapstructure:"strategies"`
		}
		if err := v.Unmarshal(&file); err != nil {
			return nil, fmt.Errorf("parse strategies file: %w", err)
		}
		specs = file.Strategies
	}

	for i := range specs {
		if err := normalizeSpec(&specs[i]); err != nil {
			return nil, err
		}
	}
	return specs, nil
}

func normalizeSpec(s *StrategySpec) error {
	switch s.Type {
	case TypeMarketMaking:
		applyMarketMakingDefaults(&s.MarketMaking)
	case TypeAdaptiveMarketMaking:
		applyMarketMakingDefaults(&s.Adaptive.MarketMakingParams)
		applyAdaptiveDefaults(&s.Adaptive)
	case TypeStatisticalArbitrage:
		applyStatArbDefaults(&s.StatArb)
	case TypeCombined:
		if len(s.Combined.Children) == 0 {
			return fmt.Errorf("strategy %q: combined strategy needs children", s.Name)
		}
		if s.Combined.RebalanceInterval <= 0 {
			s.Combined.RebalanceInterval = time.Hour
		}
		if s.Combined.RefreshInterval <= 0 {
			s.Combined.RefreshInterval = 5 * time.Second
		}
	default:
		return fmt.Errorf("strategy %q: unknown type %q", s.Name, s.Type)
	}
	return nil
}

func applyMarketMakingDefaults(p *MarketMakingParams) {
	if p.SpreadBidPercent <= 0 {
		p.SpreadBidPercent = 0.1
	}
	if p.SpreadAskPercent <= 0 {
		p.SpreadAskPercent = 0.1
	}
	if p.OrderAmount <= 0 {
		p.OrderAmount = 0.01
	}
	if p.OrderCount <= 0 {
		p.OrderCount = 3
	}
	if p.RefreshInterval <= 0 {
		p.RefreshInterval = 5 * time.Second
	}
	if p.MaxPosition <= 0 {
		p.MaxPosition = 0.5
	}
}

func applyAdaptiveDefaults(p *AdaptiveParams) {
	if p.ConditionWindow <= 0 {
		p.ConditionWindow = 24
	}
	if p.VolatilityFactor <= 0 {
		p.VolatilityFactor = 1.0
	}
	if p.VolumeFactor <= 0 {
		p.VolumeFactor = 1.0
	}
	if p.TrendFactor <= 0 {
		p.TrendFactor = 0.5
	}
	if p.LiquidityFactor <= 0 {
		p.LiquidityFactor = 1.0
	}
	if p.MeanReversionFactor <= 0 {
		p.MeanReversionFactor = 0.5
	}
	if p.MinSpreadMultiplier <= 0 {
		p.MinSpreadMultiplier = 0.5
	}
	if p.MaxSpreadMultiplier <= 0 {
		p.MaxSpreadMultiplier = 3.0
	}
	if p.MinSizeMultiplier <= 0 {
		p.MinSizeMultiplier = 0.3
	}
	if p.MaxSizeMultiplier <= 0 {
		p.MaxSizeMultiplier = 2.0
	}
}

func applyStatArbDefaults(p *StatArbParams) {
	if p.LookbackPeriod <= 0 {
		p.LookbackPeriod = 100
	}
	if p.MinSamples <= 0 {
		p.MinSamples = 30
	}
	if p.EntryThreshold <= 0 {
		p.EntryThreshold = 2.0
	}
	if p.StopLossPercent <= 0 {
		p.StopLossPercent = 50.0
	}
	if p.CapitalAllocation <= 0 {
		p.CapitalAllocation = 1000.0
	}
	if p.RefitInterval <= 0 {
		p.RefitInterval = 24 * time.Hour
	}
	if p.RefreshInterval <= 0 {
		p.RefreshInterval = 5 * time.Second
	}
}
