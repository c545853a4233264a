package cmd

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quantbot/ultramm/internal/engine"
	"github.com/quantbot/ultramm/internal/models"
	"github.com/quantbot/ultramm/pkg/formatters"
)

var (
	runDuration     time.Duration
	runTickInterval time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the trading core (paper venue simulation)",
	Long: `Starts the engine and, on the paper venue, drives a random-walk
price simulation so the strategies have a market to trade. Runs until the
duration elapses or an interrupt arrives.`,
	RunE: runTradingCore,
}

func init() {
	runCmd.Flags().DurationVar(&runDuration, "duration", 0, "stop after this long (0 = run until interrupted)")
	runCmd.Flags().DurationVar(&runTickInterval, "tick", 500*time.Millisecond, "simulated market tick interval")
	rootCmd.AddCommand(runCmd)
}

func runTradingCore(cmd *cobra.Command, args []string) error {
	eng, err := engine.New(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		return err
	}

	if pv := eng.PaperVenue(); pv != nil {
		go simulateMarket(ctx, eng)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	var timeout <-chan time.Time
	if runDuration > 0 {
		timeout = time.After(runDuration)
	}

	report := time.NewTicker(10 * time.Second)
	defer report.Stop()

loop:
	for {
		select {
		case <-sig:
			logger.Info("interrupt received, shutting down")
			break loop
		case <-timeout:
			logger.Info("run duration elapsed, shutting down")
			break loop
		case <-report.C:
			fmt.Println(formatters.FormatStrategyStatuses(eng.StrategyStatuses()))
			fmt.Println(formatters.FormatExecutionStats(eng.GetExecutionStats()))
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer stopCancel()
	if err := eng.Stop(stopCtx); err != nil {
		logger.Warn("shutdown finished with error", zap.Error(err))
	}

	fmt.Println(formatters.FormatExecutionStats(eng.GetExecutionStats()))
	fmt.Println(formatters.FormatRiskReport(eng.GetRiskReport()))
	return nil
}

// simulateMarket drives a correlated random walk on the paper venue for
// every symbol the strategies trade.
func simulateMarket(ctx context.Context, eng *engine.Engine) {
	pv := eng.PaperVenue()
	md := eng.MarketData()

	mids := map[string]float64{}
	for _, st := range eng.StrategyStatuses() {
		for _, sym := range st.Symbols {
			if _, ok := mids[sym]; !ok {
				mids[sym] = startingPrice(sym)
			}
		}
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	ticker := time.NewTicker(runTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for sym, mid := range mids {
				// 0.05% stddev per tick
				mid *= 1 + rng.NormFloat64()*0.0005
				mids[sym] = mid

				half := mid * 0.0005
				bid := decimal.NewFromFloat(mid - half)
				ask := decimal.NewFromFloat(mid + half)
				pv.SetQuote(sym, bid, ask)
				md.SetTicker(&models.Ticker{
					Symbol:    sym,
					Venue:     pv.Name(),
					Bid:       bid,
					Ask:       ask,
					Last:      decimal.NewFromFloat(mid),
					Timestamp: time.Now(),
				})
				md.AddCandle(models.Candle{
					Symbol:    sym,
					Open:      decimal.NewFromFloat(mid),
					High:      ask,
					Low:       bid,
					Close:     decimal.NewFromFloat(mid),
					Volume:    decimal.NewFromFloat(10 + rng.Float64()*5),
					Timestamp: time.Now(),
				})
			}
		}
	}
}

func startingPrice(symbol string) float64 {
	switch {
	case strings.HasPrefix(symbol, "BTC"):
		return 50000
	case strings.HasPrefix(symbol, "ETH"):
		return 3000
	default:
		return 100
	}
}
