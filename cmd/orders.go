package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantbot/ultramm/internal/engine"
	"github.com/quantbot/ultramm/pkg/formatters"
)

var ordersWait time.Duration

var ordersCmd = &cobra.Command{
	Use:   "orders",
	Short: "Quote for a few cycles on the paper venue and show the book",
	Long: `Spins the engine against the simulated paper market, lets the
strategies quote for a short window, then prints the active orders and
fitted pair models. Useful for sanity-checking a strategies file.`,
	RunE: showOrders,
}

func init() {
	ordersCmd.Flags().DurationVar(&ordersWait, "wait", 5*time.Second, "how long to let the strategies quote")
	rootCmd.AddCommand(ordersCmd)
}

func showOrders(cmd *cobra.Command, args []string) error {
	eng, err := engine.New(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		return err
	}
	if eng.PaperVenue() != nil {
		go simulateMarket(ctx, eng)
	}

	time.Sleep(ordersWait)

	fmt.Println(formatters.FormatOrdersTable(eng.GetActiveOrders("")))
	if pairModels := eng.PairModels(); len(pairModels) > 0 {
		fmt.Println(formatters.FormatPairModels(pairModels))
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer stopCancel()
	return eng.Stop(stopCtx)
}
