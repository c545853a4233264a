package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quantbot/ultramm/internal/engine"
	"github.com/quantbot/ultramm/pkg/formatters"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show the persisted run state and strategy lineup",
	RunE:  showReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)
}

func showReport(cmd *cobra.Command, args []string) error {
	state, err := engine.ReadRunState()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Println("No engine run state found. Is the core running?")
			return nil
		}
		return err
	}

	mode := "paper"
	if !state.PaperTrade {
		mode = "live"
	}
	fmt.Printf("Engine pid %d on venue %q (%s), started %s\n",
		state.PID, state.Venue, mode, formatters.FormatTimestamp(state.StartedAt))

	for _, s := range state.Strategies {
		fmt.Printf("  %-20s %-25s %v\n", s.Name, s.Type, s.Symbols)
	}
	return nil
}
