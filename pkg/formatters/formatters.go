// Package formatters renders core state as terminal tables for the CLI.
package formatters

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/quantbot/ultramm/internal/models"
	"github.com/quantbot/ultramm/internal/risk"
	"github.com/quantbot/ultramm/internal/strategy"
	"github.com/shopspring/decimal"
)

// Colors for different values
var (
	ColorGreen  = text.FgGreen
	ColorRed    = text.FgRed
	ColorYellow = text.FgYellow
	ColorWhite  = text.FgWhite
	ColorGray   = text.FgHiBlack
)

// FormatPercent formats a percentage with sign and color.
func FormatPercent(percent float64) string {
	sign := ""
	if percent > 0 {
		sign = "+"
	}
	s := fmt.Sprintf("%s%.2f%%", sign, percent)
	if percent > 0 {
		return ColorGreen.Sprint(s)
	}
	if percent < 0 {
		return ColorRed.Sprint(s)
	}
	return s
}

// FormatAmount formats a signed money amount with color.
func FormatAmount(amount decimal.Decimal) string {
	s := fmt.Sprintf("$%.2f", amount.Abs().InexactFloat64())
	if amount.IsNegative() {
		return ColorRed.Sprint("-" + s)
	}
	return ColorGreen.Sprint(s)
}

// FormatExecutionStats renders the executor counters.
func FormatExecutionStats(stats models.ExecutionStats) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)

	t.AppendRow(table.Row{"Orders Placed", stats.OrdersPlaced})
	t.AppendRow(table.Row{"Orders Filled", stats.OrdersFilled})
	t.AppendRow(table.Row{"Orders Cancelled", stats.OrdersCancelled})
	t.AppendRow(table.Row{"Orders Rejected", colorCount(stats.OrdersRejected)})
	t.AppendRow(table.Row{"Orders Failed", colorCount(stats.OrdersFailed)})
	t.AppendSeparator()
	t.AppendRow(table.Row{"Total Volume", stats.TotalVolume.String()})
	t.AppendRow(table.Row{"Avg Latency", fmt.Sprintf("%.1f ms", stats.AverageLatencyMS)})

	return t.Render()
}

func colorCount(n int64) string {
	if n > 0 {
		return ColorYellow.Sprintf("%d", n)
	}
	return fmt.Sprintf("%d", n)
}

// FormatRiskReport renders capital, metrics and open positions.
func FormatRiskReport(report risk.Report) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)

	capital := report.Capital
	t.AppendRow(table.Row{"Initial Capital", fmt.Sprintf("$%.2f", capital.InitialCapital.InexactFloat64())})
	t.AppendRow(table.Row{"Current Capital", fmt.Sprintf("$%.2f", capital.CurrentCapital.InexactFloat64())})
	t.AppendRow(table.Row{"Peak Capital", fmt.Sprintf("$%.2f", capital.PeakCapital.InexactFloat64())})
	t.AppendRow(table.Row{"Drawdown", FormatPercent(-capital.DrawdownPercent)})
	t.AppendSeparator()
	t.AppendRow(table.Row{"Sharpe Ratio", fmt.Sprintf("%.2f", report.Metrics.SharpeRatio)})
	t.AppendRow(table.Row{"Sortino Ratio", fmt.Sprintf("%.2f", report.Metrics.SortinoRatio)})
	t.AppendRow(table.Row{"Max Drawdown", fmt.Sprintf("%.2f%%", report.Metrics.MaxDrawdownPercent)})
	t.AppendRow(table.Row{"Win Rate", fmt.Sprintf("%.1f%%", report.Metrics.WinRate*100)})
	t.AppendSeparator()
	t.AppendRow(table.Row{"Max Position Size", report.Limits.MaxPositionSize.String()})
	t.AppendRow(table.Row{"Max Drawdown Limit", fmt.Sprintf("%.1f%%", report.Limits.MaxDrawdownPercent)})

	out := t.Render()
	if len(report.Positions) > 0 {
		out += "\n" + FormatPositionsTable(report.Positions)
	}
	return out
}

// FormatPositionsTable renders open positions.
func FormatPositionsTable(positions []models.Position) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Symbol", "Qty", "Avg Entry"})

	for _, pos := range positions {
		qty := pos.Quantity.String()
		if pos.Quantity.IsNegative() {
			qty = ColorRed.Sprint(qty)
		} else {
			qty = ColorGreen.Sprint(qty)
		}
		t.AppendRow(table.Row{
			pos.Symbol,
			qty,
			fmt.Sprintf("$%.2f", pos.AvgEntryPrice.InexactFloat64()),
		})
	}
	if len(positions) == 0 {
		t.AppendRow(table.Row{"No positions", "", ""})
	}
	return t.Render()
}

// FormatOrdersTable renders active orders.
func FormatOrdersTable(orders []models.Order) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Time", "Symbol", "Side", "Type", "Amount", "Filled", "Price", "Status"})

	for _, order := range orders {
		sideColor := ColorGreen
		if order.Side == models.Sell {
			sideColor = ColorRed
		}

		price := "Market"
		if order.Price != nil {
			price = fmt.Sprintf("$%.2f", order.Price.InexactFloat64())
		}

		statusColor := ColorWhite
		switch order.Status {
		case models.OrderFilled:
			statusColor = ColorGreen
		case models.OrderCanceled, models.OrderRejected:
			statusColor = ColorRed
		case models.OrderNew, models.OrderPartiallyFilled:
			statusColor = ColorYellow
		}

		t.AppendRow(table.Row{
			order.CreatedAt.Format("15:04:05"),
			order.Symbol,
			sideColor.Sprint(strings.ToUpper(string(order.Side))),
			order.Type,
			order.RequestedAmount.String(),
			order.FilledAmount.String(),
			price,
			statusColor.Sprint(order.Status),
		})
	}
	if len(orders) == 0 {
		t.AppendRow(table.Row{"No orders", "", "", "", "", "", "", ""})
	}
	return t.Render()
}

// FormatStrategyStatuses renders one row per running strategy.
func FormatStrategyStatuses(statuses []strategy.Status) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Strategy", "Type", "Symbols", "Orders", "Last Cycle"})

	for _, st := range statuses {
		lastCycle := "-"
		if !st.LastCycle.IsZero() {
			lastCycle = st.LastCycle.Format("15:04:05")
		}
		t.AppendRow(table.Row{
			st.ID,
			st.Type,
			strings.Join(st.Symbols, ", "),
			st.ActiveOrders,
			lastCycle,
		})
	}
	if len(statuses) == 0 {
		t.AppendRow(table.Row{"No strategies", "", "", "", ""})
	}
	return t.Render()
}

// FormatPairModels renders fitted stat-arb models.
func FormatPairModels(pairModels []*strategy.PairModel) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Pair", "Slope", "Intercept", "Corr", "Spread Std", "Samples", "Fitted"})

	for _, m := range pairModels {
		corr := fmt.Sprintf("%.3f", m.Correlation)
		if m.Correlation >= 0.8 {
			corr = ColorGreen.Sprint(corr)
		} else if m.Correlation < 0.5 {
			corr = ColorRed.Sprint(corr)
		}
		t.AppendRow(table.Row{
			m.BaseSymbol + " / " + m.QuoteSymbol,
			fmt.Sprintf("%.4f", m.Slope),
			fmt.Sprintf("%.4f", m.Intercept),
			corr,
			fmt.Sprintf("%.4f", m.SpreadStd),
			m.Samples,
			m.LastFit.Format("15:04:05"),
		})
	}
	if len(pairModels) == 0 {
		t.AppendRow(table.Row{"No fitted models", "", "", "", "", "", ""})
	}
	return t.Render()
}

// FormatTimestamp formats a timestamp for display.
func FormatTimestamp(t time.Time) string {
	return t.Format("15:04:05")
}
