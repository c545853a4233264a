package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide represents buy or sell
type OrderSide string

const (
	Buy  OrderSide = "buy"
	Sell OrderSide = "sell"
)

// Opposite returns the other side
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType represents the order type
type OrderType string

const (
	Market OrderType = "market"
	Limit  OrderType = "limit"
)

// OrderStatus represents the current status of an order
type OrderStatus string

const (
	OrderNew             OrderStatus = "new"
	OrderOpen            OrderStatus = "open"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderFilled          OrderStatus = "filled"
	OrderClosed          OrderStatus = "closed"
	OrderCanceled        OrderStatus = "canceled"
	OrderRejected        OrderStatus = "rejected"
)

// IsTerminal reports whether no further fills can arrive for this status.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderFilled, OrderClosed, OrderCanceled, OrderRejected:
		return true
	}
	return false
}

// Order represents a trading order. Owned exclusively by the order executor;
// strategies hold only the ID and never mutate an order directly.
//
// Invariant once Status leaves OrderNew:
// FilledAmount + RemainingAmount == RequestedAmount.
type Order struct {
	ID              string           `json:"id"`
	ClientOrderID   string           `json:"client_order_id"`
	Symbol          string           `json:"symbol"`
	Venue           string           `json:"venue"`
	Side            OrderSide        `json:"side"`
	Type            OrderType        `json:"type"`
	Price           *decimal.Decimal `json:"price,omitempty"`
	RequestedAmount decimal.Decimal  `json:"requested_amount"`
	FilledAmount    decimal.Decimal  `json:"filled_amount"`
	RemainingAmount decimal.Decimal  `json:"remaining_amount"`
	Status          OrderStatus      `json:"status"`
	CreatedAt       time.Time        `json:"created_at"`
	LastUpdatedAt   time.Time        `json:"last_updated_at"`
}

// CheckAmountInvariant reports whether the fill accounting still adds up.
// Always true while the order is NEW (the venue has not acked amounts yet).
func (o *Order) CheckAmountInvariant() bool {
	if o.Status == OrderNew {
		return true
	}
	return o.FilledAmount.Add(o.RemainingAmount).Equal(o.RequestedAmount)
}

// OrderParams carries optional venue hints attached to an order request.
type OrderParams struct {
	Iceberg     bool            `json:"iceberg,omitempty"`
	VisibleSize decimal.Decimal `json:"visible_size,omitempty"`
}

// Position is a signed net quantity per symbol (positive = net long)
// with a running average entry price. Owned by the risk manager.
type Position struct {
	Symbol        string          `json:"symbol"`
	Quantity      decimal.Decimal `json:"quantity"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
}

// CapitalState tracks account capital for drawdown accounting.
// DrawdownPercent is percent units: 5.0 means capital sits 5% below peak.
// PeakCapital is monotonically non-decreasing.
type CapitalState struct {
	InitialCapital  decimal.Decimal `json:"initial_capital"`
	CurrentCapital  decimal.Decimal `json:"current_capital"`
	PeakCapital     decimal.Decimal `json:"peak_capital"`
	DrawdownPercent float64         `json:"drawdown_percent"`
}

// Ticker is a best bid/ask snapshot for a symbol on a venue
type Ticker struct {
	Symbol    string          `json:"symbol"`
	Venue     string          `json:"venue"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Last      decimal.Decimal `json:"last"`
	Timestamp time.Time       `json:"timestamp"`
}

// Mid returns (bid+ask)/2, or zero if either side is missing.
func (t *Ticker) Mid() decimal.Decimal {
	if t.Bid.IsZero() || t.Ask.IsZero() {
		return decimal.Zero
	}
	return t.Bid.Add(t.Ask).Div(decimal.NewFromInt(2))
}

// SpreadPercent returns the quoted spread as a percent of mid
func (t *Ticker) SpreadPercent() float64 {
	mid := t.Mid()
	if mid.IsZero() {
		return 0
	}
	return t.Ask.Sub(t.Bid).Div(mid).Mul(decimal.NewFromInt(100)).InexactFloat64()
}

// PriceLevel is one order-book level
type PriceLevel struct {
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
}

// OrderBook holds depth for one symbol on one venue
type OrderBook struct {
	Symbol    string       `json:"symbol"`
	Venue     string       `json:"venue"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp time.Time    `json:"timestamp"`
}

// Candle is one OHLCV bar
type Candle struct {
	Symbol    string          `json:"symbol"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
}

// SymbolMeta carries the venue's trading constraints for a symbol
type SymbolMeta struct {
	Symbol             string          `json:"symbol"`
	MinOrderAmount     decimal.Decimal `json:"min_order_amount"`
	MinPriceIncrement  decimal.Decimal `json:"min_price_increment"`
	MinAmountIncrement decimal.Decimal `json:"min_amount_increment"`
}

// ExecutionStats is a snapshot of cumulative executor counters
type ExecutionStats struct {
	OrdersPlaced     int64           `json:"orders_placed"`
	OrdersFilled     int64           `json:"orders_filled"`
	OrdersCancelled  int64           `json:"orders_cancelled"`
	OrdersRejected   int64           `json:"orders_rejected"`
	OrdersFailed     int64           `json:"orders_failed"`
	TotalVolume      decimal.Decimal `json:"total_volume"`
	AverageLatencyMS float64         `json:"average_latency_ms"`
}
