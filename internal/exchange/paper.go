package exchange

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quantbot/ultramm/internal/models"
	"github.com/shopspring/decimal"
)

// PaperVenue is a deterministic in-memory venue used by simulation mode and
// tests. Market orders fill immediately at the current quote; limit orders
// rest until the quote crosses their price. Quotes advance only when SetQuote
// is called, so behavior is fully reproducible.
type PaperVenue struct {
	mu     sync.Mutex
	name   string
	quotes map[string]quote
	orders map[string]*models.Order
	meta   map[string]models.SymbolMeta

	failCreates int
	failErr     error
}

type quote struct {
	bid decimal.Decimal
	ask decimal.Decimal
}

// NewPaperVenue creates an empty paper venue.
func NewPaperVenue() *PaperVenue {
	return &PaperVenue{
		name:   "paper",
		quotes: make(map[string]quote),
		orders: make(map[string]*models.Order),
		meta:   make(map[string]models.SymbolMeta),
	}
}

func (v *PaperVenue) Name() string { return v.name }

// SetQuote updates the venue's best bid/ask for symbol and settles any
// resting limit orders the new quote crosses.
func (v *PaperVenue) SetQuote(symbol string, bid, ask decimal.Decimal) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.quotes[symbol] = quote{bid: bid, ask: ask}
	for _, o := range v.orders {
		if o.Symbol == symbol && !o.Status.IsTerminal() {
			v.settleLocked(o)
		}
	}
}

// SetSymbolMeta registers trading constraints for symbol.
func (v *PaperVenue) SetSymbolMeta(meta models.SymbolMeta) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.meta[meta.Symbol] = meta
}

// FailNextCreates makes the next n CreateOrder calls return err. Used to
// exercise retry behavior.
func (v *PaperVenue) FailNextCreates(n int, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failCreates = n
	v.failErr = err
}

func (v *PaperVenue) SymbolMeta(symbol string) (*models.SymbolMeta, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	m, ok := v.meta[symbol]
	if !ok {
		return nil, false
	}
	return &m, true
}

func (v *PaperVenue) CreateOrder(_ context.Context, req OrderRequest) (*models.Order, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.failCreates > 0 {
		v.failCreates--
		return nil, v.failErr
	}

	now := time.Now()
	o := &models.Order{
		ID:              uuid.NewString(),
		ClientOrderID:   req.ClientOrderID,
		Symbol:          req.Symbol,
		Venue:           v.name,
		Side:            req.Side,
		Type:            req.Type,
		Price:           req.Price,
		RequestedAmount: req.Amount,
		FilledAmount:    decimal.Zero,
		RemainingAmount: req.Amount,
		Status:          models.OrderOpen,
		CreatedAt:       now,
		LastUpdatedAt:   now,
	}
	v.settleLocked(o)
	v.orders[o.ID] = o
	return copyOrder(o), nil
}

// settleLocked fills o completely if it is marketable at the current quote.
func (v *PaperVenue) settleLocked(o *models.Order) {
	q, ok := v.quotes[o.Symbol]
	if !ok {
		return
	}
	marketable := o.Type == models.Market
	if o.Type == models.Limit && o.Price != nil {
		if o.Side == models.Buy {
			marketable = !q.ask.IsZero() && o.Price.GreaterThanOrEqual(q.ask)
		} else {
			marketable = !q.bid.IsZero() && o.Price.LessThanOrEqual(q.bid)
		}
	}
	if marketable {
		if o.Price == nil {
			// Market fill: record the quote it executed at
			p := q.ask
			if o.Side == models.Sell {
				p = q.bid
			}
			o.Price = &p
		}
		o.FilledAmount = o.RequestedAmount
		o.RemainingAmount = decimal.Zero
		o.Status = models.OrderFilled
		o.LastUpdatedAt = time.Now()
	}
}

func (v *PaperVenue) CancelOrder(_ context.Context, symbol, orderID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	o, ok := v.orders[orderID]
	if !ok || o.Symbol != symbol {
		return models.ErrOrderNotFound
	}
	if !o.Status.IsTerminal() {
		o.Status = models.OrderCanceled
		o.LastUpdatedAt = time.Now()
	}
	return nil
}

func (v *PaperVenue) FetchOrder(_ context.Context, symbol, orderID string) (*models.Order, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	o, ok := v.orders[orderID]
	if !ok || o.Symbol != symbol {
		return nil, models.ErrOrderNotFound
	}
	return copyOrder(o), nil
}

func (v *PaperVenue) FetchOpenOrders(_ context.Context, symbol string) ([]*models.Order, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []*models.Order
	for _, o := range v.orders {
		if o.Symbol == symbol && !o.Status.IsTerminal() {
			out = append(out, copyOrder(o))
		}
	}
	return out, nil
}

// Fill applies a partial fill of amount to a resting order. Lets tests and
// the simulator drive gradual fills without moving the quote.
func (v *PaperVenue) Fill(orderID string, amount decimal.Decimal) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	o, ok := v.orders[orderID]
	if !ok || o.Status.IsTerminal() {
		return false
	}
	if amount.GreaterThan(o.RemainingAmount) {
		amount = o.RemainingAmount
	}
	o.FilledAmount = o.FilledAmount.Add(amount)
	o.RemainingAmount = o.RemainingAmount.Sub(amount)
	if o.RemainingAmount.IsZero() {
		o.Status = models.OrderFilled
	} else {
		o.Status = models.OrderPartiallyFilled
	}
	o.LastUpdatedAt = time.Now()
	return true
}

func copyOrder(o *models.Order) *models.Order {
	c := *o
	if o.Price != nil {
		p := *o.Price
		c.Price = &p
	}
	return &c
}
