package exchange

import (
	"context"

	"github.com/quantbot/ultramm/internal/models"
	"github.com/shopspring/decimal"
)

// OrderRequest is a venue-bound order submission.
type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          models.OrderSide
	Type          models.OrderType
	Price         *decimal.Decimal
	Amount        decimal.Decimal
	Params        models.OrderParams
}

// Client is the venue surface the executor talks to. Implementations wrap a
// real exchange connector; the paper venue implements it for simulation and
// tests. All methods must be safe for concurrent use.
type Client interface {
	Name() string
	CreateOrder(ctx context.Context, req OrderRequest) (*models.Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	FetchOrder(ctx context.Context, symbol, orderID string) (*models.Order, error)
	FetchOpenOrders(ctx context.Context, symbol string) ([]*models.Order, error)
	SymbolMeta(symbol string) (*models.SymbolMeta, bool)
}
