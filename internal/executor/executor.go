package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quantbot/ultramm/internal/config"
	"github.com/quantbot/ultramm/internal/exchange"
	"github.com/quantbot/ultramm/internal/models"
	"github.com/quantbot/ultramm/internal/risk"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// orderKey addresses one order table bucket.
type orderKey struct {
	venue  string
	symbol string
}

// tracked pairs an order with the fill amount already applied to risk state,
// so reconciliation applies only the delta of each partial fill.
type tracked struct {
	order          *models.Order
	lastSeenFilled decimal.Decimal
}

// PlaceRequest describes one order submission.
type PlaceRequest struct {
	Symbol string
	Venue  string // empty means the default venue
	Side   models.OrderSide
	Type   models.OrderType
	Amount decimal.Decimal
	Price  *decimal.Decimal // required for limit orders
}

// Executor owns the full order lifecycle: validation, risk admission,
// venue submission with bounded retries, rate limiting, background
// reconciliation and execution statistics. A single mutex guards the order
// table; every sleep happens outside it.
type Executor struct {
	mu sync.Mutex

	log    *zap.Logger
	venues map[string]exchange.Client
	defVen string
	risk   *risk.Manager

	retryAttempts    int
	retryDelay       time.Duration
	reconcileEvery   time.Duration
	maxOrderAge      time.Duration
	icebergThreshold decimal.Decimal
	shutdownTimeout  time.Duration

	gate *rateGate

	orders map[orderKey]map[string]*tracked

	stats      models.ExecutionStats
	latencySum float64

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an executor over the given venues. The first venue in the map
// iteration order is not used as a default; pass defaultVenue explicitly.
func New(cfg *config.Config, venues map[string]exchange.Client, defaultVenue string, rm *risk.Manager, log *zap.Logger) *Executor {
	return &Executor{
		log:              log.With(zap.String("component", "executor")),
		venues:           venues,
		defVen:           defaultVenue,
		risk:             rm,
		retryAttempts:    cfg.RetryAttempts,
		retryDelay:       cfg.RetryDelay,
		reconcileEvery:   cfg.ReconcileInterval,
		maxOrderAge:      cfg.MaxOrderAge,
		icebergThreshold: decimal.NewFromFloat(cfg.IcebergThreshold),
		shutdownTimeout:  cfg.ShutdownTimeout,
		gate:             newRateGate(cfg.RateLimitPerSec),
		orders:           make(map[orderKey]map[string]*tracked),
	}
}

// Start launches the background reconciliation loop.
func (e *Executor) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	go e.reconcileLoop(ctx)
	e.log.Info("executor started", zap.Duration("reconcile_interval", e.reconcileEvery))
}

func (e *Executor) reconcileLoop(ctx context.Context) {
	defer close(e.done)
	ticker := time.NewTicker(e.reconcileEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.ReconcileOrders(ctx)
		}
	}
}

// Stop cancels all outstanding orders and shuts the reconcile loop down,
// waiting at most the configured shutdown timeout for it to exit.
func (e *Executor) Stop(ctx context.Context) {
	if err := e.CancelAllOrders(ctx, ""); err != nil {
		e.log.Error("cancel-all on shutdown failed", zap.Error(err))
	}
	if e.cancel != nil {
		e.cancel()
	}
	if e.done != nil {
		select {
		case <-e.done:
		case <-time.After(e.shutdownTimeout):
			e.log.Warn("reconcile loop did not stop before timeout")
		}
	}
	e.log.Info("executor stopped")
}

// PlaceOrder validates, risk-checks and submits an order. Validation errors
// and risk rejections return immediately without touching the venue;
// transient venue errors are retried with a fixed delay before giving up
// with ErrExecutionFailed.
func (e *Executor) PlaceOrder(ctx context.Context, req PlaceRequest) (*models.Order, error) {
	if err := validate(req); err != nil {
		e.countRejected()
		return nil, err
	}

	venueID, venue, err := e.resolveVenue(req.Venue)
	if err != nil {
		e.countRejected()
		return nil, err
	}

	if check := e.risk.CheckPositionLimit(req.Symbol, req.Side, req.Amount); !check.Passed {
		e.countRejected()
		e.log.Warn("order rejected by risk",
			zap.String("symbol", req.Symbol),
			zap.String("reason", check.Reason))
		return nil, fmt.Errorf("%w: %s", models.ErrRiskRejected, check.Reason)
	}

	var params models.OrderParams
	if req.Type == models.Limit && req.Amount.GreaterThan(e.icebergThreshold) {
		params.Iceberg = true
		params.VisibleSize = req.Amount.Mul(decimal.NewFromFloat(0.2))
	}

	venueReq := exchange.OrderRequest{
		ClientOrderID: uuid.NewString(),
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Price:         req.Price,
		Amount:        req.Amount,
		Params:        params,
	}

	var order *models.Order
	var lastErr error
	for attempt := 0; attempt <= e.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				e.countFailed()
				return nil, ctx.Err()
			case <-time.After(e.retryDelay):
			}
			e.log.Info("retrying order placement",
				zap.String("symbol", req.Symbol),
				zap.Int("attempt", attempt))
		}
		if err := e.gate.wait(ctx); err != nil {
			e.countFailed()
			return nil, err
		}

		start := time.Now()
		order, lastErr = venue.CreateOrder(ctx, venueReq)
		if lastErr == nil {
			e.recordPlacement(venueID, order, time.Since(start))
			return order, nil
		}
		e.log.Error("order placement failed",
			zap.String("symbol", req.Symbol),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))
	}

	e.countFailed()
	return nil, fmt.Errorf("%w: %v", models.ErrExecutionFailed, lastErr)
}

func (e *Executor) recordPlacement(venueID string, order *models.Order, latency time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := orderKey{venue: venueID, symbol: order.Symbol}
	if e.orders[key] == nil {
		e.orders[key] = make(map[string]*tracked)
	}
	t := &tracked{order: order}
	e.orders[key][order.ID] = t

	e.stats.OrdersPlaced++
	e.latencySum += float64(latency.Milliseconds())
	e.stats.AverageLatencyMS = e.latencySum / float64(e.stats.OrdersPlaced)

	if order.FilledAmount.IsPositive() {
		e.applyFillLocked(t, order.FilledAmount, order)
	}

	e.log.Debug("order placed",
		zap.String("id", order.ID),
		zap.String("symbol", order.Symbol),
		zap.String("side", string(order.Side)),
		zap.Duration("latency", latency))
}

// applyFillLocked credits a fill delta to stats and risk state.
func (e *Executor) applyFillLocked(t *tracked, delta decimal.Decimal, latest *models.Order) {
	if !delta.IsPositive() {
		return
	}
	t.lastSeenFilled = t.lastSeenFilled.Add(delta)
	e.stats.TotalVolume = e.stats.TotalVolume.Add(delta)
	if latest.Status == models.OrderFilled || latest.Status == models.OrderClosed {
		e.stats.OrdersFilled++
	}
	price := decimal.Zero
	if latest.Price != nil {
		price = *latest.Price
	}
	e.risk.UpdatePosition(latest.Symbol, delta, price, latest.Side)
}

// CancelOrder cancels one tracked order, retrying transient venue errors.
// Cancel of an already terminal or unknown order is not an error.
func (e *Executor) CancelOrder(ctx context.Context, symbol, orderID, venueID string) error {
	venueID, venue, err := e.resolveVenue(venueID)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= e.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.retryDelay):
			}
		}
		lastErr = venue.CancelOrder(ctx, symbol, orderID)
		if lastErr == nil || lastErr == models.ErrOrderNotFound {
			break
		}
		e.log.Error("cancel failed",
			zap.String("id", orderID),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))
	}
	if lastErr != nil && lastErr != models.ErrOrderNotFound {
		return fmt.Errorf("%w: %v", models.ErrExecutionFailed, lastErr)
	}

	e.mu.Lock()
	key := orderKey{venue: venueID, symbol: symbol}
	if t, ok := e.orders[key][orderID]; ok && !t.order.Status.IsTerminal() {
		t.order.Status = models.OrderCanceled
		t.order.LastUpdatedAt = time.Now()
		e.stats.OrdersCancelled++
	}
	e.mu.Unlock()

	e.log.Debug("order cancelled", zap.String("id", orderID), zap.String("symbol", symbol))
	return nil
}

// CancelAllOrders cancels every tracked non-terminal order, optionally
// restricted to one symbol. Per-order failures are logged and do not stop
// the sweep; the first failure is returned.
func (e *Executor) CancelAllOrders(ctx context.Context, symbol string) error {
	type target struct {
		key orderKey
		id  string
	}
	e.mu.Lock()
	var targets []target
	for key, bucket := range e.orders {
		if symbol != "" && key.symbol != symbol {
			continue
		}
		for id, t := range bucket {
			if !t.order.Status.IsTerminal() {
				targets = append(targets, target{key: key, id: id})
			}
		}
	}
	e.mu.Unlock()

	var firstErr error
	for _, tg := range targets {
		if err := e.CancelOrder(ctx, tg.key.symbol, tg.id, tg.key.venue); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// ReconcileOrders polls the venue state of every non-terminal tracked order,
// applies fill deltas to risk state, evicts orders whose fill accounting is
// inconsistent, and prunes terminal or expired orders. Per-order errors are
// isolated.
func (e *Executor) ReconcileOrders(ctx context.Context) {
	type snapshot struct {
		key orderKey
		id  string
	}
	e.mu.Lock()
	var open []snapshot
	for key, bucket := range e.orders {
		for id, t := range bucket {
			if !t.order.Status.IsTerminal() {
				open = append(open, snapshot{key: key, id: id})
			}
		}
	}
	e.mu.Unlock()

	for _, s := range open {
		venue, ok := e.venues[s.key.venue]
		if !ok {
			continue
		}
		latest, err := venue.FetchOrder(ctx, s.key.symbol, s.id)
		if err != nil {
			e.log.Error("order reconciliation failed",
				zap.String("id", s.id),
				zap.String("symbol", s.key.symbol),
				zap.Error(err))
			continue
		}

		e.mu.Lock()
		t, ok := e.orders[s.key][s.id]
		if !ok {
			e.mu.Unlock()
			continue
		}
		if !latest.CheckAmountInvariant() {
			e.log.Error("order amount invariant violated, evicting",
				zap.String("id", s.id),
				zap.String("filled", latest.FilledAmount.String()),
				zap.String("remaining", latest.RemainingAmount.String()),
				zap.String("requested", latest.RequestedAmount.String()))
			delete(e.orders[s.key], s.id)
			e.mu.Unlock()
			continue
		}
		delta := latest.FilledAmount.Sub(t.lastSeenFilled)
		t.order.Status = latest.Status
		t.order.FilledAmount = latest.FilledAmount
		t.order.RemainingAmount = latest.RemainingAmount
		t.order.LastUpdatedAt = latest.LastUpdatedAt
		e.applyFillLocked(t, delta, latest)
		e.mu.Unlock()
	}

	e.prune()
}

// prune drops terminal orders and anything older than the max order age.
func (e *Executor) prune() {
	now := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	for key, bucket := range e.orders {
		for id, t := range bucket {
			if t.order.Status.IsTerminal() || now.Sub(t.order.CreatedAt) > e.maxOrderAge {
				delete(bucket, id)
			}
		}
		if len(bucket) == 0 {
			delete(e.orders, key)
		}
	}
}

// GetActiveOrders returns copies of the tracked non-terminal orders,
// optionally filtered by symbol.
func (e *Executor) GetActiveOrders(symbol string) []models.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []models.Order
	for key, bucket := range e.orders {
		if symbol != "" && key.symbol != symbol {
			continue
		}
		for _, t := range bucket {
			if !t.order.Status.IsTerminal() {
				out = append(out, *t.order)
			}
		}
	}
	return out
}

// GetExecutionStats returns a snapshot of the cumulative counters.
func (e *Executor) GetExecutionStats() models.ExecutionStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

func (e *Executor) resolveVenue(venueID string) (string, exchange.Client, error) {
	if venueID == "" {
		venueID = e.defVen
	}
	venue, ok := e.venues[venueID]
	if !ok {
		return "", nil, &models.ValidationError{Field: "venue", Reason: fmt.Sprintf("unknown venue %q", venueID)}
	}
	return venueID, venue, nil
}

func (e *Executor) countRejected() {
	e.mu.Lock()
	e.stats.OrdersRejected++
	e.mu.Unlock()
}

func (e *Executor) countFailed() {
	e.mu.Lock()
	e.stats.OrdersFailed++
	e.mu.Unlock()
}

func validate(req PlaceRequest) error {
	if req.Symbol == "" {
		return &models.ValidationError{Field: "symbol", Reason: "must not be empty"}
	}
	if req.Side != models.Buy && req.Side != models.Sell {
		return &models.ValidationError{Field: "side", Reason: fmt.Sprintf("unknown side %q", req.Side)}
	}
	if req.Type != models.Market && req.Type != models.Limit {
		return &models.ValidationError{Field: "type", Reason: fmt.Sprintf("unsupported type %q", req.Type)}
	}
	if !req.Amount.IsPositive() {
		return &models.ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if req.Type == models.Limit && (req.Price == nil || !req.Price.IsPositive()) {
		return &models.ValidationError{Field: "price", Reason: "limit orders need a positive price"}
	}
	return nil
}
