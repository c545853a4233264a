package strategy

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/quantbot/ultramm/internal/config"
	"github.com/quantbot/ultramm/internal/executor"
	"github.com/quantbot/ultramm/internal/marketdata"
	"github.com/quantbot/ultramm/internal/models"
	"github.com/quantbot/ultramm/internal/risk"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// refreshThresholdPercent is the price movement beyond which the resting
// ladder is torn down and requoted.
const refreshThresholdPercent = 0.1

// ownOrder is one resting quote this strategy placed.
type ownOrder struct {
	id    string
	price decimal.Decimal
}

// MarketMaker quotes a symmetric ladder of limit orders around the mid
// price. Spreads widen progressively for levels further from the mid.
type MarketMaker struct {
	id     string
	symbol string
	log    *zap.Logger

	md   marketdata.View
	exec *executor.Executor
	rm   *risk.Manager

	Params *ParamStore[config.MarketMakingParams]

	mu        sync.Mutex
	bids      []ownOrder
	asks      []ownOrder
	lastCycle time.Time
	scale     float64
}

// NewMarketMaker creates a market making strategy for one symbol.
func NewMarketMaker(id string, p config.MarketMakingParams, md marketdata.View, exec *executor.Executor, rm *risk.Manager, log *zap.Logger) *MarketMaker {
	return &MarketMaker{
		id:     id,
		symbol: p.Symbol,
		log:    log.With(zap.String("component", "market_making"), zap.String("strategy", id)),
		md:     md,
		exec:   exec,
		rm:     rm,
		Params: NewParamStore(p),
		scale:  1.0,
	}
}

func (s *MarketMaker) ID() string   { return s.id }
func (s *MarketMaker) Type() string { return config.TypeMarketMaking }

func (s *MarketMaker) RefreshInterval() time.Duration {
	return s.Params.Load().RefreshInterval
}

// SetScale adjusts order sizes by a portfolio weight factor.
func (s *MarketMaker) SetScale(factor float64) {
	s.mu.Lock()
	s.scale = factor
	s.mu.Unlock()
}

// Update runs one quoting cycle with the current parameter set.
func (s *MarketMaker) Update(ctx context.Context) {
	s.runCycle(ctx, s.Params.Load())
}

// runCycle executes one quoting pass with an explicit parameter set. The
// adaptive variant calls it with per-cycle adjusted parameters.
func (s *MarketMaker) runCycle(ctx context.Context, p config.MarketMakingParams) {
	s.mu.Lock()
	s.lastCycle = time.Now()
	scale := s.scale
	s.mu.Unlock()

	if s.rm.DetectMarketManipulation(s.symbol) {
		s.log.Warn("market manipulation suspected, pulling quotes", zap.String("symbol", s.symbol))
		s.cancelSide(ctx, models.Buy)
		s.cancelSide(ctx, models.Sell)
		return
	}

	ticker, ok := s.md.Ticker(s.symbol)
	if !ok {
		s.log.Warn("no market data", zap.String("symbol", s.symbol))
		return
	}
	mid := ticker.Mid()
	if mid.IsZero() {
		return
	}

	bids, asks := LadderPrices(mid, p.SpreadBidPercent, p.SpreadAskPercent, p.OrderCount)

	// At the position cap, pull and suppress the side that would grow it.
	quoteBuy, quoteSell := true, true
	pos := s.rm.Position(s.symbol)
	maxPos := decimal.NewFromFloat(p.MaxPosition)
	if pos.Quantity.Abs().GreaterThanOrEqual(maxPos) {
		s.log.Warn("position cap reached",
			zap.String("symbol", s.symbol),
			zap.String("position", pos.Quantity.String()))
		if pos.Quantity.IsPositive() {
			s.cancelSide(ctx, models.Buy)
			quoteBuy = false
		} else {
			s.cancelSide(ctx, models.Sell)
			quoteSell = false
		}
	}

	if !s.shouldRefresh(bids, asks) {
		return
	}
	s.cancelSide(ctx, models.Buy)
	s.cancelSide(ctx, models.Sell)

	amount := decimal.NewFromFloat(p.OrderAmount * scale)
	if quoteBuy {
		s.placeSide(ctx, models.Buy, bids, amount)
	}
	if quoteSell {
		s.placeSide(ctx, models.Sell, asks, amount)
	}
}

// LadderPrices computes the quote ladder around mid. Level i widens the
// configured spread by (1 + i*0.5).
func LadderPrices(mid decimal.Decimal, spreadBidPercent, spreadAskPercent float64, count int) (bids, asks []decimal.Decimal) {
	one := decimal.NewFromInt(1)
	hundred := decimal.NewFromInt(100)
	for i := 0; i < count; i++ {
		factor := 1 + float64(i)*0.5
		bidSpread := decimal.NewFromFloat(spreadBidPercent * factor).Div(hundred)
		askSpread := decimal.NewFromFloat(spreadAskPercent * factor).Div(hundred)
		bids = append(bids, mid.Mul(one.Sub(bidSpread)))
		asks = append(asks, mid.Mul(one.Add(askSpread)))
	}
	return bids, asks
}

// shouldRefresh reports whether the resting ladder has drifted from the
// newly computed one: missing orders, a different level count, or any level
// moved more than the refresh threshold.
func (s *MarketMaker) shouldRefresh(bids, asks []decimal.Decimal) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.bids) == 0 && len(s.asks) == 0 {
		return true
	}
	if len(s.bids) != len(bids) || len(s.asks) != len(asks) {
		return true
	}
	return ladderMoved(s.bids, bids) || ladderMoved(s.asks, asks)
}

func ladderMoved(old []ownOrder, next []decimal.Decimal) bool {
	for i, o := range old {
		if i >= len(next) {
			break
		}
		oldPrice := o.price.InexactFloat64()
		if oldPrice == 0 {
			return true
		}
		diff := math.Abs(oldPrice-next[i].InexactFloat64()) / oldPrice * 100
		if diff > refreshThresholdPercent {
			return true
		}
	}
	return false
}

// placeSide submits one side of the ladder. A risk rejection stops the rest
// of that side; other failures skip the level.
func (s *MarketMaker) placeSide(ctx context.Context, side models.OrderSide, prices []decimal.Decimal, amount decimal.Decimal) {
	for _, price := range prices {
		price := price
		order, err := s.exec.PlaceOrder(ctx, executor.PlaceRequest{
			Symbol: s.symbol,
			Side:   side,
			Type:   models.Limit,
			Price:  &price,
			Amount: amount,
		})
		if err != nil {
			if errors.Is(err, models.ErrRiskRejected) {
				s.log.Warn("ladder truncated by risk limit",
					zap.String("symbol", s.symbol),
					zap.String("side", string(side)))
				break
			}
			s.log.Error("quote placement failed",
				zap.String("symbol", s.symbol),
				zap.String("side", string(side)),
				zap.Error(err))
			continue
		}
		s.mu.Lock()
		if side == models.Buy {
			s.bids = append(s.bids, ownOrder{id: order.ID, price: price})
		} else {
			s.asks = append(s.asks, ownOrder{id: order.ID, price: price})
		}
		s.mu.Unlock()
	}
}

// cancelSide cancels this strategy's resting orders on one side.
func (s *MarketMaker) cancelSide(ctx context.Context, side models.OrderSide) {
	s.mu.Lock()
	var own []ownOrder
	if side == models.Buy {
		own, s.bids = s.bids, nil
	} else {
		own, s.asks = s.asks, nil
	}
	s.mu.Unlock()

	for _, o := range own {
		if err := s.exec.CancelOrder(ctx, s.symbol, o.id, ""); err != nil {
			s.log.Error("cancel failed", zap.String("id", o.id), zap.Error(err))
		}
	}
}

func (s *MarketMaker) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.Params.Load()
	return Status{
		ID:           s.id,
		Type:         s.Type(),
		Symbols:      []string{s.symbol},
		ActiveOrders: len(s.bids) + len(s.asks),
		LastCycle:    s.lastCycle,
		Metrics: map[string]float64{
			"spread_bid_percent": p.SpreadBidPercent,
			"spread_ask_percent": p.SpreadAskPercent,
			"order_amount":       p.OrderAmount * s.scale,
		},
	}
}
