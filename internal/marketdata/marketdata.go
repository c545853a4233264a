package marketdata

import (
	"math"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/quantbot/ultramm/internal/models"
)

// View is the read-only market data surface consumed by the strategies and
// the risk manager. Implementations must be safe for concurrent use.
type View interface {
	Ticker(symbol string) (*models.Ticker, bool)
	OrderBook(symbol string) (*models.OrderBook, bool)
	RecentCandles(symbol string, n int) []models.Candle
	RecentPrices(symbol string, n int) []float64

	// Volatility is the standard deviation of percent returns over the last
	// window prices. Zero when fewer than two samples exist.
	Volatility(symbol string, window int) float64
	AverageVolume(symbol string, window int) float64
	AverageSpreadPercent(symbol string, window int) float64

	// TrendIndicator compares a short moving average against a long one and
	// returns the difference as a percent of the long average. Positive means
	// an uptrend.
	TrendIndicator(symbol string, window int) float64

	// OrderBookDepth sums bid and ask amounts across the top levels.
	OrderBookDepth(symbol string, levels int) float64
}

// Recorder is the write side used by the stream client and the paper venue.
type Recorder interface {
	SetTicker(t *models.Ticker)
	SetOrderBook(b *models.OrderBook)
	AddCandle(c models.Candle)
}

const maxHistory = 2000

type history struct {
	prices  []float64
	spreads []float64
	candles []models.Candle
}

// Store is the default go-cache backed View/Recorder implementation.
// Tickers and books expire on TTL; rolling histories are kept in memory
// capped at maxHistory samples per symbol.
type Store struct {
	mu      sync.RWMutex
	tickers *gocache.Cache
	books   *gocache.Cache
	hist    map[string]*history
	ttl     time.Duration
}

// NewStore creates a market data store with the given snapshot TTL.
func NewStore(ttl time.Duration) *Store {
	return &Store{
		tickers: gocache.New(ttl, ttl*2),
		books:   gocache.New(ttl, ttl*2),
		hist:    make(map[string]*history),
		ttl:     ttl,
	}
}

// SetTicker records a ticker snapshot and appends its mid price and quoted
// spread to the rolling histories.
func (s *Store) SetTicker(t *models.Ticker) {
	s.tickers.Set(t.Symbol, t, s.ttl)

	mid := t.Mid()
	if mid.IsZero() {
		return
	}
	s.mu.Lock()
	h := s.historyLocked(t.Symbol)
	h.prices = appendCapped(h.prices, mid.InexactFloat64())
	h.spreads = appendCapped(h.spreads, t.SpreadPercent())
	s.mu.Unlock()
}

// SetOrderBook records an order book snapshot.
func (s *Store) SetOrderBook(b *models.OrderBook) {
	s.books.Set(b.Symbol, b, s.ttl)
}

// AddCandle appends a candle to the symbol's rolling history.
func (s *Store) AddCandle(c models.Candle) {
	s.mu.Lock()
	h := s.historyLocked(c.Symbol)
	h.candles = append(h.candles, c)
	if len(h.candles) > maxHistory {
		h.candles = h.candles[len(h.candles)-maxHistory:]
	}
	s.mu.Unlock()
}

func (s *Store) historyLocked(symbol string) *history {
	h, ok := s.hist[symbol]
	if !ok {
		h = &history{}
		s.hist[symbol] = h
	}
	return h
}

// Ticker returns the latest non-expired ticker for symbol.
func (s *Store) Ticker(symbol string) (*models.Ticker, bool) {
	if val, found := s.tickers.Get(symbol); found {
		if t, ok := val.(*models.Ticker); ok {
			return t, true
		}
	}
	return nil, false
}

// OrderBook returns the latest non-expired book for symbol.
func (s *Store) OrderBook(symbol string) (*models.OrderBook, bool) {
	if val, found := s.books.Get(symbol); found {
		if b, ok := val.(*models.OrderBook); ok {
			return b, true
		}
	}
	return nil, false
}

// RecentCandles returns up to n most recent candles, oldest first.
func (s *Store) RecentCandles(symbol string, n int) []models.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.hist[symbol]
	if !ok {
		return nil
	}
	return tailCandles(h.candles, n)
}

// RecentPrices returns up to n most recent mid prices, oldest first.
func (s *Store) RecentPrices(symbol string, n int) []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.hist[symbol]
	if !ok {
		return nil
	}
	return tailFloats(h.prices, n)
}

// Volatility returns the stddev of percent returns over the window.
func (s *Store) Volatility(symbol string, window int) float64 {
	prices := s.RecentPrices(symbol, window)
	returns := percentReturns(prices)
	if len(returns) == 0 {
		return 0
	}
	return stddev(returns)
}

// AverageVolume returns the mean candle volume over the window.
func (s *Store) AverageVolume(symbol string, window int) float64 {
	candles := s.RecentCandles(symbol, window)
	if len(candles) == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range candles {
		sum += c.Volume.InexactFloat64()
	}
	return sum / float64(len(candles))
}

// AverageSpreadPercent returns the mean quoted spread over the window.
func (s *Store) AverageSpreadPercent(symbol string, window int) float64 {
	s.mu.RLock()
	spreads := tailFloats(s.spreadsLocked(symbol), window)
	s.mu.RUnlock()
	if len(spreads) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range spreads {
		sum += v
	}
	return sum / float64(len(spreads))
}

func (s *Store) spreadsLocked(symbol string) []float64 {
	h, ok := s.hist[symbol]
	if !ok {
		return nil
	}
	return h.spreads
}

// TrendIndicator compares the short MA (window/3, min 2) against the window MA.
func (s *Store) TrendIndicator(symbol string, window int) float64 {
	prices := s.RecentPrices(symbol, window)
	if len(prices) < 2 {
		return 0
	}
	short := window / 3
	if short < 2 {
		short = 2
	}
	if short > len(prices) {
		short = len(prices)
	}
	longMA := mean(prices)
	shortMA := mean(prices[len(prices)-short:])
	if longMA == 0 {
		return 0
	}
	return (shortMA - longMA) / longMA * 100
}

// OrderBookDepth sums amounts across the top levels on both sides.
func (s *Store) OrderBookDepth(symbol string, levels int) float64 {
	book, ok := s.OrderBook(symbol)
	if !ok {
		return 0
	}
	depth := 0.0
	for i, lvl := range book.Bids {
		if i >= levels {
			break
		}
		depth += lvl.Amount.InexactFloat64()
	}
	for i, lvl := range book.Asks {
		if i >= levels {
			break
		}
		depth += lvl.Amount.InexactFloat64()
	}
	return depth
}

func appendCapped(s []float64, v float64) []float64 {
	s = append(s, v)
	if len(s) > maxHistory {
		s = s[len(s)-maxHistory:]
	}
	return s
}

func tailFloats(s []float64, n int) []float64 {
	if n <= 0 || len(s) == 0 {
		return nil
	}
	if n > len(s) {
		n = len(s)
	}
	out := make([]float64, n)
	copy(out, s[len(s)-n:])
	return out
}

func tailCandles(s []models.Candle, n int) []models.Candle {
	if n <= 0 || len(s) == 0 {
		return nil
	}
	if n > len(s) {
		n = len(s)
	}
	out := make([]models.Candle, n)
	copy(out, s[len(s)-n:])
	return out
}

func percentReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			continue
		}
		returns = append(returns, (prices[i]-prices[i-1])/prices[i-1]*100)
	}
	return returns
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	sum := 0.0
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)))
}
