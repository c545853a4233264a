// Package stream feeds the market-data store from a venue websocket.
// The message schema is venue-neutral JSON; the core only ever consumes
// the marketdata view, so swapping the feed never touches the strategies.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/quantbot/ultramm/internal/config"
	"github.com/quantbot/ultramm/internal/marketdata"
	"github.com/quantbot/ultramm/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Handler is a callback for decoded stream messages.
type Handler func(message interface{})

// Client manages the websocket connection for real-time market data and
// writes everything it decodes into the recorder.
type Client struct {
	cfg      *config.Config
	recorder marketdata.Recorder
	logger   *zap.Logger

	conn                  *websocket.Conn
	mu                    sync.RWMutex
	subscriptions         map[string]bool
	handlers              map[string]Handler
	reconnectDelay        time.Duration
	ctx                   context.Context
	cancel                context.CancelFunc
	isConnected           bool
	connectionAttempts    int
	maxConnectionAttempts int
}

type messageEnvelope struct {
	Type string `json:"type"`
}

type tickerMessage struct {
	Type      string          `json:"type"`
	Symbol    string          `json:"symbol"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Last      decimal.Decimal `json:"last"`
	Timestamp time.Time       `json:"ts"`
}

type bookLevel struct {
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
}

type bookMessage struct {
	Type      string      `json:"type"`
	Symbol    string      `json:"symbol"`
	Bids      []bookLevel `json:"bids"`
	Asks      []bookLevel `json:"asks"`
	Timestamp time.Time   `json:"ts"`
}

type candleMessage struct {
	Type      string          `json:"type"`
	Symbol    string          `json:"symbol"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	Timestamp time.Time       `json:"ts"`
}

type errorMessage struct {
	Type string `json:"type"`
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// NewClient creates a streaming client writing into the recorder.
func NewClient(cfg *config.Config, recorder marketdata.Recorder, logger *zap.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:                   cfg,
		recorder:              recorder,
		logger:                logger.With(zap.String("component", "stream")),
		subscriptions:         make(map[string]bool),
		handlers:              make(map[string]Handler),
		reconnectDelay:        cfg.WebsocketReconnectDelay,
		ctx:                   ctx,
		cancel:                cancel,
		maxConnectionAttempts: 5,
	}
}

// Connect establishes the websocket connection and resubscribes any staged
// symbols.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		c.isConnected = false
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(c.cfg.StreamURL, nil)
	if err != nil {
		c.connectionAttempts++
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.conn = conn
	c.isConnected = true
	c.connectionAttempts = 0

	if len(c.subscriptions) > 0 {
		symbols := make([]string, 0, len(c.subscriptions))
		for symbol := range c.subscriptions {
			symbols = append(symbols, symbol)
		}
		if err := c.subscribeSymbols(symbols); err != nil {
			c.conn.Close()
			c.conn = nil
			c.isConnected = false
			return fmt.Errorf("resubscribe: %w", err)
		}
	}

	go c.handleMessages()

	c.logger.Info("websocket connected", zap.String("url", c.cfg.StreamURL))
	return nil
}

// Subscribe adds symbols to the stream. When the connection is down the
// subscriptions are staged and sent on the next successful connect.
func (c *Client) Subscribe(symbols []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, symbol := range symbols {
		c.subscriptions[symbol] = true
	}

	if c.isConnected {
		return c.subscribeSymbols(symbols)
	}
	c.logger.Info("staged subscriptions", zap.Strings("symbols", symbols))
	return nil
}

func (c *Client) subscribeSymbols(symbols []string) error {
	msg := struct {
		Op       string   `json:"op"`
		Channels []string `json:"channels"`
		Symbols  []string `json:"symbols"`
	}{
		Op:       "subscribe",
		Channels: []string{"ticker", "book", "candles"},
		Symbols:  symbols,
	}
	c.logger.Info("subscribing", zap.Strings("symbols", symbols))
	return c.conn.WriteJSON(msg)
}

// Unsubscribe removes symbols from the stream.
func (c *Client) Unsubscribe(symbols []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, symbol := range symbols {
		delete(c.subscriptions, symbol)
	}

	if c.isConnected {
		msg := struct {
			Op       string   `json:"op"`
			Channels []string `json:"channels"`
			Symbols  []string `json:"symbols"`
		}{
			Op:       "unsubscribe",
			Channels: []string{"ticker", "book", "candles"},
			Symbols:  symbols,
		}
		return c.conn.WriteJSON(msg)
	}
	return nil
}

// RegisterHandler registers a callback for a message type ("ticker",
// "book", "candle", "error"). The recorder is always updated first.
func (c *Client) RegisterHandler(msgType string, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[msgType] = handler
}

func (c *Client) handleMessages() {
	defer func() {
		c.mu.Lock()
		c.isConnected = false
		c.mu.Unlock()

		if c.connectionAttempts < c.maxConnectionAttempts {
			c.reconnect()
		} else {
			c.logger.Error("max connection attempts reached, giving up")
		}
	}()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))

			var raw json.RawMessage
			if err := c.conn.ReadJSON(&raw); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					c.logger.Error("websocket read error", zap.Error(err))
				}
				return
			}
			c.processMessage(raw)
		}
	}
}

func (c *Client) processMessage(raw json.RawMessage) {
	var env messageEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.logger.Error("failed to parse message envelope", zap.Error(err))
		return
	}

	switch env.Type {
	case "ticker":
		var tm tickerMessage
		if err := json.Unmarshal(raw, &tm); err != nil {
			c.logger.Error("failed to parse ticker message", zap.Error(err))
			return
		}
		ticker := &models.Ticker{
			Symbol:    tm.Symbol,
			Venue:     c.cfg.Venue,
			Bid:       tm.Bid,
			Ask:       tm.Ask,
			Last:      tm.Last,
			Timestamp: tm.Timestamp,
		}
		c.recorder.SetTicker(ticker)
		c.dispatch("ticker", ticker)

	case "book":
		var bm bookMessage
		if err := json.Unmarshal(raw, &bm); err != nil {
			c.logger.Error("failed to parse book message", zap.Error(err))
			return
		}
		book := &models.OrderBook{
			Symbol:    bm.Symbol,
			Venue:     c.cfg.Venue,
			Bids:      convertLevels(bm.Bids),
			Asks:      convertLevels(bm.Asks),
			Timestamp: bm.Timestamp,
		}
		c.recorder.SetOrderBook(book)
		c.dispatch("book", book)

	case "candle":
		var cm candleMessage
		if err := json.Unmarshal(raw, &cm); err != nil {
			c.logger.Error("failed to parse candle message", zap.Error(err))
			return
		}
		candle := models.Candle{
			Symbol:    cm.Symbol,
			Open:      cm.Open,
			High:      cm.High,
			Low:       cm.Low,
			Close:     cm.Close,
			Volume:    cm.Volume,
			Timestamp: cm.Timestamp,
		}
		c.recorder.AddCandle(candle)
		c.dispatch("candle", candle)

	case "subscribed":
		c.logger.Info("subscription acknowledged")

	case "error":
		var em errorMessage
		if err := json.Unmarshal(raw, &em); err != nil {
			c.logger.Error("failed to parse error message", zap.Error(err))
			return
		}
		c.logger.Error("stream error", zap.Int("code", em.Code), zap.String("message", em.Msg))
		c.dispatch("error", em)
	}
}

func (c *Client) dispatch(msgType string, message interface{}) {
	c.mu.RLock()
	handler, ok := c.handlers[msgType]
	c.mu.RUnlock()
	if ok {
		handler(message)
	}
}

func convertLevels(levels []bookLevel) []models.PriceLevel {
	out := make([]models.PriceLevel, len(levels))
	for i, l := range levels {
		out[i] = models.PriceLevel{Price: l.Price, Amount: l.Amount}
	}
	return out
}

// reconnect retries the connection with exponential backoff.
func (c *Client) reconnect() {
	backoff := c.reconnectDelay
	maxBackoff := 60 * time.Second

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(backoff):
			if c.connectionAttempts >= c.maxConnectionAttempts {
				c.logger.Error("max connection attempts reached",
					zap.Int("attempts", c.connectionAttempts))
				return
			}

			c.logger.Info("attempting to reconnect",
				zap.Duration("backoff", backoff),
				zap.Int("attempt", c.connectionAttempts+1))

			if err := c.Connect(); err != nil {
				c.logger.Error("reconnect failed", zap.Error(err))
				backoff = backoff * 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			} else {
				return
			}
		}
	}
}

// Close shuts the stream down.
func (c *Client) Close() error {
	c.cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		err := c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		if err != nil {
			c.logger.Error("error sending close message", zap.Error(err))
		}
		closeErr := c.conn.Close()
		c.conn = nil
		c.isConnected = false
		return closeErr
	}
	return nil
}

// IsConnected reports the connection status.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}
