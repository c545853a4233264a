package exchange

import (
	"context"
	"errors"
	"testing"

	"github.com/quantbot/ultramm/internal/models"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func TestMarketOrderFillsImmediately(t *testing.T) {
	v := NewPaperVenue()
	v.SetQuote("BTC/USDT", dec("50000"), dec("50100"))

	o, err := v.CreateOrder(context.Background(), OrderRequest{
		Symbol: "BTC/USDT",
		Side:   models.Buy,
		Type:   models.Market,
		Amount: dec("0.5"),
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if o.Status != models.OrderFilled {
		t.Errorf("status = %s, want filled", o.Status)
	}
	if !o.FilledAmount.Equal(dec("0.5")) || !o.RemainingAmount.IsZero() {
		t.Errorf("fill accounting = %s/%s, want 0.5/0", o.FilledAmount, o.RemainingAmount)
	}
}

func TestLimitOrderRestsUntilCrossed(t *testing.T) {
	v := NewPaperVenue()
	v.SetQuote("BTC/USDT", dec("50000"), dec("50100"))

	price := dec("49900")
	o, err := v.CreateOrder(context.Background(), OrderRequest{
		Symbol: "BTC/USDT",
		Side:   models.Buy,
		Type:   models.Limit,
		Price:  &price,
		Amount: dec("1"),
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if o.Status != models.OrderOpen {
		t.Fatalf("status = %s, want open", o.Status)
	}

	// Ask drops through the limit price
	v.SetQuote("BTC/USDT", dec("49800"), dec("49850"))

	got, err := v.FetchOrder(context.Background(), "BTC/USDT", o.ID)
	if err != nil {
		t.Fatalf("FetchOrder: %v", err)
	}
	if got.Status != models.OrderFilled {
		t.Errorf("status after cross = %s, want filled", got.Status)
	}
}

func TestPartialFillAccounting(t *testing.T) {
	v := NewPaperVenue()
	v.SetQuote("BTC/USDT", dec("50000"), dec("50100"))

	price := dec("49000")
	o, _ := v.CreateOrder(context.Background(), OrderRequest{
		Symbol: "BTC/USDT",
		Side:   models.Buy,
		Type:   models.Limit,
		Price:  &price,
		Amount: dec("2"),
	})

	if !v.Fill(o.ID, dec("0.5")) {
		t.Fatal("Fill returned false for resting order")
	}
	got, _ := v.FetchOrder(context.Background(), "BTC/USDT", o.ID)
	if got.Status != models.OrderPartiallyFilled {
		t.Errorf("status = %s, want partially_filled", got.Status)
	}
	if !got.CheckAmountInvariant() {
		t.Errorf("amount invariant broken: %s + %s != %s", got.FilledAmount, got.RemainingAmount, got.RequestedAmount)
	}

	v.Fill(o.ID, dec("1.5"))
	got, _ = v.FetchOrder(context.Background(), "BTC/USDT", o.ID)
	if got.Status != models.OrderFilled {
		t.Errorf("status after full fill = %s, want filled", got.Status)
	}
}

func TestCancelIsIdempotentOnTerminalOrders(t *testing.T) {
	v := NewPaperVenue()
	v.SetQuote("X", dec("99"), dec("101"))

	o, _ := v.CreateOrder(context.Background(), OrderRequest{
		Symbol: "X", Side: models.Sell, Type: models.Market, Amount: dec("1"),
	})
	if err := v.CancelOrder(context.Background(), "X", o.ID); err != nil {
		t.Errorf("cancel of filled order errored: %v", err)
	}
	got, _ := v.FetchOrder(context.Background(), "X", o.ID)
	if got.Status != models.OrderFilled {
		t.Errorf("cancel mutated terminal order: status = %s", got.Status)
	}

	if err := v.CancelOrder(context.Background(), "X", "nope"); !errors.Is(err, models.ErrOrderNotFound) {
		t.Errorf("cancel of unknown order = %v, want ErrOrderNotFound", err)
	}
}

func TestFailNextCreates(t *testing.T) {
	v := NewPaperVenue()
	v.SetQuote("X", dec("99"), dec("101"))
	boom := errors.New("venue unavailable")
	v.FailNextCreates(2, boom)

	req := OrderRequest{Symbol: "X", Side: models.Buy, Type: models.Market, Amount: dec("1")}
	for i := 0; i < 2; i++ {
		if _, err := v.CreateOrder(context.Background(), req); !errors.Is(err, boom) {
			t.Fatalf("attempt %d: err = %v, want injected failure", i+1, err)
		}
	}
	if _, err := v.CreateOrder(context.Background(), req); err != nil {
		t.Errorf("third attempt should succeed, got %v", err)
	}
}

func TestFetchOpenOrdersFiltersTerminal(t *testing.T) {
	v := NewPaperVenue()
	v.SetQuote("X", dec("99"), dec("101"))

	price := dec("90")
	resting, _ := v.CreateOrder(context.Background(), OrderRequest{
		Symbol: "X", Side: models.Buy, Type: models.Limit, Price: &price, Amount: dec("1"),
	})
	v.CreateOrder(context.Background(), OrderRequest{
		Symbol: "X", Side: models.Buy, Type: models.Market, Amount: dec("1"),
	})

	open, err := v.FetchOpenOrders(context.Background(), "X")
	if err != nil {
		t.Fatalf("FetchOpenOrders: %v", err)
	}
	if len(open) != 1 || open[0].ID != resting.ID {
		t.Errorf("open orders = %d, want only the resting limit order", len(open))
	}
}
