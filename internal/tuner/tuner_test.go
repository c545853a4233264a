package tuner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quantbot/ultramm/internal/config"
	"github.com/quantbot/ultramm/internal/strategy"
	"go.uber.org/zap"
)

type fakeController struct {
	proposals map[string]any
	err       error
	polls     int
}

func (f *fakeController) Poll(context.Context) (map[string]any, error) {
	f.polls++
	return f.proposals, f.err
}

func TestPollerAppliesProposal(t *testing.T) {
	store := strategy.NewParamStore(config.MarketMakingParams{
		Symbol: "BTC/USDT", SpreadBidPercent: 0.1,
	})

	next := config.MarketMakingParams{Symbol: "BTC/USDT", SpreadBidPercent: 0.3}
	ctrl := &fakeController{proposals: map[string]any{"mm1": next}}

	p := NewPoller(ctrl, time.Minute, zap.NewNop())
	p.Register("mm1", Bind(store))
	p.ApplyOnce(context.Background())

	if got := store.Load().SpreadBidPercent; got != 0.3 {
		t.Errorf("spread after apply = %v, want 0.3", got)
	}
	if p.AppliedCount() != 1 {
		t.Errorf("applied count = %d, want 1", p.AppliedCount())
	}
}

func TestPollerRejectsWrongType(t *testing.T) {
	store := strategy.NewParamStore(config.MarketMakingParams{SpreadBidPercent: 0.1})
	ctrl := &fakeController{proposals: map[string]any{
		"mm1": config.StatArbParams{EntryThreshold: 9},
	}}

	p := NewPoller(ctrl, time.Minute, zap.NewNop())
	p.Register("mm1", Bind(store))
	p.ApplyOnce(context.Background())

	if got := store.Load().SpreadBidPercent; got != 0.1 {
		t.Errorf("store changed by mistyped proposal: %v", got)
	}
	if p.AppliedCount() != 0 {
		t.Errorf("applied count = %d, want 0", p.AppliedCount())
	}
}

func TestPollerIgnoresUnknownStrategy(t *testing.T) {
	ctrl := &fakeController{proposals: map[string]any{
		"ghost": config.MarketMakingParams{},
	}}
	p := NewPoller(ctrl, time.Minute, zap.NewNop())
	p.ApplyOnce(context.Background())
	if p.AppliedCount() != 0 {
		t.Errorf("applied count = %d, want 0", p.AppliedCount())
	}
}

func TestPollerSurvivesControllerError(t *testing.T) {
	ctrl := &fakeController{err: errors.New("backend down")}
	p := NewPoller(ctrl, time.Minute, zap.NewNop())
	p.ApplyOnce(context.Background())
	if p.AppliedCount() != 0 {
		t.Errorf("applied count = %d, want 0", p.AppliedCount())
	}
}

func TestPollerStartStop(t *testing.T) {
	store := strategy.NewParamStore(config.MarketMakingParams{SpreadBidPercent: 0.1})
	next := config.MarketMakingParams{SpreadBidPercent: 0.5}
	ctrl := &fakeController{proposals: map[string]any{"mm1": next}}

	p := NewPoller(ctrl, 5*time.Millisecond, zap.NewNop())
	p.Register("mm1", Bind(store))
	p.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	p.Stop()

	if got := store.Load().SpreadBidPercent; got != 0.5 {
		t.Errorf("spread after polling = %v, want 0.5", got)
	}
}

const strategiesYAML = `strategies:
  - name: mm_btc
    type: market_making
    enabled: true
    market_making:
      symbol: BTC/USDT
      spread_bid_percent: 0.42
`

func TestFileControllerProposesOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	if err := os.WriteFile(path, []byte(strategiesYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	c := NewFileController(path)
	proposals, err := c.Poll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	raw, ok := proposals["mm_btc"]
	if !ok {
		t.Fatalf("proposals = %v, want mm_btc", proposals)
	}
	params, ok := raw.(config.MarketMakingParams)
	if !ok {
		t.Fatalf("proposal type = %T", raw)
	}
	if params.SpreadBidPercent != 0.42 {
		t.Errorf("spread = %v, want 0.42 from file", params.SpreadBidPercent)
	}

	// Unchanged file proposes nothing
	proposals, err = c.Poll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(proposals) != 0 {
		t.Errorf("second poll proposed %v for an unchanged file", proposals)
	}
}
