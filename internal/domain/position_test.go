package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestPosition_ApplyFill_VolumeWeightedEntry(t *testing.T) {
	p := &Position{MarketID: "mkt-1", Outcome: "YES"}

	p.ApplyFill(SideBuy, decimal.NewFromInt(100), decimal.NewFromFloat(0.40))
	p.ApplyFill(SideBuy, decimal.NewFromInt(50), decimal.NewFromFloat(0.55))

	if !p.Size.Equal(decimal.NewFromInt(150)) {
		t.Errorf("size = %s, want 150", p.Size)
	}
	// (100*0.40 + 50*0.55) / 150 = 0.45
	want := decimal.NewFromFloat(0.45)
	if !p.AvgEntryPrice.Equal(want) {
		t.Errorf("avg entry = %s, want %s", p.AvgEntryPrice, want)
	}
}

func TestPosition_ApplyFill_RealizesPnLOnReduction(t *testing.T) {
	p := &Position{MarketID: "mkt-1", Outcome: "YES"}
	p.ApplyFill(SideBuy, decimal.NewFromInt(100), decimal.NewFromFloat(0.50))

	// Sell half the notional at 0.60: shares = 50/0.50 = 100,
	// pnl = 100 * (0.60-0.50) = 10.
	pnl := p.ApplyFill(SideSell, decimal.NewFromInt(50), decimal.NewFromFloat(0.60))
	if !pnl.Equal(decimal.NewFromInt(10)) {
		t.Errorf("realized = %s, want 10", pnl)
	}
	if !p.Size.Equal(decimal.NewFromInt(50)) {
		t.Errorf("size = %s, want 50", p.Size)
	}
	if !p.RealizedPnL.Equal(decimal.NewFromInt(10)) {
		t.Errorf("cumulative realized = %s, want 10", p.RealizedPnL)
	}
}

func TestPosition_ApplyFill_ReductionCappedAtOpenSize(t *testing.T) {
	p := &Position{MarketID: "mkt-1", Outcome: "YES"}
	p.ApplyFill(SideBuy, decimal.NewFromInt(50), decimal.NewFromFloat(0.50))

	p.ApplyFill(SideSell, decimal.NewFromInt(80), decimal.NewFromFloat(0.50))
	if !p.IsFlat() {
		t.Errorf("size = %s, want flat", p.Size)
	}
	if p.Size.IsNegative() {
		t.Error("position went short; reductions must cap at open size")
	}
}

func TestPosition_UnrealizedPnL(t *testing.T) {
	p := &Position{MarketID: "mkt-1", Outcome: "YES"}
	p.ApplyFill(SideBuy, decimal.NewFromInt(100), decimal.NewFromFloat(0.50))

	// shares = 100/0.50 = 200; at 0.55 unrealized = 200*0.05 = 10.
	got := p.UnrealizedPnL(decimal.NewFromFloat(0.55))
	if !got.Equal(decimal.NewFromInt(10)) {
		t.Errorf("unrealized = %s, want 10", got)
	}

	flat := &Position{}
	if !flat.UnrealizedPnL(decimal.NewFromFloat(0.9)).IsZero() {
		t.Error("flat position must have zero unrealized pnl")
	}
}

func TestDecision_Validate(t *testing.T) {
	valid := Decision{
		Action:     ActionBuy,
		MarketID:   "mkt-1",
		Outcome:    "YES",
		Size:       decimal.NewFromInt(100),
		Price:      decimal.NewFromFloat(0.55),
		Confidence: decimal.NewFromFloat(0.7),
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid decision rejected: %v", err)
	}

	bad := valid
	bad.Price = decimal.NewFromFloat(1.2)
	if err := bad.Validate(); err == nil {
		t.Error("price above 1 accepted")
	}

	bad = valid
	bad.Confidence = decimal.NewFromFloat(-0.1)
	if err := bad.Validate(); err == nil {
		t.Error("negative confidence accepted")
	}

	bad = valid
	bad.Action = Action("SHORT")
	if err := bad.Validate(); err == nil {
		t.Error("unknown action accepted")
	}

	bad = valid
	bad.MarketID = ""
	if err := bad.Validate(); err == nil {
		t.Error("missing market id accepted")
	}
}
