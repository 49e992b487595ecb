package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Action is what the strategy layer wants done with a market outcome.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Decision is a proposed trade emitted by the strategy layer.
// The core validates, sizes and executes it; it never produces one.
type Decision struct {
	Action     Action
	MarketID   string
	Outcome    string          // e.g. "YES" / "NO"
	Size       decimal.Decimal // requested notional in USD
	Price      decimal.Decimal // limit price in [0,1]
	Confidence decimal.Decimal // stated confidence in [0,1]
	Reasoning  string
}

// Validate checks the decision's fields against the contract bounds.
func (d Decision) Validate() error {
	switch d.Action {
	case ActionBuy, ActionSell, ActionHold:
	default:
		return fmt.Errorf("invalid action %q", d.Action)
	}
	if d.MarketID == "" {
		return fmt.Errorf("missing market id")
	}
	if d.Price.IsNegative() || d.Price.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("price %s out of [0,1]", d.Price)
	}
	if d.Confidence.IsNegative() || d.Confidence.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("confidence %s out of [0,1]", d.Confidence)
	}
	if d.Size.IsNegative() {
		return fmt.Errorf("negative size %s", d.Size)
	}
	return nil
}

// PositionKey identifies a position by market and outcome.
type PositionKey struct {
	MarketID string
	Outcome  string
}

func (k PositionKey) String() string {
	return k.MarketID + ":" + k.Outcome
}
