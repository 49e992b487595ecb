package risk

import (
	"github.com/shopspring/decimal"

	"github.com/randomness11/probablyprofit/internal/domain"
)

// SizingMode selects how a decision's requested size is translated into
// an order size.
type SizingMode string

const (
	SizingFixed           SizingMode = "fixed"
	SizingFixedPct        SizingMode = "fixed_pct"
	SizingKelly           SizingMode = "kelly"
	SizingConfidenceBased SizingMode = "confidence_based"
)

// SizingConfig holds the parameters for the configured sizing mode.
type SizingConfig struct {
	Mode             SizingMode
	FixedPct         decimal.Decimal // fraction of capital, fixed_pct mode
	KellyFractionCap decimal.Decimal // clamp on f*, kelly mode
	MinSize          decimal.Decimal // confidence_based interpolation floor
	MaxSize          decimal.Decimal // confidence_based interpolation ceiling
}

// candidateSize computes the pre-clamp order size for a decision given
// current capital. A zero result means the sizing mode declined the
// trade (e.g. non-positive Kelly edge).
func candidateSize(cfg SizingConfig, d domain.Decision, capital decimal.Decimal) decimal.Decimal {
	switch cfg.Mode {
	case SizingFixed:
		return d.Size

	case SizingFixedPct:
		return capital.Mul(cfg.FixedPct)

	case SizingKelly:
		return kellySize(cfg, d, capital)

	case SizingConfidenceBased:
		// Linear interpolation between min and max by confidence.
		span := cfg.MaxSize.Sub(cfg.MinSize)
		return cfg.MinSize.Add(span.Mul(d.Confidence))

	default:
		return d.Size
	}
}

// kellySize applies the Kelly criterion: f* = edge / odds, clamped to
// [0, cap], sized against current capital.
//
// For a buy, edge is confidence minus price: confidence states the
// probability the traded outcome resolves true. For a sell the edge is
// symmetric (price minus confidence).
func kellySize(cfg SizingConfig, d domain.Decision, capital decimal.Decimal) decimal.Decimal {
	price := d.Price
	if !price.IsPositive() || price.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero
	}

	edge := d.Confidence.Sub(price)
	if d.Action == domain.ActionSell {
		edge = price.Sub(d.Confidence)
	}
	if !edge.IsPositive() {
		return decimal.Zero
	}

	// Net odds on a binary contract: win (1-price) per price staked.
	odds := decimal.NewFromInt(1).Sub(price).Div(price)
	if !odds.IsPositive() {
		return decimal.Zero
	}

	f := edge.Div(odds)
	if f.GreaterThan(cfg.KellyFractionCap) {
		f = cfg.KellyFractionCap
	}
	if !f.IsPositive() {
		return decimal.Zero
	}

	return capital.Mul(f)
}
