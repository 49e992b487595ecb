package domain

import "github.com/shopspring/decimal"

// Position is the net holding for one (market, outcome) pair.
// Size is the notional in USD; AvgEntryPrice is volume-weighted.
type Position struct {
	MarketID      string
	Outcome       string
	Size          decimal.Decimal
	AvgEntryPrice decimal.Decimal
	RealizedPnL   decimal.Decimal
}

// Key returns the map key for this position.
func (p *Position) Key() PositionKey {
	return PositionKey{MarketID: p.MarketID, Outcome: p.Outcome}
}

// IsFlat reports whether the position has no remaining size.
func (p *Position) IsFlat() bool {
	return p.Size.IsZero()
}

// ApplyFill updates size and volume-weighted entry price for an increase,
// or realizes P&L for a reduction. Returns the P&L realized by this fill
// (zero on increases). Reductions are capped at the open size; the venue
// cannot fill more than was held.
func (p *Position) ApplyFill(side Side, size, price decimal.Decimal) decimal.Decimal {
	if side == SideBuy {
		newSize := p.Size.Add(size)
		if newSize.IsPositive() {
			// avg = (oldSize*oldAvg + size*price) / newSize
			weighted := p.Size.Mul(p.AvgEntryPrice).Add(size.Mul(price))
			p.AvgEntryPrice = weighted.Div(newSize)
		}
		p.Size = newSize
		return decimal.Zero
	}

	reduce := size
	if reduce.GreaterThan(p.Size) {
		reduce = p.Size
	}
	// Size is notional at entry; shares = notional / entry price.
	pnl := decimal.Zero
	if p.AvgEntryPrice.IsPositive() {
		shares := reduce.Div(p.AvgEntryPrice)
		pnl = shares.Mul(price.Sub(p.AvgEntryPrice))
	}
	p.Size = p.Size.Sub(reduce)
	p.RealizedPnL = p.RealizedPnL.Add(pnl)
	return pnl
}

// UnrealizedPnL derives open P&L from the current market price.
// Not stored; computed at read time.
func (p *Position) UnrealizedPnL(currentPrice decimal.Decimal) decimal.Decimal {
	if p.IsFlat() || !p.AvgEntryPrice.IsPositive() {
		return decimal.Zero
	}
	shares := p.Size.Div(p.AvgEntryPrice)
	return shares.Mul(currentPrice.Sub(p.AvgEntryPrice))
}
