package storage

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/randomness11/probablyprofit/internal/domain"
)

// FillApplier consumes replayed fills; satisfied by *risk.Manager.
type FillApplier interface {
	OnFill(key domain.PositionKey, side domain.Side, size, price decimal.Decimal)
}

// ReplayFills streams the journal's fill log in write order into the
// applier, rebuilding position and P&L state after a restart. Returns
// the number of fills replayed.
//
// Replay is deterministic: rows come back in insertion order, so a
// rebuilt risk manager lands on the same positions the live run held.
func (j *Journal) ReplayFills(ctx context.Context, apply FillApplier) (int, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT market_id, outcome, side, size, price FROM fills ORDER BY rowid ASC`)
	if err != nil {
		return 0, fmt.Errorf("failed to query fill log: %w", err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var marketID, outcome, side, sizeStr, priceStr string
		if err := rows.Scan(&marketID, &outcome, &side, &sizeStr, &priceStr); err != nil {
			return n, err
		}

		size, err := decimal.NewFromString(sizeStr)
		if err != nil {
			return n, fmt.Errorf("corrupt fill size %q: %w", sizeStr, err)
		}
		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			return n, fmt.Errorf("corrupt fill price %q: %w", priceStr, err)
		}

		apply.OnFill(
			domain.PositionKey{MarketID: marketID, Outcome: outcome},
			domain.Side(side), size, price,
		)
		n++

		if err := ctx.Err(); err != nil {
			return n, err
		}
	}
	return n, rows.Err()
}
