package risk

import (
	"github.com/shopspring/decimal"

	"github.com/randomness11/probablyprofit/internal/domain"
)

// ExitReason explains why an open position should be closed.
type ExitReason string

const (
	ExitNone       ExitReason = ""
	ExitStopLoss   ExitReason = "stop_loss"
	ExitTakeProfit ExitReason = "take_profit"
)

// ExitConfig holds optional stop-loss and take-profit thresholds, each a
// fraction of the entry price. Zero disables the check.
type ExitConfig struct {
	StopLossPct   decimal.Decimal
	TakeProfitPct decimal.Decimal
}

// CheckExit reports whether the position's unrealized move against its
// average entry crosses a configured threshold. Pure function; the
// caller decides whether to act on the signal.
func CheckExit(cfg ExitConfig, pos domain.Position, currentPrice decimal.Decimal) ExitReason {
	if pos.IsFlat() || !pos.AvgEntryPrice.IsPositive() {
		return ExitNone
	}

	move := currentPrice.Sub(pos.AvgEntryPrice).Div(pos.AvgEntryPrice)

	if cfg.StopLossPct.IsPositive() && move.LessThanOrEqual(cfg.StopLossPct.Neg()) {
		return ExitStopLoss
	}
	if cfg.TakeProfitPct.IsPositive() && move.GreaterThanOrEqual(cfg.TakeProfitPct) {
		return ExitTakeProfit
	}
	return ExitNone
}
