package risk

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/randomness11/probablyprofit/internal/domain"
	"github.com/randomness11/probablyprofit/internal/event"
)

// Reason is a machine-checkable rejection code. Rejection is a normal
// outcome, not an error path; the decision loop and operators branch on
// these, never on error text.
type Reason string

const (
	ReasonNone                  Reason = ""
	ReasonKillSwitch            Reason = "kill_switch_active"
	ReasonHoldAction            Reason = "hold_action"
	ReasonInvalidDecision       Reason = "invalid_decision"
	ReasonZeroSize              Reason = "zero_size"
	ReasonNonPositiveEdge       Reason = "non_positive_edge"
	ReasonMaxTotalExposure      Reason = "max_total_exposure"
	ReasonMaxOpenPositions      Reason = "max_open_positions"
	ReasonMaxCorrelatedExposure Reason = "max_correlated_exposure"
	ReasonDailyLossLimit        Reason = "daily_loss_limit"
	ReasonMaxDrawdown           Reason = "max_drawdown"
)

// Limits is the immutable risk limit snapshot injected at construction.
type Limits struct {
	MaxPositionSize       decimal.Decimal
	MaxTotalExposure      decimal.Decimal
	MaxDailyLoss          decimal.Decimal
	MaxDrawdownPct        decimal.Decimal // fraction in (0,1)
	MaxOpenPositions      int
	MaxCorrelatedExposure decimal.Decimal
}

// Result is the outcome of evaluating a decision. When accepted, Size
// carries the (possibly downsized) order size.
type Result struct {
	Accepted bool
	Size     decimal.Decimal
	Reason   Reason
}

// Manager enforces risk limits, sizes orders, and tracks capital and
// P&L. Evaluate never mutates state: exposure is committed only on
// confirmed fills, so orders rejected downstream or partially failed
// are never double-counted.
type Manager struct {
	mu sync.Mutex

	limits Limits
	sizing SizingConfig
	ks     *KillSwitch
	bus    *event.Bus

	initialCapital decimal.Decimal
	currentCapital decimal.Decimal
	peakCapital    decimal.Decimal
	dailyPnL       decimal.Decimal
	dailyResetAt   time.Time
	resetHourUTC   int

	wins   int
	losses int

	positions map[domain.PositionKey]*domain.Position

	// marketID -> correlation group name
	correlation map[string]string

	now func() time.Time
}

// NewManager creates a risk manager with the given immutable limits.
// correlationGroups maps group name to its member market ids.
func NewManager(limits Limits, sizing SizingConfig, correlationGroups map[string][]string, ks *KillSwitch, bus *event.Bus, initialCapital decimal.Decimal, resetHourUTC int) *Manager {
	correlation := make(map[string]string)
	for group, markets := range correlationGroups {
		for _, m := range markets {
			correlation[m] = group
		}
	}

	m := &Manager{
		limits:         limits,
		sizing:         sizing,
		ks:             ks,
		bus:            bus,
		initialCapital: initialCapital,
		currentCapital: initialCapital,
		peakCapital:    initialCapital,
		positions:      make(map[domain.PositionKey]*domain.Position),
		correlation:    correlation,
		resetHourUTC:   resetHourUTC,
		now:            time.Now,
	}
	m.dailyResetAt = nextResetUTC(m.now().UTC(), resetHourUTC)

	slog.Info("risk manager initialized",
		slog.String("capital", initialCapital.String()),
		slog.String("max_position_size", limits.MaxPositionSize.String()),
		slog.String("max_total_exposure", limits.MaxTotalExposure.String()))
	return m
}

// Evaluate checks a decision against the kill switch and every risk
// limit, returning the approved (possibly downsized) order size or an
// enumerable rejection reason. Read-only with respect to risk state.
func (m *Manager) Evaluate(d domain.Decision) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.maybeResetDailyLocked(m.now().UTC())

	if m.ks != nil && m.ks.Active() {
		return m.rejectLocked(d, ReasonKillSwitch)
	}

	if d.Action == domain.ActionHold {
		return m.rejectLocked(d, ReasonHoldAction)
	}
	if err := d.Validate(); err != nil {
		slog.Debug("invalid decision", slog.Any("error", err))
		return m.rejectLocked(d, ReasonInvalidDecision)
	}

	size := candidateSize(m.sizing, d, m.currentCapital)
	if !size.IsPositive() {
		if m.sizing.Mode == SizingKelly {
			return m.rejectLocked(d, ReasonNonPositiveEdge)
		}
		return m.rejectLocked(d, ReasonZeroSize)
	}

	if size.GreaterThan(m.limits.MaxPositionSize) {
		size = m.limits.MaxPositionSize
	}

	key := domain.PositionKey{MarketID: d.MarketID, Outcome: d.Outcome}

	if d.Action == domain.ActionBuy {
		if m.totalExposureLocked().Add(size).GreaterThan(m.limits.MaxTotalExposure) {
			return m.rejectLocked(d, ReasonMaxTotalExposure)
		}
		if _, exists := m.positions[key]; !exists && m.limits.MaxOpenPositions > 0 &&
			len(m.positions) >= m.limits.MaxOpenPositions {
			return m.rejectLocked(d, ReasonMaxOpenPositions)
		}
		if group, ok := m.correlation[d.MarketID]; ok && m.limits.MaxCorrelatedExposure.IsPositive() {
			if m.groupExposureLocked(group).Add(size).GreaterThan(m.limits.MaxCorrelatedExposure) {
				return m.rejectLocked(d, ReasonMaxCorrelatedExposure)
			}
		}
	} else {
		// Sells reduce exposure; cap at the open size.
		pos, ok := m.positions[key]
		if !ok || pos.IsFlat() {
			return m.rejectLocked(d, ReasonZeroSize)
		}
		if size.GreaterThan(pos.Size) {
			size = pos.Size
		}
	}

	if m.limits.MaxDailyLoss.IsPositive() && m.dailyPnL.LessThanOrEqual(m.limits.MaxDailyLoss.Neg()) {
		return m.rejectLocked(d, ReasonDailyLossLimit)
	}

	if m.drawdownLocked().GreaterThanOrEqual(m.limits.MaxDrawdownPct) {
		// Capital protection is systemic, not per-trade.
		m.tripKillSwitchLocked("max drawdown breached")
		return m.rejectLocked(d, ReasonMaxDrawdown)
	}

	return Result{Accepted: true, Size: size}
}

// OnFill commits a confirmed fill: updates the position, realizes P&L on
// reductions, and re-evaluates the drawdown and daily-loss conditions,
// arming the kill switch if breached.
func (m *Manager) OnFill(key domain.PositionKey, side domain.Side, size, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.maybeResetDailyLocked(m.now().UTC())

	pos, ok := m.positions[key]
	if !ok {
		pos = &domain.Position{MarketID: key.MarketID, Outcome: key.Outcome}
		m.positions[key] = pos
	}

	realized := pos.ApplyFill(side, size, price)
	if pos.IsFlat() {
		delete(m.positions, key)
	}

	if !realized.IsZero() {
		m.currentCapital = m.currentCapital.Add(realized)
		m.dailyPnL = m.dailyPnL.Add(realized)
		if realized.IsPositive() {
			m.wins++
		} else {
			m.losses++
		}
	}
	if m.currentCapital.GreaterThan(m.peakCapital) {
		m.peakCapital = m.currentCapital
	}

	if m.drawdownLocked().GreaterThanOrEqual(m.limits.MaxDrawdownPct) {
		m.tripKillSwitchLocked("max drawdown breached")
	}
	if m.limits.MaxDailyLoss.IsPositive() && m.dailyPnL.LessThanOrEqual(m.limits.MaxDailyLoss.Neg()) {
		slog.Warn("daily loss limit breached",
			slog.String("daily_pnl", m.dailyPnL.String()),
			slog.String("limit", m.limits.MaxDailyLoss.String()))
	}
}

// Drawdown returns (peak - current) / peak.
func (m *Manager) Drawdown() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drawdownLocked()
}

// TotalExposure returns the summed notional of all open positions.
func (m *Manager) TotalExposure() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalExposureLocked()
}

// Position returns a copy of the position for a key, if open.
func (m *Manager) Position(key domain.PositionKey) (domain.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[key]
	if !ok {
		return domain.Position{}, false
	}
	return *pos, true
}

// Positions returns copies of all open positions.
func (m *Manager) Positions() []domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Position, 0, len(m.positions))
	for _, pos := range m.positions {
		out = append(out, *pos)
	}
	return out
}

// Stats is an operator-facing snapshot of the risk state.
type Stats struct {
	CurrentCapital decimal.Decimal
	PeakCapital    decimal.Decimal
	DailyPnL       decimal.Decimal
	TotalExposure  decimal.Decimal
	OpenPositions  int
	Drawdown       decimal.Decimal
	ReturnPct      decimal.Decimal
	Wins           int
	Losses         int
	WinRate        decimal.Decimal
}

// Snapshot returns current risk statistics.
func (m *Manager) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	ret := decimal.Zero
	if m.initialCapital.IsPositive() {
		ret = m.currentCapital.Sub(m.initialCapital).Div(m.initialCapital)
	}
	winRate := decimal.Zero
	if total := m.wins + m.losses; total > 0 {
		winRate = decimal.NewFromInt(int64(m.wins)).Div(decimal.NewFromInt(int64(total)))
	}

	return Stats{
		CurrentCapital: m.currentCapital,
		PeakCapital:    m.peakCapital,
		DailyPnL:       m.dailyPnL,
		TotalExposure:  m.totalExposureLocked(),
		OpenPositions:  len(m.positions),
		Drawdown:       m.drawdownLocked(),
		ReturnPct:      ret,
		Wins:           m.wins,
		Losses:         m.losses,
		WinRate:        winRate,
	}
}

func (m *Manager) rejectLocked(d domain.Decision, reason Reason) Result {
	slog.Info("decision rejected",
		slog.String("market", d.MarketID),
		slog.String("outcome", d.Outcome),
		slog.String("reason", string(reason)))

	if m.bus != nil {
		m.bus.Publish(event.RejectEvent{
			BaseEvent: m.bus.Stamp(),
			MarketID:  d.MarketID,
			Outcome:   d.Outcome,
			Reason:    string(reason),
		})
	}
	return Result{Reason: reason}
}

func (m *Manager) tripKillSwitchLocked(reason string) {
	if m.ks != nil && !m.ks.Active() {
		m.ks.Activate(reason)
	}
}

func (m *Manager) drawdownLocked() decimal.Decimal {
	if !m.peakCapital.IsPositive() {
		return decimal.Zero
	}
	return m.peakCapital.Sub(m.currentCapital).Div(m.peakCapital)
}

func (m *Manager) totalExposureLocked() decimal.Decimal {
	total := decimal.Zero
	for _, p := range m.positions {
		total = total.Add(p.Size)
	}
	return total
}

func (m *Manager) groupExposureLocked(group string) decimal.Decimal {
	total := decimal.Zero
	for _, p := range m.positions {
		if m.correlation[p.MarketID] == group {
			total = total.Add(p.Size)
		}
	}
	return total
}

// maybeResetDailyLocked zeroes the daily P&L when the configured UTC
// boundary passes.
func (m *Manager) maybeResetDailyLocked(now time.Time) {
	if now.Before(m.dailyResetAt) {
		return
	}
	slog.Info("daily risk statistics reset",
		slog.String("previous_daily_pnl", m.dailyPnL.String()))
	m.dailyPnL = decimal.Zero
	m.dailyResetAt = nextResetUTC(now, m.resetHourUTC)
}

func nextResetUTC(now time.Time, hour int) time.Time {
	reset := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !reset.After(now) {
		reset = reset.AddDate(0, 0, 1)
	}
	return reset
}
