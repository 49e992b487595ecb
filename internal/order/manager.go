package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/randomness11/probablyprofit/internal/domain"
	"github.com/randomness11/probablyprofit/internal/event"
	"github.com/randomness11/probablyprofit/internal/infra"
	"github.com/randomness11/probablyprofit/internal/metrics"
	"github.com/randomness11/probablyprofit/internal/risk"
	"github.com/randomness11/probablyprofit/internal/venue"
)

// Logical endpoint names for the resilience registry.
const (
	EndpointOrders  = "orders"
	EndpointAccount = "account"
)

var (
	// ErrTradingHalted is returned by Submit while the kill switch is active.
	ErrTradingHalted = errors.New("trading halted by kill switch")
	// ErrUnknownOrder is returned for order ids this manager never issued.
	ErrUnknownOrder = errors.New("unknown order id")
	// ErrSubmissionUnconfirmed means the venue's outcome is unknown; the
	// order is parked for reconciliation rather than assumed rejected.
	ErrSubmissionUnconfirmed = errors.New("submission unconfirmed, pending reconciliation")
)

// FillSink consumes confirmed fills; satisfied by *risk.Manager.
type FillSink interface {
	OnFill(key domain.PositionKey, side domain.Side, size, price decimal.Decimal)
}

// Config bounds the order manager's background sweeps and venue calls.
type Config struct {
	PartialFillTimeout time.Duration
	ReconcileInterval  time.Duration
	CallTimeout        time.Duration
	// MaxReconcileMisses bounds how many sweeps may fail to find a
	// venue-side record for an unconfirmed order before it is declared
	// rejected. Zero retries indefinitely.
	MaxReconcileMisses int
}

// Manager owns the order lifecycle: it submits and cancels orders through
// the resilience primitives, applies fills, reconciles local state
// against venue truth, and emits fill/completion events.
//
// The order table lock is held only across in-memory mutation, never
// across a venue call; reconciliation resolves the races this allows.
type Manager struct {
	mu        sync.Mutex
	orders    map[string]*domain.Order
	byVenueID map[string]string

	client   venue.Client
	registry *infra.Registry
	retry    *infra.RetryPolicy
	ks       *risk.KillSwitch
	sink     FillSink
	bus      *event.Bus
	cfg      Config

	balanceCache  *infra.Cache[string, decimal.Decimal]
	positionCache *infra.Cache[string, []venue.PositionSnapshot]

	metrics *metrics.Metrics

	now func() time.Time
}

// SetMetrics attaches an optional metrics sink. Call before Run.
func (m *Manager) SetMetrics(mx *metrics.Metrics) {
	m.metrics = mx
}

// CacheStats reports the venue read caches' hit/miss counters.
func (m *Manager) CacheStats() map[string]infra.CacheStats {
	return map[string]infra.CacheStats{
		"balance":   m.balanceCache.Stats(),
		"positions": m.positionCache.Stats(),
	}
}

// NewManager wires an order manager. sink and bus may be nil in tests.
func NewManager(client venue.Client, registry *infra.Registry, retry *infra.RetryPolicy, ks *risk.KillSwitch, sink FillSink, bus *event.Bus, cfg Config, cacheCapacity int, cacheTTL time.Duration) *Manager {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	return &Manager{
		orders:        make(map[string]*domain.Order),
		byVenueID:     make(map[string]string),
		client:        client,
		registry:      registry,
		retry:         retry,
		ks:            ks,
		sink:          sink,
		bus:           bus,
		cfg:           cfg,
		balanceCache:  infra.NewCache[string, decimal.Decimal](cacheCapacity, cacheTTL),
		positionCache: infra.NewCache[string, []venue.PositionSnapshot](cacheCapacity, cacheTTL),
		now:           time.Now,
	}
}

// Submit places a risk-approved order at the venue. The local record
// moves to SUBMITTED before the call; a permanent venue error rejects
// it, while exhausted transient retries park it for reconciliation since
// the venue may have received the submission despite a lost response.
func (m *Manager) Submit(ctx context.Context, d domain.Decision, size decimal.Decimal) (*domain.Order, error) {
	if m.ks != nil && m.ks.Active() {
		return nil, ErrTradingHalted
	}

	side := domain.SideBuy
	if d.Action == domain.ActionSell {
		side = domain.SideSell
	}

	now := m.now().UTC()
	o := &domain.Order{
		ID:             uuid.NewString(),
		IdempotencyKey: uuid.NewString(),
		MarketID:       d.MarketID,
		Outcome:        d.Outcome,
		Side:           side,
		RequestedSize:  size,
		LimitPrice:     d.Price,
		Status:         domain.StatusNew,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	m.mu.Lock()
	terr := o.Transition(domain.StatusSubmitted, now)
	if terr == nil {
		m.orders[o.ID] = o
	}
	m.mu.Unlock()
	if terr != nil {
		return nil, terr
	}

	start := time.Now()
	var venueOrderID string
	err := m.callVenue(ctx, EndpointOrders, "place_order", func(ctx context.Context) error {
		id, err := m.client.PlaceOrder(ctx, venue.PlaceOrderRequest{
			MarketID:       o.MarketID,
			Outcome:        o.Outcome,
			Side:           o.Side,
			Size:           o.RequestedSize,
			Price:          o.LimitPrice,
			IdempotencyKey: o.IdempotencyKey,
		})
		if err != nil {
			return err
		}
		venueOrderID = id
		return nil
	})
	if m.metrics != nil {
		m.metrics.SubmitDur.Observe(time.Since(start).Seconds())
	}

	if err != nil {
		return m.handleSubmitFailure(o, err)
	}

	m.mu.Lock()
	o.VenueOrderID = venueOrderID
	m.byVenueID[venueOrderID] = o.ID
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.OrdersSubmitted.Inc()
	}
	slog.Info("order submitted",
		slog.String("order_id", o.ID),
		slog.String("venue_order_id", venueOrderID),
		slog.String("market", o.MarketID),
		slog.String("side", string(o.Side)),
		slog.String("size", size.String()))

	return m.snapshot(o.ID), nil
}

func (m *Manager) handleSubmitFailure(o *domain.Order, err error) (*domain.Order, error) {
	if venue.IsTransient(err) || errors.Is(err, context.DeadlineExceeded) {
		// Limbo: the venue may hold this order even though the response
		// was lost. Reconciliation is authoritative.
		m.mu.Lock()
		o.NeedsReconcile = true
		m.mu.Unlock()

		slog.Warn("submission unconfirmed, parked for reconciliation",
			slog.String("order_id", o.ID),
			slog.Any("error", err))
		return m.snapshot(o.ID), fmt.Errorf("%w: %v", ErrSubmissionUnconfirmed, err)
	}

	// Circuit open or permanent venue error: the order was not placed.
	m.mu.Lock()
	terr := o.Transition(domain.StatusRejected, m.now().UTC())
	m.mu.Unlock()
	if terr == nil {
		m.emitComplete(o.ID)
	}

	slog.Warn("order rejected at submission",
		slog.String("order_id", o.ID),
		slog.Any("error", err))
	return m.snapshot(o.ID), err
}

// Cancel requests cancellation. Idempotent: cancelling an already
// terminal order is a no-op success. Best-effort: a cancel may race
// with an in-flight fill; the reconciliation sweep settles final state.
func (m *Manager) Cancel(ctx context.Context, orderID string) error {
	m.mu.Lock()
	o, ok := m.orders[orderID]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownOrder
	}
	if o.Status.IsTerminal() {
		m.mu.Unlock()
		return nil
	}
	o.CancelRequested = true
	venueOrderID := o.VenueOrderID
	m.mu.Unlock()

	if venueOrderID == "" {
		// Never confirmed at the venue. The intent is recorded; the
		// sweep surfaces whatever record the venue holds and cancels
		// it rather than leaving it working.
		m.mu.Lock()
		o.NeedsReconcile = true
		m.mu.Unlock()
		return nil
	}

	err := m.callVenue(ctx, EndpointOrders, "cancel_order", func(ctx context.Context) error {
		_, err := m.client.CancelOrder(ctx, venueOrderID)
		return err
	})
	if err != nil {
		return err
	}

	m.mu.Lock()
	terr := o.Transition(domain.StatusCancelled, m.now().UTC())
	m.mu.Unlock()
	if terr == nil {
		m.emitComplete(orderID)
	}
	return nil
}

// ApplyFill records a venue-reported fill against an order, feeds the
// risk manager, and emits the fill event. Fills for one order are
// applied in the order received.
func (m *Manager) ApplyFill(orderID string, size, price decimal.Decimal, ts time.Time) error {
	_, err := m.applyFillAt(orderID, -1, size, price, ts)
	return err
}

// applyFillAt appends a fill, optionally pinned to a position in the
// order's fill sequence. idx >= 0 makes the append conditional: if the
// order already holds a fill at that position the call is a no-op,
// which lets the reconciliation sweep re-offer venue fills without
// double-applying one the push stream delivered concurrently.
func (m *Manager) applyFillAt(orderID string, idx int, size, price decimal.Decimal, ts time.Time) (bool, error) {
	m.mu.Lock()
	o, ok := m.orders[orderID]
	if !ok {
		m.mu.Unlock()
		return false, ErrUnknownOrder
	}
	if idx >= 0 && len(o.Fills) != idx {
		m.mu.Unlock()
		return false, nil
	}

	fill, err := o.AddFill(size, price, ts)
	if err != nil {
		m.mu.Unlock()
		return false, err
	}
	filled := o.Status == domain.StatusFilled
	key := domain.PositionKey{MarketID: o.MarketID, Outcome: o.Outcome}
	side := o.Side
	m.mu.Unlock()

	if m.sink != nil {
		m.sink.OnFill(key, side, size, price)
	}
	m.emitFill(orderID, fill)
	if filled {
		m.emitComplete(orderID)
	}
	return true, nil
}

// ApplyVenueFill resolves a venue order id to a local order and applies
// the fill; used by the push stream.
func (m *Manager) ApplyVenueFill(venueOrderID string, size, price decimal.Decimal, ts time.Time) error {
	m.mu.Lock()
	orderID, ok := m.byVenueID[venueOrderID]
	m.mu.Unlock()
	if !ok {
		return ErrUnknownOrder
	}
	return m.ApplyFill(orderID, size, price, ts)
}

// Get returns a copy of an order.
func (m *Manager) Get(orderID string) (*domain.Order, error) {
	o := m.snapshot(orderID)
	if o == nil {
		return nil, ErrUnknownOrder
	}
	return o, nil
}

// OpenOrders returns copies of all non-terminal orders.
func (m *Manager) OpenOrders() []*domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()

	var open []*domain.Order
	for _, o := range m.orders {
		if o.IsOpen() {
			open = append(open, o.Clone())
		}
	}
	return open
}

// Balance returns the venue balance, falling back to the last cached
// value when the live read fails.
func (m *Manager) Balance(ctx context.Context) (decimal.Decimal, error) {
	var bal decimal.Decimal
	err := m.callVenue(ctx, EndpointAccount, "get_balance", func(ctx context.Context) error {
		b, err := m.client.GetBalance(ctx)
		if err != nil {
			return err
		}
		bal = b
		return nil
	})
	if err == nil {
		m.balanceCache.Put("balance", bal)
		return bal, nil
	}
	if cached, ok := m.balanceCache.Get("balance"); ok {
		slog.Warn("live balance read failed, serving cached value", slog.Any("error", err))
		return cached, nil
	}
	return decimal.Zero, err
}

// Positions returns venue position snapshots with the same cache
// fallback as Balance.
func (m *Manager) Positions(ctx context.Context) ([]venue.PositionSnapshot, error) {
	var snaps []venue.PositionSnapshot
	err := m.callVenue(ctx, EndpointAccount, "get_positions", func(ctx context.Context) error {
		s, err := m.client.GetPositions(ctx)
		if err != nil {
			return err
		}
		snaps = s
		return nil
	})
	if err == nil {
		m.positionCache.Put("positions", snaps)
		return snaps, nil
	}
	if cached, ok := m.positionCache.Get("positions"); ok {
		slog.Warn("live positions read failed, serving cached value", slog.Any("error", err))
		return cached, nil
	}
	return nil, err
}

// Run drives the periodic reconciliation and reaper sweeps until ctx is
// done.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Reconcile(ctx)
			m.ReapStaleOrders(ctx)
			m.balanceCache.Sweep()
			m.positionCache.Sweep()
		}
	}
}

// ReapStaleOrders expires partially filled orders that have seen no fill
// activity for longer than the configured timeout. The venue may not
// push cancellation confirmations, so this is a sweep, not a
// notification handler. Cancellation at the venue is best-effort.
func (m *Manager) ReapStaleOrders(ctx context.Context) {
	if m.cfg.PartialFillTimeout <= 0 {
		return
	}
	cutoff := m.now().UTC().Add(-m.cfg.PartialFillTimeout)

	type staleOrder struct {
		id      string
		venueID string
	}

	m.mu.Lock()
	var stale []staleOrder
	for _, o := range m.orders {
		if o.Status == domain.StatusPartiallyFilled && o.LastFillAt.Before(cutoff) {
			stale = append(stale, staleOrder{id: o.ID, venueID: o.VenueOrderID})
		}
	}
	m.mu.Unlock()

	for _, s := range stale {
		if s.venueID != "" {
			err := m.callVenue(ctx, EndpointOrders, "cancel_order", func(ctx context.Context) error {
				_, err := m.client.CancelOrder(ctx, s.venueID)
				return err
			})
			if err != nil {
				slog.Warn("best-effort cancel failed for stale order",
					slog.String("order_id", s.id), slog.Any("error", err))
			}
		}

		m.mu.Lock()
		o, ok := m.orders[s.id]
		var terr error
		if ok {
			terr = o.Transition(domain.StatusExpired, m.now().UTC())
		}
		m.mu.Unlock()
		if ok && terr == nil {
			slog.Info("order expired after partial-fill timeout",
				slog.String("order_id", s.id))
			if m.metrics != nil {
				m.metrics.StaleOrdersExpired.Inc()
			}
			m.emitComplete(s.id)
		}
	}
}

// callVenue routes a venue call through rate limiting, circuit breaking
// and retry, in that order. The breaker counts an exhausted retry loop
// as a single failure.
func (m *Manager) callVenue(ctx context.Context, endpoint, name string, op func(ctx context.Context) error) error {
	if err := m.registry.Limiter(endpoint).Acquire(ctx); err != nil {
		return err
	}
	return m.registry.Breaker(endpoint).Do(ctx, func(ctx context.Context) error {
		return m.retry.Do(ctx, name, func(ctx context.Context) error {
			cctx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
			defer cancel()
			return op(cctx)
		}, venue.IsTransient)
	})
}

func (m *Manager) snapshot(orderID string) *domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil
	}
	return o.Clone()
}

func (m *Manager) emitFill(orderID string, fill domain.Fill) {
	if m.bus == nil {
		return
	}
	o := m.snapshot(orderID)
	if o == nil {
		return
	}
	m.bus.Publish(event.FillEvent{
		BaseEvent: m.bus.Stamp(),
		OrderID:   o.ID,
		FillSeq:   fill.Seq,
		MarketID:  o.MarketID,
		Outcome:   o.Outcome,
		Side:      o.Side,
		Size:      fill.Size,
		Price:     fill.Price,
	})
}

func (m *Manager) emitComplete(orderID string) {
	if m.bus == nil {
		return
	}
	o := m.snapshot(orderID)
	if o == nil {
		return
	}
	m.bus.Publish(event.OrderCompleteEvent{
		BaseEvent:  m.bus.Stamp(),
		OrderID:    o.ID,
		MarketID:   o.MarketID,
		Outcome:    o.Outcome,
		Status:     o.Status,
		FilledSize: o.FilledSize(),
	})
}
