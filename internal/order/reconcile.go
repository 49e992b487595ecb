package order

import (
	"context"
	"errors"
	"log/slog"

	"github.com/randomness11/probablyprofit/internal/domain"
	"github.com/randomness11/probablyprofit/internal/venue"
)

// Reconcile corrects local order state against venue-side truth for
// every order not yet terminal. It recovers orders parked in limbo by a
// lost submission response, applies fills the push path missed as
// synthetic fill events, and adopts terminal venue statuses the local
// machine never saw. Event delivery during recovery is at-least-once;
// consumers deduplicate by (order_id, fill_seq).
func (m *Manager) Reconcile(ctx context.Context) {
	type openOrder struct {
		id      string
		venueID string
		cancel  bool
	}

	m.mu.Lock()
	var open []openOrder
	limbo := 0
	for _, o := range m.orders {
		if o.IsOpen() && (o.VenueOrderID != "" || o.NeedsReconcile) {
			open = append(open, openOrder{id: o.ID, venueID: o.VenueOrderID, cancel: o.CancelRequested})
			if o.VenueOrderID == "" {
				limbo++
			}
		}
	}
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ReconcileRuns.Inc()
		m.metrics.OrdersLimbo.Set(float64(limbo))
	}

	for _, oo := range open {
		if err := ctx.Err(); err != nil {
			return
		}
		if oo.venueID == "" {
			m.recoverUnconfirmed(ctx, oo.id)
			continue
		}
		if oo.cancel {
			// A cancel the operator requested never completed venue-side.
			m.cancelAtVenue(ctx, oo.id, oo.venueID)
		}
		m.reconcileOne(ctx, oo.id, oo.venueID)
	}
}

// recoverUnconfirmed resolves an order whose submission response was
// lost by re-placing it with its original idempotency key. The venue
// deduplicates by key, so this either surfaces the order it already
// holds or places it fresh; both outcomes yield the venue order id the
// first attempt never returned. An order the operator asked to cancel
// is cancelled as soon as it surfaces instead of being left working,
// and while the kill switch is active nothing is re-placed at all.
func (m *Manager) recoverUnconfirmed(ctx context.Context, orderID string) {
	m.mu.Lock()
	o, ok := m.orders[orderID]
	if !ok || !o.IsOpen() {
		m.mu.Unlock()
		return
	}
	cancelRequested := o.CancelRequested
	req := venue.PlaceOrderRequest{
		MarketID:       o.MarketID,
		Outcome:        o.Outcome,
		Side:           o.Side,
		Size:           o.RequestedSize,
		Price:          o.LimitPrice,
		IdempotencyKey: o.IdempotencyKey,
	}
	m.mu.Unlock()

	if m.ks != nil && m.ks.Active() {
		slog.Debug("limbo order left parked while trading is halted",
			slog.String("order_id", orderID))
		return
	}

	var venueOrderID string
	err := m.callVenue(ctx, EndpointOrders, "place_order", func(ctx context.Context) error {
		id, err := m.client.PlaceOrder(ctx, req)
		if err != nil {
			return err
		}
		venueOrderID = id
		return nil
	})

	if err != nil {
		if venue.IsTransient(err) || errors.Is(err, context.DeadlineExceeded) {
			m.recordReconcileMiss(orderID)
			return
		}
		// The venue affirmatively refused: no record exists and none will.
		target := domain.StatusRejected
		if cancelRequested {
			target = domain.StatusCancelled
		}
		m.mu.Lock()
		terr := error(nil)
		if o.IsOpen() {
			terr = o.Transition(target, m.now().UTC())
		}
		m.mu.Unlock()
		if terr == nil {
			slog.Warn("unconfirmed order resolved with no venue record",
				slog.String("order_id", orderID),
				slog.String("status", string(target)),
				slog.Any("error", err))
			m.emitComplete(orderID)
		}
		return
	}

	m.mu.Lock()
	o.VenueOrderID = venueOrderID
	o.NeedsReconcile = false
	o.ReconcileMisses = 0
	m.byVenueID[venueOrderID] = orderID
	m.mu.Unlock()

	slog.Info("limbo order recovered",
		slog.String("order_id", orderID),
		slog.String("venue_order_id", venueOrderID))
	if m.metrics != nil {
		m.metrics.OrdersReconciled.Inc()
	}

	if cancelRequested {
		m.cancelAtVenue(ctx, orderID, venueOrderID)
	}
	m.reconcileOne(ctx, orderID, venueOrderID)
}

// cancelAtVenue pushes a pending cancel to the venue. Best-effort: on
// failure the intent stays recorded and the next sweep retries;
// reconcileOne adopts whatever state the venue settles on, so fills
// that beat the cancel are never lost.
func (m *Manager) cancelAtVenue(ctx context.Context, orderID, venueOrderID string) {
	err := m.callVenue(ctx, EndpointOrders, "cancel_order", func(ctx context.Context) error {
		_, err := m.client.CancelOrder(ctx, venueOrderID)
		return err
	})
	if err != nil {
		slog.Warn("requested cancel not confirmed by venue",
			slog.String("order_id", orderID), slog.Any("error", err))
	}
}

func (m *Manager) reconcileOne(ctx context.Context, orderID, venueOrderID string) {
	var status venue.OrderStatus
	err := m.callVenue(ctx, EndpointOrders, "get_order_status", func(ctx context.Context) error {
		s, err := m.client.GetOrderStatus(ctx, venueOrderID)
		if err != nil {
			return err
		}
		status = s
		return nil
	})

	if err != nil {
		if errors.Is(err, venue.ErrOrderNotFound) {
			m.recordReconcileMiss(orderID)
			return
		}
		slog.Warn("reconcile query failed",
			slog.String("order_id", orderID), slog.Any("error", err))
		return
	}

	m.mu.Lock()
	o, ok := m.orders[orderID]
	if !ok || !o.IsOpen() {
		m.mu.Unlock()
		return
	}
	o.NeedsReconcile = false
	o.ReconcileMisses = 0
	localFills := len(o.Fills)
	m.mu.Unlock()

	// Apply fills the push path missed, in venue order, each pinned to
	// its sequence position so one the stream delivers mid-sweep is not
	// applied twice. applyFillAt moves the order to FILLED on its own
	// when the last fill lands.
	for i := localFills; i < len(status.Fills); i++ {
		vf := status.Fills[i]
		applied, err := m.applyFillAt(orderID, i, vf.Size, vf.Price, vf.Timestamp)
		if err != nil {
			slog.Warn("reconcile could not apply venue fill",
				slog.String("order_id", orderID), slog.Any("error", err))
			return
		}
		if !applied {
			continue
		}
		slog.Info("synthetic fill applied during reconciliation",
			slog.String("order_id", orderID),
			slog.String("size", vf.Size.String()))
		if m.metrics != nil {
			m.metrics.OrdersReconciled.Inc()
		}
	}

	// Adopt a terminal venue status the local machine has not reached.
	if status.Status.IsTerminal() && status.Status != domain.StatusFilled {
		m.mu.Lock()
		terr := error(nil)
		if o.IsOpen() {
			terr = o.Transition(status.Status, m.now().UTC())
		}
		m.mu.Unlock()
		if terr == nil {
			slog.Info("order state corrected from venue",
				slog.String("order_id", orderID),
				slog.String("status", string(status.Status)))
			if m.metrics != nil {
				m.metrics.OrdersReconciled.Inc()
			}
			m.emitComplete(orderID)
		}
	}
}

// recordReconcileMiss counts a sweep that found no venue-side record for
// an unconfirmed order. Once the configured miss budget is exhausted the
// order is declared rejected (cancelled, if that was requested); with no
// budget it stays parked indefinitely and only an operator cancel
// resolves it.
func (m *Manager) recordReconcileMiss(orderID string) {
	m.mu.Lock()
	o, ok := m.orders[orderID]
	if !ok || !o.IsOpen() {
		m.mu.Unlock()
		return
	}
	o.ReconcileMisses++
	misses := o.ReconcileMisses
	giveUp := m.cfg.MaxReconcileMisses > 0 && misses >= m.cfg.MaxReconcileMisses
	var terr error
	if giveUp {
		// An operator cancel resolves to CANCELLED, not REJECTED.
		target := domain.StatusRejected
		if o.CancelRequested {
			target = domain.StatusCancelled
		}
		terr = o.Transition(target, m.now().UTC())
	}
	m.mu.Unlock()

	if giveUp && terr == nil {
		slog.Warn("unconfirmed order closed after exhausting reconcile misses",
			slog.String("order_id", orderID),
			slog.Int("misses", misses))
		m.emitComplete(orderID)
	}
}
