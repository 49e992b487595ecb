package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Side of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Status is the order lifecycle state.
type Status string

const (
	StatusNew             Status = "NEW"
	StatusSubmitted       Status = "SUBMITTED"
	StatusPartiallyFilled Status = "PARTIALLY_FILLED"
	StatusFilled          Status = "FILLED"
	StatusCancelled       Status = "CANCELLED"
	StatusExpired         Status = "EXPIRED"
	StatusRejected        Status = "REJECTED"
)

// IsTerminal reports whether an order in this status accepts no further mutation.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusExpired, StatusRejected:
		return true
	}
	return false
}

var (
	ErrInvalidTransition = errors.New("invalid order state transition")
	ErrOrderTerminal     = errors.New("order is in a terminal state")
	ErrFillOverflow      = errors.New("fill would exceed requested size")
)

// legal transitions; PARTIALLY_FILLED self-loops as further fills arrive.
var transitions = map[Status][]Status{
	StatusNew:             {StatusSubmitted, StatusRejected},
	StatusSubmitted:       {StatusPartiallyFilled, StatusFilled, StatusCancelled, StatusExpired, StatusRejected},
	StatusPartiallyFilled: {StatusPartiallyFilled, StatusFilled, StatusCancelled, StatusExpired},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Fill is a partial or complete execution of an order.
// Seq is per-order and monotonically increasing; consumers use
// (OrderID, Seq) to suppress duplicates delivered during reconciliation.
type Fill struct {
	OrderID   string
	Seq       int
	Size      decimal.Decimal
	Price     decimal.Decimal
	Timestamp time.Time
}

// Order is a venue order tracked by the order manager. Mutated only
// through Transition/AddFill; immutable once a terminal status is reached.
type Order struct {
	ID             string
	VenueOrderID   string
	IdempotencyKey string
	MarketID       string
	Outcome        string
	Side           Side
	RequestedSize  decimal.Decimal
	LimitPrice     decimal.Decimal
	Status         Status
	Fills          []Fill
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastFillAt     time.Time

	// NeedsReconcile marks an order whose venue-side outcome is unknown
	// (submission timed out after exhausting retries).
	NeedsReconcile bool
	// CancelRequested records an operator cancel that could not complete
	// against the venue yet. The reconciliation sweep finishes it.
	CancelRequested bool
	// ReconcileMisses counts sweeps that found no venue-side record.
	ReconcileMisses int
}

// FilledSize returns the cumulative fill size.
func (o *Order) FilledSize() decimal.Decimal {
	total := decimal.Zero
	for _, f := range o.Fills {
		total = total.Add(f.Size)
	}
	return total
}

// RemainingSize returns requested minus filled size.
func (o *Order) RemainingSize() decimal.Decimal {
	return o.RequestedSize.Sub(o.FilledSize())
}

// IsOpen reports whether the order is still working at the venue.
func (o *Order) IsOpen() bool {
	return !o.Status.IsTerminal()
}

// Transition moves the order to a new status, enforcing the state machine.
func (o *Order) Transition(to Status, now time.Time) error {
	if o.Status.IsTerminal() {
		return ErrOrderTerminal
	}
	if !CanTransition(o.Status, to) {
		return ErrInvalidTransition
	}
	o.Status = to
	o.UpdatedAt = now
	return nil
}

// AddFill appends a fill and advances the status. The sum of fill sizes
// never exceeds RequestedSize; a fill that would overflow is rejected.
func (o *Order) AddFill(size, price decimal.Decimal, now time.Time) (Fill, error) {
	if o.Status.IsTerminal() {
		return Fill{}, ErrOrderTerminal
	}
	if !size.IsPositive() {
		return Fill{}, ErrFillOverflow
	}
	filled := o.FilledSize()
	if filled.Add(size).GreaterThan(o.RequestedSize) {
		return Fill{}, ErrFillOverflow
	}

	fill := Fill{
		OrderID:   o.ID,
		Seq:       len(o.Fills) + 1,
		Size:      size,
		Price:     price,
		Timestamp: now,
	}
	o.Fills = append(o.Fills, fill)
	o.LastFillAt = now

	next := StatusPartiallyFilled
	if filled.Add(size).Equal(o.RequestedSize) {
		next = StatusFilled
	}
	if err := o.Transition(next, now); err != nil {
		return Fill{}, err
	}
	return fill, nil
}

// Clone returns a deep copy safe to hand to event consumers.
func (o *Order) Clone() *Order {
	cp := *o
	cp.Fills = make([]Fill, len(o.Fills))
	copy(cp.Fills, o.Fills)
	return &cp
}
