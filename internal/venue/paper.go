package venue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/randomness11/probablyprofit/internal/domain"
)

// paperOrder is the venue-side record of an order.
type paperOrder struct {
	id       string
	marketID string
	outcome  string
	side     domain.Side
	size     decimal.Decimal
	price    decimal.Decimal
	status   domain.Status
	fills    []VenueFill
}

// Paper simulates the venue in-process with virtual balances. Used for
// paper trading mode, the integration harness, and tests.
//
// Failure injection covers the cases the resilience layer must survive:
// scripted errors per operation, and a "lost submission" mode where the
// order is accepted venue-side but the response is a network error, so
// only reconciliation can recover it.
type Paper struct {
	mu      sync.Mutex
	balance decimal.Decimal
	orders  map[string]*paperOrder
	byKey   map[string]string // idempotency key -> venue order id
	nextID  int

	autoFill        bool
	failures        map[string][]error
	loseSubmissions int
}

// NewPaper creates a paper venue with the given starting balance.
func NewPaper(initialBalance decimal.Decimal) *Paper {
	return &Paper{
		balance:  initialBalance,
		orders:   make(map[string]*paperOrder),
		byKey:    make(map[string]string),
		failures: make(map[string][]error),
	}
}

// SetAutoFill makes every accepted order fill completely at its limit
// price on placement.
func (p *Paper) SetAutoFill(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.autoFill = on
}

// FailNext queues errors to be returned by the named operation
// ("place_order", "cancel_order", "get_order_status", "get_balance",
// "get_positions"), consumed one per call.
func (p *Paper) FailNext(op string, errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[op] = append(p.failures[op], errs...)
}

// LoseSubmissions makes the next n PlaceOrder calls register the order
// venue-side but still return a network error, simulating a lost
// response.
func (p *Paper) LoseSubmissions(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loseSubmissions = n
}

// PlaceOrder implements Client.
func (p *Paper) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.takeFailureLocked("place_order"); err != nil {
		return "", err
	}

	if !req.Size.IsPositive() {
		return "", &ValidationError{Field: "size", Msg: "must be positive"}
	}
	if req.Price.IsNegative() || req.Price.GreaterThan(decimal.NewFromInt(1)) {
		return "", &ValidationError{Field: "price", Msg: "must be in [0,1]"}
	}

	// Idempotent re-submission returns the original order. The response
	// can still be lost; the order stays registered either way.
	if id, ok := p.byKey[req.IdempotencyKey]; ok {
		if p.loseSubmissions > 0 {
			p.loseSubmissions--
			return "", &NetworkError{Op: "place_order", Err: fmt.Errorf("response lost")}
		}
		return id, nil
	}

	if req.Side == domain.SideBuy && req.Size.GreaterThan(p.balance) {
		return "", &OrderError{Msg: fmt.Sprintf("insufficient balance: need %s, have %s", req.Size, p.balance)}
	}

	p.nextID++
	o := &paperOrder{
		id:       fmt.Sprintf("paper-%d", p.nextID),
		marketID: req.MarketID,
		outcome:  req.Outcome,
		side:     req.Side,
		size:     req.Size,
		price:    req.Price,
		status:   domain.StatusSubmitted,
	}
	p.orders[o.id] = o
	p.byKey[req.IdempotencyKey] = o.id

	if p.autoFill {
		p.fillLocked(o, o.size, o.price)
	}

	if p.loseSubmissions > 0 {
		p.loseSubmissions--
		return "", &NetworkError{Op: "place_order", Err: fmt.Errorf("response lost")}
	}

	slog.Info("PAPER VENUE: order placed",
		slog.String("id", o.id),
		slog.String("market", o.marketID),
		slog.String("side", string(o.side)),
		slog.String("size", o.size.String()))
	return o.id, nil
}

// CancelOrder implements Client. Idempotent by venue order id.
func (p *Paper) CancelOrder(ctx context.Context, venueOrderID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.takeFailureLocked("cancel_order"); err != nil {
		return false, err
	}

	o, ok := p.orders[venueOrderID]
	if !ok {
		return false, &OrderError{VenueOrderID: venueOrderID, Msg: "unknown order"}
	}
	if o.status.IsTerminal() {
		return true, nil
	}

	o.status = domain.StatusCancelled
	slog.Info("PAPER VENUE: order cancelled", slog.String("id", venueOrderID))
	return true, nil
}

// GetOrderStatus implements Client.
func (p *Paper) GetOrderStatus(ctx context.Context, venueOrderID string) (OrderStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.takeFailureLocked("get_order_status"); err != nil {
		return OrderStatus{}, err
	}

	o, ok := p.orders[venueOrderID]
	if !ok {
		return OrderStatus{}, ErrOrderNotFound
	}

	fills := make([]VenueFill, len(o.fills))
	copy(fills, o.fills)
	return OrderStatus{
		VenueOrderID: o.id,
		Status:       o.status,
		Fills:        fills,
	}, nil
}

// GetBalance implements Client.
func (p *Paper) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.takeFailureLocked("get_balance"); err != nil {
		return decimal.Zero, err
	}
	return p.balance, nil
}

// GetPositions implements Client.
func (p *Paper) GetPositions(ctx context.Context) ([]PositionSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.takeFailureLocked("get_positions"); err != nil {
		return nil, err
	}

	type posAgg struct {
		marketID string
		outcome  string
		buyVol   decimal.Decimal
		sellVol  decimal.Decimal
		buyCost  decimal.Decimal
	}
	agg := make(map[string]*posAgg)
	for _, o := range p.orders {
		key := o.marketID + ":" + o.outcome
		a, ok := agg[key]
		if !ok {
			a = &posAgg{marketID: o.marketID, outcome: o.outcome}
			agg[key] = a
		}
		for _, f := range o.fills {
			if o.side == domain.SideBuy {
				a.buyVol = a.buyVol.Add(f.Size)
				a.buyCost = a.buyCost.Add(f.Price.Mul(f.Size))
			} else {
				a.sellVol = a.sellVol.Add(f.Size)
			}
		}
	}

	var out []PositionSnapshot
	for _, a := range agg {
		if a.buyVol.IsZero() && a.sellVol.IsZero() {
			continue
		}
		snap := PositionSnapshot{
			MarketID: a.marketID,
			Outcome:  a.outcome,
			Size:     a.buyVol.Sub(a.sellVol),
		}
		// Entry price is volume-weighted across buys.
		if a.buyVol.IsPositive() {
			snap.AvgPrice = a.buyCost.Div(a.buyVol)
		}
		out = append(out, snap)
	}
	return out, nil
}

// Fill records a venue-side execution against an open order. Tests and
// the paper trading loop drive partial fills through this.
func (p *Paper) Fill(venueOrderID string, size, price decimal.Decimal) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[venueOrderID]
	if !ok {
		return ErrOrderNotFound
	}
	if o.status.IsTerminal() {
		return &OrderError{VenueOrderID: venueOrderID, Msg: "order already terminal"}
	}
	p.fillLocked(o, size, price)
	return nil
}

func (p *Paper) fillLocked(o *paperOrder, size, price decimal.Decimal) {
	filled := decimal.Zero
	for _, f := range o.fills {
		filled = filled.Add(f.Size)
	}
	remaining := o.size.Sub(filled)
	if size.GreaterThan(remaining) {
		size = remaining
	}
	if !size.IsPositive() {
		return
	}

	o.fills = append(o.fills, VenueFill{
		Size:      size,
		Price:     price,
		Timestamp: time.Now().UTC(),
	})

	if o.side == domain.SideBuy {
		p.balance = p.balance.Sub(size)
	} else {
		p.balance = p.balance.Add(size)
	}

	if filled.Add(size).Equal(o.size) {
		o.status = domain.StatusFilled
	} else {
		o.status = domain.StatusPartiallyFilled
	}
}

func (p *Paper) takeFailureLocked(op string) error {
	queue := p.failures[op]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	p.failures[op] = queue[1:]
	return err
}
