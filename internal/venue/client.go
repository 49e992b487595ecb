package venue

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/randomness11/probablyprofit/internal/domain"
)

// OrderStatus is the venue-side view of an order.
type OrderStatus struct {
	VenueOrderID string
	Status       domain.Status
	Fills        []VenueFill
}

// VenueFill is one execution reported by the venue.
type VenueFill struct {
	Size      decimal.Decimal
	Price     decimal.Decimal
	Timestamp time.Time
}

// PositionSnapshot is the venue-side view of a holding.
type PositionSnapshot struct {
	MarketID string
	Outcome  string
	Size     decimal.Decimal
	AvgPrice decimal.Decimal
}

// PlaceOrderRequest carries the parameters for a new venue order.
// IdempotencyKey guarantees a retried submit is not double-placed.
type PlaceOrderRequest struct {
	MarketID       string
	Outcome        string
	Side           domain.Side
	Size           decimal.Decimal
	Price          decimal.Decimal
	IdempotencyKey string
}

// Client is the logical venue contract consumed by the core. The HTTP
// transport implementing it lives outside this module; Paper implements
// it in-process for tests and dry runs.
type Client interface {
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (venueOrderID string, err error)
	CancelOrder(ctx context.Context, venueOrderID string) (bool, error)
	GetOrderStatus(ctx context.Context, venueOrderID string) (OrderStatus, error)
	GetBalance(ctx context.Context) (decimal.Decimal, error)
	GetPositions(ctx context.Context) ([]PositionSnapshot, error)
}
