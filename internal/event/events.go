package event

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/randomness11/probablyprofit/internal/domain"
)

// Type defines the type of event.
type Type uint16

const (
	EvFill Type = iota + 1
	EvOrderComplete
	EvReject
	EvKillSwitch
)

// Event is the interface for all bus events.
type Event interface {
	GetSeq() uint64
	GetTs() time.Time
	GetType() Type
}

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	Seq uint64    `json:"seq"`
	Ts  time.Time `json:"ts"`
}

func (e BaseEvent) GetSeq() uint64   { return e.Seq }
func (e BaseEvent) GetTs() time.Time { return e.Ts }

// FillEvent fires once per fill applied to an order. Delivery during
// reconciliation recovery is at-least-once; consumers deduplicate by
// (OrderID, FillSeq).
type FillEvent struct {
	BaseEvent
	OrderID  string          `json:"order_id"`
	FillSeq  int             `json:"fill_seq"`
	MarketID string          `json:"market_id"`
	Outcome  string          `json:"outcome"`
	Side     domain.Side     `json:"side"`
	Size     decimal.Decimal `json:"size"`
	Price    decimal.Decimal `json:"price"`
}

func (e FillEvent) GetType() Type { return EvFill }

// OrderCompleteEvent fires once per terminal transition.
type OrderCompleteEvent struct {
	BaseEvent
	OrderID    string          `json:"order_id"`
	MarketID   string          `json:"market_id"`
	Outcome    string          `json:"outcome"`
	Status     domain.Status   `json:"status"`
	FilledSize decimal.Decimal `json:"filled_size"`
}

func (e OrderCompleteEvent) GetType() Type { return EvOrderComplete }

// RejectEvent fires when the risk manager rejects a decision.
type RejectEvent struct {
	BaseEvent
	MarketID string `json:"market_id"`
	Outcome  string `json:"outcome"`
	Reason   string `json:"reason"`
}

func (e RejectEvent) GetType() Type { return EvReject }

// KillSwitchEvent fires on every activation or deactivation.
type KillSwitchEvent struct {
	BaseEvent
	Active bool   `json:"active"`
	Reason string `json:"reason"`
}

func (e KillSwitchEvent) GetType() Type { return EvKillSwitch }
