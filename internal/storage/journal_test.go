package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/randomness11/probablyprofit/internal/domain"
	"github.com/randomness11/probablyprofit/internal/event"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := NewJournal(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("NewJournal failed: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func fill(seq uint64, orderID string, fillSeq int) event.FillEvent {
	return event.FillEvent{
		BaseEvent: event.BaseEvent{Seq: seq, Ts: time.Now()},
		OrderID:   orderID,
		FillSeq:   fillSeq,
		MarketID:  "mkt-1",
		Outcome:   "YES",
		Side:      domain.SideBuy,
		Size:      decimal.NewFromInt(40),
		Price:     decimal.NewFromFloat(0.55),
	}
}

func TestJournal_FillDedup(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	// Same fill delivered twice (at-least-once bus), plus a second fill.
	for _, ev := range []event.FillEvent{
		fill(1, "ord-1", 1),
		fill(2, "ord-1", 1),
		fill(3, "ord-1", 2),
	} {
		if err := j.Record(ctx, ev); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	n, err := j.FillCount(ctx, "ord-1")
	if err != nil {
		t.Fatalf("FillCount failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 fills after dedup, got %d", n)
	}
}

func TestJournal_CompletionAndRejection(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	complete := event.OrderCompleteEvent{
		BaseEvent:  event.BaseEvent{Seq: 1, Ts: time.Now()},
		OrderID:    "ord-1",
		MarketID:   "mkt-1",
		Outcome:    "YES",
		Status:     domain.StatusFilled,
		FilledSize: decimal.NewFromInt(100),
	}
	if err := j.Record(ctx, complete); err != nil {
		t.Fatalf("Record completion failed: %v", err)
	}
	// Redelivery must not error or duplicate.
	if err := j.Record(ctx, complete); err != nil {
		t.Fatalf("Record duplicate completion failed: %v", err)
	}

	status, err := j.CompletionStatus(ctx, "ord-1")
	if err != nil {
		t.Fatalf("CompletionStatus failed: %v", err)
	}
	if status != string(domain.StatusFilled) {
		t.Errorf("Expected FILLED, got %q", status)
	}

	status, err = j.CompletionStatus(ctx, "ord-unknown")
	if err != nil {
		t.Fatalf("CompletionStatus failed: %v", err)
	}
	if status != "" {
		t.Errorf("Expected empty status for unknown order, got %q", status)
	}

	reject := event.RejectEvent{
		BaseEvent: event.BaseEvent{Seq: 2, Ts: time.Now()},
		MarketID:  "mkt-2",
		Outcome:   "NO",
		Reason:    "max_total_exposure",
	}
	if err := j.Record(ctx, reject); err != nil {
		t.Fatalf("Record rejection failed: %v", err)
	}
	n, err := j.RejectionCount(ctx)
	if err != nil {
		t.Fatalf("RejectionCount failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 rejection, got %d", n)
	}
}

func TestJournal_ConsumeDrainsBus(t *testing.T) {
	j := newTestJournal(t)

	bus := event.NewBus()
	ch := bus.Subscribe(16)

	done := make(chan struct{})
	go func() {
		defer close(done)
		j.Consume(context.Background(), ch)
	}()

	ev := fill(0, "ord-consume", 1)
	ev.BaseEvent = bus.Stamp()
	bus.Publish(ev)

	halt := event.KillSwitchEvent{
		BaseEvent: bus.Stamp(),
		Active:    true,
		Reason:    "manual",
	}
	bus.Publish(halt)

	bus.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Consume did not exit after bus close")
	}

	n, err := j.FillCount(context.Background(), "ord-consume")
	if err != nil {
		t.Fatalf("FillCount failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 journaled fill, got %d", n)
	}
}

type replayRecorder struct {
	keys  []domain.PositionKey
	sides []domain.Side
	total decimal.Decimal
}

func (r *replayRecorder) OnFill(key domain.PositionKey, side domain.Side, size, price decimal.Decimal) {
	r.keys = append(r.keys, key)
	r.sides = append(r.sides, side)
	r.total = r.total.Add(size)
}

func TestJournal_ReplayFills(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	sell := fill(3, "ord-2", 1)
	sell.Side = domain.SideSell
	sell.MarketID = "mkt-2"
	for _, ev := range []event.FillEvent{
		fill(1, "ord-1", 1),
		fill(2, "ord-1", 2),
		sell,
	} {
		if err := j.Record(ctx, ev); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	rec := &replayRecorder{}
	n, err := j.ReplayFills(ctx, rec)
	if err != nil {
		t.Fatalf("ReplayFills failed: %v", err)
	}
	if n != 3 {
		t.Errorf("replayed %d fills, want 3", n)
	}
	if !rec.total.Equal(decimal.NewFromInt(120)) {
		t.Errorf("replayed total size = %s, want 120", rec.total)
	}
	if rec.keys[0].MarketID != "mkt-1" || rec.keys[2].MarketID != "mkt-2" {
		t.Errorf("replay out of insertion order: %v", rec.keys)
	}
	if rec.sides[2] != domain.SideSell {
		t.Errorf("side = %s, want SELL preserved", rec.sides[2])
	}
}

func TestJournal_ReplayEmpty(t *testing.T) {
	j := newTestJournal(t)

	rec := &replayRecorder{}
	n, err := j.ReplayFills(context.Background(), rec)
	if err != nil {
		t.Fatalf("ReplayFills failed: %v", err)
	}
	if n != 0 || len(rec.keys) != 0 {
		t.Errorf("replayed %d fills from an empty journal", n)
	}
}
