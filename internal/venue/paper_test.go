package venue

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/randomness11/probablyprofit/internal/domain"
)

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func placeReq(key string) PlaceOrderRequest {
	return PlaceOrderRequest{
		MarketID:       "mkt-1",
		Outcome:        "YES",
		Side:           domain.SideBuy,
		Size:           dec(100),
		Price:          dec(0.55),
		IdempotencyKey: key,
	}
}

func TestPaper_PlaceAndFill(t *testing.T) {
	p := NewPaper(dec(1000))
	ctx := context.Background()

	id, err := p.PlaceOrder(ctx, placeReq("k-1"))
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}

	if err := p.Fill(id, dec(40), dec(0.55)); err != nil {
		t.Fatal(err)
	}
	st, err := p.GetOrderStatus(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != domain.StatusPartiallyFilled || len(st.Fills) != 1 {
		t.Errorf("status = %+v, want one partial fill", st)
	}

	p.Fill(id, dec(60), dec(0.55))
	st, _ = p.GetOrderStatus(ctx, id)
	if st.Status != domain.StatusFilled {
		t.Errorf("status = %s, want FILLED", st.Status)
	}

	bal, _ := p.GetBalance(ctx)
	if !bal.Equal(dec(900)) {
		t.Errorf("balance = %s, want 900 after buying 100", bal)
	}
}

func TestPaper_IdempotencyKeyDeduplicates(t *testing.T) {
	p := NewPaper(dec(1000))
	ctx := context.Background()

	first, err := p.PlaceOrder(ctx, placeReq("k-1"))
	if err != nil {
		t.Fatal(err)
	}
	second, err := p.PlaceOrder(ctx, placeReq("k-1"))
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("dedup returned %s, want the original %s", second, first)
	}

	other, _ := p.PlaceOrder(ctx, placeReq("k-2"))
	if other == first {
		t.Error("distinct keys must create distinct orders")
	}
}

func TestPaper_LostSubmissionStillRegisters(t *testing.T) {
	p := NewPaper(dec(1000))
	ctx := context.Background()

	p.LoseSubmissions(1)
	_, err := p.PlaceOrder(ctx, placeReq("k-1"))
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("err = %v, want NetworkError", err)
	}

	// The retry with the same key surfaces the order the venue holds.
	id, err := p.PlaceOrder(ctx, placeReq("k-1"))
	if err != nil {
		t.Fatalf("idempotent retry failed: %v", err)
	}
	if _, err := p.GetOrderStatus(ctx, id); err != nil {
		t.Errorf("order not registered despite lost response: %v", err)
	}
}

func TestPaper_LoseSubmissionsCoversRetries(t *testing.T) {
	p := NewPaper(dec(1000))
	ctx := context.Background()

	// All three responses lost, including the idempotent retries.
	p.LoseSubmissions(3)
	for i := 0; i < 3; i++ {
		if _, err := p.PlaceOrder(ctx, placeReq("k-1")); err == nil {
			t.Fatalf("attempt %d should have lost its response", i+1)
		}
	}
	if id, err := p.PlaceOrder(ctx, placeReq("k-1")); err != nil || id == "" {
		t.Errorf("fourth attempt = %q, %v; want recovery", id, err)
	}
}

func TestPaper_Validation(t *testing.T) {
	p := NewPaper(dec(1000))
	ctx := context.Background()

	bad := placeReq("k-1")
	bad.Size = decimal.Zero
	if _, err := p.PlaceOrder(ctx, bad); err == nil {
		t.Error("zero size accepted")
	}

	bad = placeReq("k-2")
	bad.Price = dec(1.5)
	if _, err := p.PlaceOrder(ctx, bad); err == nil {
		t.Error("price above 1 accepted")
	}

	bad = placeReq("k-3")
	bad.Size = dec(5000) // exceeds the 1000 balance
	var oErr *OrderError
	if _, err := p.PlaceOrder(ctx, bad); !errors.As(err, &oErr) {
		t.Errorf("err = %v, want OrderError for insufficient balance", err)
	}
}

func TestPaper_CancelIdempotent(t *testing.T) {
	p := NewPaper(dec(1000))
	ctx := context.Background()

	id, _ := p.PlaceOrder(ctx, placeReq("k-1"))
	if ok, err := p.CancelOrder(ctx, id); err != nil || !ok {
		t.Fatalf("cancel = %v, %v", ok, err)
	}
	if ok, err := p.CancelOrder(ctx, id); err != nil || !ok {
		t.Errorf("second cancel = %v, %v; want idempotent success", ok, err)
	}
	if _, err := p.CancelOrder(ctx, "unknown"); err == nil {
		t.Error("cancel of unknown order succeeded")
	}

	if err := p.Fill(id, dec(10), dec(0.5)); err == nil {
		t.Error("fill accepted on a cancelled order")
	}
}

func TestPaper_AutoFill(t *testing.T) {
	p := NewPaper(dec(1000))
	p.SetAutoFill(true)
	ctx := context.Background()

	id, err := p.PlaceOrder(ctx, placeReq("k-1"))
	if err != nil {
		t.Fatal(err)
	}
	st, _ := p.GetOrderStatus(ctx, id)
	if st.Status != domain.StatusFilled {
		t.Errorf("status = %s, want FILLED immediately", st.Status)
	}
	if len(st.Fills) != 1 || !st.Fills[0].Size.Equal(dec(100)) {
		t.Errorf("fills = %+v, want one complete fill at limit", st.Fills)
	}
}

func TestPaper_FailNextQueue(t *testing.T) {
	p := NewPaper(dec(1000))
	ctx := context.Background()

	p.FailNext("get_balance",
		&NetworkError{Op: "get_balance", Err: fmt.Errorf("down")},
		&RateLimitError{RetryAfterMS: 100})

	if _, err := p.GetBalance(ctx); err == nil {
		t.Error("first queued failure not delivered")
	}
	if _, err := p.GetBalance(ctx); err == nil {
		t.Error("second queued failure not delivered")
	}
	if _, err := p.GetBalance(ctx); err != nil {
		t.Errorf("queue exhausted but still failing: %v", err)
	}
}

func TestPaper_GetPositionsAggregation(t *testing.T) {
	p := NewPaper(dec(1000))
	ctx := context.Background()

	// Two buys at different prices, then a partial sell-back.
	buy1 := placeReq("k-1")
	buy1.Size = dec(60)
	id1, err := p.PlaceOrder(ctx, buy1)
	if err != nil {
		t.Fatal(err)
	}
	p.Fill(id1, dec(60), dec(0.4))

	buy2 := placeReq("k-2")
	buy2.Size = dec(40)
	id2, _ := p.PlaceOrder(ctx, buy2)
	p.Fill(id2, dec(40), dec(0.6))

	sell := placeReq("k-3")
	sell.Side = domain.SideSell
	sell.Size = dec(30)
	id3, _ := p.PlaceOrder(ctx, sell)
	p.Fill(id3, dec(30), dec(0.7))

	// A market traded only on the sell side.
	sellOnly := placeReq("k-4")
	sellOnly.MarketID = "mkt-2"
	sellOnly.Side = domain.SideSell
	sellOnly.Size = dec(20)
	id4, _ := p.PlaceOrder(ctx, sellOnly)
	p.Fill(id4, dec(20), dec(0.8))

	snaps, err := p.GetPositions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	byMarket := make(map[string]PositionSnapshot, len(snaps))
	for _, s := range snaps {
		byMarket[s.MarketID] = s
	}

	// 60 + 40 bought, 30 sold back.
	mkt1, ok := byMarket["mkt-1"]
	if !ok {
		t.Fatal("no snapshot for mkt-1")
	}
	if !mkt1.Size.Equal(dec(70)) {
		t.Errorf("mkt-1 size = %s, want 70", mkt1.Size)
	}
	// Entry weighted across buys only: (60*0.4 + 40*0.6) / 100 = 0.48.
	if !mkt1.AvgPrice.Equal(dec(0.48)) {
		t.Errorf("mkt-1 avg price = %s, want 0.48", mkt1.AvgPrice)
	}

	mkt2, ok := byMarket["mkt-2"]
	if !ok {
		t.Fatal("no snapshot for mkt-2")
	}
	if !mkt2.Size.Equal(dec(-20)) {
		t.Errorf("mkt-2 size = %s, want -20 for a sell-only market", mkt2.Size)
	}
	if !mkt2.AvgPrice.IsZero() {
		t.Errorf("mkt-2 avg price = %s, want 0 with no buys", mkt2.AvgPrice)
	}
}

func TestPaper_GetOrderStatusUnknown(t *testing.T) {
	p := NewPaper(dec(1000))
	if _, err := p.GetOrderStatus(context.Background(), "nope"); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("err = %v, want ErrOrderNotFound", err)
	}
}
