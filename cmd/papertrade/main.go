package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/randomness11/probablyprofit/internal/domain"
	"github.com/randomness11/probablyprofit/internal/event"
	"github.com/randomness11/probablyprofit/internal/infra"
	"github.com/randomness11/probablyprofit/internal/order"
	"github.com/randomness11/probablyprofit/internal/risk"
	"github.com/randomness11/probablyprofit/internal/venue"
)

// Drives scripted decisions through the full core against the paper
// venue: submit, partial fills, reconciliation after a lost submission,
// cancel idempotence, and the final risk snapshot.
func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	slog.Info("🚀 Starting paper trade run...")

	ctx := context.Background()

	// Manual wiring. We bypass the config file to force a known state.
	bus := event.NewBus()
	ks := risk.NewKillSwitch(bus)

	rm := risk.NewManager(
		risk.Limits{
			MaxPositionSize:  decimal.NewFromInt(100),
			MaxTotalExposure: decimal.NewFromInt(500),
			MaxDrawdownPct:   decimal.NewFromFloat(0.2),
			MaxOpenPositions: 10,
		},
		risk.SizingConfig{Mode: risk.SizingFixed},
		nil, ks, bus, decimal.NewFromInt(1000), 0,
	)

	paper := venue.NewPaper(decimal.NewFromInt(1000))

	registry := infra.NewRegistry(nil, infra.EndpointConfig{
		Burst:            10,
		PerSecond:        10,
		FailureThreshold: 5,
		TimeoutSec:       30,
	})
	retry := infra.NewRetryPolicy(infra.RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   50 * time.Millisecond,
		MaxDelay:    time.Second,
	})

	om := order.NewManager(paper, registry, retry, ks, rm, bus, order.Config{
		PartialFillTimeout: 5 * time.Minute,
		ReconcileInterval:  time.Second,
		CallTimeout:        5 * time.Second,
		MaxReconcileMisses: 3,
	}, 64, time.Minute)

	// STEP 1: Submit a buy and stream partial fills (40 + 35 + 25).
	d := domain.Decision{
		Action:     domain.ActionBuy,
		MarketID:   "election-2028-winner",
		Outcome:    "YES",
		Size:       decimal.NewFromInt(100),
		Price:      decimal.NewFromFloat(0.55),
		Confidence: decimal.NewFromFloat(0.72),
	}

	res := rm.Evaluate(d)
	if !res.Accepted {
		slog.Error("❌ risk rejected the decision", "reason", string(res.Reason))
		os.Exit(1)
	}

	slog.Info("STEP 1: Submitting order...", "size", res.Size.String())
	o, err := om.Submit(ctx, d, res.Size)
	if err != nil {
		slog.Error("❌ Submit failed", "error", err)
		os.Exit(1)
	}

	for _, chunk := range []int64{40, 35, 25} {
		if err := paper.Fill(o.VenueOrderID, decimal.NewFromInt(chunk), d.Price); err != nil {
			slog.Error("❌ venue fill failed", "error", err)
			os.Exit(1)
		}
	}
	om.Reconcile(ctx)

	settled, _ := om.Get(o.ID)
	slog.Info("✅ Order settled",
		"status", string(settled.Status),
		"filled", settled.FilledSize().String())

	// STEP 2: Lost submission recovered by reconciliation. All retry
	// attempts must lose their response or the in-call retry recovers
	// via the idempotency key before limbo is ever entered.
	slog.Info("STEP 2: Losing a submission...")
	paper.LoseSubmissions(3)
	d2 := d
	d2.MarketID = "fed-cut-march"
	limbo, err := om.Submit(ctx, d2, decimal.NewFromInt(50))
	if err == nil {
		slog.Error("❌ expected an unconfirmed submission")
		os.Exit(1)
	}
	om.Reconcile(ctx)
	recovered, _ := om.Get(limbo.ID)
	slog.Info("✅ Limbo order recovered",
		"status", string(recovered.Status),
		"venue_id", recovered.VenueOrderID)

	// STEP 3: Cancel is idempotent.
	slog.Info("STEP 3: Cancelling twice...")
	if err := om.Cancel(ctx, recovered.ID); err != nil {
		slog.Error("❌ Cancel failed", "error", err)
		os.Exit(1)
	}
	if err := om.Cancel(ctx, recovered.ID); err != nil {
		slog.Error("❌ second Cancel not a no-op", "error", err)
		os.Exit(1)
	}
	slog.Info("✅ Cancel idempotent")

	// Final state.
	stats := rm.Snapshot()
	slog.Info("🎉 Paper trade run complete",
		"capital", stats.CurrentCapital.String(),
		"exposure", stats.TotalExposure.String(),
		"open_positions", stats.OpenPositions,
		"drawdown", stats.Drawdown.String())

	bus.Close()
}
