package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/randomness11/probablyprofit/internal/event"
	"github.com/randomness11/probablyprofit/internal/infra"
	"github.com/randomness11/probablyprofit/internal/metrics"
	"github.com/randomness11/probablyprofit/internal/order"
	"github.com/randomness11/probablyprofit/internal/risk"
	"github.com/randomness11/probablyprofit/internal/storage"
	"github.com/randomness11/probablyprofit/internal/venue"
)

// Bootstrap orchestrates the application startup sequence.
type Bootstrap struct {
	Config     *infra.Config
	Bus        *event.Bus
	KillSw     *risk.KillSwitch
	Risk       *risk.Manager
	Orders     *order.Manager
	Journal    *storage.Journal
	Snapshots  *storage.SnapshotManager
	Venue      venue.Client
	Health     *metrics.HealthStatus
	Metrics    *metrics.Metrics
	MetricsSrv *metrics.Server
	Stream     *venue.Stream
	Registry   *infra.Registry

	unlock func()
}

// NewBootstrap creates a new Bootstrap instance.
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization (config, dirs, journal,
// risk and order managers). liveClient supplies the venue transport for
// live mode; paper and dry_run modes build the in-process simulator and
// ignore it.
func (b *Bootstrap) Initialize(liveClient venue.Client) error {
	slog.Info("🚀 Bootstrapping ProbablyProfit...")

	// 1. Load Config (Dynamic Path Resolution)
	cfg, err := infra.LoadConfig(infra.ResolveConfigPath())
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Workspace layout: _workspace/data/{mode}, _workspace/logs/{mode}.
	// Data isolation keeps a paper run from ever touching live state.
	mode := strings.ToLower(cfg.Trading.Mode)

	workDir := infra.GetWorkspaceDir()
	dataDir := filepath.Join(workDir, "data", mode)
	logDir := filepath.Join(workDir, "logs", mode)

	if err := infra.EnsureDir(dataDir); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	if err := infra.EnsureDir(logDir); err != nil {
		return fmt.Errorf("failed to create log dir: %w", err)
	}

	// 3. Logger mirrored into the per-mode log file.
	var logFile io.Writer
	if f, ferr := os.OpenFile(filepath.Join(logDir, "app.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644); ferr == nil {
		logFile = f
	}
	slog.SetDefault(infra.NewLogger(cfg, logFile))

	// 3.1 Singleton instance lock. Two processes sharing one journal DB
	// corrupt each other's order books.
	unlock, err := infra.CreateLockFile(workDir)
	if err != nil {
		return err
	}
	b.unlock = unlock

	// 4. Trade journal (WAL-mode sqlite, event-bus consumer).
	journalPath := cfg.Storage.JournalPath
	if journalPath == "" {
		journalPath = filepath.Join(dataDir, "journal.db")
	}
	journal, err := storage.NewJournal(journalPath)
	if err != nil {
		return err
	}
	b.Journal = journal
	slog.Info("✅ Trade journal initialized (WAL-mode)", "path", journalPath, "mode", mode)

	b.Snapshots = storage.NewSnapshotManager(filepath.Join(dataDir, "snapshots"))

	// 5. Event bus, kill switch, risk manager.
	b.Bus = event.NewBus()
	b.KillSw = risk.NewKillSwitch(b.Bus)

	b.Risk = risk.NewManager(
		risk.Limits{
			MaxPositionSize:       decimal.NewFromFloat(cfg.Risk.MaxPositionSize),
			MaxTotalExposure:      decimal.NewFromFloat(cfg.Risk.MaxTotalExposure),
			MaxDailyLoss:          decimal.NewFromFloat(cfg.Risk.MaxDailyLoss),
			MaxDrawdownPct:        decimal.NewFromFloat(cfg.Risk.MaxDrawdownPct),
			MaxOpenPositions:      cfg.Risk.MaxOpenPositions,
			MaxCorrelatedExposure: decimal.NewFromFloat(cfg.Risk.MaxCorrelatedExposure),
		},
		risk.SizingConfig{
			Mode:             risk.SizingMode(cfg.Risk.Sizing.Mode),
			FixedPct:         decimal.NewFromFloat(cfg.Risk.Sizing.FixedPct),
			KellyFractionCap: decimal.NewFromFloat(cfg.Risk.Sizing.KellyFractionCap),
			MinSize:          decimal.NewFromFloat(cfg.Risk.Sizing.MinSize),
			MaxSize:          decimal.NewFromFloat(cfg.Risk.Sizing.MaxSize),
		},
		cfg.Risk.CorrelationGroups,
		b.KillSw,
		b.Bus,
		decimal.NewFromFloat(cfg.Trading.InitialCapital),
		cfg.Risk.DailyResetHourUTC,
	)

	// 5.1 Rebuild position and P&L state from the journal's fill log.
	if n, rerr := journal.ReplayFills(context.Background(), b.Risk); rerr != nil {
		slog.Warn("journal replay incomplete", slog.Int("fills", n), slog.Any("error", rerr))
	} else if n > 0 {
		slog.Info("✅ Positions rebuilt from journal", "fills", n)
	}

	// 6. Venue client per trading mode.
	switch mode {
	case "paper", "dry_run":
		paper := venue.NewPaper(decimal.NewFromFloat(cfg.Trading.InitialCapital))
		paper.SetAutoFill(mode == "paper")
		b.Venue = paper
		slog.Info("✅ Paper venue ready", "auto_fill", mode == "paper")
	case "live":
		if liveClient == nil {
			return fmt.Errorf("live mode requires a venue client implementation")
		}
		// Credentials may live in a separate, tighter-permission file
		// next to the main config.
		if cfg.Venue.APIKey == "" {
			secretPath := filepath.Join(filepath.Dir(infra.ResolveConfigPath()), "secrets", "venue.yaml")
			if sc, serr := infra.LoadSecretConfig(secretPath); serr == nil {
				cfg.Venue.APIKey = sc.Venue.APIKey
				cfg.Venue.APISecret = sc.Venue.APISecret
				slog.Info("✅ Venue credentials loaded from secrets file")
			}
		}
		b.Venue = liveClient
	}

	// 7. Order manager over the resilience registry.
	b.Registry = infra.NewRegistry(cfg.Venue.Endpoints, infra.EndpointConfig{
		Burst:            5,
		PerSecond:        5,
		FailureThreshold: 5,
		TimeoutSec:       30,
	})
	retry := infra.NewRetryPolicy(infra.RetryConfig{
		MaxAttempts: cfg.Venue.Retry.MaxAttempts,
		BaseDelay:   time.Duration(cfg.Venue.Retry.BaseDelayMS) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.Venue.Retry.MaxDelayMS) * time.Millisecond,
	})

	b.Orders = order.NewManager(b.Venue, b.Registry, retry, b.KillSw, b.Risk, b.Bus,
		order.Config{
			PartialFillTimeout: time.Duration(cfg.Orders.PartialFillTimeoutSec) * time.Second,
			ReconcileInterval:  time.Duration(cfg.Orders.ReconcileIntervalSec) * time.Second,
			CallTimeout:        time.Duration(cfg.Venue.Retry.CallTimeoutS) * time.Second,
			MaxReconcileMisses: cfg.Orders.MaxReconcileMisses,
		},
		cfg.Cache.Capacity,
		time.Duration(cfg.Cache.TTLSec)*time.Second,
	)

	// 8. Metrics and health.
	b.Health = metrics.NewHealthStatus(mode)
	b.Metrics = metrics.NewMetrics(nil)
	b.Orders.SetMetrics(b.Metrics)
	if cfg.Metrics.Addr != "" {
		b.MetricsSrv = metrics.NewServer(cfg.Metrics.Addr, b.Health)
	}

	// 9. Venue user-channel stream (live mode only; the paper venue
	// reports fills synchronously).
	if mode == "live" && cfg.Venue.WSURL != "" {
		b.Stream = venue.NewStream(cfg.Venue.WSURL, cfg.Venue.APIKey, b.onStreamUpdate)
	}

	return nil
}

// Start launches the background loops: journal consumer, reconciliation
// sweeps, sentinel watcher, metrics server, stream and risk snapshots.
func (b *Bootstrap) Start(ctx context.Context) {
	journalCh := b.Bus.Subscribe(1024)
	go b.Journal.Consume(ctx, journalCh)

	go b.Orders.Run(ctx)

	if path := b.Config.KillSwitch.SentinelPath; path != "" {
		interval := time.Duration(b.Config.KillSwitch.PollIntervalSec) * time.Second
		go b.KillSw.WatchSentinel(ctx, path, interval)
		slog.Info("✅ Sentinel watcher started", "path", path)
	}

	if b.MetricsSrv != nil {
		b.MetricsSrv.Start()
		go b.Health.StartLivenessChecker(ctx, b.Journal.DB(), 30*time.Second)
		go b.observeBus(ctx)
	}

	if b.Stream != nil {
		b.Stream.Start(ctx)
		b.Health.SetStreamConnected(true)
	}

	go b.snapshotLoop(ctx)

	infra.PrintBanner(b.Config)
}

// Shutdown flushes a final snapshot and releases held resources.
func (b *Bootstrap) Shutdown(ctx context.Context) {
	if b.Stream != nil {
		b.Stream.Stop()
	}
	if b.MetricsSrv != nil {
		b.MetricsSrv.Stop(ctx)
	}

	if err := b.Snapshots.Save(storage.CreateSnapshot(0, b.Risk)); err != nil {
		slog.Warn("final snapshot failed", slog.Any("error", err))
	}

	b.Bus.Close()
	if b.Journal != nil {
		b.Journal.Close()
	}
	if b.unlock != nil {
		b.unlock()
	}
	slog.Info("👋 Shutdown complete")
}

// onStreamUpdate routes a push fill from the user channel into the order
// manager. Unknown venue ids are expected during reconnect races and
// settle via reconciliation.
func (b *Bootstrap) onStreamUpdate(u venue.OrderUpdate) {
	if !u.FillSize.IsPositive() {
		return
	}
	ts := time.UnixMilli(u.Timestamp).UTC()
	if err := b.Orders.ApplyVenueFill(u.VenueOrderID, u.FillSize, u.FillPrice, ts); err != nil {
		slog.Debug("stream fill not applied",
			slog.String("venue_order_id", u.VenueOrderID),
			slog.Any("error", err))
		return
	}
	b.Health.SetLastFillTime(ts)
}

// observeBus counts bus events into Prometheus counters and mirrors
// risk, breaker and cache state into gauges on a fixed cadence.
func (b *Bootstrap) observeBus(ctx context.Context) {
	events := b.Bus.Subscribe(256)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			switch e := ev.(type) {
			case event.FillEvent:
				b.Metrics.FillsTotal.Inc()
			case event.OrderCompleteEvent:
				b.Metrics.OrdersCompleted.WithLabelValues(string(e.Status)).Inc()
			case event.RejectEvent:
				b.Metrics.RejectsTotal.WithLabelValues(e.Reason).Inc()
			case event.KillSwitchEvent:
				if e.Active {
					b.Metrics.KillSwitchActive.Set(1)
				} else {
					b.Metrics.KillSwitchActive.Set(0)
				}
			}
		case <-ticker.C:
			stats := b.Risk.Snapshot()
			dd, _ := stats.Drawdown.Float64()
			exp, _ := stats.TotalExposure.Float64()
			b.Metrics.Drawdown.Set(dd)
			b.Metrics.TotalExposure.Set(exp)
			b.Metrics.OpenPositions.Set(float64(stats.OpenPositions))
			b.Metrics.OpenOrders.Set(float64(len(b.Orders.OpenOrders())))
			b.Metrics.EventsDropped.Set(float64(b.Bus.Dropped()))

			for ep, st := range b.Registry.BreakerStates() {
				b.Metrics.BreakerState.WithLabelValues(ep).Set(float64(st))
			}
			for name, cs := range b.Orders.CacheStats() {
				b.Metrics.CacheHits.WithLabelValues(name).Set(float64(cs.Hits))
				b.Metrics.CacheMisses.WithLabelValues(name).Set(float64(cs.Misses))
			}

			if b.KillSw.Active() {
				b.Metrics.KillSwitchActive.Set(1)
			} else {
				b.Metrics.KillSwitchActive.Set(0)
			}
			b.Health.SetKillSwitch(b.KillSw.Active())
		}
	}
}

// snapshotLoop persists periodic risk snapshots and prunes old ones.
func (b *Bootstrap) snapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			seq++
			if err := b.Snapshots.Save(storage.CreateSnapshot(seq, b.Risk)); err != nil {
				slog.Warn("snapshot failed", slog.Any("error", err))
				continue
			}
			if err := b.Snapshots.Cleanup(5); err != nil {
				slog.Warn("snapshot cleanup failed", slog.Any("error", err))
			}
		}
	}
}
