package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the execution core.
type Metrics struct {
	OrdersSubmitted prometheus.Counter
	OrdersCompleted *prometheus.CounterVec // labels: status
	FillsTotal      prometheus.Counter
	RejectsTotal    *prometheus.CounterVec // labels: reason
	SubmitDur       prometheus.Histogram

	// Resilience layer
	BreakerState *prometheus.GaugeVec // labels: endpoint; 0=closed, 1=open, 2=half-open

	// Reconciliation
	ReconcileRuns      prometheus.Counter
	OrdersReconciled   prometheus.Counter
	OrdersLimbo        prometheus.Gauge
	StaleOrdersExpired prometheus.Counter

	// Risk state
	KillSwitchActive prometheus.Gauge
	Drawdown         prometheus.Gauge
	TotalExposure    prometheus.Gauge
	OpenPositions    prometheus.Gauge
	OpenOrders       prometheus.Gauge

	// Infrastructure
	CacheHits     *prometheus.GaugeVec // labels: cache; mirrored cumulative counts
	CacheMisses   *prometheus.GaugeVec
	EventsDropped prometheus.Gauge // mirrored from the bus drop counter
}

// NewMetrics registers and returns all metrics. A nil registerer uses
// the process-wide default registry; tests pass their own.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		OrdersSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "execcore_orders_submitted_total",
			Help: "Orders accepted by risk and sent toward the venue",
		}),
		OrdersCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "execcore_orders_completed_total",
			Help: "Orders reaching a terminal status (by status)",
		}, []string{"status"}),
		FillsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "execcore_fills_total",
			Help: "Fills applied to tracked orders",
		}),
		RejectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "execcore_risk_rejects_total",
			Help: "Decisions rejected by the risk manager (by reason)",
		}, []string{"reason"}),
		SubmitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "execcore_submit_duration_seconds",
			Help:    "Venue submit latency including retries",
			Buckets: prometheus.DefBuckets,
		}),

		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "execcore_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"endpoint"}),

		ReconcileRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "execcore_reconcile_runs_total",
			Help: "Reconciliation sweeps executed",
		}),
		OrdersReconciled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "execcore_orders_reconciled_total",
			Help: "Orders whose state was corrected from venue truth",
		}),
		OrdersLimbo: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "execcore_orders_limbo",
			Help: "Orders currently awaiting reconciliation",
		}),
		StaleOrdersExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "execcore_stale_orders_expired_total",
			Help: "Partially filled orders expired by the reaper",
		}),

		KillSwitchActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "execcore_kill_switch_active",
			Help: "Kill switch state (0=inactive, 1=active)",
		}),
		Drawdown: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "execcore_drawdown",
			Help: "Current drawdown fraction from peak capital",
		}),
		TotalExposure: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "execcore_total_exposure_usd",
			Help: "Summed notional of all open positions",
		}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "execcore_open_positions",
			Help: "Count of open positions",
		}),
		OpenOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "execcore_open_orders",
			Help: "Count of non-terminal tracked orders",
		}),

		CacheHits: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "execcore_cache_hits",
			Help: "Cumulative cache hits (by cache name)",
		}, []string{"cache"}),
		CacheMisses: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "execcore_cache_misses",
			Help: "Cumulative cache misses (by cache name)",
		}, []string{"cache"}),
		EventsDropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "execcore_events_dropped",
			Help: "Cumulative bus events dropped for slow subscribers",
		}),
	}

	reg.MustRegister(
		m.OrdersSubmitted,
		m.OrdersCompleted,
		m.FillsTotal,
		m.RejectsTotal,
		m.SubmitDur,
		m.BreakerState,
		m.ReconcileRuns,
		m.OrdersReconciled,
		m.OrdersLimbo,
		m.StaleOrdersExpired,
		m.KillSwitchActive,
		m.Drawdown,
		m.TotalExposure,
		m.OpenPositions,
		m.OpenOrders,
		m.CacheHits,
		m.CacheMisses,
		m.EventsDropped,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	StreamConnected bool      `json:"stream_connected"`
	LastFillTime    time.Time `json:"last_fill_time"`
	JournalOK       bool      `json:"journal_ok"`
	KillSwitch      bool      `json:"kill_switch"`
	TradingMode     string    `json:"trading_mode"`

	JournalLatencyMs float64   `json:"journal_latency_ms"`
	LastCheckAt      time.Time `json:"last_check_at"`
	StartedAt        time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus(mode string) *HealthStatus {
	return &HealthStatus{
		StartedAt:   time.Now(),
		TradingMode: mode,
		JournalOK:   true,
	}
}

func (h *HealthStatus) SetStreamConnected(v bool) {
	h.mu.Lock()
	h.StreamConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastFillTime(t time.Time) {
	h.mu.Lock()
	h.LastFillTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetKillSwitch(v bool) {
	h.mu.Lock()
	h.KillSwitch = v
	h.mu.Unlock()
}

// CheckJournal pings the journal database and records latency + health.
func (h *HealthStatus) CheckJournal(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.JournalOK = err == nil
	h.JournalLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, db *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if db != nil {
					h.CheckJournal(probeCtx, db)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	if !h.JournalOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if h.KillSwitch {
		// Halted is a deliberate state, not a probe failure; report it
		// without failing the health check.
		overallStatus = "halted"
	}

	fillAge := ""
	if !h.LastFillTime.IsZero() {
		fillAge = time.Since(h.LastFillTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status           string  `json:"status"`
		Uptime           string  `json:"uptime"`
		TradingMode      string  `json:"trading_mode"`
		StreamConnected  bool    `json:"stream_connected"`
		LastFillTime     string  `json:"last_fill_time"`
		FillAge          string  `json:"fill_age"`
		JournalOK        bool    `json:"journal_ok"`
		JournalLatencyMs float64 `json:"journal_latency_ms"`
		KillSwitch       bool    `json:"kill_switch"`
		LastCheckAt      string  `json:"last_check_at"`
	}{
		Status:           overallStatus,
		Uptime:           time.Since(h.StartedAt).Round(time.Second).String(),
		TradingMode:      h.TradingMode,
		StreamConnected:  h.StreamConnected,
		LastFillTime:     h.LastFillTime.Format(time.RFC3339),
		FillAge:          fillAge,
		JournalOK:        h.JournalOK,
		JournalLatencyMs: h.JournalLatencyMs,
		KillSwitch:       h.KillSwitch,
		LastCheckAt:      h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		slog.Info("metrics server listening", slog.String("addr", s.addr))
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("metrics server error", slog.Any("error", err))
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
