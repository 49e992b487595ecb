package infra

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration. It is loaded once,
// validated, and passed into components as an immutable snapshot;
// nothing reads it through ambient globals.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Trading struct {
		Mode           string  `yaml:"mode"` // "paper", "dry_run", "live"
		InitialCapital float64 `yaml:"initial_capital"`
	} `yaml:"trading"`

	Risk struct {
		MaxPositionSize       float64             `yaml:"max_position_size"`
		MaxTotalExposure      float64             `yaml:"max_total_exposure"`
		MaxDailyLoss          float64             `yaml:"max_daily_loss"`
		MaxDrawdownPct        float64             `yaml:"max_drawdown_pct"`
		MaxOpenPositions      int                 `yaml:"max_open_positions"`
		MaxCorrelatedExposure float64             `yaml:"max_correlated_exposure"`
		CorrelationGroups     map[string][]string `yaml:"correlation_groups"` // group -> market ids
		DailyResetHourUTC     int                 `yaml:"daily_reset_hour_utc"`

		Sizing struct {
			Mode             string  `yaml:"mode"` // "fixed", "fixed_pct", "kelly", "confidence_based"
			FixedPct         float64 `yaml:"fixed_pct"`
			KellyFractionCap float64 `yaml:"kelly_fraction_cap"`
			MinSize          float64 `yaml:"min_size"`
			MaxSize          float64 `yaml:"max_size"`
		} `yaml:"sizing"`
	} `yaml:"risk"`

	Venue struct {
		WSURL     string `yaml:"ws_url"`
		APIKey    string `yaml:"api_key"`
		APISecret string `yaml:"api_secret"`

		Endpoints map[string]EndpointConfig `yaml:"endpoints"`

		Retry struct {
			MaxAttempts  int `yaml:"max_attempts"`
			BaseDelayMS  int `yaml:"base_delay_ms"`
			MaxDelayMS   int `yaml:"max_delay_ms"`
			CallTimeoutS int `yaml:"call_timeout_sec"`
		} `yaml:"retry"`
	} `yaml:"venue"`

	Orders struct {
		PartialFillTimeoutSec int `yaml:"partial_fill_timeout_sec"`
		ReconcileIntervalSec  int `yaml:"reconcile_interval_sec"`
		// MaxReconcileMisses bounds how many sweeps may find no venue
		// record for an unconfirmed order before it is declared rejected.
		// 0 means retry indefinitely.
		MaxReconcileMisses int `yaml:"max_reconcile_misses"`
	} `yaml:"orders"`

	Cache struct {
		Capacity int `yaml:"capacity"`
		TTLSec   int `yaml:"ttl_sec"`
	} `yaml:"cache"`

	KillSwitch struct {
		SentinelPath    string `yaml:"sentinel_path"`
		PollIntervalSec int    `yaml:"poll_interval_sec"`
	} `yaml:"kill_switch"`

	Storage struct {
		JournalPath string `yaml:"journal_path"`
	} `yaml:"storage"`

	Metrics struct {
		Addr string `yaml:"addr"` // e.g. "localhost:9100", empty disables
	} `yaml:"metrics"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file, applies environment
// overrides for secrets, and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Trading.Mode) {
	case "paper", "dry_run", "live":
	default:
		return fmt.Errorf("invalid trading mode: %s", c.Trading.Mode)
	}

	if c.Trading.InitialCapital <= 0 {
		return fmt.Errorf("initial capital must be positive")
	}
	if c.Risk.MaxPositionSize <= 0 {
		return fmt.Errorf("max_position_size must be positive")
	}
	if c.Risk.MaxTotalExposure < c.Risk.MaxPositionSize {
		return fmt.Errorf("max_total_exposure must be at least max_position_size")
	}
	if c.Risk.MaxDrawdownPct <= 0 || c.Risk.MaxDrawdownPct >= 1 {
		return fmt.Errorf("max_drawdown_pct must be in (0,1)")
	}
	if c.Risk.DailyResetHourUTC < 0 || c.Risk.DailyResetHourUTC > 23 {
		return fmt.Errorf("daily_reset_hour_utc must be in [0,23]")
	}

	switch c.Risk.Sizing.Mode {
	case "fixed", "fixed_pct", "kelly", "confidence_based":
	default:
		return fmt.Errorf("invalid sizing mode: %s", c.Risk.Sizing.Mode)
	}

	if strings.ToLower(c.Trading.Mode) == "live" && c.Venue.WSURL != "" {
		if !strings.HasPrefix(c.Venue.WSURL, "ws://") && !strings.HasPrefix(c.Venue.WSURL, "wss://") {
			return fmt.Errorf("invalid venue WS URL: %s", c.Venue.WSURL)
		}
	}

	if c.Orders.PartialFillTimeoutSec <= 0 {
		return fmt.Errorf("partial_fill_timeout_sec must be positive")
	}
	if c.Orders.ReconcileIntervalSec <= 0 {
		return fmt.Errorf("reconcile_interval_sec must be positive")
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.Trading.Mode == "" {
		c.Trading.Mode = "paper"
	}
	if c.Risk.Sizing.Mode == "" {
		c.Risk.Sizing.Mode = "fixed"
	}
	if c.Risk.Sizing.KellyFractionCap == 0 {
		c.Risk.Sizing.KellyFractionCap = 0.25
	}
	if c.Venue.Retry.MaxAttempts == 0 {
		c.Venue.Retry.MaxAttempts = 3
	}
	if c.Venue.Retry.BaseDelayMS == 0 {
		c.Venue.Retry.BaseDelayMS = 1000
	}
	if c.Venue.Retry.MaxDelayMS == 0 {
		c.Venue.Retry.MaxDelayMS = 30000
	}
	if c.Venue.Retry.CallTimeoutS == 0 {
		c.Venue.Retry.CallTimeoutS = 10
	}
	if c.Orders.PartialFillTimeoutSec == 0 {
		c.Orders.PartialFillTimeoutSec = 300
	}
	if c.Orders.ReconcileIntervalSec == 0 {
		c.Orders.ReconcileIntervalSec = 30
	}
	if c.Cache.Capacity == 0 {
		c.Cache.Capacity = 256
	}
	if c.Cache.TTLSec == 0 {
		c.Cache.TTLSec = 60
	}
	if c.KillSwitch.PollIntervalSec == 0 {
		c.KillSwitch.PollIntervalSec = 5
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// overrideWithEnv applies environment variables over the config file.
// Secrets should come from the environment, not the file.
func overrideWithEnv(cfg *Config) {
	if cfg.Venue.APISecret != "" {
		fmt.Println("SECURITY WARNING: venue API secret found in config file.")
		fmt.Println("  Recommendation: use PROFIT_VENUE_KEY / PROFIT_VENUE_SECRET instead.")
	}

	if key := os.Getenv("PROFIT_VENUE_KEY"); key != "" {
		cfg.Venue.APIKey = key
	}
	if secret := os.Getenv("PROFIT_VENUE_SECRET"); secret != "" {
		cfg.Venue.APISecret = secret
	}
	if mode := os.Getenv("PROFIT_TRADING_MODE"); mode != "" {
		cfg.Trading.Mode = mode
	}
}
