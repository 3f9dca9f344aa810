// Package config loads and validates the application configuration file.
// Malformed values fail Load outright rather than surfacing later as odd
// behavior mid-cycle.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"wheelhouse/internal/analysis"
	"wheelhouse/internal/engine"
	"wheelhouse/internal/market"
	"wheelhouse/internal/scanner"
	"wheelhouse/internal/signal"
	"wheelhouse/internal/types"
)

type AppConfig struct {
	LogLevel string `mapstructure:"log_level"`
	LogPath  string `mapstructure:"log_path"`
	HTTPAddr string `mapstructure:"http_addr"`
}

type EngineConfig struct {
	Users   []string       `mapstructure:"users"`
	Cadence engine.Cadence `mapstructure:"cadence"`
}

type ScannerConfig struct {
	Weights      analysis.Weights     `mapstructure:"weights"`
	IVBands      signal.IVBands       `mapstructure:"iv_bands"`
	ScoreWeights scanner.ScoreWeights `mapstructure:"score_weights"`
	MinIVSamples int                  `mapstructure:"min_iv_samples"`
}

type BrokerConfig struct {
	// Mode is "paper" or "rest".
	Mode             string            `mapstructure:"mode"`
	REST             market.RESTConfig `mapstructure:"rest"`
	BreakerThreshold int               `mapstructure:"breaker_threshold"`
	BreakerCooldown  time.Duration     `mapstructure:"breaker_cooldown"`
}

type AccountConfig struct {
	Equity      float64 `mapstructure:"equity"`
	BuyingPower float64 `mapstructure:"buying_power"`
}

type StoreConfig struct {
	Path     string `mapstructure:"path"`
	DiagPath string `mapstructure:"diag_path"`
}

type NotifyConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
}

type ProfileConfig struct {
	Path      string `mapstructure:"path"`
	HotReload bool   `mapstructure:"hot_reload"`
}

// RiskConfig seeds per-user limits when the store has none yet.
type RiskConfig struct {
	MaxPortfolioDelta       float64 `mapstructure:"max_portfolio_delta"`
	MaxPortfolioTheta       float64 `mapstructure:"max_portfolio_theta"`
	MaxPortfolioVega        float64 `mapstructure:"max_portfolio_vega"`
	MaxPositionSizePct      float64 `mapstructure:"max_position_size_pct"`
	MaxPortfolioExposurePct float64 `mapstructure:"max_portfolio_exposure_pct"`
	MaxOpenPositions        int     `mapstructure:"max_open_positions"`
	MaxDailyLossPct         float64 `mapstructure:"max_daily_loss_pct"`
}

func (r RiskConfig) Limits(userID string) types.RiskLimits {
	return types.RiskLimits{
		UserID:                  userID,
		MaxPortfolioDelta:       r.MaxPortfolioDelta,
		MaxPortfolioTheta:       r.MaxPortfolioTheta,
		MaxPortfolioVega:        r.MaxPortfolioVega,
		MaxPositionSizePct:      r.MaxPositionSizePct,
		MaxPortfolioExposurePct: r.MaxPortfolioExposurePct,
		MaxOpenPositions:        r.MaxOpenPositions,
		MaxDailyLossPct:         r.MaxDailyLossPct,
	}
}

type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Scanner ScannerConfig `mapstructure:"scanner"`
	Broker  BrokerConfig  `mapstructure:"broker"`
	Account AccountConfig `mapstructure:"account"`
	Store   StoreConfig   `mapstructure:"store"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Profile ProfileConfig `mapstructure:"profile"`
	Risk    RiskConfig    `mapstructure:"risk"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.HTTPAddr == "" {
		c.App.HTTPAddr = ":8087"
	}
	if len(c.Engine.Users) == 0 {
		c.Engine.Users = []string{"default"}
	}
	if c.Broker.Mode == "" {
		c.Broker.Mode = "paper"
	}
	if c.Broker.BreakerThreshold <= 0 {
		c.Broker.BreakerThreshold = 5
	}
	if c.Broker.BreakerCooldown <= 0 {
		c.Broker.BreakerCooldown = 2 * time.Minute
	}
	if c.Account.Equity <= 0 {
		c.Account.Equity = 100000
	}
	if c.Account.BuyingPower <= 0 {
		c.Account.BuyingPower = c.Account.Equity / 2
	}
	if c.Store.Path == "" {
		c.Store.Path = "data/wheelhouse.db"
	}
	if c.Store.DiagPath == "" {
		c.Store.DiagPath = "data/diagnostics.db"
	}
	if c.Profile.Path == "" {
		c.Profile.Path = "configs/automations.yaml"
	}
}

func (c *Config) validate() error {
	switch strings.ToLower(c.App.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("app.log_level must be one of debug/info/warn/error, got %q", c.App.LogLevel)
	}
	switch c.Broker.Mode {
	case "paper":
	case "rest":
		if strings.TrimSpace(c.Broker.REST.BaseURL) == "" {
			return fmt.Errorf("broker.rest.base_url is required in rest mode")
		}
	default:
		return fmt.Errorf("broker.mode must be paper or rest, got %q", c.Broker.Mode)
	}
	for _, u := range c.Engine.Users {
		if strings.TrimSpace(u) == "" {
			return fmt.Errorf("engine.users contains an empty user id")
		}
	}
	if c.Scanner.MinIVSamples < 0 {
		return fmt.Errorf("scanner.min_iv_samples cannot be negative")
	}
	// IV rank is on [0,1]; bands outside that scale silently invert the
	// favorability adjustment, so reject them outright.
	if b := c.Scanner.IVBands; b != (signal.IVBands{}) {
		if b.Low < 0 || b.High > 1 || b.Low >= b.High {
			return fmt.Errorf("scanner.iv_bands must satisfy 0 <= low < high <= 1, got low=%v high=%v", b.Low, b.High)
		}
		if b.Adjustment < 0 || b.Adjustment > 1 {
			return fmt.Errorf("scanner.iv_bands.adjustment must be in [0,1], got %v", b.Adjustment)
		}
	}
	if c.Risk.MaxPositionSizePct < 0 || c.Risk.MaxPositionSizePct > 100 {
		return fmt.Errorf("risk.max_position_size_pct must be in [0,100], got %v", c.Risk.MaxPositionSizePct)
	}
	if c.Risk.MaxPortfolioExposurePct < 0 || c.Risk.MaxPortfolioExposurePct > 100 {
		return fmt.Errorf("risk.max_portfolio_exposure_pct must be in [0,100], got %v", c.Risk.MaxPortfolioExposurePct)
	}
	return nil
}
