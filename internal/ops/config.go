package ops

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"overlord/internal/risk"
	"overlord/internal/schema"
	"overlord/pkg/conn"
)

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	Engine   EngineConfig   `json:"engine"`
	Venues   []VenueConfig  `json:"venues"`
	Risk     *risk.Config   `json:"risk"`
	Storage  StorageConfig  `json:"storage"`
	Feed     FeedConfig     `json:"feed"`
	Profiler ProfilerConfig `json:"profiler"`
}

// EngineConfig tunes the execution engine.
type EngineConfig struct {
	MaxConcurrentOrders  int    `json:"maxConcurrentOrders"`
	SlippageToleranceBps string `json:"slippageToleranceBps"`
	SlippageHistoryCap   int    `json:"slippageHistoryCap"`
	MonitorIntervalSec   int    `json:"monitorIntervalSec"`
	StaleOrderTimeoutSec int    `json:"staleOrderTimeoutSec"`
	EventBufferSize      int    `json:"eventBufferSize"`
}

// VenueConfig describes one venue profile.
type VenueConfig struct {
	Name         string `json:"name"`
	Enabled      bool   `json:"enabled"`
	Priority     int    `json:"priority"`
	MinOrderSize string `json:"minOrderSize"`
	MaxOrderSize string `json:"maxOrderSize"`
	MakerFee     string `json:"makerFee"`
	TakerFee     string `json:"takerFee"`
}

// StorageConfig selects the storage backend. Driver is "memory" or
// "postgres".
type StorageConfig struct {
	Driver   string      `json:"driver"`
	Postgres conn.Option `json:"postgres"`
}

// FeedConfig points at the quote feed endpoint.
type FeedConfig struct {
	Endpoint string   `json:"endpoint"`
	Symbols  []string `json:"symbols"`
}

// ProfilerConfig enables continuous profiling.
type ProfilerConfig struct {
	Enabled       bool   `json:"enabled"`
	ServerAddress string `json:"serverAddress"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	MaxConcurrentOrders  int
	SlippageToleranceBps decimal.Decimal
	SlippageHistoryCap   int
	MonitorInterval      time.Duration
	StaleOrderTimeout    time.Duration
	EventBufferSize      int

	Venues   []schema.VenueProfile
	Risk     *risk.Config
	Storage  StorageConfig
	Feed     FeedConfig
	Profiler ProfilerConfig
}

// Defaults for fields the file omits.
const (
	defaultMaxConcurrentOrders = 100
	defaultToleranceBps        = "10"
	defaultHistoryCap          = 1000
	defaultMonitorIntervalSec  = 10
	defaultStaleTimeoutSec     = 3600
	defaultEventBufferSize     = 256
)

// Load reads a JSON config file and resolves it.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, err
	}
	return resolve(cfg)
}

func resolve(cfg FileConfig) (Loaded, error) {
	engine := cfg.Engine
	if engine.MaxConcurrentOrders <= 0 {
		engine.MaxConcurrentOrders = defaultMaxConcurrentOrders
	}
	if engine.SlippageToleranceBps == "" {
		engine.SlippageToleranceBps = defaultToleranceBps
	}
	if engine.SlippageHistoryCap <= 0 {
		engine.SlippageHistoryCap = defaultHistoryCap
	}
	if engine.MonitorIntervalSec <= 0 {
		engine.MonitorIntervalSec = defaultMonitorIntervalSec
	}
	if engine.StaleOrderTimeoutSec <= 0 {
		engine.StaleOrderTimeoutSec = defaultStaleTimeoutSec
	}
	if engine.EventBufferSize <= 0 {
		engine.EventBufferSize = defaultEventBufferSize
	}

	tolerance, err := decimal.NewFromString(engine.SlippageToleranceBps)
	if err != nil {
		return Loaded{}, fmt.Errorf("invalid slippage tolerance %q: %w", engine.SlippageToleranceBps, err)
	}
	if tolerance.IsNegative() {
		return Loaded{}, fmt.Errorf("slippage tolerance must be >= 0")
	}

	venues, err := resolveVenues(cfg.Venues)
	if err != nil {
		return Loaded{}, err
	}

	switch cfg.Storage.Driver {
	case "", "memory", "postgres":
	default:
		return Loaded{}, fmt.Errorf("unknown storage driver: %s", cfg.Storage.Driver)
	}

	return Loaded{
		MaxConcurrentOrders:  engine.MaxConcurrentOrders,
		SlippageToleranceBps: tolerance,
		SlippageHistoryCap:   engine.SlippageHistoryCap,
		MonitorInterval:      time.Duration(engine.MonitorIntervalSec) * time.Second,
		StaleOrderTimeout:    time.Duration(engine.StaleOrderTimeoutSec) * time.Second,
		EventBufferSize:      engine.EventBufferSize,
		Venues:               venues,
		Risk:                 cfg.Risk,
		Storage:              cfg.Storage,
		Feed:                 cfg.Feed,
		Profiler:             cfg.Profiler,
	}, nil
}

func resolveVenues(cfgs []VenueConfig) ([]schema.VenueProfile, error) {
	if len(cfgs) == 0 {
		return nil, fmt.Errorf("at least one venue is required")
	}

	seen := make(map[string]struct{}, len(cfgs))
	venues := make([]schema.VenueProfile, 0, len(cfgs))
	for _, cfg := range cfgs {
		if cfg.Name == "" {
			return nil, fmt.Errorf("venue name is empty")
		}
		if _, ok := seen[cfg.Name]; ok {
			return nil, fmt.Errorf("duplicate venue: %s", cfg.Name)
		}
		seen[cfg.Name] = struct{}{}

		if cfg.Priority < 0 || cfg.Priority > 10 {
			return nil, fmt.Errorf("venue %s: priority must be in [0, 10]", cfg.Name)
		}

		profile := schema.VenueProfile{
			Name:     cfg.Name,
			Enabled:  cfg.Enabled,
			Priority: cfg.Priority,
		}
		var err error
		if profile.MinOrderSize, err = parseDecimal(cfg.MinOrderSize); err != nil {
			return nil, fmt.Errorf("venue %s: minOrderSize: %w", cfg.Name, err)
		}
		if profile.MaxOrderSize, err = parseDecimal(cfg.MaxOrderSize); err != nil {
			return nil, fmt.Errorf("venue %s: maxOrderSize: %w", cfg.Name, err)
		}
		if profile.MakerFee, err = parseDecimal(cfg.MakerFee); err != nil {
			return nil, fmt.Errorf("venue %s: makerFee: %w", cfg.Name, err)
		}
		if profile.TakerFee, err = parseDecimal(cfg.TakerFee); err != nil {
			return nil, fmt.Errorf("venue %s: takerFee: %w", cfg.Name, err)
		}
		if !profile.MaxOrderSize.IsZero() && profile.MaxOrderSize.LessThan(profile.MinOrderSize) {
			return nil, fmt.Errorf("venue %s: maxOrderSize below minOrderSize", cfg.Name)
		}
		venues = append(venues, profile)
	}
	return venues, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	value, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if value.IsNegative() {
		return decimal.Zero, fmt.Errorf("must be >= 0")
	}
	return value, nil
}
