// Package config provides configuration loading for the pilot server.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MRamiBalles/BiogasPilot/server/internal/domain/digester"
	"github.com/MRamiBalles/BiogasPilot/server/internal/domain/rules"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds all server configuration.
type Config struct {
	Simulation SimulationConfig `yaml:"simulation"`
	Digester   DigesterConfig   `yaml:"digester"`
	Rewards    RewardsConfig    `yaml:"rewards"`
	Grid       GridConfig       `yaml:"grid"`
	Server     ServerConfig     `yaml:"server"`
	Recorder   RecorderConfig   `yaml:"recorder"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// SimulationConfig holds timing and lifecycle parameters.
type SimulationConfig struct {
	TickPeriod      time.Duration `yaml:"tick_period"`
	FeedDelay       time.Duration `yaml:"feed_delay"`
	AlertDuration   time.Duration `yaml:"alert_duration"` // Suggested banner time for milestones
	HistorySize     int           `yaml:"history_size"`
	InitialManureKG float64       `yaml:"initial_manure_kg"`
	InitialGasPct   float64       `yaml:"initial_gas_pct"`
}

// DigesterConfig mirrors digester.Params.
type DigesterConfig struct {
	ManureFloorKG          float64 `yaml:"manure_floor_kg"`
	ManureCapacityKG       float64 `yaml:"manure_capacity_kg"`
	DecayKGPerTick         float64 `yaml:"decay_kg_per_tick"`
	FeedKG                 float64 `yaml:"feed_kg"`
	ProductionThresholdKG  float64 `yaml:"production_threshold_kg"`
	GasGainPerTick         float64 `yaml:"gas_gain_per_tick"`
	GasLossPerTick         float64 `yaml:"gas_loss_per_tick"`
	GasMaxPct              float64 `yaml:"gas_max_pct"`
	GenerationThresholdPct float64 `yaml:"generation_threshold_pct"`
	KWPerGasPct            float64 `yaml:"kw_per_gas_pct"`
}

// RewardsConfig mirrors rules.RewardRule.
type RewardsConfig struct {
	Thresholds         []int   `yaml:"thresholds"`
	TokensPerMilestone int     `yaml:"tokens_per_milestone"`
	HysteresisPct      float64 `yaml:"hysteresis_pct"`
}

// GridConfig mirrors rules.Grid.
type GridConfig struct {
	HouseConsumptionKW float64 `yaml:"house_consumption_kw"`
	HousesActiveKW     float64 `yaml:"houses_active_kw"`
	SecondHouseKW      float64 `yaml:"second_house_kw"`
}

// ServerConfig holds HTTP/WebSocket tuning.
type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	ClientSendBuffer  int           `yaml:"client_send_buffer"`
	BroadcastBuffer   int           `yaml:"broadcast_buffer"`
	EventPollInterval time.Duration `yaml:"event_poll_interval"`
	EventRetention    int           `yaml:"event_retention"`
	FeedCooldown      time.Duration `yaml:"feed_cooldown"` // Per WebSocket client
	MaxClients        int           `yaml:"max_clients"`
}

// RecorderConfig enables the optional session recorder. Empty paths disable it.
type RecorderConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
	HistoryCSV string `yaml:"history_csv"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg, err := Defaults()
	if err != nil {
		return nil, err
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Unmarshal into the same struct - only overwrites fields present in file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Defaults returns the embedded reference configuration.
func Defaults() (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error

	s := c.Simulation
	if s.TickPeriod <= 0 {
		errs = append(errs, fmt.Errorf("simulation.tick_period must be positive, got %v", s.TickPeriod))
	}
	if s.FeedDelay < 0 {
		errs = append(errs, fmt.Errorf("simulation.feed_delay must not be negative, got %v", s.FeedDelay))
	}
	if s.HistorySize < 1 {
		errs = append(errs, fmt.Errorf("simulation.history_size must be at least 1, got %d", s.HistorySize))
	}

	d := c.Digester
	if d.ManureFloorKG < 0 || d.ManureCapacityKG <= d.ManureFloorKG {
		errs = append(errs, fmt.Errorf("digester: need 0 <= manure_floor_kg (%v) < manure_capacity_kg (%v)",
			d.ManureFloorKG, d.ManureCapacityKG))
	}
	if d.GasMaxPct <= 0 {
		errs = append(errs, fmt.Errorf("digester.gas_max_pct must be positive, got %v", d.GasMaxPct))
	}
	if d.DecayKGPerTick < 0 || d.FeedKG < 0 || d.GasGainPerTick < 0 || d.GasLossPerTick < 0 || d.KWPerGasPct < 0 {
		errs = append(errs, errors.New("digester: rates must not be negative"))
	}

	if err := c.RewardRule().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("rewards: %w", err))
	}

	if c.Server.ClientSendBuffer < 1 || c.Server.BroadcastBuffer < 1 {
		errs = append(errs, errors.New("server: buffers must be at least 1"))
	}
	if c.Server.EventRetention < 1 {
		errs = append(errs, fmt.Errorf("server.event_retention must be at least 1, got %d", c.Server.EventRetention))
	}
	if c.Server.EventPollInterval <= 0 {
		errs = append(errs, fmt.Errorf("server.event_poll_interval must be positive, got %v", c.Server.EventPollInterval))
	}

	return errors.Join(errs...)
}

// DigesterParams converts the digester section into domain parameters.
func (c *Config) DigesterParams() digester.Params {
	d := c.Digester
	return digester.Params{
		ManureFloor:          d.ManureFloorKG,
		ManureCapacity:       d.ManureCapacityKG,
		DecayPerTick:         d.DecayKGPerTick,
		FeedMass:             d.FeedKG,
		ProductionThreshold:  d.ProductionThresholdKG,
		GasGainPerTick:       d.GasGainPerTick,
		GasLossPerTick:       d.GasLossPerTick,
		GasMax:               d.GasMaxPct,
		GenerationThreshold:  d.GenerationThresholdPct,
		KilowattsPerGasPoint: d.KWPerGasPct,
	}
}

// RewardRule converts the rewards section into the domain rule.
func (c *Config) RewardRule() rules.RewardRule {
	thresholds := make([]int, len(c.Rewards.Thresholds))
	copy(thresholds, c.Rewards.Thresholds)
	return rules.RewardRule{
		Thresholds:         thresholds,
		TokensPerMilestone: c.Rewards.TokensPerMilestone,
		Hysteresis:         c.Rewards.HysteresisPct,
	}
}

// GridRule converts the grid section into the domain rule.
func (c *Config) GridRule() rules.Grid {
	return rules.Grid{
		HouseConsumptionKW: c.Grid.HouseConsumptionKW,
		HousesActiveKW:     c.Grid.HousesActiveKW,
		SecondHouseKW:      c.Grid.SecondHouseKW,
	}
}

// InitialState returns the configured starting state of the plant.
func (c *Config) InitialState() digester.State {
	return c.DigesterParams().Normalize(digester.State{
		ManureMass: c.Simulation.InitialManureKG,
		GasLevel:   c.Simulation.InitialGasPct,
	})
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
