// Package config holds the persistent citysense configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/abelbrown/citysense/internal/correlate"
)

// Config is the persistent application configuration
type Config struct {
	Tick      TickConfig      `json:"tick"`
	Correlate CorrelateConfig `json:"correlate"`
	Simulator SimulatorConfig `json:"simulator"`
	Sinks     SinkConfig      `json:"sinks"`
}

// TickConfig controls the coordinator loop. Durations are stored as
// whole seconds so the file stays hand-editable.
type TickConfig struct {
	IntervalSec         int `json:"interval_sec"`
	ObserverDeadlineSec int `json:"observer_deadline_sec"`
	AlertTTLSec         int `json:"alert_ttl_sec"`
}

func (t TickConfig) Interval() time.Duration { return time.Duration(t.IntervalSec) * time.Second }

func (t TickConfig) ObserverDeadline() time.Duration {
	return time.Duration(t.ObserverDeadlineSec) * time.Second
}

func (t TickConfig) AlertTTL() time.Duration { return time.Duration(t.AlertTTLSec) * time.Second }

// CorrelateConfig controls the rule engine.
type CorrelateConfig struct {
	WindowSec int    `json:"window_sec"`
	RulesFile string `json:"rules_file,omitempty"` // custom rule set; empty = built-in rules
}

func (c CorrelateConfig) Window() time.Duration { return time.Duration(c.WindowSec) * time.Second }

// SimulatorConfig seeds the synthetic sensor feed.
type SimulatorConfig struct {
	Seed          int64   `json:"seed"`
	MalformedRate float64 `json:"malformed_rate"`
	PacePerSec    float64 `json:"pace_per_sec"` // reading batches per second, 0 = unpaced
	Vehicles      int     `json:"vehicles"`
}

// SinkConfig selects decision outputs.
type SinkConfig struct {
	Log       bool   `json:"log"`
	JSONL     bool   `json:"jsonl"`
	JSONLPath string `json:"jsonl_path,omitempty"` // empty = decisions.jsonl under the data dir
}

// Default returns sensible defaults
func Default() *Config {
	return &Config{
		Tick: TickConfig{
			IntervalSec:         15,
			ObserverDeadlineSec: 5,
			AlertTTLSec:         300,
		},
		Correlate: CorrelateConfig{
			WindowSec: 300,
		},
		Simulator: SimulatorConfig{
			Seed:          1,
			MalformedRate: 0.02,
			Vehicles:      3,
		},
		Sinks: SinkConfig{
			Log:   true,
			JSONL: true,
		},
	}
}

// Path returns the path to the config file
func Path() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".citysense", "config.json")
}

// Load reads config from the default path, or returns defaults
func Load() (*Config, error) {
	return LoadFrom(Path())
}

// LoadFrom reads config from path. A missing file yields defaults; an
// unreadable one yields defaults too, so a damaged config never bricks
// the pipeline.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Default(), nil
	}

	return &cfg, nil
}

// Save writes config to disk
func (c *Config) Save() error {
	return c.SaveTo(Path())
}

// SaveTo writes config to path, creating parent directories as needed.
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Tick.IntervalSec <= 0 {
		return fmt.Errorf("tick interval must be positive, got %ds", c.Tick.IntervalSec)
	}
	if c.Tick.ObserverDeadlineSec <= 0 {
		return fmt.Errorf("observer deadline must be positive, got %ds", c.Tick.ObserverDeadlineSec)
	}
	if c.Tick.AlertTTLSec <= 0 {
		return fmt.Errorf("alert ttl must be positive, got %ds", c.Tick.AlertTTLSec)
	}
	if c.Correlate.WindowSec <= 0 {
		return fmt.Errorf("recency window must be positive, got %ds", c.Correlate.WindowSec)
	}
	if c.Simulator.MalformedRate < 0 || c.Simulator.MalformedRate > 1 {
		return fmt.Errorf("malformed rate must be in [0,1], got %g", c.Simulator.MalformedRate)
	}
	if c.Simulator.PacePerSec < 0 {
		return fmt.Errorf("pace must be non-negative, got %g", c.Simulator.PacePerSec)
	}
	if c.Simulator.Vehicles < 0 {
		return fmt.Errorf("vehicles must be non-negative, got %d", c.Simulator.Vehicles)
	}
	return nil
}

// LoadRules reads the custom rule set named by RulesFile. Returns nil
// when no file is configured; the caller stays on the built-in rules.
func (c *Config) LoadRules() ([]correlate.Rule, error) {
	if c.Correlate.RulesFile == "" {
		return nil, nil
	}

	data, err := os.ReadFile(c.Correlate.RulesFile)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	var rules []correlate.Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}
	return rules, nil
}
