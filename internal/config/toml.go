// Package config provides configuration helpers and TOML parsing.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/verte-zerg/trafsim/internal/model"
)

// FileConfig represents the TOML configuration file.
type FileConfig struct {
	Simulation SimulationConfig `toml:"simulation"`
	Runtime    RuntimeConfig    `toml:"runtime"`
	Log        LogConfig        `toml:"log"`
	Server     ServerConfig     `toml:"server"`
	Templates  []TemplateConfig `toml:"templates"`
}

// SimulationConfig maps the default simulation parameters.
type SimulationConfig struct {
	VehiclesPerHour    *int     `toml:"vehicles-per-hour"`
	CarPercentage      *float64 `toml:"car"`
	TruckPercentage    *float64 `toml:"truck"`
	PeakHourFactor     *float64 `toml:"peak-hour-factor"`
	SignalControl      *string  `toml:"signal-control"`
	GreenTime          *int     `toml:"green"`
	YellowTime         *int     `toml:"yellow"`
	RedTime            *int     `toml:"red"`
	SimulationDuration *int     `toml:"duration"`
}

// RuntimeConfig maps sampler and controller timing.
type RuntimeConfig struct {
	TickInterval *Duration `toml:"tick-interval"`
	Latency      *Duration `toml:"latency"`
	FailureRate  *float64  `toml:"failure-rate"`
}

// LogConfig maps logging settings.
type LogConfig struct {
	Level *string `toml:"level"`
}

// ServerConfig maps the HTTP API settings.
type ServerConfig struct {
	Addr *string `toml:"addr"`
}

// TemplateConfig is a user-defined scenario preset.
type TemplateConfig struct {
	Key         string           `toml:"key"`
	Name        string           `toml:"name"`
	Description string           `toml:"description"`
	Simulation  SimulationConfig `toml:"simulation"`
}

// Duration decodes TOML strings such as "750ms".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

// LoadConfig reads a TOML config from the given path. Missing file is not an error.
func LoadConfig(path string) (FileConfig, error) {
	if path == "" {
		return FileConfig{}, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("failed to stat config: %w", err)
	}
	var cfg FileConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return FileConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// Apply overlays the set fields onto base.
func (c SimulationConfig) Apply(base model.Config) (model.Config, error) {
	if c.VehiclesPerHour != nil {
		base.VehiclesPerHour = *c.VehiclesPerHour
	}
	if c.CarPercentage != nil {
		base.CarPercentage = *c.CarPercentage
	}
	if c.TruckPercentage != nil {
		base.TruckPercentage = *c.TruckPercentage
	}
	if c.PeakHourFactor != nil {
		base.PeakHourFactor = *c.PeakHourFactor
	}
	if c.SignalControl != nil {
		sc, err := model.ParseSignalControl(*c.SignalControl)
		if err != nil {
			return base, err
		}
		base.SignalControl = sc
	}
	if c.GreenTime != nil {
		base.GreenTime = *c.GreenTime
	}
	if c.YellowTime != nil {
		base.YellowTime = *c.YellowTime
	}
	if c.RedTime != nil {
		base.RedTime = *c.RedTime
	}
	if c.SimulationDuration != nil {
		base.SimulationDuration = *c.SimulationDuration
	}
	return base, nil
}

// UserTemplates converts [[templates]] entries. Each entry starts from the
// default configuration without a duration, so applying it keeps the
// current one unless the entry sets its own.
func (c FileConfig) UserTemplates() ([]model.Template, error) {
	out := make([]model.Template, 0, len(c.Templates))
	base := model.DefaultConfig()
	base.SimulationDuration = 0
	for i, t := range c.Templates {
		if t.Key == "" {
			return nil, fmt.Errorf("template %d: key is required", i+1)
		}
		cfg, err := t.Simulation.Apply(base)
		if err != nil {
			return nil, fmt.Errorf("template %q: %w", t.Key, err)
		}
		name := t.Name
		if name == "" {
			name = t.Key
		}
		out = append(out, model.Template{Key: t.Key, Name: name, Description: t.Description, Config: cfg})
	}
	return out, nil
}
