// Package model defines shared data structures.
package model

import (
	"fmt"
	"strings"
	"time"
)

// SignalControl selects the traffic signal strategy.
type SignalControl string

const (
	SignalFixedTime SignalControl = "fixed_time"
	SignalActuated  SignalControl = "actuated"
	SignalAdaptive  SignalControl = "adaptive"
)

// SignalControls lists the known strategies in display order.
var SignalControls = []SignalControl{SignalFixedTime, SignalActuated, SignalAdaptive}

// ParseSignalControl accepts the wire names ("fixed_time") and dashed
// variants ("fixed-time").
func ParseSignalControl(s string) (SignalControl, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for _, sc := range SignalControls {
		if string(sc) == norm {
			return sc, nil
		}
	}
	return "", fmt.Errorf("unknown signal control %q", s)
}

// Config is a simulation configuration. It is not validated on construction;
// see controller.Validate.
type Config struct {
	VehiclesPerHour    int           `json:"vehicles_per_hour" toml:"vehicles-per-hour"`
	CarPercentage      float64       `json:"car_percentage" toml:"car"`
	TruckPercentage    float64       `json:"truck_percentage" toml:"truck"`
	PeakHourFactor     float64       `json:"peak_hour_factor" toml:"peak-hour-factor"`
	SignalControl      SignalControl `json:"signal_control" toml:"signal-control"`
	GreenTime          int           `json:"green_time" toml:"green"`
	YellowTime         int           `json:"yellow_time" toml:"yellow"`
	RedTime            int           `json:"red_time" toml:"red"`
	SimulationDuration int           `json:"simulation_duration" toml:"duration"`
}

// DefaultConfig returns the form defaults used on first launch and after reset.
func DefaultConfig() Config {
	return Config{
		VehiclesPerHour:    1000,
		CarPercentage:      80,
		TruckPercentage:    20,
		PeakHourFactor:     1.0,
		SignalControl:      SignalFixedTime,
		GreenTime:          30,
		YellowTime:         3,
		RedTime:            30,
		SimulationDuration: 3600,
	}
}

// CycleLength is the full signal cycle in seconds.
func (c Config) CycleLength() int {
	return c.GreenTime + c.YellowTime + c.RedTime
}

// Sample is one tick of simulation telemetry.
type Sample struct {
	AverageSpeedKmh           float64 `json:"average_speed_kmh"`
	TotalQueueLength          float64 `json:"total_queue_length"`
	AverageWaitTimeSeconds    float64 `json:"average_wait_time_seconds"`
	ThroughputVehiclesPerHour float64 `json:"throughput_vehicles_per_hour"`
}

// DefaultSample is what the dashboard shows before any session has ticked.
func DefaultSample() Sample {
	return Sample{AverageSpeedKmh: 50.0}
}

// Tick is a sample tagged with its origin. Seq starts at 1 per session and
// increases by one per emission.
type Tick struct {
	SessionID string
	Seq       uint64
	At        time.Time
	Sample    Sample
}

// HistoryEntry is one retained point of the trailing chart window.
type HistoryEntry struct {
	At     time.Time `json:"at"`
	Sample Sample    `json:"sample"`
}

// Status is the lifecycle state of a session.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// IsTerminal reports whether no further ticks can be applied.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Session is a point-in-time copy of the active session.
type Session struct {
	ID            string    `json:"id"`
	Status        Status    `json:"status"`
	Config        Config    `json:"config"`
	LatestMetrics *Sample   `json:"latest_metrics,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	EndedAt       time.Time `json:"ended_at,omitempty"`
	Ticks         uint64    `json:"ticks"`
}

// Template is a named, read-only configuration preset.
type Template struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Config      Config `json:"config"`
}

// SessionRecord is a finished session as persisted.
type SessionRecord struct {
	ID        string
	StartedAt time.Time
	EndedAt   time.Time
	Status    Status
	Config    Config
	Ticks     uint64
	Summary   Summary
}

// Summary holds per-field means over a session's retained samples.
type Summary struct {
	Count          int
	MeanSpeed      float64
	MeanQueue      float64
	MeanWait       float64
	MeanThroughput float64
	MaxQueue       float64
}

// HistoryFilter narrows persisted session listings.
type HistoryFilter struct {
	Since *time.Time
	Last  int
}
