package controller

import (
	"errors"
	"fmt"
	"strings"

	"github.com/verte-zerg/trafsim/internal/model"
)

// Accepted ranges for a startable configuration.
const (
	MinVehiclesPerHour = 100
	MaxVehiclesPerHour = 5000
	MinPeakHourFactor  = 1.0
	MaxPeakHourFactor  = 2.0
	mixTotal           = 100.0
	mixTolerance       = 1e-9
)

// ErrInvalidConfig is matched by every ValidationError.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError lists every rule a configuration violates.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidConfig, strings.Join(e.Problems, "; "))
}

// Unwrap lets errors.Is match ErrInvalidConfig.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidConfig
}

// Validate checks cfg against the start rules and returns a *ValidationError
// listing each violation, or nil.
func Validate(cfg model.Config) error {
	var problems []string
	if cfg.VehiclesPerHour < MinVehiclesPerHour || cfg.VehiclesPerHour > MaxVehiclesPerHour {
		problems = append(problems, fmt.Sprintf("vehicles per hour must be between %d and %d", MinVehiclesPerHour, MaxVehiclesPerHour))
	}
	if cfg.CarPercentage < 0 || cfg.TruckPercentage < 0 {
		problems = append(problems, "vehicle percentages must not be negative")
	}
	if diff := cfg.CarPercentage + cfg.TruckPercentage - mixTotal; diff > mixTolerance || diff < -mixTolerance {
		problems = append(problems, "car and truck percentages must sum to 100")
	}
	if cfg.PeakHourFactor < MinPeakHourFactor || cfg.PeakHourFactor > MaxPeakHourFactor {
		problems = append(problems, fmt.Sprintf("peak hour factor must be between %.1f and %.1f", MinPeakHourFactor, MaxPeakHourFactor))
	}
	if cfg.GreenTime <= 0 {
		problems = append(problems, "green time must be positive")
	}
	if cfg.YellowTime <= 0 {
		problems = append(problems, "yellow time must be positive")
	}
	if cfg.RedTime < 0 {
		problems = append(problems, "red time must not be negative")
	}
	if _, err := model.ParseSignalControl(string(cfg.SignalControl)); err != nil {
		problems = append(problems, err.Error())
	}
	if cfg.SimulationDuration < 0 {
		problems = append(problems, "simulation duration must not be negative")
	}
	if len(problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: problems}
}
