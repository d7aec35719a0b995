package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/verte-zerg/trafsim/internal/model"
)

const (
	fieldVehicles = iota
	fieldCar
	fieldTruck
	fieldPeak
	fieldSignal
	fieldGreen
	fieldYellow
	fieldRed
	fieldDuration
	fieldCount
)

var fieldLabels = [fieldCount]string{
	"Vehicles/h",
	"Car %",
	"Truck %",
	"Peak factor",
	"Signal",
	"Green s",
	"Yellow s",
	"Red s",
	"Duration s",
}

// form edits a Config as text fields. Values are parsed only on apply, so a
// half-typed number never reaches the store.
type form struct {
	inputs [fieldCount]textinput.Model
	focus  int
}

func newForm() form {
	var f form
	for i := range f.inputs {
		ti := textinput.New()
		ti.Prompt = ""
		ti.CharLimit = 12
		ti.Width = 12
		f.inputs[i] = ti
	}
	return f
}

func (f *form) load(cfg model.Config) {
	values := formValues(cfg)
	for i := range f.inputs {
		f.inputs[i].SetValue(values[i])
	}
}

func formValues(cfg model.Config) [fieldCount]string {
	return [fieldCount]string{
		strconv.Itoa(cfg.VehiclesPerHour),
		formatFloat(cfg.CarPercentage),
		formatFloat(cfg.TruckPercentage),
		formatFloat(cfg.PeakHourFactor),
		string(cfg.SignalControl),
		strconv.Itoa(cfg.GreenTime),
		strconv.Itoa(cfg.YellowTime),
		strconv.Itoa(cfg.RedTime),
		strconv.Itoa(cfg.SimulationDuration),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (f *form) focusField(i int) tea.Cmd {
	f.inputs[f.focus].Blur()
	f.focus = (i + fieldCount) % fieldCount
	return f.inputs[f.focus].Focus()
}

func (f *form) blur() {
	f.inputs[f.focus].Blur()
}

func (f *form) update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	f.inputs[f.focus], cmd = f.inputs[f.focus].Update(msg)
	return cmd
}

func (f *form) values() [fieldCount]string {
	var out [fieldCount]string
	for i, in := range f.inputs {
		out[i] = in.Value()
	}
	return out
}

// parseForm converts field text into a Config. It checks syntax only; range
// rules are left to controller.Validate.
func parseForm(values [fieldCount]string) (model.Config, error) {
	var cfg model.Config
	var err error
	ints := []struct {
		field int
		dst   *int
	}{
		{fieldVehicles, &cfg.VehiclesPerHour},
		{fieldGreen, &cfg.GreenTime},
		{fieldYellow, &cfg.YellowTime},
		{fieldRed, &cfg.RedTime},
		{fieldDuration, &cfg.SimulationDuration},
	}
	for _, it := range ints {
		if *it.dst, err = strconv.Atoi(strings.TrimSpace(values[it.field])); err != nil {
			return model.Config{}, fmt.Errorf("%s: not a whole number", fieldLabels[it.field])
		}
	}
	floats := []struct {
		field int
		dst   *float64
	}{
		{fieldCar, &cfg.CarPercentage},
		{fieldTruck, &cfg.TruckPercentage},
		{fieldPeak, &cfg.PeakHourFactor},
	}
	for _, it := range floats {
		if *it.dst, err = strconv.ParseFloat(strings.TrimSpace(values[it.field]), 64); err != nil {
			return model.Config{}, fmt.Errorf("%s: not a number", fieldLabels[it.field])
		}
	}
	if cfg.SignalControl, err = model.ParseSignalControl(values[fieldSignal]); err != nil {
		return model.Config{}, fmt.Errorf("%s: %w", fieldLabels[fieldSignal], err)
	}
	return cfg, nil
}
