package controller

import (
	"fmt"

	"github.com/verte-zerg/trafsim/internal/model"
)

// BuiltinTemplates returns the shipped scenario presets.
func BuiltinTemplates() []model.Template {
	return []model.Template{
		{
			Key:         "urban_intersection",
			Name:        "Urban Intersection",
			Description: "Standard 4-way intersection with traffic lights",
			Config: model.Config{
				VehiclesPerHour: 1500,
				CarPercentage:   85,
				TruckPercentage: 15,
				PeakHourFactor:  1.2,
				SignalControl:   model.SignalFixedTime,
				GreenTime:       30,
				YellowTime:      3,
				RedTime:         30,
			},
		},
		{
			Key:         "highway_merge",
			Name:        "Highway Merge",
			Description: "Highway on-ramp merge scenario",
			Config: model.Config{
				VehiclesPerHour: 3000,
				CarPercentage:   90,
				TruckPercentage: 10,
				PeakHourFactor:  1.5,
				SignalControl:   model.SignalActuated,
				GreenTime:       45,
				YellowTime:      3,
				RedTime:         20,
			},
		},
		{
			Key:         "roundabout",
			Name:        "Roundabout",
			Description: "Multi-lane roundabout intersection",
			Config: model.Config{
				VehiclesPerHour: 800,
				CarPercentage:   80,
				TruckPercentage: 20,
				PeakHourFactor:  1.0,
				SignalControl:   model.SignalAdaptive,
				GreenTime:       60,
				YellowTime:      3,
				RedTime:         0,
			},
		},
	}
}

// MergeTemplates appends user templates to base. A user template whose key
// matches a built-in replaces it in place.
func MergeTemplates(base, user []model.Template) []model.Template {
	out := append([]model.Template(nil), base...)
	index := make(map[string]int, len(out))
	for i, t := range out {
		index[t.Key] = i
	}
	for _, t := range user {
		if i, ok := index[t.Key]; ok {
			out[i] = t
			continue
		}
		index[t.Key] = len(out)
		out = append(out, t)
	}
	return out
}

// FindTemplate looks a template up by key.
func FindTemplate(templates []model.Template, key string) (model.Template, error) {
	for _, t := range templates {
		if t.Key == key {
			return t, nil
		}
	}
	return model.Template{}, fmt.Errorf("unknown template %q", key)
}
