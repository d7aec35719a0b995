// Package stats summarizes and renders metrics history.
package stats

import (
	"math"
	"strings"

	"github.com/verte-zerg/trafsim/internal/model"
)

const sparkChars = " .:-=+*#%@"

// Metric selects one field of a sample.
type Metric int

const (
	MetricSpeed Metric = iota
	MetricQueue
	MetricWait
	MetricThroughput
)

// Metrics lists every metric in display order.
var Metrics = []Metric{MetricSpeed, MetricQueue, MetricWait, MetricThroughput}

// Label is the short display name with unit.
func (m Metric) Label() string {
	switch m {
	case MetricSpeed:
		return "Speed km/h"
	case MetricQueue:
		return "Queue veh"
	case MetricWait:
		return "Wait s"
	case MetricThroughput:
		return "Throughput veh/h"
	default:
		return "?"
	}
}

// Of extracts the metric from a sample.
func (m Metric) Of(s model.Sample) float64 {
	switch m {
	case MetricSpeed:
		return s.AverageSpeedKmh
	case MetricQueue:
		return s.TotalQueueLength
	case MetricWait:
		return s.AverageWaitTimeSeconds
	case MetricThroughput:
		return s.ThroughputVehiclesPerHour
	default:
		return 0
	}
}

// Values projects one metric out of the entries, oldest first.
func Values(entries []model.HistoryEntry, m Metric) []float64 {
	out := make([]float64, len(entries))
	for i, e := range entries {
		out[i] = m.Of(e.Sample)
	}
	return out
}

// Summarize computes per-field means over entries.
func Summarize(entries []model.HistoryEntry) model.Summary {
	sum := model.Summary{Count: len(entries)}
	if len(entries) == 0 {
		return sum
	}
	for _, e := range entries {
		sum.MeanSpeed += e.Sample.AverageSpeedKmh
		sum.MeanQueue += e.Sample.TotalQueueLength
		sum.MeanWait += e.Sample.AverageWaitTimeSeconds
		sum.MeanThroughput += e.Sample.ThroughputVehiclesPerHour
		if e.Sample.TotalQueueLength > sum.MaxQueue {
			sum.MaxQueue = e.Sample.TotalQueueLength
		}
	}
	n := float64(len(entries))
	sum.MeanSpeed /= n
	sum.MeanQueue /= n
	sum.MeanWait /= n
	sum.MeanThroughput /= n
	return sum
}

// Trend returns the difference between the last two values, or 0.
func Trend(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	return values[len(values)-1] - values[len(values)-2]
}

// Sparkline renders a single-line ASCII sparkline for the values.
func Sparkline(values []float64) string {
	if len(values) == 0 {
		return ""
	}
	lo, hi := minMax(values)
	if math.Abs(hi-lo) < 1e-9 {
		return strings.Repeat(string(sparkChars[len(sparkChars)/2]), len(values))
	}
	var b strings.Builder
	for _, v := range values {
		idx := int(math.Round((v - lo) / (hi - lo) * float64(len(sparkChars)-1)))
		idx = clamp(idx, 0, len(sparkChars)-1)
		b.WriteByte(sparkChars[idx])
	}
	return b.String()
}

func minMax(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
