package stats

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/verte-zerg/trafsim/internal/model"
)

func TestFormatTableAlignsColumns(t *testing.T) {
	headers := []string{"Metric", "Mean", "Max"}
	rows := [][]string{
		{"speed", "55.25", "69.9"},
		{"queue", "8.00", "19"},
	}
	rightAlign := map[int]bool{1: true, 2: true}

	lines := formatTable(headers, rows, rightAlign)
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	if lines[0] != "Metric  Mean  Max" {
		t.Fatalf("unexpected header line: %q", lines[0])
	}
	if lines[1] != "speed  55.25 69.9" {
		t.Fatalf("unexpected row line: %q", lines[1])
	}
	if lines[2] != "queue   8.00   19" {
		t.Fatalf("unexpected row line: %q", lines[2])
	}
}

func TestRenderSessions(t *testing.T) {
	var buf bytes.Buffer
	if err := RenderSessions(&buf, nil); err != nil {
		t.Fatalf("RenderSessions failed: %v", err)
	}
	if !strings.Contains(buf.String(), "No sessions found.") {
		t.Fatalf("expected empty notice, got %q", buf.String())
	}

	buf.Reset()
	start := time.Unix(1_700_000_000, 0)
	err := RenderSessions(&buf, []model.SessionRecord{{
		ID:        "0123456789abcdef",
		StartedAt: start,
		EndedAt:   start.Add(90 * time.Second),
		Status:    model.StatusCompleted,
		Config:    model.Config{VehiclesPerHour: 1500, SignalControl: model.SignalFixedTime},
		Ticks:     90,
		Summary:   model.Summary{MeanSpeed: 55.55, MeanThroughput: 1234},
	}})
	if err != nil {
		t.Fatalf("RenderSessions failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"01234567", "1m30s", "completed", "fixed_time", "1500", "55.5", "1234"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestRenderTemplates(t *testing.T) {
	var buf bytes.Buffer
	err := RenderTemplates(&buf, []model.Template{{
		Key:  "urban_intersection",
		Name: "Urban Intersection",
		Config: model.Config{
			VehiclesPerHour: 1500, CarPercentage: 85, TruckPercentage: 15, PeakHourFactor: 1.2,
			SignalControl: model.SignalFixedTime, GreenTime: 30, YellowTime: 3, RedTime: 30,
		},
	}})
	if err != nil {
		t.Fatalf("RenderTemplates failed: %v", err)
	}
	for _, want := range []string{"urban_intersection", "85/15", "1.2", "30/3/30"} {
		if !strings.Contains(buf.String(), want) {
			t.Fatalf("expected %q in output:\n%s", want, buf.String())
		}
	}
}
