package tui

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/verte-zerg/trafsim/internal/controller"
	"github.com/verte-zerg/trafsim/internal/model"
	"github.com/verte-zerg/trafsim/internal/sampler"
	"github.com/verte-zerg/trafsim/internal/session"
)

type dashboard struct {
	m      *Model
	ctrl   *controller.Controller
	ticker *sampler.ManualTicker
}

func newDashboard(t *testing.T) dashboard {
	t.Helper()
	return newDashboardWith(t, sampler.NewSequenceSource(
		model.Sample{AverageSpeedKmh: 42, TotalQueueLength: 3, AverageWaitTimeSeconds: 9, ThroughputVehiclesPerHour: 1200},
		model.Sample{AverageSpeedKmh: 58, TotalQueueLength: 1, AverageWaitTimeSeconds: 4, ThroughputVehiclesPerHour: 1500},
	))
}

func newDashboardWith(t *testing.T, src sampler.MetricsSource) dashboard {
	t.Helper()
	ticker := sampler.NewManualTicker()
	smp := sampler.New(src, sampler.WithTicker(ticker.Func()))
	store := session.New(smp)
	ctrl := controller.New(store, controller.WithLatency(0))
	m := NewModel(ctrl)
	t.Cleanup(func() {
		m.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := smp.Close(ctx); err != nil {
			t.Fatalf("sampler close: %v", err)
		}
	})
	return dashboard{m: m, ctrl: ctrl, ticker: ticker}
}

// drainUntil feeds queued store events to the model until done accepts one.
func (d dashboard) drainUntil(t *testing.T, done func(tea.Msg) bool) {
	t.Helper()
	for {
		select {
		case msg := <-d.m.events:
			if _, cmd := d.m.Update(msg); cmd == nil {
				t.Fatalf("expected wait command after %T", msg)
			}
			if done(msg) {
				return
			}
		case <-time.After(time.Second):
			t.Fatalf("no store event observed")
		}
	}
}

func statusIs(want model.Status) func(tea.Msg) bool {
	return func(msg tea.Msg) bool {
		sm, ok := msg.(statusMsg)
		return ok && sm.To == want
	}
}

func press(m *Model, s string) tea.Cmd {
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
	return cmd
}

func TestParseForm(t *testing.T) {
	values := formValues(model.DefaultConfig())
	cfg, err := parseForm(values)
	if err != nil {
		t.Fatalf("parseForm failed: %v", err)
	}
	if cfg != model.DefaultConfig() {
		t.Fatalf("round trip mismatch: %+v", cfg)
	}

	values[fieldSignal] = "Fixed-Time"
	values[fieldPeak] = " 1.25 "
	cfg, err = parseForm(values)
	if err != nil {
		t.Fatalf("parseForm failed: %v", err)
	}
	if cfg.SignalControl != model.SignalFixedTime || cfg.PeakHourFactor != 1.25 {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	values[fieldGreen] = "3.5"
	if _, err := parseForm(values); err == nil || !strings.Contains(err.Error(), "Green s") {
		t.Fatalf("expected green parse error, got %v", err)
	}
	values = formValues(model.DefaultConfig())
	values[fieldSignal] = "roundabout"
	if _, err := parseForm(values); err == nil {
		t.Fatalf("expected signal parse error")
	}
}

func TestStartKeyRejectsInvalidConfig(t *testing.T) {
	d := newDashboard(t)
	cfg := model.DefaultConfig()
	cfg.VehiclesPerHour = 50
	d.ctrl.SetConfig(cfg)

	if cmd := press(d.m, "s"); cmd != nil {
		t.Fatalf("expected no command for invalid config")
	}
	if !strings.Contains(d.m.formErr, "vehicles per hour") {
		t.Fatalf("expected inline validation message, got %q", d.m.formErr)
	}
	if d.m.store.Status() != model.StatusIdle {
		t.Fatalf("expected idle, got %s", d.m.store.Status())
	}
}

func TestStartTickStopFlow(t *testing.T) {
	d := newDashboard(t)
	if _, err := d.ctrl.ApplyTemplate("urban_intersection"); err != nil {
		t.Fatalf("ApplyTemplate failed: %v", err)
	}

	if cmd := press(d.m, "s"); cmd == nil {
		t.Fatalf("expected start command")
	}
	if d.m.pending == "" {
		t.Fatalf("expected pending action")
	}
	if cmd := press(d.m, "s"); cmd != nil {
		t.Fatalf("expected second start to be refused while pending")
	}
	d.m.Update(startCmd(d.ctrl, d.m.store.Config())())
	if d.m.pending != "" || d.m.snap.Status != model.StatusRunning {
		t.Fatalf("expected running, got %s (pending %q)", d.m.snap.Status, d.m.pending)
	}

	for i := 0; i < 2; i++ {
		if !d.ticker.Fire(time.Unix(int64(i+1), 0), time.Second) {
			t.Fatalf("tick %d not taken", i)
		}
		d.drainUntil(t, func(msg tea.Msg) bool {
			_, ok := msg.(tickMsg)
			return ok
		})
	}
	if len(d.m.snap.History) != 2 || d.m.snap.Metrics.AverageSpeedKmh != 58 {
		t.Fatalf("unexpected snapshot: %+v", d.m.snap)
	}
	view := d.m.View()
	for _, want := range []string{"RUNNING", "Speed km/h", "58.0", "2 ticks", "History"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}

	press(d.m, "p")
	if d.m.snap.Status != model.StatusPaused {
		t.Fatalf("expected paused, got %s", d.m.snap.Status)
	}
	press(d.m, "p")
	if d.m.snap.Status != model.StatusRunning {
		t.Fatalf("expected running after resume, got %s", d.m.snap.Status)
	}

	if cmd := press(d.m, "x"); cmd == nil {
		t.Fatalf("expected stop command")
	}
	d.m.Update(stopCmd(d.ctrl)())
	if d.m.snap.Status != model.StatusCompleted || d.m.snap.Metrics != (model.Sample{}) {
		t.Fatalf("expected completed with zero metrics, got %s %+v", d.m.snap.Status, d.m.snap.Metrics)
	}

	press(d.m, "r")
	if d.m.snap.Status != model.StatusIdle || len(d.m.snap.History) != 0 || d.m.snap.Metrics != model.DefaultSample() {
		t.Fatalf("expected idle after reset, got %+v", d.m.snap)
	}
}

func TestTemplateKeysAndForm(t *testing.T) {
	d := newDashboard(t)

	press(d.m, "2")
	if got := d.m.store.Config().VehiclesPerHour; got != 3000 {
		t.Fatalf("expected highway merge preset, got %d", got)
	}
	press(d.m, "9")
	if got := d.m.store.Config().VehiclesPerHour; got != 3000 {
		t.Fatalf("unknown template key should be ignored, got %d", got)
	}

	press(d.m, "e")
	if !d.m.editing {
		t.Fatalf("expected edit mode")
	}
	d.m.form.inputs[fieldVehicles].SetValue("2500")
	d.m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if d.m.editing {
		t.Fatalf("expected form to close on apply")
	}
	if got := d.m.store.Config().VehiclesPerHour; got != 2500 {
		t.Fatalf("expected applied value, got %d", got)
	}

	press(d.m, "e")
	d.m.form.inputs[fieldCar].SetValue("abc")
	d.m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if !d.m.editing || !strings.Contains(d.m.formErr, "Car %") {
		t.Fatalf("expected parse error in open form, got %q", d.m.formErr)
	}
	d.m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if d.m.editing {
		t.Fatalf("expected esc to close the form")
	}
}

func TestBannerShowsAndDismisses(t *testing.T) {
	d := newDashboard(t)
	d.m.store.SetError("failed to start simulation: start: transient backend failure")
	d.m.refresh()
	d.m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})

	if view := d.m.View(); !strings.Contains(view, "transient backend failure") {
		t.Fatalf("expected banner in view:\n%s", view)
	}
	d.m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if d.m.snap.Error != "" || d.m.store.Error() != "" {
		t.Fatalf("expected banner dismissed")
	}
}

func TestRenderCardsWithoutHistory(t *testing.T) {
	out := renderCards(model.DefaultSample(), nil)
	for _, want := range []string{"50.0", "no samples yet", "Throughput veh/h"} {
		if !strings.Contains(out, want) {
			t.Fatalf("cards missing %q:\n%s", want, out)
		}
	}
}

func (d dashboard) startWith(t *testing.T, cfg model.Config) {
	t.Helper()
	d.ctrl.SetConfig(cfg)
	d.m.Update(startCmd(d.ctrl, cfg)())
	if d.m.snap.Status != model.StatusRunning {
		t.Fatalf("expected running, got %s", d.m.snap.Status)
	}
}

func (d dashboard) fire(t *testing.T, n int) {
	t.Helper()
	if !d.ticker.Fire(time.Unix(int64(n), 0), time.Second) {
		t.Fatalf("tick %d not taken", n)
	}
}

func TestSourceFailureReachesDashboard(t *testing.T) {
	d := newDashboardWith(t, &sampler.SequenceSource{
		Samples:   []model.Sample{{AverageSpeedKmh: 47}},
		FailAtEnd: true,
	})
	d.m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	cfg, err := d.ctrl.ApplyTemplate("urban_intersection")
	if err != nil {
		t.Fatalf("ApplyTemplate failed: %v", err)
	}
	d.startWith(t, cfg)

	d.fire(t, 1)
	d.fire(t, 2)
	d.drainUntil(t, statusIs(model.StatusError))

	if d.m.snap.Status != model.StatusError {
		t.Fatalf("expected error status, got %s", d.m.snap.Status)
	}
	view := d.m.View()
	for _, want := range []string{"ERROR", "simulation failed", "sample sequence exhausted"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}
}

func TestDurationCompletionReachesDashboard(t *testing.T) {
	d := newDashboard(t)
	cfg, err := d.ctrl.ApplyTemplate("urban_intersection")
	if err != nil {
		t.Fatalf("ApplyTemplate failed: %v", err)
	}
	cfg.SimulationDuration = 2
	d.startWith(t, cfg)

	d.fire(t, 1)
	d.fire(t, 2)
	d.drainUntil(t, statusIs(model.StatusCompleted))

	if d.m.snap.Status != model.StatusCompleted {
		t.Fatalf("expected completed, got %s", d.m.snap.Status)
	}
	if d.m.snap.Metrics != (model.Sample{}) {
		t.Fatalf("expected zeroed metrics, got %+v", d.m.snap.Metrics)
	}
	if len(d.m.snap.History) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(d.m.snap.History))
	}
}
