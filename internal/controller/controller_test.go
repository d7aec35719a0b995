package controller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/verte-zerg/trafsim/internal/model"
	"github.com/verte-zerg/trafsim/internal/sampler"
	"github.com/verte-zerg/trafsim/internal/session"
)

type fixture struct {
	ctrl   *Controller
	store  *session.Store
	smp    *sampler.Sampler
	ticker *sampler.ManualTicker
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ticker := sampler.NewManualTicker()
	smp := sampler.New(sampler.NewSequenceSource(model.Sample{AverageSpeedKmh: 44}), sampler.WithTicker(ticker.Func()))
	store := session.New(smp)
	opts = append([]Option{WithLatency(0)}, opts...)
	return &fixture{ctrl: New(store, opts...), store: store, smp: smp, ticker: ticker}
}

func (f *fixture) close(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.smp.Close(ctx))
}

func urban(t *testing.T) model.Config {
	t.Helper()
	tpl, err := FindTemplate(BuiltinTemplates(), "urban_intersection")
	require.NoError(t, err)
	return tpl.Config
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(model.DefaultConfig()))
	for _, tpl := range BuiltinTemplates() {
		assert.NoError(t, Validate(tpl.Config), tpl.Key)
	}

	cases := []struct {
		name   string
		mutate func(*model.Config)
	}{
		{"too few vehicles", func(c *model.Config) { c.VehiclesPerHour = 99 }},
		{"too many vehicles", func(c *model.Config) { c.VehiclesPerHour = 5001 }},
		{"mix under 100", func(c *model.Config) { c.CarPercentage = 70 }},
		{"mix over 100", func(c *model.Config) { c.TruckPercentage = 30 }},
		{"negative share", func(c *model.Config) { c.CarPercentage, c.TruckPercentage = 110, -10 }},
		{"low peak factor", func(c *model.Config) { c.PeakHourFactor = 0.9 }},
		{"high peak factor", func(c *model.Config) { c.PeakHourFactor = 2.1 }},
		{"zero green", func(c *model.Config) { c.GreenTime = 0 }},
		{"zero yellow", func(c *model.Config) { c.YellowTime = 0 }},
		{"negative red", func(c *model.Config) { c.RedTime = -1 }},
		{"unknown signal", func(c *model.Config) { c.SignalControl = "magic" }},
		{"negative duration", func(c *model.Config) { c.SimulationDuration = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := model.DefaultConfig()
			tc.mutate(&cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Len(t, verr.Problems, 1)
		})
	}

	edge := model.DefaultConfig()
	edge.VehiclesPerHour, edge.PeakHourFactor, edge.RedTime = 5000, 2.0, 0
	assert.NoError(t, Validate(edge))

	bad := model.Config{}
	var verr *ValidationError
	require.True(t, errors.As(Validate(bad), &verr))
	assert.Greater(t, len(verr.Problems), 3)
}

func TestStartRejectsInvalidConfigWithoutTouchingStore(t *testing.T) {
	f := newFixture(t)
	defer f.close(t)

	cfg := urban(t)
	cfg.VehiclesPerHour = 50
	_, err := f.ctrl.Start(context.Background(), cfg)
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Equal(t, model.StatusIdle, f.store.Status())
	assert.Nil(t, f.store.Session())
	assert.Equal(t, model.DefaultConfig(), f.store.Config())

	for _, mix := range [][2]float64{{85, 10}, {50, 51}, {100, 100}, {0, 0}} {
		cfg := urban(t)
		cfg.CarPercentage, cfg.TruckPercentage = mix[0], mix[1]
		_, err := f.ctrl.Start(context.Background(), cfg)
		require.ErrorIs(t, err, ErrInvalidConfig)
		assert.NotEqual(t, model.StatusRunning, f.store.Status())
	}
}

func TestStartStopLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	f := newFixture(t)
	defer f.close(t)
	ctx := context.Background()

	id, err := f.ctrl.Start(ctx, urban(t))
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, model.StatusRunning, f.store.Status())

	_, err = f.ctrl.Start(ctx, urban(t))
	assert.ErrorIs(t, err, ErrRunning)

	require.NoError(t, f.ctrl.Stop(ctx))
	sess := f.store.Session()
	require.NotNil(t, sess)
	assert.Equal(t, model.StatusCompleted, sess.Status)
	assert.Equal(t, model.Sample{}, *sess.LatestMetrics)

	require.NoError(t, f.ctrl.Stop(ctx))
	assert.Equal(t, model.StatusCompleted, f.store.Status())

	require.NoError(t, f.ctrl.Reset())
	snap := f.store.Snapshot()
	assert.Equal(t, model.StatusIdle, snap.Status)
	assert.Empty(t, snap.History)
	assert.Equal(t, model.DefaultSample(), snap.Metrics)

	require.NoError(t, f.ctrl.Reset())
	assert.Equal(t, model.StatusIdle, f.store.Status())
}

func TestBusyGuardRejectsOverlappingActions(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	entered := make(chan string, 1)
	release := make(chan struct{})
	f := newFixture(t, WithFailureFunc(func(op string) bool {
		entered <- op
		<-release
		return false
	}))
	defer f.close(t)
	ctx := context.Background()

	cfg := urban(t)
	done := make(chan error, 1)
	go func() {
		_, err := f.ctrl.Start(ctx, cfg)
		done <- err
	}()
	assert.Equal(t, "start", <-entered)
	assert.True(t, f.ctrl.Busy())

	_, err := f.ctrl.Start(ctx, cfg)
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, f.ctrl.Stop(ctx), ErrBusy)
	assert.ErrorIs(t, f.ctrl.Reset(), ErrBusy)
	assert.ErrorIs(t, f.ctrl.Pause(), ErrBusy)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, f.ctrl.Busy())
	assert.Equal(t, model.StatusRunning, f.store.Status())

	go func() { done <- f.ctrl.Stop(ctx) }()
	assert.Equal(t, "stop", <-entered)
	require.NoError(t, <-done)
	assert.Equal(t, model.StatusCompleted, f.store.Status())
}

func TestTransientFailureKeepsStatus(t *testing.T) {
	failing := map[string]bool{"start": true}
	f := newFixture(t, WithFailureFunc(func(op string) bool { return failing[op] }))
	defer f.close(t)
	ctx := context.Background()

	_, err := f.ctrl.Start(ctx, urban(t))
	require.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, model.StatusIdle, f.store.Status())
	assert.Contains(t, f.store.Error(), "failed to start simulation")

	failing["start"] = false
	_, err = f.ctrl.Start(ctx, urban(t))
	require.NoError(t, err)
	assert.Empty(t, f.store.Error())

	failing["stop"] = true
	require.ErrorIs(t, f.ctrl.Stop(ctx), ErrTransient)
	assert.Equal(t, model.StatusRunning, f.store.Status())
	assert.Contains(t, f.store.Error(), "failed to stop simulation")

	f.ctrl.DismissError()
	assert.Empty(t, f.store.Error())

	failing["stop"] = false
	require.NoError(t, f.ctrl.Stop(ctx))
	assert.Equal(t, model.StatusCompleted, f.store.Status())
}

func TestStartHonoursContext(t *testing.T) {
	f := newFixture(t, WithLatency(time.Hour))
	defer f.close(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.ctrl.Start(ctx, urban(t))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, model.StatusIdle, f.store.Status())
	assert.Empty(t, f.store.Error())
	assert.False(t, f.ctrl.Busy())
}

func TestPauseResume(t *testing.T) {
	f := newFixture(t)
	defer f.close(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.ctrl.Pause(), ErrNoSession)
	_, err := f.ctrl.Start(ctx, urban(t))
	require.NoError(t, err)
	require.NoError(t, f.ctrl.Pause())
	assert.Equal(t, model.StatusPaused, f.store.Status())
	assert.ErrorIs(t, f.ctrl.Pause(), ErrNoSession)

	paused := f.store.Session().ID
	_, err = f.ctrl.Start(ctx, urban(t))
	assert.ErrorIs(t, err, ErrPaused)
	assert.Equal(t, paused, f.store.Session().ID)
	assert.Equal(t, model.StatusPaused, f.store.Status())
	require.NoError(t, f.ctrl.Resume())
	assert.Equal(t, model.StatusRunning, f.store.Status())
	assert.ErrorIs(t, f.ctrl.Resume(), ErrNoSession)
}

func TestApplyTemplate(t *testing.T) {
	f := newFixture(t)
	defer f.close(t)

	cfg, err := f.ctrl.ApplyTemplate("highway_merge")
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.VehiclesPerHour)
	assert.Equal(t, model.SignalActuated, cfg.SignalControl)
	assert.Equal(t, model.DefaultConfig().SimulationDuration, cfg.SimulationDuration)
	assert.Equal(t, cfg, f.store.Config())

	_, err = f.ctrl.ApplyTemplate("nope")
	assert.Error(t, err)
}

func TestMergeTemplates(t *testing.T) {
	custom := model.Template{Key: "roundabout", Name: "Tight Roundabout", Config: model.DefaultConfig()}
	extra := model.Template{Key: "school_zone", Name: "School Zone", Config: model.DefaultConfig()}

	merged := MergeTemplates(BuiltinTemplates(), []model.Template{custom, extra})
	require.Len(t, merged, 4)
	assert.Equal(t, "Tight Roundabout", merged[2].Name)
	assert.Equal(t, "school_zone", merged[3].Key)
	assert.Equal(t, "Roundabout", BuiltinTemplates()[2].Name)
}
