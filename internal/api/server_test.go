package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verte-zerg/trafsim/internal/controller"
	"github.com/verte-zerg/trafsim/internal/model"
	"github.com/verte-zerg/trafsim/internal/sampler"
	"github.com/verte-zerg/trafsim/internal/session"
)

type testServer struct {
	srv    *Server
	http   *httptest.Server
	ticker *sampler.ManualTicker
	fail   *atomic.Bool
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ticker := sampler.NewManualTicker()
	smp := sampler.New(sampler.NewSequenceSource(model.Sample{AverageSpeedKmh: 61, ThroughputVehiclesPerHour: 1700}), sampler.WithTicker(ticker.Func()))
	store := session.New(smp)
	store.SetNetwork(model.DemoNetwork())
	fail := &atomic.Bool{}
	ctrl := controller.New(store,
		controller.WithLatency(0),
		controller.WithFailureFunc(func(string) bool { return fail.Load() }),
	)
	srv := New(ctrl)
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		hs.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, smp.Close(ctx))
	})
	return &testServer{srv: srv, http: hs, ticker: ticker, fail: fail}
}

func (ts *testServer) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.http.URL+path, rd)
	require.NoError(t, err)
	resp, err := ts.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

func TestHealthAndTemplates(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"healthy"}`, string(body))

	resp, body = ts.do(t, http.MethodGet, "/api/simulation/config/templates", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	templates := decode[[]model.Template](t, body)
	require.Len(t, templates, 3)
	assert.Equal(t, "urban_intersection", templates[0].Key)
	assert.Equal(t, 1500, templates[0].Config.VehiclesPerHour)
}

func TestStatusWhenIdle(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodGet, "/api/simulation/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st := decode[statusResponse](t, body)
	assert.Equal(t, model.StatusIdle, st.Status)
	assert.Nil(t, st.Session)
	assert.Equal(t, model.DefaultSample(), st.LatestMetrics)
	assert.Equal(t, 63, st.CycleLength)
	require.NotNil(t, st.Network)
	assert.Equal(t, 2, st.Network.Segments)
}

func TestStartRejectsInvalidConfig(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/api/simulation/start", `{"vehicles_per_hour": 50}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	er := decode[errorResponse](t, body)
	assert.NotEmpty(t, er.Problems)
	assert.Equal(t, model.StatusIdle, ts.srv.store.Status())

	resp, _ = ts.do(t, http.MethodPost, "/api/simulation/start", `{"car_percentage": 85}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, "/api/simulation/start", `{"unknown": 1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, "/api/simulation/start", `{"signal_control": "roundabout"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, model.StatusIdle, ts.srv.store.Status())
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/api/simulation/start",
		`{"vehicles_per_hour":1500,"car_percentage":85,"truck_percentage":15,"peak_hour_factor":1.2,"signal_control":"fixed-time","green_time":30,"yellow_time":3,"red_time":30}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	started := decode[startResponse](t, body)
	assert.NotEmpty(t, started.SessionID)
	assert.Equal(t, model.StatusRunning, started.Status)

	resp, _ = ts.do(t, http.MethodPost, "/api/simulation/start", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	applied := make(chan struct{}, 1)
	unsubscribe := ts.srv.store.Subscribe(func(model.Tick) { applied <- struct{}{} })
	require.True(t, ts.ticker.Fire(time.Unix(10, 0), time.Second))
	<-applied
	unsubscribe()

	_, body = ts.do(t, http.MethodGet, "/api/simulation/history", "")
	hist := decode[[]model.HistoryEntry](t, body)
	require.Len(t, hist, 1)
	assert.Equal(t, 61.0, hist[0].Sample.AverageSpeedKmh)

	require.Eventually(t, func() bool {
		_, body = ts.do(t, http.MethodGet, "/metrics", "")
		return strings.Contains(string(body), "trafsim_ticks_total 1")
	}, time.Second, 10*time.Millisecond)
	assert.Contains(t, string(body), `trafsim_latest_sample{metric="speed_kmh"} 61`)
	assert.Contains(t, string(body), `trafsim_session_status{status="running"} 1`)

	resp, body = ts.do(t, http.MethodPost, "/api/simulation/pause", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, model.StatusPaused, decode[statusResponse](t, body).Status)
	resp, _ = ts.do(t, http.MethodPost, "/api/simulation/pause", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodPost, "/api/simulation/resume", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = ts.do(t, http.MethodPost, "/api/simulation/stop", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st := decode[statusResponse](t, body)
	assert.Equal(t, model.StatusCompleted, st.Status)
	assert.Equal(t, model.Sample{}, st.LatestMetrics)

	resp, _ = ts.do(t, http.MethodPost, "/api/simulation/stop", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = ts.do(t, http.MethodPost, "/api/simulation/reset", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st = decode[statusResponse](t, body)
	assert.Equal(t, model.StatusIdle, st.Status)
	assert.Equal(t, model.DefaultSample(), st.LatestMetrics)
	assert.Equal(t, model.DefaultConfig(), st.Config)
}

func TestTransientFailureAndDismiss(t *testing.T) {
	ts := newTestServer(t)
	ts.fail.Store(true)

	resp, _ := ts.do(t, http.MethodPost, "/api/simulation/start", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	_, body := ts.do(t, http.MethodGet, "/api/simulation/status", "")
	st := decode[statusResponse](t, body)
	assert.Equal(t, model.StatusIdle, st.Status)
	assert.Contains(t, st.Error, "failed to start simulation")

	resp, _ = ts.do(t, http.MethodDelete, "/api/simulation/error", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, ts.srv.store.Error())

	ts.fail.Store(false)
	resp, _ = ts.do(t, http.MethodPost, "/api/simulation/start", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSetConfigReportsProblems(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPut, "/api/simulation/config", `{"vehicles_per_hour": 9000}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cr := decode[configResponse](t, body)
	assert.False(t, cr.Valid)
	assert.Len(t, cr.Problems, 1)
	assert.Equal(t, 9000, ts.srv.store.Config().VehiclesPerHour)

	resp, body = ts.do(t, http.MethodPut, "/api/simulation/config", `{"vehicles_per_hour": 2000}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[configResponse](t, body).Valid)

	resp, _ = ts.do(t, http.MethodPut, "/api/simulation/config", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
