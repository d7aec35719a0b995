package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/verte-zerg/trafsim/internal/model"
	"github.com/verte-zerg/trafsim/internal/session"
	"github.com/verte-zerg/trafsim/internal/stats"
)

var metricNames = map[stats.Metric]string{
	stats.MetricSpeed:      "speed_kmh",
	stats.MetricQueue:      "queue_vehicles",
	stats.MetricWait:       "wait_seconds",
	stats.MetricThroughput: "throughput_vph",
}

// metrics owns a private registry so several servers can coexist in one
// process.
type metrics struct {
	registry *prometheus.Registry

	ticks           prometheus.Counter
	latest          *prometheus.GaugeVec
	requestDuration *prometheus.HistogramVec
}

func newMetrics(store *session.Store) *metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	m := &metrics{
		registry: reg,
		ticks: factory.NewCounter(prometheus.CounterOpts{
			Name: "trafsim_ticks_total",
			Help: "Metrics samples applied to a session",
		}),
		latest: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trafsim_latest_sample",
			Help: "Most recent applied sample by field",
		}, []string{"metric"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trafsim_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}
	for _, st := range []model.Status{model.StatusIdle, model.StatusRunning, model.StatusPaused, model.StatusCompleted, model.StatusError} {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "trafsim_session_status",
			Help:        "1 for the current session status",
			ConstLabels: prometheus.Labels{"status": string(st)},
		}, func() float64 {
			if store.Status() == st {
				return 1
			}
			return 0
		})
	}
	return m
}

func (m *metrics) observe(tick model.Tick) {
	m.ticks.Inc()
	for metric, name := range metricNames {
		m.latest.WithLabelValues(name).Set(metric.Of(tick.Sample))
	}
}

func (m *metrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if pattern := rc.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requestDuration.WithLabelValues(r.Method, path, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}
