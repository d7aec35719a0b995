// Package api exposes the session controller over HTTP.
package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/verte-zerg/trafsim/internal/controller"
	"github.com/verte-zerg/trafsim/internal/log"
	"github.com/verte-zerg/trafsim/internal/session"
)

const maxBodyBytes = 64 << 10

// Server serves the simulation API.
type Server struct {
	ctrl        *controller.Controller
	store       *session.Store
	metrics     *metrics
	logger      zerolog.Logger
	router      chi.Router
	unsubscribe func()
	done        chan struct{}
	closeOnce   sync.Once
}

// New builds a Server and subscribes its metrics to the store.
func New(ctrl *controller.Controller) *Server {
	s := &Server{
		ctrl:   ctrl,
		store:  ctrl.Store(),
		logger: log.WithComponent("api"),
		done:   make(chan struct{}),
	}
	s.metrics = newMetrics(s.store)
	s.unsubscribe = s.store.Subscribe(s.metrics.observe)
	s.router = s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close detaches the server from the store and ends open streams.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.unsubscribe()
		close(s.done)
	})
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RequestID)
	r.Use(s.metrics.middleware)
	r.Use(s.requestLogger)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))

	r.Route("/api/simulation", func(r chi.Router) {
		r.Get("/config/templates", s.handleTemplates)
		r.Put("/config", s.handleSetConfig)
		r.Get("/status", s.handleStatus)
		r.Get("/history", s.handleHistory)
		r.Get("/{id}/stream", s.handleStream)
		r.Post("/start", s.handleStart)
		r.Post("/stop", s.handleStop)
		r.Post("/pause", s.handlePause)
		r.Post("/resume", s.handleResume)
		r.Post("/reset", s.handleReset)
		r.Delete("/error", s.handleDismissError)
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str(log.FieldPath, r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", chimw.GetReqID(r.Context())).
			Msg("http request")
	})
}
