// Package controller turns user actions into Session Store operations. It
// validates configurations before a start, guards against overlapping
// start/stop requests and simulates the backend's latency and faults.
package controller

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/verte-zerg/trafsim/internal/log"
	"github.com/verte-zerg/trafsim/internal/model"
	"github.com/verte-zerg/trafsim/internal/session"
)

// DefaultLatency is the simulated backend delay for start and stop.
const DefaultLatency = 500 * time.Millisecond

var (
	// ErrBusy is returned while another start or stop is in flight.
	ErrBusy = errors.New("another start or stop is in progress")
	// ErrRunning is returned when starting while a session is running.
	ErrRunning = errors.New("a session is already running")
	// ErrPaused is returned when starting while a session is paused.
	ErrPaused = errors.New("a session is paused; resume or stop it first")
	// ErrTransient marks a simulated backend failure. Retrying may succeed.
	ErrTransient = errors.New("transient backend failure")
	// ErrNoSession is returned by Pause and Resume without a matching session.
	ErrNoSession = errors.New("no session to act on")
)

// FailureFunc decides whether the named operation fails this time.
type FailureFunc func(op string) bool

// Option configures a Controller.
type Option func(*Controller)

// WithLatency sets the simulated delay applied to start and stop.
func WithLatency(d time.Duration) Option {
	return func(c *Controller) {
		if d >= 0 {
			c.latency = d
		}
	}
}

// WithFailureRate makes start and stop fail with probability rate.
func WithFailureRate(rate float64) Option {
	return func(c *Controller) {
		if rate <= 0 {
			c.shouldFail = neverFail
			return
		}
		c.shouldFail = func(string) bool { return rand.Float64() < rate }
	}
}

// WithFailureFunc overrides fault injection.
func WithFailureFunc(fn FailureFunc) Option {
	return func(c *Controller) {
		if fn != nil {
			c.shouldFail = fn
		}
	}
}

// WithTemplates replaces the template catalogue.
func WithTemplates(templates []model.Template) Option {
	return func(c *Controller) {
		c.templates = append([]model.Template(nil), templates...)
	}
}

func neverFail(string) bool { return false }

// Controller is safe for concurrent use.
type Controller struct {
	store      *session.Store
	latency    time.Duration
	shouldFail FailureFunc
	templates  []model.Template
	logger     zerolog.Logger

	busy atomic.Bool
}

// New returns a Controller for store.
func New(store *session.Store, opts ...Option) *Controller {
	c := &Controller{
		store:      store,
		latency:    DefaultLatency,
		shouldFail: neverFail,
		templates:  BuiltinTemplates(),
		logger:     log.WithComponent("controller"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Store returns the session store the controller drives.
func (c *Controller) Store() *session.Store {
	return c.store
}

// Busy reports whether a start or stop is in flight.
func (c *Controller) Busy() bool {
	return c.busy.Load()
}

// Templates returns the template catalogue.
func (c *Controller) Templates() []model.Template {
	return append([]model.Template(nil), c.templates...)
}

// SetConfig stores cfg as the current form configuration. It is not
// validated until Start.
func (c *Controller) SetConfig(cfg model.Config) {
	c.store.SetConfig(cfg)
}

// ApplyTemplate copies the template's values into the stored configuration.
// A template without a duration keeps the current one.
func (c *Controller) ApplyTemplate(key string) (model.Config, error) {
	t, err := FindTemplate(c.templates, key)
	if err != nil {
		return model.Config{}, err
	}
	cfg := t.Config
	if cfg.SimulationDuration == 0 {
		cfg.SimulationDuration = c.store.Config().SimulationDuration
	}
	c.store.SetConfig(cfg)
	c.logger.Info().Str(log.FieldTemplate, key).Msg("template applied")
	return cfg, nil
}

// Start validates cfg, waits out the simulated latency and starts a session.
// An invalid configuration never reaches the store. A transient failure is
// written to the store's error field and leaves the status unchanged.
func (c *Controller) Start(ctx context.Context, cfg model.Config) (string, error) {
	if err := Validate(cfg); err != nil {
		c.logger.Info().Str(log.FieldEvent, "start_rejected").Err(err).Msg("configuration rejected")
		return "", err
	}
	if !c.busy.CompareAndSwap(false, true) {
		return "", ErrBusy
	}
	defer c.busy.Store(false)

	switch c.store.Status() {
	case model.StatusRunning:
		return "", ErrRunning
	case model.StatusPaused:
		return "", ErrPaused
	}
	if err := c.simulate(ctx, "start"); err != nil {
		c.fail("start", err)
		return "", err
	}
	c.store.ClearError()
	id, started := c.store.StartSession(cfg)
	if !started {
		return id, ErrRunning
	}
	return id, nil
}

// Stop waits out the simulated latency and completes the current session.
// Without a running or paused session it returns nil at once.
func (c *Controller) Stop(ctx context.Context) error {
	if !c.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer c.busy.Store(false)

	switch c.store.Status() {
	case model.StatusRunning, model.StatusPaused:
	default:
		return nil
	}
	if err := c.simulate(ctx, "stop"); err != nil {
		c.fail("stop", err)
		return err
	}
	c.store.StopSession()
	return nil
}

// Pause suspends sampling for the running session.
func (c *Controller) Pause() error {
	if c.busy.Load() {
		return ErrBusy
	}
	if !c.store.PauseSession() {
		return fmt.Errorf("pause: %w", ErrNoSession)
	}
	return nil
}

// Resume restarts sampling for the paused session.
func (c *Controller) Resume() error {
	if c.busy.Load() {
		return ErrBusy
	}
	if !c.store.ResumeSession() {
		return fmt.Errorf("resume: %w", ErrNoSession)
	}
	return nil
}

// Reset discards the session and restores the default configuration. It is
// a no-op when idle.
func (c *Controller) Reset() error {
	if c.busy.Load() {
		return ErrBusy
	}
	c.store.ResetSession()
	return nil
}

// DismissError clears the store's error banner.
func (c *Controller) DismissError() {
	c.store.ClearError()
}

func (c *Controller) simulate(ctx context.Context, op string) error {
	if c.latency > 0 {
		timer := time.NewTimer(c.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-timer.C:
		}
	}
	if c.shouldFail(op) {
		return fmt.Errorf("%s: %w", op, ErrTransient)
	}
	return nil
}

func (c *Controller) fail(op string, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		c.logger.Debug().Str(log.FieldEvent, op).Err(err).Msg("operation cancelled")
		return
	}
	c.logger.Warn().Str(log.FieldEvent, op).Err(err).Msg("operation failed")
	c.store.SetError(fmt.Sprintf("failed to %s simulation: %v", op, err))
}
