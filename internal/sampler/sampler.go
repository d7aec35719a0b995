package sampler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/verte-zerg/trafsim/internal/log"
	"github.com/verte-zerg/trafsim/internal/model"
)

// DefaultInterval is the nominal tick period.
const DefaultInterval = time.Second

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("sampler closed")

// TickerFunc creates a periodic tick channel and its stop function.
type TickerFunc func(d time.Duration) (<-chan time.Time, func())

// RealTicker wraps time.NewTicker.
func RealTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Job describes one session's periodic emission.
type Job struct {
	SessionID string
	Config    model.Config
	// LastSeq is the sequence number already delivered; the first emitted
	// tick carries LastSeq+1.
	LastSeq uint64
	// MaxSeq ends the job after the tick with this sequence number. Zero
	// means unbounded.
	MaxSeq uint64
	// Emit receives every tick, in order, while the job is live.
	Emit func(model.Tick)
	// Done is called once when the job ends on its own: err is nil after
	// MaxSeq and non-nil when the source fails. It is not called after Stop.
	Done func(err error)
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithInterval overrides the tick period.
func WithInterval(d time.Duration) Option {
	return func(s *Sampler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithTicker overrides the ticker factory.
func WithTicker(fn TickerFunc) Option {
	return func(s *Sampler) {
		if fn != nil {
			s.newTicker = fn
		}
	}
}

// Sampler runs at most one emission task per session id.
type Sampler struct {
	source    MetricsSource
	interval  time.Duration
	newTicker TickerFunc
	logger    zerolog.Logger

	mu     sync.Mutex
	tasks  map[string]*task
	closed bool
	wg     sync.WaitGroup
}

type task struct {
	mu     sync.Mutex
	live   bool
	cancel context.CancelFunc
}

// New returns a Sampler drawing from source.
func New(source MetricsSource, opts ...Option) *Sampler {
	s := &Sampler{
		source:    source,
		interval:  DefaultInterval,
		newTicker: RealTicker,
		logger:    log.WithComponent("sampler"),
		tasks:     map[string]*task{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Interval returns the tick period.
func (s *Sampler) Interval() time.Duration {
	return s.interval
}

// Start begins periodic emission for job.SessionID. A task already running
// for the same session is cancelled first.
func (s *Sampler) Start(job Job) error {
	if job.SessionID == "" {
		return fmt.Errorf("sampler: empty session id")
	}
	if job.Emit == nil {
		return fmt.Errorf("sampler: nil emit")
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{live: true, cancel: cancel}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return ErrClosed
	}
	prev := s.tasks[job.SessionID]
	s.tasks[job.SessionID] = t
	s.wg.Add(1)
	s.mu.Unlock()

	if prev != nil {
		prev.halt()
	}

	ticks, stopTicker := s.newTicker(s.interval)
	go func() {
		defer s.wg.Done()
		defer stopTicker()
		s.run(ctx, t, job, ticks)
	}()

	s.logger.Debug().Str(log.FieldSessionID, job.SessionID).Uint64(log.FieldSeq, job.LastSeq).Msg("sampler started")
	return nil
}

func (s *Sampler) run(ctx context.Context, t *task, job Job, ticks <-chan time.Time) {
	seq := job.LastSeq
	for {
		select {
		case <-ctx.Done():
			return
		case at, ok := <-ticks:
			if !ok {
				return
			}
			sample, err := s.source.Next(ctx, job.Config, seq+1)

			t.mu.Lock()
			if !t.live {
				t.mu.Unlock()
				return
			}
			if err != nil {
				t.live = false
				t.mu.Unlock()
				s.finish(job, t, fmt.Errorf("metrics source: %w", err))
				return
			}
			seq++
			job.Emit(model.Tick{SessionID: job.SessionID, Seq: seq, At: at, Sample: sample})
			last := job.MaxSeq > 0 && seq >= job.MaxSeq
			if last {
				t.live = false
			}
			t.mu.Unlock()

			if last {
				s.finish(job, t, nil)
				return
			}
		}
	}
}

// finish removes a task that ended on its own and reports it.
func (s *Sampler) finish(job Job, t *task, err error) {
	s.mu.Lock()
	if s.tasks[job.SessionID] == t {
		delete(s.tasks, job.SessionID)
	}
	s.mu.Unlock()
	t.cancel()

	if err != nil {
		s.logger.Warn().Err(err).Str(log.FieldSessionID, job.SessionID).Msg("sampler failed")
	} else {
		s.logger.Debug().Str(log.FieldSessionID, job.SessionID).Msg("sampler reached session duration")
	}
	if job.Done != nil {
		job.Done(err)
	}
}

// Stop cancels the task for sessionID. Once Stop returns no further tick is
// delivered for that session. Stopping an unknown or stopped session is a
// no-op.
func (s *Sampler) Stop(sessionID string) {
	s.mu.Lock()
	t, ok := s.tasks[sessionID]
	if ok {
		delete(s.tasks, sessionID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	t.halt()
	s.logger.Debug().Str(log.FieldSessionID, sessionID).Msg("sampler stopped")
}

// halt clears the liveness flag under the emission lock, so an in-flight
// emission either completes before halt returns or is discarded.
func (t *task) halt() {
	t.mu.Lock()
	t.live = false
	t.mu.Unlock()
	t.cancel()
}

// Active reports whether a task is registered for sessionID.
func (s *Sampler) Active(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[sessionID]
	return ok
}

// Close stops every task and waits for their goroutines to exit.
func (s *Sampler) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	tasks := s.tasks
	s.tasks = map[string]*task{}
	s.mu.Unlock()

	for _, t := range tasks {
		t.halt()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sampler drain timeout: %w", ctx.Err())
	}
}
